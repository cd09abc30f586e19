// Package api serves the Jigged HTTP API: tenant-scoped CRUD, the routing
// graph, CSV import, team accounts and attachments.
package api

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/cors"
	"github.com/sirupsen/logrus"
	"github.com/zulandar/jigged/internal/accounts"
	"github.com/zulandar/jigged/internal/attachments"
	"github.com/zulandar/jigged/internal/authz"
	"github.com/zulandar/jigged/internal/importer"
	"github.com/zulandar/jigged/internal/logging"
	"github.com/zulandar/jigged/internal/metrics"
	"gorm.io/gorm"
)

const shutdownTimeout = 10 * time.Second

// StartOpts holds everything the API server depends on.
type StartOpts struct {
	DB          *gorm.DB
	Port        int
	Out         io.Writer
	Log         *logrus.Logger
	Tokens      *accounts.Tokens
	Authz       *authz.Authorizer
	Accounts    *accounts.Service
	Imports     *importer.Service
	Attachments *attachments.Service
	// Files serves /api/files for the local storage backend; nil disables
	// the route.
	Files          *attachments.LocalStore
	AllowedOrigins []string
}

func (o *StartOpts) check() error {
	switch {
	case o.DB == nil:
		return fmt.Errorf("api: db is required")
	case o.Tokens == nil:
		return fmt.Errorf("api: token issuer is required")
	case o.Authz == nil:
		return fmt.Errorf("api: authorizer is required")
	case o.Accounts == nil || o.Imports == nil || o.Attachments == nil:
		return fmt.Errorf("api: accounts, imports and attachments services are required")
	}
	if o.Log == nil {
		o.Log = logging.Discard()
	}
	return nil
}

// Start launches the API server. It blocks until ctx is cancelled, then
// shuts down gracefully.
func Start(ctx context.Context, opts StartOpts) error {
	if opts.Port <= 0 {
		opts.Port = 8080
	}
	handler, err := NewHandler(opts)
	if err != nil {
		return err
	}

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", opts.Port),
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		<-ctx.Done()
		sctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		srv.Shutdown(sctx)
	}()

	if opts.Out != nil {
		fmt.Fprintf(opts.Out, "Jigged API listening on http://localhost:%d\n", opts.Port)
	}

	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("api: %w", err)
	}
	return nil
}

// NewHandler builds the router wrapped in the CORS policy.
func NewHandler(opts StartOpts) (http.Handler, error) {
	router, err := NewRouter(opts)
	if err != nil {
		return nil, err
	}
	c := cors.New(cors.Options{
		AllowedOrigins:   opts.AllowedOrigins,
		AllowedMethods:   []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodPatch, http.MethodDelete},
		AllowedHeaders:   []string{"Authorization", "Content-Type", logging.RequestIDHeader},
		ExposedHeaders:   []string{logging.RequestIDHeader},
		AllowCredentials: true,
	})
	return c.Handler(router), nil
}

// NewRouter returns the gin engine with every route registered.
func NewRouter(opts StartOpts) (*gin.Engine, error) {
	if err := opts.check(); err != nil {
		return nil, err
	}
	if gin.Mode() == gin.DebugMode {
		gin.SetMode(gin.ReleaseMode)
	}
	router := gin.New()
	router.Use(gin.Recovery(), logging.Middleware(opts.Log), metrics.Middleware())
	registerRoutes(router, &opts)
	return router, nil
}
