package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/zulandar/jigged/internal/accounts"
	"github.com/zulandar/jigged/internal/api"
	"github.com/zulandar/jigged/internal/attachments"
	"github.com/zulandar/jigged/internal/authz"
	"github.com/zulandar/jigged/internal/db"
	"github.com/zulandar/jigged/internal/importer"
	"github.com/zulandar/jigged/internal/logging"
	"github.com/zulandar/jigged/internal/notify"
	"github.com/zulandar/jigged/internal/scheduler"
)

func newServeCmd() *cobra.Command {
	var (
		configPath string
		port       int
		migrate    bool
	)

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the HTTP API",
		Long:  "Starts the Jigged API server and its maintenance jobs. Requires JIG_JWT_SECRET.",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd, configPath, port, migrate)
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", defaultConfigPath, "path to Jigged config file")
	cmd.Flags().IntVarP(&port, "port", "p", 0, "port to listen on (overrides server.port)")
	cmd.Flags().BoolVar(&migrate, "migrate", false, "migrate tables before serving")
	return cmd
}

// server is the fully wired API plus the resources it must release.
type server struct {
	opts      api.StartOpts
	scheduler *scheduler.Scheduler
	closers   []func() error
}

func (s *server) close() {
	for i := len(s.closers) - 1; i >= 0; i-- {
		s.closers[i]()
	}
}

// buildServer wires every service from the loaded app state.
func buildServer(ctx context.Context, a *app) (*server, error) {
	if err := a.secrets.RequireJWT(); err != nil {
		return nil, err
	}
	srv := &server{}
	fail := func(err error) (*server, error) {
		srv.close()
		return nil, err
	}

	tokens, err := accounts.NewTokens(a.secrets.JWTSecret)
	if err != nil {
		return fail(err)
	}
	az, err := authz.New(a.cfg.Authz.Policies, logging.Component(a.log, "authz"))
	if err != nil {
		return fail(err)
	}

	cache, err := importer.OpenCache(a.cfg.Import.CacheDir, a.cfg.Import.CacheTTL, logging.Component(a.log, "import-cache"))
	if err != nil {
		return fail(err)
	}
	srv.closers = append(srv.closers, cache.Close)
	lim, err := importer.NewLimiter(a.cfg.Import)
	if err != nil {
		return fail(err)
	}
	notifier := notify.FromConfig(a.cfg.Notify, a.secrets.DiscordWebhookToken, a.log)

	var (
		store attachments.Store
		files *attachments.LocalStore
	)
	switch a.cfg.Storage.Backend {
	case "gcs":
		gcs, err := attachments.NewGCSStore(ctx, a.cfg.Storage.Bucket, a.cfg.Storage.CredentialsFile)
		if err != nil {
			return fail(err)
		}
		srv.closers = append(srv.closers, gcs.Close)
		store = gcs
	default:
		local, err := attachments.NewLocalStore(a.cfg.Storage.Dir, a.cfg.Server.PublicURL, a.secrets.FileSigningKey)
		if err != nil {
			return fail(err)
		}
		store, files = local, local
	}

	sched := scheduler.New(logging.Component(a.log, "scheduler"))
	if err := sched.Add("import-cache-gc", a.cfg.Import.CacheGCSchedule, func(context.Context) error { return cache.GC() }); err != nil {
		return fail(err)
	}
	srv.scheduler = sched

	srv.opts = api.StartOpts{
		DB:     a.db,
		Port:   a.cfg.Server.Port,
		Log:    a.log,
		Tokens: tokens,
		Authz:  az,
		Accounts: &accounts.Service{
			DB:     a.db,
			Tokens: tokens,
			Log:    logging.Component(a.log, "accounts"),
		},
		Imports: &importer.Service{
			DB: a.db,
			Providers: &importer.Registry{
				DB:              a.db,
				DefaultProvider: a.cfg.Import.DefaultProvider,
				DefaultModel:    a.cfg.Import.DefaultModel,
				OpenAIKey:       a.secrets.OpenAIAPIKey,
				AnthropicKey:    a.secrets.AnthropicAPIKey,
				Log:             logging.Component(a.log, "import-provider"),
			},
			Cache:      cache,
			Limiter:    lim,
			Notifier:   notifier,
			Log:        logging.Component(a.log, "import"),
			SampleRows: a.cfg.Import.SampleRows,
		},
		Attachments: &attachments.Service{
			DB:    a.db,
			Store: store,
			TTL:   a.cfg.Storage.SignedURLTTL,
			Log:   logging.Component(a.log, "attachments"),
		},
		Files:          files,
		AllowedOrigins: a.cfg.Server.AllowedOrigins,
	}
	return srv, nil
}

func runServe(cmd *cobra.Command, configPath string, port int, migrate bool) error {
	a, err := loadApp(configPath)
	if err != nil {
		return err
	}
	defer a.close()

	if migrate {
		if err := db.AutoMigrate(a.db); err != nil {
			return err
		}
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigCh)
	go func() {
		select {
		case sig := <-sigCh:
			fmt.Fprintf(cmd.OutOrStdout(), "\nReceived %s, shutting down...\n", sig)
			cancel()
		case <-ctx.Done():
		}
	}()

	srv, err := buildServer(ctx, a)
	if err != nil {
		return err
	}
	defer srv.close()

	schedDone := make(chan struct{})
	go func() {
		srv.scheduler.Run(ctx)
		close(schedDone)
	}()
	defer func() { cancel(); <-schedDone }()

	srv.opts.Out = cmd.OutOrStdout()
	if port > 0 {
		srv.opts.Port = port
	}
	a.log.WithFields(logrus.Fields{
		"port":     srv.opts.Port,
		"storage":  a.cfg.Storage.Backend,
		"provider": a.cfg.Import.DefaultProvider,
	}).Info("starting api")
	return api.Start(ctx, srv.opts)
}
