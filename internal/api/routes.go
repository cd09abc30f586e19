package api

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/zulandar/jigged/internal/authz"
	"github.com/zulandar/jigged/internal/catalog"
	"github.com/zulandar/jigged/internal/db"
	"github.com/zulandar/jigged/internal/metrics"
	"gorm.io/gorm"
)

// registerRoutes sets up all API routes on the gin router.
func registerRoutes(router *gin.Engine, opts *StartOpts) {
	router.GET("/healthz", handleHealth(opts.DB))
	router.GET("/metrics", gin.WrapH(metrics.Handler()))

	// Unauthenticated entry points.
	router.POST("/api/auth/login", handleLogin(opts.Accounts))
	router.POST("/api/operator/login", handleOperatorLogin(opts.Accounts))
	if opts.Files != nil {
		router.GET("/api/files/*path", handleFile(opts.DB, opts.Files))
	}

	api := router.Group("/api", authenticate(opts.Tokens))
	api.POST("/auth/password", handleChangePassword(opts.Accounts))

	registerResource(api, opts.DB, opts.Authz, authz.Customers, catalog.Customers)
	registerResource(api, opts.DB, opts.Authz, authz.Parts, catalog.Parts)
	registerResource(api, opts.DB, opts.Authz, authz.Inventory, catalog.Inventory)
	registerResource(api, opts.DB, opts.Authz, authz.ResourceGroups, catalog.ResourceGroups)
	registerResource(api, opts.DB, opts.Authz, authz.OperationTypes, catalog.OperationTypes)
	registerResource(api, opts.DB, opts.Authz, authz.Quotes, catalog.Quotes)
	registerResource(api, opts.DB, opts.Authz, authz.WorkOrders, catalog.WorkOrders)
	registerResource(api, opts.DB, opts.Authz, authz.Personnel, catalog.Personnel)

	registerRoutings(api, opts.DB, opts.Authz)
	registerImports(api, opts.Imports, opts.Authz)
	registerTeam(api, opts.Accounts, opts.Authz)
	registerAttachments(api, opts.Attachments, opts.Authz)
}

func handleHealth(gdb *gorm.DB) gin.HandlerFunc {
	return func(c *gin.Context) {
		sqlDB, err := gdb.DB()
		if err == nil {
			err = sqlDB.PingContext(c.Request.Context())
		}
		if err != nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{"status": "unavailable", "error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	}
}

type idsRequest struct {
	IDs []string `json:"ids" binding:"required"`
}

type itemFailure struct {
	ID    string `json:"id"`
	Error string `json:"error"`
	Kind  string `json:"kind"`
}

type batchResponse struct {
	Deleted []string      `json:"deleted"`
	Failed  []itemFailure `json:"failed"`
}

func batchJSON(res db.BatchResult) batchResponse {
	out := batchResponse{Deleted: res.Deleted, Failed: []itemFailure{}}
	if out.Deleted == nil {
		out.Deleted = []string{}
	}
	for _, f := range res.Failed {
		out.Failed = append(out.Failed, itemFailure{ID: f.ID, Error: f.Message(), Kind: db.KindOf(f.Err).String()})
	}
	return out
}

// registerResource mounts list, get, create, update, delete and
// batch-delete for one catalog resource under /api/<object>.
func registerResource[T any](api *gin.RouterGroup, gdb *gorm.DB, az *authz.Authorizer, object string, r *catalog.Resource[T]) {
	read, write := az.Require(object, authz.Read), az.Require(object, authz.Write)
	g := api.Group("/" + object)

	g.GET("", read, func(c *gin.Context) {
		var q catalog.Query
		if err := c.ShouldBindQuery(&q); err != nil {
			respondError(c, db.Validation("invalid query: %v", err))
			return
		}
		page, err := r.List(c.Request.Context(), gdb, company(c), q)
		if err != nil {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusOK, page)
	})

	g.GET("/:id", read, func(c *gin.Context) {
		row, err := r.Get(c.Request.Context(), gdb, company(c), c.Param("id"))
		if err != nil {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusOK, row)
	})

	g.POST("", write, func(c *gin.Context) {
		row := new(T)
		if !bind(c, row) {
			return
		}
		if err := r.Create(c.Request.Context(), gdb, company(c), row); err != nil {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusCreated, row)
	})

	g.PATCH("/:id", write, func(c *gin.Context) {
		var fields map[string]any
		if !bind(c, &fields) {
			return
		}
		row, err := r.Update(c.Request.Context(), gdb, company(c), c.Param("id"), fields)
		if err != nil {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusOK, row)
	})

	g.DELETE("/:id", write, func(c *gin.Context) {
		if err := r.Delete(c.Request.Context(), gdb, company(c), c.Param("id")); err != nil {
			respondError(c, err)
			return
		}
		c.Status(http.StatusNoContent)
	})

	g.POST("/batch-delete", write, func(c *gin.Context) {
		var req idsRequest
		if !bind(c, &req) {
			return
		}
		c.JSON(http.StatusOK, batchJSON(r.DeleteMany(c.Request.Context(), gdb, company(c), req.IDs)))
	})
}
