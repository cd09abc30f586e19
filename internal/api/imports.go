package api

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/zulandar/jigged/internal/authz"
	"github.com/zulandar/jigged/internal/importer"
)

// registerImports mounts analyze, validate and execute for every import
// module at /api/<module>/import/<step>.
func registerImports(api *gin.RouterGroup, svc *importer.Service, az *authz.Authorizer) {
	write := az.Require(authz.Imports, authz.Write)
	for _, name := range importer.ModuleNames() {
		m, err := importer.Lookup(name)
		if err != nil {
			continue
		}
		g := api.Group("/"+name+"/import", write)
		g.POST("/analyze", handleAnalyze(svc, m))
		g.POST("/validate", handleValidate(svc, m))
		g.POST("/execute", handleExecute(svc, m))
	}
}

func handleAnalyze(svc *importer.Service, m *importer.Module) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req importer.AnalyzeRequest
		if !bind(c, &req) {
			return
		}
		res, err := svc.Analyze(c.Request.Context(), m, company(c), req)
		if err != nil {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusOK, res)
	}
}

func handleValidate(svc *importer.Service, m *importer.Module) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req importer.ValidateRequest
		if !bind(c, &req) {
			return
		}
		res, err := svc.Validate(c.Request.Context(), m, company(c), req)
		if err != nil {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusOK, res)
	}
}

func handleExecute(svc *importer.Service, m *importer.Module) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req importer.ExecuteRequest
		if !bind(c, &req) {
			return
		}
		res, err := svc.Execute(c.Request.Context(), m, company(c), req)
		if err != nil {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusOK, res)
	}
}
