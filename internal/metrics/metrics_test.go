package metrics

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMiddleware_CountsByRoute(t *testing.T) {
	gin.SetMode(gin.TestMode)
	router := gin.New()
	router.Use(Middleware())
	router.GET("/api/routings/:id", func(c *gin.Context) { c.Status(http.StatusOK) })

	before := testutil.ToFloat64(httpRequests.WithLabelValues("GET", "/api/routings/:id", "200"))
	for i := 0; i < 3; i++ {
		router.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/api/routings/r-1", nil))
	}
	after := testutil.ToFloat64(httpRequests.WithLabelValues("GET", "/api/routings/:id", "200"))
	assert.Equal(t, 3.0, after-before)
}

func TestCounters_IgnoreNonPositive(t *testing.T) {
	before := testutil.ToFloat64(importRows.WithLabelValues("operations", "imported"))
	ImportRows("operations", "imported", 0)
	ImportRows("operations", "imported", 4)
	after := testutil.ToFloat64(importRows.WithLabelValues("operations", "imported"))
	assert.Equal(t, 4.0, after-before)

	before = testutil.ToFloat64(reconcileOps.WithLabelValues("create_node"))
	ReconcileOps("create_node", -1)
	ReconcileOps("create_node", 2)
	assert.Equal(t, 2.0, testutil.ToFloat64(reconcileOps.WithLabelValues("create_node"))-before)
}

func TestHandler_ExposesCollectors(t *testing.T) {
	AnalyzeRequest("inventory", "cache")

	w := httptest.NewRecorder()
	Handler().ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, w.Code)
	assert.True(t, strings.Contains(w.Body.String(), "jigged_import_analyze_total"))
}
