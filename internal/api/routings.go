package api

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/zulandar/jigged/internal/authz"
	"github.com/zulandar/jigged/internal/db"
	"github.com/zulandar/jigged/internal/layout"
	"github.com/zulandar/jigged/internal/models"
	"github.com/zulandar/jigged/internal/routing"
	"github.com/zulandar/jigged/internal/workflow"
	"gorm.io/gorm"
)

type routingBody struct {
	Name        *string `json:"name"`
	PartID      *string `json:"part_id"`
	Description *string `json:"description"`
	IsDefault   *bool   `json:"is_default"`
	Revision    *string `json:"revision"`
}

type routingQuery struct {
	Search   string `form:"search"`
	PartID   string `form:"part_id"`
	Sort     string `form:"sort"`
	Desc     bool   `form:"desc"`
	Page     int    `form:"page"`
	PageSize int    `form:"page_size"`
}

type totalsJSON struct {
	routing.Totals
	SetupLabel string `json:"setup_label"`
	RunLabel   string `json:"run_label"`
}

type graphResponse struct {
	*routing.Graph
	Totals totalsJSON `json:"totals"`
}

func graphJSON(g *routing.Graph) graphResponse {
	fields := make([]routing.NodeFields, len(g.Nodes))
	for i, n := range g.Nodes {
		fields[i] = routing.FieldsOf(n)
	}
	t := routing.ComputeTotals(fields)
	return graphResponse{Graph: g, Totals: totalsJSON{Totals: t, SetupLabel: t.SetupLabel(), RunLabel: t.RunLabel()}}
}

func deref[T any](p *T) T {
	var zero T
	if p == nil {
		return zero
	}
	return *p
}

type nodeRequest struct {
	OperationTypeID string       `json:"operation_type_id" binding:"required"`
	Position        layout.Point `json:"position"`
}

type edgeRequest struct {
	SourceNodeID string `json:"source_node_id" binding:"required"`
	TargetNodeID string `json:"target_node_id" binding:"required"`
}

// registerRoutings mounts the routing aggregate: routings, their steps and
// links, batched graph saves and computed layouts.
func registerRoutings(api *gin.RouterGroup, gdb *gorm.DB, az *authz.Authorizer) {
	read, write := az.Require(authz.Routings, authz.Read), az.Require(authz.Routings, authz.Write)
	g := api.Group("/routings")

	g.GET("", read, func(c *gin.Context) {
		var q routingQuery
		if err := c.ShouldBindQuery(&q); err != nil {
			respondError(c, db.Validation("invalid query: %v", err))
			return
		}
		items, total, err := routing.List(gdb.WithContext(c.Request.Context()), company(c), routing.ListFilters(q))
		if err != nil {
			respondError(c, err)
			return
		}
		if items == nil {
			items = []models.Routing{}
		}
		c.JSON(http.StatusOK, gin.H{"items": items, "total": total})
	})

	g.POST("", write, func(c *gin.Context) {
		var body routingBody
		if !bind(c, &body) {
			return
		}
		r, err := routing.Create(gdb.WithContext(c.Request.Context()), company(c), routing.CreateOpts{
			Name:        deref(body.Name),
			PartID:      deref(body.PartID),
			Description: deref(body.Description),
			IsDefault:   deref(body.IsDefault),
			Revision:    deref(body.Revision),
		})
		if err != nil {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusCreated, r)
	})

	g.GET("/:id", read, func(c *gin.Context) {
		graph, err := routing.GetGraph(gdb.WithContext(c.Request.Context()), company(c), c.Param("id"))
		if err != nil {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusOK, graphJSON(graph))
	})

	g.PATCH("/:id", write, func(c *gin.Context) {
		var body routingBody
		if !bind(c, &body) {
			return
		}
		r, err := routing.Update(gdb.WithContext(c.Request.Context()), company(c), c.Param("id"), routing.UpdateOpts(body))
		if err != nil {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusOK, r)
	})

	g.DELETE("/:id", write, func(c *gin.Context) {
		if err := routing.Delete(gdb.WithContext(c.Request.Context()), company(c), c.Param("id")); err != nil {
			respondError(c, err)
			return
		}
		c.Status(http.StatusNoContent)
	})

	g.POST("/:id/nodes", write, func(c *gin.Context) {
		var req nodeRequest
		if !bind(c, &req) {
			return
		}
		n, err := routing.AddNode(gdb.WithContext(c.Request.Context()), company(c), c.Param("id"), routing.AddNodeOpts{
			OperationTypeID: req.OperationTypeID,
			Position:        req.Position,
		})
		if err != nil {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusCreated, n)
	})

	g.PATCH("/:id/nodes/:nodeId", write, func(c *gin.Context) {
		var fields routing.NodeFields
		if !bind(c, &fields) {
			return
		}
		n, err := routing.UpdateNode(gdb.WithContext(c.Request.Context()), company(c), c.Param("id"), c.Param("nodeId"), fields)
		if err != nil {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusOK, n)
	})

	g.PUT("/:id/nodes/:nodeId/position", write, func(c *gin.Context) {
		var p layout.Point
		if !bind(c, &p) {
			return
		}
		if err := routing.MoveNode(gdb.WithContext(c.Request.Context()), company(c), c.Param("id"), c.Param("nodeId"), p); err != nil {
			respondError(c, err)
			return
		}
		c.Status(http.StatusNoContent)
	})

	g.DELETE("/:id/nodes/:nodeId", write, func(c *gin.Context) {
		if err := routing.DeleteNode(gdb.WithContext(c.Request.Context()), company(c), c.Param("id"), c.Param("nodeId")); err != nil {
			respondError(c, err)
			return
		}
		c.Status(http.StatusNoContent)
	})

	g.POST("/:id/edges", write, func(c *gin.Context) {
		var req edgeRequest
		if !bind(c, &req) {
			return
		}
		e, err := routing.AddEdge(gdb.WithContext(c.Request.Context()), company(c), c.Param("id"), req.SourceNodeID, req.TargetNodeID)
		if err != nil {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusCreated, e)
	})

	g.DELETE("/:id/edges/:edgeId", write, func(c *gin.Context) {
		if err := routing.DeleteEdge(gdb.WithContext(c.Request.Context()), company(c), c.Param("id"), c.Param("edgeId")); err != nil {
			respondError(c, err)
			return
		}
		c.Status(http.StatusNoContent)
	})

	g.POST("/:id/edges/batch-delete", write, func(c *gin.Context) {
		var req idsRequest
		if !bind(c, &req) {
			return
		}
		res := routing.DeleteEdges(gdb.WithContext(c.Request.Context()), company(c), c.Param("id"), req.IDs)
		c.JSON(http.StatusOK, batchJSON(res))
	})

	// Deferred-mode save: the body is the whole pending graph.
	g.PUT("/:id/graph", write, func(c *gin.Context) {
		var pending workflow.Pending
		if !bind(c, &pending) {
			return
		}
		ctx := c.Request.Context()
		original, err := routing.GetGraph(gdb.WithContext(ctx), company(c), c.Param("id"))
		if err != nil {
			respondError(c, err)
			return
		}
		plan, err := workflow.Diff(original, pending)
		if err != nil {
			respondError(c, err)
			return
		}
		if plan.Empty() {
			c.JSON(http.StatusOK, graphJSON(original))
			return
		}
		saved, err := workflow.StoreCommitter{DB: gdb, CompanyID: company(c), RoutingID: c.Param("id")}.Commit(ctx, plan)
		if err != nil {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusOK, graphJSON(saved))
	})

	g.GET("/:id/layout", read, func(c *gin.Context) {
		graph, err := routing.GetGraph(gdb.WithContext(c.Request.Context()), company(c), c.Param("id"))
		if err != nil {
			respondError(c, err)
			return
		}
		opts := layout.DefaultOptions()
		switch dir := layout.Direction(c.DefaultQuery("direction", string(layout.LeftToRight))); dir {
		case layout.LeftToRight, layout.TopToBottom:
			opts.Direction = dir
		default:
			respondError(c, db.Validation("direction must be LR or TB"))
			return
		}
		ids := make([]string, len(graph.Nodes))
		for i, n := range graph.Nodes {
			ids[i] = n.ID
		}
		edges := make([]layout.Edge, len(graph.Edges))
		for i, e := range graph.Edges {
			edges[i] = layout.Edge{Source: e.SourceNodeID, Target: e.TargetNodeID}
		}
		c.JSON(http.StatusOK, gin.H{"direction": opts.Direction, "positions": layout.Compute(ids, edges, opts)})
	})
}
