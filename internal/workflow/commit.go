package workflow

import (
	"context"

	"github.com/zulandar/jigged/internal/routing"
	"gorm.io/gorm"
)

// StoreCommitter applies plans to a stored routing.
type StoreCommitter struct {
	DB        *gorm.DB
	CompanyID string
	RoutingID string
}

// Commit applies plan in one transaction and reloads the graph.
func (c StoreCommitter) Commit(ctx context.Context, plan routing.Plan) (*routing.Graph, error) {
	gdb := c.DB.WithContext(ctx)
	if _, err := routing.ApplyPlan(gdb, c.CompanyID, c.RoutingID, plan); err != nil {
		return nil, err
	}
	return routing.GetGraph(gdb, c.CompanyID, c.RoutingID)
}
