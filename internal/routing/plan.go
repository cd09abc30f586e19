package routing

import (
	"errors"

	"github.com/zulandar/jigged/internal/db"
	"github.com/zulandar/jigged/internal/layout"
	"github.com/zulandar/jigged/internal/metrics"
	"github.com/zulandar/jigged/internal/models"
	"gorm.io/gorm"
)

// NewNode is a step to create; TempID is how edges in the same plan refer
// to it.
type NewNode struct {
	TempID          string
	OperationTypeID string
	Fields          NodeFields
	Position        layout.Point
}

// NodeUpdate replaces the fields and position of a persisted step.
type NodeUpdate struct {
	ID       string
	Fields   NodeFields
	Position layout.Point
}

// NewEdge is a link to create between persisted or planned steps.
type NewEdge struct {
	Source Ref
	Target Ref
}

// Plan is the set of writes that turns a stored graph into a pending one.
type Plan struct {
	DeleteEdges []string
	DeleteNodes []string
	CreateNodes []NewNode
	UpdateNodes []NodeUpdate
	CreateEdges []NewEdge
}

// Empty reports whether the plan has no writes.
func (p Plan) Empty() bool {
	return len(p.DeleteEdges) == 0 && len(p.DeleteNodes) == 0 && len(p.CreateNodes) == 0 &&
		len(p.UpdateNodes) == 0 && len(p.CreateEdges) == 0
}

// Applied maps the plan's temporary ids to the ids they were stored under.
type Applied struct {
	NodeIDs map[string]string
	EdgeIDs []string
}

// ApplyPlan performs plan against a routing in one transaction, in the
// order edge deletes, node deletes, node creates, node updates, edge
// creates. Any failure rolls back the whole plan.
func ApplyPlan(gdb *gorm.DB, companyID, routingID string, plan Plan) (*Applied, error) {
	if _, err := Get(gdb, companyID, routingID); err != nil {
		return nil, err
	}
	applied := &Applied{NodeIDs: make(map[string]string, len(plan.CreateNodes))}
	if plan.Empty() {
		return applied, nil
	}

	err := gdb.Transaction(func(tx *gorm.DB) error {
		for start := 0; start < len(plan.DeleteEdges); start += db.DeleteChunkSize {
			chunk := plan.DeleteEdges[start:min(start+db.DeleteChunkSize, len(plan.DeleteEdges))]
			if err := tx.Where("routing_id = ? AND id IN ?", routingID, chunk).
				Delete(&models.RoutingEdge{}).Error; err != nil {
				return db.WrapDelete("routing link", "", err)
			}
		}
		for _, id := range plan.DeleteNodes {
			if err := deleteNodeTx(tx, routingID, id); err != nil {
				return db.WrapDelete("routing step", "", err)
			}
		}

		for _, n := range plan.CreateNodes {
			if err := ValidateNodeFields(&n.Fields); err != nil {
				return err
			}
			if err := checkOperationType(tx, companyID, n.OperationTypeID); err != nil {
				return err
			}
			node := models.RoutingNode{
				RoutingID:       routingID,
				OperationTypeID: n.OperationTypeID,
				SetupTime:       n.Fields.SetupTime,
				RunTimePerUnit:  n.Fields.RunTimePerUnit,
				Instructions:    n.Fields.Instructions,
				PositionX:       n.Position.X,
				PositionY:       n.Position.Y,
			}
			if err := tx.Create(&node).Error; err != nil {
				return db.Wrap("create", "routing step", err)
			}
			applied.NodeIDs[n.TempID] = node.ID
		}

		for _, u := range plan.UpdateNodes {
			if err := ValidateNodeFields(&u.Fields); err != nil {
				return err
			}
			res := tx.Model(&models.RoutingNode{}).Where("routing_id = ? AND id = ?", routingID, u.ID).
				Updates(map[string]interface{}{
					"setup_time":        u.Fields.SetupTime,
					"run_time_per_unit": u.Fields.RunTimePerUnit,
					"instructions":      u.Fields.Instructions,
					"position_x":        u.Position.X,
					"position_y":        u.Position.Y,
				})
			if res.Error != nil {
				return db.Wrap("update", "routing step", res.Error)
			}
			if res.RowsAffected == 0 {
				return db.NotFound("routing step", u.ID)
			}
		}

		var nodeIDs []string
		if len(plan.CreateEdges) > 0 {
			if err := tx.Model(&models.RoutingNode{}).Where("routing_id = ?", routingID).
				Pluck("id", &nodeIDs).Error; err != nil {
				return db.Wrap("list", "routing steps", err)
			}
		}
		inRouting := make(map[string]bool, len(nodeIDs))
		for _, id := range nodeIDs {
			inRouting[id] = true
		}

		for _, e := range plan.CreateEdges {
			src, err := resolve(e.Source, applied.NodeIDs)
			if err != nil {
				return err
			}
			dst, err := resolve(e.Target, applied.NodeIDs)
			if err != nil {
				return err
			}
			for _, id := range []string{src, dst} {
				if !inRouting[id] {
					return db.NotFound("routing step", id)
				}
			}
			edge := models.RoutingEdge{RoutingID: routingID, SourceNodeID: src, TargetNodeID: dst}
			if err := tx.Create(&edge).Error; err != nil {
				return db.Wrap("create", "routing link", err)
			}
			applied.EdgeIDs = append(applied.EdgeIDs, edge.ID)
		}
		return nil
	})
	if err != nil {
		var dbErr *db.Error
		if errors.As(err, &dbErr) {
			return nil, err
		}
		return nil, db.Wrap("apply", "routing graph", err)
	}

	metrics.ReconcileOps("delete_edge", len(plan.DeleteEdges))
	metrics.ReconcileOps("delete_node", len(plan.DeleteNodes))
	metrics.ReconcileOps("create_node", len(plan.CreateNodes))
	metrics.ReconcileOps("update_node", len(plan.UpdateNodes))
	metrics.ReconcileOps("create_edge", len(plan.CreateEdges))
	return applied, nil
}

func resolve(r Ref, created map[string]string) (string, error) {
	switch {
	case r.IsExisting():
		return r.ID(), nil
	case r.IsNew():
		id, ok := created[r.ID()]
		if !ok {
			return "", db.Validation("link refers to an unknown new step %q", r.ID())
		}
		return id, nil
	}
	return "", db.Validation("link endpoint is missing")
}
