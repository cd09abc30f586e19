package routing

import (
	"errors"

	"github.com/zulandar/jigged/internal/db"
	"github.com/zulandar/jigged/internal/models"
	"gorm.io/gorm"
)

// Link is a directed source→target pair of node keys.
type Link[K comparable] struct {
	Source K
	Target K
}

// CheckLink validates adding candidate to a graph that already has links.
// It rejects self-loops, repeated pairs and links that would close a cycle.
func CheckLink[K comparable](links []Link[K], candidate Link[K]) error {
	if candidate.Source == candidate.Target {
		return db.Validation("a step cannot be connected to itself")
	}
	for _, l := range links {
		if l == candidate {
			return db.Conflict("these steps are already connected")
		}
	}
	if reachable(links, candidate.Target, candidate.Source) {
		return db.Validation("connecting these steps would create a cycle")
	}
	return nil
}

// reachable walks links from start and reports whether target is reached.
func reachable[K comparable](links []Link[K], start, target K) bool {
	next := make(map[K][]K)
	for _, l := range links {
		next[l.Source] = append(next[l.Source], l.Target)
	}
	visited := make(map[K]bool)
	stack := []K{start}
	for len(stack) > 0 {
		cur := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		if cur == target {
			return true
		}
		if visited[cur] {
			continue
		}
		visited[cur] = true
		stack = append(stack, next[cur]...)
	}
	return false
}

// AddEdge links source before target. Both steps must belong to the routing.
func AddEdge(gdb *gorm.DB, companyID, routingID, sourceID, targetID string) (*models.RoutingEdge, error) {
	if sourceID == targetID {
		return nil, db.Validation("a step cannot be connected to itself")
	}
	if _, err := Get(gdb, companyID, routingID); err != nil {
		return nil, err
	}
	for _, id := range []string{sourceID, targetID} {
		var count int64
		if err := gdb.Model(&models.RoutingNode{}).Where("routing_id = ? AND id = ?", routingID, id).
			Count(&count).Error; err != nil {
			return nil, db.Wrap("check", "routing step", err)
		}
		if count == 0 {
			return nil, db.NotFound("routing step", id)
		}
	}

	links, err := loadLinks(gdb, routingID)
	if err != nil {
		return nil, err
	}
	if err := CheckLink(links, Link[string]{Source: sourceID, Target: targetID}); err != nil {
		return nil, err
	}

	edge := models.RoutingEdge{RoutingID: routingID, SourceNodeID: sourceID, TargetNodeID: targetID}
	if err := gdb.Create(&edge).Error; err != nil {
		return nil, db.Wrap("create", "routing link", err)
	}
	return &edge, nil
}

// DeleteEdge removes one link.
func DeleteEdge(gdb *gorm.DB, companyID, routingID, edgeID string) error {
	if _, err := Get(gdb, companyID, routingID); err != nil {
		return err
	}
	res := gdb.Where("routing_id = ? AND id = ?", routingID, edgeID).Delete(&models.RoutingEdge{})
	if res.Error != nil {
		return db.WrapDelete("routing link", "", res.Error)
	}
	if res.RowsAffected == 0 {
		return db.NotFound("routing link", edgeID)
	}
	return nil
}

// DeleteEdges removes links one by one, continuing past failures. The
// result lists every link that could not be removed with its error.
func DeleteEdges(gdb *gorm.DB, companyID, routingID string, edgeIDs []string) db.BatchResult {
	var res db.BatchResult
	for _, id := range edgeIDs {
		if err := DeleteEdge(gdb, companyID, routingID, id); err != nil {
			res.Failed = append(res.Failed, db.ItemError{ID: id, Err: err})
			continue
		}
		res.Deleted = append(res.Deleted, id)
	}
	return res
}

func loadLinks(gdb *gorm.DB, routingID string) ([]Link[string], error) {
	var edges []models.RoutingEdge
	if err := gdb.Where("routing_id = ?", routingID).Find(&edges).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, db.Wrap("list", "routing links", err)
	}
	return LinksOf(edges), nil
}

// LinksOf converts stored edges to links.
func LinksOf(edges []models.RoutingEdge) []Link[string] {
	out := make([]Link[string], len(edges))
	for i, e := range edges {
		out[i] = Link[string]{Source: e.SourceNodeID, Target: e.TargetNodeID}
	}
	return out
}
