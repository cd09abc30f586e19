package workflow

import (
	"github.com/zulandar/jigged/internal/db"
	"github.com/zulandar/jigged/internal/layout"
	"github.com/zulandar/jigged/internal/routing"
)

// Node is a step on the canvas.
type Node struct {
	Ref             routing.Ref        `json:"ref"`
	OperationTypeID string             `json:"operation_type_id"`
	Fields          routing.NodeFields `json:"fields"`
	Position        layout.Point       `json:"position"`
}

// EdgeStyle is how a link is drawn.
type EdgeStyle struct {
	Curve  string `json:"curve"`
	Marker string `json:"marker"`
}

// DefaultEdgeStyle is a smooth-step curve ending in a closed arrow.
var DefaultEdgeStyle = EdgeStyle{Curve: "smoothstep", Marker: "arrowclosed"}

// Edge is a link on the canvas.
type Edge struct {
	Ref    routing.Ref `json:"ref"`
	Source routing.Ref `json:"source"`
	Target routing.Ref `json:"target"`
	Style  EdgeStyle   `json:"style"`
}

// Pending is the unsaved graph held by a deferred editor.
type Pending struct {
	Nodes []Node `json:"nodes"`
	Edges []Edge `json:"edges"`
}

// FromGraph mirrors a stored graph as canvas nodes and edges.
func FromGraph(g *routing.Graph) Pending {
	var p Pending
	if g == nil {
		return p
	}
	for _, n := range g.Nodes {
		p.Nodes = append(p.Nodes, Node{
			Ref:             routing.Existing(n.ID),
			OperationTypeID: n.OperationTypeID,
			Fields:          routing.FieldsOf(n),
			Position:        routing.PositionOf(n),
		})
	}
	for _, e := range g.Edges {
		p.Edges = append(p.Edges, Edge{
			Ref:    routing.Existing(e.ID),
			Source: routing.Existing(e.SourceNodeID),
			Target: routing.Existing(e.TargetNodeID),
			Style:  DefaultEdgeStyle,
		})
	}
	return p
}

// Diff computes the writes that turn original into pending. Removed
// entities are those of original missing from pending; created ones carry
// New refs; changed nodes keep their persisted id but differ in fields or
// position. The pending graph is checked first: every ref must be set and
// unique, persisted refs must belong to original, saved steps keep their
// operation type, and links must join two pending steps without
// self-loops, repeats or cycles.
func Diff(original *routing.Graph, pending Pending) (routing.Plan, error) {
	var plan routing.Plan
	base := FromGraph(original)

	origNodes := make(map[string]Node, len(base.Nodes))
	for _, n := range base.Nodes {
		origNodes[n.Ref.ID()] = n
	}
	origEdges := make(map[string]Edge, len(base.Edges))
	for _, e := range base.Edges {
		origEdges[e.Ref.ID()] = e
	}

	present := make(map[routing.Ref]bool, len(pending.Nodes))
	for _, n := range pending.Nodes {
		if n.Ref.IsZero() {
			return plan, db.Validation("every step needs a reference")
		}
		if present[n.Ref] {
			return plan, db.Validation("step %s appears more than once", n.Ref)
		}
		present[n.Ref] = true

		if n.Ref.IsNew() {
			if n.OperationTypeID == "" {
				return plan, db.Validation("new step %s needs an operation type", n.Ref.ID())
			}
			plan.CreateNodes = append(plan.CreateNodes, routing.NewNode{
				TempID:          n.Ref.ID(),
				OperationTypeID: n.OperationTypeID,
				Fields:          n.Fields,
				Position:        n.Position,
			})
			continue
		}
		orig, ok := origNodes[n.Ref.ID()]
		if !ok {
			return plan, db.Validation("step %s is not part of this routing", n.Ref.ID())
		}
		if n.OperationTypeID != "" && n.OperationTypeID != orig.OperationTypeID {
			return plan, db.Validation("the operation type of saved step %s cannot change", n.Ref.ID())
		}
		if !n.Fields.Equal(orig.Fields) || n.Position != orig.Position {
			plan.UpdateNodes = append(plan.UpdateNodes, routing.NodeUpdate{
				ID:       n.Ref.ID(),
				Fields:   n.Fields,
				Position: n.Position,
			})
		}
	}
	for _, n := range base.Nodes {
		if !present[n.Ref] {
			plan.DeleteNodes = append(plan.DeleteNodes, n.Ref.ID())
		}
	}

	var links []routing.Link[routing.Ref]
	kept := make(map[string]bool)
	seenEdge := make(map[routing.Ref]bool, len(pending.Edges))
	for _, e := range pending.Edges {
		if e.Ref.IsZero() {
			return plan, db.Validation("every link needs a reference")
		}
		if seenEdge[e.Ref] {
			return plan, db.Validation("link %s appears more than once", e.Ref)
		}
		seenEdge[e.Ref] = true
		if !present[e.Source] || !present[e.Target] {
			return plan, db.Validation("link %s joins a step that is not in the routing", e.Ref)
		}
		link := routing.Link[routing.Ref]{Source: e.Source, Target: e.Target}
		if err := routing.CheckLink(links, link); err != nil {
			return plan, err
		}
		links = append(links, link)

		if e.Ref.IsExisting() {
			orig, ok := origEdges[e.Ref.ID()]
			if !ok {
				return plan, db.Validation("link %s is not part of this routing", e.Ref.ID())
			}
			if orig.Source == e.Source && orig.Target == e.Target {
				kept[e.Ref.ID()] = true
				continue
			}
		}
		plan.CreateEdges = append(plan.CreateEdges, routing.NewEdge{Source: e.Source, Target: e.Target})
	}
	for _, e := range base.Edges {
		if !kept[e.Ref.ID()] {
			plan.DeleteEdges = append(plan.DeleteEdges, e.Ref.ID())
		}
	}
	return plan, nil
}
