// Package workflow is the headless routing-graph editor. An Editor holds
// the canvas (steps, links and their positions) and applies gestures
// through one of two strategies: persisted mode writes each gesture to the
// database as it happens; deferred mode collects an in-memory pending
// graph that Save reconciles against the stored graph in one batch.
package workflow

import (
	"context"
	"slices"
	"sync"
	"time"

	"github.com/zulandar/jigged/internal/db"
	"github.com/zulandar/jigged/internal/layout"
	"github.com/zulandar/jigged/internal/routing"
	"gorm.io/gorm"
)

// Mode is the persistence strategy of an Editor.
type Mode int

const (
	Persisted Mode = iota
	Deferred
)

func (m Mode) String() string {
	if m == Deferred {
		return "deferred"
	}
	return "persisted"
}

// Editor is safe for concurrent use.
type Editor struct {
	mode      Mode
	persister Persister
	loader    func(ctx context.Context) (*routing.Graph, error)
	layout    layout.Options

	mu       sync.Mutex
	original *routing.Graph
	nodes    []Node
	edges    []Edge
	// placed marks steps positioned by MoveNode or AutoLayout since the
	// last Load or Save; other stored steps keep their stored position.
	placed map[routing.Ref]bool

	notify notifier
}

// Option configures an Editor.
type Option func(*Editor)

// WithLayout sets the options used by Load and AutoLayout.
func WithLayout(opts layout.Options) Option {
	return func(e *Editor) { e.layout = opts }
}

// WithDebounce delays change notifications until edits pause for d.
func WithDebounce(d time.Duration) Option {
	return func(e *Editor) { e.notify.delay = d }
}

// NewPersisted returns an editor that writes every gesture through to the
// routing's stored graph.
func NewPersisted(gdb *gorm.DB, companyID, routingID string, opts ...Option) *Editor {
	e := &Editor{
		mode:      Persisted,
		persister: &storePersister{db: gdb, companyID: companyID, routingID: routingID},
		loader: func(ctx context.Context) (*routing.Graph, error) {
			return routing.GetGraph(gdb.WithContext(ctx), companyID, routingID)
		},
	}
	for _, o := range opts {
		o(e)
	}
	return e
}

// NewDeferred returns an editor over original (nil for a routing with no
// steps yet). Gestures only change the pending graph; onChange receives a
// snapshot after each change while the editor is attached.
func NewDeferred(original *routing.Graph, onChange func(Pending), opts ...Option) *Editor {
	e := &Editor{
		mode:      Deferred,
		persister: memoryPersister{},
		loader: func(context.Context) (*routing.Graph, error) {
			return original, nil
		},
	}
	e.notify.fn = onChange
	for _, o := range opts {
		o(e)
	}
	return e
}

// Mode reports the editor's persistence strategy.
func (e *Editor) Mode() Mode { return e.mode }

// Attach starts change notifications. They stop when ctx ends or Detach
// is called.
func (e *Editor) Attach(ctx context.Context) { e.notify.attach(ctx) }

// Detach stops notifications and drops any debounced one not yet sent.
func (e *Editor) Detach() { e.notify.detach() }

// Load mirrors the stored graph onto the canvas and lays it out.
func (e *Editor) Load(ctx context.Context) error {
	g, err := e.loader(ctx)
	if err != nil {
		return err
	}
	return e.mutate(func() error {
		e.original = g
		p := FromGraph(g)
		e.nodes, e.edges = p.Nodes, p.Edges
		e.placed = map[routing.Ref]bool{}
		e.autoLayoutLocked(e.layout)
		return nil
	})
}

// Nodes returns a copy of the canvas steps.
func (e *Editor) Nodes() []Node {
	e.mu.Lock()
	defer e.mu.Unlock()
	return slices.Clone(e.nodes)
}

// Edges returns a copy of the canvas links.
func (e *Editor) Edges() []Edge {
	e.mu.Lock()
	defer e.mu.Unlock()
	return slices.Clone(e.edges)
}

// Pending returns a snapshot of the canvas graph.
func (e *Editor) Pending() Pending {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.pendingLocked()
}

// Totals sums step times on the canvas.
func (e *Editor) Totals() routing.Totals {
	e.mu.Lock()
	defer e.mu.Unlock()
	fields := make([]routing.NodeFields, len(e.nodes))
	for i, n := range e.nodes {
		fields[i] = n.Fields
	}
	return routing.ComputeTotals(fields)
}

// AddNode drops a step for operationTypeID at pos.
func (e *Editor) AddNode(ctx context.Context, operationTypeID string, pos layout.Point) (Node, error) {
	var node Node
	err := e.mutate(func() error {
		if operationTypeID == "" {
			return db.Validation("operation type is required")
		}
		ref, err := e.persister.AddNode(ctx, operationTypeID, pos)
		if err != nil {
			return err
		}
		node = Node{Ref: ref, OperationTypeID: operationTypeID, Position: pos}
		e.nodes = append(e.nodes, node)
		return nil
	})
	return node, err
}

// Connect links source before target.
func (e *Editor) Connect(ctx context.Context, source, target routing.Ref) (Edge, error) {
	var edge Edge
	err := e.mutate(func() error {
		for _, r := range []routing.Ref{source, target} {
			if e.nodeIndex(r) < 0 {
				return db.NotFound("routing step", r.String())
			}
		}
		links := make([]routing.Link[routing.Ref], len(e.edges))
		for i, x := range e.edges {
			links[i] = routing.Link[routing.Ref]{Source: x.Source, Target: x.Target}
		}
		if err := routing.CheckLink(links, routing.Link[routing.Ref]{Source: source, Target: target}); err != nil {
			return err
		}
		ref, err := e.persister.AddEdge(ctx, source, target)
		if err != nil {
			return err
		}
		edge = Edge{Ref: ref, Source: source, Target: target, Style: DefaultEdgeStyle}
		e.edges = append(e.edges, edge)
		return nil
	})
	return edge, err
}

// EditNode validates and stores a step's fields. The canvas changes only
// after the write succeeds.
func (e *Editor) EditNode(ctx context.Context, ref routing.Ref, fields routing.NodeFields) error {
	return e.mutate(func() error {
		if err := routing.ValidateNodeFields(&fields); err != nil {
			return err
		}
		i := e.nodeIndex(ref)
		if i < 0 {
			return db.NotFound("routing step", ref.String())
		}
		if err := e.persister.UpdateNode(ctx, ref, fields); err != nil {
			return err
		}
		e.nodes[i].Fields = fields
		return nil
	})
}

// MoveNode records a dragged step's position.
func (e *Editor) MoveNode(ctx context.Context, ref routing.Ref, pos layout.Point) error {
	return e.mutate(func() error {
		i := e.nodeIndex(ref)
		if i < 0 {
			return db.NotFound("routing step", ref.String())
		}
		if err := e.persister.MoveNode(ctx, ref, pos); err != nil {
			return err
		}
		e.nodes[i].Position = pos
		e.markPlaced(ref)
		return nil
	})
}

// DeleteNode removes a step and every link touching it.
func (e *Editor) DeleteNode(ctx context.Context, ref routing.Ref) error {
	return e.mutate(func() error {
		i := e.nodeIndex(ref)
		if i < 0 {
			return db.NotFound("routing step", ref.String())
		}
		if err := e.persister.DeleteNode(ctx, ref); err != nil {
			return err
		}
		e.nodes = slices.Delete(e.nodes, i, i+1)
		e.edges = slices.DeleteFunc(e.edges, func(x Edge) bool {
			return x.Source == ref || x.Target == ref
		})
		return nil
	})
}

// EdgeFailure is a link that could not be removed.
type EdgeFailure struct {
	Ref routing.Ref
	Err error
}

// DeleteReport lists the outcome of a multi-link delete.
type DeleteReport struct {
	Deleted []routing.Ref
	Failed  []EdgeFailure
}

// DeleteEdges removes links one at a time and keeps going past failures;
// links that failed stay on the canvas and are listed in the report.
func (e *Editor) DeleteEdges(ctx context.Context, refs ...routing.Ref) DeleteReport {
	var report DeleteReport
	_ = e.mutate(func() error {
		for _, ref := range refs {
			i := slices.IndexFunc(e.edges, func(x Edge) bool { return x.Ref == ref })
			if i < 0 {
				report.Failed = append(report.Failed, EdgeFailure{Ref: ref, Err: db.NotFound("routing link", ref.String())})
				continue
			}
			if err := e.persister.DeleteEdge(ctx, ref); err != nil {
				report.Failed = append(report.Failed, EdgeFailure{Ref: ref, Err: err})
				continue
			}
			e.edges = slices.Delete(e.edges, i, i+1)
			report.Deleted = append(report.Deleted, ref)
		}
		return nil
	})
	return report
}

// AutoLayout repositions every step. Positions are advisory and are not
// written in persisted mode.
func (e *Editor) AutoLayout(opts layout.Options) {
	_ = e.mutate(func() error {
		e.autoLayoutLocked(opts)
		for _, n := range e.nodes {
			e.markPlaced(n.Ref)
		}
		return nil
	})
}

// Committer stores a plan for the routing being edited and returns the
// graph as stored afterwards.
type Committer interface {
	Commit(ctx context.Context, plan routing.Plan) (*routing.Graph, error)
}

// Plan returns the writes Save would commit. The layout applied by Load
// alone does not count as a change.
func (e *Editor) Plan() (routing.Plan, error) {
	e.mu.Lock()
	original, pending := e.original, e.savedPendingLocked()
	e.mu.Unlock()
	return Diff(original, pending)
}

// Save reconciles the pending graph with the stored one. On failure the
// pending graph is left as it was so the user can retry.
func (e *Editor) Save(ctx context.Context, c Committer) (routing.Plan, error) {
	if e.mode != Deferred {
		return routing.Plan{}, nil
	}
	plan, err := e.Plan()
	if err != nil {
		return plan, err
	}
	g, err := c.Commit(ctx, plan)
	if err != nil {
		return plan, err
	}
	return plan, e.mutate(func() error {
		e.original = g
		p := FromGraph(g)
		e.nodes, e.edges = p.Nodes, p.Edges
		e.placed = map[routing.Ref]bool{}
		return nil
	})
}

// mutate runs fn under the lock and notifies listeners if it succeeded.
func (e *Editor) mutate(fn func() error) error {
	e.mu.Lock()
	err := fn()
	var snap Pending
	if err == nil {
		snap = e.pendingLocked()
	}
	e.mu.Unlock()
	if err == nil {
		e.notify.send(snap)
	}
	return err
}

func (e *Editor) pendingLocked() Pending {
	return Pending{Nodes: slices.Clone(e.nodes), Edges: slices.Clone(e.edges)}
}

// savedPendingLocked is the pending graph with unplaced stored steps back
// at their stored positions.
func (e *Editor) savedPendingLocked() Pending {
	p := e.pendingLocked()
	stored := make(map[routing.Ref]layout.Point)
	for _, n := range FromGraph(e.original).Nodes {
		stored[n.Ref] = n.Position
	}
	for i, n := range p.Nodes {
		if pos, ok := stored[n.Ref]; ok && !e.placed[n.Ref] {
			p.Nodes[i].Position = pos
		}
	}
	return p
}

func (e *Editor) markPlaced(ref routing.Ref) {
	if e.placed == nil {
		e.placed = map[routing.Ref]bool{}
	}
	e.placed[ref] = true
}

func (e *Editor) nodeIndex(ref routing.Ref) int {
	return slices.IndexFunc(e.nodes, func(n Node) bool { return n.Ref == ref })
}

func (e *Editor) autoLayoutLocked(opts layout.Options) {
	keys := make([]string, len(e.nodes))
	for i, n := range e.nodes {
		keys[i] = n.Ref.String()
	}
	edges := make([]layout.Edge, len(e.edges))
	for i, x := range e.edges {
		edges[i] = layout.Edge{Source: x.Source.String(), Target: x.Target.String()}
	}
	pos := layout.Compute(keys, edges, opts)
	for i := range e.nodes {
		e.nodes[i].Position = pos[keys[i]]
	}
}
