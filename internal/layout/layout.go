// Package layout computes layered, left-to-right (or top-to-bottom)
// positions for a directed graph. It is a pure function of its input:
// the same nodes and edges always produce the same coordinates.
package layout

import (
	"sort"
)

// Direction is the flow axis of the layout.
type Direction string

const (
	LeftToRight Direction = "LR"
	TopToBottom Direction = "TB"
)

// Options tune node size and spacing. Zero values take the defaults.
type Options struct {
	Direction  Direction
	NodeWidth  float64
	NodeHeight float64
	NodeSep    float64 // gap between nodes of the same rank
	RankSep    float64 // gap between ranks
	Sweeps     int     // barycenter ordering passes
}

// DefaultOptions matches the editor's node card size.
func DefaultOptions() Options {
	return Options{
		Direction:  LeftToRight,
		NodeWidth:  172,
		NodeHeight: 36,
		NodeSep:    50,
		RankSep:    100,
		Sweeps:     4,
	}
}

func (o Options) withDefaults() Options {
	d := DefaultOptions()
	if o.Direction == "" {
		o.Direction = d.Direction
	}
	if o.NodeWidth <= 0 {
		o.NodeWidth = d.NodeWidth
	}
	if o.NodeHeight <= 0 {
		o.NodeHeight = d.NodeHeight
	}
	if o.NodeSep <= 0 {
		o.NodeSep = d.NodeSep
	}
	if o.RankSep <= 0 {
		o.RankSep = d.RankSep
	}
	if o.Sweeps <= 0 {
		o.Sweeps = d.Sweeps
	}
	return o
}

// Edge is a directed connection between two node ids.
type Edge struct {
	Source string
	Target string
}

// Point is the top-left corner of a node.
type Point struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

// Compute returns a position for every node id. Edges naming unknown ids,
// self-loops and repeated pairs are ignored. Cycles are broken by dropping
// the back edges found by a depth-first walk in input order.
func Compute(nodes []string, edges []Edge, opts Options) map[string]Point {
	opts = opts.withDefaults()
	g := newGraph(nodes, edges)
	g.breakCycles()
	ranks := g.assignRanks()
	layers := g.buildLayers(ranks)
	g.order(layers, opts.Sweeps)
	return g.place(layers, opts)
}

type graph struct {
	ids   []string
	index map[string]int
	out   [][]int
	in    [][]int
}

func newGraph(nodes []string, edges []Edge) *graph {
	g := &graph{index: make(map[string]int, len(nodes))}
	for _, id := range nodes {
		if _, dup := g.index[id]; dup {
			continue
		}
		g.index[id] = len(g.ids)
		g.ids = append(g.ids, id)
	}
	g.out = make([][]int, len(g.ids))
	g.in = make([][]int, len(g.ids))

	seen := make(map[[2]int]bool)
	for _, e := range edges {
		s, ok1 := g.index[e.Source]
		t, ok2 := g.index[e.Target]
		if !ok1 || !ok2 || s == t || seen[[2]int{s, t}] {
			continue
		}
		seen[[2]int{s, t}] = true
		g.out[s] = append(g.out[s], t)
		g.in[t] = append(g.in[t], s)
	}
	return g
}

// breakCycles removes back edges so the graph becomes acyclic.
func (g *graph) breakCycles() {
	const (
		white = iota
		grey
		black
	)
	color := make([]int, len(g.ids))
	back := make(map[[2]int]bool)

	var visit func(u int)
	visit = func(u int) {
		color[u] = grey
		for _, v := range g.out[u] {
			switch color[v] {
			case grey:
				back[[2]int{u, v}] = true
			case white:
				visit(v)
			}
		}
		color[u] = black
	}
	for u := range g.ids {
		if color[u] == white {
			visit(u)
		}
	}
	if len(back) == 0 {
		return
	}
	for u := range g.out {
		g.out[u] = filter(g.out[u], func(v int) bool { return !back[[2]int{u, v}] })
	}
	for v := range g.in {
		g.in[v] = filter(g.in[v], func(u int) bool { return !back[[2]int{u, v}] })
	}
}

// assignRanks places every node one rank after its furthest predecessor.
func (g *graph) assignRanks() []int {
	rank := make([]int, len(g.ids))
	indeg := make([]int, len(g.ids))
	for v := range g.in {
		indeg[v] = len(g.in[v])
	}
	queue := make([]int, 0, len(g.ids))
	for v := range g.ids {
		if indeg[v] == 0 {
			queue = append(queue, v)
		}
	}
	for len(queue) > 0 {
		u := queue[0]
		queue = queue[1:]
		for _, v := range g.out[u] {
			if rank[u]+1 > rank[v] {
				rank[v] = rank[u] + 1
			}
			indeg[v]--
			if indeg[v] == 0 {
				queue = append(queue, v)
			}
		}
	}
	return rank
}

func (g *graph) buildLayers(rank []int) [][]int {
	if len(g.ids) == 0 {
		return nil
	}
	maxRank := 0
	for _, r := range rank {
		maxRank = max(maxRank, r)
	}
	layers := make([][]int, maxRank+1)
	for v := range g.ids {
		layers[rank[v]] = append(layers[rank[v]], v)
	}
	return layers
}

// order reduces crossings with alternating barycenter sweeps. Ties keep
// the current relative order so the result is stable.
func (g *graph) order(layers [][]int, sweeps int) {
	pos := make([]float64, len(g.ids))
	reindex := func(layer []int) {
		for i, v := range layer {
			pos[v] = float64(i)
		}
	}
	for _, layer := range layers {
		reindex(layer)
	}

	for s := 0; s < sweeps; s++ {
		if s%2 == 0 {
			for r := 1; r < len(layers); r++ {
				g.sortByBarycenter(layers[r], g.in, pos)
				reindex(layers[r])
			}
		} else {
			for r := len(layers) - 2; r >= 0; r-- {
				g.sortByBarycenter(layers[r], g.out, pos)
				reindex(layers[r])
			}
		}
	}
}

func (g *graph) sortByBarycenter(layer []int, neighbors [][]int, pos []float64) {
	bary := make(map[int]float64, len(layer))
	for _, v := range layer {
		ns := neighbors[v]
		if len(ns) == 0 {
			bary[v] = pos[v]
			continue
		}
		sum := 0.0
		for _, n := range ns {
			sum += pos[n]
		}
		bary[v] = sum / float64(len(ns))
	}
	sort.SliceStable(layer, func(i, j int) bool {
		return bary[layer[i]] < bary[layer[j]]
	})
}

// place converts layers into coordinates, centering each rank on the
// widest one.
func (g *graph) place(layers [][]int, opts Options) map[string]Point {
	out := make(map[string]Point, len(g.ids))
	if len(layers) == 0 {
		return out
	}
	widest := 0
	for _, l := range layers {
		widest = max(widest, len(l))
	}

	along, across := opts.NodeWidth, opts.NodeHeight
	if opts.Direction == TopToBottom {
		along, across = opts.NodeHeight, opts.NodeWidth
	}
	span := func(n int) float64 {
		if n == 0 {
			return 0
		}
		return float64(n)*across + float64(n-1)*opts.NodeSep
	}
	full := span(widest)

	for r, layer := range layers {
		depth := float64(r) * (along + opts.RankSep)
		offset := (full - span(len(layer))) / 2
		for i, v := range layer {
			cross := offset + float64(i)*(across+opts.NodeSep)
			p := Point{X: depth, Y: cross}
			if opts.Direction == TopToBottom {
				p = Point{X: cross, Y: depth}
			}
			out[g.ids[v]] = p
		}
	}
	return out
}

func filter(xs []int, keep func(int) bool) []int {
	out := xs[:0]
	for _, x := range xs {
		if keep(x) {
			out = append(out, x)
		}
	}
	return out
}
