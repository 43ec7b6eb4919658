// Package graph maintains the waypoint graph: each memory keeps at most one
// outgoing association, to the memory it is most similar to.
package graph

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/rcliao/sector-memory/internal/model"
	"github.com/rcliao/sector-memory/internal/vector"
)

const (
	DefaultLinkThreshold  = 0.75
	DefaultPruneFloor     = 0.05
	DefaultReinforceDelta = 0.05
)

// Store is the persistence the graph needs.
type Store interface {
	UpsertWaypoint(ctx context.Context, w model.Waypoint) error
	Waypoint(ctx context.Context, src string) (*model.Waypoint, error)
	Outgoing(ctx context.Context, srcs []string) (map[string]model.Waypoint, error)
	Incoming(ctx context.Context, dst string) ([]model.Waypoint, error)
	Waypoints(ctx context.Context) ([]model.Waypoint, error)
	AddWaypointWeight(ctx context.Context, src, dst string, delta float64, now time.Time) (bool, error)
	DeleteWaypointIf(ctx context.Context, w model.Waypoint) (bool, error)
	DeleteDanglingWaypoint(ctx context.Context, src, dst string) (bool, error)
	Existing(ctx context.Context, ids []string) (map[string]bool, error)
}

// Options tunes linking and pruning.
type Options struct {
	LinkThreshold float64
	PruneFloor    float64
}

// Graph operates on waypoints held in a Store.
type Graph struct {
	st   Store
	opts Options
}

// New creates a graph. Zero options take the defaults.
func New(st Store, opts Options) *Graph {
	if opts.LinkThreshold <= 0 {
		opts.LinkThreshold = DefaultLinkThreshold
	}
	if opts.PruneFloor <= 0 {
		opts.PruneFloor = DefaultPruneFloor
	}
	return &Graph{st: st, opts: opts}
}

// LinkThreshold is the minimum similarity for an automatic link.
func (g *Graph) LinkThreshold() float64 { return g.opts.LinkThreshold }

// Link sets src's single outgoing edge to dst, replacing any previous edge.
func (g *Graph) Link(ctx context.Context, src, dst string, weight float64, now time.Time) (*model.Waypoint, error) {
	w := model.Waypoint{
		SrcID:     src,
		DstID:     dst,
		Weight:    model.Clamp01(weight),
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := g.st.UpsertWaypoint(ctx, w); err != nil {
		return nil, fmt.Errorf("link %s -> %s: %w", src, dst, err)
	}
	return g.st.Waypoint(ctx, src)
}

// Candidate is a possible link target.
type Candidate struct {
	ID   string
	Mean vector.Vector
}

// LinkBest links src to the most similar candidate when that similarity
// reaches the link threshold. It returns nil when no edge was created.
func (g *Graph) LinkBest(ctx context.Context, src string, mean vector.Vector, candidates []Candidate, now time.Time) (*model.Waypoint, error) {
	bestID, bestSim := "", -1.0
	for _, c := range candidates {
		if c.ID == src {
			continue
		}
		sim := vector.Cosine(mean, c.Mean)
		// ties resolve to the lexically smaller id so linking is deterministic
		if sim > bestSim || (sim == bestSim && c.ID < bestID) {
			bestID, bestSim = c.ID, sim
		}
	}
	if bestID == "" || bestSim < g.opts.LinkThreshold {
		return nil, nil
	}
	return g.Link(ctx, src, bestID, bestSim, now)
}

// Reinforce raises the weight of src -> dst by delta, capped at 1. It is a
// no-op returning false when that edge does not exist.
func (g *Graph) Reinforce(ctx context.Context, src, dst string, delta float64, now time.Time) (bool, error) {
	return g.st.AddWaypointWeight(ctx, src, dst, delta, now)
}

// Expansion is a memory reached by following waypoints from a seed.
type Expansion struct {
	ID     string   `json:"id"`
	Weight float64  `json:"weight"` // product of edge weights along Path
	Depth  int      `json:"depth"`
	Path   []string `json:"path"` // seed first, ID last
}

// Expand walks up to hops edges from each seed and returns at most maxNew
// memories that are not seeds, strongest path first, shallower first on ties.
func (g *Graph) Expand(ctx context.Context, seeds []string, hops, maxNew int) ([]Expansion, error) {
	if hops <= 0 || maxNew <= 0 || len(seeds) == 0 {
		return nil, nil
	}
	isSeed := make(map[string]bool, len(seeds))
	for _, s := range seeds {
		isSeed[s] = true
	}

	best := make(map[string]Expansion)
	frontier := make([]Expansion, 0, len(seeds))
	for _, s := range seeds {
		frontier = append(frontier, Expansion{ID: s, Weight: 1, Path: []string{s}})
	}

	for depth := 1; depth <= hops && len(frontier) > 0; depth++ {
		ids := make([]string, len(frontier))
		for i, f := range frontier {
			ids[i] = f.ID
		}
		out, err := g.st.Outgoing(ctx, ids)
		if err != nil {
			return nil, fmt.Errorf("expand: %w", err)
		}

		var next []Expansion
		for _, f := range frontier {
			w, ok := out[f.ID]
			if !ok || isSeed[w.DstID] || onPath(f.Path, w.DstID) {
				continue
			}
			path := make([]string, len(f.Path), len(f.Path)+1)
			copy(path, f.Path)
			e := Expansion{ID: w.DstID, Weight: f.Weight * w.Weight, Depth: depth, Path: append(path, w.DstID)}
			if prev, seen := best[e.ID]; seen && !better(e, prev) {
				continue
			}
			best[e.ID] = e
			next = append(next, e)
		}
		frontier = next
	}

	result := make([]Expansion, 0, len(best))
	for _, e := range best {
		result = append(result, e)
	}
	sort.Slice(result, func(i, j int) bool {
		if better(result[i], result[j]) {
			return true
		}
		if better(result[j], result[i]) {
			return false
		}
		return result[i].ID < result[j].ID
	})
	if len(result) > maxNew {
		result = result[:maxNew]
	}
	return result, nil
}

func better(a, b Expansion) bool {
	if a.Weight != b.Weight {
		return a.Weight > b.Weight
	}
	return a.Depth < b.Depth
}

func onPath(path []string, id string) bool {
	for _, p := range path {
		if p == id {
			return true
		}
	}
	return false
}

// PruneResult counts removed edges.
type PruneResult struct {
	Weak     int `json:"weak"`
	Dangling int `json:"dangling"`
}

// Prune removes edges below the weight floor and edges whose destination is
// gone. It works from a snapshot and re-validates each deletion, so an edge
// reinforced or relinked meanwhile survives.
func (g *Graph) Prune(ctx context.Context) (PruneResult, error) {
	var res PruneResult
	snapshot, err := g.st.Waypoints(ctx)
	if err != nil {
		return res, fmt.Errorf("prune snapshot: %w", err)
	}
	if len(snapshot) == 0 {
		return res, nil
	}

	dsts := make([]string, 0, len(snapshot))
	for _, w := range snapshot {
		dsts = append(dsts, w.DstID)
	}
	exists, err := g.st.Existing(ctx, dsts)
	if err != nil {
		return res, fmt.Errorf("prune: %w", err)
	}

	for _, w := range snapshot {
		switch {
		case !exists[w.DstID]:
			ok, err := g.st.DeleteDanglingWaypoint(ctx, w.SrcID, w.DstID)
			if err != nil {
				return res, err
			}
			if ok {
				res.Dangling++
			}
		case w.Weight < g.opts.PruneFloor:
			ok, err := g.st.DeleteWaypointIf(ctx, w)
			if err != nil {
				return res, err
			}
			if ok {
				res.Weak++
			}
		}
	}
	return res, nil
}

// Subgraph is the neighbourhood of a memory.
type Subgraph struct {
	Root  string           `json:"root"`
	Nodes []string         `json:"nodes"`
	Edges []model.Waypoint `json:"edges"`
}

// Neighborhood collects memories within depth edges of id, following edges
// in both directions.
func (g *Graph) Neighborhood(ctx context.Context, id string, depth int) (*Subgraph, error) {
	exists, err := g.st.Existing(ctx, []string{id})
	if err != nil {
		return nil, err
	}
	if !exists[id] {
		return nil, fmt.Errorf("%w: memory %s", model.ErrNotFound, id)
	}
	if depth <= 0 {
		depth = 1
	}

	sub := &Subgraph{Root: id, Nodes: []string{id}}
	seenNode := map[string]bool{id: true}
	seenEdge := map[string]bool{}
	addEdge := func(w model.Waypoint, next *[]string) {
		if !seenEdge[w.SrcID] {
			seenEdge[w.SrcID] = true
			sub.Edges = append(sub.Edges, w)
		}
		for _, n := range []string{w.SrcID, w.DstID} {
			if !seenNode[n] {
				seenNode[n] = true
				sub.Nodes = append(sub.Nodes, n)
				*next = append(*next, n)
			}
		}
	}

	frontier := []string{id}
	for d := 0; d < depth && len(frontier) > 0; d++ {
		out, err := g.st.Outgoing(ctx, frontier)
		if err != nil {
			return nil, err
		}
		var next []string
		for _, n := range frontier {
			if w, ok := out[n]; ok {
				addEdge(w, &next)
			}
			in, err := g.st.Incoming(ctx, n)
			if err != nil {
				return nil, err
			}
			for _, w := range in {
				addEdge(w, &next)
			}
		}
		frontier = next
	}
	return sub, nil
}
