package engine

import (
	"context"
	"fmt"
	"math"
	"sort"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"
	"gonum.org/v1/gonum/stat"

	"github.com/rcliao/sector-memory/internal/decay"
	"github.com/rcliao/sector-memory/internal/embedding"
	"github.com/rcliao/sector-memory/internal/model"
	"github.com/rcliao/sector-memory/internal/sector"
	"github.com/rcliao/sector-memory/internal/text"
	"github.com/rcliao/sector-memory/internal/vector"
)

// QueryParams describes a retrieval request.
type QueryParams struct {
	Text     string
	K        int
	Owner    string         // empty matches every owner
	Sectors  []model.Sector // allow-list; empty means the classified sectors
	MinScore float64
}

// Result is one scored memory.
type Result struct {
	ID         string         `json:"id"`
	Content    string         `json:"content"`
	Score      float64        `json:"score"`
	Sectors    []model.Sector `json:"sectors"`
	Path       []string       `json:"path,omitempty"`
	Similarity float64        `json:"similarity"`
	Salience   float64        `json:"salience"`
	Owner      string         `json:"owner,omitempty"`
	Tags       []string       `json:"tags,omitempty"`
}

type candidate struct {
	id       string
	sim      float64
	sectors  []model.Sector
	expanded bool
	waypoint float64
	path     []string
	mem      *model.Memory
	salience float64
	raw      float64
	score    float64
}

// Query runs the retrieval pipeline: classify, search each candidate sector,
// expand through waypoints when direct matches are weak, score, and
// reinforce what is returned.
func (e *Engine) Query(ctx context.Context, p QueryParams) ([]Result, error) {
	q := strings.TrimSpace(p.Text)
	if q == "" {
		return nil, fmt.Errorf("%w: query text is empty", model.ErrInvalidQuery)
	}
	if p.K <= 0 {
		return nil, fmt.Errorf("%w: k must be positive", model.ErrInvalidQuery)
	}
	allowed, err := allowSet(p.Sectors)
	if err != nil {
		return nil, err
	}

	if !e.inflight.TryAcquire(1) {
		return nil, fmt.Errorf("%w: %d queries already in flight", model.ErrRateLimited, e.opts.MaxInFlight)
	}
	defer e.inflight.Release(1)

	cls := e.classifier.Classify(q, nil)
	sectors := querySectors(cls, p.Sectors)

	qvecs, cands, err := e.search(ctx, q, sectors, p.K*e.opts.CandidateFactor)
	if err != nil {
		return nil, err
	}
	queryMean, err := e.meanVector(qvecs)
	if err != nil {
		return nil, err
	}

	if err := e.expand(ctx, cands, p.K); err != nil {
		return nil, err
	}

	ids := make([]string, 0, len(cands))
	for id := range cands {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	mems, err := e.loadMemories(ctx, ids)
	if err != nil {
		return nil, err
	}

	var pool []*candidate
	for _, id := range ids {
		c := cands[id]
		m, ok := mems[id]
		if !ok {
			// deleted since the index was read, or a dangling edge
			continue
		}
		if p.Owner != "" && m.Owner != p.Owner {
			continue
		}
		if c.expanded {
			c.sectors = filterSectors(m.SectorSet(), allowed)
			if len(c.sectors) == 0 {
				continue
			}
			c.sim = vector.Cosine(queryMean, m.MeanVector)
		}
		c.mem = m
		pool = append(pool, c)
	}

	now := e.opts.Now()
	e.score(q, pool, now)
	sort.Slice(pool, func(i, j int) bool {
		if pool[i].score != pool[j].score {
			return pool[i].score > pool[j].score
		}
		return pool[i].id < pool[j].id
	})
	if len(pool) > p.K {
		pool = pool[:p.K]
	}

	results := make([]Result, 0, len(pool))
	selected := make([]*candidate, 0, len(pool))
	for _, c := range pool {
		if c.score < p.MinScore {
			continue
		}
		selected = append(selected, c)
		results = append(results, Result{
			ID:         c.id,
			Content:    c.mem.Content,
			Score:      c.score,
			Sectors:    c.sectors,
			Path:       c.path,
			Similarity: c.sim,
			Salience:   c.salience,
			Owner:      c.mem.Owner,
			Tags:       c.mem.Tags,
		})
	}

	e.reinforceResults(ctx, selected)
	e.log.Debug("query", "sectors", sectors, "candidates", len(cands), "returned", len(results))
	return results, nil
}

func allowSet(sectors []model.Sector) (map[model.Sector]bool, error) {
	if len(sectors) == 0 {
		return nil, nil
	}
	out := make(map[model.Sector]bool, len(sectors))
	for _, s := range sectors {
		if !model.ValidSectors[s] {
			return nil, fmt.Errorf("%w: unknown sector %q", model.ErrInvalidQuery, s)
		}
		out[s] = true
	}
	return out, nil
}

// querySectors is the classified sector set plus semantic, or the allow-list
// when one is given.
func querySectors(cls sector.Classification, allow []model.Sector) []model.Sector {
	want := make(map[model.Sector]bool)
	if len(allow) > 0 {
		for _, s := range allow {
			want[s] = true
		}
	} else {
		for _, s := range cls.Sectors() {
			want[s] = true
		}
		want[model.Semantic] = true
	}
	// primary first keeps it first in the query mean
	out := []model.Sector{}
	if want[cls.Primary] {
		out = append(out, cls.Primary)
	}
	for _, s := range model.Sectors {
		if want[s] && s != cls.Primary {
			out = append(out, s)
		}
	}
	return out
}

func filterSectors(ss []model.Sector, allowed map[model.Sector]bool) []model.Sector {
	if allowed == nil {
		return ss
	}
	var out []model.Sector
	for _, s := range ss {
		if allowed[s] {
			out = append(out, s)
		}
	}
	return out
}

// search embeds the query per sector and collects nearest neighbours. A
// memory found in several sectors keeps its best similarity.
func (e *Engine) search(ctx context.Context, q string, sectors []model.Sector, n int) ([]model.SectorVector, map[string]*candidate, error) {
	type sectorResult struct {
		vec  vector.Vector
		hits []vector.Hit
	}
	results := make([]sectorResult, len(sectors))

	g, gctx := errgroup.WithContext(ctx)
	for i, sec := range sectors {
		g.Go(func() error {
			v, err := e.embedQuery(gctx, q, sec)
			if err != nil {
				return err
			}
			hits, err := e.st.Nearest(gctx, sec, v, n)
			if err != nil {
				return fmt.Errorf("nearest %s: %w", sec, err)
			}
			results[i] = sectorResult{vec: v, hits: hits}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, nil, err
	}

	qvecs := make([]model.SectorVector, len(sectors))
	cands := make(map[string]*candidate)
	for i, sec := range sectors {
		qvecs[i] = model.SectorVector{Sector: sec, Vector: results[i].vec}
		for _, h := range results[i].hits {
			c, ok := cands[h.ID]
			if !ok {
				c = &candidate{id: h.ID, sim: h.Similarity}
				cands[h.ID] = c
			}
			if h.Similarity > c.sim {
				c.sim = h.Similarity
			}
			c.sectors = append(c.sectors, sec)
		}
	}
	return qvecs, cands, nil
}

func (e *Engine) embedQuery(ctx context.Context, q string, sec model.Sector) (vector.Vector, error) {
	if v, ok := e.cachedEmbedding(sec, q); ok {
		return v, nil
	}
	ectx, cancel := context.WithTimeout(ctx, e.opts.EmbedTimeout)
	defer cancel()
	v, err := embedding.EmbedLong(ectx, e.embedder, q, sec, e.opts.Chunking)
	if err != nil {
		return nil, embedError(sec, err)
	}
	if len(v) == 0 {
		return nil, fmt.Errorf("%w: sector %s: empty vector", model.ErrEmbeddingUnavailable, sec)
	}
	e.embeddings.set(embeddingKey(sec, q), v)
	return v, nil
}

// expand follows waypoints from the top k direct candidates when their mean
// similarity is below the expansion threshold.
func (e *Engine) expand(ctx context.Context, cands map[string]*candidate, k int) error {
	if e.opts.ExpansionThreshold < 0 || len(cands) == 0 {
		return nil
	}
	direct := make([]*candidate, 0, len(cands))
	for _, c := range cands {
		direct = append(direct, c)
	}
	sort.Slice(direct, func(i, j int) bool {
		if direct[i].sim != direct[j].sim {
			return direct[i].sim > direct[j].sim
		}
		return direct[i].id < direct[j].id
	})
	if len(direct) > k {
		direct = direct[:k]
	}

	var sum float64
	seeds := make([]string, len(direct))
	for i, c := range direct {
		sum += c.sim
		seeds[i] = c.id
	}
	if sum/float64(len(direct)) >= e.opts.ExpansionThreshold {
		return nil
	}

	exps, err := e.graph.Expand(ctx, seeds, e.opts.ExpansionHops, e.opts.ExpansionFactor*k)
	if err != nil {
		return err
	}
	for _, x := range exps {
		if _, ok := cands[x.ID]; ok {
			continue
		}
		cands[x.ID] = &candidate{id: x.ID, expanded: true, waypoint: x.Weight, path: x.Path}
	}
	return nil
}

// loadMemories reads candidate rows through the memory cache.
func (e *Engine) loadMemories(ctx context.Context, ids []string) (map[string]*model.Memory, error) {
	out := make(map[string]*model.Memory, len(ids))
	var missing []string
	for _, id := range ids {
		if m, ok := e.cachedMemory(id); ok {
			out[id] = m
			continue
		}
		missing = append(missing, id)
	}
	if len(missing) == 0 {
		return out, nil
	}
	gens := make(map[string]uint64, len(missing))
	for _, id := range missing {
		gens[id] = e.gens.current(id)
	}
	loaded, err := e.st.GetMany(ctx, missing)
	if err != nil {
		return nil, err
	}
	for id, m := range loaded {
		out[id] = m
		e.cacheMemory(m, gens[id])
	}
	return out, nil
}

// score computes the composite score of every candidate, then maps the raw
// scores through a z-score and the logistic function into (0,1).
func (e *Engine) score(q string, pool []*candidate, now time.Time) {
	w := e.opts.Weights
	raws := make([]float64, len(pool))
	for i, c := range pool {
		c.salience = e.decay.Memory(c.mem, now)
		boosted := c.sim * (1 + c.salience)
		recency := decay.Recency(decay.Days(c.mem.LastSeenAt, now))
		c.raw = w.Similarity*boosted +
			w.Overlap*text.Overlap(q, c.mem.Content) +
			w.Waypoint*c.waypoint +
			w.Recency*recency
		if e.opts.KeywordBoost {
			c.raw += w.Keyword * text.BigramOverlap(q, c.mem.Content)
		}
		raws[i] = c.raw
	}

	if len(raws) < 2 {
		for _, c := range pool {
			c.score = logistic(0)
		}
		return
	}
	mean, std := stat.MeanStdDev(raws, nil)
	for _, c := range pool {
		z := 0.0
		if std > 0 {
			z = (c.raw - mean) / std
		}
		c.score = logistic(z)
	}
}

func logistic(z float64) float64 {
	return 1 / (1 + math.Exp(-z))
}

// reinforceResults strengthens returned memories and the edges that tie them
// together: edges on expansion paths and edges between co-retrieved results.
// It runs only after scoring is final.
func (e *Engine) reinforceResults(ctx context.Context, selected []*candidate) {
	if len(selected) == 0 {
		return
	}
	type edge struct{ src, dst string }
	edges := make(map[edge]bool)
	ids := make([]string, len(selected))
	returned := make(map[string]bool, len(selected))
	for i, c := range selected {
		ids[i] = c.id
		returned[c.id] = true
		for j := 1; j < len(c.path); j++ {
			edges[edge{c.path[j-1], c.path[j]}] = true
		}
	}

	for _, id := range ids {
		if _, err := e.reinforce(ctx, id, e.opts.ReinforceBoost, true); err != nil {
			e.log.Warn("reinforce result", "id", id, "error", err)
		}
	}

	out, err := e.st.Outgoing(ctx, ids)
	if err != nil {
		e.log.Warn("load result edges", "error", err)
	}
	for src, w := range out {
		if returned[w.DstID] {
			edges[edge{src, w.DstID}] = true
		}
	}

	now := e.opts.Now()
	for ed := range edges {
		if _, err := e.graph.Reinforce(ctx, ed.src, ed.dst, e.opts.EdgeBoost, now); err != nil {
			e.log.Warn("reinforce waypoint", "src", ed.src, "dst", ed.dst, "error", err)
		}
	}
}
