// Package engine ties classification, embedding, storage, the waypoint graph
// and decay into the memory engine API.
package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"

	"github.com/rcliao/sector-memory/internal/decay"
	"github.com/rcliao/sector-memory/internal/embedding"
	"github.com/rcliao/sector-memory/internal/graph"
	"github.com/rcliao/sector-memory/internal/model"
	"github.com/rcliao/sector-memory/internal/sector"
	"github.com/rcliao/sector-memory/internal/store"
	"github.com/rcliao/sector-memory/internal/vector"
)

// Repository is the persistence the engine runs on.
type Repository interface {
	store.Store
	graph.Store
}

// Engine is the memory engine. It is safe for concurrent use.
type Engine struct {
	st         Repository
	embedder   embedding.Embedder
	classifier *sector.Classifier
	decay      decay.Model
	graph      *graph.Graph
	opts       Options
	log        *slog.Logger

	inflight   *semaphore.Weighted
	locks      stripedLock
	gens       generations
	embeddings *ttlCache
	memories   *ttlCache
}

// New creates an engine over st using emb for every embedding.
func New(st Repository, emb embedding.Embedder, opts Options) (*Engine, error) {
	if st == nil || emb == nil {
		return nil, errors.New("engine needs a repository and an embedder")
	}
	opts = opts.withDefaults()

	embCache, err := newTTLCache(4096, opts.CacheTTL)
	if err != nil {
		return nil, err
	}
	memCache, err := newTTLCache(8192, opts.CacheTTL)
	if err != nil {
		embCache.close()
		return nil, err
	}

	dm := decay.NewModel(sector.Lambdas(opts.Sectors))
	dm.Alpha = opts.DecayAlpha

	return &Engine{
		st:         st,
		embedder:   emb,
		classifier: sector.NewClassifier(opts.Sectors),
		decay:      dm,
		graph:      graph.New(st, graph.Options{LinkThreshold: opts.LinkThreshold, PruneFloor: opts.PruneFloor}),
		opts:       opts,
		log:        opts.Logger,
		inflight:   semaphore.NewWeighted(int64(opts.MaxInFlight)),
		embeddings: embCache,
		memories:   memCache,
	}, nil
}

// Close releases the caches. The repository is owned by the caller.
func (e *Engine) Close() {
	e.embeddings.close()
	e.memories.close()
}

// Options returns the effective configuration.
func (e *Engine) Options() Options { return e.opts }

// Classifier exposes the sector classifier.
func (e *Engine) Classifier() *sector.Classifier { return e.classifier }

// AddParams describes a new memory.
type AddParams struct {
	Content  string
	Tags     []string
	Metadata map[string]any
	Owner    string
}

// AddResult is the outcome of Add.
type AddResult struct {
	Memory         *model.Memory         `json:"memory"`
	Classification sector.Classification `json:"classification"`
	Waypoint       *model.Waypoint       `json:"waypoint,omitempty"`
}

// Add classifies, embeds, stores and links a new memory.
func (e *Engine) Add(ctx context.Context, p AddParams) (*AddResult, error) {
	content := p.Content
	if strings.TrimSpace(content) == "" {
		return nil, fmt.Errorf("%w: content is empty", model.ErrInvalidQuery)
	}
	meta, err := model.NormalizeMetadata(p.Metadata)
	if err != nil {
		return nil, err
	}

	cls := e.classifier.Classify(content, meta)
	vecs, mean, err := e.embedSectors(ctx, content, cls.Sectors())
	if err != nil {
		return nil, err
	}

	salience := e.opts.InitialSalience
	if s, ok := meta.Float(model.MetaSalience); ok {
		salience = s
	}
	now := e.opts.Now()
	mem, err := e.st.Add(ctx, &model.Memory{
		Owner:             p.Owner,
		Content:           content,
		PrimarySector:     cls.Primary,
		AdditionalSectors: cls.Additional,
		Tags:              dedupe(p.Tags),
		Metadata:          meta,
		Salience:          salience,
		DecayLambda:       e.lambdaFor(cls.Primary, meta),
		CreatedAt:         now,
		MeanVector:        mean,
	}, vecs)
	if err != nil {
		return nil, fmt.Errorf("add memory: %w", err)
	}

	res := &AddResult{Memory: mem, Classification: cls}
	if res.Waypoint, err = e.link(ctx, mem); err != nil {
		// the memory is committed; a missing edge is recoverable
		e.log.Warn("link new memory", "id", mem.ID, "error", err)
	}
	e.log.Debug("memory added", "id", mem.ID, "sector", mem.PrimarySector,
		"additional", mem.AdditionalSectors, "confidence", cls.Confidence)
	return res, nil
}

func (e *Engine) lambdaFor(primary model.Sector, meta model.Metadata) float64 {
	if l, ok := meta.Float(model.MetaDecayLambda); ok {
		return l
	}
	return e.decay.Lambda(primary)
}

// embedError classifies a provider failure. A wrong-sized vector keeps its
// DimensionMismatch; anything else means the provider is unavailable.
func embedError(sec model.Sector, err error) error {
	if errors.Is(err, model.ErrDimensionMismatch) {
		return fmt.Errorf("sector %s: %w", sec, err)
	}
	return fmt.Errorf("%w: sector %s: %v", model.ErrEmbeddingUnavailable, sec, err)
}

// embedSectors embeds content once per sector in parallel and derives the
// sector-weighted mean vector. The first vector belongs to sectors[0].
func (e *Engine) embedSectors(ctx context.Context, content string, sectors []model.Sector) ([]model.SectorVector, vector.Vector, error) {
	vecs := make([]model.SectorVector, len(sectors))
	ectx, cancel := context.WithTimeout(ctx, e.opts.EmbedTimeout)
	defer cancel()

	g, gctx := errgroup.WithContext(ectx)
	for i, sec := range sectors {
		g.Go(func() error {
			v, err := embedding.EmbedLong(gctx, e.embedder, content, sec, e.opts.Chunking)
			if err != nil {
				return embedError(sec, err)
			}
			vecs[i] = model.SectorVector{Sector: sec, Vector: v}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, nil, err
	}

	mean, err := e.meanVector(vecs)
	if err != nil {
		return nil, nil, err
	}
	return vecs, mean, nil
}

// meanVector weights each sector vector by its sector weight. Salience is a
// common factor across a memory's vectors and drops out on normalisation.
func (e *Engine) meanVector(vecs []model.SectorVector) (vector.Vector, error) {
	vs := make([]vector.Vector, len(vecs))
	ws := make([]float64, len(vecs))
	for i, sv := range vecs {
		vs[i] = sv.Vector
		ws[i] = 1
		if cfg, ok := e.opts.Sectors[sv.Sector]; ok && cfg.Weight > 0 {
			ws[i] = cfg.Weight
		}
	}
	mean, err := vector.WeightedMean(vs, ws)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", model.ErrDimensionMismatch, err)
	}
	return mean, nil
}

// link connects mem to its most similar recent memory of the same owner in
// a shared sector.
func (e *Engine) link(ctx context.Context, mem *model.Memory) (*model.Waypoint, error) {
	refs, err := e.st.RecentMeans(ctx, store.MeanQuery{
		Owner:   mem.Owner,
		Sectors: mem.SectorSet(),
		Limit:   e.opts.LinkSample + 1,
	})
	if err != nil {
		return nil, err
	}
	cands := make([]graph.Candidate, 0, len(refs))
	for _, r := range refs {
		if r.ID != mem.ID {
			cands = append(cands, graph.Candidate{ID: r.ID, Mean: r.Mean})
		}
	}
	return e.graph.LinkBest(ctx, mem.ID, mem.MeanVector, cands, e.opts.Now())
}

// Get returns a memory by id.
func (e *Engine) Get(ctx context.Context, id string) (*model.Memory, error) {
	if m, ok := e.cachedMemory(id); ok {
		cp := *m
		return &cp, nil
	}
	gen := e.gens.current(id)
	m, err := e.st.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	cp := *m
	e.cacheMemory(&cp, gen)
	return m, nil
}

// UpdateParams is a partial edit. Metadata is merged into the existing map.
type UpdateParams struct {
	Content  *string
	Tags     *[]string
	Metadata map[string]any
}

// Update edits a memory. Content or sector changes re-embed and relink it.
func (e *Engine) Update(ctx context.Context, id string, p UpdateParams) (*model.Memory, error) {
	unlock := e.locks.lock(id)
	defer unlock()
	defer e.forget(id)

	cur, err := e.st.Get(ctx, id)
	if err != nil {
		return nil, err
	}

	patch := store.UpdateParams{Now: e.opts.Now()}
	if p.Tags != nil {
		tags := dedupe(*p.Tags)
		patch.Tags = &tags
	}

	meta := cur.Metadata
	if p.Metadata != nil {
		extra, err := model.NormalizeMetadata(p.Metadata)
		if err != nil {
			return nil, err
		}
		meta = meta.Merge(extra)
		patch.Metadata = meta
	}

	content := cur.Content
	if p.Content != nil {
		content = *p.Content
		if strings.TrimSpace(content) == "" {
			return nil, fmt.Errorf("%w: content is empty", model.ErrInvalidQuery)
		}
		patch.Content = &content
	}

	oldOverride, _ := cur.Metadata.Sector()
	newOverride, _ := meta.Sector()
	reembed := content != cur.Content || oldOverride != newOverride
	if reembed {
		cls := e.classifier.Classify(content, meta)
		vecs, mean, err := e.embedSectors(ctx, content, cls.Sectors())
		if err != nil {
			return nil, err
		}
		patch.Vectors = vecs
		patch.Mean = mean
		lambda := e.lambdaFor(cls.Primary, meta)
		patch.DecayLambda = &lambda
	} else if l, ok := meta.Float(model.MetaDecayLambda); ok && l != cur.DecayLambda {
		patch.DecayLambda = &l
	}

	mem, err := e.st.Update(ctx, id, patch)
	if err != nil {
		return nil, fmt.Errorf("update memory: %w", err)
	}
	if reembed {
		if _, err := e.link(ctx, mem); err != nil {
			e.log.Warn("relink updated memory", "id", id, "error", err)
		}
	}
	return mem, nil
}

// Delete hard-deletes a memory with its vectors and waypoints.
func (e *Engine) Delete(ctx context.Context, id string) error {
	unlock := e.locks.lock(id)
	defer unlock()
	defer e.forget(id)
	return e.st.Delete(ctx, id)
}

// Reinforce brings a memory's salience current and adds boost (the default
// reinforcement when boost is 0). It counts as an access.
func (e *Engine) Reinforce(ctx context.Context, id string, boost float64) (*model.Memory, error) {
	if boost < 0 {
		return nil, fmt.Errorf("%w: boost must not be negative", model.ErrInvalidQuery)
	}
	if boost == 0 {
		boost = e.opts.ReinforceBoost
	}
	return e.reinforce(ctx, id, boost, true)
}

func (e *Engine) reinforce(ctx context.Context, id string, boost float64, access bool) (*model.Memory, error) {
	unlock := e.locks.lock(id)
	defer unlock()
	defer e.forget(id)

	m, err := e.st.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	now := e.opts.Now()
	m.Salience = decay.Reinforce(e.decay.Memory(m, now), boost)
	m.DecayedAt = now
	p := store.SalienceParams{ID: id, Salience: m.Salience, DecayedAt: now}
	if access {
		m.LastSeenAt = now
		p.LastSeenAt = now
	}
	if err := e.st.SetSalience(ctx, p); err != nil {
		return nil, err
	}
	return m, nil
}

// Link sets a manual waypoint from src to dst.
func (e *Engine) Link(ctx context.Context, src, dst string, weight float64) (*model.Waypoint, error) {
	if weight <= 0 || weight > 1 {
		return nil, fmt.Errorf("%w: weight must be in (0,1]", model.ErrInvalidQuery)
	}
	return e.graph.Link(ctx, src, dst, weight, e.opts.Now())
}

// Graph returns the waypoint neighbourhood of a memory.
func (e *Engine) Graph(ctx context.Context, id string, depth int) (*graph.Subgraph, error) {
	return e.graph.Neighborhood(ctx, id, depth)
}

// Summary returns the rolling digest of an owner.
func (e *Engine) Summary(ctx context.Context, owner string) (*model.UserSummary, error) {
	return e.st.GetSummary(ctx, owner)
}

// Stats reports repository statistics.
func (e *Engine) Stats(ctx context.Context) (*store.Stats, error) {
	return e.st.Stats(ctx)
}

func dedupe(tags []string) []string {
	if len(tags) == 0 {
		return nil
	}
	seen := make(map[string]bool, len(tags))
	out := make([]string, 0, len(tags))
	for _, t := range tags {
		if strings.TrimSpace(t) == "" || seen[t] {
			continue
		}
		seen[t] = true
		out = append(out, t)
	}
	return out
}
