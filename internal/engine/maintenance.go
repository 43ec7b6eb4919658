package engine

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/rcliao/sector-memory/internal/decay"
	"github.com/rcliao/sector-memory/internal/graph"
	"github.com/rcliao/sector-memory/internal/model"
	"github.com/rcliao/sector-memory/internal/store"
	"github.com/rcliao/sector-memory/internal/text"
	"github.com/rcliao/sector-memory/internal/vector"
)

const sweepPage = 500

// DecayReport summarises a decay sweep.
type DecayReport struct {
	Scanned int `json:"scanned"`
	Decayed int `json:"decayed"`
	Cooled  int `json:"cooled"`
	Warmed  int `json:"warmed"`
	Errors  int `json:"errors"`
}

// RunDecaySweep persists decayed salience for every memory as of now and
// moves memories across the cold threshold. Running it twice with the same
// now changes nothing the second time.
func (e *Engine) RunDecaySweep(ctx context.Context, now time.Time) (*DecayReport, error) {
	rep := &DecayReport{}
	for offset := 0; ; offset += sweepPage {
		page, err := e.st.Scan(ctx, store.ScanParams{Limit: sweepPage, Offset: offset})
		if err != nil {
			return rep, fmt.Errorf("decay sweep: %w", err)
		}
		for _, m := range page {
			rep.Scanned++
			if err := e.decayOne(ctx, m.ID, now, rep); err != nil {
				rep.Errors++
				e.log.Warn("decay memory", "id", m.ID, "error", err)
			}
		}
		if len(page) < sweepPage {
			break
		}
	}
	e.log.Info("decay sweep", "scanned", rep.Scanned, "decayed", rep.Decayed,
		"cooled", rep.Cooled, "warmed", rep.Warmed, "errors", rep.Errors)
	return rep, nil
}

func (e *Engine) decayOne(ctx context.Context, id string, now time.Time, rep *DecayReport) error {
	unlock := e.locks.lock(id)
	defer unlock()
	defer e.forget(id)

	// re-read under the lock so a concurrent reinforcement is not lost
	m, err := e.st.Get(ctx, id)
	if err != nil {
		return err
	}
	salience := m.Salience
	if decay.Days(m.DecayAnchor(), now) > 0 {
		salience = e.decay.Memory(m, now)
		if err := e.st.SetSalience(ctx, store.SalienceParams{ID: id, Salience: salience, DecayedAt: now}); err != nil {
			return err
		}
		if salience != m.Salience {
			rep.Decayed++
		}
	}

	switch cold := salience < e.opts.ColdThreshold; {
	case cold && !m.Cold:
		vecs, err := e.st.Vectors(ctx, id)
		if err != nil {
			return err
		}
		comp := make([]model.SectorVector, len(vecs))
		for i, sv := range vecs {
			comp[i] = model.SectorVector{Sector: sv.Sector, Compressed: vector.Compress(sv.Vector, e.opts.CompressedDims)}
		}
		if err := e.st.SetCold(ctx, id, true, comp); err != nil {
			return err
		}
		rep.Cooled++
	case !cold && m.Cold:
		if err := e.st.SetCold(ctx, id, false, nil); err != nil {
			return err
		}
		rep.Warmed++
	}
	return nil
}

// PruneWaypoints removes weak and dangling waypoints.
func (e *Engine) PruneWaypoints(ctx context.Context) (graph.PruneResult, error) {
	res, err := e.graph.Prune(ctx)
	if err != nil {
		return res, err
	}
	e.log.Info("prune waypoints", "weak", res.Weak, "dangling", res.Dangling)
	return res, nil
}

// ReflectionReport summarises a reflection run.
type ReflectionReport struct {
	Scanned      int      `json:"scanned"`
	Clusters     int      `json:"clusters"`
	Created      []string `json:"created,omitempty"`
	Consolidated int      `json:"consolidated"`
	Errors       int      `json:"errors"`
}

// RunReflection clusters memories created within the reflection window by
// mean-vector similarity, per owner and primary sector. Each cluster large
// enough becomes one reflective memory; the originals are marked consolidated
// and slightly boosted. Consolidated memories are never clustered again.
func (e *Engine) RunReflection(ctx context.Context, now time.Time) (*ReflectionReport, error) {
	refs, err := e.st.RecentMeans(ctx, store.MeanQuery{
		AnyOwner:       true,
		Since:          now.Add(-e.opts.ReflectionWindow),
		Unconsolidated: true,
	})
	if err != nil {
		return nil, fmt.Errorf("reflection: %w", err)
	}

	type groupKey struct {
		owner  string
		sector model.Sector
	}
	groups := make(map[groupKey][]store.MeanRef)
	var keys []groupKey
	for _, r := range refs {
		if r.Primary == model.Reflective {
			continue
		}
		k := groupKey{r.Owner, r.Primary}
		if _, ok := groups[k]; !ok {
			keys = append(keys, k)
		}
		groups[k] = append(groups[k], r)
	}
	sort.Slice(keys, func(i, j int) bool {
		if keys[i].owner != keys[j].owner {
			return keys[i].owner < keys[j].owner
		}
		return keys[i].sector < keys[j].sector
	})

	rep := &ReflectionReport{Scanned: len(refs)}
	for _, k := range keys {
		for _, cluster := range e.cluster(groups[k]) {
			rep.Clusters++
			id, err := e.consolidate(ctx, k.owner, k.sector, cluster, now)
			if err != nil {
				rep.Errors++
				e.log.Warn("consolidate cluster", "owner", k.owner, "sector", k.sector, "error", err)
				continue
			}
			rep.Created = append(rep.Created, id)
			rep.Consolidated += len(cluster)
		}
	}
	e.log.Info("reflection", "scanned", rep.Scanned, "clusters", rep.Clusters,
		"consolidated", rep.Consolidated, "errors", rep.Errors)
	return rep, nil
}

// cluster groups refs greedily, oldest first: each unassigned memory seeds a
// cluster and pulls in every unassigned memory similar enough to it.
func (e *Engine) cluster(refs []store.MeanRef) [][]store.MeanRef {
	sort.Slice(refs, func(i, j int) bool { return refs[i].ID < refs[j].ID })
	used := make([]bool, len(refs))
	var out [][]store.MeanRef
	for i := range refs {
		if used[i] {
			continue
		}
		used[i] = true
		c := []store.MeanRef{refs[i]}
		for j := i + 1; j < len(refs); j++ {
			if !used[j] && vector.Cosine(refs[i].Mean, refs[j].Mean) >= e.opts.ReflectionSimilarity {
				used[j] = true
				c = append(c, refs[j])
			}
		}
		if len(c) >= e.opts.ReflectionMinCluster {
			out = append(out, c)
		}
	}
	return out
}

func (e *Engine) consolidate(ctx context.Context, owner string, sec model.Sector, cluster []store.MeanRef, now time.Time) (string, error) {
	ids := make([]string, len(cluster))
	parts := make([]string, len(cluster))
	for i, r := range cluster {
		ids[i] = r.ID
		parts[i] = text.Snippet(r.Content, 160)
	}
	content := fmt.Sprintf("Reflection on %d related %s memories: %s", len(cluster), sec, strings.Join(parts, "; "))

	res, err := e.Add(ctx, AddParams{
		Content: content,
		Tags:    []string{"reflection"},
		Owner:   owner,
		Metadata: map[string]any{
			model.MetaSector:    string(model.Reflective),
			model.MetaSourceIDs: ids,
		},
	})
	if err != nil {
		return "", err
	}
	reflID := res.Memory.ID

	err = e.st.MarkConsolidated(ctx, ids, reflID)
	e.forget(ids...)
	if err != nil {
		return reflID, err
	}
	for _, id := range ids {
		if _, err := e.reinforce(ctx, id, e.opts.ReflectionBoost, false); err != nil {
			e.log.Warn("boost consolidated memory", "id", id, "error", err)
		}
	}
	if owner != "" {
		if err := e.st.AddReflections(ctx, owner, 1, now); err != nil {
			return reflID, err
		}
	}
	return reflID, nil
}

// RefreshUserSummaries rebuilds the digest of every owner active within the
// summary window. It returns the number of summaries written.
func (e *Engine) RefreshUserSummaries(ctx context.Context, now time.Time) (int, error) {
	owners, err := e.st.ListOwners(ctx, now.Add(-e.opts.SummaryWindow))
	if err != nil {
		return 0, fmt.Errorf("refresh summaries: %w", err)
	}
	n := 0
	for _, owner := range owners {
		recent, err := e.st.Scan(ctx, store.ScanParams{Owner: owner, Limit: e.opts.SummarySize, Newest: true})
		if err != nil {
			e.log.Warn("load recent memories", "owner", owner, "error", err)
			continue
		}
		err = e.st.UpsertSummary(ctx, model.UserSummary{Owner: owner, Summary: digest(recent), UpdatedAt: now})
		if err != nil {
			e.log.Warn("write summary", "owner", owner, "error", err)
			continue
		}
		n++
	}
	e.log.Info("refresh summaries", "owners", len(owners), "written", n)
	return n, nil
}

// digest is an extractive summary: sector counts plus the newest snippets.
func digest(recent []model.Memory) string {
	if len(recent) == 0 {
		return ""
	}
	counts := make(map[model.Sector]int)
	for _, m := range recent {
		counts[m.PrimarySector]++
	}
	var mix []string
	for _, s := range model.Sectors {
		if counts[s] > 0 {
			mix = append(mix, fmt.Sprintf("%s %d", s, counts[s]))
		}
	}

	var b strings.Builder
	fmt.Fprintf(&b, "%d recent memories (%s).", len(recent), strings.Join(mix, ", "))
	for i, m := range recent {
		if i == 5 {
			break
		}
		b.WriteString("\n- ")
		b.WriteString(text.Snippet(m.Content, 120))
	}
	return b.String()
}
