package decay

import (
	"math"
	"math/rand"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/rcliao/sector-memory/internal/model"
	"github.com/rcliao/sector-memory/internal/sector"
)

func TestApply(t *testing.T) {
	got := Apply(0.02, 0.8, 90, 0)
	assert.InDelta(t, 0.8*math.Exp(-1.8), got, 1e-9)

	withAlpha := Apply(0.02, 0.8, 90, DefaultAlpha)
	assert.InDelta(t, 0.8*math.Exp(-1.8), withAlpha, 1e-3)
}

func TestApply_ZeroElapsedIsIdentity(t *testing.T) {
	assert.Equal(t, 0.42, Apply(0.02, 0.42, 0, DefaultAlpha))
	assert.Equal(t, 0.42, Apply(0.02, 0.42, -3, DefaultAlpha))
}

func TestApply_NeverRaises(t *testing.T) {
	// below alpha the floor term would otherwise push salience up
	assert.Equal(t, 0.0001, Apply(0.02, 0.0001, 50, 0.01))
}

func TestOrdering(t *testing.T) {
	m := NewModel(sector.Lambdas(sector.Defaults()))
	order := []model.Sector{model.Emotional, model.Episodic, model.Procedural, model.Semantic, model.Reflective}
	r := rand.New(rand.NewSource(7))
	for i := 0; i < 200; i++ {
		s := r.Float64()
		d := r.Float64() * 365
		for j := 0; j+1 < len(order); j++ {
			assert.LessOrEqual(t, m.Decayed(order[j], s, d), m.Decayed(order[j+1], s, d),
				"%s vs %s at s=%f d=%f", order[j], order[j+1], s, d)
		}
	}
}

func TestSalienceBounds(t *testing.T) {
	m := NewModel(sector.Lambdas(sector.Defaults()))
	r := rand.New(rand.NewSource(11))
	s := 0.5
	for i := 0; i < 1000; i++ {
		if r.Intn(2) == 0 {
			s = m.Decayed(model.Sectors[r.Intn(len(model.Sectors))], s, r.Float64()*100)
		} else {
			s = Reinforce(s, r.Float64())
		}
		assert.GreaterOrEqual(t, s, 0.0)
		assert.LessOrEqual(t, s, 1.0)
	}
}

func TestMemoryUsesAnchor(t *testing.T) {
	m := NewModel(sector.Lambdas(sector.Defaults()))
	seen := time.UnixMilli(1_700_000_000_000)
	mem := &model.Memory{PrimarySector: model.Emotional, Salience: 1, DecayLambda: 0.02, LastSeenAt: seen}

	now := seen.Add(90 * 24 * time.Hour)
	assert.InDelta(t, math.Exp(-1.8), m.Memory(mem, now), 1e-3)

	mem.DecayedAt = now
	assert.Equal(t, 1.0, m.Memory(mem, now))
}

func TestDaysAndRecency(t *testing.T) {
	a := time.Unix(0, 0)
	assert.InDelta(t, 1.5, Days(a, a.Add(36*time.Hour)), 1e-9)
	assert.Equal(t, 0.0, Days(a.Add(time.Hour), a))
	assert.Equal(t, 1.0, Recency(0))
	assert.InDelta(t, math.Exp(-1), Recency(7), 1e-12)
}
