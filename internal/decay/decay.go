// Package decay implements time-based salience decay and reinforcement.
package decay

import (
	"math"
	"time"

	"github.com/rcliao/sector-memory/internal/model"
)

// DefaultAlpha is the passive reinforcement floor.
const DefaultAlpha = 0.0005

const day = 24 * time.Hour

// Model computes decayed salience using per-sector lambdas.
type Model struct {
	Alpha   float64
	Lambdas map[model.Sector]float64
}

// NewModel returns a Model with the given sector lambdas and DefaultAlpha.
func NewModel(lambdas map[model.Sector]float64) Model {
	return Model{Alpha: DefaultAlpha, Lambdas: lambdas}
}

// Lambda returns the decay rate of s, falling back to semantic.
func (m Model) Lambda(s model.Sector) float64 {
	if l, ok := m.Lambdas[s]; ok {
		return l
	}
	return m.Lambdas[model.Semantic]
}

// Decayed is decayed_salience(sector, s, days).
func (m Model) Decayed(s model.Sector, salience, days float64) float64 {
	return Apply(m.Lambda(s), salience, days, m.Alpha)
}

// Memory returns the current salience of mem at now, using its own lambda.
func (m Model) Memory(mem *model.Memory, now time.Time) float64 {
	lambda := mem.DecayLambda
	if lambda <= 0 {
		lambda = m.Lambda(mem.PrimarySector)
	}
	return Apply(lambda, mem.Salience, Days(mem.DecayAnchor(), now), m.Alpha)
}

// Apply computes s·e^(−λd) + α(1 − e^(−λd)), never above s, clamped to [0,1].
func Apply(lambda, salience, days, alpha float64) float64 {
	salience = model.Clamp01(salience)
	if days <= 0 || lambda <= 0 {
		return salience
	}
	f := math.Exp(-lambda * days)
	v := salience*f + alpha*(1-f)
	if v > salience {
		v = salience
	}
	return model.Clamp01(v)
}

// Reinforce adds boost to salience, capped at 1.
func Reinforce(salience, boost float64) float64 {
	return model.Clamp01(salience + boost)
}

// Days is the elapsed time from..to in fractional days; negative spans are zero.
func Days(from, to time.Time) float64 {
	if from.IsZero() || !to.After(from) {
		return 0
	}
	return float64(to.Sub(from)) / float64(day)
}

// Recency is e^(−days/7), the recency factor used in query scoring.
func Recency(days float64) float64 {
	if days < 0 {
		days = 0
	}
	return math.Exp(-days / 7)
}
