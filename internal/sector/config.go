// Package sector holds the per-sector configuration and the text classifier.
package sector

import (
	"regexp"

	"github.com/rcliao/sector-memory/internal/model"
)

// Pattern is one weighted classification rule.
type Pattern struct {
	Re     *regexp.Regexp
	Weight float64
}

// Config is the static configuration of one sector.
type Config struct {
	Sector      model.Sector
	DecayLambda float64
	Weight      float64
	Patterns    []Pattern
}

func p(expr string, w float64) Pattern {
	return Pattern{Re: regexp.MustCompile(`(?i)` + expr), Weight: w}
}

// Defaults returns the built-in sector table. Decay lambdas keep the ordering
// emotional > episodic > procedural > semantic > reflective.
func Defaults() map[model.Sector]Config {
	return map[model.Sector]Config{
		model.Semantic: {
			Sector:      model.Semantic,
			DecayLambda: 0.005,
			Weight:      1.0,
			Patterns: []Pattern{
				p(`\b(define|definition|defined as|means|meaning|refers to|known as)\b`, 1.0),
				p(`\b(fact|facts|concept|theory|principle|knowledge|information)\b`, 0.8),
				p(`\b(is a|is an|are a|consists of|stands for)\b`, 0.5),
			},
		},
		model.Episodic: {
			Sector:      model.Episodic,
			DecayLambda: 0.015,
			Weight:      1.2,
			Patterns: []Pattern{
				p(`\b(today|yesterday|tonight|this morning|last (night|week|month|year))\b`, 1.0),
				p(`\b(remember when|happened|went|visited|met|attended|ago)\b`, 0.9),
				p(`\b(meeting|event|trip|conversation|session)\b`, 0.5),
				p(`\b(on (monday|tuesday|wednesday|thursday|friday|saturday|sunday))\b`, 0.7),
			},
		},
		model.Procedural: {
			Sector:      model.Procedural,
			DecayLambda: 0.008,
			Weight:      1.1,
			Patterns: []Pattern{
				p(`\b(how to|step by step|steps?|instructions?|procedure|workflow)\b`, 1.0),
				p(`\b(install|configure|setup|set up|deploy|build|compile|execute)\b`, 0.8),
				p(`\b(first|then|next|finally|afterwards)\b`, 0.4),
				p(`\b(run|click|type|press|open)\b`, 0.4),
			},
		},
		model.Emotional: {
			Sector:      model.Emotional,
			DecayLambda: 0.020,
			Weight:      1.3,
			Patterns: []Pattern{
				p(`\b(feel|feels|feeling|felt|emotion|mood)\b`, 1.0),
				p(`\b(happy|sad|angry|excited|anxious|afraid|scared|frustrated|upset|worried|proud|grateful)\b`, 0.9),
				p(`\b(love|loved|hate|hated|adore|dread)\b`, 0.8),
				p(`!{2,}`, 0.3),
			},
		},
		model.Reflective: {
			Sector:      model.Reflective,
			DecayLambda: 0.001,
			Weight:      0.8,
			Patterns: []Pattern{
				p(`\b(realize|realized|realise|realised|insight|lesson|learned|learnt)\b`, 1.0),
				p(`\b(reflect|reflection|in hindsight|looking back|takeaway)\b`, 1.0),
				p(`\b(pattern|tend to|i think|i believe|it seems)\b`, 0.5),
			},
		},
	}
}

// Lambdas extracts the decay table from configs.
func Lambdas(configs map[model.Sector]Config) map[model.Sector]float64 {
	out := make(map[model.Sector]float64, len(configs))
	for s, c := range configs {
		out[s] = c.DecayLambda
	}
	return out
}
