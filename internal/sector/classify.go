package sector

import (
	"math"
	"sort"

	"github.com/rcliao/sector-memory/internal/model"
)

// AdditionalRatio is the fraction of the primary score a sector needs to be
// listed as additional.
const AdditionalRatio = 0.3

// Classification is the result of classifying a piece of text.
type Classification struct {
	Primary    model.Sector   `json:"primary"`
	Additional []model.Sector `json:"additional,omitempty"`
	Confidence float64        `json:"confidence"`
}

// Sectors returns primary followed by additional.
func (c Classification) Sectors() []model.Sector {
	return append([]model.Sector{c.Primary}, c.Additional...)
}

// Classifier scores text against the sector pattern table.
type Classifier struct {
	configs map[model.Sector]Config
}

// NewClassifier creates a classifier; nil configs means Defaults().
func NewClassifier(configs map[model.Sector]Config) *Classifier {
	if configs == nil {
		configs = Defaults()
	}
	return &Classifier{configs: configs}
}

// Config returns the configuration of s.
func (c *Classifier) Config(s model.Sector) (Config, bool) {
	cfg, ok := c.configs[s]
	return cfg, ok
}

// Scores returns the weighted pattern score for every sector.
func (c *Classifier) Scores(text string) map[model.Sector]float64 {
	scores := make(map[model.Sector]float64, len(c.configs))
	for s, cfg := range c.configs {
		var sum float64
		for _, pat := range cfg.Patterns {
			if n := len(pat.Re.FindAllStringIndex(text, -1)); n > 0 {
				sum += pat.Weight * float64(n)
			}
		}
		scores[s] = sum * cfg.Weight
	}
	return scores
}

// Classify maps text to a primary sector plus any strong secondary sectors.
// An explicit "sector" in meta always wins with confidence 1.
func (c *Classifier) Classify(text string, meta model.Metadata) Classification {
	if s, ok := meta.Sector(); ok {
		return Classification{Primary: s, Confidence: 1.0}
	}

	scores := c.Scores(text)
	ranked := make([]model.Sector, 0, len(scores))
	for _, s := range model.Sectors {
		if scores[s] > 0 {
			ranked = append(ranked, s)
		}
	}
	if len(ranked) == 0 {
		return Classification{Primary: model.Semantic, Confidence: 0}
	}
	// stable keeps canonical sector order on ties
	sort.SliceStable(ranked, func(i, j int) bool {
		return scores[ranked[i]] > scores[ranked[j]]
	})

	primary := ranked[0]
	top := scores[primary]
	out := Classification{
		Primary:    primary,
		Confidence: 1 - math.Exp(-top),
	}
	for _, s := range ranked[1:] {
		if scores[s] >= AdditionalRatio*top {
			out.Additional = append(out.Additional, s)
		}
	}
	return out
}
