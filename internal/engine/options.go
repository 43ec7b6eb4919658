package engine

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/rcliao/sector-memory/internal/chunker"
	"github.com/rcliao/sector-memory/internal/decay"
	"github.com/rcliao/sector-memory/internal/graph"
	"github.com/rcliao/sector-memory/internal/model"
	"github.com/rcliao/sector-memory/internal/sector"
)

// Tier is a deployment performance tier.
type Tier string

const (
	TierFast  Tier = "fast"
	TierSmart Tier = "smart"
	TierDeep  Tier = "deep"
)

// TierSpec trades vector dimension for throughput.
type TierSpec struct {
	Dims        int `json:"dims" yaml:"dims"`
	MaxInFlight int `json:"max_in_flight" yaml:"max_in_flight"`
}

// Tiers lists the built-in tiers.
var Tiers = map[Tier]TierSpec{
	TierFast:  {Dims: 256, MaxInFlight: 32},
	TierSmart: {Dims: 384, MaxInFlight: 64},
	TierDeep:  {Dims: 1536, MaxInFlight: 128},
}

// ParseTier validates a tier name.
func ParseTier(s string) (Tier, error) {
	t := Tier(s)
	if _, ok := Tiers[t]; !ok {
		return "", fmt.Errorf("unknown tier %q (valid: fast, smart, deep)", s)
	}
	return t, nil
}

// Weights are the coefficients of the composite query score.
type Weights struct {
	Similarity float64 `yaml:"similarity"`
	Overlap    float64 `yaml:"overlap"`
	Waypoint   float64 `yaml:"waypoint"`
	Recency    float64 `yaml:"recency"`
	Keyword    float64 `yaml:"keyword"` // used only when KeywordBoost is on
}

// DefaultWeights sum to 1 without the keyword term.
func DefaultWeights() Weights {
	return Weights{Similarity: 0.6, Overlap: 0.2, Waypoint: 0.1, Recency: 0.1, Keyword: 0.15}
}

// Options configures an Engine. Zero fields take the defaults listed in
// DefaultOptions.
type Options struct {
	Tier        Tier
	MaxInFlight int // overrides the tier ceiling when > 0

	Sectors    map[model.Sector]sector.Config
	DecayAlpha float64

	InitialSalience float64
	EmbedTimeout    time.Duration
	Chunking        chunker.Options

	Weights      Weights
	KeywordBoost bool
	// ExpansionThreshold triggers waypoint expansion when the mean similarity
	// of the top candidates falls below it. Negative disables expansion.
	ExpansionThreshold float64
	ExpansionHops      int
	CandidateFactor    int // nearest pulls CandidateFactor*k per sector
	ExpansionFactor    int // expansion adds up to ExpansionFactor*k

	ReinforceBoost float64
	EdgeBoost      float64

	LinkThreshold float64
	LinkSample    int
	PruneFloor    float64

	ColdThreshold  float64
	CompressedDims int

	ReflectionWindow     time.Duration
	ReflectionSimilarity float64
	ReflectionMinCluster int
	ReflectionBoost      float64

	SummaryWindow time.Duration
	SummarySize   int

	CacheTTL time.Duration

	Logger *slog.Logger
	Now    func() time.Time
}

// DefaultOptions returns the default engine configuration.
func DefaultOptions() Options {
	return Options{
		Tier:                 TierSmart,
		Sectors:              sector.Defaults(),
		DecayAlpha:           decay.DefaultAlpha,
		InitialSalience:      0.5,
		EmbedTimeout:         10 * time.Second,
		Chunking:             chunker.DefaultOptions(),
		Weights:              DefaultWeights(),
		ExpansionThreshold:   0.55,
		ExpansionHops:        1,
		CandidateFactor:      3,
		ExpansionFactor:      2,
		ReinforceBoost:       0.1,
		EdgeBoost:            graph.DefaultReinforceDelta,
		LinkThreshold:        graph.DefaultLinkThreshold,
		LinkSample:           200,
		PruneFloor:           graph.DefaultPruneFloor,
		ColdThreshold:        0.1,
		CompressedDims:       64,
		ReflectionWindow:     24 * time.Hour,
		ReflectionSimilarity: 0.8,
		ReflectionMinCluster: 2,
		ReflectionBoost:      0.05,
		SummaryWindow:        24 * time.Hour,
		SummarySize:          20,
		CacheTTL:             60 * time.Second,
	}
}

func (o Options) withDefaults() Options {
	d := DefaultOptions()
	if o.Tier == "" {
		o.Tier = d.Tier
	}
	if o.MaxInFlight <= 0 {
		o.MaxInFlight = Tiers[o.Tier].MaxInFlight
	}
	if o.MaxInFlight <= 0 {
		o.MaxInFlight = Tiers[TierSmart].MaxInFlight
	}
	if o.Sectors == nil {
		o.Sectors = d.Sectors
	}
	if o.DecayAlpha <= 0 {
		o.DecayAlpha = d.DecayAlpha
	}
	if o.InitialSalience <= 0 {
		o.InitialSalience = d.InitialSalience
	}
	if o.EmbedTimeout <= 0 {
		o.EmbedTimeout = d.EmbedTimeout
	}
	if o.Chunking.TargetSize <= 0 {
		o.Chunking = d.Chunking
	}
	if o.Weights == (Weights{}) {
		o.Weights = d.Weights
	}
	if o.ExpansionThreshold == 0 {
		o.ExpansionThreshold = d.ExpansionThreshold
	}
	if o.ExpansionHops <= 0 {
		o.ExpansionHops = d.ExpansionHops
	}
	if o.CandidateFactor <= 0 {
		o.CandidateFactor = d.CandidateFactor
	}
	if o.ExpansionFactor <= 0 {
		o.ExpansionFactor = d.ExpansionFactor
	}
	if o.ReinforceBoost <= 0 {
		o.ReinforceBoost = d.ReinforceBoost
	}
	if o.EdgeBoost <= 0 {
		o.EdgeBoost = d.EdgeBoost
	}
	if o.LinkThreshold <= 0 {
		o.LinkThreshold = d.LinkThreshold
	}
	if o.LinkSample <= 0 {
		o.LinkSample = d.LinkSample
	}
	if o.PruneFloor <= 0 {
		o.PruneFloor = d.PruneFloor
	}
	if o.ColdThreshold <= 0 {
		o.ColdThreshold = d.ColdThreshold
	}
	if o.CompressedDims <= 0 {
		o.CompressedDims = d.CompressedDims
	}
	if o.ReflectionWindow <= 0 {
		o.ReflectionWindow = d.ReflectionWindow
	}
	if o.ReflectionSimilarity <= 0 {
		o.ReflectionSimilarity = d.ReflectionSimilarity
	}
	if o.ReflectionMinCluster < 2 {
		o.ReflectionMinCluster = d.ReflectionMinCluster
	}
	if o.ReflectionBoost <= 0 {
		o.ReflectionBoost = d.ReflectionBoost
	}
	if o.SummaryWindow <= 0 {
		o.SummaryWindow = d.SummaryWindow
	}
	if o.SummarySize <= 0 {
		o.SummarySize = d.SummarySize
	}
	if o.CacheTTL <= 0 {
		o.CacheTTL = d.CacheTTL
	}
	if o.Logger == nil {
		o.Logger = slog.Default()
	}
	if o.Now == nil {
		o.Now = func() time.Time { return time.Now().UTC() }
	}
	return o
}
