// Package config loads the sector-memory YAML configuration.
package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/rcliao/sector-memory/internal/embedding"
	"github.com/rcliao/sector-memory/internal/engine"
	"github.com/rcliao/sector-memory/internal/model"
	"github.com/rcliao/sector-memory/internal/sector"
	"github.com/rcliao/sector-memory/internal/vector"
)

// Environment overrides.
const (
	EnvDB            = "SECTOR_MEMORY_DB"
	EnvConfig        = "SECTOR_MEMORY_CONFIG"
	EnvTier          = "SECTOR_MEMORY_TIER"
	EnvEmbedProvider = "SECTOR_MEMORY_EMBED_PROVIDER"
	EnvEmbedModel    = "SECTOR_MEMORY_EMBED_MODEL"
	EnvEmbedURL      = "SECTOR_MEMORY_EMBED_URL"
)

// Duration is a time.Duration written as a string such as "24h".
type Duration time.Duration

func (d Duration) MarshalYAML() (any, error) {
	return time.Duration(d).String(), nil
}

func (d *Duration) UnmarshalYAML(n *yaml.Node) error {
	var s string
	if err := n.Decode(&s); err != nil {
		return err
	}
	v, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("line %d: %w", n.Line, err)
	}
	*d = Duration(v)
	return nil
}

func (d Duration) D() time.Duration { return time.Duration(d) }

type EmbeddingConfig struct {
	Provider string `yaml:"provider"` // synthetic | ollama | openai
	Model    string `yaml:"model,omitempty"`
	URL      string `yaml:"url,omitempty"`
	APIKey   string `yaml:"api_key,omitempty"`
	// Dims overrides the tier dimension.
	Dims    int      `yaml:"dims,omitempty"`
	Timeout Duration `yaml:"timeout"`
}

type QueryConfig struct {
	KeywordBoost       bool           `yaml:"keyword_boost"`
	ExpansionThreshold float64        `yaml:"expansion_threshold"`
	ExpansionHops      int            `yaml:"expansion_hops"`
	MaxInFlight        int            `yaml:"max_in_flight,omitempty"`
	Weights            engine.Weights `yaml:"weights"`
}

type DecayConfig struct {
	Alpha          float64            `yaml:"alpha"`
	ColdThreshold  float64            `yaml:"cold_threshold"`
	CompressedDims int                `yaml:"compressed_dims"`
	Lambdas        map[string]float64 `yaml:"lambdas,omitempty"`
}

type GraphConfig struct {
	LinkThreshold float64 `yaml:"link_threshold"`
	LinkSample    int     `yaml:"link_sample"`
	PruneFloor    float64 `yaml:"prune_floor"`
}

type ReflectionConfig struct {
	Enabled    bool     `yaml:"enabled"`
	Window     Duration `yaml:"window"`
	Similarity float64  `yaml:"similarity"`
	MinCluster int      `yaml:"min_cluster"`
}

type SummaryConfig struct {
	Window Duration `yaml:"window"`
	Size   int      `yaml:"size"`
}

// ScheduleConfig holds maintenance cadences; zero disables a job.
type ScheduleConfig struct {
	Decay      Duration `yaml:"decay"`
	Prune      Duration `yaml:"prune"`
	Reflection Duration `yaml:"reflection"`
	Summaries  Duration `yaml:"summaries"`
}

type Config struct {
	DB        string          `yaml:"db"`
	Tier      string          `yaml:"tier"`
	Embedding EmbeddingConfig `yaml:"embedding"`
	Query     QueryConfig     `yaml:"query"`
	Decay     DecayConfig     `yaml:"decay"`
	Graph     GraphConfig     `yaml:"graph"`
	// DelegateThreshold is the sector size at which nearest-neighbour search
	// moves to the chromem-go index.
	DelegateThreshold int              `yaml:"delegate_threshold"`
	Reflection        ReflectionConfig `yaml:"reflection"`
	Summaries         SummaryConfig    `yaml:"summaries"`
	Schedule          ScheduleConfig   `yaml:"schedule"`
	CacheTTL          Duration         `yaml:"cache_ttl"`
}

// Dir is the default home of the database and config file.
func Dir() string {
	home, _ := os.UserHomeDir()
	return filepath.Join(home, ".sector-memory")
}

// DefaultPath is the config file location, honouring SECTOR_MEMORY_CONFIG.
func DefaultPath() string {
	if p := os.Getenv(EnvConfig); p != "" {
		return p
	}
	return filepath.Join(Dir(), "config.yaml")
}

func DefaultConfig() *Config {
	o := engine.DefaultOptions()
	return &Config{
		DB:   filepath.Join(Dir(), "memory.db"),
		Tier: string(engine.TierSmart),
		Embedding: EmbeddingConfig{
			Provider: "synthetic",
			Timeout:  Duration(o.EmbedTimeout),
		},
		Query: QueryConfig{
			ExpansionThreshold: o.ExpansionThreshold,
			ExpansionHops:      o.ExpansionHops,
			Weights:            o.Weights,
		},
		Decay: DecayConfig{
			Alpha:          o.DecayAlpha,
			ColdThreshold:  o.ColdThreshold,
			CompressedDims: o.CompressedDims,
		},
		Graph: GraphConfig{
			LinkThreshold: o.LinkThreshold,
			LinkSample:    o.LinkSample,
			PruneFloor:    o.PruneFloor,
		},
		DelegateThreshold: vector.DefaultDelegateThreshold,
		Reflection: ReflectionConfig{
			Window:     Duration(o.ReflectionWindow),
			Similarity: o.ReflectionSimilarity,
			MinCluster: o.ReflectionMinCluster,
		},
		Summaries: SummaryConfig{
			Window: Duration(o.SummaryWindow),
			Size:   o.SummarySize,
		},
		Schedule: ScheduleConfig{
			Decay:      Duration(24 * time.Hour),
			Prune:      Duration(7 * 24 * time.Hour),
			Reflection: Duration(10 * time.Minute),
			Summaries:  Duration(30 * time.Minute),
		},
		CacheTTL: Duration(o.CacheTTL),
	}
}

// LoadConfig reads path over the defaults. A missing file yields the
// defaults. Environment overrides are applied last.
func LoadConfig(path string) (*Config, error) {
	cfg := DefaultConfig()

	data, err := os.ReadFile(path)
	switch {
	case errors.Is(err, os.ErrNotExist):
	case err != nil:
		return nil, fmt.Errorf("read config: %w", err)
	default:
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config: %w", err)
		}
	}

	cfg.applyEnv()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func SaveConfig(path string, cfg *Config) error {
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create config dir: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("write config: %w", err)
	}
	return nil
}

func (c *Config) applyEnv() {
	set := func(dst *string, key string) {
		if v := os.Getenv(key); v != "" {
			*dst = v
		}
	}
	set(&c.DB, EnvDB)
	set(&c.Tier, EnvTier)
	set(&c.Embedding.Provider, EnvEmbedProvider)
	set(&c.Embedding.Model, EnvEmbedModel)
	set(&c.Embedding.URL, EnvEmbedURL)
}

// Validate rejects settings the engine cannot run with.
func (c *Config) Validate() error {
	if _, err := engine.ParseTier(c.Tier); err != nil {
		return fmt.Errorf("config: %w", err)
	}
	switch c.Embedding.Provider {
	case "", "synthetic", "ollama", "openai":
	default:
		return fmt.Errorf("config: unknown embedding provider %q", c.Embedding.Provider)
	}
	for name, l := range c.Decay.Lambdas {
		if _, err := model.ParseSector(name); err != nil {
			return fmt.Errorf("config: decay lambdas: %w", err)
		}
		if l <= 0 {
			return fmt.Errorf("config: decay lambda for %s must be positive", name)
		}
	}
	if c.Graph.LinkThreshold < 0 || c.Graph.LinkThreshold > 1 {
		return fmt.Errorf("config: link_threshold must be within [0,1]")
	}
	if c.Reflection.Similarity < 0 || c.Reflection.Similarity > 1 {
		return fmt.Errorf("config: reflection similarity must be within [0,1]")
	}
	return nil
}

// EmbeddingSettings selects the provider; dimension follows the tier unless
// set explicitly.
func (c *Config) EmbeddingSettings() embedding.Settings {
	dims := c.Embedding.Dims
	if dims <= 0 {
		dims = engine.Tiers[engine.Tier(c.Tier)].Dims
	}
	return embedding.Settings{
		Provider: c.Embedding.Provider,
		Model:    c.Embedding.Model,
		URL:      c.Embedding.URL,
		APIKey:   c.Embedding.APIKey,
		Dims:     dims,
	}
}

// EngineOptions maps the file onto engine options.
func (c *Config) EngineOptions(log *slog.Logger) engine.Options {
	o := engine.DefaultOptions()
	o.Tier = engine.Tier(c.Tier)
	o.MaxInFlight = c.Query.MaxInFlight
	o.EmbedTimeout = c.Embedding.Timeout.D()

	o.KeywordBoost = c.Query.KeywordBoost
	o.ExpansionThreshold = c.Query.ExpansionThreshold
	o.ExpansionHops = c.Query.ExpansionHops
	o.Weights = c.Query.Weights

	o.DecayAlpha = c.Decay.Alpha
	o.ColdThreshold = c.Decay.ColdThreshold
	o.CompressedDims = c.Decay.CompressedDims
	if len(c.Decay.Lambdas) > 0 {
		sectors := sector.Defaults()
		for name, l := range c.Decay.Lambdas {
			s := model.Sector(name)
			cfg := sectors[s]
			cfg.DecayLambda = l
			sectors[s] = cfg
		}
		o.Sectors = sectors
	}

	o.LinkThreshold = c.Graph.LinkThreshold
	o.LinkSample = c.Graph.LinkSample
	o.PruneFloor = c.Graph.PruneFloor

	o.ReflectionWindow = c.Reflection.Window.D()
	o.ReflectionSimilarity = c.Reflection.Similarity
	o.ReflectionMinCluster = c.Reflection.MinCluster

	o.SummaryWindow = c.Summaries.Window.D()
	o.SummarySize = c.Summaries.Size
	o.CacheTTL = c.CacheTTL.D()
	o.Logger = log
	return o
}
