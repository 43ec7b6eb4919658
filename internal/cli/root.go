// Package cli implements the sector-memory CLI commands.
package cli

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/rcliao/sector-memory/internal/config"
	"github.com/rcliao/sector-memory/internal/embedding"
	"github.com/rcliao/sector-memory/internal/engine"
	"github.com/rcliao/sector-memory/internal/model"
	"github.com/rcliao/sector-memory/internal/store"
)

var (
	dbPath     string
	configPath string
	verbose    bool
)

// RootCmd is the top-level command.
var RootCmd = &cobra.Command{
	Use:   "sector-memory",
	Short: "Sector-based cognitive memory for agents",
	Long: "Stores memories across semantic, episodic, procedural, emotional and reflective " +
		"sectors, retrieves them by composite score and lets them fade or strengthen over time.",
}

func init() {
	RootCmd.PersistentFlags().StringVarP(&dbPath, "db", "d", "", "Database path (default: $SECTOR_MEMORY_DB or the config value)")
	RootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "Config file (default: $SECTOR_MEMORY_CONFIG or ~/.sector-memory/config.yaml)")
	RootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Debug logging on stderr")
}

func getConfigPath() string {
	if configPath != "" {
		return configPath
	}
	return config.DefaultPath()
}

func loadConfig() *config.Config {
	cfg, err := config.LoadConfig(getConfigPath())
	if err != nil {
		exitErr("load config", err)
	}
	if dbPath != "" {
		cfg.DB = dbPath
	}
	return cfg
}

func newLogger() *slog.Logger {
	level := slog.LevelWarn
	if verbose {
		level = slog.LevelDebug
	}
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
}

// app is an opened store plus the engine running on it.
type app struct {
	cfg   *config.Config
	store *store.SQLiteStore
	eng   *engine.Engine
	log   *slog.Logger
}

func openApp() *app {
	cfg := loadConfig()
	log := newLogger()

	s, err := store.NewSQLiteStore(cfg.DB, store.WithDelegateThreshold(cfg.DelegateThreshold), store.WithLogger(log))
	if err != nil {
		exitErr("open store", err)
	}
	emb, err := embedding.New(cfg.EmbeddingSettings())
	if err != nil {
		s.Close()
		exitErr("embedding provider", err)
	}
	eng, err := engine.New(s, emb, cfg.EngineOptions(log))
	if err != nil {
		s.Close()
		exitErr("start engine", err)
	}
	return &app{cfg: cfg, store: s, eng: eng, log: log}
}

func (a *app) Close() {
	a.eng.Close()
	a.store.Close()
}

func printJSON(v any) {
	b, _ := json.MarshalIndent(v, "", "  ")
	fmt.Println(string(b))
}

// readContent joins the positional args or, with none, reads piped stdin.
func readContent(args []string) string {
	if len(args) > 0 {
		return strings.Join(args, " ")
	}
	stat, _ := os.Stdin.Stat()
	if (stat.Mode() & os.ModeCharDevice) == 0 {
		b, err := io.ReadAll(os.Stdin)
		if err != nil {
			exitErr("read stdin", err)
		}
		return string(b)
	}
	return ""
}

func splitTags(s string) []string {
	var tags []string
	for _, t := range strings.Split(s, ",") {
		if t = strings.TrimSpace(t); t != "" {
			tags = append(tags, t)
		}
	}
	return tags
}

func parseMeta(s string) map[string]any {
	if s == "" {
		return nil
	}
	var m map[string]any
	if err := json.Unmarshal([]byte(s), &m); err != nil {
		exitErr("parse --meta", err)
	}
	return m
}

func parseSectors(ss []string) []model.Sector {
	out := make([]model.Sector, 0, len(ss))
	for _, s := range ss {
		sec, err := model.ParseSector(strings.TrimSpace(s))
		if err != nil {
			exitErr("parse sector", err)
		}
		out = append(out, sec)
	}
	return out
}

// exit codes: 1 generic, 2 invalid input, 3 not found, 4 unavailable.
func exitCode(err error) int {
	switch {
	case errors.Is(err, model.ErrInvalidQuery), errors.Is(err, model.ErrDimensionMismatch):
		return 2
	case errors.Is(err, model.ErrNotFound):
		return 3
	case errors.Is(err, model.ErrEmbeddingUnavailable), errors.Is(err, model.ErrRateLimited):
		return 4
	default:
		return 1
	}
}

func exitErr(msg string, err error) {
	fmt.Fprintf(os.Stderr, "error: %s: %v\n", msg, err)
	os.Exit(exitCode(err))
}
