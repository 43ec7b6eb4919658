package cli

import (
	"fmt"
	"reflect"
	"testing"

	"github.com/rcliao/sector-memory/internal/model"
)

func TestSplitTags(t *testing.T) {
	got := splitTags(" a, b,,c ,")
	if want := []string{"a", "b", "c"}; !reflect.DeepEqual(got, want) {
		t.Errorf("expected %v, got %v", want, got)
	}
	if got := splitTags(""); got != nil {
		t.Errorf("expected nil, got %v", got)
	}
}

func TestExitCode(t *testing.T) {
	tests := []struct {
		err  error
		want int
	}{
		{fmt.Errorf("x: %w", model.ErrInvalidQuery), 2},
		{model.ErrDimensionMismatch, 2},
		{fmt.Errorf("get: %w", model.ErrNotFound), 3},
		{model.ErrRateLimited, 4},
		{model.ErrEmbeddingUnavailable, 4},
		{model.NewStorageError("add", fmt.Errorf("disk full")), 1},
	}
	for _, tt := range tests {
		if got := exitCode(tt.err); got != tt.want {
			t.Errorf("exitCode(%v) = %d, want %d", tt.err, got, tt.want)
		}
	}
}

func TestCommandsRegistered(t *testing.T) {
	want := []string{"add", "query", "get", "update", "rm", "reinforce", "link", "graph",
		"decay", "prune", "reflect", "summaries", "summary", "owners", "list", "stats",
		"export", "import", "context", "serve", "config"}
	have := map[string]bool{}
	for _, c := range RootCmd.Commands() {
		have[c.Name()] = true
	}
	for _, name := range want {
		if !have[name] {
			t.Errorf("command %q not registered", name)
		}
	}
}
