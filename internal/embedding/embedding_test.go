package embedding

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/rcliao/sector-memory/internal/chunker"
	"github.com/rcliao/sector-memory/internal/model"
	"github.com/rcliao/sector-memory/internal/vector"
)

func TestSynthetic_Deterministic(t *testing.T) {
	ctx := context.Background()
	e := NewSynthetic(128)
	a, _ := e.Embed(ctx, "User prefers dark mode", model.Semantic)
	b, _ := e.Embed(ctx, "User prefers dark mode", model.Emotional)
	if len(a) != 128 {
		t.Fatalf("expected 128 dims, got %d", len(a))
	}
	if vector.Cosine(a, b) < 0.9999 {
		t.Errorf("expected identical vectors, cosine %f", vector.Cosine(a, b))
	}
}

func TestSynthetic_SimilarTextIsClose(t *testing.T) {
	ctx := context.Background()
	e := NewSynthetic(0)
	a, _ := e.Embed(ctx, "The deploy pipeline runs on every merge to main", model.Procedural)
	b, _ := e.Embed(ctx, "The deploy pipeline runs on every merge to main branch", model.Procedural)
	c, _ := e.Embed(ctx, "Grandma bakes bread on sundays", model.Procedural)
	if sim := vector.Cosine(a, b); sim < 0.75 {
		t.Errorf("expected similar texts above 0.75, got %f", sim)
	}
	if vector.Cosine(a, c) > vector.Cosine(a, b) {
		t.Error("unrelated text should be further away")
	}
}

func TestNew(t *testing.T) {
	e, err := New(Settings{})
	if err != nil {
		t.Fatal(err)
	}
	if e.Dims() != DefaultSyntheticDims {
		t.Errorf("expected default synthetic dims, got %d", e.Dims())
	}
	if _, err := New(Settings{Provider: "carrier-pigeon"}); err == nil {
		t.Error("expected error for unknown provider")
	}
	o, _ := New(Settings{Provider: "ollama", Model: "all-minilm"})
	if o.Dims() != 384 {
		t.Errorf("expected 384 dims for all-minilm, got %d", o.Dims())
	}
}

func TestOllamaEmbedder_SectorModel(t *testing.T) {
	var models []string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req ollamaRequest
		json.NewDecoder(r.Body).Decode(&req)
		models = append(models, req.Model)
		json.NewEncoder(w).Encode(ollamaResponse{Embedding: []float32{1, 0, 0}})
	}))
	defer srv.Close()

	e := NewOllamaEmbedder(srv.URL, "base", 3).WithSectorModel(model.Emotional, "affect")
	ctx := context.Background()
	if _, err := e.Embed(ctx, "x", model.Semantic); err != nil {
		t.Fatal(err)
	}
	if _, err := e.Embed(ctx, "x", model.Emotional); err != nil {
		t.Fatal(err)
	}
	if len(models) != 2 || models[0] != "base" || models[1] != "affect" {
		t.Errorf("unexpected model routing %v", models)
	}
}

func TestOllamaEmbedder_WrongDims(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(ollamaResponse{Embedding: []float32{1, 0}})
	}))
	defer srv.Close()

	_, err := NewOllamaEmbedder(srv.URL, "base", 3).Embed(context.Background(), "x", model.Semantic)
	if !errors.Is(err, model.ErrDimensionMismatch) {
		t.Errorf("expected dimension mismatch, got %v", err)
	}
}

func TestOpenAIEmbedder_Error(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "quota", http.StatusTooManyRequests)
	}))
	defer srv.Close()

	e := NewOpenAIEmbedder(srv.URL, "k", "m", 3)
	_, err := e.Embed(context.Background(), "x", model.Semantic)
	if err == nil || !strings.Contains(err.Error(), "429") {
		t.Errorf("expected 429 error, got %v", err)
	}
}

type countingEmbedder struct {
	calls int
}

func (c *countingEmbedder) Embed(_ context.Context, text string, _ model.Sector) (vector.Vector, error) {
	c.calls++
	return vector.Vector{1, float32(len(text) % 3)}, nil
}

func (c *countingEmbedder) Dims() int { return 2 }

func TestEmbedLong(t *testing.T) {
	ctx := context.Background()
	e := &countingEmbedder{}
	short, err := EmbedLong(ctx, e, "short text", model.Semantic, chunker.DefaultOptions())
	if err != nil {
		t.Fatal(err)
	}
	if e.calls != 1 || len(short) != 2 {
		t.Errorf("expected one call for short text, got %d", e.calls)
	}

	e.calls = 0
	long := strings.Repeat("A sentence of moderate length goes here. ", 20)
	v, err := EmbedLong(ctx, e, long, model.Semantic, chunker.Options{TargetSize: 100, MaxSize: 150})
	if err != nil {
		t.Fatal(err)
	}
	if e.calls < 2 {
		t.Errorf("expected several chunk embeddings, got %d", e.calls)
	}
	if n := vector.Norm(v); n < 0.999 || n > 1.001 {
		t.Errorf("expected unit vector, norm %f", n)
	}
}

// raggedEmbedder returns one more dimension on every call.
type raggedEmbedder struct {
	calls int
}

func (r *raggedEmbedder) Embed(context.Context, string, model.Sector) (vector.Vector, error) {
	r.calls++
	return make(vector.Vector, r.calls+1), nil
}

func (r *raggedEmbedder) Dims() int { return 2 }

func TestEmbedLong_RaggedChunksAreDimensionMismatch(t *testing.T) {
	long := strings.Repeat("A sentence of moderate length goes here. ", 20)
	_, err := EmbedLong(context.Background(), &raggedEmbedder{}, long, model.Semantic, chunker.Options{TargetSize: 100, MaxSize: 150})
	if !errors.Is(err, model.ErrDimensionMismatch) {
		t.Errorf("expected dimension mismatch, got %v", err)
	}
}
