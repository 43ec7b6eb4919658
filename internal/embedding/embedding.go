// Package embedding provides a pluggable interface for text embedding providers.
package embedding

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"time"

	"github.com/rcliao/sector-memory/internal/chunker"
	"github.com/rcliao/sector-memory/internal/model"
	"github.com/rcliao/sector-memory/internal/vector"
)

// Embedder generates embedding vectors from text for a given sector.
type Embedder interface {
	Embed(ctx context.Context, text string, sector model.Sector) (vector.Vector, error)
	Dims() int
}

// --- Ollama Provider ---

// OllamaEmbedder uses a local Ollama instance for embeddings. Sectors may be
// mapped to different models; unmapped sectors use the default model.
type OllamaEmbedder struct {
	baseURL      string
	model        string
	sectorModels map[model.Sector]string
	dims         int
	client       *http.Client
}

type ollamaRequest struct {
	Model  string `json:"model"`
	Prompt string `json:"prompt"`
}

type ollamaResponse struct {
	Embedding []float32 `json:"embedding"`
}

// NewOllamaEmbedder creates an embedder using Ollama's API.
// Default model: nomic-embed-text (768 dims), all-minilm (384 dims).
func NewOllamaEmbedder(baseURL, modelName string, dims int) *OllamaEmbedder {
	if baseURL == "" {
		baseURL = os.Getenv("OLLAMA_HOST")
	}
	if baseURL == "" {
		baseURL = "http://localhost:11434"
	}
	if modelName == "" {
		modelName = "nomic-embed-text"
	}
	if dims == 0 {
		dims = 768 // default for nomic-embed-text
		if modelName == "all-minilm" {
			dims = 384
		}
	}
	return &OllamaEmbedder{
		baseURL:      baseURL,
		model:        modelName,
		sectorModels: map[model.Sector]string{},
		dims:         dims,
		client:       &http.Client{Timeout: 30 * time.Second},
	}
}

// WithSectorModel routes one sector to a different model of the same dimension.
func (e *OllamaEmbedder) WithSectorModel(s model.Sector, modelName string) *OllamaEmbedder {
	e.sectorModels[s] = modelName
	return e
}

func (e *OllamaEmbedder) Embed(ctx context.Context, text string, sector model.Sector) (vector.Vector, error) {
	m := e.model
	if sm, ok := e.sectorModels[sector]; ok {
		m = sm
	}
	var out ollamaResponse
	if err := postJSON(ctx, e.client, "ollama", e.baseURL+"/api/embeddings", "", ollamaRequest{Model: m, Prompt: text}, &out); err != nil {
		return nil, err
	}
	return checkDims("ollama", out.Embedding, e.dims)
}

func (e *OllamaEmbedder) Dims() int { return e.dims }

// --- OpenAI-compatible Provider ---

// OpenAIEmbedder uses any OpenAI-compatible embedding API.
type OpenAIEmbedder struct {
	baseURL string
	apiKey  string
	model   string
	dims    int
	client  *http.Client
}

type openaiEmbedRequest struct {
	Input      string `json:"input"`
	Model      string `json:"model"`
	Dimensions int    `json:"dimensions,omitempty"`
}

type openaiEmbedResponse struct {
	Data []struct {
		Embedding []float32 `json:"embedding"`
	} `json:"data"`
}

// NewOpenAIEmbedder creates an embedder using an OpenAI-compatible API.
func NewOpenAIEmbedder(baseURL, apiKey, modelName string, dims int) *OpenAIEmbedder {
	if baseURL == "" {
		baseURL = "https://api.openai.com/v1"
	}
	if modelName == "" {
		modelName = "text-embedding-3-small"
	}
	if dims == 0 {
		dims = 1536
	}
	return &OpenAIEmbedder{
		baseURL: baseURL,
		apiKey:  apiKey,
		model:   modelName,
		dims:    dims,
		client:  &http.Client{Timeout: 30 * time.Second},
	}
}

func (e *OpenAIEmbedder) Embed(ctx context.Context, text string, _ model.Sector) (vector.Vector, error) {
	var out openaiEmbedResponse
	in := openaiEmbedRequest{Input: text, Model: e.model, Dimensions: e.dims}
	if err := postJSON(ctx, e.client, "openai", e.baseURL+"/embeddings", e.apiKey, in, &out); err != nil {
		return nil, err
	}
	if len(out.Data) == 0 {
		return nil, fmt.Errorf("openai: no embedding returned")
	}
	return checkDims("openai", out.Data[0].Embedding, e.dims)
}

func (e *OpenAIEmbedder) Dims() int { return e.dims }

// postJSON sends in as a JSON body and decodes a 200 response into out.
func postJSON(ctx context.Context, c *http.Client, provider, url, bearer string, in, out any) error {
	body, err := json.Marshal(in)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	if bearer != "" {
		req.Header.Set("Authorization", "Bearer "+bearer)
	}

	resp, err := c.Do(req)
	if err != nil {
		return fmt.Errorf("%s request failed: %w", provider, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		b, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return fmt.Errorf("%s error %d: %s", provider, resp.StatusCode, bytes.TrimSpace(b))
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("%s decode: %w", provider, err)
	}
	return nil
}

// checkDims rejects a vector whose length differs from the configured dimension.
func checkDims(provider string, v vector.Vector, dims int) (vector.Vector, error) {
	if len(v) != dims {
		return nil, fmt.Errorf("%s returned %d dims, want %d: %w", provider, len(v), dims, model.ErrDimensionMismatch)
	}
	return v, nil
}

// --- Chunked embedding ---

// EmbedLong embeds text that may exceed a provider's comfortable input size.
// Long text is chunked and the chunk vectors averaged.
func EmbedLong(ctx context.Context, e Embedder, text string, sector model.Sector, opts chunker.Options) (vector.Vector, error) {
	chunks := chunker.Chunk(text, opts)
	if len(chunks) <= 1 {
		return e.Embed(ctx, text, sector)
	}
	vs := make([]vector.Vector, 0, len(chunks))
	weights := make([]float64, 0, len(chunks))
	for _, c := range chunks {
		v, err := e.Embed(ctx, c.Text, sector)
		if err != nil {
			return nil, fmt.Errorf("embed chunk %d: %w", c.Seq, err)
		}
		vs = append(vs, v)
		weights = append(weights, float64(len(c.Text)))
	}
	mean, err := vector.WeightedMean(vs, weights)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", model.ErrDimensionMismatch, err)
	}
	return mean, nil
}

// --- Factory ---

// Settings selects and parameterises a provider.
type Settings struct {
	Provider string // synthetic | ollama | openai
	Model    string
	URL      string
	APIKey   string
	Dims     int
}

// New creates an embedder from settings. An empty provider means synthetic.
func New(s Settings) (Embedder, error) {
	switch s.Provider {
	case "", "synthetic":
		return NewSynthetic(s.Dims), nil
	case "ollama":
		return NewOllamaEmbedder(s.URL, s.Model, s.Dims), nil
	case "openai":
		key := s.APIKey
		if key == "" {
			key = os.Getenv("OPENAI_API_KEY")
		}
		return NewOpenAIEmbedder(s.URL, key, s.Model, s.Dims), nil
	default:
		return nil, fmt.Errorf("unknown embedding provider %q (valid: synthetic, ollama, openai)", s.Provider)
	}
}
