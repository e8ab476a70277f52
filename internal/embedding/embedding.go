// Package embedding provides a pluggable interface for text embedding providers.
package embedding

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"math"
	"net/http"
	"time"

	"github.com/rcliao/memoryd/internal/apperr"
)

// Vector is a float32 embedding vector.
type Vector = []float32

// Embedder generates embedding vectors from text.
type Embedder interface {
	Embed(ctx context.Context, text string) (Vector, error)
	Dims() int
}

// CosineSimilarity computes cosine similarity between two vectors.
// Mismatched lengths, empty vectors and zero vectors score 0.
func CosineSimilarity(a, b Vector) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}
	var dot, normA, normB float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}
	if normA == 0 || normB == 0 {
		return 0
	}
	// One sqrt over the product keeps exact ratios exact (1/sqrt(2*2) == 0.5).
	s := dot / math.Sqrt(normA*normB)
	return math.Max(-1, math.Min(1, s))
}

// --- Ollama Provider ---

// OllamaEmbedder uses a local Ollama instance for embeddings.
type OllamaEmbedder struct {
	baseURL string
	model   string
	dims    int
	client  *http.Client
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
func NewOllamaEmbedder(baseURL, model string) *OllamaEmbedder {
	if baseURL == "" {
		baseURL = "http://localhost:11434"
	}
	if model == "" {
		model = "nomic-embed-text"
	}
	dims := 768
	if model == "all-minilm" {
		dims = 384
	}
	return &OllamaEmbedder{
		baseURL: baseURL,
		model:   model,
		dims:    dims,
		client:  &http.Client{Timeout: 30 * time.Second},
	}
}

func (e *OllamaEmbedder) Embed(ctx context.Context, text string) (Vector, error) {
	var result ollamaResponse
	if err := postJSON(ctx, e.client, e.baseURL+"/api/embeddings", "", ollamaRequest{Model: e.model, Prompt: text}, &result); err != nil {
		return nil, fmt.Errorf("ollama: %w", err)
	}
	if len(result.Embedding) == 0 {
		return nil, fmt.Errorf("ollama: empty embedding")
	}
	return result.Embedding, nil
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
	Input string `json:"input"`
	Model string `json:"model"`
}

type openaiEmbedResponse struct {
	Data []struct {
		Embedding []float32 `json:"embedding"`
	} `json:"data"`
}

// NewOpenAIEmbedder creates an embedder using an OpenAI-compatible API.
func NewOpenAIEmbedder(baseURL, apiKey, model string, dims int) *OpenAIEmbedder {
	if baseURL == "" {
		baseURL = "https://api.openai.com/v1"
	}
	if model == "" {
		model = "text-embedding-3-small"
	}
	if dims == 0 {
		dims = 1536
	}
	return &OpenAIEmbedder{
		baseURL: baseURL,
		apiKey:  apiKey,
		model:   model,
		dims:    dims,
		client:  &http.Client{Timeout: 30 * time.Second},
	}
}

func (e *OpenAIEmbedder) Embed(ctx context.Context, text string) (Vector, error) {
	var result openaiEmbedResponse
	if err := postJSON(ctx, e.client, e.baseURL+"/embeddings", e.apiKey, openaiEmbedRequest{Input: text, Model: e.model}, &result); err != nil {
		return nil, fmt.Errorf("openai: %w", err)
	}
	if len(result.Data) == 0 {
		return nil, fmt.Errorf("openai: no embedding returned")
	}
	return result.Data[0].Embedding, nil
}

func (e *OpenAIEmbedder) Dims() int { return e.dims }

func postJSON(ctx context.Context, client *http.Client, url, bearer string, in, out any) error {
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

	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		b, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return fmt.Errorf("status %d: %s", resp.StatusCode, string(b))
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

// --- Timeout bound ---

type bounded struct {
	next    Embedder
	timeout time.Duration
}

// WithTimeout bounds every Embed call. A call that runs past the bound fails
// with a CollaboratorTimeout error naming the embedding collaborator.
func WithTimeout(e Embedder, d time.Duration) Embedder {
	if d <= 0 {
		return e
	}
	return &bounded{next: e, timeout: d}
}

func (b *bounded) Embed(ctx context.Context, text string) (Vector, error) {
	cctx, cancel := context.WithTimeout(ctx, b.timeout)
	defer cancel()
	v, err := b.next.Embed(cctx, text)
	if err != nil {
		return nil, apperr.Bounded(ctx, apperr.CollabEmbedding, err)
	}
	return v, nil
}

func (b *bounded) Dims() int { return b.next.Dims() }

// --- Factory ---

// Config selects and configures a provider.
type Config struct {
	Provider string // "hash" | "ollama" | "openai"
	Model    string
	URL      string
	APIKey   string
	Dims     int
}

// New creates an embedder from cfg.
func New(cfg Config) (Embedder, error) {
	switch cfg.Provider {
	case "", "hash":
		return NewHashEmbedder(cfg.Dims), nil
	case "ollama":
		return NewOllamaEmbedder(cfg.URL, cfg.Model), nil
	case "openai":
		return NewOpenAIEmbedder(cfg.URL, cfg.APIKey, cfg.Model, cfg.Dims), nil
	default:
		return nil, fmt.Errorf("unknown embedding provider %q (valid: hash, ollama, openai)", cfg.Provider)
	}
}
