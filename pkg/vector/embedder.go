package vector

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
)

// embedMaxAttempts / embedBackoffBase give 3 attempts with 1s/2s waits.
const (
	embedMaxAttempts = 3
	embedBackoffBase = time.Second
	embedCacheSize   = 1024
)

// EmbedderConfig holds embedding client configuration.
type EmbedderConfig struct {
	BaseURL   string // OpenAI-compatible API root, e.g. "http://localhost:11434/v1"
	Model     string
	APIKey    string // optional; sent as Bearer auth when set
	Dimension int
	Timeout   time.Duration // per-request; defaults to 60s
}

// Embedder turns text into unit vectors via an OpenAI-compatible
// embeddings endpoint, with an LRU cache keyed by the input text.
type Embedder struct {
	cfg        EmbedderConfig
	httpClient *http.Client
	cache      *lru.Cache[string, []float32]
}

// NewEmbedder creates an embedder. Dimension must match the target index.
func NewEmbedder(cfg EmbedderConfig) (*Embedder, error) {
	if cfg.BaseURL == "" {
		return nil, fmt.Errorf("embedder base URL is required")
	}
	if cfg.Model == "" {
		return nil, fmt.Errorf("embedder model is required")
	}
	if cfg.Dimension <= 0 {
		return nil, fmt.Errorf("embedder dimension must be positive, got %d", cfg.Dimension)
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 60 * time.Second
	}

	cache, err := lru.New[string, []float32](embedCacheSize)
	if err != nil {
		return nil, fmt.Errorf("create embedding cache: %w", err)
	}

	return &Embedder{
		cfg:        cfg,
		httpClient: &http.Client{Timeout: cfg.Timeout},
		cache:      cache,
	}, nil
}

// Embed returns the unit vector for a single text.
func (e *Embedder) Embed(ctx context.Context, text string) ([]float32, error) {
	vectors, err := e.EmbedBatch(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return vectors[0], nil
}

// EmbedBatch returns unit vectors for several texts, served from cache
// where possible. Failed API calls are retried with exponential backoff.
func (e *Embedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, fmt.Errorf("no texts provided")
	}

	results := make([][]float32, len(texts))
	var uncachedIndices []int
	var uncachedTexts []string
	for i, text := range texts {
		if cached, ok := e.cache.Get(text); ok {
			results[i] = cached
		} else {
			uncachedIndices = append(uncachedIndices, i)
			uncachedTexts = append(uncachedTexts, text)
		}
	}
	if len(uncachedTexts) == 0 {
		return results, nil
	}

	var embeddings [][]float32
	var err error
	for attempt := 0; attempt < embedMaxAttempts; attempt++ {
		if attempt > 0 {
			backoff := embedBackoffBase << (attempt - 1)
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(backoff):
			}
		}
		embeddings, err = e.callAPI(ctx, uncachedTexts)
		if err == nil {
			break
		}
	}
	if err != nil {
		return nil, fmt.Errorf("embed batch after retries: %w", err)
	}

	for i, idx := range uncachedIndices {
		e.cache.Add(texts[idx], embeddings[i])
		results[idx] = embeddings[i]
	}
	return results, nil
}

// callAPI performs one embeddings request and normalizes the result.
func (e *Embedder) callAPI(ctx context.Context, texts []string) ([][]float32, error) {
	reqBody := map[string]any{
		"model": e.cfg.Model,
		"input": texts,
	}
	body, err := json.Marshal(reqBody)
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, e.cfg.BaseURL+"/embeddings", bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	if e.cfg.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+e.cfg.APIKey)
	}

	resp, err := e.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("http request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		bodyBytes, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("embedding API error %d: %s", resp.StatusCode, string(bodyBytes))
	}

	var apiResp struct {
		Data []struct {
			Embedding []float32 `json:"embedding"`
			Index     int       `json:"index"`
		} `json:"data"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&apiResp); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}
	if len(apiResp.Data) != len(texts) {
		return nil, fmt.Errorf("expected %d embeddings, got %d", len(texts), len(apiResp.Data))
	}

	embeddings := make([][]float32, len(texts))
	for _, item := range apiResp.Data {
		if item.Index < 0 || item.Index >= len(embeddings) {
			return nil, fmt.Errorf("invalid embedding index: %d", item.Index)
		}
		if len(item.Embedding) != e.cfg.Dimension {
			return nil, fmt.Errorf("%w: API returned %d, expected %d",
				ErrDimensionMismatch, len(item.Embedding), e.cfg.Dimension)
		}
		unit, ok := normalize(item.Embedding)
		if !ok {
			return nil, fmt.Errorf("embedding API returned a zero vector")
		}
		embeddings[item.Index] = unit
	}
	return embeddings, nil
}
