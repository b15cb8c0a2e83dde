package embedding

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

// Client is the opaque embedding provider contract: fixed-dimension
// vectors, same order as the input texts.
type Client interface {
	Embed(ctx context.Context, texts []string) ([][]float32, error)
	Dimension() int
}

// ProviderError carries the provider's HTTP status so the gateway can
// tell permanent rejections from transient failures.
type ProviderError struct {
	StatusCode int
	Body       string
}

func (e *ProviderError) Error() string {
	return fmt.Sprintf("embedding service returned status %d: %s", e.StatusCode, e.Body)
}

// Permanent reports whether retrying the same input can never succeed
// (the provider rejected the request itself, e.g. malformed or
// oversized input). Rate limits and server errors are transient.
func (e *ProviderError) Permanent() bool {
	if e.StatusCode == http.StatusTooManyRequests || e.StatusCode == http.StatusRequestTimeout {
		return false
	}
	return e.StatusCode >= 400 && e.StatusCode < 500
}

// HTTPClient talks to a text-embeddings-inference style server
// exposing POST /embed.
type HTTPClient struct {
	baseURL    string
	dimension  int
	httpClient *http.Client
	cache      Cache
	cacheTTL   time.Duration
}

type embedRequest struct {
	Inputs    []string `json:"inputs"`
	Normalize bool     `json:"normalize"`
	Truncate  bool     `json:"truncate"`
}

func NewHTTPClient(baseURL string, dimension int, timeout time.Duration, cache Cache, cacheTTL time.Duration) *HTTPClient {
	if cache == nil {
		cache = NewNoopCache()
	}
	return &HTTPClient{
		baseURL:    baseURL,
		dimension:  dimension,
		httpClient: &http.Client{Timeout: timeout},
		cache:      cache,
		cacheTTL:   cacheTTL,
	}
}

func (c *HTTPClient) Dimension() int {
	return c.dimension
}

func (c *HTTPClient) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	results := make([][]float32, len(texts))
	uncachedIndices := make([]int, 0, len(texts))
	uncachedTexts := make([]string, 0, len(texts))

	for i, text := range texts {
		if cached, found := c.cache.Get(text); found {
			results[i] = cached
		} else {
			uncachedIndices = append(uncachedIndices, i)
			uncachedTexts = append(uncachedTexts, text)
		}
	}

	if len(uncachedTexts) == 0 {
		return results, nil
	}

	embeddings, err := c.callProvider(ctx, uncachedTexts)
	if err != nil {
		return nil, err
	}

	if len(embeddings) != len(uncachedTexts) {
		return nil, fmt.Errorf("embedding service returned %d vectors for %d inputs", len(embeddings), len(uncachedTexts))
	}

	for i, idx := range uncachedIndices {
		if len(embeddings[i]) != c.dimension {
			return nil, fmt.Errorf("embedding service returned dimension %d, want %d", len(embeddings[i]), c.dimension)
		}
		results[idx] = embeddings[i]
		c.cache.Set(uncachedTexts[i], embeddings[i], c.cacheTTL)
	}

	return results, nil
}

func (c *HTTPClient) callProvider(ctx context.Context, texts []string) ([][]float32, error) {
	reqBody := embedRequest{
		Inputs:    texts,
		Normalize: true,
		Truncate:  true,
	}

	jsonData, err := json.Marshal(reqBody)
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/embed", bytes.NewBuffer(jsonData))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("execute request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, &ProviderError{StatusCode: resp.StatusCode, Body: string(bytes.TrimSpace(body))}
	}

	var embeddings [][]float32
	if err := json.NewDecoder(resp.Body).Decode(&embeddings); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}

	return embeddings, nil
}

// Validate probes the provider once and checks the configured
// dimension, intended for startup.
func (c *HTTPClient) Validate(ctx context.Context) error {
	embeddings, err := c.Embed(ctx, []string{"test"})
	if err != nil {
		return fmt.Errorf("test embedding failed: %w", err)
	}
	if len(embeddings) == 0 || len(embeddings[0]) != c.dimension {
		return fmt.Errorf("expected %d dimensions from embedding server", c.dimension)
	}
	return nil
}
