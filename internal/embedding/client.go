// Package embedding provides embedding generation services.
package embedding

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/spherical-ai/spherical/libs/legislative-engine/internal/observability"
	"github.com/spherical-ai/spherical/libs/legislative-engine/internal/retry"
)

// ErrDimensionMismatch is returned when the API yields vectors of an unexpected size.
var ErrDimensionMismatch = errors.New("embedding dimension mismatch")

// Embedder defines the interface for embedding generation.
type Embedder interface {
	Embed(ctx context.Context, texts []string) ([][]float32, error)
	EmbedSingle(ctx context.Context, text string) ([]float32, error)
	Model() string
	Dimension() int
}

// Client generates embeddings through an OpenAI-compatible /embeddings endpoint.
type Client struct {
	httpClient *http.Client
	baseURL    string
	apiKey     string
	model      string
	dimension  int
	policy     retry.Policy
	logger     *observability.Logger
}

// Config holds embedding client configuration.
type Config struct {
	APIKey     string
	Model      string // e.g. "openai/text-embedding-3-small"
	BaseURL    string // Default: https://openrouter.ai/api/v1
	Dimension  int    // Expected vector size; responses of any other size are rejected
	Timeout    time.Duration
	MaxRetries int
}

// NewClient creates a new embedding client.
func NewClient(cfg Config, logger *observability.Logger) (*Client, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("embedding API key is required")
	}
	if cfg.Dimension <= 0 {
		return nil, fmt.Errorf("embedding dimension must be positive")
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = "https://openrouter.ai/api/v1"
	}
	if cfg.Model == "" {
		cfg.Model = "openai/text-embedding-3-small"
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}

	policy := retry.DefaultPolicy()
	if cfg.MaxRetries > 0 {
		policy.MaxAttempts = cfg.MaxRetries + 1
	}
	if logger == nil {
		logger = observability.NopLogger()
	}

	return &Client{
		httpClient: &http.Client{Timeout: timeout},
		baseURL:    cfg.BaseURL,
		apiKey:     cfg.APIKey,
		model:      cfg.Model,
		dimension:  cfg.Dimension,
		policy:     policy,
		logger:     logger.WithComponent("embedding"),
	}, nil
}

// WithRetryPolicy overrides the retry policy.
func (c *Client) WithRetryPolicy(p retry.Policy) *Client {
	c.policy = p
	return c
}

// EmbeddingRequest represents a request to generate embeddings.
type EmbeddingRequest struct {
	Input []string `json:"input"`
	Model string   `json:"model"`
}

// EmbeddingResponse represents the API response.
type EmbeddingResponse struct {
	Data  []EmbeddingData `json:"data"`
	Model string          `json:"model"`
	Usage EmbeddingUsage  `json:"usage"`
	Error *APIError       `json:"error,omitempty"`
}

// EmbeddingData contains the embedding vector.
type EmbeddingData struct {
	Embedding []float32 `json:"embedding"`
	Index     int       `json:"index"`
}

// EmbeddingUsage contains token usage information.
type EmbeddingUsage struct {
	PromptTokens int `json:"prompt_tokens"`
	TotalTokens  int `json:"total_tokens"`
}

// APIError represents an error payload from the provider.
type APIError struct {
	Message string `json:"message"`
	Type    string `json:"type"`
}

// Embed generates embeddings for the given texts, retrying transient failures.
func (c *Client) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}

	body, err := json.Marshal(EmbeddingRequest{Input: texts, Model: c.model})
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	var out [][]float32
	err = retry.Do(ctx, c.policy, func(ctx context.Context) error {
		vectors, err := c.post(ctx, body, len(texts))
		if err != nil {
			return err
		}
		out = vectors
		return nil
	}, func(attempt int, delay time.Duration, err error) {
		c.logger.Warn().
			Int("attempt", attempt).
			Dur("backoff", delay).
			Int("batch", len(texts)).
			Err(err).
			Msg("Embedding request failed, retrying")
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (c *Client) post(ctx context.Context, body []byte, n int) ([][]float32, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/embeddings", bytes.NewReader(body))
	if err != nil {
		return nil, retry.Permanent(fmt.Errorf("create request: %w", err))
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	req.Header.Set("HTTP-Referer", "https://spherical.ai")
	req.Header.Set("X-Title", "Legislative Engine")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("send request: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		apiErr := fmt.Errorf("API error: status %d, body: %s", resp.StatusCode, truncate(raw, 300))
		var errResp EmbeddingResponse
		if json.Unmarshal(raw, &errResp) == nil && errResp.Error != nil {
			apiErr = fmt.Errorf("API error: %s (status %d, type %s)", errResp.Error.Message, resp.StatusCode, errResp.Error.Type)
		}
		if retry.RetryableStatus(resp.StatusCode) {
			return nil, apiErr
		}
		return nil, retry.Permanent(apiErr)
	}

	var embResp EmbeddingResponse
	if err := json.Unmarshal(raw, &embResp); err != nil {
		return nil, fmt.Errorf("unmarshal response: %w", err)
	}
	if len(embResp.Data) != n {
		return nil, fmt.Errorf("expected %d embeddings, got %d", n, len(embResp.Data))
	}

	vectors := make([][]float32, n)
	for _, d := range embResp.Data {
		if d.Index < 0 || d.Index >= n {
			return nil, retry.Permanent(fmt.Errorf("embedding index %d out of range", d.Index))
		}
		if len(d.Embedding) != c.dimension {
			return nil, retry.Permanent(fmt.Errorf("%w: model returned %d, configured %d",
				ErrDimensionMismatch, len(d.Embedding), c.dimension))
		}
		vectors[d.Index] = d.Embedding
	}
	return vectors, nil
}

// EmbedSingle generates an embedding for a single text.
func (c *Client) EmbedSingle(ctx context.Context, text string) ([]float32, error) {
	embeddings, err := c.Embed(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	if len(embeddings) == 0 {
		return nil, fmt.Errorf("no embedding returned")
	}
	return embeddings[0], nil
}

// Model returns the model being used.
func (c *Client) Model() string {
	return c.model
}

// Dimension returns the embedding dimension.
func (c *Client) Dimension() int {
	return c.dimension
}

func truncate(b []byte, n int) string {
	if len(b) <= n {
		return string(b)
	}
	return string(b[:n]) + "..."
}

var _ Embedder = (*Client)(nil)
