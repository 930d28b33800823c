// Package engine provides the public Go SDK for the Legislative Engine API.
package engine

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
)

// DefaultBaseURL is used when ClientConfig.BaseURL is empty.
const DefaultBaseURL = "http://localhost:8086"

// Client is the public SDK client for the Legislative Engine.
type Client struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
}

// ClientConfig holds client configuration.
type ClientConfig struct {
	BaseURL string
	// APIKey is sent as a bearer token when set.
	APIKey     string
	Timeout    time.Duration
	HTTPClient *http.Client
}

// NewClient creates a new Legislative Engine client.
func NewClient(cfg ClientConfig) (*Client, error) {
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultBaseURL
	}
	if !strings.HasPrefix(cfg.BaseURL, "http://") && !strings.HasPrefix(cfg.BaseURL, "https://") {
		return nil, fmt.Errorf("base URL must be http or https: %q", cfg.BaseURL)
	}
	hc := cfg.HTTPClient
	if hc == nil {
		timeout := cfg.Timeout
		if timeout <= 0 {
			timeout = 90 * time.Second
		}
		hc = &http.Client{Timeout: timeout}
	}

	return &Client{
		baseURL:    strings.TrimRight(cfg.BaseURL, "/"),
		apiKey:     cfg.APIKey,
		httpClient: hc,
	}, nil
}

// Turn is one prior conversation message.
type Turn struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// AnswerRequest asks one question.
type AnswerRequest struct {
	Question        string `json:"question"`
	History         []Turn `json:"conversationContext,omitempty"`
	IncludeEvidence bool   `json:"includeEvidence,omitempty"`
}

// Link is a citation rewritten as a link.
type Link struct {
	Citation string `json:"citation"`
	EntityID string `json:"entity_id"`
	URL      string `json:"url"`
	Start    int    `json:"start"`
	End      int    `json:"end"`
}

// EvidenceItem is one ranked piece of evidence.
type EvidenceItem struct {
	Kind    string         `json:"kind"`
	Key     string         `json:"key"`
	Score   float64        `json:"score"`
	Content string         `json:"content,omitempty"`
	Fields  map[string]any `json:"fields,omitempty"`
	Sources []string       `json:"sources"`
}

// Evidence is the bundle an answer was generated from.
type Evidence struct {
	Items          []EvidenceItem `json:"items"`
	TotalCount     int            `json:"total_count"`
	AverageQuality float64        `json:"average_quality"`
	SourcesUsed    []string       `json:"sources_used"`
}

// ErrorInfo is a component failure recovered during retrieval.
type ErrorInfo struct {
	Kind    string `json:"kind"`
	Op      string `json:"op"`
	Message string `json:"message"`
}

// Diagnostics explains how an answer was produced.
type Diagnostics struct {
	RequestID      string         `json:"request_id"`
	Classification Classification `json:"classification"`
	Stage          string         `json:"stage"`
	StagesTried    []string       `json:"stages_tried"`
	Plans          []string       `json:"plans"`
	Errors         []ErrorInfo    `json:"errors,omitempty"`
	Degraded       bool           `json:"degraded"`
	Generator      string         `json:"generator"`
	LatencyMs      int64          `json:"latency_ms"`
	Cached         bool           `json:"cached"`
}

// AnswerResponse is the answer to one question.
type AnswerResponse struct {
	Answer      string       `json:"answer"`
	Links       []Link       `json:"links"`
	Stage       string       `json:"stage"`
	Degraded    bool         `json:"degraded"`
	Evidence    *Evidence    `json:"evidence,omitempty"`
	Diagnostics *Diagnostics `json:"diagnostics"`
	Error       string       `json:"error,omitempty"`
}

// Classification is the intent classifier output.
type Classification struct {
	Question   string         `json:"question"`
	Categories []string       `json:"categories"`
	Params     map[string]any `json:"params"`
	Confidence float64        `json:"confidence"`
}

// BatchItem is the outcome for one question of a batch.
type BatchItem struct {
	Index    int    `json:"index"`
	Question string `json:"question"`
	Answer   *struct {
		Text        string      `json:"text"`
		Links       []Link      `json:"links"`
		Diagnostics Diagnostics `json:"diagnostics"`
	} `json:"answer,omitempty"`
	Error     string `json:"error,omitempty"`
	ErrorKind string `json:"error_kind,omitempty"`
}

// APIError is a non-2xx response.
type APIError struct {
	StatusCode int
	Message    string
	Detail     string
}

func (e *APIError) Error() string {
	if e.Detail != "" {
		return fmt.Sprintf("legislative engine: %d %s: %s", e.StatusCode, e.Message, e.Detail)
	}
	return fmt.Sprintf("legislative engine: %d %s", e.StatusCode, e.Message)
}

// Answer asks a question. When the server produced a degraded answer with an
// error (for example generation failed) both the response and an *APIError
// are returned.
func (c *Client) Answer(ctx context.Context, req AnswerRequest) (*AnswerResponse, error) {
	var resp AnswerResponse
	err := c.post(ctx, "/v1/answer", req, &resp)
	var apiErr *APIError
	if err != nil && !(errors.As(err, &apiErr) && resp.Diagnostics != nil) {
		return nil, err
	}
	return &resp, err
}

// AnswerBatch answers independent questions in one call.
func (c *Client) AnswerBatch(ctx context.Context, questions []string) ([]BatchItem, error) {
	var resp struct {
		Results []BatchItem `json:"results"`
	}
	err := c.post(ctx, "/v1/answer/batch", map[string]any{"questions": questions}, &resp)
	if err != nil && resp.Results == nil {
		return nil, err
	}
	return resp.Results, err
}

// Classify returns the intent classification of a question.
func (c *Client) Classify(ctx context.Context, question string) (*Classification, error) {
	var resp Classification
	if err := c.post(ctx, "/v1/classify", AnswerRequest{Question: question}, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// Health checks that the server is up.
func (c *Client) Health(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/health", nil)
	if err != nil {
		return err
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("health check: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return &APIError{StatusCode: resp.StatusCode, Message: http.StatusText(resp.StatusCode)}
	}
	return nil
}

// post sends body and decodes the response into out. Error responses are
// decoded into out as well, since some carry a usable payload.
func (c *Client) post(ctx context.Context, path string, body, out any) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Request-ID", uuid.NewString())
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("send request: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		if err := json.Unmarshal(data, out); err != nil {
			return fmt.Errorf("decode response: %w", err)
		}
		return nil
	}

	apiErr := &APIError{StatusCode: resp.StatusCode, Message: http.StatusText(resp.StatusCode)}
	var errBody struct {
		Error   string `json:"error"`
		Message string `json:"message"`
		Detail  string `json:"detail"`
	}
	if json.Unmarshal(data, &errBody) == nil {
		if errBody.Message != "" {
			apiErr.Message = errBody.Message
		} else if errBody.Error != "" {
			apiErr.Message = errBody.Error
		}
		apiErr.Detail = errBody.Detail
	}
	_ = json.Unmarshal(data, out)
	return apiErr
}
