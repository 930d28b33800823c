package generation

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

	"github.com/spherical-ai/spherical/libs/legislative-engine/internal/observability"
	"github.com/spherical-ai/spherical/libs/legislative-engine/internal/retry"
)

// ErrEmptyCompletion is returned when the model answers with no text.
var ErrEmptyCompletion = errors.New("model returned an empty completion")

// ChatConfig holds chat-completions client configuration.
type ChatConfig struct {
	APIKey         string
	BaseURL        string // Default: https://openrouter.ai/api/v1
	Model          string
	Temperature    float64
	MaxTokens      int
	Timeout        time.Duration
	MaxRetries     int
	MaxPromptBytes int
}

// ChatClient generates answers through an OpenAI-compatible /chat/completions endpoint.
type ChatClient struct {
	httpClient *http.Client
	cfg        ChatConfig
	policy     retry.Policy
	logger     *observability.Logger
}

// Message is a single chat message.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// ChatRequest is the completions request body.
type ChatRequest struct {
	Model       string    `json:"model"`
	Messages    []Message `json:"messages"`
	Temperature float64   `json:"temperature"`
	MaxTokens   int       `json:"max_tokens,omitempty"`
	Stream      bool      `json:"stream"`
}

// ChatResponse is the completions response body.
type ChatResponse struct {
	ID      string    `json:"id"`
	Model   string    `json:"model"`
	Choices []Choice  `json:"choices"`
	Error   *APIError `json:"error,omitempty"`
}

// Choice is one completion alternative.
type Choice struct {
	Message      Message `json:"message"`
	FinishReason string  `json:"finish_reason"`
}

// APIError is an error payload from the provider.
type APIError struct {
	Message string `json:"message"`
	Type    string `json:"type"`
}

// NewChatClient creates a chat-completions generator.
func NewChatClient(cfg ChatConfig, logger *observability.Logger) (*ChatClient, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("generation API key is required")
	}
	if cfg.Model == "" {
		return nil, fmt.Errorf("generation model is required")
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = "https://openrouter.ai/api/v1"
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 60 * time.Second
	}

	policy := retry.DefaultPolicy()
	if cfg.MaxRetries > 0 {
		policy.MaxAttempts = cfg.MaxRetries + 1
	}
	if logger == nil {
		logger = observability.NopLogger()
	}

	return &ChatClient{
		httpClient: &http.Client{Timeout: timeout},
		cfg:        cfg,
		policy:     policy,
		logger:     logger.WithComponent("generation"),
	}, nil
}

// WithRetryPolicy overrides the retry policy.
func (c *ChatClient) WithRetryPolicy(p retry.Policy) *ChatClient {
	c.policy = p
	return c
}

// Name identifies the generator in diagnostics.
func (c *ChatClient) Name() string { return c.cfg.Model }

// Generate sends the grounded prompt and returns the completion text.
func (c *ChatClient) Generate(ctx context.Context, req Request) (string, error) {
	prompt := BuildPrompt(req, c.cfg.MaxPromptBytes)

	messages := []Message{{Role: "system", Content: prompt.System}}
	history := req.History
	if len(history) > maxHistoryTurns {
		history = history[len(history)-maxHistoryTurns:]
	}
	for _, t := range history {
		role := t.Role
		if role == "" {
			role = "user"
		}
		messages = append(messages, Message{Role: role, Content: t.Content})
	}
	messages = append(messages, Message{Role: "user", Content: prompt.User})

	body, err := json.Marshal(ChatRequest{
		Model:       c.cfg.Model,
		Messages:    messages,
		Temperature: c.cfg.Temperature,
		MaxTokens:   c.cfg.MaxTokens,
	})
	if err != nil {
		return "", fmt.Errorf("marshal request: %w", err)
	}

	start := time.Now()
	var text string
	err = retry.Do(ctx, c.policy, func(ctx context.Context) error {
		out, err := c.post(ctx, body)
		if err != nil {
			return err
		}
		text = out
		return nil
	}, func(attempt int, delay time.Duration, err error) {
		c.logger.Warn().
			Int("attempt", attempt).
			Dur("backoff", delay).
			Err(err).
			Msg("Completion request failed, retrying")
	})
	if err != nil {
		return "", err
	}

	c.logger.Debug().
		Str("model", c.cfg.Model).
		Int("evidence_items", prompt.Included).
		Dur("duration", time.Since(start)).
		Msg("Generated answer")
	return text, nil
}

func (c *ChatClient) post(ctx context.Context, body []byte) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.BaseURL+"/chat/completions", bytes.NewReader(body))
	if err != nil {
		return "", retry.Permanent(fmt.Errorf("create request: %w", err))
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.cfg.APIKey)
	req.Header.Set("HTTP-Referer", "https://spherical.ai")
	req.Header.Set("X-Title", "Legislative Engine")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("send request: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("read response: %w", err)
	}

	var chatResp ChatResponse
	decodeErr := json.Unmarshal(raw, &chatResp)

	if resp.StatusCode != http.StatusOK {
		apiErr := fmt.Errorf("API error: status %d, body: %s", resp.StatusCode, truncate(raw, 300))
		if decodeErr == nil && chatResp.Error != nil {
			apiErr = fmt.Errorf("API error: %s (status %d, type %s)", chatResp.Error.Message, resp.StatusCode, chatResp.Error.Type)
		}
		if retry.RetryableStatus(resp.StatusCode) {
			return "", apiErr
		}
		return "", retry.Permanent(apiErr)
	}
	if decodeErr != nil {
		return "", fmt.Errorf("unmarshal response: %w", decodeErr)
	}
	if chatResp.Error != nil {
		return "", fmt.Errorf("API error: %s", chatResp.Error.Message)
	}
	if len(chatResp.Choices) == 0 {
		return "", retry.Permanent(ErrEmptyCompletion)
	}

	text := strings.TrimSpace(chatResp.Choices[0].Message.Content)
	if text == "" {
		return "", retry.Permanent(ErrEmptyCompletion)
	}
	return text, nil
}

func truncate(b []byte, n int) string {
	if len(b) <= n {
		return string(b)
	}
	return string(b[:n]) + "..."
}

var _ Generator = (*ChatClient)(nil)
