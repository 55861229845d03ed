package extract

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"go.uber.org/zap"
)

// LLMConfig points the pipeline at an OpenAI-compatible inference endpoint.
type LLMConfig struct {
	Endpoint string
	Model    string
	Timeout  time.Duration
}

// LLMClient issues chat-completion calls against a local inference server.
type LLMClient struct {
	cfg    LLMConfig
	client *http.Client
	logger *zap.Logger
}

// NewLLMClient constructs a client. A nil return means no endpoint is
// configured and the pipeline runs regex-only.
func NewLLMClient(cfg LLMConfig, logger *zap.Logger) *LLMClient {
	if cfg.Endpoint == "" {
		return nil
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 60 * time.Second
	}
	return &LLMClient{
		cfg:    cfg,
		client: &http.Client{Timeout: cfg.Timeout},
		logger: logger,
	}
}

type chatRequest struct {
	Model       string        `json:"model"`
	Messages    []chatMessage `json:"messages"`
	MaxTokens   int           `json:"max_tokens"`
	Temperature float32       `json:"temperature"`
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatResponse struct {
	Choices []struct {
		Message      chatMessage `json:"message"`
		FinishReason string      `json:"finish_reason"`
	} `json:"choices"`
	Usage struct {
		TotalTokens int `json:"total_tokens"`
	} `json:"usage"`
}

// Complete sends one system+user exchange and returns the raw assistant text.
func (c *LLMClient) Complete(ctx context.Context, system, user string) (string, error) {
	payload, err := json.Marshal(chatRequest{
		Model: c.cfg.Model,
		Messages: []chatMessage{
			{Role: "system", Content: system},
			{Role: "user", Content: user},
		},
		MaxTokens:   1024,
		Temperature: 0,
	})
	if err != nil {
		return "", fmt.Errorf("marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.Endpoint+"/v1/chat/completions", bytes.NewReader(payload))
	if err != nil {
		return "", fmt.Errorf("create http request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	start := time.Now()
	resp, err := c.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("inference request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return "", fmt.Errorf("inference server returned status %d: %s", resp.StatusCode, string(body))
	}

	var parsed chatResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return "", fmt.Errorf("decode inference response: %w", err)
	}
	if len(parsed.Choices) == 0 {
		return "", fmt.Errorf("inference response carried no choices")
	}

	c.logger.Debug("completion received",
		zap.Duration("duration", time.Since(start)),
		zap.Int("tokens", parsed.Usage.TotalTokens),
		zap.String("finish_reason", parsed.Choices[0].FinishReason))
	return parsed.Choices[0].Message.Content, nil
}

// ModelName reports the configured model for audit blocks.
func (c *LLMClient) ModelName() string {
	if c == nil {
		return ""
	}
	return c.cfg.Model
}
