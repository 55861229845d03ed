package fetch

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/firmlens/firmcrawl/internal/crawl"
)

// TwoCaptchaConfig configures the external solver integration.
type TwoCaptchaConfig struct {
	APIKey       string
	BaseURL      string
	PollInterval time.Duration
}

// TwoCaptchaSolver implements crawl.CaptchaSolver against the 2Captcha
// createTask/getTaskResult JSON API. Solving is submit-then-poll; the caller
// bounds the total wait through its context.
type TwoCaptchaSolver struct {
	cfg    TwoCaptchaConfig
	client *http.Client
	logger *zap.Logger
}

// NewTwoCaptchaSolver builds a solver client.
func NewTwoCaptchaSolver(cfg TwoCaptchaConfig, logger *zap.Logger) (*TwoCaptchaSolver, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("captcha.api_key is required")
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = "https://api.2captcha.com"
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = 5 * time.Second
	}
	return &TwoCaptchaSolver{
		cfg:    cfg,
		client: &http.Client{Timeout: 30 * time.Second},
		logger: logger,
	}, nil
}

// Supports reports whether the solver can handle the challenge kind.
// Cloudflare managed challenges cannot be solved by token injection.
func (s *TwoCaptchaSolver) Supports(kind crawl.CaptchaKind) bool {
	return kind == crawl.CaptchaRecaptcha || kind == crawl.CaptchaHCaptcha
}

type createTaskRequest struct {
	ClientKey string         `json:"clientKey"`
	Task      map[string]any `json:"task"`
}

type createTaskResponse struct {
	ErrorID          int    `json:"errorId"`
	ErrorDescription string `json:"errorDescription"`
	TaskID           int64  `json:"taskId"`
}

type taskResultResponse struct {
	ErrorID          int    `json:"errorId"`
	ErrorDescription string `json:"errorDescription"`
	Status           string `json:"status"`
	Solution         struct {
		GRecaptchaResponse string `json:"gRecaptchaResponse"`
		Token              string `json:"token"`
	} `json:"solution"`
}

// Solve submits the challenge and polls until a token is ready or the context expires.
func (s *TwoCaptchaSolver) Solve(ctx context.Context, kind crawl.CaptchaKind, siteKey, pageURL string) (string, error) {
	taskType := "RecaptchaV2TaskProxyless"
	if kind == crawl.CaptchaHCaptcha {
		taskType = "HCaptchaTaskProxyless"
	}
	taskID, err := s.createTask(ctx, createTaskRequest{
		ClientKey: s.cfg.APIKey,
		Task: map[string]any{
			"type":       taskType,
			"websiteURL": pageURL,
			"websiteKey": siteKey,
		},
	})
	if err != nil {
		return "", err
	}
	s.logger.Debug("captcha task submitted", zap.Int64("task_id", taskID), zap.String("url", pageURL))

	ticker := time.NewTicker(s.cfg.PollInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return "", fmt.Errorf("captcha poll: %w", ctx.Err())
		case <-ticker.C:
		}
		token, ready, err := s.pollTask(ctx, taskID)
		if err != nil {
			return "", err
		}
		if ready {
			return token, nil
		}
	}
}

func (s *TwoCaptchaSolver) createTask(ctx context.Context, req createTaskRequest) (int64, error) {
	var resp createTaskResponse
	if err := s.post(ctx, "/createTask", req, &resp); err != nil {
		return 0, err
	}
	if resp.ErrorID != 0 {
		return 0, fmt.Errorf("solver rejected task: %s", resp.ErrorDescription)
	}
	return resp.TaskID, nil
}

func (s *TwoCaptchaSolver) pollTask(ctx context.Context, taskID int64) (string, bool, error) {
	var resp taskResultResponse
	body := map[string]any{"clientKey": s.cfg.APIKey, "taskId": taskID}
	if err := s.post(ctx, "/getTaskResult", body, &resp); err != nil {
		return "", false, err
	}
	if resp.ErrorID != 0 {
		return "", false, fmt.Errorf("solver task failed: %s", resp.ErrorDescription)
	}
	if resp.Status != "ready" {
		return "", false, nil
	}
	token := resp.Solution.GRecaptchaResponse
	if token == "" {
		token = resp.Solution.Token
	}
	if token == "" {
		return "", false, fmt.Errorf("solver returned ready status without a token")
	}
	return token, true, nil
}

func (s *TwoCaptchaSolver) post(ctx context.Context, path string, payload any, out any) error {
	raw, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal solver request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.cfg.BaseURL+path, bytes.NewReader(raw))
	if err != nil {
		return fmt.Errorf("build solver request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := s.client.Do(req)
	if err != nil {
		return fmt.Errorf("solver request: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("solver returned status %d", resp.StatusCode)
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode solver response: %w", err)
	}
	return nil
}
