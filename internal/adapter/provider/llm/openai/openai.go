package openai

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"time"

	"golang.org/x/time/rate"

	"ragworker/internal/domain/rag"
	applog "ragworker/internal/platform/log"
	"ragworker/internal/platform/retry"
)

// Config Azure OpenAI（或 OpenAI 兼容）调用配置，URL 已由配置层拼好
type Config struct {
	APIKey          string
	EmbeddingURL    string
	ChatURL         string
	ChatDeployment  string
	Dims            int
	MaxOutputTokens int

	EmbeddingTimeout    time.Duration
	ChatTimeout         time.Duration
	ConnectTimeout      time.Duration
	TLSHandshakeTimeout time.Duration

	// RequestsPerSecond <= 0 不限速
	RequestsPerSecond float64
	MaxAttempts       int
	BaseDelay         time.Duration
}

func (c Config) withDefaults() Config {
	if c.Dims <= 0 {
		c.Dims = 3072
	}
	if c.MaxOutputTokens <= 0 {
		c.MaxOutputTokens = 512
	}
	if c.EmbeddingTimeout <= 0 {
		c.EmbeddingTimeout = 30 * time.Second
	}
	if c.ChatTimeout <= 0 {
		c.ChatTimeout = 45 * time.Second
	}
	if c.ConnectTimeout <= 0 {
		c.ConnectTimeout = 10 * time.Second
	}
	if c.TLSHandshakeTimeout <= 0 {
		c.TLSHandshakeTimeout = 30 * time.Second
	}
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = 3
	}
	if c.BaseDelay <= 0 {
		c.BaseDelay = time.Second
	}
	return c
}

// caller 一个下游端点：单次请求 + 有界重试 + 可选限速
type caller struct {
	service rag.Service
	url     string
	apiKey  string
	client  *http.Client
	limiter *rate.Limiter
	policy  retry.Policy
}

func newCaller(svc rag.Service, url string, timeout time.Duration, cfg Config) *caller {
	// 默认 Transport 的 TLS 握手超时为 10s，这里改为可配置。
	transport := http.DefaultTransport.(*http.Transport).Clone()
	transport.DialContext = (&net.Dialer{
		Timeout:   cfg.ConnectTimeout,
		KeepAlive: 30 * time.Second,
	}).DialContext
	transport.TLSHandshakeTimeout = cfg.TLSHandshakeTimeout

	c := &caller{
		service: svc,
		url:     url,
		apiKey:  cfg.APIKey,
		client:  &http.Client{Timeout: timeout, Transport: transport},
	}
	if cfg.RequestsPerSecond > 0 {
		c.limiter = rate.NewLimiter(rate.Limit(cfg.RequestsPerSecond), 1)
	}
	c.policy = retry.Policy{
		MaxAttempts: cfg.MaxAttempts,
		Backoff:     retry.Exponential(cfg.BaseDelay),
		Retryable:   rag.IsRetryable,
		OnRetry: func(attempt int, err error, wait time.Duration) {
			applog.Warn("[Azure] Retrying", "service", string(svc), "attempt", attempt, "wait_ms", wait.Milliseconds(), "error", err)
		},
	}
	return c
}

// post 发送 JSON 请求，返回 200 响应体。
// 401/403 与其它 4xx 立即失败；429/5xx/超时按指数退避重试，用尽后包装为 RetriesExhausted。
func (c *caller) post(ctx context.Context, payload any) ([]byte, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	var out []byte
	attempts, err := c.policy.Do(ctx, func(ctx context.Context, attempt int) error {
		respBody, err := c.once(ctx, body)
		if err != nil {
			return err
		}
		out = respBody
		return nil
	})
	if err != nil {
		if attempts == c.policy.MaxAttempts && rag.IsRetryable(err) {
			return nil, rag.RetriesExhausted(attempts, err)
		}
		return nil, err
	}
	return out, nil
}

func (c *caller) once(ctx context.Context, body []byte) ([]byte, error) {
	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return nil, err
		}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("api-key", c.apiKey)

	resp, err := c.client.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, &rag.UpstreamError{Service: c.service, Message: "request failed: " + err.Error(), Err: rag.ErrTransient}
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &rag.UpstreamError{Service: c.service, Status: resp.StatusCode, Message: "read response: " + err.Error(), Err: rag.ErrTransient}
	}
	if resp.StatusCode != http.StatusOK {
		return nil, rag.NewUpstreamError(c.service, resp.StatusCode, string(respBody))
	}
	return respBody, nil
}

func malformed(svc rag.Service, format string, args ...any) error {
	return &rag.UpstreamError{Service: svc, Message: fmt.Sprintf(format, args...), Err: rag.ErrMalformedResponse}
}
