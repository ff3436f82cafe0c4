// Package openrouter is the AI oracle client. It sends settlement prompts to
// the OpenRouter chat completions endpoint with temperature pinned to zero.
package openrouter

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/alanyoungcy/marketsettler/internal/domain"
)

// Defaults for Config.
const (
	DefaultBaseURL   = "https://openrouter.ai/api/v1"
	DefaultModel     = "google/gemini-2.0-flash-001"
	DefaultMaxTokens = 256
)

// Config configures a Client.
type Config struct {
	APIKey    string
	BaseURL   string
	Model     string
	MaxTokens int
	Timeout   time.Duration
	SiteURL   string // optional HTTP-Referer
	SiteName  string // optional X-Title

	// Cache, when set, reuses answers for identical prompts for CacheTTL.
	Cache    domain.ResponseCache
	CacheTTL time.Duration
}

// Client implements domain.Oracle.
type Client struct {
	cfg        Config
	httpClient *http.Client
	logger     *slog.Logger
}

// NewClient creates a new OpenRouter client, filling zero fields with defaults.
func NewClient(cfg Config, logger *slog.Logger) *Client {
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultBaseURL
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	if cfg.Model == "" {
		cfg.Model = DefaultModel
	}
	if cfg.MaxTokens <= 0 {
		cfg.MaxTokens = DefaultMaxTokens
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 60 * time.Second
	}
	if cfg.CacheTTL <= 0 {
		cfg.CacheTTL = 60 * time.Second
	}
	return &Client{
		cfg:        cfg,
		httpClient: &http.Client{Timeout: cfg.Timeout},
		logger:     logger.With(slog.String("component", "openrouter")),
	}
}

// Request builds the chat request for a prompt. The system message is
// omitted when the prompt has none.
func (c *Client) Request(p domain.Prompt) ChatRequest {
	msgs := make([]Message, 0, 2)
	if p.System != "" {
		msgs = append(msgs, Message{Role: "system", Content: p.System})
	}
	msgs = append(msgs, Message{Role: "user", Content: p.User})
	return ChatRequest{
		Model:       c.cfg.Model,
		Messages:    msgs,
		Temperature: 0,
		MaxTokens:   c.cfg.MaxTokens,
	}
}

// Complete sends the prompt once and returns the first choice's content.
// Transport failures and non-2xx replies wrap domain.ErrNetworkUnavailable;
// an undecodable or empty reply wraps domain.ErrMalformedResponse.
func (c *Client) Complete(ctx context.Context, p domain.Prompt) (string, error) {
	if c.cfg.APIKey == "" {
		return "", fmt.Errorf("openrouter: %w: API key not configured", domain.ErrUnauthorized)
	}

	reqBody := c.Request(p)
	payload, err := json.Marshal(reqBody)
	if err != nil {
		return "", fmt.Errorf("openrouter: marshal request: %w", err)
	}

	key := cacheKey(payload)
	if c.cfg.Cache != nil {
		if cached, ok, err := c.cfg.Cache.Get(ctx, key); err == nil && ok {
			c.logger.DebugContext(ctx, "oracle answer served from cache")
			return string(cached), nil
		}
	}

	start := time.Now()
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.BaseURL+"/chat/completions", bytes.NewReader(payload))
	if err != nil {
		return "", fmt.Errorf("openrouter: create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.cfg.APIKey)
	if c.cfg.SiteURL != "" {
		req.Header.Set("HTTP-Referer", c.cfg.SiteURL)
	}
	if c.cfg.SiteName != "" {
		req.Header.Set("X-Title", c.cfg.SiteName)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("openrouter: %w: %v", domain.ErrNetworkUnavailable, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		return "", fmt.Errorf("openrouter: %w: read response: %v", domain.ErrNetworkUnavailable, err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return "", fmt.Errorf("openrouter: %w: HTTP %d: %s", domain.ErrNetworkUnavailable, resp.StatusCode, abbreviate(body))
	}

	var out ChatResponse
	if err := json.Unmarshal(body, &out); err != nil {
		return "", fmt.Errorf("openrouter: %w: decode response: %v", domain.ErrMalformedResponse, err)
	}
	if out.Error != nil {
		return "", fmt.Errorf("openrouter: %w: API error: %s", domain.ErrNetworkUnavailable, out.Error.Message)
	}
	if len(out.Choices) == 0 {
		return "", fmt.Errorf("openrouter: %w: no choices returned", domain.ErrMalformedResponse)
	}
	content := strings.TrimSpace(out.Choices[0].Message.Content)
	if content == "" {
		return "", fmt.Errorf("openrouter: %w: empty completion", domain.ErrMalformedResponse)
	}

	c.logger.InfoContext(ctx, "oracle answered",
		slog.String("model", out.Model),
		slog.Duration("elapsed", time.Since(start)),
		slog.Int("response_len", len(content)),
	)

	if c.cfg.Cache != nil {
		if err := c.cfg.Cache.Set(ctx, key, []byte(content), c.cfg.CacheTTL); err != nil {
			c.logger.DebugContext(ctx, "oracle cache write failed", slog.String("error", err.Error()))
		}
	}
	return content, nil
}

func cacheKey(payload []byte) string {
	sum := sha256.Sum256(payload)
	return "settle:oracle:" + hex.EncodeToString(sum[:])
}

func abbreviate(b []byte) string {
	if len(b) > 512 {
		return string(b[:512])
	}
	return string(b)
}

// Compile-time interface check.
var _ domain.Oracle = (*Client)(nil)
