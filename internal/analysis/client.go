// Package analysis calls an external image-classification inference API.
package analysis

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/anac-tg/incident-desk/internal/domain"
	"github.com/anac-tg/incident-desk/internal/pkg/ctxlog"
	"golang.org/x/time/rate"
)

const (
	defaultTimeout   = 15 * time.Second
	defaultRateLimit = 2.0
	defaultBurst     = 4
	maxResponseBytes = 1 << 20
)

// Config holds inference API configuration.
type Config struct {
	APIURL    string        // base URL; the model name is appended
	APIKey    string        // bearer token
	Model     string        // e.g. google/vit-base-patch16-224
	Timeout   time.Duration // per-call deadline
	RateLimit float64       // calls per second
	Burst     int
}

// Client sends photos to the inference API. It never returns an error:
// every failure is folded into a failed domain.AnalysisResult.
type Client struct {
	config     Config
	httpClient *http.Client
	limiter    *rate.Limiter
}

// NewClient creates an analysis client.
func NewClient(config Config) *Client {
	if config.Timeout == 0 {
		config.Timeout = defaultTimeout
	}
	if config.RateLimit <= 0 {
		config.RateLimit = defaultRateLimit
	}
	if config.Burst <= 0 {
		config.Burst = defaultBurst
	}

	slog.Info("image analysis configured",
		"enabled", config.APIURL != "" && config.APIKey != "",
		"model", config.Model,
		"timeout", config.Timeout,
		"rate_limit", config.RateLimit,
	)

	return &Client{
		config: config,
		httpClient: &http.Client{
			Timeout: config.Timeout,
		},
		limiter: rate.NewLimiter(rate.Limit(config.RateLimit), config.Burst),
	}
}

// Enabled reports whether the API endpoint and credentials are configured.
func (c *Client) Enabled() bool {
	return c.config.APIURL != "" && c.config.APIKey != ""
}

func (c *Client) endpoint() string {
	if c.config.Model == "" {
		return c.config.APIURL
	}
	return strings.TrimSuffix(c.config.APIURL, "/") + "/" + strings.TrimPrefix(c.config.Model, "/")
}

// Analyze classifies the photo. The call is bounded by the configured timeout.
func (c *Client) Analyze(ctx context.Context, photo []byte) domain.AnalysisResult {
	if !c.Enabled() {
		return c.finish(ctx, time.Now(), domain.FailedAnalysis(domain.AnalysisUnconfigured, "analysis API not configured"))
	}

	start := time.Now()

	ctx, cancel := context.WithTimeout(ctx, c.config.Timeout)
	defer cancel()

	if err := c.limiter.Wait(ctx); err != nil {
		return c.finish(ctx, start, domain.FailedAnalysis(domain.AnalysisRateLimited, err.Error()))
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint(), bytes.NewReader(photo))
	if err != nil {
		return c.finish(ctx, start, domain.FailedAnalysis(domain.AnalysisUnavailable, fmt.Sprintf("create request: %v", err)))
	}
	req.Header.Set("Authorization", "Bearer "+c.config.APIKey)
	req.Header.Set("Content-Type", "application/octet-stream")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return c.finish(ctx, start, domain.FailedAnalysis(domain.AnalysisUnavailable, fmt.Sprintf("send request: %v", err)))
	}
	defer func() { _ = resp.Body.Close() }()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return c.finish(ctx, start, domain.FailedAnalysis(domain.AnalysisUnavailable, fmt.Sprintf("read response: %v", err)))
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return c.finish(ctx, start, domain.FailedAnalysis(domain.AnalysisHTTPStatus,
			fmt.Sprintf("status %d: %s", resp.StatusCode, truncate(string(body), 200))))
	}

	var labels []domain.Label
	if err := json.Unmarshal(body, &labels); err != nil {
		return c.finish(ctx, start, domain.FailedAnalysis(domain.AnalysisParseError, err.Error()))
	}

	return c.finish(ctx, start, domain.AnalysisResult{Labels: labels})
}

func (c *Client) finish(ctx context.Context, start time.Time, result domain.AnalysisResult) domain.AnalysisResult {
	outcome := "success"
	if !result.Succeeded() {
		outcome = string(result.Failure)
		ctxlog.FromContext(ctx).Warn("image analysis failed", "reason", result.Failure, "detail", result.Detail)
	}
	recordAnalysis(outcome, time.Since(start))
	return result
}

func truncate(s string, n int) string {
	if len(s) > n {
		return s[:n] + "..."
	}
	return s
}
