package connectors

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/preventera/safetygraph/pkg/config"
	"github.com/preventera/safetygraph/pkg/logging"
	"github.com/preventera/safetygraph/pkg/retry"
)

// maxResponseBytes caps a single upstream response. The largest bulk
// files in the source catalog are well under this.
const maxResponseBytes = 512 << 20

// StatusError is a non-2xx upstream response. Rate limiting and server
// errors are transient; client errors are permanent and short-circuit
// the retry loop.
type StatusError struct {
	Method     string
	URL        string
	StatusCode int
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("%s %s: status %d", e.Method, e.URL, e.StatusCode)
}

func (e *StatusError) IsRetryable() bool {
	return e.StatusCode == http.StatusTooManyRequests || e.StatusCode >= 500
}

// Client is the shared HTTP client for all connectors. It applies the
// configured user agent, per-source rate limits, and retry with
// exponential backoff.
type Client struct {
	http      *http.Client
	userAgent string
	retryCfg  *retry.Config
	logger    *zap.Logger

	mu       sync.Mutex
	limiters map[string]*rate.Limiter
}

// ClientOption configures a Client.
type ClientOption func(*Client)

// WithLogger sets the logger for the client.
func WithLogger(logger *zap.Logger) ClientOption {
	return func(c *Client) {
		c.logger = logger
	}
}

// WithRetryConfig overrides the default retry behavior.
func WithRetryConfig(cfg *retry.Config) ClientOption {
	return func(c *Client) {
		c.retryCfg = cfg
	}
}

// WithHTTPClient replaces the underlying HTTP client. Used by tests.
func WithHTTPClient(hc *http.Client) ClientOption {
	return func(c *Client) {
		c.http = hc
	}
}

// NewClient creates the shared connector HTTP client.
func NewClient(pc config.PipelineConfig, opts ...ClientOption) *Client {
	c := &Client{
		http: &http.Client{
			Timeout: pc.FetchTimeout,
		},
		userAgent: pc.UserAgent,
		retryCfg: &retry.Config{
			MaxRetries:   pc.MaxRetries,
			InitialDelay: 500 * time.Millisecond,
			MaxDelay:     30 * time.Second,
			Multiplier:   2.0,
			JitterFactor: 0.1,
		},
		logger:   zap.NewNop(),
		limiters: make(map[string]*rate.Limiter),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// limiter returns the rate limiter for a source, creating it on first
// use. Sources without a rate_limit get an unlimited limiter.
func (c *Client) limiter(src *config.SourceConfig) *rate.Limiter {
	c.mu.Lock()
	defer c.mu.Unlock()

	if l, ok := c.limiters[src.Key]; ok {
		return l
	}
	l := rate.NewLimiter(rate.Inf, 1)
	if src.RateLimit > 0 {
		// rate_limit is requests per minute.
		l = rate.NewLimiter(rate.Limit(float64(src.RateLimit)/60.0), 1)
	}
	c.limiters[src.Key] = l
	return l
}

// Get fetches a URL on behalf of a source and returns the response
// body. It waits on the source's rate limiter, sends the source's API
// key when one is configured, and retries transient failures.
func (c *Client) Get(ctx context.Context, src *config.SourceConfig, url string) ([]byte, error) {
	return c.do(ctx, src, http.MethodGet, url, nil)
}

// Post sends a JSON payload and returns the response body. Used by
// timeseries endpoints that take the query in the request body.
func (c *Client) Post(ctx context.Context, src *config.SourceConfig, url string, payload []byte) ([]byte, error) {
	return c.do(ctx, src, http.MethodPost, url, payload)
}

func (c *Client) do(ctx context.Context, src *config.SourceConfig, method, url string, payload []byte) ([]byte, error) {
	lim := c.limiter(src)

	var body []byte
	err := retry.DoIfRetryable(ctx, c.retryCfg, func() error {
		if err := lim.Wait(ctx); err != nil {
			return err
		}

		var reqBody io.Reader
		if payload != nil {
			reqBody = bytes.NewReader(payload)
		}
		req, err := http.NewRequestWithContext(ctx, method, url, reqBody)
		if err != nil {
			return err
		}
		req.Header.Set("User-Agent", c.userAgent)
		req.Header.Set("Accept", "application/json, text/csv, */*")
		if payload != nil {
			req.Header.Set("Content-Type", "application/json")
		}
		if key := src.APIKey(); key != "" {
			req.Header.Set("Authorization", "Bearer "+key)
		}

		resp, err := c.http.Do(req)
		if err != nil {
			return err
		}
		defer resp.Body.Close()

		if resp.StatusCode < 200 || resp.StatusCode >= 300 {
			// Drain so the connection can be reused.
			io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
			return &StatusError{Method: method, URL: url, StatusCode: resp.StatusCode}
		}

		body, err = io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
		if err != nil {
			return fmt.Errorf("reading response from %s: %w", url, err)
		}
		return nil
	})
	if err != nil {
		c.logger.Warn("fetch failed",
			zap.String("source", src.Key),
			zap.String("url", logging.URL(url)),
			zap.String("error", logging.Error(err)))
		return nil, err
	}

	c.logger.Debug("fetched",
		zap.String("source", src.Key),
		zap.String("url", logging.URL(url)),
		zap.Int("bytes", len(body)))
	return body, nil
}
