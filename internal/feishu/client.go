package feishu

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"math"
	"math/rand/v2"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"golang.org/x/time/rate"
)

// Retry and backoff constants. Three attempts total per call: the initial
// request plus two retries, doubling from a one second base.
const (
	maxAttempts    = 3
	baseBackoff    = 1 * time.Second
	maxBackoff     = 30 * time.Second
	backoffFactor  = 2.0
	jitterFraction = 0.25
	userAgent      = "prodsync/0.1"
)

// Config carries the upstream identity and tuning for a Client.
type Config struct {
	BaseURL   string
	AppID     string
	AppSecret string
	AppToken  string
	TableID   string

	// RecordTimeout bounds auth and record calls; MediaTimeout bounds
	// attachment downloads, which move larger bodies.
	RecordTimeout time.Duration
	MediaTimeout  time.Duration

	// PageInterval is the minimum spacing between record pages in
	// GetAllRecords. The upstream throttles aggressively below 200ms.
	PageInterval time.Duration

	// BatchInterval is the pause between media download batches.
	BatchInterval time.Duration

	// TokenCachePath persists the tenant token across restarts.
	// Empty disables persistence.
	TokenCachePath string
}

// Client is an HTTP client for the Feishu open APIs. It owns the tenant
// token cache, classifies and retries transient failures, and paces
// paginated record listing.
type Client struct {
	cfg          Config
	recordClient *http.Client
	mediaClient  *http.Client
	logger       *slog.Logger
	tokens       *tokenCache
	pageLimiter  *rate.Limiter

	// sleepFunc waits between retries and download batches. Tests override
	// it to avoid real delays.
	sleepFunc func(ctx context.Context, d time.Duration) error
	nowFunc   func() time.Time
}

// Option customizes a Client. Used by tests to inject clocks and sleeps.
type Option func(*Client)

// WithHTTPClients overrides both underlying HTTP clients.
func WithHTTPClients(record, media *http.Client) Option {
	return func(c *Client) {
		c.recordClient = record
		c.mediaClient = media
	}
}

// WithSleep overrides the retry/pacing sleep function.
func WithSleep(fn func(ctx context.Context, d time.Duration) error) Option {
	return func(c *Client) { c.sleepFunc = fn }
}

// WithNow overrides the clock used for token expiry checks.
func WithNow(fn func() time.Time) Option {
	return func(c *Client) {
		c.nowFunc = fn
		c.tokens.now = fn
	}
}

// New creates a Feishu client. Zero timeouts and intervals fall back to the
// documented defaults (30s records, 60s media, 200ms page spacing).
func New(cfg Config, logger *slog.Logger, opts ...Option) *Client {
	if logger == nil {
		logger = slog.Default()
	}

	if cfg.RecordTimeout <= 0 {
		cfg.RecordTimeout = 30 * time.Second
	}

	if cfg.MediaTimeout <= 0 {
		cfg.MediaTimeout = 60 * time.Second
	}

	if cfg.PageInterval <= 0 {
		cfg.PageInterval = 200 * time.Millisecond
	}

	if cfg.BatchInterval <= 0 {
		cfg.BatchInterval = 500 * time.Millisecond
	}

	c := &Client{
		cfg:          cfg,
		recordClient: &http.Client{Timeout: cfg.RecordTimeout},
		mediaClient:  &http.Client{Timeout: cfg.MediaTimeout},
		logger:       logger,
		pageLimiter:  rate.NewLimiter(rate.Every(cfg.PageInterval), 1),
		sleepFunc:    timeSleep,
		nowFunc:      time.Now,
	}

	c.tokens = newTokenCache(c, cfg.TokenCachePath, logger)

	for _, opt := range opts {
		opt(c)
	}

	return c
}

// GetAccessToken returns a cached tenant token, refreshing it when absent or
// within the expiry safety window. Concurrent callers share one in-flight
// refresh.
func (c *Client) GetAccessToken(ctx context.Context) (string, error) {
	return c.tokens.Token(ctx)
}

// apiEnvelope is the common wrapper on every Feishu JSON response.
type apiEnvelope struct {
	Code int64           `json:"code"`
	Msg  string          `json:"msg"`
	Data json.RawMessage `json:"data"`
}

// getJSON performs an authenticated GET and decodes the envelope's data
// field into out.
func (c *Client) getJSON(ctx context.Context, path string, query url.Values, out any) error {
	body, err := c.do(ctx, http.MethodGet, path, query, nil, c.recordClient, true)
	if err != nil {
		return err
	}

	return c.decodeEnvelope(path, body, out)
}

// postJSON performs an unauthenticated POST with a JSON body and decodes the
// raw response (not the envelope) into out. Only the token endpoint uses
// this: its envelope carries the token fields at the top level.
func (c *Client) postJSON(ctx context.Context, path string, payload, out any) error {
	raw, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("feishu: encoding %s request: %w", path, err)
	}

	body, err := c.do(ctx, http.MethodPost, path, nil, raw, c.recordClient, false)
	if err != nil {
		return err
	}

	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("feishu: decoding %s response: %w", path, err)
	}

	return nil
}

// decodeEnvelope validates the {code,msg,data} wrapper and unmarshals data.
func (c *Client) decodeEnvelope(path string, body []byte, out any) error {
	var env apiEnvelope
	if err := json.Unmarshal(body, &env); err != nil {
		return fmt.Errorf("feishu: decoding %s response: %w", path, err)
	}

	if env.Code != 0 {
		return &UpstreamError{StatusCode: http.StatusOK, Code: env.Code, Msg: env.Msg, Err: ErrUpstreamCode}
	}

	if out == nil {
		return nil
	}

	if err := json.Unmarshal(env.Data, out); err != nil {
		return fmt.Errorf("feishu: decoding %s data: %w", path, err)
	}

	return nil
}

// do executes a request with retry. Network errors and retryable statuses
// back off exponentially up to maxAttempts total tries. A 401 on an
// authenticated call invalidates the cached token and retries the original
// call exactly once, outside the backoff budget.
func (c *Client) do(
	ctx context.Context, method, path string, query url.Values,
	body []byte, client *http.Client, authed bool,
) ([]byte, error) {
	fullURL := c.cfg.BaseURL + path
	if len(query) > 0 {
		fullURL += "?" + query.Encode()
	}

	attempt := 0
	retriedAuth := false

	for {
		respBody, status, header, err := c.doOnce(ctx, method, fullURL, body, client, authed)
		if err != nil {
			if ctx.Err() != nil {
				return nil, fmt.Errorf("feishu: request canceled: %w", ctx.Err())
			}

			if attempt < maxAttempts-1 {
				backoff := c.calcBackoff(attempt)
				c.logger.Warn("retrying after network error",
					slog.String("method", method),
					slog.String("path", path),
					slog.Int("attempt", attempt+1),
					slog.Duration("backoff", backoff),
					slog.String("error", err.Error()),
				)

				if sleepErr := c.sleepFunc(ctx, backoff); sleepErr != nil {
					return nil, fmt.Errorf("feishu: request canceled: %w", sleepErr)
				}

				attempt++

				continue
			}

			return nil, &UpstreamError{Msg: err.Error(), Err: fmt.Errorf("feishu: %s %s: %w", method, path, err)}
		}

		if status >= http.StatusOK && status < http.StatusMultipleChoices {
			return respBody, nil
		}

		// Expired or revoked token: refresh once and replay the call.
		if status == http.StatusUnauthorized && authed && !retriedAuth {
			c.logger.Info("token rejected, refreshing and retrying once",
				slog.String("method", method),
				slog.String("path", path),
			)
			c.tokens.Invalidate()

			retriedAuth = true

			continue
		}

		if isRetryable(status) && attempt < maxAttempts-1 {
			backoff := c.retryBackoff(status, header, attempt)
			c.logger.Warn("retrying after HTTP error",
				slog.String("method", method),
				slog.String("path", path),
				slog.Int("status", status),
				slog.Int("attempt", attempt+1),
				slog.Duration("backoff", backoff),
			)

			if err := c.sleepFunc(ctx, backoff); err != nil {
				return nil, fmt.Errorf("feishu: request canceled: %w", err)
			}

			attempt++

			continue
		}

		return nil, upstreamErrorFromResponse(status, respBody)
	}
}

// doOnce executes a single HTTP request (no retry) and drains the body.
func (c *Client) doOnce(
	ctx context.Context, method, fullURL string, body []byte,
	client *http.Client, authed bool,
) ([]byte, int, http.Header, error) {
	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}

	req, err := http.NewRequestWithContext(ctx, method, fullURL, reader)
	if err != nil {
		return nil, 0, nil, fmt.Errorf("creating request: %w", err)
	}

	if authed {
		tok, tokErr := c.tokens.Token(ctx)
		if tokErr != nil {
			return nil, 0, nil, fmt.Errorf("obtaining token: %w", tokErr)
		}

		req.Header.Set("Authorization", "Bearer "+tok)
	}

	req.Header.Set("User-Agent", userAgent)

	if body != nil {
		req.Header.Set("Content-Type", "application/json; charset=utf-8")
	}

	resp, err := client.Do(req)
	if err != nil {
		return nil, 0, nil, err
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, resp.StatusCode, resp.Header, fmt.Errorf("reading response body: %w", err)
	}

	return respBody, resp.StatusCode, resp.Header, nil
}

// upstreamErrorFromResponse builds the terminal error for a failed call,
// preferring the envelope's code/msg when the body parses.
func upstreamErrorFromResponse(status int, body []byte) error {
	ue := &UpstreamError{
		StatusCode: status,
		Msg:        string(body),
		Err:        classifyStatus(status),
	}

	var env apiEnvelope
	if err := json.Unmarshal(body, &env); err == nil && env.Code != 0 {
		ue.Code = env.Code
		ue.Msg = env.Msg
	}

	return ue
}

// retryBackoff returns the backoff duration for a retryable response.
// For 429 responses with a Retry-After header, that value is used.
func (c *Client) retryBackoff(status int, header http.Header, attempt int) time.Duration {
	if status == http.StatusTooManyRequests && header != nil {
		if ra := header.Get("Retry-After"); ra != "" {
			if seconds, err := strconv.Atoi(ra); err == nil && seconds > 0 {
				return time.Duration(seconds) * time.Second
			}
		}
	}

	return c.calcBackoff(attempt)
}

// calcBackoff computes exponential backoff with ±25% jitter.
func (c *Client) calcBackoff(attempt int) time.Duration {
	backoff := float64(baseBackoff) * math.Pow(backoffFactor, float64(attempt))
	if backoff > float64(maxBackoff) {
		backoff = float64(maxBackoff)
	}

	jitter := backoff * jitterFraction * (rand.Float64()*2 - 1) //nolint:gosec // jitter does not need crypto rand
	backoff += jitter

	return time.Duration(backoff)
}

// timeSleep waits for the given duration or until the context is canceled.
// It is the default sleepFunc for Client.
func timeSleep(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
