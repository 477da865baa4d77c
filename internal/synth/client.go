package synth

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"narrator/internal/logging"
	"narrator/internal/sse"
)

const (
	defaultHTTPTimeout    = 2 * time.Minute
	defaultRetryAttempts  = 3
	defaultRetryBaseDelay = time.Second
	defaultRetryMaxDelay  = 15 * time.Second
	maxErrorBodyBytes     = 4 << 10
)

// Config captures the provider connection settings.
type Config struct {
	BaseURL           string
	APIKey            string
	TimeoutSeconds    int
	RequestsPerSecond float64
	Stream            bool
	Format            string
}

// Client calls POST {base_url}/synthesize.
type Client struct {
	cfg        Config
	httpClient *http.Client
	limiter    *rate.Limiter
	logger     *slog.Logger

	retryMaxAttempts int
	retryBaseDelay   time.Duration
	retryMaxDelay    time.Duration
}

// Option customizes the client.
type Option func(*Client)

// WithHTTPClient overrides the default HTTP client.
func WithHTTPClient(client *http.Client) Option {
	return func(c *Client) {
		if client != nil {
			c.httpClient = client
		}
	}
}

// WithLogger sets the logger used for stream diagnostics.
func WithLogger(logger *slog.Logger) Option {
	return func(c *Client) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// WithRetry overrides the retry policy for retryable provider failures.
func WithRetry(attempts int, baseDelay, maxDelay time.Duration) Option {
	return func(c *Client) {
		c.retryMaxAttempts = attempts
		c.retryBaseDelay = baseDelay
		c.retryMaxDelay = maxDelay
	}
}

// NewClient constructs a provider client.
func NewClient(cfg Config, opts ...Option) *Client {
	timeout := defaultHTTPTimeout
	if cfg.TimeoutSeconds > 0 {
		timeout = time.Duration(cfg.TimeoutSeconds) * time.Second
	}
	cfg.BaseURL = strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/")
	cfg.APIKey = strings.TrimSpace(cfg.APIKey)
	cfg.Format = strings.TrimSpace(cfg.Format)

	limit := rate.Inf
	if cfg.RequestsPerSecond > 0 {
		limit = rate.Limit(cfg.RequestsPerSecond)
	}
	client := &Client{
		cfg:              cfg,
		httpClient:       &http.Client{Timeout: timeout},
		limiter:          rate.NewLimiter(limit, 1),
		logger:           logging.NewNop(),
		retryMaxAttempts: defaultRetryAttempts,
		retryBaseDelay:   defaultRetryBaseDelay,
		retryMaxDelay:    defaultRetryMaxDelay,
	}
	for _, opt := range opts {
		opt(client)
	}
	client.logger = logging.NewComponentLogger(client.logger, "synth")
	return client
}

type synthesizeRequest struct {
	Text     string  `json:"text"`
	Language string  `json:"language"`
	Speaker  string  `json:"speaker"`
	Pitch    float64 `json:"pitch"`
	Pace     float64 `json:"pace"`
	Stream   bool    `json:"stream"`
	Format   string  `json:"format,omitempty"`
}

type batchResponse struct {
	Audio    []byte  `json:"audio"`
	Duration float64 `json:"duration"`
	Format   string  `json:"format"`
}

// Synthesize issues one synthesis call, retrying transient failures.
func (c *Client) Synthesize(ctx context.Context, req Request) (*Result, error) {
	if strings.TrimSpace(req.Text) == "" {
		return nil, errors.New("synthesize: text required")
	}
	if c.cfg.BaseURL == "" {
		return nil, errors.New("synthesize: base url not configured")
	}

	attempts := max(c.retryMaxAttempts, 1)
	var lastErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		if err := c.limiter.Wait(ctx); err != nil {
			return nil, fmt.Errorf("synthesize: rate limit: %w", err)
		}
		result, err := c.synthesizeOnce(ctx, req)
		if err == nil {
			return result, nil
		}
		lastErr = err

		delay, retry := c.retryDelay(ctx, err, attempt, attempts)
		if !retry {
			return nil, err
		}
		c.logger.Debug("retrying synthesis request",
			logging.Int("attempt", attempt),
			logging.Duration("delay", delay),
			logging.Error(err),
		)
		if err := sleep(ctx, delay); err != nil {
			return nil, err
		}
	}
	return nil, fmt.Errorf("synthesize: failed after %d attempts: %w", attempts, lastErr)
}

func (c *Client) synthesizeOnce(ctx context.Context, req Request) (*Result, error) {
	endpoint, err := url.JoinPath(c.cfg.BaseURL, "synthesize")
	if err != nil {
		return nil, fmt.Errorf("synthesize: build url: %w", err)
	}
	encoded, err := json.Marshal(synthesizeRequest{
		Text:     req.Text,
		Language: req.Language,
		Speaker:  req.Speaker,
		Pitch:    req.Pitch,
		Pace:     req.Pace,
		Stream:   c.cfg.Stream,
		Format:   c.cfg.Format,
	})
	if err != nil {
		return nil, fmt.Errorf("synthesize: encode body: %w", err)
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(encoded))
	if err != nil {
		return nil, fmt.Errorf("synthesize: new request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if c.cfg.Stream {
		httpReq.Header.Set("Accept", "text/event-stream")
	} else {
		httpReq.Header.Set("Accept", "application/json")
	}
	if c.cfg.APIKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+c.cfg.APIKey)
	}

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("synthesize: http error: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= http.StatusMultipleChoices {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBodyBytes))
		retryAfter, _ := parseRetryAfter(resp.Header.Get("Retry-After"))
		return nil, &ProviderError{
			Status:     resp.StatusCode,
			Message:    strings.TrimSpace(string(body)),
			RetryAfter: retryAfter,
		}
	}

	if c.cfg.Stream || strings.HasPrefix(resp.Header.Get("Content-Type"), "text/event-stream") {
		audio, err := sse.ReadStream(ctx, resp.Body, c.logger)
		if err != nil {
			var remote *sse.RemoteError
			if errors.As(err, &remote) {
				return nil, &ProviderError{Status: resp.StatusCode, Message: remote.Message}
			}
			return nil, fmt.Errorf("synthesize: read stream: %w", err)
		}
		return &Result{Audio: audio, Format: c.cfg.Format}, nil
	}

	var payload batchResponse
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return nil, fmt.Errorf("synthesize: decode response: %w", err)
	}
	if len(payload.Audio) == 0 {
		return nil, &ProviderError{Status: resp.StatusCode, Message: "empty audio payload"}
	}
	format := payload.Format
	if format == "" {
		format = c.cfg.Format
	}
	return &Result{
		Audio:    payload.Audio,
		Duration: time.Duration(payload.Duration * float64(time.Second)),
		Format:   format,
	}, nil
}

// Ping checks that the provider answers HTTP at all.
func (c *Client) Ping(ctx context.Context) error {
	if c.cfg.BaseURL == "" {
		return errors.New("synth ping: base url not configured")
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodHead, c.cfg.BaseURL, nil)
	if err != nil {
		return fmt.Errorf("synth ping: new request: %w", err)
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("synth ping: %w", err)
	}
	resp.Body.Close()
	if resp.StatusCode >= http.StatusInternalServerError {
		return &ProviderError{Status: resp.StatusCode}
	}
	return nil
}

func (c *Client) retryDelay(ctx context.Context, err error, attempt, maxAttempts int) (time.Duration, bool) {
	if attempt >= maxAttempts || ctx.Err() != nil {
		return 0, false
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return 0, false
	}
	if pe, ok := AsProviderError(err); ok {
		if !pe.Retryable() {
			return 0, false
		}
		if pe.RetryAfter > 0 {
			return min(pe.RetryAfter, c.retryMaxDelay), true
		}
		return c.backoffDelay(attempt), true
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return c.backoffDelay(attempt), true
	}
	return 0, false
}

// backoffDelay doubles from the base delay per attempt, capped at the max.
func (c *Client) backoffDelay(attempt int) time.Duration {
	delay := c.retryBaseDelay
	if delay <= 0 {
		return 0
	}
	for i := 1; i < attempt; i++ {
		if delay > c.retryMaxDelay/2 {
			return c.retryMaxDelay
		}
		delay *= 2
	}
	return min(delay, c.retryMaxDelay)
}

func sleep(ctx context.Context, delay time.Duration) error {
	if delay <= 0 {
		return nil
	}
	timer := time.NewTimer(delay)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

func parseRetryAfter(value string) (time.Duration, bool) {
	value = strings.TrimSpace(value)
	if value == "" {
		return 0, false
	}
	if secs, err := strconv.Atoi(value); err == nil && secs >= 0 {
		return time.Duration(secs) * time.Second, true
	}
	if when, err := http.ParseTime(value); err == nil {
		if d := time.Until(when); d > 0 {
			return d, true
		}
	}
	return 0, false
}
