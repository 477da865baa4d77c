// Package client talks to the narrator daemon's HTTP API. Library layers the
// client audio cache over it so chapter audio is fetched at most once.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"narrator/internal/api"
	"narrator/internal/config"
	"narrator/internal/logging"
)

const (
	defaultTimeout         = 10 * time.Minute
	defaultPollInterval    = 2 * time.Second
	defaultPollMaxAttempts = 150
	maxErrorBodyBytes      = 4 << 10
)

// ErrJobTimeout is returned by WaitForJob when the job is still running after
// the configured number of polls. The job itself keeps running.
var ErrJobTimeout = errors.New("timed out waiting for job")

// APIError is a non-2xx response from the daemon.
type APIError struct {
	Status  int
	Message string
}

func (e *APIError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("daemon returned %d", e.Status)
	}
	return fmt.Sprintf("daemon returned %d: %s", e.Status, e.Message)
}

// ErrorKind classifies the error for callers that branch on kinds.
func (e *APIError) ErrorKind() string {
	switch {
	case e.Status == http.StatusNotFound:
		return "not_found"
	case e.Status == http.StatusBadRequest:
		return "validation"
	case e.Status == http.StatusUnauthorized:
		return "unauthorized"
	default:
		return "api"
	}
}

// IsNotFound reports whether err is a 404 from the daemon.
func IsNotFound(err error) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.Status == http.StatusNotFound
}

// Config captures the daemon connection settings.
type Config struct {
	BaseURL         string
	Token           string
	Timeout         time.Duration
	PollInterval    time.Duration
	PollMaxAttempts int
}

// ConfigFromConfig maps the client section of cfg. The base URL falls back
// to the daemon bind address.
func ConfigFromConfig(cfg *config.Config) Config {
	base := strings.TrimSpace(cfg.Client.BaseURL)
	if base == "" {
		base = "http://" + cfg.API.Bind
	}
	return Config{
		BaseURL:         base,
		Token:           cfg.API.Token,
		Timeout:         time.Duration(cfg.Client.TimeoutSeconds) * time.Second,
		PollInterval:    cfg.ClientPollInterval(),
		PollMaxAttempts: cfg.Client.PollMaxAttempts,
	}
}

// Client calls the daemon API.
type Client struct {
	cfg        Config
	baseURL    *url.URL
	httpClient *http.Client
	logger     *slog.Logger
}

// Option customizes the client.
type Option func(*Client)

// WithHTTPClient overrides the HTTP client.
func WithHTTPClient(client *http.Client) Option {
	return func(c *Client) {
		if client != nil {
			c.httpClient = client
		}
	}
}

// WithLogger sets the client logger.
func WithLogger(logger *slog.Logger) Option {
	return func(c *Client) {
		c.logger = logging.NewComponentLogger(logger, "client")
	}
}

// New builds a Client.
func New(cfg Config, opts ...Option) (*Client, error) {
	base, err := url.Parse(strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/"))
	if err != nil || base.Scheme == "" || base.Host == "" {
		return nil, fmt.Errorf("client: invalid base url %q", cfg.BaseURL)
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultTimeout
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = defaultPollInterval
	}
	if cfg.PollMaxAttempts <= 0 {
		cfg.PollMaxAttempts = defaultPollMaxAttempts
	}
	c := &Client{
		cfg:        cfg,
		baseURL:    base,
		httpClient: &http.Client{Timeout: cfg.Timeout},
		logger:     logging.NewNop(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// Status returns the daemon status.
func (c *Client) Status(ctx context.Context) (*api.DaemonStatus, error) {
	var out api.DaemonStatus
	if err := c.do(ctx, http.MethodGet, "/api/status", nil, nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// ListChapters returns the chapters of a story. An empty language lets the
// daemon pick the first available one.
func (c *Client) ListChapters(ctx context.Context, storyID, language string) (*api.ListChaptersResponse, error) {
	var query url.Values
	if language != "" {
		query = url.Values{"language": {language}}
	}
	var out api.ListChaptersResponse
	if err := c.do(ctx, http.MethodGet, chaptersPath(storyID), query, nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Generate runs a synchronous generation. When every chapter fails the
// response is still returned alongside the error so failed indices are visible.
func (c *Client) Generate(ctx context.Context, storyID string, req api.GenerateRequest) (*api.GenerateResponse, error) {
	req.Async = false
	var out api.GenerateResponse
	err := c.do(ctx, http.MethodPost, chaptersPath(storyID), nil, req, &out)
	var apiErr *APIError
	if err != nil && !(errors.As(err, &apiErr) && apiErr.Status == http.StatusBadGateway) {
		return nil, err
	}
	return &out, err
}

// Submit queues an asynchronous generation.
func (c *Client) Submit(ctx context.Context, storyID string, req api.GenerateRequest) (*api.JobAccepted, error) {
	req.Async = true
	var out api.JobAccepted
	if err := c.do(ctx, http.MethodPost, chaptersPath(storyID), nil, req, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// DeleteChapters removes a story's chapters, limited to one language when set.
func (c *Client) DeleteChapters(ctx context.Context, storyID, language string) (int, error) {
	var query url.Values
	if language != "" {
		query = url.Values{"language": {language}}
	}
	var out api.DeleteResponse
	if err := c.do(ctx, http.MethodDelete, chaptersPath(storyID), query, nil, &out); err != nil {
		return 0, err
	}
	return out.Deleted, nil
}

// Job returns a job's status.
func (c *Client) Job(ctx context.Context, id string) (*api.JobStatus, error) {
	var out api.JobStatus
	if err := c.do(ctx, http.MethodGet, "/api/jobs/"+url.PathEscape(id), nil, nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// RetryJob resubmits a failed job.
func (c *Client) RetryJob(ctx context.Context, id string) (*api.JobStatus, error) {
	var out api.JobStatus
	if err := c.do(ctx, http.MethodPost, "/api/jobs/"+url.PathEscape(id)+"/retry", nil, nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// WaitForJob polls a job at a fixed interval until it completes or fails.
// It returns ErrJobTimeout after the configured number of polls and ctx.Err()
// when ctx ends; neither cancels the job. onPoll, when set, sees every status.
func (c *Client) WaitForJob(ctx context.Context, id string, onPoll func(api.JobStatus)) (*api.JobStatus, error) {
	ticker := time.NewTicker(c.cfg.PollInterval)
	defer ticker.Stop()

	var last *api.JobStatus
	for attempt := 1; ; attempt++ {
		job, err := c.Job(ctx, id)
		if err != nil {
			return last, err
		}
		last = job
		if onPoll != nil {
			onPoll(*job)
		}
		if job.Terminal() {
			return job, nil
		}
		if attempt >= c.cfg.PollMaxAttempts {
			return job, fmt.Errorf("job %s after %d polls: %w", id, attempt, ErrJobTimeout)
		}
		select {
		case <-ctx.Done():
			return job, ctx.Err()
		case <-ticker.C:
		}
	}
}

// FetchAudio downloads a chapter's full audio from its audioUrl path.
func (c *Client) FetchAudio(ctx context.Context, audioURL string) ([]byte, string, error) {
	resp, err := c.send(ctx, http.MethodGet, c.resolve(audioURL, nil), nil)
	if err != nil {
		return nil, "", err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, "", decodeError(resp).APIError
	}
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, "", fmt.Errorf("client: read audio: %w", err)
	}
	return data, resp.Header.Get("Content-Type"), nil
}

func (c *Client) do(ctx context.Context, method, path string, query url.Values, body, out any) error {
	var payload io.Reader
	if body != nil {
		encoded, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("client: encode request: %w", err)
		}
		payload = bytes.NewReader(encoded)
	}
	resp, err := c.send(ctx, method, c.resolve(path, query), payload)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= http.StatusBadRequest {
		apiErr := decodeError(resp)
		// Partial generation results ride along with a 502.
		if resp.StatusCode == http.StatusBadGateway && out != nil && len(apiErr.body) > 0 {
			_ = json.Unmarshal(apiErr.body, out)
		}
		return apiErr.APIError
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("client: decode %s %s: %w", method, path, err)
	}
	return nil
}

func (c *Client) send(ctx context.Context, method, target string, body io.Reader) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, method, target, body)
	if err != nil {
		return nil, fmt.Errorf("client: new request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")
	if c.cfg.Token != "" {
		req.Header.Set("Authorization", "Bearer "+c.cfg.Token)
	}
	started := time.Now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("client: %s %s: %w", method, req.URL.Path, err)
	}
	c.logger.Debug("daemon request",
		logging.String("method", method),
		logging.String("path", req.URL.Path),
		logging.Int("status", resp.StatusCode),
		logging.Duration("elapsed", time.Since(started)),
	)
	return resp, nil
}

func (c *Client) resolve(path string, query url.Values) string {
	u := *c.baseURL
	u.RawPath = ""
	u.Path = ""
	ref, err := url.Parse(path)
	if err != nil {
		ref = &url.URL{Path: path}
	}
	resolved := u.ResolveReference(ref)
	if len(query) > 0 {
		resolved.RawQuery = query.Encode()
	}
	return resolved.String()
}

type errorResponse struct {
	*APIError
	body []byte
}

func decodeError(resp *http.Response) errorResponse {
	body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBodyBytes))
	apiErr := &APIError{Status: resp.StatusCode}
	var payload api.ErrorResponse
	if json.Unmarshal(body, &payload) == nil && payload.Error != "" {
		apiErr.Message = payload.Error
	} else {
		apiErr.Message = strings.TrimSpace(string(body))
	}
	return errorResponse{APIError: apiErr, body: body}
}

func chaptersPath(storyID string) string {
	return "/api/stories/" + url.PathEscape(storyID) + "/chapters"
}
