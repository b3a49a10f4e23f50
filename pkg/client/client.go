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
	"time"

	"github.com/loykin/livesync/internal/state"
)

// Client provides HTTP client functionality to communicate with the
// dashboard backend REST API. Transient failures (network errors, 429
// and 5xx responses) are retried with capped exponential delay.
type Client struct {
	baseURL    string
	client     *http.Client
	logger     *slog.Logger
	maxRetries int
	baseDelay  time.Duration
	maxDelay   time.Duration
}

// Config holds client configuration
type Config struct {
	BaseURL        string
	Timeout        time.Duration
	Logger         *slog.Logger // Optional logger for client operations
	MaxRetries     int          // Attempts beyond the first request
	RetryBaseDelay time.Duration
	RetryMaxDelay  time.Duration
}

// DefaultConfig returns default client configuration
func DefaultConfig() Config {
	return Config{
		BaseURL:        "http://localhost:8000/api",
		Timeout:        10 * time.Second,
		MaxRetries:     3,
		RetryBaseDelay: 300 * time.Millisecond,
		RetryMaxDelay:  5 * time.Second,
	}
}

// New creates a new dashboard API client
func New(config Config) *Client {
	if config.BaseURL == "" {
		config.BaseURL = "http://localhost:8000/api"
	}
	if config.Timeout == 0 {
		config.Timeout = 10 * time.Second
	}
	if config.Logger == nil {
		config.Logger = slog.Default()
	}
	if config.RetryBaseDelay <= 0 {
		config.RetryBaseDelay = 300 * time.Millisecond
	}
	if config.RetryMaxDelay <= 0 {
		config.RetryMaxDelay = 5 * time.Second
	}
	return &Client{
		baseURL:    config.BaseURL,
		client:     &http.Client{Timeout: config.Timeout},
		logger:     config.Logger,
		maxRetries: config.MaxRetries,
		baseDelay:  config.RetryBaseDelay,
		maxDelay:   config.RetryMaxDelay,
	}
}

// SystemStatus fetches the current system health snapshot.
func (c *Client) SystemStatus(ctx context.Context) (state.SystemStatus, error) {
	var out state.SystemStatus
	if err := c.doJSON(ctx, http.MethodGet, "/system/status", nil, &out); err != nil {
		return state.SystemStatus{}, err
	}
	if out.LastUpdated.IsZero() {
		out.LastUpdated = time.Now().UTC()
	}
	return out, nil
}

// Agents lists every known agent with its current status.
func (c *Client) Agents(ctx context.Context) ([]state.Agent, error) {
	var out []state.Agent
	if err := c.doJSON(ctx, http.MethodGet, "/agents", nil, &out); err != nil {
		return nil, err
	}
	now := time.Now().UTC()
	for i := range out {
		if out[i].LastUpdated.IsZero() {
			out[i].LastUpdated = now
		}
	}
	return out, nil
}

// AgentStatus fetches the status of a single agent.
func (c *Client) AgentStatus(ctx context.Context, agentID string) (state.Agent, error) {
	if agentID == "" {
		return state.Agent{}, errors.New("agent id is required")
	}
	var out state.Agent
	path := "/agents/" + url.PathEscape(agentID) + "/status"
	if err := c.doJSON(ctx, http.MethodGet, path, nil, &out); err != nil {
		return state.Agent{}, err
	}
	if out.ID == "" {
		out.ID = agentID
	}
	if out.LastUpdated.IsZero() {
		out.LastUpdated = time.Now().UTC()
	}
	return out, nil
}

// ExecuteResult is the backend's response to an agent execution request.
type ExecuteResult struct {
	TaskID               string  `json:"task_id"`
	Status               string  `json:"status"`
	Result               string  `json:"result"`
	Error                string  `json:"error"`
	ExecutionTimeSeconds float64 `json:"execution_time_seconds"`
}

// ToTaskRecord converts the execution result into a history record.
func (r ExecuteResult) ToTaskRecord(agentID string) state.TaskRecord {
	return state.TaskRecord{
		ID:               r.TaskID,
		AgentID:          agentID,
		Status:           r.Status,
		Result:           r.Result,
		Error:            r.Error,
		ExecutionSeconds: r.ExecutionTimeSeconds,
		CompletedAt:      time.Now().UTC(),
	}
}

// Execute runs an agent with the given parameters and waits for the result.
func (c *Client) Execute(ctx context.Context, agentID string, params json.RawMessage) (ExecuteResult, error) {
	if agentID == "" {
		return ExecuteResult{}, errors.New("agent id is required")
	}
	body := map[string]json.RawMessage{}
	if len(params) > 0 {
		body["parameters"] = params
	}
	var out ExecuteResult
	path := "/agents/" + url.PathEscape(agentID) + "/execute"
	if err := c.doJSON(ctx, http.MethodPost, path, body, &out); err != nil {
		return ExecuteResult{}, err
	}
	return out, nil
}

// doJSON performs one API call with retry on transient failures. Request
// bodies are re-encoded per attempt so retries never reuse a drained reader.
func (c *Client) doJSON(ctx context.Context, method, path string, in, out any) error {
	var lastErr error
	for attempt := 0; ; attempt++ {
		if attempt > 0 {
			delay := c.baseDelay << (attempt - 1)
			if delay > c.maxDelay {
				delay = c.maxDelay
			}
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(delay):
			}
			c.logger.Debug("retrying request", "method", method, "path", path, "attempt", attempt)
		}

		err := c.attempt(ctx, method, path, in, out)
		if err == nil {
			return nil
		}
		lastErr = err
		var re *retryableError
		if !errors.As(err, &re) || attempt >= c.maxRetries {
			break
		}
	}
	c.logger.Error("request failed", "method", method, "path", path, "error", lastErr)
	return lastErr
}

// retryableError marks failures worth another attempt.
type retryableError struct{ err error }

func (e *retryableError) Error() string { return e.err.Error() }
func (e *retryableError) Unwrap() error { return e.err }

func (c *Client) attempt(ctx context.Context, method, path string, in, out any) error {
	var body io.Reader
	if in != nil {
		buf, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("encode request: %w", err)
		}
		body = bytes.NewReader(buf)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return &retryableError{err: err}
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500 {
		return &retryableError{err: fmt.Errorf("%s %s: unexpected status %d", method, path, resp.StatusCode)}
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		data, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return fmt.Errorf("%s %s: status %d: %s", method, path, resp.StatusCode, bytes.TrimSpace(data))
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}
