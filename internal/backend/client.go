// Package backend is the HTTP client for the external AI coaching
// service. It classifies transport failures so callers can map them to
// the error taxonomy without inspecting raw transport errors.
package backend

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"
)

// DefaultTimeout is the per-call budget for backend requests.
const DefaultTimeout = 30 * time.Second

// Sentinel errors for transport-level failure classes.
var (
	// ErrTimeout means the call exceeded its time budget. The in-flight
	// request is abandoned; no partial result is used.
	ErrTimeout = errors.New("backend: request timed out")

	// ErrUnavailable means the backend could not be reached at all
	// (connection refused, unresolved host).
	ErrUnavailable = errors.New("backend: unavailable")
)

// UpstreamError means the backend answered with a non-2xx status.
type UpstreamError struct {
	Status int
	Body   string
}

func (e *UpstreamError) Error() string {
	return fmt.Sprintf("backend: upstream returned %d: %s", e.Status, e.Body)
}

// ChatResult is the backend's answer to one conversational turn.
type ChatResult struct {
	Response     string `json:"response"`
	CurrentState string `json:"current_state"`
}

// Client calls the AI backend. It never retries; retry policy belongs
// to the caller.
type Client struct {
	baseURL    string
	httpClient *http.Client
}

// Opts holds parameters for creating a Client.
type Opts struct {
	BaseURL string
	Timeout time.Duration // defaults to DefaultTimeout
	// For testing: inject a transport instead of the default.
	Transport http.RoundTripper
}

// New creates a backend Client.
func New(opts Opts) (*Client, error) {
	if opts.BaseURL == "" {
		return nil, fmt.Errorf("backend: base URL is required")
	}
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &Client{
		baseURL: opts.BaseURL,
		httpClient: &http.Client{
			Timeout:   timeout,
			Transport: opts.Transport,
		},
	}, nil
}

// Chat sends one user message and returns the backend's response and
// reported conversation state.
func (c *Client) Chat(ctx context.Context, userID, message string) (*ChatResult, error) {
	body, err := json.Marshal(map[string]string{
		"user_id": userID,
		"message": message,
	})
	if err != nil {
		return nil, fmt.Errorf("backend: marshal chat request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/api/chat", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("backend: build chat request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, classify(err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, readUpstreamError(resp)
	}

	var result ChatResult
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, fmt.Errorf("backend: decode chat response: %w", err)
	}
	return &result, nil
}

// Register announces a user to the backend so it can track their
// conversation state. 2xx means success.
func (c *Client) Register(ctx context.Context, userID string) error {
	u := fmt.Sprintf("%s/api/users?user_id=%s", c.baseURL, url.QueryEscape(userID))
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, u, nil)
	if err != nil {
		return fmt.Errorf("backend: build register request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return classify(err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return readUpstreamError(resp)
	}
	return nil
}

// Health reports whether the backend answers its health probe.
func (c *Client) Health(ctx context.Context) bool {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/health", nil)
	if err != nil {
		return false
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return false
	}
	defer resp.Body.Close()

	var status struct {
		Status string `json:"status"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&status); err != nil {
		return false
	}
	return status.Status == "healthy"
}

// classify maps a transport error onto the timeout/unavailable split.
// A caller-cancelled context is passed through as cancellation, not
// misreported as a backend outage.
func classify(err error) error {
	if errors.Is(err, context.Canceled) {
		return context.Canceled
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return ErrTimeout
	}
	var uerr *url.Error
	if errors.As(err, &uerr) && uerr.Timeout() {
		return ErrTimeout
	}
	return fmt.Errorf("%w: %v", ErrUnavailable, err)
}

// readUpstreamError drains the response body into an UpstreamError.
// The body is capped so a misbehaving backend can't flood memory.
func readUpstreamError(resp *http.Response) error {
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
	return &UpstreamError{Status: resp.StatusCode, Body: string(body)}
}
