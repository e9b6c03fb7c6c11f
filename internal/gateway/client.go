// Package gateway provides the HTTP client for the run backend: starting
// runs, fetching the authoritative run record, opening push streams and
// requesting cancellation.
package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/heidi-dang/Agents-loop-logic/internal/domain"
)

// Client is an HTTP client for the run backend.
type Client struct {
	baseURL    string
	httpClient *http.Client

	// streamClient has no overall timeout; push streams stay open for the
	// lifetime of a run and are bounded by the request context instead.
	streamClient *http.Client

	retries int
	backoff time.Duration
}

// NewClient creates a new gateway client with the default retry policy
// (2 retries, 500ms exponential backoff) for start calls.
func NewClient(baseURL string) *Client {
	return &Client{
		baseURL:      strings.TrimSuffix(baseURL, "/"),
		httpClient:   &http.Client{Timeout: 30 * time.Second},
		streamClient: &http.Client{},
		retries:      2,
		backoff:      500 * time.Millisecond,
	}
}

// SetRetryPolicy overrides the bounded retry policy used by StartRun and
// StartLoop.
func (c *Client) SetRetryPolicy(retries int, backoff time.Duration) {
	c.retries = retries
	c.backoff = backoff
}

// StartRequest is the request body for starting a run.
type StartRequest struct {
	Prompt    string            `json:"prompt"`
	RequestID string            `json:"request_id,omitempty"`
	Context   map[string]string `json:"context,omitempty"`
}

// StartResponse is the backend's acknowledgement of a started run.
type StartResponse struct {
	RunID  string `json:"run_id"`
	Status string `json:"status"`
	Result string `json:"result,omitempty"`
	Error  string `json:"error,omitempty"`
}

// ErrorResponse is an error body from the backend.
type ErrorResponse struct {
	Error string `json:"error"`
}

// StartRun calls POST /run to start a single-pass run.
func (c *Client) StartRun(ctx context.Context, req *StartRequest) (*StartResponse, error) {
	return c.start(ctx, "/run", req)
}

// StartLoop calls POST /loop to start a plan/execute/audit loop run.
func (c *Client) StartLoop(ctx context.Context, req *StartRequest) (*StartResponse, error) {
	return c.start(ctx, "/loop", req)
}

func (c *Client) start(ctx context.Context, path string, req *StartRequest) (*StartResponse, error) {
	if req.RequestID == "" {
		req.RequestID = "req_" + uuid.New().String()[:8]
	}
	body, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal start request: %w", err)
	}

	// Transient failures are retried with exponential backoff before being
	// surfaced; the request ID keeps retries idempotent on the backend.
	var lastErr error
	for attempt := 0; attempt <= c.retries; attempt++ {
		if attempt > 0 {
			delay := c.backoff * time.Duration(1<<(attempt-1))
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(delay):
			}
		}

		var resp StartResponse
		if lastErr = c.postJSON(ctx, path, body, &resp); lastErr == nil {
			return &resp, nil
		}
	}
	return nil, fmt.Errorf("failed to start run after %d attempts: %w", c.retries+1, lastErr)
}

// GetRunDetails calls GET /runs/{id} and returns the full authoritative run
// record, including the complete ordered event log.
func (c *Client) GetRunDetails(ctx context.Context, runID string) (*domain.RunDetail, error) {
	url := fmt.Sprintf("%s/runs/%s", c.baseURL, runID)
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch run: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, backendError(resp)
	}

	var detail domain.RunDetail
	if err := json.NewDecoder(resp.Body).Decode(&detail); err != nil {
		return nil, fmt.Errorf("failed to decode run detail: %w", err)
	}
	if detail.RunID == "" {
		detail.RunID = runID
	}
	return &detail, nil
}

// CancelRun calls POST /runs/{id}/cancel. Best effort: a successful return
// means the request was accepted, not that the run has stopped.
func (c *Client) CancelRun(ctx context.Context, runID string) error {
	url := fmt.Sprintf("%s/runs/%s/cancel", c.baseURL, runID)
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, nil)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return fmt.Errorf("failed to cancel run: %w", err)
	}
	defer resp.Body.Close()

	// A run that already reached a terminal state reports conflict; the
	// cancel is then a no-op, not a failure.
	if resp.StatusCode == http.StatusConflict {
		return nil
	}
	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusAccepted {
		return backendError(resp)
	}
	return nil
}

func (c *Client) postJSON(ctx context.Context, path string, body []byte, out interface{}) error {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return fmt.Errorf("failed to call backend: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return backendError(resp)
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	return nil
}

func backendError(resp *http.Response) error {
	respBody, _ := io.ReadAll(resp.Body)
	var errResp ErrorResponse
	if json.Unmarshal(respBody, &errResp) == nil && errResp.Error != "" {
		return fmt.Errorf("backend error: %s", errResp.Error)
	}
	return fmt.Errorf("backend returned status %d: %s", resp.StatusCode, string(respBody))
}
