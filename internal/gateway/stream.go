package gateway

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
)

// Stream is one open push channel delivering raw event frames in arrival
// order. Recv blocks until the next frame, io.EOF on orderly shutdown, or
// an error when the channel drops.
type Stream interface {
	Recv() (json.RawMessage, error)
	Close() error
}

// OpenStream opens the SSE push channel for a run via GET /runs/{id}/stream.
func (c *Client) OpenStream(ctx context.Context, runID string) (Stream, error) {
	url := fmt.Sprintf("%s/runs/%s/stream", c.baseURL, runID)
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	httpReq.Header.Set("Accept", "text/event-stream")

	resp, err := c.streamClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("failed to open stream: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		defer resp.Body.Close()
		return nil, backendError(resp)
	}

	return &sseStream{body: resp.Body, scanner: bufio.NewScanner(resp.Body)}, nil
}

// sseStream parses a text/event-stream body frame by frame.
type sseStream struct {
	body    io.ReadCloser
	scanner *bufio.Scanner
}

// Recv reads lines until the blank separator and returns the accumulated
// data payload. Comment lines and unknown fields are skipped.
func (s *sseStream) Recv() (json.RawMessage, error) {
	var data string

	for s.scanner.Scan() {
		line := s.scanner.Text()

		// Empty line marks end of event
		if line == "" {
			if data != "" {
				return json.RawMessage(data), nil
			}
			continue
		}

		if strings.HasPrefix(line, "data:") {
			chunk := strings.TrimSpace(strings.TrimPrefix(line, "data:"))
			if data != "" {
				data += "\n" + chunk
			} else {
				data = chunk
			}
		}
		// Ignore comments (lines starting with :) and other fields
	}

	if data != "" {
		return json.RawMessage(data), nil
	}
	if err := s.scanner.Err(); err != nil {
		return nil, err
	}
	return nil, io.EOF
}

func (s *sseStream) Close() error {
	return s.body.Close()
}
