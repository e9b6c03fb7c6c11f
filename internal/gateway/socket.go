package gateway

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/gorilla/websocket"
)

// OpenSocket opens the WebSocket push channel for a run at /runs/{id}/ws.
// It delivers the same envelopes as the SSE stream, one per text message.
func (c *Client) OpenSocket(ctx context.Context, runID string) (Stream, error) {
	url := fmt.Sprintf("%s/runs/%s/ws", wsBaseURL(c.baseURL), runID)
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, url, nil)
	if err != nil {
		return nil, fmt.Errorf("dial: %w", err)
	}
	return &wsStream{conn: conn}, nil
}

type wsStream struct {
	conn *websocket.Conn
}

func (s *wsStream) Recv() (json.RawMessage, error) {
	_, data, err := s.conn.ReadMessage()
	if err != nil {
		if websocket.IsCloseError(err, websocket.CloseNormalClosure) {
			return nil, io.EOF
		}
		return nil, err
	}
	return json.RawMessage(data), nil
}

func (s *wsStream) Close() error {
	// Best-effort close handshake before dropping the connection.
	deadline := time.Now().Add(time.Second)
	s.conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), deadline)
	return s.conn.Close()
}

func wsBaseURL(base string) string {
	switch {
	case strings.HasPrefix(base, "https://"):
		return "wss://" + strings.TrimPrefix(base, "https://")
	case strings.HasPrefix(base, "http://"):
		return "ws://" + strings.TrimPrefix(base, "http://")
	}
	return base
}
