// Package gatewaytest provides a scripted fake run backend for tests. It
// serves the same surface as the real backend: start endpoints, the
// authoritative run record, cancellation, and both push flavors (SSE and
// WebSocket).
package gatewaytest

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"

	"github.com/heidi-dang/Agents-loop-logic/internal/domain"
)

// Run is one scripted run.
type Run struct {
	ID     string
	Frames []domain.Envelope
	Status string // backend status once all frames are delivered
	Result string
	Error  string

	// DropStreamAfter ends the push stream abruptly after N frames when
	// >= 0, simulating a transport drop.
	DropStreamAfter int

	// HoldOpen keeps the push stream open after the frames instead of
	// closing it, until the run is cancelled or the client goes away.
	HoldOpen bool

	cancelled  bool
	cancelled2 chan struct{}
}

// Server is the fake backend.
type Server struct {
	srv *httptest.Server

	mu            sync.Mutex
	runs          map[string]*Run
	pending       []string // scripted runs not yet claimed by a start call
	failStream    bool
	failDetails   int
	ignoreCancels bool
	cancels       int
}

// New starts the fake backend on an ephemeral port.
func New() *Server {
	s := &Server{runs: make(map[string]*Run)}

	e := echo.New()
	e.HideBanner = true
	e.POST("/run", s.handleStart)
	e.POST("/loop", s.handleStart)
	e.GET("/runs/:id", s.handleDetail)
	e.POST("/runs/:id/cancel", s.handleCancel)
	e.GET("/runs/:id/stream", s.handleStream)
	e.GET("/runs/:id/ws", s.handleSocket)

	s.srv = httptest.NewServer(e)
	return s
}

// URL returns the backend base URL.
func (s *Server) URL() string { return s.srv.URL }

// Close shuts the backend down.
func (s *Server) Close() { s.srv.Close() }

// Script registers a run. DropStreamAfter defaults to "never".
func (s *Server) Script(r *Run) *Run {
	if r.DropStreamAfter == 0 {
		r.DropStreamAfter = -1
	}
	r.cancelled2 = make(chan struct{})
	s.mu.Lock()
	defer s.mu.Unlock()
	s.runs[r.ID] = r
	s.pending = append(s.pending, r.ID)
	return r
}

// FailStream makes the stream endpoints refuse with 500.
func (s *Server) FailStream(fail bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failStream = fail
}

// FailDetails makes the next n run-record fetches return 500.
func (s *Server) FailDetails(n int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failDetails = n
}

// IgnoreCancels accepts cancel requests without acting on them, for
// cancellation-timeout tests.
func (s *Server) IgnoreCancels(ignore bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ignoreCancels = ignore
}

// Cancels reports how many cancel requests were received.
func (s *Server) Cancels() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cancels
}

func (s *Server) handleStart(c echo.Context) error {
	var req struct {
		Prompt    string `json:"prompt"`
		RequestID string `json:"request_id"`
	}
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "bad request"})
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.pending) == 0 {
		return c.JSON(http.StatusServiceUnavailable, map[string]string{"error": "no scripted run"})
	}
	id := s.pending[0]
	s.pending = s.pending[1:]
	return c.JSON(http.StatusOK, map[string]string{"run_id": id, "status": "running"})
}

func (s *Server) handleDetail(c echo.Context) error {
	s.mu.Lock()
	if s.failDetails > 0 {
		s.failDetails--
		s.mu.Unlock()
		return c.JSON(http.StatusInternalServerError, map[string]string{"error": "backend unavailable"})
	}
	run, ok := s.runs[c.Param("id")]
	if !ok {
		s.mu.Unlock()
		return c.JSON(http.StatusNotFound, map[string]string{"error": "run not found"})
	}

	status := run.Status
	if run.cancelled {
		status = "cancelled"
	} else if run.HoldOpen {
		status = "running"
	}
	detail := domain.RunDetail{
		RunID:  run.ID,
		Meta:   domain.RunMeta{Status: status},
		Events: append([]domain.Envelope(nil), run.Frames...),
		Result: run.Result,
		Error:  run.Error,
	}
	s.mu.Unlock()
	return c.JSON(http.StatusOK, detail)
}

func (s *Server) handleCancel(c echo.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cancels++
	run, ok := s.runs[c.Param("id")]
	if !ok {
		return c.JSON(http.StatusNotFound, map[string]string{"error": "run not found"})
	}
	if s.ignoreCancels {
		return c.JSON(http.StatusAccepted, map[string]string{"run_id": run.ID, "status": "running"})
	}
	if !run.cancelled {
		run.cancelled = true
		close(run.cancelled2)
	}
	return c.JSON(http.StatusOK, map[string]string{"run_id": run.ID, "status": "cancelled"})
}

func (s *Server) handleStream(c echo.Context) error {
	s.mu.Lock()
	if s.failStream {
		s.mu.Unlock()
		return c.JSON(http.StatusInternalServerError, map[string]string{"error": "stream unavailable"})
	}
	run, ok := s.runs[c.Param("id")]
	s.mu.Unlock()
	if !ok {
		return c.JSON(http.StatusNotFound, map[string]string{"error": "run not found"})
	}

	resp := c.Response()
	resp.Header().Set(echo.HeaderContentType, "text/event-stream")
	resp.Header().Set("Cache-Control", "no-cache")
	resp.WriteHeader(http.StatusOK)

	for i, frame := range run.Frames {
		if run.DropStreamAfter >= 0 && i >= run.DropStreamAfter {
			// Abrupt drop, mid-run.
			return nil
		}
		data, err := json.Marshal(frame)
		if err != nil {
			continue
		}
		fmt.Fprintf(resp, "data: %s\n\n", data)
		resp.Flush()
	}

	if run.HoldOpen {
		select {
		case <-run.cancelled2:
		case <-c.Request().Context().Done():
		}
	}
	return nil
}

var upgrader = websocket.Upgrader{}

func (s *Server) handleSocket(c echo.Context) error {
	s.mu.Lock()
	if s.failStream {
		s.mu.Unlock()
		return c.JSON(http.StatusInternalServerError, map[string]string{"error": "stream unavailable"})
	}
	run, ok := s.runs[c.Param("id")]
	s.mu.Unlock()
	if !ok {
		return c.JSON(http.StatusNotFound, map[string]string{"error": "run not found"})
	}

	conn, err := upgrader.Upgrade(c.Response(), c.Request(), nil)
	if err != nil {
		return err
	}
	defer conn.Close()

	for i, frame := range run.Frames {
		if run.DropStreamAfter >= 0 && i >= run.DropStreamAfter {
			return nil
		}
		data, err := json.Marshal(frame)
		if err != nil {
			continue
		}
		if err := conn.WriteMessage(websocket.TextMessage, data); err != nil {
			return nil
		}
	}

	if run.HoldOpen {
		select {
		case <-run.cancelled2:
		case <-c.Request().Context().Done():
		}
	}
	conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(time.Second))
	return nil
}
