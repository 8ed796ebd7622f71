package http

import (
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/scttfrdmn/investdesk/desk"
)

const writeWait = 10 * time.Second

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// streamConn serializes writes; gorilla connections allow one writer.
type streamConn struct {
	conn *websocket.Conn
	mu   sync.Mutex
}

func (c *streamConn) send(event Event) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.conn.SetWriteDeadline(time.Now().Add(writeWait))
	return c.conn.WriteJSON(event)
}

// handleStream reads one SubmitRequest frame, runs it and streams every
// history entry as a "message" event, then the terminal session as a
// "session" event. Problems are sent as an "error" event before closing.
func (s *Server) handleStream(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.ErrorContext(r.Context(), "websocket upgrade failed", "error", err)
		return
	}
	defer conn.Close()
	c := &streamConn{conn: conn}

	var req SubmitRequest
	if err := conn.ReadJSON(&req); err != nil {
		c.send(Event{Type: EventError, Payload: map[string]any{"error": "invalid request: " + err.Error()}})
		return
	}

	session, err := s.run(r.Context(), r, req, func(m desk.Message) {
		if err := c.send(Event{Type: EventMessage, Payload: m}); err != nil {
			s.logger.WarnContext(r.Context(), "failed to stream message", "error", err)
		}
	})
	if err != nil {
		payload := map[string]any{"error": err.Error()}
		var cfgErr *desk.ConfigurationError
		if errors.As(err, &cfgErr) {
			payload["error"] = cfgErr.Reason
			payload["configuration"] = true
		}
		if session != nil {
			payload["session"] = session
		}
		c.send(Event{Type: EventError, Payload: payload})
		return
	}

	if err := c.send(Event{Type: EventSession, Payload: session}); err != nil {
		s.logger.WarnContext(r.Context(), "failed to stream session", "error", err)
		return
	}
	c.mu.Lock()
	conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(writeWait))
	c.mu.Unlock()
}
