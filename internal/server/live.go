package server

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"archivist/internal/pipeline"
)

const liveWriteWait = 5 * time.Second

type liveMessage struct {
	Type      string `json:"type"`
	SessionID string `json:"session_id,omitempty"`
	Text      string `json:"text,omitempty"`
	Error     string `json:"error,omitempty"`
}

type liveConn struct {
	conn *websocket.Conn
	mu   sync.Mutex
}

func (c *liveConn) send(msg liveMessage) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	_ = c.conn.SetWriteDeadline(time.Now().Add(liveWriteWait))
	return c.conn.WriteJSON(msg)
}

// handleLive records a live session. Binary frames are audio appended to the
// session; a text frame {"type":"stop"} ends the recording like a disconnect.
// Interim transcripts are pushed every live.partial_interval_ms. When the
// stream ends the full pipeline is queued, detached from the connection.
func (s *Server) handleLive(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("websocket upgrade failed", "err", err)
		return
	}
	defer conn.Close()
	lc := &liveConn{conn: conn}

	live, err := s.runner.StartLive(r.Context())
	if err != nil {
		_ = lc.send(liveMessage{Type: "error", Error: err.Error()})
		return
	}
	if err := lc.send(liveMessage{Type: "session", SessionID: live.ID}); err != nil {
		s.finalizeLive(live)
		return
	}

	ctx, cancel := context.WithCancel(r.Context())
	partials := make(chan struct{})
	go func() {
		defer close(partials)
		s.emitPartials(ctx, live, lc)
	}()

	for {
		mt, data, err := conn.ReadMessage()
		if err != nil {
			break
		}
		if mt == websocket.BinaryMessage {
			if _, err := live.Write(data); err != nil {
				s.logger.Warn("live audio write failed", "session_id", live.ID, "err", err)
				break
			}
			continue
		}
		var msg liveMessage
		if json.Unmarshal(data, &msg) == nil && msg.Type == "stop" {
			break
		}
	}
	cancel()
	<-partials

	if job := s.finalizeLive(live); job != nil {
		_ = lc.send(liveMessage{Type: "finalizing", SessionID: live.ID})
	}
}

func (s *Server) finalizeLive(live *pipeline.LiveSession) *pipeline.Job {
	job, err := s.runner.FinalizeLive(s.pool, live)
	if err != nil {
		s.logger.Error("live finalization not queued", "session_id", live.ID, "err", err)
		return nil
	}
	return job
}

func (s *Server) emitPartials(ctx context.Context, live *pipeline.LiveSession, lc *liveConn) {
	interval := s.settings.Current().PartialInterval()
	if interval <= 0 {
		return
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	var lastSize int64
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
		size := live.Written()
		if size == 0 || size == lastSize {
			continue
		}
		lastSize = size
		text, err := live.Partial(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			s.logger.Warn("partial transcript failed", "session_id", live.ID, "err", err)
			continue
		}
		if text == "" {
			continue
		}
		if err := lc.send(liveMessage{Type: "partial", SessionID: live.ID, Text: text}); err != nil {
			return
		}
	}
}
