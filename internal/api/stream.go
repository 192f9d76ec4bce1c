package api

import (
	"context"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"github.com/talgya/worldhistory/internal/engine"
)

const (
	maxStreams     = 2
	streamCatchUp  = 50
	streamPing     = 15 * time.Second
	streamDeadline = 5 * time.Second
)

type streamCounter struct {
	n atomic.Int32
}

func (c *streamCounter) acquire() bool {
	if c.n.Add(1) > maxStreams {
		c.n.Add(-1)
		return false
	}
	return true
}

func (c *streamCounter) release() { c.n.Add(-1) }

var upgrader = websocket.Upgrader{
	ReadBufferSize:  4 * 1024,
	WriteBufferSize: 16 * 1024,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// handleStream pushes chronicle events over a websocket as they are
// recorded. Browsers cannot set headers on websocket requests, so the relay
// key is also accepted as the key query parameter.
func (s *Server) handleStream(w http.ResponseWriter, r *http.Request) {
	if s.RelayKey == "" {
		http.Error(w, "streaming disabled (no relay key)", http.StatusForbidden)
		return
	}
	if !bearerMatches(r, s.RelayKey) && r.URL.Query().Get("key") != s.RelayKey {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}
	if !s.streams.acquire() {
		http.Error(w, "too many stream connections", http.StatusServiceUnavailable)
		return
	}
	defer s.streams.release()

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	defer conn.Close()

	subID, ch := s.Sim.Subscribe()
	defer s.Sim.Unsubscribe(subID)

	var backlog []engine.Event
	s.Sim.View(func(sim *engine.Simulation) {
		start := len(sim.Chronicle) - streamCatchUp
		if start < 0 {
			start = 0
		}
		backlog = append(backlog, sim.Chronicle[start:]...)
	})

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	// Reader: consumes control frames and notices the client leaving.
	go func() {
		defer cancel()
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	write := func(e engine.Event) error {
		_ = conn.SetWriteDeadline(time.Now().Add(streamDeadline))
		return conn.WriteJSON(e)
	}
	for _, e := range backlog {
		if err := write(e); err != nil {
			return
		}
	}

	ping := time.NewTicker(streamPing)
	defer ping.Stop()

	for {
		select {
		case e, ok := <-ch:
			if !ok {
				return
			}
			if err := write(e); err != nil {
				return
			}
		case <-ping.C:
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(streamDeadline)); err != nil {
				return
			}
		case <-ctx.Done():
			_ = conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, "bye"), time.Now().Add(time.Second))
			return
		}
	}
}
