package api

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  64 * 1024,
	WriteBufferSize: 64 * 1024,
	// CORS is enforced by the surrounding middleware; the stream itself
	// carries no privileged data.
	CheckOrigin: func(r *http.Request) bool { return true },
}

const (
	streamWriteWait   = 10 * time.Second
	streamPingEvery   = 30 * time.Second
	streamCatchUpSize = 50
)

// handleStream upgrades to a websocket and pushes the live event feed.
// New connections first receive the recent event window, then live
// events as they happen.
func (s *Server) handleStream(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		slog.Warn("stream upgrade failed", "error", err, "remote", r.RemoteAddr)
		return
	}
	defer conn.Close()

	id, ch := s.Core.Events.Subscribe()
	defer s.Core.Events.Unsubscribe(id)

	slog.Debug("stream connected", "remote", r.RemoteAddr, "sub", id)

	// Read pump: we never expect client data, but reading is required to
	// process close frames and detect dead peers.
	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	for _, e := range s.Core.Events.Recent(streamCatchUpSize) {
		conn.SetWriteDeadline(time.Now().Add(streamWriteWait))
		if err := conn.WriteJSON(e); err != nil {
			return
		}
	}

	ping := time.NewTicker(streamPingEvery)
	defer ping.Stop()

	for {
		select {
		case <-done:
			return
		case e, ok := <-ch:
			if !ok {
				return
			}
			conn.SetWriteDeadline(time.Now().Add(streamWriteWait))
			if err := conn.WriteJSON(e); err != nil {
				return
			}
		case <-ping.C:
			conn.SetWriteDeadline(time.Now().Add(streamWriteWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
