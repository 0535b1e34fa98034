package handlers

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gobwas/ws"
	"github.com/gobwas/ws/wsutil"
)

// HandleEvents upgrades to WebSocket and streams bus events (intercepted
// chat traffic, page publications) to the client as JSON text frames.
func (h *Handlers) HandleEvents(w http.ResponseWriter, r *http.Request) {
	conn, _, _, err := ws.UpgradeHTTP(r, w)
	if err != nil {
		slog.Error("ws upgrade failed", "err", err)
		return
	}
	defer func() { _ = conn.Close() }()

	events, cancel := h.Bus.Subscribe()
	defer cancel()

	var once sync.Once
	done := make(chan struct{})

	go func() {
		for {
			_, _, err := wsutil.ReadClientData(conn)
			if err != nil {
				once.Do(func() { close(done) })
				return
			}
		}
	}()

	slog.Info("event stream opened", "remote", r.RemoteAddr)

	for {
		select {
		case evt := <-events:
			frame, err := json.Marshal(evt)
			if err != nil {
				continue
			}
			if err := wsutil.WriteServerText(conn, frame); err != nil {
				return
			}
		case <-done:
			return
		case <-r.Context().Done():
			return
		case <-time.After(10 * time.Second):
			if err := wsutil.WriteServerMessage(conn, ws.OpPing, nil); err != nil {
				return
			}
		}
	}
}
