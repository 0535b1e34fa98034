package handlers

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/Cardane/chatlove/internal/web"
)

var startTime = time.Now()

func (h *Handlers) HandleHealth(w http.ResponseWriter, r *http.Request) {
	resp := map[string]any{
		"status":    "ok",
		"version":   h.Version,
		"uptimeSec": int(time.Since(startTime).Seconds()),
	}
	if h.Gate != nil {
		resp["license"] = string(h.Gate.Snapshot().State)
	}
	if h.Finalizer != nil {
		resp["saveStatus"] = string(h.Finalizer.State().Status)
	}
	if h.Interceptor != nil {
		resp["recording"] = h.Interceptor.WindowOpen()
	}
	web.JSON(w, 200, resp)
}

func (h *Handlers) HandleShutdown(shutdownFn func()) func(http.ResponseWriter, *http.Request) {
	return func(w http.ResponseWriter, r *http.Request) {
		slog.Info("shutdown requested via API")
		web.JSON(w, 200, map[string]any{"status": "shutting down"})

		go func() {
			time.Sleep(100 * time.Millisecond)
			shutdownFn()
		}()
	}
}
