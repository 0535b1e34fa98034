package handlers

import (
	"net/http"

	"github.com/Cardane/chatlove/internal/web"
)

func (h *Handlers) HandleExchanges(w http.ResponseWriter, r *http.Request) {
	ex := h.Interceptor.Exchanges()
	web.JSON(w, 200, map[string]any{
		"recording": h.Interceptor.WindowOpen(),
		"count":     len(ex),
		"exchanges": ex,
	})
}

func (h *Handlers) HandleWindowStart(w http.ResponseWriter, r *http.Request) {
	h.Interceptor.StartWindow()
	web.JSON(w, 200, map[string]any{"recording": true})
}

func (h *Handlers) HandleWindowStop(w http.ResponseWriter, r *http.Request) {
	h.Interceptor.StopWindow()
	web.JSON(w, 200, map[string]any{"recording": false})
}

func (h *Handlers) HandleCookies(w http.ResponseWriter, r *http.Request) {
	cookies, err := h.Cookies.Cookies(r.Context())
	if err != nil {
		web.Error(w, 502, err)
		return
	}
	web.JSON(w, 200, map[string]any{"cookies": cookies, "count": len(cookies)})
}

func (h *Handlers) HandleStats(w http.ResponseWriter, r *http.Request) {
	if h.Store == nil {
		web.JSON(w, 200, map[string]any{})
		return
	}
	stats, err := h.Store.Stats()
	if err != nil {
		web.Error(w, 500, err)
		return
	}
	web.JSON(w, 200, stats)
}
