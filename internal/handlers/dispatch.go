package handlers

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/Cardane/chatlove/internal/dispatch"
	"github.com/Cardane/chatlove/internal/web"
)

const maxBodySize = 1 << 20

// statusFor maps dispatch error kinds onto HTTP statuses. Unknown kinds
// fall through to 500.
func statusFor(kind string) int {
	switch kind {
	case web.KindLicenseBlocked, web.KindLicenseExpired:
		return 403
	case web.KindNoProjectDetected:
		return 409
	case web.KindCredentialUnavailable:
		return 503
	case web.KindRelayRejected, web.KindRelayTransport:
		return 502
	case web.KindFinalizationExhausted:
		return 409
	default:
		return 500
	}
}

func writeKindError(w http.ResponseWriter, err error) {
	kind := dispatch.Kind(err)
	if kind == "" {
		web.Error(w, 500, err)
		return
	}
	retryable := kind == web.KindCredentialUnavailable || kind == web.KindRelayTransport
	web.ErrorCode(w, statusFor(kind), kind, err.Error(), retryable, nil)
}

func (h *Handlers) HandleDispatch(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Message string `json:"message"`
		Mode    string `json:"mode"`
	}
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodySize)).Decode(&req); err != nil {
		web.Error(w, 400, fmt.Errorf("decode: %w", err))
		return
	}
	if req.Message == "" {
		web.Error(w, 400, fmt.Errorf("message required"))
		return
	}
	mode := dispatch.Mode(req.Mode)
	switch mode {
	case "", dispatch.ModeBuilder, dispatch.ModePlan:
	default:
		web.Error(w, 400, fmt.Errorf("unknown mode %q", req.Mode))
		return
	}

	res, err := h.Dispatcher.Dispatch(r.Context(), req.Message, mode)
	if err != nil {
		writeKindError(w, err)
		return
	}

	// The save chain runs against the page after the response stream
	// settles; it must not hold the HTTP request open, but it dies with
	// the daemon.
	if h.Finalizer != nil {
		h.Finalizer.Begin(res.Mode == dispatch.ModePlan)
		go h.Finalizer.Observe(h.runCtx())
	}

	web.JSON(w, 200, res)
}

func (h *Handlers) runCtx() context.Context {
	if h.RunCtx != nil {
		return h.RunCtx
	}
	return context.Background()
}

func (h *Handlers) HandleProject(w http.ResponseWriter, r *http.Request) {
	pc, err := h.Dispatcher.Project(r.Context())
	if err != nil {
		writeKindError(w, err)
		return
	}
	web.JSON(w, 200, pc)
}

func (h *Handlers) HandleSaveStatus(w http.ResponseWriter, r *http.Request) {
	web.JSON(w, 200, h.Finalizer.State())
}

func (h *Handlers) HandleSaveRetry(w http.ResponseWriter, r *http.Request) {
	st, err := h.Finalizer.Retry(r.Context())
	if err != nil {
		web.Error(w, 409, err)
		return
	}
	if st.Status == "error" {
		web.ErrorCode(w, statusFor(web.KindFinalizationExhausted), web.KindFinalizationExhausted, st.Reason, false, map[string]any{"state": st})
		return
	}
	web.JSON(w, 200, st)
}
