package handlers

import (
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/Cardane/chatlove/internal/web"
)

func (h *Handlers) HandleLicense(w http.ResponseWriter, r *http.Request) {
	web.JSON(w, 200, h.Gate.Snapshot())
}

func (h *Handlers) HandleLicenseActivate(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Key      string `json:"key"`
		UserName string `json:"userName"`
	}
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodySize)).Decode(&req); err != nil {
		web.Error(w, 400, fmt.Errorf("decode: %w", err))
		return
	}
	if req.Key == "" {
		web.Error(w, 400, fmt.Errorf("key required"))
		return
	}

	snap, err := h.Gate.Activate(r.Context(), req.Key, req.UserName)
	if err != nil {
		web.ErrorCode(w, 403, web.KindLicenseBlocked, err.Error(), false, nil)
		return
	}
	web.JSON(w, 200, snap)
}

func (h *Handlers) HandleLicenseValidate(w http.ResponseWriter, r *http.Request) {
	snap, err := h.Gate.ValidateNow(r.Context())
	if err != nil {
		// Transport failure: report the surviving state with the error
		// attached so the UI can show both.
		web.JSON(w, 200, map[string]any{"license": snap, "error": err.Error()})
		return
	}
	web.JSON(w, 200, snap)
}

func (h *Handlers) HandleLicenseLogout(w http.ResponseWriter, r *http.Request) {
	if err := h.Gate.Logout(); err != nil {
		web.Error(w, 500, err)
		return
	}
	web.JSON(w, 200, map[string]any{"loggedOut": true})
}

func (h *Handlers) HandleLicenseCredits(w http.ResponseWriter, r *http.Request) {
	total, err := h.Gate.CreditsTotal(r.Context())
	if err != nil {
		web.Error(w, 502, err)
		return
	}
	web.JSON(w, 200, map[string]any{"totalCredits": total})
}
