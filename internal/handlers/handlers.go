// Package handlers provides the HTTP surface of the companion daemon.
package handlers

import (
	"context"
	"net/http"

	"github.com/Cardane/chatlove/internal/bus"
	"github.com/Cardane/chatlove/internal/config"
	"github.com/Cardane/chatlove/internal/dispatch"
	"github.com/Cardane/chatlove/internal/finalize"
	"github.com/Cardane/chatlove/internal/intercept"
	"github.com/Cardane/chatlove/internal/license"
	"github.com/Cardane/chatlove/internal/store"
)

// DispatchService is the slice of the dispatcher the HTTP tier uses.
type DispatchService interface {
	Dispatch(ctx context.Context, text string, mode dispatch.Mode) (dispatch.Result, error)
	Project(ctx context.Context) (dispatch.ProjectContext, error)
}

// CookieSource exposes the host origin's cookie jar, values masked.
type CookieSource interface {
	Cookies(ctx context.Context) ([]map[string]any, error)
}

type Handlers struct {
	Config      *config.RuntimeConfig
	Gate        *license.Gate
	Dispatcher  DispatchService
	Finalizer   *finalize.Finalizer
	Interceptor *intercept.Interceptor
	Cookies     CookieSource
	Bus         *bus.Bus
	Store       *store.Store
	Version     string

	// RunCtx bounds background work spawned from request handlers to the
	// daemon's lifetime instead of the request's.
	RunCtx context.Context
}

func New(cfg *config.RuntimeConfig, gate *license.Gate, d DispatchService, f *finalize.Finalizer, ic *intercept.Interceptor, cookies CookieSource, b *bus.Bus, st *store.Store, version string) *Handlers {
	return &Handlers{
		Config:      cfg,
		Gate:        gate,
		Dispatcher:  d,
		Finalizer:   f,
		Interceptor: ic,
		Cookies:     cookies,
		Bus:         b,
		Store:       st,
		Version:     version,
	}
}

func (h *Handlers) RegisterRoutes(mux *http.ServeMux, doShutdown func()) {
	mux.HandleFunc("GET /health", h.HandleHealth)

	mux.HandleFunc("POST /dispatch", h.HandleDispatch)
	mux.HandleFunc("GET /save-status", h.HandleSaveStatus)
	mux.HandleFunc("POST /save-status/retry", h.HandleSaveRetry)
	mux.HandleFunc("GET /project", h.HandleProject)

	mux.HandleFunc("GET /license", h.HandleLicense)
	mux.HandleFunc("POST /license/activate", h.HandleLicenseActivate)
	mux.HandleFunc("POST /license/validate", h.HandleLicenseValidate)
	mux.HandleFunc("POST /license/logout", h.HandleLicenseLogout)
	mux.HandleFunc("GET /license/credits", h.HandleLicenseCredits)

	mux.HandleFunc("GET /exchanges", h.HandleExchanges)
	mux.HandleFunc("POST /window/start", h.HandleWindowStart)
	mux.HandleFunc("POST /window/stop", h.HandleWindowStop)
	mux.HandleFunc("GET /events", h.HandleEvents)
	mux.HandleFunc("GET /cookies", h.HandleCookies)
	mux.HandleFunc("GET /stats", h.HandleStats)

	if doShutdown != nil {
		mux.HandleFunc("POST /shutdown", h.HandleShutdown(doShutdown))
	}
}
