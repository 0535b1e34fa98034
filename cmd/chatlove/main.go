package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"sync"
	"syscall"
	"time"

	"github.com/Cardane/chatlove/internal/browser"
	"github.com/Cardane/chatlove/internal/bus"
	"github.com/Cardane/chatlove/internal/config"
	"github.com/Cardane/chatlove/internal/dispatch"
	"github.com/Cardane/chatlove/internal/finalize"
	"github.com/Cardane/chatlove/internal/handlers"
	"github.com/Cardane/chatlove/internal/intercept"
	"github.com/Cardane/chatlove/internal/license"
	"github.com/Cardane/chatlove/internal/store"
)

var version = "dev"

func main() {
	cfg := config.Load()

	if len(os.Args) > 1 && (os.Args[1] == "--version" || os.Args[1] == "-v") {
		fmt.Printf("chatlove %s\n", version)
		os.Exit(0)
	}

	if len(os.Args) > 1 && os.Args[1] == "config" {
		config.HandleConfigCommand(cfg)
		os.Exit(0)
	}

	if len(os.Args) > 1 && os.Args[1] == "capture" {
		runCapture(os.Args[2:])
		return
	}

	if err := os.MkdirAll(cfg.StateDir, 0755); err != nil {
		slog.Error("cannot create state dir", "err", err)
		os.Exit(1)
	}

	st, err := store.Open(filepath.Join(cfg.StateDir, "chatlove.db"))
	if err != nil {
		slog.Error("open store", "err", err)
		os.Exit(1)
	}
	defer func() { _ = st.Close() }()

	b := bus.New(cfg.BusTimeout)
	ic := intercept.New(cfg, b)

	br, err := browser.Start(cfg, ic.Attach)
	if err != nil && cfg.CdpURL == "" {
		// An unclean exit leaves Chrome's session store poisoned and the
		// launch hangs on the restore prompt. Clear it and retry once.
		slog.Warn("chrome startup failed, clearing sessions and retrying once", "err", err)
		browser.ClearChromeSessions(cfg.ProfileDir)
		browser.MarkCleanExit(cfg.ProfileDir)
		br, err = browser.Start(cfg, ic.Attach)
	}
	if err != nil {
		slog.Error("chrome failed to start", "err", err, "profile", cfg.ProfileDir)
		os.Exit(1)
	}

	runCtx, runCancel := context.WithCancel(context.Background())
	defer runCancel()

	hostTab, err := br.HostTab(runCtx)
	if err != nil {
		slog.Error("host tab unavailable", "err", err)
		br.Close()
		os.Exit(1)
	}

	authority := license.NewClient(cfg.AuthorityURL)
	gate := license.NewGate(authority, st)
	page := dispatch.NewCDPPage(hostTab, cfg.SettleDelay)
	ui := finalize.NewCDPUITree(hostTab)
	fin := finalize.New(ui, b, cfg.ObserveWindow)
	d := dispatch.New(cfg, gate, b, ic, st, page)

	registerBusActions(b, cfg, gate, br)

	go ic.Run(runCtx)
	go gate.Poll(runCtx, cfg.PollInterval)
	go br.RestoreHostSession(runCtx)

	mux := http.NewServeMux()
	h := handlers.New(cfg, gate, d, fin, ic, br, b, st, version)
	h.RunCtx = runCtx

	srv := &http.Server{
		Addr:              cfg.ListenAddr(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	shutdownOnce := &sync.Once{}
	doShutdown := func() {
		shutdownOnce.Do(func() {
			slog.Info("shutting down, saving state...")
			br.SaveHostSession()
			browser.MarkCleanExit(cfg.ProfileDir)
			runCancel()

			ctx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
			defer cancel()
			_ = srv.Shutdown(ctx)

			br.Close()
			slog.Info("chrome closed")
		})
	}

	h.RegisterRoutes(mux, doShutdown)
	srv.Handler = handlers.RequestIDMiddleware(
		handlers.LoggingMiddleware(
			handlers.CorsMiddleware(
				handlers.RateLimitMiddleware(
					handlers.AuthMiddleware(cfg, mux)))))

	setupSignalHandler(doShutdown, func() {
		runCancel()
		br.Close()
	})

	slog.Info("chatlove ready", "port", cfg.Port, "cdp", cfg.CdpURL, "host", cfg.HostDomains)
	if cfg.Token != "" {
		slog.Info("auth enabled")
	} else {
		slog.Info("auth disabled (set CHATLOVE_TOKEN to enable)")
	}

	go runStartupHealthCheck(cfg)

	if err := srv.ListenAndServe(); err != http.ErrServerClosed {
		slog.Error("server", "err", err)
		os.Exit(1)
	}
}

// registerBusActions wires the closed action set the page-world shim may
// invoke. Everything privileged the page needs goes through here.
func registerBusActions(b *bus.Bus, cfg *config.RuntimeConfig, gate *license.Gate, br *browser.Browser) {
	must := func(err error) {
		if err != nil {
			slog.Error("bus action registration", "err", err)
			os.Exit(1)
		}
	}

	must(b.Handle(bus.ActionGetToken, func(ctx context.Context, _ map[string]any) (map[string]any, error) {
		token, err := br.CookieValue(ctx, cfg.SessionCookieName)
		if err != nil {
			return nil, err
		}
		return map[string]any{"token": token}, nil
	}))

	must(b.Handle(bus.ActionGetCookie, func(ctx context.Context, payload map[string]any) (map[string]any, error) {
		name, _ := payload["name"].(string)
		if name != cfg.SessionCookieName {
			return nil, fmt.Errorf("cookie %q not readable", name)
		}
		value, err := br.CookieValue(ctx, name)
		if err != nil {
			return nil, err
		}
		return map[string]any{"name": name, "value": value}, nil
	}))

	must(b.Handle(bus.ActionValidateLicense, func(ctx context.Context, _ map[string]any) (map[string]any, error) {
		snap, err := gate.ValidateNow(ctx)
		if err != nil {
			return nil, err
		}
		return map[string]any{"state": string(snap.State), "kind": string(snap.Kind)}, nil
	}))

	must(b.Handle(bus.ActionActivateLicense, func(ctx context.Context, payload map[string]any) (map[string]any, error) {
		key, _ := payload["key"].(string)
		userName, _ := payload["userName"].(string)
		snap, err := gate.Activate(ctx, key, userName)
		if err != nil {
			return nil, err
		}
		return map[string]any{"state": string(snap.State), "kind": string(snap.Kind)}, nil
	}))

	must(b.Handle(bus.ActionLogout, func(ctx context.Context, _ map[string]any) (map[string]any, error) {
		if err := gate.Logout(); err != nil {
			return nil, err
		}
		return map[string]any{"loggedOut": true}, nil
	}))
}

func setupSignalHandler(shutdownFn func(), forceFn func()) {
	go func() {
		sig := make(chan os.Signal, 2)
		signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
		<-sig
		go shutdownFn()
		<-sig
		slog.Warn("force shutdown requested")
		forceFn()
		os.Exit(130)
	}()
}

func runStartupHealthCheck(cfg *config.RuntimeConfig) {
	time.Sleep(500 * time.Millisecond)
	client := &http.Client{Timeout: 5 * time.Second}
	resp, err := client.Get(fmt.Sprintf("http://localhost:%s/health", cfg.Port))
	if err != nil {
		slog.Error("startup health check failed", "err", err)
		return
	}
	_ = resp.Body.Close()
	if resp.StatusCode == http.StatusOK {
		slog.Info("startup health check passed")
	} else {
		slog.Warn("startup health check unexpected status", "status", resp.StatusCode)
	}
}
