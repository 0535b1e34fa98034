// Package browser owns the Chrome lifecycle and the single host tab the
// daemon works against. It either launches its own Chrome or attaches to
// a running one over the DevTools protocol.
package browser

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/cdproto/target"
	"github.com/chromedp/chromedp"

	"github.com/Cardane/chatlove/internal/config"
	"github.com/Cardane/chatlove/internal/intercept"
)

// AttachHook runs against a freshly created host-tab context before any
// navigation, so page instrumentation lands ahead of the app's own code.
type AttachHook func(tabCtx context.Context) error

type Browser struct {
	AllocCtx      context.Context
	AllocCancel   context.CancelFunc
	BrowserCtx    context.Context
	BrowserCancel context.CancelFunc
	Config        *config.RuntimeConfig

	hostCtx    context.Context
	hostCancel context.CancelFunc
	hooks      []AttachHook
}

// Start launches or attaches to Chrome. With CdpURL set it attaches to a
// running browser; otherwise it execs one using the configured profile.
func Start(cfg *config.RuntimeConfig, hooks ...AttachHook) (*Browser, error) {
	b := &Browser{Config: cfg, hooks: hooks}

	if cfg.CdpURL != "" {
		slog.Info("attaching to running chrome", "url", cfg.CdpURL)
		b.AllocCtx, b.AllocCancel = chromedp.NewRemoteAllocator(context.Background(), cfg.CdpURL)
	} else {
		slog.Info("launching chrome", "headless", cfg.Headless, "profile", cfg.ProfileDir, "binary", cfg.ChromeBinary)
		b.AllocCtx, b.AllocCancel = chromedp.NewExecAllocator(context.Background(), allocOptions(cfg)...)
	}

	b.BrowserCtx, b.BrowserCancel = chromedp.NewContext(b.AllocCtx)
	if err := chromedp.Run(b.BrowserCtx); err != nil {
		b.Close()
		return nil, fmt.Errorf("connect to chrome: %w", err)
	}
	slog.Info("chrome ready")
	return b, nil
}

func allocOptions(cfg *config.RuntimeConfig) []chromedp.ExecAllocatorOption {
	opts := chromedp.DefaultExecAllocatorOptions[:]

	if cfg.Headless {
		opts = append(opts, chromedp.Headless)
	} else {
		opts = append(opts, chromedp.Flag("headless", false))
	}
	if cfg.ChromeBinary != "" {
		opts = append(opts, chromedp.ExecPath(cfg.ChromeBinary))
	}
	if cfg.ProfileDir != "" {
		opts = append(opts, chromedp.UserDataDir(cfg.ProfileDir))
	}
	opts = append(opts,
		chromedp.WindowSize(1440, 900),
		chromedp.Flag("disable-blink-features", "AutomationControlled"),
		chromedp.Flag("disable-dev-shm-usage", ""),
		chromedp.Flag("no-first-run", ""),
		chromedp.Flag("no-default-browser-check", ""),
	)
	if cfg.ChromeExtraFlags != "" {
		opts = append(opts, chromedp.Flag("", cfg.ChromeExtraFlags))
	}
	return opts
}

// HostTab returns the context of the attached host tab, finding or
// opening one on first use. The tab is matched against the configured
// host domains; a tab on any other site never qualifies.
func (b *Browser) HostTab(ctx context.Context) (context.Context, error) {
	if b.hostCtx != nil && b.hostCtx.Err() == nil {
		return b.hostCtx, nil
	}
	return b.attachHostTab(ctx)
}

func (b *Browser) attachHostTab(ctx context.Context) (context.Context, error) {
	infos, err := chromedp.Targets(b.BrowserCtx)
	if err != nil {
		return nil, fmt.Errorf("list targets: %w", err)
	}

	var match *target.Info
	for _, info := range infos {
		if info.Type != "page" {
			continue
		}
		if intercept.ShouldObserve(info.URL, b.Config.HostDomains) {
			match = info
			break
		}
	}

	if match != nil {
		slog.Info("found host tab", "url", match.URL, "target", match.TargetID)
		b.hostCtx, b.hostCancel = chromedp.NewContext(b.BrowserCtx, chromedp.WithTargetID(match.TargetID))
	} else {
		if len(b.Config.HostDomains) == 0 {
			return nil, fmt.Errorf("no host domains configured")
		}
		home := "https://" + b.Config.HostDomains[0] + "/"
		slog.Info("no host tab open, opening one", "url", home)
		b.hostCtx, b.hostCancel = chromedp.NewContext(b.BrowserCtx)
		if err := chromedp.Run(b.hostCtx); err != nil {
			b.dropHostTab()
			return nil, fmt.Errorf("open host tab: %w", err)
		}
		defer func() {
			tCtx, tCancel := context.WithTimeout(b.hostCtx, b.Config.ActionTimeout)
			defer tCancel()
			_ = chromedp.Run(tCtx, chromedp.Navigate(home))
		}()
	}

	for _, hook := range b.hooks {
		if err := hook(b.hostCtx); err != nil {
			b.dropHostTab()
			return nil, fmt.Errorf("host tab setup: %w", err)
		}
	}
	return b.hostCtx, nil
}

func (b *Browser) dropHostTab() {
	if b.hostCancel != nil {
		b.hostCancel()
	}
	b.hostCtx, b.hostCancel = nil, nil
}

// CookieValue reads a cookie by name from the host origin. This is the
// privileged path: page-world code never sees HttpOnly cookies, the
// protocol does.
func (b *Browser) CookieValue(ctx context.Context, name string) (string, error) {
	tabCtx, err := b.HostTab(ctx)
	if err != nil {
		return "", err
	}

	tCtx, tCancel := context.WithTimeout(tabCtx, 10*time.Second)
	defer tCancel()

	var cookies []*network.Cookie
	if err := chromedp.Run(tCtx, chromedp.ActionFunc(func(c context.Context) error {
		var loc string
		_ = chromedp.Location(&loc).Do(c)
		var err error
		if loc != "" {
			cookies, err = network.GetCookies().WithURLs([]string{loc}).Do(c)
		} else {
			cookies, err = network.GetCookies().Do(c)
		}
		return err
	})); err != nil {
		return "", fmt.Errorf("get cookies: %w", err)
	}

	for _, c := range cookies {
		if c.Name == name {
			return c.Value, nil
		}
	}
	return "", fmt.Errorf("cookie %q not present", name)
}

// Cookies returns the host origin's cookie jar with values masked. Used
// for diagnostics only; values never leave the daemon.
func (b *Browser) Cookies(ctx context.Context) ([]map[string]any, error) {
	tabCtx, err := b.HostTab(ctx)
	if err != nil {
		return nil, err
	}

	tCtx, tCancel := context.WithTimeout(tabCtx, 10*time.Second)
	defer tCancel()

	var cookies []*network.Cookie
	if err := chromedp.Run(tCtx, chromedp.ActionFunc(func(c context.Context) error {
		var err error
		cookies, err = network.GetCookies().Do(c)
		return err
	})); err != nil {
		return nil, fmt.Errorf("get cookies: %w", err)
	}

	out := make([]map[string]any, len(cookies))
	for i, c := range cookies {
		out[i] = map[string]any{
			"name":     c.Name,
			"domain":   c.Domain,
			"path":     c.Path,
			"secure":   c.Secure,
			"httpOnly": c.HTTPOnly,
			"valueLen": len(c.Value),
		}
	}
	return out, nil
}

func (b *Browser) Close() {
	b.dropHostTab()
	if b.BrowserCancel != nil {
		b.BrowserCancel()
	}
	if b.AllocCancel != nil {
		b.AllocCancel()
	}
}
