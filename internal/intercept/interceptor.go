// Package intercept observes the host page's own network activity without
// altering it. The shim runs inside the page world and publishes through the
// cross-context binding; this side correlates the event stream into
// exchanges and tags the chat traffic the save finalizer cares about.
package intercept

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/url"
	"sync"
	"time"

	"github.com/chromedp/cdproto/page"
	"github.com/chromedp/cdproto/runtime"
	"github.com/chromedp/chromedp"

	"github.com/Cardane/chatlove/internal/bus"
	"github.com/Cardane/chatlove/internal/config"
)

// EventChatResponse is the derived classification event published when a
// chat-tagged exchange sees its response. Consumers: SaveFinalizer, UI tier.
const EventChatResponse = "chat_response"

type Interceptor struct {
	cfg   *config.RuntimeConfig
	bus   *bus.Bus
	store *ExchangeStore

	mu        sync.Mutex
	windowOn  bool
	windowGen int
}

func New(cfg *config.RuntimeConfig, b *bus.Bus) *Interceptor {
	return &Interceptor{
		cfg:   cfg,
		bus:   b,
		store: NewExchangeStore(cfg.CorrelationWindow, cfg.UnmatchedTTL, 2048),
	}
}

// Attach installs the page-world shim and the publish binding on a tab
// context. Must run before the host page issues the calls we care about, so
// the script registers for every new document.
func (ic *Interceptor) Attach(ctx context.Context) error {
	skip := append([]string{}, hostOf(ic.cfg.AuthorityURL), hostOf(ic.cfg.RelayURL))
	script := BuildShim(ic.cfg.HostDomains, skip, 2048)

	chromedp.ListenTarget(ctx, func(ev interface{}) {
		if e, ok := ev.(*runtime.EventBindingCalled); ok && e.Name == bus.BindingName {
			ic.bus.Dispatch([]byte(e.Payload))
		}
	})

	return chromedp.Run(ctx,
		chromedp.ActionFunc(func(ctx context.Context) error {
			if err := runtime.AddBinding(bus.BindingName).Do(ctx); err != nil {
				return err
			}
			_, err := page.AddScriptToEvaluateOnNewDocument(script).Do(ctx)
			return err
		}),
	)
}

// Run consumes page events until the context ends, feeding the exchange
// store and emitting derived classification events. It also garbage-collects
// requests that never saw a response.
func (ic *Interceptor) Run(ctx context.Context) {
	events, cancel := ic.bus.Subscribe()
	defer cancel()

	gc := time.NewTicker(ic.cfg.UnmatchedTTL / 2)
	defer gc.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case now := <-gc.C:
			if n := ic.store.GC(now); n > 0 {
				slog.Debug("collected unmatched exchanges", "count", n)
			}
		case evt, ok := <-events:
			if !ok {
				return
			}
			ic.handle(evt)
		}
	}
}

type pageEvent struct {
	URL    string `json:"url"`
	Method string `json:"method"`
	Status int    `json:"status"`
	Body   string `json:"body"`
	Ts     int64  `json:"ts"`
}

func (ic *Interceptor) handle(evt bus.Event) {
	var pe pageEvent
	if err := json.Unmarshal(evt.Data, &pe); err != nil || pe.URL == "" {
		return
	}
	if !ShouldObserve(pe.URL, ic.cfg.HostDomains) {
		return
	}

	at := time.UnixMilli(pe.Ts)
	if pe.Ts == 0 {
		at = evt.At
	}

	switch evt.Type {
	case "request":
		ic.store.RecordRequest(pe.URL, pe.Method, pe.Body, at)
	case "response":
		ex := ic.store.RecordResponse(pe.URL, pe.Status, pe.Body, at)
		if ex.Kind == KindChat {
			data, _ := json.Marshal(ex)
			ic.bus.Publish(bus.Event{Type: EventChatResponse, Data: data, At: at})
		}
	case "sse_connect":
		ic.store.OpenStream(pe.URL, at)
	case "sse_message":
		ic.store.RecordChunk(pe.URL, pe.Body, at)
	}
}

// StartWindow begins a bounded observation window around one dispatch,
// discarding whatever the previous window left behind. The window closes
// itself after the configured observe duration; a fresh StartWindow
// supersedes the pending close.
func (ic *Interceptor) StartWindow() {
	ic.mu.Lock()
	ic.windowOn = true
	ic.windowGen++
	gen := ic.windowGen
	ic.mu.Unlock()
	ic.store.Reset()

	if d := ic.cfg.ObserveWindow; d > 0 {
		time.AfterFunc(d, func() { ic.stopWindowGen(gen) })
	}
}

// StopWindow ends the window; the live exchange set is discarded with it.
func (ic *Interceptor) StopWindow() {
	ic.mu.Lock()
	ic.windowOn = false
	ic.windowGen++
	ic.mu.Unlock()
	ic.store.Reset()
}

func (ic *Interceptor) stopWindowGen(gen int) {
	ic.mu.Lock()
	if gen != ic.windowGen || !ic.windowOn {
		ic.mu.Unlock()
		return
	}
	ic.windowOn = false
	ic.mu.Unlock()
	ic.store.Reset()
}

// WindowOpen reports whether a dispatch observation window is active.
func (ic *Interceptor) WindowOpen() bool {
	ic.mu.Lock()
	defer ic.mu.Unlock()
	return ic.windowOn
}

// Exchanges returns a read-only snapshot of the live set.
func (ic *Interceptor) Exchanges() []Exchange {
	return ic.store.Snapshot()
}

func hostOf(rawURL string) string {
	if u, err := url.Parse(rawURL); err == nil && u.Hostname() != "" {
		return u.Hostname()
	}
	return rawURL
}
