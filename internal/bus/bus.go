// Package bus is the asynchronous channel between the daemon's privileged
// side (which may read session cookies) and code running inside the host
// page. It carries no business logic: Send does a correlated round trip to a
// registered action handler, Publish fans page-world events out to
// subscribers. Action names form a closed set.
package bus

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/Cardane/chatlove/internal/idutil"
)

const (
	ActionValidateLicense = "validate-license"
	ActionActivateLicense = "activate-license"
	ActionGetToken        = "get-token"
	ActionLogout          = "logout"
	ActionGetCookie       = "get-cookie"
)

// BindingName is the function the page-world shim calls to publish outward.
const BindingName = "__chatlove_publish"

var knownActions = map[string]bool{
	ActionValidateLicense: true,
	ActionActivateLicense: true,
	ActionGetToken:        true,
	ActionLogout:          true,
	ActionGetCookie:       true,
}

// Result is the outcome of a Send round trip. Unavailable means the
// privileged side could not answer (handler missing, or round trip timed
// out) — callers must treat it as "no credential / no verdict", never hang.
type Result struct {
	Success     bool           `json:"success"`
	Unavailable bool           `json:"unavailable,omitempty"`
	Error       string         `json:"error,omitempty"`
	Data        map[string]any `json:"data,omitempty"`
}

// Event is a fire-and-forget publication from the page world.
type Event struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data"`
	At   time.Time       `json:"at"`
}

type HandlerFunc func(ctx context.Context, payload map[string]any) (map[string]any, error)

type Bus struct {
	timeout time.Duration

	mu       sync.RWMutex
	handlers map[string]HandlerFunc
	subs     map[int]chan Event
	nextSub  int
}

func New(timeout time.Duration) *Bus {
	return &Bus{
		timeout:  timeout,
		handlers: make(map[string]HandlerFunc),
		subs:     make(map[int]chan Event),
	}
}

// Handle registers the privileged handler for an action. Unknown action
// names are rejected so the set stays closed.
func (b *Bus) Handle(action string, fn HandlerFunc) error {
	if !knownActions[action] {
		return fmt.Errorf("unknown bus action: %s", action)
	}
	b.mu.Lock()
	b.handlers[action] = fn
	b.mu.Unlock()
	return nil
}

// Send performs one tagged round trip. The handler runs in its own
// goroutine; if it does not answer within the bus timeout (or the caller's
// context ends first) the call resolves to an explicit unavailable result.
func (b *Bus) Send(ctx context.Context, action string, payload map[string]any) Result {
	if !knownActions[action] {
		return Result{Error: fmt.Sprintf("unknown action: %s", action)}
	}

	b.mu.RLock()
	fn := b.handlers[action]
	b.mu.RUnlock()
	if fn == nil {
		return Result{Unavailable: true, Error: "no handler for " + action}
	}

	callID := idutil.CallID(action)
	cctx, cancel := context.WithTimeout(ctx, b.timeout)
	defer cancel()

	type outcome struct {
		data map[string]any
		err  error
	}
	ch := make(chan outcome, 1)
	go func() {
		data, err := fn(cctx, payload)
		ch <- outcome{data, err}
	}()

	select {
	case out := <-ch:
		if out.err != nil {
			return Result{Error: out.err.Error()}
		}
		return Result{Success: true, Data: out.data}
	case <-cctx.Done():
		slog.Warn("bus call unanswered", "action", action, "call", callID)
		return Result{Unavailable: true, Error: "privileged context did not respond"}
	}
}

// Publish delivers an event to all subscribers. Slow subscribers drop
// events rather than block the page side.
func (b *Bus) Publish(evt Event) {
	if evt.At.IsZero() {
		evt.At = time.Now()
	}
	b.mu.RLock()
	defer b.mu.RUnlock()
	for _, ch := range b.subs {
		select {
		case ch <- evt:
		default:
		}
	}
}

// Subscribe returns a buffered event channel and its cancel func.
func (b *Bus) Subscribe() (<-chan Event, func()) {
	b.mu.Lock()
	id := b.nextSub
	b.nextSub++
	ch := make(chan Event, 64)
	b.subs[id] = ch
	b.mu.Unlock()

	return ch, func() {
		b.mu.Lock()
		if c, ok := b.subs[id]; ok {
			delete(b.subs, id)
			close(c)
		}
		b.mu.Unlock()
	}
}

// Dispatch decodes a raw page-world publication and fans it out. Malformed
// payloads are logged and dropped — the page side is untrusted input.
func (b *Bus) Dispatch(raw []byte) {
	var evt Event
	if err := json.Unmarshal(raw, &evt); err != nil {
		slog.Warn("bus: malformed page event", "err", err)
		return
	}
	if evt.Type == "" {
		slog.Warn("bus: page event without type")
		return
	}
	b.Publish(evt)
}
