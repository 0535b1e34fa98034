// Save finalization: after a dispatched message finishes streaming, the
// host app sometimes leaves the edit un-persisted. The finalizer probes
// for pending-state markers and walks an escalation chain of page actions
// until the edit is saved or every strategy is spent.
package finalize

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/Cardane/chatlove/internal/bus"
	"github.com/Cardane/chatlove/internal/intercept"
)

type Status string

const (
	StatusIdle    Status = "idle"
	StatusPending Status = "pending"
	StatusSaved   Status = "saved"
	StatusError   Status = "error"
)

// SaveState is the externally visible save status. Reason is set only for
// StatusError.
type SaveState struct {
	Status    Status    `json:"status"`
	Reason    string    `json:"reason,omitempty"`
	Strategy  string    `json:"strategy,omitempty"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// UITree is the slice of host-page behavior finalization needs. The CDP
// implementation drives the live tab; tests substitute a fake.
type UITree interface {
	// PendingMarkers counts visible unsaved-state indicators.
	PendingMarkers(ctx context.Context) (int, error)
	// ClickSave clicks a visible enabled save/confirm control, if any.
	ClickSave(ctx context.Context) (bool, error)
	// SaveShortcut sends the save keyboard chord to the document.
	SaveShortcut(ctx context.Context) error
	// ClickLastSubmit clicks the last visible enabled submit button.
	ClickLastSubmit(ctx context.Context) (bool, error)
}

type Finalizer struct {
	ui      UITree
	b       *bus.Bus
	window  time.Duration
	recheck time.Duration

	mu    sync.Mutex
	state SaveState

	sleep func(context.Context, time.Duration)
}

func New(ui UITree, b *bus.Bus, observeWindow time.Duration) *Finalizer {
	return &Finalizer{
		ui:      ui,
		b:       b,
		window:  observeWindow,
		recheck: 500 * time.Millisecond,
		state:   SaveState{Status: StatusIdle, UpdatedAt: time.Now()},
		sleep: func(ctx context.Context, d time.Duration) {
			select {
			case <-time.After(d):
			case <-ctx.Done():
			}
		},
	}
}

func (f *Finalizer) State() SaveState {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.state
}

func (f *Finalizer) set(s Status, strategy, reason string) SaveState {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.state = SaveState{Status: s, Strategy: strategy, Reason: reason, UpdatedAt: time.Now()}
	return f.state
}

// Begin marks a fresh dispatch. Plan-mode messages never touch project
// files, so there is nothing to finalize.
func (f *Finalizer) Begin(planMode bool) {
	if planMode {
		f.set(StatusSaved, "plan-mode", "")
		return
	}
	f.set(StatusPending, "", "")
}

// Observe waits out the response stream and then runs the strategy chain.
// Stream activity on the bus extends the wait a little, capped at twice
// the configured window.
func (f *Finalizer) Observe(ctx context.Context) SaveState {
	if f.State().Status != StatusPending {
		return f.State()
	}

	events, cancel := f.b.Subscribe()
	defer cancel()

	start := time.Now()
	deadline := start.Add(f.window)
	hardStop := start.Add(2 * f.window)
	for {
		wait := time.Until(deadline)
		if wait <= 0 {
			break
		}
		select {
		case <-ctx.Done():
			return f.State()
		case evt := <-events:
			if evt.Type != intercept.EventChatResponse && evt.Type != "sse_message" {
				continue
			}
			if ext := time.Now().Add(f.window / 4); ext.After(deadline) && ext.Before(hardStop) {
				deadline = ext
			}
		case <-time.After(wait):
		}
	}
	return f.Finalize(ctx)
}

// Finalize runs the escalation chain. Each rung acts, waits briefly, and
// re-probes; the first probe that finds no pending markers wins.
func (f *Finalizer) Finalize(ctx context.Context) SaveState {
	steps := []struct {
		name string
		act  func(context.Context) error
	}{
		{"probe", func(context.Context) error { return nil }},
		{"save-button", func(ctx context.Context) error {
			clicked, err := f.ui.ClickSave(ctx)
			if err == nil && !clicked {
				return errNoTarget
			}
			return err
		}},
		{"keyboard-shortcut", f.ui.SaveShortcut},
		{"last-submit", func(ctx context.Context) error {
			clicked, err := f.ui.ClickLastSubmit(ctx)
			if err == nil && !clicked {
				return errNoTarget
			}
			return err
		}},
	}

	for i, step := range steps {
		if err := step.act(ctx); err != nil {
			if err != errNoTarget {
				slog.Warn("finalization step failed", "strategy", step.name, "error", err)
			}
			continue
		}
		if i > 0 {
			f.sleep(ctx, f.recheck)
		}
		n, err := f.ui.PendingMarkers(ctx)
		if err != nil {
			slog.Warn("pending-marker probe failed", "strategy", step.name, "error", err)
			continue
		}
		if n == 0 {
			slog.Info("edit saved", "strategy", step.name)
			return f.set(StatusSaved, step.name, "")
		}
		slog.Debug("edit still pending", "strategy", step.name, "markers", n)
	}

	return f.set(StatusError, "", "all finalization strategies exhausted")
}

// Retry re-runs the chain by hand. Only a pending or failed state can be
// retried; the chain never restarts itself.
func (f *Finalizer) Retry(ctx context.Context) (SaveState, error) {
	switch f.State().Status {
	case StatusPending, StatusError:
		return f.Finalize(ctx), nil
	default:
		return f.State(), fmt.Errorf("nothing to finalize (status %s)", f.State().Status)
	}
}

var errNoTarget = fmt.Errorf("no actionable element")
