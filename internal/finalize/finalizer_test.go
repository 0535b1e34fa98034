package finalize

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/Cardane/chatlove/internal/bus"
	"github.com/Cardane/chatlove/internal/intercept"
)

// fakeUI scripts successive pending-marker probe results; the last entry
// repeats once the script runs out.
type fakeUI struct {
	mu        sync.Mutex
	markers   []int
	probeIdx  int
	saveFound bool
	subFound  bool

	probes    int
	saves     int
	shortcuts int
	submits   int
}

func (f *fakeUI) PendingMarkers(context.Context) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.probes++
	i := f.probeIdx
	if i >= len(f.markers) {
		i = len(f.markers) - 1
	} else {
		f.probeIdx++
	}
	return f.markers[i], nil
}

func (f *fakeUI) ClickSave(context.Context) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.saves++
	return f.saveFound, nil
}

func (f *fakeUI) SaveShortcut(context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.shortcuts++
	return nil
}

func (f *fakeUI) ClickLastSubmit(context.Context) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.submits++
	return f.subFound, nil
}

func newTestFinalizer(ui UITree, window time.Duration) *Finalizer {
	f := New(ui, bus.New(time.Second), window)
	f.recheck = time.Millisecond
	f.sleep = func(context.Context, time.Duration) {}
	return f
}

func TestBeginPlanModeIsAlreadySaved(t *testing.T) {
	f := newTestFinalizer(&fakeUI{markers: []int{1}}, time.Second)
	f.Begin(true)
	if st := f.State(); st.Status != StatusSaved || st.Strategy != "plan-mode" {
		t.Fatalf("state = %+v", st)
	}
}

func TestFinalizeSavedByProbeAlone(t *testing.T) {
	// The app saved on its own: the first probe finds nothing and no
	// page action fires.
	ui := &fakeUI{markers: []int{0}}
	f := newTestFinalizer(ui, time.Second)
	f.Begin(false)

	st := f.Finalize(context.Background())
	if st.Status != StatusSaved || st.Strategy != "probe" {
		t.Fatalf("state = %+v", st)
	}
	if ui.saves != 0 || ui.shortcuts != 0 || ui.submits != 0 {
		t.Fatalf("page actions fired: %+v", ui)
	}
}

func TestFinalizeSaveButtonWins(t *testing.T) {
	ui := &fakeUI{markers: []int{1, 0}, saveFound: true}
	f := newTestFinalizer(ui, time.Second)
	f.Begin(false)

	st := f.Finalize(context.Background())
	if st.Status != StatusSaved || st.Strategy != "save-button" {
		t.Fatalf("state = %+v", st)
	}
	if ui.saves != 1 || ui.shortcuts != 0 {
		t.Fatalf("unexpected escalation: %+v", ui)
	}
}

func TestFinalizeEscalatesPastMissingSaveButton(t *testing.T) {
	// No save button exists, so the chain skips straight to the
	// keyboard chord, which works.
	ui := &fakeUI{markers: []int{1, 0}, saveFound: false}
	f := newTestFinalizer(ui, time.Second)
	f.Begin(false)

	st := f.Finalize(context.Background())
	if st.Status != StatusSaved || st.Strategy != "keyboard-shortcut" {
		t.Fatalf("state = %+v", st)
	}
	if ui.shortcuts != 1 {
		t.Fatalf("shortcut not attempted: %+v", ui)
	}
}

func TestFinalizeExhausted(t *testing.T) {
	ui := &fakeUI{markers: []int{1}, saveFound: true, subFound: true}
	f := newTestFinalizer(ui, time.Second)
	f.Begin(false)

	st := f.Finalize(context.Background())
	if st.Status != StatusError {
		t.Fatalf("state = %+v", st)
	}
	if st.Reason == "" {
		t.Fatal("exhausted state carries no reason")
	}
	if ui.saves != 1 || ui.shortcuts != 1 || ui.submits != 1 {
		t.Fatalf("not every strategy was tried: %+v", ui)
	}
}

func TestRetryGatedByStatus(t *testing.T) {
	ui := &fakeUI{markers: []int{1, 0}, saveFound: true}
	f := newTestFinalizer(ui, time.Second)

	if _, err := f.Retry(context.Background()); err == nil {
		t.Fatal("retry from idle should refuse")
	}

	f.Begin(false)
	f.Finalize(context.Background()) // saves via save-button

	if _, err := f.Retry(context.Background()); err == nil {
		t.Fatal("retry after saved should refuse")
	}
}

func TestRetryAfterExhaustion(t *testing.T) {
	ui := &fakeUI{markers: []int{1, 1, 1, 1, 0}, saveFound: true, subFound: true}
	f := newTestFinalizer(ui, time.Second)
	f.Begin(false)

	if st := f.Finalize(context.Background()); st.Status != StatusError {
		t.Fatalf("state = %+v", st)
	}
	st, err := f.Retry(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if st.Status != StatusSaved {
		t.Fatalf("retry did not recover: %+v", st)
	}
}

func TestObserveRunsChainAfterStreamQuiets(t *testing.T) {
	ui := &fakeUI{markers: []int{0}}
	b := bus.New(time.Second)
	f := New(ui, b, 20*time.Millisecond)
	f.recheck = time.Millisecond
	f.sleep = func(context.Context, time.Duration) {}
	f.Begin(false)

	done := make(chan SaveState, 1)
	go func() { done <- f.Observe(context.Background()) }()

	// Mid-stream chunks arrive while the window is open.
	b.Publish(bus.Event{Type: intercept.EventChatResponse, At: time.Now()})
	b.Publish(bus.Event{Type: "sse_message", At: time.Now()})

	select {
	case st := <-done:
		if st.Status != StatusSaved {
			t.Fatalf("state = %+v", st)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("observe never finished")
	}
}

func TestObserveNoopUnlessPending(t *testing.T) {
	ui := &fakeUI{markers: []int{1}}
	f := newTestFinalizer(ui, time.Millisecond)

	if st := f.Observe(context.Background()); st.Status != StatusIdle {
		t.Fatalf("state = %+v", st)
	}
	if ui.probes != 0 {
		t.Fatal("observe probed without a pending dispatch")
	}
}
