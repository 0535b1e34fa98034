package license

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"
)

type fakeAuthority struct {
	mu      sync.Mutex
	verdict Verdict
	err     error
	credits float64
	calls   int
}

func (f *fakeAuthority) Validate(_ context.Context, _ string) (Verdict, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	return f.verdict, f.err
}

func (f *fakeAuthority) CreditsTotal(_ context.Context, _ string) (float64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.credits, f.err
}

func TestUncheckedCannotSend(t *testing.T) {
	g := NewGate(&fakeAuthority{}, nil)
	if g.CanSend() {
		t.Fatal("unchecked gate should not allow sending")
	}
	if s := g.Snapshot().State; s != StateUnchecked {
		t.Fatalf("state = %s, want %s", s, StateUnchecked)
	}
}

func TestActivateFullLicense(t *testing.T) {
	fa := &fakeAuthority{verdict: Verdict{Success: true, Valid: true, Kind: "full"}}
	g := NewGate(fa, nil)

	snap, err := g.Activate(context.Background(), "KEY-1", "ada")
	if err != nil {
		t.Fatal(err)
	}
	if snap.State != StateValidFull {
		t.Fatalf("state = %s, want %s", snap.State, StateValidFull)
	}
	if snap.UserName != "ada" {
		t.Fatalf("userName = %q", snap.UserName)
	}
	if !g.CanSend() {
		t.Fatal("full license should allow sending")
	}
}

func TestActivateRejectedKeyNotKept(t *testing.T) {
	fa := &fakeAuthority{verdict: Verdict{Success: true, Valid: false, Message: "revoked"}}
	g := NewGate(fa, nil)

	_, err := g.Activate(context.Background(), "BAD", "")
	if err == nil || err.Error() != "revoked" {
		t.Fatalf("err = %v, want revoked", err)
	}
	if g.Key() != "" {
		t.Fatalf("rejected key was kept: %q", g.Key())
	}
	if g.Snapshot().State != StateUnchecked {
		t.Fatalf("state = %s, want unchecked", g.Snapshot().State)
	}
}

func TestTrialExpiryIsUTC(t *testing.T) {
	// Naive authority timestamps mean UTC even when the host zone differs.
	fa := &fakeAuthority{verdict: Verdict{
		Success: true, Valid: true, Kind: "trial",
		ExpiresAt: "2026-08-31T12:00:00",
	}}
	g := NewGate(fa, nil)

	cases := []struct {
		now  time.Time
		want State
	}{
		{time.Date(2026, 8, 31, 11, 0, 0, 0, time.UTC), StateValidTrial},
		{time.Date(2026, 8, 31, 11, 56, 0, 0, time.UTC), StateExpiring},
		{time.Date(2026, 8, 31, 12, 0, 1, 0, time.UTC), StateExpired},
	}
	for _, tc := range cases {
		g.now = func() time.Time { return tc.now }
		if _, err := g.Activate(context.Background(), "TRIAL", ""); err != nil {
			t.Fatal(err)
		}
		if got := g.Snapshot().State; got != tc.want {
			t.Errorf("at %s: state = %s, want %s", tc.now, got, tc.want)
		}
	}
}

func TestExpiringStillSendsExpiredDoesNot(t *testing.T) {
	fa := &fakeAuthority{verdict: Verdict{
		Success: true, Valid: true, Kind: "trial",
		ExpiresAt: "2026-08-31T12:00:00",
	}}
	g := NewGate(fa, nil)

	g.now = func() time.Time { return time.Date(2026, 8, 31, 11, 58, 0, 0, time.UTC) }
	if _, err := g.Activate(context.Background(), "TRIAL", ""); err != nil {
		t.Fatal(err)
	}
	if !g.CanSend() {
		t.Fatal("expiring trial should still send")
	}

	g.now = func() time.Time { return time.Date(2026, 8, 31, 12, 5, 0, 0, time.UTC) }
	if g.CanSend() {
		t.Fatal("expired trial should not send")
	}
}

func TestRemainingCountdown(t *testing.T) {
	fa := &fakeAuthority{verdict: Verdict{
		Success: true, Valid: true, Kind: "trial",
		ExpiresAt: "2026-08-31T12:05:00",
	}}
	g := NewGate(fa, nil)
	g.now = func() time.Time { return time.Date(2026, 8, 31, 12, 0, 0, 0, time.UTC) }

	snap, err := g.Activate(context.Background(), "TRIAL", "")
	if err != nil {
		t.Fatal(err)
	}
	if snap.RemainingSec != 300 {
		t.Fatalf("remaining = %d, want 300", snap.RemainingSec)
	}
}

func TestValidateFailureKeepsPriorState(t *testing.T) {
	fa := &fakeAuthority{verdict: Verdict{Success: true, Valid: true, Kind: "full"}}
	g := NewGate(fa, nil)
	if _, err := g.Activate(context.Background(), "KEY-1", ""); err != nil {
		t.Fatal(err)
	}

	fa.mu.Lock()
	fa.err = errors.New("connection refused")
	fa.mu.Unlock()

	snap, err := g.ValidateNow(context.Background())
	if err == nil {
		t.Fatal("expected transport error")
	}
	if snap.State != StateValidFull {
		t.Fatalf("state after failure = %s, want %s", snap.State, StateValidFull)
	}
	if !g.CanSend() {
		t.Fatal("transport failure must not revoke a confirmed license")
	}
}

func TestExplicitInvalidBlocks(t *testing.T) {
	fa := &fakeAuthority{verdict: Verdict{Success: true, Valid: true, Kind: "full"}}
	g := NewGate(fa, nil)
	if _, err := g.Activate(context.Background(), "KEY-1", ""); err != nil {
		t.Fatal(err)
	}

	fa.mu.Lock()
	fa.verdict = Verdict{Success: true, Valid: false, Message: "key revoked"}
	fa.mu.Unlock()

	snap, err := g.ValidateNow(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if snap.State != StateBlocked {
		t.Fatalf("state = %s, want %s", snap.State, StateBlocked)
	}
	if snap.Message != "key revoked" {
		t.Fatalf("message = %q", snap.Message)
	}
	if g.CanSend() {
		t.Fatal("blocked license should not send")
	}
}

func TestStaleResponseDoesNotClobber(t *testing.T) {
	fa := &fakeAuthority{verdict: Verdict{Success: true, Valid: true, Kind: "full"}}
	g := NewGate(fa, nil)
	if _, err := g.Activate(context.Background(), "KEY-1", ""); err != nil {
		t.Fatal(err)
	}

	// A validation whose response arrives before the last applied one
	// is discarded, even if it carries a worse verdict.
	fa.mu.Lock()
	fa.verdict = Verdict{Success: false, Message: "stale rejection"}
	fa.mu.Unlock()
	g.now = func() time.Time { return g.lastApplied.Add(-time.Second) }

	snap, err := g.ValidateNow(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if snap.State != StateValidFull {
		t.Fatalf("stale response applied: state = %s", snap.State)
	}
}

func TestLogoutResetsGate(t *testing.T) {
	fa := &fakeAuthority{verdict: Verdict{Success: true, Valid: true, Kind: "full"}}
	g := NewGate(fa, nil)
	if _, err := g.Activate(context.Background(), "KEY-1", "ada"); err != nil {
		t.Fatal(err)
	}

	if err := g.Logout(); err != nil {
		t.Fatal(err)
	}
	snap := g.Snapshot()
	if snap.State != StateUnchecked || snap.Key != "" || snap.UserName != "" {
		t.Fatalf("logout left residue: %+v", snap)
	}
}

func TestParseExpiry(t *testing.T) {
	cases := []struct {
		in   string
		want time.Time
	}{
		{"2026-08-31T12:00:00", time.Date(2026, 8, 31, 12, 0, 0, 0, time.UTC)},
		{"2026-08-31 12:00:00", time.Date(2026, 8, 31, 12, 0, 0, 0, time.UTC)},
		{"2026-08-31T12:00:00Z", time.Date(2026, 8, 31, 12, 0, 0, 0, time.UTC)},
		{"2026-08-31T14:00:00+02:00", time.Date(2026, 8, 31, 12, 0, 0, 0, time.UTC)},
	}
	for _, tc := range cases {
		got, err := ParseExpiry(tc.in)
		if err != nil {
			t.Errorf("ParseExpiry(%q): %v", tc.in, err)
			continue
		}
		if !got.Equal(tc.want) {
			t.Errorf("ParseExpiry(%q) = %s, want %s", tc.in, got, tc.want)
		}
	}
	if _, err := ParseExpiry("not a time"); err == nil {
		t.Error("garbage timestamp should not parse")
	}
}
