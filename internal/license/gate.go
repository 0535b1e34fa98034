// License gate: tracks whether the active key permits sending, re-checks
// it on a fixed cadence, and survives authority outages by keeping the
// last confirmed state.
package license

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/Cardane/chatlove/internal/store"
)

type Kind string

const (
	KindUnknown Kind = "unknown"
	KindFull    Kind = "full"
	KindTrial   Kind = "trial"
	KindBlocked Kind = "blocked"
)

type State string

const (
	StateUnchecked  State = "unchecked"
	StateValidFull  State = "valid_full"
	StateValidTrial State = "valid_trial"
	StateExpiring   State = "expiring"
	StateExpired    State = "expired"
	StateBlocked    State = "blocked"
)

// ExpiringThreshold is how close to expiry a trial must be before the
// state reports expiring instead of valid_trial.
const ExpiringThreshold = 5 * time.Minute

// Snapshot is the externally visible license state at a point in time.
type Snapshot struct {
	State           State      `json:"state"`
	Kind            Kind       `json:"kind"`
	Key             string     `json:"key,omitempty"`
	UserName        string     `json:"userName,omitempty"`
	ExpiresAt       *time.Time `json:"expiresAt,omitempty"`
	RemainingSec    int64      `json:"remainingSec,omitempty"`
	LastValidatedAt *time.Time `json:"lastValidatedAt,omitempty"`
	Message         string     `json:"message,omitempty"`
}

// Gate owns the license state machine. All mutation goes through applyVerdict
// under the mutex; overlapping validations resolve last-response-wins by
// arrival time, so a stale slow response never clobbers a fresher one.
type Gate struct {
	authority Authority
	st        *store.Store
	now       func() time.Time

	mu          sync.Mutex
	key         string
	userName    string
	kind        Kind
	expiresAt   *time.Time
	validatedAt time.Time
	message     string
	lastApplied time.Time
}

func NewGate(authority Authority, st *store.Store) *Gate {
	g := &Gate{authority: authority, st: st, now: time.Now, kind: KindUnknown}
	if st != nil {
		if key, err := st.LicenseKey(); err == nil && key != "" {
			g.key = key
		}
		if name, err := st.Get(store.KeyUserName); err == nil {
			g.userName = name
		}
	}
	return g
}

func (g *Gate) Snapshot() Snapshot {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.snapshotLocked()
}

func (g *Gate) snapshotLocked() Snapshot {
	s := Snapshot{
		State:    g.stateLocked(),
		Kind:     g.kind,
		Key:      g.key,
		UserName: g.userName,
		Message:  g.message,
	}
	if g.expiresAt != nil {
		t := *g.expiresAt
		s.ExpiresAt = &t
		if rem := t.Sub(g.now()); rem > 0 {
			s.RemainingSec = int64(rem / time.Second)
		}
	}
	if !g.validatedAt.IsZero() {
		t := g.validatedAt
		s.LastValidatedAt = &t
	}
	return s
}

func (g *Gate) stateLocked() State {
	switch g.kind {
	case KindBlocked:
		return StateBlocked
	case KindFull:
		return StateValidFull
	case KindTrial:
		if g.expiresAt == nil {
			return StateValidTrial
		}
		rem := g.expiresAt.Sub(g.now())
		switch {
		case rem <= 0:
			return StateExpired
		case rem <= ExpiringThreshold:
			return StateExpiring
		default:
			return StateValidTrial
		}
	default:
		return StateUnchecked
	}
}

// CanSend reports whether a dispatch is allowed under the current state.
// An expiring trial still sends; an expired or blocked one does not.
func (g *Gate) CanSend() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	switch g.stateLocked() {
	case StateValidFull, StateValidTrial, StateExpiring:
		return true
	default:
		return false
	}
}

func (g *Gate) Key() string {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.key
}

// ValidateNow re-checks the stored key against the authority. A transport
// failure leaves the prior state intact and returns it alongside the error.
func (g *Gate) ValidateNow(ctx context.Context) (Snapshot, error) {
	g.mu.Lock()
	key := g.key
	g.mu.Unlock()
	if key == "" {
		return g.Snapshot(), fmt.Errorf("no license key stored")
	}
	return g.validate(ctx, key)
}

func (g *Gate) validate(ctx context.Context, key string) (Snapshot, error) {
	v, err := g.authority.Validate(ctx, key)
	arrived := g.now()
	if err != nil {
		slog.Warn("license validation failed, keeping prior state", "error", err)
		return g.Snapshot(), err
	}

	g.mu.Lock()
	defer g.mu.Unlock()
	if arrived.Before(g.lastApplied) {
		return g.snapshotLocked(), nil
	}
	g.lastApplied = arrived
	g.applyVerdictLocked(key, v, arrived)
	return g.snapshotLocked(), nil
}

func (g *Gate) applyVerdictLocked(key string, v Verdict, at time.Time) {
	g.key = key
	g.validatedAt = at
	g.message = v.Message

	if !v.Success || !v.Valid {
		g.kind = KindBlocked
		g.expiresAt = nil
		return
	}

	switch strings.ToLower(v.Kind) {
	case "full", "paid", "pro":
		g.kind = KindFull
		g.expiresAt = nil
	case "trial":
		g.kind = KindTrial
		g.expiresAt = nil
		if v.ExpiresAt != "" {
			if t, err := ParseExpiry(v.ExpiresAt); err == nil {
				g.expiresAt = &t
			} else {
				slog.Warn("unparseable expires_at from authority", "value", v.ExpiresAt)
			}
		}
	default:
		g.kind = KindFull
		g.expiresAt = nil
	}
}

// Activate validates a fresh key and, on a positive verdict, persists it
// as the active license. A rejected key is not persisted.
func (g *Gate) Activate(ctx context.Context, key, userName string) (Snapshot, error) {
	key = strings.TrimSpace(key)
	if key == "" {
		return g.Snapshot(), fmt.Errorf("empty license key")
	}

	v, err := g.authority.Validate(ctx, key)
	arrived := g.now()
	if err != nil {
		return g.Snapshot(), err
	}
	if !v.Success || !v.Valid {
		msg := v.Message
		if msg == "" {
			msg = "license rejected"
		}
		return g.Snapshot(), fmt.Errorf("%s", msg)
	}

	g.mu.Lock()
	g.lastApplied = arrived
	g.userName = strings.TrimSpace(userName)
	g.applyVerdictLocked(key, v, arrived)
	snap := g.snapshotLocked()
	g.mu.Unlock()

	if g.st != nil {
		if err := g.st.Set(store.KeyLicense, key); err != nil {
			return snap, fmt.Errorf("persist license: %w", err)
		}
		if userName != "" {
			if err := g.st.Set(store.KeyUserName, userName); err != nil {
				return snap, fmt.Errorf("persist user: %w", err)
			}
		}
	}
	return snap, nil
}

// Logout clears the persisted session and resets the gate to unchecked.
func (g *Gate) Logout() error {
	g.mu.Lock()
	g.key = ""
	g.userName = ""
	g.kind = KindUnknown
	g.expiresAt = nil
	g.validatedAt = time.Time{}
	g.message = ""
	g.mu.Unlock()

	if g.st != nil {
		return g.st.ClearSession()
	}
	return nil
}

// CreditsTotal proxies the authority's credit balance for the active key.
func (g *Gate) CreditsTotal(ctx context.Context) (float64, error) {
	key := g.Key()
	if key == "" {
		return 0, fmt.Errorf("no license key stored")
	}
	return g.authority.CreditsTotal(ctx, key)
}

// Poll re-validates on a fixed cadence until the context is cancelled.
// Failures are logged and the prior state stands until the next tick.
func (g *Gate) Poll(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = 10 * time.Second
	}
	t := time.NewTicker(interval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			if g.Key() == "" {
				continue
			}
			if _, err := g.ValidateNow(ctx); err != nil && ctx.Err() == nil {
				slog.Debug("license poll", "error", err)
			}
		}
	}
}

// ParseExpiry parses the authority's expiry timestamp. Naive values
// (no zone suffix) are taken as UTC regardless of the local zone.
func ParseExpiry(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	for _, layout := range []string{
		"2006-01-02T15:04:05",
		"2006-01-02T15:04:05.999999999",
		"2006-01-02 15:04:05",
	} {
		if t, err := time.ParseInLocation(layout, s, time.UTC); err == nil {
			return t, nil
		}
	}
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return t.UTC(), nil
	}
	return time.Time{}, fmt.Errorf("unrecognized timestamp %q", s)
}
