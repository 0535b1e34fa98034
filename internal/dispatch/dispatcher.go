// Message dispatch: precondition checks, relay round trip, and mirroring
// the sent text into the host editor so the app's own pipeline runs.
package dispatch

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/Cardane/chatlove/internal/bus"
	"github.com/Cardane/chatlove/internal/config"
	"github.com/Cardane/chatlove/internal/license"
	"github.com/Cardane/chatlove/internal/store"
	"github.com/Cardane/chatlove/internal/web"
)

type Mode string

const (
	ModeBuilder Mode = "builder"
	ModePlan    Mode = "plan"
)

// Result reports how a dispatch ended. PossiblySent marks the optimistic
// outcome: the relay call failed at transport level after the request may
// already have left, so the message is treated as sent and save
// finalization still runs.
type Result struct {
	Accepted     bool    `json:"accepted"`
	PossiblySent bool    `json:"possiblySent,omitempty"`
	ProjectID    string  `json:"projectId"`
	Mode         Mode    `json:"mode"`
	CreditsSaved float64 `json:"creditsSaved,omitempty"`
	Detail       string  `json:"detail,omitempty"`
}

// windowOpener is what the dispatcher needs from the interceptor.
type windowOpener interface {
	StartWindow()
}

type Dispatcher struct {
	cfg  *config.RuntimeConfig
	gate *license.Gate
	b    *bus.Bus
	ic   windowOpener
	st   *store.Store
	page Page
	hc   *http.Client

	// test seams
	sleep func(context.Context, time.Duration)
}

func New(cfg *config.RuntimeConfig, gate *license.Gate, b *bus.Bus, ic windowOpener, st *store.Store, page Page) *Dispatcher {
	return &Dispatcher{
		cfg:  cfg,
		gate: gate,
		b:    b,
		ic:   ic,
		st:   st,
		page: page,
		hc:   &http.Client{Timeout: cfg.DispatchTimeout},
		sleep: func(ctx context.Context, d time.Duration) {
			select {
			case <-time.After(d):
			case <-ctx.Done():
			}
		},
	}
}

// Project reports the project context of the current host tab.
func (d *Dispatcher) Project(ctx context.Context) (ProjectContext, error) {
	loc, err := d.page.CurrentURL(ctx)
	if err != nil {
		return ProjectContext{}, fmt.Errorf("read tab location: %w", err)
	}
	pc, ok := ProjectFromURL(loc)
	if !ok {
		return ProjectContext{}, kindErr(web.KindNoProjectDetected, "no project open in the host tab")
	}
	return pc, nil
}

// Dispatch relays a message through the proxy backend and mirrors it into
// the host editor. All preconditions are checked before any network call.
func (d *Dispatcher) Dispatch(ctx context.Context, text string, mode Mode) (Result, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return Result{}, fmt.Errorf("empty message")
	}
	if mode == "" {
		mode = ModeBuilder
	}

	if !d.gate.CanSend() {
		switch d.gate.Snapshot().State {
		case license.StateExpired:
			return Result{}, kindErr(web.KindLicenseExpired, "trial license has expired")
		default:
			return Result{}, kindErr(web.KindLicenseBlocked, "no valid license")
		}
	}

	pc, err := d.Project(ctx)
	if err != nil {
		return Result{}, err
	}

	token, err := d.sessionToken(ctx)
	if err != nil {
		return Result{}, err
	}

	res := Result{ProjectID: pc.ID, Mode: mode}
	reply, transportErr := d.relay(ctx, relayRequest{
		LicenseKey:   d.gate.Key(),
		ProjectID:    pc.ID,
		Message:      text,
		SessionToken: token,
		Mode:         string(mode),
	})
	switch {
	case transportErr != nil:
		// The request may have gone out before the failure surfaced
		// (opaque transport errors do not say). Wait out the grace
		// period and treat the message as possibly sent. The editor is
		// NOT filled here: mirroring clicks the native submit, and on
		// an ambiguous outcome that could send the message twice.
		slog.Warn("relay transport failure, assuming possibly sent",
			"project", pc.ID, "error", transportErr)
		d.sleep(ctx, d.cfg.GraceDelay)
		res.Accepted = true
		res.PossiblySent = true
		d.ic.StartWindow()
		d.recordStats(1)
		return res, nil
	case !reply.ok():
		return Result{}, kindErr(web.KindRelayRejected, reply.detail())
	default:
		res.Accepted = true
		res.CreditsSaved = reply.CreditsSaved
		res.Detail = reply.Detail
	}

	d.ic.StartWindow()

	if err := d.page.MirrorMessage(ctx, text); err != nil {
		// Mirroring is cosmetic once the relay accepted; the reply
		// still streams back through the intercepted channel.
		slog.Warn("mirror into host editor failed", "error", err)
	}

	credits := res.CreditsSaved
	if credits == 0 {
		credits = 1
	}
	d.recordStats(credits)
	return res, nil
}

func (d *Dispatcher) recordStats(credits float64) {
	if d.st == nil {
		return
	}
	if err := d.st.RecordDispatch(credits); err != nil {
		slog.Warn("record dispatch stats", "error", err)
	}
}

func (d *Dispatcher) sessionToken(ctx context.Context) (string, error) {
	r := d.b.Send(ctx, bus.ActionGetToken, nil)
	if r.Unavailable || !r.Success {
		return "", kindErr(web.KindCredentialUnavailable, "session credential unavailable")
	}
	token, _ := r.Data["token"].(string)
	if token == "" {
		return "", kindErr(web.KindCredentialUnavailable, "session credential unavailable")
	}
	return token, nil
}

type relayRequest struct {
	LicenseKey   string `json:"license_key"`
	ProjectID    string `json:"project_id"`
	Message      string `json:"message"`
	SessionToken string `json:"session_token"`
	Mode         string `json:"mode"`
}

type relayReply struct {
	Success      bool    `json:"success"`
	Detail       string  `json:"detail"`
	Message      string  `json:"message"`
	Error        string  `json:"error"`
	CreditsSaved float64 `json:"credits_saved"`

	status int
}

func (r relayReply) ok() bool { return r.status < 400 && r.Success }

func (r relayReply) detail() string {
	for _, s := range []string{r.Detail, r.Message, r.Error} {
		if s != "" {
			return s
		}
	}
	return fmt.Sprintf("relay refused the message (HTTP %d)", r.status)
}

// relay posts the message once. No retries: a duplicate POST would send
// the user's message twice.
func (d *Dispatcher) relay(ctx context.Context, rr relayRequest) (relayReply, error) {
	body, _ := json.Marshal(rr)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, d.cfg.RelayURL, bytes.NewReader(body))
	if err != nil {
		return relayReply{}, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := d.hc.Do(req)
	if err != nil {
		return relayReply{}, err
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return relayReply{}, err
	}

	reply := relayReply{status: resp.StatusCode}
	if err := json.Unmarshal(raw, &reply); err != nil {
		if resp.StatusCode < 400 {
			// 2xx with an unreadable body still counts as accepted.
			reply.Success = true
			return reply, nil
		}
		reply.Detail = strings.TrimSpace(string(raw))
	}
	return reply, nil
}
