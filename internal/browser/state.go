package browser

import (
	"context"
	"encoding/json"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/chromedp/chromedp"
)

var crashedPrefsReplacer = strings.NewReplacer(
	`"exit_type":"Crashed"`, `"exit_type":"Normal"`,
	`"exit_type": "Crashed"`, `"exit_type": "Normal"`,
	`"exited_cleanly":false`, `"exited_cleanly":true`,
	`"exited_cleanly": false`, `"exited_cleanly": true`,
)

// HostSession is the persisted bit of host-tab state: enough to put the
// user back on the project they were working in after a restart.
type HostSession struct {
	URL     string `json:"url"`
	SavedAt string `json:"savedAt"`
}

// MarkCleanExit rewrites Chrome's crash markers so the next launch skips
// the restore-pages prompt.
func MarkCleanExit(profileDir string) {
	prefsPath := filepath.Join(profileDir, "Default", "Preferences")
	data, err := os.ReadFile(prefsPath)
	if err != nil {
		return
	}
	patched := crashedPrefsReplacer.Replace(string(data))
	if patched != string(data) {
		if err := os.WriteFile(prefsPath, []byte(patched), 0644); err != nil {
			slog.Error("patch prefs", "err", err)
		}
	}
}

func WasUncleanExit(profileDir string) bool {
	data, err := os.ReadFile(filepath.Join(profileDir, "Default", "Preferences"))
	if err != nil {
		return false
	}
	return strings.Contains(string(data), `"exit_type":"Crashed"`) ||
		strings.Contains(string(data), `"exit_type": "Crashed"`)
}

// ClearChromeSessions removes the Sessions dir so Chrome cannot hang on
// tab restore after an unclean exit. Retried because file locks can
// outlive the Chrome process briefly.
func ClearChromeSessions(profileDir string) {
	sessionsDir := filepath.Join(profileDir, "Default", "Sessions")
	var err error
	for attempt := 0; attempt < 3; attempt++ {
		if attempt > 0 {
			time.Sleep(100 * time.Millisecond)
		}
		if err = os.RemoveAll(sessionsDir); err == nil {
			slog.Info("cleared chrome sessions dir")
			return
		}
	}
	slog.Warn("failed to clear chrome sessions dir", "err", err)
}

// SaveHostSession records the host tab's current URL under the state dir.
func (b *Browser) SaveHostSession() {
	if b.hostCtx == nil || b.hostCtx.Err() != nil {
		return
	}
	tCtx, tCancel := context.WithTimeout(b.hostCtx, 5*time.Second)
	defer tCancel()

	var loc string
	if err := chromedp.Run(tCtx, chromedp.Location(&loc)); err != nil || loc == "" {
		return
	}

	data, err := json.MarshalIndent(HostSession{
		URL:     loc,
		SavedAt: time.Now().UTC().Format(time.RFC3339),
	}, "", "  ")
	if err != nil {
		return
	}
	if err := os.MkdirAll(b.Config.StateDir, 0755); err != nil {
		slog.Error("save session: mkdir", "err", err)
		return
	}
	path := filepath.Join(b.Config.StateDir, "session.json")
	if err := os.WriteFile(path, data, 0644); err != nil {
		slog.Error("save session: write", "err", err)
		return
	}
	slog.Info("saved host session", "url", loc, "path", path)
}

// LoadHostSession reads a previously saved host session, if any.
func LoadHostSession(stateDir string) (HostSession, bool) {
	data, err := os.ReadFile(filepath.Join(stateDir, "session.json"))
	if err != nil {
		return HostSession{}, false
	}
	var s HostSession
	if err := json.Unmarshal(data, &s); err != nil || s.URL == "" {
		return HostSession{}, false
	}
	return s, true
}

// RestoreHostSession navigates the host tab back to the saved project URL
// when the tab is still sitting on a bare landing page.
func (b *Browser) RestoreHostSession(ctx context.Context) {
	s, ok := LoadHostSession(b.Config.StateDir)
	if !ok {
		return
	}
	tabCtx, err := b.HostTab(ctx)
	if err != nil {
		return
	}

	tCtx, tCancel := context.WithTimeout(tabCtx, b.Config.ActionTimeout)
	defer tCancel()

	var loc string
	_ = chromedp.Run(tCtx, chromedp.Location(&loc))
	if strings.Contains(loc, "/projects/") {
		return // already on a project, do not yank the user away
	}
	if err := chromedp.Run(tCtx, chromedp.Navigate(s.URL)); err != nil {
		slog.Warn("restore host session failed", "url", s.URL, "err", err)
		return
	}
	slog.Info("restored host session", "url", s.URL)
}
