package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

type RuntimeConfig struct {
	Bind       string
	Port       string
	CdpURL     string
	Token      string
	StateDir   string
	Headless   bool
	ProfileDir string

	ChromeBinary     string
	ChromeExtraFlags string

	// Host application surface.
	HostDomains       []string
	HostOrigin        string
	SessionCookieName string

	// External services.
	AuthorityURL string
	RelayURL     string

	// Timing knobs.
	ActionTimeout     time.Duration
	DispatchTimeout   time.Duration
	GraceDelay        time.Duration // wait before declaring an ambiguous relay outcome "possibly sent"
	SettleDelay       time.Duration // gap between writing mirrored text and clicking submit
	ObserveWindow     time.Duration // how long the post-dispatch observation window stays open
	CorrelationWindow time.Duration // request/response pairing tolerance
	UnmatchedTTL      time.Duration // GC horizon for requests that never saw a response
	PollInterval      time.Duration // license re-validation cadence
	BusTimeout        time.Duration
	ShutdownTimeout   time.Duration
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envBoolOr(key string, fallback bool) bool {
	v, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	switch strings.ToLower(strings.TrimSpace(v)) {
	case "1", "true", "yes", "on":
		return true
	case "0", "false", "no", "off":
		return false
	default:
		return fallback
	}
}

func envDurationOr(key string, fallback time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	if n, err := strconv.Atoi(v); err == nil && n > 0 {
		return time.Duration(n) * time.Second
	}
	if d, err := time.ParseDuration(v); err == nil && d > 0 {
		return d
	}
	return fallback
}

func homeDir() string {
	h, _ := os.UserHomeDir()
	return h
}

func (c *RuntimeConfig) ListenAddr() string {
	return c.Bind + ":" + c.Port
}

type FileConfig struct {
	Port         string   `json:"port"`
	CdpURL       string   `json:"cdpUrl,omitempty"`
	Token        string   `json:"token,omitempty"`
	StateDir     string   `json:"stateDir"`
	ProfileDir   string   `json:"profileDir"`
	Headless     *bool    `json:"headless,omitempty"`
	HostDomains  []string `json:"hostDomains,omitempty"`
	AuthorityURL string   `json:"authorityUrl,omitempty"`
	RelayURL     string   `json:"relayUrl,omitempty"`
	PollSec      int      `json:"pollSec,omitempty"`
	ObserveSec   int      `json:"observeSec,omitempty"`
}

func Load() *RuntimeConfig {
	// .env is optional; real env always wins.
	_ = godotenv.Load()

	cfg := &RuntimeConfig{
		Bind:       envOr("CHATLOVE_BIND", "127.0.0.1"),
		Port:       envOr("CHATLOVE_PORT", "9876"),
		CdpURL:     os.Getenv("CDP_URL"),
		Token:      os.Getenv("CHATLOVE_TOKEN"),
		StateDir:   envOr("CHATLOVE_STATE_DIR", filepath.Join(homeDir(), ".chatlove")),
		Headless:   envBoolOr("CHATLOVE_HEADLESS", false),
		ProfileDir: envOr("CHATLOVE_PROFILE", filepath.Join(homeDir(), ".chatlove", "chrome-profile")),

		ChromeBinary:     os.Getenv("CHROME_BINARY"),
		ChromeExtraFlags: os.Getenv("CHROME_FLAGS"),

		HostDomains:       splitList(envOr("CHATLOVE_HOST_DOMAINS", "lovable.dev,api.lovable.dev,lovable.com")),
		HostOrigin:        envOr("CHATLOVE_HOST_ORIGIN", "https://lovable.dev"),
		SessionCookieName: envOr("CHATLOVE_SESSION_COOKIE", "lovable-session-id.id"),

		AuthorityURL: envOr("CHATLOVE_AUTHORITY_URL", "https://chat.trafficai.cloud"),
		RelayURL:     envOr("CHATLOVE_RELAY_URL", "https://chat.trafficai.cloud/api/master-proxy"),

		ActionTimeout:     envDurationOr("CHATLOVE_TIMEOUT", 15*time.Second),
		DispatchTimeout:   envDurationOr("CHATLOVE_DISPATCH_TIMEOUT", 30*time.Second),
		GraceDelay:        envDurationOr("CHATLOVE_GRACE_DELAY", 2*time.Second),
		SettleDelay:       300 * time.Millisecond,
		ObserveWindow:     envDurationOr("CHATLOVE_OBSERVE_WINDOW", 10*time.Second),
		CorrelationWindow: 1 * time.Second,
		UnmatchedTTL:      30 * time.Second,
		PollInterval:      envDurationOr("CHATLOVE_POLL_INTERVAL", 10*time.Second),
		BusTimeout:        envDurationOr("CHATLOVE_BUS_TIMEOUT", 5*time.Second),
		ShutdownTimeout:   10 * time.Second,
	}

	configPath := envOr("CHATLOVE_CONFIG", filepath.Join(homeDir(), ".chatlove", "config.json"))

	data, err := os.ReadFile(configPath)
	if err != nil {
		return cfg
	}

	var fc FileConfig
	if err := json.Unmarshal(data, &fc); err != nil {
		return cfg
	}

	if fc.Port != "" && os.Getenv("CHATLOVE_PORT") == "" {
		cfg.Port = fc.Port
	}
	if fc.CdpURL != "" && os.Getenv("CDP_URL") == "" {
		cfg.CdpURL = fc.CdpURL
	}
	if fc.Token != "" && os.Getenv("CHATLOVE_TOKEN") == "" {
		cfg.Token = fc.Token
	}
	if fc.StateDir != "" && os.Getenv("CHATLOVE_STATE_DIR") == "" {
		cfg.StateDir = fc.StateDir
	}
	if fc.ProfileDir != "" && os.Getenv("CHATLOVE_PROFILE") == "" {
		cfg.ProfileDir = fc.ProfileDir
	}
	if fc.Headless != nil && os.Getenv("CHATLOVE_HEADLESS") == "" {
		cfg.Headless = *fc.Headless
	}
	if len(fc.HostDomains) > 0 && os.Getenv("CHATLOVE_HOST_DOMAINS") == "" {
		cfg.HostDomains = fc.HostDomains
	}
	if fc.AuthorityURL != "" && os.Getenv("CHATLOVE_AUTHORITY_URL") == "" {
		cfg.AuthorityURL = fc.AuthorityURL
	}
	if fc.RelayURL != "" && os.Getenv("CHATLOVE_RELAY_URL") == "" {
		cfg.RelayURL = fc.RelayURL
	}
	if fc.PollSec > 0 && os.Getenv("CHATLOVE_POLL_INTERVAL") == "" {
		cfg.PollInterval = time.Duration(fc.PollSec) * time.Second
	}
	if fc.ObserveSec > 0 && os.Getenv("CHATLOVE_OBSERVE_WINDOW") == "" {
		cfg.ObserveWindow = time.Duration(fc.ObserveSec) * time.Second
	}

	return cfg
}

func splitList(s string) []string {
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

func DefaultFileConfig() FileConfig {
	h := false
	return FileConfig{
		Port:       "9876",
		StateDir:   filepath.Join(homeDir(), ".chatlove"),
		ProfileDir: filepath.Join(homeDir(), ".chatlove", "chrome-profile"),
		Headless:   &h,
		PollSec:    10,
		ObserveSec: 10,
	}
}

func HandleConfigCommand(cfg *RuntimeConfig) {
	if len(os.Args) < 3 {
		fmt.Println("Usage: chatlove config <command>")
		fmt.Println("Commands:")
		fmt.Println("  init    - Create default config file")
		fmt.Println("  show    - Show current configuration")
		return
	}

	switch os.Args[2] {
	case "init":
		configPath := filepath.Join(homeDir(), ".chatlove", "config.json")

		if _, err := os.Stat(configPath); err == nil {
			fmt.Printf("Config file already exists at %s\n", configPath)
			fmt.Print("Overwrite? (y/N): ")
			var response string
			_, _ = fmt.Scanln(&response)
			if response != "y" && response != "Y" {
				return
			}
		}

		if err := os.MkdirAll(filepath.Dir(configPath), 0755); err != nil {
			fmt.Printf("Error creating directory: %v\n", err)
			os.Exit(1)
		}

		fc := DefaultFileConfig()
		data, _ := json.MarshalIndent(fc, "", "  ")
		if err := os.WriteFile(configPath, data, 0644); err != nil {
			fmt.Printf("Error writing config: %v\n", err)
			os.Exit(1)
		}

		fmt.Printf("Config file created at %s\n", configPath)

	case "show":
		fmt.Println("Current configuration:")
		fmt.Printf("  Port:        %s\n", cfg.Port)
		fmt.Printf("  CDP URL:     %s\n", cfg.CdpURL)
		fmt.Printf("  Token:       %s\n", MaskToken(cfg.Token))
		fmt.Printf("  State Dir:   %s\n", cfg.StateDir)
		fmt.Printf("  Profile:     %s\n", cfg.ProfileDir)
		fmt.Printf("  Headless:    %v\n", cfg.Headless)
		fmt.Printf("  Host:        %s\n", strings.Join(cfg.HostDomains, ", "))
		fmt.Printf("  Authority:   %s\n", cfg.AuthorityURL)
		fmt.Printf("  Relay:       %s\n", cfg.RelayURL)
		fmt.Printf("  Timeouts:    action=%v dispatch=%v observe=%v poll=%v\n",
			cfg.ActionTimeout, cfg.DispatchTimeout, cfg.ObserveWindow, cfg.PollInterval)

	default:
		fmt.Printf("Unknown command: %s\n", os.Args[2])
		os.Exit(1)
	}
}

func MaskToken(t string) string {
	if t == "" {
		return "(none)"
	}
	if len(t) <= 8 {
		return "***"
	}
	return t[:4] + "..." + t[len(t)-4:]
}
