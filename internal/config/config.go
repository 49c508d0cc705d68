package config

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"

	"github.com/Dicklesworthstone/licrm/internal/drain"
	"github.com/Dicklesworthstone/licrm/internal/events"
	"github.com/Dicklesworthstone/licrm/internal/progress"
	"github.com/Dicklesworthstone/licrm/internal/scheduler"
	"github.com/Dicklesworthstone/licrm/internal/steam"
	"github.com/Dicklesworthstone/licrm/internal/webhook"
)

// Config represents the main configuration
type Config struct {
	Steam   SteamConfig   `toml:"steam"`
	Policy  PolicyConfig  `toml:"policy"`
	Log     LogConfig     `toml:"log"`
	Output  OutputConfig  `toml:"output"`
	Webhook WebhookConfig `toml:"webhook"`
}

// SteamConfig holds the endpoint and session settings
type SteamConfig struct {
	SessionID         string   `toml:"session_id"`   // Or LICRM_SESSION_ID
	LoginSecure       string   `toml:"login_secure"` // steamLoginSecure cookie, or LICRM_LOGIN_SECURE
	Endpoint          string   `toml:"endpoint"`
	MinRequestSpacing Duration `toml:"min_request_spacing"`
	Timeout           Duration `toml:"timeout"`
	UserAgent         string   `toml:"user_agent"`
}

// PolicyConfig holds response codes and the retry and cooldown timings
type PolicyConfig struct {
	SuccessCodes    []int    `toml:"success_codes"`
	ThrottleCode    int      `toml:"throttle_code"`
	Cooldown        Duration `toml:"cooldown"`
	TickInterval    Duration `toml:"tick_interval"`
	RetryDelay      Duration `toml:"retry_delay"`
	MaxRetryDelay   Duration `toml:"max_retry_delay"`
	RetryMultiplier float64  `toml:"retry_multiplier"`
	RetryJitter     float64  `toml:"retry_jitter"`
	MaxAttempts     int      `toml:"max_attempts"` // 0 retries forever
}

// LogConfig holds logger settings
type LogConfig struct {
	Level      string `toml:"level"`  // debug, info, warn, error
	Format     string `toml:"format"` // text or json
	File       string `toml:"file"`   // Optional rotated log file
	MaxSizeMB  int    `toml:"max_size_mb"`
	MaxBackups int    `toml:"max_backups"`
}

// OutputConfig holds progress output settings
type OutputConfig struct {
	Format     string `toml:"format"` // text, json, log, tui
	Color      string `toml:"color"`  // auto, always, never
	BufferSize int    `toml:"buffer_size"`
}

// WebhookConfig holds the optional notification webhook
type WebhookConfig struct {
	URL     string   `toml:"url"`
	Format  string   `toml:"format"` // json, slack, discord
	Kinds   []string `toml:"kinds"`
	Timeout Duration `toml:"timeout"`
}

// Duration is a time.Duration written as a string such as "10m".
type Duration struct {
	time.Duration
}

// UnmarshalText parses a Go duration string.
func (d *Duration) UnmarshalText(text []byte) error {
	v, err := time.ParseDuration(strings.TrimSpace(string(text)))
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", text, err)
	}
	d.Duration = v
	return nil
}

// MarshalText formats the duration.
func (d Duration) MarshalText() ([]byte, error) {
	return []byte(d.Duration.String()), nil
}

// Dur wraps a time.Duration.
func Dur(d time.Duration) Duration {
	return Duration{Duration: d}
}

// Output formats accepted by [output] format and --output.
var OutputFormats = []string{"text", "json", "log", "tui"}

// DefaultPath returns the default config file path
func DefaultPath() string {
	if xdg := os.Getenv("XDG_CONFIG_HOME"); xdg != "" {
		return filepath.Join(xdg, "licrm", "config.toml")
	}
	home, _ := os.UserHomeDir()
	return filepath.Join(home, ".config", "licrm", "config.toml")
}

// Default returns the default configuration
func Default() *Config {
	policy := drain.DefaultPolicy()
	retry := policy.Retry
	return &Config{
		Steam: SteamConfig{
			Endpoint:          steam.DefaultEndpoint,
			MinRequestSpacing: Dur(steam.DefaultMinRequestSpacing),
			Timeout:           Dur(steam.DefaultTimeout),
		},
		Policy: PolicyConfig{
			SuccessCodes:    slices.Clone(policy.SuccessCodes),
			ThrottleCode:    policy.ThrottleCode,
			Cooldown:        Dur(policy.Cooldown),
			TickInterval:    Dur(policy.TickInterval),
			RetryDelay:      Dur(retry.Delay),
			MaxRetryDelay:   Dur(retry.MaxDelay),
			RetryMultiplier: retry.Multiplier,
			RetryJitter:     retry.JitterFactor,
			MaxAttempts:     retry.MaxAttempts,
		},
		Log: LogConfig{
			Level:      "info",
			Format:     "text",
			MaxSizeMB:  10,
			MaxBackups: 3,
		},
		Output: OutputConfig{
			Format:     "text",
			Color:      "auto",
			BufferSize: progress.DefaultBufferSize,
		},
		Webhook: WebhookConfig{
			Format:  "json",
			Kinds:   kindNames(webhook.DefaultKinds),
			Timeout: Dur(webhook.DefaultTimeout),
		},
	}
}

// Load loads configuration from a file. A missing file yields the defaults.
// Environment overrides are applied in both cases.
func Load(path string) (*Config, error) {
	if path == "" {
		path = DefaultPath()
	}

	cfg := &Config{}
	data, err := os.ReadFile(path)
	switch {
	case errors.Is(err, os.ErrNotExist):
		cfg = Default()
	case err != nil:
		return nil, fmt.Errorf("reading config: %w", err)
	default:
		if err := toml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parsing config: %w", err)
		}
		applyDefaults(cfg)
	}

	applyEnv(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config %s: %w", path, err)
	}
	return cfg, nil
}

func applyDefaults(cfg *Config) {
	def := Default()

	if cfg.Steam.Endpoint == "" {
		cfg.Steam.Endpoint = def.Steam.Endpoint
	}
	if cfg.Steam.MinRequestSpacing.Duration == 0 {
		cfg.Steam.MinRequestSpacing = def.Steam.MinRequestSpacing
	}
	if cfg.Steam.Timeout.Duration == 0 {
		cfg.Steam.Timeout = def.Steam.Timeout
	}

	p := &cfg.Policy
	if len(p.SuccessCodes) == 0 {
		p.SuccessCodes = def.Policy.SuccessCodes
	}
	if p.ThrottleCode == 0 {
		p.ThrottleCode = def.Policy.ThrottleCode
	}
	if p.Cooldown.Duration == 0 {
		p.Cooldown = def.Policy.Cooldown
	}
	if p.TickInterval.Duration == 0 {
		p.TickInterval = def.Policy.TickInterval
	}
	if p.RetryDelay.Duration == 0 {
		p.RetryDelay = def.Policy.RetryDelay
	}
	if p.MaxRetryDelay.Duration == 0 {
		p.MaxRetryDelay = def.Policy.MaxRetryDelay
	}
	if p.RetryMultiplier == 0 {
		p.RetryMultiplier = def.Policy.RetryMultiplier
	}

	if cfg.Log.Level == "" {
		cfg.Log.Level = def.Log.Level
	}
	if cfg.Log.Format == "" {
		cfg.Log.Format = def.Log.Format
	}
	if cfg.Log.MaxSizeMB == 0 {
		cfg.Log.MaxSizeMB = def.Log.MaxSizeMB
	}
	if cfg.Log.MaxBackups == 0 {
		cfg.Log.MaxBackups = def.Log.MaxBackups
	}

	if cfg.Output.Format == "" {
		cfg.Output.Format = def.Output.Format
	}
	if cfg.Output.Color == "" {
		cfg.Output.Color = def.Output.Color
	}
	if cfg.Output.BufferSize == 0 {
		cfg.Output.BufferSize = def.Output.BufferSize
	}

	if cfg.Webhook.Format == "" {
		cfg.Webhook.Format = def.Webhook.Format
	}
	if len(cfg.Webhook.Kinds) == 0 {
		cfg.Webhook.Kinds = def.Webhook.Kinds
	}
	if cfg.Webhook.Timeout.Duration == 0 {
		cfg.Webhook.Timeout = def.Webhook.Timeout
	}
}

func applyEnv(cfg *Config) {
	if v := os.Getenv("LICRM_SESSION_ID"); v != "" {
		cfg.Steam.SessionID = v
	}
	if v := os.Getenv("LICRM_LOGIN_SECURE"); v != "" {
		cfg.Steam.LoginSecure = v
	}
	if v := os.Getenv("LICRM_LOG_LEVEL"); v != "" {
		cfg.Log.Level = v
	}
	if v := os.Getenv("LICRM_LOG_FORMAT"); v != "" {
		cfg.Log.Format = v
	}
	if v := os.Getenv("LICRM_LOG_FILE"); v != "" {
		cfg.Log.File = v
	}
}

// Validate reports the first setting the loop and its collaborators cannot run with.
func (c *Config) Validate() error {
	p := c.Policy
	if len(p.SuccessCodes) == 0 {
		return errors.New("policy.success_codes must not be empty")
	}
	if slices.Contains(p.SuccessCodes, p.ThrottleCode) {
		return fmt.Errorf("policy.throttle_code %d is also a success code", p.ThrottleCode)
	}
	for _, d := range []struct {
		name string
		val  Duration
	}{
		{"policy.cooldown", p.Cooldown},
		{"policy.tick_interval", p.TickInterval},
		{"policy.retry_delay", p.RetryDelay},
		{"policy.max_retry_delay", p.MaxRetryDelay},
	} {
		if d.val.Duration <= 0 {
			return fmt.Errorf("%s must be positive, got %s", d.name, d.val.Duration)
		}
	}
	if p.MaxRetryDelay.Duration < p.RetryDelay.Duration {
		return fmt.Errorf("policy.max_retry_delay %s is below policy.retry_delay %s", p.MaxRetryDelay.Duration, p.RetryDelay.Duration)
	}
	if p.RetryMultiplier < 1 {
		return fmt.Errorf("policy.retry_multiplier must be >= 1, got %v", p.RetryMultiplier)
	}
	if p.RetryJitter < 0 || p.RetryJitter > 1 {
		return fmt.Errorf("policy.retry_jitter must be within [0, 1], got %v", p.RetryJitter)
	}
	if p.MaxAttempts < 0 {
		return fmt.Errorf("policy.max_attempts must not be negative, got %d", p.MaxAttempts)
	}

	switch strings.ToLower(c.Log.Format) {
	case "text", "json":
	default:
		return fmt.Errorf("log.format must be text or json, got %q", c.Log.Format)
	}
	if !slices.Contains(OutputFormats, c.Output.Format) {
		return fmt.Errorf("output.format must be one of %s, got %q", strings.Join(OutputFormats, ", "), c.Output.Format)
	}
	switch c.Output.Color {
	case "auto", "always", "never":
	default:
		return fmt.Errorf("output.color must be auto, always or never, got %q", c.Output.Color)
	}

	for _, k := range c.Webhook.Kinds {
		if _, ok := events.ParseKind(k); !ok {
			return fmt.Errorf("webhook.kinds: unknown event kind %q", k)
		}
	}
	return nil
}

// DrainPolicy converts the policy section for the loop.
func (c *Config) DrainPolicy() drain.Policy {
	p := c.Policy
	return drain.Policy{
		SuccessCodes: slices.Clone(p.SuccessCodes),
		ThrottleCode: p.ThrottleCode,
		Cooldown:     p.Cooldown.Duration,
		TickInterval: p.TickInterval.Duration,
		Retry: scheduler.RetryConfig{
			Delay:        p.RetryDelay.Duration,
			MaxDelay:     p.MaxRetryDelay.Duration,
			Multiplier:   p.RetryMultiplier,
			JitterFactor: p.RetryJitter,
			MaxAttempts:  p.MaxAttempts,
		},
	}
}

// SteamClientConfig converts the steam section for the HTTP client.
func (c *Config) SteamClientConfig() steam.Config {
	return steam.Config{
		Endpoint:          c.Steam.Endpoint,
		LoginSecure:       c.Steam.LoginSecure,
		MinRequestSpacing: c.Steam.MinRequestSpacing.Duration,
		Timeout:           c.Steam.Timeout.Duration,
		UserAgent:         c.Steam.UserAgent,
	}
}

// CreateDefault creates a default config file
func CreateDefault() (string, error) {
	path := DefaultPath()

	// Ensure directory exists
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return "", fmt.Errorf("creating config directory: %w", err)
	}

	// Check if file already exists
	if _, err := os.Stat(path); err == nil {
		return "", fmt.Errorf("config file already exists: %s", path)
	}

	// The file may end up holding a session id.
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0600)
	if err != nil {
		return "", err
	}
	defer f.Close()

	if err := Print(Default(), f); err != nil {
		return "", err
	}

	return path, nil
}

// Print writes config to a writer in TOML format
func Print(cfg *Config, w io.Writer) error {
	fmt.Fprintln(w, "# licrm configuration")
	fmt.Fprintln(w, "# Durations use Go syntax: \"2s\", \"10m\", \"1h30m\".")
	fmt.Fprintln(w)

	fmt.Fprintln(w, "[steam]")
	fmt.Fprintln(w, "# Session id from the store.steampowered.com sessionid cookie.")
	fmt.Fprintln(w, "# Environment variables: LICRM_SESSION_ID, LICRM_LOGIN_SECURE")
	printSecret(w, "session_id", cfg.Steam.SessionID)
	printSecret(w, "login_secure", cfg.Steam.LoginSecure)
	fmt.Fprintf(w, "endpoint = %q\n", cfg.Steam.Endpoint)
	fmt.Fprintln(w, "# Minimum gap between requests, independent of the retry delay")
	fmt.Fprintf(w, "min_request_spacing = %q\n", cfg.Steam.MinRequestSpacing.Duration)
	fmt.Fprintf(w, "timeout = %q\n", cfg.Steam.Timeout.Duration)
	if cfg.Steam.UserAgent != "" {
		fmt.Fprintf(w, "user_agent = %q\n", cfg.Steam.UserAgent)
	}
	fmt.Fprintln(w)

	fmt.Fprintln(w, "[policy]")
	fmt.Fprintln(w, "# Response codes of the removelicense endpoint")
	fmt.Fprintf(w, "success_codes = %s\n", intList(cfg.Policy.SuccessCodes))
	fmt.Fprintf(w, "throttle_code = %d\n", cfg.Policy.ThrottleCode)
	fmt.Fprintln(w, "# Pause after a throttle response, and how often to report the countdown")
	fmt.Fprintf(w, "cooldown = %q\n", cfg.Policy.Cooldown.Duration)
	fmt.Fprintf(w, "tick_interval = %q\n", cfg.Policy.TickInterval.Duration)
	fmt.Fprintln(w, "# Pause between attempts; grows by retry_multiplier per consecutive failure")
	fmt.Fprintf(w, "retry_delay = %q\n", cfg.Policy.RetryDelay.Duration)
	fmt.Fprintf(w, "max_retry_delay = %q\n", cfg.Policy.MaxRetryDelay.Duration)
	fmt.Fprintf(w, "retry_multiplier = %s\n", floatLit(cfg.Policy.RetryMultiplier))
	fmt.Fprintf(w, "retry_jitter = %s\n", floatLit(cfg.Policy.RetryJitter))
	fmt.Fprintln(w, "# Give up on a license after this many failed attempts (0 = never)")
	fmt.Fprintf(w, "max_attempts = %d\n", cfg.Policy.MaxAttempts)
	fmt.Fprintln(w)

	fmt.Fprintln(w, "[log]")
	fmt.Fprintln(w, "# Environment variables: LICRM_LOG_LEVEL, LICRM_LOG_FORMAT, LICRM_LOG_FILE")
	fmt.Fprintf(w, "level = %q\n", cfg.Log.Level)
	fmt.Fprintf(w, "format = %q\n", cfg.Log.Format)
	if cfg.Log.File != "" {
		fmt.Fprintf(w, "file = %q\n", cfg.Log.File)
	} else {
		fmt.Fprintln(w, "# file = \"~/.local/state/licrm/licrm.log\"")
	}
	fmt.Fprintf(w, "max_size_mb = %d\n", cfg.Log.MaxSizeMB)
	fmt.Fprintf(w, "max_backups = %d\n", cfg.Log.MaxBackups)
	fmt.Fprintln(w)

	fmt.Fprintln(w, "[output]")
	fmt.Fprintf(w, "# One of: %s\n", strings.Join(OutputFormats, ", "))
	fmt.Fprintf(w, "format = %q\n", cfg.Output.Format)
	fmt.Fprintln(w, "# auto, always or never")
	fmt.Fprintf(w, "color = %q\n", cfg.Output.Color)
	fmt.Fprintf(w, "buffer_size = %d\n", cfg.Output.BufferSize)
	fmt.Fprintln(w)

	fmt.Fprintln(w, "[webhook]")
	fmt.Fprintln(w, "# POST selected events to a URL (json, slack or discord payloads)")
	if cfg.Webhook.URL != "" {
		fmt.Fprintf(w, "url = %q\n", cfg.Webhook.URL)
	} else {
		fmt.Fprintln(w, "# url = \"https://hooks.slack.com/services/...\"")
	}
	fmt.Fprintf(w, "format = %q\n", cfg.Webhook.Format)
	fmt.Fprintf(w, "kinds = %s\n", stringList(cfg.Webhook.Kinds))
	fmt.Fprintf(w, "timeout = %q\n", cfg.Webhook.Timeout.Duration)

	return nil
}

func kindNames(kinds []events.Kind) []string {
	out := make([]string, len(kinds))
	for i, k := range kinds {
		out[i] = string(k)
	}
	return out
}

func printSecret(w io.Writer, key, value string) {
	if value != "" {
		fmt.Fprintf(w, "%s = %q\n", key, value)
		return
	}
	fmt.Fprintf(w, "# %s = \"\"\n", key)
}

func intList(v []int) string {
	parts := make([]string, len(v))
	for i, n := range v {
		parts[i] = strconv.Itoa(n)
	}
	return "[" + strings.Join(parts, ", ") + "]"
}

func stringList(v []string) string {
	parts := make([]string, len(v))
	for i, s := range v {
		parts[i] = strconv.Quote(s)
	}
	return "[" + strings.Join(parts, ", ") + "]"
}

// floatLit keeps a decimal point so TOML reads the value back as a float.
func floatLit(f float64) string {
	s := strconv.FormatFloat(f, 'f', -1, 64)
	if !strings.ContainsAny(s, ".eE") {
		s += ".0"
	}
	return s
}
