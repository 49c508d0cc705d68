package config

import (
	"bytes"
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"testing"
	"time"
)

func clearEnv(t *testing.T) {
	t.Helper()
	for _, k := range []string{"LICRM_SESSION_ID", "LICRM_LOGIN_SECURE", "LICRM_LOG_LEVEL", "LICRM_LOG_FORMAT", "LICRM_LOG_FILE"} {
		t.Setenv(k, "")
	}
}

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.toml")
	if err := os.WriteFile(path, []byte(body), 0600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestDefaultIsValid(t *testing.T) {
	if err := Default().Validate(); err != nil {
		t.Fatalf("Default().Validate() = %v", err)
	}
}

func TestLoad_MissingFileUsesDefaults(t *testing.T) {
	clearEnv(t)
	cfg, err := Load(filepath.Join(t.TempDir(), "nope.toml"))
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if !reflect.DeepEqual(cfg, Default()) {
		t.Errorf("Load() of missing file = %+v, want defaults", cfg)
	}
}

func TestLoad_PartialFileFillsDefaults(t *testing.T) {
	clearEnv(t)
	path := writeConfig(t, `
[steam]
session_id = "abc123"

[policy]
cooldown = "5m"
max_attempts = 4
`)
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Steam.SessionID != "abc123" {
		t.Errorf("SessionID = %q", cfg.Steam.SessionID)
	}
	if cfg.Policy.Cooldown.Duration != 5*time.Minute {
		t.Errorf("Cooldown = %s, want 5m", cfg.Policy.Cooldown.Duration)
	}
	if cfg.Policy.MaxAttempts != 4 {
		t.Errorf("MaxAttempts = %d, want 4", cfg.Policy.MaxAttempts)
	}
	if cfg.Policy.ThrottleCode != 84 {
		t.Errorf("ThrottleCode = %d, want default 84", cfg.Policy.ThrottleCode)
	}
	if cfg.Policy.RetryDelay.Duration != 2*time.Second {
		t.Errorf("RetryDelay = %s, want default 2s", cfg.Policy.RetryDelay.Duration)
	}
	if cfg.Output.Format != "text" {
		t.Errorf("Output.Format = %q, want text", cfg.Output.Format)
	}

	p := cfg.DrainPolicy()
	if p.Cooldown != 5*time.Minute || p.Retry.MaxAttempts != 4 {
		t.Errorf("DrainPolicy() = %+v", p)
	}
}

func TestLoad_EnvOverrides(t *testing.T) {
	clearEnv(t)
	t.Setenv("LICRM_SESSION_ID", "from-env")
	t.Setenv("LICRM_LOGIN_SECURE", "secure")
	t.Setenv("LICRM_LOG_LEVEL", "debug")
	t.Setenv("LICRM_LOG_FORMAT", "json")
	t.Setenv("LICRM_LOG_FILE", "/tmp/licrm.log")

	path := writeConfig(t, "[steam]\nsession_id = \"from-file\"\n")
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Steam.SessionID != "from-env" {
		t.Errorf("SessionID = %q, want env value", cfg.Steam.SessionID)
	}
	if cfg.Steam.LoginSecure != "secure" {
		t.Errorf("LoginSecure = %q", cfg.Steam.LoginSecure)
	}
	if cfg.Log.Level != "debug" || cfg.Log.Format != "json" || cfg.Log.File != "/tmp/licrm.log" {
		t.Errorf("Log = %+v", cfg.Log)
	}
}

func TestLoad_Errors(t *testing.T) {
	tests := []struct {
		name    string
		body    string
		wantErr string
	}{
		{"bad toml", "[steam\n", "parsing config"},
		{"bad duration", "[policy]\ncooldown = \"ten minutes\"\n", "invalid duration"},
		{"throttle is success", "[policy]\nsuccess_codes = [1, 84]\n", "also a success code"},
		{"negative delay", "[policy]\nretry_delay = \"-1s\"\n", "policy.retry_delay must be positive"},
		{"multiplier below one", "[policy]\nretry_multiplier = 0.5\n", "retry_multiplier"},
		{"jitter above one", "[policy]\nretry_jitter = 1.5\n", "retry_jitter"},
		{"unknown output", "[output]\nformat = \"xml\"\n", "output.format"},
		{"unknown color", "[output]\ncolor = \"sometimes\"\n", "output.color"},
		{"unknown kind", "[webhook]\nkinds = [\"explode\"]\n", "unknown event kind"},
		{"bad log format", "[log]\nformat = \"xml\"\n", "log.format"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			clearEnv(t)
			_, err := Load(writeConfig(t, tt.body))
			if err == nil {
				t.Fatal("Load() error = nil")
			}
			if !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("Load() error = %v, want it to mention %q", err, tt.wantErr)
			}
		})
	}
}

func TestPrint_RoundTrip(t *testing.T) {
	clearEnv(t)

	want := Default()
	want.Steam.SessionID = "sess"
	want.Policy.MaxAttempts = 7
	want.Policy.RetryMultiplier = 2
	want.Policy.RetryJitter = 0.25
	want.Log.File = "/var/log/licrm.log"
	want.Webhook.URL = "https://example.com/hook"
	want.Webhook.Format = "slack"
	want.Webhook.Kinds = []string{"drained"}

	var buf bytes.Buffer
	if err := Print(want, &buf); err != nil {
		t.Fatalf("Print() error = %v", err)
	}

	path := writeConfig(t, buf.String())
	got, err := Load(path)
	if err != nil {
		t.Fatalf("Load() of printed config error = %v\n%s", err, buf.String())
	}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("round trip mismatch\n got: %+v\nwant: %+v", got, want)
	}
}

func TestCreateDefault(t *testing.T) {
	clearEnv(t)
	t.Setenv("XDG_CONFIG_HOME", t.TempDir())

	path, err := CreateDefault()
	if err != nil {
		t.Fatalf("CreateDefault() error = %v", err)
	}
	if path != DefaultPath() {
		t.Errorf("CreateDefault() path = %q, want %q", path, DefaultPath())
	}
	info, err := os.Stat(path)
	if err != nil {
		t.Fatalf("stat: %v", err)
	}
	if perm := info.Mode().Perm(); perm != 0600 {
		t.Errorf("config mode = %o, want 600", perm)
	}

	if _, err := CreateDefault(); err == nil {
		t.Error("second CreateDefault() should fail")
	}

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load(\"\") error = %v", err)
	}
	if !reflect.DeepEqual(cfg, Default()) {
		t.Errorf("loaded default file differs from Default()")
	}
}

func TestDefaultPath(t *testing.T) {
	t.Setenv("XDG_CONFIG_HOME", "/xdg")
	if got := DefaultPath(); got != filepath.Join("/xdg", "licrm", "config.toml") {
		t.Errorf("DefaultPath() = %q", got)
	}
}
