package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	p := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(p, []byte(body), 0o600); err != nil {
		t.Fatal(err)
	}
	return p
}

func TestLoadFile(t *testing.T) {
	t.Setenv("FORGE_SERVER", "")
	t.Setenv("FORGE_TOKEN", "")
	p := writeConfig(t, `
server: https://forge.example.com/
token: abc
identity:
  user_id: 7
  username: alice
reconnect:
  delay: 500ms
  max_attempts: 2
export:
  poll_interval: 2s
cache:
  path: off
logging:
  level: debug
`)
	cfg, err := Load(p)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Token != "abc" || cfg.Identity.UserID != 7 || cfg.Identity.Username != "alice" {
		t.Errorf("cfg = %+v", cfg)
	}
	if cfg.Reconnect.Delay != 500*time.Millisecond || cfg.Reconnect.MaxAttempts != 2 {
		t.Errorf("reconnect = %+v", cfg.Reconnect)
	}
	if cfg.Export.PollInterval != 2*time.Second {
		t.Errorf("poll interval = %v", cfg.Export.PollInterval)
	}
	if cfg.CacheEnabled() {
		t.Error("cache should be off")
	}
	if got := cfg.APIURL(); got != "https://forge.example.com/api/v1" {
		t.Errorf("APIURL = %q", got)
	}
	if got := cfg.WebSocketURL(); got != "wss://forge.example.com/ws" {
		t.Errorf("WebSocketURL = %q", got)
	}
}

func TestLoadDefaultsAndEnv(t *testing.T) {
	home := t.TempDir()
	t.Setenv("HOME", home)
	t.Setenv("FORGE_SERVER", "http://localhost:8080")
	t.Setenv("FORGE_TOKEN", "from-env")

	cfg, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Token != "from-env" {
		t.Errorf("token = %q", cfg.Token)
	}
	if cfg.Reconnect.Delay != 3*time.Second || cfg.Reconnect.MaxAttempts != 5 {
		t.Errorf("reconnect defaults = %+v", cfg.Reconnect)
	}
	if cfg.Export.PollInterval != time.Second {
		t.Errorf("poll default = %v", cfg.Export.PollInterval)
	}
	if want := filepath.Join(home, ".forgelive", "cache.db"); cfg.Cache.Path != want {
		t.Errorf("cache path = %q, want %q", cfg.Cache.Path, want)
	}
	if cfg.Logging.Level != "info" {
		t.Errorf("log level = %q", cfg.Logging.Level)
	}
	if got := cfg.WebSocketURL(); got != "ws://localhost:8080/ws" {
		t.Errorf("WebSocketURL = %q", got)
	}
}

func TestEnvOverridesFile(t *testing.T) {
	t.Setenv("FORGE_SERVER", "https://other.example.com")
	t.Setenv("FORGE_TOKEN", "")
	p := writeConfig(t, "server: https://forge.example.com\n")
	cfg, err := Load(p)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Server != "https://other.example.com" {
		t.Errorf("server = %q", cfg.Server)
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		cfg     Config
		wantErr string
	}{
		{"missing server", Config{}, "server is required"},
		{"bad scheme", Config{Server: "ftp://x"}, "http or https"},
		{"no host", Config{Server: "https://"}, "no host"},
		{"bad level", Config{Server: "https://x", Logging: LoggingConfig{Level: "loud"}}, "logging.level"},
		{"ok", Config{Server: "https://x"}, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.cfg.Validate()
			if tt.wantErr == "" {
				if err != nil {
					t.Errorf("unexpected error: %v", err)
				}
				return
			}
			if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("err = %v, want %q", err, tt.wantErr)
			}
		})
	}
}

func TestLoadBadYAML(t *testing.T) {
	t.Setenv("FORGE_SERVER", "")
	p := writeConfig(t, "server: [unclosed\n")
	if _, err := Load(p); err == nil {
		t.Error("expected parse error")
	}
}

func TestSaveRoundTrip(t *testing.T) {
	t.Setenv("FORGE_SERVER", "")
	t.Setenv("FORGE_TOKEN", "")
	p := filepath.Join(t.TempDir(), "nested", "config.yaml")
	in := &Config{
		Server:    "https://forge.example.com",
		Token:     "tok",
		Reconnect: ReconnectConfig{Delay: 4 * time.Second, MaxAttempts: 3},
		Cache:     CacheConfig{Path: "/tmp/c.db"},
	}
	if err := Save(p, in); err != nil {
		t.Fatalf("Save: %v", err)
	}
	out, err := Load(p)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if out.Server != in.Server || out.Token != in.Token || out.Reconnect != in.Reconnect || out.Cache.Path != "/tmp/c.db" {
		t.Errorf("round trip = %+v", out)
	}
}

func TestReadSkipsDefaultsAndEnv(t *testing.T) {
	t.Setenv("FORGE_SERVER", "http://env.example.com")
	t.Setenv("FORGE_TOKEN", "from-env")

	cfg, err := Read(filepath.Join(t.TempDir(), "missing.yaml"))
	if err != nil {
		t.Fatalf("Read missing: %v", err)
	}
	if *cfg != (Config{}) {
		t.Errorf("missing file = %+v, want zero config", cfg)
	}

	p := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(p, []byte("server: https://forge.example.com\n"), 0o600); err != nil {
		t.Fatal(err)
	}
	cfg, err = Read(p)
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	if cfg.Server != "https://forge.example.com" || cfg.Token != "" || cfg.Reconnect.Delay != 0 {
		t.Errorf("read = %+v", cfg)
	}
}

func TestExpandHome(t *testing.T) {
	t.Setenv("HOME", "/home/test")
	tests := map[string]string{
		"~":          "/home/test",
		"~/a/b":      "/home/test/a/b",
		"/abs":       "/abs",
		"rel/~/x":    "rel/~/x",
		"~other/dir": "~other/dir",
	}
	for in, want := range tests {
		if got := ExpandHome(in); got != want {
			t.Errorf("ExpandHome(%q) = %q, want %q", in, got, want)
		}
	}
}
