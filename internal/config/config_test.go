package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoadCreatesDefaultFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "config.yaml")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.WeekStart != "sunday" || time.Duration(cfg.PollInterval) != 3*time.Second {
		t.Fatalf("defaults = %+v", cfg)
	}

	info, err := os.Stat(path)
	if err != nil {
		t.Fatalf("config file not written: %v", err)
	}
	if info.Mode().Perm() != 0o600 {
		t.Fatalf("perm = %v, want 0600", info.Mode().Perm())
	}
}

func TestLoadReadsFileAndNormalizes(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	body := "backend_url: http://api.local:9000/\nweek_start: Monday\npoll_interval: 5s\nrefresh: \"0 * * * *\"\n"
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.BackendURL != "http://api.local:9000" {
		t.Fatalf("backend_url = %q", cfg.BackendURL)
	}
	if cfg.WeekStart != "monday" {
		t.Fatalf("week_start = %q", cfg.WeekStart)
	}
	if time.Duration(cfg.PollInterval) != 5*time.Second {
		t.Fatalf("poll_interval = %v", time.Duration(cfg.PollInterval))
	}
	if time.Duration(cfg.RequestTimeout) != 10*time.Second {
		t.Fatalf("request_timeout = %v", time.Duration(cfg.RequestTimeout))
	}
	if cfg.Listen != "127.0.0.1:8080" {
		t.Fatalf("listen = %q", cfg.Listen)
	}
}

func TestLoadRejectsBadDuration(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte("poll_interval: soon\n"), 0o600); err != nil {
		t.Fatal(err)
	}
	if _, err := Load(path); err == nil {
		t.Fatalf("expected an error for a bad duration")
	}
}

func TestValidate(t *testing.T) {
	cfg := DefaultConfig()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("defaults invalid: %v", err)
	}

	bad := DefaultConfig()
	bad.BackendURL = "api.local"
	if err := bad.Validate(); err == nil {
		t.Fatalf("missing scheme accepted")
	}

	bad = DefaultConfig()
	bad.RefreshCron = "every minute"
	if err := bad.Validate(); err == nil {
		t.Fatalf("bad cron accepted")
	}

	off := DefaultConfig()
	off.RefreshCron = "off"
	if err := off.Validate(); err != nil || off.RefreshEnabled() {
		t.Fatalf("refresh off: err=%v enabled=%v", err, off.RefreshEnabled())
	}
}

func TestApplyEnv(t *testing.T) {
	env := map[string]string{
		"ATTENDBOARD_BACKEND_URL":     "https://attendance.example.org",
		"ATTENDBOARD_POLL_INTERVAL":   "1500ms",
		"ATTENDBOARD_LOG_LEVEL":       "debug",
		"ATTENDBOARD_WEEK_START":      "  ",
		"ATTENDBOARD_REQUEST_TIMEOUT": "nope",
	}
	lookup := func(k string) (string, bool) {
		v, ok := env[k]
		return v, ok
	}

	cfg := DefaultConfig()
	ApplyEnv(cfg, lookup)

	if cfg.BackendURL != "https://attendance.example.org" {
		t.Fatalf("backend_url = %q", cfg.BackendURL)
	}
	if time.Duration(cfg.PollInterval) != 1500*time.Millisecond {
		t.Fatalf("poll_interval = %v", time.Duration(cfg.PollInterval))
	}
	if cfg.LogLevel != "debug" {
		t.Fatalf("log_level = %q", cfg.LogLevel)
	}
	if cfg.WeekStart != "sunday" {
		t.Fatalf("blank env overrode week_start: %q", cfg.WeekStart)
	}
	if time.Duration(cfg.RequestTimeout) != 10*time.Second {
		t.Fatalf("bad duration applied: %v", time.Duration(cfg.RequestTimeout))
	}
}

func TestLoadDotEnvDoesNotOverrideProcessEnv(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, ".env")
	if err := os.WriteFile(path, []byte("ATTENDBOARD_TEST_A=file\nATTENDBOARD_TEST_B=file\n"), 0o600); err != nil {
		t.Fatal(err)
	}
	t.Setenv("ATTENDBOARD_TEST_A", "process")
	// Registers cleanup for B, which the .env file sets.
	t.Setenv("ATTENDBOARD_TEST_B", "")
	os.Unsetenv("ATTENDBOARD_TEST_B")

	LoadDotEnv(path)

	if got := os.Getenv("ATTENDBOARD_TEST_A"); got != "process" {
		t.Fatalf("A = %q, want process", got)
	}
	if got := os.Getenv("ATTENDBOARD_TEST_B"); got != "file" {
		t.Fatalf("B = %q, want file", got)
	}
	LoadDotEnv(filepath.Join(dir, "missing.env"))
}

func TestSaveRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	cfg := DefaultConfig()
	cfg.PollInterval = Duration(7 * time.Second)
	cfg.Timezone = "UTC"
	if err := cfg.Save(path); err != nil {
		t.Fatalf("Save: %v", err)
	}

	got, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if time.Duration(got.PollInterval) != 7*time.Second || got.Timezone != "UTC" {
		t.Fatalf("round trip = %+v", got)
	}
	if got.Location().String() != "UTC" {
		t.Fatalf("location = %v", got.Location())
	}
}
