package dosgate

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoadConfig_Defaults(t *testing.T) {
	t.Parallel()

	cfg, err := LoadConfig(LoadOptions{Args: []string{}, Environ: []string{}})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.IDType != IDTypeRemoteAddress {
		t.Fatalf("unexpected id type: %q", cfg.IDType)
	}
	if cfg.MaxRequestsPerSecond != 100 || cfg.MaxTrackers != 10000 {
		t.Fatalf("unexpected limits: %d %d", cfg.MaxRequestsPerSecond, cfg.MaxTrackers)
	}
	if cfg.SamplePeriod != 100*time.Millisecond || cfg.Alpha != 0.2 {
		t.Fatalf("unexpected estimator params: %v %v", cfg.SamplePeriod, cfg.Alpha)
	}
	if cfg.Delay != time.Second || cfg.MaxDelayQueue != 1000 || cfg.RejectStatus != 420 {
		t.Fatalf("unexpected rejection params: %v %d %d", cfg.Delay, cfg.MaxDelayQueue, cfg.RejectStatus)
	}
	if cfg.RejectMode != RejectModeDelayed {
		t.Fatalf("unexpected reject mode: %q", cfg.RejectMode)
	}
}

func TestLoadConfig_FileEnvFlagPrecedence(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	path := filepath.Join(dir, "dosgate.yaml")
	content := []byte("max_requests_per_second: 50\nid_type: remote_port\nsample_period_ms: 250\ndrain_timeout: 7s\n")
	if err := os.WriteFile(path, content, 0o600); err != nil {
		t.Fatalf("failed to write config: %v", err)
	}

	cfg, err := LoadConfig(LoadOptions{
		ConfigPath: path,
		Args:       []string{"-max_rps", "70"},
		Environ:    []string{"DOSGATE_MAX_RPS=60", "DOSGATE_ALPHA=0.5"},
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	// Flags beat env, env beats file, file beats defaults.
	if cfg.MaxRequestsPerSecond != 70 {
		t.Fatalf("unexpected max rps: %d", cfg.MaxRequestsPerSecond)
	}
	if cfg.Alpha != 0.5 {
		t.Fatalf("unexpected alpha: %v", cfg.Alpha)
	}
	if cfg.IDType != IDTypeRemotePort {
		t.Fatalf("unexpected id type: %q", cfg.IDType)
	}
	if cfg.SamplePeriod != 250*time.Millisecond {
		t.Fatalf("unexpected sample period: %v", cfg.SamplePeriod)
	}
	if cfg.DrainTimeout != 7*time.Second {
		t.Fatalf("unexpected drain timeout: %v", cfg.DrainTimeout)
	}
}

func TestLoadConfig_ConfigFlagSelectsFile(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	path := filepath.Join(dir, "dosgate.yaml")
	if err := os.WriteFile(path, []byte("delay_ms: 200\n"), 0o600); err != nil {
		t.Fatalf("failed to write config: %v", err)
	}
	cfg, err := LoadConfig(LoadOptions{Args: []string{"-config", path}, Environ: []string{}})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Delay != 200*time.Millisecond {
		t.Fatalf("unexpected delay: %v", cfg.Delay)
	}
}

func TestLoadConfig_RejectsBadEnvValue(t *testing.T) {
	t.Parallel()

	_, err := LoadConfig(LoadOptions{Args: []string{}, Environ: []string{"DOSGATE_MAX_RPS=plenty"}})
	if !errors.Is(err, ErrInvalidConfig) {
		t.Fatalf("expected invalid config, got %v", err)
	}
}

func TestConfig_ValidateRejectsOutOfRange(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name string
		cfg  Config
	}{
		{"alpha above one", Config{Alpha: 1.5}},
		{"sample period above one second", Config{SamplePeriod: 2 * time.Second}},
		{"negative max rps", Config{MaxRequestsPerSecond: -1}},
		{"negative delay", Config{Delay: -time.Second}},
		{"negative delay queue", Config{MaxDelayQueue: -5}},
		{"unknown reject mode", Config{RejectMode: "polite"}},
		{"unknown id type", Config{IDType: "subnet"}},
		{"bad reject status", Config{RejectStatus: 99}},
	}
	for _, tc := range cases {
		cfg := tc.cfg
		if err := cfg.Validate(); !errors.Is(err, ErrInvalidConfig) {
			t.Fatalf("%s: expected invalid config, got %v", tc.name, err)
		}
	}
}

func TestConfig_ValidateFillsDefaults(t *testing.T) {
	t.Parallel()

	cfg := &Config{}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.MaxRequestsPerSecond != 100 || cfg.MaxTrackers != 10000 {
		t.Fatalf("unexpected limits: %d %d", cfg.MaxRequestsPerSecond, cfg.MaxTrackers)
	}
	if cfg.IDType != IDTypeRemoteAddress || cfg.RejectMode != RejectModeDelayed {
		t.Fatalf("unexpected policies: %q %q", cfg.IDType, cfg.RejectMode)
	}
	if cfg.RejectStatus != StatusEnhanceYourCalm {
		t.Fatalf("unexpected status: %d", cfg.RejectStatus)
	}

	// A negative tracker cap means "use the default".
	cfg = &Config{MaxTrackers: -1}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.MaxTrackers != 10000 {
		t.Fatalf("unexpected tracker cap: %d", cfg.MaxTrackers)
	}
}
