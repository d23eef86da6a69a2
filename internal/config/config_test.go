package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/spf13/viper"
)

func TestDefault(t *testing.T) {
	cfg := Default()

	if cfg == nil {
		t.Fatal("Default() returned nil")
	}

	// Verify default agent config
	if cfg.Agent.Command != "claude" {
		t.Errorf("Agent.Command = %q, want %q", cfg.Agent.Command, "claude")
	}
	if len(cfg.Agent.Args) != 1 || cfg.Agent.Args[0] != "--dangerously-skip-permissions" {
		t.Errorf("Agent.Args = %v, want the skip-permissions flag", cfg.Agent.Args)
	}

	// Verify default worker config
	if cfg.Worker.MonitorPeriodSeconds != 5 {
		t.Errorf("Worker.MonitorPeriodSeconds = %d, want 5", cfg.Worker.MonitorPeriodSeconds)
	}
	if cfg.Worker.HeartbeatTailLines != 200 {
		t.Errorf("Worker.HeartbeatTailLines = %d, want 200", cfg.Worker.HeartbeatTailLines)
	}
	if cfg.Worker.MaxRetries != 3 {
		t.Errorf("Worker.MaxRetries = %d, want 3", cfg.Worker.MaxRetries)
	}

	// Verify default scheduler config
	if cfg.Scheduler.Strategy != "adaptive" {
		t.Errorf("Scheduler.Strategy = %q, want %q", cfg.Scheduler.Strategy, "adaptive")
	}
	if cfg.Scheduler.MaxBatch != 10 {
		t.Errorf("Scheduler.MaxBatch = %d, want 10", cfg.Scheduler.MaxBatch)
	}

	// Verify default voting config
	if cfg.Voting.DefaultVoters != 2 {
		t.Errorf("Voting.DefaultVoters = %d, want 2", cfg.Voting.DefaultVoters)
	}

	// Verify default review config
	if cfg.Review.Enabled {
		t.Error("Review.Enabled should be false by default")
	}
	if len(cfg.Review.Types) != 2 {
		t.Errorf("Review.Types = %v, want both reviewer kinds", cfg.Review.Types)
	}

	// Verify default dashboard config
	if !cfg.Dashboard.Enabled {
		t.Error("Dashboard.Enabled should be true by default")
	}
	if cfg.Dashboard.Port != 3456 {
		t.Errorf("Dashboard.Port = %d, want 3456", cfg.Dashboard.Port)
	}

	// Verify default sync config
	if cfg.Sync.Enabled {
		t.Error("Sync.Enabled should be false by default")
	}
	if cfg.Sync.HeartbeatIntervalSeconds != 30 {
		t.Errorf("Sync.HeartbeatIntervalSeconds = %d, want 30", cfg.Sync.HeartbeatIntervalSeconds)
	}

	// Verify default logging config
	if cfg.Logging.Level != "info" {
		t.Errorf("Logging.Level = %q, want %q", cfg.Logging.Level, "info")
	}
	if cfg.Logging.MaxSizeMB != 10 {
		t.Errorf("Logging.MaxSizeMB = %d, want 10", cfg.Logging.MaxSizeMB)
	}
	if cfg.Logging.MaxBackups != 3 {
		t.Errorf("Logging.MaxBackups = %d, want 3", cfg.Logging.MaxBackups)
	}
	if cfg.Logging.Compress {
		t.Error("Logging.Compress should be false by default")
	}
}

func TestDefaultValidates(t *testing.T) {
	if errs := Default().Validate(); len(errs) > 0 {
		t.Errorf("Default() config should validate cleanly, got: %v", ValidationErrors(errs))
	}
}

func TestDurationAccessors(t *testing.T) {
	cfg := Default()

	if got := cfg.Worker.MonitorPeriod(); got != 5*time.Second {
		t.Errorf("MonitorPeriod() = %v, want 5s", got)
	}
	if got := cfg.Verification.VerificationTimeout(); got != 5*time.Minute {
		t.Errorf("VerificationTimeout() = %v, want 5m", got)
	}
	if got := cfg.Sync.HeartbeatInterval(); got != 30*time.Second {
		t.Errorf("HeartbeatInterval() = %v, want 30s", got)
	}
	if got := cfg.Sync.InstanceTimeout(); got != 90*time.Second {
		t.Errorf("InstanceTimeout() = %v, want 90s", got)
	}
	if got := cfg.Sync.MessageRetention(); got != 5*time.Minute {
		t.Errorf("MessageRetention() = %v, want 5m", got)
	}
	if got := cfg.Sync.RetryDelay(); got != 10*time.Second {
		t.Errorf("RetryDelay() = %v, want 10s", got)
	}
}

func TestSetDefaultsAndLoad(t *testing.T) {
	viper.Reset()
	defer viper.Reset()
	SetDefaults()

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() with pure defaults failed: %v", err)
	}
	if cfg.Agent.Command != "claude" {
		t.Errorf("Agent.Command = %q, want %q", cfg.Agent.Command, "claude")
	}
	if cfg.Dashboard.Port != 3456 {
		t.Errorf("Dashboard.Port = %d, want 3456", cfg.Dashboard.Port)
	}
}

func TestLoadFromFile(t *testing.T) {
	viper.Reset()
	defer viper.Reset()
	SetDefaults()

	dir := t.TempDir()
	content := []byte("worker:\n  max_retries: 5\nscheduler:\n  strategy: depth-first\n")
	path := filepath.Join(dir, ProjectConfigName)
	if err := os.WriteFile(path, content, 0644); err != nil {
		t.Fatal(err)
	}

	viper.SetConfigFile(path)
	if err := viper.ReadInConfig(); err != nil {
		t.Fatalf("ReadInConfig() failed: %v", err)
	}

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() failed: %v", err)
	}
	if cfg.Worker.MaxRetries != 5 {
		t.Errorf("Worker.MaxRetries = %d, want 5 from file", cfg.Worker.MaxRetries)
	}
	if cfg.Scheduler.Strategy != "depth-first" {
		t.Errorf("Scheduler.Strategy = %q, want %q from file", cfg.Scheduler.Strategy, "depth-first")
	}
	// Untouched values keep their defaults.
	if cfg.Worker.MonitorPeriodSeconds != 5 {
		t.Errorf("Worker.MonitorPeriodSeconds = %d, want default 5", cfg.Worker.MonitorPeriodSeconds)
	}
}

func TestLoadRejectsInvalidValues(t *testing.T) {
	viper.Reset()
	defer viper.Reset()
	SetDefaults()
	viper.Set("dashboard.port", 99999)

	if _, err := Load(); err == nil {
		t.Error("Load() should reject an out-of-range dashboard port")
	}
}

func TestDashboardEnvBindings(t *testing.T) {
	viper.Reset()
	defer viper.Reset()
	t.Setenv("DASHBOARD_PORT", "4000")
	t.Setenv("ENABLE_DASHBOARD", "false")
	SetDefaults()

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() failed: %v", err)
	}
	if cfg.Dashboard.Port != 4000 {
		t.Errorf("Dashboard.Port = %d, want 4000 from DASHBOARD_PORT", cfg.Dashboard.Port)
	}
	if cfg.Dashboard.Enabled {
		t.Error("Dashboard.Enabled should be false from ENABLE_DASHBOARD")
	}
}

func TestConfigDir(t *testing.T) {
	t.Setenv("XDG_CONFIG_HOME", "/tmp/xdg")
	if got := ConfigDir(); got != filepath.Join("/tmp/xdg", "overseer") {
		t.Errorf("ConfigDir() = %q, want XDG path", got)
	}
}
