package config

import (
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/viper"
)

// Config represents the complete overseer configuration
type Config struct {
	Agent        AgentConfig        `mapstructure:"agent"`
	Worker       WorkerConfig       `mapstructure:"worker"`
	Scheduler    SchedulerConfig    `mapstructure:"scheduler"`
	Voting       VotingConfig       `mapstructure:"voting"`
	Review       ReviewConfig       `mapstructure:"review"`
	Verification VerificationConfig `mapstructure:"verification"`
	Sync         SyncConfig         `mapstructure:"sync"`
	Dashboard    DashboardConfig    `mapstructure:"dashboard"`
	Logging      LoggingConfig      `mapstructure:"logging"`
}

// AgentConfig controls how worker agent processes are launched
type AgentConfig struct {
	// Command is the code agent executable (default: "claude")
	Command string `mapstructure:"command"`
	// Args are passed to the agent before the prompt-file flag
	Args []string `mapstructure:"args"`
}

// WorkerConfig controls worker monitoring behavior
type WorkerConfig struct {
	// MonitorPeriodSeconds is how often the completion monitor scans (default: 5)
	MonitorPeriodSeconds int `mapstructure:"monitor_period_seconds"`
	// HeartbeatTailLines is how many output lines a heartbeat captures (default: 200)
	HeartbeatTailLines int `mapstructure:"heartbeat_tail_lines"`
	// MaxRetries is the automatic retry cap for failed features (default: 3)
	MaxRetries int `mapstructure:"max_retries"`
}

// SchedulerConfig controls batch selection
type SchedulerConfig struct {
	// Strategy is the priority adjustment: "adaptive", "breadth-first", "depth-first"
	Strategy string `mapstructure:"strategy"`
	// MaxBatch caps how many workers one parallel start may launch (default: 10)
	MaxBatch int `mapstructure:"max_batch"`
}

// VotingConfig controls competitive voting rounds
type VotingConfig struct {
	// DefaultVoters is the voter count used when the caller gives none (2 or 3)
	DefaultVoters int `mapstructure:"default_voters"`
}

// ReviewConfig seeds the session review phase when a session is initialised
type ReviewConfig struct {
	// Enabled turns on the post-completion review phase (default: false)
	Enabled bool `mapstructure:"enabled"`
	// Types are the reviewer kinds to run: "code", "architecture"
	Types []string `mapstructure:"types"`
	// AutoImplement turns actionable findings into follow-up features (default: false)
	AutoImplement bool `mapstructure:"auto_implement"`
}

// VerificationConfig controls verification command runs
type VerificationConfig struct {
	// TimeoutMinutes bounds one verification run (default: 5)
	TimeoutMinutes int `mapstructure:"timeout_minutes"`
	// Command is the default verification argv; empty disables verification
	Command []string `mapstructure:"command"`
}

// SyncConfig controls cross-instance protocol distribution
type SyncConfig struct {
	// Enabled turns on file-based sync with peer instances (default: false)
	Enabled bool `mapstructure:"enabled"`
	// HeartbeatIntervalSeconds is the presence-broadcast period (default: 30)
	HeartbeatIntervalSeconds int `mapstructure:"heartbeat_interval_seconds"`
	// InstanceTimeoutSeconds is how long a silent peer stays listed (default: 90)
	InstanceTimeoutSeconds int `mapstructure:"instance_timeout_seconds"`
	// MessageRetentionMinutes is how long delivered messages are kept (default: 5)
	MessageRetentionMinutes int `mapstructure:"message_retention_minutes"`
	// MaxRetries is the resend cap for unacknowledged broadcasts (default: 3)
	MaxRetries int `mapstructure:"max_retries"`
	// RetryDelaySeconds is the wait before a resend (default: 10)
	RetryDelaySeconds int `mapstructure:"retry_delay_seconds"`
}

// DashboardConfig controls the external dashboard integration. The engine
// itself serves no UI; these values are advertised for the dashboard
// process to pick up.
type DashboardConfig struct {
	// Enabled advertises the dashboard (default: true, env: ENABLE_DASHBOARD)
	Enabled bool `mapstructure:"enabled"`
	// Port the dashboard listens on (default: 3456, env: DASHBOARD_PORT)
	Port int `mapstructure:"port"`
}

// LoggingConfig controls structured logging and debug-log rotation
type LoggingConfig struct {
	// Level is the log level: "debug", "info", "warn", "error" (default: "info")
	Level string `mapstructure:"level"`
	// File is an optional log file path; empty logs to stderr
	File string `mapstructure:"file"`
	// MaxSizeMB rotates debug.log past this size; 0 disables rotation (default: 10)
	MaxSizeMB int `mapstructure:"max_size_mb"`
	// MaxBackups is how many rotated logs to keep (default: 3)
	MaxBackups int `mapstructure:"max_backups"`
	// Compress gzips rotated logs (default: false)
	Compress bool `mapstructure:"compress"`
}

// MonitorPeriod returns the completion-monitor period as a time.Duration
func (c *WorkerConfig) MonitorPeriod() time.Duration {
	return time.Duration(c.MonitorPeriodSeconds) * time.Second
}

// VerificationTimeout returns the verification timeout as a time.Duration
func (c *VerificationConfig) VerificationTimeout() time.Duration {
	return time.Duration(c.TimeoutMinutes) * time.Minute
}

// HeartbeatInterval returns the sync heartbeat period as a time.Duration
func (c *SyncConfig) HeartbeatInterval() time.Duration {
	return time.Duration(c.HeartbeatIntervalSeconds) * time.Second
}

// InstanceTimeout returns the peer staleness window as a time.Duration
func (c *SyncConfig) InstanceTimeout() time.Duration {
	return time.Duration(c.InstanceTimeoutSeconds) * time.Second
}

// MessageRetention returns the message retention window as a time.Duration
func (c *SyncConfig) MessageRetention() time.Duration {
	return time.Duration(c.MessageRetentionMinutes) * time.Minute
}

// RetryDelay returns the resend delay as a time.Duration
func (c *SyncConfig) RetryDelay() time.Duration {
	return time.Duration(c.RetryDelaySeconds) * time.Second
}

// Default returns a Config with sensible default values
func Default() *Config {
	return &Config{
		Agent: AgentConfig{
			Command: "claude",
			Args:    []string{"--dangerously-skip-permissions"},
		},
		Worker: WorkerConfig{
			MonitorPeriodSeconds: 5,
			HeartbeatTailLines:   200,
			MaxRetries:           3,
		},
		Scheduler: SchedulerConfig{
			Strategy: "adaptive",
			MaxBatch: 10,
		},
		Voting: VotingConfig{
			DefaultVoters: 2,
		},
		Review: ReviewConfig{
			Enabled:       false,
			Types:         []string{"code", "architecture"},
			AutoImplement: false,
		},
		Verification: VerificationConfig{
			TimeoutMinutes: 5,
			Command:        []string{},
		},
		Sync: SyncConfig{
			Enabled:                  false,
			HeartbeatIntervalSeconds: 30,
			InstanceTimeoutSeconds:   90,
			MessageRetentionMinutes:  5,
			MaxRetries:               3,
			RetryDelaySeconds:        10,
		},
		Dashboard: DashboardConfig{
			Enabled: true,
			Port:    3456,
		},
		Logging: LoggingConfig{
			Level:      "info",
			File:       "",
			MaxSizeMB:  10,
			MaxBackups: 3,
			Compress:   false,
		},
	}
}

// SetDefaults registers default values and environment bindings with viper
func SetDefaults() {
	defaults := Default()

	// Agent defaults
	viper.SetDefault("agent.command", defaults.Agent.Command)
	viper.SetDefault("agent.args", defaults.Agent.Args)

	// Worker defaults
	viper.SetDefault("worker.monitor_period_seconds", defaults.Worker.MonitorPeriodSeconds)
	viper.SetDefault("worker.heartbeat_tail_lines", defaults.Worker.HeartbeatTailLines)
	viper.SetDefault("worker.max_retries", defaults.Worker.MaxRetries)

	// Scheduler defaults
	viper.SetDefault("scheduler.strategy", defaults.Scheduler.Strategy)
	viper.SetDefault("scheduler.max_batch", defaults.Scheduler.MaxBatch)

	// Voting defaults
	viper.SetDefault("voting.default_voters", defaults.Voting.DefaultVoters)

	// Review defaults
	viper.SetDefault("review.enabled", defaults.Review.Enabled)
	viper.SetDefault("review.types", defaults.Review.Types)
	viper.SetDefault("review.auto_implement", defaults.Review.AutoImplement)

	// Verification defaults
	viper.SetDefault("verification.timeout_minutes", defaults.Verification.TimeoutMinutes)
	viper.SetDefault("verification.command", defaults.Verification.Command)

	// Sync defaults
	viper.SetDefault("sync.enabled", defaults.Sync.Enabled)
	viper.SetDefault("sync.heartbeat_interval_seconds", defaults.Sync.HeartbeatIntervalSeconds)
	viper.SetDefault("sync.instance_timeout_seconds", defaults.Sync.InstanceTimeoutSeconds)
	viper.SetDefault("sync.message_retention_minutes", defaults.Sync.MessageRetentionMinutes)
	viper.SetDefault("sync.max_retries", defaults.Sync.MaxRetries)
	viper.SetDefault("sync.retry_delay_seconds", defaults.Sync.RetryDelaySeconds)

	// Dashboard defaults. The env names are fixed by the dashboard process.
	viper.SetDefault("dashboard.enabled", defaults.Dashboard.Enabled)
	viper.SetDefault("dashboard.port", defaults.Dashboard.Port)
	_ = viper.BindEnv("dashboard.enabled", "ENABLE_DASHBOARD")
	_ = viper.BindEnv("dashboard.port", "DASHBOARD_PORT")

	// Logging defaults
	viper.SetDefault("logging.level", defaults.Logging.Level)
	viper.SetDefault("logging.file", defaults.Logging.File)
	viper.SetDefault("logging.max_size_mb", defaults.Logging.MaxSizeMB)
	viper.SetDefault("logging.max_backups", defaults.Logging.MaxBackups)
	viper.SetDefault("logging.compress", defaults.Logging.Compress)
}

// Load reads the configuration from viper into a Config struct and validates it
func Load() (*Config, error) {
	var cfg Config
	if err := viper.Unmarshal(&cfg); err != nil {
		return nil, err
	}

	if errs := cfg.Validate(); len(errs) > 0 {
		return nil, ValidationErrors(errs)
	}

	return &cfg, nil
}

// Get returns the current configuration (convenience function)
func Get() *Config {
	cfg, err := Load()
	if err != nil {
		// Fall back to defaults if unmarshaling fails
		return Default()
	}
	return cfg
}

// ConfigDir returns the path to the user's config directory
func ConfigDir() string {
	// Check XDG_CONFIG_HOME first
	if xdg := os.Getenv("XDG_CONFIG_HOME"); xdg != "" {
		return filepath.Join(xdg, "overseer")
	}
	// Fall back to ~/.config/overseer
	home, err := os.UserHomeDir()
	if err != nil {
		return ".overseer"
	}
	return filepath.Join(home, ".config", "overseer")
}

// ConfigFile returns the path to the user-level config file
func ConfigFile() string {
	return filepath.Join(ConfigDir(), "config.yaml")
}

// ProjectConfigName is the per-project config file looked up in the
// project directory.
const ProjectConfigName = ".overseer.yaml"
