package config

import (
	"fmt"
	"slices"
	"strings"
)

// ValidationError represents a single validation failure
type ValidationError struct {
	Field   string // The config field path (e.g., "worker.max_retries")
	Value   any    // The invalid value
	Message string // Human-readable error description
}

// Error implements the error interface for ValidationError
func (e ValidationError) Error() string {
	return fmt.Sprintf("%s: %s (got: %v)", e.Field, e.Message, e.Value)
}

// ValidationErrors is a collection of validation errors
type ValidationErrors []ValidationError

// Error implements the error interface for ValidationErrors
func (e ValidationErrors) Error() string {
	if len(e) == 0 {
		return ""
	}
	if len(e) == 1 {
		return e[0].Error()
	}

	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("%d validation errors:\n", len(e)))
	for i, err := range e {
		sb.WriteString(fmt.Sprintf("  %d. %s\n", i+1, err.Error()))
	}
	return sb.String()
}

// ValidLogLevels returns the list of valid log levels
func ValidLogLevels() []string {
	return []string{"debug", "info", "warn", "error"}
}

// ValidStrategies returns the list of valid scheduler strategies
func ValidStrategies() []string {
	return []string{"adaptive", "breadth-first", "depth-first"}
}

// ValidReviewTypes returns the list of valid reviewer kinds
func ValidReviewTypes() []string {
	return []string{"code", "architecture"}
}

// Validate checks the Config for invalid values and returns all validation errors found
func (c *Config) Validate() []ValidationError {
	var errors []ValidationError

	errors = append(errors, c.validateAgent()...)
	errors = append(errors, c.validateWorker()...)
	errors = append(errors, c.validateScheduler()...)
	errors = append(errors, c.validateVoting()...)
	errors = append(errors, c.validateReview()...)
	errors = append(errors, c.validateVerification()...)
	errors = append(errors, c.validateSync()...)
	errors = append(errors, c.validateDashboard()...)
	errors = append(errors, c.validateLogging()...)

	return errors
}

// validateAgent validates the AgentConfig
func (c *Config) validateAgent() []ValidationError {
	var errors []ValidationError

	if strings.TrimSpace(c.Agent.Command) == "" {
		errors = append(errors, ValidationError{
			Field:   "agent.command",
			Value:   c.Agent.Command,
			Message: "must not be empty",
		})
	}

	return errors
}

// validateWorker validates the WorkerConfig
func (c *Config) validateWorker() []ValidationError {
	var errors []ValidationError

	if c.Worker.MonitorPeriodSeconds < 1 {
		errors = append(errors, ValidationError{
			Field:   "worker.monitor_period_seconds",
			Value:   c.Worker.MonitorPeriodSeconds,
			Message: "must be at least 1",
		})
	}
	if c.Worker.HeartbeatTailLines < 1 {
		errors = append(errors, ValidationError{
			Field:   "worker.heartbeat_tail_lines",
			Value:   c.Worker.HeartbeatTailLines,
			Message: "must be at least 1",
		})
	}

	// Reasonable upper bound: a heartbeat is a snapshot, not a transcript.
	const maxTailLines = 10000
	if c.Worker.HeartbeatTailLines > maxTailLines {
		errors = append(errors, ValidationError{
			Field:   "worker.heartbeat_tail_lines",
			Value:   c.Worker.HeartbeatTailLines,
			Message: fmt.Sprintf("exceeds maximum of %d", maxTailLines),
		})
	}
	if c.Worker.MaxRetries < 1 {
		errors = append(errors, ValidationError{
			Field:   "worker.max_retries",
			Value:   c.Worker.MaxRetries,
			Message: "must be at least 1",
		})
	}

	return errors
}

// validateScheduler validates the SchedulerConfig
func (c *Config) validateScheduler() []ValidationError {
	var errors []ValidationError

	if c.Scheduler.Strategy != "" && !slices.Contains(ValidStrategies(), c.Scheduler.Strategy) {
		errors = append(errors, ValidationError{
			Field:   "scheduler.strategy",
			Value:   c.Scheduler.Strategy,
			Message: fmt.Sprintf("must be one of: %s", strings.Join(ValidStrategies(), ", ")),
		})
	}
	if c.Scheduler.MaxBatch < 1 || c.Scheduler.MaxBatch > 10 {
		errors = append(errors, ValidationError{
			Field:   "scheduler.max_batch",
			Value:   c.Scheduler.MaxBatch,
			Message: "must be between 1 and 10",
		})
	}

	return errors
}

// validateVoting validates the VotingConfig
func (c *Config) validateVoting() []ValidationError {
	var errors []ValidationError

	if c.Voting.DefaultVoters < 2 || c.Voting.DefaultVoters > 3 {
		errors = append(errors, ValidationError{
			Field:   "voting.default_voters",
			Value:   c.Voting.DefaultVoters,
			Message: "must be 2 or 3",
		})
	}

	return errors
}

// validateReview validates the ReviewConfig
func (c *Config) validateReview() []ValidationError {
	var errors []ValidationError

	for _, t := range c.Review.Types {
		if !slices.Contains(ValidReviewTypes(), t) {
			errors = append(errors, ValidationError{
				Field:   "review.types",
				Value:   t,
				Message: fmt.Sprintf("must be one of: %s", strings.Join(ValidReviewTypes(), ", ")),
			})
		}
	}

	return errors
}

// validateVerification validates the VerificationConfig
func (c *Config) validateVerification() []ValidationError {
	var errors []ValidationError

	if c.Verification.TimeoutMinutes < 1 {
		errors = append(errors, ValidationError{
			Field:   "verification.timeout_minutes",
			Value:   c.Verification.TimeoutMinutes,
			Message: "must be at least 1",
		})
	}

	return errors
}

// validateSync validates the SyncConfig
func (c *Config) validateSync() []ValidationError {
	var errors []ValidationError

	if c.Sync.HeartbeatIntervalSeconds < 1 {
		errors = append(errors, ValidationError{
			Field:   "sync.heartbeat_interval_seconds",
			Value:   c.Sync.HeartbeatIntervalSeconds,
			Message: "must be at least 1",
		})
	}
	if c.Sync.InstanceTimeoutSeconds < c.Sync.HeartbeatIntervalSeconds {
		errors = append(errors, ValidationError{
			Field:   "sync.instance_timeout_seconds",
			Value:   c.Sync.InstanceTimeoutSeconds,
			Message: "must be at least the heartbeat interval",
		})
	}
	if c.Sync.MessageRetentionMinutes < 1 {
		errors = append(errors, ValidationError{
			Field:   "sync.message_retention_minutes",
			Value:   c.Sync.MessageRetentionMinutes,
			Message: "must be at least 1",
		})
	}
	if c.Sync.MaxRetries < 0 {
		errors = append(errors, ValidationError{
			Field:   "sync.max_retries",
			Value:   c.Sync.MaxRetries,
			Message: "must be non-negative",
		})
	}
	if c.Sync.RetryDelaySeconds < 1 {
		errors = append(errors, ValidationError{
			Field:   "sync.retry_delay_seconds",
			Value:   c.Sync.RetryDelaySeconds,
			Message: "must be at least 1",
		})
	}

	return errors
}

// validateDashboard validates the DashboardConfig
func (c *Config) validateDashboard() []ValidationError {
	var errors []ValidationError

	if c.Dashboard.Port < 1 || c.Dashboard.Port > 65535 {
		errors = append(errors, ValidationError{
			Field:   "dashboard.port",
			Value:   c.Dashboard.Port,
			Message: "must be between 1 and 65535",
		})
	}

	return errors
}

// validateLogging validates the LoggingConfig
func (c *Config) validateLogging() []ValidationError {
	var errors []ValidationError

	if c.Logging.Level != "" && !slices.Contains(ValidLogLevels(), c.Logging.Level) {
		errors = append(errors, ValidationError{
			Field:   "logging.level",
			Value:   c.Logging.Level,
			Message: fmt.Sprintf("must be one of: %s", strings.Join(ValidLogLevels(), ", ")),
		})
	}
	if c.Logging.MaxSizeMB < 0 {
		errors = append(errors, ValidationError{
			Field:   "logging.max_size_mb",
			Value:   c.Logging.MaxSizeMB,
			Message: "must be non-negative (0 disables rotation)",
		})
	}
	if c.Logging.MaxBackups < 0 {
		errors = append(errors, ValidationError{
			Field:   "logging.max_backups",
			Value:   c.Logging.MaxBackups,
			Message: "must be non-negative",
		})
	}

	return errors
}
