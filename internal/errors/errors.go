// Package errors provides centralized error definitions and error handling
// utilities for the Overseer codebase. It defines domain-specific errors,
// semantic error types, error constructors with context wrapping, and error
// classification helpers.
//
// # Error Types
//
// The package provides two categories of errors:
//
// Domain-specific errors represent errors from specific subsystems:
//   - SessionError: errors related to session management
//   - WorkerError: errors related to worker process management
//   - ProtocolError: errors related to protocol governance
//   - SchedulerError: errors related to feature scheduling
//   - SyncError: errors related to cross-instance synchronisation
//
// Semantic errors represent common error conditions:
//   - NotFoundError: resource not found
//   - AlreadyExistsError: resource already exists
//   - ValidationError: invalid input or state
//   - TimeoutError: operation timed out
//
// # Usage
//
// Creating errors:
//
//	// Domain-specific error
//	err := errors.NewSessionError("failed to load session", errors.ErrSessionNotFound)
//
//	// Semantic error
//	err := errors.NewNotFoundError("feature", "feature-3")
//
// Checking errors:
//
//	if errors.Is(err, errors.ErrSessionNotFound) { ... }
//
//	var protoErr *errors.ProtocolError
//	if errors.As(err, &protoErr) { ... }
//
//	if errors.IsRetryable(err) { ... }
package errors

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// Re-export standard library functions for convenience.
// This allows callers to import only this package for all error handling.
var (
	Is     = errors.Is
	As     = errors.As
	Unwrap = errors.Unwrap
	New    = errors.New
	Join   = errors.Join
)

// Severity represents the severity level of an error.
type Severity int

const (
	// SeverityDebug is for errors that are useful for debugging but not critical.
	SeverityDebug Severity = iota
	// SeverityInfo is for informational errors that don't indicate a problem.
	SeverityInfo
	// SeverityWarning is for errors that might indicate a problem but aren't critical.
	SeverityWarning
	// SeverityError is for errors that indicate a real problem.
	SeverityError
	// SeverityCritical is for errors that require immediate attention.
	SeverityCritical
)

// String returns the string representation of the severity level.
func (s Severity) String() string {
	switch s {
	case SeverityDebug:
		return "debug"
	case SeverityInfo:
		return "info"
	case SeverityWarning:
		return "warning"
	case SeverityError:
		return "error"
	case SeverityCritical:
		return "critical"
	default:
		return "unknown"
	}
}

// -----------------------------------------------------------------------------
// Sentinel Errors
// -----------------------------------------------------------------------------

// Session-related sentinel errors
var (
	// ErrSessionNotFound indicates that no session exists for the project directory.
	ErrSessionNotFound = New("session not found")
	// ErrSessionConflict indicates that an in_progress session already exists.
	ErrSessionConflict = New("session already in progress")
	// ErrSessionCorrupted indicates that session data is corrupted.
	ErrSessionCorrupted = New("session data corrupted")
	// ErrSessionTerminal indicates that the session has reached a terminal state.
	ErrSessionTerminal = New("session is in a terminal state")
)

// Worker-related sentinel errors
var (
	// ErrWorkerNotFound indicates that a worker could not be found.
	ErrWorkerNotFound = New("worker not found")
	// ErrWorkerAlreadyRunning indicates that a worker is already running for a feature.
	ErrWorkerAlreadyRunning = New("worker already running")
	// ErrWorkerSpawnFailed indicates that a worker session failed to start.
	ErrWorkerSpawnFailed = New("worker failed to start")
	// ErrSessionMissing indicates that a terminal session no longer exists.
	ErrSessionMissing = New("terminal session not found")
)

// Protocol-related sentinel errors
var (
	// ErrProtocolNotFound indicates that a protocol could not be found.
	ErrProtocolNotFound = New("protocol not found")
	// ErrProtocolConflict indicates that two protocols declare each other conflicting.
	ErrProtocolConflict = New("protocol conflict")
	// ErrProtocolRequired indicates that a protocol is required by an active protocol.
	ErrProtocolRequired = New("protocol is required by an active protocol")
	// ErrProtocolReferenced indicates that a protocol is extended or required by another.
	ErrProtocolReferenced = New("protocol is referenced by another protocol")
	// ErrConstraintBlocked indicates that an operation was blocked by a constraint.
	ErrConstraintBlocked = New("blocked by protocol constraint")
	// ErrInvalidVersion indicates an invalid semantic version string.
	ErrInvalidVersion = New("invalid semantic version")
)

// Scheduler-related sentinel errors
var (
	// ErrFeatureNotFound indicates that a feature could not be found.
	ErrFeatureNotFound = New("feature not found")
	// ErrDependencyCycle indicates a circular dependency between features.
	ErrDependencyCycle = New("dependency cycle detected")
	// ErrDependenciesNotMet indicates that a feature's dependencies are incomplete.
	ErrDependenciesNotMet = New("dependencies not met")
	// ErrSelfDependency indicates a feature depending on itself.
	ErrSelfDependency = New("feature cannot depend on itself")
)

// General sentinel errors
var (
	// ErrTimeout indicates that an operation timed out.
	ErrTimeout = New("operation timed out")
	// ErrCanceled indicates that an operation was canceled.
	ErrCanceled = New("operation canceled")
	// ErrInvalidInput indicates that input validation failed.
	ErrInvalidInput = New("invalid input")
	// ErrCommandNotAllowed indicates a verification command outside the allow-list.
	ErrCommandNotAllowed = New("command not allowed")
)

// -----------------------------------------------------------------------------
// Base Error Interface
// -----------------------------------------------------------------------------

// OverseerError is the base interface for all Overseer errors.
// It extends the standard error interface with additional methods for
// error handling and classification.
type OverseerError interface {
	error

	// Unwrap returns the underlying error, if any.
	Unwrap() error

	// Is reports whether this error matches the target error.
	Is(target error) bool

	// Severity returns the severity level of this error.
	Severity() Severity

	// IsRetryable returns true if the error is transient and the operation
	// may succeed on retry.
	IsRetryable() bool

	// IsUserFacing returns true if the error message is safe to display
	// to end users.
	IsUserFacing() bool
}

// -----------------------------------------------------------------------------
// Base Error Implementation
// -----------------------------------------------------------------------------

// baseError provides common functionality for all error types.
type baseError struct {
	message    string
	cause      error
	severity   Severity
	retryable  bool
	userFacing bool
}

// Error returns the error message.
func (e *baseError) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("%s: %v", e.message, e.cause)
	}
	return e.message
}

// Unwrap returns the underlying error.
func (e *baseError) Unwrap() error {
	return e.cause
}

// Is checks if this error matches the target.
func (e *baseError) Is(target error) bool {
	if e.cause != nil {
		return errors.Is(e.cause, target)
	}
	return false
}

// Severity returns the error severity.
func (e *baseError) Severity() Severity {
	return e.severity
}

// IsRetryable returns whether the error is retryable.
func (e *baseError) IsRetryable() bool {
	return e.retryable
}

// IsUserFacing returns whether the error is safe to show users.
func (e *baseError) IsUserFacing() bool {
	return e.userFacing
}

// -----------------------------------------------------------------------------
// Domain-Specific Errors
// -----------------------------------------------------------------------------

// SessionError represents errors related to session management.
type SessionError struct {
	baseError
	ProjectDir string
}

// NewSessionError creates a new SessionError.
func NewSessionError(message string, cause error) *SessionError {
	return &SessionError{
		baseError: baseError{
			message:    message,
			cause:      cause,
			severity:   SeverityError,
			retryable:  false,
			userFacing: true,
		},
	}
}

// WithProjectDir adds the project directory to the error context.
func (e *SessionError) WithProjectDir(dir string) *SessionError {
	e.ProjectDir = dir
	return e
}

// WithSeverity sets the error severity.
func (e *SessionError) WithSeverity(s Severity) *SessionError {
	e.severity = s
	return e
}

// Error returns the formatted error message.
func (e *SessionError) Error() string {
	prefix := "session error"
	if e.ProjectDir != "" {
		prefix = fmt.Sprintf("session error [project=%s]", e.ProjectDir)
	}
	if e.cause != nil {
		return fmt.Sprintf("%s: %s: %v", prefix, e.message, e.cause)
	}
	return fmt.Sprintf("%s: %s", prefix, e.message)
}

// Is checks if this error matches the target.
func (e *SessionError) Is(target error) bool {
	if _, ok := target.(*SessionError); ok {
		return true
	}
	return e.baseError.Is(target)
}

// WorkerError represents errors related to worker process management.
type WorkerError struct {
	baseError
	SessionName string
	FeatureID   string
}

// NewWorkerError creates a new WorkerError.
func NewWorkerError(message string, cause error) *WorkerError {
	return &WorkerError{
		baseError: baseError{
			message:    message,
			cause:      cause,
			severity:   SeverityError,
			retryable:  false,
			userFacing: true,
		},
	}
}

// WithSessionName adds the terminal session name to the error context.
func (e *WorkerError) WithSessionName(name string) *WorkerError {
	e.SessionName = name
	return e
}

// WithFeatureID adds the feature ID to the error context.
func (e *WorkerError) WithFeatureID(id string) *WorkerError {
	e.FeatureID = id
	return e
}

// WithRetryable sets whether the error is retryable.
func (e *WorkerError) WithRetryable(r bool) *WorkerError {
	e.retryable = r
	return e
}

// Error returns the formatted error message.
func (e *WorkerError) Error() string {
	var parts []string
	if e.SessionName != "" {
		parts = append(parts, fmt.Sprintf("worker=%s", e.SessionName))
	}
	if e.FeatureID != "" {
		parts = append(parts, fmt.Sprintf("feature=%s", e.FeatureID))
	}

	prefix := "worker error"
	if len(parts) > 0 {
		prefix = fmt.Sprintf("worker error [%s]", strings.Join(parts, ", "))
	}

	if e.cause != nil {
		return fmt.Sprintf("%s: %s: %v", prefix, e.message, e.cause)
	}
	return fmt.Sprintf("%s: %s", prefix, e.message)
}

// Is checks if this error matches the target.
func (e *WorkerError) Is(target error) bool {
	if _, ok := target.(*WorkerError); ok {
		return true
	}
	return e.baseError.Is(target)
}

// ProtocolError represents errors related to protocol governance.
type ProtocolError struct {
	baseError
	ProtocolID   string
	ConstraintID string
}

// NewProtocolError creates a new ProtocolError.
func NewProtocolError(message string, cause error) *ProtocolError {
	return &ProtocolError{
		baseError: baseError{
			message:    message,
			cause:      cause,
			severity:   SeverityError,
			retryable:  false,
			userFacing: true,
		},
	}
}

// WithProtocolID adds the protocol ID to the error context.
func (e *ProtocolError) WithProtocolID(id string) *ProtocolError {
	e.ProtocolID = id
	return e
}

// WithConstraintID adds the constraint ID to the error context.
func (e *ProtocolError) WithConstraintID(id string) *ProtocolError {
	e.ConstraintID = id
	return e
}

// Error returns the formatted error message.
func (e *ProtocolError) Error() string {
	var parts []string
	if e.ProtocolID != "" {
		parts = append(parts, fmt.Sprintf("protocol=%s", e.ProtocolID))
	}
	if e.ConstraintID != "" {
		parts = append(parts, fmt.Sprintf("constraint=%s", e.ConstraintID))
	}

	prefix := "protocol error"
	if len(parts) > 0 {
		prefix = fmt.Sprintf("protocol error [%s]", strings.Join(parts, ", "))
	}

	if e.cause != nil {
		return fmt.Sprintf("%s: %s: %v", prefix, e.message, e.cause)
	}
	return fmt.Sprintf("%s: %s", prefix, e.message)
}

// Is checks if this error matches the target.
func (e *ProtocolError) Is(target error) bool {
	if _, ok := target.(*ProtocolError); ok {
		return true
	}
	return e.baseError.Is(target)
}

// SchedulerError represents errors related to feature scheduling.
type SchedulerError struct {
	baseError
	FeatureID string
}

// NewSchedulerError creates a new SchedulerError.
func NewSchedulerError(message string, cause error) *SchedulerError {
	return &SchedulerError{
		baseError: baseError{
			message:    message,
			cause:      cause,
			severity:   SeverityError,
			retryable:  false,
			userFacing: true,
		},
	}
}

// WithFeatureID adds the feature ID to the error context.
func (e *SchedulerError) WithFeatureID(id string) *SchedulerError {
	e.FeatureID = id
	return e
}

// Error returns the formatted error message.
func (e *SchedulerError) Error() string {
	prefix := "scheduler error"
	if e.FeatureID != "" {
		prefix = fmt.Sprintf("scheduler error [feature=%s]", e.FeatureID)
	}
	if e.cause != nil {
		return fmt.Sprintf("%s: %s: %v", prefix, e.message, e.cause)
	}
	return fmt.Sprintf("%s: %s", prefix, e.message)
}

// Is checks if this error matches the target.
func (e *SchedulerError) Is(target error) bool {
	if _, ok := target.(*SchedulerError); ok {
		return true
	}
	return e.baseError.Is(target)
}

// SyncError represents errors related to cross-instance synchronisation.
type SyncError struct {
	baseError
	InstanceID string
	MessageID  string
}

// NewSyncError creates a new SyncError.
func NewSyncError(message string, cause error) *SyncError {
	return &SyncError{
		baseError: baseError{
			message:    message,
			cause:      cause,
			severity:   SeverityWarning,
			retryable:  true,
			userFacing: false,
		},
	}
}

// WithInstanceID adds the peer instance ID to the error context.
func (e *SyncError) WithInstanceID(id string) *SyncError {
	e.InstanceID = id
	return e
}

// WithMessageID adds the message ID to the error context.
func (e *SyncError) WithMessageID(id string) *SyncError {
	e.MessageID = id
	return e
}

// Error returns the formatted error message.
func (e *SyncError) Error() string {
	var parts []string
	if e.InstanceID != "" {
		parts = append(parts, fmt.Sprintf("instance=%s", e.InstanceID))
	}
	if e.MessageID != "" {
		parts = append(parts, fmt.Sprintf("message=%s", e.MessageID))
	}

	prefix := "sync error"
	if len(parts) > 0 {
		prefix = fmt.Sprintf("sync error [%s]", strings.Join(parts, ", "))
	}

	if e.cause != nil {
		return fmt.Sprintf("%s: %s: %v", prefix, e.message, e.cause)
	}
	return fmt.Sprintf("%s: %s", prefix, e.message)
}

// Is checks if this error matches the target.
func (e *SyncError) Is(target error) bool {
	if _, ok := target.(*SyncError); ok {
		return true
	}
	return e.baseError.Is(target)
}

// -----------------------------------------------------------------------------
// Semantic Errors
// -----------------------------------------------------------------------------

// NotFoundError represents a resource that could not be found.
type NotFoundError struct {
	baseError
	ResourceType string
	ResourceID   string
}

// NewNotFoundError creates a new NotFoundError.
func NewNotFoundError(resourceType, resourceID string) *NotFoundError {
	return &NotFoundError{
		baseError: baseError{
			message:    fmt.Sprintf("%s '%s' not found", resourceType, resourceID),
			severity:   SeverityWarning,
			retryable:  false,
			userFacing: true,
		},
		ResourceType: resourceType,
		ResourceID:   resourceID,
	}
}

// WithCause adds a cause to the error.
func (e *NotFoundError) WithCause(cause error) *NotFoundError {
	e.cause = cause
	return e
}

// Error returns the formatted error message.
func (e *NotFoundError) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("%s '%s' not found: %v", e.ResourceType, e.ResourceID, e.cause)
	}
	return fmt.Sprintf("%s '%s' not found", e.ResourceType, e.ResourceID)
}

// Is checks if this error matches the target.
func (e *NotFoundError) Is(target error) bool {
	if _, ok := target.(*NotFoundError); ok {
		return true
	}
	return e.baseError.Is(target)
}

// AlreadyExistsError represents a resource that already exists.
type AlreadyExistsError struct {
	baseError
	ResourceType string
	ResourceID   string
}

// NewAlreadyExistsError creates a new AlreadyExistsError.
func NewAlreadyExistsError(resourceType, resourceID string) *AlreadyExistsError {
	return &AlreadyExistsError{
		baseError: baseError{
			message:    fmt.Sprintf("%s '%s' already exists", resourceType, resourceID),
			severity:   SeverityWarning,
			retryable:  false,
			userFacing: true,
		},
		ResourceType: resourceType,
		ResourceID:   resourceID,
	}
}

// WithCause adds a cause to the error.
func (e *AlreadyExistsError) WithCause(cause error) *AlreadyExistsError {
	e.cause = cause
	return e
}

// Error returns the formatted error message.
func (e *AlreadyExistsError) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("%s '%s' already exists: %v", e.ResourceType, e.ResourceID, e.cause)
	}
	return fmt.Sprintf("%s '%s' already exists", e.ResourceType, e.ResourceID)
}

// Is checks if this error matches the target.
func (e *AlreadyExistsError) Is(target error) bool {
	if _, ok := target.(*AlreadyExistsError); ok {
		return true
	}
	return e.baseError.Is(target)
}

// ValidationError represents invalid input or state.
type ValidationError struct {
	baseError
	Field string
	Value any
}

// NewValidationError creates a new ValidationError.
func NewValidationError(message string) *ValidationError {
	return &ValidationError{
		baseError: baseError{
			message:    message,
			severity:   SeverityWarning,
			retryable:  false,
			userFacing: true,
		},
	}
}

// WithField adds a field name to the error context.
func (e *ValidationError) WithField(field string) *ValidationError {
	e.Field = field
	return e
}

// WithValue adds the invalid value to the error context.
func (e *ValidationError) WithValue(value any) *ValidationError {
	e.Value = value
	return e
}

// WithCause adds a cause to the error.
func (e *ValidationError) WithCause(cause error) *ValidationError {
	e.cause = cause
	return e
}

// Error returns the formatted error message.
func (e *ValidationError) Error() string {
	var parts []string
	if e.Field != "" {
		parts = append(parts, fmt.Sprintf("field=%s", e.Field))
	}
	if e.Value != nil {
		parts = append(parts, fmt.Sprintf("value=%v", e.Value))
	}

	prefix := "validation error"
	if len(parts) > 0 {
		prefix = fmt.Sprintf("validation error [%s]", strings.Join(parts, ", "))
	}

	if e.cause != nil {
		return fmt.Sprintf("%s: %s: %v", prefix, e.message, e.cause)
	}
	return fmt.Sprintf("%s: %s", prefix, e.message)
}

// Is checks if this error matches the target.
func (e *ValidationError) Is(target error) bool {
	if _, ok := target.(*ValidationError); ok {
		return true
	}
	if errors.Is(target, ErrInvalidInput) {
		return true
	}
	return e.baseError.Is(target)
}

// TimeoutError represents an operation that timed out.
type TimeoutError struct {
	baseError
	Operation string
	Duration  time.Duration
}

// NewTimeoutError creates a new TimeoutError.
func NewTimeoutError(operation string, duration time.Duration) *TimeoutError {
	return &TimeoutError{
		baseError: baseError{
			message:    operation,
			severity:   SeverityWarning,
			retryable:  true, // Timeouts are generally retryable
			userFacing: true,
		},
		Operation: operation,
		Duration:  duration,
	}
}

// WithCause adds a cause to the error.
func (e *TimeoutError) WithCause(cause error) *TimeoutError {
	e.cause = cause
	return e
}

// Error returns the formatted error message.
func (e *TimeoutError) Error() string {
	base := fmt.Sprintf("timeout error: %s (timeout: %s)", e.Operation, e.Duration)
	if e.cause != nil {
		return fmt.Sprintf("%s: %v", base, e.cause)
	}
	return base
}

// Is checks if this error matches the target.
func (e *TimeoutError) Is(target error) bool {
	if _, ok := target.(*TimeoutError); ok {
		return true
	}
	if errors.Is(target, ErrTimeout) {
		return true
	}
	return e.baseError.Is(target)
}

// -----------------------------------------------------------------------------
// Error Classification Helpers
// -----------------------------------------------------------------------------

// IsRetryable returns true if the error represents a transient condition
// that may succeed on retry.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}

	var overseerErr OverseerError
	if As(err, &overseerErr) {
		return overseerErr.IsRetryable()
	}

	if Is(err, ErrTimeout) {
		return true
	}

	return false
}

// IsUserFacing returns true if the error message is safe to display to end users.
func IsUserFacing(err error) bool {
	if err == nil {
		return false
	}

	var overseerErr OverseerError
	if As(err, &overseerErr) {
		return overseerErr.IsUserFacing()
	}

	// Semantic errors are always user-facing
	var notFound *NotFoundError
	var alreadyExists *AlreadyExistsError
	var validation *ValidationError
	var timeout *TimeoutError

	if As(err, &notFound) || As(err, &alreadyExists) ||
		As(err, &validation) || As(err, &timeout) {
		return true
	}

	return false
}

// GetSeverity returns the severity level of the error.
// Returns SeverityError for errors that don't implement OverseerError.
func GetSeverity(err error) Severity {
	if err == nil {
		return SeverityDebug
	}

	var overseerErr OverseerError
	if As(err, &overseerErr) {
		return overseerErr.Severity()
	}

	return SeverityError
}

// -----------------------------------------------------------------------------
// Convenience Constructors
// -----------------------------------------------------------------------------

// Wrap wraps an error with additional context message.
func Wrap(err error, message string) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w", message, err)
}

// Wrapf wraps an error with a formatted context message.
func Wrapf(err error, format string, args ...any) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w", fmt.Sprintf(format, args...), err)
}
