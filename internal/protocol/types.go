// Package protocol implements behavioural governance for workers: a registry
// of versioned protocols made of typed constraint rules, a dependency-aware
// resolver, per-type constraint evaluators, and a pre/post execution
// enforcement engine producing allow/deny decisions with recorded violations.
package protocol

import (
	"time"
)

// ConstraintType discriminates the seven constraint rule kinds.
type ConstraintType string

const (
	ConstraintToolRestriction ConstraintType = "tool_restriction"
	ConstraintFileAccess      ConstraintType = "file_access"
	ConstraintOutputFormat    ConstraintType = "output_format"
	ConstraintBehavioral      ConstraintType = "behavioral"
	ConstraintTemporal        ConstraintType = "temporal"
	ConstraintResource        ConstraintType = "resource"
	ConstraintSideEffect      ConstraintType = "side_effect"
)

// Severity grades a constraint or violation.
type Severity string

const (
	SeverityError   Severity = "error"
	SeverityWarning Severity = "warning"
	SeverityInfo    Severity = "info"
)

// EnforcementMode controls how violations affect execution.
type EnforcementMode string

const (
	ModeStrict     EnforcementMode = "strict"
	ModePermissive EnforcementMode = "permissive"
	ModeAudit      EnforcementMode = "audit"
	ModeLearning   EnforcementMode = "learning"
)

// ViolationAction is the configured reaction to a violation.
type ViolationAction string

const (
	ActionBlock    ViolationAction = "block"
	ActionWarn     ViolationAction = "warn"
	ActionLog      ViolationAction = "log"
	ActionNotify   ViolationAction = "notify"
	ActionRollback ViolationAction = "rollback"
)

// SuggestedAction is the engine's recommendation after a validation.
type SuggestedAction string

const (
	SuggestAbort    SuggestedAction = "abort"
	SuggestRetry    SuggestedAction = "retry"
	SuggestOverride SuggestedAction = "override"
	SuggestContinue SuggestedAction = "continue"
)

// ToolRestrictionRule limits which tools a worker may use. Patterns accept
// glob or /regex/ syntax; a pattern prefixed "!" denies matching tools.
type ToolRestrictionRule struct {
	AllowedTools    []string `json:"allowedTools,omitempty"`
	DeniedTools     []string `json:"deniedTools,omitempty"`
	ToolPatterns    []string `json:"toolPatterns,omitempty"`
	RequireApproval []string `json:"requireApproval,omitempty"`
}

// FileAccessRule limits which paths and extensions a worker may touch.
type FileAccessRule struct {
	AllowedPaths      []string `json:"allowedPaths,omitempty"`
	DeniedPaths       []string `json:"deniedPaths,omitempty"`
	AllowedExtensions []string `json:"allowedExtensions,omitempty"`
	DeniedExtensions  []string `json:"deniedExtensions,omitempty"`
	ReadOnly          bool     `json:"readOnly,omitempty"`
	WriteOnly         bool     `json:"writeOnly,omitempty"`
	MaxFileSizeBytes  int64    `json:"maxFileSizeBytes,omitempty"`
}

// OutputFormatRule constrains worker output shape.
type OutputFormatRule struct {
	MaxLength         int      `json:"maxLength,omitempty"`
	Format            string   `json:"format,omitempty"` // "json", "markdown", "text"
	RequiredFields    []string `json:"requiredFields,omitempty"`
	ForbiddenPatterns []string `json:"forbiddenPatterns,omitempty"`
	RequiredPatterns  []string `json:"requiredPatterns,omitempty"`
	// RequireJSONObject demands the output parse as a non-null JSON object.
	// Deeper schema validation is advisory and not performed here.
	RequireJSONObject bool `json:"requireJsonObject,omitempty"`
}

// BehavioralRule requires or prohibits behaviours described in the task.
type BehavioralRule struct {
	RequiredBehaviors   []string `json:"requiredBehaviors,omitempty"`
	ProhibitedBehaviors []string `json:"prohibitedBehaviors,omitempty"`
}

// TemporalRule constrains when and how often an operation may run.
type TemporalRule struct {
	MaxPerMinute    int      `json:"maxPerMinute,omitempty"`
	MaxPerHour      int      `json:"maxPerHour,omitempty"`
	CooldownSeconds int      `json:"cooldownSeconds,omitempty"`
	ValidFrom       string   `json:"validFrom,omitempty"`  // ISO-8601 UTC
	ValidUntil      string   `json:"validUntil,omitempty"` // ISO-8601 UTC
	AllowedHours    []int    `json:"allowedHours,omitempty"` // 0-23 UTC
	AllowedDays     []string `json:"allowedDays,omitempty"`  // "Monday".."Sunday"
}

// ResourceRule caps resource usage. Concurrency caps trip when the count
// has reached the limit; the other caps trip only when exceeded.
type ResourceRule struct {
	MaxConcurrentWorkers int `json:"maxConcurrentWorkers,omitempty"`
	MaxMemoryMB          int `json:"maxMemoryMb,omitempty"`
	MaxCPUPercent        int `json:"maxCpuPercent,omitempty"`
	MaxDurationSeconds   int `json:"maxDurationSeconds,omitempty"`
}

// SideEffectRule limits outward effects: network hosts and spawned commands.
type SideEffectRule struct {
	AllowedHosts    []string `json:"allowedHosts,omitempty"`
	DeniedHosts     []string `json:"deniedHosts,omitempty"`
	AllowedCommands []string `json:"allowedCommands,omitempty"`
	DeniedCommands  []string `json:"deniedCommands,omitempty"`
	AllowNetwork    *bool    `json:"allowNetwork,omitempty"`
	AllowFileWrites *bool    `json:"allowFileWrites,omitempty"`
}

// Constraint is one typed rule inside a protocol. Exactly one rule field
// matching Type is set.
type Constraint struct {
	ID         string            `json:"id"`
	Type       ConstraintType    `json:"type"`
	Severity   Severity          `json:"severity"`
	Message    string            `json:"message"`
	Enabled    bool              `json:"enabled"`
	Conditions map[string]string `json:"conditions,omitempty"`

	ToolRestriction *ToolRestrictionRule `json:"toolRestriction,omitempty"`
	FileAccess      *FileAccessRule      `json:"fileAccess,omitempty"`
	OutputFormat    *OutputFormatRule    `json:"outputFormat,omitempty"`
	Behavioral      *BehavioralRule      `json:"behavioral,omitempty"`
	Temporal        *TemporalRule        `json:"temporal,omitempty"`
	Resource        *ResourceRule        `json:"resource,omitempty"`
	SideEffect      *SideEffectRule      `json:"sideEffect,omitempty"`
}

// EnforcementConfig controls how a protocol's violations are handled.
type EnforcementConfig struct {
	Mode                     EnforcementMode `json:"mode"`
	OnViolation              ViolationAction `json:"onViolation"`
	PreExecutionValidation   bool            `json:"preExecutionValidation"`
	PostExecutionValidation  bool            `json:"postExecutionValidation"`
	MaxRetries               int             `json:"maxRetries,omitempty"`
	RetryDelaySeconds        int             `json:"retryDelaySeconds,omitempty"`
	LogLevel                 string          `json:"logLevel,omitempty"`
	AllowOverride            bool            `json:"allowOverride,omitempty"`
	OverrideRequiresApproval bool            `json:"overrideRequiresApproval,omitempty"`
	OverrideApprovers        []string        `json:"overrideApprovers,omitempty"`
}

// ApplicableContexts gates which operations a protocol applies to. Empty
// pattern lists match everything.
type ApplicableContexts struct {
	FeaturePatterns []string `json:"featurePatterns,omitempty"`
	FilePatterns    []string `json:"filePatterns,omitempty"`
	ProjectPatterns []string `json:"projectPatterns,omitempty"`
	TaskPatterns    []string `json:"taskPatterns,omitempty"`
	Environments    []string `json:"environments,omitempty"`
}

// Protocol is a versioned, priority-ordered bundle of constraints.
type Protocol struct {
	ID                 string             `json:"id"`
	Version            string             `json:"version"` // semver
	Name               string             `json:"name"`
	Description        string             `json:"description,omitempty"`
	Extends            []string           `json:"extends,omitempty"`
	Requires           []string           `json:"requires,omitempty"`
	Conflicts          []string           `json:"conflicts,omitempty"`
	Constraints        []Constraint       `json:"constraints"`
	Enforcement        EnforcementConfig  `json:"enforcement"`
	ApplicableContexts ApplicableContexts `json:"applicableContexts"`
	Priority           int                `json:"priority"` // 0-1000
	Tags               []string           `json:"tags,omitempty"`
	Enabled            bool               `json:"enabled"`
	Deprecated         bool               `json:"deprecated,omitempty"`
	CreatedAt          string             `json:"createdAt"`
	UpdatedAt          string             `json:"updatedAt,omitempty"`
}

// ConflictsWith reports whether either protocol declares the other
// conflicting.
func (p *Protocol) ConflictsWith(q *Protocol) bool {
	for _, id := range p.Conflicts {
		if id == q.ID {
			return true
		}
	}
	for _, id := range q.Conflicts {
		if id == p.ID {
			return true
		}
	}
	return false
}

// Violation is one recorded failure of a constraint against a context.
type Violation struct {
	ID           string            `json:"id"`
	ProtocolID   string            `json:"protocolId"`
	ConstraintID string            `json:"constraintId"`
	FeatureID    string            `json:"featureId,omitempty"`
	WorkerID     string            `json:"workerId,omitempty"`
	Timestamp    string            `json:"timestamp"`
	Severity     Severity          `json:"severity"`
	Message      string            `json:"message"`
	Context      map[string]string `json:"context,omitempty"`
	Resolved     bool              `json:"resolved"`
	ResolvedAt   string            `json:"resolvedAt,omitempty"`
	Resolution   string            `json:"resolution,omitempty"`
}

// AuditAction enumerates auditable registry mutations.
type AuditAction string

const (
	AuditRegister         AuditAction = "register"
	AuditActivate         AuditAction = "activate"
	AuditDeactivate       AuditAction = "deactivate"
	AuditUpdate           AuditAction = "update"
	AuditDelete           AuditAction = "delete"
	AuditViolation        AuditAction = "violation"
	AuditResolveViolation AuditAction = "resolve_violation"
	AuditProposalApprove  AuditAction = "proposal_approve"
	AuditProposalReject   AuditAction = "proposal_reject"
)

// AuditEntry records one registry mutation in program order.
type AuditEntry struct {
	ID         string      `json:"id"`
	Timestamp  string      `json:"timestamp"`
	Action     AuditAction `json:"action"`
	ProtocolID string      `json:"protocolId,omitempty"`
	Details    string      `json:"details"`
	Actor      string      `json:"actor,omitempty"`
}

// EvalContext carries the facts a constraint is evaluated against. Zero
// values mean "unknown"; evaluators skip checks whose facts are absent.
type EvalContext struct {
	FeatureID   string
	WorkerID    string
	Task        string
	ProjectPath string
	Environment string

	Tool      string
	Tools     []string
	FilePaths []string
	Operation string // "read" or "write"

	FileSizeBytes int64
	Output        string

	ConcurrentWorkers int
	MemoryMB          int
	CPUPercent        int
	DurationSeconds   int

	Hosts    []string
	Commands []string

	NetworkAccess bool
	FileWrites    bool

	ActionsLastMinute int
	ActionsLastHour   int
	LastActionAt      time.Time

	// Now is the evaluation instant for temporal rules; zero means
	// time.Now().UTC().
	Now time.Time
}

// EvalResult is the outcome of evaluating one constraint.
type EvalResult struct {
	Passed bool
	Reason string
}

// pass and fail are evaluator result constructors.
func pass() EvalResult               { return EvalResult{Passed: true} }
func fail(reason string) EvalResult { return EvalResult{Passed: false, Reason: reason} }
