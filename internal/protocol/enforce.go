package protocol

import (
	"fmt"
	"time"

	"overseer/internal/logging"
)

// BlockInfo identifies what blocked an operation, with a remediation hint.
type BlockInfo struct {
	ProtocolID   string `json:"protocolId"`
	ConstraintID string `json:"constraintId"`
	Message      string `json:"message"`
	Hint         string `json:"hint"`
}

// ValidationResult is the outcome of running a context through the
// enforcement pipeline.
type ValidationResult struct {
	Allowed          bool            `json:"allowed"`
	AppliedProtocols []string        `json:"appliedProtocols"`
	Violations       []*Violation    `json:"violations,omitempty"`
	Warnings         []string        `json:"warnings,omitempty"`
	EvaluationTimeMs int64           `json:"evaluationTimeMs"`
	SuggestedAction  SuggestedAction `json:"suggestedAction"`
	BlockedBy        *BlockInfo      `json:"blockedBy,omitempty"`
}

// Enforcer validates contexts against the active protocol set.
type Enforcer struct {
	registry *Registry
	logger   *logging.Logger
}

// NewEnforcer returns an Enforcer over the registry.
func NewEnforcer(registry *Registry, logger *logging.Logger) *Enforcer {
	if logger == nil {
		logger = logging.NopLogger()
	}
	return &Enforcer{registry: registry, logger: logger}
}

// postExecutionKinds are the constraint types that remain meaningful after
// an operation has already run.
var postExecutionKinds = map[ConstraintType]bool{
	ConstraintOutputFormat: true,
	ConstraintResource:     true,
	ConstraintSideEffect:   true,
}

// ValidatePreExecution evaluates every applicable active protocol against
// the context before an operation runs. Every violation is recorded through
// the registry regardless of the final decision.
func (e *Enforcer) ValidatePreExecution(ctx EvalContext) *ValidationResult {
	return e.validate(ctx, false)
}

// ValidatePostExecution re-evaluates the context after an operation, using
// only post-hoc-meaningful constraint kinds.
func (e *Enforcer) ValidatePostExecution(ctx EvalContext) *ValidationResult {
	return e.validate(ctx, true)
}

func (e *Enforcer) validate(ctx EvalContext, post bool) *ValidationResult {
	start := time.Now()
	result := &ValidationResult{
		Allowed:          true,
		AppliedProtocols: make([]string, 0),
		SuggestedAction:  SuggestContinue,
	}

	// Active protocols come back in descending priority order.
	for _, p := range e.registry.ActiveProtocols() {
		if post && !p.Enforcement.PostExecutionValidation {
			continue
		}
		if !post && !p.Enforcement.PreExecutionValidation {
			continue
		}
		if !contextMatches(p.ApplicableContexts, ctx) {
			continue
		}
		result.AppliedProtocols = append(result.AppliedProtocols, p.ID)

		for i := range p.Constraints {
			c := &p.Constraints[i]
			if !c.Enabled {
				continue
			}
			if post && !postExecutionKinds[c.Type] {
				continue
			}

			eval := Evaluate(*c, ctx)
			if eval.Passed {
				continue
			}

			v := &Violation{
				ProtocolID:   p.ID,
				ConstraintID: c.ID,
				FeatureID:    ctx.FeatureID,
				WorkerID:     ctx.WorkerID,
				Severity:     c.Severity,
				Message:      violationMessage(c, eval),
				Context: map[string]string{
					"task":      ctx.Task,
					"operation": ctx.Operation,
				},
			}
			if err := e.registry.RecordViolation(v); err != nil {
				e.logger.Warn("failed to record violation", "error", err.Error())
			}
			result.Violations = append(result.Violations, v)

			blocks := c.Severity == SeverityError && p.Enforcement.Mode == ModeStrict
			if blocks && result.Allowed {
				result.Allowed = false
				result.SuggestedAction = suggestedAction(p.Enforcement)
				result.BlockedBy = &BlockInfo{
					ProtocolID:   p.ID,
					ConstraintID: c.ID,
					Message:      v.Message,
					Hint:         blockHint(p.Enforcement),
				}
			}
			if !blocks {
				result.Warnings = append(result.Warnings,
					fmt.Sprintf("[%s/%s] %s", p.ID, c.ID, v.Message))
			}
		}
	}

	result.EvaluationTimeMs = time.Since(start).Milliseconds()
	return result
}

// violationMessage combines the constraint's configured message with the
// evaluator's reason.
func violationMessage(c *Constraint, eval EvalResult) string {
	if c.Message == "" {
		return eval.Reason
	}
	if eval.Reason == "" {
		return c.Message
	}
	return fmt.Sprintf("%s: %s", c.Message, eval.Reason)
}

// suggestedAction maps the enforcement reaction to a caller recommendation.
func suggestedAction(cfg EnforcementConfig) SuggestedAction {
	switch cfg.OnViolation {
	case ActionBlock:
		if cfg.AllowOverride {
			return SuggestOverride
		}
		return SuggestAbort
	case ActionRollback:
		return SuggestRetry
	default:
		return SuggestContinue
	}
}

// blockHint produces the one-line remediation hint for a blocked result.
func blockHint(cfg EnforcementConfig) string {
	if cfg.AllowOverride {
		if cfg.OverrideRequiresApproval {
			return "an override is possible with approval from the configured approvers"
		}
		return "an override is possible; re-run with an explicit override"
	}
	return "adjust the operation to satisfy the constraint, or deactivate the protocol"
}
