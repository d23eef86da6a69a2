// Package proposal implements the submission-and-approval workflow for new
// protocols: schema validation, base-constraint checking, risk scoring and
// the pending/reviewing/approved/rejected/expired lifecycle.
package proposal

import (
	"overseer/internal/protocol"
)

// Source identifies who authored a proposal.
type Source string

const (
	SourceLLM    Source = "llm"
	SourceUser   Source = "user"
	SourceSystem Source = "system"
	SourceImport Source = "import"
)

// Status is the lifecycle state of a proposal.
type Status string

const (
	StatusPending   Status = "pending"
	StatusReviewing Status = "reviewing"
	StatusApproved  Status = "approved"
	StatusRejected  Status = "rejected"
	StatusExpired   Status = "expired"
)

// IssueType grades a validation issue.
type IssueType string

const (
	IssueError   IssueType = "error"
	IssueWarning IssueType = "warning"
	IssueInfo    IssueType = "info"
)

// Issue is one finding from proposal validation.
type Issue struct {
	Type         IssueType `json:"type"`
	Message      string    `json:"message"`
	Location     string    `json:"location,omitempty"`
	SuggestedFix string    `json:"suggestedFix,omitempty"`
	Fixable      bool      `json:"fixable"`
}

// RiskLevel buckets an overall risk score.
type RiskLevel string

const (
	RiskMinimal  RiskLevel = "minimal"
	RiskLow      RiskLevel = "low"
	RiskMedium   RiskLevel = "medium"
	RiskHigh     RiskLevel = "high"
	RiskCritical RiskLevel = "critical"
)

// RiskFactor is one labelled contribution to the overall risk score.
type RiskFactor struct {
	Name   string `json:"name"`
	Score  int    `json:"score"` // 0-100
	Reason string `json:"reason"`
}

// RiskAssessment aggregates the labelled factors into one score.
type RiskAssessment struct {
	Factors      []RiskFactor `json:"factors"`
	OverallScore int          `json:"overallScore"` // 0-100
	RiskLevel    RiskLevel    `json:"riskLevel"`
	IsAcceptable bool         `json:"isAcceptable"`
}

// Validation is the full validation outcome attached to a proposal.
type Validation struct {
	IsValid   bool           `json:"isValid"`
	IsFixable bool           `json:"isFixable"`
	Issues    []Issue        `json:"issues,omitempty"`
	Risk      RiskAssessment `json:"risk"`
}

// Proposal is a draft protocol awaiting a decision.
type Proposal struct {
	ID            string             `json:"id"`
	Protocol      *protocol.Protocol `json:"protocol"`
	Source        Source             `json:"source"`
	Description   string             `json:"description,omitempty"`
	Rationale     string             `json:"rationale,omitempty"`
	Priority      int                `json:"priority"` // 0-100
	SubmittedAt   string             `json:"submittedAt"`
	SubmittedBy   string             `json:"submittedBy,omitempty"`
	ExpiresAt     string             `json:"expiresAt,omitempty"`
	Status        Status             `json:"status"`
	Validation    Validation         `json:"validation"`
	ReviewedAt    string             `json:"reviewedAt,omitempty"`
	ReviewedBy    string             `json:"reviewedBy,omitempty"`
	ReviewReason  string             `json:"reviewReason,omitempty"`
	Modifications *protocol.Protocol `json:"modifications,omitempty"`
}

// BaseConstraints is the fixed safety document every proposal is validated
// against. It is configuration, not part of any proposal.
type BaseConstraints struct {
	ProhibitedTools      []string          `json:"prohibitedTools"`
	ProhibitedPaths      []string          `json:"prohibitedPaths"`
	ProhibitedOperations []string          `json:"prohibitedOperations"`
	MinimumSeverity      protocol.Severity `json:"minimumSeverity"`
	RequireAuditTrail    bool              `json:"requireAuditTrail"`
	MinRetentionDays     int               `json:"minRetentionDays"`
	AcceptanceThreshold  int               `json:"acceptanceThreshold"` // risk score ceiling
}

// DefaultBaseConstraints returns the shipped safety baseline.
func DefaultBaseConstraints() BaseConstraints {
	return BaseConstraints{
		ProhibitedTools: []string{
			"credential_read",
			"secrets_export",
			"system_shutdown",
		},
		ProhibitedPaths: []string{
			"**/.ssh/**",
			"**/.aws/**",
			"**/secrets/**",
			"**/*.pem",
		},
		ProhibitedOperations: []string{
			"force-push",
			"history-rewrite",
		},
		MinimumSeverity:     protocol.SeverityWarning,
		RequireAuditTrail:   true,
		MinRetentionDays:    30,
		AcceptanceThreshold: 70,
	}
}
