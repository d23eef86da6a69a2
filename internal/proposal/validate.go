package proposal

import (
	"fmt"

	"github.com/bmatcuk/doublestar/v4"

	"overseer/internal/protocol"
)

// severityRank orders severities for the minimum-severity check.
func severityRank(s protocol.Severity) int {
	switch s {
	case protocol.SeverityError:
		return 2
	case protocol.SeverityWarning:
		return 1
	default:
		return 0
	}
}

// validateAgainstBase checks a protocol against the base-constraint document
// and returns the issue list. An explicit allow of a prohibited tool or path
// is an unfixable error; a rule that merely fails to deny one is a fixable
// error.
func validateAgainstBase(p *protocol.Protocol, base BaseConstraints) []Issue {
	var issues []Issue

	for i := range p.Constraints {
		c := &p.Constraints[i]
		loc := fmt.Sprintf("constraints[%d]", i)

		if severityRank(c.Severity) < severityRank(base.MinimumSeverity) {
			issues = append(issues, Issue{
				Type:         IssueWarning,
				Message:      fmt.Sprintf("constraint %q severity %q is below the required minimum %q", c.ID, c.Severity, base.MinimumSeverity),
				Location:     loc + ".severity",
				SuggestedFix: fmt.Sprintf("raise severity to at least %q", base.MinimumSeverity),
				Fixable:      true,
			})
		}

		switch c.Type {
		case protocol.ConstraintToolRestriction:
			if c.ToolRestriction != nil {
				issues = append(issues, checkToolRule(c.ToolRestriction, base, loc)...)
			}
		case protocol.ConstraintFileAccess:
			if c.FileAccess != nil {
				issues = append(issues, checkFileRule(c.FileAccess, base, loc)...)
			}
		case protocol.ConstraintSideEffect:
			if c.SideEffect != nil {
				issues = append(issues, checkSideEffectRule(c.SideEffect, base, loc)...)
			}
		}
	}

	if base.RequireAuditTrail && p.Enforcement.Mode == protocol.ModeLearning {
		issues = append(issues, Issue{
			Type:     IssueInfo,
			Message:  "learning mode records violations without enforcement; an audit trail is still kept",
			Location: "enforcement.mode",
			Fixable:  true,
		})
	}

	return issues
}

func checkToolRule(r *protocol.ToolRestrictionRule, base BaseConstraints, loc string) []Issue {
	var issues []Issue

	denied := func(tool string) bool {
		for _, d := range r.DeniedTools {
			if d == tool {
				return true
			}
		}
		return false
	}

	for _, tool := range base.ProhibitedTools {
		for _, allowed := range r.AllowedTools {
			if allowed == tool || globMatch(allowed, tool) {
				issues = append(issues, Issue{
					Type:     IssueError,
					Message:  fmt.Sprintf("explicitly allows prohibited tool %q", tool),
					Location: loc + ".toolRestriction.allowedTools",
					Fixable:  false,
				})
			}
		}
		// A rule with no allow-list admits every tool not denied.
		if len(r.AllowedTools) == 0 && !denied(tool) {
			issues = append(issues, Issue{
				Type:         IssueError,
				Message:      fmt.Sprintf("does not deny prohibited tool %q", tool),
				Location:     loc + ".toolRestriction.deniedTools",
				SuggestedFix: fmt.Sprintf("add %q to deniedTools", tool),
				Fixable:      true,
			})
		}
	}
	return issues
}

func checkFileRule(r *protocol.FileAccessRule, base BaseConstraints, loc string) []Issue {
	var issues []Issue

	deniedCovers := func(prohibited string) bool {
		for _, d := range r.DeniedPaths {
			if d == prohibited {
				return true
			}
		}
		return false
	}

	for _, prohibited := range base.ProhibitedPaths {
		for _, allowed := range r.AllowedPaths {
			// An allow pattern at least as broad as the prohibited pattern
			// (or identical to it) opens the protected scope.
			if allowed == prohibited || globMatch(allowed, prohibited) {
				issues = append(issues, Issue{
					Type:     IssueError,
					Message:  fmt.Sprintf("allowed path pattern %q covers prohibited scope %q", allowed, prohibited),
					Location: loc + ".fileAccess.allowedPaths",
					Fixable:  false,
				})
			}
		}
		if len(r.AllowedPaths) == 0 && !deniedCovers(prohibited) {
			issues = append(issues, Issue{
				Type:         IssueError,
				Message:      fmt.Sprintf("does not deny prohibited path scope %q", prohibited),
				Location:     loc + ".fileAccess.deniedPaths",
				SuggestedFix: fmt.Sprintf("add %q to deniedPaths", prohibited),
				Fixable:      true,
			})
		}
	}
	return issues
}

func checkSideEffectRule(r *protocol.SideEffectRule, base BaseConstraints, loc string) []Issue {
	var issues []Issue
	for _, op := range base.ProhibitedOperations {
		for _, allowed := range r.AllowedCommands {
			if allowed == op || globMatch(allowed, op) {
				issues = append(issues, Issue{
					Type:     IssueError,
					Message:  fmt.Sprintf("explicitly allows prohibited operation %q", op),
					Location: loc + ".sideEffect.allowedCommands",
					Fixable:  false,
				})
			}
		}
	}
	return issues
}

// globMatch reports whether pattern admits s. Invalid patterns admit nothing.
func globMatch(pattern, s string) bool {
	ok, err := doublestar.Match(pattern, s)
	return err == nil && ok
}

// --------------------------------------------------------------------------
// Risk scoring
// --------------------------------------------------------------------------

// assessRisk produces the labelled risk factors and the aggregate score.
// Any unfixable error issue forces the score to 100 (critical).
func assessRisk(p *protocol.Protocol, issues []Issue, base BaseConstraints) RiskAssessment {
	factors := []RiskFactor{
		toolScopeFactor(p),
		fileScopeFactor(p),
		sideEffectFactor(p),
		enforcementModeFactor(p),
		priorityFactor(p),
		overrideFactor(p),
	}

	total := 0
	for _, f := range factors {
		total += f.Score
	}
	overall := total / len(factors)

	for _, issue := range issues {
		if issue.Type == IssueError && !issue.Fixable {
			overall = 100
			factors = append(factors, RiskFactor{
				Name:   "base-violation",
				Score:  100,
				Reason: issue.Message,
			})
			break
		}
	}

	return RiskAssessment{
		Factors:      factors,
		OverallScore: overall,
		RiskLevel:    levelFor(overall),
		IsAcceptable: overall <= base.AcceptanceThreshold,
	}
}

func levelFor(score int) RiskLevel {
	switch {
	case score <= 10:
		return RiskMinimal
	case score <= 30:
		return RiskLow
	case score <= 60:
		return RiskMedium
	case score <= 85:
		return RiskHigh
	default:
		return RiskCritical
	}
}

func toolScopeFactor(p *protocol.Protocol) RiskFactor {
	f := RiskFactor{Name: "tool-scope", Score: 50, Reason: "no tool restrictions declared"}
	for i := range p.Constraints {
		c := &p.Constraints[i]
		if c.Type != protocol.ConstraintToolRestriction || c.ToolRestriction == nil {
			continue
		}
		r := c.ToolRestriction
		switch {
		case containsWildcard(r.AllowedTools):
			return RiskFactor{Name: "tool-scope", Score: 80, Reason: "allows every tool by wildcard"}
		case len(r.AllowedTools) > 0:
			return RiskFactor{Name: "tool-scope", Score: 10, Reason: "closed allow-list of tools"}
		case len(r.DeniedTools) > 0:
			return RiskFactor{Name: "tool-scope", Score: 25, Reason: "open tool set with explicit denials"}
		}
	}
	return f
}

func fileScopeFactor(p *protocol.Protocol) RiskFactor {
	f := RiskFactor{Name: "file-scope", Score: 50, Reason: "no file access restrictions declared"}
	for i := range p.Constraints {
		c := &p.Constraints[i]
		if c.Type != protocol.ConstraintFileAccess || c.FileAccess == nil {
			continue
		}
		r := c.FileAccess
		switch {
		case r.ReadOnly:
			return RiskFactor{Name: "file-scope", Score: 5, Reason: "read-only file access"}
		case containsWildcard(r.AllowedPaths):
			return RiskFactor{Name: "file-scope", Score: 70, Reason: "allows every path by wildcard"}
		case len(r.AllowedPaths) > 0:
			return RiskFactor{Name: "file-scope", Score: 15, Reason: "closed allow-list of paths"}
		case len(r.DeniedPaths) > 0:
			return RiskFactor{Name: "file-scope", Score: 30, Reason: "open path set with explicit denials"}
		}
	}
	return f
}

func sideEffectFactor(p *protocol.Protocol) RiskFactor {
	f := RiskFactor{Name: "side-effects", Score: 40, Reason: "no side effect restrictions declared"}
	for i := range p.Constraints {
		c := &p.Constraints[i]
		if c.Type != protocol.ConstraintSideEffect || c.SideEffect == nil {
			continue
		}
		r := c.SideEffect
		if r.AllowNetwork != nil && !*r.AllowNetwork {
			return RiskFactor{Name: "side-effects", Score: 5, Reason: "network access disabled"}
		}
		if len(r.AllowedHosts) > 0 || len(r.AllowedCommands) > 0 {
			return RiskFactor{Name: "side-effects", Score: 15, Reason: "side effects limited to an allow-list"}
		}
		return RiskFactor{Name: "side-effects", Score: 30, Reason: "side effect rule present but open"}
	}
	return f
}

func enforcementModeFactor(p *protocol.Protocol) RiskFactor {
	switch p.Enforcement.Mode {
	case protocol.ModeStrict:
		return RiskFactor{Name: "enforcement-mode", Score: 0, Reason: "strict enforcement blocks violations"}
	case protocol.ModePermissive:
		return RiskFactor{Name: "enforcement-mode", Score: 40, Reason: "permissive mode only warns"}
	case protocol.ModeAudit:
		return RiskFactor{Name: "enforcement-mode", Score: 60, Reason: "audit mode never blocks"}
	case protocol.ModeLearning:
		return RiskFactor{Name: "enforcement-mode", Score: 50, Reason: "learning mode never blocks"}
	default:
		return RiskFactor{Name: "enforcement-mode", Score: 60, Reason: "unknown enforcement mode"}
	}
}

func priorityFactor(p *protocol.Protocol) RiskFactor {
	// Higher priority protocols apply before everything else, so a bad one
	// does proportionally more damage.
	score := p.Priority / 10
	return RiskFactor{
		Name:   "priority",
		Score:  score,
		Reason: fmt.Sprintf("priority %d of 1000", p.Priority),
	}
}

func overrideFactor(p *protocol.Protocol) RiskFactor {
	switch {
	case !p.Enforcement.AllowOverride:
		return RiskFactor{Name: "override-allowed", Score: 0, Reason: "overrides disabled"}
	case p.Enforcement.OverrideRequiresApproval:
		return RiskFactor{Name: "override-allowed", Score: 20, Reason: "overrides require approval"}
	default:
		return RiskFactor{Name: "override-allowed", Score: 40, Reason: "unsupervised overrides allowed"}
	}
}

func containsWildcard(patterns []string) bool {
	for _, p := range patterns {
		if p == "*" || p == "**" || p == "**/*" {
			return true
		}
	}
	return false
}

// validate runs the full validation pipeline over a proposed protocol.
func validate(p *protocol.Protocol, base BaseConstraints) Validation {
	issues := validateAgainstBase(p, base)
	risk := assessRisk(p, issues, base)

	valid := true
	fixable := true
	for _, issue := range issues {
		if issue.Type != IssueError {
			continue
		}
		valid = false
		if !issue.Fixable {
			fixable = false
		}
	}
	if valid {
		fixable = false
	}

	return Validation{
		IsValid:   valid,
		IsFixable: fixable,
		Issues:    issues,
		Risk:      risk,
	}
}
