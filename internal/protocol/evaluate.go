package protocol

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// Evaluate runs the evaluator for the constraint's type against ctx.
// Disabled constraints and constraints with no rule body always pass.
// Within every evaluator, deny checks run before allow checks: a value
// listed in both fails.
func Evaluate(c Constraint, ctx EvalContext) EvalResult {
	if !c.Enabled {
		return pass()
	}

	switch c.Type {
	case ConstraintToolRestriction:
		if c.ToolRestriction == nil {
			return pass()
		}
		return evalToolRestriction(*c.ToolRestriction, ctx)
	case ConstraintFileAccess:
		if c.FileAccess == nil {
			return pass()
		}
		return evalFileAccess(*c.FileAccess, ctx)
	case ConstraintOutputFormat:
		if c.OutputFormat == nil {
			return pass()
		}
		return evalOutputFormat(*c.OutputFormat, ctx)
	case ConstraintBehavioral:
		if c.Behavioral == nil {
			return pass()
		}
		return evalBehavioral(*c.Behavioral, ctx)
	case ConstraintTemporal:
		if c.Temporal == nil {
			return pass()
		}
		return evalTemporal(*c.Temporal, ctx)
	case ConstraintResource:
		if c.Resource == nil {
			return pass()
		}
		return evalResource(*c.Resource, ctx)
	case ConstraintSideEffect:
		if c.SideEffect == nil {
			return pass()
		}
		return evalSideEffect(*c.SideEffect, ctx)
	default:
		return fail(fmt.Sprintf("unknown constraint type %q", c.Type))
	}
}

// contextTools collects every tool referenced by the context.
func contextTools(ctx EvalContext) []string {
	tools := ctx.Tools
	if ctx.Tool != "" {
		tools = append([]string{ctx.Tool}, tools...)
	}
	return tools
}

// evalToolRestriction checks, in order: denied tools, deny patterns,
// allow-list membership, approval requirements.
func evalToolRestriction(rule ToolRestrictionRule, ctx EvalContext) EvalResult {
	tools := contextTools(ctx)

	for _, tool := range tools {
		if matchAny(rule.DeniedTools, tool) {
			return fail(fmt.Sprintf("tool %q is denied", tool))
		}
	}

	for _, tool := range tools {
		for _, p := range rule.ToolPatterns {
			if strings.HasPrefix(p, "!") && matchPattern(p[1:], tool) {
				return fail(fmt.Sprintf("tool %q matches deny pattern %q", tool, p))
			}
		}
	}

	if len(rule.AllowedTools) > 0 {
		for _, tool := range tools {
			if matchAny(rule.AllowedTools, tool) {
				continue
			}
			allowedByPattern := false
			for _, p := range rule.ToolPatterns {
				if !strings.HasPrefix(p, "!") && matchPattern(p, tool) {
					allowedByPattern = true
					break
				}
			}
			if !allowedByPattern {
				return fail(fmt.Sprintf("tool %q is not in the allowed set", tool))
			}
		}
	}

	for _, tool := range tools {
		if matchAny(rule.RequireApproval, tool) {
			return fail(fmt.Sprintf("tool %q requires approval", tool))
		}
	}

	return pass()
}

// evalFileAccess checks, in order: denied paths, denied extensions, allowed
// paths, allowed extensions, read/write mode, then the size cap.
func evalFileAccess(rule FileAccessRule, ctx EvalContext) EvalResult {
	for _, path := range ctx.FilePaths {
		if matchAny(rule.DeniedPaths, path) {
			return fail(fmt.Sprintf("path %q is denied", path))
		}
	}

	for _, path := range ctx.FilePaths {
		if extensionIn(path, rule.DeniedExtensions) {
			return fail(fmt.Sprintf("file extension of %q is denied", path))
		}
	}

	if len(rule.AllowedPaths) > 0 {
		for _, path := range ctx.FilePaths {
			if !matchAny(rule.AllowedPaths, path) {
				return fail(fmt.Sprintf("path %q is not in the allowed set", path))
			}
		}
	}

	if len(rule.AllowedExtensions) > 0 {
		for _, path := range ctx.FilePaths {
			if !extensionIn(path, rule.AllowedExtensions) {
				return fail(fmt.Sprintf("file extension of %q is not allowed", path))
			}
		}
	}

	if rule.ReadOnly && ctx.Operation == "write" {
		return fail("write access denied: paths are read-only under this rule")
	}
	if rule.WriteOnly && ctx.Operation == "read" {
		return fail("read access denied: paths are write-only under this rule")
	}

	if rule.MaxFileSizeBytes > 0 && ctx.FileSizeBytes > rule.MaxFileSizeBytes {
		return fail(fmt.Sprintf("file size %d exceeds limit %d", ctx.FileSizeBytes, rule.MaxFileSizeBytes))
	}

	return pass()
}

// extensionIn reports whether path's extension is in exts. Extensions may
// be listed with or without the leading dot.
func extensionIn(path string, exts []string) bool {
	for _, ext := range exts {
		e := ext
		if !strings.HasPrefix(e, ".") {
			e = "." + e
		}
		if strings.HasSuffix(path, e) {
			return true
		}
	}
	return false
}

// evalOutputFormat checks, in order: length cap, format parse, required
// fields, forbidden patterns, required patterns, JSON-object shape.
func evalOutputFormat(rule OutputFormatRule, ctx EvalContext) EvalResult {
	out := ctx.Output

	if rule.MaxLength > 0 && len(out) > rule.MaxLength {
		return fail(fmt.Sprintf("output length %d exceeds limit %d", len(out), rule.MaxLength))
	}

	var parsed map[string]any
	isObject := json.Unmarshal([]byte(out), &parsed) == nil && parsed != nil

	if rule.Format == "json" {
		var v any
		if err := json.Unmarshal([]byte(out), &v); err != nil {
			return fail("output is not valid JSON")
		}
	}

	for _, field := range rule.RequiredFields {
		if isObject {
			if _, ok := parsed[field]; !ok {
				return fail(fmt.Sprintf("required field %q missing from output", field))
			}
		} else if !strings.Contains(out, field) {
			return fail(fmt.Sprintf("required field %q missing from output", field))
		}
	}

	for _, p := range rule.ForbiddenPatterns {
		if outputMatches(p, out) {
			return fail(fmt.Sprintf("output matches forbidden pattern %q", p))
		}
	}

	for _, p := range rule.RequiredPatterns {
		if !outputMatches(p, out) {
			return fail(fmt.Sprintf("output missing required pattern %q", p))
		}
	}

	if rule.RequireJSONObject && !isObject {
		return fail("output is not a non-null JSON object")
	}

	return pass()
}

// outputMatches matches output text: /…/ patterns as regex, otherwise
// substring.
func outputMatches(pattern, out string) bool {
	if strings.HasPrefix(pattern, "/") && strings.HasSuffix(pattern, "/") && len(pattern) >= 2 {
		return matchPattern(pattern, out)
	}
	return strings.Contains(out, pattern)
}

// evalBehavioral checks prohibited behaviours before required ones.
// Behaviours are matched against the task description.
func evalBehavioral(rule BehavioralRule, ctx EvalContext) EvalResult {
	for _, b := range rule.ProhibitedBehaviors {
		if taskMatchesAny([]string{b}, ctx.Task) {
			return fail(fmt.Sprintf("prohibited behaviour %q present in task", b))
		}
	}
	for _, b := range rule.RequiredBehaviors {
		if !taskMatchesAny([]string{b}, ctx.Task) {
			return fail(fmt.Sprintf("required behaviour %q absent from task", b))
		}
	}
	return pass()
}

// evalTemporal checks, in order: per-minute rate, per-hour rate, cooldown,
// validity window, allowed hours, allowed days. Rate caps trip when the
// count has reached the limit.
func evalTemporal(rule TemporalRule, ctx EvalContext) EvalResult {
	now := ctx.Now
	if now.IsZero() {
		now = time.Now().UTC()
	}

	if rule.MaxPerMinute > 0 && ctx.ActionsLastMinute >= rule.MaxPerMinute {
		return fail(fmt.Sprintf("rate limit reached: %d actions in the last minute (limit %d)",
			ctx.ActionsLastMinute, rule.MaxPerMinute))
	}
	if rule.MaxPerHour > 0 && ctx.ActionsLastHour >= rule.MaxPerHour {
		return fail(fmt.Sprintf("rate limit reached: %d actions in the last hour (limit %d)",
			ctx.ActionsLastHour, rule.MaxPerHour))
	}

	if rule.CooldownSeconds > 0 && !ctx.LastActionAt.IsZero() {
		elapsed := now.Sub(ctx.LastActionAt)
		if elapsed < time.Duration(rule.CooldownSeconds)*time.Second {
			return fail(fmt.Sprintf("cooldown active: %s since last action (requires %ds)",
				elapsed.Round(time.Second), rule.CooldownSeconds))
		}
	}

	if rule.ValidFrom != "" {
		from, err := time.Parse(time.RFC3339, rule.ValidFrom)
		if err == nil && now.Before(from) {
			return fail(fmt.Sprintf("not valid before %s", rule.ValidFrom))
		}
	}
	if rule.ValidUntil != "" {
		until, err := time.Parse(time.RFC3339, rule.ValidUntil)
		if err == nil && now.After(until) {
			return fail(fmt.Sprintf("not valid after %s", rule.ValidUntil))
		}
	}

	if len(rule.AllowedHours) > 0 {
		hour := now.UTC().Hour()
		ok := false
		for _, h := range rule.AllowedHours {
			if h == hour {
				ok = true
				break
			}
		}
		if !ok {
			return fail(fmt.Sprintf("hour %d UTC is outside the allowed hours", hour))
		}
	}

	if len(rule.AllowedDays) > 0 {
		day := now.UTC().Weekday().String()
		ok := false
		for _, d := range rule.AllowedDays {
			if strings.EqualFold(d, day) {
				ok = true
				break
			}
		}
		if !ok {
			return fail(fmt.Sprintf("%s is outside the allowed days", day))
		}
	}

	return pass()
}

// evalResource checks resource caps. The concurrency cap trips when the
// worker count has reached the limit; the remaining caps trip only when
// the measured value exceeds the limit.
func evalResource(rule ResourceRule, ctx EvalContext) EvalResult {
	if rule.MaxConcurrentWorkers > 0 && ctx.ConcurrentWorkers >= rule.MaxConcurrentWorkers {
		return fail(fmt.Sprintf("concurrent worker limit reached: %d (limit %d)",
			ctx.ConcurrentWorkers, rule.MaxConcurrentWorkers))
	}
	if rule.MaxMemoryMB > 0 && ctx.MemoryMB > rule.MaxMemoryMB {
		return fail(fmt.Sprintf("memory %dMB exceeds limit %dMB", ctx.MemoryMB, rule.MaxMemoryMB))
	}
	if rule.MaxCPUPercent > 0 && ctx.CPUPercent > rule.MaxCPUPercent {
		return fail(fmt.Sprintf("CPU %d%% exceeds limit %d%%", ctx.CPUPercent, rule.MaxCPUPercent))
	}
	if rule.MaxDurationSeconds > 0 && ctx.DurationSeconds > rule.MaxDurationSeconds {
		return fail(fmt.Sprintf("duration %ds exceeds limit %ds", ctx.DurationSeconds, rule.MaxDurationSeconds))
	}
	return pass()
}

// evalSideEffect checks denied hosts and commands before allow lists, then
// the network and file-write switches.
func evalSideEffect(rule SideEffectRule, ctx EvalContext) EvalResult {
	for _, host := range ctx.Hosts {
		if matchAny(rule.DeniedHosts, host) {
			return fail(fmt.Sprintf("host %q is denied", host))
		}
	}
	for _, cmd := range ctx.Commands {
		if matchAny(rule.DeniedCommands, cmd) {
			return fail(fmt.Sprintf("command %q is denied", cmd))
		}
	}

	if rule.AllowNetwork != nil && !*rule.AllowNetwork && ctx.NetworkAccess {
		return fail("network access is not allowed")
	}

	if len(rule.AllowedHosts) > 0 {
		for _, host := range ctx.Hosts {
			if !matchAny(rule.AllowedHosts, host) {
				return fail(fmt.Sprintf("host %q is not in the allowed set", host))
			}
		}
	}
	if len(rule.AllowedCommands) > 0 {
		for _, cmd := range ctx.Commands {
			if !matchAny(rule.AllowedCommands, cmd) {
				return fail(fmt.Sprintf("command %q is not in the allowed set", cmd))
			}
		}
	}

	if rule.AllowFileWrites != nil && !*rule.AllowFileWrites && ctx.FileWrites {
		return fail("file writes are not allowed")
	}

	return pass()
}
