package controller

import (
	"encoding/json"

	"overseer/internal/errors"
	"overseer/internal/scheduler"
	"overseer/internal/state"
	"overseer/internal/worker"
)

// FeatureAdd appends a new pending feature to the session.
func (c *Controller) FeatureAdd(spec FeatureSpec) *Result {
	c.mu.Lock()
	defer c.mu.Unlock()

	sess, errRes := c.loadSession()
	if errRes != nil {
		return errRes
	}

	f := &state.Feature{
		ID:          spec.ID,
		Description: spec.Description,
		Status:      state.FeaturePending,
		DependsOn:   spec.DependsOn,
		Complexity:  spec.Complexity,
	}
	if err := sess.AddFeature(f); err != nil {
		return fail(CodeInvalidArgs, err)
	}
	if err := validateDependencyGraph(sess); err != nil {
		return fail(CodeInvalidArgs, err)
	}

	sess.AddProgress("feature added: " + f.ID)
	if res := c.saveSession(sess); res != nil {
		return res
	}
	return ok(f)
}

// FeatureSetDependencies replaces a feature's dependency list after cycle
// and reference checks.
func (c *Controller) FeatureSetDependencies(id string, deps []string) *Result {
	c.mu.Lock()
	defer c.mu.Unlock()

	sess, errRes := c.loadSession()
	if errRes != nil {
		return errRes
	}
	f := sess.Feature(id)
	if f == nil {
		return failMsg(CodeInvalidArgs, "unknown feature "+id)
	}

	previous := f.DependsOn
	f.DependsOn = deps
	if err := validateDependencyGraph(sess); err != nil {
		f.DependsOn = previous
		return fail(CodeInvalidArgs, err)
	}

	if res := c.saveSession(sess); res != nil {
		return res
	}
	return ok(f)
}

// FeatureRetry returns a failed feature to pending, the only permitted
// pending re-entry. resetAttempts also zeroes the attempt counter.
func (c *Controller) FeatureRetry(id string, resetAttempts bool) *Result {
	c.mu.Lock()
	defer c.mu.Unlock()

	sess, errRes := c.loadSession()
	if errRes != nil {
		return errRes
	}
	f := sess.Feature(id)
	if f == nil {
		return failMsg(CodeInvalidArgs, "unknown feature "+id)
	}
	if f.Status != state.FeatureFailed {
		return failMsg(CodeError, "only a failed feature can be retried")
	}

	f.Status = state.FeaturePending
	f.WorkerID = ""
	f.LastError = ""
	f.CompletedAt = ""
	if resetAttempts {
		f.Attempts = 0
	}

	sess.AddProgress("feature retried: " + id)
	if res := c.saveSession(sess); res != nil {
		return res
	}
	return ok(f)
}

// FeatureMarkComplete settles an in-progress feature. On failure, a
// feature under the retry cap goes back to pending (attempts advance only
// on worker start); at or past the cap it fails for good. Session status
// advances when the whole set turns terminal.
func (c *Controller) FeatureMarkComplete(id string, success bool, notes string, maxRetries int) *Result {
	c.mu.Lock()
	defer c.mu.Unlock()

	if maxRetries <= 0 {
		maxRetries = c.opts.MaxRetries
	}

	sess, errRes := c.loadSession()
	if errRes != nil {
		return errRes
	}
	f := sess.Feature(id)
	if f == nil {
		return failMsg(CodeInvalidArgs, "unknown feature "+id)
	}
	if f.Status != state.FeatureInProgress {
		return failMsg(CodeError, "feature "+id+" is not in progress")
	}

	if f.WorkerID != "" {
		if err := c.workers.KillWorker(sess, f.WorkerID); err != nil &&
			!errors.Is(err, errors.ErrSessionMissing) {
			c.logger.Warn("failed to kill worker on completion", "session", f.WorkerID, "error", err.Error())
		}
	}
	f.WorkerID = ""

	if success {
		f.Status = state.FeatureCompleted
		f.CompletedAt = state.Timestamp()
		f.LastError = ""
		sess.AddProgress("feature completed: " + id)
	} else {
		f.LastError = notes
		if f.Attempts < maxRetries {
			f.Status = state.FeaturePending
			sess.AddProgress("feature failed, will retry: " + id)
		} else {
			f.Status = state.FeatureFailed
			f.CompletedAt = state.Timestamp()
			sess.AddProgress("feature failed permanently: " + id)
		}
	}

	c.maybeFinish(sess)
	if res := c.saveSession(sess); res != nil {
		return res
	}
	return ok(f)
}

// checkContextFiles rejects context file paths that resolve outside the
// project directory. The stored paths stay as given; only containment is
// checked here.
func checkContextFiles(sess *state.Session, files []string) *Result {
	for _, p := range files {
		if _, err := state.ResolveInside(sess.ProjectDir, p); err != nil {
			return fail(CodeInvalidArgs, err)
		}
	}
	return nil
}

// FeatureSetContext replaces a feature's enrichment context.
func (c *Controller) FeatureSetContext(id string, ctx *state.FeatureContext) *Result {
	c.mu.Lock()
	defer c.mu.Unlock()

	sess, errRes := c.loadSession()
	if errRes != nil {
		return errRes
	}
	f := sess.Feature(id)
	if f == nil {
		return failMsg(CodeInvalidArgs, "unknown feature "+id)
	}
	if ctx != nil {
		if res := checkContextFiles(sess, ctx.Files); res != nil {
			return res
		}
	}
	f.Context = ctx
	if res := c.saveSession(sess); res != nil {
		return res
	}
	return ok(f)
}

// FeatureEnrich merges documentation, files, and notes into the feature's
// existing context instead of replacing it.
func (c *Controller) FeatureEnrich(id string, docs, files []string, notes string) *Result {
	c.mu.Lock()
	defer c.mu.Unlock()

	sess, errRes := c.loadSession()
	if errRes != nil {
		return errRes
	}
	f := sess.Feature(id)
	if f == nil {
		return failMsg(CodeInvalidArgs, "unknown feature "+id)
	}
	if res := checkContextFiles(sess, files); res != nil {
		return res
	}

	if f.Context == nil {
		f.Context = &state.FeatureContext{}
	}
	f.Context.Documentation = appendMissing(f.Context.Documentation, docs)
	f.Context.Files = appendMissing(f.Context.Files, files)
	if notes != "" {
		if f.Context.Notes != "" {
			f.Context.Notes += "\n"
		}
		f.Context.Notes += notes
	}

	if res := c.saveSession(sess); res != nil {
		return res
	}
	return ok(f)
}

// FeatureRoute attaches an advisory model-routing hint.
func (c *Controller) FeatureRoute(id, model, reason string) *Result {
	c.mu.Lock()
	defer c.mu.Unlock()

	sess, errRes := c.loadSession()
	if errRes != nil {
		return errRes
	}
	f := sess.Feature(id)
	if f == nil {
		return failMsg(CodeInvalidArgs, "unknown feature "+id)
	}
	f.Routing = &state.Routing{Model: model, Reason: reason}
	if res := c.saveSession(sess); res != nil {
		return res
	}
	return ok(f)
}

// GraphNode is one feature in the dependency graph payload.
type GraphNode struct {
	ID        string              `json:"id"`
	Status    state.FeatureStatus `json:"status"`
	DependsOn []string            `json:"dependsOn,omitempty"`
	Blocks    []string            `json:"blocks,omitempty"`
	Ready     bool                `json:"ready"`
	Priority  int                 `json:"priority"`
}

// FeatureGraph renders the dependency graph with readiness and priority,
// plus advisory conflict predictions across the pending set.
func (c *Controller) FeatureGraph() *Result {
	c.mu.Lock()
	defer c.mu.Unlock()

	sess, errRes := c.loadSession()
	if errRes != nil {
		return errRes
	}

	blocks := make(map[string][]string)
	for _, f := range sess.Features {
		for _, dep := range f.DependsOn {
			blocks[dep] = append(blocks[dep], f.ID)
		}
	}

	var nodes []GraphNode
	var pending []*state.Feature
	for _, f := range sess.Features {
		nodes = append(nodes, GraphNode{
			ID:        f.ID,
			Status:    f.Status,
			DependsOn: f.DependsOn,
			Blocks:    blocks[f.ID],
			Ready:     scheduler.IsReady(sess, f, c.enforcer),
			Priority:  scheduler.Priority(sess, f, c.opts.Strategy),
		})
		if f.Status == state.FeaturePending {
			pending = append(pending, f)
		}
	}

	return ok(map[string]any{
		"nodes":     nodes,
		"conflicts": worker.AnalyzeFeatureConflicts(pending),
	})
}

// FeatureAnnotate stores an advisory raw-JSON annotation (validation,
// validationResult, gitVerification) on a feature without interpreting it.
func (c *Controller) FeatureAnnotate(id, field string, payload json.RawMessage) *Result {
	c.mu.Lock()
	defer c.mu.Unlock()

	sess, errRes := c.loadSession()
	if errRes != nil {
		return errRes
	}
	f := sess.Feature(id)
	if f == nil {
		return failMsg(CodeInvalidArgs, "unknown feature "+id)
	}

	switch field {
	case "validation":
		f.Validation = payload
	case "validationResult":
		f.ValidationResult = payload
	case "gitVerification":
		f.GitVerification = payload
	default:
		return failMsg(CodeInvalidArgs, "unknown annotation field "+field)
	}

	if res := c.saveSession(sess); res != nil {
		return res
	}
	return ok(f)
}

func appendMissing(existing, add []string) []string {
	seen := make(map[string]bool, len(existing))
	for _, s := range existing {
		seen[s] = true
	}
	for _, s := range add {
		if !seen[s] {
			existing = append(existing, s)
			seen[s] = true
		}
	}
	return existing
}
