package controller

import (
	"time"

	"overseer/internal/errors"
	"overseer/internal/scheduler"
	"overseer/internal/state"
)

// FeatureSpec is the caller's shape for seeding features at init time.
type FeatureSpec struct {
	ID          string   `json:"id"`
	Description string   `json:"description"`
	DependsOn   []string `json:"dependsOn,omitempty"`
	Complexity  int      `json:"complexity,omitempty"`
}

// SessionInit creates a new session. An existing terminal session is
// replaced; an in-flight one is a conflict.
func (c *Controller) SessionInit(projectDir, task string, existing []FeatureSpec) *Result {
	c.mu.Lock()
	defer c.mu.Unlock()

	if task == "" {
		return failMsg(CodeInvalidArgs, "task description cannot be empty")
	}

	current, err := c.store.Load()
	if err != nil {
		return fail(CodeError, err)
	}
	if current != nil && !current.Status.IsTerminal() {
		return &Result{
			OK:    false,
			Error: "a session is already " + string(current.Status) + "; reset or finish it first",
			Code:  CodeSessionConflict,
		}
	}
	if current != nil {
		// Replacing a finished session starts from a clean slate.
		if err := c.store.Clear(); err != nil {
			return fail(CodeError, err)
		}
	}

	sess := state.NewSession(projectDir, task)
	for _, spec := range existing {
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
	}
	if err := validateDependencyGraph(sess); err != nil {
		return fail(CodeInvalidArgs, err)
	}

	sess.AddProgress("session initialised: " + task)
	if res := c.saveSession(sess); res != nil {
		return res
	}
	if err := c.store.WriteInitScript(sess); err != nil {
		c.logger.Warn("failed to write init script", "error", err.Error())
	}
	return ok(sess)
}

// SessionStatus returns the full session document.
func (c *Controller) SessionStatus() *Result {
	c.mu.Lock()
	defer c.mu.Unlock()

	sess, errRes := c.loadSession()
	if errRes != nil {
		return errRes
	}
	return ok(sess)
}

// SessionPause halts the session: every live worker is killed, in-progress
// features return to pending with their workerId cleared, and the session
// parks in paused.
func (c *Controller) SessionPause() *Result {
	c.mu.Lock()
	defer c.mu.Unlock()

	sess, errRes := c.loadSession()
	if errRes != nil {
		return errRes
	}
	if sess.Status != state.SessionInProgress {
		return failMsg(CodeError, "only an in-progress session can be paused")
	}

	if err := c.workers.KillAllWorkers(sess); err != nil {
		c.logger.Warn("failed to kill some workers on pause", "error", err.Error())
	}
	returned := 0
	for _, f := range sess.Features {
		if f.Status == state.FeatureInProgress {
			f.Status = state.FeaturePending
			f.WorkerID = ""
			returned++
		}
	}

	c.transition(sess, state.SessionPaused, "paused by caller")
	if res := c.saveSession(sess); res != nil {
		return res
	}
	return ok(map[string]any{"featuresReturned": returned})
}

// SessionResume flips a paused session back to in_progress and reports the
// ready features. Nothing is auto-started.
func (c *Controller) SessionResume() *Result {
	c.mu.Lock()
	defer c.mu.Unlock()

	sess, errRes := c.loadSession()
	if errRes != nil {
		return errRes
	}
	if sess.Status != state.SessionPaused {
		return failMsg(CodeError, "only a paused session can be resumed")
	}

	c.transition(sess, state.SessionInProgress, "resumed by caller")
	if res := c.saveSession(sess); res != nil {
		return res
	}

	var ready []string
	for _, f := range scheduler.Ready(sess, c.enforcer) {
		ready = append(ready, f.ID)
	}
	return ok(map[string]any{"ready": ready})
}

// SessionReset destroys the session: kills all workers and clears state.
// The confirm flag is mandatory.
func (c *Controller) SessionReset(confirm bool) *Result {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !confirm {
		return failMsg(CodeInvalidArgs, "reset requires confirm=true")
	}

	sess, err := c.store.Load()
	if err != nil {
		return fail(CodeError, err)
	}
	if sess != nil {
		if err := c.workers.KillAllWorkers(sess); err != nil {
			c.logger.Warn("failed to kill some workers on reset", "error", err.Error())
		}
	}
	if err := c.store.Clear(); err != nil {
		return fail(CodeError, err)
	}
	c.logger.Info("session reset")
	return ok(map[string]any{"reset": true})
}

// SessionStats summarises the session: feature counts, attempts, duration,
// worker census.
func (c *Controller) SessionStats() *Result {
	c.mu.Lock()
	defer c.mu.Unlock()

	sess, errRes := c.loadSession()
	if errRes != nil {
		return errRes
	}

	counts := sess.CountByStatus()
	workerCensus := make(map[string]int)
	for _, w := range sess.Workers {
		workerCensus[string(w.Status)]++
	}

	stats := map[string]any{
		"status":        sess.Status,
		"features":      len(sess.Features),
		"pending":       counts[state.FeaturePending],
		"inProgress":    counts[state.FeatureInProgress],
		"completed":     counts[state.FeatureCompleted],
		"failed":        counts[state.FeatureFailed],
		"totalAttempts": sess.TotalAttempts(),
		"workers":       workerCensus,
	}
	if started, err := time.Parse(time.RFC3339, sess.StartTime); err == nil {
		end := time.Now()
		if sess.CompletedAt != "" {
			if t, err := time.Parse(time.RFC3339, sess.CompletedAt); err == nil {
				end = t
			}
		}
		stats["duration"] = end.Sub(started).Truncate(time.Second).String()
	}
	return ok(stats)
}

// ProgressLog returns the last limit progress lines; limit<=0 means all.
func (c *Controller) ProgressLog(limit int) *Result {
	c.mu.Lock()
	defer c.mu.Unlock()

	sess, errRes := c.loadSession()
	if errRes != nil {
		return errRes
	}

	log := sess.ProgressLog
	if limit > 0 && len(log) > limit {
		log = log[len(log)-limit:]
	}
	return ok(log)
}

// validateDependencyGraph enforces the no-cycle and known-reference
// invariants across the whole feature set.
func validateDependencyGraph(sess *state.Session) error {
	for _, f := range sess.Features {
		for _, dep := range f.DependsOn {
			if dep == f.ID {
				return errors.Wrapf(errors.ErrSelfDependency, "feature %s", f.ID)
			}
			if sess.Feature(dep) == nil {
				return errors.Wrapf(errors.ErrFeatureNotFound, "feature %s depends on unknown %s", f.ID, dep)
			}
		}
	}

	// Colored DFS over the dependency edges.
	const (
		white = 0
		gray  = 1
		black = 2
	)
	color := make(map[string]int)
	var visit func(id string) error
	visit = func(id string) error {
		switch color[id] {
		case gray:
			return errors.Wrapf(errors.ErrDependencyCycle, "through feature %s", id)
		case black:
			return nil
		}
		color[id] = gray
		for _, dep := range sess.Feature(id).DependsOn {
			if err := visit(dep); err != nil {
				return err
			}
		}
		color[id] = black
		return nil
	}
	for _, f := range sess.Features {
		if err := visit(f.ID); err != nil {
			return err
		}
	}
	return nil
}
