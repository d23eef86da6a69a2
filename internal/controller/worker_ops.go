package controller

import (
	"context"
	"strings"
	"sync"

	"overseer/internal/protocol"
	"overseer/internal/scheduler"
	"overseer/internal/state"
	"overseer/internal/worker"
)

// evalContextFor builds the protocol evaluation facts for a feature.
func evalContextFor(sess *state.Session, f *state.Feature) protocol.EvalContext {
	ctx := protocol.EvalContext{
		FeatureID:   f.ID,
		WorkerID:    f.WorkerID,
		Task:        f.Description,
		ProjectPath: sess.ProjectDir,
	}
	if f.Context != nil {
		ctx.FilePaths = f.Context.Files
	}
	return ctx
}

// readyToStart enforces the feature state machine for implementor starts:
// only a pending feature whose dependencies have all completed may get a
// worker. Nil means the feature is startable.
func readyToStart(sess *state.Session, f *state.Feature) *Result {
	if f.Status != state.FeaturePending {
		return failMsg(CodeSessionConflict,
			"feature "+f.ID+" is "+string(f.Status)+", only pending features can start a worker")
	}
	var unmet []string
	for _, dep := range f.DependsOn {
		d := sess.Feature(dep)
		if d == nil || d.Status != state.FeatureCompleted {
			unmet = append(unmet, dep)
		}
	}
	if len(unmet) > 0 {
		return failMsg(CodeSessionConflict,
			"dependencies not met for "+f.ID+": "+strings.Join(unmet, ", "))
	}
	return nil
}

// WorkerStart spawns an implementor for one pending feature after
// pre-execution protocol validation.
func (c *Controller) WorkerStart(featureID, customPrompt, model string) *Result {
	c.mu.Lock()
	defer c.mu.Unlock()

	sess, errRes := c.loadSession()
	if errRes != nil {
		return errRes
	}
	if sess.Status != state.SessionInProgress {
		return failMsg(CodeError, "session is "+string(sess.Status)+", not accepting work")
	}
	f := sess.Feature(featureID)
	if f == nil {
		return failMsg(CodeInvalidArgs, "unknown feature "+featureID)
	}
	if res := readyToStart(sess, f); res != nil {
		return res
	}

	if v := c.enforcer.ValidatePreExecution(evalContextFor(sess, f)); !v.Allowed {
		return blockedResult(v)
	}

	if model == "" && f.Routing != nil {
		model = f.Routing.Model
	}
	if customPrompt == "" && f.PlanningPhase == state.PhaseEvaluating {
		f.PlanningPhase = state.PhaseImplementing
	}

	name, err := c.workers.StartWorker(opContext(), sess, featureID, customPrompt, model)
	if err != nil {
		return fail(codeFor(err), err)
	}

	sess.AddProgress("worker started for " + featureID)
	if res := c.saveSession(sess); res != nil {
		return res
	}
	return ok(map[string]any{"sessionName": name, "attempt": f.Attempts})
}

// WorkersStartParallel starts workers for the given features concurrently.
// Partial failure keeps the successful starts; failed features stay
// pending with unchanged attempts. Advisory conflict predictions for the
// batch are returned alongside the start outcomes.
func (c *Controller) WorkersStartParallel(ids []string, customPrompts map[string]string) *Result {
	c.mu.Lock()
	defer c.mu.Unlock()

	sess, errRes := c.loadSession()
	if errRes != nil {
		return errRes
	}
	if sess.Status != state.SessionInProgress {
		return failMsg(CodeError, "session is "+string(sess.Status)+", not accepting work")
	}
	if len(ids) == 0 || len(ids) > scheduler.MaxBatch {
		return failMsg(CodeInvalidArgs, "batch size must be between 1 and 10")
	}

	var batch []*state.Feature
	for _, id := range ids {
		f := sess.Feature(id)
		if f == nil {
			return failMsg(CodeInvalidArgs, "unknown feature "+id)
		}
		if res := readyToStart(sess, f); res != nil {
			return res
		}
		if v := c.enforcer.ValidatePreExecution(evalContextFor(sess, f)); !v.Allowed {
			return blockedResult(v)
		}
		batch = append(batch, f)
	}

	conflicts := worker.AnalyzeFeatureConflicts(batch)
	for _, conflict := range conflicts {
		c.logger.Warn("potential feature conflict",
			"a", conflict.FeatureA, "b", conflict.FeatureB, "reason", conflict.Reason)
	}

	// The session document is single-writer, so each start's mutation is
	// serialised on startMu while the spawns fan out.
	var startMu sync.Mutex
	dispatched := scheduler.Dispatch(opContext(), batch, func(ctx context.Context, id string) error {
		startMu.Lock()
		defer startMu.Unlock()
		_, err := c.workers.StartWorker(ctx, sess, id, customPrompts[id], "")
		return err
	})

	failures := make(map[string]string, len(dispatched.Failed))
	for id, err := range dispatched.Failed {
		failures[id] = err.Error()
	}
	for _, id := range dispatched.Started {
		sess.AddProgress("worker started for " + id)
	}
	if res := c.saveSession(sess); res != nil {
		return res
	}
	return ok(map[string]any{
		"started":   dispatched.Started,
		"failed":    failures,
		"conflicts": conflicts,
	})
}

// WorkerCheck inspects one feature's worker: either the bounded heartbeat
// snapshot or a raw output tail. A positive sinceLine trims output the
// caller has already seen.
func (c *Controller) WorkerCheck(featureID string, lines int, heartbeat bool, sinceLine int) *Result {
	c.mu.Lock()
	defer c.mu.Unlock()

	sess, errRes := c.loadSession()
	if errRes != nil {
		return errRes
	}
	f := sess.Feature(featureID)
	if f == nil {
		return failMsg(CodeInvalidArgs, "unknown feature "+featureID)
	}
	if f.WorkerID == "" {
		return failMsg(CodeError, "feature "+featureID+" has no worker")
	}

	if heartbeat {
		hb, err := c.workers.WorkerHeartbeat(sess, f.WorkerID)
		if err != nil {
			return fail(codeFor(err), err)
		}
		if res := c.saveSession(sess); res != nil {
			return res
		}
		return ok(hb)
	}

	check, err := c.workers.CheckWorker(sess, f.WorkerID, lines, sinceLine)
	if err != nil {
		return fail(codeFor(err), err)
	}
	if res := c.saveSession(sess); res != nil {
		return res
	}
	return ok(check)
}

// WorkersCheckAll returns the status vector for every recorded worker.
func (c *Controller) WorkersCheckAll() *Result {
	c.mu.Lock()
	defer c.mu.Unlock()

	sess, errRes := c.loadSession()
	if errRes != nil {
		return errRes
	}
	return ok(c.workers.CheckAllWorkers(sess))
}

// WorkerSendMessage types an instruction into a feature's live worker.
func (c *Controller) WorkerSendMessage(featureID, text string) *Result {
	c.mu.Lock()
	defer c.mu.Unlock()

	sess, errRes := c.loadSession()
	if errRes != nil {
		return errRes
	}
	f := sess.Feature(featureID)
	if f == nil {
		return failMsg(CodeInvalidArgs, "unknown feature "+featureID)
	}
	if f.WorkerID == "" {
		return failMsg(CodeError, "feature "+featureID+" has no worker")
	}

	if err := c.workers.SendMessage(f.WorkerID, text); err != nil {
		return fail(codeFor(err), err)
	}
	return ok(map[string]any{"sent": true})
}

// WorkersValidate runs pre-execution protocol validation for each feature
// without starting anything.
func (c *Controller) WorkersValidate(ids []string) *Result {
	c.mu.Lock()
	defer c.mu.Unlock()

	sess, errRes := c.loadSession()
	if errRes != nil {
		return errRes
	}

	results := make(map[string]*protocol.ValidationResult, len(ids))
	for _, id := range ids {
		f := sess.Feature(id)
		if f == nil {
			return failMsg(CodeInvalidArgs, "unknown feature "+id)
		}
		results[id] = c.enforcer.ValidatePreExecution(evalContextFor(sess, f))
	}
	return ok(results)
}

// SelectBatch returns the top-k ready features by priority without
// starting them. Auto mode callers feed the result to
// WorkersStartParallel.
func (c *Controller) SelectBatch(k int) *Result {
	c.mu.Lock()
	defer c.mu.Unlock()

	sess, errRes := c.loadSession()
	if errRes != nil {
		return errRes
	}

	var ids []string
	for _, f := range scheduler.SelectBatch(sess, k, c.opts.Strategy, c.enforcer) {
		ids = append(ids, f.ID)
	}
	return ok(ids)
}
