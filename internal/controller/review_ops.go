package controller

import (
	"overseer/internal/review"
	"overseer/internal/state"
	"overseer/internal/worker"
)

// reviewTypes maps the configured review type names onto worker kinds.
func reviewTypes(cfg *state.ReviewConfig) []worker.ReviewType {
	if cfg == nil || len(cfg.Types) == 0 {
		return []worker.ReviewType{worker.ReviewCode, worker.ReviewArchitecture}
	}
	var out []worker.ReviewType
	for _, t := range cfg.Types {
		switch t {
		case "code":
			out = append(out, worker.ReviewCode)
		case "architecture":
			out = append(out, worker.ReviewArchitecture)
		}
	}
	return out
}

// ReviewConfigure sets the review phase configuration on the session.
func (c *Controller) ReviewConfigure(enabled bool, types []string, autoImplement bool) *Result {
	c.mu.Lock()
	defer c.mu.Unlock()

	sess, errRes := c.loadSession()
	if errRes != nil {
		return errRes
	}

	for _, t := range types {
		if t != "code" && t != "architecture" {
			return failMsg(CodeInvalidArgs, "unknown review type "+t)
		}
	}
	sess.ReviewConfig = &state.ReviewConfig{
		Enabled:       enabled,
		Types:         types,
		AutoImplement: autoImplement,
	}
	if res := c.saveSession(sess); res != nil {
		return res
	}
	return ok(sess.ReviewConfig)
}

// ReviewRun spawns the configured review workers over the whole session.
// The session must have every feature terminal.
func (c *Controller) ReviewRun() *Result {
	c.mu.Lock()
	defer c.mu.Unlock()

	sess, errRes := c.loadSession()
	if errRes != nil {
		return errRes
	}
	if !sess.AllFeaturesTerminal() {
		return failMsg(CodeError, "review requires every feature to be terminal")
	}
	for _, w := range sess.ReviewWorkers {
		if w.Status == state.WorkerRunning {
			return failMsg(CodeSessionConflict, "a review round is already in flight")
		}
	}
	sess.ReviewWorkers = nil
	if sess.Status == state.SessionInProgress {
		c.transition(sess, state.SessionReviewing, "review started")
	}

	var started []string
	for _, kind := range reviewTypes(sess.ReviewConfig) {
		name, err := c.workers.StartReviewWorker(opContext(), sess, kind)
		if err != nil {
			return fail(codeFor(err), err)
		}
		started = append(started, name)
	}

	sess.AddProgress("review workers started")
	if res := c.saveSession(sess); res != nil {
		return res
	}
	return ok(map[string]any{"reviewers": started})
}

// ReviewCheck reports the status of every review worker.
func (c *Controller) ReviewCheck() *Result {
	c.mu.Lock()
	defer c.mu.Unlock()

	sess, errRes := c.loadSession()
	if errRes != nil {
		return errRes
	}
	if len(sess.ReviewWorkers) == 0 {
		return failMsg(CodeError, "no review workers have been started")
	}

	c.workers.CheckCompletions(sess)
	statuses := make(map[string]state.WorkerStatus, len(sess.ReviewWorkers))
	done := true
	for _, w := range sess.ReviewWorkers {
		statuses[w.SessionName] = w.Status
		if w.Status == state.WorkerRunning {
			done = false
		}
	}
	if res := c.saveSession(sess); res != nil {
		return res
	}
	return ok(map[string]any{"workers": statuses, "allTerminal": done})
}

// ReviewResults aggregates the reviewer output once every review worker is
// terminal, settles the session's final status, and optionally turns the
// actionable findings into follow-up features.
func (c *Controller) ReviewResults() *Result {
	c.mu.Lock()
	defer c.mu.Unlock()

	sess, errRes := c.loadSession()
	if errRes != nil {
		return errRes
	}
	if len(sess.ReviewWorkers) == 0 {
		return failMsg(CodeError, "no review workers have been started")
	}

	c.workers.CheckCompletions(sess)
	for _, w := range sess.ReviewWorkers {
		if w.Status == state.WorkerRunning {
			return failMsg(CodeError, "review workers still running")
		}
	}

	var all []*review.Findings
	for _, w := range sess.ReviewWorkers {
		done, err := c.workers.ReadDoneFile(w.FeatureID)
		if err != nil {
			return fail(CodeError, err)
		}
		source := "code"
		if w.Role == state.RoleArchReviewer {
			source = "architecture"
		}
		all = append(all, review.Parse(source, done))
	}

	sess.AggregatedReview = review.Aggregate(all)
	sess.AddProgress("review aggregated: " + sess.AggregatedReview.Summary)
	if sess.Status == state.SessionReviewing {
		c.finish(sess)
	}

	if res := c.saveSession(sess); res != nil {
		return res
	}
	return ok(sess.AggregatedReview)
}

// ReviewImplementSuggestions converts the actionable review findings into
// pending features. Requires an aggregated review; re-opens a completed
// session back to in_progress so the fixes can run.
func (c *Controller) ReviewImplementSuggestions() *Result {
	c.mu.Lock()
	defer c.mu.Unlock()

	sess, errRes := c.loadSession()
	if errRes != nil {
		return errRes
	}
	if sess.AggregatedReview == nil {
		return failMsg(CodeError, "no aggregated review available")
	}

	actionable := review.Actionable(sess.AggregatedReview)
	features := review.SuggestionFeatures(sess, actionable)
	for _, f := range features {
		if err := sess.AddFeature(f); err != nil {
			return fail(CodeError, err)
		}
	}

	if len(features) > 0 && sess.Status.IsTerminal() {
		c.transition(sess, state.SessionInProgress, "review fixes scheduled")
		sess.CompletedAt = ""
	}

	var ids []string
	for _, f := range features {
		ids = append(ids, f.ID)
	}
	sess.AddProgress("review follow-ups added")
	if res := c.saveSession(sess); res != nil {
		return res
	}
	return ok(map[string]any{"features": ids})
}
