package controller

import (
	"overseer/internal/state"
)

// PlanningCompetitiveStart spawns the planner pair for a feature.
func (c *Controller) PlanningCompetitiveStart(featureID, customPrompt string) *Result {
	c.mu.Lock()
	defer c.mu.Unlock()

	sess, errRes := c.loadSession()
	if errRes != nil {
		return errRes
	}
	if sess.Status != state.SessionInProgress {
		return failMsg(CodeError, "session is "+string(sess.Status)+", not accepting work")
	}

	if err := c.votes.StartCompetitivePlanning(opContext(), sess, featureID, customPrompt); err != nil {
		return fail(codeFor(err), err)
	}

	sess.AddProgress("competitive planning started for " + featureID)
	if res := c.saveSession(sess); res != nil {
		return res
	}
	return ok(map[string]any{"planners": []string{"A", "B"}})
}

// PlanningEvaluate scores both plans and records the winner.
func (c *Controller) PlanningEvaluate(featureID string) *Result {
	c.mu.Lock()
	defer c.mu.Unlock()

	sess, errRes := c.loadSession()
	if errRes != nil {
		return errRes
	}

	plans, err := c.votes.EvaluatePlans(sess, featureID)
	if err != nil {
		return fail(codeFor(err), err)
	}

	sess.AddProgress("plans evaluated for " + featureID + ": winner " + plans.Winner)
	if res := c.saveSession(sess); res != nil {
		return res
	}
	return ok(plans)
}

// VotingStart clones a feature into count voters and starts them.
func (c *Controller) VotingStart(featureID string, count int) *Result {
	c.mu.Lock()
	defer c.mu.Unlock()

	sess, errRes := c.loadSession()
	if errRes != nil {
		return errRes
	}
	if sess.Status != state.SessionInProgress {
		return failMsg(CodeError, "session is "+string(sess.Status)+", not accepting work")
	}

	ids, err := c.votes.StartVoting(opContext(), sess, featureID, count)
	if err != nil {
		return fail(codeFor(err), err)
	}

	sess.AddProgress("voting round started for " + featureID)
	if res := c.saveSession(sess); res != nil {
		return res
	}
	return ok(map[string]any{"voters": ids})
}

// VotingEvaluate scores the finished voters and settles the original
// feature from the winner.
func (c *Controller) VotingEvaluate(featureID string) *Result {
	c.mu.Lock()
	defer c.mu.Unlock()

	sess, errRes := c.loadSession()
	if errRes != nil {
		return errRes
	}

	result, err := c.votes.EvaluateVoting(sess, featureID)
	if err != nil {
		return fail(codeFor(err), err)
	}

	if result.Succeeded {
		sess.AddProgress("voting settled for " + featureID + ": winner " + result.Winner)
	} else {
		sess.AddProgress("voting failed for " + featureID)
	}
	c.maybeFinish(sess)
	if res := c.saveSession(sess); res != nil {
		return res
	}
	return ok(result)
}
