// Package vote implements the competitive execution primitives: two
// planner workers racing to produce the better plan, and N redundant
// implementors whose results are scored so the best attempt wins.
package vote

import (
	"context"
	"fmt"
	"strings"

	"overseer/internal/errors"
	"overseer/internal/logging"
	"overseer/internal/state"
	"overseer/internal/worker"
)

// Coordinator drives competitive planning and voting rounds on top of the
// worker manager.
type Coordinator struct {
	workers *worker.Manager
	logger  *logging.Logger
}

// NewCoordinator returns a coordinator over the given worker manager.
func NewCoordinator(workers *worker.Manager, logger *logging.Logger) *Coordinator {
	if logger == nil {
		logger = logging.NopLogger()
	}
	return &Coordinator{workers: workers, logger: logger}
}

// PlanScore is the per-criterion breakdown of one plan evaluation. Each
// criterion contributes up to 20 points.
type PlanScore struct {
	Completeness  int `json:"completeness"`
	Feasibility   int `json:"feasibility"`
	RiskAwareness int `json:"riskAwareness"`
	Clarity       int `json:"clarity"`
	Efficiency    int `json:"efficiency"`
}

// Total sums the criterion scores.
func (s PlanScore) Total() int {
	return s.Completeness + s.Feasibility + s.RiskAwareness + s.Clarity + s.Efficiency
}

// StartCompetitivePlanning spawns both planner workers for a feature and
// moves it into the planning phase.
func (c *Coordinator) StartCompetitivePlanning(ctx context.Context, sess *state.Session, featureID, customPrompt string) error {
	f := sess.Feature(featureID)
	if f == nil {
		return errors.NewNotFoundError("feature", featureID).WithCause(errors.ErrFeatureNotFound)
	}
	if f.Status != state.FeaturePending {
		return errors.NewSchedulerError("competitive planning needs a pending feature", nil).
			WithFeatureID(featureID)
	}

	if _, err := c.workers.StartPlannerWorker(ctx, sess, featureID, state.RolePlannerA, customPrompt); err != nil {
		return err
	}
	if _, err := c.workers.StartPlannerWorker(ctx, sess, featureID, state.RolePlannerB, customPrompt); err != nil {
		// Leave no half-started pair behind.
		_ = c.workers.KillWorker(sess, worker.SessionName(featureID+"-planner-a"))
		return err
	}

	f.PlanningPhase = state.PhasePlanning
	c.logger.Info("competitive planning started", "feature", featureID)
	return nil
}

// scorePlan rates one plan along the five fixed criteria.
func scorePlan(p *state.Plan) PlanScore {
	var s PlanScore

	switch n := len(p.Summary); {
	case n >= 300:
		s.Completeness = 20
	case n >= 150:
		s.Completeness = 15
	case n >= 50:
		s.Completeness = 10
	case n > 0:
		s.Completeness = 5
	}

	switch n := len(p.Steps); {
	case n == 0:
		s.Feasibility = 0
	case n <= 10:
		s.Feasibility = 20
	default:
		// Plans with dozens of steps usually mean the feature was not
		// decomposed enough.
		s.Feasibility = 10
	}

	switch n := len(p.Risks); {
	case n >= 3:
		s.RiskAwareness = 20
	case n == 2:
		s.RiskAwareness = 15
	case n == 1:
		s.RiskAwareness = 10
	}

	if p.Summary != "" {
		s.Clarity += 10
	}
	if len(p.Steps) > 0 {
		s.Clarity += 10
	}

	switch c := p.EstimatedComplexity; {
	case c == 0:
		s.Efficiency = 10 // unknown
	case c <= 3:
		s.Efficiency = 20
	case c <= 6:
		s.Efficiency = 12
	default:
		s.Efficiency = 5
	}

	return s
}

// criterionAdvantages names the criteria where the winner out-scored the
// loser, largest margin first.
func criterionAdvantages(winner, loser PlanScore) []string {
	type adv struct {
		name   string
		margin int
	}
	all := []adv{
		{"completeness", winner.Completeness - loser.Completeness},
		{"feasibility", winner.Feasibility - loser.Feasibility},
		{"riskAwareness", winner.RiskAwareness - loser.RiskAwareness},
		{"clarity", winner.Clarity - loser.Clarity},
		{"efficiency", winner.Efficiency - loser.Efficiency},
	}
	var out []string
	best := 0
	for _, a := range all {
		if a.margin > best {
			best = a.margin
		}
	}
	for _, a := range all {
		if a.margin > 0 && a.margin == best {
			out = append(out, a.name)
		}
	}
	return out
}

// EvaluatePlans reads both planner outputs, scores them, records the
// winner on the feature, and kills both planner sessions. Both plan files
// must exist; a single-planner round is an error, not a walkover.
func (c *Coordinator) EvaluatePlans(sess *state.Session, featureID string) (*state.CompetingPlans, error) {
	f := sess.Feature(featureID)
	if f == nil {
		return nil, errors.NewNotFoundError("feature", featureID).WithCause(errors.ErrFeatureNotFound)
	}

	planA, err := c.workers.ReadPlanFile(featureID + "-planner-a")
	if err != nil {
		return nil, err
	}
	planB, err := c.workers.ReadPlanFile(featureID + "-planner-b")
	if err != nil {
		return nil, err
	}
	if planA == nil || planB == nil {
		return nil, errors.NewSchedulerError("both plan files are required before evaluation", nil).
			WithFeatureID(featureID)
	}

	scoreA := scorePlan(planA)
	scoreB := scorePlan(planB)

	winner := "A"
	winScore, loseScore := scoreA, scoreB
	switch {
	case scoreB.Total() > scoreA.Total():
		winner = "B"
		winScore, loseScore = scoreB, scoreA
	case scoreB.Total() == scoreA.Total() && scoreB.RiskAwareness > scoreA.RiskAwareness:
		winner = "B"
		winScore, loseScore = scoreB, scoreA
	}

	reason := fmt.Sprintf("plan %s scored %d against %d", winner, winScore.Total(), loseScore.Total())
	if advs := criterionAdvantages(winScore, loseScore); len(advs) > 0 {
		reason += fmt.Sprintf(" (advantage in %s)", strings.Join(advs, ", "))
	} else {
		reason += " (tie broken by risk awareness)"
		if winScore.RiskAwareness == loseScore.RiskAwareness {
			reason = fmt.Sprintf("plans tied at %d; plan A kept by default", winScore.Total())
		}
	}

	f.CompetingPlans = &state.CompetingPlans{
		PlanA:           planA,
		PlanB:           planB,
		Winner:          winner,
		ScoreA:          scoreA.Total(),
		ScoreB:          scoreB.Total(),
		SelectionReason: reason,
	}
	f.PlanningPhase = state.PhaseEvaluating

	for _, key := range []string{featureID + "-planner-a", featureID + "-planner-b"} {
		name := worker.SessionName(key)
		if err := c.workers.KillWorker(sess, name); err != nil && !errors.Is(err, errors.ErrSessionMissing) {
			c.logger.Warn("failed to kill planner", "session", name, "error", err.Error())
		}
	}

	c.logger.Info("plans evaluated", "feature", featureID, "winner", winner, "reason", reason)
	return f.CompetingPlans, nil
}
