package vote

import (
	"context"
	"os"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"overseer/internal/logging"
	"overseer/internal/state"
	"overseer/internal/term"
	"overseer/internal/util"
	"overseer/internal/worker"
)

func newTestCoordinator(t *testing.T) (*Coordinator, *worker.Manager, *term.Fake, state.Layout) {
	t.Helper()
	layout := state.NewLayout(t.TempDir())
	fake := term.NewFake()
	workers := worker.NewManager(layout, fake, worker.DefaultConfig(), logging.NopLogger())
	return NewCoordinator(workers, logging.NopLogger()), workers, fake, layout
}

func voteSession(features ...*state.Feature) *state.Session {
	s := state.NewSession("/tmp/project", "build the thing")
	s.Features = features
	return s
}

func voteFeature(id string) *state.Feature {
	return &state.Feature{ID: id, Description: "implement " + id, Status: state.FeaturePending}
}

func writePlan(t *testing.T, layout state.Layout, key string, plan *state.Plan) {
	t.Helper()
	require.NoError(t, os.MkdirAll(layout.WorkersDir(), 0755))
	require.NoError(t, util.WriteJSONFile(layout.WorkerPlanPath(key), plan, 0600))
}

func TestStartCompetitivePlanning(t *testing.T) {
	c, _, fake, _ := newTestCoordinator(t)
	sess := voteSession(voteFeature("f1"))

	require.NoError(t, c.StartCompetitivePlanning(context.Background(), sess, "f1", ""))
	assert.Equal(t, state.PhasePlanning, sess.Feature("f1").PlanningPhase)
	assert.True(t, fake.SessionExists("overseer-f1-planner-a"))
	assert.True(t, fake.SessionExists("overseer-f1-planner-b"))
	// Planners do not claim the feature.
	assert.Equal(t, state.FeaturePending, sess.Feature("f1").Status)

	t.Run("unknown feature", func(t *testing.T) {
		assert.Error(t, c.StartCompetitivePlanning(context.Background(), sess, "ghost", ""))
	})

	t.Run("non-pending feature refused", func(t *testing.T) {
		sess := voteSession(voteFeature("f2"))
		sess.Feature("f2").Status = state.FeatureInProgress
		assert.Error(t, c.StartCompetitivePlanning(context.Background(), sess, "f2", ""))
	})
}

func TestEvaluatePlans(t *testing.T) {
	c, _, fake, layout := newTestCoordinator(t)
	sess := voteSession(voteFeature("f1"))
	require.NoError(t, c.StartCompetitivePlanning(context.Background(), sess, "f1", ""))

	base := state.Plan{
		Steps:               []string{"read the code", "change it", "test it"},
		Risks:               []string{"regression in parser"},
		EstimatedComplexity: 2,
	}

	planA := base
	planA.Summary = strings.Repeat("thorough analysis of the approach ", 10) // ~340 chars
	planB := base
	planB.Summary = strings.Repeat("short plan ", 10) // ~110 chars
	writePlan(t, layout, "f1-planner-a", &planA)
	writePlan(t, layout, "f1-planner-b", &planB)

	result, err := c.EvaluatePlans(sess, "f1")
	require.NoError(t, err)
	assert.Equal(t, "A", result.Winner)
	assert.Greater(t, result.ScoreA, result.ScoreB)
	assert.Contains(t, result.SelectionReason, "completeness")
	assert.Equal(t, state.PhaseEvaluating, sess.Feature("f1").PlanningPhase)
	assert.Same(t, result, sess.Feature("f1").CompetingPlans)

	// Both planner sessions are gone after evaluation.
	assert.False(t, fake.SessionExists("overseer-f1-planner-a"))
	assert.False(t, fake.SessionExists("overseer-f1-planner-b"))
}

func TestEvaluatePlansRequiresBothFiles(t *testing.T) {
	c, _, _, layout := newTestCoordinator(t)
	sess := voteSession(voteFeature("f1"))

	writePlan(t, layout, "f1-planner-a", &state.Plan{Summary: "only one plan"})
	_, err := c.EvaluatePlans(sess, "f1")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "both plan files")
}

func TestEvaluatePlansTieBreaking(t *testing.T) {
	t.Run("risk awareness breaks score ties", func(t *testing.T) {
		c, _, _, layout := newTestCoordinator(t)
		sess := voteSession(voteFeature("f1"))

		// B trades summary length for risk coverage; totals come out equal.
		planA := state.Plan{
			Summary:             strings.Repeat("x", 150),
			Steps:               []string{"a"},
			Risks:               []string{"r1"},
			EstimatedComplexity: 2,
		}
		planB := state.Plan{
			Summary:             strings.Repeat("x", 100),
			Steps:               []string{"a"},
			Risks:               []string{"r1", "r2"},
			EstimatedComplexity: 2,
		}
		writePlan(t, layout, "f1-planner-a", &planA)
		writePlan(t, layout, "f1-planner-b", &planB)

		result, err := c.EvaluatePlans(sess, "f1")
		require.NoError(t, err)
		require.Equal(t, result.ScoreA, result.ScoreB)
		assert.Equal(t, "B", result.Winner)
	})

	t.Run("full tie keeps plan A", func(t *testing.T) {
		c, _, _, layout := newTestCoordinator(t)
		sess := voteSession(voteFeature("f1"))

		plan := state.Plan{Summary: "same", Steps: []string{"a"}, EstimatedComplexity: 2}
		writePlan(t, layout, "f1-planner-a", &plan)
		writePlan(t, layout, "f1-planner-b", &plan)

		result, err := c.EvaluatePlans(sess, "f1")
		require.NoError(t, err)
		assert.Equal(t, "A", result.Winner)
		assert.Contains(t, result.SelectionReason, "tied")
	})
}

func TestScorePlan(t *testing.T) {
	tests := []struct {
		name string
		plan state.Plan
		want int
	}{
		{"empty plan", state.Plan{}, 10}, // unknown complexity only
		{
			"full plan",
			state.Plan{
				Summary:             strings.Repeat("x", 300),
				Steps:               []string{"a", "b"},
				Risks:               []string{"r1", "r2", "r3"},
				EstimatedComplexity: 2,
			},
			100,
		},
		{
			"over-decomposed plan loses feasibility",
			state.Plan{
				Summary:             strings.Repeat("x", 300),
				Steps:               make([]string, 15),
				Risks:               []string{"r1", "r2", "r3"},
				EstimatedComplexity: 2,
			},
			90,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, scorePlan(&tt.plan).Total())
		})
	}
}
