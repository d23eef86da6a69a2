package controller

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"overseer/internal/state"
)

func TestReviewConfigure(t *testing.T) {
	c, _ := newTestController(t, Options{})
	initSession(t, c, FeatureSpec{ID: "f1", Description: "work"})

	res := c.ReviewConfigure(true, []string{"code", "vibes"}, false)
	assert.False(t, res.OK)
	assert.Equal(t, CodeInvalidArgs, res.Code)

	res = c.ReviewConfigure(true, []string{"code"}, true)
	require.True(t, res.OK, res.Error)
	cfg := res.Payload.(*state.ReviewConfig)
	assert.True(t, cfg.Enabled)
	assert.True(t, cfg.AutoImplement)
}

func TestReviewRunRequiresTerminalFeatures(t *testing.T) {
	c, _ := newTestController(t, Options{})
	initSession(t, c, FeatureSpec{ID: "f1", Description: "work"})

	res := c.ReviewRun()
	assert.False(t, res.OK)
	assert.Contains(t, res.Error, "terminal")
}

func TestReviewFlow(t *testing.T) {
	c, fake := newTestController(t, Options{})
	initSession(t, c, FeatureSpec{ID: "auth", Description: "add login"})
	require.True(t, c.ReviewConfigure(true, []string{"code"}, false).OK)

	// Completing the last feature parks the session in reviewing rather
	// than finishing it.
	require.True(t, c.WorkerStart("auth", "", "").OK)
	writeDone(t, c, "auth", "login implemented, all tests pass")
	require.True(t, c.FeatureMarkComplete("auth", true, "", 0).OK)
	sess := c.SessionStatus().Payload.(*state.Session)
	assert.Equal(t, state.SessionReviewing, sess.Status)

	res := c.ReviewRun()
	require.True(t, res.OK, res.Error)
	assert.Equal(t, []string{"overseer-review-code"},
		res.Payload.(map[string]any)["reviewers"])
	assert.True(t, fake.SessionExists("overseer-review-code"))

	// A second round cannot start while one is in flight, and results are
	// withheld until the reviewer finishes.
	assert.False(t, c.ReviewRun().OK)
	res = c.ReviewResults()
	assert.False(t, res.OK)
	assert.Contains(t, res.Error, "still running")

	writeDone(t, c, "review-code",
		"major|internal/auth/login.go|password comparison is not constant time\n"+
			"minor|internal/auth|naming drifts between handlers\n"+
			"SUMMARY: solid overall, one security issue\n")
	fake.Drop("overseer-review-code")

	res = c.ReviewCheck()
	require.True(t, res.OK, res.Error)
	payload := res.Payload.(map[string]any)
	assert.True(t, payload["allTerminal"].(bool))
	statuses := payload["workers"].(map[string]state.WorkerStatus)
	assert.Equal(t, state.WorkerCompleted, statuses["overseer-review-code"])

	res = c.ReviewResults()
	require.True(t, res.OK, res.Error)
	agg := res.Payload.(*state.AggregatedReview)
	require.Len(t, agg.Suggestions, 2)
	assert.Equal(t, "major", agg.Suggestions[0].Severity)
	assert.Contains(t, agg.Summary, "one security issue")

	sess = c.SessionStatus().Payload.(*state.Session)
	assert.Equal(t, state.SessionCompleted, sess.Status)
	assert.NotNil(t, sess.AggregatedReview)
}

func TestReviewImplementSuggestions(t *testing.T) {
	c, fake := newTestController(t, Options{})
	initSession(t, c, FeatureSpec{ID: "auth", Description: "add login"})
	require.True(t, c.ReviewConfigure(true, []string{"code"}, false).OK)

	require.True(t, c.WorkerStart("auth", "", "").OK)
	writeDone(t, c, "auth", "done")
	require.True(t, c.FeatureMarkComplete("auth", true, "", 0).OK)
	require.True(t, c.ReviewRun().OK)
	writeDone(t, c, "review-code",
		"critical|cmd/server|secrets are logged at startup\n"+
			"info|README.md|usage section is stale\n"+
			"SUMMARY: one blocker\n")
	fake.Drop("overseer-review-code")
	require.True(t, c.ReviewResults().OK)

	res := c.ReviewImplementSuggestions()
	require.True(t, res.OK, res.Error)
	ids := res.Payload.(map[string]any)["features"].([]string)
	assert.Equal(t, []string{"review-fix-1"}, ids, "only the critical finding is actionable")

	sess := c.SessionStatus().Payload.(*state.Session)
	assert.Equal(t, state.SessionInProgress, sess.Status)
	f := sess.Feature("review-fix-1")
	require.NotNil(t, f)
	assert.Equal(t, state.FeaturePending, f.Status)
	assert.Contains(t, f.Description, "secrets are logged")
}

func TestReviewImplementSuggestionsRequiresAggregate(t *testing.T) {
	c, _ := newTestController(t, Options{})
	initSession(t, c, FeatureSpec{ID: "f1", Description: "work"})

	res := c.ReviewImplementSuggestions()
	assert.False(t, res.OK)
	assert.Contains(t, res.Error, "no aggregated review")
}
