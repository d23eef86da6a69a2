package worker

import (
	"context"
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"overseer/internal/errors"
	"overseer/internal/logging"
	"overseer/internal/state"
	"overseer/internal/term"
)

func newTestManager(t *testing.T) (*Manager, *term.Fake, state.Layout) {
	t.Helper()
	layout := state.NewLayout(t.TempDir())
	fake := term.NewFake()
	m := NewManager(layout, fake, DefaultConfig(), logging.NopLogger())
	return m, fake, layout
}

func workerSession(features ...*state.Feature) *state.Session {
	s := state.NewSession("/tmp/project", "build the thing")
	s.Features = features
	return s
}

func pendingFeature(id string) *state.Feature {
	return &state.Feature{ID: id, Description: "implement " + id, Status: state.FeaturePending}
}

func writeDoneFile(t *testing.T, layout state.Layout, key, content string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(layout.WorkersDir(), 0755))
	require.NoError(t, os.WriteFile(layout.WorkerDonePath(key), []byte(content), 0600))
}

func TestStartWorker(t *testing.T) {
	m, fake, layout := newTestManager(t)
	sess := workerSession(pendingFeature("f1"))

	name, err := m.StartWorker(context.Background(), sess, "f1", "", "")
	require.NoError(t, err)
	assert.Equal(t, "overseer-f1", name)

	f := sess.Feature("f1")
	assert.Equal(t, state.FeatureInProgress, f.Status)
	assert.Equal(t, name, f.WorkerID)
	assert.Equal(t, 1, f.Attempts)
	assert.NotEmpty(t, f.StartedAt)

	require.Len(t, sess.Workers, 1)
	assert.Equal(t, state.RoleImplementor, sess.Workers[0].Role)
	assert.Equal(t, state.WorkerRunning, sess.Workers[0].Status)

	argv := fake.Argv(name)
	require.NotEmpty(t, argv)
	assert.Equal(t, "claude", argv[0])
	assert.Contains(t, argv, "--dangerously-skip-permissions")
	assert.Contains(t, argv, "--prompt-file")
	assert.Contains(t, argv, layout.WorkerPromptPath("f1"))

	prompt, err := os.ReadFile(layout.WorkerPromptPath("f1"))
	require.NoError(t, err)
	assert.Contains(t, string(prompt), "implement f1")
	assert.Contains(t, string(prompt), layout.WorkerDonePath("f1"))

	t.Run("model hint lands in argv", func(t *testing.T) {
		sess := workerSession(pendingFeature("f2"))
		name, err := m.StartWorker(context.Background(), sess, "f2", "", "opus")
		require.NoError(t, err)
		argv := fake.Argv(name)
		assert.Contains(t, argv, "--model")
		assert.Contains(t, argv, "opus")
	})

	t.Run("unknown feature", func(t *testing.T) {
		_, err := m.StartWorker(context.Background(), sess, "ghost", "", "")
		assert.ErrorIs(t, err, errors.ErrFeatureNotFound)
	})

	t.Run("already running", func(t *testing.T) {
		_, err := m.StartWorker(context.Background(), sess, "f1", "", "")
		assert.ErrorIs(t, err, errors.ErrWorkerAlreadyRunning)
	})
}

func TestStartWorkerSpawnFailureMutatesNothing(t *testing.T) {
	m, fake, _ := newTestManager(t)
	fake.SpawnErr = errors.New("tmux unavailable")
	sess := workerSession(pendingFeature("f1"))

	_, err := m.StartWorker(context.Background(), sess, "f1", "", "")
	require.Error(t, err)

	f := sess.Feature("f1")
	assert.Equal(t, state.FeaturePending, f.Status)
	assert.Zero(t, f.Attempts)
	assert.Empty(t, f.WorkerID)
	assert.Empty(t, sess.Workers)
}

func TestStartPlannerWorker(t *testing.T) {
	m, fake, layout := newTestManager(t)
	sess := workerSession(pendingFeature("f1"))

	nameA, err := m.StartPlannerWorker(context.Background(), sess, "f1", state.RolePlannerA, "")
	require.NoError(t, err)
	assert.Equal(t, "overseer-f1-planner-a", nameA)

	nameB, err := m.StartPlannerWorker(context.Background(), sess, "f1", state.RolePlannerB, "")
	require.NoError(t, err)
	assert.Equal(t, "overseer-f1-planner-b", nameB)

	// Planners never claim the feature.
	assert.Equal(t, state.FeaturePending, sess.Feature("f1").Status)
	assert.Zero(t, sess.Feature("f1").Attempts)
	require.Len(t, sess.Workers, 2)
	assert.Equal(t, state.RolePlannerA, sess.Workers[0].Role)

	prompt, err := os.ReadFile(layout.WorkerPromptPath("f1-planner-a"))
	require.NoError(t, err)
	assert.Contains(t, string(prompt), layout.WorkerPlanPath("f1-planner-a"))
	assert.Contains(t, string(prompt), "Do not modify any files")
	assert.NotEmpty(t, fake.Argv(nameA))

	t.Run("rejects non-planner role", func(t *testing.T) {
		_, err := m.StartPlannerWorker(context.Background(), sess, "f1", state.RoleImplementor, "")
		assert.Error(t, err)
	})
}

func TestStartVotingWorker(t *testing.T) {
	m, _, _ := newTestManager(t)
	voter := pendingFeature("f1-voter-1")
	voter.VotingGroup = "f1"
	voter.VotingRole = state.VoterRole(1)
	sess := workerSession(voter, pendingFeature("plain"))

	name, err := m.StartVotingWorker(context.Background(), sess, "f1-voter-1", "")
	require.NoError(t, err)
	assert.Equal(t, "overseer-f1-voter-1", name)
	assert.Equal(t, state.FeatureInProgress, voter.Status)
	assert.Equal(t, 1, voter.Attempts)
	require.Len(t, sess.Workers, 1)
	assert.Equal(t, state.VoterRole(1), sess.Workers[0].Role)

	t.Run("rejects non-voter feature", func(t *testing.T) {
		_, err := m.StartVotingWorker(context.Background(), sess, "plain", "")
		assert.Error(t, err)
	})
}

func TestStartReviewWorker(t *testing.T) {
	m, _, layout := newTestManager(t)
	sess := workerSession(pendingFeature("f1"))
	sess.Feature("f1").Status = state.FeatureCompleted

	name, err := m.StartReviewWorker(context.Background(), sess, ReviewCode)
	require.NoError(t, err)
	assert.Equal(t, "overseer-review-code", name)
	require.Len(t, sess.ReviewWorkers, 1)
	assert.Equal(t, state.RoleCodeReviewer, sess.ReviewWorkers[0].Role)
	assert.Empty(t, sess.Workers)

	prompt, err := os.ReadFile(layout.WorkerPromptPath("review-code"))
	require.NoError(t, err)
	assert.Contains(t, string(prompt), "f1")

	t.Run("architecture reviewer", func(t *testing.T) {
		name, err := m.StartReviewWorker(context.Background(), sess, ReviewArchitecture)
		require.NoError(t, err)
		assert.Equal(t, "overseer-review-architecture", name)
		assert.Equal(t, state.RoleArchReviewer, sess.ReviewWorkers[1].Role)
	})

	t.Run("unknown review type", func(t *testing.T) {
		_, err := m.StartReviewWorker(context.Background(), sess, ReviewType("vibes"))
		assert.Error(t, err)
	})
}

func TestCheckWorker(t *testing.T) {
	m, fake, layout := newTestManager(t)
	sess := workerSession(pendingFeature("f1"))
	name, err := m.StartWorker(context.Background(), sess, "f1", "", "")
	require.NoError(t, err)

	fake.SetOutput(name, "compiling\nall tests passed\n")
	res, err := m.CheckWorker(sess, name, 50, 0)
	require.NoError(t, err)
	assert.Equal(t, state.WorkerRunning, res.Status)
	assert.Contains(t, res.Output, "all tests passed")

	// The capture is mirrored to the worker log.
	mirrored, err := os.ReadFile(layout.WorkerLogPath("f1"))
	require.NoError(t, err)
	assert.Contains(t, string(mirrored), "compiling")

	t.Run("sinceLine skips already-seen output", func(t *testing.T) {
		res, err := m.CheckWorker(sess, name, 50, 1)
		require.NoError(t, err)
		assert.NotContains(t, res.Output, "compiling")
		assert.Contains(t, res.Output, "all tests passed")
		assert.Equal(t, 2, res.TotalLines)
	})

	t.Run("unknown worker", func(t *testing.T) {
		_, err := m.CheckWorker(sess, "overseer-ghost", 10, 0)
		assert.ErrorIs(t, err, errors.ErrWorkerNotFound)
	})

	t.Run("gone without done file reads as crashed", func(t *testing.T) {
		fake.Drop(name)
		res, err := m.CheckWorker(sess, name, 10, 0)
		require.NoError(t, err)
		assert.Equal(t, state.WorkerCrashed, res.Status)
	})

	t.Run("gone with done file reads as completed", func(t *testing.T) {
		writeDoneFile(t, layout, "f1", "done. tests pass.")
		res, err := m.CheckWorker(sess, name, 10, 0)
		require.NoError(t, err)
		assert.Equal(t, state.WorkerCompleted, res.Status)
	})
}

func TestSendMessage(t *testing.T) {
	m, fake, _ := newTestManager(t)
	sess := workerSession(pendingFeature("f1"))
	name, err := m.StartWorker(context.Background(), sess, "f1", "", "")
	require.NoError(t, err)

	require.NoError(t, m.SendMessage(name, "focus on the parser first"))
	assert.Equal(t, []string{"focus on the parser first"}, fake.SentKeys(name))

	t.Run("dead session errors", func(t *testing.T) {
		fake.Drop(name)
		err := m.SendMessage(name, "hello?")
		assert.ErrorIs(t, err, errors.ErrSessionMissing)
	})
}

func TestKillWorkerSuppressesCompletionReport(t *testing.T) {
	m, fake, _ := newTestManager(t)
	sess := workerSession(pendingFeature("f1"))
	name, err := m.StartWorker(context.Background(), sess, "f1", "", "")
	require.NoError(t, err)

	require.NoError(t, m.KillWorker(sess, name))
	assert.False(t, fake.SessionExists(name))
	assert.Equal(t, state.WorkerCompleted, sess.Worker(name).Status)

	// The monitor stays quiet about a worker we killed on purpose.
	assert.Empty(t, m.CheckCompletions(sess))
}

func TestKillAllWorkers(t *testing.T) {
	m, fake, _ := newTestManager(t)
	sess := workerSession(pendingFeature("f1"), pendingFeature("f2"))
	_, err := m.StartWorker(context.Background(), sess, "f1", "", "")
	require.NoError(t, err)
	_, err = m.StartWorker(context.Background(), sess, "f2", "", "")
	require.NoError(t, err)

	require.NoError(t, m.KillAllWorkers(sess))
	names, err := fake.List()
	require.NoError(t, err)
	assert.Empty(t, names)
	assert.Empty(t, sess.LiveWorkers())
}

func TestCheckCompletions(t *testing.T) {
	m, fake, layout := newTestManager(t)
	sess := workerSession(pendingFeature("done"), pendingFeature("crashed"), pendingFeature("live"))
	for _, id := range []string{"done", "crashed", "live"} {
		_, err := m.StartWorker(context.Background(), sess, id, "", "")
		require.NoError(t, err)
	}

	var reported []Event
	m.OnTransition(func(ev Event) { reported = append(reported, ev) })

	writeDoneFile(t, layout, "done", "all done")
	fake.Drop(SessionName("done"))
	fake.Drop(SessionName("crashed"))

	events := m.CheckCompletions(sess)
	require.Len(t, events, 2)
	byFeature := make(map[string]state.WorkerStatus)
	for _, ev := range events {
		byFeature[ev.FeatureID] = ev.Status
	}
	assert.Equal(t, state.WorkerCompleted, byFeature["done"])
	assert.Equal(t, state.WorkerCrashed, byFeature["crashed"])
	assert.Equal(t, events, reported)

	assert.Equal(t, state.WorkerCompleted, sess.Worker(SessionName("done")).Status)
	assert.Equal(t, state.WorkerCrashed, sess.Worker(SessionName("crashed")).Status)
	assert.Equal(t, state.WorkerRunning, sess.Worker(SessionName("live")).Status)

	t.Run("each transition reported once", func(t *testing.T) {
		assert.Empty(t, m.CheckCompletions(sess))
	})

	t.Run("done file completes a still-live session", func(t *testing.T) {
		writeDoneFile(t, layout, "live", "finished, session idling")

		events := m.CheckCompletions(sess)
		require.Len(t, events, 1)
		assert.Equal(t, "live", events[0].FeatureID)
		assert.Equal(t, state.WorkerCompleted, events[0].Status)
		assert.True(t, fake.SessionExists(SessionName("live")))
		assert.Equal(t, state.WorkerCompleted, sess.Worker(SessionName("live")).Status)

		assert.Empty(t, m.CheckCompletions(sess))
	})
}

func TestReadPlanAndDoneFiles(t *testing.T) {
	m, _, layout := newTestManager(t)

	plan, err := m.ReadPlanFile("f1")
	require.NoError(t, err)
	assert.Nil(t, plan)

	require.NoError(t, os.MkdirAll(layout.WorkersDir(), 0755))
	require.NoError(t, os.WriteFile(layout.WorkerPlanPath("f1"),
		[]byte(`{"summary": "refactor first", "steps": ["a", "b"]}`), 0600))
	plan, err = m.ReadPlanFile("f1")
	require.NoError(t, err)
	require.NotNil(t, plan)
	assert.Equal(t, "refactor first", plan.Summary)
	assert.Len(t, plan.Steps, 2)

	content, err := m.ReadDoneFile("f1")
	require.NoError(t, err)
	assert.Empty(t, content)

	writeDoneFile(t, layout, "f1", "tests pass\n")
	content, err = m.ReadDoneFile("f1")
	require.NoError(t, err)
	assert.Equal(t, "tests pass", content)
}
