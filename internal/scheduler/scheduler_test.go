package scheduler

import (
	"context"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"overseer/internal/protocol"
	"overseer/internal/state"
)

// denyGate blocks the feature ids it is given and allows everything else.
type denyGate struct {
	blocked map[string]bool
}

func (g *denyGate) ValidatePreExecution(ctx protocol.EvalContext) *protocol.ValidationResult {
	return &protocol.ValidationResult{Allowed: !g.blocked[ctx.FeatureID]}
}

func testSession(features ...*state.Feature) *state.Session {
	s := state.NewSession("/tmp/project", "build the thing")
	s.Features = features
	return s
}

func feat(id string, status state.FeatureStatus, deps ...string) *state.Feature {
	return &state.Feature{ID: id, Description: "feature " + id, Status: status, DependsOn: deps}
}

func TestIsReady(t *testing.T) {
	sess := testSession(
		feat("done", state.FeatureCompleted),
		feat("failed", state.FeatureFailed),
		feat("free", state.FeaturePending),
		feat("gated", state.FeaturePending, "done"),
		feat("stuck", state.FeaturePending, "failed"),
		feat("dangling", state.FeaturePending, "ghost"),
		feat("running", state.FeatureInProgress),
	)

	tests := []struct {
		id   string
		want bool
	}{
		{"free", true},
		{"gated", true},      // dependency completed
		{"stuck", false},     // dependency failed
		{"dangling", false},  // unknown dependency
		{"running", false},   // not pending
		{"done", false},      // terminal
	}
	for _, tt := range tests {
		t.Run(tt.id, func(t *testing.T) {
			assert.Equal(t, tt.want, IsReady(sess, sess.Feature(tt.id), nil))
		})
	}

	t.Run("protocol gate blocks", func(t *testing.T) {
		gate := &denyGate{blocked: map[string]bool{"free": true}}
		assert.False(t, IsReady(sess, sess.Feature("free"), gate))
		assert.True(t, IsReady(sess, sess.Feature("gated"), gate))
	})
}

func TestPriority(t *testing.T) {
	// "root" blocks two pending features; "leaf" blocks none.
	sess := testSession(
		feat("root", state.FeaturePending),
		feat("mid", state.FeaturePending, "root"),
		feat("leaf", state.FeaturePending, "root"),
	)

	t.Run("base formula", func(t *testing.T) {
		// root: 2 blocked dependents, no deps.
		assert.Equal(t, 50*2+40, Priority(sess, sess.Feature("root"), StrategyAdaptive))
		// mid: no dependents, one dep.
		assert.Equal(t, 0, Priority(sess, sess.Feature("mid"), StrategyAdaptive))
	})

	t.Run("low complexity bonus", func(t *testing.T) {
		f := sess.Feature("mid")
		f.Complexity = 3
		assert.Equal(t, 30, Priority(sess, f, StrategyAdaptive))
		f.Complexity = 4
		assert.Equal(t, 0, Priority(sess, f, StrategyAdaptive))
		f.Complexity = 0
	})

	t.Run("attempts penalty", func(t *testing.T) {
		f := sess.Feature("leaf")
		f.Attempts = 2
		assert.Equal(t, -40, Priority(sess, f, StrategyAdaptive))
		f.Attempts = 0
	})

	t.Run("breadth-first boosts no-dependency features", func(t *testing.T) {
		assert.Equal(t, 50*2+40+20, Priority(sess, sess.Feature("root"), StrategyBreadthFirst))
		assert.Equal(t, 0, Priority(sess, sess.Feature("mid"), StrategyBreadthFirst))
	})

	t.Run("depth-first boosts unblocking features", func(t *testing.T) {
		assert.Equal(t, 50*2+40+30*2, Priority(sess, sess.Feature("root"), StrategyDepthFirst))
	})

	t.Run("completed dependents do not count", func(t *testing.T) {
		sess.Feature("mid").Status = state.FeatureCompleted
		assert.Equal(t, 1, BlockedDependents(sess, "root"))
		sess.Feature("mid").Status = state.FeaturePending
	})
}

func TestSelectBatch(t *testing.T) {
	t.Run("orders by priority then id", func(t *testing.T) {
		sess := testSession(
			feat("b", state.FeaturePending),
			feat("a", state.FeaturePending),
			feat("unblocker", state.FeaturePending),
			feat("waiting", state.FeaturePending, "unblocker"),
		)

		batch := SelectBatch(sess, 3, StrategyAdaptive, nil)
		require.Len(t, batch, 3)
		assert.Equal(t, "unblocker", batch[0].ID)
		// a and b tie; lexicographic order decides.
		assert.Equal(t, "a", batch[1].ID)
		assert.Equal(t, "b", batch[2].ID)
	})

	t.Run("k clamped to ceiling", func(t *testing.T) {
		var features []*state.Feature
		for i := 0; i < 15; i++ {
			features = append(features, feat(fmt.Sprintf("f-%02d", i), state.FeaturePending))
		}
		sess := testSession(features...)
		batch := SelectBatch(sess, 50, StrategyAdaptive, nil)
		assert.Len(t, batch, MaxBatch)
	})

	t.Run("k below one treated as one", func(t *testing.T) {
		sess := testSession(feat("only", state.FeaturePending))
		batch := SelectBatch(sess, 0, StrategyAdaptive, nil)
		assert.Len(t, batch, 1)
	})

	t.Run("gated features excluded", func(t *testing.T) {
		sess := testSession(feat("a", state.FeaturePending), feat("b", state.FeaturePending))
		gate := &denyGate{blocked: map[string]bool{"a": true}}
		batch := SelectBatch(sess, 5, StrategyAdaptive, gate)
		require.Len(t, batch, 1)
		assert.Equal(t, "b", batch[0].ID)
	})
}

func TestDispatch(t *testing.T) {
	features := []*state.Feature{
		feat("ok-1", state.FeaturePending),
		feat("bad", state.FeaturePending),
		feat("ok-2", state.FeaturePending),
	}

	res := Dispatch(context.Background(), features, func(ctx context.Context, id string) error {
		if id == "bad" {
			return fmt.Errorf("spawn failed for %s", id)
		}
		return nil
	})

	assert.Equal(t, []string{"ok-1", "ok-2"}, res.Started)
	require.Len(t, res.Failed, 1)
	assert.Error(t, res.Failed["bad"])

	t.Run("empty batch", func(t *testing.T) {
		res := Dispatch(context.Background(), nil, func(ctx context.Context, id string) error {
			t.Fatal("start should not be called")
			return nil
		})
		assert.Empty(t, res.Started)
		assert.Empty(t, res.Failed)
	})
}
