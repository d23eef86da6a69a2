package worker

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"overseer/internal/state"
)

func TestAnalyzeFeatureConflicts(t *testing.T) {
	withFiles := func(id string, files ...string) *state.Feature {
		f := pendingFeature(id)
		f.Context = &state.FeatureContext{Files: files}
		return f
	}

	t.Run("overlapping target files", func(t *testing.T) {
		conflicts := AnalyzeFeatureConflicts([]*state.Feature{
			withFiles("f1", "internal/auth/token.go", "internal/auth/session.go"),
			withFiles("f2", "internal/auth/token.go"),
			withFiles("f3", "cmd/main.go"),
		})
		require.Len(t, conflicts, 1)
		assert.Equal(t, "f1", conflicts[0].FeatureA)
		assert.Equal(t, "f2", conflicts[0].FeatureB)
		assert.Contains(t, conflicts[0].Reason, "internal/auth/token.go")
	})

	t.Run("shared description keywords", func(t *testing.T) {
		a := pendingFeature("f1")
		a.Description = "refactor the payment gateway webhook retries"
		b := pendingFeature("f2")
		b.Description = "harden payment gateway webhook validation"

		conflicts := AnalyzeFeatureConflicts([]*state.Feature{a, b})
		require.Len(t, conflicts, 1)
		assert.Contains(t, conflicts[0].Reason, "keywords")
	})

	t.Run("unrelated features stay quiet", func(t *testing.T) {
		a := pendingFeature("f1")
		a.Description = "add pagination to the search endpoint"
		b := pendingFeature("f2")
		b.Description = "rotate database credentials nightly"

		assert.Empty(t, AnalyzeFeatureConflicts([]*state.Feature{a, b}))
	})

	t.Run("file overlap wins over keyword overlap", func(t *testing.T) {
		a := withFiles("f1", "server.go")
		a.Description = "extend the websocket server heartbeat handling"
		b := withFiles("f2", "server.go")
		b.Description = "extend the websocket server shutdown handling"

		conflicts := AnalyzeFeatureConflicts([]*state.Feature{a, b})
		require.Len(t, conflicts, 1)
		assert.Contains(t, conflicts[0].Reason, "server.go")
	})

	t.Run("empty input", func(t *testing.T) {
		assert.Empty(t, AnalyzeFeatureConflicts(nil))
	})
}
