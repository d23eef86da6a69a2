package protocol

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func boolPtr(b bool) *bool { return &b }

func TestEvaluateDisabledConstraintPasses(t *testing.T) {
	c := Constraint{
		ID: "c-1", Type: ConstraintToolRestriction, Severity: SeverityError,
		Enabled:         false,
		ToolRestriction: &ToolRestrictionRule{DeniedTools: []string{"danger"}},
	}
	assert.True(t, Evaluate(c, EvalContext{Tool: "danger"}).Passed)
}

func TestEvalToolRestriction(t *testing.T) {
	t.Run("denied tool fails", func(t *testing.T) {
		r := ToolRestrictionRule{DeniedTools: []string{"danger"}}
		res := evalToolRestriction(r, EvalContext{Tool: "danger"})
		assert.False(t, res.Passed)
		assert.Contains(t, res.Reason, "denied")
	})

	t.Run("deny takes priority over allow", func(t *testing.T) {
		// The same tool in both lists must fail.
		r := ToolRestrictionRule{
			AllowedTools: []string{"danger"},
			DeniedTools:  []string{"danger"},
		}
		assert.False(t, evalToolRestriction(r, EvalContext{Tool: "danger"}).Passed)
	})

	t.Run("bang pattern denies", func(t *testing.T) {
		r := ToolRestrictionRule{ToolPatterns: []string{"!rm-*"}}
		assert.False(t, evalToolRestriction(r, EvalContext{Tool: "rm-rf"}).Passed)
		assert.True(t, evalToolRestriction(r, EvalContext{Tool: "ls"}).Passed)
	})

	t.Run("allow list enforced", func(t *testing.T) {
		r := ToolRestrictionRule{AllowedTools: []string{"read", "grep"}}
		assert.True(t, evalToolRestriction(r, EvalContext{Tool: "read"}).Passed)
		assert.False(t, evalToolRestriction(r, EvalContext{Tool: "write"}).Passed)
	})

	t.Run("pattern can satisfy allow list", func(t *testing.T) {
		r := ToolRestrictionRule{
			AllowedTools: []string{"read"},
			ToolPatterns: []string{"git-*"},
		}
		assert.True(t, evalToolRestriction(r, EvalContext{Tool: "git-log"}).Passed)
	})

	t.Run("approval required fails closed", func(t *testing.T) {
		r := ToolRestrictionRule{RequireApproval: []string{"deploy"}}
		res := evalToolRestriction(r, EvalContext{Tool: "deploy"})
		assert.False(t, res.Passed)
		assert.Contains(t, res.Reason, "approval")
	})

	t.Run("empty rule passes", func(t *testing.T) {
		assert.True(t, evalToolRestriction(ToolRestrictionRule{}, EvalContext{Tool: "anything"}).Passed)
	})
}

func TestEvalFileAccess(t *testing.T) {
	t.Run("denied path beats allowed path", func(t *testing.T) {
		r := FileAccessRule{
			AllowedPaths: []string{"src/**"},
			DeniedPaths:  []string{"src/secrets/**"},
		}
		assert.False(t, evalFileAccess(r, EvalContext{FilePaths: []string{"src/secrets/key.pem"}}).Passed)
		assert.True(t, evalFileAccess(r, EvalContext{FilePaths: []string{"src/main.go"}}).Passed)
	})

	t.Run("denied extension checked before allow lists", func(t *testing.T) {
		r := FileAccessRule{
			AllowedPaths:     []string{"**"},
			DeniedExtensions: []string{".env", "pem"},
		}
		assert.False(t, evalFileAccess(r, EvalContext{FilePaths: []string{"config/.env"}}).Passed)
		assert.False(t, evalFileAccess(r, EvalContext{FilePaths: []string{"certs/server.pem"}}).Passed)
	})

	t.Run("allowed extensions", func(t *testing.T) {
		r := FileAccessRule{AllowedExtensions: []string{".go"}}
		assert.True(t, evalFileAccess(r, EvalContext{FilePaths: []string{"main.go"}}).Passed)
		assert.False(t, evalFileAccess(r, EvalContext{FilePaths: []string{"main.py"}}).Passed)
	})

	t.Run("read only blocks writes", func(t *testing.T) {
		r := FileAccessRule{ReadOnly: true}
		assert.False(t, evalFileAccess(r, EvalContext{Operation: "write"}).Passed)
		assert.True(t, evalFileAccess(r, EvalContext{Operation: "read"}).Passed)
	})

	t.Run("size cap is exceeds not reached", func(t *testing.T) {
		r := FileAccessRule{MaxFileSizeBytes: 100}
		// Exactly at the limit passes; only exceeding fails.
		assert.True(t, evalFileAccess(r, EvalContext{FileSizeBytes: 100}).Passed)
		assert.False(t, evalFileAccess(r, EvalContext{FileSizeBytes: 101}).Passed)
	})
}

func TestEvalOutputFormat(t *testing.T) {
	t.Run("max length exceeds", func(t *testing.T) {
		r := OutputFormatRule{MaxLength: 5}
		assert.True(t, evalOutputFormat(r, EvalContext{Output: "12345"}).Passed)
		assert.False(t, evalOutputFormat(r, EvalContext{Output: "123456"}).Passed)
	})

	t.Run("json format", func(t *testing.T) {
		r := OutputFormatRule{Format: "json"}
		assert.True(t, evalOutputFormat(r, EvalContext{Output: `{"ok":true}`}).Passed)
		assert.False(t, evalOutputFormat(r, EvalContext{Output: "not json"}).Passed)
	})

	t.Run("required fields on object", func(t *testing.T) {
		r := OutputFormatRule{RequiredFields: []string{"summary", "status"}}
		assert.True(t, evalOutputFormat(r, EvalContext{Output: `{"summary":"s","status":"ok"}`}).Passed)
		assert.False(t, evalOutputFormat(r, EvalContext{Output: `{"summary":"s"}`}).Passed)
	})

	t.Run("forbidden pattern checked before required", func(t *testing.T) {
		r := OutputFormatRule{
			ForbiddenPatterns: []string{"password"},
			RequiredPatterns:  []string{"done"},
		}
		res := evalOutputFormat(r, EvalContext{Output: "password=x done"})
		assert.False(t, res.Passed)
		assert.Contains(t, res.Reason, "forbidden")
	})

	t.Run("json object shape", func(t *testing.T) {
		r := OutputFormatRule{RequireJSONObject: true}
		assert.True(t, evalOutputFormat(r, EvalContext{Output: `{"a":1}`}).Passed)
		assert.False(t, evalOutputFormat(r, EvalContext{Output: `null`}).Passed)
		assert.False(t, evalOutputFormat(r, EvalContext{Output: `[1,2]`}).Passed)
	})
}

func TestEvalTemporal(t *testing.T) {
	// Monday 2026-08-24 14:00 UTC.
	now := time.Date(2026, 8, 24, 14, 0, 0, 0, time.UTC)

	t.Run("rate limit reached not exceeded", func(t *testing.T) {
		r := TemporalRule{MaxPerMinute: 5}
		assert.True(t, evalTemporal(r, EvalContext{Now: now, ActionsLastMinute: 4}).Passed)
		// Reaching the cap already fails.
		assert.False(t, evalTemporal(r, EvalContext{Now: now, ActionsLastMinute: 5}).Passed)
	})

	t.Run("cooldown", func(t *testing.T) {
		r := TemporalRule{CooldownSeconds: 60}
		recent := now.Add(-30 * time.Second)
		old := now.Add(-2 * time.Minute)
		assert.False(t, evalTemporal(r, EvalContext{Now: now, LastActionAt: recent}).Passed)
		assert.True(t, evalTemporal(r, EvalContext{Now: now, LastActionAt: old}).Passed)
	})

	t.Run("validity window", func(t *testing.T) {
		r := TemporalRule{ValidFrom: "2026-09-01T00:00:00Z"}
		assert.False(t, evalTemporal(r, EvalContext{Now: now}).Passed)

		r = TemporalRule{ValidUntil: "2026-01-01T00:00:00Z"}
		assert.False(t, evalTemporal(r, EvalContext{Now: now}).Passed)
	})

	t.Run("allowed hours and days", func(t *testing.T) {
		r := TemporalRule{AllowedHours: []int{14, 15}}
		assert.True(t, evalTemporal(r, EvalContext{Now: now}).Passed)
		r = TemporalRule{AllowedHours: []int{9}}
		assert.False(t, evalTemporal(r, EvalContext{Now: now}).Passed)

		r = TemporalRule{AllowedDays: []string{"monday"}}
		assert.True(t, evalTemporal(r, EvalContext{Now: now}).Passed)
		r = TemporalRule{AllowedDays: []string{"Saturday", "Sunday"}}
		assert.False(t, evalTemporal(r, EvalContext{Now: now}).Passed)
	})
}

func TestEvalResource(t *testing.T) {
	t.Run("concurrency cap trips when reached", func(t *testing.T) {
		r := ResourceRule{MaxConcurrentWorkers: 3}
		assert.True(t, evalResource(r, EvalContext{ConcurrentWorkers: 2}).Passed)
		res := evalResource(r, EvalContext{ConcurrentWorkers: 3})
		assert.False(t, res.Passed)
		assert.Contains(t, res.Reason, "reached")
	})

	t.Run("memory cap trips only when exceeded", func(t *testing.T) {
		r := ResourceRule{MaxMemoryMB: 512}
		assert.True(t, evalResource(r, EvalContext{MemoryMB: 512}).Passed)
		res := evalResource(r, EvalContext{MemoryMB: 513})
		assert.False(t, res.Passed)
		assert.Contains(t, res.Reason, "exceeds")
	})

	t.Run("duration cap", func(t *testing.T) {
		r := ResourceRule{MaxDurationSeconds: 60}
		assert.True(t, evalResource(r, EvalContext{DurationSeconds: 60}).Passed)
		assert.False(t, evalResource(r, EvalContext{DurationSeconds: 61}).Passed)
	})
}

func TestEvalSideEffect(t *testing.T) {
	t.Run("denied host beats allowed host", func(t *testing.T) {
		r := SideEffectRule{
			AllowedHosts: []string{"*.internal"},
			DeniedHosts:  []string{"db.internal"},
		}
		assert.False(t, evalSideEffect(r, EvalContext{Hosts: []string{"db.internal"}}).Passed)
		assert.True(t, evalSideEffect(r, EvalContext{Hosts: []string{"api.internal"}}).Passed)
	})

	t.Run("network switch", func(t *testing.T) {
		r := SideEffectRule{AllowNetwork: boolPtr(false)}
		assert.False(t, evalSideEffect(r, EvalContext{NetworkAccess: true}).Passed)
		assert.True(t, evalSideEffect(r, EvalContext{NetworkAccess: false}).Passed)
	})

	t.Run("file writes switch", func(t *testing.T) {
		r := SideEffectRule{AllowFileWrites: boolPtr(false)}
		res := evalSideEffect(r, EvalContext{FileWrites: true})
		assert.False(t, res.Passed)
		assert.True(t, strings.Contains(res.Reason, "file writes"))
	})

	t.Run("command allow list", func(t *testing.T) {
		r := SideEffectRule{AllowedCommands: []string{"git *", "npm *"}}
		assert.True(t, evalSideEffect(r, EvalContext{Commands: []string{"git push"}}).Passed)
		assert.False(t, evalSideEffect(r, EvalContext{Commands: []string{"curl evil"}}).Passed)
	})
}
