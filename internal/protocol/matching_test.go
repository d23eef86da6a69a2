package protocol

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestMatchPattern(t *testing.T) {
	tests := []struct {
		name    string
		pattern string
		s       string
		want    bool
	}{
		{"exact glob", "bash", "bash", true},
		{"star glob", "git-*", "git-push", true},
		{"star glob miss", "git-*", "svn-push", false},
		{"doublestar path", "src/**/*.go", "src/a/b/c.go", true},
		{"doublestar miss", "src/**/*.go", "docs/readme.md", false},
		{"regex", "/^tool-[0-9]+$/", "tool-42", true},
		{"regex miss", "/^tool-[0-9]+$/", "tool-x", false},
		{"invalid regex matches nothing", "/([/", "anything", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, matchPattern(tt.pattern, tt.s))
		})
	}
}

func TestContextMatches(t *testing.T) {
	ac := ApplicableContexts{
		FeaturePatterns: []string{"feature-*"},
		FilePatterns:    []string{"src/**"},
		TaskPatterns:    []string{"deploy"},
		Environments:    []string{"production"},
	}

	t.Run("all facts match", func(t *testing.T) {
		assert.True(t, contextMatches(ac, EvalContext{
			FeatureID:   "feature-1",
			FilePaths:   []string{"src/main.go"},
			Task:        "Deploy the api service",
			Environment: "production",
		}))
	})

	t.Run("feature mismatch", func(t *testing.T) {
		assert.False(t, contextMatches(ac, EvalContext{FeatureID: "bugfix-1"}))
	})

	t.Run("no file matches", func(t *testing.T) {
		assert.False(t, contextMatches(ac, EvalContext{
			FeatureID: "feature-1",
			FilePaths: []string{"docs/readme.md"},
		}))
	})

	t.Run("absent facts are unconstrained", func(t *testing.T) {
		// A context with no feature id, files, task, or environment is not
		// excluded by patterns over those facts.
		assert.True(t, contextMatches(ac, EvalContext{}))
	})

	t.Run("empty contexts match everything", func(t *testing.T) {
		assert.True(t, contextMatches(ApplicableContexts{}, EvalContext{
			FeatureID: "anything", Task: "whatever",
		}))
	})

	t.Run("environment exact match", func(t *testing.T) {
		assert.False(t, contextMatches(ac, EvalContext{Environment: "staging"}))
	})
}

func TestTaskMatchesAny(t *testing.T) {
	assert.True(t, taskMatchesAny([]string{"force push"}, "Never Force Push to main"))
	assert.False(t, taskMatchesAny([]string{"force push"}, "regular commit"))
	assert.True(t, taskMatchesAny([]string{"/dele?te/"}, "delete the table"))
}
