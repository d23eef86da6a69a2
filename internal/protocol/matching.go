package protocol

import (
	"regexp"
	"strings"
	"sync"

	"github.com/bmatcuk/doublestar/v4"
)

// regexCache holds compiled /…/ patterns. Patterns come from protocol
// definitions, so the population is small and stable.
var regexCache sync.Map // pattern string -> *regexp.Regexp

// matchPattern matches s against a single pattern. Patterns wrapped in
// slashes (/…/) are regular expressions; anything else is a glob with **
// support. A pattern that fails to compile matches nothing.
func matchPattern(pattern, s string) bool {
	if len(pattern) >= 2 && strings.HasPrefix(pattern, "/") && strings.HasSuffix(pattern, "/") {
		expr := pattern[1 : len(pattern)-1]
		if cached, ok := regexCache.Load(expr); ok {
			return cached.(*regexp.Regexp).MatchString(s)
		}
		re, err := regexp.Compile(expr)
		if err != nil {
			return false
		}
		regexCache.Store(expr, re)
		return re.MatchString(s)
	}

	ok, err := doublestar.Match(pattern, s)
	return err == nil && ok
}

// matchAny reports whether s matches any of the patterns.
func matchAny(patterns []string, s string) bool {
	for _, p := range patterns {
		if matchPattern(p, s) {
			return true
		}
	}
	return false
}

// contextMatches reports whether a protocol's applicable contexts cover the
// evaluation context. An empty pattern list places no restriction; a
// non-empty list requires at least one match against the corresponding fact
// when that fact is present.
func contextMatches(ac ApplicableContexts, ctx EvalContext) bool {
	if len(ac.FeaturePatterns) > 0 && ctx.FeatureID != "" {
		if !matchAny(ac.FeaturePatterns, ctx.FeatureID) {
			return false
		}
	}
	if len(ac.FilePatterns) > 0 && len(ctx.FilePaths) > 0 {
		anyFile := false
		for _, f := range ctx.FilePaths {
			if matchAny(ac.FilePatterns, f) {
				anyFile = true
				break
			}
		}
		if !anyFile {
			return false
		}
	}
	if len(ac.ProjectPatterns) > 0 && ctx.ProjectPath != "" {
		if !matchAny(ac.ProjectPatterns, ctx.ProjectPath) {
			return false
		}
	}
	if len(ac.TaskPatterns) > 0 && ctx.Task != "" {
		if !taskMatchesAny(ac.TaskPatterns, ctx.Task) {
			return false
		}
	}
	if len(ac.Environments) > 0 && ctx.Environment != "" {
		found := false
		for _, env := range ac.Environments {
			if env == ctx.Environment {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	return true
}

// taskMatchesAny matches free-text task descriptions: /…/ patterns are
// regexes, everything else is a case-insensitive substring.
func taskMatchesAny(patterns []string, task string) bool {
	lower := strings.ToLower(task)
	for _, p := range patterns {
		if strings.HasPrefix(p, "/") && strings.HasSuffix(p, "/") && len(p) >= 2 {
			if matchPattern(p, task) {
				return true
			}
			continue
		}
		if strings.Contains(lower, strings.ToLower(p)) {
			return true
		}
	}
	return false
}
