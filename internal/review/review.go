// Package review turns the raw output of review workers into structured
// findings. Reviewers write one finding per line in the form
// "severity|file-or-area|description" and close with a "SUMMARY: " line;
// everything else in the file is ignored.
package review

import (
	"fmt"
	"sort"
	"strings"

	"overseer/internal/state"
)

// Severity levels reviewers may use, in ascending order of concern.
var severityOrder = map[string]int{
	"info":     0,
	"minor":    1,
	"major":    2,
	"critical": 3,
}

// summaryPrefix marks the closing line of a review done file.
const summaryPrefix = "SUMMARY:"

// Findings is the parsed output of one review worker.
type Findings struct {
	Source      string
	Summary     string
	Suggestions []state.ReviewSuggestion
}

// Parse extracts structured findings from a review done file. Unparseable
// lines are skipped; an unknown severity is normalised to "info".
func Parse(source, done string) *Findings {
	f := &Findings{Source: source}
	for _, line := range strings.Split(done, "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		if rest, ok := strings.CutPrefix(line, summaryPrefix); ok {
			f.Summary = strings.TrimSpace(rest)
			continue
		}
		parts := strings.SplitN(line, "|", 3)
		if len(parts) != 3 {
			continue
		}
		severity := strings.ToLower(strings.TrimSpace(parts[0]))
		if _, known := severityOrder[severity]; !known {
			severity = "info"
		}
		f.Suggestions = append(f.Suggestions, state.ReviewSuggestion{
			Source:      source,
			Severity:    severity,
			File:        strings.TrimSpace(parts[1]),
			Description: strings.TrimSpace(parts[2]),
		})
	}
	return f
}

// Aggregate merges the findings of every review worker into one review,
// worst findings first. Call it only once all review workers are terminal.
func Aggregate(all []*Findings) *state.AggregatedReview {
	agg := &state.AggregatedReview{CreatedAt: state.Timestamp()}

	var summaries []string
	for _, f := range all {
		if f.Summary != "" {
			summaries = append(summaries, fmt.Sprintf("%s: %s", f.Source, f.Summary))
		}
		agg.Suggestions = append(agg.Suggestions, f.Suggestions...)
	}
	sort.SliceStable(agg.Suggestions, func(i, j int) bool {
		return severityOrder[agg.Suggestions[i].Severity] > severityOrder[agg.Suggestions[j].Severity]
	})

	if len(summaries) > 0 {
		agg.Summary = strings.Join(summaries, " / ")
	} else {
		agg.Summary = fmt.Sprintf("%d findings, no reviewer summary", len(agg.Suggestions))
	}
	return agg
}

// Actionable filters an aggregated review down to the findings worth
// turning into follow-up features (major and critical).
func Actionable(agg *state.AggregatedReview) []state.ReviewSuggestion {
	var out []state.ReviewSuggestion
	for _, s := range agg.Suggestions {
		if severityOrder[s.Severity] >= severityOrder["major"] {
			out = append(out, s)
		}
	}
	return out
}

// SuggestionFeatures converts actionable findings into pending features.
// IDs are review-fix-<n>, skipping ids the session already holds.
func SuggestionFeatures(sess *state.Session, suggestions []state.ReviewSuggestion) []*state.Feature {
	var out []*state.Feature
	n := 1
	for _, s := range suggestions {
		var id string
		for {
			id = fmt.Sprintf("review-fix-%d", n)
			n++
			if sess.Feature(id) == nil {
				break
			}
		}
		desc := s.Description
		if s.File != "" {
			desc = fmt.Sprintf("%s (in %s)", desc, s.File)
		}
		out = append(out, &state.Feature{
			ID:          id,
			Description: fmt.Sprintf("Address %s review finding: %s", s.Source, desc),
			Status:      state.FeaturePending,
		})
	}
	return out
}
