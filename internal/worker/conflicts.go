package worker

import (
	"fmt"
	"sort"
	"strings"

	"overseer/internal/state"
)

// FeatureConflict is one advisory warning that two features may step on
// each other if run concurrently. It never blocks dispatch.
type FeatureConflict struct {
	FeatureA string `json:"a"`
	FeatureB string `json:"b"`
	Reason   string `json:"reason"`
}

// keywordMinLength filters trivial words out of description matching.
const keywordMinLength = 5

// sharedKeywordThreshold is how many significant words two descriptions
// must share before the pair is flagged.
const sharedKeywordThreshold = 3

// stopwords are common task-description words that carry no signal.
var stopwords = map[string]bool{
	"implement": true, "create": true, "update": true, "support": true,
	"feature": true, "should": true, "which": true, "there": true,
	"would": true, "could": true, "their": true, "these": true,
	"using": true, "about": true, "after": true, "before": true,
}

// descriptionKeywords tokenizes a description into its significant words.
func descriptionKeywords(desc string) map[string]bool {
	words := strings.FieldsFunc(strings.ToLower(desc), func(r rune) bool {
		return !('a' <= r && r <= 'z') && !('0' <= r && r <= '9')
	})
	out := make(map[string]bool)
	for _, w := range words {
		if len(w) >= keywordMinLength && !stopwords[w] {
			out[w] = true
		}
	}
	return out
}

// sharedFiles returns the target files listed in both feature contexts.
func sharedFiles(a, b *state.Feature) []string {
	if a.Context == nil || b.Context == nil {
		return nil
	}
	inA := make(map[string]bool, len(a.Context.Files))
	for _, f := range a.Context.Files {
		inA[f] = true
	}
	var both []string
	for _, f := range b.Context.Files {
		if inA[f] {
			both = append(both, f)
		}
	}
	sort.Strings(both)
	return both
}

// AnalyzeFeatureConflicts predicts pairwise collisions between the given
// features from their declared target files and description overlap. The
// result is purely advisory.
func AnalyzeFeatureConflicts(features []*state.Feature) []FeatureConflict {
	var out []FeatureConflict

	keywords := make([]map[string]bool, len(features))
	for i, f := range features {
		keywords[i] = descriptionKeywords(f.Description)
	}

	for i := 0; i < len(features); i++ {
		for j := i + 1; j < len(features); j++ {
			a, b := features[i], features[j]

			if files := sharedFiles(a, b); len(files) > 0 {
				out = append(out, FeatureConflict{
					FeatureA: a.ID,
					FeatureB: b.ID,
					Reason:   fmt.Sprintf("both target %s", strings.Join(files, ", ")),
				})
				continue
			}

			shared := 0
			for w := range keywords[i] {
				if keywords[j][w] {
					shared++
				}
			}
			if shared >= sharedKeywordThreshold {
				out = append(out, FeatureConflict{
					FeatureA: a.ID,
					FeatureB: b.ID,
					Reason:   fmt.Sprintf("descriptions share %d keywords", shared),
				})
			}
		}
	}
	return out
}
