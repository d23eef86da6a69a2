package worker

import (
	"fmt"
	"strings"

	"overseer/internal/state"
)

// markerInstructions tells the agent how to emit the activity markers the
// heartbeat parser looks for and how to signal completion.
func markerInstructions(donePath string) string {
	var b strings.Builder
	b.WriteString("Progress reporting:\n")
	b.WriteString("- Before each tool use, print a line of the form: [tool] <tool-name> <file-path>\n")
	b.WriteString(fmt.Sprintf("- When the work is finished, write a short summary of what you did to %s\n", donePath))
	b.WriteString("- Mention in the summary whether tests pass and roughly how many lines changed.\n")
	return b.String()
}

// featureContextSection renders the optional caller-supplied enrichment.
func featureContextSection(f *state.Feature) string {
	if f.Context == nil {
		return ""
	}
	var b strings.Builder
	if len(f.Context.Files) > 0 {
		b.WriteString("Relevant files:\n")
		for _, p := range f.Context.Files {
			b.WriteString("- " + p + "\n")
		}
	}
	if len(f.Context.Documentation) > 0 {
		b.WriteString("Documentation to consult:\n")
		for _, d := range f.Context.Documentation {
			b.WriteString("- " + d + "\n")
		}
	}
	if f.Context.Notes != "" {
		b.WriteString("Notes: " + f.Context.Notes + "\n")
	}
	return b.String()
}

// buildImplementorPrompt is the standard single-worker implementation
// prompt. A non-empty customPrompt replaces the task framing but keeps the
// reporting contract.
func buildImplementorPrompt(layout state.Layout, f *state.Feature, customPrompt string) string {
	var b strings.Builder
	if customPrompt != "" {
		b.WriteString(customPrompt)
		b.WriteString("\n\n")
	} else {
		fmt.Fprintf(&b, "You are implementing feature %q in this repository.\n\n", f.ID)
		b.WriteString("Task:\n")
		b.WriteString(f.Description + "\n\n")
		if section := featureContextSection(f); section != "" {
			b.WriteString(section + "\n")
		}
		if plan := winningPlanSection(f); plan != "" {
			b.WriteString(plan + "\n")
		}
		b.WriteString("Implement the feature completely, run the relevant tests, and fix any failures you cause.\n\n")
	}
	b.WriteString(markerInstructions(layout.WorkerDonePath(f.ID)))
	return b.String()
}

// winningPlanSection renders the evaluated plan when the feature went
// through competitive planning.
func winningPlanSection(f *state.Feature) string {
	if f.CompetingPlans == nil {
		return ""
	}
	plan := f.CompetingPlans.WinningPlan()
	if plan == nil {
		return ""
	}
	var b strings.Builder
	b.WriteString("Follow this approved plan:\n")
	b.WriteString(plan.Summary + "\n")
	for i, step := range plan.Steps {
		fmt.Fprintf(&b, "%d. %s\n", i+1, step)
	}
	return b.String()
}

// buildPlannerPrompt asks for a plan only. The two approaches are nudged in
// different directions so the competition produces genuinely distinct plans.
func buildPlannerPrompt(layout state.Layout, f *state.Feature, approach, customPrompt string) string {
	var key string
	var angle string
	switch approach {
	case "A":
		key = f.ID + "-planner-a"
		angle = "Favor the most direct implementation that satisfies the task."
	default:
		key = f.ID + "-planner-b"
		angle = "Favor the most robust implementation, weighing edge cases and failure modes."
	}

	var b strings.Builder
	fmt.Fprintf(&b, "You are planning (NOT implementing) feature %q.\n\n", f.ID)
	b.WriteString("Task:\n" + f.Description + "\n\n")
	if section := featureContextSection(f); section != "" {
		b.WriteString(section + "\n")
	}
	if customPrompt != "" {
		b.WriteString(customPrompt + "\n\n")
	}
	b.WriteString(angle + "\n\n")
	b.WriteString("Do not modify any files in the repository.\n")
	fmt.Fprintf(&b, "Write your plan as JSON to %s with this shape:\n", layout.WorkerPlanPath(key))
	b.WriteString(`{"summary": "...", "steps": ["..."], "risks": ["..."], "files": ["..."], "estimatedComplexity": 1}` + "\n\n")
	b.WriteString(markerInstructions(layout.WorkerDonePath(key)))
	return b.String()
}

// buildVotingPrompt frames a redundant independent attempt at the original
// task. Voters must not look at each other's work.
func buildVotingPrompt(layout state.Layout, f *state.Feature, customPrompt string) string {
	var b strings.Builder
	fmt.Fprintf(&b, "You are one of several independent workers implementing the same feature (%s).\n", f.ID)
	b.WriteString("Work alone; do not inspect or reuse other workers' output.\n\n")
	b.WriteString("Task:\n" + f.Description + "\n\n")
	if section := featureContextSection(f); section != "" {
		b.WriteString(section + "\n")
	}
	if customPrompt != "" {
		b.WriteString(customPrompt + "\n\n")
	}
	b.WriteString("Implement the feature completely and run the relevant tests.\n")
	b.WriteString("Your completion summary is how your attempt gets judged, so state clearly whether tests pass, how many lines you changed, and any errors you hit.\n\n")
	b.WriteString(markerInstructions(layout.WorkerDonePath(f.ID)))
	return b.String()
}

// buildReviewPrompt asks for a whole-session review of the completed work.
func buildReviewPrompt(layout state.Layout, sess *state.Session, kind ReviewType) string {
	key := "review-" + string(kind)

	var b strings.Builder
	switch kind {
	case ReviewArchitecture:
		b.WriteString("You are reviewing the ARCHITECTURE of the work just completed in this repository.\n")
		b.WriteString("Focus on module boundaries, coupling, layering, and long-term maintainability.\n\n")
	default:
		b.WriteString("You are reviewing the CODE of the work just completed in this repository.\n")
		b.WriteString("Focus on correctness, error handling, test coverage, and style consistency.\n\n")
	}

	b.WriteString("Overall task:\n" + sess.TaskDescription + "\n\n")
	b.WriteString("Features implemented:\n")
	for _, f := range sess.Features {
		fmt.Fprintf(&b, "- %s (%s): %s\n", f.ID, f.Status, f.Description)
	}
	b.WriteString("\nDo not modify any files. ")
	fmt.Fprintf(&b, "Write your findings to %s, one finding per line, in the form:\n", layout.WorkerDonePath(key))
	b.WriteString("<severity>|<file-or-area>|<description>\n")
	b.WriteString("Severity is one of: info, minor, major, critical. End with a final line starting with \"SUMMARY: \".\n\n")
	b.WriteString(markerInstructions(layout.WorkerDonePath(key)))
	return b.String()
}
