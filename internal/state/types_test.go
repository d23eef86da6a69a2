package state

import (
	"strings"
	"testing"
)

func TestValidateID(t *testing.T) {
	tests := []struct {
		name    string
		id      string
		wantErr bool
	}{
		{"simple", "feature-1", false},
		{"underscores", "my_feature", false},
		{"alphanumeric", "Feature2B", false},
		{"empty", "", true},
		{"spaces", "feature 1", true},
		{"slash", "a/b", true},
		{"dots", "../escape", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateID(tt.id)
			if (err != nil) != tt.wantErr {
				t.Errorf("ValidateID(%q) error = %v, wantErr %v", tt.id, err, tt.wantErr)
			}
		})
	}
}

func TestSessionStatusIsTerminal(t *testing.T) {
	tests := []struct {
		status SessionStatus
		want   bool
	}{
		{SessionInProgress, false},
		{SessionPaused, false},
		{SessionReviewing, false},
		{SessionCompleted, true},
		{SessionCompletedWithFailures, true},
	}

	for _, tt := range tests {
		if got := tt.status.IsTerminal(); got != tt.want {
			t.Errorf("%s.IsTerminal() = %v, want %v", tt.status, got, tt.want)
		}
	}
}

func TestVoterRole(t *testing.T) {
	if VoterRole(1) != "voter-1" || VoterRole(3) != "voter-3" {
		t.Errorf("VoterRole formatting wrong: %s, %s", VoterRole(1), VoterRole(3))
	}
}

func TestSessionAddFeature(t *testing.T) {
	sess := NewSession("/tmp/proj", "build the thing")

	if err := sess.AddFeature(&Feature{ID: "feature-1", Status: FeaturePending}); err != nil {
		t.Fatalf("AddFeature failed: %v", err)
	}

	t.Run("duplicate id rejected", func(t *testing.T) {
		err := sess.AddFeature(&Feature{ID: "feature-1", Status: FeaturePending})
		if err == nil {
			t.Error("expected error for duplicate feature id")
		}
	})

	t.Run("invalid id rejected", func(t *testing.T) {
		err := sess.AddFeature(&Feature{ID: "bad id!", Status: FeaturePending})
		if err == nil {
			t.Error("expected error for invalid feature id")
		}
	})

	t.Run("lookup", func(t *testing.T) {
		if sess.Feature("feature-1") == nil {
			t.Error("Feature should find feature-1")
		}
		if sess.Feature("missing") != nil {
			t.Error("Feature should return nil for unknown id")
		}
	})
}

func TestSessionAddProgressSanitises(t *testing.T) {
	sess := NewSession("/tmp/proj", "t")
	sess.AddProgress("line one\nline two\x07")

	if len(sess.ProgressLog) != 1 {
		t.Fatalf("ProgressLog length = %d, want 1", len(sess.ProgressLog))
	}
	entry := sess.ProgressLog[0]
	if strings.ContainsAny(entry, "\n\x07") {
		t.Errorf("progress entry not sanitised: %q", entry)
	}
	if !strings.HasPrefix(entry, "[") {
		t.Errorf("progress entry missing timestamp prefix: %q", entry)
	}
}

func TestSessionFeatureAggregates(t *testing.T) {
	sess := NewSession("/tmp/proj", "t")
	sess.Features = []*Feature{
		{ID: "a", Status: FeatureCompleted, Attempts: 1},
		{ID: "b", Status: FeatureFailed, Attempts: 3},
		{ID: "c", Status: FeaturePending},
	}

	if sess.AllFeaturesTerminal() {
		t.Error("AllFeaturesTerminal should be false with a pending feature")
	}
	if sess.AllFeaturesCompleted() {
		t.Error("AllFeaturesCompleted should be false")
	}

	sess.Features[2].Status = FeatureCompleted
	if !sess.AllFeaturesTerminal() {
		t.Error("AllFeaturesTerminal should be true")
	}
	if sess.AllFeaturesCompleted() {
		t.Error("AllFeaturesCompleted should still be false with a failure")
	}

	counts := sess.CountByStatus()
	if counts[FeatureCompleted] != 2 || counts[FeatureFailed] != 1 {
		t.Errorf("CountByStatus = %v", counts)
	}
	if sess.TotalAttempts() != 4 {
		t.Errorf("TotalAttempts = %d, want 4", sess.TotalAttempts())
	}
}

func TestSessionLiveWorkers(t *testing.T) {
	sess := NewSession("/tmp/proj", "t")
	sess.Workers = []*Worker{
		{SessionName: "overseer-a", Status: WorkerRunning},
		{SessionName: "overseer-b", Status: WorkerCompleted},
	}
	sess.ReviewWorkers = []*Worker{
		{SessionName: "overseer-review-code", Status: WorkerRunning},
	}

	live := sess.LiveWorkers()
	if len(live) != 2 {
		t.Fatalf("LiveWorkers = %d, want 2", len(live))
	}
	if sess.Worker("overseer-review-code") == nil {
		t.Error("Worker lookup should include review workers")
	}
}

func TestCompetingPlansWinningPlan(t *testing.T) {
	cp := &CompetingPlans{
		PlanA: &Plan{Summary: "a"},
		PlanB: &Plan{Summary: "b"},
	}
	if cp.WinningPlan() != nil {
		t.Error("WinningPlan should be nil before evaluation")
	}
	cp.Winner = "B"
	if got := cp.WinningPlan(); got == nil || got.Summary != "b" {
		t.Errorf("WinningPlan = %+v, want plan B", got)
	}
}
