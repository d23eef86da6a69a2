// Package state implements the durable, crash-safe record of an orchestration
// session: features, workers, progress log, and session status. One session
// document exists per project directory, persisted as pretty-printed JSON with
// atomic writes.
package state

import (
	"encoding/json"
	"fmt"
	"regexp"
	"time"

	"overseer/internal/util"
)

// SessionStatus is the top-level state of an orchestration session.
type SessionStatus string

const (
	SessionInProgress            SessionStatus = "in_progress"
	SessionPaused                SessionStatus = "paused"
	SessionReviewing             SessionStatus = "reviewing"
	SessionCompleted             SessionStatus = "completed"
	SessionCompletedWithFailures SessionStatus = "completed_with_failures"
)

// IsTerminal reports whether the session has finished and can be replaced
// by a new one.
func (s SessionStatus) IsTerminal() bool {
	return s == SessionCompleted || s == SessionCompletedWithFailures
}

// FeatureStatus is the lifecycle state of a single feature.
type FeatureStatus string

const (
	FeaturePending    FeatureStatus = "pending"
	FeatureInProgress FeatureStatus = "in_progress"
	FeatureCompleted  FeatureStatus = "completed"
	FeatureFailed     FeatureStatus = "failed"
)

// IsTerminal reports whether the feature has reached a final state.
func (s FeatureStatus) IsTerminal() bool {
	return s == FeatureCompleted || s == FeatureFailed
}

// WorkerStatus is the observed state of a worker subprocess.
type WorkerStatus string

const (
	WorkerRunning   WorkerStatus = "running"
	WorkerCompleted WorkerStatus = "completed"
	WorkerCrashed   WorkerStatus = "crashed"
	WorkerUnknown   WorkerStatus = "unknown"
)

// WorkerRole identifies what a worker was spawned to do.
type WorkerRole string

const (
	RoleImplementor  WorkerRole = "implementor"
	RolePlannerA     WorkerRole = "plannerA"
	RolePlannerB     WorkerRole = "plannerB"
	RoleCodeReviewer WorkerRole = "codeReviewer"
	RoleArchReviewer WorkerRole = "archReviewer"
)

// VoterRole returns the role string for the k-th voting worker (1-based).
func VoterRole(k int) WorkerRole {
	return WorkerRole(fmt.Sprintf("voter-%d", k))
}

// PlanningPhase tracks a feature's progress through competitive planning.
type PlanningPhase string

const (
	PhasePlanning     PlanningPhase = "planning"
	PhaseEvaluating   PlanningPhase = "evaluating"
	PhaseImplementing PlanningPhase = "implementing"
)

// idPattern matches valid feature/protocol/proposal identifiers.
var idPattern = regexp.MustCompile(`^[A-Za-z0-9_-]+$`)

// ValidateID checks that an identifier contains only the permitted
// characters and is non-empty.
func ValidateID(id string) error {
	if !idPattern.MatchString(id) {
		return fmt.Errorf("invalid identifier %q: must match [A-Za-z0-9_-]+", id)
	}
	return nil
}

// Timestamp returns the current time as an ISO-8601 UTC string. All
// timestamps in the state document use this format, which makes
// lexicographic ordering equivalent to chronological ordering.
func Timestamp() string {
	return time.Now().UTC().Format(time.RFC3339)
}

// Plan is the structured output a planner worker writes to its plan file.
type Plan struct {
	FeatureID           string   `json:"featureId,omitempty"`
	Approach            string   `json:"approach,omitempty"`
	Summary             string   `json:"summary"`
	Steps               []string `json:"steps,omitempty"`
	Risks               []string `json:"risks,omitempty"`
	Files               []string `json:"files,omitempty"`
	EstimatedComplexity int      `json:"estimatedComplexity,omitempty"`
}

// CompetingPlans records both planner outputs and the evaluation outcome
// for a feature that went through competitive planning.
type CompetingPlans struct {
	PlanA           *Plan  `json:"planA,omitempty"`
	PlanB           *Plan  `json:"planB,omitempty"`
	Winner          string `json:"winner,omitempty"` // "A" or "B"
	ScoreA          int    `json:"scoreA,omitempty"`
	ScoreB          int    `json:"scoreB,omitempty"`
	SelectionReason string `json:"selectionReason,omitempty"`
}

// WinningPlan returns the plan selected by evaluation, or nil if
// evaluation has not happened yet.
func (c *CompetingPlans) WinningPlan() *Plan {
	switch c.Winner {
	case "A":
		return c.PlanA
	case "B":
		return c.PlanB
	default:
		return nil
	}
}

// FeatureContext is enrichment data attached to a feature by the caller.
// The core treats it as opaque payload with a fixed shape.
type FeatureContext struct {
	Documentation []string `json:"documentation,omitempty"`
	Files         []string `json:"files,omitempty"`
	Notes         string   `json:"notes,omitempty"`
}

// Routing is an advisory model-routing hint for a feature.
type Routing struct {
	Model  string `json:"model,omitempty"`
	Reason string `json:"reason,omitempty"`
}

// Feature is a unit of work within a session.
type Feature struct {
	ID          string        `json:"id"`
	Description string        `json:"description"`
	Status      FeatureStatus `json:"status"`
	Attempts    int           `json:"attempts"`
	DependsOn   []string      `json:"dependsOn,omitempty"`
	WorkerID    string        `json:"workerId,omitempty"`
	StartedAt   string        `json:"startedAt,omitempty"`
	CompletedAt string        `json:"completedAt,omitempty"`
	LastError   string        `json:"lastError,omitempty"`
	Complexity  int           `json:"complexity,omitempty"`

	PlanningPhase  PlanningPhase   `json:"planningPhase,omitempty"`
	CompetingPlans *CompetingPlans `json:"competingPlans,omitempty"`

	VotingGroup  string     `json:"votingGroup,omitempty"`
	VotingRole   WorkerRole `json:"votingRole,omitempty"`
	VotingScore  *int       `json:"votingScore,omitempty"`
	VotingWinner string     `json:"votingWinner,omitempty"`

	Context          *FeatureContext `json:"context,omitempty"`
	ProtocolBindings []string        `json:"protocolBindings,omitempty"`
	Routing          *Routing        `json:"routing,omitempty"`

	// Advisory annotations; never consulted by scheduling or enforcement.
	GitVerification  json.RawMessage `json:"gitVerification,omitempty"`
	Validation       json.RawMessage `json:"validation,omitempty"`
	ValidationResult json.RawMessage `json:"validationResult,omitempty"`
}

// Worker is the record of one external worker subprocess running in a
// named terminal session.
type Worker struct {
	SessionName string       `json:"sessionName"`
	FeatureID   string       `json:"featureId"`
	Role        WorkerRole   `json:"role"`
	Status      WorkerStatus `json:"status"`
	StartedAt   string       `json:"startedAt"`
	LastSeenAt  string       `json:"lastSeenAt"`
}

// ReviewConfig controls the post-completion review phase.
type ReviewConfig struct {
	Enabled       bool     `json:"enabled"`
	Types         []string `json:"types,omitempty"` // "code", "architecture"
	AutoImplement bool     `json:"autoImplement,omitempty"`
}

// ReviewSuggestion is one finding produced by a review worker.
type ReviewSuggestion struct {
	Source      string `json:"source"` // "code" or "architecture"
	Severity    string `json:"severity"`
	Description string `json:"description"`
	File        string `json:"file,omitempty"`
}

// AggregatedReview is the merged output of all review workers. It is set
// only once every review worker has reached a terminal state.
type AggregatedReview struct {
	Summary     string             `json:"summary"`
	Suggestions []ReviewSuggestion `json:"suggestions,omitempty"`
	CreatedAt   string             `json:"createdAt"`
}

// ConfidenceConfig controls advisory confidence alerting.
type ConfidenceConfig struct {
	Enabled   bool    `json:"enabled"`
	Threshold float64 `json:"threshold,omitempty"`
}

// ConfidenceAlert is an advisory alert raised for a feature.
type ConfidenceAlert struct {
	FeatureID string `json:"featureId"`
	Level     string `json:"level"`
	Message   string `json:"message"`
	Timestamp string `json:"timestamp"`
}

// Session is the single in-flight or terminal record of one orchestration
// run in a project directory.
type Session struct {
	ProjectDir      string        `json:"projectDir"`
	TaskDescription string        `json:"taskDescription"`
	Status          SessionStatus `json:"status"`
	StartTime       string        `json:"startTime"`
	LastUpdated     string        `json:"lastUpdated"`
	CompletedAt     string        `json:"completedAt,omitempty"`

	Features    []*Feature `json:"features"`
	Workers     []*Worker  `json:"workers"`
	ProgressLog []string   `json:"progressLog"`

	ReviewConfig     *ReviewConfig     `json:"reviewConfig,omitempty"`
	ReviewWorkers    []*Worker         `json:"reviewWorkers,omitempty"`
	AggregatedReview *AggregatedReview `json:"aggregatedReview,omitempty"`

	ConfidenceConfig *ConfidenceConfig `json:"confidenceConfig,omitempty"`
	ConfidenceAlerts []ConfidenceAlert `json:"confidenceAlerts,omitempty"`
}

// NewSession creates a fresh in_progress session for a project directory.
func NewSession(projectDir, task string) *Session {
	now := Timestamp()
	return &Session{
		ProjectDir:      projectDir,
		TaskDescription: task,
		Status:          SessionInProgress,
		StartTime:       now,
		LastUpdated:     now,
		Features:        make([]*Feature, 0),
		Workers:         make([]*Worker, 0),
		ProgressLog:     make([]string, 0),
	}
}

// Feature returns the feature with the given id, or nil.
func (s *Session) Feature(id string) *Feature {
	for _, f := range s.Features {
		if f.ID == id {
			return f
		}
	}
	return nil
}

// Worker returns the worker with the given terminal session name, or nil.
// Review workers are included in the search.
func (s *Session) Worker(sessionName string) *Worker {
	for _, w := range s.Workers {
		if w.SessionName == sessionName {
			return w
		}
	}
	for _, w := range s.ReviewWorkers {
		if w.SessionName == sessionName {
			return w
		}
	}
	return nil
}

// LiveWorkers returns all workers (including review workers) whose status
// is still running.
func (s *Session) LiveWorkers() []*Worker {
	var live []*Worker
	for _, w := range s.Workers {
		if w.Status == WorkerRunning {
			live = append(live, w)
		}
	}
	for _, w := range s.ReviewWorkers {
		if w.Status == WorkerRunning {
			live = append(live, w)
		}
	}
	return live
}

// AddFeature appends a feature after checking id uniqueness and format.
func (s *Session) AddFeature(f *Feature) error {
	if err := ValidateID(f.ID); err != nil {
		return err
	}
	if s.Feature(f.ID) != nil {
		return fmt.Errorf("feature %q already exists", f.ID)
	}
	s.Features = append(s.Features, f)
	return nil
}

// AddProgress appends a timestamped, sanitised line to the progress log.
// Newlines and control characters are stripped before storage.
func (s *Session) AddProgress(msg string) {
	line := fmt.Sprintf("[%s] %s", Timestamp(), util.SanitizeLine(msg))
	s.ProgressLog = append(s.ProgressLog, line)
}

// Touch updates the LastUpdated timestamp.
func (s *Session) Touch() {
	s.LastUpdated = Timestamp()
}

// AllFeaturesTerminal reports whether every feature is completed or failed.
// An empty feature list counts as terminal.
func (s *Session) AllFeaturesTerminal() bool {
	for _, f := range s.Features {
		if !f.Status.IsTerminal() {
			return false
		}
	}
	return true
}

// AllFeaturesCompleted reports whether every feature completed successfully.
func (s *Session) AllFeaturesCompleted() bool {
	for _, f := range s.Features {
		if f.Status != FeatureCompleted {
			return false
		}
	}
	return true
}

// CountByStatus returns the number of features in each status.
func (s *Session) CountByStatus() map[FeatureStatus]int {
	counts := make(map[FeatureStatus]int)
	for _, f := range s.Features {
		counts[f.Status]++
	}
	return counts
}

// TotalAttempts returns the sum of attempts across all features.
func (s *Session) TotalAttempts() int {
	total := 0
	for _, f := range s.Features {
		total += f.Attempts
	}
	return total
}
