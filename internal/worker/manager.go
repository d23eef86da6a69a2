// Package worker manages the external code-agent subprocesses doing the
// actual work: spawning them into named terminal sessions, watching their
// heartbeats and completion side-files, and killing them on demand.
package worker

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"overseer/internal/errors"
	"overseer/internal/logging"
	"overseer/internal/state"
	"overseer/internal/term"
	"overseer/internal/util"
)

// sessionPrefix namespaces every session the engine owns.
const sessionPrefix = "overseer-"

// ReviewType selects what a review worker examines.
type ReviewType string

const (
	ReviewCode         ReviewType = "code"
	ReviewArchitecture ReviewType = "architecture"
)

// Config tunes the worker manager.
type Config struct {
	AgentCommand       string        // default "claude"
	AgentArgs          []string      // default {"--dangerously-skip-permissions"}
	MonitorPeriod      time.Duration // default 5s
	HeartbeatTailLines int           // default 200
}

// DefaultConfig returns the shipped worker defaults.
func DefaultConfig() Config {
	return Config{
		AgentCommand:       "claude",
		AgentArgs:          []string{"--dangerously-skip-permissions"},
		MonitorPeriod:      5 * time.Second,
		HeartbeatTailLines: 200,
	}
}

func (c *Config) fillDefaults() {
	d := DefaultConfig()
	if c.AgentCommand == "" {
		c.AgentCommand = d.AgentCommand
		if c.AgentArgs == nil {
			c.AgentArgs = d.AgentArgs
		}
	}
	if c.MonitorPeriod <= 0 {
		c.MonitorPeriod = d.MonitorPeriod
	}
	if c.HeartbeatTailLines <= 0 {
		c.HeartbeatTailLines = d.HeartbeatTailLines
	}
}

// Event is one completion-monitor transition, reported at most once per
// worker.
type Event struct {
	SessionName string
	FeatureID   string
	Role        state.WorkerRole
	Status      state.WorkerStatus // completed or crashed
}

// Manager spawns and supervises worker sessions. Session-document
// mutations happen on the *state.Session the caller passes in; persisting
// the document is the caller's job.
type Manager struct {
	layout  state.Layout
	adapter term.Adapter
	cfg     Config
	logger  *logging.Logger

	mu sync.Mutex
	// reported suppresses duplicate completion-monitor transitions.
	reported map[string]bool
	// filesModified accumulates per-session file sets from tool markers.
	filesModified map[string]map[string]bool
	onTransition  func(Event)
}

// NewManager returns a Manager over the given adapter and project layout.
func NewManager(layout state.Layout, adapter term.Adapter, cfg Config, logger *logging.Logger) *Manager {
	if logger == nil {
		logger = logging.NopLogger()
	}
	cfg.fillDefaults()
	return &Manager{
		layout:        layout,
		adapter:       adapter,
		cfg:           cfg,
		logger:        logger,
		reported:      make(map[string]bool),
		filesModified: make(map[string]map[string]bool),
	}
}

// OnTransition registers the callback the completion monitor reports
// through.
func (m *Manager) OnTransition(cb func(Event)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.onTransition = cb
}

// SessionName returns the terminal session name for a worker key.
func SessionName(key string) string { return sessionPrefix + key }

// agentArgv builds the argv for the external code agent. The prompt always
// travels through a file so no user text crosses a shell boundary.
func (m *Manager) agentArgv(promptPath, modelHint string) []string {
	argv := append([]string{m.cfg.AgentCommand}, m.cfg.AgentArgs...)
	if modelHint != "" {
		argv = append(argv, "--model", modelHint)
	}
	return append(argv, "--prompt-file", promptPath)
}

// spawn writes the prompt file and creates the session. Nothing in the
// session document is touched until the spawn has succeeded.
func (m *Manager) spawn(ctx context.Context, key, prompt, modelHint, cwd string) (string, error) {
	name := SessionName(key)
	if m.adapter.SessionExists(name) {
		return "", errors.NewWorkerError("worker session already running", errors.ErrWorkerAlreadyRunning).
			WithSessionName(name)
	}

	promptPath := m.layout.WorkerPromptPath(key)
	if err := os.MkdirAll(filepath.Dir(promptPath), 0755); err != nil {
		return "", errors.Wrap(err, "failed to create workers directory")
	}
	if err := util.AtomicWriteFile(promptPath, []byte(prompt), 0600); err != nil {
		return "", errors.Wrap(err, "failed to write prompt file")
	}

	// A done file left over from an earlier attempt would read as an
	// instant completion.
	if err := os.Remove(m.layout.WorkerDonePath(key)); err != nil && !os.IsNotExist(err) {
		return "", errors.Wrap(err, "failed to clear stale done file")
	}

	if err := m.adapter.SpawnSession(ctx, name, cwd, m.agentArgv(promptPath, modelHint)); err != nil {
		return "", errors.NewWorkerError("failed to spawn worker session", err).WithSessionName(name)
	}

	m.mu.Lock()
	delete(m.reported, name)
	delete(m.filesModified, name)
	m.mu.Unlock()
	return name, nil
}

// addWorker records the worker on the session document and flips the
// feature into in_progress.
func addWorker(sess *state.Session, f *state.Feature, name string, role state.WorkerRole) {
	now := state.Timestamp()
	sess.Workers = append(sess.Workers, &state.Worker{
		SessionName: name,
		FeatureID:   f.ID,
		Role:        role,
		Status:      state.WorkerRunning,
		StartedAt:   now,
		LastSeenAt:  now,
	})
	f.WorkerID = name
	f.StartedAt = now
	f.Status = state.FeatureInProgress
}

// StartWorker spawns an implementor for a pending feature. Attempts are
// incremented here and only here.
func (m *Manager) StartWorker(ctx context.Context, sess *state.Session, featureID, customPrompt, modelHint string) (string, error) {
	f := sess.Feature(featureID)
	if f == nil {
		return "", errors.NewNotFoundError("feature", featureID).WithCause(errors.ErrFeatureNotFound)
	}
	if f.Status == state.FeatureInProgress {
		return "", errors.NewWorkerError("feature already has a running worker", errors.ErrWorkerAlreadyRunning).
			WithFeatureID(featureID)
	}

	prompt := buildImplementorPrompt(m.layout, f, customPrompt)
	name, err := m.spawn(ctx, f.ID, prompt, modelHint, sess.ProjectDir)
	if err != nil {
		return "", err
	}

	addWorker(sess, f, name, state.RoleImplementor)
	f.Attempts++
	m.logger.Info("worker started", "feature", f.ID, "session", name, "attempt", f.Attempts)
	return name, nil
}

// StartPlannerWorker spawns one of the two competitive planners. Planner
// sessions are keyed <featureId>-planner-<a|b> and do not touch attempts.
func (m *Manager) StartPlannerWorker(ctx context.Context, sess *state.Session, featureID string, role state.WorkerRole, customPrompt string) (string, error) {
	f := sess.Feature(featureID)
	if f == nil {
		return "", errors.NewNotFoundError("feature", featureID).WithCause(errors.ErrFeatureNotFound)
	}

	var key, approach string
	switch role {
	case state.RolePlannerA:
		key, approach = f.ID+"-planner-a", "A"
	case state.RolePlannerB:
		key, approach = f.ID+"-planner-b", "B"
	default:
		return "", errors.NewValidationError("planner role must be plannerA or plannerB").
			WithField("role").WithValue(string(role))
	}

	prompt := buildPlannerPrompt(m.layout, f, approach, customPrompt)
	name, err := m.spawn(ctx, key, prompt, "", sess.ProjectDir)
	if err != nil {
		return "", err
	}

	now := state.Timestamp()
	sess.Workers = append(sess.Workers, &state.Worker{
		SessionName: name,
		FeatureID:   f.ID,
		Role:        role,
		Status:      state.WorkerRunning,
		StartedAt:   now,
		LastSeenAt:  now,
	})
	m.logger.Info("planner started", "feature", f.ID, "session", name, "approach", approach)
	return name, nil
}

// StartVotingWorker spawns a redundant implementor for a voter feature.
func (m *Manager) StartVotingWorker(ctx context.Context, sess *state.Session, featureID string, customPrompt string) (string, error) {
	f := sess.Feature(featureID)
	if f == nil {
		return "", errors.NewNotFoundError("feature", featureID).WithCause(errors.ErrFeatureNotFound)
	}
	if f.VotingRole == "" {
		return "", errors.NewValidationError("feature is not a voter clone").
			WithField("featureId").WithValue(featureID)
	}

	prompt := buildVotingPrompt(m.layout, f, customPrompt)
	name, err := m.spawn(ctx, f.ID, prompt, "", sess.ProjectDir)
	if err != nil {
		return "", err
	}

	addWorker(sess, f, name, f.VotingRole)
	f.Attempts++
	m.logger.Info("voting worker started", "feature", f.ID, "session", name, "role", string(f.VotingRole))
	return name, nil
}

// StartReviewWorker spawns a session-wide reviewer. Review workers are
// keyed review-<type> and recorded separately from feature workers.
func (m *Manager) StartReviewWorker(ctx context.Context, sess *state.Session, kind ReviewType) (string, error) {
	var role state.WorkerRole
	switch kind {
	case ReviewCode:
		role = state.RoleCodeReviewer
	case ReviewArchitecture:
		role = state.RoleArchReviewer
	default:
		return "", errors.NewValidationError("review type must be code or architecture").
			WithField("type").WithValue(string(kind))
	}

	key := "review-" + string(kind)
	prompt := buildReviewPrompt(m.layout, sess, kind)
	name, err := m.spawn(ctx, key, prompt, "", sess.ProjectDir)
	if err != nil {
		return "", err
	}

	now := state.Timestamp()
	sess.ReviewWorkers = append(sess.ReviewWorkers, &state.Worker{
		SessionName: name,
		FeatureID:   key,
		Role:        role,
		Status:      state.WorkerRunning,
		StartedAt:   now,
		LastSeenAt:  now,
	})
	m.logger.Info("review worker started", "session", name, "type", string(kind))
	return name, nil
}

// CheckResult is the outcome of checking one worker session.
type CheckResult struct {
	SessionName string             `json:"sessionName"`
	Status      state.WorkerStatus `json:"status"`
	Output      string             `json:"output,omitempty"`
	// TotalLines is the line count of the full capture window, before any
	// sinceLine trim. Callers pass it back as sinceLine for incremental reads.
	TotalLines int `json:"totalLines,omitempty"`
}

// CheckWorker returns the worker's live status and the last n lines of its
// session output. A positive sinceLine skips that many leading lines of the
// capture window, so pollers only see new output. The full capture is
// mirrored to the worker's log file.
func (m *Manager) CheckWorker(sess *state.Session, sessionName string, lastN, sinceLine int) (*CheckResult, error) {
	w := sess.Worker(sessionName)
	if w == nil {
		return nil, errors.NewNotFoundError("worker", sessionName).WithCause(errors.ErrWorkerNotFound)
	}
	if lastN <= 0 {
		lastN = m.cfg.HeartbeatTailLines
	}

	if !m.adapter.SessionExists(sessionName) {
		status := state.WorkerCrashed
		if m.doneFileExists(w.FeatureID) {
			status = state.WorkerCompleted
		}
		return &CheckResult{SessionName: sessionName, Status: status}, nil
	}

	output, err := m.adapter.Capture(sessionName, lastN)
	if err != nil {
		return nil, err
	}
	w.LastSeenAt = state.Timestamp()

	// Best-effort tail mirror for later inspection.
	if err := util.AtomicWriteFile(m.layout.WorkerLogPath(w.FeatureID), []byte(output), 0600); err != nil {
		m.logger.Warn("failed to mirror worker log", "session", sessionName, "error", err.Error())
	}

	total := util.CountLines(output)
	if sinceLine > 0 {
		output = dropLines(output, sinceLine)
	}

	return &CheckResult{
		SessionName: sessionName,
		Status:      state.WorkerRunning,
		Output:      output,
		TotalLines:  total,
	}, nil
}

// dropLines removes the first n lines of s. Past the end it returns "".
func dropLines(s string, n int) string {
	for ; n > 0; n-- {
		i := strings.IndexByte(s, '\n')
		if i < 0 {
			return ""
		}
		s = s[i+1:]
	}
	return s
}

// CheckAllWorkers returns the status vector for every recorded worker.
func (m *Manager) CheckAllWorkers(sess *state.Session) []CheckResult {
	all := append(append([]*state.Worker{}, sess.Workers...), sess.ReviewWorkers...)
	out := make([]CheckResult, 0, len(all))
	for _, w := range all {
		status := w.Status
		if status == state.WorkerRunning && !m.adapter.SessionExists(w.SessionName) {
			if m.doneFileExists(w.FeatureID) {
				status = state.WorkerCompleted
			} else {
				status = state.WorkerCrashed
			}
		}
		out = append(out, CheckResult{SessionName: w.SessionName, Status: status})
	}
	return out
}

// SendMessage types an instruction into a live worker session followed by
// Enter. Missing sessions error without mutating anything.
func (m *Manager) SendMessage(sessionName, text string) error {
	if !m.adapter.SessionExists(sessionName) {
		return errors.NewWorkerError("cannot message a dead session", errors.ErrSessionMissing).
			WithSessionName(sessionName)
	}
	return m.adapter.SendKeys(sessionName, text, true)
}

// KillWorker kills one session. Pending completion-monitor reports for the
// worker are discarded.
func (m *Manager) KillWorker(sess *state.Session, sessionName string) error {
	if err := m.adapter.Kill(sessionName); err != nil {
		return err
	}

	m.mu.Lock()
	m.reported[sessionName] = true
	m.mu.Unlock()

	if w := sess.Worker(sessionName); w != nil {
		w.Status = state.WorkerCompleted
		w.LastSeenAt = state.Timestamp()
	}
	m.logger.Info("worker killed", "session", sessionName)
	return nil
}

// KillAllWorkers kills every live worker, keeping going past individual
// failures. Returns the first error encountered, if any.
func (m *Manager) KillAllWorkers(sess *state.Session) error {
	var firstErr error
	for _, w := range sess.LiveWorkers() {
		if err := m.KillWorker(sess, w.SessionName); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// CheckCompletions scans every live worker for completion or crash and
// reports each transition exactly once through the registered callback.
// The returned events are the transitions found in this scan.
func (m *Manager) CheckCompletions(sess *state.Session) []Event {
	var events []Event

	for _, w := range sess.LiveWorkers() {
		// A done file marks completion on its own; the agent's terminal
		// session may well still be sitting at an interactive prompt.
		done := m.doneFileExists(w.FeatureID)
		if !done && m.adapter.SessionExists(w.SessionName) {
			continue
		}

		status := state.WorkerCrashed
		if done {
			status = state.WorkerCompleted
		}
		w.Status = status
		w.LastSeenAt = state.Timestamp()

		m.mu.Lock()
		already := m.reported[w.SessionName]
		if !already {
			m.reported[w.SessionName] = true
		}
		cb := m.onTransition
		m.mu.Unlock()
		if already {
			continue
		}

		ev := Event{
			SessionName: w.SessionName,
			FeatureID:   w.FeatureID,
			Role:        w.Role,
			Status:      status,
		}
		events = append(events, ev)
		if cb != nil {
			cb(ev)
		}
		m.logger.Info("worker transition", "session", w.SessionName, "status", string(status))
	}
	return events
}

// RunMonitor calls scan on the configured period until stop is closed.
func (m *Manager) RunMonitor(stop <-chan struct{}, scan func()) {
	ticker := time.NewTicker(m.cfg.MonitorPeriod)
	defer ticker.Stop()
	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			scan()
		}
	}
}

// ReadPlanFile returns a planner's plan output, or nil when absent.
func (m *Manager) ReadPlanFile(featureID string) (*state.Plan, error) {
	var plan state.Plan
	err := util.ReadJSONFile(m.layout.WorkerPlanPath(featureID), &plan)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, errors.Wrap(err, "failed to read plan file")
	}
	return &plan, nil
}

// ReadDoneFile returns the contents of a worker's completion side-file.
func (m *Manager) ReadDoneFile(key string) (string, error) {
	data, err := os.ReadFile(m.layout.WorkerDonePath(key))
	if err != nil {
		if os.IsNotExist(err) {
			return "", nil
		}
		return "", errors.Wrap(err, "failed to read done file")
	}
	return strings.TrimSpace(string(data)), nil
}

func (m *Manager) doneFileExists(key string) bool {
	_, err := os.Stat(m.layout.WorkerDonePath(key))
	return err == nil
}

// WorkerLogTail returns the last n lines of the mirrored worker log file.
func (m *Manager) WorkerLogTail(featureID string, n int) string {
	data, err := os.ReadFile(m.layout.WorkerLogPath(featureID))
	if err != nil {
		return ""
	}
	return util.TailLines(string(data), n)
}
