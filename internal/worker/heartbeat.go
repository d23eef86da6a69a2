package worker

import (
	"sort"
	"strings"
	"time"

	"overseer/internal/errors"
	"overseer/internal/state"
	"overseer/internal/util"
)

// toolMarker is the prefix workers are instructed to print before tool use.
const toolMarker = "[tool]"

// Heartbeat is a point-in-time activity snapshot of one worker, built from
// the tail of its session output.
type Heartbeat struct {
	SessionName   string             `json:"sessionName"`
	FeatureID     string             `json:"featureId"`
	Role          state.WorkerRole   `json:"role"`
	Status        state.WorkerStatus `json:"status"`
	LastToolUsed  string             `json:"lastToolUsed,omitempty"`
	LastFile      string             `json:"lastFile,omitempty"`
	LastActivity  string             `json:"lastActivity,omitempty"`
	FilesModified []string           `json:"filesModified,omitempty"`
	OutputLines   int                `json:"outputLines"`
	RunningFor    string             `json:"runningFor,omitempty"`
}

// parseToolMarkers extracts (tool, file) pairs from marker lines in a
// capture. Lines that do not start with the marker are ignored.
func parseToolMarkers(output string) (lastTool, lastFile string, files []string) {
	seen := make(map[string]bool)
	for _, line := range strings.Split(output, "\n") {
		line = strings.TrimSpace(line)
		if !strings.HasPrefix(line, toolMarker) {
			continue
		}
		fields := strings.Fields(strings.TrimPrefix(line, toolMarker))
		if len(fields) == 0 {
			continue
		}
		lastTool = fields[0]
		if len(fields) > 1 {
			lastFile = fields[1]
			if !seen[lastFile] {
				seen[lastFile] = true
				files = append(files, lastFile)
			}
		}
	}
	return lastTool, lastFile, files
}

// runningFor renders the elapsed time since an RFC3339 start timestamp.
func runningFor(startedAt string) string {
	t, err := time.Parse(time.RFC3339, startedAt)
	if err != nil {
		return ""
	}
	return time.Since(t).Truncate(time.Second).String()
}

// WorkerHeartbeat builds the activity snapshot for one worker. The
// per-session modified-file set persists across calls, so files scrolled
// out of the capture window stay counted.
func (m *Manager) WorkerHeartbeat(sess *state.Session, sessionName string) (*Heartbeat, error) {
	w := sess.Worker(sessionName)
	if w == nil {
		return nil, errors.NewNotFoundError("worker", sessionName).WithCause(errors.ErrWorkerNotFound)
	}

	hb := &Heartbeat{
		SessionName: sessionName,
		FeatureID:   w.FeatureID,
		Role:        w.Role,
		Status:      w.Status,
		RunningFor:  runningFor(w.StartedAt),
	}

	if !m.adapter.SessionExists(sessionName) {
		if m.doneFileExists(w.FeatureID) {
			hb.Status = state.WorkerCompleted
		} else {
			hb.Status = state.WorkerCrashed
		}
		hb.FilesModified = m.knownFiles(sessionName)
		return hb, nil
	}

	output, err := m.adapter.Capture(sessionName, m.cfg.HeartbeatTailLines)
	if err != nil {
		return nil, err
	}

	w.LastSeenAt = state.Timestamp()
	hb.Status = state.WorkerRunning
	hb.LastActivity = w.LastSeenAt
	hb.OutputLines = util.CountLines(output)

	lastTool, lastFile, files := parseToolMarkers(output)
	hb.LastToolUsed = lastTool
	hb.LastFile = lastFile

	m.mu.Lock()
	set := m.filesModified[sessionName]
	if set == nil {
		set = make(map[string]bool)
		m.filesModified[sessionName] = set
	}
	for _, f := range files {
		set[f] = true
	}
	m.mu.Unlock()
	hb.FilesModified = m.knownFiles(sessionName)

	return hb, nil
}

// AllHeartbeats snapshots every recorded worker, skipping none. Errors on
// individual captures degrade that entry to status unknown rather than
// failing the sweep.
func (m *Manager) AllHeartbeats(sess *state.Session) []*Heartbeat {
	all := append(append([]*state.Worker{}, sess.Workers...), sess.ReviewWorkers...)
	out := make([]*Heartbeat, 0, len(all))
	for _, w := range all {
		hb, err := m.WorkerHeartbeat(sess, w.SessionName)
		if err != nil {
			hb = &Heartbeat{
				SessionName: w.SessionName,
				FeatureID:   w.FeatureID,
				Role:        w.Role,
				Status:      state.WorkerUnknown,
			}
			m.logger.Warn("heartbeat failed", "session", w.SessionName, "error", err.Error())
		}
		out = append(out, hb)
	}
	return out
}

// knownFiles returns the sorted persistent file set for a session.
func (m *Manager) knownFiles(sessionName string) []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	set := m.filesModified[sessionName]
	if len(set) == 0 {
		return nil
	}
	files := make([]string, 0, len(set))
	for f := range set {
		files = append(files, f)
	}
	sort.Strings(files)
	return files
}
