package state

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"sync"

	"overseer/internal/logging"
	"overseer/internal/util"
)

// stateFileMode is the mode for every engine-owned state document.
const stateFileMode = 0600

// Store persists the session document for one project directory. All writes
// are atomic (temp + fsync + rename) so the state file is never observable
// half-written. A corrupted state file is treated as "no session": logged
// once, never fatal, so a crashed session can always be re-initialised.
type Store struct {
	layout Layout
	logger *logging.Logger

	mu            sync.Mutex
	corruptLogged bool
}

// NewStore creates a Store rooted at the given project directory. The engine
// directory is created if it does not exist.
func NewStore(projectDir string, logger *logging.Logger) (*Store, error) {
	if err := ValidateProjectDir(projectDir); err != nil {
		return nil, err
	}
	if logger == nil {
		logger = logging.NopLogger()
	}

	layout := NewLayout(projectDir)
	if err := layout.EnsureRoot(); err != nil {
		return nil, err
	}

	return &Store{
		layout: layout,
		logger: logger,
	}, nil
}

// Layout returns the path layout this store writes under.
func (s *Store) Layout() Layout {
	return s.layout
}

// Load reads the session document. It returns (nil, nil) when no session
// exists or the state file is corrupted; corruption is logged once.
func (s *Store) Load() (*Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	data, err := os.ReadFile(s.layout.StatePath())
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to read state file: %w", err)
	}

	var sess Session
	if err := json.Unmarshal(data, &sess); err != nil {
		if !s.corruptLogged {
			s.logger.Warn("state file corrupted, treating as no session",
				"path", s.layout.StatePath(), "error", err.Error())
			s.corruptLogged = true
		}
		return nil, nil
	}

	s.corruptLogged = false
	return &sess, nil
}

// Save persists the session document atomically and refreshes the
// human-readable progress mirror. LastUpdated is stamped before writing.
func (s *Store) Save(sess *Session) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	sess.Touch()

	if err := util.WriteJSONFile(s.layout.StatePath(), sess, stateFileMode); err != nil {
		return fmt.Errorf("failed to save state: %w", err)
	}

	// The progress mirror is best-effort; a failure never fails the save.
	if err := s.writeProgress(sess); err != nil {
		s.logger.Warn("failed to write progress file", "error", err.Error())
	}

	return nil
}

// Exists reports whether a state file is present (readable or not).
func (s *Store) Exists() bool {
	_, err := os.Stat(s.layout.StatePath())
	return err == nil
}

// Clear removes the session document and its side files. Worker side files
// are removed too so a new session starts from a clean directory. Missing
// files are not errors.
func (s *Store) Clear() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	paths := []string{
		s.layout.StatePath(),
		s.layout.ProgressPath(),
		s.layout.InitScriptPath(),
	}
	for _, p := range paths {
		if err := os.Remove(p); err != nil && !os.IsNotExist(err) {
			return fmt.Errorf("failed to remove %s: %w", p, err)
		}
	}

	if err := os.RemoveAll(s.layout.WorkersDir()); err != nil {
		return fmt.Errorf("failed to clear workers directory: %w", err)
	}
	if err := os.MkdirAll(s.layout.WorkersDir(), 0755); err != nil {
		return fmt.Errorf("failed to recreate workers directory: %w", err)
	}

	s.corruptLogged = false
	return nil
}

// writeProgress renders the human-readable mirror of the session. The caller
// must hold the mutex.
func (s *Store) writeProgress(sess *Session) error {
	var b strings.Builder

	fmt.Fprintf(&b, "Task: %s\n", sess.TaskDescription)
	fmt.Fprintf(&b, "Status: %s\n", sess.Status)
	fmt.Fprintf(&b, "Started: %s\n", sess.StartTime)
	fmt.Fprintf(&b, "Updated: %s\n", sess.LastUpdated)
	if sess.CompletedAt != "" {
		fmt.Fprintf(&b, "Completed: %s\n", sess.CompletedAt)
	}

	b.WriteString("\nFeatures:\n")
	for _, f := range sess.Features {
		fmt.Fprintf(&b, "  %s %s: %s", statusMark(f.Status), f.ID,
			util.TruncateString(f.Description, 80))
		if f.Attempts > 1 {
			fmt.Fprintf(&b, " (attempt %d)", f.Attempts)
		}
		if f.LastError != "" {
			fmt.Fprintf(&b, " [last error: %s]", util.TruncateString(f.LastError, 60))
		}
		b.WriteString("\n")
	}

	if len(sess.ProgressLog) > 0 {
		b.WriteString("\nProgress:\n")
		for _, line := range sess.ProgressLog {
			fmt.Fprintf(&b, "  %s\n", line)
		}
	}

	return util.AtomicWriteFile(s.layout.ProgressPath(), []byte(b.String()), stateFileMode)
}

// statusMark returns the checklist marker for a feature status.
func statusMark(status FeatureStatus) string {
	switch status {
	case FeatureCompleted:
		return "[x]"
	case FeatureInProgress:
		return "[~]"
	case FeatureFailed:
		return "[!]"
	default:
		return "[ ]"
	}
}

// WriteInitScript generates the bootstrap shell script for the session. The
// script is informational: it prints session facts and how to attach to
// worker terminal sessions.
func (s *Store) WriteInitScript(sess *Session) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	var b strings.Builder
	b.WriteString("#!/bin/sh\n")
	b.WriteString("# Generated by overseer. Re-created on session init.\n")
	fmt.Fprintf(&b, "OVERSEER_PROJECT_DIR=%q\n", sess.ProjectDir)
	fmt.Fprintf(&b, "OVERSEER_STATE_FILE=%q\n", s.layout.StatePath())
	b.WriteString("export OVERSEER_PROJECT_DIR OVERSEER_STATE_FILE\n")
	fmt.Fprintf(&b, "echo \"overseer session for $OVERSEER_PROJECT_DIR\"\n")
	fmt.Fprintf(&b, "echo \"task: %s\"\n", util.SanitizeLine(sess.TaskDescription))
	b.WriteString("echo \"attach to a worker: tmux -L overseer attach -t <session-name>\"\n")

	return util.AtomicWriteFile(s.layout.InitScriptPath(), []byte(b.String()), 0700)
}
