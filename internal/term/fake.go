package term

import (
	"context"
	"sort"
	"sync"

	"overseer/internal/errors"
)

// Fake is an in-memory Adapter used in tests. Sessions exist until killed;
// captured output and keystrokes are recorded for assertions.
type Fake struct {
	mu       sync.Mutex
	sessions map[string]*fakeSession

	// SpawnErr, when set, is returned by every SpawnSession call.
	SpawnErr error
}

type fakeSession struct {
	cwd    string
	argv   []string
	output string
	keys   []string
}

// NewFake returns an empty in-memory adapter.
func NewFake() *Fake {
	return &Fake{sessions: make(map[string]*fakeSession)}
}

// SpawnSession records a new session.
func (f *Fake) SpawnSession(ctx context.Context, name, cwd string, argv []string) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.SpawnErr != nil {
		return f.SpawnErr
	}
	if _, ok := f.sessions[name]; ok {
		return errors.NewWorkerError("session already exists", errors.ErrWorkerAlreadyRunning).
			WithSessionName(name)
	}
	f.sessions[name] = &fakeSession{cwd: cwd, argv: append([]string(nil), argv...)}
	return nil
}

// SessionExists reports whether the session is live.
func (f *Fake) SessionExists(name string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	_, ok := f.sessions[name]
	return ok
}

// SendKeys records the keystrokes sent to a session.
func (f *Fake) SendKeys(name, text string, pressEnter bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	s, ok := f.sessions[name]
	if !ok {
		return errors.NewWorkerError("cannot send keys", errors.ErrSessionMissing).
			WithSessionName(name)
	}
	s.keys = append(s.keys, text)
	return nil
}

// Capture returns the session's configured output.
func (f *Fake) Capture(name string, lastNLines int) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	s, ok := f.sessions[name]
	if !ok {
		return "", errors.NewWorkerError("cannot capture", errors.ErrSessionMissing).
			WithSessionName(name)
	}
	return s.output, nil
}

// Kill removes the session.
func (f *Fake) Kill(name string) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if _, ok := f.sessions[name]; !ok {
		return errors.NewWorkerError("cannot kill", errors.ErrSessionMissing).
			WithSessionName(name)
	}
	delete(f.sessions, name)
	return nil
}

// List returns all live session names, sorted for determinism.
func (f *Fake) List() ([]string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	names := make([]string, 0, len(f.sessions))
	for name := range f.sessions {
		names = append(names, name)
	}
	sort.Strings(names)
	return names, nil
}

// SetOutput sets the text Capture returns for a session.
func (f *Fake) SetOutput(name, output string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if s, ok := f.sessions[name]; ok {
		s.output = output
	}
}

// SentKeys returns the keystrokes recorded for a session.
func (f *Fake) SentKeys(name string) []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	if s, ok := f.sessions[name]; ok {
		return append([]string(nil), s.keys...)
	}
	return nil
}

// Argv returns the argv a session was spawned with.
func (f *Fake) Argv(name string) []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	if s, ok := f.sessions[name]; ok {
		return append([]string(nil), s.argv...)
	}
	return nil
}

// Drop removes a session without going through Kill, simulating a crash.
func (f *Fake) Drop(name string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.sessions, name)
}

var _ Adapter = (*Fake)(nil)
