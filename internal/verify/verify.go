// Package verify runs bounded verification commands (test suites, linters)
// inside a project directory. Commands are restricted to a fixed allow-list
// and arguments containing shell metacharacters are refused outright.
package verify

import (
	"context"
	"fmt"
	"os/exec"
	"strings"
	"sync"
	"time"

	"overseer/internal/errors"
)

const (
	// DefaultTimeout bounds every verification run.
	DefaultTimeout = 5 * time.Minute

	// MaxOutputBytes caps the captured combined output.
	MaxOutputBytes = 10 * 1024 * 1024
)

// allowedCommands is the fixed set of permitted verification invocations,
// matched as argv prefixes.
var allowedCommands = [][]string{
	{"npm", "test"},
	{"npm", "run", "test"},
	{"pytest"},
	{"cargo", "test"},
	{"go", "test"},
	{"make", "test"},
	{"eslint"},
	{"tsc"},
}

// metacharacters that disqualify an argument. The command never goes
// through a shell, but refusing these keeps injection attempts visible
// at the boundary instead of silently inert.
var forbiddenSequences = []string{";", "&&", "||", "|", "`", "$(", "<", ">"}

// Result is the outcome of one verification run.
type Result struct {
	Command    string `json:"command"`
	ExitCode   int    `json:"exitCode"`
	Output     string `json:"output"`
	Truncated  bool   `json:"truncated,omitempty"`
	TimedOut   bool   `json:"timedOut,omitempty"`
	DurationMs int64  `json:"durationMs"`
	Passed     bool   `json:"passed"`
}

// ValidateCommand checks an argv against the allow-list and the
// metacharacter rules. It returns nil only for runnable commands.
func ValidateCommand(argv []string) error {
	if len(argv) == 0 {
		return errors.NewValidationError("verification command cannot be empty")
	}

	for _, arg := range argv {
		for _, seq := range forbiddenSequences {
			if strings.Contains(arg, seq) {
				return errors.NewValidationError(
					fmt.Sprintf("argument contains forbidden sequence %q", seq)).
					WithField("argument").WithValue(arg).
					WithCause(errors.ErrCommandNotAllowed)
			}
		}
	}

	for _, allowed := range allowedCommands {
		if hasPrefix(argv, allowed) {
			return nil
		}
	}

	return errors.NewValidationError(
		fmt.Sprintf("command %q is not on the verification allow-list", strings.Join(argv, " "))).
		WithCause(errors.ErrCommandNotAllowed)
}

// hasPrefix reports whether argv begins with the given prefix.
func hasPrefix(argv, prefix []string) bool {
	if len(argv) < len(prefix) {
		return false
	}
	for i, p := range prefix {
		if argv[i] != p {
			return false
		}
	}
	return true
}

// Run executes an allow-listed verification command in dir with the default
// timeout and output cap. The command runs directly, never through a shell.
func Run(ctx context.Context, dir string, argv []string) (*Result, error) {
	return RunWithTimeout(ctx, dir, argv, DefaultTimeout)
}

// RunWithTimeout is Run with an explicit timeout.
func RunWithTimeout(ctx context.Context, dir string, argv []string, timeout time.Duration) (*Result, error) {
	if err := ValidateCommand(argv); err != nil {
		return nil, err
	}
	if timeout <= 0 {
		timeout = DefaultTimeout
	}

	runCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	cmd := exec.CommandContext(runCtx, argv[0], argv[1:]...)
	cmd.Dir = dir

	buf := &cappedBuffer{limit: MaxOutputBytes}
	cmd.Stdout = buf
	cmd.Stderr = buf

	start := time.Now()
	err := cmd.Run()
	elapsed := time.Since(start)

	result := &Result{
		Command:    strings.Join(argv, " "),
		Output:     buf.String(),
		Truncated:  buf.Truncated(),
		DurationMs: elapsed.Milliseconds(),
	}

	if runCtx.Err() == context.DeadlineExceeded {
		result.TimedOut = true
		result.ExitCode = -1
		return result, errors.NewTimeoutError("verification command", timeout)
	}

	if err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			result.ExitCode = exitErr.ExitCode()
			return result, nil
		}
		return nil, errors.Wrap(err, "failed to run verification command")
	}

	result.Passed = true
	return result, nil
}

// cappedBuffer collects writes up to a byte limit, discarding the rest.
type cappedBuffer struct {
	mu        sync.Mutex
	buf       []byte
	limit     int
	truncated bool
}

func (b *cappedBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	remaining := b.limit - len(b.buf)
	if remaining <= 0 {
		b.truncated = true
		return len(p), nil
	}
	if len(p) > remaining {
		b.buf = append(b.buf, p[:remaining]...)
		b.truncated = true
		return len(p), nil
	}
	b.buf = append(b.buf, p...)
	return len(p), nil
}

func (b *cappedBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return string(b.buf)
}

func (b *cappedBuffer) Truncated() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.truncated
}
