package term

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"strings"

	"overseer/internal/errors"
)

// SocketName is the dedicated tmux socket the engine runs its sessions on,
// keeping them apart from any user tmux server.
const SocketName = "overseer"

// TmuxAdapter implements Adapter over the tmux binary. Every call shells
// out with explicit arguments; no command strings are interpolated.
type TmuxAdapter struct {
	socket string
	width  int
	height int
}

// NewTmuxAdapter returns a TmuxAdapter on the engine's dedicated socket.
func NewTmuxAdapter() *TmuxAdapter {
	return &TmuxAdapter{
		socket: SocketName,
		width:  200,
		height: 50,
	}
}

// tmux builds a tmux invocation on the adapter's socket.
func (a *TmuxAdapter) tmux(ctx context.Context, args ...string) *exec.Cmd {
	full := append([]string{"-L", a.socket}, args...)
	if ctx != nil {
		return exec.CommandContext(ctx, "tmux", full...)
	}
	return exec.Command("tmux", full...)
}

// SpawnSession creates a detached session named name running argv in cwd.
func (a *TmuxAdapter) SpawnSession(ctx context.Context, name, cwd string, argv []string) error {
	if name == "" {
		return errors.NewValidationError("session name cannot be empty")
	}
	if len(argv) == 0 {
		return errors.NewValidationError("argv cannot be empty").WithField("argv")
	}
	if a.SessionExists(name) {
		return errors.NewWorkerError("session already exists", errors.ErrWorkerAlreadyRunning).
			WithSessionName(name)
	}

	// tmux runs the trailing command through sh; quote each argv element so
	// the argv boundaries survive.
	args := []string{
		"new-session", "-d",
		"-s", name,
		"-c", cwd,
		"-x", fmt.Sprintf("%d", a.width),
		"-y", fmt.Sprintf("%d", a.height),
		shellJoin(argv),
	}
	cmd := a.tmux(ctx, args...)
	cmd.Env = append(os.Environ(), "TERM=xterm-256color")
	if out, err := cmd.CombinedOutput(); err != nil {
		return errors.NewWorkerError(
			fmt.Sprintf("failed to create session: %s", strings.TrimSpace(string(out))),
			errors.ErrWorkerSpawnFailed).WithSessionName(name)
	}

	// More scrollback makes tail capture useful; a failure here does not
	// invalidate the session.
	_ = a.tmux(nil, "set-option", "-t", name, "history-limit", "10000").Run()

	return nil
}

// SessionExists reports whether the named session is alive.
func (a *TmuxAdapter) SessionExists(name string) bool {
	return a.tmux(nil, "has-session", "-t", name).Run() == nil
}

// SendKeys types text into the session literally, optionally pressing Enter.
func (a *TmuxAdapter) SendKeys(name, text string, pressEnter bool) error {
	if !a.SessionExists(name) {
		return errors.NewWorkerError("cannot send keys", errors.ErrSessionMissing).
			WithSessionName(name)
	}

	if text != "" {
		if err := a.tmux(nil, "send-keys", "-t", name, "-l", text).Run(); err != nil {
			return errors.NewWorkerError("failed to send keys", err).WithSessionName(name)
		}
	}
	if pressEnter {
		if err := a.tmux(nil, "send-keys", "-t", name, "Enter").Run(); err != nil {
			return errors.NewWorkerError("failed to send enter", err).WithSessionName(name)
		}
	}
	return nil
}

// Capture returns the last n lines of the session's pane, including
// scrollback.
func (a *TmuxAdapter) Capture(name string, lastNLines int) (string, error) {
	if lastNLines <= 0 {
		lastNLines = 50
	}
	if !a.SessionExists(name) {
		return "", errors.NewWorkerError("cannot capture", errors.ErrSessionMissing).
			WithSessionName(name)
	}

	cmd := a.tmux(nil, "capture-pane", "-t", name, "-p",
		"-S", fmt.Sprintf("-%d", lastNLines))
	out, err := cmd.Output()
	if err != nil {
		return "", errors.NewWorkerError("failed to capture pane", err).WithSessionName(name)
	}
	return string(out), nil
}

// Kill terminates the named session.
func (a *TmuxAdapter) Kill(name string) error {
	if !a.SessionExists(name) {
		return errors.NewWorkerError("cannot kill", errors.ErrSessionMissing).
			WithSessionName(name)
	}
	if err := a.tmux(nil, "kill-session", "-t", name).Run(); err != nil {
		return errors.NewWorkerError("failed to kill session", err).WithSessionName(name)
	}
	return nil
}

// List returns all live session names on the engine socket. A missing tmux
// server means no sessions.
func (a *TmuxAdapter) List() ([]string, error) {
	out, err := a.tmux(nil, "list-sessions", "-F", "#{session_name}").Output()
	if err != nil {
		// "no server running" is the empty case, not a failure.
		return nil, nil
	}

	var names []string
	for _, line := range strings.Split(strings.TrimSpace(string(out)), "\n") {
		if line != "" {
			names = append(names, line)
		}
	}
	return names, nil
}

// shellJoin quotes each argv element in single quotes so tmux's shell
// pass-through preserves the argv boundaries exactly.
func shellJoin(argv []string) string {
	quoted := make([]string, len(argv))
	for i, arg := range argv {
		quoted[i] = "'" + strings.ReplaceAll(arg, "'", `'\''`) + "'"
	}
	return strings.Join(quoted, " ")
}

var _ Adapter = (*TmuxAdapter)(nil)
