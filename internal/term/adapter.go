// Package term abstracts the terminal-multiplexer operations the engine
// needs to run workers: spawning named sessions, sending keystrokes,
// capturing output, and killing sessions. The engine never constructs shell
// strings; commands are handed to the adapter in argv form.
package term

import (
	"context"
)

// Adapter is the narrow capability the worker manager uses to interact
// with terminal sessions.
type Adapter interface {
	// SpawnSession creates a detached session running argv with the given
	// working directory. It fails if a session with the name already exists.
	SpawnSession(ctx context.Context, name, cwd string, argv []string) error

	// SessionExists reports whether a session with the name is alive.
	SessionExists(name string) bool

	// SendKeys types text into the session, optionally followed by Enter.
	SendKeys(name, text string, pressEnter bool) error

	// Capture returns the last n lines of the session's pane content.
	Capture(name string, lastNLines int) (string, error)

	// Kill terminates the session. Killing a missing session is an error.
	Kill(name string) error

	// List returns the names of all live sessions on the adapter's socket.
	List() ([]string, error)
}
