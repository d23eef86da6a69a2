// Package logging provides structured logging for Overseer sessions.
//
// Every controller operation, worker spawn, and sync exchange logs through
// this package. Output is JSON via log/slog, written to debug.log inside the
// session state directory so a finished session can be inspected with jq or
// grep long after the tmux sessions are gone.
//
// The root logger is built once per CLI invocation:
//
//	logger, err := logging.NewLoggerWithRotation(stateDir, cfg.Logging.Level, rotCfg)
//	if err != nil {
//	    return err
//	}
//	defer logger.Close()
//
// Rotation keeps long monitor runs from growing debug.log without bound.
// When the file passes RotationConfig.MaxSizeMB it is renamed to debug.log.1
// (older backups shift to .2, .3, up to MaxBackups) and a fresh file is
// opened. With Compress set, backups are gzipped to debug.log.1.gz and so
// on. The knobs come from the logging section of the config file
// (max_size_mb, max_backups, compress); max_size_mb of 0 disables rotation
// entirely.
//
// Subsystems derive child loggers that stamp their scope onto every entry:
//
//	wl := logger.WithSession(sess.ID).WithWorker("overseer-auth-feature")
//	wl.Info("worker spawned", "model", model)
//	wl.WithPhase("verification").Warn("capture truncated", "lines", n)
//
// Child loggers share the parent's file handle and are safe for concurrent
// use; only the root logger's Close releases the file.
//
// Levels are the usual four, DEBUG through ERROR, given as strings so they
// can flow straight from config and flags. ParseLevel normalizes case and
// ValidLevels lists what is accepted. Tests pass NopLogger to keep
// constructors honest without touching the filesystem.
package logging
