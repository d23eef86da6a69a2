// Package controller is the single logical actor owning one project's
// orchestration session. Every operation serialises on the controller's
// mutex, runs one load-mutate-save cycle against the state store, and
// returns a tagged Result. Background activities (the completion monitor,
// the sync tickers) talk to the session only through these operations.
package controller

import (
	"context"
	"sync"
	"time"

	"overseer/internal/distsync"
	"overseer/internal/errors"
	"overseer/internal/logging"
	"overseer/internal/proposal"
	"overseer/internal/protocol"
	"overseer/internal/scheduler"
	"overseer/internal/state"
	"overseer/internal/term"
	"overseer/internal/vote"
	"overseer/internal/worker"
)

// Exit codes for any CLI surface built over the controller.
const (
	CodeOK              = 0
	CodeError           = 1
	CodeInvalidArgs     = 2
	CodeSessionMissing  = 3
	CodeSessionConflict = 4
	CodeBlocked         = 5
)

// Result is the tagged outcome of one controller operation.
type Result struct {
	OK      bool   `json:"ok"`
	Payload any    `json:"payload,omitempty"`
	Error   string `json:"error,omitempty"`

	// Set on constraint-blocked results.
	BlockedBy       *protocol.BlockInfo      `json:"blockedBy,omitempty"`
	SuggestedAction protocol.SuggestedAction `json:"suggestedAction,omitempty"`

	// Code is the CLI exit code for this result. Zero iff OK.
	Code int `json:"-"`
}

func ok(payload any) *Result {
	return &Result{OK: true, Payload: payload}
}

func fail(code int, err error) *Result {
	return &Result{OK: false, Error: err.Error(), Code: code}
}

func failMsg(code int, msg string) *Result {
	return &Result{OK: false, Error: msg, Code: code}
}

// blockedResult maps a failed protocol validation to a code-5 result
// carrying the triggering constraint and remediation hint.
func blockedResult(v *protocol.ValidationResult) *Result {
	r := &Result{
		OK:              false,
		Error:           "blocked by active protocol",
		BlockedBy:       v.BlockedBy,
		SuggestedAction: v.SuggestedAction,
		Code:            CodeBlocked,
	}
	if v.BlockedBy != nil {
		r.Error = v.BlockedBy.Message
	}
	return r
}

// codeFor classifies an error from a lower layer into an exit code.
func codeFor(err error) int {
	switch {
	case errors.Is(err, errors.ErrInvalidInput),
		errors.Is(err, errors.ErrSelfDependency),
		errors.Is(err, errors.ErrDependencyCycle),
		errors.Is(err, errors.ErrInvalidVersion),
		errors.As(err, new(*errors.ValidationError)),
		errors.As(err, new(*errors.NotFoundError)):
		return CodeInvalidArgs
	case errors.Is(err, errors.ErrSessionNotFound):
		return CodeSessionMissing
	case errors.Is(err, errors.ErrSessionConflict),
		errors.Is(err, errors.ErrWorkerAlreadyRunning):
		return CodeSessionConflict
	case errors.Is(err, errors.ErrConstraintBlocked):
		return CodeBlocked
	default:
		return CodeError
	}
}

// Options tunes controller behaviour. Zero values take the defaults.
type Options struct {
	// MaxRetries caps automatic retry-on-failure in featureMarkComplete.
	MaxRetries int
	// Strategy is the scheduling strategy for batch selection.
	Strategy scheduler.Strategy
	// MonitorPeriod is the completion-monitor tick.
	MonitorPeriod time.Duration
}

func (o *Options) fillDefaults() {
	if o.MaxRetries <= 0 {
		o.MaxRetries = 3
	}
	if o.Strategy == "" {
		o.Strategy = scheduler.StrategyAdaptive
	}
	if o.MonitorPeriod <= 0 {
		o.MonitorPeriod = 5 * time.Second
	}
}

// Controller owns the session document for one project directory.
type Controller struct {
	mu sync.Mutex

	store     *state.Store
	layout    state.Layout
	workers   *worker.Manager
	votes     *vote.Coordinator
	registry  *protocol.Registry
	resolver  *protocol.Resolver
	enforcer  *protocol.Enforcer
	proposals *proposal.Manager
	syncer    *distsync.Manager
	opts      Options
	logger    *logging.Logger

	monitorStop chan struct{}
	monitorWG   sync.WaitGroup
}

// New wires a controller over a project directory. The sync manager is
// optional; pass nil to run without cross-instance distribution.
func New(projectDir string, adapter term.Adapter, workerCfg worker.Config, syncCfg *distsync.Config, opts Options, logger *logging.Logger) (*Controller, error) {
	if logger == nil {
		logger = logging.NopLogger()
	}
	opts.fillDefaults()

	store, err := state.NewStore(projectDir, logger)
	if err != nil {
		return nil, err
	}
	layout := store.Layout()

	registry, err := protocol.NewRegistry(layout.RegistryPath(), logger)
	if err != nil {
		return nil, err
	}

	workers := worker.NewManager(layout, adapter, workerCfg, logger)
	c := &Controller{
		store:     store,
		layout:    layout,
		workers:   workers,
		votes:     vote.NewCoordinator(workers, logger),
		registry:  registry,
		resolver:  protocol.NewResolver(registry),
		enforcer:  protocol.NewEnforcer(registry, logger),
		proposals: proposal.NewManager(layout.ProposalsDir(), registry, proposal.DefaultBaseConstraints(), logger),
		opts:      opts,
		logger:    logger.With("component", "controller"),
	}

	if syncCfg != nil {
		c.syncer = distsync.NewManager(layout, registry, *syncCfg, logger)
	}

	workers.OnTransition(c.onWorkerTransition)
	return c, nil
}

// Registry exposes the protocol registry, mainly for tests and the CLI.
func (c *Controller) Registry() *protocol.Registry { return c.registry }

// Layout returns the on-disk layout the controller operates over.
func (c *Controller) Layout() state.Layout { return c.layout }

// loadSession returns the current session or a coded failure when none
// exists. The caller must hold c.mu.
func (c *Controller) loadSession() (*state.Session, *Result) {
	sess, err := c.store.Load()
	if err != nil {
		return nil, fail(CodeError, err)
	}
	if sess == nil {
		return nil, failMsg(CodeSessionMissing, "no session exists for this project")
	}
	return sess, nil
}

// saveSession persists the session and maps write failures to a result.
func (c *Controller) saveSession(sess *state.Session) *Result {
	if err := c.store.Save(sess); err != nil {
		return fail(CodeError, err)
	}
	return nil
}

// transition changes the session status, appending a progress line.
func (c *Controller) transition(sess *state.Session, to state.SessionStatus, why string) {
	from := sess.Status
	sess.Status = to
	sess.AddProgress(string(from) + " -> " + string(to) + ": " + why)
	c.logger.Info("session transition", "from", string(from), "to", string(to), "reason", why)
}

// maybeFinish advances an in-progress session whose features have all
// reached a terminal state: to reviewing when reviews are enabled, else
// straight to the final status.
func (c *Controller) maybeFinish(sess *state.Session) {
	if sess.Status != state.SessionInProgress {
		return
	}
	if len(sess.Features) == 0 || !sess.AllFeaturesTerminal() {
		return
	}
	if sess.ReviewConfig != nil && sess.ReviewConfig.Enabled {
		c.transition(sess, state.SessionReviewing, "all features terminal, review enabled")
		return
	}
	c.finish(sess)
}

// finish settles the final session status from the feature outcomes.
func (c *Controller) finish(sess *state.Session) {
	now := state.Timestamp()
	sess.CompletedAt = now
	if sess.AllFeaturesCompleted() {
		c.transition(sess, state.SessionCompleted, "all features completed")
	} else {
		c.transition(sess, state.SessionCompletedWithFailures, "some features failed")
	}
}

// StartMonitor launches the background completion monitor. Stop with
// StopMonitor.
func (c *Controller) StartMonitor() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.monitorStop != nil {
		return
	}
	c.monitorStop = make(chan struct{})
	c.monitorWG.Add(1)
	go func() {
		defer c.monitorWG.Done()
		c.workers.RunMonitor(c.monitorStop, func() {
			_ = c.ScanCompletions()
		})
	}()
}

// StopMonitor stops the background completion monitor, if running.
func (c *Controller) StopMonitor() {
	c.mu.Lock()
	stop := c.monitorStop
	c.monitorStop = nil
	c.mu.Unlock()
	if stop != nil {
		close(stop)
		c.monitorWG.Wait()
	}
}

// StartSync starts the cross-instance sync manager, when configured.
func (c *Controller) StartSync() error {
	if c.syncer == nil {
		return nil
	}
	return c.syncer.Start()
}

// StopSync stops the sync manager, when configured.
func (c *Controller) StopSync() {
	if c.syncer != nil {
		c.syncer.Stop()
	}
}

// ScanCompletions runs one completion-monitor pass: worker transitions are
// recorded on the session document. Feature advancement stays with the
// caller per the worker ownership rules.
func (c *Controller) ScanCompletions() *Result {
	c.mu.Lock()
	defer c.mu.Unlock()

	sess, errRes := c.loadSession()
	if errRes != nil {
		return errRes
	}
	events := c.workers.CheckCompletions(sess)
	for _, ev := range events {
		sess.AddProgress("worker " + ev.SessionName + " " + string(ev.Status))
	}
	if len(events) > 0 {
		if res := c.saveSession(sess); res != nil {
			return res
		}
	}
	return ok(events)
}

// onWorkerTransition receives completion-monitor callbacks. The monitor
// already runs under the controller mutex via ScanCompletions, so this only
// logs; state mutation happened in CheckCompletions against the loaded
// document.
func (c *Controller) onWorkerTransition(ev worker.Event) {
	c.logger.Debug("worker transition observed",
		"session", ev.SessionName, "feature", ev.FeatureID, "status", string(ev.Status))
}

// background context for operations that spawn subprocesses.
func opContext() context.Context { return context.Background() }
