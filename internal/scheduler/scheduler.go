// Package scheduler decides which features run next: readiness gating over
// dependencies and active protocols, adaptive priority scoring, and
// concurrent batch dispatch.
package scheduler

import (
	"context"
	"sort"
	"sync"

	"golang.org/x/sync/errgroup"

	"overseer/internal/protocol"
	"overseer/internal/state"
)

// MaxBatch is the hard ceiling on features dispatched in one batch.
const MaxBatch = 10

// lowComplexityCeiling is the highest complexity still considered "low".
// Complexity is the caller-supplied 1-10 estimate; zero means unknown.
const lowComplexityCeiling = 3

// Strategy selects the priority adjustment applied on top of the base
// formula.
type Strategy string

const (
	StrategyAdaptive     Strategy = "adaptive"
	StrategyBreadthFirst Strategy = "breadth-first"
	StrategyDepthFirst   Strategy = "depth-first"
)

// Gate validates a feature against the active protocol set before it may
// start. *protocol.Enforcer satisfies it.
type Gate interface {
	ValidatePreExecution(ctx protocol.EvalContext) *protocol.ValidationResult
}

// evalContext builds the protocol evaluation facts for a feature.
func evalContext(sess *state.Session, f *state.Feature) protocol.EvalContext {
	return protocol.EvalContext{
		FeatureID:   f.ID,
		Task:        f.Description,
		ProjectPath: sess.ProjectDir,
	}
}

// IsReady reports whether one feature is ready to start: pending, every
// dependency completed, and not blocked by an active protocol. A nil gate
// skips protocol validation.
func IsReady(sess *state.Session, f *state.Feature, gate Gate) bool {
	if f.Status != state.FeaturePending {
		return false
	}
	for _, dep := range f.DependsOn {
		d := sess.Feature(dep)
		if d == nil || d.Status != state.FeatureCompleted {
			return false
		}
	}
	if gate != nil {
		if res := gate.ValidatePreExecution(evalContext(sess, f)); !res.Allowed {
			return false
		}
	}
	return true
}

// Ready returns every ready feature in document order.
func Ready(sess *state.Session, gate Gate) []*state.Feature {
	var out []*state.Feature
	for _, f := range sess.Features {
		if IsReady(sess, f, gate) {
			out = append(out, f)
		}
	}
	return out
}

// BlockedDependents counts the pending features that list id as a
// dependency.
func BlockedDependents(sess *state.Session, id string) int {
	n := 0
	for _, f := range sess.Features {
		if f.Status != state.FeaturePending {
			continue
		}
		for _, dep := range f.DependsOn {
			if dep == id {
				n++
				break
			}
		}
	}
	return n
}

// Priority scores a ready feature. Higher runs first.
func Priority(sess *state.Session, f *state.Feature, strategy Strategy) int {
	blocked := BlockedDependents(sess, f.ID)
	noDeps := len(f.DependsOn) == 0
	lowComplexity := f.Complexity > 0 && f.Complexity <= lowComplexityCeiling

	p := 50 * blocked
	if noDeps {
		p += 40
	}
	if lowComplexity {
		p += 30
	}
	p -= 20 * f.Attempts

	switch strategy {
	case StrategyBreadthFirst:
		if noDeps {
			p += 20
		}
	case StrategyDepthFirst:
		p += 30 * blocked
	}
	return p
}

// SelectBatch returns the top-k ready features by priority, ties broken by
// id so selection is deterministic. k is clamped to [1, MaxBatch].
func SelectBatch(sess *state.Session, k int, strategy Strategy, gate Gate) []*state.Feature {
	if k < 1 {
		k = 1
	}
	if k > MaxBatch {
		k = MaxBatch
	}

	ready := Ready(sess, gate)
	sort.SliceStable(ready, func(i, j int) bool {
		pi := Priority(sess, ready[i], strategy)
		pj := Priority(sess, ready[j], strategy)
		if pi != pj {
			return pi > pj
		}
		return ready[i].ID < ready[j].ID
	})

	if len(ready) > k {
		ready = ready[:k]
	}
	return ready
}

// DispatchResult reports the outcome of one concurrent batch start.
type DispatchResult struct {
	Started []string
	Failed  map[string]error
}

// StartFunc starts one worker for a feature id.
type StartFunc func(ctx context.Context, featureID string) error

// Dispatch starts the given features concurrently. Failures do not cancel
// the other starts; successes are kept.
func Dispatch(ctx context.Context, features []*state.Feature, start StartFunc) *DispatchResult {
	result := &DispatchResult{Failed: make(map[string]error)}

	var mu sync.Mutex
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(MaxBatch)

	for _, f := range features {
		id := f.ID
		g.Go(func() error {
			err := start(gctx, id)
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				result.Failed[id] = err
			} else {
				result.Started = append(result.Started, id)
			}
			// Never abort sibling starts.
			return nil
		})
	}
	g.Wait()

	sort.Strings(result.Started)
	return result
}
