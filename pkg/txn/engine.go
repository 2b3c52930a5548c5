// Package txn implements the transaction engine of spec.md §4.J: a queue
// of action+rollback steps run either sequentially or in parallel, with
// rollback of the completed steps on any failure.
package txn

import (
	"context"
	"sync"

	"github.com/cockroachdb/errors"
)

// RollbackError is attached (as a secondary error, via
// errors.WithSecondaryError) to the original failure when a rollback
// itself fails.
var RollbackError = errors.New("txn: rollback failed")

// Step is one unit of a transaction: Action performs the durable change,
// Rollback undoes it if a later step in the same transaction fails.
type Step struct {
	Name     string
	Action   func(ctx context.Context) error
	Rollback func(ctx context.Context) error
}

// Engine runs transactions composed of Steps.
type Engine struct{}

// New returns a ready-to-use transaction Engine.
func New() *Engine { return &Engine{} }

// RunSequential executes steps in order. On the first failure it invokes
// the rollbacks of all previously-succeeded steps, in reverse order, and
// returns the original error (with any rollback failure attached as a
// secondary error).
func (e *Engine) RunSequential(ctx context.Context, steps []Step) error {
	var completed []Step
	for _, s := range steps {
		if err := s.Action(ctx); err != nil {
			return e.rollbackAll(ctx, completed, err)
		}
		completed = append(completed, s)
	}
	return nil
}

// stepState tracks a parallel step's outcome.
type stepState int

const (
	stateIdle stepState = iota
	stateSuccess
	stateFailed
)

// RunParallel fires all steps concurrently. If any step fails, it
// invokes the rollbacks of only the steps that completed successfully
// (not the failed one, and not ones still idle when the failure was
// noticed).
func (e *Engine) RunParallel(ctx context.Context, steps []Step) error {
	states := make([]stepState, len(steps))
	errs := make([]error, len(steps))

	var wg sync.WaitGroup
	wg.Add(len(steps))
	for i, s := range steps {
		i, s := i, s
		go func() {
			defer wg.Done()
			if err := s.Action(ctx); err != nil {
				errs[i] = err
				states[i] = stateFailed
				return
			}
			states[i] = stateSuccess
		}()
	}
	wg.Wait()

	var firstErr error
	for _, err := range errs {
		if err != nil {
			firstErr = err
			break
		}
	}
	if firstErr == nil {
		return nil
	}

	var completed []Step
	for i, st := range states {
		if st == stateSuccess {
			completed = append(completed, steps[i])
		}
	}
	return e.rollbackAll(ctx, completed, firstErr)
}

// rollbackAll invokes each completed step's rollback in reverse order,
// attaching any rollback failure to originalErr as a secondary error.
func (e *Engine) rollbackAll(ctx context.Context, completed []Step, originalErr error) error {
	result := originalErr
	for i := len(completed) - 1; i >= 0; i-- {
		step := completed[i]
		if step.Rollback == nil {
			continue
		}
		if rbErr := step.Rollback(ctx); rbErr != nil {
			result = errors.WithSecondaryError(result, errors.Wrapf(RollbackError, "step %q: %v", step.Name, rbErr))
		}
	}
	return result
}
