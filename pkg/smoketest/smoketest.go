// Package smoketest runs a bounded sequence of post-migration health checks
// before the engine commits.
package smoketest

import (
	"context"
	"time"

	"github.com/graftwork/livemigrate/pkg/migerr"
)

// Check is a single named predicate; its only argument is the context
// carrying the per-check deadline. It returns a non-nil error if the
// invariant it tests does not hold.
type Check struct {
	Name string
	Run  func(ctx context.Context) error
}

// Runner runs a suite of Checks sequentially, aborting at the first failure
// or timeout; later checks are not attempted.
type Runner struct {
	// Timeout bounds each individual check. Zero means no per-check
	// deadline is imposed beyond the parent context's.
	Timeout time.Duration
}

// Run executes checks in order against parent. The first check that
// returns an error, or that does not return before its timeout, stops the
// suite; the returned error is always a *migerr.Error tagged SmokeFailed
// wrapping the check's name and cause.
func (r Runner) Run(parent context.Context, checks []Check) error {
	for _, c := range checks {
		if err := r.runOne(parent, c); err != nil {
			return err
		}
	}
	return nil
}

func (r Runner) runOne(parent context.Context, c Check) error {
	ctx := parent
	cancel := func() {}
	if r.Timeout > 0 {
		ctx, cancel = context.WithTimeout(parent, r.Timeout)
	}
	defer cancel()

	done := make(chan error, 1)
	go func() {
		done <- c.Run(ctx)
	}()

	select {
	case err := <-done:
		if err != nil {
			return migerr.Wrap(migerr.SmokeFailed, err, "smoke check \""+c.Name+"\" failed")
		}
		return nil
	case <-ctx.Done():
		return migerr.New(migerr.SmokeFailed, "smoke check \""+c.Name+"\" timed out")
	}
}
