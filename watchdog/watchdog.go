// Package watchdog runs a single background task under a resettable stall
// deadline. The deadline measures time since the last Reset, not total run
// time, so a task that keeps reporting progress may run for as long as it
// needs.
package watchdog

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/sourcegraph/conc/panics"
)

// MaxPollInterval caps how long the supervisor sleeps between liveness checks.
const MaxPollInterval = 500 * time.Millisecond

// TimeoutError is returned by Run when no Reset happened within the timeout.
type TimeoutError struct {
	Elapsed time.Duration
	Timeout time.Duration
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("no progress for %s (limit %s)", e.Elapsed.Round(time.Millisecond), e.Timeout)
}

// CancelledError is returned by Run when the caller's context ends while the
// task is still running.
type CancelledError struct {
	Elapsed time.Duration
	Err     error
}

func (e *CancelledError) Error() string {
	return fmt.Sprintf("cancelled after %s: %v", e.Elapsed.Round(time.Millisecond), e.Err)
}

func (e *CancelledError) Unwrap() error {
	return e.Err
}

// Task is the unit of work supervised by a Watchdog. It must return promptly
// once ctx is done.
type Task func(ctx context.Context) error

// Watchdog supervises one task at a time.
type Watchdog struct {
	timeout time.Duration
	onReset func()
	now     func() time.Time

	lastReset atomic.Int64
}

// New creates a Watchdog. A timeout <= 0 disables the stall deadline.
// onReset, if non-nil, is called synchronously on every Reset.
func New(timeout time.Duration, onReset func()) *Watchdog {
	return &Watchdog{
		timeout: timeout,
		onReset: onReset,
		now:     time.Now,
	}
}

// Timeout returns the configured stall deadline.
func (w *Watchdog) Timeout() time.Duration {
	return w.timeout
}

// Reset marks progress. It is safe to call from the task goroutine.
func (w *Watchdog) Reset() {
	w.lastReset.Store(w.now().UnixNano())
	if w.onReset != nil {
		w.onReset()
	}
}

// Elapsed returns the time since the last Reset (or since Run started).
func (w *Watchdog) Elapsed() time.Duration {
	return w.now().Sub(time.Unix(0, w.lastReset.Load()))
}

func (w *Watchdog) pollInterval() time.Duration {
	return min(w.timeout, MaxPollInterval)
}

// Run executes task on its own goroutine and waits for it to finish.
//
// If the elapsed time since the last Reset reaches the timeout, the task's
// context is cancelled and Run returns a *TimeoutError immediately, without
// waiting for the task to unwind. Errors returned by the task are passed
// through unchanged; a panic in the task is converted into an error.
func (w *Watchdog) Run(ctx context.Context, task Task) error {
	taskCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	w.lastReset.Store(w.now().UnixNano())
	done := make(chan error, 1)
	go func() {
		var err error
		var pc panics.Catcher
		pc.Try(func() { err = task(taskCtx) })
		if r := pc.Recovered(); r != nil {
			err = r.AsError()
		}
		done <- err
	}()

	if w.timeout <= 0 {
		select {
		case err := <-done:
			return err
		case <-ctx.Done():
			return &CancelledError{Elapsed: w.Elapsed(), Err: context.Cause(ctx)}
		}
	}

	timer := time.NewTimer(w.pollInterval())
	defer timer.Stop()
	for {
		select {
		case err := <-done:
			return err
		case <-ctx.Done():
			return &CancelledError{Elapsed: w.Elapsed(), Err: context.Cause(ctx)}
		case <-timer.C:
			// A result that raced with the timer wins.
			select {
			case err := <-done:
				return err
			default:
			}
			elapsed := w.Elapsed()
			if elapsed >= w.timeout {
				return &TimeoutError{Elapsed: elapsed, Timeout: w.timeout}
			}
			timer.Reset(min(w.pollInterval(), w.timeout-elapsed))
		}
	}
}
