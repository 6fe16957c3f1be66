package fitnesse

import (
	"errors"
	"fmt"

	"github.com/ethereum-optimism/infra/op-fitnesse/exitcodes"
	"github.com/ethereum-optimism/infra/op-fitnesse/results"
)

// RuntimeError means no verdict could be reached: the configuration was
// rejected, the server never became ready, the results transfer stalled or
// the report could not be parsed.
type RuntimeError struct {
	Err error
}

func NewRuntimeError(err error) *RuntimeError {
	return &RuntimeError{Err: err}
}

func (e *RuntimeError) Error() string {
	return fmt.Sprintf("runtime error: %v", e.Err)
}

func (e *RuntimeError) Unwrap() error { return e.Err }

func (e *RuntimeError) ExitCode() int { return exitcodes.RuntimeErr }

// TestFailureError is an unstable run. Results were read, and the root
// counts show wrong assertions or exceptions.
type TestFailureError struct {
	Counts results.Counts
}

func NewTestFailureError(counts results.Counts) *TestFailureError {
	return &TestFailureError{Counts: counts}
}

func (e *TestFailureError) Error() string {
	return fmt.Sprintf("test failure: %s", e.Counts)
}

func (e *TestFailureError) ExitCode() int { return exitcodes.TestFailure }

func IsRuntimeError(err error) bool {
	var target *RuntimeError
	return errors.As(err, &target)
}

func IsTestFailureError(err error) bool {
	var target *TestFailureError
	return errors.As(err, &target)
}
