package results

import (
	"errors"
	"fmt"
)

// MalformedReport is returned when a report cannot be normalized or folded.
// Truncated transfers end up here as XML syntax errors.
type MalformedReport struct {
	Source string
	Err    error
}

func (e *MalformedReport) Error() string {
	return fmt.Sprintf("malformed report %s: %v", e.Source, e.Err)
}

func (e *MalformedReport) Unwrap() error {
	return e.Err
}

// IsMalformedReport checks if the error is or wraps a MalformedReport
func IsMalformedReport(err error) bool {
	var malformed *MalformedReport
	return err != nil && errors.As(err, &malformed)
}
