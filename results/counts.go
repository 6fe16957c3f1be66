package results

import (
	"errors"
	"fmt"
	"time"
)

// DateLayout is the layout of FitNesse result timestamps (yyyyMMddHHmmss).
const DateLayout = "20060102150405"

// Counts is the tally for one page or one whole report.
type Counts struct {
	Page       string
	Date       string
	Right      int
	Wrong      int
	Ignored    int
	Exceptions int
	// DurationMillis is zero when the report predates run-time reporting.
	DurationMillis int64
	// ContentFile points at the persisted HTML body of the page, if any.
	ContentFile string
}

// Time parses Date in the local time zone.
func (c Counts) Time() (time.Time, error) {
	if c.Date == "" {
		return time.Time{}, errors.New("no result date")
	}
	return time.ParseInLocation(DateLayout, c.Date, time.Local)
}

// Add returns the field-wise sum of c and o. The page, date and content
// reference of c are kept.
func (c Counts) Add(o Counts) Counts {
	c.Right += o.Right
	c.Wrong += o.Wrong
	c.Ignored += o.Ignored
	c.Exceptions += o.Exceptions
	c.DurationMillis += o.DurationMillis
	return c
}

// Total is the number of assertions of any outcome.
func (c Counts) Total() int {
	return c.Right + c.Wrong + c.Ignored + c.Exceptions
}

// FailCount counts wrong assertions and exceptions together.
func (c Counts) FailCount() int {
	return c.Wrong + c.Exceptions
}

// IsZero reports whether all four counters are zero.
func (c Counts) IsZero() bool {
	return c.Right == 0 && c.Wrong == 0 && c.Ignored == 0 && c.Exceptions == 0
}

func (c Counts) Validate() error {
	switch {
	case c.Right < 0, c.Wrong < 0, c.Ignored < 0, c.Exceptions < 0:
		return fmt.Errorf("negative counter for page %q", c.Page)
	case c.DurationMillis < 0:
		return fmt.Errorf("negative duration for page %q", c.Page)
	}
	return nil
}

func (c Counts) String() string {
	return fmt.Sprintf("%s (%s): %d right, %d wrong, %d ignored, %d exceptions, in %d ms",
		c.Page, c.Date, c.Right, c.Wrong, c.Ignored, c.Exceptions, c.DurationMillis)
}

// State is the derived classification of a Counts value.
type State string

const (
	StatePassed  State = "PASSED"
	StateFailed  State = "FAILED"
	StateSkipped State = "SKIPPED"
)

// Classify derives the state of a page from its own counters.
// Any wrong assertion or exception fails the page; otherwise a page with no
// right assertions is skipped.
func Classify(c Counts) State {
	switch {
	case c.Wrong > 0 || c.Exceptions > 0:
		return StateFailed
	case c.Right == 0:
		return StateSkipped
	default:
		return StatePassed
	}
}
