// Package exitcodes defines the exit codes used by op-fitnesse.
package exitcodes

// Exit codes map the outcome of a run:
//
// * Success (0): every page passed or was skipped
// * TestFailure (1): results were obtained but some pages failed (unstable)
// * RuntimeErr (2): the run itself failed (startup, stall, malformed report, bad config)
const (
	Success     = 0
	TestFailure = 1
	RuntimeErr  = 2
)
