package supervisor

import "errors"

var (
	// ErrExhausted is returned/logged when the attempt budget is crossed with
	// no further automatic remediation; operator action is required.
	ErrExhausted = errors.New("supervisor: retry attempts exhausted")

	// ErrNotOnline is returned when a caller needs a live session handle but
	// the supervisor is not in the online state.
	ErrNotOnline = errors.New("supervisor: transport not online")
)
