package orchestrator

import (
	"errors"
	"fmt"
)

// State is a step of the per-participant run.
type State int

const (
	StateInit State = iota
	StateQuerying
	StateEncoding
	StateSizeExchange
	StatePlanning
	StatePayloadExchange
	StateDecoding
	StatePresenting
	StateDone
)

func (s State) String() string {
	switch s {
	case StateInit:
		return "Init"
	case StateQuerying:
		return "Querying"
	case StateEncoding:
		return "Encoding"
	case StateSizeExchange:
		return "SizeExchange"
	case StatePlanning:
		return "Planning"
	case StatePayloadExchange:
		return "PayloadExchange"
	case StateDecoding:
		return "Decoding"
	case StatePresenting:
		return "Presenting"
	case StateDone:
		return "Done"
	default:
		return fmt.Sprintf("State(%d)", int(s))
	}
}

// coordinatorOnly reports whether only rank 0 passes through s.
func (s State) coordinatorOnly() bool {
	return s == StatePlanning || s == StateDecoding || s == StatePresenting
}

// ErrAssertion marks a broken internal invariant, such as a gathered vector
// whose length differs from the group size.
var ErrAssertion = errors.New("assertion failed")

func assertf(format string, a ...any) error {
	return fmt.Errorf("%w: %s", ErrAssertion, fmt.Sprintf(format, a...))
}

// PhaseError records the state a run failed in.
type PhaseError struct {
	Err   error
	State State
	Rank  int
}

func (e *PhaseError) Error() string {
	return fmt.Sprintf("rank %d failed in %s: %v", e.Rank, e.State, e.Err)
}

func (e *PhaseError) Unwrap() error { return e.Err }
