package layer

import "strconv"

type StateKind uint8

const (
	StatePending StateKind = iota
	StateActive
	StateReevaluating
	StateClosed
	StateFailed
)

// State is the processing state of a session. Stage is the index of the
// running stage while Active; Reason is set when Failed.
type State struct {
	Kind   StateKind
	Stage  int
	Reason string
}

func (s State) String() string {
	switch s.Kind {
	case StatePending:
		return "pending"
	case StateActive:
		return "active(" + strconv.Itoa(s.Stage) + ")"
	case StateReevaluating:
		return "reevaluating"
	case StateClosed:
		return "closed"
	case StateFailed:
		return "failed(" + s.Reason + ")"
	default:
		return "unknown"
	}
}
