package sessions

// State is a session's lifecycle position. Transitions only move forward:
// absent, initializing, active, closed.
type State int

const (
	StateAbsent State = iota
	StateInitializing
	StateActive
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateAbsent:
		return "absent"
	case StateInitializing:
		return "initializing"
	case StateActive:
		return "active"
	case StateClosed:
		return "closed"
	}
	return "unknown"
}

// Advance returns next when it lies after s and s otherwise.
func (s State) Advance(next State) State {
	if next > s {
		return next
	}
	return s
}
