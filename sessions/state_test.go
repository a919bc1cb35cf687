package sessions

import "testing"

func TestState_AdvanceIsMonotonic(t *testing.T) {
	s := StateAbsent
	s = s.Advance(StateInitializing)
	s = s.Advance(StateActive)
	if s != StateActive {
		t.Fatalf("expected active, got %s", s)
	}
	if got := s.Advance(StateInitializing); got != StateActive {
		t.Fatalf("state moved backwards to %s", got)
	}
	s = s.Advance(StateClosed)
	if got := s.Advance(StateActive); got != StateClosed {
		t.Fatalf("closed session reopened as %s", got)
	}
	if StateClosed.String() != "closed" || State(42).String() != "unknown" {
		t.Fatalf("unexpected names")
	}
}
