package domain

import "fmt"

// ReservationPhase is the lifecycle state of a reservation in the registry.
type ReservationPhase string

const (
	PhaseReserved ReservationPhase = "RESERVED"
	PhaseCaptured ReservationPhase = "CAPTURED"
	PhaseCanceled ReservationPhase = "CANCELED"
)

func ParseReservationPhase(s string) (ReservationPhase, error) {
	switch p := ReservationPhase(s); p {
	case PhaseReserved, PhaseCaptured, PhaseCanceled:
		return p, nil
	}
	return "", fmt.Errorf("unknown reservation phase %q", s)
}

// IsTerminal reports whether no further transition can change the phase.
func (p ReservationPhase) IsTerminal() bool {
	return p == PhaseCaptured || p == PhaseCanceled
}

// PhaseTransition is the verdict for moving a reservation between phases.
type PhaseTransition int

const (
	TransitionAllowed PhaseTransition = iota
	TransitionIdempotent
	TransitionConflict
)

func (t PhaseTransition) String() string {
	switch t {
	case TransitionAllowed:
		return "allowed"
	case TransitionIdempotent:
		return "idempotent"
	default:
		return "conflict"
	}
}

// phaseTransitions[current][requested]; pairs not listed are conflicts.
var phaseTransitions = map[ReservationPhase]map[ReservationPhase]PhaseTransition{
	PhaseReserved: {
		PhaseReserved: TransitionIdempotent,
		PhaseCaptured: TransitionAllowed,
		PhaseCanceled: TransitionAllowed,
	},
	PhaseCaptured: {
		PhaseCaptured: TransitionIdempotent,
	},
	PhaseCanceled: {
		PhaseCanceled: TransitionIdempotent,
	},
}

// DecidePhaseTransition returns whether a reservation in current may move to requested.
func DecidePhaseTransition(current, requested ReservationPhase) PhaseTransition {
	if t, ok := phaseTransitions[current][requested]; ok {
		return t
	}
	return TransitionConflict
}

// ResolveAbsentReservation decides the outcome of a capture or cancel that
// found no live reservation in the aggregate. A nil error means the request
// is a retry of a completed operation and has no effect.
func ResolveAbsentReservation(id ReservationID, current ReservationPhase, found bool, requested ReservationPhase) error {
	if !found {
		return fmt.Errorf("%w: %s", ErrReservationNotFound, id)
	}
	if !current.IsTerminal() {
		return fmt.Errorf("%w: reservation %s is %s in registry but absent from account",
			ErrInconsistentState, id, current)
	}
	switch DecidePhaseTransition(current, requested) {
	case TransitionIdempotent:
		return nil
	case TransitionConflict:
		return phaseConflict(id, current)
	default:
		return fmt.Errorf("%w: unexpected transition %s -> %s for reservation %s",
			ErrInconsistentState, current, requested, id)
	}
}

func phaseConflict(id ReservationID, current ReservationPhase) error {
	if current == PhaseCaptured {
		return fmt.Errorf("%w: %s", ErrReservationAlreadyCaptured, id)
	}
	return fmt.Errorf("%w: %s", ErrReservationAlreadyCanceled, id)
}
