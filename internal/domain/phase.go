package domain

// ──────────────────────────────────────────────────────────────────────────────
// Phase: the closed set of deal lifecycle states
// ──────────────────────────────────────────────────────────────────────────────

// Phase is the single source of truth for what the controller does next.
type Phase string

const (
	PhaseInitiated            Phase = "INITIATED"
	PhasePriceNegotiating     Phase = "PRICE_NEGOTIATING"
	PhasePriceAgreed          Phase = "PRICE_AGREED"
	PhaseTransportNegotiating Phase = "TRANSPORT_NEGOTIATING"
	PhaseTransportAgreed      Phase = "TRANSPORT_AGREED"
	PhaseWaitingForApproval   Phase = "WAITING_FOR_APPROVAL"
	PhaseApproved             Phase = "APPROVED"
	PhasePaid                 Phase = "PAID"
	PhaseDealClosed           Phase = "DEAL_CLOSED"
	PhaseFailed               Phase = "FAILED"
	PhaseCancelledDistance    Phase = "CANCELLED_DISTANCE"
)

// transitions lists every directed edge a deal may take. Anything not listed
// here is rejected by Deal.Transition.
var transitions = map[Phase][]Phase{
	PhaseInitiated:            {PhasePriceNegotiating},
	PhasePriceNegotiating:     {PhasePriceAgreed, PhaseFailed},
	PhasePriceAgreed:          {PhaseTransportNegotiating, PhaseCancelledDistance},
	PhaseTransportNegotiating: {PhaseTransportAgreed, PhaseFailed},
	PhaseTransportAgreed:      {PhaseWaitingForApproval},
	PhaseWaitingForApproval:   {PhaseApproved, PhaseFailed},
	PhaseApproved:             {PhasePaid},
	PhasePaid:                 {PhaseDealClosed},
}

// AllPhases returns every declared phase in lifecycle order.
func AllPhases() []Phase {
	return []Phase{
		PhaseInitiated,
		PhasePriceNegotiating,
		PhasePriceAgreed,
		PhaseTransportNegotiating,
		PhaseTransportAgreed,
		PhaseWaitingForApproval,
		PhaseApproved,
		PhasePaid,
		PhaseDealClosed,
		PhaseFailed,
		PhaseCancelledDistance,
	}
}

// IsValid returns true if p is one of the declared phases.
func (p Phase) IsValid() bool {
	for _, known := range AllPhases() {
		if p == known {
			return true
		}
	}
	return false
}

// CanTransition reports whether from → to is a declared edge.
func CanTransition(from, to Phase) bool {
	for _, next := range transitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// IsTerminal returns true for phases a deal never leaves.
func (p Phase) IsTerminal() bool {
	switch p {
	case PhaseDealClosed, PhaseFailed, PhaseCancelledDistance:
		return true
	}
	return false
}

// IsExternallyBlocked returns true while the deal waits on a human or on
// payment rather than on the agents.
func (p Phase) IsExternallyBlocked() bool {
	switch p {
	case PhaseTransportAgreed, PhaseWaitingForApproval, PhaseApproved, PhasePaid:
		return true
	}
	return false
}

// IsNegotiating returns true for the two phases in which agents take turns.
func (p Phase) IsNegotiating() bool {
	return p == PhasePriceNegotiating || p == PhaseTransportNegotiating
}

// LivePhases are the phases the autopilot keeps advancing.
func LivePhases() []Phase {
	return []Phase{PhasePriceNegotiating, PhasePriceAgreed, PhaseTransportNegotiating}
}

// HistoryPhases are the settled phases returned by the buyer history view.
func HistoryPhases() []Phase {
	return []Phase{PhasePaid, PhaseDealClosed}
}

// SupersedablePhases are the open phases a fresh start on the same item by the
// same buyer replaces. Approved, paid and terminal deals are kept for audit.
func SupersedablePhases() []Phase {
	return []Phase{
		PhaseInitiated,
		PhasePriceNegotiating,
		PhasePriceAgreed,
		PhaseTransportNegotiating,
		PhaseTransportAgreed,
		PhaseWaitingForApproval,
	}
}

// PhaseStrings converts phases for SQL array parameters.
func PhaseStrings(phases []Phase) []string {
	out := make([]string, len(phases))
	for i, p := range phases {
		out[i] = string(p)
	}
	return out
}
