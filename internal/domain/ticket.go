package domain

import "time"

// TicketState tracks the ticket lifecycle. Every edge is one-directional; a
// ticket never returns to an earlier state. INITIAL tickets may additionally
// be deleted by the expiry purge.
type TicketState string

const (
	TicketStateInitial TicketState = "INITIAL"
	TicketStateFunded  TicketState = "FUNDED"

	TicketStateWonUnpaid        TicketState = "WON_UNPAID"
	TicketStateWonPaid          TicketState = "WON_PAID"
	TicketStateWonPaymentFailed TicketState = "WON_PAYMENT_FAILED"

	TicketStateLost TicketState = "LOST"

	TicketStateCancelledUnpaid        TicketState = "CANCELLED_UNPAID"
	TicketStateCancelledPaid          TicketState = "CANCELLED_PAID"
	TicketStateCancelledPaymentFailed TicketState = "CANCELLED_PAYMENT_FAILED"
)

// ticketTransitions enumerates the legal forward edges of the state machine.
var ticketTransitions = map[TicketState][]TicketState{
	TicketStateInitial: {TicketStateFunded},
	TicketStateFunded:  {TicketStateWonUnpaid, TicketStateLost, TicketStateCancelledUnpaid},
	TicketStateWonUnpaid: {
		TicketStateWonPaid,
		TicketStateWonPaymentFailed,
	},
	TicketStateCancelledUnpaid: {
		TicketStateCancelledPaid,
		TicketStateCancelledPaymentFailed,
	},
}

// CanTransitionTo reports whether next is a legal successor of s.
func (s TicketState) CanTransitionTo(next TicketState) bool {
	for _, t := range ticketTransitions[s] {
		if t == next {
			return true
		}
	}
	return false
}

// Terminal reports whether s is a final state: no successor exists and the
// external payment process has nothing left to do for the ticket.
func (s TicketState) Terminal() bool {
	switch s {
	case TicketStateWonPaid, TicketStateWonPaymentFailed,
		TicketStateLost,
		TicketStateCancelledPaid, TicketStateCancelledPaymentFailed:
		return true
	}
	return false
}

// Ticket is one participant's stake on one choice within a competition.
type Ticket struct {
	ID            string
	Wallet        string // buyer wallet reference
	CompetitionID string
	Amount        int64  // stake
	RewardTarget  string // payout destination descriptor
	Choice        int    // index into the competition's Choices
	State         TicketState

	// Payout bookkeeping, written by the external payment collaborator.
	RewardMsat        int64
	RewardFailure     string
	RewardPaymentHash string

	CreatedAt time.Time // used by the expiry purge
}

// TicketPatch carries a partial ticket update. Nil fields are left untouched.
// Used by the payout collaborator to record payment outcomes; it is not a
// CAS, so callers must not race writes for the same ticket.
type TicketPatch struct {
	State             *TicketState
	RewardMsat        *int64
	RewardFailure     *string
	RewardPaymentHash *string
}
