package domain

import (
	"context"
	"time"
)

// CompetitionStore persists competitions. The CAS methods issue conditional
// writes that succeed only when the stored aggregate still matches the value
// the caller read; they return false (not an error) when another writer won
// the race or the qualifying-state condition no longer holds. They are the
// store half of the optimistic-concurrency loop and must never be bypassed
// for inventory or aggregate mutation.
type CompetitionStore interface {
	Create(ctx context.Context, c Competition) error
	GetByID(ctx context.Context, id string) (Competition, error)
	ListByWallet(ctx context.Context, wallet string) ([]Competition, error)
	List(ctx context.Context) ([]Competition, error)

	// UpdateDetails applies organizer edits while the competition is still
	// INITIAL. It returns false if the competition has left INITIAL.
	UpdateDetails(ctx context.Context, id string, patch CompetitionPatch) (bool, error)

	// CASInventory writes amount_tickets = new iff the stored value is still
	// old and the competition is still INITIAL.
	CASInventory(ctx context.Context, id string, old, new int64) (bool, error)

	// RestoreInventory is the purge-side counterpart of CASInventory. It is
	// conditional on the old value only, not on competition state: reclaimed
	// inventory is returned even after settlement.
	RestoreInventory(ctx context.Context, id string, old, new int64) (bool, error)

	// CASAggregates folds a funded ticket's stake into the competition:
	// sold = newSold and the full choices snapshot, iff sold is still oldSold
	// and the competition is still INITIAL.
	CASAggregates(ctx context.Context, id string, oldSold, newSold int64, choices []Choice) (bool, error)

	// CASSettle takes the one-way INITIAL -> SETTLED edge and records the
	// final per-choice totals and the winning choice in the same conditional
	// write. Exactly one of any number of concurrent settlement attempts
	// observes true; everyone else must re-read and compare outcomes.
	CASSettle(ctx context.Context, id string, choices []Choice, winningChoice int) (bool, error)

	Delete(ctx context.Context, id string) error
}

// TicketStore persists tickets.
type TicketStore interface {
	Create(ctx context.Context, t Ticket) error
	GetByID(ctx context.Context, id string) (Ticket, error)
	ListByWallet(ctx context.Context, wallet string) ([]Ticket, error)
	ListByCompetition(ctx context.Context, competitionID string) ([]Ticket, error)
	ListByCompetitionAndStates(ctx context.Context, competitionID string, states []TicketState) ([]Ticket, error)

	// CASState moves a single ticket forward iff it is still in old. The
	// exactly-once funding fold rests on this returning true for exactly one
	// of N concurrent INITIAL -> FUNDED attempts.
	CASState(ctx context.Context, id string, old, new TicketState) (bool, error)

	// Update applies a partial, unconditional patch and returns the updated
	// ticket. Used for payout bookkeeping only.
	Update(ctx context.Context, id string, patch TicketPatch) (Ticket, error)

	Delete(ctx context.Context, id string) error
	DeleteByCompetition(ctx context.Context, competitionID string) (int64, error)

	// DeleteExpiredInitial removes INITIAL tickets of the competition created
	// before the cutoff and returns how many rows went away.
	DeleteExpiredInitial(ctx context.Context, competitionID string, before time.Time) (int64, error)

	// SumAmountsByChoice aggregates stake totals from the whole ticket
	// population of a competition, grouped by choice. This is the settlement
	// ground truth, independent of Choice.Total.
	SumAmountsByChoice(ctx context.Context, competitionID string) ([]ChoiceSum, error)

	// ResolveFunded fans a decided outcome out across the competition's
	// FUNDED tickets: matching choice -> WON_UNPAID, the rest -> LOST.
	// Tickets already out of FUNDED are left untouched, which is what makes
	// re-running settlement after a crash safe.
	ResolveFunded(ctx context.Context, competitionID string, winningChoice int) (won, lost int64, err error)

	// CancelFunded moves every FUNDED ticket to CANCELLED_UNPAID (void
	// outcome).
	CancelFunded(ctx context.Context, competitionID string) (int64, error)

	// CountUnresolved counts tickets that have not yet reached a terminal
	// state. Zero means the competition's payments are complete.
	CountUnresolved(ctx context.Context, competitionID string) (int64, error)
}

// AuditEntry is a single audit log row.
type AuditEntry struct {
	ID        int64
	Event     string
	Detail    map[string]any
	CreatedAt time.Time
}

// AuditStore persists an append-only audit log.
type AuditStore interface {
	Log(ctx context.Context, event string, detail map[string]any) error
	List(ctx context.Context, limit int) ([]AuditEntry, error)
}

// LockManager hands out advisory distributed locks. Locks only reduce
// duplicate work (e.g. two replicas purging the same competition); the CAS
// discipline stays the sole correctness mechanism.
type LockManager interface {
	// Acquire returns an unlock function on success, or ErrLockHeld when the
	// lock is held elsewhere.
	Acquire(ctx context.Context, key string, ttl time.Duration) (func(), error)
}
