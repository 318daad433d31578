package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/betsats/betsats/internal/domain"
	"github.com/betsats/betsats/internal/occ"
)

// DefaultPurgeWindow is how long an INITIAL ticket may sit unfunded before the
// purge reclaims it: the payment invoice expiry plus a safety margin so a
// payment that lands at the last second still finds its ticket row.
const DefaultPurgeWindow = 15*time.Minute + 10*time.Second

// TicketService owns the ticket lifecycle: purchase (inventory reservation),
// the funding fold, payout bookkeeping, and the expiry purge. All inventory
// and aggregate mutation goes through occ.Apply over the store's conditional
// writes; nothing here holds a lock across the read-modify-write.
type TicketService struct {
	comps       domain.CompetitionStore
	tickets     domain.TicketStore
	audit       domain.AuditStore
	occCfg      occ.Config
	purgeWindow time.Duration
	logger      *slog.Logger
}

// NewTicketService creates a TicketService. A zero occ.Config selects the
// default retry budget; purgeWindow <= 0 selects DefaultPurgeWindow.
func NewTicketService(comps domain.CompetitionStore, tickets domain.TicketStore, audit domain.AuditStore, occCfg occ.Config, purgeWindow time.Duration, logger *slog.Logger) *TicketService {
	if purgeWindow <= 0 {
		purgeWindow = DefaultPurgeWindow
	}
	return &TicketService{
		comps:       comps,
		tickets:     tickets,
		audit:       audit,
		occCfg:      occCfg,
		purgeWindow: purgeWindow,
		logger:      logger.With(slog.String("component", "ticket_service")),
	}
}

// PurchaseParams carries a buyer's ticket request.
type PurchaseParams struct {
	CompetitionID string
	Wallet        string
	Amount        int64
	RewardTarget  string
	Choice        int
}

// Purchase reserves one unit of inventory and creates an INITIAL ticket for
// it. The reservation is a conditional decrement on amount_tickets, so two
// buyers racing for the last ticket can never both succeed: the loser's write
// is rejected and retried against the new value, which is zero, and zero
// yields ErrSoldOut. A competition that has left INITIAL no longer sells.
func (s *TicketService) Purchase(ctx context.Context, params PurchaseParams) (domain.Ticket, error) {
	comp, err := s.comps.GetByID(ctx, params.CompetitionID)
	if err != nil {
		return domain.Ticket{}, fmt.Errorf("ticket: purchase: %w", err)
	}
	if !comp.ValidChoice(params.Choice) {
		return domain.Ticket{}, fmt.Errorf("ticket: purchase: %w", domain.ErrInvalidChoice)
	}
	if params.Amount < comp.MinBet || params.Amount > comp.MaxBet {
		return domain.Ticket{}, fmt.Errorf("ticket: purchase: %w", domain.ErrBetOutOfRange)
	}
	if params.Wallet == "" {
		return domain.Ticket{}, fmt.Errorf("ticket: purchase: wallet is required")
	}

	// Reserve inventory before inserting the ticket row, so the row count can
	// never exceed what the competition was opened with.
	status, err := occ.Apply(ctx, s.occCfg, func(ctx context.Context) (occ.Status, error) {
		cur, err := s.comps.GetByID(ctx, params.CompetitionID)
		if err != nil {
			return occ.Conflict, err
		}
		if cur.State != domain.CompetitionStateInitial {
			return occ.Terminal, nil
		}
		if cur.AmountTickets <= 0 {
			return occ.Conflict, domain.ErrSoldOut
		}
		applied, err := s.comps.CASInventory(ctx, cur.ID, cur.AmountTickets, cur.AmountTickets-1)
		if err != nil {
			return occ.Conflict, err
		}
		if applied {
			return occ.Applied, nil
		}
		return occ.Conflict, nil
	})
	if err != nil {
		return domain.Ticket{}, fmt.Errorf("ticket: purchase reserve: %w", err)
	}
	if status == occ.Terminal {
		return domain.Ticket{}, fmt.Errorf("ticket: purchase: %w", domain.ErrCompetitionClosed)
	}

	ticket := domain.Ticket{
		ID:            uuid.NewString(),
		Wallet:        params.Wallet,
		CompetitionID: params.CompetitionID,
		Amount:        params.Amount,
		RewardTarget:  params.RewardTarget,
		Choice:        params.Choice,
		State:         domain.TicketStateInitial,
		CreatedAt:     time.Now().UTC(),
	}
	if err := s.tickets.Create(ctx, ticket); err != nil {
		// Hand the reserved unit back; the purge would reclaim it eventually,
		// but there is no ticket row for it to find.
		if rerr := s.restoreInventory(ctx, params.CompetitionID, 1); rerr != nil {
			s.logger.Error("inventory restore after failed create",
				slog.String("competition_id", params.CompetitionID),
				slog.String("error", rerr.Error()))
		}
		return domain.Ticket{}, fmt.Errorf("ticket: purchase create: %w", err)
	}

	s.logger.Info("ticket purchased",
		slog.String("ticket_id", ticket.ID),
		slog.String("competition_id", ticket.CompetitionID),
		slog.Int("choice", ticket.Choice),
		slog.Int64("amount", ticket.Amount))
	return ticket, nil
}

// MarkFunded records that the ticket's invoice was paid. The INITIAL -> FUNDED
// edge is a conditional write, so of N duplicate payment notifications exactly
// one lands and folds the stake into the competition aggregates; the rest are
// silent no-ops. If the competition has already settled, the ticket stays
// FUNDED but its stake is not folded.
func (s *TicketService) MarkFunded(ctx context.Context, ticketID string) error {
	applied, err := s.tickets.CASState(ctx, ticketID, domain.TicketStateInitial, domain.TicketStateFunded)
	if err != nil {
		return fmt.Errorf("ticket: mark funded %s: %w", ticketID, err)
	}
	if !applied {
		// Duplicate notification, or the purge already removed the ticket.
		return nil
	}

	ticket, err := s.tickets.GetByID(ctx, ticketID)
	if err != nil {
		return fmt.Errorf("ticket: mark funded %s: %w", ticketID, err)
	}

	status, err := occ.Apply(ctx, s.occCfg, func(ctx context.Context) (occ.Status, error) {
		comp, err := s.comps.GetByID(ctx, ticket.CompetitionID)
		if err != nil {
			return occ.Conflict, err
		}
		if comp.State != domain.CompetitionStateInitial {
			return occ.Terminal, nil
		}
		if !comp.ValidChoice(ticket.Choice) {
			return occ.Conflict, fmt.Errorf("%w: ticket %s choice %d", domain.ErrInvalidChoice, ticket.ID, ticket.Choice)
		}

		choices := append([]domain.Choice(nil), comp.Choices...)
		choices[ticket.Choice].Total += ticket.Amount

		applied, err := s.comps.CASAggregates(ctx, comp.ID, comp.Sold, comp.Sold+1, choices)
		if err != nil {
			return occ.Conflict, err
		}
		if applied {
			return occ.Applied, nil
		}
		return occ.Conflict, nil
	})
	if err != nil {
		return fmt.Errorf("ticket: fund fold %s: %w", ticketID, err)
	}

	if status == occ.Terminal {
		s.logger.Warn("funding after settlement, stake not folded",
			slog.String("ticket_id", ticketID),
			slog.String("competition_id", ticket.CompetitionID))
	} else {
		s.logger.Info("ticket funded",
			slog.String("ticket_id", ticketID),
			slog.String("competition_id", ticket.CompetitionID),
			slog.Int64("amount", ticket.Amount))
	}
	return nil
}

// PayoutRecord is the payment collaborator's report for one reward attempt.
type PayoutRecord struct {
	State             domain.TicketState
	RewardMsat        int64
	RewardFailure     string
	RewardPaymentHash string
}

// RecordPayout moves a ticket from an unpaid state to its paid or
// payment-failed successor and stores the payment bookkeeping. Illegal edges
// are rejected with ErrInvalidTransition.
func (s *TicketService) RecordPayout(ctx context.Context, ticketID string, rec PayoutRecord) (domain.Ticket, error) {
	ticket, err := s.tickets.GetByID(ctx, ticketID)
	if err != nil {
		return domain.Ticket{}, fmt.Errorf("ticket: record payout %s: %w", ticketID, err)
	}
	if !ticket.State.CanTransitionTo(rec.State) {
		return domain.Ticket{}, fmt.Errorf("ticket: record payout %s: %s -> %s: %w",
			ticketID, ticket.State, rec.State, domain.ErrInvalidTransition)
	}

	patch := domain.TicketPatch{State: &rec.State}
	if rec.RewardMsat != 0 {
		patch.RewardMsat = &rec.RewardMsat
	}
	if rec.RewardFailure != "" {
		patch.RewardFailure = &rec.RewardFailure
	}
	if rec.RewardPaymentHash != "" {
		patch.RewardPaymentHash = &rec.RewardPaymentHash
	}

	updated, err := s.tickets.Update(ctx, ticketID, patch)
	if err != nil {
		return domain.Ticket{}, fmt.Errorf("ticket: record payout %s: %w", ticketID, err)
	}

	s.logger.Info("payout recorded",
		slog.String("ticket_id", ticketID),
		slog.String("state", string(rec.State)),
		slog.Int64("reward_msat", rec.RewardMsat))
	return updated, nil
}

// Get returns a single ticket.
func (s *TicketService) Get(ctx context.Context, id string) (domain.Ticket, error) {
	ticket, err := s.tickets.GetByID(ctx, id)
	if err != nil {
		return domain.Ticket{}, fmt.Errorf("ticket: get %s: %w", id, err)
	}
	return ticket, nil
}

// ListByWallet returns the tickets bought by a wallet.
func (s *TicketService) ListByWallet(ctx context.Context, wallet string) ([]domain.Ticket, error) {
	tickets, err := s.tickets.ListByWallet(ctx, wallet)
	if err != nil {
		return nil, fmt.Errorf("ticket: list by wallet: %w", err)
	}
	return tickets, nil
}

// ListByCompetition returns all tickets of a competition, oldest first.
func (s *TicketService) ListByCompetition(ctx context.Context, competitionID string) ([]domain.Ticket, error) {
	tickets, err := s.tickets.ListByCompetition(ctx, competitionID)
	if err != nil {
		return nil, fmt.Errorf("ticket: list by competition: %w", err)
	}
	return tickets, nil
}

// PurgeExpired deletes the competition's INITIAL tickets older than the purge
// window and returns their reserved inventory. Zero deletions is a no-op and
// touches nothing. Re-running the purge is always safe: tickets are only
// deleted once, and the restore is sized by that deletion count.
func (s *TicketService) PurgeExpired(ctx context.Context, competitionID string) (int64, error) {
	cutoff := time.Now().UTC().Add(-s.purgeWindow)

	removed, err := s.tickets.DeleteExpiredInitial(ctx, competitionID, cutoff)
	if err != nil {
		return 0, fmt.Errorf("ticket: purge %s: %w", competitionID, err)
	}
	if removed == 0 {
		return 0, nil
	}

	if err := s.restoreInventory(ctx, competitionID, removed); err != nil {
		return removed, fmt.Errorf("ticket: purge %s restore: %w", competitionID, err)
	}

	s.logger.Info("expired tickets purged",
		slog.String("competition_id", competitionID),
		slog.Int64("removed", removed))

	if s.audit != nil {
		if err := s.audit.Log(ctx, "tickets_purged", map[string]any{
			"competition_id": competitionID,
			"removed":        removed,
		}); err != nil {
			s.logger.Warn("audit log failed", slog.String("error", err.Error()))
		}
	}
	return removed, nil
}

// restoreInventory hands n reserved units back to the competition. The write
// is conditional on the current value only, not on competition state, so
// reclamation still applies after settlement.
func (s *TicketService) restoreInventory(ctx context.Context, competitionID string, n int64) error {
	_, err := occ.Apply(ctx, s.occCfg, func(ctx context.Context) (occ.Status, error) {
		comp, err := s.comps.GetByID(ctx, competitionID)
		if err != nil {
			if errors.Is(err, domain.ErrNotFound) {
				// Competition deleted out from under the purge; nothing to
				// restore.
				return occ.Terminal, nil
			}
			return occ.Conflict, err
		}
		applied, err := s.comps.RestoreInventory(ctx, competitionID, comp.AmountTickets, comp.AmountTickets+n)
		if err != nil {
			return occ.Conflict, err
		}
		if applied {
			return occ.Applied, nil
		}
		return occ.Conflict, nil
	})
	return err
}
