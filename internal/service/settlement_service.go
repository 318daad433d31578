package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/betsats/betsats/internal/domain"
)

// Notifier is the slice of the notification fan-out that settlement uses.
// *notify.Notifier satisfies it.
type Notifier interface {
	Notify(ctx context.Context, event, title, message string) error
}

// settleLockTTL bounds how long a settlement advisory lock can outlive a
// crashed holder.
const settleLockTTL = 30 * time.Second

// SettlementService records a competition's outcome and fans it out across
// the ticket population. Settlement is the only writer of the INITIAL ->
// SETTLED edge; the edge is taken with a conditional write that records the
// outcome in the same statement, so concurrent submissions of different
// outcomes can never both land.
type SettlementService struct {
	comps    domain.CompetitionStore
	tickets  domain.TicketStore
	audit    domain.AuditStore
	locks    domain.LockManager
	notifier Notifier
	logger   *slog.Logger
}

// SettlementOption customises a SettlementService.
type SettlementOption func(*SettlementService)

// WithLockManager makes settlement take a per-competition advisory lock. The
// lock only suppresses duplicate fan-out work between replicas; correctness
// does not depend on it.
func WithLockManager(locks domain.LockManager) SettlementOption {
	return func(s *SettlementService) { s.locks = locks }
}

// WithNotifier announces settled competitions through the given notifier.
func WithNotifier(n Notifier) SettlementOption {
	return func(s *SettlementService) { s.notifier = n }
}

// NewSettlementService creates a SettlementService.
func NewSettlementService(comps domain.CompetitionStore, tickets domain.TicketStore, audit domain.AuditStore, logger *slog.Logger, opts ...SettlementOption) *SettlementService {
	s := &SettlementService{
		comps:   comps,
		tickets: tickets,
		audit:   audit,
		logger:  logger.With(slog.String("component", "settlement_service")),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// SettleWithToken checks the organizer's register token before settling.
// Token comparison is constant-time.
func (s *SettlementService) SettleWithToken(ctx context.Context, competitionID, registerToken string, winningChoice int) error {
	comp, err := s.comps.GetByID(ctx, competitionID)
	if err != nil {
		return fmt.Errorf("settlement: %s: %w", competitionID, err)
	}
	if !comp.VerifyRegisterID(registerToken) {
		return fmt.Errorf("settlement: %s: register token mismatch: %w", competitionID, domain.ErrNotFound)
	}
	return s.Settle(ctx, competitionID, winningChoice)
}

// Settle records winningChoice as the competition's outcome and resolves its
// FUNDED tickets. A negative winningChoice voids the competition: every
// funded ticket moves to CANCELLED_UNPAID for refund.
//
// Settle is safe to re-run with the same outcome: the fan-out only touches
// tickets still in FUNDED, so a crash between recording the outcome and
// resolving the tickets is repaired by calling again. Re-running with a
// different outcome fails with ErrAlreadySettled.
func (s *SettlementService) Settle(ctx context.Context, competitionID string, winningChoice int) error {
	if s.locks != nil {
		unlock, err := s.locks.Acquire(ctx, "settle:"+competitionID, settleLockTTL)
		if err != nil {
			if errors.Is(err, domain.ErrLockHeld) {
				return fmt.Errorf("settlement: %s: %w", competitionID, err)
			}
			// A broken lock backend must not block settlement; log and carry
			// on, the conditional write still guarantees a single outcome.
			s.logger.Warn("settlement lock unavailable",
				slog.String("competition_id", competitionID),
				slog.String("error", err.Error()))
		} else {
			defer unlock()
		}
	}

	comp, err := s.comps.GetByID(ctx, competitionID)
	if err != nil {
		return fmt.Errorf("settlement: %s: %w", competitionID, err)
	}
	if winningChoice >= len(comp.Choices) {
		return fmt.Errorf("settlement: %s: choice %d: %w", competitionID, winningChoice, domain.ErrInvalidChoice)
	}
	if winningChoice < 0 {
		winningChoice = domain.WinningChoiceNone
	}

	if comp.State == domain.CompetitionStateSettled {
		if comp.WinningChoice != winningChoice {
			return fmt.Errorf("settlement: %s: recorded %d, submitted %d: %w",
				competitionID, comp.WinningChoice, winningChoice, domain.ErrAlreadySettled)
		}
		// Same outcome again: fall through and redo the fan-out, which is a
		// no-op unless a previous run died partway.
	} else {
		// Final totals come from the whole ticket population, not from the
		// incrementally folded Choice.Total.
		sums, err := s.tickets.SumAmountsByChoice(ctx, competitionID)
		if err != nil {
			return fmt.Errorf("settlement: %s: %w", competitionID, err)
		}
		final := append([]domain.Choice(nil), comp.Choices...)
		for i := range final {
			final[i].Total = 0
		}
		for _, cs := range sums {
			if cs.Choice >= 0 && cs.Choice < len(final) {
				final[cs.Choice].Total = cs.Total
			}
		}

		applied, err := s.comps.CASSettle(ctx, competitionID, final, winningChoice)
		if err != nil {
			return fmt.Errorf("settlement: %s: %w", competitionID, err)
		}
		if !applied {
			// Someone else took the edge first; only the same outcome may
			// proceed to the (idempotent) fan-out.
			cur, err := s.comps.GetByID(ctx, competitionID)
			if err != nil {
				return fmt.Errorf("settlement: %s: %w", competitionID, err)
			}
			if cur.WinningChoice != winningChoice {
				return fmt.Errorf("settlement: %s: recorded %d, submitted %d: %w",
					competitionID, cur.WinningChoice, winningChoice, domain.ErrAlreadySettled)
			}
		}
	}

	var won, lost, cancelled int64
	if winningChoice == domain.WinningChoiceNone {
		cancelled, err = s.tickets.CancelFunded(ctx, competitionID)
		if err != nil {
			return fmt.Errorf("settlement: %s: cancel funded: %w", competitionID, err)
		}
	} else {
		won, lost, err = s.tickets.ResolveFunded(ctx, competitionID, winningChoice)
		if err != nil {
			return fmt.Errorf("settlement: %s: resolve funded: %w", competitionID, err)
		}
	}

	s.logger.Info("competition settled",
		slog.String("competition_id", competitionID),
		slog.Int("winning_choice", winningChoice),
		slog.Int64("won", won),
		slog.Int64("lost", lost),
		slog.Int64("cancelled", cancelled))

	if s.audit != nil {
		if err := s.audit.Log(ctx, "competition_settled", map[string]any{
			"competition_id": competitionID,
			"winning_choice": winningChoice,
			"won":            won,
			"lost":           lost,
			"cancelled":      cancelled,
		}); err != nil {
			s.logger.Warn("audit log failed", slog.String("error", err.Error()))
		}
	}

	if s.notifier != nil {
		title := fmt.Sprintf("Competition settled: %s", comp.Name)
		var msg string
		if winningChoice == domain.WinningChoiceNone {
			msg = fmt.Sprintf("Voided; %d funded tickets cancelled for refund.", cancelled)
		} else {
			msg = fmt.Sprintf("Winning choice %d (%s); %d won, %d lost.",
				winningChoice, comp.Choices[winningChoice].Title, won, lost)
		}
		if err := s.notifier.Notify(ctx, "settlement", title, msg); err != nil {
			s.logger.Warn("settlement notification failed",
				slog.String("competition_id", competitionID),
				slog.String("error", err.Error()))
		}
	}
	return nil
}
