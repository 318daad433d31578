package tasks

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/betsats/betsats/internal/domain"
)

// purgeLockTTL bounds a replica's claim on one competition's sweep.
const purgeLockTTL = time.Minute

// CompetitionLister is the read slice the purge loop needs.
type CompetitionLister interface {
	List(ctx context.Context) ([]domain.Competition, error)
}

// TicketPurger is the slice of the ticket service the purge loop needs.
type TicketPurger interface {
	PurgeExpired(ctx context.Context, competitionID string) (int64, error)
}

// PurgeLoop periodically deletes expired unfunded tickets and returns their
// reserved inventory. With a lock manager, replicas skip competitions another
// replica is already sweeping; without one, the purge is still correct, just
// occasionally duplicated.
type PurgeLoop struct {
	comps    CompetitionLister
	tickets  TicketPurger
	locks    domain.LockManager // optional
	interval time.Duration
	logger   *slog.Logger
}

// NewPurgeLoop creates a PurgeLoop that sweeps every interval.
func NewPurgeLoop(comps CompetitionLister, tickets TicketPurger, locks domain.LockManager, interval time.Duration, logger *slog.Logger) *PurgeLoop {
	return &PurgeLoop{
		comps:    comps,
		tickets:  tickets,
		locks:    locks,
		interval: interval,
		logger:   logger.With(slog.String("component", "purge_loop")),
	}
}

func (p *PurgeLoop) Name() string { return "purge_loop" }

// Run sweeps once immediately, then on every tick until ctx is cancelled.
func (p *PurgeLoop) Run(ctx context.Context) error {
	p.sweep(ctx)

	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			p.sweep(ctx)
		}
	}
}

// sweep purges every competition. Errors are per-competition: one failing
// sweep does not stop the rest.
func (p *PurgeLoop) sweep(ctx context.Context) {
	comps, err := p.comps.List(ctx)
	if err != nil {
		p.logger.Error("purge sweep list failed", slog.String("error", err.Error()))
		return
	}

	var removed int64
	for _, comp := range comps {
		if ctx.Err() != nil {
			return
		}
		n, err := p.purgeOne(ctx, comp.ID)
		if err != nil {
			p.logger.Error("purge failed",
				slog.String("competition_id", comp.ID),
				slog.String("error", err.Error()))
			continue
		}
		removed += n
	}

	if removed > 0 {
		p.logger.Info("purge sweep complete", slog.Int64("removed", removed))
	}
}

func (p *PurgeLoop) purgeOne(ctx context.Context, competitionID string) (int64, error) {
	if p.locks != nil {
		unlock, err := p.locks.Acquire(ctx, "purge:"+competitionID, purgeLockTTL)
		if err != nil {
			if errors.Is(err, domain.ErrLockHeld) {
				return 0, nil
			}
			// Broken lock backend: purge anyway, duplication is harmless.
			p.logger.Warn("purge lock unavailable",
				slog.String("competition_id", competitionID),
				slog.String("error", err.Error()))
		} else {
			defer unlock()
		}
	}
	return p.tickets.PurgeExpired(ctx, competitionID)
}

// Compile-time interface check.
var _ Task = (*PurgeLoop)(nil)
