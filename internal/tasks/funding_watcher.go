package tasks

import (
	"context"
	"log/slog"
	"time"

	"github.com/betsats/betsats/internal/domain"
)

// TicketFunder is the slice of the ticket service the watcher needs.
type TicketFunder interface {
	MarkFunded(ctx context.Context, ticketID string) error
}

// FundingWatcher consumes funding events from the bus and marks the
// corresponding tickets as paid. A failed event is logged and skipped: the
// payment side republishes on its own schedule, and the ticket state CAS
// makes redelivery a no-op.
type FundingWatcher struct {
	bus     domain.FundingBus
	tickets TicketFunder
	logger  *slog.Logger
}

// NewFundingWatcher creates a FundingWatcher.
func NewFundingWatcher(bus domain.FundingBus, tickets TicketFunder, logger *slog.Logger) *FundingWatcher {
	return &FundingWatcher{
		bus:     bus,
		tickets: tickets,
		logger:  logger.With(slog.String("component", "funding_watcher")),
	}
}

func (w *FundingWatcher) Name() string { return "funding_watcher" }

// Run subscribes to the funding stream and processes events until ctx is
// cancelled. If the stream ends while the context is still alive, Run
// resubscribes after a short delay.
func (w *FundingWatcher) Run(ctx context.Context) error {
	for {
		events, err := w.bus.Fundings(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			w.logger.Warn("funding subscription failed",
				slog.String("error", err.Error()))
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(time.Second):
			}
			continue
		}

		for ev := range events {
			if err := w.tickets.MarkFunded(ctx, ev.TicketID); err != nil {
				w.logger.Error("funding event failed",
					slog.String("ticket_id", ev.TicketID),
					slog.String("payment_hash", ev.PaymentHash),
					slog.String("error", err.Error()))
				continue
			}
		}

		if ctx.Err() != nil {
			return ctx.Err()
		}
		w.logger.Warn("funding stream ended, resubscribing")
	}
}

// Compile-time interface check.
var _ Task = (*FundingWatcher)(nil)
