package service

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/betsats/betsats/internal/domain"
	"github.com/betsats/betsats/internal/occ"
	"github.com/betsats/betsats/internal/store/memory"
)

type fixture struct {
	comps      *memory.CompetitionStore
	ticketRows *memory.TicketStore
	audit      *memory.AuditStore

	competitions *CompetitionService
	tickets      *TicketService
	settlement   *SettlementService
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	comps := memory.NewCompetitionStore()
	ticketRows := memory.NewTicketStore()
	audit := memory.NewAuditStore()

	return &fixture{
		comps:        comps,
		ticketRows:   ticketRows,
		audit:        audit,
		competitions: NewCompetitionService(comps, ticketRows, audit, logger),
		tickets:      NewTicketService(comps, ticketRows, audit, occ.Config{}, 0, logger),
		settlement:   NewSettlementService(comps, ticketRows, audit, logger),
	}
}

func (f *fixture) createCompetition(t *testing.T, amountTickets int64) domain.Competition {
	t.Helper()

	comp, err := f.competitions.Create(context.Background(), CreateCompetitionParams{
		Wallet:        "wallet-organizer",
		Name:          "Cup Final",
		Info:          "Who takes the cup?",
		ClosesAt:      time.Now().Add(24 * time.Hour),
		AmountTickets: amountTickets,
		MinBet:        100,
		MaxBet:        10_000,
		ChoiceTitles:  []string{"Home", "Away"},
	})
	require.NoError(t, err)
	return comp
}

func (f *fixture) buyFunded(t *testing.T, compID string, choice int, amount int64) domain.Ticket {
	t.Helper()

	ticket, err := f.tickets.Purchase(context.Background(), PurchaseParams{
		CompetitionID: compID,
		Wallet:        "wallet-buyer",
		Amount:        amount,
		RewardTarget:  "buyer@pay.example",
		Choice:        choice,
	})
	require.NoError(t, err)
	require.NoError(t, f.tickets.MarkFunded(context.Background(), ticket.ID))

	funded, err := f.tickets.Get(context.Background(), ticket.ID)
	require.NoError(t, err)
	return funded
}
