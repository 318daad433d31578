package service

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/betsats/betsats/internal/domain"
)

func TestPurchaseValidation(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	comp := f.createCompetition(t, 10)

	_, err := f.tickets.Purchase(ctx, PurchaseParams{
		CompetitionID: comp.ID, Wallet: "w", Amount: 500, Choice: 7,
	})
	assert.ErrorIs(t, err, domain.ErrInvalidChoice)

	_, err = f.tickets.Purchase(ctx, PurchaseParams{
		CompetitionID: comp.ID, Wallet: "w", Amount: 1, Choice: 0,
	})
	assert.ErrorIs(t, err, domain.ErrBetOutOfRange)

	_, err = f.tickets.Purchase(ctx, PurchaseParams{
		CompetitionID: comp.ID, Wallet: "w", Amount: 1_000_000, Choice: 0,
	})
	assert.ErrorIs(t, err, domain.ErrBetOutOfRange)

	_, err = f.tickets.Purchase(ctx, PurchaseParams{
		CompetitionID: "nope", Wallet: "w", Amount: 500, Choice: 0,
	})
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestPurchaseReservesInventory(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	comp := f.createCompetition(t, 3)

	ticket, err := f.tickets.Purchase(ctx, PurchaseParams{
		CompetitionID: comp.ID, Wallet: "w", Amount: 500, Choice: 1,
	})
	require.NoError(t, err)
	assert.Equal(t, domain.TicketStateInitial, ticket.State)

	got, err := f.competitions.Get(ctx, comp.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(2), got.AmountTickets)
	// The stake is not folded until funding.
	assert.Equal(t, int64(0), got.Sold)
	assert.Equal(t, int64(0), got.Choices[1].Total)
}

func TestPurchaseSoldOut(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	comp := f.createCompetition(t, 1)

	_, err := f.tickets.Purchase(ctx, PurchaseParams{
		CompetitionID: comp.ID, Wallet: "w", Amount: 500, Choice: 0,
	})
	require.NoError(t, err)

	_, err = f.tickets.Purchase(ctx, PurchaseParams{
		CompetitionID: comp.ID, Wallet: "w", Amount: 500, Choice: 0,
	})
	assert.ErrorIs(t, err, domain.ErrSoldOut)
}

func TestPurchaseRejectedAfterSettlement(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	comp := f.createCompetition(t, 10)

	require.NoError(t, f.settlement.Settle(ctx, comp.ID, 0))

	_, err := f.tickets.Purchase(ctx, PurchaseParams{
		CompetitionID: comp.ID, Wallet: "w", Amount: 500, Choice: 0,
	})
	assert.ErrorIs(t, err, domain.ErrCompetitionClosed)
}

// Concurrent buyers can never oversell the inventory: with N units and more
// than N buyers, exactly N purchases succeed and the rest see ErrSoldOut.
func TestConcurrentPurchaseNoOversell(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	const inventory = 20
	const buyers = 50
	comp := f.createCompetition(t, inventory)

	var wg sync.WaitGroup
	errs := make([]error, buyers)
	for i := 0; i < buyers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, err := f.tickets.Purchase(ctx, PurchaseParams{
				CompetitionID: comp.ID,
				Wallet:        "w",
				Amount:        500,
				Choice:        i % 2,
			})
			errs[i] = err
		}(i)
	}
	wg.Wait()

	var ok, soldOut int
	for _, err := range errs {
		switch {
		case err == nil:
			ok++
		default:
			require.ErrorIs(t, err, domain.ErrSoldOut)
			soldOut++
		}
	}
	assert.Equal(t, inventory, ok)
	assert.Equal(t, buyers-inventory, soldOut)

	got, err := f.competitions.Get(ctx, comp.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(0), got.AmountTickets)

	rows, err := f.tickets.ListByCompetition(ctx, comp.ID)
	require.NoError(t, err)
	assert.Len(t, rows, inventory)
}

// N concurrent funding notifications for the same ticket fold its stake into
// the competition aggregates exactly once.
func TestConcurrentMarkFundedFoldsOnce(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	comp := f.createCompetition(t, 10)

	ticket, err := f.tickets.Purchase(ctx, PurchaseParams{
		CompetitionID: comp.ID, Wallet: "w", Amount: 700, Choice: 1,
	})
	require.NoError(t, err)

	const notifications = 25
	var wg sync.WaitGroup
	for i := 0; i < notifications; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			assert.NoError(t, f.tickets.MarkFunded(ctx, ticket.ID))
		}()
	}
	wg.Wait()

	got, err := f.competitions.Get(ctx, comp.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(1), got.Sold)
	assert.Equal(t, int64(700), got.Choices[1].Total)
	assert.Equal(t, int64(0), got.Choices[0].Total)

	fundedTicket, err := f.tickets.Get(ctx, ticket.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.TicketStateFunded, fundedTicket.State)
}

func TestMarkFundedDistinctTicketsAggregate(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	comp := f.createCompetition(t, 10)

	var ids []string
	for i := 0; i < 6; i++ {
		ticket, err := f.tickets.Purchase(ctx, PurchaseParams{
			CompetitionID: comp.ID, Wallet: "w", Amount: 100, Choice: i % 2,
		})
		require.NoError(t, err)
		ids = append(ids, ticket.ID)
	}

	var wg sync.WaitGroup
	for _, id := range ids {
		wg.Add(1)
		go func(id string) {
			defer wg.Done()
			assert.NoError(t, f.tickets.MarkFunded(ctx, id))
		}(id)
	}
	wg.Wait()

	got, err := f.competitions.Get(ctx, comp.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(6), got.Sold)
	assert.Equal(t, int64(300), got.Choices[0].Total)
	assert.Equal(t, int64(300), got.Choices[1].Total)
}

func TestMarkFundedAfterSettlementKeepsTicketNotAggregates(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	comp := f.createCompetition(t, 10)

	ticket, err := f.tickets.Purchase(ctx, PurchaseParams{
		CompetitionID: comp.ID, Wallet: "w", Amount: 500, Choice: 0,
	})
	require.NoError(t, err)

	require.NoError(t, f.settlement.Settle(ctx, comp.ID, 0))
	require.NoError(t, f.tickets.MarkFunded(ctx, ticket.ID))

	got, err := f.tickets.Get(ctx, ticket.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.TicketStateFunded, got.State)

	settled, err := f.competitions.Get(ctx, comp.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(0), settled.Sold)
}

func TestRecordPayoutTransitions(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	comp := f.createCompetition(t, 10)

	winner := f.buyFunded(t, comp.ID, 0, 500)
	require.NoError(t, f.settlement.Settle(ctx, comp.ID, 0))

	// FUNDED (already resolved to WON_UNPAID) cannot jump to CANCELLED_PAID.
	_, err := f.tickets.RecordPayout(ctx, winner.ID, PayoutRecord{
		State: domain.TicketStateCancelledPaid,
	})
	assert.ErrorIs(t, err, domain.ErrInvalidTransition)

	got, err := f.tickets.RecordPayout(ctx, winner.ID, PayoutRecord{
		State:             domain.TicketStateWonPaid,
		RewardMsat:        450_000,
		RewardPaymentHash: "deadbeef",
	})
	require.NoError(t, err)
	assert.Equal(t, domain.TicketStateWonPaid, got.State)
	assert.Equal(t, int64(450_000), got.RewardMsat)
	assert.Equal(t, "deadbeef", got.RewardPaymentHash)

	// Terminal states have no successors.
	_, err = f.tickets.RecordPayout(ctx, winner.ID, PayoutRecord{
		State: domain.TicketStateWonPaymentFailed,
	})
	assert.ErrorIs(t, err, domain.ErrInvalidTransition)
}

func TestPurgeExpiredRestoresInventory(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	comp := f.createCompetition(t, 10)

	// Two stale INITIAL tickets whose inventory was reserved, one fresh one,
	// and one stale but funded ticket that must survive.
	stale := time.Now().UTC().Add(-time.Hour)
	for i := 0; i < 2; i++ {
		reserveOne(t, f, comp.ID)
		require.NoError(t, f.ticketRows.Create(ctx, domain.Ticket{
			ID: uuid.NewString(), Wallet: "w", CompetitionID: comp.ID,
			Amount: 500, Choice: 0, State: domain.TicketStateInitial, CreatedAt: stale,
		}))
	}
	fresh, err := f.tickets.Purchase(ctx, PurchaseParams{
		CompetitionID: comp.ID, Wallet: "w", Amount: 500, Choice: 0,
	})
	require.NoError(t, err)

	reserveOne(t, f, comp.ID)
	fundedID := uuid.NewString()
	require.NoError(t, f.ticketRows.Create(ctx, domain.Ticket{
		ID: fundedID, Wallet: "w", CompetitionID: comp.ID,
		Amount: 500, Choice: 1, State: domain.TicketStateFunded, CreatedAt: stale,
	}))

	before, err := f.competitions.Get(ctx, comp.ID)
	require.NoError(t, err)
	require.Equal(t, int64(6), before.AmountTickets)

	removed, err := f.tickets.PurgeExpired(ctx, comp.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(2), removed)

	after, err := f.competitions.Get(ctx, comp.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(8), after.AmountTickets)

	rows, err := f.tickets.ListByCompetition(ctx, comp.ID)
	require.NoError(t, err)
	require.Len(t, rows, 2)
	for _, row := range rows {
		assert.Contains(t, []string{fresh.ID, fundedID}, row.ID)
	}

	// Re-running finds nothing and restores nothing.
	removed, err = f.tickets.PurgeExpired(ctx, comp.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(0), removed)

	again, err := f.competitions.Get(ctx, comp.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(8), again.AmountTickets)
}

func TestPurgeRestoresAfterSettlement(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	comp := f.createCompetition(t, 5)

	reserveOne(t, f, comp.ID)
	require.NoError(t, f.ticketRows.Create(ctx, domain.Ticket{
		ID: uuid.NewString(), Wallet: "w", CompetitionID: comp.ID,
		Amount: 500, Choice: 0, State: domain.TicketStateInitial,
		CreatedAt: time.Now().UTC().Add(-time.Hour),
	}))

	require.NoError(t, f.settlement.Settle(ctx, comp.ID, 0))

	removed, err := f.tickets.PurgeExpired(ctx, comp.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(1), removed)

	got, err := f.competitions.Get(ctx, comp.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(5), got.AmountTickets)
}

// reserveOne decrements inventory the way Purchase does, for tests that
// insert ticket rows directly with a back-dated CreatedAt.
func reserveOne(t *testing.T, f *fixture, compID string) {
	t.Helper()
	comp, err := f.comps.GetByID(context.Background(), compID)
	require.NoError(t, err)
	applied, err := f.comps.CASInventory(context.Background(), compID, comp.AmountTickets, comp.AmountTickets-1)
	require.NoError(t, err)
	require.True(t, applied)
}
