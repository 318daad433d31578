package service

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/betsats/betsats/internal/domain"
)

// After settlement with a decided outcome, no ticket is left in FUNDED:
// matching stakes are WON_UNPAID and the rest LOST.
func TestSettleResolvesEveryFundedTicket(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	comp := f.createCompetition(t, 10)

	choices := []int{0, 1, 0, 1}
	var ids []string
	for _, c := range choices {
		ids = append(ids, f.buyFunded(t, comp.ID, c, 500).ID)
	}

	require.NoError(t, f.settlement.Settle(ctx, comp.ID, 1))

	settled, err := f.competitions.Get(ctx, comp.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.CompetitionStateSettled, settled.State)
	assert.Equal(t, 1, settled.WinningChoice)
	assert.Equal(t, int64(1000), settled.Choices[0].Total)
	assert.Equal(t, int64(1000), settled.Choices[1].Total)

	want := []domain.TicketState{
		domain.TicketStateLost,
		domain.TicketStateWonUnpaid,
		domain.TicketStateLost,
		domain.TicketStateWonUnpaid,
	}
	for i, id := range ids {
		got, err := f.tickets.Get(ctx, id)
		require.NoError(t, err)
		assert.Equal(t, want[i], got.State, "ticket %d", i)
	}
}

// A negative winning choice voids the competition: every funded ticket is
// cancelled for refund and the outcome stays undecided.
func TestSettleVoidCancelsFunded(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	comp := f.createCompetition(t, 10)

	a := f.buyFunded(t, comp.ID, 0, 500)
	b := f.buyFunded(t, comp.ID, 1, 700)

	require.NoError(t, f.settlement.Settle(ctx, comp.ID, -1))

	settled, err := f.competitions.Get(ctx, comp.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.CompetitionStateSettled, settled.State)
	assert.False(t, settled.Decided())

	for _, id := range []string{a.ID, b.ID} {
		got, err := f.tickets.Get(ctx, id)
		require.NoError(t, err)
		assert.Equal(t, domain.TicketStateCancelledUnpaid, got.State)
	}
}

func TestSettleInvalidChoice(t *testing.T) {
	f := newFixture(t)
	comp := f.createCompetition(t, 10)

	err := f.settlement.Settle(context.Background(), comp.ID, 2)
	assert.ErrorIs(t, err, domain.ErrInvalidChoice)
}

func TestSettleSameOutcomeIsIdempotent(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	comp := f.createCompetition(t, 10)

	winner := f.buyFunded(t, comp.ID, 0, 500)

	require.NoError(t, f.settlement.Settle(ctx, comp.ID, 0))
	require.NoError(t, f.settlement.Settle(ctx, comp.ID, 0))

	got, err := f.tickets.Get(ctx, winner.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.TicketStateWonUnpaid, got.State)
}

func TestSettleDifferentOutcomeRejected(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	comp := f.createCompetition(t, 10)

	f.buyFunded(t, comp.ID, 0, 500)

	require.NoError(t, f.settlement.Settle(ctx, comp.ID, 0))

	assert.ErrorIs(t, f.settlement.Settle(ctx, comp.ID, 1), domain.ErrAlreadySettled)
	// A void after a decided settlement is also a different outcome.
	assert.ErrorIs(t, f.settlement.Settle(ctx, comp.ID, -1), domain.ErrAlreadySettled)
}

// Concurrent settlement attempts with different outcomes: exactly one outcome
// is recorded, and the ticket population reflects only that outcome.
func TestConcurrentSettleSingleOutcome(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	comp := f.createCompetition(t, 10)

	ticket := f.buyFunded(t, comp.ID, 0, 500)

	var wg sync.WaitGroup
	errs := make([]error, 2)
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			errs[i] = f.settlement.Settle(ctx, comp.ID, i)
		}(i)
	}
	wg.Wait()

	settled, err := f.competitions.Get(ctx, comp.ID)
	require.NoError(t, err)
	require.Equal(t, domain.CompetitionStateSettled, settled.State)

	winner := settled.WinningChoice
	require.Contains(t, []int{0, 1}, winner)
	assert.NoError(t, errs[winner])
	assert.ErrorIs(t, errs[1-winner], domain.ErrAlreadySettled)

	got, err := f.tickets.Get(ctx, ticket.ID)
	require.NoError(t, err)
	if winner == 0 {
		assert.Equal(t, domain.TicketStateWonUnpaid, got.State)
	} else {
		assert.Equal(t, domain.TicketStateLost, got.State)
	}
}

// A crash between recording the outcome and resolving tickets is repaired by
// re-running settlement with the same outcome: the fan-out only touches
// tickets still in FUNDED.
func TestSettleRerunCompletesInterruptedFanOut(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	comp := f.createCompetition(t, 10)

	a := f.buyFunded(t, comp.ID, 0, 500)
	b := f.buyFunded(t, comp.ID, 1, 500)

	// Simulate the interrupted run: outcome recorded, fan-out never ran.
	applied, err := f.comps.CASSettle(ctx, comp.ID, comp.Choices, 0)
	require.NoError(t, err)
	require.True(t, applied)

	require.NoError(t, f.settlement.Settle(ctx, comp.ID, 0))

	gotA, err := f.tickets.Get(ctx, a.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.TicketStateWonUnpaid, gotA.State)

	gotB, err := f.tickets.Get(ctx, b.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.TicketStateLost, gotB.State)
}

func TestSettleWithToken(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	comp := f.createCompetition(t, 10)

	err := f.settlement.SettleWithToken(ctx, comp.ID, "wrong-token", 0)
	assert.ErrorIs(t, err, domain.ErrNotFound)

	got, err := f.competitions.Get(ctx, comp.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.CompetitionStateInitial, got.State)

	require.NoError(t, f.settlement.SettleWithToken(ctx, comp.ID, comp.RegisterID, 0))

	got, err = f.competitions.Get(ctx, comp.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.CompetitionStateSettled, got.State)
}
