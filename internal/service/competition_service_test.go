package service

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/betsats/betsats/internal/domain"
)

func TestCreateCompetitionRoundTrip(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	created := f.createCompetition(t, 50)

	got, err := f.competitions.Get(ctx, created.ID)
	require.NoError(t, err)

	assert.Equal(t, domain.CompetitionStateInitial, got.State)
	assert.Equal(t, domain.WinningChoiceNone, got.WinningChoice)
	assert.Equal(t, int64(50), got.AmountTickets)
	assert.Equal(t, int64(0), got.Sold)
	require.Len(t, got.Choices, 2)
	for _, c := range got.Choices {
		assert.Equal(t, int64(0), c.Total)
	}
	assert.NotEmpty(t, got.RegisterID)
	assert.True(t, got.VerifyRegisterID(created.RegisterID))
	assert.False(t, got.VerifyRegisterID("wrong-token"))
}

func TestCreateCompetitionValidation(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	base := CreateCompetitionParams{
		Wallet:        "w",
		Name:          "n",
		AmountTickets: 10,
		MinBet:        1,
		MaxBet:        2,
		ChoiceTitles:  []string{"a", "b"},
	}

	tests := []struct {
		name   string
		mutate func(*CreateCompetitionParams)
	}{
		{"missing wallet", func(p *CreateCompetitionParams) { p.Wallet = "" }},
		{"missing name", func(p *CreateCompetitionParams) { p.Name = "" }},
		{"single choice", func(p *CreateCompetitionParams) { p.ChoiceTitles = []string{"only"} }},
		{"zero inventory", func(p *CreateCompetitionParams) { p.AmountTickets = 0 }},
		{"inverted bet bounds", func(p *CreateCompetitionParams) { p.MinBet = 5; p.MaxBet = 1 }},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			params := base
			tc.mutate(&params)
			_, err := f.competitions.Create(ctx, params)
			assert.Error(t, err)
		})
	}
}

func TestGetMissingCompetition(t *testing.T) {
	f := newFixture(t)

	_, err := f.competitions.Get(context.Background(), "nope")
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestUpdateCompetitionWhileInitial(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	comp := f.createCompetition(t, 10)

	newAmount := int64(25)
	newCloses := time.Now().Add(48 * time.Hour).UTC().Truncate(time.Second)

	updated, err := f.competitions.Update(ctx, comp.ID, domain.CompetitionPatch{
		AmountTickets: &newAmount,
		ClosesAt:      &newCloses,
	})
	require.NoError(t, err)
	assert.Equal(t, int64(25), updated.AmountTickets)
	assert.True(t, updated.ClosesAt.Equal(newCloses))
}

func TestUpdateCompetitionRejectedAfterSettlement(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	comp := f.createCompetition(t, 10)

	require.NoError(t, f.settlement.Settle(ctx, comp.ID, 0))

	newAmount := int64(99)
	_, err := f.competitions.Update(ctx, comp.ID, domain.CompetitionPatch{AmountTickets: &newAmount})
	assert.ErrorIs(t, err, domain.ErrCompetitionClosed)

	got, err := f.competitions.Get(ctx, comp.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(10), got.AmountTickets)
}

func TestDeleteCompetitionRemovesTickets(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	comp := f.createCompetition(t, 10)

	f.buyFunded(t, comp.ID, 0, 500)
	f.buyFunded(t, comp.ID, 1, 500)

	require.NoError(t, f.competitions.Delete(ctx, comp.ID))

	_, err := f.competitions.Get(ctx, comp.ID)
	assert.ErrorIs(t, err, domain.ErrNotFound)

	remaining, err := f.tickets.ListByCompetition(ctx, comp.ID)
	require.NoError(t, err)
	assert.Empty(t, remaining)
}

func TestPaymentCompletePredicate(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	comp := f.createCompetition(t, 10)

	// No tickets at all counts as complete.
	done, err := f.competitions.PaymentComplete(ctx, comp.ID)
	require.NoError(t, err)
	assert.True(t, done)

	winner := f.buyFunded(t, comp.ID, 0, 500)
	loser := f.buyFunded(t, comp.ID, 1, 500)

	done, err = f.competitions.PaymentComplete(ctx, comp.ID)
	require.NoError(t, err)
	assert.False(t, done)

	require.NoError(t, f.settlement.Settle(ctx, comp.ID, 0))

	// Loser is LOST (terminal); winner is WON_UNPAID and still blocks.
	done, err = f.competitions.PaymentComplete(ctx, comp.ID)
	require.NoError(t, err)
	assert.False(t, done)

	_, err = f.tickets.RecordPayout(ctx, winner.ID, PayoutRecord{
		State:             domain.TicketStateWonPaid,
		RewardMsat:        900_000,
		RewardPaymentHash: "abc123",
	})
	require.NoError(t, err)

	done, err = f.competitions.PaymentComplete(ctx, comp.ID)
	require.NoError(t, err)
	assert.True(t, done)

	got, err := f.tickets.Get(ctx, loser.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.TicketStateLost, got.State)
}

func TestChoiceSumsFromTicketPopulation(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	comp := f.createCompetition(t, 10)

	f.buyFunded(t, comp.ID, 0, 300)
	f.buyFunded(t, comp.ID, 1, 200)
	f.buyFunded(t, comp.ID, 1, 500)

	// An unfunded ticket still counts toward the population sums.
	_, err := f.tickets.Purchase(ctx, PurchaseParams{
		CompetitionID: comp.ID,
		Wallet:        "wallet-buyer",
		Amount:        100,
		Choice:        0,
	})
	require.NoError(t, err)

	sums, err := f.competitions.ChoiceSums(ctx, comp.ID)
	require.NoError(t, err)
	require.Len(t, sums, 2)
	assert.Equal(t, domain.ChoiceSum{Choice: 0, Total: 400}, sums[0])
	assert.Equal(t, domain.ChoiceSum{Choice: 1, Total: 700}, sums[1])
}
