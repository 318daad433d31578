package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/betsats/betsats/internal/domain"
)

// TicketStore implements domain.TicketStore using PostgreSQL.
type TicketStore struct {
	pool *pgxpool.Pool
}

// NewTicketStore creates a TicketStore backed by the given pool.
func NewTicketStore(pool *pgxpool.Pool) *TicketStore {
	return &TicketStore{pool: pool}
}

const ticketSelectCols = `id, wallet, competition_id, amount, reward_target, choice, state,
	reward_msat, reward_failure, reward_payment_hash, created_at`

// Create inserts a new ticket.
func (s *TicketStore) Create(ctx context.Context, t domain.Ticket) error {
	const query = `
		INSERT INTO tickets (
			id, wallet, competition_id, amount, reward_target, choice, state,
			reward_msat, reward_failure, reward_payment_hash, created_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`

	_, err := s.pool.Exec(ctx, query,
		t.ID, t.Wallet, t.CompetitionID, t.Amount, t.RewardTarget, t.Choice,
		string(t.State), t.RewardMsat, t.RewardFailure, t.RewardPaymentHash, t.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("postgres: create ticket %s: %w", t.ID, err)
	}
	return nil
}

func scanTicket(scanner interface{ Scan(dest ...any) error }) (domain.Ticket, error) {
	var t domain.Ticket
	var state string

	err := scanner.Scan(
		&t.ID, &t.Wallet, &t.CompetitionID, &t.Amount, &t.RewardTarget, &t.Choice,
		&state, &t.RewardMsat, &t.RewardFailure, &t.RewardPaymentHash, &t.CreatedAt,
	)
	if err != nil {
		return domain.Ticket{}, err
	}

	t.State = domain.TicketState(state)
	return t, nil
}

func scanTicketRows(rows pgx.Rows) ([]domain.Ticket, error) {
	var tickets []domain.Ticket
	for rows.Next() {
		t, err := scanTicket(rows)
		if err != nil {
			return nil, err
		}
		tickets = append(tickets, t)
	}
	return tickets, rows.Err()
}

// GetByID retrieves a single ticket by ID.
func (s *TicketStore) GetByID(ctx context.Context, id string) (domain.Ticket, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+ticketSelectCols+` FROM tickets WHERE id = $1`, id)

	t, err := scanTicket(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.Ticket{}, domain.ErrNotFound
		}
		return domain.Ticket{}, fmt.Errorf("postgres: get ticket %s: %w", id, err)
	}
	return t, nil
}

// ListByWallet returns all tickets bought by the given wallet.
func (s *TicketStore) ListByWallet(ctx context.Context, wallet string) ([]domain.Ticket, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+ticketSelectCols+` FROM tickets
		 WHERE wallet = $1 ORDER BY created_at DESC`, wallet)
	if err != nil {
		return nil, fmt.Errorf("postgres: list tickets by wallet: %w", err)
	}
	defer rows.Close()

	tickets, err := scanTicketRows(rows)
	if err != nil {
		return nil, fmt.Errorf("postgres: scan tickets by wallet: %w", err)
	}
	return tickets, nil
}

// ListByCompetition returns all tickets of a competition.
func (s *TicketStore) ListByCompetition(ctx context.Context, competitionID string) ([]domain.Ticket, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+ticketSelectCols+` FROM tickets
		 WHERE competition_id = $1 ORDER BY created_at`, competitionID)
	if err != nil {
		return nil, fmt.Errorf("postgres: list tickets by competition: %w", err)
	}
	defer rows.Close()

	tickets, err := scanTicketRows(rows)
	if err != nil {
		return nil, fmt.Errorf("postgres: scan tickets by competition: %w", err)
	}
	return tickets, nil
}

// ListByCompetitionAndStates returns the competition's tickets currently in
// any of the given states.
func (s *TicketStore) ListByCompetitionAndStates(ctx context.Context, competitionID string, states []domain.TicketState) ([]domain.Ticket, error) {
	if len(states) == 0 {
		return nil, nil
	}
	stateStrs := make([]string, len(states))
	for i, st := range states {
		stateStrs[i] = string(st)
	}

	rows, err := s.pool.Query(ctx,
		`SELECT `+ticketSelectCols+` FROM tickets
		 WHERE competition_id = $1 AND state = ANY($2) ORDER BY created_at`,
		competitionID, stateStrs)
	if err != nil {
		return nil, fmt.Errorf("postgres: list tickets by state: %w", err)
	}
	defer rows.Close()

	tickets, err := scanTicketRows(rows)
	if err != nil {
		return nil, fmt.Errorf("postgres: scan tickets by state: %w", err)
	}
	return tickets, nil
}

// CASState moves a ticket forward iff it is still in the old state.
func (s *TicketStore) CASState(ctx context.Context, id string, old, new domain.TicketState) (bool, error) {
	const query = `UPDATE tickets SET state = $3 WHERE id = $1 AND state = $2`

	tag, err := s.pool.Exec(ctx, query, id, string(old), string(new))
	if err != nil {
		return false, fmt.Errorf("postgres: cas ticket state %s: %w", id, err)
	}
	return tag.RowsAffected() > 0, nil
}

// Update applies an unconditional partial patch and returns the result.
func (s *TicketStore) Update(ctx context.Context, id string, patch domain.TicketPatch) (domain.Ticket, error) {
	query := `UPDATE tickets SET id = id`
	args := []any{id}
	argIdx := 2

	if patch.State != nil {
		query += fmt.Sprintf(", state = $%d", argIdx)
		args = append(args, string(*patch.State))
		argIdx++
	}
	if patch.RewardMsat != nil {
		query += fmt.Sprintf(", reward_msat = $%d", argIdx)
		args = append(args, *patch.RewardMsat)
		argIdx++
	}
	if patch.RewardFailure != nil {
		query += fmt.Sprintf(", reward_failure = $%d", argIdx)
		args = append(args, *patch.RewardFailure)
		argIdx++
	}
	if patch.RewardPaymentHash != nil {
		query += fmt.Sprintf(", reward_payment_hash = $%d", argIdx)
		args = append(args, *patch.RewardPaymentHash)
		argIdx++
	}
	query += ` WHERE id = $1 RETURNING ` + ticketSelectCols

	row := s.pool.QueryRow(ctx, query, args...)
	t, err := scanTicket(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.Ticket{}, domain.ErrNotFound
		}
		return domain.Ticket{}, fmt.Errorf("postgres: update ticket %s: %w", id, err)
	}
	return t, nil
}

// Delete removes a single ticket.
func (s *TicketStore) Delete(ctx context.Context, id string) error {
	tag, err := s.pool.Exec(ctx, `DELETE FROM tickets WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("postgres: delete ticket %s: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrNotFound
	}
	return nil
}

// DeleteByCompetition removes every ticket of a competition.
func (s *TicketStore) DeleteByCompetition(ctx context.Context, competitionID string) (int64, error) {
	tag, err := s.pool.Exec(ctx,
		`DELETE FROM tickets WHERE competition_id = $1`, competitionID)
	if err != nil {
		return 0, fmt.Errorf("postgres: delete tickets for %s: %w", competitionID, err)
	}
	return tag.RowsAffected(), nil
}

// DeleteExpiredInitial removes never-funded tickets created before the cutoff.
func (s *TicketStore) DeleteExpiredInitial(ctx context.Context, competitionID string, before time.Time) (int64, error) {
	const query = `
		DELETE FROM tickets
		WHERE competition_id = $1 AND state = 'INITIAL' AND created_at < $2`

	tag, err := s.pool.Exec(ctx, query, competitionID, before)
	if err != nil {
		return 0, fmt.Errorf("postgres: purge tickets for %s: %w", competitionID, err)
	}
	return tag.RowsAffected(), nil
}

// SumAmountsByChoice aggregates stakes across the whole ticket population.
func (s *TicketStore) SumAmountsByChoice(ctx context.Context, competitionID string) ([]domain.ChoiceSum, error) {
	const query = `
		SELECT choice, COALESCE(SUM(amount), 0)
		FROM tickets
		WHERE competition_id = $1
		GROUP BY choice
		ORDER BY choice`

	rows, err := s.pool.Query(ctx, query, competitionID)
	if err != nil {
		return nil, fmt.Errorf("postgres: sum choices for %s: %w", competitionID, err)
	}
	defer rows.Close()

	var sums []domain.ChoiceSum
	for rows.Next() {
		var cs domain.ChoiceSum
		if err := rows.Scan(&cs.Choice, &cs.Total); err != nil {
			return nil, fmt.Errorf("postgres: scan choice sum: %w", err)
		}
		sums = append(sums, cs)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: sum choices for %s: %w", competitionID, err)
	}
	return sums, nil
}

// ResolveFunded fans a decided outcome across all still-FUNDED tickets.
func (s *TicketStore) ResolveFunded(ctx context.Context, competitionID string, winningChoice int) (int64, int64, error) {
	wonTag, err := s.pool.Exec(ctx,
		`UPDATE tickets SET state = 'WON_UNPAID'
		 WHERE competition_id = $1 AND state = 'FUNDED' AND choice = $2`,
		competitionID, winningChoice)
	if err != nil {
		return 0, 0, fmt.Errorf("postgres: resolve winners for %s: %w", competitionID, err)
	}

	lostTag, err := s.pool.Exec(ctx,
		`UPDATE tickets SET state = 'LOST'
		 WHERE competition_id = $1 AND state = 'FUNDED' AND choice <> $2`,
		competitionID, winningChoice)
	if err != nil {
		return wonTag.RowsAffected(), 0, fmt.Errorf("postgres: resolve losers for %s: %w", competitionID, err)
	}

	return wonTag.RowsAffected(), lostTag.RowsAffected(), nil
}

// CancelFunded voids all still-FUNDED tickets.
func (s *TicketStore) CancelFunded(ctx context.Context, competitionID string) (int64, error) {
	tag, err := s.pool.Exec(ctx,
		`UPDATE tickets SET state = 'CANCELLED_UNPAID'
		 WHERE competition_id = $1 AND state = 'FUNDED'`, competitionID)
	if err != nil {
		return 0, fmt.Errorf("postgres: cancel funded for %s: %w", competitionID, err)
	}
	return tag.RowsAffected(), nil
}

// CountUnresolved counts tickets that have not reached a terminal state.
func (s *TicketStore) CountUnresolved(ctx context.Context, competitionID string) (int64, error) {
	const query = `
		SELECT COUNT(*) FROM tickets
		WHERE competition_id = $1
		AND state NOT IN ('WON_PAID', 'WON_PAYMENT_FAILED', 'LOST',
		                  'CANCELLED_PAID', 'CANCELLED_PAYMENT_FAILED')`

	var n int64
	if err := s.pool.QueryRow(ctx, query, competitionID).Scan(&n); err != nil {
		return 0, fmt.Errorf("postgres: count unresolved for %s: %w", competitionID, err)
	}
	return n, nil
}

// Compile-time interface check.
var _ domain.TicketStore = (*TicketStore)(nil)
