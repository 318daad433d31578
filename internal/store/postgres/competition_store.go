package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/betsats/betsats/internal/domain"
)

// CompetitionStore implements domain.CompetitionStore using PostgreSQL.
type CompetitionStore struct {
	pool *pgxpool.Pool
}

// NewCompetitionStore creates a CompetitionStore backed by the given pool.
func NewCompetitionStore(pool *pgxpool.Pool) *CompetitionStore {
	return &CompetitionStore{pool: pool}
}

const competitionSelectCols = `id, wallet, register_id, name, info, banner, closes_at,
	amount_tickets, min_bet, max_bet, sold, choices, winning_choice, state, created_at`

// Create inserts a new competition.
func (s *CompetitionStore) Create(ctx context.Context, c domain.Competition) error {
	choicesJSON, err := json.Marshal(c.Choices)
	if err != nil {
		return fmt.Errorf("postgres: marshal choices: %w", err)
	}

	const query = `
		INSERT INTO competitions (
			id, wallet, register_id, name, info, banner, closes_at,
			amount_tickets, min_bet, max_bet, sold, choices, winning_choice, state, created_at
		) VALUES (
			$1, $2, $3, $4, $5, $6, $7,
			$8, $9, $10, $11, $12, $13, $14, $15
		)`

	_, err = s.pool.Exec(ctx, query,
		c.ID, c.Wallet, c.RegisterID, c.Name, c.Info, c.Banner, c.ClosesAt,
		c.AmountTickets, c.MinBet, c.MaxBet, c.Sold, choicesJSON,
		c.WinningChoice, string(c.State), c.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("postgres: create competition %s: %w", c.ID, err)
	}
	return nil
}

func scanCompetition(scanner interface{ Scan(dest ...any) error }) (domain.Competition, error) {
	var c domain.Competition
	var state string
	var choicesJSON []byte

	err := scanner.Scan(
		&c.ID, &c.Wallet, &c.RegisterID, &c.Name, &c.Info, &c.Banner, &c.ClosesAt,
		&c.AmountTickets, &c.MinBet, &c.MaxBet, &c.Sold, &choicesJSON,
		&c.WinningChoice, &state, &c.CreatedAt,
	)
	if err != nil {
		return domain.Competition{}, err
	}

	c.State = domain.CompetitionState(state)
	if err := json.Unmarshal(choicesJSON, &c.Choices); err != nil {
		return domain.Competition{}, fmt.Errorf("unmarshal choices: %w", err)
	}
	return c, nil
}

func scanCompetitionRows(rows pgx.Rows) ([]domain.Competition, error) {
	var comps []domain.Competition
	for rows.Next() {
		c, err := scanCompetition(rows)
		if err != nil {
			return nil, err
		}
		comps = append(comps, c)
	}
	return comps, rows.Err()
}

// GetByID retrieves a single competition by ID.
func (s *CompetitionStore) GetByID(ctx context.Context, id string) (domain.Competition, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+competitionSelectCols+` FROM competitions WHERE id = $1`, id)

	c, err := scanCompetition(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.Competition{}, domain.ErrNotFound
		}
		return domain.Competition{}, fmt.Errorf("postgres: get competition %s: %w", id, err)
	}
	return c, nil
}

// ListByWallet returns all competitions owned by the given wallet.
func (s *CompetitionStore) ListByWallet(ctx context.Context, wallet string) ([]domain.Competition, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+competitionSelectCols+` FROM competitions
		 WHERE wallet = $1 ORDER BY created_at DESC`, wallet)
	if err != nil {
		return nil, fmt.Errorf("postgres: list competitions by wallet: %w", err)
	}
	defer rows.Close()

	comps, err := scanCompetitionRows(rows)
	if err != nil {
		return nil, fmt.Errorf("postgres: scan competitions by wallet: %w", err)
	}
	return comps, nil
}

// List returns all competitions.
func (s *CompetitionStore) List(ctx context.Context) ([]domain.Competition, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+competitionSelectCols+` FROM competitions ORDER BY created_at DESC`)
	if err != nil {
		return nil, fmt.Errorf("postgres: list competitions: %w", err)
	}
	defer rows.Close()

	comps, err := scanCompetitionRows(rows)
	if err != nil {
		return nil, fmt.Errorf("postgres: scan competitions: %w", err)
	}
	return comps, nil
}

// UpdateDetails applies organizer edits while the competition is INITIAL.
func (s *CompetitionStore) UpdateDetails(ctx context.Context, id string, patch domain.CompetitionPatch) (bool, error) {
	query := `UPDATE competitions SET id = id`
	args := []any{id}
	argIdx := 2

	if patch.AmountTickets != nil {
		query += fmt.Sprintf(", amount_tickets = $%d", argIdx)
		args = append(args, *patch.AmountTickets)
		argIdx++
	}
	if patch.ClosesAt != nil {
		query += fmt.Sprintf(", closes_at = $%d", argIdx)
		args = append(args, *patch.ClosesAt)
		argIdx++
	}
	query += ` WHERE id = $1 AND state = 'INITIAL'`

	tag, err := s.pool.Exec(ctx, query, args...)
	if err != nil {
		return false, fmt.Errorf("postgres: update competition %s: %w", id, err)
	}
	return tag.RowsAffected() > 0, nil
}

// CASInventory conditionally writes the remaining inventory. The new value
// must be non-negative and the competition must still be INITIAL; the
// amount_tickets = $old predicate serialises concurrent decrements.
func (s *CompetitionStore) CASInventory(ctx context.Context, id string, old, new int64) (bool, error) {
	const query = `
		UPDATE competitions SET amount_tickets = $3
		WHERE id = $1 AND amount_tickets = $2 AND state = 'INITIAL'`

	tag, err := s.pool.Exec(ctx, query, id, old, new)
	if err != nil {
		return false, fmt.Errorf("postgres: cas inventory %s: %w", id, err)
	}
	return tag.RowsAffected() > 0, nil
}

// RestoreInventory conditionally writes the remaining inventory without a
// state gate; purge reclamation applies even after settlement.
func (s *CompetitionStore) RestoreInventory(ctx context.Context, id string, old, new int64) (bool, error) {
	const query = `
		UPDATE competitions SET amount_tickets = $3
		WHERE id = $1 AND amount_tickets = $2`

	tag, err := s.pool.Exec(ctx, query, id, old, new)
	if err != nil {
		return false, fmt.Errorf("postgres: restore inventory %s: %w", id, err)
	}
	return tag.RowsAffected() > 0, nil
}

// CASAggregates folds a funded ticket into the competition aggregates,
// serialised on the sold counter.
func (s *CompetitionStore) CASAggregates(ctx context.Context, id string, oldSold, newSold int64, choices []domain.Choice) (bool, error) {
	choicesJSON, err := json.Marshal(choices)
	if err != nil {
		return false, fmt.Errorf("postgres: marshal choices: %w", err)
	}

	const query = `
		UPDATE competitions SET sold = $3, choices = $4
		WHERE id = $1 AND sold = $2 AND state = 'INITIAL'`

	tag, err := s.pool.Exec(ctx, query, id, oldSold, newSold, choicesJSON)
	if err != nil {
		return false, fmt.Errorf("postgres: cas aggregates %s: %w", id, err)
	}
	return tag.RowsAffected() > 0, nil
}

// CASSettle atomically records the outcome and moves the competition to
// SETTLED, gated on it still being INITIAL.
func (s *CompetitionStore) CASSettle(ctx context.Context, id string, choices []domain.Choice, winningChoice int) (bool, error) {
	choicesJSON, err := json.Marshal(choices)
	if err != nil {
		return false, fmt.Errorf("postgres: marshal choices: %w", err)
	}

	const query = `
		UPDATE competitions SET state = 'SETTLED', choices = $2, winning_choice = $3
		WHERE id = $1 AND state = 'INITIAL'`

	tag, err := s.pool.Exec(ctx, query, id, choicesJSON, winningChoice)
	if err != nil {
		return false, fmt.Errorf("postgres: cas settle %s: %w", id, err)
	}
	return tag.RowsAffected() > 0, nil
}

// Delete removes a competition. Ticket rows cascade at the schema level, but
// callers go through the service which deletes tickets explicitly first.
func (s *CompetitionStore) Delete(ctx context.Context, id string) error {
	tag, err := s.pool.Exec(ctx, `DELETE FROM competitions WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("postgres: delete competition %s: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrNotFound
	}
	return nil
}

// Compile-time interface check.
var _ domain.CompetitionStore = (*CompetitionStore)(nil)
