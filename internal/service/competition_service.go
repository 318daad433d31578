package service

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/betsats/betsats/internal/domain"
)

// CompetitionCache caches the public competition read surface. It is a
// read-through layer only: every write path talks to the store directly, so
// cache staleness is bounded by the TTL and never affects correctness.
// *redis.CompetitionCache satisfies it.
type CompetitionCache interface {
	Set(ctx context.Context, comp domain.Competition) error
	Get(ctx context.Context, id string) (domain.Competition, error)
	Invalidate(ctx context.Context, id string) error
}

// CompetitionService owns the competition lifecycle: creation, organizer
// edits, deletion, and the read surface. Settlement lives in
// SettlementService; inventory mutation lives in TicketService.
type CompetitionService struct {
	comps   domain.CompetitionStore
	tickets domain.TicketStore
	audit   domain.AuditStore
	cache   CompetitionCache
	logger  *slog.Logger
}

// CompetitionOption customises a CompetitionService.
type CompetitionOption func(*CompetitionService)

// WithCompetitionCache serves Get from the given cache when possible.
func WithCompetitionCache(cache CompetitionCache) CompetitionOption {
	return func(s *CompetitionService) { s.cache = cache }
}

// NewCompetitionService creates a CompetitionService.
func NewCompetitionService(comps domain.CompetitionStore, tickets domain.TicketStore, audit domain.AuditStore, logger *slog.Logger, opts ...CompetitionOption) *CompetitionService {
	s := &CompetitionService{
		comps:   comps,
		tickets: tickets,
		audit:   audit,
		logger:  logger.With(slog.String("component", "competition_service")),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// CreateCompetitionParams carries everything needed to open a competition.
type CreateCompetitionParams struct {
	Wallet        string
	Name          string
	Info          string
	Banner        string
	ClosesAt      time.Time
	AmountTickets int64
	MinBet        int64
	MaxBet        int64
	ChoiceTitles  []string
}

func (p CreateCompetitionParams) validate() error {
	if p.Wallet == "" {
		return fmt.Errorf("wallet is required")
	}
	if p.Name == "" {
		return fmt.Errorf("name is required")
	}
	if len(p.ChoiceTitles) < 2 {
		return fmt.Errorf("at least two choices are required")
	}
	if p.AmountTickets <= 0 {
		return fmt.Errorf("amount_tickets must be positive")
	}
	if p.MinBet <= 0 || p.MaxBet < p.MinBet {
		return fmt.Errorf("bet bounds must satisfy 0 < min_bet <= max_bet")
	}
	return nil
}

// Create opens a new competition in INITIAL with zeroed aggregates, an
// undecided outcome, and a freshly minted register token for the organizer.
func (s *CompetitionService) Create(ctx context.Context, params CreateCompetitionParams) (domain.Competition, error) {
	if err := params.validate(); err != nil {
		return domain.Competition{}, fmt.Errorf("competition: create: %w", err)
	}

	choices := make([]domain.Choice, len(params.ChoiceTitles))
	for i, title := range params.ChoiceTitles {
		choices[i] = domain.Choice{Title: title}
	}

	comp := domain.Competition{
		ID:            uuid.NewString(),
		Wallet:        params.Wallet,
		RegisterID:    uuid.NewString(),
		Name:          params.Name,
		Info:          params.Info,
		Banner:        params.Banner,
		ClosesAt:      params.ClosesAt,
		AmountTickets: params.AmountTickets,
		MinBet:        params.MinBet,
		MaxBet:        params.MaxBet,
		Choices:       choices,
		WinningChoice: domain.WinningChoiceNone,
		State:         domain.CompetitionStateInitial,
		CreatedAt:     time.Now().UTC(),
	}

	if err := s.comps.Create(ctx, comp); err != nil {
		return domain.Competition{}, fmt.Errorf("competition: create: %w", err)
	}

	s.logger.Info("competition created",
		slog.String("competition_id", comp.ID),
		slog.String("wallet", comp.Wallet),
		slog.Int64("amount_tickets", comp.AmountTickets))

	s.auditLog(ctx, "competition_created", map[string]any{
		"competition_id": comp.ID,
		"wallet":         comp.Wallet,
		"amount_tickets": comp.AmountTickets,
	})
	return comp, nil
}

// Get returns a single competition, served from the read cache when one is
// configured and warm.
func (s *CompetitionService) Get(ctx context.Context, id string) (domain.Competition, error) {
	if s.cache != nil {
		if comp, err := s.cache.Get(ctx, id); err == nil {
			return comp, nil
		}
	}

	comp, err := s.comps.GetByID(ctx, id)
	if err != nil {
		return domain.Competition{}, fmt.Errorf("competition: get %s: %w", id, err)
	}

	if s.cache != nil {
		if err := s.cache.Set(ctx, comp); err != nil {
			s.logger.Warn("competition cache set failed",
				slog.String("competition_id", id),
				slog.String("error", err.Error()))
		}
	}
	return comp, nil
}

// ListByWallet returns the competitions owned by a wallet, newest first.
func (s *CompetitionService) ListByWallet(ctx context.Context, wallet string) ([]domain.Competition, error) {
	comps, err := s.comps.ListByWallet(ctx, wallet)
	if err != nil {
		return nil, fmt.Errorf("competition: list by wallet: %w", err)
	}
	return comps, nil
}

// List returns all competitions, newest first.
func (s *CompetitionService) List(ctx context.Context) ([]domain.Competition, error) {
	comps, err := s.comps.List(ctx)
	if err != nil {
		return nil, fmt.Errorf("competition: list: %w", err)
	}
	return comps, nil
}

// Update applies organizer edits. Edits are rejected once the competition has
// left INITIAL: a settled competition is immutable apart from purge-side
// inventory reclamation.
func (s *CompetitionService) Update(ctx context.Context, id string, patch domain.CompetitionPatch) (domain.Competition, error) {
	if patch.AmountTickets != nil && *patch.AmountTickets < 0 {
		return domain.Competition{}, fmt.Errorf("competition: update %s: amount_tickets must be non-negative", id)
	}

	applied, err := s.comps.UpdateDetails(ctx, id, patch)
	if err != nil {
		return domain.Competition{}, fmt.Errorf("competition: update %s: %w", id, err)
	}
	s.invalidateCache(ctx, id)
	if !applied {
		// Distinguish a missing competition from a settled one.
		comp, err := s.comps.GetByID(ctx, id)
		if err != nil {
			return domain.Competition{}, fmt.Errorf("competition: update %s: %w", id, err)
		}
		if comp.State != domain.CompetitionStateInitial {
			return domain.Competition{}, fmt.Errorf("competition: update %s: %w", id, domain.ErrCompetitionClosed)
		}
		return comp, nil
	}

	comp, err := s.comps.GetByID(ctx, id)
	if err != nil {
		return domain.Competition{}, fmt.Errorf("competition: update %s: %w", id, err)
	}
	return comp, nil
}

// Delete removes a competition and its whole ticket population.
func (s *CompetitionService) Delete(ctx context.Context, id string) error {
	removed, err := s.tickets.DeleteByCompetition(ctx, id)
	if err != nil {
		return fmt.Errorf("competition: delete %s tickets: %w", id, err)
	}
	if err := s.comps.Delete(ctx, id); err != nil {
		return fmt.Errorf("competition: delete %s: %w", id, err)
	}
	s.invalidateCache(ctx, id)

	s.logger.Info("competition deleted",
		slog.String("competition_id", id),
		slog.Int64("tickets_removed", removed))

	s.auditLog(ctx, "competition_deleted", map[string]any{
		"competition_id":  id,
		"tickets_removed": removed,
	})
	return nil
}

// ChoiceSums returns the authoritative per-choice stake totals computed from
// the ticket population rather than the incrementally folded Choice.Total.
func (s *CompetitionService) ChoiceSums(ctx context.Context, id string) ([]domain.ChoiceSum, error) {
	sums, err := s.tickets.SumAmountsByChoice(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("competition: choice sums %s: %w", id, err)
	}
	return sums, nil
}

// PaymentComplete reports whether every ticket of the competition has reached
// a terminal state, i.e. the external payout process has finished.
func (s *CompetitionService) PaymentComplete(ctx context.Context, id string) (bool, error) {
	n, err := s.tickets.CountUnresolved(ctx, id)
	if err != nil {
		return false, fmt.Errorf("competition: payment complete %s: %w", id, err)
	}
	return n == 0, nil
}

func (s *CompetitionService) invalidateCache(ctx context.Context, id string) {
	if s.cache == nil {
		return
	}
	if err := s.cache.Invalidate(ctx, id); err != nil {
		s.logger.Warn("competition cache invalidate failed",
			slog.String("competition_id", id),
			slog.String("error", err.Error()))
	}
}

func (s *CompetitionService) auditLog(ctx context.Context, event string, detail map[string]any) {
	if s.audit == nil {
		return
	}
	if err := s.audit.Log(ctx, event, detail); err != nil {
		s.logger.Warn("audit log failed",
			slog.String("event", event),
			slog.String("error", err.Error()))
	}
}
