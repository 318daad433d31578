// Package memory implements the domain store interfaces with mutex-serialised
// in-memory maps. The conditional-write contract is identical to the Postgres
// implementation, which makes this store suitable both for dev-mode runs
// without a database and for exercising the optimistic-concurrency loops in
// tests.
package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/betsats/betsats/internal/domain"
)

// CompetitionStore implements domain.CompetitionStore in memory.
type CompetitionStore struct {
	mu    sync.Mutex
	comps map[string]domain.Competition
}

// NewCompetitionStore creates an empty in-memory competition store.
func NewCompetitionStore() *CompetitionStore {
	return &CompetitionStore{comps: make(map[string]domain.Competition)}
}

func cloneCompetition(c domain.Competition) domain.Competition {
	out := c
	out.Choices = append([]domain.Choice(nil), c.Choices...)
	return out
}

func (s *CompetitionStore) Create(_ context.Context, c domain.Competition) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.comps[c.ID]; ok {
		return domain.ErrAlreadyExists
	}
	s.comps[c.ID] = cloneCompetition(c)
	return nil
}

func (s *CompetitionStore) GetByID(_ context.Context, id string) (domain.Competition, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.comps[id]
	if !ok {
		return domain.Competition{}, domain.ErrNotFound
	}
	return cloneCompetition(c), nil
}

func (s *CompetitionStore) ListByWallet(_ context.Context, wallet string) ([]domain.Competition, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []domain.Competition
	for _, c := range s.comps {
		if c.Wallet == wallet {
			out = append(out, cloneCompetition(c))
		}
	}
	sortCompetitions(out)
	return out, nil
}

func (s *CompetitionStore) List(_ context.Context) ([]domain.Competition, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]domain.Competition, 0, len(s.comps))
	for _, c := range s.comps {
		out = append(out, cloneCompetition(c))
	}
	sortCompetitions(out)
	return out, nil
}

func sortCompetitions(comps []domain.Competition) {
	sort.Slice(comps, func(i, j int) bool {
		if comps[i].CreatedAt.Equal(comps[j].CreatedAt) {
			return comps[i].ID < comps[j].ID
		}
		return comps[i].CreatedAt.After(comps[j].CreatedAt)
	})
}

func (s *CompetitionStore) UpdateDetails(_ context.Context, id string, patch domain.CompetitionPatch) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.comps[id]
	if !ok || c.State != domain.CompetitionStateInitial {
		return false, nil
	}
	if patch.AmountTickets != nil {
		c.AmountTickets = *patch.AmountTickets
	}
	if patch.ClosesAt != nil {
		c.ClosesAt = *patch.ClosesAt
	}
	s.comps[id] = c
	return true, nil
}

func (s *CompetitionStore) CASInventory(_ context.Context, id string, old, new int64) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.comps[id]
	if !ok || c.State != domain.CompetitionStateInitial || c.AmountTickets != old {
		return false, nil
	}
	c.AmountTickets = new
	s.comps[id] = c
	return true, nil
}

func (s *CompetitionStore) RestoreInventory(_ context.Context, id string, old, new int64) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.comps[id]
	if !ok || c.AmountTickets != old {
		return false, nil
	}
	c.AmountTickets = new
	s.comps[id] = c
	return true, nil
}

func (s *CompetitionStore) CASAggregates(_ context.Context, id string, oldSold, newSold int64, choices []domain.Choice) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.comps[id]
	if !ok || c.State != domain.CompetitionStateInitial || c.Sold != oldSold {
		return false, nil
	}
	c.Sold = newSold
	c.Choices = append([]domain.Choice(nil), choices...)
	s.comps[id] = c
	return true, nil
}

func (s *CompetitionStore) CASSettle(_ context.Context, id string, choices []domain.Choice, winningChoice int) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.comps[id]
	if !ok || c.State != domain.CompetitionStateInitial {
		return false, nil
	}
	c.State = domain.CompetitionStateSettled
	c.Choices = append([]domain.Choice(nil), choices...)
	c.WinningChoice = winningChoice
	s.comps[id] = c
	return true, nil
}

func (s *CompetitionStore) Delete(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.comps[id]; !ok {
		return domain.ErrNotFound
	}
	delete(s.comps, id)
	return nil
}

// TicketStore implements domain.TicketStore in memory.
type TicketStore struct {
	mu      sync.Mutex
	tickets map[string]domain.Ticket
}

// NewTicketStore creates an empty in-memory ticket store.
func NewTicketStore() *TicketStore {
	return &TicketStore{tickets: make(map[string]domain.Ticket)}
}

func (s *TicketStore) Create(_ context.Context, t domain.Ticket) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.tickets[t.ID]; ok {
		return domain.ErrAlreadyExists
	}
	s.tickets[t.ID] = t
	return nil
}

func (s *TicketStore) GetByID(_ context.Context, id string) (domain.Ticket, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.tickets[id]
	if !ok {
		return domain.Ticket{}, domain.ErrNotFound
	}
	return t, nil
}

func (s *TicketStore) ListByWallet(_ context.Context, wallet string) ([]domain.Ticket, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []domain.Ticket
	for _, t := range s.tickets {
		if t.Wallet == wallet {
			out = append(out, t)
		}
	}
	sortTickets(out)
	return out, nil
}

func (s *TicketStore) ListByCompetition(_ context.Context, competitionID string) ([]domain.Ticket, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []domain.Ticket
	for _, t := range s.tickets {
		if t.CompetitionID == competitionID {
			out = append(out, t)
		}
	}
	sortTickets(out)
	return out, nil
}

func (s *TicketStore) ListByCompetitionAndStates(_ context.Context, competitionID string, states []domain.TicketState) ([]domain.Ticket, error) {
	wanted := make(map[domain.TicketState]bool, len(states))
	for _, st := range states {
		wanted[st] = true
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	var out []domain.Ticket
	for _, t := range s.tickets {
		if t.CompetitionID == competitionID && wanted[t.State] {
			out = append(out, t)
		}
	}
	sortTickets(out)
	return out, nil
}

func sortTickets(tickets []domain.Ticket) {
	sort.Slice(tickets, func(i, j int) bool {
		if tickets[i].CreatedAt.Equal(tickets[j].CreatedAt) {
			return tickets[i].ID < tickets[j].ID
		}
		return tickets[i].CreatedAt.Before(tickets[j].CreatedAt)
	})
}

func (s *TicketStore) CASState(_ context.Context, id string, old, new domain.TicketState) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.tickets[id]
	if !ok || t.State != old {
		return false, nil
	}
	t.State = new
	s.tickets[id] = t
	return true, nil
}

func (s *TicketStore) Update(_ context.Context, id string, patch domain.TicketPatch) (domain.Ticket, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.tickets[id]
	if !ok {
		return domain.Ticket{}, domain.ErrNotFound
	}
	if patch.State != nil {
		t.State = *patch.State
	}
	if patch.RewardMsat != nil {
		t.RewardMsat = *patch.RewardMsat
	}
	if patch.RewardFailure != nil {
		t.RewardFailure = *patch.RewardFailure
	}
	if patch.RewardPaymentHash != nil {
		t.RewardPaymentHash = *patch.RewardPaymentHash
	}
	s.tickets[id] = t
	return t, nil
}

func (s *TicketStore) Delete(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.tickets[id]; !ok {
		return domain.ErrNotFound
	}
	delete(s.tickets, id)
	return nil
}

func (s *TicketStore) DeleteByCompetition(_ context.Context, competitionID string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var n int64
	for id, t := range s.tickets {
		if t.CompetitionID == competitionID {
			delete(s.tickets, id)
			n++
		}
	}
	return n, nil
}

func (s *TicketStore) DeleteExpiredInitial(_ context.Context, competitionID string, before time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var n int64
	for id, t := range s.tickets {
		if t.CompetitionID == competitionID && t.State == domain.TicketStateInitial && t.CreatedAt.Before(before) {
			delete(s.tickets, id)
			n++
		}
	}
	return n, nil
}

func (s *TicketStore) SumAmountsByChoice(_ context.Context, competitionID string) ([]domain.ChoiceSum, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	totals := make(map[int]int64)
	for _, t := range s.tickets {
		if t.CompetitionID == competitionID {
			totals[t.Choice] += t.Amount
		}
	}

	choices := make([]int, 0, len(totals))
	for choice := range totals {
		choices = append(choices, choice)
	}
	sort.Ints(choices)

	out := make([]domain.ChoiceSum, 0, len(choices))
	for _, choice := range choices {
		out = append(out, domain.ChoiceSum{Choice: choice, Total: totals[choice]})
	}
	return out, nil
}

func (s *TicketStore) ResolveFunded(_ context.Context, competitionID string, winningChoice int) (int64, int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var won, lost int64
	for id, t := range s.tickets {
		if t.CompetitionID != competitionID || t.State != domain.TicketStateFunded {
			continue
		}
		if t.Choice == winningChoice {
			t.State = domain.TicketStateWonUnpaid
			won++
		} else {
			t.State = domain.TicketStateLost
			lost++
		}
		s.tickets[id] = t
	}
	return won, lost, nil
}

func (s *TicketStore) CancelFunded(_ context.Context, competitionID string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var n int64
	for id, t := range s.tickets {
		if t.CompetitionID == competitionID && t.State == domain.TicketStateFunded {
			t.State = domain.TicketStateCancelledUnpaid
			s.tickets[id] = t
			n++
		}
	}
	return n, nil
}

func (s *TicketStore) CountUnresolved(_ context.Context, competitionID string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var n int64
	for _, t := range s.tickets {
		if t.CompetitionID == competitionID && !t.State.Terminal() {
			n++
		}
	}
	return n, nil
}

// AuditStore implements domain.AuditStore in memory.
type AuditStore struct {
	mu      sync.Mutex
	nextID  int64
	entries []domain.AuditEntry
}

// NewAuditStore creates an empty in-memory audit store.
func NewAuditStore() *AuditStore {
	return &AuditStore{nextID: 1}
}

func (s *AuditStore) Log(_ context.Context, event string, detail map[string]any) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries = append(s.entries, domain.AuditEntry{
		ID:        s.nextID,
		Event:     event,
		Detail:    detail,
		CreatedAt: time.Now().UTC(),
	})
	s.nextID++
	return nil
}

func (s *AuditStore) List(_ context.Context, limit int) ([]domain.AuditEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if limit <= 0 || limit > len(s.entries) {
		limit = len(s.entries)
	}
	out := make([]domain.AuditEntry, 0, limit)
	for i := len(s.entries) - 1; i >= 0 && len(out) < limit; i-- {
		out = append(out, s.entries[i])
	}
	return out, nil
}

// Compile-time interface checks.
var (
	_ domain.CompetitionStore = (*CompetitionStore)(nil)
	_ domain.TicketStore      = (*TicketStore)(nil)
	_ domain.AuditStore       = (*AuditStore)(nil)
)
