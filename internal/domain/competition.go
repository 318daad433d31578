package domain

import (
	"crypto/subtle"
	"time"
)

// CompetitionState tracks the competition lifecycle. Inventory and aggregate
// fields are only mutable while the competition is in StateInitial; settlement
// moves it one-way to StateSettled.
type CompetitionState string

const (
	CompetitionStateInitial CompetitionState = "INITIAL"
	CompetitionStateSettled CompetitionState = "SETTLED"
)

// WinningChoiceNone is the sentinel for an undecided outcome. After
// settlement it means the competition was voided and all funded tickets were
// cancelled.
const WinningChoiceNone = -1

// Choice is one of the mutually exclusive outcomes of a competition. Total is
// the cumulative stake of FUNDED tickets placed on it; the index into the
// competition's Choices slice is the choice id.
type Choice struct {
	Title string `json:"title"`
	Total int64  `json:"total"`
}

// Competition is a single betting event with a fixed ticket inventory.
type Competition struct {
	ID         string
	Wallet     string // owner wallet reference
	RegisterID string // capability token for outcome submission

	Name     string
	Info     string
	Banner   string
	ClosesAt time.Time // descriptive only; no deadline-triggered close here

	AmountTickets int64 // remaining purchasable inventory, never negative
	MinBet        int64
	MaxBet        int64
	Sold          int64 // count of tickets that reached FUNDED

	Choices       []Choice
	WinningChoice int
	State         CompetitionState
	CreatedAt     time.Time
}

// Decided reports whether an outcome has been recorded. A voided competition
// is settled but not decided.
func (c Competition) Decided() bool {
	return c.WinningChoice != WinningChoiceNone
}

// ValidChoice reports whether id indexes into the competition's choice list.
func (c Competition) ValidChoice(id int) bool {
	return id >= 0 && id < len(c.Choices)
}

// VerifyRegisterID compares a submitted outcome-capability token against the
// competition's token in constant time.
func (c Competition) VerifyRegisterID(token string) bool {
	return subtle.ConstantTimeCompare([]byte(c.RegisterID), []byte(token)) == 1
}

// CompetitionPatch carries the organizer-editable fields. Nil fields are left
// untouched. Edits only apply while the competition is still INITIAL.
type CompetitionPatch struct {
	AmountTickets *int64
	ClosesAt      *time.Time
}

// ChoiceSum is a per-choice stake aggregate computed from the ticket
// population, independent of the incrementally maintained Choice.Total.
type ChoiceSum struct {
	Choice int
	Total  int64
}
