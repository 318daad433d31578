package domain

import "errors"

var (
	ErrNotFound          = errors.New("not found")
	ErrAlreadyExists     = errors.New("already exists")
	ErrSoldOut           = errors.New("no tickets remaining")
	ErrCompetitionClosed = errors.New("competition no longer accepts tickets")
	ErrAlreadySettled    = errors.New("competition already settled with a different outcome")
	ErrInvalidChoice     = errors.New("choice index out of range")
	ErrBetOutOfRange     = errors.New("bet amount outside competition bounds")
	ErrInvalidTransition = errors.New("illegal ticket state transition")
	ErrLockHeld          = errors.New("lock already held")
)
