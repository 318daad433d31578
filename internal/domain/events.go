package domain

import (
	"context"
	"io"
	"time"
)

// FundingEvent is the payment subsystem's notification that a ticket's
// invoice was paid. The core never talks to the Lightning node itself; it
// only consumes these events and records their consequences.
type FundingEvent struct {
	TicketID    string    `json:"ticket_id"`
	PaymentHash string    `json:"payment_hash"`
	PaidAt      time.Time `json:"paid_at"`
}

// FundingBus is the boundary between the external payment collaborator and
// the ticket lifecycle. Publish is used by the payment side (and by tests);
// Fundings delivers events to the funding watcher until ctx is cancelled.
type FundingBus interface {
	Publish(ctx context.Context, ev FundingEvent) error
	Fundings(ctx context.Context) (<-chan FundingEvent, error)
}

// BlobWriter uploads an object to cold storage. Implemented by the S3 blob
// package and consumed by the competition archiver.
type BlobWriter interface {
	Put(ctx context.Context, path string, data io.Reader, contentType string) error
}
