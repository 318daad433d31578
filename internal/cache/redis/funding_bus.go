package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/betsats/betsats/internal/domain"
)

// fundingStream is the Redis stream the payment subsystem publishes paid
// invoices to.
const fundingStream = "betsats:fundings"

// streamMaxLen is the approximate maximum stream length, enforced via
// XADD MAXLEN ~. Funding events are consumed within seconds; the cap only
// bounds memory if every consumer is down.
const streamMaxLen int64 = 10000

// blockTimeout bounds each XRead so the reader loop re-checks its context at
// least this often.
const blockTimeout = 5 * time.Second

// FundingBus implements domain.FundingBus on a Redis stream. Streams rather
// than pub/sub: a funding notification published while the watcher is briefly
// reconnecting must still be delivered, and the ticket CAS makes redelivery
// harmless.
type FundingBus struct {
	rdb    *redis.Client
	logger *slog.Logger
}

// NewFundingBus creates a FundingBus backed by the given Client.
func NewFundingBus(c *Client, logger *slog.Logger) *FundingBus {
	return &FundingBus{
		rdb:    c.Underlying(),
		logger: logger.With(slog.String("component", "funding_bus")),
	}
}

// Publish appends a funding event to the stream.
func (b *FundingBus) Publish(ctx context.Context, ev domain.FundingEvent) error {
	payload, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("redis: marshal funding event: %w", err)
	}

	args := &redis.XAddArgs{
		Stream: fundingStream,
		MaxLen: streamMaxLen,
		Approx: true,
		Values: map[string]interface{}{
			"payload": payload,
		},
	}
	if err := b.rdb.XAdd(ctx, args).Err(); err != nil {
		return fmt.Errorf("redis: publish funding event: %w", err)
	}
	return nil
}

// Fundings returns a channel of funding events published after the call.
// The reader goroutine exits and closes the channel when ctx is cancelled.
// Malformed stream entries are logged and skipped, never fatal.
func (b *FundingBus) Fundings(ctx context.Context) (<-chan domain.FundingEvent, error) {
	out := make(chan domain.FundingEvent, 128)

	go func() {
		defer close(out)

		lastID := "$"
		for {
			if ctx.Err() != nil {
				return
			}

			args := &redis.XReadArgs{
				Streams: []string{fundingStream, lastID},
				Count:   64,
				Block:   blockTimeout,
			}
			results, err := b.rdb.XRead(ctx, args).Result()
			if err != nil {
				if errors.Is(err, redis.Nil) {
					continue
				}
				if ctx.Err() != nil {
					return
				}
				b.logger.Warn("funding stream read failed",
					slog.String("error", err.Error()))
				select {
				case <-ctx.Done():
					return
				case <-time.After(time.Second):
				}
				continue
			}

			for _, stream := range results {
				for _, msg := range stream.Messages {
					lastID = msg.ID

					payload, ok := msg.Values["payload"].(string)
					if !ok {
						b.logger.Warn("funding entry without payload",
							slog.String("stream_id", msg.ID))
						continue
					}

					var ev domain.FundingEvent
					if err := json.Unmarshal([]byte(payload), &ev); err != nil {
						b.logger.Warn("malformed funding event",
							slog.String("stream_id", msg.ID),
							slog.String("error", err.Error()))
						continue
					}

					select {
					case out <- ev:
					case <-ctx.Done():
						return
					}
				}
			}
		}
	}()

	return out, nil
}

// Compile-time interface check.
var _ domain.FundingBus = (*FundingBus)(nil)
