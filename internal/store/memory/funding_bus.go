package memory

import (
	"context"
	"sync"

	"github.com/betsats/betsats/internal/domain"
)

// FundingBus is an in-process domain.FundingBus for memory mode and tests.
// Events published while no subscriber is draining are buffered up to the
// channel capacity; this loopback has none of the durability of the Redis
// stream and exists only so the full funding path runs without Redis.
type FundingBus struct {
	mu   sync.Mutex
	subs []chan domain.FundingEvent
}

// NewFundingBus creates an empty in-process funding bus.
func NewFundingBus() *FundingBus {
	return &FundingBus{}
}

// Publish fans the event out to every live subscriber. A subscriber with a
// full buffer misses the event; the purge eventually reclaims the ticket.
func (b *FundingBus) Publish(_ context.Context, ev domain.FundingEvent) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, sub := range b.subs {
		select {
		case sub <- ev:
		default:
		}
	}
	return nil
}

// Fundings returns a channel of future events. The channel closes when ctx is
// cancelled.
func (b *FundingBus) Fundings(ctx context.Context) (<-chan domain.FundingEvent, error) {
	sub := make(chan domain.FundingEvent, 128)

	b.mu.Lock()
	b.subs = append(b.subs, sub)
	b.mu.Unlock()

	out := make(chan domain.FundingEvent)
	go func() {
		defer close(out)
		defer b.drop(sub)
		for {
			select {
			case <-ctx.Done():
				return
			case ev := <-sub:
				select {
				case out <- ev:
				case <-ctx.Done():
					return
				}
			}
		}
	}()
	return out, nil
}

func (b *FundingBus) drop(sub chan domain.FundingEvent) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for i, s := range b.subs {
		if s == sub {
			b.subs = append(b.subs[:i], b.subs[i+1:]...)
			return
		}
	}
}

// Compile-time interface check.
var _ domain.FundingBus = (*FundingBus)(nil)
