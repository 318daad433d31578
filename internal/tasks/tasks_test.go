package tasks

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/betsats/betsats/internal/domain"
)

type chanBus struct {
	events chan domain.FundingEvent
}

func (b *chanBus) Publish(_ context.Context, ev domain.FundingEvent) error {
	b.events <- ev
	return nil
}

func (b *chanBus) Fundings(ctx context.Context) (<-chan domain.FundingEvent, error) {
	out := make(chan domain.FundingEvent)
	go func() {
		defer close(out)
		for {
			select {
			case <-ctx.Done():
				return
			case ev := <-b.events:
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

type recordingFunder struct {
	mu     sync.Mutex
	funded []string
	fail   map[string]error
}

func (f *recordingFunder) MarkFunded(_ context.Context, ticketID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.fail[ticketID]; err != nil {
		return err
	}
	f.funded = append(f.funded, ticketID)
	return nil
}

func (f *recordingFunder) snapshot() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.funded...)
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestFundingWatcherMarksTickets(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	bus := &chanBus{events: make(chan domain.FundingEvent, 8)}
	funder := &recordingFunder{fail: map[string]error{"bad": errors.New("boom")}}
	watcher := NewFundingWatcher(bus, funder, discardLogger())

	done := make(chan error, 1)
	go func() { done <- watcher.Run(ctx) }()

	require.NoError(t, bus.Publish(ctx, domain.FundingEvent{TicketID: "t1"}))
	require.NoError(t, bus.Publish(ctx, domain.FundingEvent{TicketID: "bad"}))
	require.NoError(t, bus.Publish(ctx, domain.FundingEvent{TicketID: "t2"}))

	require.Eventually(t, func() bool {
		return len(funder.snapshot()) == 2
	}, 2*time.Second, 10*time.Millisecond)
	assert.Equal(t, []string{"t1", "t2"}, funder.snapshot())

	cancel()
	select {
	case err := <-done:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(2 * time.Second):
		t.Fatal("watcher did not stop on cancellation")
	}
}

type crashingTask struct {
	runs atomic.Int32
}

func (c *crashingTask) Name() string { return "crasher" }

func (c *crashingTask) Run(ctx context.Context) error {
	n := c.runs.Add(1)
	if n == 1 {
		panic("first run explodes")
	}
	<-ctx.Done()
	return ctx.Err()
}

func TestOrchestratorRestartsCrashedTask(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	task := &crashingTask{}
	orch := NewOrchestrator(discardLogger(), task, nil)

	done := make(chan error, 1)
	go func() { done <- orch.Run(ctx) }()

	// One crash, one restart that then blocks on ctx.
	require.Eventually(t, func() bool {
		return task.runs.Load() >= 2
	}, 10*time.Second, 50*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("orchestrator did not stop on cancellation")
	}
}

type listerFunc func(ctx context.Context) ([]domain.Competition, error)

func (f listerFunc) List(ctx context.Context) ([]domain.Competition, error) { return f(ctx) }

type recordingPurger struct {
	mu    sync.Mutex
	swept []string
}

func (p *recordingPurger) PurgeExpired(_ context.Context, competitionID string) (int64, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.swept = append(p.swept, competitionID)
	return 1, nil
}

func TestPurgeLoopSweepsEveryCompetition(t *testing.T) {
	comps := listerFunc(func(context.Context) ([]domain.Competition, error) {
		return []domain.Competition{{ID: "a"}, {ID: "b"}}, nil
	})
	purger := &recordingPurger{}
	loop := NewPurgeLoop(comps, purger, nil, time.Hour, discardLogger())

	// The immediate sweep runs before the first tick; a short-lived context
	// stops the loop right after it.
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- loop.Run(ctx) }()

	require.Eventually(t, func() bool {
		purger.mu.Lock()
		defer purger.mu.Unlock()
		return len(purger.swept) == 2
	}, 2*time.Second, 10*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(2 * time.Second):
		t.Fatal("purge loop did not stop on cancellation")
	}

	purger.mu.Lock()
	defer purger.mu.Unlock()
	assert.Equal(t, []string{"a", "b"}, purger.swept)
}
