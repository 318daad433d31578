// Package tasks runs the background loops: the funding watcher, the expiry
// purge, and the competition archiver. Each loop is supervised: an error or
// panic is logged and the loop restarts after a delay, so one failing
// collaborator (Redis, S3) never takes the process down.
package tasks

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"
)

// restartDelay is how long a crashed loop waits before restarting.
const restartDelay = 5 * time.Second

// Task is a named background loop. Run blocks until ctx is cancelled or the
// loop fails.
type Task interface {
	Name() string
	Run(ctx context.Context) error
}

// Orchestrator supervises a set of tasks under one errgroup.
type Orchestrator struct {
	tasks  []Task
	logger *slog.Logger
}

// NewOrchestrator creates an Orchestrator over the given tasks. Nil tasks are
// skipped, so optional loops (e.g. the archiver without S3 configured) can be
// passed unconditionally.
func NewOrchestrator(logger *slog.Logger, tasks ...Task) *Orchestrator {
	var active []Task
	for _, t := range tasks {
		if t != nil {
			active = append(active, t)
		}
	}
	return &Orchestrator{
		tasks:  active,
		logger: logger.With(slog.String("component", "orchestrator")),
	}
}

// Run starts every task and blocks until ctx is cancelled. Task failures are
// contained by the supervisor; Run itself only returns once shutdown is
// requested.
func (o *Orchestrator) Run(ctx context.Context) error {
	o.logger.Info("orchestrator starting", slog.Int("tasks", len(o.tasks)))

	g, ctx := errgroup.WithContext(ctx)
	for _, t := range o.tasks {
		g.Go(func() error {
			return o.supervise(ctx, t)
		})
	}

	err := g.Wait()
	o.logger.Info("orchestrator stopped")
	return err
}

// supervise runs the task in a restart loop. Context cancellation is the only
// clean exit.
func (o *Orchestrator) supervise(ctx context.Context, t Task) error {
	for {
		err := runSafe(ctx, t)
		if ctx.Err() != nil {
			o.logger.Info("task stopped", slog.String("task", t.Name()))
			return nil
		}

		if err == nil {
			err = fmt.Errorf("task %s returned early", t.Name())
		}
		o.logger.Error("task crashed, restarting",
			slog.String("task", t.Name()),
			slog.Duration("restart_in", restartDelay),
			slog.String("error", err.Error()))

		select {
		case <-ctx.Done():
			return nil
		case <-time.After(restartDelay):
		}
	}
}

// runSafe converts a task panic into an error so the supervisor can restart
// the loop instead of crashing the process.
func runSafe(ctx context.Context, t Task) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("task %s panicked: %v", t.Name(), r)
		}
	}()
	return t.Run(ctx)
}
