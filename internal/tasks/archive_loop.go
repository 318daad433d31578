package tasks

import (
	"context"
	"log/slog"
	"time"
)

// SettledArchiver is the slice of the blob archiver the loop needs.
type SettledArchiver interface {
	ArchiveSettled(ctx context.Context) (int64, error)
}

// ArchiveLoop periodically uploads finished competitions to cold storage.
type ArchiveLoop struct {
	archiver SettledArchiver
	interval time.Duration
	logger   *slog.Logger
}

// NewArchiveLoop creates an ArchiveLoop that runs every interval.
func NewArchiveLoop(archiver SettledArchiver, interval time.Duration, logger *slog.Logger) *ArchiveLoop {
	return &ArchiveLoop{
		archiver: archiver,
		interval: interval,
		logger:   logger.With(slog.String("component", "archive_loop")),
	}
}

func (a *ArchiveLoop) Name() string { return "archive_loop" }

// Run archives on every tick until ctx is cancelled. Upload failures are
// logged and retried on the next tick.
func (a *ArchiveLoop) Run(ctx context.Context) error {
	ticker := time.NewTicker(a.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			archived, err := a.archiver.ArchiveSettled(ctx)
			if err != nil {
				a.logger.Error("archive run failed", slog.String("error", err.Error()))
				continue
			}
			if archived > 0 {
				a.logger.Info("competitions archived", slog.Int64("count", archived))
			}
		}
	}
}

// Compile-time interface check.
var _ Task = (*ArchiveLoop)(nil)
