package app

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	s3blob "github.com/betsats/betsats/internal/blob/s3"
	"github.com/betsats/betsats/internal/cache/redis"
	"github.com/betsats/betsats/internal/config"
	"github.com/betsats/betsats/internal/domain"
	"github.com/betsats/betsats/internal/notify"
	"github.com/betsats/betsats/internal/occ"
	"github.com/betsats/betsats/internal/service"
	"github.com/betsats/betsats/internal/store/memory"
	"github.com/betsats/betsats/internal/store/postgres"
	"github.com/betsats/betsats/internal/tasks"
)

// Dependencies bundles everything the application needs to run: the stores,
// the services built on them, the background tasks, and the collaborator
// boundaries. It is constructed by Wire and torn down by the returned cleanup
// function.
type Dependencies struct {
	// Stores
	CompetitionStore domain.CompetitionStore
	TicketStore      domain.TicketStore
	AuditStore       domain.AuditStore

	// Collaborator boundaries
	FundingBus  domain.FundingBus
	LockManager domain.LockManager
	Archiver    *s3blob.Archiver

	// Services
	Competitions *service.CompetitionService
	Tickets      *service.TicketService
	Settlement   *service.SettlementService

	// Notifications
	Notifier *notify.Notifier
}

// Wire constructs all concrete dependency implementations from the given
// configuration and returns them together with a cleanup function that should
// be called on shutdown to release resources.
func Wire(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*Dependencies, func(), error) {
	var closers []func()
	cleanup := func() {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
	}

	deps := &Dependencies{}

	memoryMode := strings.ToLower(cfg.Mode) == "memory"

	var compOpts []service.CompetitionOption

	// --- Stores and collaborator boundaries ---
	if memoryMode {
		deps.CompetitionStore = memory.NewCompetitionStore()
		deps.TicketStore = memory.NewTicketStore()
		deps.AuditStore = memory.NewAuditStore()
		deps.FundingBus = memory.NewFundingBus()
		// No lock manager: a single process needs no cross-replica locks.
	} else {
		pgClient, err := postgres.New(ctx, postgres.ClientConfig{
			DSN:      cfg.Postgres.DSN,
			Host:     cfg.Postgres.Host,
			Port:     cfg.Postgres.Port,
			Database: cfg.Postgres.Database,
			User:     cfg.Postgres.User,
			Password: cfg.Postgres.Password,
			SSLMode:  cfg.Postgres.SSLMode,
			MaxConns: cfg.Postgres.PoolMaxConns,
			MinConns: cfg.Postgres.PoolMinConns,
		})
		if err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("wire: postgres: %w", err)
		}
		closers = append(closers, pgClient.Close)

		if cfg.Postgres.RunMigrations {
			if err := pgClient.RunMigrations(ctx); err != nil {
				cleanup()
				return nil, nil, fmt.Errorf("wire: postgres migrations: %w", err)
			}
		}

		pool := pgClient.Pool()
		deps.CompetitionStore = postgres.NewCompetitionStore(pool)
		deps.TicketStore = postgres.NewTicketStore(pool)
		deps.AuditStore = postgres.NewAuditStore(pool)

		redisClient, err := redis.New(ctx, redis.ClientConfig{
			Addr:       cfg.Redis.Addr,
			Password:   cfg.Redis.Password,
			DB:         cfg.Redis.DB,
			PoolSize:   cfg.Redis.PoolSize,
			MaxRetries: cfg.Redis.MaxRetries,
			TLSEnabled: cfg.Redis.TLSEnabled,
		})
		if err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("wire: redis: %w", err)
		}
		closers = append(closers, func() { _ = redisClient.Close() })

		deps.FundingBus = redis.NewFundingBus(redisClient, logger)
		deps.LockManager = redis.NewLockManager(redisClient)
		compOpts = append(compOpts,
			service.WithCompetitionCache(redis.NewCompetitionCache(redisClient)))
	}

	// --- S3 competition archive (optional) ---
	if cfg.S3.Enabled {
		s3Client, err := s3blob.New(ctx, s3blob.ClientConfig{
			Endpoint:       cfg.S3.Endpoint,
			Region:         cfg.S3.Region,
			Bucket:         cfg.S3.Bucket,
			AccessKey:      cfg.S3.AccessKey,
			SecretKey:      cfg.S3.SecretKey,
			UseSSL:         cfg.S3.UseSSL,
			ForcePathStyle: cfg.S3.ForcePathStyle,
		})
		if err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("wire: s3: %w", err)
		}

		deps.Archiver = s3blob.NewArchiver(
			s3blob.NewWriter(s3Client),
			deps.CompetitionStore,
			deps.TicketStore,
			deps.AuditStore,
			logger,
		)
	}

	// --- Notifications ---
	var senders []notify.Sender
	if cfg.Notify.TelegramToken != "" && cfg.Notify.TelegramChatID != "" {
		senders = append(senders, notify.NewTelegramSender(
			cfg.Notify.TelegramToken,
			cfg.Notify.TelegramChatID,
		))
	}
	if cfg.Notify.DiscordWebhookURL != "" {
		senders = append(senders, notify.NewDiscordSender(cfg.Notify.DiscordWebhookURL))
	}
	deps.Notifier = notify.NewNotifier(senders, cfg.Notify.Events, logger)

	// --- Services ---
	occCfg := occ.Config{
		MaxAttempts: cfg.Betting.OCCMaxAttempts,
		BaseBackoff: cfg.Betting.OCCBaseBackoff.Duration,
		MaxBackoff:  cfg.Betting.OCCMaxBackoff.Duration,
	}

	deps.Competitions = service.NewCompetitionService(
		deps.CompetitionStore, deps.TicketStore, deps.AuditStore, logger, compOpts...)
	deps.Tickets = service.NewTicketService(
		deps.CompetitionStore, deps.TicketStore, deps.AuditStore,
		occCfg, cfg.Betting.PurgeWindow.Duration, logger)

	settlementOpts := []service.SettlementOption{service.WithNotifier(deps.Notifier)}
	if deps.LockManager != nil {
		settlementOpts = append(settlementOpts, service.WithLockManager(deps.LockManager))
	}
	deps.Settlement = service.NewSettlementService(
		deps.CompetitionStore, deps.TicketStore, deps.AuditStore, logger, settlementOpts...)

	return deps, cleanup, nil
}

// Tasks assembles the background loops from the wired dependencies. The
// archive loop is only present when S3 is enabled.
func Tasks(deps *Dependencies, cfg *config.Config, logger *slog.Logger) []tasks.Task {
	list := []tasks.Task{
		tasks.NewFundingWatcher(deps.FundingBus, deps.Tickets, logger),
		tasks.NewPurgeLoop(deps.Competitions, deps.Tickets, deps.LockManager,
			cfg.Tasks.PurgeInterval.Duration, logger),
	}
	if deps.Archiver != nil {
		list = append(list, tasks.NewArchiveLoop(deps.Archiver,
			cfg.Tasks.ArchiveInterval.Duration, logger))
	}
	return list
}
