package app

import (
	"context"
	"fmt"
	"log/slog"

	s3blob "github.com/alanyoungcy/oddsledger/internal/blob/s3"
	"github.com/alanyoungcy/oddsledger/internal/cache/local"
	"github.com/alanyoungcy/oddsledger/internal/cache/redis"
	"github.com/alanyoungcy/oddsledger/internal/config"
	"github.com/alanyoungcy/oddsledger/internal/domain"
	"github.com/alanyoungcy/oddsledger/internal/notify"
	"github.com/alanyoungcy/oddsledger/internal/server/handler"
	"github.com/alanyoungcy/oddsledger/internal/store/memory"
	"github.com/alanyoungcy/oddsledger/internal/store/postgres"
)

// Dependencies bundles every domain-level dependency that the application modes
// need to operate. It is constructed by Wire and torn down by the returned
// cleanup function.
type Dependencies struct {
	// Storage names the active store driver.
	Storage string

	// Stores
	References domain.ReferenceStore
	Games      domain.GameStore
	Odds       domain.OddsStore
	Movements  domain.MovementReader
	Snapshots  domain.SnapshotStore
	Outcomes   domain.OutcomeStore
	Audit      domain.AuditStore
	Status     domain.StatusReporter
	// Query is nil for the memory driver.
	Query domain.QueryRunner

	// Caches. OddsCache, RateLimiter and LockManager are nil without Redis;
	// SignalBus falls back to an in-process bus.
	OddsCache   domain.OddsCache
	RateLimiter domain.RateLimiter
	LockManager domain.LockManager
	SignalBus   domain.SignalBus

	// Blob storage, nil unless S3 is enabled.
	BlobWriter domain.BlobWriter
	BlobReader domain.BlobReader
	Archiver   domain.Archiver

	// Pingers are the dependency health checks reported by /api/status.
	Pingers map[string]handler.Pinger

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

	deps := &Dependencies{
		Storage: cfg.Storage.Driver,
		Pingers: make(map[string]handler.Pinger),
	}

	// --- Stores ---
	switch cfg.Storage.Driver {
	case "memory":
		db := memory.New()
		odds := memory.NewOddsStore(db)
		deps.References = memory.NewReferenceStore(db)
		deps.Games = memory.NewGameStore(db)
		deps.Odds = odds
		deps.Movements = odds
		deps.Snapshots = memory.NewSnapshotStore(db)
		deps.Outcomes = memory.NewOutcomeStore(db)
		deps.Audit = memory.NewAuditStore(db)
		deps.Status = db
		logger.Warn("wire: using in-memory storage, data is lost on exit")

	default:
		pgClient, err := postgres.New(ctx, postgres.ClientConfig{
			DSN:              cfg.Postgres.DSN,
			Host:             cfg.Postgres.Host,
			Port:             cfg.Postgres.Port,
			Database:         cfg.Postgres.Database,
			User:             cfg.Postgres.User,
			Password:         cfg.Postgres.Password,
			SSLMode:          cfg.Postgres.SSLMode,
			MaxConns:         cfg.Postgres.PoolMaxConns,
			MinConns:         cfg.Postgres.PoolMinConns,
			StatementTimeout: cfg.Postgres.StatementTimeout.Duration,
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
		odds := postgres.NewOddsStore(pool)
		deps.References = postgres.NewReferenceStore(pool)
		deps.Games = postgres.NewGameStore(pool)
		deps.Odds = odds
		deps.Movements = odds
		deps.Snapshots = postgres.NewSnapshotStore(pool)
		deps.Outcomes = postgres.NewOutcomeStore(pool)
		deps.Audit = postgres.NewAuditStore(pool)
		deps.Status = postgres.NewStatusReporter(pool)
		deps.Query = postgres.NewQueryRunner(pool, cfg.Server.QueryTimeout.Duration)
	}

	// --- Redis ---
	if cfg.Redis.Enabled {
		redisClient, err := redis.New(ctx, redis.ClientConfig{
			URL:        cfg.Redis.URL,
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

		deps.OddsCache = redis.NewOddsCache(redisClient, cfg.Redis.OddsCacheTTL.Duration)
		deps.RateLimiter = redis.NewRateLimiter(redisClient)
		deps.LockManager = redis.NewLockManager(redisClient)
		deps.SignalBus = redis.NewSignalBus(redisClient)
		deps.Pingers["redis"] = handler.PingFunc(redisClient.Ping)
	} else {
		deps.SignalBus = local.NewSignalBus()
	}

	// --- S3 blob storage ---
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

		deps.BlobWriter = s3blob.NewWriter(s3Client)
		deps.BlobReader = s3blob.NewReader(s3Client)
		deps.Archiver = s3blob.NewArchiver(deps.BlobWriter, deps.Snapshots, deps.Audit)
		deps.Pingers["s3"] = handler.PingFunc(s3Client.Health)
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

	return deps, cleanup, nil
}
