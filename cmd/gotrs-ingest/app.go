package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/jmoiron/sqlx"

	"github.com/gotrs-io/gotrs-ingest/internal/cache"
	"github.com/gotrs-io/gotrs-ingest/internal/config"
	"github.com/gotrs-io/gotrs-ingest/internal/database"
	"github.com/gotrs-io/gotrs-ingest/internal/email/inbound/connector"
	"github.com/gotrs-io/gotrs-ingest/internal/email/inbound/dedup"
	"github.com/gotrs-io/gotrs-ingest/internal/email/inbound/filters"
	"github.com/gotrs-io/gotrs-ingest/internal/email/inbound/normalize"
	"github.com/gotrs-io/gotrs-ingest/internal/email/inbound/postmaster"
	"github.com/gotrs-io/gotrs-ingest/internal/email/inbound/threading"
	"github.com/gotrs-io/gotrs-ingest/internal/queue"
	"github.com/gotrs-io/gotrs-ingest/internal/repository"
	"github.com/gotrs-io/gotrs-ingest/internal/services/ingest"
	"github.com/gotrs-io/gotrs-ingest/internal/vault"
)

// app holds the wired components shared by the subcommands.
type app struct {
	cfg    *config.Config
	logger *slog.Logger

	db       *sqlx.DB
	accounts *repository.MailboxAccountRepository
	watchers *repository.WatcherRepository
	vault    *vault.Vault

	publisher  *queue.JetStreamPublisher
	enqueuer   *queue.Enqueuer
	status     *cache.StatusCache
	postmaster *postmaster.Service
	poller     *ingest.Orchestrator
}

// openStore connects to the database and applies the schema when enabled.
func openStore(ctx context.Context, cfg *config.Config) (*sqlx.DB, error) {
	db, err := database.Open(ctx, database.Config{
		Driver:          cfg.Database.Driver,
		DSN:             cfg.Database.DSN,
		MaxOpenConns:    cfg.Database.MaxOpenConns,
		MaxIdleConns:    cfg.Database.MaxIdleConns,
		ConnMaxLifetime: cfg.Database.ConnMaxLifetime,
	})
	if err != nil {
		return nil, err
	}
	if cfg.Database.AutoMigrate {
		if err := database.Migrate(ctx, db); err != nil {
			_ = db.Close()
			return nil, err
		}
	}
	return db, nil
}

func openVault(cfg *config.Config) (*vault.Vault, error) {
	return vault.FromConfig(cfg.Crypto.Secret, cfg.Crypto.KeyringService, cfg.Crypto.KeyringKey)
}

// newApp wires the registry only. Call withPipeline for anything that
// ingests mail.
func newApp(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*app, error) {
	db, err := openStore(ctx, cfg)
	if err != nil {
		return nil, err
	}
	return &app{
		cfg:      cfg,
		logger:   logger,
		db:       db,
		accounts: repository.NewMailboxAccountRepository(db),
		watchers: repository.NewWatcherRepository(db),
	}, nil
}

// withPipeline connects the queue and builds the ingestion pipeline and the
// poll orchestrator.
func (a *app) withPipeline(ctx context.Context) error {
	cfg := a.cfg

	v, err := openVault(cfg)
	switch {
	case errors.Is(err, vault.ErrEmptySecret):
		a.logger.Warn("no vault secret configured, mailbox credentials are used as stored")
	case err != nil:
		return fmt.Errorf("open vault: %w", err)
	default:
		a.vault = v
	}

	stream := queue.StreamConfig{
		Name:            cfg.NATS.Stream,
		SubjectPrefix:   cfg.NATS.SubjectPrefix,
		DuplicateWindow: cfg.NATS.DuplicateWindow,
		MaxAge:          cfg.NATS.MaxAge,
	}
	publisher, err := queue.NewJetStreamPublisher(cfg.NATS.URL, stream)
	if err != nil {
		return err
	}
	if err := publisher.EnsureStream(ctx); err != nil {
		publisher.Close()
		return err
	}
	a.publisher = publisher
	a.enqueuer = queue.NewEnqueuer(repository.NewEnqueueLedgerRepository(a.db), publisher,
		queue.WithSubjectPrefix(cfg.NATS.SubjectPrefix),
		queue.WithLogger(a.logger))

	if cfg.Valkey.Enabled {
		status, err := cache.NewStatusCache(cache.Config{
			Addrs:       []string{cfg.Valkey.ValkeyAddr()},
			Password:    cfg.Valkey.Password,
			DB:          cfg.Valkey.DB,
			ClusterMode: cfg.Valkey.ClusterMode,
			KeyPrefix:   cfg.Valkey.KeyPrefix,
			TTL:         cfg.Valkey.StatusTTL,
		})
		if err != nil {
			a.logger.Warn("poll status cache unavailable", "error", err)
		} else {
			a.status = status
		}
	}

	messages := repository.NewMessageRepository(a.db)
	patterns := filters.DefaultPatterns().Extend(cfg.Filters.AutomatedSubjects, cfg.Filters.AutomatedSenders)
	a.postmaster = &postmaster.Service{
		Normalizer: normalize.New(
			normalize.WithMaxBodyBytes(cfg.Normalize.MaxBodyBytes),
			normalize.WithLogger(a.logger),
		),
		FilterChain: filters.NewInboundChain(a.logger, patterns, cfg.Filters.DropAutoSubmitted),
		Dedup:       dedup.NewResolver(messages, dedup.WithTolerance(cfg.Dedup.Tolerance), dedup.WithLogger(a.logger)),
		Messages:    messages,
		Threads:     threading.NewLinker(repository.NewThreadRepository(a.db), threading.WithLogger(a.logger)),
		Enqueuer:    a.enqueuer,
		Logger:      a.logger,
	}

	factory := connector.DefaultFactory(connector.SessionConfig{
		DialTimeout:      cfg.Poll.ConnectTimeout,
		AuthTimeout:      cfg.Poll.AuthTimeout,
		DeleteAfterFetch: cfg.Poll.DeleteAfterFetch,
		Logger:           a.logger,
	})
	opts := []ingest.Option{
		ingest.WithWorkers(cfg.Poll.Workers),
		ingest.WithSessionTimeout(cfg.Poll.SessionTimeout),
		ingest.WithDefaultFolder(cfg.Poll.Folder),
		ingest.WithRedispatcher(a.enqueuer, cfg.NATS.RedispatchLimit),
		ingest.WithLogger(a.logger),
	}
	if a.vault != nil {
		opts = append(opts, ingest.WithSecrets(a.vault))
	}
	if a.status != nil {
		opts = append(opts, ingest.WithStatusStore(a.status))
	}
	a.poller = ingest.NewOrchestrator(a.accounts, factory, a.postmaster, opts...)
	return nil
}

func (a *app) Close() {
	if a.publisher != nil {
		a.publisher.Close()
	}
	if a.status != nil {
		_ = a.status.Close()
	}
	if a.db != nil {
		_ = a.db.Close()
	}
}
