package main

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/warp/resident-ledger/config"
	"github.com/warp/resident-ledger/events"
	"github.com/warp/resident-ledger/ledger"
	memstore "github.com/warp/resident-ledger/ledger/store"
	"github.com/warp/resident-ledger/metrics"
	boltstore "github.com/warp/resident-ledger/store/bolt"
	"github.com/warp/resident-ledger/store/postgres"
	"github.com/warp/resident-ledger/store/sqlite"
	"github.com/warp/resident-ledger/sweep"
)

const notifierDrainTimeout = 10 * time.Second

// app holds the wired dependencies for one process.
type app struct {
	cfg       config.Config
	logger    *slog.Logger
	ledger    *ledger.Ledger
	metrics   *metrics.Metrics
	publisher events.Publisher
	notifier  *events.Notifier
	sweeper   *sweep.Sweeper

	closeStore func() error
}

// newApp opens the configured store and builds the ledger with its
// observers attached.
func newApp(ctx context.Context, cfg config.Config) (*app, error) {
	logger := slog.Default()

	store, closeStore, err := openStore(ctx, cfg)
	if err != nil {
		return nil, err
	}

	m := metrics.New()
	publisher := openPublisher(cfg, logger)
	notifier := events.NewNotifier(publisher, cfg.EventExchange, cfg.Currency, logger)

	l := ledger.New(store, cfg.Ledger(),
		ledger.WithLogger(logger),
		ledger.WithObserver(m, notifier),
	)

	policy := sweep.Policy{AmountCents: cfg.LateFeeAmountCents, GraceDays: cfg.LateFeeGraceDays}

	return &app{
		cfg:        cfg,
		logger:     logger,
		ledger:     l,
		metrics:    m,
		publisher:  publisher,
		notifier:   notifier,
		sweeper:    sweep.NewSweeper(l, policy, m, logger),
		closeStore: closeStore,
	}, nil
}

// Close drains queued domain events before closing the broker and store.
func (a *app) Close() {
	ctx, cancel := context.WithTimeout(context.Background(), notifierDrainTimeout)
	defer cancel()
	if err := a.notifier.Close(ctx); err != nil {
		a.logger.Warn("domain events not drained", "err", err, "dropped", a.notifier.Dropped())
	}
	a.publisher.Close()
	if err := a.closeStore(); err != nil {
		a.logger.Warn("failed to close store", "err", err)
	}
}

func openStore(ctx context.Context, cfg config.Config) (ledger.Store, func() error, error) {
	switch cfg.StoreDriver {
	case config.DriverSQLite:
		s, err := sqlite.New(cfg.DatabasePath)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to initialize sqlite store: %w", err)
		}
		return s, s.Close, nil
	case config.DriverBolt:
		s, err := boltstore.New(cfg.DatabasePath)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to initialize bolt store: %w", err)
		}
		return s, s.Close, nil
	case config.DriverPostgres:
		s, err := postgres.Connect(ctx, cfg.DatabaseURL)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to initialize postgres store: %w", err)
		}
		return s, s.Close, nil
	case config.DriverMemory:
		return memstore.NewMemory(), func() error { return nil }, nil
	}
	return nil, nil, fmt.Errorf("unknown store driver %q", cfg.StoreDriver)
}

// openPublisher connects to RabbitMQ, or falls back to dropping events
// when no URL is set or the broker is unreachable.
func openPublisher(cfg config.Config, logger *slog.Logger) events.Publisher {
	if cfg.RabbitMQURL == "" {
		logger.Info("RABBITMQ_URL not set; domain events disabled")
		return events.FallbackPublisher{Logger: logger}
	}
	producer, err := events.NewProducer(cfg.RabbitMQURL, logger)
	if err != nil {
		logger.Warn("failed to connect to RabbitMQ; domain events disabled", "err", err)
		return events.FallbackPublisher{Logger: logger}
	}
	logger.Info("connected to RabbitMQ", "exchange", cfg.EventExchange)
	return producer
}
