package main

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"solana-copy-trader/internal/config"
	"solana-copy-trader/internal/storage"
	chstore "solana-copy-trader/internal/storage/clickhouse"
	"solana-copy-trader/internal/storage/memory"
	"solana-copy-trader/internal/storage/migrations"
	pgstore "solana-copy-trader/internal/storage/postgres"
	"solana-copy-trader/internal/storage/redisfeed"
	"solana-copy-trader/internal/storage/sqlite"
)

// openAudit connects every configured audit backend and fans them into one sink.
// The returned cleanup closes whatever was opened.
func openAudit(ctx context.Context, cfg config.AuditConfig, logger *zap.Logger) (*storage.MultiSink, func(), error) {
	var (
		sinks   []storage.NamedSink
		closers []func()
	)
	cleanup := func() {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
	}

	for _, backend := range cfg.Backends {
		sink, closeFn, err := openBackend(ctx, backend, cfg, logger)
		if err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("audit %s: %w", backend, err)
		}
		if closeFn != nil {
			closers = append(closers, closeFn)
		}
		sinks = append(sinks, storage.NamedSink{Name: backend, Sink: sink})
		logger.Info("audit backend ready", zap.String("backend", backend))
	}

	return storage.NewMultiSink(sinks...), cleanup, nil
}

func openBackend(ctx context.Context, backend string, cfg config.AuditConfig, logger *zap.Logger) (storage.Sink, func(), error) {
	switch backend {
	case config.AuditMemory:
		return storage.CombinedSink{
			AuditStore:     memory.NewAuditStore(),
			ExecutionStore: memory.NewExecutionStore(),
		}, nil, nil

	case config.AuditPostgres:
		pool, err := pgstore.NewPool(ctx, cfg.PostgresDSN)
		if err != nil {
			return nil, nil, err
		}
		if err := migrations.RunPostgresMigrations(ctx, pool, logger); err != nil {
			pool.Close()
			return nil, nil, err
		}
		return storage.CombinedSink{
			AuditStore:     pgstore.NewAuditStore(pool),
			ExecutionStore: pgstore.NewExecutionStore(pool),
		}, pool.Close, nil

	case config.AuditClickhouse:
		if err := chstore.EnsureDatabase(ctx, cfg.ClickhouseDSN); err != nil {
			return nil, nil, err
		}
		conn, err := chstore.NewConn(ctx, cfg.ClickhouseDSN)
		if err != nil {
			return nil, nil, err
		}
		if err := migrations.RunClickhouseMigrations(ctx, conn, logger); err != nil {
			_ = conn.Close()
			return nil, nil, err
		}
		return storage.ExecutionStoreSink{ExecutionStore: chstore.NewExecutionStore(conn)},
			func() { _ = conn.Close() }, nil

	case config.AuditSQLite:
		store, err := sqlite.Open(cfg.SQLitePath)
		if err != nil {
			return nil, nil, err
		}
		return store, func() { _ = store.Close() }, nil

	case config.AuditRedis:
		pub := redisfeed.NewPublisher(redisfeed.Options{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
			Prefix:   cfg.RedisPrefix,
		})
		if err := pub.Ping(ctx); err != nil {
			_ = pub.Close()
			return nil, nil, err
		}
		return pub, func() { _ = pub.Close() }, nil

	default:
		return nil, nil, fmt.Errorf("unknown backend %q", backend)
	}
}
