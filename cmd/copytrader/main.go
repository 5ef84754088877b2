// Package main runs the copy trader: it watches one wallet's swaps on the
// feed and mirrors each one with the configured size.
package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"solana-copy-trader/internal/builder"
	"solana-copy-trader/internal/classifier"
	"solana-copy-trader/internal/config"
	"solana-copy-trader/internal/domain"
	"solana-copy-trader/internal/jupiter"
	"solana-copy-trader/internal/observability"
	"solana-copy-trader/internal/pipeline"
	"solana-copy-trader/internal/router"
	"solana-copy-trader/internal/solana"
	"solana-copy-trader/internal/stream"
	"solana-copy-trader/internal/submit"
	"solana-copy-trader/internal/venue"
)

const shutdownTimeout = 30 * time.Second

func main() {
	cfg, err := config.Load(os.Args[1:])
	if err != nil {
		fmt.Fprintf(os.Stderr, "config: %v\n", err)
		os.Exit(2)
	}

	logger, err := observability.NewLogger(cfg.LogLevel, cfg.LogFormat)
	if err != nil {
		fmt.Fprintf(os.Stderr, "logger: %v\n", err)
		os.Exit(2)
	}
	defer logger.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, logger); err != nil {
		logger.Error("copytrader stopped", zap.String("error_kind", string(domain.Kind(err))), zap.Error(err))
		os.Exit(1)
	}
	logger.Info("shutdown complete")
}

func run(ctx context.Context, cfg *config.Config, logger *zap.Logger) error {
	key, err := cfg.TradingKey()
	if err != nil {
		return err
	}
	owner := key.PublicKey().String()

	logger.Info("starting copytrader",
		zap.String("target_wallet", cfg.TargetWallet),
		zap.String("trading_wallet", owner),
		zap.String("rpc_endpoint", cfg.RPCEndpoint),
		zap.String("feed_endpoint", cfg.FeedEndpoint),
		zap.String("commitment", cfg.Commitment),
		zap.Uint64("buy_lamports", cfg.BuyLamports()),
		zap.Int("sell_percent", cfg.SellPercent),
		zap.Uint64("reserve_lamports", cfg.ReserveLamports()),
		zap.String("submission_mode", cfg.SubmissionMode),
		zap.Uint64("tip_lamports", cfg.TipLamports()),
		zap.Strings("audit_backends", cfg.Audit.Backends),
	)

	audit, closeAudit, err := openAudit(ctx, cfg.Audit, logger)
	if err != nil {
		return err
	}
	defer closeAudit()

	srv := startHTTPServer(cfg.MetricsAddr, logger)
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	rpc := solana.NewHTTPClient(cfg.RPCEndpoint, solana.WithCommitment(cfg.Commitment))
	jup := jupiter.NewClient(cfg.AggregatorURL)
	aggOpts := venue.AggregatorOptions{
		SlippageBps:         cfg.SlippageBps,
		PriorityFeeLamports: cfg.PriorityFeeLamports,
		BuySwapMode:         cfg.BuySwapMode,
	}
	registry, err := venue.DefaultRegistry(rpc, jup, aggOpts)
	if err != nil {
		return fmt.Errorf("venue registry: %w", err)
	}

	cls := classifier.New(classifier.Options{
		Target:   cfg.TargetWallet,
		Registry: registry,
		Audit:    audit,
		Logger:   logger,
	})
	rt, err := router.New(router.Options{
		Registry:        registry,
		Fallback:        venue.NewJupiter(jup, aggOpts),
		Owner:           owner,
		ResolveAttempts: cfg.PoolResolveAttempts,
		ResolveDelay:    cfg.PoolResolveDelay,
		Logger:          logger,
	})
	if err != nil {
		return err
	}
	sizer := builder.NewSizer(rpc, builder.SizerConfig{
		Owner:           owner,
		BuyLamports:     cfg.BuyLamports(),
		ReserveLamports: cfg.ReserveLamports(),
		SellPercent:     cfg.SellPercent,
	})
	bld := builder.New(builder.Options{
		RPC:         rpc,
		Registry:    registry,
		Key:         key,
		CUPrice:     cfg.CUPrice,
		CULimit:     cfg.CULimit,
		SlippageBps: cfg.SlippageBps,
		SellPercent: cfg.SellPercent,
		Simulate:    cfg.Simulate,
		Logger:      logger,
	})

	var relay submit.Relay
	if cfg.SubmissionMode != config.SubmitBroadcast && cfg.JitoEndpoint != "" {
		relay = submit.NewJitoClient(cfg.JitoEndpoint)
	}
	engine, err := submit.NewEngine(submit.Options{
		RPC:          rpc,
		Relay:        relay,
		Key:          key,
		TipLamports:  cfg.TipLamports(),
		Mode:         cfg.SubmissionMode,
		PollInterval: cfg.ConfirmPollInterval,
		Logger:       logger,
	})
	if err != nil {
		return err
	}

	wsCfg := solana.DefaultWSConfig()
	wsCfg.Commitment = cfg.Commitment
	wsCfg.Logger = logger
	ws, err := solana.NewWSClient(ctx, cfg.FeedEndpoint, &wsCfg)
	if err != nil {
		return fmt.Errorf("connect feed: %w", err)
	}
	defer ws.Close()

	source := stream.NewAdapter(ws, stream.Options{
		TargetWallet:  cfg.TargetWallet,
		Commitment:    cfg.Commitment,
		WatchNewPools: cfg.WatchNewPools,
		Logger:        logger,
	})

	p, err := pipeline.New(pipeline.Options{
		Source:          source,
		Classifier:      cls,
		Router:          rt,
		Sizer:           sizer,
		Builder:         bld,
		Submitter:       engine,
		Executions:      audit,
		UnwindRemainder: cfg.UnwindRemainder,
		Logger:          logger,
	})
	if err != nil {
		return err
	}

	logger.Info("watching target wallet")
	err = p.Run(ctx)
	if err != nil && ctx.Err() == nil {
		return err
	}
	return nil
}

func startHTTPServer(addr string, logger *zap.Logger) *http.Server {
	mux := http.NewServeMux()
	mux.HandleFunc("/health", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	mux.Handle("/metrics", observability.Handler())

	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	go func() {
		logger.Info("starting HTTP server", zap.String("addr", addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("HTTP server error", zap.Error(err))
		}
	}()
	return srv
}
