// Package main prints newly initialized Raydium AMM v4 pools quoted in WSOL.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"go.uber.org/zap"

	"solana-copy-trader/internal/observability"
	"solana-copy-trader/internal/solana"
	"solana-copy-trader/internal/venue"
)

func main() {
	_ = godotenv.Load()

	endpoint := flag.String("feed-endpoint", os.Getenv("FEED_ENDPOINT"), "Solana WebSocket endpoint")
	commitment := flag.String("commitment", solana.CommitmentProcessed, "Subscription commitment")
	logLevel := flag.String("log-level", "info", "Log level")
	logFormat := flag.String("log-format", "console", "Log format (json or console)")
	flag.Parse()

	logger, err := observability.NewLogger(*logLevel, *logFormat)
	if err != nil {
		fmt.Fprintf(os.Stderr, "logger: %v\n", err)
		os.Exit(2)
	}
	defer logger.Sync()

	if *endpoint == "" {
		logger.Fatal("--feed-endpoint is required")
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := watch(ctx, *endpoint, *commitment, logger); err != nil {
		logger.Fatal("pool watch ended", zap.Error(err))
	}
}

func watch(ctx context.Context, endpoint, commitment string, logger *zap.Logger) error {
	cfg := solana.DefaultWSConfig()
	cfg.Commitment = commitment
	cfg.Logger = logger

	ws, err := solana.NewWSClient(ctx, endpoint, &cfg)
	if err != nil {
		return fmt.Errorf("connect: %w", err)
	}
	defer ws.Close()

	ch, err := ws.SubscribeProgram(ctx, solana.RaydiumAMMV4, venue.NewPoolFilters())
	if err != nil {
		return fmt.Errorf("subscribe: %w", err)
	}
	logger.Info("watching new pools", zap.String("program", solana.RaydiumAMMV4))

	for n := range ch {
		if n.DecodeErr != nil {
			logger.Warn("undecodable notification", zap.Error(n.DecodeErr))
			continue
		}
		pool, err := venue.DecodePoolStateV4(n.Account.Data)
		if err != nil {
			logger.Warn("undecodable pool", zap.String("pool", n.Pubkey), zap.Error(err))
			continue
		}
		logger.Info("new pool",
			zap.String("pool", n.Pubkey),
			zap.Uint64("slot", n.Slot),
			zap.String("base_mint", pool.BaseMint),
			zap.Uint64("base_decimals", pool.BaseDecimal),
			zap.String("market_id", pool.MarketID),
			zap.Time("open_time", time.Unix(int64(pool.PoolOpenTime), 0).UTC()),
		)
	}
	return ws.Err()
}
