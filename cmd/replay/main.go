// Package main replays recorded feed events through the classifier and prints
// what the copy trader would have acted on. Nothing is routed or submitted.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/sugawarayuuta/sonnet"
	"go.uber.org/zap"

	"solana-copy-trader/internal/classifier"
	"solana-copy-trader/internal/jupiter"
	"solana-copy-trader/internal/observability"
	"solana-copy-trader/internal/replay"
	"solana-copy-trader/internal/solana"
	"solana-copy-trader/internal/storage"
	pgstore "solana-copy-trader/internal/storage/postgres"
	"solana-copy-trader/internal/storage/sqlite"
	"solana-copy-trader/internal/venue"
)

func main() {
	_ = godotenv.Load()

	sqlitePath := flag.String("sqlite-path", os.Getenv("AUDIT_SQLITE_PATH"), "SQLite audit database")
	postgresDSN := flag.String("postgres-dsn", os.Getenv("AUDIT_POSTGRES_DSN"), "PostgreSQL audit database (used when --sqlite-path is empty)")
	target := flag.String("target", os.Getenv("TARGET_WALLET"), "Watched wallet")
	fromSlot := flag.Int64("from-slot", 0, "First slot to replay")
	toSlot := flag.Int64("to-slot", 1<<62, "Last slot to replay")
	asJSON := flag.Bool("json", false, "Print stats and signals as JSON")
	logLevel := flag.String("log-level", "info", "Log level")
	logFormat := flag.String("log-format", "console", "Log format (json or console)")
	flag.Parse()

	logger, err := observability.NewLogger(*logLevel, *logFormat)
	if err != nil {
		fmt.Fprintf(os.Stderr, "logger: %v\n", err)
		os.Exit(2)
	}
	defer logger.Sync()

	if *target == "" {
		logger.Fatal("--target is required")
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	store, closeStore, err := openRawEvents(ctx, *sqlitePath, *postgresDSN)
	if err != nil {
		logger.Fatal("open audit store", zap.Error(err))
	}
	defer closeStore()

	// Classification only matches logs; venues never reach the network here.
	registry, err := venue.DefaultRegistry(solana.NewHTTPClient(""), jupiter.NewClient(""), venue.AggregatorOptions{})
	if err != nil {
		logger.Fatal("build venue registry", zap.Error(err))
	}
	c := classifier.New(classifier.Options{Target: *target, Registry: registry, Logger: logger})

	engine := replay.NewClassifyEngine(c, logger)
	n, err := replay.NewRunner(store, logger).Run(ctx, *fromSlot, *toSlot, engine)
	if err != nil {
		logger.Fatal("replay failed", zap.Int("delivered", n), zap.Error(err))
	}

	if err := printResult(engine, *asJSON); err != nil {
		logger.Fatal("print result", zap.Error(err))
	}
}

func openRawEvents(ctx context.Context, sqlitePath, postgresDSN string) (storage.RawEventReader, func(), error) {
	switch {
	case sqlitePath != "":
		store, err := sqlite.Open(sqlitePath)
		if err != nil {
			return nil, nil, err
		}
		return store, func() { _ = store.Close() }, nil
	case postgresDSN != "":
		pool, err := pgstore.NewPool(ctx, postgresDSN)
		if err != nil {
			return nil, nil, err
		}
		return pgstore.NewAuditStore(pool), pool.Close, nil
	}
	return nil, nil, errors.New("one of --sqlite-path or --postgres-dsn is required")
}

type result struct {
	Stats   replay.Stats `json:"stats"`
	Signals []signalLine `json:"signals"`
}

type signalLine struct {
	Slot      int64  `json:"slot"`
	Signature string `json:"signature"`
	Direction string `json:"direction"`
	Venue     string `json:"venue"`
	Mint      string `json:"mint"`
	Delta     int64  `json:"instrument_delta"`
}

func printResult(engine *replay.ClassifyEngine, asJSON bool) error {
	stats := engine.Stats()
	signals := engine.Signals()

	if asJSON {
		out := result{Stats: stats, Signals: make([]signalLine, 0, len(signals))}
		for _, s := range signals {
			out.Signals = append(out.Signals, signalLine{
				Slot:      s.Slot,
				Signature: s.SourceSignature,
				Direction: string(s.Direction),
				Venue:     s.Venue,
				Mint:      s.Mint,
				Delta:     s.InstrumentDelta,
			})
		}
		data, err := sonnet.Marshal(out)
		if err != nil {
			return err
		}
		fmt.Println(string(data))
		return nil
	}

	fmt.Printf("events:        %d (transactions %d, accounts %d)\n", stats.TotalEvents, stats.Transactions, stats.Accounts)
	fmt.Printf("decode errors: %d\n", stats.DecodeErrors)
	fmt.Printf("qualified:     %d\n", stats.Qualified)
	fmt.Printf("signals:       %d (buy %d, sell %d)\n", stats.Signals, stats.Buys, stats.Sells)
	for _, kind := range stats.RejectKinds() {
		fmt.Printf("rejected %-22s %d\n", string(kind)+":", stats.Rejected[kind])
	}
	for _, s := range signals {
		fmt.Printf("%d %s %-4s %-12s %s %d\n", s.Slot, s.SourceSignature, s.Direction, s.Venue, s.Mint, s.InstrumentDelta)
	}
	return nil
}
