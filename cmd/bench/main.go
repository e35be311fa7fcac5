package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"net/http/httptest"
	"os"
	"time"

	"github.com/aretw0/tally"
	"github.com/aretw0/tally/pkg/adapters/memory"
	"github.com/aretw0/tally/pkg/core"
	"github.com/aretw0/tally/pkg/remote/server"
	"github.com/aretw0/tally/pkg/syncer"
)

func main() {
	count := flag.Int("count", 1000, "Number of debtors per market")
	markets := flag.Int("markets", 4, "Number of markets")
	adapter := flag.String("adapter", "fs", "Storage adapter: fs, sqlite or memory")
	keep := flag.Bool("keep", false, "Keep the benchmark data after running")
	flag.Parse()

	benchDir, err := os.MkdirTemp("", "tally_bench_")
	if err != nil {
		panic(err)
	}
	defer func() {
		if !*keep {
			os.RemoveAll(benchDir)
		} else {
			fmt.Printf("Keeping bench dir: %s\n", benchDir)
		}
	}()

	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelWarn}))
	srv := server.New(server.Config{Store: memory.NewStore(), Logger: logger})
	ts := httptest.NewServer(srv.Handler())
	defer ts.Close()

	app, err := tally.New(benchDir,
		tally.WithAdapter(*adapter),
		tally.WithLogger(logger),
		tally.WithRemoteURL(ts.URL, ""),
	)
	if err != nil {
		panic(err)
	}
	defer app.Close()

	ctx := context.Background()

	// 1. Generate snapshots directly: one write per market.
	fmt.Printf("Generating %d debtors in %d markets (%s)...\n", *count, *markets, *adapter)
	startGen := time.Now()
	now := time.Now().UTC()
	for m := 0; m < *markets; m++ {
		market := fmt.Sprintf("market-%d", m)
		debtors := make([]core.Debtor, 0, *count)
		for i := 0; i < *count; i++ {
			debtors = append(debtors, core.Debtor{
				ID:           fmt.Sprintf("%s-%d", market, i),
				MarketID:     market,
				Name:         fmt.Sprintf("Debtor %d", i),
				Balance:      1000,
				Transactions: []core.Transaction{{ID: fmt.Sprintf("tx-%d", i), Kind: core.TxDebt, Amount: 1000, CreatedAt: now}},
				CreatedAt:    now,
				UpdatedAt:    now,
			})
		}
		if err := app.Ledger.Replace(ctx, market, debtors); err != nil {
			panic(err)
		}
	}
	fmt.Printf("Generation took: %v\n", time.Since(startGen))

	// 2. Single writes go through a full read-modify-write of the market.
	startWrites := time.Now()
	const writes = 100
	for i := 0; i < writes; i++ {
		if _, err := app.Ledger.RecordPayment(ctx, "market-0", fmt.Sprintf("market-0-%d", i%*count), 10, ""); err != nil {
			panic(err)
		}
	}
	writeDuration := time.Since(startWrites)

	// Run 1: Cold (remote is empty, everything is pushed)
	fmt.Println("Running SyncAll (Run 1 - Cold)...")
	cold, coldResults := syncAll(ctx, app.Syncer)

	// Run 2: Warm (remote holds the same data, merge keeps everything local)
	fmt.Println("Running SyncAll (Run 2 - Warm)...")
	warm, warmResults := syncAll(ctx, app.Syncer)

	fmt.Printf("--------------------------------------------------\n")
	fmt.Printf("Benchmark Result (%d debtors x %d markets):\n", *count, *markets)
	fmt.Printf("  Write: %v per payment\n", writeDuration/writes)
	fmt.Printf("  Cold:  %v (%d markets)\n", cold, len(coldResults))
	fmt.Printf("  Warm:  %v (%d markets)\n", warm, len(warmResults))
	fmt.Printf("--------------------------------------------------\n")
}

func syncAll(ctx context.Context, s *syncer.Syncer) (time.Duration, []syncer.Result) {
	start := time.Now()
	results, err := s.SyncAll(ctx, true)
	if err != nil {
		panic(err)
	}
	return time.Since(start), results
}
