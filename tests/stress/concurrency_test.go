package stress

import (
	"context"
	"fmt"
	"math/rand"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aretw0/tally"
	"github.com/aretw0/tally/pkg/adapters/memory"
	"github.com/aretw0/tally/pkg/ledger"
	"github.com/aretw0/tally/pkg/remote/server"
)

// TestConcurrency_WritesSyncsAndNoise hammers an fs-backed ledger with
// payments, syncs and foreign files appearing in the data directory. The
// ledger must not panic and every balance must still match its transactions.
func TestConcurrency_WritesSyncsAndNoise(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping stress test in short mode")
	}

	srv := server.New(server.Config{Store: memory.NewStore()})
	ts := httptest.NewServer(srv.Handler())
	defer ts.Close()

	dir := t.TempDir()
	app, err := tally.New(dir, tally.WithRemoteURL(ts.URL, ""), tally.WithMinInterval(0))
	require.NoError(t, err)
	defer app.Close()

	markets := []string{"north", "south", "east"}
	ids := map[string][]string{}
	for _, m := range markets {
		for i := 0; i < 5; i++ {
			d, err := app.Ledger.AddDebtor(context.Background(), m, ledger.DebtorInput{Name: fmt.Sprintf("%s-%d", m, i)})
			require.NoError(t, err)
			_, err = app.Ledger.RecordDebt(context.Background(), m, d.ID, 1_000_000, "opening")
			require.NoError(t, err)
			ids[m] = append(ids[m], d.ID)
		}
	}

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	var wg sync.WaitGroup

	// Foreign files the store must ignore.
	wg.Add(1)
	go func() {
		defer wg.Done()
		for ctx.Err() == nil {
			name := filepath.Join(dir, fmt.Sprintf("noise-%d.txt", rand.Intn(10)))
			_ = os.WriteFile(name, []byte(time.Now().String()), 0644)
			time.Sleep(time.Duration(rand.Intn(10)) * time.Millisecond)
		}
	}()

	for _, m := range markets {
		m := m
		wg.Add(1)
		go func() {
			defer wg.Done()
			for ctx.Err() == nil {
				id := ids[m][rand.Intn(len(ids[m]))]
				if rand.Intn(2) == 0 {
					_, _ = app.Ledger.RecordDebt(context.Background(), m, id, 100, "")
				} else {
					_, _ = app.Ledger.RecordPayment(context.Background(), m, id, 50, "")
				}
			}
		}()
	}

	wg.Add(1)
	go func() {
		defer wg.Done()
		for ctx.Err() == nil {
			_, err := app.Syncer.SyncAll(context.Background(), false)
			assert.NoError(t, err)
			time.Sleep(20 * time.Millisecond)
		}
	}()

	wg.Wait()

	for _, m := range markets {
		mismatches, err := app.Ledger.Verify(context.Background(), m)
		require.NoError(t, err)
		assert.Empty(t, mismatches, "market %s drifted", m)

		// A final forced sync leaves the remote identical to the local copy.
		res, err := app.Syncer.Sync(context.Background(), m, true)
		require.NoError(t, err)
		assert.Equal(t, res.Local, res.Merged)
	}
}
