package ledger_test

import (
	"context"
	"fmt"
	"math"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aretw0/tally/pkg/adapters/memory"
	"github.com/aretw0/tally/pkg/core"
	"github.com/aretw0/tally/pkg/ledger"
)

const market = "shop-1"

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

func setupLedger(t *testing.T) (*ledger.Service, *memory.Store, *fakeClock) {
	t.Helper()
	store := memory.NewStore()
	clock := &fakeClock{now: time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)}
	var n int
	var mu sync.Mutex
	svc := ledger.NewService(store,
		ledger.WithClock(clock.Now),
		ledger.WithIDGenerator(func() string {
			mu.Lock()
			defer mu.Unlock()
			n++
			return fmt.Sprintf("id-%03d", n)
		}),
	)
	return svc, store, clock
}

func TestLedger_DebtorLifecycle(t *testing.T) {
	ctx := context.Background()
	svc, _, _ := setupLedger(t)

	d, err := svc.AddDebtor(ctx, market, ledger.DebtorInput{Name: "  Zeynep ", Phone: "555"})
	require.NoError(t, err)
	assert.Equal(t, "Zeynep", d.Name)
	assert.Equal(t, market, d.MarketID)
	assert.Zero(t, d.Balance)

	_, err = svc.AddDebtor(ctx, market, ledger.DebtorInput{Name: "ali"})
	require.NoError(t, err)

	list, err := svc.ListDebtors(ctx, market)
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, "ali", list[0].Name, "list is ordered by name, case-insensitively")

	newName := "Zeynep K."
	updated, err := svc.UpdateDebtor(ctx, market, d.ID, ledger.DebtorPatch{Name: &newName})
	require.NoError(t, err)
	assert.Equal(t, newName, updated.Name)

	require.NoError(t, svc.DeleteDebtor(ctx, market, d.ID))
	_, err = svc.GetDebtor(ctx, market, d.ID)
	assert.ErrorIs(t, err, core.ErrDebtorNotFound)

	list, err = svc.ListDebtors(ctx, market)
	require.NoError(t, err)
	assert.Len(t, list, 1)

	// The tombstone stays in the raw snapshot for sync.
	snap, err := svc.Snapshot(ctx, market)
	require.NoError(t, err)
	assert.Len(t, snap, 2)
}

func TestLedger_Validation(t *testing.T) {
	ctx := context.Background()
	svc, _, _ := setupLedger(t)

	_, err := svc.AddDebtor(ctx, market, ledger.DebtorInput{Name: "   "})
	assert.Error(t, err)

	_, err = svc.AddDebtor(ctx, "bad/market", ledger.DebtorInput{Name: "x"})
	assert.ErrorIs(t, err, core.ErrUnknownMarket)

	_, err = svc.RecordDebt(ctx, market, "missing", 100, "")
	assert.ErrorIs(t, err, core.ErrDebtorNotFound)

	_, err = svc.GetDebtor(ctx, market, "")
	assert.ErrorIs(t, err, core.ErrEmptyID)
}

func TestLedger_Transactions(t *testing.T) {
	ctx := context.Background()
	svc, _, _ := setupLedger(t)

	d, err := svc.AddDebtor(ctx, market, ledger.DebtorInput{Name: "Ali"})
	require.NoError(t, err)

	_, err = svc.RecordDebt(ctx, market, d.ID, 0, "")
	assert.ErrorIs(t, err, core.ErrInvalidAmount)

	_, err = svc.RecordDebt(ctx, market, d.ID, 5000, "bread")
	require.NoError(t, err)
	_, err = svc.RecordPayment(ctx, market, d.ID, 2000, "cash")
	require.NoError(t, err)

	_, err = svc.RecordPayment(ctx, market, d.ID, 3001, "")
	assert.ErrorIs(t, err, core.ErrOverpayment)

	got, err := svc.GetDebtor(ctx, market, d.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(3000), got.Balance)
	assert.Len(t, got.Transactions, 2)
	assert.Equal(t, got.ComputedBalance(), got.Balance)

	mismatches, err := svc.Verify(ctx, market)
	require.NoError(t, err)
	assert.Empty(t, mismatches)
}

func TestLedger_DebtOverflowRejected(t *testing.T) {
	ctx := context.Background()
	svc, _, _ := setupLedger(t)

	d, err := svc.AddDebtor(ctx, market, ledger.DebtorInput{Name: "Big"})
	require.NoError(t, err)

	_, err = svc.RecordDebt(ctx, market, d.ID, math.MaxInt64-10, "")
	require.NoError(t, err)
	_, err = svc.RecordDebt(ctx, market, d.ID, 11, "")
	assert.ErrorIs(t, err, core.ErrInvalidAmount)
	_, err = svc.RecordDebt(ctx, market, d.ID, 10, "")
	require.NoError(t, err)

	got, err := svc.GetDebtor(ctx, market, d.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(math.MaxInt64), got.Balance)

	_, err = svc.RecordPayment(ctx, market, d.ID, 100, "")
	require.NoError(t, err, "payments still work at the ceiling")
}

func TestLedger_UpdatedAtAdvances(t *testing.T) {
	ctx := context.Background()
	svc, _, clock := setupLedger(t)

	d, err := svc.AddDebtor(ctx, market, ledger.DebtorInput{Name: "Ali"})
	require.NoError(t, err)

	clock.Advance(time.Hour)
	_, err = svc.RecordDebt(ctx, market, d.ID, 10, "")
	require.NoError(t, err)

	got, err := svc.GetDebtor(ctx, market, d.ID)
	require.NoError(t, err)
	assert.True(t, got.UpdatedAt.After(d.UpdatedAt))
}

func TestLedger_RecalculateFixesDrift(t *testing.T) {
	ctx := context.Background()
	svc, _, _ := setupLedger(t)

	d, err := svc.AddDebtor(ctx, market, ledger.DebtorInput{Name: "Ali"})
	require.NoError(t, err)
	_, err = svc.RecordDebt(ctx, market, d.ID, 700, "")
	require.NoError(t, err)

	_, err = svc.UpdateSnapshot(ctx, market, func(local []core.Debtor) ([]core.Debtor, error) {
		local[0].Balance = 1
		return local, nil
	})
	require.NoError(t, err)

	mismatches, err := svc.Verify(ctx, market)
	require.NoError(t, err)
	require.Len(t, mismatches, 1)
	assert.Equal(t, int64(700), mismatches[0].Computed)

	fixed, err := svc.Recalculate(ctx, market)
	require.NoError(t, err)
	assert.Equal(t, 1, fixed)

	got, _ := svc.GetDebtor(ctx, market, d.ID)
	assert.Equal(t, int64(700), got.Balance)
}

func TestLedger_Promises(t *testing.T) {
	ctx := context.Background()
	svc, _, clock := setupLedger(t)

	d, err := svc.AddDebtor(ctx, market, ledger.DebtorInput{Name: "Ali"})
	require.NoError(t, err)

	p1, err := svc.AddPromise(ctx, market, d.ID, 100, clock.Now().Add(24*time.Hour))
	require.NoError(t, err)
	p2, err := svc.AddPromise(ctx, market, d.ID, 200, clock.Now().Add(48*time.Hour))
	require.NoError(t, err)

	require.NoError(t, svc.ResolvePromise(ctx, market, d.ID, p1.ID, true))
	assert.ErrorIs(t, svc.ResolvePromise(ctx, market, d.ID, p1.ID, false), core.ErrPromiseClosed)

	clock.Advance(72 * time.Hour)
	n, err := svc.ExpirePromises(ctx, market)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	got, err := svc.GetDebtor(ctx, market, d.ID)
	require.NoError(t, err)
	statuses := map[string]core.PromiseStatus{}
	for _, p := range got.Promises {
		statuses[p.ID] = p.Status
	}
	assert.Equal(t, core.PromiseKept, statuses[p1.ID])
	assert.Equal(t, core.PromiseBroken, statuses[p2.ID])
}

func TestLedger_CorruptedStorageFallsBackToEmpty(t *testing.T) {
	ctx := context.Background()
	svc, store, _ := setupLedger(t)

	require.NoError(t, store.Set(ctx, core.DebtorsKey(market), []byte("<<garbage>>")))

	list, err := svc.ListDebtors(ctx, market)
	require.NoError(t, err)
	assert.Empty(t, list)

	_, err = store.Get(ctx, core.DebtorsKey(market))
	assert.ErrorIs(t, err, core.ErrNotFound)

	// The ledger keeps working after recovery.
	_, err = svc.AddDebtor(ctx, market, ledger.DebtorInput{Name: "Ali"})
	assert.NoError(t, err)
}

func TestLedger_ConcurrentPayments(t *testing.T) {
	ctx := context.Background()
	svc, _, _ := setupLedger(t)

	d, err := svc.AddDebtor(ctx, market, ledger.DebtorInput{Name: "Ali"})
	require.NoError(t, err)
	_, err = svc.RecordDebt(ctx, market, d.ID, 1000, "")
	require.NoError(t, err)

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := svc.RecordPayment(ctx, market, d.ID, 10, "")
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	got, err := svc.GetDebtor(ctx, market, d.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(800), got.Balance)
	assert.Len(t, got.Transactions, 21)
}

func TestLedger_MarketsAndFeedback(t *testing.T) {
	ctx := context.Background()
	svc, _, _ := setupLedger(t)

	_, err := svc.AddDebtor(ctx, "b-shop", ledger.DebtorInput{Name: "x"})
	require.NoError(t, err)
	_, err = svc.AddDebtor(ctx, "a-shop", ledger.DebtorInput{Name: "y"})
	require.NoError(t, err)

	markets, err := svc.Markets(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"a-shop", "b-shop"}, markets)

	_, err = svc.AddFeedback(ctx, "a-shop", "works offline", 5)
	require.NoError(t, err)
	_, err = svc.AddFeedback(ctx, "a-shop", "", 3)
	assert.Error(t, err)
	_, err = svc.AddFeedback(ctx, "a-shop", "ok", 9)
	assert.Error(t, err)

	fb, err := svc.ListFeedback(ctx, "a-shop")
	require.NoError(t, err)
	require.Len(t, fb, 1)
	assert.Equal(t, "works offline", fb[0].Message)

	state := svc.State().(ledger.ServiceState)
	assert.Equal(t, "memory-store", state.StoreType)
}
