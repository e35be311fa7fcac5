package syncer_test

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aretw0/tally/pkg/adapters/memory"
	"github.com/aretw0/tally/pkg/core"
	"github.com/aretw0/tally/pkg/ledger"
	"github.com/aretw0/tally/pkg/syncer"
)

type fakeRemote struct {
	mu      sync.Mutex
	data    map[string][]core.Debtor
	fetches atomic.Int32
	pushes  atomic.Int32
	failOn  map[string]error
	gate    chan struct{}
}

func newFakeRemote() *fakeRemote {
	return &fakeRemote{data: map[string][]core.Debtor{}, failOn: map[string]error{}}
}

func (r *fakeRemote) Fetch(ctx context.Context, market string) ([]core.Debtor, error) {
	r.fetches.Add(1)
	if r.gate != nil {
		select {
		case <-r.gate:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.failOn[market]; err != nil {
		return nil, err
	}
	return append([]core.Debtor(nil), r.data[market]...), nil
}

func (r *fakeRemote) Backup(_ context.Context, market string, debtors []core.Debtor) error {
	r.pushes.Add(1)
	r.mu.Lock()
	defer r.mu.Unlock()
	r.data[market] = append([]core.Debtor(nil), debtors...)
	return nil
}

type fakeMessenger struct {
	name    string
	caption string
	data    []byte
}

func (m *fakeMessenger) SendDocument(_ context.Context, filename, caption string, data []byte) error {
	m.name, m.caption, m.data = filename, caption, data
	return nil
}

type clock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *clock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

type fixture struct {
	store  *memory.Store
	ledger *ledger.Service
	remote *fakeRemote
	clock  *clock
}

func setup(t *testing.T) *fixture {
	t.Helper()
	c := &clock{now: t0}
	store := memory.NewStore()
	return &fixture{
		store:  store,
		ledger: ledger.NewService(store, ledger.WithClock(c.Now)),
		remote: newFakeRemote(),
		clock:  c,
	}
}

func (f *fixture) syncer(opts ...syncer.Option) *syncer.Syncer {
	return syncer.New(f.ledger, f.remote, append([]syncer.Option{syncer.WithClock(f.clock.Now)}, opts...)...)
}

func TestSync_MergesBothWays(t *testing.T) {
	ctx := context.Background()
	f := setup(t)

	local, err := f.ledger.AddDebtor(ctx, "shop", ledger.DebtorInput{Name: "Local"})
	require.NoError(t, err)
	f.remote.data["shop"] = []core.Debtor{{ID: "r1", Name: "Remote", UpdatedAt: t0}}

	res, err := f.syncer().Sync(ctx, "shop", false)
	require.NoError(t, err)
	assert.False(t, res.Skipped)
	assert.Equal(t, 1, res.Local)
	assert.Equal(t, 1, res.Remote)
	assert.Equal(t, 2, res.Merged)
	assert.Equal(t, 1, res.Stats.Added)

	list, err := f.ledger.ListDebtors(ctx, "shop")
	require.NoError(t, err)
	assert.Len(t, list, 2)
	for _, d := range list {
		assert.Equal(t, "shop", d.MarketID)
	}

	ids := map[string]bool{}
	for _, d := range f.remote.data["shop"] {
		ids[d.ID] = true
	}
	assert.True(t, ids[local.ID], "local record pushed")
	assert.True(t, ids["r1"])
}

func TestSync_Throttle(t *testing.T) {
	ctx := context.Background()
	f := setup(t)
	s := f.syncer()

	_, err := s.Sync(ctx, "shop", false)
	require.NoError(t, err)
	require.EqualValues(t, 1, f.remote.fetches.Load())

	f.clock.Advance(5 * time.Second)
	res, err := s.Sync(ctx, "shop", false)
	require.NoError(t, err)
	assert.True(t, res.Skipped)
	assert.EqualValues(t, 1, f.remote.fetches.Load())

	// The window survives a restart because the marker lives in the store.
	res, err = f.syncer().Sync(ctx, "shop", false)
	require.NoError(t, err)
	assert.True(t, res.Skipped)

	res, err = s.Sync(ctx, "shop", true)
	require.NoError(t, err)
	assert.False(t, res.Skipped)
	assert.EqualValues(t, 2, f.remote.fetches.Load())

	f.clock.Advance(syncer.DefaultMinInterval + time.Second)
	res, err = s.Sync(ctx, "shop", false)
	require.NoError(t, err)
	assert.False(t, res.Skipped)

	last, ok, err := s.LastSync(ctx, "shop")
	require.NoError(t, err)
	require.True(t, ok)
	assert.True(t, last.Equal(f.clock.Now()))
}

func TestSync_ThrottleDisabled(t *testing.T) {
	ctx := context.Background()
	f := setup(t)
	s := f.syncer(syncer.WithMinInterval(0))

	for i := 0; i < 3; i++ {
		res, err := s.Sync(ctx, "shop", false)
		require.NoError(t, err)
		assert.False(t, res.Skipped)
	}
	assert.EqualValues(t, 3, f.remote.fetches.Load())
}

func TestSync_RemoteFailureKeepsLocal(t *testing.T) {
	ctx := context.Background()
	f := setup(t)
	_, err := f.ledger.AddDebtor(ctx, "shop", ledger.DebtorInput{Name: "Ali"})
	require.NoError(t, err)

	before, err := f.store.Get(ctx, core.DebtorsKey("shop"))
	require.NoError(t, err)

	f.remote.failOn["shop"] = core.ErrRemote
	s := f.syncer()
	_, err = s.Sync(ctx, "shop", true)
	require.Error(t, err)
	assert.ErrorIs(t, err, core.ErrRemote)

	after, err := f.store.Get(ctx, core.DebtorsKey("shop"))
	require.NoError(t, err)
	assert.Equal(t, before, after)

	_, ok, err := s.LastSync(ctx, "shop")
	require.NoError(t, err)
	assert.False(t, ok, "failed runs do not start the throttle window")

	state := s.State().(syncer.SyncerState)
	assert.Equal(t, 1, state.Failures)
}

func TestSync_ConcurrentCallsCoalesce(t *testing.T) {
	ctx := context.Background()
	f := setup(t)
	f.remote.gate = make(chan struct{})
	s := f.syncer()

	var wg sync.WaitGroup
	for i := 0; i < 5; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := s.Sync(ctx, "shop", true)
			assert.NoError(t, err)
		}()
	}

	require.Eventually(t, func() bool { return f.remote.fetches.Load() >= 1 }, time.Second, 5*time.Millisecond)
	time.Sleep(20 * time.Millisecond)
	close(f.remote.gate)
	wg.Wait()

	assert.Less(t, f.remote.fetches.Load(), int32(5))
}

func TestSyncAll(t *testing.T) {
	ctx := context.Background()
	f := setup(t)
	for _, m := range []string{"a", "b", "c"} {
		_, err := f.ledger.AddDebtor(ctx, m, ledger.DebtorInput{Name: "x"})
		require.NoError(t, err)
	}
	f.remote.failOn["b"] = errors.New("boom")

	results, err := f.syncer().SyncAll(ctx, true)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "boom")
	assert.Len(t, results, 2)
}

func TestBackupSendsDocument(t *testing.T) {
	ctx := context.Background()
	f := setup(t)
	_, err := f.ledger.AddDebtor(ctx, "shop", ledger.DebtorInput{Name: "Ali"})
	require.NoError(t, err)

	msg := &fakeMessenger{}
	s := f.syncer(syncer.WithMessenger(msg))
	require.NoError(t, s.BackupAll(ctx))

	assert.Len(t, f.remote.data["shop"], 1)
	assert.Equal(t, "shop-20260301-090000.json", msg.name)
	assert.Contains(t, msg.caption, "1 debtors")

	var decoded []core.Debtor
	require.NoError(t, json.Unmarshal(msg.data, &decoded))
	assert.Equal(t, "Ali", decoded[0].Name)
}

func TestRestore(t *testing.T) {
	ctx := context.Background()
	f := setup(t)
	s := f.syncer()

	_, err := f.ledger.AddDebtor(ctx, "shop", ledger.DebtorInput{Name: "Stale"})
	require.NoError(t, err)

	_, err = s.Restore(ctx, "shop")
	assert.ErrorIs(t, err, core.ErrNotFound)
	list, _ := f.ledger.ListDebtors(ctx, "shop")
	assert.Len(t, list, 1, "empty remote keeps local data")

	f.remote.data["shop"] = []core.Debtor{{ID: "r1", Name: "Fresh"}, {ID: "r2", Name: "Also"}}
	n, err := s.Restore(ctx, "shop")
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	list, _ = f.ledger.ListDebtors(ctx, "shop")
	require.Len(t, list, 2)
	assert.Equal(t, "Also", list[0].Name)
}

func TestRestore_NormalisesRemote(t *testing.T) {
	ctx := context.Background()
	f := setup(t)
	s := f.syncer()

	f.remote.data["shop"] = []core.Debtor{
		{ID: "a", Name: "Old", UpdatedAt: t0},
		{ID: "", Name: "Orphan"},
		{ID: "a", Name: "New", UpdatedAt: t0.Add(time.Minute)},
		{ID: "b", Name: "Other", UpdatedAt: t0},
	}
	n, err := s.Restore(ctx, "shop")
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	list, err := f.ledger.ListDebtors(ctx, "shop")
	require.NoError(t, err)
	require.Len(t, list, 2)
	names := map[string]string{}
	for _, d := range list {
		names[d.ID] = d.Name
	}
	assert.Equal(t, map[string]string{"a": "New", "b": "Other"}, names)

	f.remote.data["shop"] = []core.Debtor{{ID: "", Name: "Orphan"}}
	_, err = s.Restore(ctx, "shop")
	assert.ErrorIs(t, err, core.ErrNotFound)
	list, _ = f.ledger.ListDebtors(ctx, "shop")
	assert.Len(t, list, 2, "unusable remote keeps local data")
}

func TestSync_Metrics(t *testing.T) {
	ctx := context.Background()
	f := setup(t)
	reg := prometheus.NewRegistry()
	s := f.syncer(syncer.WithMetrics(syncer.NewMetrics(reg)))

	_, err := s.Sync(ctx, "shop", false)
	require.NoError(t, err)
	_, err = s.Sync(ctx, "shop", false)
	require.NoError(t, err)

	n, err := testutil.GatherAndCount(reg, "tally_sync_runs_total")
	require.NoError(t, err)
	assert.Equal(t, 2, n, "one series per outcome")
}

func TestSync_InvalidMarket(t *testing.T) {
	f := setup(t)
	_, err := f.syncer().Sync(context.Background(), "a b", false)
	assert.ErrorIs(t, err, core.ErrUnknownMarket)
}
