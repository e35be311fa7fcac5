package schedule_test

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	tlc "github.com/aretw0/tally/pkg/adapters/lifecycle"
	"github.com/aretw0/tally/pkg/adapters/memory"
	"github.com/aretw0/tally/pkg/core"
	"github.com/aretw0/tally/pkg/ledger"
	"github.com/aretw0/tally/pkg/schedule"
	"github.com/aretw0/tally/pkg/syncer"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func TestNew_RejectsBadJobs(t *testing.T) {
	noop := func(context.Context) error { return nil }

	_, err := schedule.New([]schedule.Job{{Name: "x", Spec: "every now and then", Run: noop}})
	assert.Error(t, err)

	_, err = schedule.New([]schedule.Job{{Name: "x", Spec: "@every 1m", Run: noop}, {Name: "x", Spec: "@every 1m", Run: noop}})
	assert.Error(t, err)

	_, err = schedule.New([]schedule.Job{{Spec: "@every 1m", Run: noop}})
	assert.Error(t, err)
}

func TestScheduler_FiresAndStops(t *testing.T) {
	var runs atomic.Int32
	s, err := schedule.New([]schedule.Job{{
		Name: "tick",
		Spec: "@every 1s",
		Run: func(ctx context.Context) error {
			runs.Add(1)
			return nil
		},
	}})
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	require.NoError(t, s.Start(ctx))

	require.Eventually(t, func() bool { return runs.Load() >= 1 }, 3*time.Second, 20*time.Millisecond)

	stopCtx, stopCancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer stopCancel()
	require.NoError(t, s.Stop(stopCtx))

	st := s.Stats()["tick"]
	assert.GreaterOrEqual(t, st.Runs, 1)
	assert.False(t, st.LastRun.IsZero())
}

func TestScheduler_NoOverlap(t *testing.T) {
	release := make(chan struct{})
	started := make(chan struct{}, 1)
	s, err := schedule.New([]schedule.Job{{
		Name: "slow",
		Spec: "@every 1h",
		Run: func(ctx context.Context) error {
			started <- struct{}{}
			<-release
			return nil
		},
	}})
	require.NoError(t, err)

	ctx := context.Background()
	done := make(chan error, 1)
	go func() { done <- s.RunNow(ctx, "slow") }()
	<-started

	assert.ErrorIs(t, s.RunNow(ctx, "slow"), schedule.ErrAlreadyRunning)
	close(release)
	require.NoError(t, <-done)

	st := s.Stats()["slow"]
	assert.Equal(t, 1, st.Runs)
	assert.Equal(t, 1, st.Skipped)
}

func TestScheduler_RecordsFailures(t *testing.T) {
	s, err := schedule.New([]schedule.Job{{
		Name: "bad",
		Spec: "@every 1h",
		Run:  func(context.Context) error { return errors.New("remote down") },
	}})
	require.NoError(t, err)

	assert.Error(t, s.RunNow(context.Background(), "bad"))
	assert.Error(t, s.RunNow(context.Background(), "missing"))

	st := s.Stats()["bad"]
	assert.Equal(t, 1, st.Failures)
	assert.Equal(t, "remote down", st.LastError)
}

func TestScheduler_TriggerOnStoreEvents(t *testing.T) {
	var runs atomic.Int32
	s, err := schedule.New([]schedule.Job{{
		Name: "sync",
		Spec: "@every 1h",
		Run: func(context.Context) error {
			runs.Add(1)
			return nil
		},
	}})
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	events := make(chan core.Event, 2)
	require.NoError(t, s.Trigger(ctx, tlc.NewSource(events), "sync"))

	events <- core.Event{Type: core.EventModify, Key: "debtors:shop"}
	require.Eventually(t, func() bool { return runs.Load() == 1 }, time.Second, 10*time.Millisecond)

	close(events)
	cancel()
	// Let the bridge goroutines observe the shutdown before goleak runs.
	time.Sleep(50 * time.Millisecond)
}

type nopRemote struct{ backups atomic.Int32 }

func (r *nopRemote) Backup(context.Context, string, []core.Debtor) error {
	r.backups.Add(1)
	return nil
}

func (r *nopRemote) Fetch(context.Context, string) ([]core.Debtor, error) {
	return nil, nil
}

func TestDefaultJobs(t *testing.T) {
	ctx := context.Background()
	l := ledger.NewService(memory.NewStore())
	d, err := l.AddDebtor(ctx, "shop", ledger.DebtorInput{Name: "Ali"})
	require.NoError(t, err)
	_, err = l.AddPromise(ctx, "shop", d.ID, 10, time.Now().Add(-time.Hour))
	require.NoError(t, err)

	remote := &nopRemote{}
	s, err := schedule.New(schedule.DefaultJobs(l, syncer.New(l, remote), schedule.Specs{}))
	require.NoError(t, err)

	require.NoError(t, s.RunNow(ctx, schedule.JobSync))
	require.NoError(t, s.RunNow(ctx, schedule.JobBackup))
	require.NoError(t, s.RunNow(ctx, schedule.JobPromise))

	assert.EqualValues(t, 2, remote.backups.Load(), "sync pushes once, backup once")

	got, err := l.GetDebtor(ctx, "shop", d.ID)
	require.NoError(t, err)
	assert.Equal(t, core.PromiseBroken, got.Promises[0].Status)

	stats := s.Stats()
	assert.Len(t, stats, 3)
	assert.Equal(t, 1, stats[schedule.JobPromise].Runs)
}
