// Package syncer reconciles the local debtor arrays of each market with a
// remote backup service.
//
// A sync fetches the remote copy, merges it into the local array under the
// market lock, pushes the merged array back and records the time of the
// last successful run. Runs younger than MinInterval are skipped unless forced.
package syncer

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"

	"github.com/aretw0/tally/pkg/core"
	"github.com/aretw0/tally/pkg/ledger"
)

// DefaultMinInterval is the throttle window between two syncs of a market.
const DefaultMinInterval = 10 * time.Second

const (
	outcomeOK      = "ok"
	outcomeSkipped = "skipped"
	outcomeError   = "error"
)

// Remote is the backup service the local data is reconciled with.
type Remote interface {
	Backup(ctx context.Context, market string, debtors []core.Debtor) error
	Fetch(ctx context.Context, market string) ([]core.Debtor, error)
}

// Messenger delivers a backup document to a third-party channel.
type Messenger interface {
	SendDocument(ctx context.Context, filename, caption string, data []byte) error
}

// Result describes one sync run.
type Result struct {
	Market  string     `json:"market"`
	Skipped bool       `json:"skipped"`
	Local   int        `json:"local"`
	Remote  int        `json:"remote"`
	Merged  int        `json:"merged"`
	Stats   MergeStats `json:"stats"`
	At      time.Time  `json:"at"`
}

// Syncer coordinates the ledger with a Remote.
type Syncer struct {
	ledger      *ledger.Service
	remote      Remote
	messenger   Messenger
	logger      *slog.Logger
	metrics     *Metrics
	now         func() time.Time
	minInterval time.Duration
	parallelism int

	group singleflight.Group

	mu      sync.Mutex
	last    map[string]Result
	runs    int
	errored int
}

// Option configures the Syncer.
type Option func(*Syncer)

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Syncer) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// WithMinInterval sets the throttle window. Zero disables throttling.
func WithMinInterval(d time.Duration) Option {
	return func(s *Syncer) {
		if d >= 0 {
			s.minInterval = d
		}
	}
}

// WithMessenger sends every backup through m as well.
func WithMessenger(m Messenger) Option {
	return func(s *Syncer) { s.messenger = m }
}

// WithMetrics records runs on m.
func WithMetrics(m *Metrics) Option {
	return func(s *Syncer) { s.metrics = m }
}

// WithClock overrides the time source (tests).
func WithClock(now func() time.Time) Option {
	return func(s *Syncer) { s.now = now }
}

// WithParallelism bounds how many markets SyncAll runs at once.
func WithParallelism(n int) Option {
	return func(s *Syncer) {
		if n > 0 {
			s.parallelism = n
		}
	}
}

// New creates a Syncer.
func New(l *ledger.Service, remote Remote, opts ...Option) *Syncer {
	s := &Syncer{
		ledger:      l,
		remote:      remote,
		logger:      slog.New(slog.DiscardHandler),
		now:         time.Now,
		minInterval: DefaultMinInterval,
		parallelism: 4,
		last:        make(map[string]Result),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Sync reconciles one market. Concurrent calls for the same market share a
// single run.
func (s *Syncer) Sync(ctx context.Context, market string, force bool) (Result, error) {
	if err := core.ValidateMarket(market); err != nil {
		return Result{}, err
	}
	v, err, shared := s.group.Do(market, func() (any, error) {
		return s.sync(ctx, market, force)
	})
	if shared {
		s.logger.Debug("sync call coalesced", "market", market)
	}
	res, _ := v.(Result)
	return res, err
}

func (s *Syncer) sync(ctx context.Context, market string, force bool) (Result, error) {
	started := time.Now()
	now := s.now()

	if !force && s.minInterval > 0 {
		last, ok, err := s.LastSync(ctx, market)
		if err != nil {
			s.logger.Warn("could not read last sync time", "market", market, "error", err)
		}
		if ok && now.Sub(last) < s.minInterval {
			res := Result{Market: market, Skipped: true, At: last}
			s.metrics.observe(outcomeSkipped, started, MergeStats{})
			s.logger.Debug("sync skipped", "market", market, "since", now.Sub(last))
			return res, nil
		}
	}

	remote, err := s.remote.Fetch(ctx, market)
	if err != nil {
		return s.fail(market, started, fmt.Errorf("fetch %s: %w", market, err))
	}

	res := Result{Market: market, Remote: len(remote)}
	merged, err := s.ledger.UpdateSnapshot(ctx, market, func(local []core.Debtor) ([]core.Debtor, error) {
		res.Local = len(local)
		out, stats := Merge(local, remote)
		res.Stats = stats
		return out, nil
	})
	if err != nil {
		return s.fail(market, started, fmt.Errorf("merge %s: %w", market, err))
	}
	res.Merged = len(merged)

	if err := s.remote.Backup(ctx, market, merged); err != nil {
		return s.fail(market, started, fmt.Errorf("push %s: %w", market, err))
	}

	res.At = now.UTC()
	if err := s.setLastSync(ctx, market, res.At); err != nil {
		s.logger.Warn("could not persist last sync time", "market", market, "error", err)
	}

	s.record(res, false)
	s.metrics.observe(outcomeOK, started, res.Stats)
	s.logger.Info("market synced",
		"market", market,
		"local", res.Local,
		"remote", res.Remote,
		"added", res.Stats.Added,
		"updated", res.Stats.Updated,
	)
	return res, nil
}

func (s *Syncer) fail(market string, started time.Time, err error) (Result, error) {
	s.record(Result{Market: market}, true)
	s.metrics.observe(outcomeError, started, MergeStats{})
	s.logger.Error("sync failed", "market", market, "error", err)
	return Result{Market: market}, err
}

func (s *Syncer) record(res Result, failed bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.runs++
	if failed {
		s.errored++
		return
	}
	s.last[res.Market] = res
}

// SyncAll syncs every market that has local data. It returns the results of
// the markets that succeeded and the joined errors of the ones that did not.
func (s *Syncer) SyncAll(ctx context.Context, force bool) ([]Result, error) {
	markets, err := s.ledger.Markets(ctx)
	if err != nil {
		return nil, err
	}

	results := make([]Result, len(markets))
	errs := make([]error, len(markets))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.parallelism)
	for i, m := range markets {
		g.Go(func() error {
			results[i], errs[i] = s.Sync(gctx, m, force)
			return nil
		})
	}
	_ = g.Wait()

	out := make([]Result, 0, len(markets))
	for i := range markets {
		if errs[i] == nil {
			out = append(out, results[i])
		}
	}
	return out, errors.Join(errs...)
}

// Backup pushes the local snapshot of market to the remote and, when a
// messenger is configured, sends it as a JSON document.
func (s *Syncer) Backup(ctx context.Context, market string) error {
	debtors, err := s.ledger.Snapshot(ctx, market)
	if err != nil {
		return err
	}
	if err := s.remote.Backup(ctx, market, debtors); err != nil {
		return fmt.Errorf("backup %s: %w", market, err)
	}
	s.logger.Info("backup pushed", "market", market, "debtors", len(debtors))

	if s.messenger == nil {
		return nil
	}
	data, err := json.MarshalIndent(debtors, "", "  ")
	if err != nil {
		return err
	}
	now := s.now().UTC()
	name := fmt.Sprintf("%s-%s.json", market, now.Format("20060102-150405"))
	caption := fmt.Sprintf("tally backup %s (%d debtors)", market, len(debtors))
	if err := s.messenger.SendDocument(ctx, name, caption, data); err != nil {
		return fmt.Errorf("send backup %s: %w", market, err)
	}
	return nil
}

// BackupAll runs Backup for every market with local data.
func (s *Syncer) BackupAll(ctx context.Context) error {
	markets, err := s.ledger.Markets(ctx)
	if err != nil {
		return err
	}
	var errs []error
	for _, m := range markets {
		if err := s.Backup(ctx, m); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Restore replaces the local data of market with the remote copy. Records
// without an id are dropped and duplicated ids keep their newest copy, as in
// Merge. An empty remote copy leaves the local data untouched and returns
// core.ErrNotFound.
func (s *Syncer) Restore(ctx context.Context, market string) (int, error) {
	if err := core.ValidateMarket(market); err != nil {
		return 0, err
	}
	remote, err := s.remote.Fetch(ctx, market)
	if err != nil {
		return 0, fmt.Errorf("restore %s: %w", market, err)
	}
	remote, _ = Merge(nil, remote)
	if len(remote) == 0 {
		return 0, fmt.Errorf("restore %s: remote has no data: %w", market, core.ErrNotFound)
	}
	if err := s.ledger.Replace(ctx, market, remote); err != nil {
		return 0, err
	}
	if err := s.setLastSync(ctx, market, s.now().UTC()); err != nil {
		s.logger.Warn("could not persist last sync time", "market", market, "error", err)
	}
	s.logger.Info("market restored", "market", market, "debtors", len(remote))
	return len(remote), nil
}

// LastSync returns the time of the last successful sync of market.
func (s *Syncer) LastSync(ctx context.Context, market string) (time.Time, bool, error) {
	raw, err := s.ledger.Store().Get(ctx, core.LastSyncKey(market))
	if errors.Is(err, core.ErrNotFound) {
		return time.Time{}, false, nil
	}
	if err != nil {
		return time.Time{}, false, err
	}
	ms, err := strconv.ParseInt(string(raw), 10, 64)
	if err != nil {
		// Unreadable marker: treat as never synced.
		return time.Time{}, false, nil
	}
	return time.UnixMilli(ms).UTC(), true, nil
}

func (s *Syncer) setLastSync(ctx context.Context, market string, at time.Time) error {
	return s.ledger.Store().Set(ctx, core.LastSyncKey(market), []byte(strconv.FormatInt(at.UnixMilli(), 10)))
}
