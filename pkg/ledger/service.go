// Package ledger implements debtor bookkeeping per market on top of a core.Store.
//
// Every market owns one JSON array of debtors. All writes to a market are
// read-modify-write cycles serialised by a per-market lock, so the store only
// ever sees a single writer per key.
package ledger

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/aretw0/tally/pkg/core"
	"github.com/aretw0/tally/pkg/typed"
)

// Service handles the business logic for debtors.
type Service struct {
	store  core.Store
	logger *slog.Logger
	now    func() time.Time
	newID  func() string

	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

// Option configures the Service.
type Option func(*Service)

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Service) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// WithClock overrides the time source (tests).
func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

// WithIDGenerator overrides id generation (tests).
func WithIDGenerator(fn func() string) Option {
	return func(s *Service) { s.newID = fn }
}

// NewService creates a ledger over store.
func NewService(store core.Store, opts ...Option) *Service {
	s := &Service{
		store:  store,
		logger: slog.New(slog.DiscardHandler),
		now:    time.Now,
		newID:  func() string { return uuid.NewString() },
		locks:  make(map[string]*sync.Mutex),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Store returns the underlying store.
func (s *Service) Store() core.Store { return s.store }

func (s *Service) lock(key string) *sync.Mutex {
	s.mu.Lock()
	defer s.mu.Unlock()
	l, ok := s.locks[key]
	if !ok {
		l = &sync.Mutex{}
		s.locks[key] = l
	}
	return l
}

func (s *Service) debtors(market string) (*typed.Collection[core.Debtor], error) {
	if err := core.ValidateMarket(market); err != nil {
		return nil, err
	}
	key := core.DebtorsKey(market)
	return typed.NewCollection[core.Debtor](s.store, key,
		typed.WithLogger(s.logger),
		typed.WithLock(s.lock(key)),
	), nil
}

// DebtorInput carries the fields of a new debtor.
type DebtorInput struct {
	Name        string
	Phone       string
	Note        string
	CreditLimit int64
}

// AddDebtor creates a debtor with a zero balance.
func (s *Service) AddDebtor(ctx context.Context, market string, in DebtorInput) (core.Debtor, error) {
	name := strings.TrimSpace(in.Name)
	if name == "" {
		return core.Debtor{}, fmt.Errorf("debtor name cannot be empty")
	}
	if in.CreditLimit < 0 {
		return core.Debtor{}, fmt.Errorf("credit limit cannot be negative")
	}
	col, err := s.debtors(market)
	if err != nil {
		return core.Debtor{}, err
	}

	now := s.now().UTC()
	d := core.Debtor{
		ID:           s.newID(),
		MarketID:     market,
		Name:         name,
		Phone:        strings.TrimSpace(in.Phone),
		Note:         in.Note,
		CreditLimit:  in.CreditLimit,
		Transactions: []core.Transaction{},
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if err := col.Update(ctx, func(items []core.Debtor) ([]core.Debtor, error) {
		return append(items, d), nil
	}); err != nil {
		return core.Debtor{}, err
	}

	s.logger.Info("debtor added", "market", market, "id", d.ID)
	return d, nil
}

// DebtorPatch updates the non-nil fields of a debtor.
type DebtorPatch struct {
	Name        *string
	Phone       *string
	Note        *string
	CreditLimit *int64
}

// UpdateDebtor applies patch to an existing debtor.
func (s *Service) UpdateDebtor(ctx context.Context, market, id string, patch DebtorPatch) (core.Debtor, error) {
	if patch.Name != nil && strings.TrimSpace(*patch.Name) == "" {
		return core.Debtor{}, fmt.Errorf("debtor name cannot be empty")
	}
	if patch.CreditLimit != nil && *patch.CreditLimit < 0 {
		return core.Debtor{}, fmt.Errorf("credit limit cannot be negative")
	}
	return s.mutate(ctx, market, id, func(d *core.Debtor) error {
		if patch.Name != nil {
			d.Name = strings.TrimSpace(*patch.Name)
		}
		if patch.Phone != nil {
			d.Phone = strings.TrimSpace(*patch.Phone)
		}
		if patch.Note != nil {
			d.Note = *patch.Note
		}
		if patch.CreditLimit != nil {
			d.CreditLimit = *patch.CreditLimit
		}
		return nil
	})
}

// GetDebtor returns a live (non-deleted) debtor.
func (s *Service) GetDebtor(ctx context.Context, market, id string) (core.Debtor, error) {
	if id == "" {
		return core.Debtor{}, core.ErrEmptyID
	}
	col, err := s.debtors(market)
	if err != nil {
		return core.Debtor{}, err
	}
	d, ok, err := col.Get(ctx, id)
	if err != nil {
		return core.Debtor{}, err
	}
	if !ok || d.Deleted {
		return core.Debtor{}, fmt.Errorf("%w: %s", core.ErrDebtorNotFound, id)
	}
	return d, nil
}

// ListDebtors returns the live debtors of a market ordered by name.
func (s *Service) ListDebtors(ctx context.Context, market string) ([]core.Debtor, error) {
	all, err := s.Snapshot(ctx, market)
	if err != nil {
		return nil, err
	}
	live := make([]core.Debtor, 0, len(all))
	for _, d := range all {
		if !d.Deleted {
			live = append(live, d)
		}
	}
	sort.SliceStable(live, func(i, j int) bool {
		if live[i].Name != live[j].Name {
			return strings.ToLower(live[i].Name) < strings.ToLower(live[j].Name)
		}
		return live[i].ID < live[j].ID
	})
	return live, nil
}

// DeleteDebtor turns the debtor into a tombstone.
func (s *Service) DeleteDebtor(ctx context.Context, market, id string) error {
	_, err := s.mutate(ctx, market, id, func(d *core.Debtor) error {
		d.Deleted = true
		return nil
	})
	if err == nil {
		s.logger.Info("debtor deleted", "market", market, "id", id)
	}
	return err
}

// RecordDebt adds amount to the debtor balance.
func (s *Service) RecordDebt(ctx context.Context, market, id string, amount int64, note string) (core.Transaction, error) {
	return s.record(ctx, market, id, core.TxDebt, amount, note)
}

// RecordPayment subtracts amount from the debtor balance. Paying more than
// the outstanding balance is rejected with ErrOverpayment.
func (s *Service) RecordPayment(ctx context.Context, market, id string, amount int64, note string) (core.Transaction, error) {
	return s.record(ctx, market, id, core.TxPayment, amount, note)
}

func (s *Service) record(ctx context.Context, market, id string, kind core.TxKind, amount int64, note string) (core.Transaction, error) {
	if amount <= 0 {
		return core.Transaction{}, core.ErrInvalidAmount
	}
	tx := core.Transaction{
		ID:        s.newID(),
		Kind:      kind,
		Amount:    amount,
		Note:      note,
		CreatedAt: s.now().UTC(),
	}
	_, err := s.mutate(ctx, market, id, func(d *core.Debtor) error {
		if kind == core.TxPayment && amount > d.Balance {
			return fmt.Errorf("%w: paying %d against %d", core.ErrOverpayment, amount, d.Balance)
		}
		if kind == core.TxDebt && d.Balance > math.MaxInt64-amount {
			return fmt.Errorf("%w: balance would overflow", core.ErrInvalidAmount)
		}
		d.Transactions = append(d.Transactions, tx)
		d.Balance += tx.Signed()
		return nil
	})
	if err != nil {
		return core.Transaction{}, err
	}
	s.logger.Debug("transaction recorded", "market", market, "debtor", id, "kind", kind, "amount", amount)
	return tx, nil
}

// mutate applies fn to a live debtor under the market lock and bumps UpdatedAt.
func (s *Service) mutate(ctx context.Context, market, id string, fn func(d *core.Debtor) error) (core.Debtor, error) {
	if id == "" {
		return core.Debtor{}, core.ErrEmptyID
	}
	col, err := s.debtors(market)
	if err != nil {
		return core.Debtor{}, err
	}

	var out core.Debtor
	err = col.Update(ctx, func(items []core.Debtor) ([]core.Debtor, error) {
		for i := range items {
			if items[i].ID != id || items[i].Deleted {
				continue
			}
			d := items[i]
			d.Transactions = append([]core.Transaction(nil), d.Transactions...)
			d.Promises = append([]core.Promise(nil), d.Promises...)
			if err := fn(&d); err != nil {
				return nil, err
			}
			d.UpdatedAt = s.now().UTC()
			items[i] = d
			out = d
			return items, nil
		}
		return nil, fmt.Errorf("%w: %s", core.ErrDebtorNotFound, id)
	})
	return out, err
}

// Snapshot returns the raw debtor array of a market, tombstones included.
func (s *Service) Snapshot(ctx context.Context, market string) ([]core.Debtor, error) {
	col, err := s.debtors(market)
	if err != nil {
		return nil, err
	}
	return col.Load(ctx)
}

// Replace overwrites the debtor array of a market.
func (s *Service) Replace(ctx context.Context, market string, debtors []core.Debtor) error {
	_, err := s.UpdateSnapshot(ctx, market, func([]core.Debtor) ([]core.Debtor, error) {
		return debtors, nil
	})
	return err
}

// UpdateSnapshot runs fn over the raw debtor array under the market lock and
// stores its result.
func (s *Service) UpdateSnapshot(ctx context.Context, market string, fn func(local []core.Debtor) ([]core.Debtor, error)) ([]core.Debtor, error) {
	col, err := s.debtors(market)
	if err != nil {
		return nil, err
	}
	var result []core.Debtor
	err = col.Update(ctx, func(items []core.Debtor) ([]core.Debtor, error) {
		next, err := fn(items)
		if err != nil {
			return nil, err
		}
		for i := range next {
			next[i].MarketID = market
		}
		result = next
		return next, nil
	})
	return result, err
}

// Markets lists the markets that have debtor data.
func (s *Service) Markets(ctx context.Context) ([]string, error) {
	keys, err := s.store.Keys(ctx, core.DebtorsPrefix)
	if err != nil {
		return nil, err
	}
	markets := make([]string, 0, len(keys))
	for _, k := range keys {
		markets = append(markets, strings.TrimPrefix(k, core.DebtorsPrefix))
	}
	return markets, nil
}
