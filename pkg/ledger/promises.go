package ledger

import (
	"context"
	"fmt"
	"time"

	"github.com/aretw0/tally/pkg/core"
)

// AddPromise records a debtor's promise to pay amount by due.
func (s *Service) AddPromise(ctx context.Context, market, debtorID string, amount int64, due time.Time) (core.Promise, error) {
	if amount <= 0 {
		return core.Promise{}, core.ErrInvalidAmount
	}
	p := core.Promise{
		ID:        s.newID(),
		Amount:    amount,
		DueDate:   due.UTC(),
		Status:    core.PromisePending,
		CreatedAt: s.now().UTC(),
	}
	_, err := s.mutate(ctx, market, debtorID, func(d *core.Debtor) error {
		d.Promises = append(d.Promises, p)
		return nil
	})
	if err != nil {
		return core.Promise{}, err
	}
	return p, nil
}

// ResolvePromise marks a pending promise as kept or broken.
func (s *Service) ResolvePromise(ctx context.Context, market, debtorID, promiseID string, kept bool) error {
	_, err := s.mutate(ctx, market, debtorID, func(d *core.Debtor) error {
		for i := range d.Promises {
			if d.Promises[i].ID != promiseID {
				continue
			}
			if d.Promises[i].Status != core.PromisePending {
				return fmt.Errorf("%w: %s is %s", core.ErrPromiseClosed, promiseID, d.Promises[i].Status)
			}
			if kept {
				d.Promises[i].Status = core.PromiseKept
			} else {
				d.Promises[i].Status = core.PromiseBroken
			}
			return nil
		}
		return fmt.Errorf("promise not found: %s", promiseID)
	})
	return err
}

// ExpirePromises marks every pending promise past its due date as broken and
// returns how many changed.
func (s *Service) ExpirePromises(ctx context.Context, market string) (int, error) {
	now := s.now()
	changed := 0
	_, err := s.UpdateSnapshot(ctx, market, func(local []core.Debtor) ([]core.Debtor, error) {
		for i := range local {
			if local[i].Deleted {
				continue
			}
			touched := false
			for j := range local[i].Promises {
				if local[i].Promises[j].Overdue(now) {
					local[i].Promises[j].Status = core.PromiseBroken
					touched = true
					changed++
				}
			}
			if touched {
				local[i].UpdatedAt = now.UTC()
			}
		}
		return local, nil
	})
	if err != nil {
		return 0, err
	}
	if changed > 0 {
		s.logger.Info("promises expired", "market", market, "count", changed)
	}
	return changed, nil
}
