package ledger

import (
	"context"

	"github.com/aretw0/tally/pkg/core"
)

// Mismatch describes a debtor whose stored balance disagrees with its transactions.
type Mismatch struct {
	DebtorID string `json:"debtor_id"`
	Stored   int64  `json:"stored"`
	Computed int64  `json:"computed"`
}

// Verify checks that every balance equals debts minus payments.
func (s *Service) Verify(ctx context.Context, market string) ([]Mismatch, error) {
	all, err := s.Snapshot(ctx, market)
	if err != nil {
		return nil, err
	}
	var out []Mismatch
	for _, d := range all {
		if c := d.ComputedBalance(); c != d.Balance {
			out = append(out, Mismatch{DebtorID: d.ID, Stored: d.Balance, Computed: c})
		}
	}
	return out, nil
}

// Recalculate rewrites every balance from the transaction list and returns
// how many debtors were fixed.
func (s *Service) Recalculate(ctx context.Context, market string) (int, error) {
	fixed := 0
	_, err := s.UpdateSnapshot(ctx, market, func(local []core.Debtor) ([]core.Debtor, error) {
		for i := range local {
			if c := local[i].ComputedBalance(); c != local[i].Balance {
				local[i].Balance = c
				local[i].UpdatedAt = s.now().UTC()
				fixed++
			}
		}
		return local, nil
	})
	if err != nil {
		return 0, err
	}
	if fixed > 0 {
		s.logger.Warn("balances recalculated", "market", market, "fixed", fixed)
	}
	return fixed, nil
}
