// Package core holds the domain entities of the ledger and the storage contracts
// every adapter implements.
package core

import (
	"fmt"
	"time"
)

// TxKind is the direction of a transaction relative to the debtor balance.
type TxKind string

const (
	TxDebt    TxKind = "debt"
	TxPayment TxKind = "payment"
)

// Transaction is a single debt or payment event applied to a debtor's balance.
// Amount is always positive and expressed in minor currency units.
type Transaction struct {
	ID        string    `json:"id" yaml:"id"`
	Kind      TxKind    `json:"kind" yaml:"kind"`
	Amount    int64     `json:"amount" yaml:"amount"`
	Note      string    `json:"note,omitempty" yaml:"note,omitempty"`
	CreatedAt time.Time `json:"created_at" yaml:"created_at"`
}

// Signed returns the amount with the sign it contributes to the balance.
func (t Transaction) Signed() int64 {
	if t.Kind == TxPayment {
		return -t.Amount
	}
	return t.Amount
}

// PromiseStatus tracks whether a promise to pay was honoured.
type PromiseStatus string

const (
	PromisePending PromiseStatus = "pending"
	PromiseKept    PromiseStatus = "kept"
	PromiseBroken  PromiseStatus = "broken"
)

// Promise is a debtor's commitment to pay Amount by DueDate.
type Promise struct {
	ID        string        `json:"id" yaml:"id"`
	Amount    int64         `json:"amount" yaml:"amount"`
	DueDate   time.Time     `json:"due_date" yaml:"due_date"`
	Status    PromiseStatus `json:"status" yaml:"status"`
	CreatedAt time.Time     `json:"created_at" yaml:"created_at"`
}

// Overdue reports whether a pending promise is past its due date.
func (p Promise) Overdue(now time.Time) bool {
	return p.Status == PromisePending && now.After(p.DueDate)
}

// Debtor is a customer record with an accumulated balance and its transactions.
type Debtor struct {
	ID           string        `json:"id" yaml:"id"`
	MarketID     string        `json:"market_id" yaml:"market_id"`
	Name         string        `json:"name" yaml:"name"`
	Phone        string        `json:"phone,omitempty" yaml:"phone,omitempty"`
	Note         string        `json:"note,omitempty" yaml:"note,omitempty"`
	Balance      int64         `json:"balance" yaml:"balance"`
	CreditLimit  int64         `json:"credit_limit,omitempty" yaml:"credit_limit,omitempty"`
	Transactions []Transaction `json:"transactions" yaml:"transactions"`
	Promises     []Promise     `json:"promises,omitempty" yaml:"promises,omitempty"`
	CreatedAt    time.Time     `json:"created_at" yaml:"created_at"`
	UpdatedAt    time.Time     `json:"updated_at" yaml:"updated_at"`
	// Deleted marks a tombstone. Tombstones are kept so that a deletion
	// survives reconciliation with the remote copy.
	Deleted bool `json:"deleted,omitempty" yaml:"deleted,omitempty"`
}

// GetID implements typed.Identifiable.
func (d Debtor) GetID() string { return d.ID }

// ComputedBalance sums the signed transaction amounts.
func (d Debtor) ComputedBalance() int64 {
	var sum int64
	for _, tx := range d.Transactions {
		sum += tx.Signed()
	}
	return sum
}

// Totals returns the sum of debts and the sum of payments.
func (d Debtor) Totals() (debt, paid int64) {
	for _, tx := range d.Transactions {
		switch tx.Kind {
		case TxDebt:
			debt += tx.Amount
		case TxPayment:
			paid += tx.Amount
		}
	}
	return debt, paid
}

// LastPayment returns the time of the most recent payment, if any.
func (d Debtor) LastPayment() (time.Time, bool) {
	var last time.Time
	found := false
	for _, tx := range d.Transactions {
		if tx.Kind == TxPayment && tx.CreatedAt.After(last) {
			last = tx.CreatedAt
			found = true
		}
	}
	return last, found
}

// FirstDebt returns the time of the oldest debt, if any.
func (d Debtor) FirstDebt() (time.Time, bool) {
	var first time.Time
	found := false
	for _, tx := range d.Transactions {
		if tx.Kind != TxDebt {
			continue
		}
		if !found || tx.CreatedAt.Before(first) {
			first = tx.CreatedAt
			found = true
		}
	}
	return first, found
}

// Feedback is a free-form note left by a shop owner.
type Feedback struct {
	ID        string    `json:"id" yaml:"id"`
	MarketID  string    `json:"market_id" yaml:"market_id"`
	Message   string    `json:"message" yaml:"message"`
	Rating    int       `json:"rating,omitempty" yaml:"rating,omitempty"`
	CreatedAt time.Time `json:"created_at" yaml:"created_at"`
}

// GetID implements typed.Identifiable.
func (f Feedback) GetID() string { return f.ID }

// Storage keys. Every key is namespaced by the market identifier.
const (
	debtorsPrefix  = "debtors:"
	feedbackPrefix = "feedback:"
	lastSyncPrefix = "sync:last:"
	backupPrefix   = "backup:"
)

// DebtorsKey is the key holding the debtor array of a market.
func DebtorsKey(market string) string { return debtorsPrefix + market }

// FeedbackKey is the key holding the feedback array of a market.
func FeedbackKey(market string) string { return feedbackPrefix + market }

// LastSyncKey is the key holding the last successful sync timestamp of a market.
func LastSyncKey(market string) string { return lastSyncPrefix + market }

// BackupKey is the key used by the backup service for a market.
func BackupKey(market string) string { return backupPrefix + market }

// DebtorsPrefix is the prefix shared by all debtor keys.
const DebtorsPrefix = debtorsPrefix

// BackupPrefix is the prefix shared by all backup keys.
const BackupPrefix = backupPrefix

// ValidateMarket rejects identifiers that cannot be used as a key namespace.
func ValidateMarket(market string) error {
	if market == "" {
		return ErrUnknownMarket
	}
	for _, r := range market {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '_':
		default:
			return fmt.Errorf("%w: invalid character %q in %q", ErrUnknownMarket, r, market)
		}
	}
	return nil
}

// EventType represents the type of change in the store.
type EventType string

const (
	EventCreate EventType = "CREATE"
	EventModify EventType = "MODIFY"
	EventDelete EventType = "DELETE"
)

// Event represents a change of a key in the store.
type Event struct {
	Type      EventType
	Key       string
	Timestamp int64 // Unix timestamp
}

func (e Event) String() string {
	return fmt.Sprintf("%s %s", e.Type, e.Key)
}
