package core

import "errors"

// Common errors.
var (
	ErrNotFound       = errors.New("key not found")
	ErrReadOnly       = errors.New("store is in read-only mode")
	ErrEmptyID        = errors.New("id cannot be empty")
	ErrUnknownMarket  = errors.New("unknown market")
	ErrDebtorNotFound = errors.New("debtor not found")
	ErrInvalidAmount  = errors.New("amount must be positive")
	ErrOverpayment    = errors.New("payment exceeds outstanding balance")
	ErrPromiseClosed  = errors.New("promise already resolved")
	ErrRemote         = errors.New("remote unavailable")
	ErrRateLimited    = errors.New("rate limited")
)
