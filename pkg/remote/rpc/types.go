// Package rpc is the JSON-over-HTTP client of the tally backup service.
package rpc

import (
	"time"

	"github.com/aretw0/tally/pkg/core"
)

// Endpoint paths served by the backup service.
const (
	PathBackup = "/rpc/backup_debtors"
	PathFetch  = "/rpc/get_debtors"
)

// BackupRequest is the body of PathBackup.
type BackupRequest struct {
	MarketID string        `json:"market_id"`
	Debtors  []core.Debtor `json:"debtors"`
}

// FetchRequest is the body of PathFetch.
type FetchRequest struct {
	MarketID string `json:"market_id"`
}

// FetchResponse is returned by PathFetch. UpdatedAt is nil when the market
// has never been backed up.
type FetchResponse struct {
	Debtors   []core.Debtor `json:"debtors"`
	UpdatedAt *time.Time    `json:"updated_at,omitempty"`
}

// BackupResponse is returned by PathBackup.
type BackupResponse struct {
	Stored    int       `json:"stored"`
	UpdatedAt time.Time `json:"updated_at"`
}

// ErrorResponse is the body of every non-2xx answer.
type ErrorResponse struct {
	Error string `json:"error"`
}
