package core

import "context"

// Store defines the contract for the key-value storage the ledger persists to.
// Adhering to this interface keeps the ledger independent of the underlying
// storage mechanism (filesystem, SQLite, memory).
type Store interface {
	// Get returns the raw value stored under key, or ErrNotFound.
	Get(ctx context.Context, key string) ([]byte, error)

	// Set stores value under key, replacing any previous value.
	Set(ctx context.Context, key string, value []byte) error

	// Delete removes key. Deleting a missing key is not an error.
	Delete(ctx context.Context, key string) error

	// Keys lists the keys starting with prefix, sorted.
	Keys(ctx context.Context, prefix string) ([]string, error)

	// Initialize ensures the underlying storage is ready (directories, schema).
	Initialize(ctx context.Context) error
}

// Watchable defines an interface for stores that can notify about changes.
type Watchable interface {
	// Watch emits an event for every changed key matching the glob pattern.
	// The channel is closed when ctx is cancelled.
	Watch(ctx context.Context, pattern string) (<-chan Event, error)
}

// Closer is implemented by stores holding resources (database handles).
type Closer interface {
	Close() error
}
