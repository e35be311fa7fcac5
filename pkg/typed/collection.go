// Package typed stores arrays of records keyed by id under a single store key.
package typed

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/aretw0/tally/pkg/core"
)

// ErrDuplicateID is returned when a collection would hold two records with the same id.
var ErrDuplicateID = errors.New("duplicate id in collection")

// Identifiable is implemented by every record stored in a Collection.
type Identifiable interface {
	GetID() string
}

// Collection is a typed view of a JSON array stored under one key.
type Collection[T Identifiable] struct {
	store  core.Store
	key    string
	logger *slog.Logger
	mu     *sync.Mutex
}

// Option configures a Collection.
type Option func(*options)

type options struct {
	logger *slog.Logger
	mu     *sync.Mutex
}

// WithLogger sets the logger used to report corruption recovery.
func WithLogger(logger *slog.Logger) Option {
	return func(o *options) { o.logger = logger }
}

// WithLock shares a mutex between collections bound to the same key so that
// Update stays a single-writer operation across instances.
func WithLock(mu *sync.Mutex) Option {
	return func(o *options) { o.mu = mu }
}

// NewCollection binds a collection of T to key.
func NewCollection[T Identifiable](store core.Store, key string, opts ...Option) *Collection[T] {
	o := &options{}
	for _, opt := range opts {
		opt(o)
	}
	if o.logger == nil {
		o.logger = slog.New(slog.DiscardHandler)
	}
	if o.mu == nil {
		o.mu = &sync.Mutex{}
	}
	return &Collection[T]{store: store, key: key, logger: o.logger, mu: o.mu}
}

// Key returns the store key backing the collection.
func (c *Collection[T]) Key() string { return c.key }

// Load returns every record. A missing key is an empty collection. A value
// that does not decode as an array of T is cleared and reported as empty.
func (c *Collection[T]) Load(ctx context.Context) ([]T, error) {
	raw, err := c.store.Get(ctx, c.key)
	if errors.Is(err, core.ErrNotFound) {
		return []T{}, nil
	}
	if err != nil {
		return nil, err
	}

	items, err := decode[T](raw)
	if err != nil {
		c.logger.Warn("corrupted collection cleared", "key", c.key, "error", err)
		if delErr := c.store.Delete(ctx, c.key); delErr != nil && !errors.Is(delErr, core.ErrReadOnly) {
			return nil, fmt.Errorf("failed to clear corrupted %s: %w", c.key, delErr)
		}
		return []T{}, nil
	}
	return items, nil
}

func decode[T any](raw []byte) ([]T, error) {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) {
		return []T{}, nil
	}
	if trimmed[0] != '[' {
		return nil, fmt.Errorf("expected a JSON array")
	}
	var items []T
	if err := json.Unmarshal(trimmed, &items); err != nil {
		return nil, err
	}
	if items == nil {
		items = []T{}
	}
	return items, nil
}

// Save replaces the whole collection.
func (c *Collection[T]) Save(ctx context.Context, items []T) error {
	seen := make(map[string]bool, len(items))
	for _, it := range items {
		id := it.GetID()
		if id == "" {
			return core.ErrEmptyID
		}
		if seen[id] {
			return fmt.Errorf("%w: %s", ErrDuplicateID, id)
		}
		seen[id] = true
	}
	if items == nil {
		items = []T{}
	}
	data, err := json.Marshal(items)
	if err != nil {
		return fmt.Errorf("failed to marshal %s: %w", c.key, err)
	}
	return c.store.Set(ctx, c.key, data)
}

// Get returns the record with the given id.
func (c *Collection[T]) Get(ctx context.Context, id string) (T, bool, error) {
	var zero T
	items, err := c.Load(ctx)
	if err != nil {
		return zero, false, err
	}
	for _, it := range items {
		if it.GetID() == id {
			return it, true, nil
		}
	}
	return zero, false, nil
}

// Update runs a read-modify-write cycle under the collection lock.
// Returning an error from fn aborts without writing.
func (c *Collection[T]) Update(ctx context.Context, fn func(items []T) ([]T, error)) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	items, err := c.Load(ctx)
	if err != nil {
		return err
	}
	next, err := fn(items)
	if err != nil {
		return err
	}
	return c.Save(ctx, next)
}

// Upsert inserts item or replaces the record with the same id.
func (c *Collection[T]) Upsert(ctx context.Context, item T) error {
	if item.GetID() == "" {
		return core.ErrEmptyID
	}
	return c.Update(ctx, func(items []T) ([]T, error) {
		for i, it := range items {
			if it.GetID() == item.GetID() {
				items[i] = item
				return items, nil
			}
		}
		return append(items, item), nil
	})
}

// Remove deletes the record with the given id and reports whether it existed.
func (c *Collection[T]) Remove(ctx context.Context, id string) (bool, error) {
	removed := false
	err := c.Update(ctx, func(items []T) ([]T, error) {
		out := items[:0]
		for _, it := range items {
			if it.GetID() == id {
				removed = true
				continue
			}
			out = append(out, it)
		}
		return out, nil
	})
	return removed, err
}
