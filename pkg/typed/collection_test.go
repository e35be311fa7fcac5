package typed_test

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aretw0/tally/pkg/adapters/memory"
	"github.com/aretw0/tally/pkg/core"
	"github.com/aretw0/tally/pkg/typed"
)

type item struct {
	ID    string `json:"id"`
	Count int    `json:"count"`
}

func (i item) GetID() string { return i.ID }

func TestCollection_CRUD(t *testing.T) {
	ctx := context.Background()
	store := memory.NewStore()
	c := typed.NewCollection[item](store, "items:m")

	items, err := c.Load(ctx)
	require.NoError(t, err)
	assert.Empty(t, items)
	assert.NotNil(t, items, "missing key should load as an empty, non-nil slice")

	require.NoError(t, c.Upsert(ctx, item{ID: "a", Count: 1}))
	require.NoError(t, c.Upsert(ctx, item{ID: "b", Count: 2}))
	require.NoError(t, c.Upsert(ctx, item{ID: "a", Count: 3}))

	got, ok, err := c.Get(ctx, "a")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, 3, got.Count)

	removed, err := c.Remove(ctx, "b")
	require.NoError(t, err)
	assert.True(t, removed)

	removed, err = c.Remove(ctx, "b")
	require.NoError(t, err)
	assert.False(t, removed)

	items, err = c.Load(ctx)
	require.NoError(t, err)
	assert.Equal(t, []item{{ID: "a", Count: 3}}, items)
}

func TestCollection_CorruptionRecovery(t *testing.T) {
	tests := []struct {
		name string
		raw  string
	}{
		{"invalid json", `{ not json`},
		{"object instead of array", `{"id":"a"}`},
		{"wrong element type", `[1,2,3]`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ctx := context.Background()
			store := memory.NewStore()
			require.NoError(t, store.Set(ctx, "items:m", []byte(tt.raw)))

			c := typed.NewCollection[item](store, "items:m")
			items, err := c.Load(ctx)
			require.NoError(t, err)
			assert.Empty(t, items)

			_, err = store.Get(ctx, "items:m")
			assert.ErrorIs(t, err, core.ErrNotFound, "corrupted key should be cleared")
		})
	}
}

func TestCollection_NullIsEmpty(t *testing.T) {
	ctx := context.Background()
	store := memory.NewStore()
	require.NoError(t, store.Set(ctx, "items:m", []byte("null")))

	items, err := typed.NewCollection[item](store, "items:m").Load(ctx)
	require.NoError(t, err)
	assert.Empty(t, items)
}

func TestCollection_RejectsDuplicates(t *testing.T) {
	c := typed.NewCollection[item](memory.NewStore(), "items:m")
	err := c.Save(context.Background(), []item{{ID: "a"}, {ID: "a"}})
	assert.ErrorIs(t, err, typed.ErrDuplicateID)

	err = c.Save(context.Background(), []item{{ID: ""}})
	assert.ErrorIs(t, err, core.ErrEmptyID)
}

func TestCollection_UpdateAbortsOnError(t *testing.T) {
	ctx := context.Background()
	c := typed.NewCollection[item](memory.NewStore(), "items:m")
	require.NoError(t, c.Upsert(ctx, item{ID: "a", Count: 1}))

	boom := errors.New("boom")
	err := c.Update(ctx, func(items []item) ([]item, error) {
		items[0].Count = 99
		return items, boom
	})
	assert.ErrorIs(t, err, boom)

	got, _, _ := c.Get(ctx, "a")
	assert.Equal(t, 1, got.Count)
}

func TestCollection_SharedLockSerialisesWriters(t *testing.T) {
	ctx := context.Background()
	store := memory.NewStore()
	var mu sync.Mutex

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			c := typed.NewCollection[item](store, "items:m", typed.WithLock(&mu))
			err := c.Update(ctx, func(items []item) ([]item, error) {
				if len(items) == 0 {
					return []item{{ID: "n", Count: 1}}, nil
				}
				items[0].Count++
				return items, nil
			})
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	got, _, err := typed.NewCollection[item](store, "items:m").Get(ctx, "n")
	require.NoError(t, err)
	assert.Equal(t, 50, got.Count)
}
