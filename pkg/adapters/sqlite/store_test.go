package sqlite_test

import (
	"context"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aretw0/tally/pkg/adapters/sqlite"
	"github.com/aretw0/tally/pkg/core"
)

func openStore(t *testing.T) *sqlite.Store {
	t.Helper()
	s, err := sqlite.Open(sqlite.Config{DSN: filepath.Join(t.TempDir(), "tally.db")})
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	require.NoError(t, s.Initialize(context.Background()))
	return s
}

func TestStore_CRUD(t *testing.T) {
	ctx := context.Background()
	s := openStore(t)

	_, err := s.Get(ctx, "debtors:m")
	assert.ErrorIs(t, err, core.ErrNotFound)

	require.NoError(t, s.Set(ctx, "debtors:m", []byte(`[]`)))
	require.NoError(t, s.Set(ctx, "debtors:m", []byte(`[{"id":"x"}]`)))

	got, err := s.Get(ctx, "debtors:m")
	require.NoError(t, err)
	assert.JSONEq(t, `[{"id":"x"}]`, string(got))

	require.NoError(t, s.Delete(ctx, "debtors:m"))
	_, err = s.Get(ctx, "debtors:m")
	assert.ErrorIs(t, err, core.ErrNotFound)
}

func TestStore_KeysByPrefix(t *testing.T) {
	ctx := context.Background()
	s := openStore(t)

	for _, k := range []string{"debtors:b", "debtors:a", "debtorsX", "sync:last:a"} {
		require.NoError(t, s.Set(ctx, k, []byte("1")))
	}

	keys, err := s.Keys(ctx, "debtors:")
	require.NoError(t, err)
	assert.Equal(t, []string{"debtors:a", "debtors:b"}, keys)
}

func TestStore_ConcurrentWrites(t *testing.T) {
	ctx := context.Background()
	s := openStore(t)

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			assert.NoError(t, s.Set(ctx, "counter", []byte{byte(i)}))
		}(i)
	}
	wg.Wait()

	_, err := s.Get(ctx, "counter")
	assert.NoError(t, err)
}
