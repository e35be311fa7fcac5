package integration

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aretw0/tally"
	"github.com/aretw0/tally/pkg/core"
	"github.com/aretw0/tally/pkg/ledger"
)

// TestReadOnlyMode ensures a read-only ledger serves reads, rejects every
// write and leaves corrupted data on disk instead of clearing it.
func TestReadOnlyMode(t *testing.T) {
	tempDir := t.TempDir()
	id := prepareLedger(t, tempDir)

	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelDebug}))
	app, err := tally.New(tempDir, tally.WithReadOnly(true), tally.WithLogger(logger))
	require.NoError(t, err)
	defer app.Close()

	ctx := context.Background()

	d, err := app.Ledger.GetDebtor(ctx, "shop", id)
	require.NoError(t, err)
	assert.Equal(t, int64(1500), d.Balance)

	_, err = app.Ledger.AddDebtor(ctx, "shop", ledger.DebtorInput{Name: "New"})
	assert.ErrorIs(t, err, core.ErrReadOnly)

	_, err = app.Ledger.RecordPayment(ctx, "shop", id, 500, "")
	assert.ErrorIs(t, err, core.ErrReadOnly)

	err = app.Ledger.DeleteDebtor(ctx, "shop", id)
	assert.ErrorIs(t, err, core.ErrReadOnly)

	d, err = app.Ledger.GetDebtor(ctx, "shop", id)
	require.NoError(t, err)
	assert.Equal(t, int64(1500), d.Balance, "failed writes leave the balance alone")

	// Corrupt a second market behind the ledger's back.
	broken := filepath.Join(tempDir, "debtors", "broken.json")
	require.NoError(t, os.WriteFile(broken, []byte("{not json"), 0644))

	debtors, err := app.Ledger.ListDebtors(ctx, "broken")
	require.NoError(t, err)
	assert.Empty(t, debtors)
	_, err = os.Stat(broken)
	assert.NoError(t, err, "read-only mode never deletes the corrupted file")
}

func TestReadOnlyMode_MissingDirectory(t *testing.T) {
	_, err := tally.New(filepath.Join(t.TempDir(), "missing"), tally.WithReadOnly(true))
	assert.Error(t, err)
}

func prepareLedger(t *testing.T, dir string) string {
	t.Helper()
	app, err := tally.New(dir)
	require.NoError(t, err)
	defer app.Close()

	d, err := app.Ledger.AddDebtor(context.Background(), "shop", ledger.DebtorInput{Name: "Ali"})
	require.NoError(t, err)
	_, err = app.Ledger.RecordDebt(context.Background(), "shop", d.ID, 1500, "flour")
	require.NoError(t, err)
	return d.ID
}
