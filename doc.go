// Package tally is the composition root of the tally debt ledger.
//
// It wires the storage adapters, the ledger, and the sync engine that keeps
// the local, offline-first copy of each market in step with a remote backup.
//
// Features:
//
//   - **Offline first**: every market's debtors live in a local key-value store (files, SQLite or memory).
//   - **Corruption tolerant**: an undecodable value is cleared and read as empty.
//   - **Throttled sync**: remote reconciliation is skipped inside the minimum interval and coalesced per market.
//   - **Pluggable remotes**: the bundled RPC backup server or a git repository.
//   - **Backups elsewhere**: snapshots can also be sent to a Telegram chat.
//
// Usage:
//
//	app, err := tally.New("./data",
//		tally.WithRemoteURL("https://backup.example.com", token),
//		tally.WithLogger(logger),
//	)
//
//	d, err := app.Ledger.AddDebtor(ctx, "corner-shop", ledger.DebtorInput{Name: "Ali"})
//	_, err = app.Ledger.RecordDebt(ctx, "corner-shop", d.ID, 1500, "bread")
//	_, err = app.Syncer.Sync(ctx, "corner-shop", false)
package tally
