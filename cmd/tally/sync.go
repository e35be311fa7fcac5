package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/aretw0/tally"
	"github.com/aretw0/tally/pkg/core"
	"github.com/aretw0/tally/pkg/syncer"
)

var (
	syncAll   bool
	syncForce bool
)

// syncCmd represents the sync command
var syncCmd = &cobra.Command{
	Use:   "sync",
	Short: "Reconcile the local ledger with the remote backup",
	Long: `Fetch the remote copy, merge it with the local debtors (newer records win)
and push the merged result back. Runs inside the minimum interval are skipped
unless --force is given.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		app := openApp()
		defer app.Close()
		s := requireSyncer(app)

		ctx := context.Background()
		out := cmd.OutOrStdout()
		if syncAll {
			results, err := s.SyncAll(ctx, syncForce)
			for _, res := range results {
				printResult(out, res)
			}
			return err
		}

		res, err := s.Sync(ctx, cfg.Market, syncForce)
		if err != nil {
			return err
		}
		printResult(out, res)
		return nil
	},
}

var backupCmd = &cobra.Command{
	Use:   "backup",
	Short: "Push the local snapshot to the remote (and the messenger, if configured)",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		app := openApp()
		defer app.Close()
		s := requireSyncer(app)

		ctx := context.Background()
		if syncAll {
			return s.BackupAll(ctx)
		}
		if err := s.Backup(ctx, cfg.Market); err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "backed up %s\n", cfg.Market)
		return nil
	},
}

var restoreCmd = &cobra.Command{
	Use:   "restore",
	Short: "Replace the local debtors with the remote copy",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		app := openApp()
		defer app.Close()
		s := requireSyncer(app)

		n, err := s.Restore(context.Background(), cfg.Market)
		if errors.Is(err, core.ErrNotFound) {
			return fmt.Errorf("nothing to restore for %s: local data left untouched", cfg.Market)
		}
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "restored %d debtors\n", n)
		return nil
	},
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show when the market was last synced",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		app := openApp()
		defer app.Close()
		s := requireSyncer(app)

		at, ok, err := s.LastSync(context.Background(), cfg.Market)
		if err != nil {
			return err
		}
		if !ok {
			fmt.Fprintf(cmd.OutOrStdout(), "%s never synced\n", cfg.Market)
			return nil
		}
		fmt.Fprintf(cmd.OutOrStdout(), "%s last synced %s (%s ago)\n", cfg.Market, at.Format(time.RFC3339), time.Since(at).Round(time.Second))
		return nil
	},
}

func requireSyncer(app *tally.App) *syncer.Syncer {
	s, err := app.RequireSyncer()
	if err != nil {
		fmt.Fprintln(os.Stderr, "Tip: set remote.url or remote.git_dir in tally.yaml, or TALLY_REMOTE_URL.")
		fatal("Sync unavailable", err)
	}
	return s
}

func printResult(w io.Writer, res syncer.Result) {
	if res.Skipped {
		fmt.Fprintf(w, "%s: skipped, synced recently\n", res.Market)
		return
	}
	fmt.Fprintf(w, "%s: %d local, %d remote, %d merged (+%d added, %d updated)\n",
		res.Market, res.Local, res.Remote, res.Merged, res.Stats.Added, res.Stats.Updated)
}

func init() {
	rootCmd.AddCommand(syncCmd, backupCmd, restoreCmd, statusCmd)
	syncCmd.Flags().BoolVar(&syncAll, "all", false, "Sync every market")
	syncCmd.Flags().BoolVar(&syncForce, "force", false, "Ignore the minimum interval")
	backupCmd.Flags().BoolVar(&syncAll, "all", false, "Back up every market")
}
