package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/aretw0/tally"
	lifecycleadapter "github.com/aretw0/tally/pkg/adapters/lifecycle"
	"github.com/aretw0/tally/pkg/core"
	"github.com/aretw0/tally/pkg/schedule"
)

var daemonWatch bool

var daemonCmd = &cobra.Command{
	Use:   "daemon",
	Short: "Run auto-sync, backups and promise expiry on a schedule",
	Long: `Run the periodic jobs until interrupted: auto-sync every 15 minutes,
backup every hour and the expiry of overdue promises. With --watch, local
changes to the debtors also trigger a (throttled) sync.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		app := openApp(tally.WithWatcherErrorHandler(func(err error) {
			slog.Error("watcher failed, local changes no longer trigger a sync", "error", err)
		}))
		defer app.Close()
		s := requireSyncer(app)

		specs := schedule.Specs{Sync: cfg.Schedule.Sync, Backup: cfg.Schedule.Backup, Promise: cfg.Schedule.Promise}
		sched, err := schedule.New(schedule.DefaultJobs(app.Ledger, s, specs), schedule.WithLogger(slog.Default()))
		if err != nil {
			return err
		}

		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		if err := sched.Start(ctx); err != nil {
			return err
		}

		if daemonWatch {
			w, ok := app.Store.(core.Watchable)
			if !ok {
				slog.Warn("store does not support watching, --watch ignored", "adapter", cfg.Adapter)
			} else {
				events, err := w.Watch(ctx, core.DebtorsPrefix+"*")
				if err != nil {
					return err
				}
				if err := sched.Trigger(ctx, lifecycleadapter.NewSource(events), schedule.JobSync); err != nil {
					return err
				}
				slog.Info("watching local changes", "data", cfg.DataDir)
			}
		}

		<-ctx.Done()
		stopCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		return sched.Stop(stopCtx)
	},
}

func init() {
	rootCmd.AddCommand(daemonCmd)
	daemonCmd.Flags().BoolVar(&daemonWatch, "watch", false, "Sync when local debtor files change")
}
