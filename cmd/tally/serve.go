package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"

	"github.com/aretw0/tally"
	"github.com/aretw0/tally/pkg/core"
	"github.com/aretw0/tally/pkg/remote/server"
)

var serveAddr string

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the backup RPC server",
	Long: `Serve the backup service devices sync against. Snapshots are kept in the
configured data directory, one per market; /metrics and /healthz are exposed
next to the RPC endpoints.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		if cmd.Flags().Changed("addr") {
			cfg.Server.Addr = serveAddr
		}

		store, err := tally.Init(cfg.DataDir, tally.WithAdapter(cfg.Adapter), tally.WithLogger(slog.Default()))
		if err != nil {
			return err
		}
		if c, ok := store.(core.Closer); ok {
			defer c.Close()
		}

		if cfg.Server.Token == "" {
			slog.Warn("server token not set, RPC endpoints are unauthenticated")
		}
		srv := server.New(server.Config{
			Store:         store,
			Token:         cfg.Server.Token,
			Logger:        slog.Default(),
			RatePerSecond: cfg.Server.Rate,
			Burst:         cfg.Server.Burst,
			Registry:      prometheus.NewRegistry(),
		})

		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer stop()
		return srv.ListenAndServe(ctx, cfg.Server.Addr)
	},
}

func init() {
	rootCmd.AddCommand(serveCmd)
	serveCmd.Flags().StringVar(&serveAddr, "addr", ":8080", "Listen address")
}
