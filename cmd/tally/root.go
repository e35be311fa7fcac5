package main

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/aretw0/tally"
	"github.com/aretw0/tally/pkg/core"
)

var (
	verbose bool
	dataDir string
	adapter string
	market  string

	// cfg is resolved once per invocation from tally.yaml, .env, TALLY_* and flags.
	cfg tally.Config
)

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "tally",
	Short: "An offline-first debt ledger for small shops",
	Long: `Tally keeps each market's debtors in a local store and reconciles them
with a remote backup (the bundled RPC server or a git repository).`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		level := slog.LevelInfo
		if verbose {
			level = slog.LevelDebug
		}

		opts := &slog.HandlerOptions{
			Level: level,
		}
		logger := slog.New(slog.NewTextHandler(os.Stderr, opts))
		slog.SetDefault(logger)

		return loadConfig(cmd)
	},
}

func loadConfig(cmd *cobra.Command) error {
	wd, err := os.Getwd()
	if err != nil {
		return err
	}
	root, err := tally.FindRoot(wd)
	if err != nil {
		root = wd
	}

	cfg, err = tally.LoadConfig(root)
	if err != nil {
		return err
	}

	flags := cmd.Flags()
	if flags.Changed("data") {
		cfg.DataDir = dataDir
	}
	if flags.Changed("adapter") {
		cfg.Adapter = adapter
	}
	if flags.Changed("market") {
		cfg.Market = market
	}
	if !filepath.IsAbs(cfg.DataDir) {
		cfg.DataDir = filepath.Join(root, cfg.DataDir)
	}
	if err := core.ValidateMarket(cfg.Market); err != nil {
		return fmt.Errorf("market %q: %w", cfg.Market, err)
	}
	slog.Debug("configuration loaded", "root", root, "data", cfg.DataDir, "adapter", cfg.Adapter, "market", cfg.Market)
	return nil
}

// openApp builds the application from the resolved configuration.
func openApp(extra ...tally.Option) *tally.App {
	opts := append(cfg.Options(), tally.WithLogger(slog.Default()))
	opts = append(opts, extra...)
	app, err := tally.New(cfg.DataDir, opts...)
	if err != nil {
		fatal("Failed to open ledger", err)
	}
	return app
}

// Execute adds all child commands to the root command and sets flags appropriately.
// This is called by main.main().
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Enable verbose logging")
	rootCmd.PersistentFlags().StringVar(&dataDir, "data", "", "Data directory (default \"data\" under the project root)")
	rootCmd.PersistentFlags().StringVar(&adapter, "adapter", "", "Storage adapter: fs, sqlite or memory")
	rootCmd.PersistentFlags().StringVarP(&market, "market", "m", "", "Market to operate on")
}
