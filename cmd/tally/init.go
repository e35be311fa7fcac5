package main

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/aretw0/tally"
)

const starterConfig = `# tally configuration. TALLY_* environment variables override these values.
adapter: fs
data_dir: data
market: %s
min_interval: 10s

remote:
  # url: https://backup.example.com
  # token: ""
  # git_dir: ../tally-backups

# telegram:
#   token: ""
#   chat_id: ""

server:
  addr: ":8080"
  rate: 1
  burst: 5
`

// initCmd represents the init command
var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Create tally.yaml and the data directory in the current directory",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cwd, err := os.Getwd()
		if err != nil {
			return err
		}

		path := filepath.Join(cwd, "tally.yaml")
		if _, err := os.Stat(path); err == nil {
			return fmt.Errorf("%s already exists", path)
		} else if !errors.Is(err, fs.ErrNotExist) {
			return err
		}
		if err := os.WriteFile(path, []byte(fmt.Sprintf(starterConfig, cfg.Market)), 0644); err != nil {
			return err
		}

		if _, err := tally.Init(filepath.Join(cwd, "data")); err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), "Initialized tally in", cwd)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(initCmd)
}
