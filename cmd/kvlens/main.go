// Command kvlens browses and bulk-edits ordered key-value stores.
package main

import (
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/jacentio/kvlens/internal/config"
)

var version = "dev"

var (
	cfgFile string
	conf    config.Config
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		// cobra has already printed the error.
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "kvlens",
		Short: "Browse, copy, delete, import and export ordered key-value data",
		Long: `kvlens lists entries of a configured connection with paging and
filtering, and runs audited bulk jobs (copy, delete, import, export) that
can be aborted while they run.`,
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			c, err := config.Load(cmd, cfgFile)
			if err != nil {
				return err
			}
			conf = c
			slog.SetDefault(newLogger(c.Log))
			return nil
		},
	}
	cmd.Version = version

	cmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is $XDG_CONFIG_HOME/kvlens/kvlens.yaml or ./kvlens.yaml)")
	cmd.PersistentFlags().String("session", "", "session id owning the query cache and export jobs")
	cmd.PersistentFlags().String("executor", "", "name recorded in audit records")
	cmd.PersistentFlags().Bool("json", false, "print JSON instead of tables")

	cmd.AddCommand(
		newListCmd(),
		newGetCmd(),
		newSetCmd(),
		newCopyCmd(),
		newDeleteCmd(),
		newImportCmd(),
		newExportCmd(),
		newExportStatusCmd(),
		newAbortCmd(),
		newAuditCmd(),
		newConnectionsCmd(),
		newCleanupWorkerCmd(),
		newLambdaCmd(),
		newConfigCmd(),
	)
	return cmd
}

func newLogger(c config.Log) *slog.Logger {
	var level slog.Level
	if err := level.UnmarshalText([]byte(strings.ToUpper(c.Level))); err != nil {
		fmt.Fprintf(os.Stderr, "unknown log level %q, using info\n", c.Level)
		level = slog.LevelInfo
	}
	opts := &slog.HandlerOptions{Level: level}
	if c.JSON {
		return slog.New(slog.NewJSONHandler(os.Stderr, opts))
	}
	return slog.New(slog.NewTextHandler(os.Stderr, opts))
}
