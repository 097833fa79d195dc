// Package commands defines all Cobra CLI commands for the ragindex binary.
package commands

import (
	"fmt"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/54b3r/ragindex/internal/audit"
	"github.com/54b3r/ragindex/internal/config"
	"github.com/54b3r/ragindex/internal/logging"
)

// configPath holds the --config flag value for YAML config file override.
var configPath string

// Process-wide state resolved by the root command before any subcommand runs.
var (
	cfg      *config.Config
	log      *slog.Logger
	closeLog func() error
)

// NewRootCmd constructs the root Cobra command that all subcommands attach to.
func NewRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "ragindex",
		Short: "ragindex: idempotent file processing and vector indexing",
		Long: `ragindex turns uploaded project files into searchable vector collections.

Files are split into chunks and stored in SQLite, then embedded and upserted
into a vector store (qdrant, pgvector, or an embedded badger store). Every job
runs through a task ledger, so a resubmitted or retried job never repeats work
that already completed.

Run 'ragindex worker' for the HTTP API and job queue, or use the one-shot
commands (upload, process, index, search, answer) against the same stores.
Settings come from ~/.ragindex/config.yaml, RAGINDEX_CONFIG, or env vars.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			bootLog := slog.Default()
			loaded, path, err := config.Load(configPath, bootLog)
			if err != nil {
				return err
			}
			cfg = loaded

			l, closer, err := logging.New(cfg.Logging)
			if err != nil {
				return fmt.Errorf("logging: %w", err)
			}
			log, closeLog = l, closer
			slog.SetDefault(log)
			cmd.SetContext(logging.WithLogger(cmd.Context(), log))

			audit.LogCommandStart(log, cmd.Name(), path)
			return nil
		},
		PersistentPostRunE: func(*cobra.Command, []string) error {
			if closeLog != nil {
				return closeLog()
			}
			return nil
		},
	}

	root.PersistentFlags().StringVar(&configPath, "config", "", "Path to YAML config file (default: ~/.ragindex/config.yaml)")

	root.AddCommand(
		NewWorkerCmd(),
		NewUploadCmd(),
		NewProcessCmd(),
		NewIndexCmd(),
		NewStatusCmd(),
		NewSearchCmd(),
		NewAnswerCmd(),
		NewInfoCmd(),
		NewCollectionsCmd(),
		NewSweepCmd(),
		NewVersionCmd(),
	)

	return root
}
