package cli

import (
	"fmt"
	"io"
	"log/slog"
	"slices"

	"github.com/spf13/cobra"

	"github.com/roach88/recordset/internal/store"
)

// RootOptions holds global flags for all commands.
type RootOptions struct {
	Verbose bool
	Format  string // "json" | "text"
	Config  string // connection config (YAML)
	Schema  string // CUE file or directory declaring entities
}

// ValidFormats defines the allowed output formats.
var ValidFormats = []string{"text", "json"}

// NewRootCommand creates the root command for the recordset CLI.
func NewRootCommand() *cobra.Command {
	opts := &RootOptions{}

	cmd := &cobra.Command{
		Use:   "recordset",
		Short: "recordset - reconcile records with their tables",
		Long: `Inspect entity schemas and work with records through repositories.

Entities are declared in CUE; connections come from a YAML config file.`,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			// Validate format flag
			if !isValidFormat(opts.Format) {
				return fmt.Errorf("invalid format %q: must be one of %v", opts.Format, ValidFormats)
			}
			return nil
		},
	}

	// Global flags
	cmd.PersistentFlags().BoolVarP(&opts.Verbose, "verbose", "v", false, "verbose output")
	cmd.PersistentFlags().StringVar(&opts.Format, "format", "text", "output format (json|text)")
	cmd.PersistentFlags().StringVarP(&opts.Config, "config", "c", "", "connection config file")
	cmd.PersistentFlags().StringVarP(&opts.Schema, "schema", "s", "", "CUE schema file or directory")

	// Add subcommands
	cmd.AddCommand(NewSchemaCommand(opts))
	cmd.AddCommand(NewValidateCommand(opts))
	cmd.AddCommand(NewSQLCommand(opts))
	cmd.AddCommand(NewGetCommand(opts))
	cmd.AddCommand(NewDeleteCommand(opts))
	cmd.AddCommand(NewScenarioCommand(opts))

	return cmd
}

// isValidFormat checks if the format is one of the allowed values.
func isValidFormat(format string) bool {
	return slices.Contains(ValidFormats, format)
}

// loadConfig reads --config. Without one, an in-memory sqlite datasource
// is used, which is enough to compile statements.
func loadConfig(opts *RootOptions) (*store.Config, error) {
	if opts.Config == "" {
		return &store.Config{
			DefaultDataSource: "memory",
			DataSources: map[string]store.DataSource{
				"memory": {Driver: "sqlite", DSN: ":memory:"},
			},
		}, nil
	}
	cfg, err := store.LoadConfig(opts.Config)
	if err != nil {
		return nil, WrapExitError(ExitCommandError, "loading config", err)
	}
	return cfg, nil
}

// newLogger builds the stderr logger. --verbose selects debug; otherwise
// the config's log_level applies, defaulting to warn.
func newLogger(opts *RootOptions, cfg *store.Config, w io.Writer) (*slog.Logger, error) {
	level := slog.LevelWarn
	switch {
	case opts.Verbose:
		level = slog.LevelDebug
	case cfg != nil && cfg.LogLevel != "":
		if err := level.UnmarshalText([]byte(cfg.LogLevel)); err != nil {
			return nil, WrapExitError(ExitCommandError, "invalid log_level", err)
		}
	}
	return slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{Level: level})), nil
}
