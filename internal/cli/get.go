package cli

import (
	"context"
	"fmt"
	"strings"

	"github.com/spf13/cobra"
)

// NewGetCommand creates the get command.
func NewGetCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "get <entity> <key...>",
		Short: "Fetch one record by primary key",
		Long: `Fetch one record by primary key. Key values are given in primary key
column order. Soft-deleted rows are not found.

Exit codes:
  0 - Record found
  1 - No such record
  2 - Command error (schema, config, connection)`,
		Args:          cobra.MinimumNArgs(2),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			f := newFormatter(rootOpts, cmd.OutOrStdout(), cmd.ErrOrStderr())
			s, err := openSession(rootOpts, f, args[0], cmd.ErrOrStderr())
			if err != nil {
				return err
			}
			defer s.Close()

			ctx := cmd.Context()
			if ctx == nil {
				ctx = context.Background()
			}
			m, err := s.repo.FindByPrimaryKey(ctx, keyArgs(args[1:]), recordColumns(s.repo.Descriptor())...)
			if err != nil {
				return f.Fail(ExitCommandError, ErrCodeQueryFailed, err.Error(), nil)
			}
			if m == nil {
				return f.Fail(ExitFailure, ErrCodeNotFound,
					fmt.Sprintf("%s(%s) not found", args[0], strings.Join(args[1:], ", ")), nil)
			}

			if f.Format == "json" {
				return f.Success(m)
			}
			return f.Success(formatRecord(m))
		},
	}
}
