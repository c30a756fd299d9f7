package cli

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
)

// DeleteResult is the outcome of the delete command.
type DeleteResult struct {
	Entity string `json:"entity"`
	Rows   int64  `json:"rows"`
}

// NewDeleteCommand creates the delete command.
func NewDeleteCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "delete <entity> <key...>",
		Short: "Soft-delete one record by primary key",
		Long: `Soft-delete one record by primary key: its deleted_on column is set to the
current time. Deleting a missing or already deleted record affects no rows
and is not an error.`,
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
			n, err := s.repo.DeleteByPrimaryKey(ctx, keyArgs(args[1:]))
			if err != nil {
				return f.Fail(ExitCommandError, ErrCodeQueryFailed, err.Error(), nil)
			}

			if f.Format == "json" {
				return f.Success(DeleteResult{Entity: args[0], Rows: n})
			}
			return f.Success(fmt.Sprintf("deleted %d row(s)", n))
		},
	}
}
