package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/roach88/recordset/internal/compiler"
)

// ValidationResult holds validation results.
type ValidationResult struct {
	Valid    bool                       `json:"valid"`
	Entities int                        `json:"entities"`
	Errors   []compiler.ValidationError `json:"errors,omitempty"`
}

// NewValidateCommand creates the validate command.
func NewValidateCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "validate",
		Short: "Check the entity schema",
		Long: `Check the CUE entity schema named by --schema.

Reports every problem found, not just the first: identifiers that are
unsafe in SQL, tables claimed by two entities, reserved timestamp columns
with another type, and unusable key declarations.`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true, // Don't print usage on errors
		SilenceErrors: true, // Don't print errors - we handle our own error output
		RunE: func(cmd *cobra.Command, args []string) error {
			f := newFormatter(rootOpts, cmd.OutOrStdout(), cmd.ErrOrStderr())
			res, err := loadValidSchema(rootOpts, f)
			if err != nil {
				return err
			}
			if f.Format == "json" {
				return f.Success(ValidationResult{Valid: true, Entities: len(res.Entities)})
			}
			return f.Success(fmt.Sprintf("✓ %d entities valid", len(res.Entities)))
		},
	}
}

// outputValidationErrors reports every validation error and returns an
// ExitFailure error.
func outputValidationErrors(f *OutputFormatter, errs []compiler.ValidationError) error {
	msg := fmt.Sprintf("schema has %d error(s)", len(errs))
	if f.Format == "json" {
		if err := f.Error(errs[0].Code, msg, ValidationResult{Valid: false, Errors: errs}); err != nil {
			return err
		}
		return NewExitError(ExitFailure, msg)
	}

	w := f.Writer
	fmt.Fprintf(w, "✗ %s\n", msg)
	for _, e := range errs {
		fmt.Fprintf(w, "  %s\n", e.Error())
	}
	return NewExitError(ExitFailure, msg)
}
