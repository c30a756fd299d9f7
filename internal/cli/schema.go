package cli

import (
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/roach88/recordset/internal/compiler"
	"github.com/roach88/recordset/internal/model"
)

// NewSchemaCommand creates the schema command.
func NewSchemaCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "schema",
		Short: "Compile the entity schema and print its descriptors",
		Long: `Compile the CUE entity schema named by --schema and print the resolved
descriptors: table, primary key, columns and protected columns. The
reserved timestamp columns are included.`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true, // Don't print usage on errors - we handle our own error output
		SilenceErrors: true, // Don't print errors - we handle our own error output
		RunE: func(cmd *cobra.Command, args []string) error {
			f := newFormatter(rootOpts, cmd.OutOrStdout(), cmd.ErrOrStderr())
			res, err := loadValidSchema(rootOpts, f)
			if err != nil {
				return err
			}
			if f.Format == "json" {
				return f.Success(res.Entities)
			}
			return f.Success(formatDescriptors(res.Entities))
		},
	}
}

// loadValidSchema loads --schema and fails on compile or validation errors,
// reporting them through f.
func loadValidSchema(opts *RootOptions, f *OutputFormatter) (*LoadResult, error) {
	res, err := LoadSchema(opts.Schema)
	if err != nil {
		return nil, reportLoadError(f, err)
	}
	f.VerboseLog("Loaded %d entities from %d CUE file(s)", len(res.Entities), res.FileCount)

	if errs := compiler.Validate(res.Entities); len(errs) > 0 {
		return nil, outputValidationErrors(f, errs)
	}
	return res, nil
}

func reportLoadError(f *OutputFormatter, err error) error {
	var loadErr *LoadError
	if errors.As(err, &loadErr) {
		exit := ExitFailure
		if loadErr.Code == ErrCodeNotFound {
			exit = ExitCommandError
		}
		return f.Fail(exit, loadErr.Code, loadErr.Error(), nil)
	}
	return f.Fail(ExitFailure, ErrCodeGeneric, err.Error(), nil)
}

func formatDescriptors(descs []*model.Descriptor) string {
	var sb strings.Builder
	for i, d := range descs {
		if i > 0 {
			sb.WriteByte('\n')
		}
		fmt.Fprintf(&sb, "%s (table %s)\n", d.Name, d.Table)
		fmt.Fprintf(&sb, "  primary key: %s", strings.Join(d.PrimaryKey, ", "))
		if d.CompositeKey() {
			fmt.Fprintf(&sb, " (separator %q)", d.KeySeparator)
		}
		sb.WriteByte('\n')
		for _, c := range d.Columns {
			mark := ""
			if d.IsProtected(c.Name) {
				mark = " (protected)"
			}
			fmt.Fprintf(&sb, "  %-12s %s%s\n", c.Name, c.Type, mark)
		}
	}
	return strings.TrimSuffix(sb.String(), "\n")
}
