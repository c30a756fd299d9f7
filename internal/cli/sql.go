package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/roach88/recordset/internal/queryir"
)

// SQLOptions holds flags for the sql command.
type SQLOptions struct {
	*RootOptions
	Where       []string // column<op>value filters, ANDed
	Order       []string // column[:asc|desc]
	Limit       int
	Offset      int
	WithDeleted bool
}

// CompiledSQL is the statement printed by the sql command.
type CompiledSQL struct {
	SQL  string `json:"sql"`
	Args []any  `json:"args"`
}

// NewSQLCommand creates the sql command.
func NewSQLCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &SQLOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "sql <entity>",
		Short: "Print the SELECT a condition read would issue",
		Long: `Compile a condition read for an entity and print the statement and its
bound values without running it. The dialect comes from the default
datasource of --config (sqlite without one).

Examples:
  recordset sql User --schema schema.cue --where "age>=18" --where role=admin
  recordset sql User --schema schema.cue --order age:desc --limit 10`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSQL(opts, args[0], cmd)
		},
	}

	cmd.Flags().StringArrayVarP(&opts.Where, "where", "w", nil, "filter as column<op>value (repeatable)")
	cmd.Flags().StringArrayVarP(&opts.Order, "order", "o", nil, "order as column[:desc] (repeatable)")
	cmd.Flags().IntVar(&opts.Limit, "limit", 0, "maximum rows (0 = no limit)")
	cmd.Flags().IntVar(&opts.Offset, "offset", 0, "rows to skip")
	cmd.Flags().BoolVar(&opts.WithDeleted, "with-deleted", false, "include soft-deleted rows")

	return cmd
}

func runSQL(opts *SQLOptions, entity string, cmd *cobra.Command) error {
	f := newFormatter(opts.RootOptions, cmd.OutOrStdout(), cmd.ErrOrStderr())
	s, err := openSession(opts.RootOptions, f, entity, cmd.ErrOrStderr())
	if err != nil {
		return err
	}
	defer s.Close()

	desc := s.repo.Descriptor()
	where := queryir.New()
	for _, w := range opts.Where {
		column, op, value, err := parseFilter(desc, w)
		if err != nil {
			return f.Fail(ExitCommandError, ErrCodeBadArgument, err.Error(), nil)
		}
		where.Where(column, op, value)
	}

	p := s.repo.FindByCondition().Where(where).Limit(opts.Limit).Offset(opts.Offset)
	for _, o := range opts.Order {
		column, dir, err := parseOrder(o)
		if err != nil {
			return f.Fail(ExitCommandError, ErrCodeBadArgument, err.Error(), nil)
		}
		p.OrderBy(column, dir)
	}
	if opts.WithDeleted {
		p.WithDeleted()
	}

	sql, err := p.SQL()
	if err != nil {
		return f.Fail(ExitCommandError, ErrCodeBadArgument, err.Error(), nil)
	}
	values, err := p.SQLValues()
	if err != nil {
		return f.Fail(ExitCommandError, ErrCodeBadArgument, err.Error(), nil)
	}
	if values == nil {
		values = []any{}
	}

	if f.Format == "json" {
		return f.Success(CompiledSQL{SQL: sql, Args: values})
	}
	return f.Success(fmt.Sprintf("%s\nargs: %v", sql, values))
}
