package repository

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"strings"

	"github.com/roach88/recordset/internal/model"
	"github.com/roach88/recordset/internal/queryir"
	"github.com/roach88/recordset/internal/querysql"
)

// Direction is an ORDER BY direction.
type Direction string

const (
	Asc  Direction = "ASC"
	Desc Direction = "DESC"
)

// ParseDirection accepts "asc" or "desc" in any case.
func ParseDirection(s string) (Direction, error) {
	switch d := Direction(strings.ToUpper(s)); d {
	case Asc, Desc:
		return d, nil
	}
	return "", fmt.Errorf("unknown order direction %q", s)
}

// DataPromise is a lazily compiled read against one repository.
//
// Builder methods return the receiver so calls chain. Problems such as an
// unknown column are recorded and reported by SQL, SQLValues and Resolve.
// Once resolved, a promise is immutable and builder calls are ignored.
//
// Example:
//
//	seq, err := users.FindByCondition().
//	  Where(queryir.New().Where("age", queryir.Gte, 18)).
//	  OrderBy("email", repository.Asc).
//	  Limit(10).
//	  Resolve(ctx)
//	if err != nil { return err }
//	for key, user := range seq { ... }
//	if err := promise.Err(); err != nil { return err }
type DataPromise struct {
	repo  *Repository
	query querysql.SelectQuery
	errs  []error
	stmt  *querysql.Statement

	resolved bool
	results  []result
	err      error
}

type result struct {
	key   string
	model *model.Model
}

func newDataPromise(r *Repository) *DataPromise {
	return &DataPromise{repo: r}
}

// Where sets the condition tree. A read without one is rejected.
func (p *DataPromise) Where(c *queryir.Conditions) *DataPromise {
	if p.mutable() {
		p.query.Where = c
	}
	return p
}

// GroupBy groups results. Grouped reads bypass the local store and yield
// read-only instances keyed by position.
func (p *DataPromise) GroupBy(columns ...string) *DataPromise {
	if !p.mutable() {
		return p
	}
	for _, col := range columns {
		if !p.repo.desc.Has(col) {
			p.errs = append(p.errs, fmt.Errorf("%s: unknown column %q in group by", p.repo.desc.Name, col))
			continue
		}
		p.query.GroupBy = append(p.query.GroupBy, col)
	}
	return p
}

// Having filters groups.
func (p *DataPromise) Having(c *queryir.Conditions) *DataPromise {
	if p.mutable() {
		p.query.Having = c
	}
	return p
}

// OrderBy appends a sort key. The order is kept when local matches are
// merged into the result.
func (p *DataPromise) OrderBy(column string, dir Direction) *DataPromise {
	if !p.mutable() {
		return p
	}
	if dir != Asc && dir != Desc {
		p.errs = append(p.errs, fmt.Errorf("order by %s: unknown direction %q", column, dir))
		return p
	}
	p.query.OrderBy = append(p.query.OrderBy, querysql.Order{Column: column, Desc: dir == Desc})
	return p
}

// Limit caps the number of results. Zero means no limit.
func (p *DataPromise) Limit(n int) *DataPromise {
	if p.mutable() {
		p.query.Limit = n
	}
	return p
}

// Offset skips backing-store rows.
func (p *DataPromise) Offset(n int) *DataPromise {
	if p.mutable() {
		p.query.Offset = n
	}
	return p
}

// Select limits the projection. Primary key columns are always loaded for
// ungrouped reads.
func (p *DataPromise) Select(columns ...string) *DataPromise {
	if p.mutable() {
		p.query.Columns = append(p.query.Columns, columns...)
	}
	return p
}

// WithTimestamps also loads created_on, updated_on and deleted_on.
func (p *DataPromise) WithTimestamps() *DataPromise {
	if p.mutable() {
		p.query.WithTimestamps = true
	}
	return p
}

// WithDeleted reads soft-deleted rows instead of live ones. Such rows are
// yielded read-only and never enter the local store.
func (p *DataPromise) WithDeleted() *DataPromise {
	if p.mutable() {
		p.query.WithDeleted = true
	}
	return p
}

// SQL returns the statement for the conditions as built by the caller.
// The result is memoized.
func (p *DataPromise) SQL() (string, error) {
	stmt, err := p.compile()
	return stmt.SQL, err
}

// SQLValues returns the bound values of SQL, in placeholder order.
func (p *DataPromise) SQLValues() ([]any, error) {
	stmt, err := p.compile()
	return stmt.Args, err
}

// Resolve runs the read and returns its results as (record key, instance)
// pairs. Validation happens here, before any I/O; the query itself runs
// when iteration starts. Errors during iteration are reported by Err.
//
// Once the sequence has been consumed to the end, Resolve replays the same
// results without touching the backing store or the local store again.
func (p *DataPromise) Resolve(ctx context.Context) (iter.Seq2[string, *model.Model], error) {
	if p.resolved {
		return p.replay(), nil
	}
	if _, err := p.compile(); err != nil {
		return nil, err
	}
	return p.repo.resolveData(ctx, p)
}

// IsResolved reports whether a Resolve sequence ran to completion.
func (p *DataPromise) IsResolved() bool {
	return p.resolved
}

// Err returns the error that ended the last iteration, if any.
func (p *DataPromise) Err() error {
	return p.err
}

func (p *DataPromise) compile() (querysql.Statement, error) {
	if p.stmt != nil {
		return *p.stmt, nil
	}
	if err := errors.Join(p.errs...); err != nil {
		return querysql.Statement{}, err
	}
	stmt, err := p.repo.compiler.Select(p.repo.desc, p.query)
	if errors.Is(err, querysql.ErrUnconditional) {
		return querysql.Statement{}, p.repo.errorf(ErrCodeUnconditional, "find_by_condition", "unconditional select from %s", p.repo.desc.Table)
	}
	if err != nil {
		return querysql.Statement{}, err
	}
	p.stmt = &stmt
	return stmt, nil
}

func (p *DataPromise) mutable() bool {
	if p.resolved {
		return false
	}
	p.stmt = nil
	return true
}

func (p *DataPromise) replay() iter.Seq2[string, *model.Model] {
	return func(yield func(string, *model.Model) bool) {
		for _, r := range p.results {
			if !yield(r.key, r.model) {
				return
			}
		}
	}
}

// DeletePromise is a lazily compiled soft delete against one repository.
type DeletePromise struct {
	repo  *Repository
	query querysql.DeleteQuery
	errs  []error
	stmt  *querysql.Statement

	resolved bool
	rows     int64
}

func newDeletePromise(r *Repository) *DeletePromise {
	return &DeletePromise{repo: r}
}

// Where sets the condition tree. A delete without one is rejected.
func (p *DeletePromise) Where(c *queryir.Conditions) *DeletePromise {
	if p.mutable() {
		p.query.Where = c
	}
	return p
}

// OrderBy appends a sort key. It only matters together with Limit.
func (p *DeletePromise) OrderBy(column string, dir Direction) *DeletePromise {
	if !p.mutable() {
		return p
	}
	if dir != Asc && dir != Desc {
		p.errs = append(p.errs, fmt.Errorf("order by %s: unknown direction %q", column, dir))
		return p
	}
	p.query.OrderBy = append(p.query.OrderBy, querysql.Order{Column: column, Desc: dir == Desc})
	return p
}

// Limit caps the number of rows deleted in the backing store.
func (p *DeletePromise) Limit(n int) *DeletePromise {
	if p.mutable() {
		p.query.Limit = n
	}
	return p
}

// SQL returns the soft-delete statement. The result is memoized.
func (p *DeletePromise) SQL() (string, error) {
	stmt, err := p.compile()
	return stmt.SQL, err
}

// SQLValues returns the bound values of SQL, in placeholder order.
func (p *DeletePromise) SQLValues() ([]any, error) {
	stmt, err := p.compile()
	return stmt.Args, err
}

// Resolve flags matching local instances for deletion and soft-deletes
// every matching row in the backing store, loaded or not. It returns the
// backing-store row count. With a limit, only the local instances of the
// rows the backing store picked are flagged. A second call returns the same
// count without running again.
func (p *DeletePromise) Resolve(ctx context.Context) (int64, error) {
	if p.resolved {
		return p.rows, nil
	}
	stmt, err := p.compile()
	if err != nil {
		return 0, err
	}
	n, err := p.repo.resolveDelete(ctx, p.query, stmt)
	if err != nil {
		return 0, err
	}
	p.rows = n
	p.resolved = true
	return n, nil
}

// IsResolved reports whether Resolve succeeded.
func (p *DeletePromise) IsResolved() bool {
	return p.resolved
}

func (p *DeletePromise) compile() (querysql.Statement, error) {
	if p.stmt != nil {
		return *p.stmt, nil
	}
	if err := errors.Join(p.errs...); err != nil {
		return querysql.Statement{}, err
	}
	stmt, err := p.repo.compiler.SoftDelete(p.repo.desc, p.query)
	if errors.Is(err, querysql.ErrUnconditional) {
		return querysql.Statement{}, p.repo.errorf(ErrCodeUnconditional, "delete_by_condition", "unconditional delete from %s", p.repo.desc.Table)
	}
	if err != nil {
		return querysql.Statement{}, err
	}
	p.stmt = &stmt
	return stmt, nil
}

func (p *DeletePromise) mutable() bool {
	if p.resolved {
		return false
	}
	p.stmt = nil
	return true
}
