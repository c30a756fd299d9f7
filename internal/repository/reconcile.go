package repository

import (
	"cmp"
	"context"
	"database/sql"
	"fmt"
	"iter"
	"slices"
	"strconv"
	"strings"

	"github.com/roach88/recordset/internal/ir"
	"github.com/roach88/recordset/internal/model"
	"github.com/roach88/recordset/internal/queryir"
	"github.com/roach88/recordset/internal/querysql"
	"github.com/roach88/recordset/internal/store"
)

// resolveData prepares the read for p. Grouped reads and reads of
// soft-deleted rows go to the backing store as built; everything else is
// reconciled with the local store.
func (r *Repository) resolveData(ctx context.Context, p *DataPromise) (iter.Seq2[string, *model.Model], error) {
	conn, err := r.Connection(ctx)
	if err != nil {
		return nil, err
	}
	if len(p.query.GroupBy) > 0 || p.query.WithDeleted {
		stmt, _ := p.compile()
		return r.readOnlyRows(ctx, conn, p, stmt), nil
	}

	matches, excluded := r.partitionLocal(p.query.Where)
	q := p.query
	q.Where = excludeKeys(r.desc, p.query.Where, excluded)
	stmt, err := r.compiler.Select(r.desc, q)
	if err != nil {
		return nil, err
	}
	r.logger.Debug("reconciling read",
		"entity", r.desc.Name,
		"local_matches", len(matches),
		"excluded", len(excluded),
	)
	return r.mergedRows(ctx, conn, p, stmt, matches), nil
}

// partitionLocal walks the local store in load order.
//
// matches are clean or dirty instances that satisfy where in memory; they
// are part of the result. excluded are the instances the backing store must
// not return: matches, delete-flagged instances, and dirty instances whose
// stored row no longer reflects them.
func (r *Repository) partitionLocal(where *queryir.Conditions) (matches, excluded []*model.Model) {
	for _, key := range r.local.keys() {
		m, _ := r.local.get(key)
		if m.IsDeleteFlagged() {
			excluded = append(excluded, m)
			continue
		}
		ok, err := r.eval.Evaluate(where, m)
		switch {
		case err != nil && m.IsDirty():
			r.logger.Warn("local predicate undecidable, dirty instance left out of result",
				"entity", r.desc.Name, "key", key, "error", err)
			excluded = append(excluded, m)
		case err != nil:
			r.logger.Debug("local predicate undecidable, backing store decides",
				"entity", r.desc.Name, "key", key, "error", err)
		case ok:
			matches = append(matches, m)
			excluded = append(excluded, m)
		case m.IsDirty():
			excluded = append(excluded, m)
		}
	}
	return matches, excluded
}

// excludeKeys returns where with "primary key is none of these" prepended.
// The caller's tree is cloned, never modified.
func excludeKeys(desc *model.Descriptor, where *queryir.Conditions, models []*model.Model) *queryir.Conditions {
	if len(models) == 0 {
		return where
	}
	exclusion := queryir.New()
	for _, m := range models {
		key := m.PrimaryKey()
		if !desc.CompositeKey() {
			exclusion.Where(desc.PrimaryKey[0], queryir.Neq, key[0])
			continue
		}
		// (a <> ? OR b <> ?) per instance
		group := exclusion.AndCondition()
		for i, col := range desc.PrimaryKey {
			group.OrWhere(col, queryir.Neq, key[i])
		}
	}
	if where.HasRootOr() {
		return queryir.New().Unshift(where.Clone()).Unshift(exclusion)
	}
	return where.Clone().Unshift(exclusion)
}

// mergedRows yields local matches and backing-store rows. Rows for keys
// already in the local store yield the local instance; new rows are added
// to it. With an ORDER BY and local matches, the merged set is re-sorted
// and cut to the limit before anything is yielded.
func (r *Repository) mergedRows(ctx context.Context, conn *store.Conn, p *DataPromise, stmt querysql.Statement, matches []*model.Model) iter.Seq2[string, *model.Model] {
	q := p.query
	sorted := len(q.OrderBy) > 0 && len(matches) > 0

	return func(yield func(string, *model.Model) bool) {
		p.results = nil
		p.err = nil
		emit := func(m *model.Model) bool {
			key := m.Key()
			p.results = append(p.results, result{key: key, model: m})
			return yield(key, m)
		}
		full := func() bool {
			return q.Limit > 0 && len(p.results) >= q.Limit
		}

		if !sorted {
			for _, m := range matches {
				if full() {
					p.resolved = true
					return
				}
				if !emit(m) {
					return
				}
			}
		}

		rows, err := conn.QueryContext(ctx, stmt.SQL, stmt.Args...)
		if err != nil {
			p.err = fmt.Errorf("find %s: %w", r.desc.Name, err)
			return
		}
		defer rows.Close()

		var buffered []*model.Model
		for rows.Next() {
			m, err := r.hydrate(rows, stmt.Columns)
			if err != nil {
				p.err = fmt.Errorf("find %s: %w", r.desc.Name, err)
				return
			}
			m = r.local.add(m.Key(), m)
			if sorted {
				buffered = append(buffered, m)
				continue
			}
			if full() {
				break
			}
			if !emit(m) {
				return
			}
		}
		if err := rows.Err(); err != nil {
			p.err = fmt.Errorf("find %s: %w", r.desc.Name, err)
			return
		}

		if sorted {
			all := append(buffered, matches...)
			r.sortModels(all, q.OrderBy)
			if q.Limit > 0 && len(all) > q.Limit {
				all = all[:q.Limit]
			}
			for _, m := range all {
				if !emit(m) {
					return
				}
			}
		}
		p.resolved = true
	}
}

// readOnlyRows yields rows as read-only instances without reconciling.
// Grouped rows have no reliable key, so they are keyed by position.
func (r *Repository) readOnlyRows(ctx context.Context, conn *store.Conn, p *DataPromise, stmt querysql.Statement) iter.Seq2[string, *model.Model] {
	grouped := len(p.query.GroupBy) > 0

	return func(yield func(string, *model.Model) bool) {
		p.results = nil
		p.err = nil

		rows, err := conn.QueryContext(ctx, stmt.SQL, stmt.Args...)
		if err != nil {
			p.err = fmt.Errorf("find %s: %w", r.desc.Name, err)
			return
		}
		defer rows.Close()

		for i := 0; rows.Next(); i++ {
			m, err := r.hydrate(rows, stmt.Columns)
			if err != nil {
				p.err = fmt.Errorf("find %s: %w", r.desc.Name, err)
				return
			}
			m.SetReadOnly()
			key := m.Key()
			if grouped {
				key = strconv.Itoa(i)
			}
			p.results = append(p.results, result{key: key, model: m})
			if !yield(key, m) {
				return
			}
		}
		if err := rows.Err(); err != nil {
			p.err = fmt.Errorf("find %s: %w", r.desc.Name, err)
			return
		}
		p.resolved = true
	}
}

// resolveDelete soft-deletes matching rows, then flags matching local
// instances. Local instances the evaluator cannot decide are left alone.
//
// A limited delete lets the backing store pick its rows: the target keys
// are read and updated in one transaction, and only local instances with
// those keys are flagged.
func (r *Repository) resolveDelete(ctx context.Context, q querysql.DeleteQuery, stmt querysql.Statement) (int64, error) {
	conn, err := r.Connection(ctx)
	if err != nil {
		return 0, err
	}
	if q.Limit > 0 {
		return r.resolveLimitedDelete(ctx, conn, q, stmt)
	}

	res, err := conn.ExecContext(ctx, stmt.SQL, stmt.Args...)
	if err != nil {
		return 0, fmt.Errorf("delete %s: %w", r.desc.Name, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("delete %s: %w", r.desc.Name, err)
	}

	flagged := 0
	for key, m := range r.All() {
		ok, err := r.eval.Evaluate(q.Where, m)
		if err != nil {
			r.logger.Warn("local predicate undecidable, instance not flagged",
				"entity", r.desc.Name, "key", key, "error", err)
			continue
		}
		if ok {
			if err := m.Delete(); err != nil {
				return n, err
			}
			flagged++
		}
	}
	r.logger.Debug("deleted by condition", "entity", r.desc.Name, "rows", n, "flagged", flagged)
	return n, nil
}

func (r *Repository) resolveLimitedDelete(ctx context.Context, conn *store.Conn, q querysql.DeleteQuery, stmt querysql.Statement) (int64, error) {
	targets, err := r.compiler.DeleteTargets(r.desc, q)
	if err != nil {
		return 0, err
	}

	tx, err := conn.BeginTx(ctx)
	if err != nil {
		return 0, err
	}
	defer tx.Rollback()

	keys, err := r.targetKeys(ctx, tx, targets)
	if err != nil {
		return 0, fmt.Errorf("delete %s: %w", r.desc.Name, err)
	}
	res, err := tx.ExecContext(ctx, stmt.SQL, stmt.Args...)
	if err != nil {
		return 0, fmt.Errorf("delete %s: %w", r.desc.Name, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("delete %s: %w", r.desc.Name, err)
	}
	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("delete %s: commit: %w", r.desc.Name, err)
	}

	flagged := 0
	for _, key := range keys {
		m, ok := r.local.get(key)
		if !ok || m.IsDeleteFlagged() {
			continue
		}
		if err := m.Delete(); err != nil {
			return n, err
		}
		flagged++
	}
	r.logger.Debug("deleted by condition", "entity", r.desc.Name, "rows", n, "flagged", flagged, "limit", q.Limit)
	return n, nil
}

// targetKeys reads the record keys a limited delete is about to update.
func (r *Repository) targetKeys(ctx context.Context, tx *store.Tx, targets querysql.Statement) ([]string, error) {
	rows, err := tx.QueryContext(ctx, targets.SQL, targets.Args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var keys []string
	for rows.Next() {
		m, err := r.hydrate(rows, targets.Columns)
		if err != nil {
			return nil, err
		}
		keys = append(keys, m.Key())
	}
	return keys, rows.Err()
}

// hydrate builds a persisted instance from the current row.
func (r *Repository) hydrate(rows *sql.Rows, columns []string) (*model.Model, error) {
	values, err := store.ScanValues(rows, len(columns))
	if err != nil {
		return nil, err
	}
	m := model.New(r.desc)
	for i, col := range columns {
		if col == querysql.KeyColumn {
			continue
		}
		if err := m.Hydrate(col, values[i]); err != nil {
			return nil, err
		}
	}
	m.MarkPersisted()
	return m, nil
}

// sortModels orders ms by the ORDER BY list. NULL sorts first ascending,
// as in the backing store; ties keep their current order.
func (r *Repository) sortModels(ms []*model.Model, orders []querysql.Order) {
	slices.SortStableFunc(ms, func(a, b *model.Model) int {
		for _, o := range orders {
			c := r.compareColumn(a, b, o.Column)
			if o.Desc {
				c = -c
			}
			if c != 0 {
				return c
			}
		}
		return 0
	})
}

func (r *Repository) compareColumn(a, b *model.Model, column string) int {
	av, _ := a.Get(column)
	bv, _ := b.Get(column)
	aNull, bNull := ir.IsNull(av), ir.IsNull(bv)
	switch {
	case aNull && bNull:
		return 0
	case aNull:
		return -1
	case bNull:
		return 1
	}
	if col, ok := r.desc.Column(column); ok && col.Type.Numeric() {
		af, aok := ir.Numeric(av)
		bf, bok := ir.Numeric(bv)
		if aok && bok {
			return cmp.Compare(af, bf)
		}
	}
	return strings.Compare(av.Text(), bv.Text())
}

// keyConditions builds pk = ? AND ... for a point lookup.
func keyConditions(desc *model.Descriptor, values []ir.IRValue) *queryir.Conditions {
	c := queryir.New()
	for i, col := range desc.PrimaryKey {
		c.Where(col, queryir.Eq, values[i])
	}
	return c
}
