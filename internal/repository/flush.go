package repository

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/roach88/recordset/internal/model"
	"github.com/roach88/recordset/internal/store"
)

// Policy decides what a flush does when a row fails.
type Policy int

const (
	// StopOnFirstFail rolls back the whole batch at the first failing row.
	StopOnFirstFail Policy = iota

	// BestEffort commits every row that succeeded and reports the others.
	BestEffort
)

func (p Policy) String() string {
	if p == BestEffort {
		return "best_effort"
	}
	return "stop_on_first_fail"
}

// Outcome is the kind of result a flush produced.
type Outcome int

const (
	// NoWork means there was nothing to flush; no transaction was opened.
	NoWork Outcome = iota

	// Committed means every row was written.
	Committed

	// Partial means a best-effort flush committed some rows and failed others.
	Partial

	// Aborted means a stop-on-first-fail flush rolled everything back.
	Aborted
)

func (o Outcome) String() string {
	switch o {
	case Committed:
		return "committed"
	case Partial:
		return "partial"
	case Aborted:
		return "aborted"
	default:
		return "no_work"
	}
}

// FailedRow is an instance whose statement failed, with the driver error.
// The instance stays in its local store for a later retry.
type FailedRow struct {
	Model *model.Model
	Err   error
}

// FlushResult reports what a flush did.
//
// Rows is the number of backing-store rows written by committed statements.
// Failed lists failing rows: every failure for Partial, the first one for
// Aborted.
type FlushResult struct {
	Outcome Outcome
	Rows    int64
	Failed  []FailedRow
}

// OK reports whether nothing failed.
func (r FlushResult) OK() bool {
	return r.Outcome == NoWork || r.Outcome == Committed
}

// rowWriter executes one instance's statement inside tx.
type rowWriter func(ctx context.Context, tx *store.Tx, m *model.Model) (int64, error)

// FlushCreates inserts every pending instance with one prepared statement.
// Inserted instances leave the pending list.
func (r *Repository) FlushCreates(ctx context.Context, policy Policy) (FlushResult, error) {
	if len(r.pending) == 0 {
		return FlushResult{Outcome: NoWork}, nil
	}
	var stmt *store.Stmt
	write := func(ctx context.Context, tx *store.Tx, m *model.Model) (int64, error) {
		if stmt == nil {
			var err error
			if stmt, err = tx.PrepareContext(ctx, r.compiler.Insert(r.desc)); err != nil {
				return 0, err
			}
		}
		res, err := stmt.ExecContext(ctx, store.Args(m.InsertValues())...)
		if err != nil {
			return 0, err
		}
		return res.RowsAffected()
	}
	defer func() {
		if stmt != nil {
			stmt.Close()
		}
	}()

	batch := r.pending
	res, done, err := r.flush(ctx, "creates", policy, batch, write)
	if err != nil {
		return res, err
	}
	r.pending = without(r.pending, done)
	return res, nil
}

// FlushUpdates writes the dirty columns of every dirty local instance.
// Statements are prepared once per distinct set of dirty columns.
// Updated instances leave the local store.
func (r *Repository) FlushUpdates(ctx context.Context, policy Policy) (FlushResult, error) {
	var batch []*model.Model
	for _, m := range r.All() {
		if m.IsDirty() {
			batch = append(batch, m)
		}
	}
	if len(batch) == 0 {
		return FlushResult{Outcome: NoWork}, nil
	}

	stmts := make(map[string]*store.Stmt)
	defer func() {
		for _, s := range stmts {
			s.Close()
		}
	}()
	write := func(ctx context.Context, tx *store.Tx, m *model.Model) (int64, error) {
		query, err := r.compiler.Update(r.desc, m.DirtyColumns())
		if err != nil {
			return 0, err
		}
		stmt, ok := stmts[query]
		if !ok {
			if stmt, err = tx.PrepareContext(ctx, query); err != nil {
				return 0, err
			}
			stmts[query] = stmt
		}
		args := append(store.Args(m.DirtyValues()), store.Args(m.PrimaryKey())...)
		res, err := stmt.ExecContext(ctx, args...)
		if err != nil {
			return 0, err
		}
		return res.RowsAffected()
	}

	res, done, err := r.flush(ctx, "updates", policy, batch, write)
	if err != nil {
		return res, err
	}
	r.evict(done)
	return res, nil
}

// FlushDeletes soft-deletes every delete-flagged local instance.
// Deleted instances leave the local store.
func (r *Repository) FlushDeletes(ctx context.Context, policy Policy) (FlushResult, error) {
	var batch []*model.Model
	for _, key := range r.local.keys() {
		if m, _ := r.local.get(key); m.IsDeleteFlagged() {
			batch = append(batch, m)
		}
	}
	if len(batch) == 0 {
		return FlushResult{Outcome: NoWork}, nil
	}

	var stmt *store.Stmt
	defer func() {
		if stmt != nil {
			stmt.Close()
		}
	}()
	write := func(ctx context.Context, tx *store.Tx, m *model.Model) (int64, error) {
		if stmt == nil {
			var err error
			if stmt, err = tx.PrepareContext(ctx, r.compiler.SoftDeleteByKey(r.desc)); err != nil {
				return 0, err
			}
		}
		res, err := stmt.ExecContext(ctx, store.Args(m.PrimaryKey())...)
		if err != nil {
			return 0, err
		}
		return res.RowsAffected()
	}

	res, done, err := r.flush(ctx, "deletes", policy, batch, write)
	if err != nil {
		return res, err
	}
	r.evict(done)
	return res, nil
}

// flush runs write for every instance of batch in one transaction.
//
// Under BestEffort each row runs inside a savepoint, so a failing row is
// undone on its own and the transaction stays usable on every backend.
// Under StopOnFirstFail the first failure rolls back the transaction.
//
// done lists the instances whose rows were committed. err is reserved for
// failures of the transaction itself (begin, savepoint, commit).
func (r *Repository) flush(ctx context.Context, op string, policy Policy, batch []*model.Model, write rowWriter) (res FlushResult, done []*model.Model, err error) {
	flushID := r.ids.Generate()
	log := r.logger.With(
		slog.String("flush_id", flushID),
		slog.String("entity", r.desc.Name),
		slog.String("op", op),
		slog.String("policy", policy.String()),
	)

	conn, err := r.Connection(ctx)
	if err != nil {
		return FlushResult{}, nil, err
	}
	tx, err := conn.BeginTx(ctx)
	if err != nil {
		return FlushResult{}, nil, err
	}
	defer tx.Rollback() // no-op after Commit

	const savepoint = "flush_row"
	for _, m := range batch {
		if policy == BestEffort {
			if err := tx.Savepoint(ctx, savepoint); err != nil {
				return FlushResult{}, nil, fmt.Errorf("flush %s %s: %w", r.desc.Name, op, err)
			}
		}

		n, werr := write(ctx, tx, m)
		if werr == nil {
			res.Rows += n
			done = append(done, m)
			if policy == BestEffort {
				if err := tx.Release(ctx, savepoint); err != nil {
					return FlushResult{}, nil, fmt.Errorf("flush %s %s: %w", r.desc.Name, op, err)
				}
			}
			continue
		}

		log.Warn("row failed", "key", m.Key(), "constraint", store.ConstraintViolation(werr), "error", werr)
		failed := FailedRow{Model: m, Err: werr}
		if policy == StopOnFirstFail {
			if err := tx.Rollback(); err != nil {
				return FlushResult{}, nil, fmt.Errorf("flush %s %s: rollback: %w", r.desc.Name, op, err)
			}
			log.Warn("flush aborted", "rolled_back", len(done))
			return FlushResult{Outcome: Aborted, Failed: []FailedRow{failed}}, nil, nil
		}
		if err := tx.RollbackTo(ctx, savepoint); err != nil {
			return FlushResult{}, nil, fmt.Errorf("flush %s %s: %w", r.desc.Name, op, err)
		}
		if err := tx.Release(ctx, savepoint); err != nil {
			return FlushResult{}, nil, fmt.Errorf("flush %s %s: %w", r.desc.Name, op, err)
		}
		res.Failed = append(res.Failed, failed)
	}

	if err := tx.Commit(); err != nil {
		return FlushResult{}, nil, fmt.Errorf("flush %s %s: commit: %w", r.desc.Name, op, err)
	}

	res.Outcome = Committed
	if len(res.Failed) > 0 {
		res.Outcome = Partial
	}
	log.Info("flush committed", "outcome", res.Outcome.String(), "rows", res.Rows, "failed", len(res.Failed))
	return res, done, nil
}

func (r *Repository) evict(done []*model.Model) {
	keys := make([]string, len(done))
	for i, m := range done {
		keys[i] = m.Key()
	}
	r.local.remove(keys...)
}

// without returns list minus the instances in drop, keeping order.
func without(list, drop []*model.Model) []*model.Model {
	gone := make(map[*model.Model]bool, len(drop))
	for _, m := range drop {
		gone[m] = true
	}
	var out []*model.Model
	for _, m := range list {
		if !gone[m] {
			out = append(out, m)
		}
	}
	return out
}
