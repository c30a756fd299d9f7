package harness

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"slices"
	"sort"
	"strings"

	"github.com/roach88/recordset/internal/compiler"
	"github.com/roach88/recordset/internal/ir"
	"github.com/roach88/recordset/internal/model"
	"github.com/roach88/recordset/internal/queryir"
	"github.com/roach88/recordset/internal/repository"
	"github.com/roach88/recordset/internal/store"
	"github.com/roach88/recordset/internal/testutil"
)

const dataSource = "scenario"

// Harness is the test execution engine.
// It runs the steps of one scenario with a deterministic clock and
// sequential flush IDs.
type Harness struct {
	conn   *store.Conn
	repos  map[string]*repository.Repository
	named  map[string]*model.Model
	alias  map[*model.Model]string
	logger *slog.Logger
}

// Option configures Run.
type Option func(*options)

type options struct {
	logger *slog.Logger
}

// WithLogger routes repository and store logs. By default they are
// discarded.
func WithLogger(l *slog.Logger) Option {
	return func(o *options) { o.logger = l }
}

// Run executes a scenario and returns the result.
//
// Each scenario runs in a fresh in-memory database for isolation.
// Execution flow:
//  1. Compile and validate the schema
//  2. Create tables (auto_tables) and run setup SQL
//  3. Execute steps, checking each expect clause
//  4. Evaluate assertions
//
// A returned error means the scenario could not run at all; failed
// expectations are reported in the result.
func Run(ctx context.Context, scenario *Scenario, opts ...Option) (*Result, error) {
	o := options{logger: slog.New(slog.NewTextHandler(io.Discard, nil))}
	for _, opt := range opts {
		opt(&o)
	}

	descs, err := loadSchema(scenario)
	if err != nil {
		return nil, err
	}

	cfg := &store.Config{
		DefaultDataSource: dataSource,
		RecordQueries:     true,
		DataSources: map[string]store.DataSource{
			dataSource: {Driver: "sqlite", DSN: ":memory:"},
		},
	}
	manager := store.NewManager(cfg,
		store.WithClock(testutil.NewDeterministicClock()),
		store.WithLogger(o.logger),
	)
	defer manager.Close()

	conn, err := manager.Connect(ctx, "", "")
	if err != nil {
		return nil, fmt.Errorf("failed to create in-memory store: %w", err)
	}
	if scenario.AutoTables {
		for _, d := range descs {
			if _, err := conn.ExecContext(ctx, createTableSQL(d)); err != nil {
				return nil, fmt.Errorf("failed to create table %s: %w", d.Table, err)
			}
		}
	}
	for i, stmt := range scenario.Setup {
		if _, err := conn.ExecContext(ctx, stmt); err != nil {
			return nil, fmt.Errorf("failed to execute setup[%d]: %w", i, err)
		}
	}
	conn.ResetQueries()

	h := &Harness{
		conn:   conn,
		repos:  make(map[string]*repository.Repository, len(descs)),
		named:  make(map[string]*model.Model),
		alias:  make(map[*model.Model]string),
		logger: o.logger,
	}
	ids := testutil.NewSequentialIDGenerator("")
	for _, d := range descs {
		repo, err := repository.New(d, manager,
			repository.WithLogger(o.logger),
			repository.WithIDGenerator(ids),
		)
		if err != nil {
			return nil, err
		}
		h.repos[d.Name] = repo
	}

	result := NewResult()
	for i, step := range scenario.Steps {
		if err := h.executeStep(ctx, i, step, result); err != nil {
			return nil, fmt.Errorf("failed to execute steps[%d]: %w", i, err)
		}
	}
	result.Queries = conn.Queries()

	actx := &AssertionContext{Ctx: ctx, Conn: conn, Repos: h.repos}
	for _, msg := range EvaluateAssertions(result, scenario.Assertions, actx) {
		result.AddError(msg)
	}

	o.logger.Info("scenario finished",
		"scenario", scenario.Name,
		"pass", result.Pass,
		"steps", len(result.Trace),
		"queries", len(result.Queries),
	)
	return result, nil
}

// loadSchema compiles the inline schema and every schema file into one
// descriptor set.
func loadSchema(s *Scenario) ([]*model.Descriptor, error) {
	var descs []*model.Descriptor
	if s.Schema != "" {
		d, err := compiler.CompileString(s.Name+".schema", s.Schema)
		if err != nil {
			return nil, fmt.Errorf("failed to compile schema: %w", err)
		}
		descs = append(descs, d...)
	}
	for _, path := range s.SchemaFiles {
		src, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read schema file: %w", err)
		}
		d, err := compiler.CompileString(path, string(src))
		if err != nil {
			return nil, fmt.Errorf("failed to compile schema: %w", err)
		}
		descs = append(descs, d...)
	}
	if errs := compiler.Validate(descs); len(errs) > 0 {
		joined := make([]error, len(errs))
		for i, e := range errs {
			joined[i] = e
		}
		return nil, fmt.Errorf("invalid schema: %w", errors.Join(joined...))
	}
	return descs, nil
}

// executeStep runs one step and records its trace. Expectation mismatches
// go into result; an error is returned only for steps that reference
// unknown entities.
func (h *Harness) executeStep(ctx context.Context, i int, step Step, result *Result) error {
	trace := StepTrace{Step: i, Op: step.Op, Entity: step.Entity}

	var repo *repository.Repository
	if step.Entity != "" {
		repo = h.repos[step.Entity]
		if repo == nil {
			return fmt.Errorf("unknown entity %q", step.Entity)
		}
	}

	var (
		stepErr error
		found   *model.Model
	)
	switch step.Op {
	case OpCreate:
		m := repo.Create()
		h.name(step.As, m)
		stepErr = setValues(m, step.Values)

	case OpSet:
		if m, err := h.ref(step.Ref); err != nil {
			stepErr = err
		} else {
			stepErr = setValues(m, step.Values)
		}

	case OpPush:
		if m, err := h.ref(step.Ref); err != nil {
			stepErr = err
		} else {
			stepErr = repo.PushNew(m)
		}

	case OpMarkDeleted:
		if m, err := h.ref(step.Ref); err != nil {
			stepErr = err
		} else {
			stepErr = m.Delete()
		}

	case OpFindPK:
		found, stepErr = repo.FindByPrimaryKey(ctx, step.Key)
		if found != nil {
			trace.Keys = []string{found.Key()}
			h.name(step.As, found)
		}

	case OpFind:
		trace.Keys, stepErr = h.find(ctx, repo, step)

	case OpDeletePK:
		var n int64
		n, stepErr = repo.DeleteByPrimaryKey(ctx, step.Key)
		trace.Rows = &n

	case OpDelete:
		var n int64
		n, stepErr = h.delete(ctx, repo, step)
		trace.Rows = &n

	case OpFlushCreates, OpFlushUpdates, OpFlushDeletes:
		flush := map[string]func(context.Context, repository.Policy) (repository.FlushResult, error){
			OpFlushCreates: repo.FlushCreates,
			OpFlushUpdates: repo.FlushUpdates,
			OpFlushDeletes: repo.FlushDeletes,
		}[step.Op]
		policy, _ := parsePolicy(step.Policy)
		res, err := flush(ctx, policy)
		stepErr = err
		trace.Outcome = res.Outcome.String()
		trace.Rows = &res.Rows
		for _, f := range res.Failed {
			trace.Failed = append(trace.Failed, h.nameOf(f.Model))
		}

	case OpErase:
		stepErr = repo.Erase(step.Store)
	}

	if stepErr != nil {
		trace.Error = stepErr.Error()
	}
	result.Trace = append(result.Trace, trace)

	for _, msg := range checkExpect(step, trace, found, stepErr) {
		result.AddError(fmt.Sprintf("steps[%d] (%s): %s", i, step.Op, msg))
	}
	h.logger.Debug("step completed", "step", i, "op", step.Op, "entity", step.Entity, "error", stepErr)
	return nil
}

func (h *Harness) find(ctx context.Context, repo *repository.Repository, step Step) ([]string, error) {
	where, err := BuildConditions(step.Where)
	if err != nil {
		return nil, err
	}
	if v := queryir.Validate(where, repo.Descriptor().ColumnNames()...); !v.IsPortable {
		h.logger.Debug("conditions are not portable", "entity", step.Entity, "warnings", v.Warnings)
	}

	p := repo.FindByCondition().Where(where).Limit(step.Limit).Offset(step.Offset)
	for _, o := range step.OrderBy {
		dir := repository.Asc
		if o.Dir != "" {
			if dir, err = repository.ParseDirection(o.Dir); err != nil {
				return nil, err
			}
		}
		p.OrderBy(o.Column, dir)
	}

	seq, err := p.Resolve(ctx)
	if err != nil {
		return nil, err
	}
	keys := []string{}
	for key := range seq {
		keys = append(keys, key)
	}
	return keys, p.Err()
}

func (h *Harness) delete(ctx context.Context, repo *repository.Repository, step Step) (int64, error) {
	where, err := BuildConditions(step.Where)
	if err != nil {
		return 0, err
	}
	p := repo.DeleteByCondition().Where(where).Limit(step.Limit)
	for _, o := range step.OrderBy {
		dir := repository.Asc
		if o.Dir != "" {
			if dir, err = repository.ParseDirection(o.Dir); err != nil {
				return 0, err
			}
		}
		p.OrderBy(o.Column, dir)
	}
	return p.Resolve(ctx)
}

func (h *Harness) name(alias string, m *model.Model) {
	if alias == "" {
		return
	}
	h.named[alias] = m
	h.alias[m] = alias
}

// ref resolves an alias. find_pk leaves its alias unbound on a miss.
func (h *Harness) ref(alias string) (*model.Model, error) {
	m, ok := h.named[alias]
	if !ok {
		return nil, fmt.Errorf("ref %q has no instance", alias)
	}
	return m, nil
}

// nameOf returns the alias of m, or its record key.
func (h *Harness) nameOf(m *model.Model) string {
	if alias, ok := h.alias[m]; ok {
		return alias
	}
	return m.Key()
}

// setValues applies values in column name order so statement shapes are
// deterministic.
func setValues(m *model.Model, values map[string]any) error {
	cols := make([]string, 0, len(values))
	for col := range values {
		cols = append(cols, col)
	}
	sort.Strings(cols)
	for _, col := range cols {
		if err := m.Set(col, values[col]); err != nil {
			return err
		}
	}
	return nil
}

// checkExpect compares a step's outcome with its expect clause.
func checkExpect(step Step, trace StepTrace, found *model.Model, stepErr error) []string {
	exp := step.Expect
	if exp == nil {
		exp = &Expect{}
	}

	switch {
	case exp.Error != "" && stepErr == nil:
		return []string{fmt.Sprintf("expected error containing %q, got none", exp.Error)}
	case exp.Error != "" && !strings.Contains(stepErr.Error(), exp.Error):
		return []string{fmt.Sprintf("expected error containing %q, got %q", exp.Error, stepErr.Error())}
	case exp.Error == "" && stepErr != nil:
		return []string{fmt.Sprintf("unexpected error: %v", stepErr)}
	}

	var msgs []string
	if exp.Found != nil && *exp.Found != (found != nil) {
		msgs = append(msgs, fmt.Sprintf("expected found=%t", *exp.Found))
	}
	if exp.Values != nil {
		if found == nil {
			msgs = append(msgs, "expected values, but no instance was found")
		} else {
			msgs = append(msgs, compareValues(found, exp.Values)...)
		}
	}
	if exp.Keys != nil && !slices.Equal(exp.Keys, trace.Keys) {
		msgs = append(msgs, fmt.Sprintf("expected keys %v, got %v", exp.Keys, trace.Keys))
	}
	if exp.Rows != nil && (trace.Rows == nil || *exp.Rows != *trace.Rows) {
		got := "none"
		if trace.Rows != nil {
			got = fmt.Sprint(*trace.Rows)
		}
		msgs = append(msgs, fmt.Sprintf("expected rows %d, got %s", *exp.Rows, got))
	}
	if exp.Outcome != "" && exp.Outcome != trace.Outcome {
		msgs = append(msgs, fmt.Sprintf("expected outcome %s, got %s", exp.Outcome, trace.Outcome))
	}
	if exp.Failed != nil && !slices.Equal(exp.Failed, trace.Failed) {
		msgs = append(msgs, fmt.Sprintf("expected failed %v, got %v", exp.Failed, trace.Failed))
	}
	return msgs
}

func compareValues(m *model.Model, want map[string]any) []string {
	cols := make([]string, 0, len(want))
	for col := range want {
		cols = append(cols, col)
	}
	sort.Strings(cols)

	var msgs []string
	for _, col := range cols {
		got, err := m.Get(col)
		if err != nil {
			msgs = append(msgs, err.Error())
			continue
		}
		exp, err := ir.FromGo(want[col])
		if err != nil {
			msgs = append(msgs, fmt.Sprintf("%s: %v", col, err))
			continue
		}
		if !ir.Equal(exp, got) {
			msgs = append(msgs, fmt.Sprintf("expected %s = %v, got %v", col, ir.ToGo(exp), ir.ToGo(got)))
		}
	}
	return msgs
}

// createTableSQL renders a SQLite table for a descriptor. Timestamp
// columns the entity does not declare are added; created_on is filled by
// NOW() on insert.
func createTableSQL(d *model.Descriptor) string {
	cols := make([]string, 0, len(d.Columns)+len(model.Timestamps)+1)
	for _, c := range d.Columns {
		if !slices.Contains(model.Timestamps, c.Name) {
			cols = append(cols, c.Name+" "+sqliteType(c.Type))
		}
	}
	cols = append(cols,
		model.CreatedOn+" TEXT DEFAULT (NOW())",
		model.UpdatedOn+" TEXT",
		model.DeletedOn+" TEXT",
	)
	cols = append(cols, "PRIMARY KEY ("+strings.Join(d.PrimaryKey, ", ")+")")
	return fmt.Sprintf("CREATE TABLE %s (%s)", d.Table, strings.Join(cols, ", "))
}

func sqliteType(t model.ColumnType) string {
	switch t {
	case model.TypeInt, model.TypeBool:
		return "INTEGER"
	case model.TypeFloat:
		return "REAL"
	default:
		return "TEXT"
	}
}
