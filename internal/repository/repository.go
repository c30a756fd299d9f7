package repository

import (
	"context"
	"fmt"
	"iter"
	"log/slog"
	"maps"
	"slices"

	"github.com/google/uuid"

	"github.com/roach88/recordset/internal/ir"
	"github.com/roach88/recordset/internal/model"
	"github.com/roach88/recordset/internal/queryeval"
	"github.com/roach88/recordset/internal/querysql"
	"github.com/roach88/recordset/internal/store"
)

// Provider hands out backing-store connections. *store.Manager implements it.
type Provider interface {
	Connect(ctx context.Context, credentialsRef, dataSourceRef string) (*store.Conn, error)
	Dialect(dataSourceRef string) (querysql.Dialect, error)
}

// IDGenerator generates flush IDs for log correlation.
// Implemented by UUIDv7Generator (production) and testutil.SequentialIDGenerator (tests).
type IDGenerator interface {
	Generate() string
}

// UUIDv7Generator generates time-sortable UUIDv7 flush IDs.
//
// Thread-safety: UUIDv7Generator is stateless and safe for concurrent use.
type UUIDv7Generator struct{}

// Generate creates a new UUIDv7 and returns it as a hyphenated string.
func (UUIDv7Generator) Generate() string {
	return uuid.Must(uuid.NewV7()).String()
}

// Store names accepted by Erase.
const (
	StoreAll    = ""
	StoreCreate = "create"
	StoreLocal  = "local"
)

// Repository keeps a working set of one entity type consistent with its
// backing table.
//
// The local store holds instances read from the backing store, keyed by
// record key; the pending list holds instances created but not yet
// inserted. Reads merge both worlds so local edits are never shadowed by
// stale rows, and flushes write local changes back transactionally.
//
// A Repository is owned by one logical unit of work (typically a request)
// and is not safe for concurrent use. Several repositories may share one
// Provider.
type Repository struct {
	desc        *model.Descriptor
	provider    Provider
	credentials string
	dataSource  string
	logger      *slog.Logger
	eval        *queryeval.Evaluator
	ids         IDGenerator
	compiler    *querysql.Compiler
	conn        *store.Conn
	local       *localStore
	pending     []*model.Model
}

// Option configures a Repository.
type Option func(*Repository)

// WithCredentials selects a named credentials entry. Default: the
// provider's default.
func WithCredentials(ref string) Option {
	return func(r *Repository) {
		r.credentials = ref
	}
}

// WithDataSource selects a named datasource. Default: the provider's default.
func WithDataSource(ref string) Option {
	return func(r *Repository) {
		r.dataSource = ref
	}
}

// WithLogger sets the structured logger. Default: slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(r *Repository) {
		r.logger = l
	}
}

// WithRawFunc teaches the in-memory evaluator a raw expression, so local
// instances can be matched against conditions that use it.
func WithRawFunc(expr string, fn queryeval.RawFunc) Option {
	return func(r *Repository) {
		r.eval.Register(expr, fn)
	}
}

// WithIDGenerator sets the flush ID generator. Default: UUIDv7Generator.
func WithIDGenerator(g IDGenerator) Option {
	return func(r *Repository) {
		r.ids = g
	}
}

// New creates a Repository for desc. The connection is opened lazily on
// first use; configuration errors from the provider are returned unchanged.
func New(desc *model.Descriptor, provider Provider, opts ...Option) (*Repository, error) {
	r := &Repository{
		desc:     desc,
		provider: provider,
		logger:   slog.Default(),
		eval:     queryeval.New(),
		ids:      UUIDv7Generator{},
		local:    newLocalStore(),
	}
	for _, opt := range opts {
		opt(r)
	}
	dialect, err := provider.Dialect(r.dataSource)
	if err != nil {
		return nil, err
	}
	r.compiler = querysql.NewCompiler(dialect)
	return r, nil
}

// Descriptor returns the entity type.
func (r *Repository) Descriptor() *model.Descriptor {
	return r.desc
}

// Table returns the backing table name.
func (r *Repository) Table() string {
	return r.desc.Table
}

// Connection returns the backing-store connection, opening it on first use.
func (r *Repository) Connection(ctx context.Context) (*store.Conn, error) {
	if r.conn != nil {
		return r.conn, nil
	}
	conn, err := r.provider.Connect(ctx, r.credentials, r.dataSource)
	if err != nil {
		return nil, err
	}
	r.conn = conn
	return conn, nil
}

// Create returns a new instance queued for insertion by FlushCreates.
func (r *Repository) Create() *model.Model {
	m := model.New(r.desc)
	r.pending = append(r.pending, m)
	return m
}

// PushNew queues an existing instance for insertion. The instance must be
// of this repository's entity type. Pushing an instance that is already
// queued, such as one returned by Create, does nothing.
func (r *Repository) PushNew(m *model.Model) error {
	if m == nil || m.Descriptor() != r.desc {
		name := "<nil>"
		if m != nil {
			name = m.Descriptor().Name
		}
		return r.errorf(ErrCodeWrongEntityType, "push_new", "repository of %s does not accept instances of %s", r.desc.Name, name)
	}
	if slices.Contains(r.pending, m) {
		return nil
	}
	r.pending = append(r.pending, m)
	return nil
}

// FindByPrimaryKey returns the instance with the given key. A local hit is
// returned as is, without touching the backing store. On a miss the row is
// loaded, cached and returned. A missing or soft-deleted row yields nil.
//
// columns limits the projection; by default every column is loaded.
func (r *Repository) FindByPrimaryKey(ctx context.Context, key []any, columns ...string) (*model.Model, error) {
	values, err := r.coerceKey("find_by_primary_key", key)
	if err != nil {
		return nil, err
	}
	recordKey := r.desc.JoinKey(values)
	if m, ok := r.local.get(recordKey); ok {
		r.logger.Debug("local hit", "entity", r.desc.Name, "key", recordKey)
		return m, nil
	}

	stmt, err := r.compiler.Select(r.desc, querysql.SelectQuery{
		Columns:        columns,
		Where:          keyConditions(r.desc, values),
		WithTimestamps: len(columns) == 0,
	})
	if err != nil {
		return nil, fmt.Errorf("find %s(%s): %w", r.desc.Name, recordKey, err)
	}
	conn, err := r.Connection(ctx)
	if err != nil {
		return nil, err
	}
	rows, err := conn.QueryContext(ctx, stmt.SQL, stmt.Args...)
	if err != nil {
		return nil, fmt.Errorf("find %s(%s): %w", r.desc.Name, recordKey, err)
	}
	defer rows.Close()

	if !rows.Next() {
		if err := rows.Err(); err != nil {
			return nil, fmt.Errorf("find %s(%s): %w", r.desc.Name, recordKey, err)
		}
		return nil, nil
	}
	m, err := r.hydrate(rows, stmt.Columns)
	if err != nil {
		return nil, fmt.Errorf("find %s(%s): %w", r.desc.Name, recordKey, err)
	}
	return r.local.add(recordKey, m), nil
}

// FindByCondition starts a read. See DataPromise.
func (r *Repository) FindByCondition() *DataPromise {
	return newDataPromise(r)
}

// DeleteByPrimaryKey deletes one record. A local hit is flagged for
// deletion and reported as one row; the backing store is updated by the
// next FlushDeletes. On a miss the row is soft-deleted immediately and the
// affected row count (0 or 1) is returned.
func (r *Repository) DeleteByPrimaryKey(ctx context.Context, key []any) (int64, error) {
	values, err := r.coerceKey("delete_by_primary_key", key)
	if err != nil {
		return 0, err
	}
	recordKey := r.desc.JoinKey(values)
	if m, ok := r.local.get(recordKey); ok {
		if err := m.Delete(); err != nil {
			return 0, err
		}
		r.logger.Debug("flagged for delete", "entity", r.desc.Name, "key", recordKey)
		return 1, nil
	}

	conn, err := r.Connection(ctx)
	if err != nil {
		return 0, err
	}
	res, err := conn.ExecContext(ctx, r.compiler.SoftDeleteByKey(r.desc), store.Args(values)...)
	if err != nil {
		return 0, fmt.Errorf("delete %s(%s): %w", r.desc.Name, recordKey, err)
	}
	return res.RowsAffected()
}

// DeleteByCondition starts a delete. See DeletePromise.
func (r *Repository) DeleteByCondition() *DeletePromise {
	return newDeletePromise(r)
}

// GetAll returns the local store: every loaded instance by record key,
// delete-flagged ones included. Nothing is read from the backing store.
func (r *Repository) GetAll() map[string]*model.Model {
	return maps.Clone(r.local.items)
}

// Keys returns the local store's record keys in load order.
func (r *Repository) Keys() []string {
	return r.local.keys()
}

// Pending returns the instances waiting for FlushCreates.
func (r *Repository) Pending() []*model.Model {
	return slices.Clone(r.pending)
}

// All iterates the local store in load order, skipping delete-flagged
// instances.
func (r *Repository) All() iter.Seq2[string, *model.Model] {
	return func(yield func(string, *model.Model) bool) {
		for _, key := range r.local.keys() {
			m, ok := r.local.get(key)
			if !ok || m.IsDeleteFlagged() {
				continue
			}
			if !yield(key, m) {
				return
			}
		}
	}
}

// Erase drops instances without flushing them. StoreAll clears both stores.
func (r *Repository) Erase(name string) error {
	switch name {
	case StoreAll:
		r.local.clear()
		r.pending = nil
	case StoreCreate:
		r.pending = nil
	case StoreLocal:
		r.local.clear()
	default:
		return r.errorf(ErrCodeUnknownStore, "erase", "unknown store %q", name)
	}
	return nil
}

func (r *Repository) coerceKey(op string, key []any) ([]ir.IRValue, error) {
	if len(key) != len(r.desc.PrimaryKey) {
		return nil, r.errorf(ErrCodeKeyArity, op, "primary key has %d columns, got %d values", len(r.desc.PrimaryKey), len(key))
	}
	return r.desc.CoerceKey(key)
}
