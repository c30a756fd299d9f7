package repository

import (
	"context"
	"slices"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/roach88/recordset/internal/model"
	"github.com/roach88/recordset/internal/store"
	"github.com/roach88/recordset/internal/testutil"
)

const schema = `
CREATE TABLE users (
	id INTEGER PRIMARY KEY,
	email TEXT NOT NULL UNIQUE CHECK (email <> 'bad'),
	age INTEGER,
	role TEXT,
	created_on TEXT DEFAULT (NOW()),
	updated_on TEXT,
	deleted_on TEXT
);
CREATE TABLE memberships (
	org TEXT NOT NULL,
	user_id INTEGER NOT NULL,
	role TEXT,
	created_on TEXT DEFAULT (NOW()),
	updated_on TEXT,
	deleted_on TEXT,
	PRIMARY KEY (org, user_id)
);
`

var (
	userDesc = model.MustDescriptor(model.Descriptor{
		Name:  "User",
		Table: "users",
		Columns: []model.Column{
			{Name: "id", Type: model.TypeInt},
			{Name: "email", Type: model.TypeString},
			{Name: "age", Type: model.TypeInt},
			{Name: "role", Type: model.TypeString},
		},
		PrimaryKey: []string{"id"},
	})

	membershipDesc = model.MustDescriptor(model.Descriptor{
		Name:  "Membership",
		Table: "memberships",
		Columns: []model.Column{
			{Name: "org", Type: model.TypeString},
			{Name: "user_id", Type: model.TypeInt},
			{Name: "role", Type: model.TypeString},
		},
		PrimaryKey:   []string{"org", "user_id"},
		KeySeparator: "-",
	})
)

type fixture struct {
	manager *store.Manager
	conn    *store.Conn
}

// setup opens a fresh in-memory database with the test schema and
// optional seed statements.
func setup(t *testing.T, seed ...string) *fixture {
	t.Helper()
	cfg := &store.Config{
		DefaultDataSource: "main",
		RecordQueries:     true,
		DataSources: map[string]store.DataSource{
			"main": {Driver: "sqlite", DSN: ":memory:"},
		},
	}
	m := store.NewManager(cfg, store.WithClock(testutil.NewDeterministicClock()))
	t.Cleanup(func() { m.Close() })

	conn, err := m.Connect(context.Background(), "", "")
	require.NoError(t, err)
	for _, stmt := range append([]string{schema}, seed...) {
		_, err := conn.ExecContext(context.Background(), stmt)
		require.NoError(t, err)
	}
	conn.ResetQueries()
	return &fixture{manager: m, conn: conn}
}

func (f *fixture) repo(t *testing.T, desc *model.Descriptor, opts ...Option) *Repository {
	t.Helper()
	opts = append([]Option{WithIDGenerator(testutil.NewSequentialIDGenerator(""))}, opts...)
	r, err := New(desc, f.manager, opts...)
	require.NoError(t, err)
	return r
}

func (f *fixture) queries() []string {
	var out []string
	for _, q := range f.conn.Queries() {
		out = append(out, q.SQL)
	}
	return out
}

func (f *fixture) scalar(t *testing.T, query string, args ...any) any {
	t.Helper()
	var v any
	require.NoError(t, f.conn.DB().QueryRow(query, args...).Scan(&v))
	if b, ok := v.([]byte); ok {
		return string(b)
	}
	return v
}

func collect(t *testing.T, p *DataPromise) ([]string, []*model.Model) {
	t.Helper()
	seq, err := p.Resolve(context.Background())
	require.NoError(t, err)
	var keys []string
	var models []*model.Model
	for k, m := range seq {
		keys = append(keys, k)
		models = append(models, m)
	}
	require.NoError(t, p.Err())
	return keys, models
}

func sorted(keys []string) []string {
	out := slices.Clone(keys)
	slices.Sort(out)
	return out
}

func mustSet(t *testing.T, m *model.Model, column string, value any) {
	t.Helper()
	require.NoError(t, m.Set(column, value))
}

const seedUsers = `INSERT INTO users (id, email, age, role) VALUES
	(1, 'a@x.com', 30, 'admin'),
	(2, 'b@x.com', 17, 'member'),
	(3, 'c@x.com', 45, 'member'),
	(4, 'd@x.com', NULL, 'guest')`
