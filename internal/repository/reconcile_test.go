package repository

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/recordset/internal/ir"
	"github.com/roach88/recordset/internal/model"
	"github.com/roach88/recordset/internal/queryeval"
	"github.com/roach88/recordset/internal/queryir"
)

func load(t *testing.T, r *Repository, ids ...int) []*model.Model {
	t.Helper()
	var out []*model.Model
	for _, id := range ids {
		m, err := r.FindByPrimaryKey(context.Background(), []any{id})
		require.NoError(t, err)
		require.NotNil(t, m)
		out = append(out, m)
	}
	return out
}

func TestFindByCondition_DeleteFlaggedExcluded(t *testing.T) {
	f := setup(t, seedUsers)
	users := f.repo(t, userDesc)
	loaded := load(t, users, 1, 2)
	_, err := users.DeleteByPrimaryKey(context.Background(), []any{1})
	require.NoError(t, err)
	f.conn.ResetQueries()

	keys, models := collect(t, users.FindByCondition().Where(queryir.New().Where("age", queryir.Gte, 0)))

	assert.Equal(t, []string{"2", "3"}, keys)
	assert.Same(t, loaded[1], models[0], "local match is yielded as the cached instance")

	queries := f.conn.Queries()
	require.Len(t, queries, 1)
	assert.Equal(t, "SELECT id, email, age, role FROM users WHERE ( id <> ? AND id <> ? ) AND age >= ? AND deleted_on IS NULL", queries[0].SQL)
	assert.Equal(t, []any{int64(1), int64(2), int64(0)}, queries[0].Args)

	assert.Contains(t, users.GetAll(), "1", "delete-flagged instance stays local")
}

func TestFindByCondition_DirtyLocalStateWins(t *testing.T) {
	f := setup(t, seedUsers)
	users := f.repo(t, userDesc)
	m1 := load(t, users, 1)[0]
	mustSet(t, m1, "age", 15)

	keys, models := collect(t, users.FindByCondition().Where(queryir.New().Where("age", queryir.Lt, 18)))
	assert.Equal(t, []string{"1", "2"}, keys)
	assert.Same(t, m1, models[0])

	keys, _ = collect(t, users.FindByCondition().Where(queryir.New().Where("age", queryir.Gte, 18)))
	assert.Equal(t, []string{"3"}, keys, "the stored age of 1 is stale and must not match")
}

func TestFindByCondition_MergesIntoLocalStore(t *testing.T) {
	f := setup(t, seedUsers)
	users := f.repo(t, userDesc)
	members := func() *queryir.Conditions {
		return queryir.New().Where("role", queryir.Eq, "member")
	}

	keys, first := collect(t, users.FindByCondition().Where(members()))
	assert.Equal(t, []string{"2", "3"}, sorted(keys))
	assert.Equal(t, []string{"2", "3"}, sorted(users.Keys()))
	for _, m := range first {
		assert.True(t, m.IsPersisted())
	}

	f.conn.ResetQueries()
	keys, second := collect(t, users.FindByCondition().Where(members()))
	assert.Equal(t, []string{"2", "3"}, keys)
	assert.ElementsMatch(t, first, second, "same instances, no duplicates")
	assert.Equal(t,
		[]string{"SELECT id, email, age, role FROM users WHERE ( id <> ? AND id <> ? ) AND role = ? AND deleted_on IS NULL"},
		f.queries())
}

func TestFindByCondition_NoDuplicateKeys(t *testing.T) {
	f := setup(t, seedUsers)
	users := f.repo(t, userDesc)
	load(t, users, 1, 2, 3, 4)
	mustSet(t, users.GetAll()["4"], "age", 50)

	keys, _ := collect(t, users.FindByCondition().Where(queryir.New().Where("id", queryir.Gt, 0)))
	assert.ElementsMatch(t, []string{"1", "2", "3", "4"}, keys)
}

func TestFindByCondition_RootOrIsGrouped(t *testing.T) {
	f := setup(t, seedUsers)
	users := f.repo(t, userDesc)
	load(t, users, 1)
	f.conn.ResetQueries()

	where := queryir.New().Where("role", queryir.Eq, "admin").OrWhere("age", queryir.Gt, 40)
	keys, _ := collect(t, users.FindByCondition().Where(where))

	assert.Equal(t, []string{"1", "3"}, keys)
	assert.Equal(t,
		[]string{"SELECT id, email, age, role FROM users WHERE ( id <> ? ) AND ( role = ? OR age > ? ) AND deleted_on IS NULL"},
		f.queries())
	assert.Len(t, where.Terms(), 2, "caller tree is not modified")
}

func TestFindByCondition_OrderedMerge(t *testing.T) {
	tests := []struct {
		name  string
		limit int
		want  []string
	}{
		{name: "unlimited", want: []string{"3", "2", "1"}},
		{name: "limited", limit: 2, want: []string{"3", "2"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := setup(t, seedUsers)
			users := f.repo(t, userDesc)
			mustSet(t, load(t, users, 3)[0], "age", 10)

			p := users.FindByCondition().
				Where(queryir.New().Where("age", queryir.Lt, 40)).
				OrderBy("age", Asc).
				Limit(tt.limit)
			keys, _ := collect(t, p)
			assert.Equal(t, tt.want, keys)
		})
	}
}

func TestFindByCondition_OrderedMergeWithProjection(t *testing.T) {
	f := setup(t, seedUsers)
	users := f.repo(t, userDesc)
	mustSet(t, load(t, users, 2)[0], "age", 40)
	f.conn.ResetQueries()

	keys, _ := collect(t, users.FindByCondition().
		Where(queryir.New().Where("age", queryir.Gt, 20)).
		Select("email").
		OrderBy("age", Asc))

	assert.Equal(t, []string{"1", "2", "3"}, keys)
	assert.Equal(t,
		[]string{"SELECT id, email, age FROM users WHERE ( id <> ? ) AND age > ? AND deleted_on IS NULL ORDER BY age ASC"},
		f.queries())
}

func TestFindByCondition_OrderedDescWithNulls(t *testing.T) {
	f := setup(t, seedUsers)
	users := f.repo(t, userDesc)
	mustSet(t, load(t, users, 1)[0], "role", "member")

	p := users.FindByCondition().
		Where(queryir.New().WhereIn("role", "member", "guest")).
		OrderBy("age", Desc)
	keys, _ := collect(t, p)
	assert.Equal(t, []string{"3", "1", "2", "4"}, keys, "NULL sorts last descending")
}

func TestFindByCondition_RawExpressions(t *testing.T) {
	where := func() *queryir.Conditions {
		return queryir.New().FunctionCompare("LENGTH(email)", queryir.Gt, 7)
	}
	length := func(acc queryeval.Accessor) (ir.IRValue, error) {
		v, _ := acc.Lookup("email")
		return ir.IRInt(len(v.Text())), nil
	}

	t.Run("undecidable dirty instance is left out", func(t *testing.T) {
		f := setup(t, seedUsers)
		users := f.repo(t, userDesc)
		mustSet(t, load(t, users, 1)[0], "email", "longer@x.com")

		keys, _ := collect(t, users.FindByCondition().Where(where()))
		assert.Empty(t, keys)
	})

	t.Run("registered raw function decides locally", func(t *testing.T) {
		f := setup(t, seedUsers)
		users := f.repo(t, userDesc, WithRawFunc("LENGTH(email)", length))
		mustSet(t, load(t, users, 1)[0], "email", "longer@x.com")

		keys, _ := collect(t, users.FindByCondition().Where(where()))
		assert.Equal(t, []string{"1"}, keys)
	})

	t.Run("undecidable clean instance defers to the backing store", func(t *testing.T) {
		f := setup(t, seedUsers, "UPDATE users SET email = 'longest@x.com' WHERE id = 2")
		users := f.repo(t, userDesc)
		m2 := load(t, users, 2)[0]

		keys, models := collect(t, users.FindByCondition().Where(where()))
		assert.Equal(t, []string{"2"}, keys)
		assert.Same(t, m2, models[0], "the row maps back onto the cached instance")
	})
}

func TestFindByCondition_Grouped(t *testing.T) {
	f := setup(t, seedUsers)
	users := f.repo(t, userDesc)

	p := users.FindByCondition().
		Select("role").
		Where(queryir.New().Where("id", queryir.Gt, 0)).
		GroupBy("role").
		Having(queryir.New().FunctionCompare("COUNT(*)", queryir.Gte, 1)).
		OrderBy("role", Asc)

	sql, err := p.SQL()
	require.NoError(t, err)
	assert.Equal(t, "SELECT role FROM users WHERE id > ? AND deleted_on IS NULL GROUP BY role HAVING COUNT(*) >= ? ORDER BY role ASC", sql)

	keys, models := collect(t, p)
	assert.Equal(t, []string{"0", "1", "2"}, keys)
	roles := make([]ir.IRValue, len(models))
	for i, m := range models {
		roles[i], _ = m.Get("role")
		assert.True(t, m.IsReadOnly())
	}
	assert.Equal(t, []ir.IRValue{ir.IRString("admin"), ir.IRString("guest"), ir.IRString("member")}, roles)
	assert.ErrorIs(t, models[0].Set("role", "x"), model.ErrReadOnly)
	assert.Empty(t, users.Keys(), "grouped rows never enter the local store")
}

func TestFindByCondition_WithDeleted(t *testing.T) {
	f := setup(t, seedUsers)
	ctx := context.Background()
	users := f.repo(t, userDesc)
	_, err := users.DeleteByPrimaryKey(ctx, []any{1})
	require.NoError(t, err)

	keys, models := collect(t, users.FindByCondition().
		Where(queryir.New().Where("id", queryir.Gt, 0)).
		WithDeleted().
		WithTimestamps())

	assert.Equal(t, []string{"1"}, keys)
	assert.True(t, models[0].IsReadOnly())
	deleted, _ := models[0].Get("deleted_on")
	assert.False(t, ir.IsNull(deleted))
	assert.Empty(t, users.Keys())
}

func TestDataPromise_Memoized(t *testing.T) {
	f := setup(t, seedUsers)
	users := f.repo(t, userDesc)
	p := users.FindByCondition().Where(queryir.New().Where("role", queryir.Eq, "member"))

	sql1, err := p.SQL()
	require.NoError(t, err)
	sql2, err := p.SQL()
	require.NoError(t, err)
	assert.Equal(t, sql1, sql2)
	values, err := p.SQLValues()
	require.NoError(t, err)
	assert.Equal(t, []any{"member"}, values)

	assert.False(t, p.IsResolved())
	keys, models := collect(t, p)
	assert.True(t, p.IsResolved())

	f.conn.ResetQueries()
	again, againModels := collect(t, p.Limit(1))
	assert.Equal(t, keys, again)
	assert.Equal(t, models, againModels)
	assert.Empty(t, f.queries(), "replay does not touch the backing store")

	sql3, err := p.SQL()
	require.NoError(t, err)
	assert.Equal(t, sql1, sql3, "resolved promises ignore builder calls")
}

func TestDataPromise_EarlyBreak(t *testing.T) {
	f := setup(t, seedUsers)
	users := f.repo(t, userDesc)
	p := users.FindByCondition().Where(queryir.New().Where("id", queryir.Gt, 0))

	seq, err := p.Resolve(context.Background())
	require.NoError(t, err)
	for range seq {
		break
	}
	assert.False(t, p.IsResolved())
	require.NoError(t, p.Err())

	keys, _ := collect(t, p)
	assert.Len(t, keys, 4)
	assert.True(t, p.IsResolved())
}

func TestDataPromise_Errors(t *testing.T) {
	f := setup(t)
	users := f.repo(t, userDesc)
	where := queryir.New().Where("id", queryir.Eq, 1)

	_, err := users.FindByCondition().Where(where).GroupBy("nope").SQL()
	assert.ErrorContains(t, err, `unknown column "nope" in group by`)

	_, err = users.FindByCondition().Where(where).OrderBy("id", Direction("sideways")).SQL()
	assert.ErrorContains(t, err, "unknown direction")

	_, err = users.FindByCondition().Where(queryir.New().Where("nope", queryir.Eq, 1)).Resolve(context.Background())
	assert.ErrorContains(t, err, `unknown column "nope" in where`)
	assert.Empty(t, f.queries())
}

func TestParseDirection(t *testing.T) {
	d, err := ParseDirection("desc")
	require.NoError(t, err)
	assert.Equal(t, Desc, d)
	d, err = ParseDirection("ASC")
	require.NoError(t, err)
	assert.Equal(t, Asc, d)
	_, err = ParseDirection("up")
	assert.Error(t, err)
}

func TestDeleteByCondition(t *testing.T) {
	f := setup(t, seedUsers)
	ctx := context.Background()
	users := f.repo(t, userDesc)
	loaded := load(t, users, 1, 2, 3)
	f.conn.ResetQueries()

	p := users.DeleteByCondition().Where(queryir.New().Where("role", queryir.Eq, "member"))
	n, err := p.Resolve(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)
	assert.True(t, p.IsResolved())
	assert.Equal(t, []string{"UPDATE users SET deleted_on = NOW() WHERE role = ? AND deleted_on IS NULL"}, f.queries())

	assert.False(t, loaded[0].IsDeleteFlagged())
	assert.True(t, loaded[1].IsDeleteFlagged())
	assert.True(t, loaded[2].IsDeleteFlagged())

	again, err := p.Resolve(ctx)
	require.NoError(t, err)
	assert.Equal(t, n, again)
	assert.Len(t, f.queries(), 1, "memoized")

	res, err := users.FlushDeletes(ctx, StopOnFirstFail)
	require.NoError(t, err)
	assert.Equal(t, Committed, res.Outcome)
	assert.Equal(t, int64(0), res.Rows, "rows were already soft-deleted")
	assert.Equal(t, []string{"1"}, users.Keys())
}

func TestDeleteByCondition_OrderedLimit(t *testing.T) {
	f := setup(t, seedUsers)
	users := f.repo(t, userDesc)

	p := users.DeleteByCondition().
		Where(queryir.New().Where("age", queryir.Lt, 50)).
		OrderBy("age", Desc).
		Limit(1)
	sql, err := p.SQL()
	require.NoError(t, err)
	assert.Equal(t, "UPDATE users SET deleted_on = NOW() WHERE id IN (SELECT id FROM users WHERE age < ? AND deleted_on IS NULL ORDER BY age DESC LIMIT 1)", sql)

	n, err := p.Resolve(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)
	assert.NotNil(t, f.scalar(t, "SELECT deleted_on FROM users WHERE id = 3"))
	assert.Nil(t, f.scalar(t, "SELECT deleted_on FROM users WHERE id = 1"))
}

func TestDeleteByCondition_LimitFlagsOnlyPickedRows(t *testing.T) {
	f := setup(t, seedUsers)
	ctx := context.Background()
	users := f.repo(t, userDesc)
	loaded := load(t, users, 2, 3)
	f.conn.ResetQueries()

	n, err := users.DeleteByCondition().
		Where(queryir.New().Where("role", queryir.Eq, "member")).
		OrderBy("id", Asc).
		Limit(1).
		Resolve(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)
	assert.Equal(t, []string{
		"BEGIN",
		"SELECT id FROM users WHERE role = ? AND deleted_on IS NULL ORDER BY id ASC LIMIT 1",
		"UPDATE users SET deleted_on = NOW() WHERE id IN (SELECT id FROM users WHERE role = ? AND deleted_on IS NULL ORDER BY id ASC LIMIT 1)",
		"COMMIT",
	}, f.queries())

	assert.True(t, loaded[0].IsDeleteFlagged())
	assert.False(t, loaded[1].IsDeleteFlagged(), "row outside the limit stays live")

	_, err = users.FlushDeletes(ctx, StopOnFirstFail)
	require.NoError(t, err)
	assert.Equal(t, int64(1), f.scalar(t, "SELECT COUNT(*) FROM users WHERE role = 'member' AND deleted_on IS NULL"))
}

func TestCompositeKey(t *testing.T) {
	f := setup(t, `INSERT INTO memberships (org, user_id, role) VALUES
		('acme', 1, 'owner'), ('acme', 2, 'member'), ('globex', 1, 'member')`)
	ctx := context.Background()
	members := f.repo(t, membershipDesc)

	owner, err := members.FindByPrimaryKey(ctx, []any{"acme", 1})
	require.NoError(t, err)
	require.NotNil(t, owner)
	assert.Equal(t, "acme-1", owner.Key())
	f.conn.ResetQueries()

	keys, models := collect(t, members.FindByCondition().Where(queryir.New().Where("user_id", queryir.Gte, 1)))
	assert.ElementsMatch(t, []string{"acme-1", "acme-2", "globex-1"}, keys)
	assert.Contains(t, models, owner)
	assert.Equal(t,
		[]string{"SELECT CONCAT_WS('-', org, user_id) AS record_key, org, user_id, role FROM memberships WHERE ( ( org <> ? OR user_id <> ? ) ) AND user_id >= ? AND deleted_on IS NULL"},
		f.queries())

	mustSet(t, owner, "role", "admin")
	f.conn.ResetQueries()
	res, err := members.FlushUpdates(ctx, StopOnFirstFail)
	require.NoError(t, err)
	assert.Equal(t, int64(1), res.Rows)
	assert.Contains(t, f.queries(), "UPDATE memberships SET updated_on = NOW(), role = ? WHERE org = ? AND user_id = ?")
	assert.Equal(t, "admin", f.scalar(t, "SELECT role FROM memberships WHERE org = 'acme' AND user_id = 1"))
}
