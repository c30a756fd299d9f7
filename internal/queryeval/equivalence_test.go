package queryeval

import (
	"database/sql"
	"fmt"
	"slices"
	"testing"

	_ "github.com/mattn/go-sqlite3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/recordset/internal/ir"
	"github.com/roach88/recordset/internal/model"
	"github.com/roach88/recordset/internal/queryir"
	"github.com/roach88/recordset/internal/querysql"
)

var people = model.MustDescriptor(model.Descriptor{
	Name:  "Person",
	Table: "people",
	Columns: []model.Column{
		{Name: "id", Type: model.TypeInt},
		{Name: "name", Type: model.TypeString},
		{Name: "age", Type: model.TypeInt},
		{Name: "score", Type: model.TypeFloat},
		{Name: "active", Type: model.TypeBool},
	},
	PrimaryKey: []string{"id"},
})

var peopleRows = [][]any{
	{1, "ann", 30, 2.5, true},
	{2, "bob", 17, 9.0, false},
	{3, "cid", nil, 4.25, true},
	{4, nil, 65, nil, false},
	{5, "Dee", 42, 0.0, nil},
	{6, "10", 5, -1.5, true},
	{7, "", 0, 100.0, false},
}

func seedPeople(t *testing.T) (*sql.DB, []*model.Model) {
	t.Helper()
	db, err := sql.Open("sqlite3", ":memory:")
	require.NoError(t, err)
	db.SetMaxOpenConns(1)
	t.Cleanup(func() { db.Close() })

	_, err = db.Exec(`CREATE TABLE people (
		id INTEGER PRIMARY KEY,
		name TEXT,
		age INTEGER,
		score REAL,
		active BOOLEAN
	)`)
	require.NoError(t, err)

	var models []*model.Model
	for _, row := range peopleRows {
		_, err := db.Exec("INSERT INTO people (id, name, age, score, active) VALUES (?, ?, ?, ?, ?)", row...)
		require.NoError(t, err)

		m := model.New(people)
		for i, col := range []string{"id", "name", "age", "score", "active"} {
			require.NoError(t, m.Hydrate(col, row[i]))
		}
		models = append(models, m)
	}
	return db, models
}

// equivalenceTrees covers every builder form, nesting, both junctions,
// NULL columns and cross-type literals.
func equivalenceTrees() map[string]*queryir.Conditions {
	trees := map[string]*queryir.Conditions{
		"eq":              queryir.New().Where("name", queryir.Eq, "ann"),
		"neq with nulls":  queryir.New().Where("name", queryir.Neq, "ann"),
		"lt":              queryir.New().Where("age", queryir.Lt, 30),
		"lte float":       queryir.New().Where("score", queryir.Lte, 4.25),
		"gt int on float": queryir.New().Where("score", queryir.Gt, 2),
		"gte":             queryir.New().Where("age", queryir.Gte, 42),
		"case sensitive":  queryir.New().Where("name", queryir.Gt, "a"),
		"empty string":    queryir.New().Where("name", queryir.Eq, ""),
		"bool":            queryir.New().Where("active", queryir.Eq, true),
		"numeric text":    queryir.New().Where("age", queryir.Gt, "20"),
		"text literal int": queryir.New().Where("name", queryir.Lt, 5),
		"and or precedence": queryir.New().
			Where("age", queryir.Gt, 20).
			Where("active", queryir.Eq, true).
			OrWhere("score", queryir.Gt, 50),
		"or first": queryir.New().
			Where("name", queryir.Eq, "bob").
			OrWhere("age", queryir.Gt, 40).
			Where("score", queryir.Lt, 1),
		"between":        queryir.New().Between("age", 17, 42),
		"or between":     queryir.New().Where("name", queryir.Eq, "ann").OrBetween("score", 0, 5),
		"not between":    queryir.New().NotBetween("age", 17, 42),
		"or not between": queryir.New().Where("id", queryir.Eq, 1).OrNotBetween("score", 0, 5),
		"in":             queryir.New().WhereIn("name", "ann", "bob", "zed"),
		"or in":          queryir.New().Where("age", queryir.Eq, 65).OrWhereIn("id", 2, 3),
		"not in":         queryir.New().WhereNotIn("name", "ann", "bob"),
		"or not in":      queryir.New().Where("active", queryir.Eq, false).OrWhereNotIn("age", 30, 17),
	}

	// Literals of another type follow the column's affinity.
	trees["int on text"] = queryir.New().Where("name", queryir.Eq, 10)
	trees["whole float on text"] = queryir.New().Where("name", queryir.Eq, 10.0)
	trees["word on bool"] = queryir.New().Where("active", queryir.Eq, "true")
	trees["numeric text on bool"] = queryir.New().Where("active", queryir.Eq, "1")
	trees["numeric text on float"] = queryir.New().Where("score", queryir.Eq, "9")

	deep := queryir.New().Where("active", queryir.Eq, true)
	inner := deep.OrCondition().Where("age", queryir.Gt, 40)
	inner.OrCondition().Where("name", queryir.Eq, "bob").Where("score", queryir.Gt, 5)
	trees["deep nesting"] = deep

	unshifted := queryir.New().OrWhere("age", queryir.Lt, 50).OrWhere("name", queryir.Eq, "Dee")
	unshifted.Unshift(queryir.New().Where("id", queryir.Neq, 1).Where("id", queryir.Neq, 5))
	trees["unshift exclusion"] = unshifted

	return trees
}

func TestTreeAndPredicateAgree(t *testing.T) {
	db, models := seedPeople(t)

	for name, tree := range equivalenceTrees() {
		t.Run(name, func(t *testing.T) {
			where, args, err := querysql.Resolve(tree)
			require.NoError(t, err)

			rows, err := db.Query(fmt.Sprintf("SELECT id FROM people WHERE %s ORDER BY id", where), args...)
			require.NoError(t, err)
			var fromSQL []int64
			for rows.Next() {
				var id int64
				require.NoError(t, rows.Scan(&id))
				fromSQL = append(fromSQL, id)
			}
			require.NoError(t, rows.Err())
			rows.Close()

			var inMemory []int64
			for _, m := range models {
				ok, err := Evaluate(tree, m)
				require.NoError(t, err)
				if ok {
					id, _ := m.Get("id")
					inMemory = append(inMemory, int64(id.(ir.IRInt)))
				}
			}
			slices.Sort(inMemory)

			assert.Equal(t, fromSQL, inMemory, "WHERE %s %v", where, args)
		})
	}
}
