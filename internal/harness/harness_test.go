package harness

import (
	"bytes"
	"context"
	"log/slog"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const userSchema = `
entity: User: {
	table:       "users"
	primary_key: ["id"]
	columns: {
		id:    int
		email: string
	}
}
`

func boolPtr(b bool) *bool    { return &b }
func rowsPtr(n int64) *int64 { return &n }

func TestRun_Scenarios(t *testing.T) {
	files, err := FindScenarios("testdata/scenarios")
	require.NoError(t, err)
	require.NotEmpty(t, files)

	for _, file := range files {
		t.Run(filepath.Base(file), func(t *testing.T) {
			scenario, err := LoadScenario(file)
			require.NoError(t, err)

			result, err := Run(context.Background(), scenario)
			require.NoError(t, err)
			assert.True(t, result.Pass, "errors: %v", result.Errors)
		})
	}
}

func TestRun_CreateAndFind(t *testing.T) {
	scenario := &Scenario{
		Name:        "create_and_find",
		Description: "a pushed instance is inserted and found again",
		Schema:      userSchema,
		AutoTables:  true,
		Steps: []Step{
			{Op: OpCreate, Entity: "User", As: "u", Values: map[string]any{"id": 7, "email": "g@x.com"}},
			{Op: OpPush, Entity: "User", Ref: "u"},
			{Op: OpFlushCreates, Entity: "User", Expect: &Expect{Outcome: "committed", Rows: rowsPtr(1)}},
			{Op: OpFindPK, Entity: "User", Key: []any{7}, Expect: &Expect{
				Found:  boolPtr(true),
				Values: map[string]any{"email": "g@x.com"},
			}},
		},
	}

	result, err := Run(context.Background(), scenario)
	require.NoError(t, err)
	assert.True(t, result.Pass, "errors: %v", result.Errors)

	require.Len(t, result.Trace, 4)
	assert.Equal(t, "committed", result.Trace[2].Outcome)
	assert.Equal(t, []string{"7"}, result.Trace[3].Keys)

	var sqls []string
	for _, q := range result.Queries {
		sqls = append(sqls, q.SQL)
	}
	assert.Equal(t, []string{
		"BEGIN",
		"INSERT INTO users (id, email) VALUES (?, ?)",
		"COMMIT",
		"SELECT id, email, created_on, updated_on, deleted_on FROM users WHERE id = ? AND deleted_on IS NULL",
	}, sqls)
}

func TestRun_ExpectationMismatch(t *testing.T) {
	scenario := &Scenario{
		Name:        "mismatch",
		Description: "failed expectations are reported, not returned",
		Schema:      userSchema,
		AutoTables:  true,
		Setup:       []string{"INSERT INTO users (id, email) VALUES (1, 'a@x.com')"},
		Steps: []Step{
			{Op: OpFindPK, Entity: "User", Key: []any{1}, Expect: &Expect{Found: boolPtr(false)}},
			{Op: OpFindPK, Entity: "User", Key: []any{1}, Expect: &Expect{Values: map[string]any{"email": "z@x.com"}}},
			{Op: OpDeletePK, Entity: "User", Key: []any{9}, Expect: &Expect{Rows: rowsPtr(1)}},
		},
	}

	result, err := Run(context.Background(), scenario)
	require.NoError(t, err)
	assert.False(t, result.Pass)
	assert.Equal(t, []string{
		"steps[0] (find_pk): expected found=false",
		"steps[1] (find_pk): expected email = z@x.com, got a@x.com",
		"steps[2] (delete_pk): expected rows 1, got 0",
	}, result.Errors)
}

func TestRun_ExpectedError(t *testing.T) {
	tests := []struct {
		name   string
		step   Step
		pass   bool
		errMsg string
	}{
		{
			name: "expected error matches",
			step: Step{Op: OpFindPK, Entity: "User", Key: []any{1, 2}, Expect: &Expect{Error: "key"}},
			pass: true,
		},
		{
			name:   "unexpected error",
			step:   Step{Op: OpFindPK, Entity: "User", Key: []any{1, 2}},
			errMsg: "steps[0] (find_pk): unexpected error",
		},
		{
			name:   "expected error missing",
			step:   Step{Op: OpFindPK, Entity: "User", Key: []any{1}, Expect: &Expect{Error: "boom"}},
			errMsg: `steps[0] (find_pk): expected error containing "boom", got none`,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			scenario := &Scenario{
				Name:        "errors",
				Description: "error expectations",
				Schema:      userSchema,
				AutoTables:  true,
				Steps:       []Step{tt.step},
			}
			result, err := Run(context.Background(), scenario)
			require.NoError(t, err)
			assert.Equal(t, tt.pass, result.Pass)
			if tt.errMsg != "" {
				require.Len(t, result.Errors, 1)
				assert.Contains(t, result.Errors[0], tt.errMsg)
			}
		})
	}
}

func TestRun_Find(t *testing.T) {
	scenario := &Scenario{
		Name:        "find",
		Description: "condition reads with order and limit",
		Schema:      userSchema,
		AutoTables:  true,
		Setup: []string{
			"INSERT INTO users (id, email) VALUES (1, 'c@x.com'), (2, 'a@x.com'), (3, 'b@x.com')",
		},
		Steps: []Step{
			{
				Op:      OpFind,
				Entity:  "User",
				Where:   []Condition{{Column: "id", Op: ">=", Value: 1}},
				OrderBy: []Order{{Column: "email"}},
				Limit:   2,
				Expect:  &Expect{Keys: []string{"2", "3"}},
			},
			{
				Op:     OpFind,
				Entity: "User",
				Where:  []Condition{{Column: "email", Op: "=", Value: "nobody@x.com"}},
				Expect: &Expect{Keys: []string{}},
			},
		},
		Assertions: []Assertion{
			{Type: AssertLocalKeys, Entity: "User", Keys: []string{"2", "3"}},
			{Type: AssertQueryContains, SQL: "SELECT id, email FROM users WHERE id >= ? AND deleted_on IS NULL ORDER BY email ASC LIMIT 2"},
		},
	}

	result, err := Run(context.Background(), scenario)
	require.NoError(t, err)
	assert.True(t, result.Pass, "errors: %v", result.Errors)
}

func TestRun_SetupError(t *testing.T) {
	scenario := &Scenario{
		Name:        "bad_setup",
		Description: "setup SQL errors abort the run",
		Schema:      userSchema,
		Setup:       []string{"INSERT INTO nowhere VALUES (1)"},
		Steps:       []Step{{Op: OpErase, Entity: "User"}},
	}

	_, err := Run(context.Background(), scenario)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "setup[0]")
}

func TestRun_InvalidSchema(t *testing.T) {
	tests := []struct {
		name   string
		schema string
		errMsg string
	}{
		{
			name:   "no entities",
			schema: `other: 1`,
			errMsg: "no entities defined",
		},
		{
			name: "float key",
			schema: `entity: Reading: {
	table:       "readings"
	primary_key: ["value"]
	columns: value: float
}`,
			errMsg: "E105",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			scenario := &Scenario{
				Name:        "invalid",
				Description: "schema errors abort the run",
				Schema:      tt.schema,
				Steps:       []Step{{Op: OpErase, Entity: "Reading"}},
			}
			_, err := Run(context.Background(), scenario)
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.errMsg)
		})
	}
}

func TestRun_UnknownEntity(t *testing.T) {
	scenario := &Scenario{
		Name:        "unknown",
		Description: "steps must name a declared entity",
		Schema:      userSchema,
		AutoTables:  true,
		Steps:       []Step{{Op: OpErase, Entity: "Order"}},
	}

	_, err := Run(context.Background(), scenario)
	require.Error(t, err)
	assert.Contains(t, err.Error(), `unknown entity "Order"`)
}

func TestRun_WithLogger(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewJSONHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug}))

	scenario := &Scenario{
		Name:        "logged",
		Description: "logs reach the configured handler",
		Schema:      userSchema,
		AutoTables:  true,
		Steps:       []Step{{Op: OpErase, Entity: "User"}},
	}

	result, err := Run(context.Background(), scenario, WithLogger(logger))
	require.NoError(t, err)
	assert.True(t, result.Pass)
	assert.Contains(t, buf.String(), `"msg":"scenario finished"`)
	assert.Contains(t, buf.String(), `"scenario":"logged"`)
}

func TestCreateTableSQL(t *testing.T) {
	descs, err := loadSchema(&Scenario{Name: "ddl", Schema: userSchema})
	require.NoError(t, err)
	require.Len(t, descs, 1)
	assert.Equal(t,
		"CREATE TABLE users (id INTEGER, email TEXT, created_on TEXT DEFAULT (NOW()), updated_on TEXT, deleted_on TEXT, PRIMARY KEY (id))",
		createTableSQL(descs[0]))
}

func TestRunWithGolden_RenameUser(t *testing.T) {
	scenario := &Scenario{
		Name:        "rename_user",
		Description: "one update flush",
		Schema:      userSchema,
		AutoTables:  true,
		Setup:       []string{"INSERT INTO users (id, email) VALUES (1, 'a@x.com')"},
		Steps: []Step{
			{Op: OpFindPK, Entity: "User", Key: []any{1}, As: "u"},
			{Op: OpSet, Ref: "u", Values: map[string]any{"email": "b@x.com"}},
			{Op: OpFlushUpdates, Entity: "User"},
		},
	}

	// Regenerate with:
	//   go test ./internal/harness -run TestRunWithGolden_RenameUser -update
	result, err := RunWithGolden(t, scenario)
	require.NoError(t, err)
	assert.True(t, result.Pass, "errors: %v", result.Errors)
}

func TestSnapshot_Deterministic(t *testing.T) {
	scenario := &Scenario{
		Name:        "twice",
		Description: "two runs produce the same snapshot",
		Schema:      userSchema,
		AutoTables:  true,
		Steps: []Step{
			{Op: OpCreate, Entity: "User", As: "u", Values: map[string]any{"id": 1, "email": "a@x.com"}},
			{Op: OpPush, Entity: "User", Ref: "u"},
			{Op: OpFlushCreates, Entity: "User"},
		},
	}

	marshal := func() []byte {
		result, err := Run(context.Background(), scenario)
		require.NoError(t, err)
		data, err := (&Snapshot{ScenarioName: scenario.Name, Result: result}).Marshal()
		require.NoError(t, err)
		return data
	}
	assert.Equal(t, string(marshal()), string(marshal()))
}
