package harness

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/recordset/internal/querysql"
	"github.com/roach88/recordset/internal/repository"
)

func TestLoadScenario(t *testing.T) {
	s, err := LoadScenario("testdata/scenarios/user_lifecycle.yaml")
	require.NoError(t, err)

	assert.Equal(t, "user_lifecycle", s.Name)
	assert.True(t, s.AutoTables)
	assert.Equal(t, []string{filepath.Join("testdata", "schema", "users.cue")}, s.SchemaFiles)
	require.NotEmpty(t, s.Steps)
	assert.Equal(t, OpCreate, s.Steps[0].Op)
	assert.Equal(t, "u", s.Steps[0].As)
	assert.Equal(t, "a@x.com", s.Steps[0].Values["email"])
}

func TestLoadScenario_Errors(t *testing.T) {
	_, err := LoadScenario("testdata/scenarios/missing.yaml")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to read scenario file")

	dir := t.TempDir()
	path := filepath.Join(dir, "s.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
name: s
description: d
schema_files: [nope.cue]
steps:
  - {op: erase, entity: User}
`), 0o644))
	_, err = LoadScenario(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "schema file not found")
}

func TestParseScenario_Invalid(t *testing.T) {
	tests := []struct {
		name   string
		yaml   string
		errMsg string
	}{
		{
			name:   "unknown field",
			yaml:   "name: s\ndescription: d\nschema: x\nflow_token: t\nsteps: [{op: erase, entity: User}]",
			errMsg: "field flow_token not found",
		},
		{
			name:   "missing name",
			yaml:   "description: d\nschema: x\nsteps: [{op: erase, entity: User}]",
			errMsg: "name is required",
		},
		{
			name:   "missing schema",
			yaml:   "name: s\ndescription: d\nsteps: [{op: erase, entity: User}]",
			errMsg: "schema or schema_files is required",
		},
		{
			name:   "no steps",
			yaml:   "name: s\ndescription: d\nschema: x",
			errMsg: "steps list is required",
		},
		{
			name:   "unknown op",
			yaml:   "name: s\ndescription: d\nschema: x\nsteps: [{op: upsert, entity: User}]",
			errMsg: `unknown op "upsert"`,
		},
		{
			name:   "undefined ref",
			yaml:   "name: s\ndescription: d\nschema: x\nsteps: [{op: set, ref: u, values: {a: 1}}]",
			errMsg: `ref "u" is not defined`,
		},
		{
			name:   "find_pk without key",
			yaml:   "name: s\ndescription: d\nschema: x\nsteps: [{op: find_pk, entity: User}]",
			errMsg: "key is required for find_pk",
		},
		{
			name:   "bad policy",
			yaml:   "name: s\ndescription: d\nschema: x\nsteps: [{op: flush_updates, entity: User, policy: yolo}]",
			errMsg: `unknown policy "yolo"`,
		},
		{
			name:   "as on flush",
			yaml:   "name: s\ndescription: d\nschema: x\nsteps: [{op: flush_creates, entity: User, as: f}]",
			errMsg: "as is only valid for create and find_pk",
		},
		{
			name:   "final_state without table",
			yaml:   "name: s\ndescription: d\nschema: x\nsteps: [{op: erase, entity: User}]\nassertions: [{type: final_state, expect: {a: 1}}]",
			errMsg: "table is required for final_state",
		},
		{
			name:   "unknown assertion",
			yaml:   "name: s\ndescription: d\nschema: x\nsteps: [{op: erase, entity: User}]\nassertions: [{type: trace_order}]",
			errMsg: `unknown assertion type "trace_order"`,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseScenario([]byte(tt.yaml))
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.errMsg)
		})
	}
}

func TestBuildConditions(t *testing.T) {
	conds := []Condition{
		{Column: "age", Op: ">=", Value: 18},
		{Column: "role", In: []any{"admin", "owner"}},
		{Or: true, Group: []Condition{
			{Column: "vip", Op: "=", Value: true},
			{Raw: "LENGTH(email)", Op: "!=", Value: 0},
		}},
		{Column: "id", NotIn: []any{1, 2}},
		{Raw: "email IS NOT NULL"},
	}

	c, err := BuildConditions(conds)
	require.NoError(t, err)

	sql, args, err := querysql.Resolve(c)
	require.NoError(t, err)
	assert.Equal(t,
		"age >= ? AND ( role = ? OR role = ? ) OR ( vip = ? AND LENGTH(email) <> ? ) AND ( id <> ? AND id <> ? ) AND email IS NOT NULL",
		sql)
	assert.Equal(t, []any{int64(18), "admin", "owner", true, int64(0), int64(1), int64(2)}, args)
}

func TestBuildConditions_Errors(t *testing.T) {
	tests := []struct {
		name   string
		conds  []Condition
		errMsg string
	}{
		{"nothing set", []Condition{{Op: "="}}, "exactly one of column, raw or group"},
		{"two set", []Condition{{Column: "a", Raw: "b"}}, "exactly one of column, raw or group"},
		{"bad op", []Condition{{Column: "a", Op: "~", Value: 1}}, `unknown operator "~"`},
		{"nested", []Condition{{Group: []Condition{{Column: "a", Op: "like"}}}}, "where[0]: group[0]"},
		{"empty in", []Condition{{Column: "a", In: []any{}}}, "empty value list"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := BuildConditions(tt.conds)
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.errMsg)
		})
	}
}

func TestParsePolicy(t *testing.T) {
	p, err := parsePolicy("")
	require.NoError(t, err)
	assert.Equal(t, repository.StopOnFirstFail, p)

	p, err = parsePolicy("best_effort")
	require.NoError(t, err)
	assert.Equal(t, repository.BestEffort, p)
}

func TestFindScenarios(t *testing.T) {
	files, err := FindScenarios("testdata/scenarios")
	require.NoError(t, err)
	assert.Equal(t, []string{
		filepath.Join("testdata", "scenarios", "best_effort.yaml"),
		filepath.Join("testdata", "scenarios", "dirty_state_wins.yaml"),
		filepath.Join("testdata", "scenarios", "stop_on_first_fail.yaml"),
		filepath.Join("testdata", "scenarios", "user_lifecycle.yaml"),
	}, files)

	files, err = FindScenarios("testdata/scenarios/best_effort.yaml")
	require.NoError(t, err)
	assert.Len(t, files, 1)

	_, err = FindScenarios("testdata/nowhere")
	var notFound *ScenarioNotFoundError
	require.ErrorAs(t, err, &notFound)
	assert.Equal(t, "testdata/nowhere", notFound.Path)
}
