package harness

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"

	"github.com/roach88/recordset/internal/queryir"
	"github.com/roach88/recordset/internal/repository"
)

// Scenario defines a conformance test scenario.
// A scenario compiles a schema, prepares a fresh database, drives
// repositories through a list of steps and checks the outcome of each step
// and the final database state.
type Scenario struct {
	// Name uniquely identifies this scenario. It names the golden file.
	Name string `yaml:"name"`

	// Description explains what this scenario validates.
	Description string `yaml:"description"`

	// Schema is inline CUE declaring the entities under "entity".
	Schema string `yaml:"schema,omitempty"`

	// SchemaFiles lists CUE files, relative to the scenario file.
	SchemaFiles []string `yaml:"schema_files,omitempty"`

	// AutoTables creates one table per entity before Setup runs.
	AutoTables bool `yaml:"auto_tables,omitempty"`

	// Setup contains SQL statements run before the steps, typically DDL
	// with constraints and seed rows. They are not recorded in the query log.
	Setup []string `yaml:"setup,omitempty"`

	// Steps are repository operations with optional expectations.
	Steps []Step `yaml:"steps"`

	// Assertions validate the query log, the local stores and the final
	// database state.
	Assertions []Assertion `yaml:"assertions,omitempty"`

	dir string
}

// Step operations.
const (
	OpCreate       = "create"
	OpSet          = "set"
	OpPush         = "push"
	OpMarkDeleted  = "mark_deleted"
	OpFindPK       = "find_pk"
	OpFind         = "find"
	OpDeletePK     = "delete_pk"
	OpDelete       = "delete"
	OpFlushCreates = "flush_creates"
	OpFlushUpdates = "flush_updates"
	OpFlushDeletes = "flush_deletes"
	OpErase        = "erase"
)

// Step is one repository operation.
//
// Instances produced by create and find_pk can be named with As and
// referred to by later steps with Ref.
type Step struct {
	Op     string         `yaml:"op"`
	Entity string         `yaml:"entity,omitempty"`
	As     string         `yaml:"as,omitempty"`
	Ref    string         `yaml:"ref,omitempty"`
	Key    []any          `yaml:"key,omitempty"`
	Values map[string]any `yaml:"values,omitempty"`

	// find / delete
	Where   []Condition `yaml:"where,omitempty"`
	OrderBy []Order     `yaml:"order_by,omitempty"`
	Limit   int         `yaml:"limit,omitempty"`
	Offset  int         `yaml:"offset,omitempty"`

	// flush_*
	Policy string `yaml:"policy,omitempty"`

	// erase
	Store string `yaml:"store,omitempty"`

	Expect *Expect `yaml:"expect,omitempty"`
}

// Condition is one child of a condition tree. Exactly one of Column, Raw or
// Group is set. Or joins the child with OR instead of AND.
//
//	where:
//	  - {column: age, op: ">=", value: 18}
//	  - {column: role, in: [admin, owner]}
//	  - {or: true, group: [{column: vip, op: "=", value: true}]}
//	  - {raw: "LENGTH(email)", op: ">", value: 7}
type Condition struct {
	Or     bool        `yaml:"or,omitempty"`
	Column string      `yaml:"column,omitempty"`
	Op     string      `yaml:"op,omitempty"`
	Value  any         `yaml:"value,omitempty"`
	In     []any       `yaml:"in,omitempty"`
	NotIn  []any       `yaml:"not_in,omitempty"`
	Raw    string      `yaml:"raw,omitempty"`
	Group  []Condition `yaml:"group,omitempty"`
}

// Order is one ORDER BY entry. Dir defaults to asc.
type Order struct {
	Column string `yaml:"column"`
	Dir    string `yaml:"dir,omitempty"`
}

// Expect specifies the expected outcome of a step. Unset fields are not
// checked.
type Expect struct {
	// Error is a substring of the expected error. Without it the step
	// must succeed.
	Error string `yaml:"error,omitempty"`

	// Found applies to find_pk.
	Found *bool `yaml:"found,omitempty"`

	// Values is a subset match on the instance returned by find_pk.
	Values map[string]any `yaml:"values,omitempty"`

	// Keys are the record keys yielded by find, in order.
	Keys []string `yaml:"keys,omitempty"`

	// Rows is the row count of delete_pk, delete and flushes.
	Rows *int64 `yaml:"rows,omitempty"`

	// Outcome is the flush outcome: no_work, committed, partial, aborted.
	Outcome string `yaml:"outcome,omitempty"`

	// Failed names the instances a flush reported as failed, in order.
	// Names are As aliases or record keys.
	Failed []string `yaml:"failed,omitempty"`
}

// Assertion types.
const (
	AssertFinalState    = "final_state"
	AssertQueryContains = "query_contains"
	AssertQueryCount    = "query_count"
	AssertLocalKeys     = "local_keys"
)

// Assertion validates the state after all steps ran.
type Assertion struct {
	// Type is one of final_state, query_contains, query_count, local_keys.
	Type string `yaml:"type"`

	// Table, Where and Expect drive final_state. Expect is a subset match
	// on the single row selected by Where. With Absent, no row may match.
	Table  string         `yaml:"table,omitempty"`
	Where  map[string]any `yaml:"where,omitempty"`
	Expect map[string]any `yaml:"expect,omitempty"`
	Absent bool           `yaml:"absent,omitempty"`

	// SQL is matched exactly against recorded statements (query_contains,
	// query_count).
	SQL   string `yaml:"sql,omitempty"`
	Count int    `yaml:"count,omitempty"`

	// Entity and Keys drive local_keys.
	Entity string   `yaml:"entity,omitempty"`
	Keys   []string `yaml:"keys,omitempty"`
}

// LoadScenario reads and parses a scenario YAML file.
// Returns an error if the file doesn't exist, is malformed,
// contains unknown fields (typos), or is missing required fields.
func LoadScenario(path string) (*Scenario, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read scenario file: %w", err)
	}
	s, err := ParseScenario(data)
	if err != nil {
		return nil, err
	}
	s.dir = filepath.Dir(path)
	for i, f := range s.SchemaFiles {
		if !filepath.IsAbs(f) {
			s.SchemaFiles[i] = filepath.Join(s.dir, f)
		}
	}
	for _, f := range s.SchemaFiles {
		if _, err := os.Stat(f); os.IsNotExist(err) {
			return nil, fmt.Errorf("invalid scenario: schema file not found: %s", f)
		}
	}
	return s, nil
}

// ParseScenario parses scenario YAML. Schema file paths are left as given.
func ParseScenario(data []byte) (*Scenario, error) {
	var scenario Scenario
	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true) // Reject unknown fields
	if err := decoder.Decode(&scenario); err != nil {
		return nil, fmt.Errorf("failed to parse YAML: %w", err)
	}
	if err := validateScenario(&scenario); err != nil {
		return nil, fmt.Errorf("invalid scenario: %w", err)
	}
	return &scenario, nil
}

// validateScenario checks that required fields are present and valid.
func validateScenario(s *Scenario) error {
	if s.Name == "" {
		return fmt.Errorf("name is required")
	}
	if s.Description == "" {
		return fmt.Errorf("description is required")
	}
	if s.Schema == "" && len(s.SchemaFiles) == 0 {
		return fmt.Errorf("schema or schema_files is required")
	}
	if len(s.Steps) == 0 {
		return fmt.Errorf("steps list is required and must be non-empty")
	}

	names := map[string]bool{}
	for i, step := range s.Steps {
		if err := validateStep(step, names); err != nil {
			return fmt.Errorf("steps[%d]: %w", i, err)
		}
		if step.As != "" {
			names[step.As] = true
		}
	}

	for i, a := range s.Assertions {
		if err := validateAssertion(a); err != nil {
			return fmt.Errorf("assertions[%d]: %w", i, err)
		}
	}
	return nil
}

func validateStep(step Step, names map[string]bool) error {
	switch step.Op {
	case OpCreate, OpFindPK:
		if step.Entity == "" {
			return fmt.Errorf("entity is required for %s", step.Op)
		}
		if step.Op == OpFindPK && len(step.Key) == 0 {
			return fmt.Errorf("key is required for find_pk")
		}
	case OpSet, OpPush, OpMarkDeleted:
		if step.Ref == "" {
			return fmt.Errorf("ref is required for %s", step.Op)
		}
		if !names[step.Ref] {
			return fmt.Errorf("ref %q is not defined by an earlier step", step.Ref)
		}
		if step.Op == OpSet && len(step.Values) == 0 {
			return fmt.Errorf("values are required for set")
		}
		if step.Op == OpPush && step.Entity == "" {
			return fmt.Errorf("entity is required for push")
		}
	case OpDeletePK:
		if step.Entity == "" || len(step.Key) == 0 {
			return fmt.Errorf("entity and key are required for delete_pk")
		}
	case OpFind, OpDelete:
		if step.Entity == "" {
			return fmt.Errorf("entity is required for %s", step.Op)
		}
	case OpFlushCreates, OpFlushUpdates, OpFlushDeletes:
		if step.Entity == "" {
			return fmt.Errorf("entity is required for %s", step.Op)
		}
		if _, err := parsePolicy(step.Policy); err != nil {
			return err
		}
	case OpErase:
		if step.Entity == "" {
			return fmt.Errorf("entity is required for erase")
		}
	case "":
		return fmt.Errorf("op is required")
	default:
		return fmt.Errorf("unknown op %q", step.Op)
	}
	if step.As != "" && step.Op != OpCreate && step.Op != OpFindPK {
		return fmt.Errorf("as is only valid for create and find_pk")
	}
	return nil
}

// validateAssertion validates a single assertion based on its type.
func validateAssertion(a Assertion) error {
	switch a.Type {
	case AssertFinalState:
		if a.Table == "" {
			return fmt.Errorf("table is required for final_state")
		}
		if !a.Absent && len(a.Expect) == 0 {
			return fmt.Errorf("expect is required for final_state")
		}
	case AssertQueryContains:
		if a.SQL == "" {
			return fmt.Errorf("sql is required for query_contains")
		}
	case AssertQueryCount:
		if a.SQL == "" {
			return fmt.Errorf("sql is required for query_count")
		}
		if a.Count < 0 {
			return fmt.Errorf("count must be non-negative for query_count")
		}
	case AssertLocalKeys:
		if a.Entity == "" {
			return fmt.Errorf("entity is required for local_keys")
		}
	case "":
		return fmt.Errorf("type is required")
	default:
		return fmt.Errorf("unknown assertion type %q", a.Type)
	}
	return nil
}

func parsePolicy(s string) (repository.Policy, error) {
	switch s {
	case "", "stop_on_first_fail":
		return repository.StopOnFirstFail, nil
	case "best_effort":
		return repository.BestEffort, nil
	}
	return 0, fmt.Errorf("unknown policy %q", s)
}

// BuildConditions converts the YAML form of a condition tree.
func BuildConditions(conds []Condition) (*queryir.Conditions, error) {
	c := queryir.New()
	for i, cond := range conds {
		if err := cond.appendTo(c); err != nil {
			return nil, fmt.Errorf("where[%d]: %w", i, err)
		}
	}
	return c, c.Err()
}

func (cond Condition) appendTo(c *queryir.Conditions) error {
	set := 0
	for _, ok := range []bool{cond.Column != "", cond.Raw != "", cond.Group != nil} {
		if ok {
			set++
		}
	}
	if set != 1 {
		return fmt.Errorf("exactly one of column, raw or group is required")
	}

	switch {
	case cond.Group != nil:
		child := c.AndCondition
		if cond.Or {
			child = c.OrCondition
		}
		g := child()
		for i, sub := range cond.Group {
			if err := sub.appendTo(g); err != nil {
				return fmt.Errorf("group[%d]: %w", i, err)
			}
		}
		return nil

	case cond.Raw != "":
		if cond.Op == "" {
			if cond.Or {
				c.OrFunction(cond.Raw)
			} else {
				c.Function(cond.Raw)
			}
			return nil
		}
		op, err := queryir.ParseOperator(cond.Op)
		if err != nil {
			return err
		}
		if cond.Or {
			c.OrFunctionCompare(cond.Raw, op, cond.Value)
		} else {
			c.FunctionCompare(cond.Raw, op, cond.Value)
		}
		return nil

	case cond.In != nil:
		if cond.Or {
			c.OrWhereIn(cond.Column, cond.In...)
		} else {
			c.WhereIn(cond.Column, cond.In...)
		}
		return nil

	case cond.NotIn != nil:
		if cond.Or {
			c.OrWhereNotIn(cond.Column, cond.NotIn...)
		} else {
			c.WhereNotIn(cond.Column, cond.NotIn...)
		}
		return nil
	}

	op, err := queryir.ParseOperator(cond.Op)
	if err != nil {
		return err
	}
	if cond.Or {
		c.OrWhere(cond.Column, op, cond.Value)
	} else {
		c.Where(cond.Column, op, cond.Value)
	}
	return nil
}
