package harness

import (
	"context"
	"testing"

	"github.com/sebdah/goldie/v2"

	"github.com/roach88/recordset/internal/ir"
)

// Snapshot is the golden form of a scenario run: the step trace and the
// statement log, serialized as canonical JSON.
type Snapshot struct {
	ScenarioName string
	Result       *Result
}

// toCanonicalMap converts a Snapshot to plain maps for canonical JSON.
// ir.MarshalCanonical only handles IR types and primitives.
func (s *Snapshot) toCanonicalMap() map[string]any {
	trace := make([]any, len(s.Result.Trace))
	for i, t := range s.Result.Trace {
		step := map[string]any{
			"step": t.Step,
			"op":   t.Op,
		}
		if t.Entity != "" {
			step["entity"] = t.Entity
		}
		if t.Keys != nil {
			step["keys"] = stringsToAny(t.Keys)
		}
		if t.Rows != nil {
			step["rows"] = *t.Rows
		}
		if t.Outcome != "" {
			step["outcome"] = t.Outcome
		}
		if t.Failed != nil {
			step["failed"] = stringsToAny(t.Failed)
		}
		if t.Error != "" {
			step["error"] = t.Error
		}
		trace[i] = step
	}

	queries := make([]any, len(s.Result.Queries))
	for i, q := range s.Result.Queries {
		args := make([]any, len(q.Args))
		copy(args, q.Args)
		queries[i] = map[string]any{"sql": q.SQL, "args": args}
	}

	return map[string]any{
		"scenario_name": s.ScenarioName,
		"trace":         trace,
		"queries":       queries,
	}
}

// Marshal renders the snapshot as canonical JSON.
func (s *Snapshot) Marshal() ([]byte, error) {
	return ir.MarshalCanonical(s.toCanonicalMap())
}

func stringsToAny(ss []string) []any {
	out := make([]any, len(ss))
	for i, s := range ss {
		out[i] = s
	}
	return out
}

// RunWithGolden executes a scenario and compares its snapshot against
// testdata/golden/{scenario.Name}.golden.
//
// To regenerate golden files, run:
//
//	go test ./internal/harness -update
//
// Returns the result so callers can also check Pass.
func RunWithGolden(t *testing.T, scenario *Scenario) (*Result, error) {
	t.Helper()

	result, err := Run(context.Background(), scenario)
	if err != nil {
		return nil, err
	}
	return result, AssertGolden(t, scenario.Name, result)
}

// AssertGolden compares an existing result against its golden file without
// re-running the scenario.
func AssertGolden(t *testing.T, scenarioName string, result *Result) error {
	t.Helper()

	snapshot := Snapshot{ScenarioName: scenarioName, Result: result}
	data, err := snapshot.Marshal()
	if err != nil {
		return err
	}

	g := goldie.New(t,
		goldie.WithFixtureDir("testdata/golden"),
		goldie.WithNameSuffix(".golden"),
	)
	g.Assert(t, scenarioName, data)
	return nil
}
