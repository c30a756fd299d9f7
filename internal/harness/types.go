package harness

import "github.com/roach88/recordset/internal/store"

// StepTrace records what one step did. It is the unit of golden comparison
// together with the query log.
type StepTrace struct {
	Step    int      `json:"step"`
	Op      string   `json:"op"`
	Entity  string   `json:"entity,omitempty"`
	Keys    []string `json:"keys,omitempty"`
	Rows    *int64   `json:"rows,omitempty"`
	Outcome string   `json:"outcome,omitempty"`
	Failed  []string `json:"failed,omitempty"`
	Error   string   `json:"error,omitempty"`
}

// Result is the outcome of a scenario execution.
type Result struct {
	// Pass is true when every expectation and assertion held.
	Pass bool `json:"pass"`

	// Trace has one entry per executed step.
	Trace []StepTrace `json:"trace"`

	// Errors contains failed expectations and assertions.
	// Empty if Pass is true.
	Errors []string `json:"errors,omitempty"`

	// Queries is the statement log of the steps, setup excluded.
	Queries []store.QueryLogEntry `json:"queries"`
}

// NewResult creates a new passing result.
func NewResult() *Result {
	return &Result{
		Pass:   true,
		Trace:  []StepTrace{},
		Errors: []string{},
	}
}

// AddError adds a validation error and marks the result as failed.
func (r *Result) AddError(err string) {
	r.Errors = append(r.Errors, err)
	r.Pass = false
}
