package harness

import (
	"github.com/roach88/sitesync/internal/model"
	"github.com/roach88/sitesync/internal/store"
)

// Trace event kinds.
const (
	KindEnqueue    = "enqueue"
	KindLocal      = "local"
	KindSync       = "sync"
	KindFail       = "fail"
	KindAuthorised = "authorised"
)

// TraceEvent records one thing the harness did and, for cycles, what the
// cycle's log reported.
type TraceEvent struct {
	// Step is the 1-based step index; records seeded on central use 0.
	Step    int    `json:"step"`
	Kind    string `json:"kind"`
	Detail  string `json:"detail,omitempty"`
	Outcome string `json:"outcome,omitempty"`

	// Done counts from the cycle's phase logs.
	Pull        int64 `json:"pull,omitempty"`
	Integration int64 `json:"integration,omitempty"`
	Push        int64 `json:"push,omitempty"`
}

// FinalState is the site's sync bookkeeping after the last step.
type FinalState struct {
	SyncState  model.SyncState   `json:"sync_state"`
	PullCursor int64             `json:"pull_cursor"`
	PushCursor int64             `json:"push_cursor"`
	Buffer     store.BufferStats `json:"buffer"`
}

// Result is the outcome of a scenario run.
type Result struct {
	// Pass is true when every step met its expectation and every
	// assertion held.
	Pass bool `json:"pass"`

	Trace  []TraceEvent       `json:"trace"`
	Errors []string           `json:"errors,omitempty"`
	Pushed []model.WireRecord `json:"pushed"`
	Final  FinalState         `json:"final"`
}

// NewResult creates a passing result with empty trace and pushed lists.
func NewResult() *Result {
	return &Result{
		Pass:   true,
		Trace:  []TraceEvent{},
		Errors: []string{},
		Pushed: []model.WireRecord{},
	}
}

// AddError records a failure and marks the result as failed.
func (r *Result) AddError(err string) {
	r.Errors = append(r.Errors, err)
	r.Pass = false
}

func (r *Result) addEvent(ev TraceEvent) {
	r.Trace = append(r.Trace, ev)
}
