package harness

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"gopkg.in/yaml.v3"

	"github.com/roach88/sitesync/internal/model"
	"github.com/roach88/sitesync/internal/testutil"
)

// Scenario is one scripted sync conversation between a site and central.
type Scenario struct {
	// Name identifies the scenario and names its golden file.
	Name string `yaml:"name"`

	Description string `yaml:"description"`

	// BatchSize overrides the pull and push batch sizes when set.
	BatchSize int `yaml:"batch_size,omitempty"`

	// Central is queued on central before the first step.
	Central []Record `yaml:"central,omitempty"`

	Steps []Step `yaml:"steps"`

	Assertions []Assertion `yaml:"assertions"`
}

// Record is a row as a scenario writes it: a table, a record id and the
// record's wire data.
type Record struct {
	Table  model.Table     `yaml:"table"`
	ID     string          `yaml:"id"`
	Action model.RowAction `yaml:"action,omitempty"`
	Data   map[string]any  `yaml:"data,omitempty"`
}

// Step is a single scenario action. Exactly one field is set.
type Step struct {
	// Sync runs one cycle.
	Sync *SyncStep `yaml:"sync,omitempty"`

	// Local writes a row and its changelog entry on the site.
	Local *Record `yaml:"local,omitempty"`

	// Enqueue adds records to central's queue.
	Enqueue []Record `yaml:"enqueue,omitempty"`

	// Fail makes the next requests to an operation fail with HTTP statuses.
	Fail *FailStep `yaml:"fail,omitempty"`

	// Authorised toggles whether central lets the site sync.
	Authorised *bool `yaml:"authorised,omitempty"`
}

// SyncStep expects a cycle outcome: "ok" (the default) or an error code.
type SyncStep struct {
	Expect string `yaml:"expect,omitempty"`
}

// FailStep injects failures for one central operation.
type FailStep struct {
	Op     string `yaml:"op"`
	Status []int  `yaml:"status"`
}

// Assertion checks the outcome of a scenario.
type Assertion struct {
	Type string `yaml:"type"`

	// Table and ID address a pushed record (pushed_contains) or a table
	// (final_state).
	Table string `yaml:"table,omitempty"`
	ID    string `yaml:"id,omitempty"`

	// Where filters final_state rows. All fields must match.
	Where map[string]any `yaml:"where,omitempty"`

	// Expect is a subset match on pushed data, row columns or buffer
	// counters.
	Expect map[string]any `yaml:"expect,omitempty"`

	Count     int             `yaml:"count,omitempty"`
	Op        string          `yaml:"op,omitempty"`
	State     model.SyncState `yaml:"state,omitempty"`
	Direction model.Direction `yaml:"direction,omitempty"`
	Value     int64           `yaml:"value,omitempty"`
}

// Assertion types.
const (
	AssertPushedContains = "pushed_contains"
	AssertPushedCount    = "pushed_count"
	AssertCallCount      = "call_count"
	AssertSyncState      = "sync_state"
	AssertCursor         = "cursor"
	AssertBuffer         = "buffer"
	AssertFinalState     = "final_state"
)

// OutcomeOK is the expected outcome of a cycle that succeeds.
const OutcomeOK = "ok"

var knownOps = map[string]bool{
	testutil.OpLogin:      true,
	testutil.OpSite:       true,
	testutil.OpInitialise: true,
	testutil.OpPull:       true,
	testutil.OpPush:       true,
}

var bufferCounters = map[string]bool{
	"total": true, "pending": true, "errored": true, "integrated": true,
}

// LoadScenario reads and parses a scenario YAML file. Unknown fields are
// rejected so typos fail loudly.
func LoadScenario(path string) (*Scenario, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read scenario file: %w", err)
	}
	return ParseScenario(data)
}

// ParseScenario parses and validates scenario YAML.
func ParseScenario(data []byte) (*Scenario, error) {
	var scenario Scenario
	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true)
	if err := decoder.Decode(&scenario); err != nil {
		return nil, fmt.Errorf("failed to parse YAML: %w", err)
	}
	if err := validateScenario(&scenario); err != nil {
		return nil, fmt.Errorf("invalid scenario: %w", err)
	}
	return &scenario, nil
}

// LoadScenarios loads every *.yaml file in dir, sorted by file name.
func LoadScenarios(dir string) ([]*Scenario, error) {
	paths, err := filepath.Glob(filepath.Join(dir, "*.yaml"))
	if err != nil {
		return nil, err
	}
	sort.Strings(paths)

	out := make([]*Scenario, 0, len(paths))
	for _, p := range paths {
		s, err := LoadScenario(p)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", filepath.Base(p), err)
		}
		out = append(out, s)
	}
	return out, nil
}

func validateScenario(s *Scenario) error {
	if s.Name == "" {
		return fmt.Errorf("name is required")
	}
	if s.Description == "" {
		return fmt.Errorf("description is required")
	}
	if s.BatchSize < 0 {
		return fmt.Errorf("batch_size must be positive")
	}
	if len(s.Steps) == 0 {
		return fmt.Errorf("steps list is required and must be non-empty")
	}
	if len(s.Assertions) == 0 {
		return fmt.Errorf("assertions list is required and must be non-empty")
	}

	for i, rec := range s.Central {
		if err := validateRecord(rec); err != nil {
			return fmt.Errorf("central[%d]: %w", i, err)
		}
	}
	for i, step := range s.Steps {
		if err := validateStep(step); err != nil {
			return fmt.Errorf("steps[%d]: %w", i, err)
		}
	}
	for i := range s.Assertions {
		if err := validateAssertion(i, &s.Assertions[i]); err != nil {
			return err
		}
	}
	return nil
}

func validateStep(step Step) error {
	set := 0
	if step.Sync != nil {
		set++
	}
	if step.Local != nil {
		set++
		if err := validateRecord(*step.Local); err != nil {
			return fmt.Errorf("local: %w", err)
		}
	}
	if step.Enqueue != nil {
		set++
		if len(step.Enqueue) == 0 {
			return fmt.Errorf("enqueue must list at least one record")
		}
		for i, rec := range step.Enqueue {
			if err := validateRecord(rec); err != nil {
				return fmt.Errorf("enqueue[%d]: %w", i, err)
			}
		}
	}
	if step.Fail != nil {
		set++
		if !knownOps[step.Fail.Op] {
			return fmt.Errorf("fail: unknown op %q", step.Fail.Op)
		}
		if len(step.Fail.Status) == 0 {
			return fmt.Errorf("fail: status list is required")
		}
		for _, code := range step.Fail.Status {
			if code < 400 || code > 599 {
				return fmt.Errorf("fail: status %d is not an HTTP error", code)
			}
		}
	}
	if step.Authorised != nil {
		set++
	}
	if set != 1 {
		return fmt.Errorf("exactly one of sync, local, enqueue, fail or authorised must be set, got %d", set)
	}
	return nil
}

func validateRecord(rec Record) error {
	if _, err := model.ParseTable(string(rec.Table)); err != nil {
		return err
	}
	if rec.ID == "" {
		return fmt.Errorf("id is required")
	}
	switch rec.Action {
	case "", model.ActionUpsert:
		if len(rec.Data) == 0 {
			return fmt.Errorf("data is required for upserts")
		}
	case model.ActionDelete:
	default:
		return fmt.Errorf("unknown action %q", rec.Action)
	}
	return nil
}

func validateAssertion(index int, a *Assertion) error {
	switch a.Type {
	case "":
		return fmt.Errorf("assertions[%d]: type is required", index)
	case AssertPushedContains:
		if a.Table == "" || a.ID == "" {
			return fmt.Errorf("assertions[%d]: table and id are required for pushed_contains", index)
		}
	case AssertPushedCount:
		if a.Count < 0 {
			return fmt.Errorf("assertions[%d]: count must be non-negative for pushed_count", index)
		}
	case AssertCallCount:
		if !knownOps[a.Op] {
			return fmt.Errorf("assertions[%d]: unknown op %q for call_count", index, a.Op)
		}
		if a.Count < 0 {
			return fmt.Errorf("assertions[%d]: count must be non-negative for call_count", index)
		}
	case AssertSyncState:
		switch a.State {
		case model.StatePreInitialisation, model.StateInitialising, model.StateInitialised:
		default:
			return fmt.Errorf("assertions[%d]: unknown sync state %q", index, a.State)
		}
	case AssertCursor:
		if a.Direction != model.DirectionPull && a.Direction != model.DirectionPush {
			return fmt.Errorf("assertions[%d]: direction must be pull or push", index)
		}
	case AssertBuffer:
		if len(a.Expect) == 0 {
			return fmt.Errorf("assertions[%d]: expect is required for buffer", index)
		}
		for k := range a.Expect {
			if !bufferCounters[k] {
				return fmt.Errorf("assertions[%d]: unknown buffer counter %q", index, k)
			}
		}
	case AssertFinalState:
		if a.Table == "" {
			return fmt.Errorf("assertions[%d]: table is required for final_state", index)
		}
		if len(a.Expect) == 0 {
			return fmt.Errorf("assertions[%d]: expect is required for final_state", index)
		}
	default:
		return fmt.Errorf("assertions[%d]: unknown assertion type %q", index, a.Type)
	}
	return nil
}
