package harness

import (
	"encoding/json"
	"testing"

	"github.com/sebdah/goldie/v2"

	"github.com/roach88/sitesync/internal/model"
)

// Snapshot is the part of a result compared against golden files. It holds
// nothing that varies between runs.
type Snapshot struct {
	Scenario string             `json:"scenario"`
	Trace    []TraceEvent       `json:"trace"`
	Pushed   []model.WireRecord `json:"pushed"`
	Final    FinalState         `json:"final"`
}

// RunWithGolden runs a scenario, fails the test on any unmet expectation,
// and compares the snapshot with testdata/golden/{scenario.Name}.golden.
//
// To regenerate golden files, run:
//
//	go test ./internal/harness -update
func RunWithGolden(t *testing.T, scenario *Scenario) (*Result, error) {
	t.Helper()

	result, err := Run(t, scenario)
	if err != nil {
		return nil, err
	}
	for _, msg := range result.Errors {
		t.Error(msg)
	}
	if err := AssertGolden(t, scenario.Name, result); err != nil {
		return result, err
	}
	return result, nil
}

// AssertGolden compares an existing result with its golden file.
func AssertGolden(t *testing.T, name string, result *Result) error {
	t.Helper()

	pushed := result.Pushed
	if pushed == nil {
		pushed = []model.WireRecord{}
	}
	data, err := json.MarshalIndent(Snapshot{
		Scenario: name,
		Trace:    result.Trace,
		Pushed:   pushed,
		Final:    result.Final,
	}, "", "  ")
	if err != nil {
		return err
	}

	g := goldie.New(t,
		goldie.WithFixtureDir("testdata/golden"),
		goldie.WithNameSuffix(".golden"),
	)
	g.Assert(t, name, data)
	return nil
}
