package harness

import (
	"testing"

	"github.com/sebdah/goldie/v2"

	"github.com/roach88/opnotify/internal/ir"
)

// TraceSnapshot captures the trace of a scenario execution.
// All fields use canonical JSON serialization for deterministic comparison.
type TraceSnapshot struct {
	ScenarioName string       `json:"scenario_name"`
	Pending      int          `json:"pending"`
	Trace        []TraceEntry `json:"trace"`
}

// toCanonicalMap converts a TraceSnapshot to a map[string]any for canonical JSON serialization.
func (s *TraceSnapshot) toCanonicalMap() map[string]any {
	traceList := make([]any, len(s.Trace))
	for i, entry := range s.Trace {
		entryMap := map[string]any{
			"waiter":    entry.Waiter,
			"kind":      entry.Kind,
			"id":        entry.ID,
			"level":     entry.Level,
			"delivered": entry.Delivered,
		}
		if entry.Outcome != nil {
			entryMap["outcome"] = entry.Outcome
		}
		traceList[i] = entryMap
	}

	return map[string]any{
		"scenario_name": s.ScenarioName,
		"pending":       s.Pending,
		"trace":         traceList,
	}
}

// RunWithGolden executes a scenario and compares the trace against
// testdata/golden/{scenario.Name}.golden.
//
// To regenerate golden files, run:
//
//	go test ./internal/harness -update
func RunWithGolden(t *testing.T, scenario *Scenario) error {
	t.Helper()

	result, err := Run(scenario)
	if err != nil {
		return err
	}
	return AssertGolden(t, scenario.Name, result)
}

// AssertGolden compares an existing result against a golden file without
// re-running the scenario.
func AssertGolden(t *testing.T, scenarioName string, result *Result) error {
	t.Helper()

	snapshot := TraceSnapshot{
		ScenarioName: scenarioName,
		Pending:      result.Pending,
		Trace:        result.Trace,
	}

	traceJSON, err := ir.MarshalCanonical(snapshot.toCanonicalMap())
	if err != nil {
		return err
	}

	g := goldie.New(t,
		goldie.WithFixtureDir("testdata/golden"),
		goldie.WithNameSuffix(".golden"),
	)
	g.Assert(t, scenarioName, traceJSON)

	return nil
}
