package harness

import (
	"testing"

	"github.com/sebdah/goldie/v2"

	"github.com/roach88/tether/internal/payload"
)

// TraceSnapshot captures a scenario's trace and final state for golden
// comparison.
type TraceSnapshot struct {
	ScenarioName string
	Trace        []TraceEvent
	OutboxSize   int
	DeadLetters  int
	RemoteCalls  int
}

// toCanonicalMap converts the snapshot to plain maps for canonical JSON.
func (s *TraceSnapshot) toCanonicalMap() map[string]any {
	trace := make([]any, len(s.Trace))
	for i, step := range s.Trace {
		m := map[string]any{
			"seq":  step.Seq,
			"step": step.Step,
		}
		if len(step.Fields) > 0 {
			m["fields"] = step.Fields
		}
		if len(step.Events) > 0 {
			events := make([]any, len(step.Events))
			for j, e := range step.Events {
				events[j] = e
			}
			m["events"] = events
		}
		trace[i] = m
	}

	return map[string]any{
		"scenario_name": s.ScenarioName,
		"trace":         trace,
		"final": map[string]any{
			"outbox_size":  s.OutboxSize,
			"dead_letters": s.DeadLetters,
			"remote_calls": s.RemoteCalls,
		},
	}
}

// MarshalSnapshot returns the canonical JSON of a scenario result.
func MarshalSnapshot(name string, result *Result) ([]byte, error) {
	snapshot := TraceSnapshot{
		ScenarioName: name,
		Trace:        result.Trace,
		OutboxSize:   result.OutboxSize,
		DeadLetters:  result.DeadLetters,
		RemoteCalls:  len(result.RemoteCalls),
	}
	v, err := payload.FromAny(snapshot.toCanonicalMap())
	if err != nil {
		return nil, err
	}
	return payload.Canonical(v)
}

// RunWithGolden executes a scenario and compares the trace against a golden file.
// The golden file is stored in testdata/golden/{scenario.Name}.golden
//
// To regenerate golden files, run:
//
//	go test ./internal/harness -update
func RunWithGolden(t *testing.T, scenario *Scenario) (*Result, error) {
	t.Helper()

	result, err := Run(scenario)
	if err != nil {
		return nil, err
	}
	return result, AssertGolden(t, scenario.Name, result)
}

// AssertGolden compares an already computed result against its golden file.
func AssertGolden(t *testing.T, scenarioName string, result *Result) error {
	t.Helper()

	traceJSON, err := MarshalSnapshot(scenarioName, result)
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
