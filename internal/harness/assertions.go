package harness

import (
	"fmt"
	"strings"
)

// AssertionError is returned when an assertion fails.
// It includes detailed context to help debug the failure.
type AssertionError struct {
	Type     string       // Assertion type for categorization
	Expected string       // Human-readable expected outcome
	Actual   string       // Human-readable actual outcome
	Trace    []TraceEvent // Full trace for debugging context
}

// Error implements the error interface.
func (e *AssertionError) Error() string {
	var buf strings.Builder

	fmt.Fprintf(&buf, "Assertion failed: %s\n", e.Type)
	fmt.Fprintf(&buf, "  Expected: %s\n", e.Expected)
	fmt.Fprintf(&buf, "  Actual: %s\n", e.Actual)

	if len(e.Trace) > 0 {
		fmt.Fprintf(&buf, "\nFull trace:\n")
		for _, step := range e.Trace {
			fmt.Fprintf(&buf, "  [%d] %s %v %v\n", step.Seq, step.Step, step.Fields, step.Events)
		}
	}
	return buf.String()
}

// EvaluateAssertions checks every assertion against result and returns the
// failure messages.
func EvaluateAssertions(result *Result, assertions []Assertion) []string {
	var errs []string
	for i, a := range assertions {
		if err := evaluate(result, a); err != nil {
			errs = append(errs, fmt.Sprintf("assertions[%d]: %v", i, err))
		}
	}
	return errs
}

func evaluate(result *Result, a Assertion) error {
	switch a.Type {
	case AssertOutboxSize:
		return assertCount(result, a.Type, "pending entries", a.Count, result.OutboxSize)
	case AssertDeadLetters:
		return assertCount(result, a.Type, "dead letters", a.Count, result.DeadLetters)
	case AssertRemoteCalls:
		return assertCount(result, a.Type, "remote calls", a.Count, len(result.RemoteCalls))
	case AssertEventCount:
		n := 0
		for _, name := range result.Events {
			if name == a.Event {
				n++
			}
		}
		return assertCount(result, a.Type, a.Event+" events", a.Count, n)
	case AssertEventOrder:
		return assertEventOrder(result, a.Events)
	case AssertRemoteApplied:
		return assertRemoteApplied(result, a.Writes)
	default:
		return fmt.Errorf("unknown assertion type %q", a.Type)
	}
}

func assertCount(result *Result, typ, what string, want, got int) error {
	if want == got {
		return nil
	}
	return &AssertionError{
		Type:     typ,
		Expected: fmt.Sprintf("%d %s", want, what),
		Actual:   fmt.Sprintf("%d %s", got, what),
		Trace:    result.Trace,
	}
}

// assertEventOrder checks that the events occur as a subsequence of the
// emitted events. Intervening events are allowed.
func assertEventOrder(result *Result, want []string) error {
	next := 0
	for _, name := range result.Events {
		if next < len(want) && name == want[next] {
			next++
		}
	}
	if next == len(want) {
		return nil
	}
	return &AssertionError{
		Type:     AssertEventOrder,
		Expected: fmt.Sprintf("events in order: %v", want),
		Actual:   fmt.Sprintf("%s not found after %v in %v", want[next], want[:next], result.Events),
		Trace:    result.Trace,
	}
}

// assertRemoteApplied checks the successful remote writes, in order.
func assertRemoteApplied(result *Result, want []WriteRef) error {
	var got []WriteRef
	for _, c := range result.RemoteCalls {
		if c.Applied {
			got = append(got, WriteRef{Operation: c.Operation, Actor: c.ActorID})
		}
	}
	if len(got) == len(want) {
		match := true
		for i := range want {
			match = match && got[i] == want[i]
		}
		if match {
			return nil
		}
	}
	return &AssertionError{
		Type:     AssertRemoteApplied,
		Expected: formatWrites(want),
		Actual:   formatWrites(got),
		Trace:    result.Trace,
	}
}

func formatWrites(ws []WriteRef) string {
	if len(ws) == 0 {
		return "no applied writes"
	}
	parts := make([]string, len(ws))
	for i, w := range ws {
		parts[i] = w.Operation + "/" + w.Actor
	}
	return strings.Join(parts, ", ")
}
