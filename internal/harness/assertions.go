package harness

import (
	"fmt"
	"reflect"
	"sort"
	"strings"
)

// AssertionError is returned when an assertion fails.
// It includes the full trace to help debug the failure.
type AssertionError struct {
	Type     string       // Assertion type for categorization
	Expected string       // Human-readable expected outcome
	Actual   string       // Human-readable actual outcome
	Trace    []TraceEntry // Full trace for debugging context
}

// Error implements the error interface.
func (e *AssertionError) Error() string {
	var buf strings.Builder

	fmt.Fprintf(&buf, "Assertion failed: %s\n", e.Type)
	fmt.Fprintf(&buf, "  Expected: %s\n", e.Expected)
	fmt.Fprintf(&buf, "  Actual: %s\n", e.Actual)

	fmt.Fprintf(&buf, "\nFull trace:\n")
	for i, entry := range e.Trace {
		fmt.Fprintf(&buf, "  [%d] %s %s %s@%s delivered=%t\n", i+1, entry.Waiter, entry.Kind, entry.ID, entry.Level, entry.Delivered)
	}

	return buf.String()
}

// EvaluateAssertions checks every assertion and returns the failure messages.
func EvaluateAssertions(result *Result, assertions []Assertion) []string {
	var failures []string
	for _, a := range assertions {
		if err := evaluateAssertion(result, a); err != nil {
			failures = append(failures, err.Error())
		}
	}
	return failures
}

func evaluateAssertion(result *Result, a Assertion) error {
	switch a.Type {
	case AssertDelivered:
		return assertDelivered(result.Trace, a)
	case AssertNotDelivered:
		return assertNotDelivered(result.Trace, a)
	case AssertPendingCount:
		if result.Pending != a.Count {
			return &AssertionError{
				Type:     AssertPendingCount,
				Expected: fmt.Sprintf("%d waiters pending", a.Count),
				Actual:   fmt.Sprintf("%d waiters pending", result.Pending),
				Trace:    result.Trace,
			}
		}
		return nil
	default:
		return fmt.Errorf("unknown assertion type %q", a.Type)
	}
}

func findEntry(trace []TraceEntry, waiter string) (TraceEntry, bool) {
	for _, e := range trace {
		if e.Waiter == waiter {
			return e, true
		}
	}
	return TraceEntry{}, false
}

// assertDelivered checks the waiter received an outcome containing every
// field of a.Outcome (subset match).
func assertDelivered(trace []TraceEntry, a Assertion) error {
	entry, ok := findEntry(trace, a.Waiter)
	if !ok || !entry.Delivered {
		return &AssertionError{
			Type:     AssertDelivered,
			Expected: fmt.Sprintf("%s delivered", a.Waiter),
			Actual:   fmt.Sprintf("%s not delivered", a.Waiter),
			Trace:    trace,
		}
	}

	keys := make([]string, 0, len(a.Outcome))
	for k := range a.Outcome {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	for _, k := range keys {
		want := normalize(a.Outcome[k])
		got, present := entry.Outcome[k]
		if !present || !reflect.DeepEqual(want, normalize(got)) {
			return &AssertionError{
				Type:     AssertDelivered,
				Expected: fmt.Sprintf("%s.%s = %v", a.Waiter, k, want),
				Actual:   fmt.Sprintf("%s.%s = %v (present=%t)", a.Waiter, k, got, present),
				Trace:    trace,
			}
		}
	}
	return nil
}

func assertNotDelivered(trace []TraceEntry, a Assertion) error {
	entry, ok := findEntry(trace, a.Waiter)
	if ok && entry.Delivered {
		return &AssertionError{
			Type:     AssertNotDelivered,
			Expected: fmt.Sprintf("%s not delivered", a.Waiter),
			Actual:   fmt.Sprintf("%s delivered %v", a.Waiter, entry.Outcome),
			Trace:    trace,
		}
	}
	return nil
}

// normalize maps YAML and outcome integers onto int64 so they compare equal.
func normalize(v any) any {
	switch n := v.(type) {
	case int:
		return int64(n)
	case int32:
		return int64(n)
	case uint64:
		return int64(n)
	default:
		return v
	}
}
