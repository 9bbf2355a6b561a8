package harness

import (
	"fmt"
	"math"
	"slices"
	"strings"

	"github.com/roach88/motifcore/internal/engine"
)

// DefaultWeightDelta is the tolerance of weight assertions without a delta.
const DefaultWeightDelta = 1e-9

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
		for _, event := range e.Trace {
			fmt.Fprintf(&buf, "  [%d] %s", event.Seq, event.Kind)
			if event.Motif != "" {
				fmt.Fprintf(&buf, " %s@%d", event.Motif, event.Lamport)
			}
			if event.Outcome != "" {
				fmt.Fprintf(&buf, " -> %s", event.Outcome)
			}
			buf.WriteString("\n")
		}
	}

	return buf.String()
}

// assertOutcomes checks the ordered outcomes of every emit and tick event
// on the assertion's motif.
func assertOutcomes(trace []TraceEvent, assertion Assertion) error {
	var got []string
	for _, event := range trace {
		if (event.Kind == KindEmit || event.Kind == KindTick) && event.Motif == assertion.Motif && event.Outcome != "" {
			got = append(got, event.Outcome)
		}
	}

	if !slices.Equal(got, assertion.Outcomes) {
		return &AssertionError{
			Type:     AssertOutcomes,
			Expected: fmt.Sprintf("%s outcomes %v", assertion.Motif, assertion.Outcomes),
			Actual:   fmt.Sprintf("%v", got),
			Trace:    trace,
		}
	}
	return nil
}

// assertOutcomeCount checks how many events ended in the given outcome.
func assertOutcomeCount(trace []TraceEvent, assertion Assertion) error {
	count := 0
	for _, event := range trace {
		if event.Outcome == assertion.Outcome {
			count++
		}
	}

	if count != assertion.Count {
		return &AssertionError{
			Type:     AssertOutcomeCount,
			Expected: fmt.Sprintf("%d events with outcome %s", assertion.Count, assertion.Outcome),
			Actual:   fmt.Sprintf("%d events", count),
			Trace:    trace,
		}
	}
	return nil
}

func assertTier(e *engine.Engine, assertion Assertion) error {
	_, tier := e.Memory().Weight(assertion.Motif)
	if tier.String() != assertion.Tier {
		return &AssertionError{
			Type:     AssertTier,
			Expected: fmt.Sprintf("%s in tier %s", assertion.Motif, assertion.Tier),
			Actual:   fmt.Sprintf("tier %s", tier),
		}
	}
	return nil
}

func assertWeight(e *engine.Engine, assertion Assertion) error {
	delta := assertion.Delta
	if delta <= 0 {
		delta = DefaultWeightDelta
	}
	w, tier := e.Memory().Weight(assertion.Motif)
	if math.Abs(w-*assertion.Value) > delta {
		return &AssertionError{
			Type:     AssertWeight,
			Expected: fmt.Sprintf("%s weight %g ± %g", assertion.Motif, *assertion.Value, delta),
			Actual:   fmt.Sprintf("weight %g (tier %s)", w, tier),
		}
	}
	return nil
}

func assertHistogram(result *Result, assertion Assertion) error {
	if got := result.Histogram[assertion.Motif]; got != assertion.Count {
		return &AssertionError{
			Type:     AssertHistogram,
			Expected: fmt.Sprintf("%d ticks on %s", assertion.Count, assertion.Motif),
			Actual:   fmt.Sprintf("%d ticks", got),
		}
	}
	return nil
}

func assertBackoff(e *engine.Engine, assertion Assertion) error {
	if got := e.Gate().Backoff(); got != *assertion.Value {
		return &AssertionError{
			Type:     AssertBackoff,
			Expected: fmt.Sprintf("back-off multiplier %g", *assertion.Value),
			Actual:   fmt.Sprintf("%g", got),
		}
	}
	return nil
}

// assertDyad checks the most recent non-empty dyad completion.
func assertDyad(trace []TraceEvent, assertion Assertion) error {
	var got []string
	for _, event := range slices.Backward(trace) {
		if len(event.Dyad) > 0 {
			got = event.Dyad
			break
		}
	}

	if !slices.Equal(got, assertion.Members) {
		return &AssertionError{
			Type:     AssertDyad,
			Expected: fmt.Sprintf("dyad completion %v", assertion.Members),
			Actual:   fmt.Sprintf("%v", got),
			Trace:    trace,
		}
	}
	return nil
}

// EvaluateAssertions evaluates all assertions against the result and the
// engine's final state. Returns a slice of error messages for failed
// assertions.
func EvaluateAssertions(result *Result, assertions []Assertion, e *engine.Engine) []string {
	var errs []string

	for i, assertion := range assertions {
		var err error

		switch assertion.Type {
		case AssertOutcomes:
			err = assertOutcomes(result.Trace, assertion)
		case AssertOutcomeCount:
			err = assertOutcomeCount(result.Trace, assertion)
		case AssertTier:
			err = assertTier(e, assertion)
		case AssertWeight:
			err = assertWeight(e, assertion)
		case AssertHistogram:
			err = assertHistogram(result, assertion)
		case AssertBackoff:
			err = assertBackoff(e, assertion)
		case AssertDyad:
			err = assertDyad(result.Trace, assertion)
		default:
			err = fmt.Errorf("assertion[%d]: unknown assertion type %q", i, assertion.Type)
		}

		if err != nil {
			errs = append(errs, err.Error())
		}
	}

	return errs
}
