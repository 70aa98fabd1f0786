package harness

import (
	"fmt"
	"slices"

	"github.com/roach88/mercury/internal/layout"
	"github.com/roach88/mercury/internal/mercury"
)

// State is the final dashboard state assertions are evaluated against.
type State struct {
	// DocExecuted is the document's shared executed flag.
	DocExecuted bool

	// Executed maps every cell id to whether it carries an execution count.
	Executed map[string]bool

	Layout      layout.Snapshot
	Pending     int
	Bindings    int
	NoticeShown bool
}

// AssertionError describes a failed assertion with context.
type AssertionError struct {
	Index    int
	Type     string
	Expected any
	Actual   any
	Message  string
}

func (e *AssertionError) Error() string {
	return fmt.Sprintf("assertion[%d] %s: %s (expected %v, got %v)",
		e.Index, e.Type, e.Message, e.Expected, e.Actual)
}

// EvaluateAssertions checks every assertion against s and returns the
// failure messages.
func EvaluateAssertions(s State, assertions []Assertion) []string {
	var failures []string
	for i, a := range assertions {
		if err := evaluate(i, s, a); err != nil {
			failures = append(failures, err.Error())
		}
	}
	return failures
}

func evaluate(index int, s State, a Assertion) error {
	fail := func(expected, actual any, format string, args ...any) error {
		return &AssertionError{
			Index:    index,
			Type:     a.Type,
			Expected: expected,
			Actual:   actual,
			Message:  fmt.Sprintf(format, args...),
		}
	}

	switch a.Type {
	case AssertExecuted, AssertNotExecuted:
		want := a.Type == AssertExecuted
		if len(a.Cells) == 0 {
			if s.DocExecuted != want {
				return fail(want, s.DocExecuted, "document executed flag")
			}
			return nil
		}
		for _, id := range a.Cells {
			ran, known := s.Executed[id]
			if !known {
				return fail(id, nil, "unknown cell %s", id)
			}
			if ran != want {
				return fail(want, ran, "cell %s executed", id)
			}
		}
		return nil

	case AssertRegionOrder:
		got := s.Layout.CellIDs(mercury.Region(a.Region))
		want := a.Cells
		if want == nil {
			want = []string{}
		}
		if got == nil {
			got = []string{}
		}
		if !slices.Equal(got, want) {
			return fail(want, got, "%s region order", a.Region)
		}
		return nil

	case AssertPendingCount:
		if s.Pending != a.Count {
			return fail(a.Count, s.Pending, "pending control updates")
		}
		return nil

	case AssertBindingCount:
		if s.Bindings != a.Count {
			return fail(a.Count, s.Bindings, "control bindings")
		}
		return nil

	case AssertNoticeShown:
		if !s.NoticeShown {
			return fail(true, false, "connection-lost notice")
		}
		return nil
	}
	return fail(nil, nil, "unknown assertion type")
}
