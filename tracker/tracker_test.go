package tracker

import (
	"testing"

	"github.com/npoi-go/formulaengine/coord"
)

func TestStartEvaluateDetectsReentrancy(t *testing.T) {
	tr := New()
	a1 := coord.CellID{Row: 0, Col: 0}
	b1 := coord.CellID{Row: 0, Col: 1}

	if already := tr.StartEvaluate(a1); already {
		t.Fatalf("a1 should not be on stack yet")
	}
	if already := tr.StartEvaluate(b1); already {
		t.Fatalf("b1 should not be on stack yet")
	}
	if already := tr.StartEvaluate(a1); !already {
		t.Fatalf("a1 re-entering its own evaluation should be detected as a cycle")
	}

	if tr.Depth() != 2 {
		t.Fatalf("cycle detection should not push a duplicate frame, depth=%d", tr.Depth())
	}
}

func TestEndEvaluateReturnsAcceptedDependencies(t *testing.T) {
	tr := New()
	a1 := coord.CellID{Row: 0, Col: 0}
	b1 := coord.CellID{Row: 0, Col: 1}
	c1 := coord.CellID{Row: 0, Col: 2}

	tr.StartEvaluate(a1)
	tr.AcceptDependency(b1)
	tr.AcceptDependency(c1)
	inputs := tr.EndEvaluate(a1)

	if len(inputs) != 2 {
		t.Fatalf("expected 2 inputs, got %d", len(inputs))
	}
	if tr.Depth() != 0 {
		t.Fatalf("stack should be empty after EndEvaluate, depth=%d", tr.Depth())
	}
}

func TestNestedEvaluationTracksEachFrameSeparately(t *testing.T) {
	tr := New()
	a1 := coord.CellID{Row: 0, Col: 0}
	b1 := coord.CellID{Row: 0, Col: 1}

	tr.StartEvaluate(a1)
	tr.AcceptDependency(b1)
	tr.StartEvaluate(b1)
	top, ok := tr.Top()
	if !ok || top != b1 {
		t.Fatalf("expected top of stack to be b1")
	}
	bInputs := tr.EndEvaluate(b1)
	if len(bInputs) != 0 {
		t.Fatalf("b1 accepted no dependencies, got %v", bInputs)
	}
	aInputs := tr.EndEvaluate(a1)
	if len(aInputs) != 1 || aInputs[0] != b1 {
		t.Fatalf("a1 should have accepted b1 as a dependency, got %v", aInputs)
	}
}
