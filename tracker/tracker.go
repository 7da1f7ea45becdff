// Package tracker implements the evaluation tracker of spec §4.6/§4.7: the
// explicit stack that detects circular references during a single
// top-level Evaluate call, independent of the Go call stack, plus the
// per-frame dependency sets and cycle-poisoning marks the evaluator reads
// back when each frame ends.
//
// Grounded on the teacher's graph.go GetCalculationOrder, which detects
// cycles with an explicit three-state (unvisited/visiting/visited) DFS
// over CellAddress. The tracker here generalizes that to an explicit
// push/pop stack driven by the interpreter's own recursion (rather than a
// whole-graph DFS run up front), because the spec's cache is demand-driven
// — cells are discovered as formulas reference them, not walked eagerly.
package tracker

import "github.com/npoi-go/formulaengine/coord"

// frame is one entry on the tracker's explicit stack.
type frame struct {
	id         coord.CellID
	dependents map[coord.CellID]struct{} // every cell this frame has accepted a dependency from
}

// Tracker detects reentrancy of a cell within one top-level evaluation and
// records, for every formula it walks through, which cells it ultimately
// depended on.
type Tracker struct {
	stack    []frame
	onStack  map[coord.CellID]int // id -> index into stack, for O(1) reentrancy checks
	poisoned map[coord.CellID]struct{}
}

// New constructs an empty Tracker. One Tracker is scoped to a single
// top-level Evaluate call (spec §4.6); the evaluator creates a fresh one
// per call.
func New() *Tracker {
	return &Tracker{onStack: make(map[coord.CellID]int)}
}

// StartEvaluate pushes id onto the stack. The returned bool reports
// whether id was already on the stack — a circular reference (spec §4.6).
// On a cycle, the caller must NOT push again; the existing frame is left
// in place so EndEvaluate still pairs correctly with the original push.
func (t *Tracker) StartEvaluate(id coord.CellID) (alreadyOnStack bool) {
	if _, ok := t.onStack[id]; ok {
		return true
	}
	t.onStack[id] = len(t.stack)
	t.stack = append(t.stack, frame{id: id, dependents: make(map[coord.CellID]struct{})})
	return false
}

// EndEvaluate pops the top frame, which must match id. Every cell the
// popped frame accepted a dependency from is returned so the caller (the
// evaluator) can record input edges in the cache in one batch.
func (t *Tracker) EndEvaluate(id coord.CellID) (inputs []coord.CellID) {
	n := len(t.stack)
	if n == 0 || t.stack[n-1].id != id {
		return nil
	}
	top := t.stack[n-1]
	t.stack = t.stack[:n-1]
	delete(t.onStack, id)

	inputs = make([]coord.CellID, 0, len(top.dependents))
	for dep := range top.dependents {
		inputs = append(inputs, dep)
	}
	return inputs
}

// Top returns the cell currently being evaluated (the innermost frame),
// and false if the stack is empty.
func (t *Tracker) Top() (coord.CellID, bool) {
	if len(t.stack) == 0 {
		return coord.CellID{}, false
	}
	return t.stack[len(t.stack)-1].id, true
}

// AcceptDependency records that the cell currently on top of the stack
// read dep (a plain cell or an already-resolved formula cell). No-op if
// the stack is empty (top-level literal evaluation with no enclosing
// cell, spec §4.1 Evaluate(formula_string, ref)).
func (t *Tracker) AcceptDependency(dep coord.CellID) {
	if len(t.stack) == 0 {
		return
	}
	top := &t.stack[len(t.stack)-1]
	top.dependents[dep] = struct{}{}
}

// Depth reports how many frames are currently on the stack, for tests and
// diagnostics.
func (t *Tracker) Depth() int { return len(t.stack) }

// MarkCyclePoisoned records that id (found already on the stack by
// StartEvaluate) closes a cycle, and poisons every frame from id's own
// position to the top of the stack — exactly the cells on the cycle. The
// evaluator consults IsPoisoned after each of those frames' EndEvaluate to
// suppress committing a cache result (spec §8: "no formula entry on the
// cycle is left with a committed Some").
func (t *Tracker) MarkCyclePoisoned(id coord.CellID) {
	start, ok := t.onStack[id]
	if !ok {
		return
	}
	if t.poisoned == nil {
		t.poisoned = make(map[coord.CellID]struct{})
	}
	for i := start; i < len(t.stack); i++ {
		t.poisoned[t.stack[i].id] = struct{}{}
	}
}

// IsPoisoned reports whether id was marked by MarkCyclePoisoned during this
// Tracker's lifetime.
func (t *Tracker) IsPoisoned(id coord.CellID) bool {
	_, ok := t.poisoned[id]
	return ok
}
