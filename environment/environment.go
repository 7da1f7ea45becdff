// Package environment implements the collaborating-workbook environment of
// spec §4.1/§6: a shared registry letting several evaluators resolve
// cross-workbook references (Ref3D/Area3D tokens naming an external
// workbook) against each other, keyed by the name each evaluator
// registers under.
//
// This has no direct counterpart in the teacher, whose Spreadsheet is
// always single-workbook; it is modeled after the same "shared lookup
// table with named participants" shape the teacher uses for worksheet and
// named-range interning (worksheet.go WorksheetTable /
// NamedRangeTable), generalized from table-of-strings to table-of-
// collaborators.
package environment

import (
	"sync"

	"github.com/npoi-go/formulaengine/coord"
	"github.com/npoi-go/formulaengine/tracker"
	"github.com/npoi-go/formulaengine/value"
)

// Evaluator is the minimal surface a workbook evaluator exposes to its
// collaborators: enough to resolve a single cell or clear caches when
// asked. Package evaluator's *Evaluator implements this.
type Evaluator interface {
	// WorkbookIx reports this evaluator's own workbook index.
	WorkbookIx() uint32
	// EvaluateCellID evaluates (or returns the cached result for) the
	// given cell, which must belong to this evaluator's own workbook.
	// trk is the caller's own reentrancy tracker, threaded across the
	// workbook boundary so a cycle spanning multiple collaborating
	// workbooks is caught the same way a same-workbook cycle is (spec §1:
	// "cycle detection across arbitrarily deep formula chains that may
	// span multiple collaborating workbooks"). coord.CellID already
	// carries WorkbookIx, so one shared tracker keys cross-workbook frames
	// correctly without any change to how the tracker itself works.
	EvaluateCellID(id coord.CellID, trk *tracker.Tracker) (value.Value, error)
	// ClearAllCachedResults drops every cached result in this evaluator,
	// called when a collaborator workbook is detached (spec: stale
	// cross-workbook results must not survive the detach).
	ClearAllCachedResults()
}

// Environment is a named registry of collaborating evaluators.
type Environment struct {
	mu     sync.RWMutex
	byName map[string]Evaluator
}

// New constructs an empty environment.
func New() *Environment {
	return &Environment{byName: make(map[string]Evaluator)}
}

// Attach registers ev under name, replacing any previous registration
// under that name (spec: attaching is idempotent by name).
func (e *Environment) Attach(name string, ev Evaluator) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.byName[name] = ev
}

// Detach removes the evaluator registered under name, if any, and clears
// its cached results so no stale cross-workbook value lingers.
func (e *Environment) Detach(name string) {
	e.mu.Lock()
	ev, ok := e.byName[name]
	delete(e.byName, name)
	e.mu.Unlock()
	if ok {
		ev.ClearAllCachedResults()
	}
}

// Resolve looks up the evaluator registered under name.
func (e *Environment) Resolve(name string) (Evaluator, bool) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	ev, ok := e.byName[name]
	return ev, ok
}

// Names lists every currently attached collaborator name, for
// diagnostics.
func (e *Environment) Names() []string {
	e.mu.RLock()
	defer e.mu.RUnlock()
	names := make([]string, 0, len(e.byName))
	for name := range e.byName {
		names = append(names, name)
	}
	return names
}
