// Package memworkbook is an in-memory implementation of the workbook.Workbook
// and workbook.Sheet interfaces: a reference host used by tests and by
// anything that just wants a spreadsheet in memory without wiring up its
// own storage.
//
// Grounded on the teacher's storage.go Storage / WorksheetTable split
// (name-indexed worksheet table, case-insensitive lookup by name) and
// sheet.go's Spreadsheet façade, collapsed into two concrete types since
// this package owns both roles instead of splitting "shared tables" from
// "orchestration". The teacher's separate StringTable (interning strings
// behind integer indices for its own serialization format) has no
// counterpart here: value.Value stores Go strings directly, so there is
// nothing to intern.
package memworkbook

import (
	"strings"
	"sync"

	"github.com/npoi-go/formulaengine/coord"
	"github.com/npoi-go/formulaengine/registry"
	"github.com/npoi-go/formulaengine/value"
	"github.com/npoi-go/formulaengine/workbook"
)

type cellKey struct{ row, col uint32 }

// Sheet is one in-memory worksheet.
type Sheet struct {
	mu    sync.RWMutex
	name  string
	cells map[cellKey]workbook.CellData
}

func newSheet(name string) *Sheet {
	return &Sheet{name: name, cells: make(map[cellKey]workbook.CellData)}
}

// Name implements workbook.Sheet.
func (s *Sheet) Name() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.name
}

// Cell implements workbook.Sheet.
func (s *Sheet) Cell(row, col uint32) (workbook.CellData, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	cd, ok := s.cells[cellKey{row, col}]
	return cd, ok
}

// SetFormula stores a formula (without a leading "=") at (row, col).
func (s *Sheet) SetFormula(row, col uint32, formula string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cells[cellKey{row, col}] = workbook.CellData{Formula: formula}
}

// SetLiteral stores a literal value at (row, col).
func (s *Sheet) SetLiteral(row, col uint32, v value.Value) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cells[cellKey{row, col}] = workbook.CellData{Literal: v}
}

// Clear removes a cell's content entirely, distinct from setting it blank:
// after Clear, Cell reports ok=false (spec's "never written" state).
func (s *Sheet) Clear(row, col uint32) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.cells, cellKey{row, col})
}

type nameKey struct {
	sheetIx int32
	name    string
}

// nameEntry tracks one defined name's target alongside how many formulas
// currently reference it, adapted from the teacher's range.go
// NamedRangeTable: a name can exist purely as a forward reference (cited by
// a formula before it's ever defined) and stays alive only as long as its
// reference count is positive or it carries a definition.
type nameEntry struct {
	def     workbook.NameDefinition
	defined bool
	refs    int
}

// Book is an in-memory workbook: a name-indexed set of sheets plus defined
// names, matching the teacher's case-insensitive worksheet lookup
// (storage.go WorksheetTable.GetWorksheetByName).
type Book struct {
	mu         sync.RWMutex
	version    coord.SpreadsheetVersion
	sheets     []*Sheet
	sheetIndex map[string]int32 // upper(name) -> index
	names      map[nameKey]*nameEntry
	udf        registry.UDFFinder
}

// New constructs an empty workbook targeting the Excel2007 format limits.
func New() *Book {
	return &Book{
		version:    coord.Excel2007,
		sheetIndex: make(map[string]int32),
		names:      make(map[nameKey]*nameEntry),
	}
}

// WithUDFFinder attaches a user-defined-function finder (spec §4.3).
func (b *Book) WithUDFFinder(f registry.UDFFinder) *Book {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.udf = f
	return b
}

// Version implements workbook.Workbook.
func (b *Book) Version() coord.SpreadsheetVersion { return b.version }

// SheetByIndex implements workbook.Workbook.
func (b *Book) SheetByIndex(ix int32) (workbook.Sheet, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if ix < 0 || int(ix) >= len(b.sheets) {
		return nil, false
	}
	return b.sheets[ix], true
}

// SheetIndexByName implements workbook.Workbook, case-insensitively (spec
// §4.1).
func (b *Book) SheetIndexByName(name string) (int32, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	ix, ok := b.sheetIndex[strings.ToUpper(name)]
	return ix, ok
}

// SheetCount implements workbook.Workbook.
func (b *Book) SheetCount() int32 {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return int32(len(b.sheets))
}

// AddSheet appends a new sheet named name and returns it. name must not
// already exist (case-insensitively); AddSheet returns nil if it does.
func (b *Book) AddSheet(name string) *Sheet {
	b.mu.Lock()
	defer b.mu.Unlock()
	key := strings.ToUpper(name)
	if _, exists := b.sheetIndex[key]; exists {
		return nil
	}
	sh := newSheet(name)
	b.sheetIndex[key] = int32(len(b.sheets))
	b.sheets = append(b.sheets, sh)
	return sh
}

// Sheet returns the sheet at ix, the same value SheetByIndex would return
// but typed as *Sheet for callers that want to mutate it directly.
func (b *Book) Sheet(ix int32) *Sheet {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if ix < 0 || int(ix) >= len(b.sheets) {
		return nil
	}
	return b.sheets[ix]
}

// DefineName registers a defined name, workbook-scoped if sheetIx < 0. If
// the name was previously only a forward reference (cited by a formula but
// never defined), it transitions to defined in place without disturbing its
// reference count.
func (b *Book) DefineName(name string, sheetIx int32, def workbook.NameDefinition) {
	b.mu.Lock()
	defer b.mu.Unlock()
	key := nameKey{sheetIx: sheetIx, name: strings.ToUpper(name)}
	if e, ok := b.names[key]; ok {
		e.def = def
		e.defined = true
		return
	}
	b.names[key] = &nameEntry{def: def, defined: true}
}

// NameDefinition implements workbook.Workbook: a sheet-scoped name shadows
// a workbook-scoped one of the same spelling. A name that exists only as a
// forward reference (refs > 0 but never defined) reports ok=false here,
// matching IsRange's placeholder path in the evaluator.
func (b *Book) NameDefinition(name string, sheetIx int32) (workbook.NameDefinition, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	key := strings.ToUpper(name)
	if sheetIx >= 0 {
		if e, ok := b.names[nameKey{sheetIx: sheetIx, name: key}]; ok && e.defined {
			return e.def, true
		}
	}
	e, ok := b.names[nameKey{sheetIx: -1, name: key}]
	if !ok || !e.defined {
		return workbook.NameDefinition{}, false
	}
	return e.def, true
}

// ReferenceName records that a formula now depends on name, creating an
// undefined placeholder entry if name has never been seen before (a
// forward reference: the named range can be cited before DefineName ever
// runs). Adapted from the teacher's range.go NamedRangeTable.InternNamedRange.
func (b *Book) ReferenceName(name string, sheetIx int32) {
	b.mu.Lock()
	defer b.mu.Unlock()
	key := nameKey{sheetIx: sheetIx, name: strings.ToUpper(name)}
	e, ok := b.names[key]
	if !ok {
		e = &nameEntry{}
		b.names[key] = e
	}
	e.refs++
}

// ReleaseName records that a formula no longer depends on name. An
// undefined name (a forward reference whose defining formula was removed,
// or one that was never defined at all) is dropped entirely once its
// reference count reaches zero; a defined name is kept regardless, since
// its definition is itself reason enough to remember it. Returns true if
// the entry was removed. Adapted from the teacher's range.go
// NamedRangeTable.RemoveReference.
func (b *Book) ReleaseName(name string, sheetIx int32) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	key := nameKey{sheetIx: sheetIx, name: strings.ToUpper(name)}
	e, ok := b.names[key]
	if !ok {
		return false
	}
	if e.refs > 0 {
		e.refs--
	}
	if e.refs <= 0 && !e.defined {
		delete(b.names, key)
		return true
	}
	return false
}

// UndefineName removes name's definition, workbook-scoped if sheetIx < 0.
// If formulas still reference it, the entry is kept as an undefined
// placeholder; otherwise it is removed completely. Returns true if the
// name was removed outright.
func (b *Book) UndefineName(name string, sheetIx int32) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	key := nameKey{sheetIx: sheetIx, name: strings.ToUpper(name)}
	e, ok := b.names[key]
	if !ok {
		return false
	}
	e.def = workbook.NameDefinition{}
	e.defined = false
	if e.refs <= 0 {
		delete(b.names, key)
		return true
	}
	return false
}

// NameReferenceCount reports how many formulas currently reference name,
// workbook-scoped if sheetIx < 0. Exposed for tests and diagnostics.
func (b *Book) NameReferenceCount(name string, sheetIx int32) int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	e, ok := b.names[nameKey{sheetIx: sheetIx, name: strings.ToUpper(name)}]
	if !ok {
		return 0
	}
	return e.refs
}

// UDFFinder implements workbook.Workbook.
func (b *Book) UDFFinder() registry.UDFFinder {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.udf
}
