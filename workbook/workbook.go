// Package workbook defines the collaborator interfaces spec §6 lists as
// "consumed from the workbook collaborator": the read-only surface the
// evaluator needs from whatever hosts the actual cell data, sheet
// structure and name definitions. A host application (or, for tests and
// as a reference, package memworkbook) implements these.
//
// Grounded on the teacher's storage.go/sheet.go split between Storage
// (shared tables) and Spreadsheet (the orchestrating façade): the same
// division of "where data lives" from "how it's evaluated" is kept here,
// just expressed as interfaces instead of concrete structs, because this
// engine must work against a workbook it does not own.
package workbook

import (
	"github.com/npoi-go/formulaengine/coord"
	"github.com/npoi-go/formulaengine/registry"
	"github.com/npoi-go/formulaengine/value"
)

// CellData is a single cell's raw content, as read off the host.
type CellData struct {
	// Formula is the cell's formula text (without a leading "="), or ""
	// if the cell holds a literal value.
	Formula string
	// Literal is the cell's literal value when Formula == "".
	Literal value.Value
}

// NameDefinition is a defined name's target: either a fixed range or a
// formula expression (spec's "named range" covers both).
type NameDefinition struct {
	IsRange bool
	Range   coord.RangeID
	Formula string
}

// Sheet is one worksheet's read surface.
type Sheet interface {
	// Name returns the sheet's display name.
	Name() string
	// Cell returns the raw content at (row, col), and false if the cell
	// has never been written (a genuinely blank cell).
	Cell(row, col uint32) (CellData, bool)
}

// Workbook is the full read surface an evaluator needs from its host.
type Workbook interface {
	// Version reports the row/column maxima in force (spec §4.9).
	Version() coord.SpreadsheetVersion

	// SheetByIndex returns the sheet at ix, or false if out of range.
	SheetByIndex(ix int32) (Sheet, bool)
	// SheetIndexByName resolves a sheet name to its index, case-
	// insensitively (spec §4.1 "case-insensitive sheet lookup"). Returns
	// false if no such sheet exists.
	SheetIndexByName(name string) (int32, bool)
	// SheetCount reports how many sheets this workbook has.
	SheetCount() int32

	// NameDefinition resolves a defined name, workbook-scoped if
	// sheetIx < 0 or sheet-scoped otherwise (sheet-scoped names shadow
	// workbook-scoped ones of the same spelling).
	NameDefinition(name string, sheetIx int32) (NameDefinition, bool)

	// UDFFinder exposes any user-defined functions this host registers,
	// or nil if it has none.
	UDFFinder() registry.UDFFinder
}

// ExternalWorkbookResolver resolves a workbook name recorded on a Ref3D/
// Area3D token (spec §4.1/§6 external workbook references) to the
// collaborating evaluator's index. Nothing in this module calls it: the
// interpreter resolves such names through environment.Environment.
type ExternalWorkbookResolver interface {
	ResolveExternalWorkbook(name string) (uint32, bool)
}
