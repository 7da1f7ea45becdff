// Package interp is the formula interpreter of spec §4.8: a stack machine
// that executes a compiled postfix token stream (package ptg) against an
// evaluation Context, dispatching control-flow tokens (IF/CHOOSE/Skip) by
// their encoded byte distance and falling through to the operator/
// function registry (package registry) for everything else.
//
// Grounded on the teacher's formula.go tree-walking Eval, generalized from
// recursive AST descent to an explicit postfix stack because the spec's
// token stream is linear (no tree), and from the teacher's bare Primitive
// result type to this engine's richer value.Value so references and areas
// can ride the stack unresolved until an operator actually needs a scalar
// (spec §4.2's lazy dereference).
package interp

import (
	"github.com/npoi-go/formulaengine/coord"
	"github.com/npoi-go/formulaengine/environment"
	"github.com/npoi-go/formulaengine/evalerr"
	"github.com/npoi-go/formulaengine/ptg"
	"github.com/npoi-go/formulaengine/registry"
	"github.com/npoi-go/formulaengine/value"
	"github.com/npoi-go/formulaengine/workbook"
)

// CellResolver is implemented by the evaluator to let the interpreter
// recursively resolve a cell's value (evaluating its formula if needed)
// without the interp package depending on the evaluator package — the
// same inversion the teacher achieves with its injected Clock/
// RandomGenerator collaborators, generalized to a recursive callback.
type CellResolver interface {
	// ResolveCell returns the current value of id, evaluating its
	// formula first if it has one and is not already cached. interp does
	// no dependency bookkeeping of its own: the implementation records the
	// read against whatever tracker it carries.
	ResolveCell(id coord.CellID) (value.Value, error)
	// RawCell returns id's unevaluated content, used by ISBLANK to see
	// the cell before the blank-to-zero coercion applies.
	RawCell(id coord.CellID) (workbook.CellData, bool)
}

// ExternalCellEvaluator is an optional capability of CellResolver: a
// resolver that can reach across the environment.Evaluator boundary to a
// collaborating workbook implements it, threading its own reentrancy
// tracker through the call so a formula chain that cycles back from
// another workbook is caught exactly like a same-workbook cycle. interp
// never imports package tracker itself; it only knows this method exists.
type ExternalCellEvaluator interface {
	EvaluateExternal(ev environment.Evaluator, id coord.CellID) (value.Value, error)
}

// Context is everything one token-stream execution needs: the workbook to
// read structure from, a resolver to fetch other cells' values, the
// function registry, and the current cell's address (for relative
// reference resolution, spec §4.9, and for the dependency edges recorded
// against it).
type Context struct {
	Workbook   workbook.Workbook
	Resolver   CellResolver
	Registry   *registry.Registry
	WorkbookIx uint32
	Cell       coord.CellID

	// Env resolves external workbook names on Ref3D/Area3D tokens. nil if
	// this evaluator is not attached to a collaborating environment.
	Env *environment.Environment

	// IgnoreMissingWorkbooks, when true, makes a Ref3D/Area3D naming an
	// unattached external workbook fall back to the token's CachedLiteral
	// instead of raising FaultMissingExternalWorkbook (spec §6 supplemented
	// option).
	IgnoreMissingWorkbooks bool

	// ArrayFormulaContext suppresses the blank-to-zero coercion when a
	// referenced cell is read (see resolveAndDeref). It has no effect on
	// control flow: ControlIf/ControlChoose/ControlSkip tokens take their
	// encoded jumps whether it is set or not.
	ArrayFormulaContext bool

	// Trace, when non-nil, is called with every token before it executes.
	// Wired by package evaluator's one-shot debug_evaluation_output_for_next_eval
	// latch (spec §6, §9 "Logger as a collaborator"); left nil in the
	// common case so tracing costs nothing.
	Trace func(index int, tok ptg.Token)
}

// sheetIxOrCurrent resolves a token's SheetIx field (-1 meaning "the
// formula's own sheet") to a concrete index.
func (c *Context) sheetIxOrCurrent(sheetIx int32) int32 {
	if sheetIx < 0 {
		return c.Cell.SheetIx
	}
	return sheetIx
}

// ReadScalars implements registry.CellReader: it expands v into every
// scalar it denotes, dereferencing (and blank-to-zero coercing, spec
// §4.2) each one along the way. Non-reference values are appended as-is.
func (c *Context) ReadScalars(v value.Value, dst []value.Value) []value.Value {
	switch v.Kind {
	case value.KindSingleRef:
		scalar, err := c.resolveAndDeref(idFromRef(c.WorkbookIx, v.Ref))
		if err != nil {
			return append(dst, value.Error(value.ErrRef))
		}
		return append(dst, scalar)
	case value.KindArea:
		a := v.AreaVal
		for row := a.FirstRow; row <= a.LastRow; row++ {
			for col := a.FirstCol; col <= a.LastCol; col++ {
				id := coord.CellID{WorkbookIx: c.WorkbookIx, SheetIx: a.SheetIx, Row: row, Col: col}
				scalar, err := c.resolveAndDeref(id)
				if err != nil {
					dst = append(dst, value.Error(value.ErrRef))
					continue
				}
				dst = append(dst, scalar)
			}
		}
		return dst
	case value.KindRefList:
		for _, elem := range v.List {
			dst = c.ReadScalars(elem, dst)
		}
		return dst
	default:
		return append(dst, v)
	}
}

// IsBlankCell implements registry.CellReader for ISBLANK: it inspects the
// raw cell content, before the formula-result blank-to-zero coercion.
func (c *Context) IsBlankCell(v value.Value) bool {
	if v.Kind != value.KindSingleRef {
		return false
	}
	id := idFromRef(c.WorkbookIx, v.Ref)
	data, ok := c.Resolver.RawCell(id)
	if !ok {
		return true
	}
	return data.Formula == "" && data.Literal.Kind == value.KindBlank
}

// resolveAndDeref fetches id's value (triggering evaluation if it is an
// uncached formula cell) and applies the formula-result blank-to-zero
// coercion (spec §4.2), unless ArrayFormulaContext suppresses it.
func (c *Context) resolveAndDeref(id coord.CellID) (value.Value, error) {
	v, err := c.Resolver.ResolveCell(id)
	if err != nil {
		return value.Value{}, err
	}
	if v.Kind == value.KindBlank && !c.ArrayFormulaContext {
		return value.Number(0), nil
	}
	return v, nil
}

func idFromRef(workbookIx uint32, r value.SingleRef) coord.CellID {
	return coord.CellID{WorkbookIx: workbookIx, SheetIx: r.SheetIx, Row: r.Row, Col: r.Col}
}

// faultCellRef builds an evalerr.CellRef for the context's current cell.
func (c *Context) faultCellRef() evalerr.CellRef {
	return evalerr.CellRef{
		WorkbookIx: c.Cell.WorkbookIx,
		SheetIx:    c.Cell.SheetIx,
		Row:        c.Cell.Row,
		Col:        c.Cell.Col,
	}
}
