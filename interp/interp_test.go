package interp

import (
	"testing"

	"github.com/npoi-go/formulaengine/coord"
	"github.com/npoi-go/formulaengine/ptg"
	"github.com/npoi-go/formulaengine/registry"
	"github.com/npoi-go/formulaengine/value"
	"github.com/npoi-go/formulaengine/workbook"
)

type stubResolver struct {
	values map[coord.CellID]value.Value
}

func (s *stubResolver) ResolveCell(id coord.CellID) (value.Value, error) {
	if v, ok := s.values[id]; ok {
		return v, nil
	}
	return value.Blank(), nil
}

func (s *stubResolver) RawCell(id coord.CellID) (workbook.CellData, bool) {
	v, ok := s.values[id]
	if !ok {
		return workbook.CellData{}, false
	}
	return workbook.CellData{Literal: v}, true
}

func newTestContext(values map[coord.CellID]value.Value) *Context {
	return &Context{
		Resolver:   &stubResolver{values: values},
		Registry:   registry.New(nil),
		WorkbookIx: 0,
		Cell:       coord.CellID{WorkbookIx: 0, SheetIx: 0, Row: 10, Col: 10},
	}
}

func refToken(row, col uint32) ptg.Token {
	return ptg.Token{Category: ptg.CategoryRef, SheetIx: -1, Row: row, Col: col, Size: 1}
}

func TestEvalSimpleArithmetic(t *testing.T) {
	a1 := coord.CellID{SheetIx: 0, Row: 0, Col: 0}
	a2 := coord.CellID{SheetIx: 0, Row: 0, Col: 1}
	ctx := newTestContext(map[coord.CellID]value.Value{
		a1: value.Number(2),
		a2: value.Number(3),
	})

	tokens := []ptg.Token{
		refToken(0, 0),
		refToken(0, 1),
		{Category: ptg.CategoryOperator, Form: ptg.FormBinary, BinaryOp: ptg.OpAdd, Size: 1},
	}

	got, err := Eval(tokens, ctx)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got.Kind != value.KindNumber || got.Num != 5 {
		t.Fatalf("expected 5, got %v", got)
	}
}

func TestEvalBlankOperandCoercesToZero(t *testing.T) {
	a1 := coord.CellID{SheetIx: 0, Row: 0, Col: 0}
	ctx := newTestContext(map[coord.CellID]value.Value{
		a1: value.Number(7),
	})

	tokens := []ptg.Token{
		refToken(0, 0),
		refToken(0, 1), // unset -> blank -> 0
		{Category: ptg.CategoryOperator, Form: ptg.FormBinary, BinaryOp: ptg.OpAdd, Size: 1},
	}

	got, err := Eval(tokens, ctx)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got.Num != 7 {
		t.Fatalf("expected 7, got %v", got)
	}
}

// buildIf constructs the token stream for IF(cond, 1, 2) using the fixed
// Size-1-per-token scheme documented on formulaparser's emitter
// (formulaparser/compile.go).
func buildIf(cond bool) []ptg.Token {
	return []ptg.Token{
		{Category: ptg.CategoryLiteral, Literal: value.Boolean(cond), Size: 1},
		{Category: ptg.ControlIf, IfFalseSkip: 2, IfTotalSkip: 3, Size: 1},
		{Category: ptg.CategoryLiteral, Literal: value.Number(1), Size: 1},
		{Category: ptg.ControlSkip, SkipDistance: 1, Size: 1},
		{Category: ptg.CategoryLiteral, Literal: value.Number(2), Size: 1},
	}
}

func TestEvalIfShortCircuitsTrueBranch(t *testing.T) {
	ctx := newTestContext(nil)
	got, err := Eval(buildIf(true), ctx)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got.Num != 1 {
		t.Fatalf("expected 1, got %v", got)
	}
}

func TestEvalIfShortCircuitsFalseBranch(t *testing.T) {
	ctx := newTestContext(nil)
	got, err := Eval(buildIf(false), ctx)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got.Num != 2 {
		t.Fatalf("expected 2, got %v", got)
	}
}

// buildChoose constructs CHOOSE(selector, 10, 20).
func buildChoose(selector float64) []ptg.Token {
	return []ptg.Token{
		{Category: ptg.CategoryLiteral, Literal: value.Number(selector), Size: 1},
		{Category: ptg.ControlChoose, ChooseJumpTable: []int{0, 2}, ChooseEndSkip: 4, Size: 1},
		{Category: ptg.CategoryLiteral, Literal: value.Number(10), Size: 1},
		{Category: ptg.ControlSkip, SkipDistance: 2, Size: 1},
		{Category: ptg.CategoryLiteral, Literal: value.Number(20), Size: 1},
		{Category: ptg.ControlSkip, SkipDistance: 0, Size: 1},
	}
}

func TestEvalChooseSelectsBranch(t *testing.T) {
	ctx := newTestContext(nil)

	got, err := Eval(buildChoose(1), ctx)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got.Num != 10 {
		t.Fatalf("CHOOSE(1,10,20) expected 10, got %v", got)
	}

	got, err = Eval(buildChoose(2), ctx)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got.Num != 20 {
		t.Fatalf("CHOOSE(2,10,20) expected 20, got %v", got)
	}
}

func TestEvalChooseOutOfRangeYieldsValueError(t *testing.T) {
	ctx := newTestContext(nil)

	got, err := Eval(buildChoose(3), ctx)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !got.IsError() || got.Err != value.ErrValue {
		t.Fatalf("CHOOSE(3,10,20) expected #VALUE!, got %v", got)
	}
}

func TestDereferenceSingleColumnAreaProjectsToSourceRow(t *testing.T) {
	a6 := coord.CellID{SheetIx: 0, Row: 5, Col: 0}
	ctx := newTestContext(map[coord.CellID]value.Value{a6: value.Number(42)})
	ctx.Cell = coord.CellID{WorkbookIx: 0, SheetIx: 0, Row: 5, Col: 10}

	area := value.AreaValue(value.Area{SheetIx: 0, FirstRow: 0, FirstCol: 0, LastRow: 9, LastCol: 0})
	got := ctx.Dereference(area)
	if got.Kind != value.KindNumber || got.Num != 42 {
		t.Fatalf("expected implicit intersection to project A1:A10 to A6, got %v", got)
	}
}

func TestDereferenceSingleRowAreaProjectsToSourceColumn(t *testing.T) {
	c1 := coord.CellID{SheetIx: 0, Row: 0, Col: 2}
	ctx := newTestContext(map[coord.CellID]value.Value{c1: value.Number(7)})
	ctx.Cell = coord.CellID{WorkbookIx: 0, SheetIx: 0, Row: 10, Col: 2}

	area := value.AreaValue(value.Area{SheetIx: 0, FirstRow: 0, FirstCol: 0, LastRow: 0, LastCol: 9})
	got := ctx.Dereference(area)
	if got.Kind != value.KindNumber || got.Num != 7 {
		t.Fatalf("expected implicit intersection to project A1:J1 to C1, got %v", got)
	}
}

func TestDereferenceAreaOutsideSourceRowOrColumnIsValueError(t *testing.T) {
	ctx := newTestContext(nil) // Cell at Row:10, Col:10
	area := value.AreaValue(value.Area{SheetIx: 0, FirstRow: 0, FirstCol: 0, LastRow: 1, LastCol: 0})
	got := ctx.Dereference(area)
	if !got.IsError() || got.Err != value.ErrValue {
		t.Fatalf("expected #VALUE! when the source row/col falls outside the area span, got %v", got)
	}
}

func TestDereferenceMultiRowMultiColAreaRequiresSourceInsideSpan(t *testing.T) {
	inside := coord.CellID{SheetIx: 0, Row: 3, Col: 3}
	ctx := newTestContext(map[coord.CellID]value.Value{inside: value.Number(99)})
	ctx.Cell = coord.CellID{WorkbookIx: 0, SheetIx: 0, Row: 3, Col: 3}

	area := value.AreaValue(value.Area{SheetIx: 0, FirstRow: 0, FirstCol: 0, LastRow: 5, LastCol: 5})
	got := ctx.Dereference(area)
	if got.Kind != value.KindNumber || got.Num != 99 {
		t.Fatalf("expected the source cell's own position inside the span to resolve, got %v", got)
	}

	ctx.Cell = coord.CellID{WorkbookIx: 0, SheetIx: 0, Row: 20, Col: 20}
	got = ctx.Dereference(area)
	if !got.IsError() || got.Err != value.ErrValue {
		t.Fatalf("expected #VALUE! when the source cell falls outside a multi-row, multi-col area, got %v", got)
	}
}
