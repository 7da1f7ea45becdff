package formulaparser

import (
	"testing"

	"github.com/npoi-go/formulaengine/coord"
	"github.com/npoi-go/formulaengine/interp"
	"github.com/npoi-go/formulaengine/ptg"
	"github.com/npoi-go/formulaengine/registry"
	"github.com/npoi-go/formulaengine/value"
	"github.com/npoi-go/formulaengine/workbook"
)

// stubWorkbook resolves a fixed set of sheet names; it never stores cells
// (compilation needs only sheet indices, not cell contents).
type stubWorkbook struct {
	sheets []string
}

func (s *stubWorkbook) Version() coord.SpreadsheetVersion { return coord.Excel2007 }
func (s *stubWorkbook) SheetByIndex(ix int32) (workbook.Sheet, bool) {
	return nil, false
}
func (s *stubWorkbook) SheetIndexByName(name string) (int32, bool) {
	for i, n := range s.sheets {
		if n == name {
			return int32(i), true
		}
	}
	return 0, false
}
func (s *stubWorkbook) SheetCount() int32 { return int32(len(s.sheets)) }
func (s *stubWorkbook) NameDefinition(name string, sheetIx int32) (workbook.NameDefinition, bool) {
	return workbook.NameDefinition{}, false
}
func (s *stubWorkbook) UDFFinder() registry.UDFFinder { return nil }

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

func evalFormula(t *testing.T, formula string, wb workbook.Workbook, values map[coord.CellID]value.Value, home coord.CellID) value.Value {
	t.Helper()
	tokens, err := Compile(formula, wb)
	if err != nil {
		t.Fatalf("Compile(%q): %v", formula, err)
	}
	ctx := &interp.Context{
		Workbook:   wb,
		Resolver:   &stubResolver{values: values},
		Registry:   registry.New(nil),
		WorkbookIx: home.WorkbookIx,
		Cell:       home,
	}
	got, err := interp.Eval(tokens, ctx)
	if err != nil {
		t.Fatalf("Eval(%q): %v", formula, err)
	}
	return got
}

func TestCompileSimpleArithmetic(t *testing.T) {
	got := evalFormula(t, "=1+2*3", nil, nil, coord.CellID{})
	if got.Kind != value.KindNumber || got.Num != 7 {
		t.Fatalf("expected 7, got %v", got)
	}
}

func TestCompileParenthesesOverridePrecedence(t *testing.T) {
	got := evalFormula(t, "=(1+2)*3", nil, nil, coord.CellID{})
	if got.Num != 9 {
		t.Fatalf("expected 9, got %v", got)
	}
}

func TestCompileCellReferenceAndFunctionCall(t *testing.T) {
	a1 := coord.CellID{Row: 0, Col: 0}
	a2 := coord.CellID{Row: 1, Col: 0}
	values := map[coord.CellID]value.Value{
		a1: value.Number(10),
		a2: value.Number(32),
	}
	reg := registry.New(nil)
	bi := registry.NewBuiltIns()
	bi.RegisterInto(reg, 0)

	tokens, err := Compile("=SUM(A1:A2)", nil)
	if err != nil {
		t.Fatalf("Compile: %v", err)
	}
	ctx := &interp.Context{
		Resolver: &stubResolver{values: values},
		Registry: reg,
		Cell:     coord.CellID{},
	}
	got, err := interp.Eval(tokens, ctx)
	if err != nil {
		t.Fatalf("Eval: %v", err)
	}
	if got.Num != 42 {
		t.Fatalf("expected 42, got %v", got)
	}
}

func TestCompileSheetQualifiedReference(t *testing.T) {
	wb := &stubWorkbook{sheets: []string{"Sheet1", "Sheet2"}}
	values := map[coord.CellID]value.Value{
		{SheetIx: 1, Row: 0, Col: 0}: value.Number(99),
	}
	tokens, err := Compile("=Sheet2!A1", wb)
	if err != nil {
		t.Fatalf("Compile: %v", err)
	}
	ctx := &interp.Context{
		Workbook: wb,
		Resolver: &stubResolver{values: values},
		Registry: registry.New(nil),
		Cell:     coord.CellID{SheetIx: 0},
	}
	raw, err := interp.Eval(tokens, ctx)
	if err != nil {
		t.Fatalf("Eval: %v", err)
	}
	if raw.Kind != value.KindSingleRef {
		t.Fatalf("expected a reference value before dereferencing, got %v", raw)
	}
	resolved := ctx.Dereference(raw)
	if resolved.Num != 99 {
		t.Fatalf("expected 99, got %v", resolved)
	}
}

func TestCompileUnknownSheetIsCompileError(t *testing.T) {
	wb := &stubWorkbook{sheets: []string{"Sheet1"}}
	if _, err := Compile("=Missing!A1", wb); err == nil {
		t.Fatal("expected an error compiling a reference to an unknown sheet")
	}
}

func TestCompileIfThreeArg(t *testing.T) {
	gotTrue := evalFormula(t, `=IF(1>0,"yes","no")`, nil, nil, coord.CellID{})
	if gotTrue.Str != "yes" {
		t.Fatalf("expected yes, got %v", gotTrue)
	}
	gotFalse := evalFormula(t, `=IF(1<0,"yes","no")`, nil, nil, coord.CellID{})
	if gotFalse.Str != "no" {
		t.Fatalf("expected no, got %v", gotFalse)
	}
}

func TestCompileIfTwoArgFalseYieldsBoolean(t *testing.T) {
	got := evalFormula(t, `=IF(1<0,"yes")`, nil, nil, coord.CellID{})
	if got.Kind != value.KindBool || got.Bool {
		t.Fatalf("expected FALSE, got %v", got)
	}
}

func TestCompileChooseSelectsBranch(t *testing.T) {
	got := evalFormula(t, "=CHOOSE(2,10,20,30)", nil, nil, coord.CellID{})
	if got.Num != 20 {
		t.Fatalf("expected 20, got %v", got)
	}
}

func TestCompileChooseOutOfRange(t *testing.T) {
	got := evalFormula(t, "=CHOOSE(5,10,20,30)", nil, nil, coord.CellID{})
	if !got.IsError() || got.Err != value.ErrValue {
		t.Fatalf("expected #VALUE!, got %v", got)
	}
}

func TestCompileNestedIfInsideArithmetic(t *testing.T) {
	got := evalFormula(t, "=1+IF(2>1,10,20)*2", nil, nil, coord.CellID{})
	if got.Num != 21 {
		t.Fatalf("expected 21, got %v", got)
	}
}

func TestCompileUnaryAndPercent(t *testing.T) {
	got := evalFormula(t, "=-50%", nil, nil, coord.CellID{})
	if got.Num != -0.5 {
		t.Fatalf("expected -0.5, got %v", got)
	}
}

func TestCompileComparisonAndConcat(t *testing.T) {
	got := evalFormula(t, `="a"&"b"="ab"`, nil, nil, coord.CellID{})
	if got.Kind != value.KindBool || !got.Bool {
		t.Fatalf("expected TRUE, got %v", got)
	}
}

func TestParseCellAddrAbsoluteFlags(t *testing.T) {
	addr, ok := parseCellAddr("$A$1")
	if !ok {
		t.Fatal("expected $A$1 to parse")
	}
	if addr.row != 0 || addr.col != 0 || addr.rowRel || addr.colRel {
		t.Fatalf("unexpected parse of $A$1: %+v", addr)
	}
	addr, ok = parseCellAddr("B2")
	if !ok {
		t.Fatal("expected B2 to parse")
	}
	if addr.row != 1 || addr.col != 1 || !addr.rowRel || !addr.colRel {
		t.Fatalf("unexpected parse of B2: %+v", addr)
	}
}

func TestEmitIfDistancesMatchInterpControlGo(t *testing.T) {
	tokens, err := Compile(`=IF(TRUE,1,2)`, nil)
	if err != nil {
		t.Fatalf("Compile: %v", err)
	}
	if len(tokens) != 5 {
		t.Fatalf("expected 5 tokens, got %d: %+v", len(tokens), tokens)
	}
	ifTok := tokens[1]
	if ifTok.Category != ptg.ControlIf || ifTok.IfFalseSkip != 2 || ifTok.IfTotalSkip != 3 {
		t.Fatalf("unexpected ControlIf encoding: %+v", ifTok)
	}
	skipTok := tokens[3]
	if skipTok.Category != ptg.ControlSkip || skipTok.SkipDistance != 1 {
		t.Fatalf("unexpected ControlSkip encoding: %+v", skipTok)
	}
}
