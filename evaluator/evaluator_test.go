package evaluator

import (
	"testing"

	"github.com/npoi-go/formulaengine/cache"
	"github.com/npoi-go/formulaengine/coord"
	"github.com/npoi-go/formulaengine/environment"
	"github.com/npoi-go/formulaengine/memworkbook"
	"github.com/npoi-go/formulaengine/ptg"
	"github.com/npoi-go/formulaengine/registry"
	"github.com/npoi-go/formulaengine/value"
)

func newTestEvaluator(b *memworkbook.Book) *Evaluator {
	reg := registry.New(nil)
	registry.NewBuiltIns().RegisterInto(reg, 0)
	return New(b, reg, Config{})
}

func cell(row, col uint32) coord.CellID { return coord.CellID{Row: row, Col: col} }

func TestEvaluateSimpleArithmeticAndInvalidation(t *testing.T) {
	b := memworkbook.New()
	sh := b.AddSheet("Sheet1")
	sh.SetLiteral(0, 0, value.Number(10))
	sh.SetFormula(1, 0, "A1*2")

	ev := newTestEvaluator(b)
	got, err := ev.Evaluate(cell(1, 0))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got.Num != 20 {
		t.Fatalf("expected 20, got %v", got)
	}

	sh.SetLiteral(0, 0, value.Number(100))
	ev.NotifyUpdateCell(cell(0, 0))

	got, err = ev.Evaluate(cell(1, 0))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got.Num != 200 {
		t.Fatalf("expected recalculation to 200, got %v", got)
	}
}

func TestEvaluateIfShortCircuitsFalseBranch(t *testing.T) {
	b := memworkbook.New()
	b.AddSheet("Sheet1")
	ev := newTestEvaluator(b)

	got, err := ev.EvaluateFormula(`IF(1>0,42,1/0)`, cell(0, 0))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got.Kind != value.KindNumber || got.Num != 42 {
		t.Fatalf("expected 42 with no #DIV/0!, got %v", got)
	}
}

// TestEvaluateTwoArgumentIfFalseBranchYieldsFalse guards the asymmetry
// called out in spec §9: a two-argument IF with no false-branch value is
// easy to "fix" into returning blank when the condition is false, but
// Excel (and this engine) yields FALSE instead.
func TestEvaluateTwoArgumentIfFalseBranchYieldsFalse(t *testing.T) {
	b := memworkbook.New()
	b.AddSheet("Sheet1")
	ev := newTestEvaluator(b)

	got, err := ev.EvaluateFormula(`IF(1>2,42)`, cell(0, 0))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got.Kind != value.KindBool || got.Bool != false {
		t.Fatalf("expected FALSE from a missing false branch, got %v", got)
	}
}

func TestEvaluateChooseOutOfRangeIsValueError(t *testing.T) {
	b := memworkbook.New()
	b.AddSheet("Sheet1")
	ev := newTestEvaluator(b)

	got, err := ev.EvaluateFormula(`CHOOSE(5,1,2,3)`, cell(0, 0))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !got.IsError() || got.Err != value.ErrValue {
		t.Fatalf("expected #VALUE!, got %v", got)
	}
}

func TestEvaluateCircularReferenceIsStableAndUncommitted(t *testing.T) {
	b := memworkbook.New()
	sh := b.AddSheet("Sheet1")
	sh.SetFormula(0, 0, "B1+1") // A1
	sh.SetFormula(0, 1, "A1+1") // B1

	ev := newTestEvaluator(b)

	for i := 0; i < 2; i++ {
		got, err := ev.Evaluate(cell(0, 0))
		if err != nil {
			t.Fatalf("unexpected error on pass %d: %v", i, err)
		}
		if !got.IsError() || got.Err != value.ErrCircular {
			t.Fatalf("pass %d: expected #CIRCULAR, got %v", i, got)
		}
	}

	if e, ok := ev.cache.Get(cell(0, 0)); ok && e.Value != nil {
		t.Fatalf("expected A1 to have no committed result, got %v", *e.Value)
	}
	if e, ok := ev.cache.Get(cell(0, 1)); ok && e.Value != nil {
		t.Fatalf("expected B1 to have no committed result, got %v", *e.Value)
	}
}

func TestIsBlankSeesOriginalBlankBeforeZeroCoercion(t *testing.T) {
	b := memworkbook.New()
	sh := b.AddSheet("Sheet1")
	sh.SetFormula(1, 0, "ISBLANK(A1)")
	sh.SetFormula(2, 0, "A1+1")

	ev := newTestEvaluator(b)

	blankCheck, err := ev.Evaluate(cell(1, 0))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if blankCheck.Kind != value.KindBool || !blankCheck.Bool {
		t.Fatalf("expected TRUE for ISBLANK on an unwritten cell, got %v", blankCheck)
	}

	sum, err := ev.Evaluate(cell(2, 0))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if sum.Num != 1 {
		t.Fatalf("expected blank to coerce to 0 in arithmetic, got %v", sum)
	}
}

func TestEvaluateListShiftsRelativeReferencesAcrossRegion(t *testing.T) {
	b := memworkbook.New()
	sh := b.AddSheet("Sheet1")
	sh.SetLiteral(2, 0, value.Number(55)) // A3

	ev := newTestEvaluator(b)

	region := coord.RangeID{FirstRow: 0, FirstCol: 0, LastRow: 0, LastCol: 0}
	got, err := ev.EvaluateList("A1", cell(2, 0), region)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	// EvaluateList does not dereference its result: A1 shifted to A3 is
	// still a reference value until the caller projects it.
	if got.Kind != value.KindSingleRef || got.Ref.Row != 2 {
		t.Fatalf("expected a shifted reference to row 2, got %v", got)
	}
}

func TestSupportedFunctionNamesNonEmpty(t *testing.T) {
	b := memworkbook.New()
	b.AddSheet("Sheet1")
	ev := newTestEvaluator(b)

	names := ev.SupportedFunctionNames()
	if len(names) == 0 {
		t.Fatal("expected a non-empty supported function list")
	}
	found := false
	for _, n := range names {
		if n == "SUM" {
			found = true
		}
	}
	if !found {
		t.Fatalf("expected SUM among supported names, got %v", names)
	}
}

func TestNotSupportedFunctionNamesExcludesBuiltIns(t *testing.T) {
	b := memworkbook.New()
	b.AddSheet("Sheet1")
	ev := newTestEvaluator(b)

	for _, n := range ev.NotSupportedFunctionNames() {
		if n == "SUM" || n == "IF" {
			t.Fatalf("expected a built-in name not to appear as unsupported, got %q", n)
		}
	}
}

func TestShiftRelativeReferencesIdentityAtZeroDelta(t *testing.T) {
	tokens := []ptg.Token{{Category: ptg.CategoryRef, Row: 5, Col: 5, RowRelative: true, ColRelative: true}}
	out, shifted, err := ShiftRelativeReferences(tokens, 0, 0, coord.Excel2007)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if shifted {
		t.Fatal("expected no shift at (0,0) delta")
	}
	if out[0].Row != 5 {
		t.Fatalf("expected identity shift, got %+v", out[0])
	}
}

func TestShiftRelativeReferencesBoundary(t *testing.T) {
	ver := coord.Excel2007
	maxRowIndex := ver.MaxRows - 1

	atMax := []ptg.Token{{Category: ptg.CategoryRef, Row: 0, RowRelative: true}}
	out, shifted, err := ShiftRelativeReferences(atMax, int64(maxRowIndex), 0, ver)
	if err != nil {
		t.Fatalf("expected shifting to exactly max_rows to be accepted: %v", err)
	}
	if !shifted || out[0].Row != maxRowIndex {
		t.Fatalf("expected row shifted to %d, got %+v", maxRowIndex, out[0])
	}

	overMax := []ptg.Token{{Category: ptg.CategoryRef, Row: 1, RowRelative: true}}
	if _, _, err := ShiftRelativeReferences(overMax, int64(maxRowIndex), 0, ver); err == nil {
		t.Fatal("expected shifting past max_rows to be rejected")
	}
}

func TestShiftRelativeReferencesRejectsNegativeDelta(t *testing.T) {
	tokens := []ptg.Token{{Category: ptg.CategoryRef, Row: 5, RowRelative: true}}
	if _, _, err := ShiftRelativeReferences(tokens, -1, 0, coord.Excel2007); err == nil {
		t.Fatal("expected a negative shift to be rejected")
	}
}

func TestEvaluateTracksNamedRangeReferenceCounts(t *testing.T) {
	b := memworkbook.New()
	sh := b.AddSheet("Sheet1")
	sh.SetFormula(0, 0, "Rate*2") // A1

	ev := newTestEvaluator(b)

	// Rate is cited before it's ever defined: a forward reference.
	if _, err := ev.Evaluate(cell(0, 0)); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got := b.NameReferenceCount("Rate", -1); got != 1 {
		t.Fatalf("expected one reference to Rate after evaluating A1, got %d", got)
	}
	if _, ok := b.NameDefinition("Rate", -1); ok {
		t.Fatal("expected Rate to still be undefined")
	}

	// Replacing A1's formula to no longer cite Rate releases the reference.
	sh.SetFormula(0, 0, "5")
	ev.NotifyUpdateCell(cell(0, 0))
	if _, err := ev.Evaluate(cell(0, 0)); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got := b.NameReferenceCount("Rate", -1); got != 0 {
		t.Fatalf("expected Rate's reference count to drop to 0, got %d", got)
	}
}

// TestCrossWorkbookCircularReferenceIsDetected guards against the cycle
// check only working within a single workbook: two collaborating
// evaluators each chasing a Ref3D into the other, forming a cycle that
// never revisits the same evaluator's own cell until it loops all the
// way around, must still report #CIRCULAR rather than recursing forever.
func TestCrossWorkbookCircularReferenceIsDetected(t *testing.T) {
	shared := cache.New()
	env := environment.New()

	bookA := memworkbook.New()
	shA := bookA.AddSheet("Sheet1")
	shA.SetFormula(0, 0, "[B]Sheet1!A1+1")
	evA := newTestEvaluator(bookA)
	evA.AttachToEnvironment(env, "A", shared, 0)

	bookB := memworkbook.New()
	shB := bookB.AddSheet("Sheet1")
	shB.SetFormula(0, 0, "[A]Sheet1!A1+1")
	evB := newTestEvaluator(bookB)
	evB.AttachToEnvironment(env, "B", shared, 1)

	got, err := evA.Evaluate(cell(0, 0))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !got.IsError() || got.Err != value.ErrCircular {
		t.Fatalf("expected #CIRCULAR across the two workbooks, got %v", got)
	}
}

func TestShiftRelativeReferencesLeavesAbsoluteComponentsAlone(t *testing.T) {
	tokens := []ptg.Token{{Category: ptg.CategoryArea, Row: 0, Col: 0, RowRelative: false, ColRelative: false, LastRow: 1, LastCol: 1, LastRowRelative: true, LastColRelative: true}}
	out, shifted, err := ShiftRelativeReferences(tokens, 3, 2, coord.Excel2007)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !shifted {
		t.Fatal("expected the relative last-corner to be shifted")
	}
	if out[0].Row != 0 || out[0].Col != 0 {
		t.Fatalf("expected the absolute first corner to stay put, got %+v", out[0])
	}
	if out[0].LastRow != 4 || out[0].LastCol != 3 {
		t.Fatalf("expected the relative last corner to shift, got %+v", out[0])
	}
}
