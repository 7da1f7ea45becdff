package formulaparser

import (
	"fmt"

	"github.com/npoi-go/formulaengine/ptg"
	"github.com/npoi-go/formulaengine/workbook"
)

// emitter walks the AST and produces the postfix ptg.Token stream
// interp.Eval runs. Every emitted token uses Size 1 (spec §4.8's "byte
// distance" becomes, in this engine, a plain token count) so
// distanceToIndex's running sum always lands on a token boundary; this is
// the one property emitIf/emitChoose below must preserve.
type emitter struct {
	wb workbook.Workbook
}

// Compile parses formula text (with or without a leading "=") into a
// postfix token stream ready for interp.Eval. wb resolves explicit sheet-
// name prefixes ("Sheet2!A1") to sheet indices; a formula with no sheet
// prefixes never touches it.
func Compile(formula string, wb workbook.Workbook) ([]ptg.Token, error) {
	text := formula
	if len(text) > 0 && text[0] == '=' {
		text = text[1:]
	}
	tokens, err := tokenize(text)
	if err != nil {
		return nil, fmt.Errorf("formulaparser: tokenize %q: %w", formula, err)
	}
	root, err := parseTokens(tokens)
	if err != nil {
		return nil, fmt.Errorf("formulaparser: parse %q: %w", formula, err)
	}
	e := &emitter{wb: wb}
	out, err := e.emit(root)
	if err != nil {
		return nil, fmt.Errorf("formulaparser: compile %q: %w", formula, err)
	}
	return out, nil
}

func (e *emitter) emit(n node) ([]ptg.Token, error) {
	switch v := n.(type) {
	case litNode:
		return []ptg.Token{{Category: ptg.CategoryLiteral, Literal: v.val, Size: 1}}, nil
	case refNode:
		return e.emitRef(v)
	case areaNode:
		return e.emitArea(v)
	case nameNode:
		return []ptg.Token{{Category: ptg.CategoryName, ExternalName: v.name, Size: 1}}, nil
	case unaryNode:
		return e.emitUnary(v)
	case binaryNode:
		return e.emitBinary(v)
	case funcNode:
		return e.emitFunc(v)
	default:
		return nil, fmt.Errorf("unhandled AST node %T", n)
	}
}

// resolveSheet looks up an explicit sheet-name prefix; "" means "current
// sheet", encoded as SheetIx -1 (spec §4.1). Cross-workbook references
// resolve the sheet name against the compiling workbook's own sheet
// table, since the external workbook's table is not available at compile
// time; documented as a scope simplification for the 3-D reference path.
func (e *emitter) resolveSheet(name string) (int32, error) {
	if name == "" {
		return -1, nil
	}
	if e.wb == nil {
		return 0, fmt.Errorf("sheet %q referenced but no workbook supplied to resolve it", name)
	}
	ix, ok := e.wb.SheetIndexByName(name)
	if !ok {
		return 0, fmt.Errorf("unknown sheet %q", name)
	}
	return ix, nil
}

func (e *emitter) emitRef(r refNode) ([]ptg.Token, error) {
	sheetIx, err := e.resolveSheet(r.sheetName)
	if err != nil {
		return nil, err
	}
	t := ptg.Token{
		Row: r.addr.row, Col: r.addr.col,
		RowRelative: r.addr.rowRel, ColRelative: r.addr.colRel,
		Size: 1,
	}
	if r.external == "" {
		t.Category = ptg.CategoryRef
		t.SheetIx = sheetIx
	} else {
		if r.sheetName == "" {
			return nil, fmt.Errorf("external reference to %q missing a sheet name", r.external)
		}
		t.Category = ptg.CategoryRef3D
		t.SheetIx = sheetIx
		t.ExternalWorkbook = r.external
	}
	return []ptg.Token{t}, nil
}

func (e *emitter) emitArea(a areaNode) ([]ptg.Token, error) {
	sheetIx, err := e.resolveSheet(a.sheetName)
	if err != nil {
		return nil, err
	}
	from, to := a.from, a.to
	if from.row > to.row {
		from.row, to.row = to.row, from.row
		from.rowRel, to.rowRel = to.rowRel, from.rowRel
	}
	if from.col > to.col {
		from.col, to.col = to.col, from.col
		from.colRel, to.colRel = to.colRel, from.colRel
	}
	t := ptg.Token{
		Row: from.row, Col: from.col,
		RowRelative: from.rowRel, ColRelative: from.colRel,
		LastRow: to.row, LastCol: to.col,
		LastRowRelative: to.rowRel, LastColRelative: to.colRel,
		Size: 1,
	}
	if a.external == "" {
		t.Category = ptg.CategoryArea
		t.SheetIx = sheetIx
	} else {
		if a.sheetName == "" {
			return nil, fmt.Errorf("external reference to %q missing a sheet name", a.external)
		}
		t.Category = ptg.CategoryArea3D
		t.SheetIx = sheetIx
		t.ExternalWorkbook = a.external
	}
	return []ptg.Token{t}, nil
}

func (e *emitter) emitUnary(u unaryNode) ([]ptg.Token, error) {
	inner, err := e.emit(u.expr)
	if err != nil {
		return nil, err
	}
	var op ptg.UnOp
	switch u.op {
	case unaryNeg:
		op = ptg.OpNeg
	case unaryPos:
		op = ptg.OpPos
	case unaryPercent:
		op = ptg.OpPercent
	}
	out := append(inner, ptg.Token{Category: ptg.CategoryOperator, Form: ptg.FormUnary, UnaryOp: op, Size: 1})
	return out, nil
}

var binOpMap = map[binOp]ptg.BinOp{
	binAdd: ptg.OpAdd, binSub: ptg.OpSub, binMul: ptg.OpMul, binDiv: ptg.OpDiv,
	binPow: ptg.OpPow, binConcat: ptg.OpConcat,
	binEq: ptg.OpEq, binNe: ptg.OpNe, binLt: ptg.OpLt, binLe: ptg.OpLe, binGt: ptg.OpGt, binGe: ptg.OpGe,
}

func (e *emitter) emitBinary(b binaryNode) ([]ptg.Token, error) {
	left, err := e.emit(b.left)
	if err != nil {
		return nil, err
	}
	right, err := e.emit(b.right)
	if err != nil {
		return nil, err
	}
	out := make([]ptg.Token, 0, len(left)+len(right)+1)
	out = append(out, left...)
	out = append(out, right...)
	if b.op == binUnion {
		out = append(out, ptg.Token{Category: ptg.CategoryUnion, Size: 1})
		return out, nil
	}
	code, ok := binOpMap[b.op]
	if !ok {
		return nil, fmt.Errorf("unhandled binary operator %v", b.op)
	}
	out = append(out, ptg.Token{Category: ptg.CategoryOperator, Form: ptg.FormBinary, BinaryOp: code, Size: 1})
	return out, nil
}

func (e *emitter) emitFunc(f funcNode) ([]ptg.Token, error) {
	switch f.name {
	case "IF":
		if len(f.args) == 2 || len(f.args) == 3 {
			return e.emitIf(f.args)
		}
	case "CHOOSE":
		if len(f.args) >= 2 {
			return e.emitChoose(f.args)
		}
	}

	out := make([]ptg.Token, 0, len(f.args)+1)
	for _, a := range f.args {
		at, err := e.emit(a)
		if err != nil {
			return nil, err
		}
		out = append(out, at...)
	}
	out = append(out, ptg.Token{
		Category:     ptg.CategoryOperator,
		Form:         ptg.FormFunctionVariadic,
		FunctionCode: -1,
		FunctionName: f.name,
		Arity:        len(f.args),
		Size:         1,
	})
	return out, nil
}

// emitIf compiles IF(cond, trueVal[, falseVal]) into the ControlIf/
// ControlSkip/ControlIfFuncVar encoding (spec §4.8). A missing false
// branch is represented by a single synthetic ControlIfFuncVar token so
// the distance arithmetic below treats "no false value" identically to
// "a one-token false branch" (spec §9: the result is FALSE, not blank).
func (e *emitter) emitIf(args []node) ([]ptg.Token, error) {
	cond, err := e.emit(args[0])
	if err != nil {
		return nil, err
	}
	trueT, err := e.emit(args[1])
	if err != nil {
		return nil, err
	}
	var falseT []ptg.Token
	if len(args) == 3 {
		falseT, err = e.emit(args[2])
		if err != nil {
			return nil, err
		}
	} else {
		falseT = []ptg.Token{{Category: ptg.ControlIfFuncVar, Size: 1}}
	}

	ifFalseSkip := len(trueT) + 1
	ifTotalSkip := ifFalseSkip + len(falseT)

	out := make([]ptg.Token, 0, len(cond)+1+len(trueT)+1+len(falseT))
	out = append(out, cond...)
	out = append(out, ptg.Token{Category: ptg.ControlIf, IfFalseSkip: ifFalseSkip, IfTotalSkip: ifTotalSkip, Size: 1})
	out = append(out, trueT...)
	out = append(out, ptg.Token{Category: ptg.ControlSkip, SkipDistance: len(falseT), Size: 1})
	out = append(out, falseT...)
	return out, nil
}

// emitChoose compiles CHOOSE(index, v1, v2, ...) into the ControlChoose/
// ControlSkip encoding (spec §4.8). Each branch i occupies
// segLens[i] = len(branch tokens) + 1 (its own trailing ControlSkip);
// ChooseJumpTable[i] is the cumulative offset to branch i's first token,
// and every branch's trailing ControlSkip lands on the same end point
// regardless of which branch ran.
func (e *emitter) emitChoose(args []node) ([]ptg.Token, error) {
	idxT, err := e.emit(args[0])
	if err != nil {
		return nil, err
	}
	branches := args[1:]
	branchTokens := make([][]ptg.Token, len(branches))
	segLens := make([]int, len(branches))
	for i, b := range branches {
		bt, err := e.emit(b)
		if err != nil {
			return nil, err
		}
		branchTokens[i] = bt
		segLens[i] = len(bt) + 1
	}
	jumpTable := make([]int, len(branches))
	cum := 0
	for i := range branches {
		jumpTable[i] = cum
		cum += segLens[i]
	}
	endSkip := cum

	out := make([]ptg.Token, 0, len(idxT)+1+cum)
	out = append(out, idxT...)
	out = append(out, ptg.Token{Category: ptg.ControlChoose, ChooseJumpTable: jumpTable, ChooseEndSkip: endSkip, Size: 1})
	for i, bt := range branchTokens {
		out = append(out, bt...)
		skipDist := endSkip - (jumpTable[i] + segLens[i])
		out = append(out, ptg.Token{Category: ptg.ControlSkip, SkipDistance: skipDist, Size: 1})
	}
	return out, nil
}
