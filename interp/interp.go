package interp

import (
	"math"
	"strings"

	"github.com/npoi-go/formulaengine/coord"
	"github.com/npoi-go/formulaengine/environment"
	"github.com/npoi-go/formulaengine/evalerr"
	"github.com/npoi-go/formulaengine/ptg"
	"github.com/npoi-go/formulaengine/registry"
	"github.com/npoi-go/formulaengine/value"
)

// vm is one execution of a compiled token stream. It is not reused across
// calls to Eval — a fresh vm is cheap (a nil stack) and keeps Eval
// reentrancy-safe when a function argument itself triggers recursive
// evaluation of another formula.
type vm struct {
	tokens []ptg.Token
	ctx    *Context
	stack  []value.Value
}

// Eval executes a compiled postfix token stream against ctx and returns
// the value left on the stack, per spec §4.8. An empty token stream, or
// one that leaves the stack empty, is a malformed-formula fault: the
// compiler should never produce one, so reaching this is a defect in the
// compiler, not a legitimate formula outcome.
func Eval(tokens []ptg.Token, ctx *Context) (value.Value, error) {
	m := &vm{tokens: tokens, ctx: ctx}
	i := 0
	for i < len(tokens) {
		next, err := m.exec(i)
		if err != nil {
			return value.Value{}, err
		}
		i = next
	}
	if len(m.stack) == 0 {
		return value.Value{}, evalerr.New(evalerr.FaultMalformedFormula).WithCell(ctx.faultCellRef())
	}
	return m.stack[len(m.stack)-1], nil
}

func (m *vm) push(v value.Value) { m.stack = append(m.stack, v) }

func (m *vm) pop() value.Value {
	n := len(m.stack)
	v := m.stack[n-1]
	m.stack = m.stack[:n-1]
	return v
}

func (m *vm) popN(n int) []value.Value {
	if n == 0 {
		return nil
	}
	start := len(m.stack) - n
	args := append([]value.Value(nil), m.stack[start:]...)
	m.stack = m.stack[:start]
	return args
}

// exec runs the token at i and returns the index of the next token to
// run — i+1 for every category except the control-flow ones, which may
// jump ahead by a computed byte distance.
func (m *vm) exec(i int) (int, error) {
	t := m.tokens[i]
	ctx := m.ctx

	if ctx.Trace != nil {
		ctx.Trace(i, t)
	}

	switch t.Category {
	case ptg.CategoryLiteral:
		m.push(t.Literal)
	case ptg.CategoryMissingArg:
		m.push(value.MissingArg())
	case ptg.CategoryRef:
		sheetIx := ctx.sheetIxOrCurrent(t.SheetIx)
		m.push(value.Ref(value.SingleRef{SheetIx: sheetIx, Row: t.Row, Col: t.Col}))
	case ptg.CategoryArea:
		sheetIx := ctx.sheetIxOrCurrent(t.SheetIx)
		m.push(value.AreaValue(value.Area{
			SheetIx: sheetIx, FirstRow: t.Row, FirstCol: t.Col,
			LastRow: t.LastRow, LastCol: t.LastCol,
		}))
	case ptg.CategoryRef3D:
		v, err := m.resolveRef3D(t)
		if err != nil {
			return 0, err
		}
		m.push(v)
	case ptg.CategoryArea3D:
		v, err := m.resolveArea3D(t)
		if err != nil {
			return 0, err
		}
		m.push(v)
	case ptg.CategoryArrayLiteral:
		m.push(value.ArrayValue(&value.Array{Rows: t.ArrayRows, Cols: t.ArrayCols, Elements: t.ArrayElements}))
	case ptg.CategoryName:
		v, err := m.resolveName(t)
		if err != nil {
			return 0, err
		}
		m.push(v)
	case ptg.CategoryNameX:
		if _, ok := ctx.Registry.ByName(t.ExternalName); ok {
			m.push(value.FunctionName(t.ExternalName))
		} else {
			return 0, evalerr.Newf(evalerr.FaultNotImplemented, "external name %q not resolvable", t.ExternalName).WithCell(ctx.faultCellRef())
		}
	case ptg.CategoryOperator, ptg.CategorySumShorthand:
		if t.Category == ptg.CategorySumShorthand {
			t.Form = ptg.FormFunctionVariadic
			t.FunctionCode = -1
			t.FunctionName = "SUM"
			t.Arity = 1
		}
		v, err := m.execOperator(t)
		if err != nil {
			return 0, err
		}
		m.push(v)
	case ptg.CategoryUnion:
		m.push(m.execUnion())
	case ptg.CategoryNoop:
		// nothing to do
	case ptg.ControlIf:
		return m.execControlIf(i, t)
	case ptg.ControlIfFuncVar:
		return m.execControlIfFuncVar(i)
	case ptg.ControlChoose:
		return m.execControlChoose(i, t)
	case ptg.ControlSkip:
		return m.execControlSkip(i, t)
	case ptg.CategoryUnknown:
		return 0, evalerr.New(evalerr.FaultMalformedFormula).WithCell(ctx.faultCellRef())
	case ptg.CategoryExp:
		return 0, evalerr.New(evalerr.FaultUnsupported).WithCell(ctx.faultCellRef())
	default:
		return 0, evalerr.New(evalerr.FaultMalformedFormula).WithCell(ctx.faultCellRef())
	}
	return i + 1, nil
}

func (m *vm) execOperator(t ptg.Token) (value.Value, error) {
	ctx := m.ctx
	switch t.Form {
	case ptg.FormUnary:
		operand := ctx.Dereference(m.pop())
		if operand.IsError() {
			return operand, nil
		}
		n := ToNumber(operand)
		if n.IsError() {
			return n, nil
		}
		switch t.UnaryOp {
		case ptg.OpNeg:
			return value.Number(-n.Num), nil
		case ptg.OpPos:
			return n, nil
		case ptg.OpPercent:
			return value.Number(n.Num / 100), nil
		}
		return value.Error(value.ErrValue), nil
	case ptg.FormBinary:
		right := ctx.Dereference(m.pop())
		left := ctx.Dereference(m.pop())
		return evalBinary(t.BinaryOp, left, right), nil
	case ptg.FormFunctionFixed, ptg.FormFunctionVariadic:
		args := m.popN(t.Arity)
		return m.callFunction(t, args)
	}
	return value.Value{}, evalerr.New(evalerr.FaultMalformedFormula).WithCell(ctx.faultCellRef())
}

func (m *vm) callFunction(t ptg.Token, args []value.Value) (value.Value, error) {
	ctx := m.ctx
	var fn registry.Function
	var ok bool
	if t.FunctionCode >= 0 {
		fn, _, ok = ctx.Registry.ByCode(t.FunctionCode)
		if !ok {
			return value.Value{}, evalerr.Newf(evalerr.FaultNotImplemented, "function code %d not implemented", t.FunctionCode).WithCell(ctx.faultCellRef())
		}
	} else {
		fn, ok = ctx.Registry.ByName(t.FunctionName)
		if !ok {
			return value.Error(value.ErrName), nil
		}
	}
	return fn(registry.Args{Values: args, Reader: ctx}), nil
}

func (m *vm) execUnion() value.Value {
	right := m.pop()
	left := m.pop()
	var list []value.Value
	if left.Kind == value.KindRefList {
		list = append(list, left.List...)
	} else {
		list = append(list, left)
	}
	if right.Kind == value.KindRefList {
		list = append(list, right.List...)
	} else {
		list = append(list, right)
	}
	return value.RefList(list...)
}

func (m *vm) resolveRef3D(t ptg.Token) (value.Value, error) {
	ctx := m.ctx
	if t.ExternalWorkbook == "" {
		sheetIx := ctx.sheetIxOrCurrent(t.SheetIx)
		return value.Ref(value.SingleRef{SheetIx: sheetIx, Row: t.Row, Col: t.Col}), nil
	}
	ev, ok := m.resolveExternal(t.ExternalWorkbook)
	if !ok {
		if ctx.IgnoreMissingWorkbooks {
			return t.CachedLiteral, nil
		}
		return value.Value{}, evalerr.Newf(evalerr.FaultMissingExternalWorkbook, "workbook %q not attached", t.ExternalWorkbook).WithCell(ctx.faultCellRef())
	}
	id := coord.CellID{WorkbookIx: ev.WorkbookIx(), SheetIx: t.SheetIx, Row: t.Row, Col: t.Col}
	v, err := m.evaluateExternal(ev, id)
	if err != nil {
		return value.Value{}, err
	}
	if v.Kind == value.KindBlank {
		return value.Number(0), nil
	}
	return v, nil
}

// resolveArea3D eagerly materializes an external-workbook area into an
// in-memory array, rather than a lazy value.Area reference: value.Area
// carries no workbook identity (spec's value domain is single-workbook by
// design, §3), so a cross-workbook range cannot ride the stack as a
// reference the way a same-workbook one can. Documented as an accepted
// scope decision rather than extending the value domain for a rarely-hit
// path.
func (m *vm) resolveArea3D(t ptg.Token) (value.Value, error) {
	ctx := m.ctx
	if t.ExternalWorkbook == "" {
		sheetIx := ctx.sheetIxOrCurrent(t.SheetIx)
		return value.AreaValue(value.Area{
			SheetIx: sheetIx, FirstRow: t.Row, FirstCol: t.Col,
			LastRow: t.LastRow, LastCol: t.LastCol,
		}), nil
	}
	ev, ok := m.resolveExternal(t.ExternalWorkbook)
	if !ok {
		if ctx.IgnoreMissingWorkbooks {
			return t.CachedLiteral, nil
		}
		return value.Value{}, evalerr.Newf(evalerr.FaultMissingExternalWorkbook, "workbook %q not attached", t.ExternalWorkbook).WithCell(ctx.faultCellRef())
	}
	rows := int(t.LastRow-t.Row) + 1
	cols := int(t.LastCol-t.Col) + 1
	elems := make([]value.Value, 0, rows*cols)
	for r := t.Row; r <= t.LastRow; r++ {
		for c := t.Col; c <= t.LastCol; c++ {
			id := coord.CellID{WorkbookIx: ev.WorkbookIx(), SheetIx: t.SheetIx, Row: r, Col: c}
			v, err := m.evaluateExternal(ev, id)
			if err != nil {
				return value.Value{}, err
			}
			if v.Kind == value.KindBlank {
				v = value.Number(0)
			}
			elems = append(elems, v)
		}
	}
	return value.ArrayValue(&value.Array{Rows: rows, Cols: cols, Elements: elems}), nil
}

func (m *vm) resolveExternal(name string) (environment.Evaluator, bool) {
	if m.ctx.Env == nil {
		return nil, false
	}
	return m.ctx.Env.Resolve(name)
}

// evaluateExternal resolves id through ev, threading this evaluation's own
// reentrancy tracker across the workbook boundary via the resolver's
// ExternalCellEvaluator capability (spec §1 cross-workbook cycle
// detection). If the resolver doesn't implement it, the reference fails
// with FaultMissingExternalWorkbook rather than making an untracked call.
func (m *vm) evaluateExternal(ev environment.Evaluator, id coord.CellID) (value.Value, error) {
	if x, ok := m.ctx.Resolver.(ExternalCellEvaluator); ok {
		return x.EvaluateExternal(ev, id)
	}
	return value.Value{}, evalerr.Newf(evalerr.FaultMissingExternalWorkbook, "resolver cannot reach external workbooks").WithCell(m.ctx.faultCellRef())
}

// resolveName resolves a defined name reference to its target: a range
// collapses to a Ref (single cell) or Area value; a formula-defined name
// is delegated to the resolver, which compiles and evaluates it exactly
// like a cell formula (spec's named ranges "consumed from the workbook
// collaborator", §6).
func (m *vm) resolveName(t ptg.Token) (value.Value, error) {
	ctx := m.ctx
	def, ok := ctx.Workbook.NameDefinition(t.ExternalName, ctx.Cell.SheetIx)
	if !ok {
		return value.NamedRangePlaceholder(t.ExternalName), nil
	}
	if def.IsRange {
		r := def.Range
		if r.FirstRow == r.LastRow && r.FirstCol == r.LastCol {
			return value.Ref(value.SingleRef{SheetIx: r.SheetIx, Row: r.FirstRow, Col: r.FirstCol}), nil
		}
		return value.AreaValue(value.Area{
			SheetIx: r.SheetIx, FirstRow: r.FirstRow, FirstCol: r.FirstCol,
			LastRow: r.LastRow, LastCol: r.LastCol,
		}), nil
	}
	nr, ok := ctx.Resolver.(NameResolver)
	if !ok {
		return value.Value{}, evalerr.Newf(evalerr.FaultNotImplemented, "name %q is formula-defined but resolver has no name support", t.ExternalName).WithCell(ctx.faultCellRef())
	}
	return nr.ResolveName(t.ExternalName, ctx.Cell.SheetIx)
}

// NameResolver is an optional CellResolver capability for evaluating a
// formula-defined name (as opposed to a fixed-range one). Kept separate
// from the core CellResolver interface because a host that never defines
// formula-based names has nothing to implement here.
type NameResolver interface {
	ResolveName(name string, sheetIx int32) (value.Value, error)
}

func coerceBool(v value.Value) value.Value {
	switch v.Kind {
	case value.KindBool:
		return v
	case value.KindNumber:
		return value.Boolean(v.Num != 0)
	case value.KindError:
		return v
	default:
		return value.Error(value.ErrValue)
	}
}

func evalBinary(op ptg.BinOp, left, right value.Value) value.Value {
	if left.IsError() {
		return left
	}
	if right.IsError() {
		return right
	}
	switch op {
	case ptg.OpAdd, ptg.OpSub, ptg.OpMul, ptg.OpDiv, ptg.OpPow:
		l := ToNumber(left)
		if l.IsError() {
			return l
		}
		r := ToNumber(right)
		if r.IsError() {
			return r
		}
		switch op {
		case ptg.OpAdd:
			return value.Number(l.Num + r.Num)
		case ptg.OpSub:
			return value.Number(l.Num - r.Num)
		case ptg.OpMul:
			return value.Number(l.Num * r.Num)
		case ptg.OpDiv:
			if r.Num == 0 {
				return value.Error(value.ErrDiv0)
			}
			return value.Number(l.Num / r.Num)
		case ptg.OpPow:
			return value.Number(math.Pow(l.Num, r.Num))
		}
	case ptg.OpConcat:
		l := ToText(left)
		if l.IsError() {
			return l
		}
		r := ToText(right)
		if r.IsError() {
			return r
		}
		return value.String(l.Str + r.Str)
	case ptg.OpEq, ptg.OpNe, ptg.OpLt, ptg.OpLe, ptg.OpGt, ptg.OpGe:
		return compareValues(op, left, right)
	}
	return value.Error(value.ErrValue)
}

func compareValues(op ptg.BinOp, left, right value.Value) value.Value {
	var cmp int
	if left.Kind == right.Kind {
		switch left.Kind {
		case value.KindNumber:
			cmp = compareFloat(left.Num, right.Num)
		case value.KindString:
			cmp = strings.Compare(strings.ToUpper(left.Str), strings.ToUpper(right.Str))
		case value.KindBool:
			cmp = compareBool(left.Bool, right.Bool)
		default:
			cmp = 0
		}
	} else {
		cmp = typeRank(left) - typeRank(right)
	}
	switch op {
	case ptg.OpEq:
		return value.Boolean(cmp == 0)
	case ptg.OpNe:
		return value.Boolean(cmp != 0)
	case ptg.OpLt:
		return value.Boolean(cmp < 0)
	case ptg.OpLe:
		return value.Boolean(cmp <= 0)
	case ptg.OpGt:
		return value.Boolean(cmp > 0)
	case ptg.OpGe:
		return value.Boolean(cmp >= 0)
	}
	return value.Error(value.ErrValue)
}

// typeRank orders values of differing kinds for comparison operators, in
// Excel's number < string < boolean order.
func typeRank(v value.Value) int {
	switch v.Kind {
	case value.KindNumber:
		return 0
	case value.KindString:
		return 1
	case value.KindBool:
		return 2
	default:
		return 3
	}
}

func compareFloat(a, b float64) int {
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	default:
		return 0
	}
}

func compareBool(a, b bool) int {
	ai, bi := 0, 0
	if a {
		ai = 1
	}
	if b {
		bi = 1
	}
	return ai - bi
}
