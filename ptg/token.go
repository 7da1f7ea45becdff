// Package ptg defines the token ("Ptg") data model the stack machine in
// package interp consumes (spec §3, §4.8). Every token category the
// interpreter dispatches on is named here, plus the payload each category
// carries and the byte Size used for the control-flow distance arithmetic
// of §4.8/§4.9.
package ptg

import "github.com/npoi-go/formulaengine/value"

// Category is the dispatch tag the interpreter switches on.
type Category uint8

const (
	// Literal pushes Token.Literal (Number/String/Bool/Error scalar).
	CategoryLiteral Category = iota
	// MissingArg pushes value.MissingArg().
	CategoryMissingArg
	// Ref resolves a single-cell reference within this workbook (the
	// formula's own sheet or an explicitly named one).
	CategoryRef
	// Ref3D resolves a cross-workbook single-cell reference.
	CategoryRef3D
	// Area resolves a 2-D range within this workbook.
	CategoryArea
	// Area3D resolves a cross-workbook 2-D range.
	CategoryArea3D
	// ArrayLiteral pushes a literal array constant.
	CategoryArrayLiteral
	// Name resolves a named range/function-name by its name (ExternalName).
	CategoryName
	// NameX resolves an external name via the evaluation context.
	CategoryNameX
	// Operator pops Arity operands and dispatches to an operator/function.
	CategoryOperator
	// Union pops two operands and pushes a RefList.
	CategoryUnion
	// Noop tokens (MemFunc, MemArea, MemErr, Parenthesis, generic Attr) do
	// nothing to the stack.
	CategoryNoop
	// ControlIf is the optimized IF(cond,true[,false]) encoding.
	ControlIf
	// ControlIfFuncVar is the trailing closing token of a two-argument
	// optimized IF, reached only via the false-branch jump when no false
	// value was supplied (spec §9 Open Question).
	ControlIfFuncVar
	// ControlChoose is the optimized CHOOSE(index, v1, v2, ...) encoding.
	ControlChoose
	// ControlSkip performs an unconditional byte-distance skip; if the
	// token landed on is MissingArg, it is replaced with Blank.
	ControlSkip
	// SumShorthand is rewritten into a 1-arg variadic SUM operator call.
	CategorySumShorthand
	// Unknown is a fatal token: MalformedFormula.
	CategoryUnknown
	// Exp is a fatal token: Unsupported (shared-formula host reference).
	CategoryExp
)

// OperatorForm distinguishes how CategoryOperator tokens are invoked.
type OperatorForm uint8

const (
	FormUnary OperatorForm = iota
	FormBinary
	FormFunctionFixed
	FormFunctionVariadic
)

// BinOp enumerates binary operator codes.
type BinOp uint8

const (
	OpAdd BinOp = iota
	OpSub
	OpMul
	OpDiv
	OpPow
	OpConcat
	OpEq
	OpNe
	OpLt
	OpLe
	OpGt
	OpGe
)

// UnOp enumerates unary operator codes.
type UnOp uint8

const (
	OpNeg UnOp = iota
	OpPos
	OpPercent
)

// Token is one unit of the parsed postfix formula stream.
type Token struct {
	Category Category
	// Size is the token's encoded byte size, consulted only by the
	// distance-to-token-count arithmetic of §4.8/§4.9 when walking past a
	// control-flow token's skip target.
	Size int

	// CategoryLiteral
	Literal value.Value

	// CategoryRef / CategoryArea: RowRelative/ColRelative (and the Last*
	// variants for Area's second corner) record which components must be
	// shifted by region-relative adjustment (§4.9); SheetIx of -1 means
	// "the formula's own sheet".
	SheetIx                            int32
	Row, Col                           uint32
	RowRelative, ColRelative           bool
	LastRow, LastCol                   uint32
	LastRowRelative, LastColRelative   bool

	// CategoryRef3D / CategoryArea3D
	ExternalWorkbook string      // name registered with a CollaboratingWorkbooksEnvironment; "" means this workbook
	CachedLiteral    value.Value // fallback used when ignore_missing_workbooks is set

	// CategoryArrayLiteral
	ArrayRows, ArrayCols int
	ArrayElements        []value.Value

	// CategoryName / CategoryNameX
	NameIndex    uint32
	ExternalName string

	// CategoryOperator / CategorySumShorthand
	Form         OperatorForm
	BinaryOp     BinOp
	UnaryOp      UnOp
	FunctionCode int32  // built-in function index, or -1 if looked up by name
	FunctionName string // used when FunctionCode < 0, or always for UDF/NameX calls
	Arity        int

	// ControlIf
	IfFalseSkip int // distance, from just after this token, to the false branch (or to the FuncVar closing token if none)
	IfTotalSkip int // distance to skip both branches entirely (used when the predicate itself errors)

	// ControlChoose
	ChooseJumpTable []int // JumpTable[i] = distance to branch i+1 (1-based selector)
	ChooseEndSkip   int   // distance to skip the whole construct (out-of-range / error case)

	// ControlSkip
	SkipDistance int
}

// IsControl reports whether this token is one of the control-flow
// categories the interpreter special-cases before the generic operator
// dispatch.
func (t Token) IsControl() bool {
	switch t.Category {
	case ControlIf, ControlIfFuncVar, ControlChoose, ControlSkip:
		return true
	default:
		return false
	}
}
