// Package value implements the evaluator's closed value domain (spec §3):
// the tagged variant every formula evaluation ultimately produces, plus the
// coercions described in §4.2.
//
// The teacher (vogtb/go-spreadsheet) represents cell values as a bare
// `Primitive any` (cell.go) because its AST evaluator never needs to carry
// a reference or an area around as a first-class value — every AST node
// resolves straight to a scalar. This engine's stack machine does need to
// carry references and areas on the operand stack (the whole point of
// "dereference" in spec §4.2 is that it happens lazily, at the point a
// scalar is actually required), so Value here is a proper tagged struct
// instead, one level richer than the teacher's Primitive.
package value

import (
	"fmt"
	"strconv"
)

// Kind discriminates the variant held by a Value.
type Kind uint8

const (
	KindNumber Kind = iota
	KindString
	KindBool
	KindBlank
	KindError
	KindMissingArg
	KindSingleRef
	KindArea
	KindRefList
	KindArray
	KindFunctionName
	KindNamedRangePlaceholder
)

func (k Kind) String() string {
	switch k {
	case KindNumber:
		return "Number"
	case KindString:
		return "String"
	case KindBool:
		return "Bool"
	case KindBlank:
		return "Blank"
	case KindError:
		return "Error"
	case KindMissingArg:
		return "MissingArg"
	case KindSingleRef:
		return "SingleRef"
	case KindArea:
		return "Area"
	case KindRefList:
		return "RefList"
	case KindArray:
		return "Array"
	case KindFunctionName:
		return "FunctionName"
	case KindNamedRangePlaceholder:
		return "NamedRangePlaceholder"
	default:
		return "Unknown"
	}
}

// ErrorCode enumerates the in-band spreadsheet errors (spec §3, §7).
type ErrorCode uint8

const (
	ErrNull ErrorCode = iota + 1
	ErrDiv0
	ErrValue
	ErrRef
	ErrName
	ErrNA
	ErrNum
	ErrCircular
)

var errorText = map[ErrorCode]string{
	ErrNull:     "#NULL!",
	ErrDiv0:     "#DIV/0!",
	ErrValue:    "#VALUE!",
	ErrRef:      "#REF!",
	ErrName:     "#NAME?",
	ErrNA:       "#N/A",
	ErrNum:      "#NUM!",
	ErrCircular: "#CIRCULAR",
}

func (e ErrorCode) String() string {
	if s, ok := errorText[e]; ok {
		return s
	}
	return "#ERROR!"
}

// SingleRef is a resolved reference to exactly one cell.
type SingleRef struct {
	SheetIx int32
	Row     uint32
	Col     uint32
}

// Area is a resolved 2-D rectangular reference.
type Area struct {
	SheetIx  int32
	FirstRow uint32
	FirstCol uint32
	LastRow  uint32
	LastCol  uint32
}

// Rows reports the height of the area in cells.
func (a Area) Rows() uint32 { return a.LastRow - a.FirstRow + 1 }

// Cols reports the width of the area in cells.
func (a Area) Cols() uint32 { return a.LastCol - a.FirstCol + 1 }

// Array is an in-memory rectangular literal (array-constant or computed
// array result).
type Array struct {
	Rows     int
	Cols     int
	Elements []Value // row-major, len == Rows*Cols
}

// At returns the element at (row, col), both zero-based.
func (a *Array) At(row, col int) Value {
	return a.Elements[row*a.Cols+col]
}

// Value is the tagged variant every formula operation consumes and
// produces.
type Value struct {
	Kind     Kind
	Num      float64
	Str      string
	Bool     bool
	Err      ErrorCode
	Ref      SingleRef
	AreaVal  Area
	List     []Value
	Arr      *Array
	FuncName string
}

// Number constructs a scalar numeric value.
func Number(n float64) Value { return Value{Kind: KindNumber, Num: n} }

// String constructs a scalar text value.
func String(s string) Value { return Value{Kind: KindString, Str: s} }

// Boolean constructs a scalar boolean value.
func Boolean(b bool) Value { return Value{Kind: KindBool, Bool: b} }

// Blank is the value of an empty cell before it reaches a formula-result
// boundary (spec §4.2 distinguishes this from Number(0)).
func Blank() Value { return Value{Kind: KindBlank} }

// MissingArg is pushed for an omitted function argument.
func MissingArg() Value { return Value{Kind: KindMissingArg} }

// Error constructs an in-band spreadsheet error value.
func Error(code ErrorCode) Value { return Value{Kind: KindError, Err: code} }

// Ref constructs a single-cell reference value.
func Ref(r SingleRef) Value { return Value{Kind: KindSingleRef, Ref: r} }

// AreaValue constructs a 2-D area reference value.
func AreaValue(a Area) Value { return Value{Kind: KindArea, AreaVal: a} }

// RefList constructs a union of references/areas (spec §4.8 Union token).
func RefList(vs ...Value) Value { return Value{Kind: KindRefList, List: vs} }

// ArrayValue constructs an array literal/result value.
func ArrayValue(a *Array) Value { return Value{Kind: KindArray, Arr: a} }

// FunctionName constructs a bare function-name value (pushed when a Name
// token resolves to a function rather than a range, spec §4.8).
func FunctionName(name string) Value { return Value{Kind: KindFunctionName, FuncName: name} }

// NamedRangePlaceholder marks an as-yet-undefined named range reference.
func NamedRangePlaceholder(name string) Value {
	return Value{Kind: KindNamedRangePlaceholder, FuncName: name}
}

// IsError reports whether v is an in-band spreadsheet error.
func (v Value) IsError() bool { return v.Kind == KindError }

// IsBlank reports whether v is the original-blank marker (before the
// formula-result boundary coerces it to zero).
func (v Value) IsBlank() bool { return v.Kind == KindBlank }

// String renders v for diagnostics/tests; it is not a spreadsheet text
// coercion (use interp.ToText for that).
func (v Value) String() string {
	switch v.Kind {
	case KindNumber:
		return strconv.FormatFloat(v.Num, 'g', -1, 64)
	case KindString:
		return v.Str
	case KindBool:
		if v.Bool {
			return "TRUE"
		}
		return "FALSE"
	case KindBlank:
		return ""
	case KindError:
		return v.Err.String()
	case KindMissingArg:
		return "<missing>"
	case KindSingleRef:
		return fmt.Sprintf("ref(sheet%d,R%dC%d)", v.Ref.SheetIx, v.Ref.Row, v.Ref.Col)
	case KindArea:
		return fmt.Sprintf("area(sheet%d,R%dC%d:R%dC%d)", v.AreaVal.SheetIx, v.AreaVal.FirstRow, v.AreaVal.FirstCol, v.AreaVal.LastRow, v.AreaVal.LastCol)
	case KindArray:
		return fmt.Sprintf("array(%dx%d)", v.Arr.Rows, v.Arr.Cols)
	case KindFunctionName:
		return "fn(" + v.FuncName + ")"
	case KindNamedRangePlaceholder:
		return "undefined-name(" + v.FuncName + ")"
	default:
		return "<refList>"
	}
}

// Equal reports whether two values are structurally identical. RefList and
// Array values never compare equal.
func Equal(a, b Value) bool {
	if a.Kind != b.Kind {
		return false
	}
	switch a.Kind {
	case KindNumber:
		return a.Num == b.Num
	case KindString:
		return a.Str == b.Str
	case KindBool:
		return a.Bool == b.Bool
	case KindError:
		return a.Err == b.Err
	case KindSingleRef:
		return a.Ref == b.Ref
	case KindArea:
		return a.AreaVal == b.AreaVal
	case KindFunctionName, KindNamedRangePlaceholder:
		return a.FuncName == b.FuncName
	case KindBlank, KindMissingArg:
		return true
	default:
		return false
	}
}
