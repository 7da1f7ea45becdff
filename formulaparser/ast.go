package formulaparser

import "github.com/npoi-go/formulaengine/value"

// node is one term of the small expression tree built from the efp token
// stream before compilation to the postfix ptg.Token stream (spec §4.8).
// Grounded on the teacher's parser.go ASTNode family (StringNode,
// NumberNode, CellRefNode, ...), generalized from "evaluate against a
// spreadsheet" to "compile to a token stream".
type node interface {
	astNode()
}

type litNode struct {
	val value.Value
}

// refNode is a single-cell reference, still carrying its A1-style
// relative/absolute flags. sheetName is "" for "current sheet" and
// external is "" for "this workbook"; both are resolved to indices by
// the compiler, which has the workbook in hand.
type refNode struct {
	sheetName string
	external  string
	addr      cellAddr
}

// areaNode is a two-corner range reference.
type areaNode struct {
	sheetName string
	external  string
	from, to  cellAddr
}

// nameNode is a defined-name reference resolved at evaluation time, or a
// bare function name used as a value (spec §4.8 Name token).
type nameNode struct {
	name string
}

type unaryNode struct {
	op   unaryOp
	expr node
}

type unaryOp uint8

const (
	unaryNeg unaryOp = iota
	unaryPos
	unaryPercent
)

type binaryNode struct {
	op          binOp
	left, right node
}

type binOp uint8

const (
	binAdd binOp = iota
	binSub
	binMul
	binDiv
	binPow
	binConcat
	binEq
	binNe
	binLt
	binLe
	binGt
	binGe
	binUnion
)

// funcNode is a function call. IF and CHOOSE are recognized by name at
// compile time and emitted using the optimized control-flow encoding
// (spec §4.8); every other name compiles to a generic CategoryOperator
// call.
type funcNode struct {
	name string
	args []node
}

func (litNode) astNode()    {}
func (refNode) astNode()    {}
func (areaNode) astNode()   {}
func (nameNode) astNode()   {}
func (unaryNode) astNode()  {}
func (binaryNode) astNode() {}
func (funcNode) astNode()   {}
