// Package formulaparser compiles Excel-style formula text into the
// postfix ptg.Token stream package interp executes (spec §4.8).
//
// Tokenizing is delegated to github.com/xuri/efp, the same tokenizer
// relationalsheets-relational-sheets/sheets/formulas.go uses: it already
// does the fiddly part (quoted text, A1/range syntax, nested function and
// parenthesis boundaries) that the teacher's own lexer.go hand-rolls for
// a much smaller grammar. This package turns efp's flat infix stream into
// a small AST (ast.go/parser.go, in the shape of the teacher's parser.go
// ASTNode family) and then emits it as postfix (compile.go), the same
// two-stage split the teacher's Parser → ASTNode.Eval pipeline uses,
// just with "emit tokens" standing in for "evaluate directly".
package formulaparser

import "github.com/xuri/efp"

func tokenize(text string) ([]efp.Token, error) {
	p := efp.ExcelParser()
	return p.Parse(text), nil
}
