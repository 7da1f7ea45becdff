package formulaparser

import "strconv"

// cellAddr is a single parsed A1-style cell reference before it is
// anchored to an absolute (row, col): relative components are resolved
// against the formula's home cell by the caller.
type cellAddr struct {
	col, row       uint32
	colRel, rowRel bool
}

// parseCellAddr parses a single A1-style address such as "A1", "$A1",
// "A$1" or "$A$1". ok is false if s is not a well-formed cell address (the
// caller then treats it as a defined-name reference instead).
func parseCellAddr(s string) (cellAddr, bool) {
	i := 0
	colRel := true
	if i < len(s) && s[i] == '$' {
		colRel = false
		i++
	}
	start := i
	for i < len(s) && isColLetter(s[i]) {
		i++
	}
	if i == start {
		return cellAddr{}, false
	}
	letters := s[start:i]

	rowRel := true
	if i < len(s) && s[i] == '$' {
		rowRel = false
		i++
	}
	rowStart := i
	for i < len(s) && s[i] >= '0' && s[i] <= '9' {
		i++
	}
	if i == rowStart || i != len(s) {
		return cellAddr{}, false
	}

	rowNum, err := strconv.Atoi(s[rowStart:i])
	if err != nil || rowNum < 1 {
		return cellAddr{}, false
	}

	return cellAddr{
		col:    colIndex(letters),
		row:    uint32(rowNum - 1),
		colRel: colRel,
		rowRel: rowRel,
	}, true
}

func isColLetter(b byte) bool {
	return (b >= 'A' && b <= 'Z') || (b >= 'a' && b <= 'z')
}

// colIndex converts a column letter sequence ("A", "Z", "AA", ...) to a
// 0-based column index.
func colIndex(letters string) uint32 {
	n := uint32(0)
	for _, r := range letters {
		c := r
		if c >= 'a' && c <= 'z' {
			c -= 'a' - 'A'
		}
		n = n*26 + uint32(c-'A'+1)
	}
	return n - 1
}

// splitExternalAndSheet pulls an optional "[Workbook.xlsx]" external-
// workbook prefix and an optional "SheetName!" / "'Sheet Name'!" sheet
// prefix off a Range-subtype token, returning what remains (the bare
// address or name).
func splitExternalAndSheet(s string) (external, sheet, rest string) {
	if len(s) > 0 && s[0] == '[' {
		if end := indexByte(s, ']'); end >= 0 {
			external = s[1:end]
			s = s[end+1:]
		}
	}
	if len(s) > 0 && s[0] == '\'' {
		if end := indexByte(s[1:], '\''); end >= 0 {
			sheet = s[1 : end+1]
			rest = s[end+3:] // skip closing quote and '!'
			return external, sheet, rest
		}
	}
	if bang := indexByte(s, '!'); bang >= 0 {
		sheet = s[:bang]
		rest = s[bang+1:]
		return external, sheet, rest
	}
	return external, "", s
}

func indexByte(s string, b byte) int {
	for i := 0; i < len(s); i++ {
		if s[i] == b {
			return i
		}
	}
	return -1
}
