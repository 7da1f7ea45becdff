package interp

import (
	"strconv"
	"strings"

	"github.com/npoi-go/formulaengine/coord"
	"github.com/npoi-go/formulaengine/value"
)

// Dereference collapses a reference-shaped value to the single scalar an
// operator needs (spec §4.2). A SingleRef resolves directly. An Area
// resolves through implicit intersection against the formula's own cell
// (c.Cell): a single-column area projects to its sole column at the
// source row; a single-row area projects to its sole row at the source
// column; otherwise the source row and column must both fall inside the
// area's span. Anything that doesn't intersect yields #VALUE!.
// Non-reference values pass through unchanged.
func (c *Context) Dereference(v value.Value) value.Value {
	switch v.Kind {
	case value.KindSingleRef:
		scalar, err := c.resolveAndDeref(idFromRef(c.WorkbookIx, v.Ref))
		if err != nil {
			return value.Error(value.ErrRef)
		}
		return scalar
	case value.KindArea:
		id, ok := c.intersect(v.AreaVal)
		if !ok {
			return value.Error(value.ErrValue)
		}
		scalar, err := c.resolveAndDeref(id)
		if err != nil {
			return value.Error(value.ErrRef)
		}
		return scalar
	case value.KindRefList:
		if len(v.List) == 1 {
			return c.Dereference(v.List[0])
		}
		return value.Error(value.ErrValue)
	default:
		return v
	}
}

// intersect implements the implicit-intersection projection of spec §4.2:
// a one-column area collapses to its column at the source cell's row, a
// one-row area collapses to its row at the source cell's column, and any
// other area must already contain the source cell's position.
func (c *Context) intersect(a value.Area) (coord.CellID, bool) {
	row, col := c.Cell.Row, c.Cell.Col
	switch {
	case a.Cols() == 1:
		if row < a.FirstRow || row > a.LastRow {
			return coord.CellID{}, false
		}
		return coord.CellID{WorkbookIx: c.WorkbookIx, SheetIx: a.SheetIx, Row: row, Col: a.FirstCol}, true
	case a.Rows() == 1:
		if col < a.FirstCol || col > a.LastCol {
			return coord.CellID{}, false
		}
		return coord.CellID{WorkbookIx: c.WorkbookIx, SheetIx: a.SheetIx, Row: a.FirstRow, Col: col}, true
	default:
		if row < a.FirstRow || row > a.LastRow || col < a.FirstCol || col > a.LastCol {
			return coord.CellID{}, false
		}
		return coord.CellID{WorkbookIx: c.WorkbookIx, SheetIx: a.SheetIx, Row: row, Col: col}, true
	}
}

// ToNumber coerces a dereferenced scalar to a number for arithmetic
// operators (spec §4.2/§4.8). Blank was already turned to 0 by
// Dereference; a boolean coerces to 1 or 0; a numeric string coerces
// (Excel's implicit text-to-number conversion); an error passes through;
// anything else is #VALUE!.
func ToNumber(v value.Value) value.Value {
	switch v.Kind {
	case value.KindNumber:
		return v
	case value.KindBool:
		if v.Bool {
			return value.Number(1)
		}
		return value.Number(0)
	case value.KindString:
		n, err := strconv.ParseFloat(strings.TrimSpace(v.Str), 64)
		if err != nil {
			return value.Error(value.ErrValue)
		}
		return value.Number(n)
	case value.KindError:
		return v
	default:
		return value.Error(value.ErrValue)
	}
}

// ToText coerces a dereferenced scalar to text, for the concatenation
// operator.
func ToText(v value.Value) value.Value {
	switch v.Kind {
	case value.KindString:
		return v
	case value.KindError:
		return v
	default:
		return value.String(v.String())
	}
}
