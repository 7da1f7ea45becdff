package evaluator

import (
	"github.com/npoi-go/formulaengine/coord"
	"github.com/npoi-go/formulaengine/evalerr"
	"github.com/npoi-go/formulaengine/ptg"
)

// ShiftRelativeReferences implements the region-relative reference
// adjustment of spec §4.9: every relative component of a Ref/Area-class
// token is shifted by (deltaRow, deltaCol); absolute ($-prefixed)
// components are left untouched. Negative deltas are rejected outright
// (a region-relative formula is only ever applied at or after its own
// anchor cell). Returns the shifted token slice, whether any token was
// actually touched, and a *evalerr.Fault if a shifted index would exceed
// ver's row/column maximum.
//
// tokens is never mutated in place: EvaluateList shares one compiled
// array across every cell of a region, so a shifted copy is returned for
// each target cell (or tokens itself when both deltas are zero).
func ShiftRelativeReferences(tokens []ptg.Token, deltaRow, deltaCol int64, ver coord.SpreadsheetVersion) ([]ptg.Token, bool, error) {
	if deltaRow < 0 || deltaCol < 0 {
		return nil, false, evalerr.Newf(evalerr.FaultOutOfBounds, "negative region-relative shift (%d,%d)", deltaRow, deltaCol)
	}
	if deltaRow == 0 && deltaCol == 0 {
		return tokens, false, nil
	}

	maxRow := ver.MaxRows - 1
	maxCol := ver.MaxCols - 1

	out := make([]ptg.Token, len(tokens))
	copy(out, tokens)
	shifted := false

	for i, t := range out {
		switch t.Category {
		case ptg.CategoryRef, ptg.CategoryRef3D:
			if t.RowRelative {
				nr, err := shiftCoord(t.Row, deltaRow, maxRow)
				if err != nil {
					return nil, false, err
				}
				t.Row = nr
				shifted = true
			}
			if t.ColRelative {
				nc, err := shiftCoord(t.Col, deltaCol, maxCol)
				if err != nil {
					return nil, false, err
				}
				t.Col = nc
				shifted = true
			}
			out[i] = t
		case ptg.CategoryArea, ptg.CategoryArea3D:
			if t.RowRelative {
				nr, err := shiftCoord(t.Row, deltaRow, maxRow)
				if err != nil {
					return nil, false, err
				}
				t.Row = nr
				shifted = true
			}
			if t.ColRelative {
				nc, err := shiftCoord(t.Col, deltaCol, maxCol)
				if err != nil {
					return nil, false, err
				}
				t.Col = nc
				shifted = true
			}
			if t.LastRowRelative {
				nr, err := shiftCoord(t.LastRow, deltaRow, maxRow)
				if err != nil {
					return nil, false, err
				}
				t.LastRow = nr
				shifted = true
			}
			if t.LastColRelative {
				nc, err := shiftCoord(t.LastCol, deltaCol, maxCol)
				if err != nil {
					return nil, false, err
				}
				t.LastCol = nc
				shifted = true
			}
			out[i] = t
		}
	}
	return out, shifted, nil
}

func shiftCoord(v uint32, delta int64, max uint32) (uint32, error) {
	nv := int64(v) + delta
	if nv < 0 || nv > int64(max) {
		return 0, evalerr.New(evalerr.FaultOutOfBounds)
	}
	return uint32(nv), nil
}
