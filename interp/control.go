package interp

import (
	"github.com/npoi-go/formulaengine/ptg"
	"github.com/npoi-go/formulaengine/value"
)

// distanceToIndex converts a byte distance (spec §4.8/§4.9) into a token
// index by summing consecutive tokens' encoded Size starting at from until
// the running total reaches distance. The compiler (package formulaparser)
// is responsible for emitting Size values that land exactly on a token
// boundary; a distance that doesn't runs off the end of the token stream,
// which callers treat as "landed past the end" rather than panicking.
func distanceToIndex(tokens []ptg.Token, from, distance int) int {
	sum := 0
	idx := from
	for sum < distance && idx < len(tokens) {
		sum += tokens[idx].Size
		idx++
	}
	return idx
}

// execControlIf handles the optimized IF(cond, true[, false]) encoding.
// The false branch, when present, immediately follows the true branch's
// closing ControlSkip; when absent, IfFalseSkip lands directly on a
// ControlIfFuncVar token instead (spec §9: the two-argument form yields
// FALSE, not blank, when the condition is false).
func (m *vm) execControlIf(i int, t ptg.Token) (int, error) {
	cond := m.ctx.Dereference(m.pop())
	cond = coerceBool(cond)
	if cond.IsError() {
		m.push(cond)
		return distanceToIndex(m.tokens, i+1, t.IfTotalSkip), nil
	}
	if cond.Bool {
		return i + 1, nil
	}
	return distanceToIndex(m.tokens, i+1, t.IfFalseSkip), nil
}

// execControlIfFuncVar is reached only by a direct jump from
// execControlIf's IfFalseSkip when a two-argument IF's condition is
// false and no false-branch value was supplied.
func (m *vm) execControlIfFuncVar(i int) (int, error) {
	m.push(value.Boolean(false))
	return i + 1, nil
}

// execControlChoose handles the optimized CHOOSE(index, v1, v2, ...)
// encoding: an out-of-range or non-numeric selector yields #VALUE! and
// skips straight to the end (spec §8 scenario 3), matching Excel.
func (m *vm) execControlChoose(i int, t ptg.Token) (int, error) {
	idxVal := m.ctx.Dereference(m.pop())
	if idxVal.IsError() {
		m.push(idxVal)
		return distanceToIndex(m.tokens, i+1, t.ChooseEndSkip), nil
	}
	n := ToNumber(idxVal)
	if n.IsError() {
		m.push(n)
		return distanceToIndex(m.tokens, i+1, t.ChooseEndSkip), nil
	}
	idx := int(n.Num)
	if idx < 1 || idx > len(t.ChooseJumpTable) {
		m.push(value.Error(value.ErrValue))
		return distanceToIndex(m.tokens, i+1, t.ChooseEndSkip), nil
	}
	return distanceToIndex(m.tokens, i+1, t.ChooseJumpTable[idx-1]), nil
}

// execControlSkip performs an unconditional jump. If the landed-on token
// is a MissingArg placeholder, it is consumed here and replaced with a
// blank value rather than being executed as a stack push in its own
// right (spec §4.8), since a bare MissingArg token is only ever a filler
// for "argument omitted, but this branch of the jump table still needs a
// value on the stack".
func (m *vm) execControlSkip(i int, t ptg.Token) (int, error) {
	target := distanceToIndex(m.tokens, i+1, t.SkipDistance)
	if target < len(m.tokens) && m.tokens[target].Category == ptg.CategoryMissingArg {
		m.push(value.Blank())
		return target + 1, nil
	}
	return target, nil
}
