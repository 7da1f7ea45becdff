package registry

import (
	"math"
	"math/rand"
	"strings"
	"time"

	"github.com/npoi-go/formulaengine/value"
)

// Clock provides time for volatile date/time functions. Grounded on the
// teacher's builtin.go Clock/WallClock pair — an injected collaborator so
// tests can pin "now" instead of reaching for the wall clock.
type Clock interface {
	Now() time.Time
}

// WallClock is the production Clock.
type WallClock struct{}

// Now implements Clock.
func (WallClock) Now() time.Time { return time.Now() }

// RandomSource provides randomness for RAND(). Grounded on the teacher's
// builtin.go RandomGenerator/DefaultRandomGenerator pair.
type RandomSource interface {
	Float64() float64
}

// DefaultRandomSource uses math/rand's package-level generator.
type DefaultRandomSource struct{}

// Float64 implements RandomSource.
func (DefaultRandomSource) Float64() float64 { return rand.Float64() }

// Volatile reports whether a built-in function's result can change between
// calls with identical arguments (spec §4.7/§9 supplement: volatile
// functions set input_sensitive and are re-marked dirty on every
// recalculation regardless of dependency edges).
type Volatile func(name string) bool

// BuiltIns is the built-in function set this engine ships with. The
// surrounding spec treats the function library as an external
// collaborator (spec §1 Non-goals), so this is intentionally small: just
// enough arithmetic-adjacent and control-adjacent functions to exercise
// the interpreter's operator dispatch and the cache's volatility tracking.
type BuiltIns struct {
	clock Clock
	rng   RandomSource
}

// NewBuiltIns constructs the default built-in set.
func NewBuiltIns() *BuiltIns {
	return &BuiltIns{clock: WallClock{}, rng: DefaultRandomSource{}}
}

// WithClock overrides the clock collaborator (tests).
func (b *BuiltIns) WithClock(c Clock) *BuiltIns { b.clock = c; return b }

// WithRandomSource overrides the randomness collaborator (tests).
func (b *BuiltIns) WithRandomSource(r RandomSource) *BuiltIns { b.rng = r; return b }

// VolatileNames lists the function names whose result depends on
// ambient state rather than purely on their arguments.
func (b *BuiltIns) VolatileNames() []string { return []string{"NOW", "TODAY", "RAND"} }

// RegisterInto installs every built-in function into r under sequential
// function codes starting at base.
func (b *BuiltIns) RegisterInto(r *Registry, base int32) {
	code := base
	reg := func(name string, fn Function) {
		r.RegisterBuiltin(code, name, fn)
		code++
	}

	reg("SUM", b.sum)
	reg("AVERAGE", b.average)
	reg("COUNT", b.count)
	reg("COUNTA", b.counta)
	reg("MAX", b.max)
	reg("MIN", b.min)
	reg("ABS", unaryMath(math.Abs))
	reg("SQRT", unaryMath(math.Sqrt))
	reg("NOT", b.not)
	reg("AND", b.and)
	reg("OR", b.or)
	reg("ISBLANK", b.isBlank)
	reg("ISERROR", b.isError)
	reg("ISNUMBER", b.isNumber)
	reg("IF", b.ifFn)
	reg("CHOOSE", b.choose)
	reg("NOW", b.now)
	reg("TODAY", b.today)
	reg("RAND", b.rand)
}

func checkError(vs []value.Value) (value.Value, bool) {
	for _, v := range vs {
		if v.IsError() {
			return v, true
		}
	}
	return value.Value{}, false
}

func numericOrError(v value.Value) (float64, bool) {
	switch v.Kind {
	case value.KindNumber:
		return v.Num, true
	case value.KindBool:
		if v.Bool {
			return 1, true
		}
		return 0, true
	case value.KindBlank:
		return 0, true
	default:
		return 0, false
	}
}

func (b *BuiltIns) sum(a Args) value.Value {
	scalars := a.Scalars()
	if errV, ok := checkError(scalars); ok {
		return errV
	}
	total := 0.0
	for _, s := range scalars {
		if n, ok := numericOrError(s); ok {
			total += n
		}
	}
	return value.Number(total)
}

func (b *BuiltIns) average(a Args) value.Value {
	scalars := a.Scalars()
	if errV, ok := checkError(scalars); ok {
		return errV
	}
	total, n := 0.0, 0
	for _, s := range scalars {
		if s.Kind == value.KindNumber {
			total += s.Num
			n++
		}
	}
	if n == 0 {
		return value.Error(value.ErrDiv0)
	}
	return value.Number(total / float64(n))
}

func (b *BuiltIns) count(a Args) value.Value {
	n := 0
	for _, s := range a.Scalars() {
		if s.Kind == value.KindNumber {
			n++
		}
	}
	return value.Number(float64(n))
}

func (b *BuiltIns) counta(a Args) value.Value {
	n := 0
	for _, s := range a.Scalars() {
		if s.Kind != value.KindBlank {
			n++
		}
	}
	return value.Number(float64(n))
}

func (b *BuiltIns) max(a Args) value.Value {
	scalars := a.Scalars()
	if errV, ok := checkError(scalars); ok {
		return errV
	}
	best, any := 0.0, false
	for _, s := range scalars {
		if s.Kind != value.KindNumber {
			continue
		}
		if !any || s.Num > best {
			best, any = s.Num, true
		}
	}
	return value.Number(best)
}

func (b *BuiltIns) min(a Args) value.Value {
	scalars := a.Scalars()
	if errV, ok := checkError(scalars); ok {
		return errV
	}
	best, any := 0.0, false
	for _, s := range scalars {
		if s.Kind != value.KindNumber {
			continue
		}
		if !any || s.Num < best {
			best, any = s.Num, true
		}
	}
	return value.Number(best)
}

func unaryMath(f func(float64) float64) Function {
	return func(a Args) value.Value {
		if len(a.Values) != 1 {
			return value.Error(value.ErrValue)
		}
		v := a.Values[0]
		if v.IsError() {
			return v
		}
		n, ok := numericOrError(v)
		if !ok {
			return value.Error(value.ErrValue)
		}
		return value.Number(f(n))
	}
}

func (b *BuiltIns) not(a Args) value.Value {
	if len(a.Values) != 1 {
		return value.Error(value.ErrValue)
	}
	v := a.Values[0]
	if v.IsError() {
		return v
	}
	if v.Kind != value.KindBool {
		return value.Error(value.ErrValue)
	}
	return value.Boolean(!v.Bool)
}

func (b *BuiltIns) and(a Args) value.Value {
	scalars := a.Scalars()
	if errV, ok := checkError(scalars); ok {
		return errV
	}
	result := true
	for _, s := range scalars {
		if s.Kind == value.KindBool {
			result = result && s.Bool
		}
	}
	return value.Boolean(result)
}

func (b *BuiltIns) or(a Args) value.Value {
	scalars := a.Scalars()
	if errV, ok := checkError(scalars); ok {
		return errV
	}
	result := false
	for _, s := range scalars {
		if s.Kind == value.KindBool {
			result = result || s.Bool
		}
	}
	return value.Boolean(result)
}

// isBlank deliberately does not go through Scalars()/ReadScalars: it needs
// the original reference, not the dereferenced-and-zeroed value (spec
// §4.2: "ISBLANK detects original blanks before dereferencing").
func (b *BuiltIns) isBlank(a Args) value.Value {
	if len(a.Values) != 1 {
		return value.Error(value.ErrValue)
	}
	v := a.Values[0]
	if v.Kind == value.KindBlank {
		return value.Boolean(true)
	}
	if v.Kind == value.KindSingleRef {
		return value.Boolean(a.Reader.IsBlankCell(v))
	}
	return value.Boolean(false)
}

func (b *BuiltIns) isError(a Args) value.Value {
	if len(a.Values) != 1 {
		return value.Error(value.ErrValue)
	}
	return value.Boolean(a.Values[0].IsError())
}

func (b *BuiltIns) isNumber(a Args) value.Value {
	if len(a.Values) != 1 {
		return value.Error(value.ErrValue)
	}
	return value.Boolean(a.Values[0].Kind == value.KindNumber)
}

// ifFn is the generic (non-optimized) fallback for IF, reached when IF is
// invoked as a plain function call rather than through the interpreter's
// optimized ControlIf encoding (spec §4.8 notes the optimization is
// disabled in array-formula context).
func (b *BuiltIns) ifFn(a Args) value.Value {
	if len(a.Values) < 2 || len(a.Values) > 3 {
		return value.Error(value.ErrValue)
	}
	cond := a.Values[0]
	if cond.IsError() {
		return cond
	}
	if cond.Kind != value.KindBool {
		return value.Error(value.ErrValue)
	}
	if cond.Bool {
		return a.Values[1]
	}
	if len(a.Values) == 3 {
		return a.Values[2]
	}
	return value.Boolean(false)
}

// choose is the generic fallback for CHOOSE, mirroring ControlChoose's
// out-of-range behavior (spec §4.8, §8 scenario 3).
func (b *BuiltIns) choose(a Args) value.Value {
	if len(a.Values) < 2 {
		return value.Error(value.ErrValue)
	}
	idx := a.Values[0]
	if idx.IsError() {
		return idx
	}
	n, ok := numericOrError(idx)
	if !ok {
		return value.Error(value.ErrValue)
	}
	i := int(n)
	if i < 1 || i > len(a.Values)-1 {
		return value.Error(value.ErrValue)
	}
	return a.Values[i]
}

func (b *BuiltIns) now(Args) value.Value {
	return value.Number(float64(b.clock.Now().Unix()) / 86400.0)
}

func (b *BuiltIns) today(Args) value.Value {
	t := b.clock.Now()
	return value.Number(float64(t.Year()*372 + int(t.Month())*31 + t.Day()))
}

func (b *BuiltIns) rand(Args) value.Value {
	return value.Number(b.rng.Float64())
}

// NamesContains reports whether name (already uppercased) is one of the
// strings in names.
func namesContains(names []string, name string) bool {
	for _, n := range names {
		if strings.EqualFold(n, name) {
			return true
		}
	}
	return false
}
