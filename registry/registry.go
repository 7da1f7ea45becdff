// Package registry implements the function lookup surface of spec §4.3:
// built-in functions addressed by numeric code or name, user-defined
// functions addressed by name through one or more finders, and an
// aggregating finder that tries each child in order.
package registry

import "github.com/npoi-go/formulaengine/value"

// CellReader lets a function expand a reference or area argument into the
// scalar values it covers, without the registry package needing to know
// anything about sheets, workbooks or the evaluation cache. The evaluation
// context (package interp) implements this.
type CellReader interface {
	// ReadScalars appends every scalar value covered by v to dst and
	// returns the extended slice. Scalars are appended as-is; a Ref/Area
	// is expanded cell by cell.
	ReadScalars(v value.Value, dst []value.Value) []value.Value
	// IsBlankCell reports whether v (expected to be a SingleRef) names a
	// cell that is blank, prior to the formula-result blank-to-zero
	// coercion (spec §4.2) — needed by ISBLANK.
	IsBlankCell(v value.Value) bool
}

// Args is the already-evaluated argument list handed to a function. Values
// arrive exactly as popped off the operand stack (a reference or area is
// NOT pre-dereferenced) because whether to dereference is a
// function-by-function concern: SUM wants areas intact so it can sum every
// covered cell; ISBLANK wants the original reference so it can tell a
// blank cell from a zero. Use Reader to expand a Ref/Area argument.
type Args struct {
	Values []value.Value
	Reader CellReader
}

// Scalars flattens every argument to scalars via Reader, in order.
func (a Args) Scalars() []value.Value {
	var out []value.Value
	for _, v := range a.Values {
		out = a.Reader.ReadScalars(v, out)
	}
	return out
}

// Function is a callable built-in or user-defined spreadsheet function.
type Function func(args Args) value.Value

// UDFFinder looks up a user-defined function by name.
type UDFFinder interface {
	FindFunction(name string) (Function, bool)
}

// UDFFinderFunc adapts a plain function to UDFFinder.
type UDFFinderFunc func(name string) (Function, bool)

// FindFunction implements UDFFinder.
func (f UDFFinderFunc) FindFunction(name string) (Function, bool) { return f(name) }

// AggregatingFinder holds an ordered list of child finders and returns the
// first hit (spec §4.3).
type AggregatingFinder struct {
	children []UDFFinder
}

// NewAggregatingFinder builds a finder that tries each child in order.
func NewAggregatingFinder(children ...UDFFinder) *AggregatingFinder {
	return &AggregatingFinder{children: children}
}

// Add appends another child finder, tried after all existing ones.
func (a *AggregatingFinder) Add(child UDFFinder) {
	a.children = append(a.children, child)
}

// FindFunction implements UDFFinder.
func (a *AggregatingFinder) FindFunction(name string) (Function, bool) {
	for _, child := range a.children {
		if child == nil {
			continue
		}
		if fn, ok := child.FindFunction(name); ok {
			return fn, true
		}
	}
	return nil, false
}

// Registry is the root function-lookup surface an evaluation context
// consults: built-ins indexed by numeric function code (as the parser
// assigns them) or by name, falling back to the UDF finder for names that
// are not built-ins. There is no separate add-in lookup beyond these two.
type Registry struct {
	byCode map[int32]namedFunction
	byName map[string]Function
	udf    UDFFinder
}

type namedFunction struct {
	name string
	fn   Function
}

// New constructs an empty registry; use RegisterBuiltin to populate it, or
// BuiltIns.RegisterInto for the built-in set this engine ships with.
func New(udf UDFFinder) *Registry {
	return &Registry{
		byCode: make(map[int32]namedFunction),
		byName: make(map[string]Function),
		udf:    udf,
	}
}

// RegisterBuiltin adds a built-in function under both its numeric code and
// its name.
func (r *Registry) RegisterBuiltin(code int32, name string, fn Function) {
	r.byCode[code] = namedFunction{name: name, fn: fn}
	r.byName[name] = fn
}

// ByCode looks up a built-in by the parser-assigned function index.
func (r *Registry) ByCode(code int32) (Function, string, bool) {
	nf, ok := r.byCode[code]
	if !ok {
		return nil, "", false
	}
	return nf.fn, nf.name, true
}

// ByName looks up a function by name: built-ins first, then the UDF
// finder, matching the aggregating-lookup behavior of §4.3.
func (r *Registry) ByName(name string) (Function, bool) {
	if fn, ok := r.byName[name]; ok {
		return fn, true
	}
	if r.udf != nil {
		return r.udf.FindFunction(name)
	}
	return nil, false
}

// SupportedNames returns every built-in name plus every name the UDF finder
// is willing to report (if it implements NameLister).
func (r *Registry) SupportedNames() []string {
	names := make([]string, 0, len(r.byName))
	for name := range r.byName {
		names = append(names, name)
	}
	if lister, ok := r.udf.(NameLister); ok {
		names = append(names, lister.Names()...)
	}
	return names
}

// NameLister is an optional capability a UDFFinder can implement so
// supported_function_names() (spec §4.1) can enumerate it.
type NameLister interface {
	Names() []string
}
