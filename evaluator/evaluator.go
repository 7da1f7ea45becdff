// Package evaluator implements the workbook evaluator façade of spec §4.1:
// the single entry point a host calls to read a cell's value, notify it of
// edits, and attach a workbook to a collaborating environment. It ties
// together every other package — the compiled token stream (formulaparser/
// ptg), the interpreter (interp), the dependency cache (cache), the
// reentrancy tracker (tracker) and the collaborating-workbook registry
// (environment) — into one demand-driven recalculation engine.
//
// Grounded on the teacher's sheet.go Spreadsheet, which plays the same
// "one façade, several collaborators" role for a tree-walking evaluator;
// generalized here to a postfix-token evaluator with an explicit
// reentrancy tracker, since the teacher's recursive Eval detects cycles
// with the Go call stack alone (graph.go's separate GetCalculationOrder
// pass), which doesn't carry across this engine's resolver boundary.
package evaluator

import (
	"sort"
	"strings"
	"sync"
	"sync/atomic"

	"golang.org/x/exp/maps"

	"github.com/npoi-go/formulaengine/cache"
	"github.com/npoi-go/formulaengine/coord"
	"github.com/npoi-go/formulaengine/environment"
	"github.com/npoi-go/formulaengine/evalerr"
	"github.com/npoi-go/formulaengine/formulaparser"
	"github.com/npoi-go/formulaengine/interp"
	"github.com/npoi-go/formulaengine/ptg"
	"github.com/npoi-go/formulaengine/registry"
	"github.com/npoi-go/formulaengine/tracker"
	"github.com/npoi-go/formulaengine/value"
	"github.com/npoi-go/formulaengine/workbook"
)

// Config holds the evaluator's one-shot and standing options (spec §6).
type Config struct {
	// IgnoreMissingWorkbooks makes a Ref3D/Area3D naming an unattached
	// external workbook fall back to its cached literal instead of
	// raising FaultMissingExternalWorkbook.
	IgnoreMissingWorkbooks bool
	// DebugNextEval seeds the one-shot debug_evaluation_output_for_next_eval
	// latch: the very next top-level Evaluate/EvaluateFormula/EvaluateList
	// call streams every executed token to TokenSink, then the latch
	// clears itself. Use SetDebugNextEval to arm it later instead.
	DebugNextEval bool
}

// Evaluator is the workbook evaluator façade of spec §4.1.
type Evaluator struct {
	mu sync.Mutex
	// activeTrk holds the tracker of whichever call currently owns mu, so
	// a Ref3D chain that loops back to this same evaluator from a
	// collaborating workbook (spec §1 cross-workbook cycle detection) can
	// recognize itself by tracker identity and proceed without trying to
	// re-lock a mutex it is already holding, which would deadlock.
	activeTrk atomic.Pointer[tracker.Tracker]

	wb         workbook.Workbook
	workbookIx atomic.Uint32
	reg        *registry.Registry
	config     Config

	cache *cache.Cache

	env     *environment.Environment
	envName string

	compiled      map[string][]ptg.Token
	volatileNames map[string]bool
	nameRefs      map[coord.CellID]map[string]struct{}

	debugNext bool
	tracer    Tracer
	tokenSink TokenSink
	stability StabilityClassifier
}

// New constructs an Evaluator over wb, resolving functions through reg. The
// evaluator starts unattached to any collaborating environment, with a
// fresh, private cache.
func New(wb workbook.Workbook, reg *registry.Registry, config Config) *Evaluator {
	return &Evaluator{
		wb:            wb,
		reg:           reg,
		config:        config,
		cache:         cache.New(),
		compiled:      make(map[string][]ptg.Token),
		volatileNames: make(map[string]bool),
		nameRefs:      make(map[coord.CellID]map[string]struct{}),
		debugNext:     config.DebugNextEval,
	}
}

// WithTracer attaches an evaluation lifecycle listener (spec §6
// EvaluationListener).
func (e *Evaluator) WithTracer(t Tracer) *Evaluator { e.tracer = t; return e }

// WithTokenSink attaches the sink consulted during the one-shot debug
// window.
func (e *Evaluator) WithTokenSink(s TokenSink) *Evaluator { e.tokenSink = s; return e }

// WithStabilityClassifier attaches the optional oracle of spec §4.7.
func (e *Evaluator) WithStabilityClassifier(c StabilityClassifier) *Evaluator {
	e.stability = c
	return e
}

// WithVolatileNames registers the set of function names (spec supplemented
// feature: volatile functions) whose formulas are always marked input-
// sensitive, regardless of which cells they read. Typically seeded from
// registry.BuiltIns.VolatileNames().
func (e *Evaluator) WithVolatileNames(names []string) *Evaluator {
	for _, n := range names {
		e.volatileNames[strings.ToUpper(n)] = true
	}
	return e
}

// SetDebugNextEval arms or disarms the one-shot debug window without going
// through Config.
func (e *Evaluator) SetDebugNextEval(on bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.debugNext = on
}

// Evaluate returns cell id's current value, computing it (and everything it
// transitively depends on) if it is not already cached. Never returns
// value.Blank(): a genuinely empty cell coerces to Number(0) at this
// boundary (spec §4.2).
func (e *Evaluator) Evaluate(id coord.CellID) (value.Value, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	trk := tracker.New()
	e.activeTrk.Store(trk)
	defer e.activeTrk.Store(nil)
	result, err := e.evaluateAny(id, trk)
	e.debugNext = false
	if err != nil {
		return value.Value{}, err
	}
	if result.Kind == value.KindBlank {
		result = value.Number(0)
	}
	return result, nil
}

// EvaluateFormula compiles and evaluates formula as if it were written into
// target, without storing anything in the cache under target's identity
// (spec §4.1 evaluate(formula_string, target_ref)). References inside the
// formula still resolve, and evaluate, through the ordinary cache and
// tracker.
func (e *Evaluator) EvaluateFormula(formula string, target coord.CellID) (value.Value, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	tokens, err := e.compile(formula)
	if err != nil {
		return value.Value{}, evalerr.Newf(evalerr.FaultMalformedFormula, "%v", err).WithCell(cellRef(target))
	}

	trk := tracker.New()
	e.activeTrk.Store(trk)
	defer e.activeTrk.Store(nil)
	ctx := e.newContext(target, trk)
	result, err := interp.Eval(tokens, ctx)
	e.debugNext = false
	if err != nil {
		return value.Value{}, err
	}
	result = ctx.Dereference(result)
	if result.Kind == value.KindBlank {
		result = value.Number(0)
	}
	return result, nil
}

// EvaluateList compiles formula once and evaluates it with every relative
// reference shifted by the offset from region's anchor to target (spec §4.1
// evaluate_list, §4.9 region-relative adjustment). Unlike Evaluate and
// EvaluateFormula, the result is not collapsed to a scalar: a formula that
// itself resolves to an area rides through unresolved, for the caller to
// project further.
func (e *Evaluator) EvaluateList(formula string, target coord.CellID, region coord.RangeID) (value.Value, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	tokens, err := e.compile(formula)
	if err != nil {
		return value.Value{}, evalerr.Newf(evalerr.FaultMalformedFormula, "%v", err).WithCell(cellRef(target))
	}

	deltaRow := int64(target.Row) - int64(region.FirstRow)
	deltaCol := int64(target.Col) - int64(region.FirstCol)
	shifted, _, err := ShiftRelativeReferences(tokens, deltaRow, deltaCol, e.wb.Version())
	if err != nil {
		return value.Value{}, err
	}

	trk := tracker.New()
	e.activeTrk.Store(trk)
	defer e.activeTrk.Store(nil)
	ctx := e.newContext(target, trk)
	result, err := interp.Eval(shifted, ctx)
	e.debugNext = false
	if err != nil {
		return value.Value{}, err
	}
	return result, nil
}

// NotifyUpdateCell tells the evaluator that id's raw content changed (spec
// §4.1): every cached formula result that transitively read id is dropped,
// and every volatile formula in the cache is dropped too, since its result
// may have changed independent of any input edge.
func (e *Evaluator) NotifyUpdateCell(id coord.CellID) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.cache.NotifyDeleteCell(id)
	e.invalidateVolatiles()
}

// NotifyDeleteCell tells the evaluator that id was cleared entirely (spec
// §4.1). The cache is handled identically to NotifyUpdateCell: the evaluator
// cannot tell, without a fresh read, whether id became blank, a literal, or
// a formula, so both notifications simply drop whatever was cached and let
// the next read discover the new content lazily. In addition, every named-
// range reference id's formula held is released.
func (e *Evaluator) NotifyDeleteCell(id coord.CellID) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.cache.NotifyDeleteCell(id)
	e.invalidateVolatiles()
	e.trackNameReferences(id, nil)
}

func (e *Evaluator) invalidateVolatiles() {
	for _, id := range e.cache.VolatileEntries() {
		e.cache.NotifyDeleteCell(id)
	}
}

// ClearAllCachedResults drops every cached result (spec §4.1
// clear_all_cached_results). Implemented by swapping in a brand new cache
// rather than clearing the existing one in place: when this evaluator is
// attached to a collaborating environment, e.cache may be the same *Cache
// object shared by other evaluators, and clearing it in place would wipe
// their results too.
func (e *Evaluator) ClearAllCachedResults() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.cache = cache.New()
}

// AttachToEnvironment registers this evaluator under name in env, pointing
// it at the shared cache every other evaluator attached to env also reads
// and writes (spec §4.1 attach_to_environment / §3 CollaboratingWorkbooksEnvironment).
func (e *Evaluator) AttachToEnvironment(env *environment.Environment, name string, shared *cache.Cache, workbookIx uint32) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.env = env
	e.envName = name
	e.cache = shared
	e.workbookIx.Store(workbookIx)
	env.Attach(name, e)
}

// DetachFromEnvironment removes this evaluator from its environment. The
// environment's Detach calls back into ClearAllCachedResults, installing a
// fresh empty cache so no stale cross-workbook value can survive the
// detach (spec §4.1 detach_from_environment).
func (e *Evaluator) DetachFromEnvironment() {
	e.mu.Lock()
	env, name := e.env, e.envName
	e.mu.Unlock()
	if env == nil {
		return
	}
	env.Detach(name)
	e.mu.Lock()
	e.env = nil
	e.envName = ""
	e.workbookIx.Store(0)
	e.mu.Unlock()
}

// WorkbookIx implements environment.Evaluator. Lock-free: a collaborating
// evaluator resolving a Ref3D back into this one may already be on this
// same goroutine's call stack holding e.mu (spec §1 cross-workbook cycle
// detection), and workbookIx only ever changes at attach/detach, so there
// is nothing a mutex would protect here that the atomic doesn't already.
func (e *Evaluator) WorkbookIx() uint32 {
	return e.workbookIx.Load()
}

// EvaluateCellID implements environment.Evaluator: it rejects a cell that
// does not belong to this evaluator's own workbook (spec: a
// CollaboratingWorkbooksEnvironment resolves a Ref3D/Area3D to the owning
// evaluator first; this is just a consistency check on the address it
// hands back).
//
// trk is the calling evaluator's own reentrancy tracker, not a fresh one:
// a Ref3D/Area3D chasing a cycle back across workbooks must poison the
// same tracker the call originated from, or the cycle never closes and
// recursion runs unbounded (spec §1 cycle detection spanning collaborating
// workbooks).
//
// If trk is the tracker already driving a call currently holding e.mu,
// this is that same call looping back into this evaluator from a
// collaborator further down the chain; re-locking would deadlock, so it
// proceeds directly and lets trk.StartEvaluate's cycle check in
// evaluateAny catch it instead.
func (e *Evaluator) EvaluateCellID(id coord.CellID, trk *tracker.Tracker) (value.Value, error) {
	if e.activeTrk.Load() == trk {
		return e.evaluateCellIDLocked(id, trk)
	}
	e.mu.Lock()
	e.activeTrk.Store(trk)
	defer func() {
		e.activeTrk.Store(nil)
		e.mu.Unlock()
	}()
	return e.evaluateCellIDLocked(id, trk)
}

func (e *Evaluator) evaluateCellIDLocked(id coord.CellID, trk *tracker.Tracker) (value.Value, error) {
	if id.WorkbookIx != e.workbookIx.Load() {
		return value.Value{}, evalerr.New(evalerr.FaultForeignSheet)
	}
	result, err := e.evaluateAny(id, trk)
	if err != nil {
		return value.Value{}, err
	}
	if result.Kind == value.KindBlank {
		result = value.Number(0)
	}
	return result, nil
}

// SupportedFunctionNames lists every function this evaluator can resolve by
// name: the registry's built-ins plus whatever the registry's own UDF finder
// reports through registry.NameLister (spec §4.1 supported_function_names).
// The workbook's UDFFinder is not consulted.
func (e *Evaluator) SupportedFunctionNames() []string {
	e.mu.Lock()
	defer e.mu.Unlock()
	set := make(map[string]struct{})
	for _, n := range e.reg.SupportedNames() {
		set[strings.ToUpper(n)] = struct{}{}
	}
	names := maps.Keys(set)
	sort.Strings(names)
	return names
}

// wellKnownUnsupported is a small, curated list of Excel function names a
// complete spreadsheet engine would have, used only to give
// NotSupportedFunctionNames something concrete to report; the spec defines
// no universe of "every Excel function" to diff against.
var wellKnownUnsupported = []string{
	"VLOOKUP", "HLOOKUP", "INDEX", "MATCH", "CONCATENATE", "TEXT", "TRIM",
	"SUMIF", "COUNTIF", "SUMIFS", "COUNTIFS", "OFFSET", "INDIRECT",
	"VALUE", "LEFT", "RIGHT", "MID", "LEN", "ROUND", "DATE", "DATEDIF",
}

// NotSupportedFunctionNames lists well-known spreadsheet functions this
// evaluator does not implement (spec §4.1 not_supported_function_names).
func (e *Evaluator) NotSupportedFunctionNames() []string {
	supported := make(map[string]struct{})
	for _, n := range e.SupportedFunctionNames() {
		supported[n] = struct{}{}
	}
	var out []string
	for _, n := range wellKnownUnsupported {
		if _, ok := supported[n]; !ok {
			out = append(out, n)
		}
	}
	sort.Strings(out)
	return out
}

// evaluateAny is the recursive core behind every top-level entry point. The
// caller must already hold e.mu.
func (e *Evaluator) evaluateAny(id coord.CellID, trk *tracker.Tracker) (value.Value, error) {
	if entry, ok := e.cache.Get(id); ok && entry.Value != nil {
		if e.tracer != nil {
			e.tracer.OnCacheHit(id, *entry.Value)
		}
		e.acceptDependency(trk, id)
		return *entry.Value, nil
	}

	raw, found := e.rawCell(id)
	if !found || raw.Formula == "" {
		v := value.Blank()
		if found {
			v = raw.Literal
		}
		e.cache.GetOrCreatePlainEntry(id, v)
		e.acceptDependency(trk, id)
		return v, nil
	}

	if trk.StartEvaluate(id) {
		// Circular reference (spec §4.6): id is already being evaluated
		// further down this same top-level call. Poison every frame from
		// id to the top of the stack so none of them commits a result,
		// and report the cycle in-band rather than as a Go error (spec §7
		// channel 1).
		trk.MarkCyclePoisoned(id)
		return value.Error(value.ErrCircular), nil
	}

	e.cache.GetOrCreateFormulaEntry(id)
	e.cache.ClearInputEdges(id)

	tokens, cerr := e.compile(raw.Formula)
	if cerr != nil {
		trk.EndEvaluate(id)
		return value.Value{}, evalerr.Newf(evalerr.FaultMalformedFormula, "%v", cerr).WithCell(cellRef(id))
	}
	e.trackNameReferences(id, tokens)

	ctx := e.newContext(id, trk)
	if e.tracer != nil {
		e.tracer.OnStartEvaluate(id)
	}
	result, err := interp.Eval(tokens, ctx)
	inputs := trk.EndEvaluate(id)
	if err != nil {
		return value.Value{}, err
	}
	result = ctx.Dereference(result)

	if trk.IsPoisoned(id) {
		return value.Error(value.ErrCircular), nil
	}

	if result.Kind == value.KindBlank {
		result = value.Number(0)
	}
	for _, in := range inputs {
		e.cache.AddInputEdge(id, in)
	}
	if e.formulaIsVolatile(tokens) {
		e.cache.MarkInputSensitive(id)
	}
	e.cache.SetResult(id, result)
	e.acceptDependency(trk, id)
	if e.tracer != nil {
		e.tracer.OnEndEvaluate(id, result)
	}
	return result, nil
}

// acceptDependency records dep against trk's current frame, unless a
// stability classifier reports dep as final (spec §4.7: a cell that can
// never change again need not be tracked as a dependency).
func (e *Evaluator) acceptDependency(trk *tracker.Tracker, dep coord.CellID) {
	if e.stability != nil && e.stability.IsCellFinal(dep) {
		return
	}
	trk.AcceptDependency(dep)
}

// newContext builds an interp.Context for cell, wiring the one-shot debug
// trace if armed.
func (e *Evaluator) newContext(cell coord.CellID, trk *tracker.Tracker) *interp.Context {
	ctx := &interp.Context{
		Workbook:               e.wb,
		Resolver:               &cellResolver{ev: e, trk: trk},
		Registry:               e.reg,
		WorkbookIx:             cell.WorkbookIx,
		Cell:                   cell,
		Env:                    e.env,
		IgnoreMissingWorkbooks: e.config.IgnoreMissingWorkbooks,
	}
	if e.debugNext && e.tokenSink != nil {
		sink := e.tokenSink
		ctx.Trace = func(index int, tok ptg.Token) {
			sink.OnToken(cell, index, tok)
		}
	}
	return ctx
}

// cellResolver adapts *Evaluator to interp.CellResolver and
// interp.NameResolver for one evaluation call's token stream.
type cellResolver struct {
	ev  *Evaluator
	trk *tracker.Tracker
}

func (r *cellResolver) ResolveCell(id coord.CellID) (value.Value, error) {
	return r.ev.evaluateAny(id, r.trk)
}

func (r *cellResolver) RawCell(id coord.CellID) (workbook.CellData, bool) {
	return r.ev.rawCell(id)
}

func (r *cellResolver) ResolveName(name string, sheetIx int32) (value.Value, error) {
	return r.ev.resolveFormulaName(name, sheetIx, r.trk)
}

// EvaluateExternal implements interp.ExternalCellEvaluator: it hands this
// evaluation's own tracker to the collaborating evaluator, so a formula
// chain that cycles back across workbooks poisons the same stack a
// same-workbook cycle would.
func (r *cellResolver) EvaluateExternal(ev environment.Evaluator, id coord.CellID) (value.Value, error) {
	return ev.EvaluateCellID(id, r.trk)
}

// resolveFormulaName evaluates a formula-defined name (spec: named ranges
// "consumed from the workbook collaborator", §6). A fixed-range name is
// already handled by interp's resolveName before this is ever reached.
//
// Known gap: a name whose own formula refers back to itself is not caught
// as a cycle, since the tracker keys on coord.CellID, not name identifiers.
// Accepted as a documented scope limitation.
func (e *Evaluator) resolveFormulaName(name string, sheetIx int32, trk *tracker.Tracker) (value.Value, error) {
	def, ok := e.wb.NameDefinition(name, sheetIx)
	if !ok || def.IsRange {
		return value.NamedRangePlaceholder(name), nil
	}
	tokens, err := e.compile(def.Formula)
	if err != nil {
		return value.Value{}, evalerr.Newf(evalerr.FaultMalformedFormula, "name %q: %v", name, err)
	}
	ctx := e.newContext(coord.CellID{WorkbookIx: e.workbookIx.Load(), SheetIx: sheetIx}, trk)
	result, err := interp.Eval(tokens, ctx)
	if err != nil {
		return value.Value{}, err
	}
	return ctx.Dereference(result), nil
}

// rawCell reads id's unevaluated content off the workbook collaborator.
func (e *Evaluator) rawCell(id coord.CellID) (workbook.CellData, bool) {
	if e.wb == nil {
		return workbook.CellData{}, false
	}
	sh, ok := e.wb.SheetByIndex(id.SheetIx)
	if !ok {
		return workbook.CellData{}, false
	}
	return sh.Cell(id.Row, id.Col)
}

// compile parses and interns formula text into a token stream. Compile's
// output depends only on the formula text and the workbook's sheet names,
// never on the calling cell's position, so one cache entry can serve every
// cell sharing the same formula text (spec supplemented feature:
// shared-formula-style interning).
func (e *Evaluator) compile(formula string) ([]ptg.Token, error) {
	if tokens, ok := e.compiled[formula]; ok {
		return tokens, nil
	}
	tokens, err := formulaparser.Compile(formula, e.wb)
	if err != nil {
		return nil, err
	}
	e.compiled[formula] = tokens
	return tokens, nil
}

// formulaIsVolatile reports whether tokens calls a function named in
// e.volatileNames (spec supplemented feature: volatile functions always
// re-marked dirty, independent of their input edges).
func (e *Evaluator) formulaIsVolatile(tokens []ptg.Token) bool {
	if len(e.volatileNames) == 0 {
		return false
	}
	for _, t := range tokens {
		if t.Category != ptg.CategoryOperator {
			continue
		}
		if t.Form != ptg.FormFunctionFixed && t.Form != ptg.FormFunctionVariadic {
			continue
		}
		name := t.FunctionName
		if t.FunctionCode >= 0 {
			if _, n, ok := e.reg.ByCode(t.FunctionCode); ok {
				name = n
			}
		}
		if e.volatileNames[strings.ToUpper(name)] {
			return true
		}
	}
	return false
}

// nameReferenceTracker is an optional capability of the workbook
// collaborator (implemented by memworkbook.Book) that counts how many
// formulas currently cite each defined name, adapted from the teacher's
// range.go NamedRangeTable. A workbook that doesn't implement it simply
// forgoes reference counting; nothing else in the evaluator depends on it.
type nameReferenceTracker interface {
	ReferenceName(name string, sheetIx int32)
	ReleaseName(name string, sheetIx int32) bool
}

// trackNameReferences reconciles id's previously-recorded set of
// CategoryName references against the names actually present in tokens
// (nil tokens means id's formula was removed entirely), referencing newly
// cited names and releasing ones no longer cited. This is what lets a
// named range be referenced before it's defined and be cleaned up once the
// last formula citing it is gone (spec supplemented feature: named-range
// reference counting). Counts are kept on the workbook-scoped entry
// (sheetIx -1), also for a name that a sheet-scoped definition shadows.
func (e *Evaluator) trackNameReferences(id coord.CellID, tokens []ptg.Token) {
	nrt, ok := e.wb.(nameReferenceTracker)
	if !ok {
		return
	}

	next := make(map[string]struct{})
	for _, t := range tokens {
		if t.Category == ptg.CategoryName {
			next[strings.ToUpper(t.ExternalName)] = struct{}{}
		}
	}
	if len(next) == 0 {
		next = nil
	}

	prev := e.nameRefs[id]
	for name := range next {
		if _, had := prev[name]; !had {
			nrt.ReferenceName(name, -1)
		}
	}
	for name := range prev {
		if _, still := next[name]; !still {
			nrt.ReleaseName(name, -1)
		}
	}

	if next == nil {
		delete(e.nameRefs, id)
	} else {
		e.nameRefs[id] = next
	}
}

func cellRef(id coord.CellID) evalerr.CellRef {
	return evalerr.CellRef{WorkbookIx: id.WorkbookIx, SheetIx: id.SheetIx, Row: id.Row, Col: id.Col}
}
