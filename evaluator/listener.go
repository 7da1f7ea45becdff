package evaluator

import (
	"github.com/npoi-go/formulaengine/coord"
	"github.com/npoi-go/formulaengine/ptg"
	"github.com/npoi-go/formulaengine/value"
)

// Tracer receives evaluation lifecycle notifications (spec §6
// EvaluationListener). Implement it to observe, for diagnostics or tests,
// when a top-level or nested cell evaluation starts and ends, and when a
// read is satisfied from the cache instead of recomputed.
type Tracer interface {
	OnStartEvaluate(cell coord.CellID)
	OnEndEvaluate(cell coord.CellID, result value.Value)
	OnCacheHit(cell coord.CellID, result value.Value)
}

// TokenSink receives one call per executed token. It is only consulted
// during the one-shot window opened by Config.DebugNextEval or
// SetDebugNextEval (spec §6 debug_evaluation_output_for_next_eval, §9
// "Logger as a collaborator": an injected sink, not global state, so tests
// can observe it without capturing stdout).
type TokenSink interface {
	OnToken(cell coord.CellID, index int, tok ptg.Token)
}

// StabilityClassifier is the optional oracle of spec §4.7: when it reports
// a cell as final, the evaluator skips dependency bookkeeping for reads of
// that cell, on the assumption its value can never change again.
type StabilityClassifier interface {
	IsCellFinal(id coord.CellID) bool
}
