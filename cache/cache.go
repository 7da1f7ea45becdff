// Package cache implements the evaluation cache of spec §4.4: a
// dependency-tracking store of already-computed cell results, kept
// consistent under cell edits by a non-recursive, worklist-driven
// invalidation walk.
//
// Grounded on the teacher's graph.go DependencyGraph: same bidirectional
// precedent/dependent edge bookkeeping and the same node-lifecycle idea
// (a node with no formula and no edges is garbage). The spec's two-entry-
// kind model (plain vs formula) and its explicit "use a worklist, not
// recursion" instruction have no counterpart in the teacher's recursive
// collectDependents, so NotifyUpdateCell/NotifyDeleteCell below are new.
package cache

import (
	"github.com/npoi-go/formulaengine/coord"
	"github.com/npoi-go/formulaengine/value"
)

// EntryKind distinguishes a cell holding a literal value from one holding
// a formula result (spec §4.4).
type EntryKind uint8

const (
	// KindPlain is a non-formula cell: it has no Inputs, and its Value is
	// present except after NotifyDeleteCell, which leaves a nil Value on an
	// entry that still has Consumers.
	KindPlain EntryKind = iota
	// KindFormula is a formula cell: its Value is nil until the formula has
	// actually been evaluated (a "committed" entry, spec §4.6); its Inputs
	// records every cell/area the formula read.
	KindFormula
)

// Entry is one cached cell result plus its dependency edges.
type Entry struct {
	ID    coord.CellID
	Kind  EntryKind
	Value *value.Value

	// Inputs are the cells this formula entry read on its last evaluation
	// (empty for a plain entry). Consumers are the formula entries that
	// read this entry. Both directions are kept so an edit can walk either
	// way without a second index.
	Inputs    map[coord.CellID]struct{}
	Consumers map[coord.CellID]struct{}

	// InputSensitive marks a volatile formula (spec §4.7/supplemented
	// features): always re-marked dirty regardless of whether any input
	// actually changed.
	InputSensitive bool
}

// Cache is the evaluation cache of spec §4.4.
type Cache struct {
	entries map[coord.CellID]*Entry
}

// New constructs an empty cache.
func New() *Cache {
	return &Cache{entries: make(map[coord.CellID]*Entry)}
}

func (c *Cache) getOrCreate(id coord.CellID, kind EntryKind) *Entry {
	if e, ok := c.entries[id]; ok {
		return e
	}
	e := &Entry{
		ID:        id,
		Kind:      kind,
		Inputs:    make(map[coord.CellID]struct{}),
		Consumers: make(map[coord.CellID]struct{}),
	}
	c.entries[id] = e
	return e
}

// Get returns the cached entry for id, if any.
func (c *Cache) Get(id coord.CellID) (*Entry, bool) {
	e, ok := c.entries[id]
	return e, ok
}

// GetOrCreatePlainEntry returns id's entry, creating it as a plain entry
// with the given value if absent. An existing entry keeps its Kind and
// receives v only if its Value is nil; a Value already present is left
// untouched.
func (c *Cache) GetOrCreatePlainEntry(id coord.CellID, v value.Value) *Entry {
	e := c.getOrCreate(id, KindPlain)
	if e.Value == nil {
		vv := v
		e.Value = &vv
	}
	return e
}

// GetOrCreateFormulaEntry returns id's entry as a formula entry, creating
// an uncommitted one (Value == nil) if absent.
func (c *Cache) GetOrCreateFormulaEntry(id coord.CellID) *Entry {
	return c.getOrCreate(id, KindFormula)
}

// SetResult commits a value to a formula entry (spec §4.6: this is what
// makes the entry "committed").
func (c *Cache) SetResult(id coord.CellID, v value.Value) {
	e := c.getOrCreate(id, KindFormula)
	vv := v
	e.Value = &vv
}

// AddInputEdge records that the formula at consumer read input, wiring
// both the Inputs and Consumers sides of the edge.
func (c *Cache) AddInputEdge(consumer, input coord.CellID) {
	consumerEntry := c.getOrCreate(consumer, KindFormula)
	inputEntry := c.getOrCreate(input, KindPlain)
	consumerEntry.Inputs[input] = struct{}{}
	inputEntry.Consumers[consumer] = struct{}{}
}

// ClearInputEdges removes every Inputs/Consumers edge belonging to id,
// without touching id's own Value. Called before re-evaluating a formula
// so stale edges from a previous, differently-shaped formula don't linger
// (spec §4.4: "input edges are replaced wholesale on each evaluation").
func (c *Cache) ClearInputEdges(id coord.CellID) {
	e, ok := c.entries[id]
	if !ok {
		return
	}
	for in := range e.Inputs {
		if inEntry, ok := c.entries[in]; ok {
			delete(inEntry.Consumers, id)
			c.cleanupIfEmpty(in)
		}
	}
	e.Inputs = make(map[coord.CellID]struct{})
}

func (c *Cache) cleanupIfEmpty(id coord.CellID) {
	e, ok := c.entries[id]
	if !ok {
		return
	}
	if e.Value != nil || len(e.Inputs) > 0 || len(e.Consumers) > 0 {
		return
	}
	delete(c.entries, id)
}

// NotifyUpdateCell handles an external write to a plain cell (spec §4.4):
// the plain entry's value is replaced, and every transitive formula
// consumer has its committed Value cleared (not deleted — its Inputs/
// Consumers edges survive so a future re-evaluation can reuse them, or a
// caller can inspect what it used to depend on). Uses an explicit
// worklist so a long dependency chain never recurses.
func (c *Cache) NotifyUpdateCell(id coord.CellID, v value.Value) []coord.CellID {
	e := c.getOrCreate(id, KindPlain)
	vv := v
	e.Value = &vv

	return c.invalidateConsumers(id)
}

// NotifyDeleteCell handles a cell being cleared entirely: every transitive
// formula consumer is invalidated the same way as NotifyUpdateCell, and the
// cell's own Value is dropped. A plain entry is then removed if no edge
// refers to it any more; one that still has Consumers, and any formula
// entry, stays in place with a nil Value.
func (c *Cache) NotifyDeleteCell(id coord.CellID) []coord.CellID {
	invalidated := c.invalidateConsumers(id)

	if e, ok := c.entries[id]; ok {
		e.Value = nil
		if e.Kind == KindPlain {
			c.cleanupIfEmpty(id)
		}
	}
	return invalidated
}

// invalidateConsumers walks every transitive formula consumer of id via a
// worklist (spec: "use a worklist to avoid recursion") and clears each
// one's committed value. Returns the set of invalidated cell IDs, in
// discovery order, deduplicated.
func (c *Cache) invalidateConsumers(id coord.CellID) []coord.CellID {
	var invalidated []coord.CellID
	seen := make(map[coord.CellID]struct{})
	worklist := []coord.CellID{id}

	for len(worklist) > 0 {
		cur := worklist[len(worklist)-1]
		worklist = worklist[:len(worklist)-1]

		e, ok := c.entries[cur]
		if !ok {
			continue
		}
		for consumer := range e.Consumers {
			if _, dup := seen[consumer]; dup {
				continue
			}
			seen[consumer] = struct{}{}

			if ce, ok := c.entries[consumer]; ok && ce.Kind == KindFormula {
				ce.Value = nil
			}
			invalidated = append(invalidated, consumer)
			worklist = append(worklist, consumer)
		}
	}
	return invalidated
}

// MarkInputSensitive flags id as volatile (spec supplemented feature:
// volatile functions).
func (c *Cache) MarkInputSensitive(id coord.CellID) {
	e := c.getOrCreate(id, KindFormula)
	e.InputSensitive = true
}

// VolatileEntries returns every entry currently marked input-sensitive.
func (c *Cache) VolatileEntries() []coord.CellID {
	var out []coord.CellID
	for id, e := range c.entries {
		if e.InputSensitive {
			out = append(out, id)
		}
	}
	return out
}

// Clear removes every entry from the cache (spec §4.1
// clear_all_cached_result_values).
func (c *Cache) Clear() {
	c.entries = make(map[coord.CellID]*Entry)
}

// Len reports the number of tracked entries, for tests.
func (c *Cache) Len() int { return len(c.entries) }
