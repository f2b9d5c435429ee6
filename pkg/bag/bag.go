// Package bag provides the immutable entity collection and its lazy,
// position-based projections. A Bag snapshots entities and their documents
// at construction; every View transform returns a new View over the same
// bag and never mutates shared state.
package bag

import (
	"fmt"
	"iter"
	"sort"

	"nvcore/pkg/dto"
)

// Bag is an immutable, order-preserving snapshot of zero or more entities.
// Field-level operations read from per-entity documents captured once at
// construction.
type Bag[E dto.Entity] struct {
	items []E
	docs  []dto.Document
}

// Of snapshots the given entities into a new bag. Each entity's document is
// materialized once here; a serialization failure aborts construction.
func Of[E dto.Entity](items ...E) (*Bag[E], error) {
	b := &Bag[E]{
		items: append([]E(nil), items...),
		docs:  make([]dto.Document, len(items)),
	}
	for i, e := range b.items {
		doc, err := dto.DocumentOf(e)
		if err != nil {
			return nil, fmt.Errorf("bag item %d: %w", i, err)
		}
		b.docs[i] = doc
	}
	return b, nil
}

// FromDocs builds a bag from already-materialized documents, pairing each
// with its hydrated entity. Used by readers, which hold both forms.
func FromDocs[E dto.Entity](items []E, docs []dto.Document) (*Bag[E], error) {
	if len(items) != len(docs) {
		return nil, fmt.Errorf("bag: %d items but %d documents", len(items), len(docs))
	}
	return &Bag[E]{
		items: append([]E(nil), items...),
		docs:  append([]dto.Document(nil), docs...),
	}, nil
}

// Empty returns a bag with no items.
func Empty[E dto.Entity]() *Bag[E] { return &Bag[E]{} }

// Len returns the number of entities in the bag.
func (b *Bag[E]) Len() int { return len(b.items) }

// At returns the entity at position i.
func (b *Bag[E]) At(i int) E { return b.items[i] }

// Items returns a copy of the bag's entities in original order.
func (b *Bag[E]) Items() []E { return append([]E(nil), b.items...) }

// Seq iterates the bag's entities in original order.
func (b *Bag[E]) Seq() iter.Seq[E] { return b.View().Seq() }

// View returns the identity projection over the whole bag.
func (b *Bag[E]) View() View[E] {
	pos := make([]int, len(b.items))
	for i := range pos {
		pos[i] = i
	}
	return View[E]{bag: b, pos: pos}
}

// EnsureSingleton fails unless the bag holds exactly one entity.
func (b *Bag[E]) EnsureSingleton() error { return b.View().EnsureSingleton() }

// Singleton returns the bag's only entity, reporting false unless the bag
// holds exactly one.
func (b *Bag[E]) Singleton() (E, bool) { return b.View().Singleton() }

// MatchOptions tunes string matching in field-level view operations.
type MatchOptions struct {
	CaseInsensitive bool
	Normalize       bool
}

// Clause is one key of a multi-key ordering. A nil Compare falls back to
// the natural document-value ordering.
type Clause struct {
	Field string
	Desc  bool
	// NullsLast ranks missing/nil values after all present values,
	// regardless of direction.
	NullsLast bool
	Compare   func(a, b any) int
}

// View is a set of positions into a bag's backing sequence. Transforms are
// pure: each returns a new View sharing the same immutable bag.
type View[E dto.Entity] struct {
	bag *Bag[E]
	pos []int
}

// Len returns the number of positions in the view.
func (v View[E]) Len() int { return len(v.pos) }

// Items returns the entities selected by the view, in view order.
func (v View[E]) Items() []E {
	out := make([]E, len(v.pos))
	for i, p := range v.pos {
		out[i] = v.bag.items[p]
	}
	return out
}

// Seq iterates the view's entities in view order.
func (v View[E]) Seq() iter.Seq[E] {
	return func(yield func(E) bool) {
		for _, p := range v.pos {
			if !yield(v.bag.items[p]) {
				return
			}
		}
	}
}

// Filter keeps positions whose entity satisfies the predicate.
func (v View[E]) Filter(keep func(E) bool) View[E] {
	out := make([]int, 0, len(v.pos))
	for _, p := range v.pos {
		if keep(v.bag.items[p]) {
			out = append(out, p)
		}
	}
	return View[E]{bag: v.bag, pos: out}
}

// Where keeps positions whose document matches the plan.
func (v View[E]) Where(plan Plan) View[E] {
	out := make([]int, 0, len(v.pos))
	for _, p := range v.pos {
		if plan.Matches(v.bag.docs[p]) {
			out = append(out, p)
		}
	}
	return View[E]{bag: v.bag, pos: out}
}

// Include keeps rows whose field value is a member of allowed.
func (v View[E]) Include(field string, allowed []any, opts MatchOptions) View[E] {
	return v.Where(Plan{And: []Pred{{
		Field: field, Op: OpIn, Value: allowed,
		CaseInsensitive: opts.CaseInsensitive, Normalize: opts.Normalize,
	}}})
}

// Exclude drops rows whose field value is a member of denied.
func (v View[E]) Exclude(field string, denied []any, opts MatchOptions) View[E] {
	return v.Where(Plan{And: []Pred{{
		Field: field, Op: OpNotIn, Value: denied,
		CaseInsensitive: opts.CaseInsensitive, Normalize: opts.Normalize,
	}}})
}

// OrderBy sorts the view by the given clauses. The sort is stable: ties
// across all clauses keep their original bag order.
func (v View[E]) OrderBy(clauses ...Clause) View[E] {
	out := append([]int(nil), v.pos...)
	sort.SliceStable(out, func(i, j int) bool {
		for _, c := range clauses {
			if r := compareClause(v.bag.docs[out[i]], v.bag.docs[out[j]], c); r != 0 {
				return r < 0
			}
		}
		return false
	})
	return View[E]{bag: v.bag, pos: out}
}

func compareClause(a, b dto.Document, c Clause) int {
	va, vb := a[c.Field], b[c.Field]
	switch {
	case va == nil && vb == nil:
		return 0
	case va == nil:
		if c.NullsLast {
			return 1
		}
		return -1
	case vb == nil:
		if c.NullsLast {
			return -1
		}
		return 1
	}
	var r int
	if c.Compare != nil {
		r = c.Compare(va, vb)
	} else if cmp, ok := Compare(va, vb); ok {
		r = cmp
	}
	if c.Desc {
		r = -r
	}
	return r
}

// Paginate slices the view. Offset and limit are clamped to valid bounds;
// out-of-range values yield an empty view rather than an error.
func (v View[E]) Paginate(offset, limit int) View[E] {
	if offset < 0 {
		offset = 0
	}
	if offset > len(v.pos) {
		offset = len(v.pos)
	}
	if limit < 0 {
		limit = 0
	}
	end := offset + limit
	if end > len(v.pos) {
		end = len(v.pos)
	}
	return View[E]{bag: v.bag, pos: append([]int(nil), v.pos[offset:end]...)}
}

// Distinct returns the normalized distinct values of a field, in order of
// first appearance.
func (v View[E]) Distinct(field string, opts MatchOptions) []any {
	var out []any
	seen := map[any]bool{}
	for _, p := range v.pos {
		val := NormalizeValue(v.bag.docs[p][field], opts.CaseInsensitive, opts.Normalize)
		if !comparableValue(val) {
			continue
		}
		if !seen[val] {
			seen[val] = true
			out = append(out, val)
		}
	}
	return out
}

// GroupBy partitions the view by normalized field value. Rows whose value
// is not a comparable scalar are skipped.
func (v View[E]) GroupBy(field string, opts MatchOptions) map[any]View[E] {
	groups := map[any][]int{}
	var keys []any
	for _, p := range v.pos {
		val := NormalizeValue(v.bag.docs[p][field], opts.CaseInsensitive, opts.Normalize)
		if !comparableValue(val) {
			continue
		}
		if _, ok := groups[val]; !ok {
			keys = append(keys, val)
		}
		groups[val] = append(groups[val], p)
	}
	out := make(map[any]View[E], len(keys))
	for _, k := range keys {
		out[k] = View[E]{bag: v.bag, pos: groups[k]}
	}
	return out
}

func comparableValue(v any) bool {
	switch v.(type) {
	case nil, string, bool, float64, float32, int, int8, int16, int32, int64,
		uint, uint8, uint16, uint32, uint64:
		return true
	default:
		return false
	}
}

// EnsureSingleton fails unless the view selects exactly one entity.
func (v View[E]) EnsureSingleton() error {
	if len(v.pos) != 1 {
		return fmt.Errorf("expected exactly one entity, have %d", len(v.pos))
	}
	return nil
}

// Singleton returns the view's only entity, reporting false unless the view
// selects exactly one.
func (v View[E]) Singleton() (E, bool) {
	if len(v.pos) != 1 {
		var zero E
		return zero, false
	}
	return v.bag.items[v.pos[0]], true
}
