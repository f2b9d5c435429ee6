package persist

import (
	"context"
	"fmt"

	"nvcore/pkg/bag"
	"nvcore/pkg/dto"
	"nvcore/pkg/keyset"
)

// DefaultBatchLimit is the page size used when a batch read does not set one.
const DefaultBatchLimit = 100

// Reader performs single, batch, and keyset-paginated loads for one entity
// type, hydrating raw documents into entities. Declared indexes are ensured
// before any store access. A read that matches nothing returns an empty
// bag: "no data" is not "operation failed".
type Reader[E dto.Entity] struct {
	typ   dto.Type[E]
	store Store
	gate  *Gate
	opts  options
}

// NewReader validates the descriptor once and builds a reader. Descriptor
// defects are configuration errors: fail fast, never retried.
func NewReader[E dto.Entity](store Store, gate *Gate, typ dto.Type[E], opts ...Option) (*Reader[E], error) {
	if err := typ.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrBadDescriptor, err)
	}
	return &Reader[E]{typ: typ, store: store, gate: gate, opts: newOptions(opts)}, nil
}

// ReadOneByID loads the entity with the given identity; the bag has size 0
// or 1.
func (r *Reader[E]) ReadOneByID(ctx context.Context, id string) (*bag.Bag[E], error) {
	if err := r.gate.Ensure(ctx, r.typ.Collection, r.typ.Indexes); err != nil {
		return nil, err
	}
	storeOps.WithLabelValues(r.typ.Collection, "read_one").Inc()
	docs, err := r.store.Find(ctx, r.typ.Collection, Query{
		Where: []bag.Plan{{And: []bag.Pred{bag.Eq(dto.FieldID, id)}}},
		Order: keyset.Default(),
		Limit: 1,
	})
	if err != nil {
		return nil, fmt.Errorf("read %s by id: %w", r.typ.Collection, err)
	}
	return r.hydrate(docs)
}

// ReadOneByFilter loads the single entity matching the filter; the bag has
// size 0 or 1. More than one match is a caller error, not a truncation.
func (r *Reader[E]) ReadOneByFilter(ctx context.Context, filter bag.Plan) (*bag.Bag[E], error) {
	if err := r.gate.Ensure(ctx, r.typ.Collection, r.typ.Indexes); err != nil {
		return nil, err
	}
	storeOps.WithLabelValues(r.typ.Collection, "read_one").Inc()
	docs, err := r.store.Find(ctx, r.typ.Collection, Query{
		Where: []bag.Plan{filter},
		Order: keyset.Default(),
		Limit: 2,
	})
	if err != nil {
		return nil, fmt.Errorf("read %s by filter: %w", r.typ.Collection, err)
	}
	if len(docs) > 1 {
		return nil, fmt.Errorf("read %s by filter: %w", r.typ.Collection, ErrMultipleMatches)
	}
	return r.hydrate(docs)
}

// ReadMany loads up to limit entities matching the filter in the given
// order (0 means unlimited, empty order means ascending by identity).
func (r *Reader[E]) ReadMany(ctx context.Context, filter bag.Plan, limit int, order keyset.OrderSpec) (*bag.Bag[E], error) {
	if err := r.gate.Ensure(ctx, r.typ.Collection, r.typ.Indexes); err != nil {
		return nil, err
	}
	if len(order) == 0 {
		order = keyset.Default()
	} else if err := order.Validate(); err != nil {
		return nil, err
	}
	storeOps.WithLabelValues(r.typ.Collection, "read_many").Inc()
	var where []bag.Plan
	if !filter.IsZero() {
		where = []bag.Plan{filter}
	}
	docs, err := r.store.Find(ctx, r.typ.Collection, Query{Where: where, Order: order, Limit: limit})
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", r.typ.Collection, err)
	}
	return r.hydrate(docs)
}

// Batch describes a keyset-paginated read.
type Batch struct {
	Filter bag.Plan
	// Order must stay fixed across a pagination run; the identity field is
	// appended automatically to make it injective. Leave empty to resume
	// from a cursor, whose embedded order takes over.
	Order   keyset.OrderSpec
	Limit   int
	Cursor  string
	Reverse bool
}

// ReadBatch loads one page and, when more rows remain, the opaque cursor
// for the next page. Following cursors until none is returned yields every
// matching row exactly once, absent concurrent mutation.
func (r *Reader[E]) ReadBatch(ctx context.Context, b Batch) (*bag.Bag[E], string, error) {
	if err := r.gate.Ensure(ctx, r.typ.Collection, r.typ.Indexes); err != nil {
		return nil, "", err
	}
	limit := b.Limit
	if limit <= 0 {
		limit = DefaultBatchLimit
	}

	order := keyset.Default()
	if len(b.Order) > 0 {
		if err := b.Order.Validate(); err != nil {
			return nil, "", err
		}
		order = b.Order.WithIdentity()
	}
	reverse := b.Reverse

	where := make([]bag.Plan, 0, 2)
	if !b.Filter.IsZero() {
		where = append(where, b.Filter)
	}
	if b.Cursor != "" {
		cur, err := keyset.Decode(b.Cursor)
		if err != nil {
			return nil, "", err
		}
		// A cursor is only valid under the order it was issued for.
		if len(b.Order) > 0 && !cur.Order.Equal(order) {
			return nil, "", fmt.Errorf("%w: cursor order %v, requested %v",
				ErrCursorOrderMismatch, cur.Order, order)
		}
		order = cur.Order
		reverse = cur.Reverse
		where = append(where, cur.SeekPlan())
	}

	storeOps.WithLabelValues(r.typ.Collection, "read_batch").Inc()
	docs, err := r.store.Find(ctx, r.typ.Collection, Query{
		Where: where,
		Order: order.Effective(reverse),
		Limit: limit + 1,
	})
	if err != nil {
		return nil, "", fmt.Errorf("read %s batch: %w", r.typ.Collection, err)
	}

	next := ""
	if len(docs) == limit+1 {
		docs = docs[:limit]
		next, err = keyset.FromDoc(docs[limit-1], order, reverse).Encode()
		if err != nil {
			return nil, "", fmt.Errorf("read %s batch: %w", r.typ.Collection, err)
		}
	}
	out, err := r.hydrate(docs)
	if err != nil {
		return nil, "", err
	}
	return out, next, nil
}

func (r *Reader[E]) hydrate(docs []dto.Document) (*bag.Bag[E], error) {
	items := make([]E, len(docs))
	for i, doc := range docs {
		e, err := r.typ.Hydrate(doc, dto.HydrateOptions{Validate: r.opts.validate})
		if err != nil {
			return nil, fmt.Errorf("hydrate %s document: %w", r.typ.Collection, err)
		}
		e.Ref().Bind(r.typ.Collection)
		items[i] = e
	}
	return bag.FromDocs(items, docs)
}
