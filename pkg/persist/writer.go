package persist

import (
	"context"
	"fmt"

	"nvcore/pkg/bag"
	"nvcore/pkg/dto"
)

// Writer performs inserts, updates, and deletes for one entity type. It
// never mints identities: every entity must arrive with a valid UUIDv4
// identity already assigned, and an identity duplicate surfaces as a hard
// conflict rather than a silent retry under a fresh id.
type Writer[E dto.Entity] struct {
	typ   dto.Type[E]
	store Store
	gate  *Gate
	opts  options
}

// NewWriter validates the descriptor once and builds a writer.
func NewWriter[E dto.Entity](store Store, gate *Gate, typ dto.Type[E], opts ...Option) (*Writer[E], error) {
	if err := typ.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrBadDescriptor, err)
	}
	return &Writer[E]{typ: typ, store: store, gate: gate, opts: newOptions(opts)}, nil
}

// Write inserts a single entity. The identity must be pre-assigned by the
// caller; its absence is a caller defect, not something the engine fixes.
func (w *Writer[E]) Write(ctx context.Context, e E) error {
	b, err := bag.Of[E](e)
	if err != nil {
		return fmt.Errorf("write %s: %w", w.typ.Collection, err)
	}
	return w.WriteMany(ctx, b)
}

// WriteMany inserts every entity in the bag as one atomic batch. All
// entities are validated and stamped before the first store access, and the
// backends apply the batch all or nothing, so a validation failure or a
// conflict on any entity leaves the store untouched.
func (w *Writer[E]) WriteMany(ctx context.Context, b *bag.Bag[E]) error {
	if err := w.gate.Ensure(ctx, w.typ.Collection, w.typ.Indexes); err != nil {
		return err
	}
	now := w.opts.now()
	docs := make([]dto.Document, 0, b.Len())
	for e := range b.Seq() {
		if err := w.checkIdentity(e.Ref().ID()); err != nil {
			return fmt.Errorf("write %s: %w", w.typ.Collection, err)
		}
		e.Ref().Bind(w.typ.Collection)
		meta := e.Meta()
		if meta.CreatedAt.IsZero() {
			meta.CreatedAt = now
		}
		meta.UpdatedAt = now
		if w.opts.actor != "" {
			meta.UpdatedBy = w.opts.actor
		}
		doc, err := dto.DocumentOf(e)
		if err != nil {
			return fmt.Errorf("write %s: %w", w.typ.Collection, err)
		}
		docs = append(docs, doc)
	}
	if len(docs) == 0 {
		return nil
	}
	storeOps.WithLabelValues(w.typ.Collection, "write").Inc()
	if err := w.store.Insert(ctx, w.typ.Collection, docs); err != nil {
		if c, ok := AsConflict(err); ok {
			writeConflicts.WithLabelValues(w.typ.Collection).Inc()
			w.opts.log.Debug().
				Str("collection", w.typ.Collection).
				Str("key", c.Key).
				Bool("identity", c.Identity).
				Msg("write conflict")
		}
		return fmt.Errorf("insert into %s: %w", w.typ.Collection, err)
	}
	return nil
}

// Update applies a partial field set to the entity with the given identity
// and re-stamps update metadata. The identity field itself can never
// change: a differing _id in fields is rejected, never silently dropped.
// It reports whether a document with that identity existed.
func (w *Writer[E]) Update(ctx context.Context, id string, fields dto.Document) (bool, error) {
	if err := w.gate.Ensure(ctx, w.typ.Collection, w.typ.Indexes); err != nil {
		return false, err
	}
	if err := w.checkIdentity(id); err != nil {
		return false, fmt.Errorf("update %s: %w", w.typ.Collection, err)
	}
	if raw, ok := fields[dto.FieldID]; ok {
		if s, _ := raw.(string); s != id {
			return false, fmt.Errorf("update %s: %w", w.typ.Collection, ErrIdentityChange)
		}
	}
	patch := make(dto.Document, len(fields)+2)
	for k, v := range fields {
		patch[k] = v
	}
	delete(patch, dto.FieldID)
	delete(patch, dto.FieldCreatedAt)
	patch[dto.FieldUpdatedAt] = dto.FormatTime(w.opts.now())
	if w.opts.actor != "" {
		patch[dto.FieldUpdatedBy] = w.opts.actor
	}
	storeOps.WithLabelValues(w.typ.Collection, "update").Inc()
	found, err := w.store.UpdateByID(ctx, w.typ.Collection, id, patch)
	if err != nil {
		if _, ok := AsConflict(err); ok {
			writeConflicts.WithLabelValues(w.typ.Collection).Inc()
		}
		return false, fmt.Errorf("update %s: %w", w.typ.Collection, err)
	}
	return found, nil
}

// DeleteByID removes the entity with the given identity, reporting whether
// it existed.
func (w *Writer[E]) DeleteByID(ctx context.Context, id string) (bool, error) {
	if err := w.gate.Ensure(ctx, w.typ.Collection, w.typ.Indexes); err != nil {
		return false, err
	}
	if err := w.checkIdentity(id); err != nil {
		return false, fmt.Errorf("delete %s: %w", w.typ.Collection, err)
	}
	storeOps.WithLabelValues(w.typ.Collection, "delete").Inc()
	found, err := w.store.DeleteByID(ctx, w.typ.Collection, id)
	if err != nil {
		return false, fmt.Errorf("delete from %s: %w", w.typ.Collection, err)
	}
	return found, nil
}

func (w *Writer[E]) checkIdentity(id string) error {
	if id == "" {
		return ErrMissingIdentity
	}
	if err := dto.ValidateID(id); err != nil {
		return fmt.Errorf("%w: %v", ErrMissingIdentity, err)
	}
	return nil
}
