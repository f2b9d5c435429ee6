// Package persist is the generic read/write/index layer between typed
// entities and a document store: readers hydrate raw documents into bags,
// writers enforce identity and duplicate-key invariants, and the index gate
// lazily reconciles declared indexes against the live store.
package persist

import (
	"context"

	"nvcore/pkg/bag"
	"nvcore/pkg/dto"
	"nvcore/pkg/keyset"
)

// IndexSpec is a store-level index description. Two specs with identical
// key order and uniqueness flag denote the same index regardless of name.
type IndexSpec struct {
	Name   string
	Fields []string
	Unique bool
}

// SameKey reports whether two specs cover the same fields in the same order.
func (s IndexSpec) SameKey(o IndexSpec) bool {
	if len(s.Fields) != len(o.Fields) {
		return false
	}
	for i := range s.Fields {
		if s.Fields[i] != o.Fields[i] {
			return false
		}
	}
	return true
}

// SpecFromHint translates a declared index hint into a store index spec.
func SpecFromHint(h dto.IndexHint) IndexSpec {
	return IndexSpec{
		Name:   h.Name,
		Fields: append([]string(nil), h.Fields...),
		Unique: h.Kind == dto.IndexUnique,
	}
}

// Query describes a store read: a conjunction of filter plans, a total
// order, and a row limit (0 means unlimited).
type Query struct {
	Where []bag.Plan
	Order keyset.OrderSpec
	Limit int
}

// Store is the swappable backend ("worker") readers and writers operate
// through. Implementations: a real document store, or the in-memory mock
// that by construction never touches a live database.
type Store interface {
	// Target identifies the connection target and database, used for
	// process-level connection pinning and diagnostics.
	Target() string
	ListIndexes(ctx context.Context, collection string) ([]IndexSpec, error)
	CreateIndex(ctx context.Context, collection string, spec IndexSpec) error
	Insert(ctx context.Context, collection string, docs []dto.Document) error
	Find(ctx context.Context, collection string, q Query) ([]dto.Document, error)
	// UpdateByID merges the given fields into the stored document and
	// reports whether a document with that identity existed.
	UpdateByID(ctx context.Context, collection, id string, fields dto.Document) (bool, error)
	DeleteByID(ctx context.Context, collection, id string) (bool, error)
	Close() error
}
