// Package dto defines the identity and metadata core shared by every entity
// persisted through the engine: the raw document shape, write-once identity
// and collection binding, metadata stamping, index hints, and the generic
// entity-type descriptor consumed by readers and writers.
package dto

import (
	"fmt"
	"regexp"
	"time"

	"github.com/google/uuid"
)

// Document is the raw stored representation of an entity. Values are
// JSON-native: string, float64, bool, nil, []any, or nested Document maps.
// Timestamps are stored as fixed-width UTC strings (see TimeLayout) so that
// lexical order matches chronological order.
type Document = map[string]any

// Reserved document field names stamped by the engine.
const (
	// FieldID holds the canonical identifier, always a UUIDv4 string.
	FieldID = "_id"
	// FieldCreatedAt holds the creation timestamp.
	FieldCreatedAt = "createdAt"
	// FieldUpdatedAt holds the last-update timestamp.
	FieldUpdatedAt = "updatedAt"
	// FieldUpdatedBy holds the id of the principal that last updated the record.
	FieldUpdatedBy = "updatedByUserId"
	// FieldOwner holds the id of the owning principal.
	FieldOwner = "ownerUserId"
)

// TimeLayout is the fixed-width UTC timestamp layout used in documents.
// Fixed width keeps string comparison equivalent to time comparison.
const TimeLayout = "2006-01-02T15:04:05.000000000Z"

// FormatTime renders t in the document timestamp layout.
func FormatTime(t time.Time) string { return t.UTC().Format(TimeLayout) }

// ParseTime parses a document timestamp. RFC3339 values written by other
// producers are accepted as a fallback.
func ParseTime(s string) (time.Time, error) {
	if t, err := time.Parse(TimeLayout, s); err == nil {
		return t, nil
	}
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("parse timestamp %q: %w", s, err)
	}
	return t, nil
}

// ValidateID reports whether id is a well-formed UUIDv4 identity.
func ValidateID(id string) error {
	u, err := uuid.Parse(id)
	if err != nil {
		return fmt.Errorf("identity %q: %w", id, err)
	}
	if u.Version() != 4 {
		return fmt.Errorf("identity %q: uuid version %d, want 4", id, u.Version())
	}
	return nil
}

// IndexKind distinguishes unique constraints from plain lookup indexes.
type IndexKind string

// Supported index kinds.
const (
	IndexUnique IndexKind = "unique"
	IndexLookup IndexKind = "lookup"
)

// IndexHint declares a store index an entity type requires. Hints are
// interpreted only at the persistence boundary.
type IndexHint struct {
	Kind   IndexKind
	Fields []string
	// Name optionally fixes the index name; stores autogenerate one when empty.
	Name string
}

// Validate reports whether the hint is internally consistent.
func (h IndexHint) Validate() error {
	if h.Kind != IndexUnique && h.Kind != IndexLookup {
		return fmt.Errorf("index hint: unknown kind %q", h.Kind)
	}
	if len(h.Fields) == 0 {
		return fmt.Errorf("index hint: no fields")
	}
	for _, f := range h.Fields {
		if f == "" {
			return fmt.Errorf("index hint: empty field name")
		}
	}
	return nil
}

// Meta carries the engine-stamped metadata of an entity.
type Meta struct {
	CreatedAt time.Time
	UpdatedAt time.Time
	UpdatedBy string
	Owner     string
}

// Ref binds an entity to its identity and collection. Both bindings are
// write-once: a second assignment is a no-op, never a panic, so a stray
// re-assignment cannot abort a pipeline.
type Ref struct {
	id         string
	collection string
}

// ID returns the assigned identity, or "" when unassigned.
func (r *Ref) ID() string { return r.id }

// AssignID sets the identity exactly once. It reports false, leaving the
// existing value untouched, when an identity is already assigned or id is
// empty.
func (r *Ref) AssignID(id string) bool {
	if r.id != "" || id == "" {
		return false
	}
	r.id = id
	return true
}

// Collection returns the bound collection name, or "" when unbound.
func (r *Ref) Collection() string { return r.collection }

// Bind sets the collection binding exactly once, mirroring AssignID.
func (r *Ref) Bind(collection string) bool {
	if r.collection != "" || collection == "" {
		return false
	}
	r.collection = collection
	return true
}

// Entity is the contract every persisted record satisfies. Business types
// embed Base to inherit Ref and Meta and implement Body themselves.
type Entity interface {
	Ref() *Ref
	Meta() *Meta
	// Body returns the wire/storage body of the entity, excluding the
	// reserved identity and metadata fields (the engine stamps those).
	Body() (Document, error)
}

// Base is the embeddable identity/metadata core for entity types.
type Base struct {
	ref  Ref
	meta Meta
}

// Ref returns the entity's identity and collection binding.
func (b *Base) Ref() *Ref { return &b.ref }

// Meta returns the entity's stamped metadata.
func (b *Base) Meta() *Meta { return &b.meta }

// LoadMeta populates identity and metadata from a stored document, as part
// of hydration. Unknown or absent reserved fields are skipped.
func (b *Base) LoadMeta(doc Document) error {
	if id, ok := doc[FieldID].(string); ok {
		b.ref.AssignID(id)
	}
	if s, ok := doc[FieldCreatedAt].(string); ok {
		t, err := ParseTime(s)
		if err != nil {
			return fmt.Errorf("load %s: %w", FieldCreatedAt, err)
		}
		b.meta.CreatedAt = t
	}
	if s, ok := doc[FieldUpdatedAt].(string); ok {
		t, err := ParseTime(s)
		if err != nil {
			return fmt.Errorf("load %s: %w", FieldUpdatedAt, err)
		}
		b.meta.UpdatedAt = t
	}
	if s, ok := doc[FieldUpdatedBy].(string); ok {
		b.meta.UpdatedBy = s
	}
	if s, ok := doc[FieldOwner].(string); ok {
		b.meta.Owner = s
	}
	return nil
}

// DocumentOf builds the full stored document for an entity: the body plus
// the reserved identity and metadata fields. The entity's own values win
// over reserved keys accidentally present in the body.
func DocumentOf(e Entity) (Document, error) {
	body, err := e.Body()
	if err != nil {
		return nil, fmt.Errorf("serialize body: %w", err)
	}
	doc := make(Document, len(body)+5)
	for k, v := range body {
		doc[k] = v
	}
	if id := e.Ref().ID(); id != "" {
		doc[FieldID] = id
	}
	meta := e.Meta()
	if !meta.CreatedAt.IsZero() {
		doc[FieldCreatedAt] = FormatTime(meta.CreatedAt)
	}
	if !meta.UpdatedAt.IsZero() {
		doc[FieldUpdatedAt] = FormatTime(meta.UpdatedAt)
	}
	if meta.UpdatedBy != "" {
		doc[FieldUpdatedBy] = meta.UpdatedBy
	}
	if meta.Owner != "" {
		doc[FieldOwner] = meta.Owner
	}
	return doc, nil
}

// HydrateOptions tunes hydration behavior.
type HydrateOptions struct {
	// Validate asks the hydrate function to verify the document against the
	// entity type's schema expectations before accepting it.
	Validate bool
}

// HydrateFunc constructs an entity from its stored document.
type HydrateFunc[E Entity] func(doc Document, opts HydrateOptions) (E, error)

var collectionNameRe = regexp.MustCompile(`^[a-z][a-z0-9_]*$`)

// Type describes an entity type to the engine: the collection it lives in,
// the indexes it requires, and how to hydrate it from a raw document.
type Type[E Entity] struct {
	Collection string
	Indexes    []IndexHint
	Hydrate    HydrateFunc[E]
}

// Validate checks the descriptor once, at reader/writer construction.
// A failure here is a configuration error: fail fast, never retried.
func (t Type[E]) Validate() error {
	if t.Collection == "" {
		return fmt.Errorf("entity type: missing collection name")
	}
	if !collectionNameRe.MatchString(t.Collection) {
		return fmt.Errorf("entity type: invalid collection name %q", t.Collection)
	}
	if t.Hydrate == nil {
		return fmt.Errorf("entity type %s: missing hydrate function", t.Collection)
	}
	seen := map[string]IndexKind{}
	for _, h := range t.Indexes {
		if err := h.Validate(); err != nil {
			return fmt.Errorf("entity type %s: %w", t.Collection, err)
		}
		key := fmt.Sprint(h.Fields)
		if kind, ok := seen[key]; ok && kind != h.Kind {
			return fmt.Errorf("entity type %s: contradictory index hints on %v", t.Collection, h.Fields)
		}
		seen[key] = h.Kind
	}
	return nil
}
