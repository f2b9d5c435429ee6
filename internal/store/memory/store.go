// Package memory provides the in-memory mock worker: it applies the exact
// stamping, uniqueness, and query semantics of the real document stores but
// never touches a live database by construction. Used for hermetic tests
// and non-production runs.
package memory

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/rs/zerolog"

	"nvcore/pkg/bag"
	"nvcore/pkg/dto"
	"nvcore/pkg/persist"
)

// Compile-time contract assertion.
var _ persist.Store = (*Store)(nil)

// Store holds all collections in process memory.
type Store struct {
	log zerolog.Logger

	mu          sync.RWMutex
	collections map[string]*collection
}

type collection struct {
	docs    map[string]dto.Document
	order   []string // insertion order of ids, for stable scans
	indexes []persist.IndexSpec
}

// NewStore builds an empty in-memory store.
func NewStore(log zerolog.Logger) *Store {
	return &Store{log: log, collections: map[string]*collection{}}
}

// Target identifies the mock backend; there is no external connection.
func (s *Store) Target() string { return "memory" }

// Close is a no-op for the in-memory store.
func (s *Store) Close() error { return nil }

func (s *Store) coll(name string) *collection {
	c, ok := s.collections[name]
	if !ok {
		c = &collection{docs: map[string]dto.Document{}}
		s.collections[name] = c
	}
	return c
}

// ListIndexes returns the collection's index inventory.
func (s *Store) ListIndexes(_ context.Context, collection string) ([]persist.IndexSpec, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	c, ok := s.collections[collection]
	if !ok {
		return nil, nil
	}
	return append([]persist.IndexSpec(nil), c.indexes...), nil
}

// CreateIndex registers an index. Re-creating an index with an identical
// key spec and uniqueness flag is deduplicated, mirroring store behavior
// under racing first-time ensures.
func (s *Store) CreateIndex(_ context.Context, collection string, spec persist.IndexSpec) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	c := s.coll(collection)
	if spec.Name == "" {
		spec.Name = autoIndexName(collection, spec)
	}
	for _, have := range c.indexes {
		if have.SameKey(spec) && have.Unique == spec.Unique {
			return nil
		}
	}
	if spec.Unique {
		if id, key, ok := findDuplicate(c, spec, nil, ""); ok {
			return fmt.Errorf("create unique index %s: existing documents collide on %q (doc %s)", spec.Name, key, id)
		}
	}
	c.indexes = append(c.indexes, spec)
	s.log.Debug().Str("collection", collection).Str("index", spec.Name).Msg("index registered")
	return nil
}

func autoIndexName(collection string, spec persist.IndexSpec) string {
	suffix := "_idx"
	if spec.Unique {
		suffix = "_key"
	}
	return "c_" + collection + "_" + strings.Join(spec.Fields, "_") + suffix
}

// Insert stores the batch atomically: identity and declared unique
// constraints are checked for every document, against the stored set and
// the rest of the batch, before anything is committed. Documents are
// deep-copied on the way in.
func (s *Store) Insert(_ context.Context, collection string, docs []dto.Document) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	c := s.coll(collection)
	staged := make([]dto.Document, 0, len(docs))
	stagedIDs := make(map[string]bool, len(docs))
	for _, doc := range docs {
		id, _ := doc[dto.FieldID].(string)
		if id == "" {
			return fmt.Errorf("insert into %s: document carries no %s", collection, dto.FieldID)
		}
		if _, exists := c.docs[id]; exists || stagedIDs[id] {
			return &persist.Conflict{Key: dto.FieldID, Identity: true}
		}
		for _, idx := range c.indexes {
			if !idx.Unique {
				continue
			}
			if _, _, ok := findDuplicate(c, idx, doc, id); ok {
				return &persist.Conflict{Key: idx.Name}
			}
			if key, ok := indexKey(doc, idx); ok && hasIndexKey(staged, idx, key) {
				return &persist.Conflict{Key: idx.Name}
			}
		}
		stagedIDs[id] = true
		staged = append(staged, cloneDoc(doc))
	}
	for _, doc := range staged {
		id := doc[dto.FieldID].(string)
		c.docs[id] = doc
		c.order = append(c.order, id)
	}
	return nil
}

func hasIndexKey(docs []dto.Document, idx persist.IndexSpec, key string) bool {
	for _, doc := range docs {
		if k, ok := indexKey(doc, idx); ok && k == key {
			return true
		}
	}
	return false
}

// findDuplicate scans for two documents sharing a key tuple under the given
// unique index. With a candidate document it checks the candidate against
// the stored set; without one it checks the stored set against itself.
// Tuples containing nil never collide, matching SQL null-distinct rules.
func findDuplicate(c *collection, idx persist.IndexSpec, candidate dto.Document, candidateID string) (string, string, bool) {
	seen := map[string]string{}
	consider := func(id string, doc dto.Document) (string, string, bool) {
		key, ok := indexKey(doc, idx)
		if !ok {
			return "", "", false
		}
		if prev, dup := seen[key]; dup && prev != id {
			return id, key, true
		}
		seen[key] = id
		return "", "", false
	}
	if candidate != nil {
		if _, _, ok := consider(candidateID, candidate); ok {
			return candidateID, "", true
		}
	}
	for _, id := range c.order {
		if hit, key, ok := consider(id, c.docs[id]); ok {
			return hit, key, true
		}
	}
	return "", "", false
}

func indexKey(doc dto.Document, idx persist.IndexSpec) (string, bool) {
	parts := make([]string, len(idx.Fields))
	for i, f := range idx.Fields {
		v, ok := doc[f]
		if !ok || v == nil {
			return "", false
		}
		parts[i] = canonicalValue(v)
	}
	return strings.Join(parts, "\x1f"), true
}

func canonicalValue(v any) string {
	raw, err := json.Marshal(v)
	if err != nil {
		return fmt.Sprint(v)
	}
	return string(raw)
}

// Find evaluates the query: every plan in the conjunction must match.
// Results are sorted with nulls ranking largest, as the SQL backends sort,
// and deep-copied on the way out.
func (s *Store) Find(_ context.Context, collection string, q persist.Query) ([]dto.Document, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	c, ok := s.collections[collection]
	if !ok {
		return nil, nil
	}
	var out []dto.Document
	for _, id := range c.order {
		doc := c.docs[id]
		match := true
		for _, plan := range q.Where {
			if !plan.Matches(doc) {
				match = false
				break
			}
		}
		if match {
			out = append(out, doc)
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		for _, key := range q.Order {
			if r := compareForOrder(out[i][key.Field], out[j][key.Field], key.Desc); r != 0 {
				return r < 0
			}
		}
		return false
	})
	if q.Limit > 0 && len(out) > q.Limit {
		out = out[:q.Limit]
	}
	cloned := make([]dto.Document, len(out))
	for i, doc := range out {
		cloned[i] = cloneDoc(doc)
	}
	return cloned, nil
}

func compareForOrder(a, b any, desc bool) int {
	var r int
	switch {
	case a == nil && b == nil:
		return 0
	case a == nil:
		r = 1 // nulls rank largest
	case b == nil:
		r = -1
	default:
		r, _ = bag.Compare(a, b)
	}
	if desc {
		r = -r
	}
	return r
}

// UpdateByID merges the patch into the stored document, re-checking unique
// constraints the changed fields may now violate.
func (s *Store) UpdateByID(_ context.Context, collection, id string, fields dto.Document) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.collections[collection]
	if !ok {
		return false, nil
	}
	doc, ok := c.docs[id]
	if !ok {
		return false, nil
	}
	merged := cloneDoc(doc)
	for k, v := range fields {
		merged[k] = v
	}
	for _, idx := range c.indexes {
		if !idx.Unique {
			continue
		}
		key, hasKey := indexKey(merged, idx)
		if !hasKey {
			continue
		}
		for _, otherID := range c.order {
			if otherID == id {
				continue
			}
			if otherKey, ok := indexKey(c.docs[otherID], idx); ok && otherKey == key {
				return false, &persist.Conflict{Key: idx.Name}
			}
		}
	}
	c.docs[id] = merged
	return true, nil
}

// DeleteByID removes the document with the given identity.
func (s *Store) DeleteByID(_ context.Context, collection, id string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.collections[collection]
	if !ok {
		return false, nil
	}
	if _, ok := c.docs[id]; !ok {
		return false, nil
	}
	delete(c.docs, id)
	for i, existing := range c.order {
		if existing == id {
			c.order = append(c.order[:i], c.order[i+1:]...)
			break
		}
	}
	return true, nil
}

func cloneDoc(doc dto.Document) dto.Document {
	out := make(dto.Document, len(doc))
	for k, v := range doc {
		out[k] = cloneValue(v)
	}
	return out
}

func cloneValue(v any) any {
	switch val := v.(type) {
	case dto.Document:
		return cloneDoc(val)
	case []any:
		out := make([]any, len(val))
		for i, item := range val {
			out[i] = cloneValue(item)
		}
		return out
	default:
		return v
	}
}
