package persist_test

import (
	"fmt"
	"testing"

	"github.com/rs/zerolog"

	"nvcore/internal/store/memory"
	"nvcore/pkg/dto"
	"nvcore/pkg/persist"
)

// note is the fixture entity used across the persist tests.
type note struct {
	dto.Base
	Name  string
	Score float64
	Email string
}

func (n *note) Body() (dto.Document, error) {
	doc := dto.Document{}
	if n.Name != "" {
		doc["name"] = n.Name
	}
	if n.Score != 0 {
		doc["score"] = n.Score
	}
	if n.Email != "" {
		doc["email"] = n.Email
	}
	return doc, nil
}

func hydrateNote(doc dto.Document, _ dto.HydrateOptions) (*note, error) {
	n := &note{}
	if err := n.LoadMeta(doc); err != nil {
		return nil, err
	}
	if s, ok := doc["name"].(string); ok {
		n.Name = s
	}
	if f, ok := doc["score"].(float64); ok {
		n.Score = f
	}
	if s, ok := doc["email"].(string); ok {
		n.Email = s
	}
	return n, nil
}

func noteType(hints ...dto.IndexHint) dto.Type[*note] {
	return dto.Type[*note]{Collection: "notes", Indexes: hints, Hydrate: hydrateNote}
}

// testID renders a deterministic, valid v4 identity whose lexical order
// follows n.
func testID(n int) string {
	return fmt.Sprintf("00000000-0000-4000-8000-%012d", n)
}

func newNote(n int, name string) *note {
	e := &note{Name: name}
	e.Ref().AssignID(testID(n))
	return e
}

func newEngine(t *testing.T, hints ...dto.IndexHint) (*memory.Store, *persist.Gate, dto.Type[*note]) {
	t.Helper()
	store := memory.NewStore(zerolog.Nop())
	return store, persist.NewGate(store, zerolog.Nop()), noteType(hints...)
}

func mustReader(t *testing.T, store persist.Store, gate *persist.Gate, typ dto.Type[*note], opts ...persist.Option) *persist.Reader[*note] {
	t.Helper()
	r, err := persist.NewReader(store, gate, typ, opts...)
	if err != nil {
		t.Fatalf("new reader: %v", err)
	}
	return r
}

func mustWriter(t *testing.T, store persist.Store, gate *persist.Gate, typ dto.Type[*note], opts ...persist.Option) *persist.Writer[*note] {
	t.Helper()
	w, err := persist.NewWriter(store, gate, typ, opts...)
	if err != nil {
		t.Fatalf("new writer: %v", err)
	}
	return w
}
