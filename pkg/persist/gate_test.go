package persist_test

import (
	"context"
	"errors"
	"testing"

	"github.com/rs/zerolog"

	"nvcore/internal/store/memory"
	"nvcore/pkg/dto"
	"nvcore/pkg/persist"
)

// countingStore wraps a store and counts index reconciliation traffic.
type countingStore struct {
	persist.Store
	lists   int
	creates int
}

func (c *countingStore) ListIndexes(ctx context.Context, collection string) ([]persist.IndexSpec, error) {
	c.lists++
	return c.Store.ListIndexes(ctx, collection)
}

func (c *countingStore) CreateIndex(ctx context.Context, collection string, spec persist.IndexSpec) error {
	c.creates++
	return c.Store.CreateIndex(ctx, collection, spec)
}

func TestGateEnsureIsCachedPerCollection(t *testing.T) {
	inner := memory.NewStore(zerolog.Nop())
	store := &countingStore{Store: inner}
	gate := persist.NewGate(store, zerolog.Nop())
	ctx := context.Background()
	hints := []dto.IndexHint{
		{Kind: dto.IndexUnique, Fields: []string{"email"}},
		{Kind: dto.IndexLookup, Fields: []string{"name", "score"}},
	}

	if err := gate.Ensure(ctx, "notes", hints); err != nil {
		t.Fatalf("first ensure: %v", err)
	}
	if store.lists != 1 || store.creates != 2 {
		t.Fatalf("first ensure traffic: lists=%d creates=%d", store.lists, store.creates)
	}
	if err := gate.Ensure(ctx, "notes", hints); err != nil {
		t.Fatalf("second ensure: %v", err)
	}
	if store.lists != 1 || store.creates != 2 {
		t.Fatalf("repeat ensure hit the store: lists=%d creates=%d", store.lists, store.creates)
	}

	// A different collection is reconciled independently.
	if err := gate.Ensure(ctx, "others", hints[:1]); err != nil {
		t.Fatalf("other collection: %v", err)
	}
	if store.lists != 2 || store.creates != 3 {
		t.Fatalf("other collection traffic: lists=%d creates=%d", store.lists, store.creates)
	}
}

func TestGateMatchesIndexesByKeyNotName(t *testing.T) {
	inner := memory.NewStore(zerolog.Nop())
	ctx := context.Background()
	// Pre-existing index under a store-assigned name.
	if err := inner.CreateIndex(ctx, "notes", persist.IndexSpec{
		Name: "somebody_elses_name", Fields: []string{"email"}, Unique: true,
	}); err != nil {
		t.Fatalf("pre-create: %v", err)
	}

	store := &countingStore{Store: inner}
	gate := persist.NewGate(store, zerolog.Nop())
	err := gate.Ensure(ctx, "notes", []dto.IndexHint{
		{Kind: dto.IndexUnique, Fields: []string{"email"}, Name: "my_name"},
	})
	if err != nil {
		t.Fatalf("ensure: %v", err)
	}
	if store.creates != 0 {
		t.Fatalf("equivalent index recreated %d times", store.creates)
	}
}

func TestGateUniquenessDisagreementIsConfigError(t *testing.T) {
	inner := memory.NewStore(zerolog.Nop())
	ctx := context.Background()
	if err := inner.CreateIndex(ctx, "notes", persist.IndexSpec{
		Fields: []string{"email"}, Unique: false,
	}); err != nil {
		t.Fatalf("pre-create: %v", err)
	}

	gate := persist.NewGate(inner, zerolog.Nop())
	err := gate.Ensure(ctx, "notes", []dto.IndexHint{
		{Kind: dto.IndexUnique, Fields: []string{"email"}},
	})
	if !errors.Is(err, persist.ErrIndexConflict) {
		t.Fatalf("want ErrIndexConflict, got %v", err)
	}
	if persist.ClassOf(err) != persist.ClassConfig {
		t.Fatalf("uniqueness disagreement should be a config error")
	}

	// A failed ensure is not cached: the next call re-checks and fails again.
	if err := gate.Ensure(ctx, "notes", []dto.IndexHint{
		{Kind: dto.IndexUnique, Fields: []string{"email"}},
	}); !errors.Is(err, persist.ErrIndexConflict) {
		t.Fatalf("second ensure should still conflict, got %v", err)
	}
}
