package persist

import (
	"context"
	"fmt"
	"sync"

	"github.com/rs/zerolog"

	"nvcore/pkg/dto"
)

// Gate lazily reconciles declared indexes against the live store. A gate
// binds exactly one store handle, which fixes the connection and database;
// results are cached per collection so repeat ensures inside the same
// process are no-ops after the first. Concurrent first-time ensures may
// race to create the same index; the store deduplicates.
type Gate struct {
	store Store
	log   zerolog.Logger

	mu      sync.Mutex
	ensured map[string]bool
}

// NewGate builds an index gate over the given store.
func NewGate(store Store, log zerolog.Logger) *Gate {
	return &Gate{store: store, log: log, ensured: map[string]bool{}}
}

// Ensure reconciles the declared hints for a collection. Desired indexes
// are compared against the live inventory by key spec plus uniqueness,
// ignoring names: store defaults often assign autogenerated ones. Missing
// indexes are created. An existing index with the same key spec but a
// different uniqueness flag is a hard configuration conflict.
func (g *Gate) Ensure(ctx context.Context, collection string, hints []dto.IndexHint) error {
	g.mu.Lock()
	done := g.ensured[collection]
	g.mu.Unlock()
	if done {
		return nil
	}

	existing, err := g.store.ListIndexes(ctx, collection)
	if err != nil {
		return fmt.Errorf("list indexes for %s: %w", collection, err)
	}
	for _, h := range hints {
		desired := SpecFromHint(h)
		found := false
		for _, have := range existing {
			if !have.SameKey(desired) {
				continue
			}
			if have.Unique != desired.Unique {
				return fmt.Errorf("collection %s fields %v (existing %q): %w",
					collection, desired.Fields, have.Name, ErrIndexConflict)
			}
			found = true
			break
		}
		if found {
			continue
		}
		if err := g.store.CreateIndex(ctx, collection, desired); err != nil {
			return fmt.Errorf("create index on %s %v: %w", collection, desired.Fields, err)
		}
		indexCreates.WithLabelValues(collection).Inc()
		g.log.Debug().
			Str("collection", collection).
			Strs("fields", desired.Fields).
			Bool("unique", desired.Unique).
			Msg("index created")
	}

	g.mu.Lock()
	g.ensured[collection] = true
	g.mu.Unlock()
	return nil
}
