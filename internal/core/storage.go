// Package core wires the persistence engine to a concrete backend. Backend
// selection is always explicit: the in-memory mock is chosen by a mode
// flag, never inferred, so non-production runs cannot write to a live
// database by accident.
package core

import (
	"context"
	"fmt"
	"os"
	"sync"

	"github.com/rs/zerolog"

	"nvcore/internal/store/memory"
	"nvcore/internal/store/postgres"
	"nvcore/internal/store/sqlite"
	"nvcore/pkg/persist"
)

// Driver identifies a concrete store implementation.
type Driver string

// Supported storage drivers.
const (
	DriverMemory   Driver = "memory"   // in-memory mock (tests / ephemeral)
	DriverSQLite   Driver = "sqlite"   // embedded sqlite file
	DriverPostgres Driver = "postgres" // PostgreSQL server
)

// Config selects and parameterizes a backend.
type Config struct {
	Driver      Driver
	SQLitePath  string
	PostgresDSN string
	Logger      zerolog.Logger
}

var (
	pinMu     sync.Mutex
	pinTarget string
)

// Open builds the configured store and pins its target for the process.
// A later Open asking for a different target is a hard configuration
// error: one process never silently talks to two databases.
func Open(ctx context.Context, cfg Config) (persist.Store, error) {
	var (
		store persist.Store
		err   error
	)
	switch cfg.Driver {
	case DriverMemory:
		store = memory.NewStore(cfg.Logger)
	case DriverSQLite:
		store, err = sqlite.NewStore(cfg.SQLitePath)
	case DriverPostgres:
		store, err = postgres.NewStore(ctx, cfg.PostgresDSN)
	case "":
		return nil, fmt.Errorf("storage driver not set; backend selection must be explicit")
	default:
		return nil, fmt.Errorf("unknown storage driver %q", cfg.Driver)
	}
	if err != nil {
		return nil, err
	}

	pinMu.Lock()
	defer pinMu.Unlock()
	if pinTarget == "" {
		pinTarget = store.Target()
	} else if pinTarget != store.Target() {
		_ = store.Close()
		return nil, fmt.Errorf("%w: pinned %q, requested %q", persist.ErrTargetPinned, pinTarget, store.Target())
	}
	cfg.Logger.Debug().Str("driver", string(cfg.Driver)).Str("target", store.Target()).Msg("store opened")
	return store, nil
}

// FromEnv loads backend configuration from the environment.
//
//	NVCORE_STORAGE_DRIVER: memory|sqlite|postgres (default sqlite)
//	NVCORE_SQLITE_PATH: path to sqlite file when driver=sqlite
//	NVCORE_POSTGRES_DSN: postgres DSN when driver=postgres
func FromEnv(log zerolog.Logger) Config {
	driver := Driver(os.Getenv("NVCORE_STORAGE_DRIVER"))
	if driver == "" {
		driver = DriverSQLite
	}
	return Config{
		Driver:      driver,
		SQLitePath:  os.Getenv("NVCORE_SQLITE_PATH"),
		PostgresDSN: os.Getenv("NVCORE_POSTGRES_DSN"),
		Logger:      log,
	}
}

// UnpinTarget clears the process pin. Exposed for tests that legitimately
// open multiple isolated targets.
func UnpinTarget() {
	pinMu.Lock()
	defer pinMu.Unlock()
	pinTarget = ""
}
