// Package postgres provides the production document store: one JSONB table
// per collection, expression indexes for declared hints, and duplicate-key
// parsing into the engine's structured conflict shape.
package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"sync"

	"github.com/jackc/pgx/v5/pgconn"
	_ "github.com/jackc/pgx/v5/stdlib" // register pgx as a database/sql driver

	"nvcore/internal/store/sqlkit"
	"nvcore/pkg/dto"
	"nvcore/pkg/persist"
)

// Compile-time contract assertion.
var _ persist.Store = (*Store)(nil)

const (
	defaultDriver = "pgx"
	defaultDSN    = "postgres://localhost/nvcore?sslmode=disable"

	uniqueViolation = "23505"
)

var (
	sqlOpen = sql.Open
	openMu  sync.Mutex
)

var collectionRe = regexp.MustCompile(`^[a-z][a-z0-9_]*$`)

// Store persists documents to Postgres.
type Store struct {
	db  *sql.DB
	dsn string

	mu     sync.Mutex
	tables map[string]bool
}

// NewStore opens a Postgres-backed store using the provided DSN (falls back
// to defaultDSN), verifies connectivity, and prepares the index registry.
func NewStore(ctx context.Context, dsn string) (*Store, error) {
	if dsn == "" {
		dsn = defaultDSN
	}
	openMu.Lock()
	db, err := sqlOpen(defaultDriver, dsn)
	openMu.Unlock()
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	if _, err := db.ExecContext(ctx, `CREATE TABLE IF NOT EXISTS nv_indexes (
		collection TEXT NOT NULL,
		name TEXT NOT NULL,
		fields JSONB NOT NULL,
		is_unique BOOLEAN NOT NULL,
		PRIMARY KEY (collection, name)
	)`); err != nil {
		return nil, fmt.Errorf("create index registry: %w", err)
	}
	return &Store{db: db, dsn: dsn, tables: map[string]bool{}}, nil
}

// Target identifies the connection target for process-level pinning.
func (s *Store) Target() string { return "postgres:" + s.dsn }

// DB exposes the underlying sql.DB for integration testing hooks.
func (s *Store) DB() *sql.DB { return s.db }

// Close releases the connection pool.
func (s *Store) Close() error { return s.db.Close() }

func tableName(collection string) string { return "c_" + collection }

func (s *Store) ensureTable(ctx context.Context, collection string) (string, error) {
	if !collectionRe.MatchString(collection) {
		return "", fmt.Errorf("invalid collection name %q", collection)
	}
	tbl := tableName(collection)
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.tables[tbl] {
		return tbl, nil
	}
	ddl := fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %q (
		id TEXT PRIMARY KEY,
		doc JSONB NOT NULL
	)`, tbl)
	if _, err := s.db.ExecContext(ctx, ddl); err != nil {
		return "", fmt.Errorf("ensure table %s: %w", tbl, err)
	}
	s.tables[tbl] = true
	return tbl, nil
}

// ListIndexes reads the collection's registered indexes.
func (s *Store) ListIndexes(ctx context.Context, collection string) ([]persist.IndexSpec, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT name, fields, is_unique FROM nv_indexes WHERE collection = $1`, collection)
	if err != nil {
		return nil, fmt.Errorf("select indexes: %w", err)
	}
	defer func() { _ = rows.Close() }()
	var specs []persist.IndexSpec
	for rows.Next() {
		var spec persist.IndexSpec
		var fields []byte
		if err := rows.Scan(&spec.Name, &fields, &spec.Unique); err != nil {
			return nil, fmt.Errorf("scan index: %w", err)
		}
		if err := json.Unmarshal(fields, &spec.Fields); err != nil {
			return nil, fmt.Errorf("decode index fields: %w", err)
		}
		specs = append(specs, spec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate indexes: %w", err)
	}
	return specs, nil
}

var nameRe = regexp.MustCompile(`^[a-z][a-z0-9_]*$`)

// CreateIndex creates the expression index and records it in the registry.
// IF NOT EXISTS plus the registry primary key absorb racing creators.
func (s *Store) CreateIndex(ctx context.Context, collection string, spec persist.IndexSpec) error {
	tbl, err := s.ensureTable(ctx, collection)
	if err != nil {
		return err
	}
	if spec.Name == "" {
		suffix := "_idx"
		if spec.Unique {
			suffix = "_key"
		}
		spec.Name = tbl + "_" + strings.Join(spec.Fields, "_") + suffix
	}
	if !nameRe.MatchString(spec.Name) {
		return fmt.Errorf("invalid index name %q", spec.Name)
	}
	exprs := make([]string, len(spec.Fields))
	for i, f := range spec.Fields {
		if f == dto.FieldID {
			exprs[i] = "id"
			continue
		}
		if !fieldRe.MatchString(f) {
			return fmt.Errorf("invalid field name %q", f)
		}
		exprs[i] = fmt.Sprintf("(doc->>'%s')", f)
	}
	unique := ""
	if spec.Unique {
		unique = "UNIQUE "
	}
	ddl := fmt.Sprintf(`CREATE %sINDEX IF NOT EXISTS %q ON %q (%s)`,
		unique, spec.Name, tbl, strings.Join(exprs, ", "))
	if _, err := s.db.ExecContext(ctx, ddl); err != nil {
		return fmt.Errorf("create index %s: %w", spec.Name, err)
	}
	fields, err := json.Marshal(spec.Fields)
	if err != nil {
		return fmt.Errorf("encode index fields: %w", err)
	}
	if _, err := s.db.ExecContext(ctx,
		`INSERT INTO nv_indexes (collection, name, fields, is_unique) VALUES ($1, $2, $3, $4)
		 ON CONFLICT (collection, name) DO NOTHING`,
		collection, spec.Name, fields, spec.Unique); err != nil {
		return fmt.Errorf("register index %s: %w", spec.Name, err)
	}
	return nil
}

var fieldRe = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

// Insert stores the batch in one transaction, translating unique violations
// into structured conflicts. A violation anywhere in the batch rolls back
// every document.
func (s *Store) Insert(ctx context.Context, collection string, docs []dto.Document) error {
	tbl, err := s.ensureTable(ctx, collection)
	if err != nil {
		return err
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("insert into %s: begin: %w", collection, err)
	}
	defer func() { _ = tx.Rollback() }()
	query := fmt.Sprintf(`INSERT INTO %q (id, doc) VALUES ($1, $2)`, tbl)
	for _, doc := range docs {
		id, _ := doc[dto.FieldID].(string)
		if id == "" {
			return fmt.Errorf("insert into %s: document carries no %s", collection, dto.FieldID)
		}
		raw, err := json.Marshal(doc)
		if err != nil {
			return fmt.Errorf("encode document %s: %w", id, err)
		}
		if _, err := tx.ExecContext(ctx, query, id, raw); err != nil {
			if conflict := parseConflict(err, tbl); conflict != nil {
				return conflict
			}
			return fmt.Errorf("insert into %s: %w", collection, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("insert into %s: commit: %w", collection, err)
	}
	return nil
}

// parseConflict maps a Postgres unique violation onto the engine's conflict
// shape. The primary key constraint means the identity itself collided.
func parseConflict(err error, tbl string) *persist.Conflict {
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) || pgErr.Code != uniqueViolation {
		return nil
	}
	if pgErr.ConstraintName == tbl+"_pkey" {
		return &persist.Conflict{Key: dto.FieldID, Identity: true}
	}
	return &persist.Conflict{Key: pgErr.ConstraintName}
}

type dialect struct{}

func (dialect) Placeholder(n int) string { return fmt.Sprintf("$%d", n) }

// FieldExpr guards casts with jsonb_typeof so that a document holding an
// unexpected type compares as NULL instead of raising a cast error, the
// same "incomparable never matches" rule the in-memory evaluator applies.
func (dialect) FieldExpr(field string, value any) string {
	if field == dto.FieldID {
		return "id"
	}
	if !fieldRe.MatchString(field) {
		return "NULL"
	}
	switch value.(type) {
	case nil:
		// Nil comparisons must treat a JSON null like an absent field, and
		// only those: ->> is SQL NULL for exactly that pair, while any typed
		// value stays non-null so IS NULL does not match it, matching the
		// in-memory evaluator.
		return fmt.Sprintf("(doc->>'%s')", field)
	case float64, float32, int, int8, int16, int32, int64,
		uint, uint8, uint16, uint32, uint64:
		return fmt.Sprintf(
			"(CASE WHEN jsonb_typeof(doc->'%s') = 'number' THEN (doc->>'%s')::numeric END)",
			field, field)
	case bool:
		return fmt.Sprintf(
			"(CASE WHEN jsonb_typeof(doc->'%s') = 'boolean' THEN (doc->>'%s')::boolean END)",
			field, field)
	default:
		return fmt.Sprintf(
			"(CASE WHEN jsonb_typeof(doc->'%s') = 'string' THEN doc->>'%s' END)",
			field, field)
	}
}

// OrderExpr orders by the jsonb value with JSON null collapsed to SQL
// NULL, so the compiler's NULLS LAST / NULLS FIRST placement covers
// explicit nulls and absent fields alike. Numbers sort numerically,
// strings lexically.
func (dialect) OrderExpr(field string) string {
	if field == dto.FieldID {
		return "id"
	}
	if !fieldRe.MatchString(field) {
		return "NULL"
	}
	return nullGuarded(field)
}

// nullGuarded extracts a document field as jsonb, turning an explicit JSON
// null into SQL NULL. Absent fields are SQL NULL already.
func nullGuarded(field string) string {
	return fmt.Sprintf(
		"(CASE WHEN jsonb_typeof(doc->'%s') = 'null' THEN NULL ELSE doc->'%s' END)",
		field, field)
}

func (dialect) Arg(v any) any { return v }

// Find compiles the query to SQL and hydrates the matching documents.
func (s *Store) Find(ctx context.Context, collection string, q persist.Query) ([]dto.Document, error) {
	tbl, err := s.ensureTable(ctx, collection)
	if err != nil {
		return nil, err
	}
	comp := sqlkit.NewCompiler(dialect{})
	where, err := comp.Where(q.Where)
	if err != nil {
		return nil, fmt.Errorf("compile query for %s: %w", collection, err)
	}
	var sb strings.Builder
	fmt.Fprintf(&sb, `SELECT doc FROM %q`, tbl)
	if where != "" {
		sb.WriteString(" WHERE " + where)
	}
	if ob := sqlkit.Order(dialect{}, q.Order); ob != "" {
		sb.WriteString(" ORDER BY " + ob)
	}
	args := comp.Args()
	if q.Limit > 0 {
		args = append(args, q.Limit)
		fmt.Fprintf(&sb, " LIMIT $%d", len(args))
	}
	rows, err := s.db.QueryContext(ctx, sb.String(), args...)
	if err != nil {
		return nil, fmt.Errorf("find in %s: %w", collection, err)
	}
	defer func() { _ = rows.Close() }()
	var out []dto.Document
	for rows.Next() {
		var raw []byte
		if err := rows.Scan(&raw); err != nil {
			return nil, fmt.Errorf("scan document: %w", err)
		}
		var doc dto.Document
		if err := json.Unmarshal(raw, &doc); err != nil {
			return nil, fmt.Errorf("decode document: %w", err)
		}
		out = append(out, doc)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate %s: %w", collection, err)
	}
	return out, nil
}

// UpdateByID merges the patch into the stored document with the jsonb
// concatenation operator.
func (s *Store) UpdateByID(ctx context.Context, collection, id string, fields dto.Document) (bool, error) {
	tbl, err := s.ensureTable(ctx, collection)
	if err != nil {
		return false, err
	}
	raw, err := json.Marshal(fields)
	if err != nil {
		return false, fmt.Errorf("encode patch: %w", err)
	}
	query := fmt.Sprintf(`UPDATE %q SET doc = doc || $2::jsonb WHERE id = $1`, tbl)
	res, err := s.db.ExecContext(ctx, query, id, raw)
	if err != nil {
		if conflict := parseConflict(err, tbl); conflict != nil {
			return false, conflict
		}
		return false, fmt.Errorf("update %s/%s: %w", collection, id, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("update %s/%s: %w", collection, id, err)
	}
	return n > 0, nil
}

// DeleteByID removes the document with the given identity.
func (s *Store) DeleteByID(ctx context.Context, collection, id string) (bool, error) {
	tbl, err := s.ensureTable(ctx, collection)
	if err != nil {
		return false, err
	}
	query := fmt.Sprintf(`DELETE FROM %q WHERE id = $1`, tbl)
	res, err := s.db.ExecContext(ctx, query, id)
	if err != nil {
		return false, fmt.Errorf("delete %s/%s: %w", collection, id, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("delete %s/%s: %w", collection, id, err)
	}
	return n > 0, nil
}

// OverrideSQLOpen swaps the sqlOpen function for tests and returns a
// restore function.
func OverrideSQLOpen(fn func(driverName, dataSourceName string) (*sql.DB, error)) func() {
	openMu.Lock()
	defer openMu.Unlock()
	prev := sqlOpen
	sqlOpen = fn
	return func() {
		openMu.Lock()
		defer openMu.Unlock()
		sqlOpen = prev
	}
}
