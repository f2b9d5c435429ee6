// Package sqlite provides an embedded document store on modernc.org/sqlite.
// Each collection maps to one table of (id, doc) rows with JSON documents;
// declared indexes become expression indexes over json_extract.
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"sync"

	_ "modernc.org/sqlite" // pure go sqlite driver

	"nvcore/internal/store/sqlkit"
	"nvcore/pkg/dto"
	"nvcore/pkg/persist"
)

// Compile-time contract assertion.
var _ persist.Store = (*Store)(nil)

const defaultPath = "nvcore.db"

var collectionRe = regexp.MustCompile(`^[a-z][a-z0-9_]*$`)

// Store persists documents to a local SQLite file.
type Store struct {
	db   *sql.DB
	path string

	mu     sync.Mutex
	tables map[string]bool
}

// NewStore opens (creating if needed) the SQLite file at path and prepares
// the index registry table.
func NewStore(path string) (*Store, error) {
	if path == "" {
		path = defaultPath
	}
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o750); err != nil && !errors.Is(err, os.ErrExist) {
			return nil, fmt.Errorf("create dirs: %w", err)
		}
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	if _, err := db.Exec(`CREATE TABLE IF NOT EXISTS nv_indexes (
		collection TEXT NOT NULL,
		name TEXT NOT NULL,
		fields TEXT NOT NULL,
		is_unique INTEGER NOT NULL,
		PRIMARY KEY (collection, name)
	)`); err != nil {
		return nil, fmt.Errorf("create index registry: %w", err)
	}
	return &Store{db: db, path: path, tables: map[string]bool{}}, nil
}

// Target identifies the backing file.
func (s *Store) Target() string { return "sqlite:" + s.path }

// Path returns the backing file path.
func (s *Store) Path() string { return s.path }

// Close releases the database handle.
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
		doc TEXT NOT NULL
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
		`SELECT name, fields, is_unique FROM nv_indexes WHERE collection = ?`, collection)
	if err != nil {
		return nil, fmt.Errorf("select indexes: %w", err)
	}
	defer func() { _ = rows.Close() }()
	var specs []persist.IndexSpec
	for rows.Next() {
		var spec persist.IndexSpec
		var fields string
		var unique int
		if err := rows.Scan(&spec.Name, &fields, &unique); err != nil {
			return nil, fmt.Errorf("scan index: %w", err)
		}
		if err := json.Unmarshal([]byte(fields), &spec.Fields); err != nil {
			return nil, fmt.Errorf("decode index fields: %w", err)
		}
		spec.Unique = unique != 0
		specs = append(specs, spec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate indexes: %w", err)
	}
	return specs, nil
}

var indexNameRe = regexp.MustCompile(`^[a-z][a-z0-9_]*$`)

// CreateIndex creates the expression index and records it in the registry.
// Racing creators are deduplicated by IF NOT EXISTS plus the registry's
// primary key.
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
	if !indexNameRe.MatchString(spec.Name) {
		return fmt.Errorf("invalid index name %q", spec.Name)
	}
	exprs := make([]string, len(spec.Fields))
	for i, f := range spec.Fields {
		fe, err := fieldPath(f)
		if err != nil {
			return err
		}
		exprs[i] = fe
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
	isUnique := 0
	if spec.Unique {
		isUnique = 1
	}
	if _, err := s.db.ExecContext(ctx,
		`INSERT INTO nv_indexes (collection, name, fields, is_unique) VALUES (?, ?, ?, ?)
		 ON CONFLICT (collection, name) DO NOTHING`,
		collection, spec.Name, string(fields), isUnique); err != nil {
		return fmt.Errorf("register index %s: %w", spec.Name, err)
	}
	return nil
}

var fieldRe = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

func fieldPath(field string) (string, error) {
	if field == dto.FieldID {
		return "id", nil
	}
	if !fieldRe.MatchString(field) {
		return "", fmt.Errorf("invalid field name %q", field)
	}
	return fmt.Sprintf("json_extract(doc, '$.%s')", field), nil
}

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
		return fmt.Errorf("begin tx: %w", err)
	}
	committed := false
	defer func() {
		if !committed {
			_ = tx.Rollback()
		}
	}()
	query := fmt.Sprintf(`INSERT INTO %q (id, doc) VALUES (?, ?)`, tbl)
	for _, doc := range docs {
		id, _ := doc[dto.FieldID].(string)
		if id == "" {
			return fmt.Errorf("insert into %s: document carries no %s", collection, dto.FieldID)
		}
		raw, err := json.Marshal(doc)
		if err != nil {
			return fmt.Errorf("encode document %s: %w", id, err)
		}
		if _, err := tx.ExecContext(ctx, query, id, string(raw)); err != nil {
			if conflict := parseConflict(err, tbl); conflict != nil {
				return conflict
			}
			return fmt.Errorf("insert into %s: %w", collection, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	committed = true
	return nil
}

// parseConflict maps a SQLite unique-violation error onto the engine's
// conflict shape. modernc.org/sqlite reports these as
// "UNIQUE constraint failed: <table>.<column>" for column constraints and
// "UNIQUE constraint failed: index '<name>'" for expression indexes.
func parseConflict(err error, tbl string) *persist.Conflict {
	msg := err.Error()
	if !strings.Contains(msg, "UNIQUE constraint failed") {
		return nil
	}
	if strings.Contains(msg, tbl+".id") {
		return &persist.Conflict{Key: dto.FieldID, Identity: true}
	}
	if i := strings.Index(msg, "index '"); i >= 0 {
		rest := msg[i+len("index '"):]
		if j := strings.Index(rest, "'"); j >= 0 {
			return &persist.Conflict{Key: rest[:j]}
		}
	}
	return &persist.Conflict{Key: msg}
}

type dialect struct{}

func (dialect) Placeholder(int) string { return "?" }

func (dialect) FieldExpr(field string, _ any) string {
	expr, err := fieldPath(field)
	if err != nil {
		// Field names reach here pre-validated; fall back to a never-matching
		// expression rather than interpolating the raw name.
		return "NULL"
	}
	return expr
}

func (d dialect) OrderExpr(field string) string { return d.FieldExpr(field, nil) }

func (dialect) Arg(v any) any {
	// SQLite stores JSON booleans as 0/1 integers.
	if b, ok := v.(bool); ok {
		if b {
			return 1
		}
		return 0
	}
	return v
}

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
		sb.WriteString(" LIMIT ?")
		args = append(args, q.Limit)
	}
	rows, err := s.db.QueryContext(ctx, sb.String(), args...)
	if err != nil {
		return nil, fmt.Errorf("find in %s: %w", collection, err)
	}
	defer func() { _ = rows.Close() }()
	var out []dto.Document
	for rows.Next() {
		var raw string
		if err := rows.Scan(&raw); err != nil {
			return nil, fmt.Errorf("scan document: %w", err)
		}
		var doc dto.Document
		if err := json.Unmarshal([]byte(raw), &doc); err != nil {
			return nil, fmt.Errorf("decode document: %w", err)
		}
		out = append(out, doc)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate %s: %w", collection, err)
	}
	return out, nil
}

// UpdateByID merges the patch into the stored document inside a
// transaction. json_patch is avoided because it treats JSON nulls as
// deletions; the merge happens in Go instead.
func (s *Store) UpdateByID(ctx context.Context, collection, id string, fields dto.Document) (bool, error) {
	tbl, err := s.ensureTable(ctx, collection)
	if err != nil {
		return false, err
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return false, fmt.Errorf("begin tx: %w", err)
	}
	committed := false
	defer func() {
		if !committed {
			_ = tx.Rollback()
		}
	}()
	var raw string
	selQuery := fmt.Sprintf(`SELECT doc FROM %q WHERE id = ?`, tbl)
	if err := tx.QueryRowContext(ctx, selQuery, id).Scan(&raw); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return false, nil
		}
		return false, fmt.Errorf("load %s/%s: %w", collection, id, err)
	}
	var doc dto.Document
	if err := json.Unmarshal([]byte(raw), &doc); err != nil {
		return false, fmt.Errorf("decode %s/%s: %w", collection, id, err)
	}
	for k, v := range fields {
		doc[k] = v
	}
	merged, err := json.Marshal(doc)
	if err != nil {
		return false, fmt.Errorf("encode %s/%s: %w", collection, id, err)
	}
	updQuery := fmt.Sprintf(`UPDATE %q SET doc = ? WHERE id = ?`, tbl)
	if _, err := tx.ExecContext(ctx, updQuery, string(merged), id); err != nil {
		if conflict := parseConflict(err, tbl); conflict != nil {
			return false, conflict
		}
		return false, fmt.Errorf("update %s/%s: %w", collection, id, err)
	}
	if err := tx.Commit(); err != nil {
		return false, fmt.Errorf("commit: %w", err)
	}
	committed = true
	return true, nil
}

// DeleteByID removes the document with the given identity.
func (s *Store) DeleteByID(ctx context.Context, collection, id string) (bool, error) {
	tbl, err := s.ensureTable(ctx, collection)
	if err != nil {
		return false, err
	}
	query := fmt.Sprintf(`DELETE FROM %q WHERE id = ?`, tbl)
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
