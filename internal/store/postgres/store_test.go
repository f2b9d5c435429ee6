package postgres

import (
	"errors"
	"fmt"
	"strings"
	"testing"

	"github.com/jackc/pgx/v5/pgconn"

	"nvcore/internal/store/sqlkit"
	"nvcore/pkg/bag"
	"nvcore/pkg/dto"
	"nvcore/pkg/keyset"
)

func TestParseConflict(t *testing.T) {
	pkErr := &pgconn.PgError{Code: uniqueViolation, ConstraintName: "c_notes_pkey"}
	c := parseConflict(fmt.Errorf("exec: %w", pkErr), "c_notes")
	if c == nil || !c.Identity || c.Key != dto.FieldID {
		t.Fatalf("pkey violation: %+v", c)
	}

	idxErr := &pgconn.PgError{Code: uniqueViolation, ConstraintName: "c_notes_email_key"}
	c = parseConflict(idxErr, "c_notes")
	if c == nil || c.Identity || c.Key != "c_notes_email_key" {
		t.Fatalf("index violation: %+v", c)
	}

	if parseConflict(errors.New("connection refused"), "c_notes") != nil {
		t.Fatalf("non-pg error parsed as conflict")
	}
	otherErr := &pgconn.PgError{Code: "23503", ConstraintName: "fk"}
	if parseConflict(otherErr, "c_notes") != nil {
		t.Fatalf("non-unique violation parsed as conflict")
	}
}

func TestDialectFieldExprGuardsCasts(t *testing.T) {
	d := dialect{}
	if got := d.FieldExpr(dto.FieldID, "x"); got != "id" {
		t.Fatalf("identity expr: %s", got)
	}
	num := d.FieldExpr("rank", 3)
	if !strings.Contains(num, "jsonb_typeof(doc->'rank') = 'number'") || !strings.Contains(num, "::numeric") {
		t.Fatalf("numeric expr: %s", num)
	}
	b := d.FieldExpr("done", true)
	if !strings.Contains(b, "'boolean'") || !strings.Contains(b, "::boolean") {
		t.Fatalf("boolean expr: %s", b)
	}
	s := d.FieldExpr("name", "x")
	if !strings.Contains(s, "'string'") || strings.Contains(s, "::") {
		t.Fatalf("string expr: %s", s)
	}
	if got := d.FieldExpr(`x'); DROP TABLE c_notes; --`, "x"); got != "NULL" {
		t.Fatalf("hostile field name interpolated: %s", got)
	}
}

func TestDialectFieldExprNilComparesPresence(t *testing.T) {
	// IS NULL against this expression must hold for absent fields and JSON
	// null only; a value of any type stays non-null, like the in-memory
	// evaluator's nil equality.
	got := dialect{}.FieldExpr("note", nil)
	if got != "(doc->>'note')" {
		t.Fatalf("nil expr: %s", got)
	}
	if strings.Contains(got, "jsonb_typeof") || strings.Contains(got, "::") {
		t.Fatalf("nil expr must not type-guard: %s", got)
	}
}

func TestDialectCompilesPlaceholdersInOrder(t *testing.T) {
	comp := sqlkit.NewCompiler(dialect{})
	where, err := comp.Where([]bag.Plan{{And: []bag.Pred{
		bag.Eq("name", "a"),
		bag.Gt("rank", 3),
	}}})
	if err != nil {
		t.Fatalf("compile: %v", err)
	}
	if !strings.Contains(where, "$1") || !strings.Contains(where, "$2") {
		t.Fatalf("placeholders: %s", where)
	}
	if len(comp.Args()) != 2 {
		t.Fatalf("args: %v", comp.Args())
	}
}

func TestOrderCollapsesJSONNullForPlacement(t *testing.T) {
	// An explicit JSON null must become SQL NULL so NULLS LAST / NULLS FIRST
	// place it with absent fields instead of at the bottom of the jsonb type
	// order.
	got := sqlkit.Order(dialect{}, keyset.OrderSpec{
		{Field: "name"},
		{Field: dto.FieldID, Desc: true},
	})
	want := "(CASE WHEN jsonb_typeof(doc->'name') = 'null' THEN NULL ELSE doc->'name' END)" +
		" ASC NULLS LAST, id DESC NULLS FIRST"
	if got != want {
		t.Fatalf("order: %s", got)
	}
}
