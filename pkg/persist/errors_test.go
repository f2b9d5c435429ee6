package persist_test

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
	"testing"

	"nvcore/pkg/keyset"
	"nvcore/pkg/persist"
)

func TestClassOf(t *testing.T) {
	cases := []struct {
		name string
		err  error
		want persist.Class
	}{
		{"nil treated as internal bucket", nil, persist.ClassInternal},
		{"plain error", errors.New("boom"), persist.ClassInternal},
		{"bad descriptor", persist.ErrBadDescriptor, persist.ClassConfig},
		{"pinned target", persist.ErrTargetPinned, persist.ClassConfig},
		{"index conflict", persist.ErrIndexConflict, persist.ClassConfig},
		{"missing identity", persist.ErrMissingIdentity, persist.ClassClient},
		{"identity change", persist.ErrIdentityChange, persist.ClassClient},
		{"cursor order mismatch", persist.ErrCursorOrderMismatch, persist.ClassClient},
		{"multiple matches", persist.ErrMultipleMatches, persist.ClassClient},
		{"bad cursor", keyset.ErrBadCursor, persist.ClassClient},
		{"conflict", &persist.Conflict{Key: "x"}, persist.ClassConflict},
		{"wrapped sentinel", fmt.Errorf("outer: %w", persist.ErrMissingIdentity), persist.ClassClient},
		{"wrapped conflict", fmt.Errorf("outer: %w", &persist.Conflict{Key: "x", Identity: true}), persist.ClassConflict},
	}
	for _, tc := range cases {
		if got := persist.ClassOf(tc.err); got != tc.want {
			t.Errorf("%s: got %v, want %v", tc.name, got, tc.want)
		}
	}
}

func TestHTTPStatus(t *testing.T) {
	if got := persist.ClassClient.HTTPStatus(); got != http.StatusBadRequest {
		t.Fatalf("client class: %d", got)
	}
	if got := persist.ClassConflict.HTTPStatus(); got != http.StatusConflict {
		t.Fatalf("conflict class: %d", got)
	}
	if got := persist.ClassInternal.HTTPStatus(); got != http.StatusInternalServerError {
		t.Fatalf("internal class: %d", got)
	}
	if got := persist.ClassConfig.HTTPStatus(); got != http.StatusInternalServerError {
		t.Fatalf("config class: %d", got)
	}
}

func TestConflictMessageCarriesWireCode(t *testing.T) {
	c := &persist.Conflict{Key: "c_notes_email_key"}
	if !strings.Contains(c.Error(), persist.ConflictCode) {
		t.Fatalf("conflict message missing wire code: %s", c.Error())
	}
	id := &persist.Conflict{Key: "_id", Identity: true}
	if !strings.Contains(id.Error(), "identity") {
		t.Fatalf("identity conflict message: %s", id.Error())
	}
}
