package persist

import (
	"errors"
	"fmt"
	"net/http"

	"nvcore/pkg/keyset"
)

// Configuration errors: fail fast at first use, unrecoverable, not retried.
var (
	// ErrBadDescriptor marks an entity type descriptor that fails
	// validation at reader/writer construction.
	ErrBadDescriptor = errors.New("invalid entity type descriptor")
	// ErrTargetPinned marks an attempt to open a second store target in a
	// process that has already pinned one.
	ErrTargetPinned = errors.New("store target already pinned for this process")
	// ErrIndexConflict marks an existing index whose key spec matches a
	// declared hint but whose uniqueness flag differs.
	ErrIndexConflict = errors.New("existing index disagrees on uniqueness")
)

// Caller errors: surfaced as client-class failures, never silently fixed.
var (
	// ErrMissingIdentity marks a write whose entity carries no valid
	// pre-assigned identity. The engine never mints identities.
	ErrMissingIdentity = errors.New("entity carries no valid identity")
	// ErrIdentityChange marks an update that attempts to change the
	// identity field.
	ErrIdentityChange = errors.New("update may not change the identity field")
	// ErrCursorOrderMismatch marks a cursor presented together with an
	// explicit order different from the one it was issued under.
	ErrCursorOrderMismatch = errors.New("cursor was issued under a different order")
	// ErrMultipleMatches marks a read-one filter that matched more than
	// one document.
	ErrMultipleMatches = errors.New("filter matched more than one document")
)

// ConflictCode is the wire code carried by surfaced uniqueness violations.
const ConflictCode = "duplicate_key"

// Conflict is a structured uniqueness violation from a write. When the
// conflict is on the identity field itself it signals an upstream
// identity-generation bug and is never retried with a fresh identity.
type Conflict struct {
	// Key names the offending key or index identity.
	Key string
	// Identity is set when the violated constraint is the identity field.
	Identity bool
}

// Error implements the error interface.
func (c *Conflict) Error() string {
	if c.Identity {
		return fmt.Sprintf("%s: identity conflict on %s", ConflictCode, c.Key)
	}
	return fmt.Sprintf("%s: unique constraint %s violated", ConflictCode, c.Key)
}

// AsConflict extracts a Conflict from an error chain.
func AsConflict(err error) (*Conflict, bool) {
	var c *Conflict
	if errors.As(err, &c) {
		return c, true
	}
	return nil, false
}

// Class buckets engine errors for callers that map them onto a transport.
type Class int

// Error classes in the engine taxonomy.
const (
	// ClassInternal covers store connectivity and other unexpected failures.
	ClassInternal Class = iota
	// ClassConfig covers fail-fast configuration defects.
	ClassConfig
	// ClassClient covers caller/validation errors.
	ClassClient
	// ClassConflict covers surfaced uniqueness violations.
	ClassConflict
)

// ClassOf classifies any error produced by the engine.
func ClassOf(err error) Class {
	if err == nil {
		return ClassInternal
	}
	if _, ok := AsConflict(err); ok {
		return ClassConflict
	}
	switch {
	case errors.Is(err, ErrBadDescriptor),
		errors.Is(err, ErrTargetPinned),
		errors.Is(err, ErrIndexConflict):
		return ClassConfig
	case errors.Is(err, ErrMissingIdentity),
		errors.Is(err, ErrIdentityChange),
		errors.Is(err, ErrCursorOrderMismatch),
		errors.Is(err, ErrMultipleMatches),
		errors.Is(err, keyset.ErrBadCursor):
		return ClassClient
	default:
		return ClassInternal
	}
}

// HTTPStatus maps a class to the status code the service layer responds with.
func (c Class) HTTPStatus() int {
	switch c {
	case ClassClient:
		return http.StatusBadRequest
	case ClassConflict:
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}
