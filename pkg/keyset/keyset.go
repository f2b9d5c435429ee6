// Package keyset implements the total-order specification and opaque
// continuation tokens used for keyset pagination: resuming from the last
// seen sort-key tuple instead of an offset.
package keyset

import (
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"

	"nvcore/pkg/bag"
	"nvcore/pkg/dto"
)

// ErrBadCursor marks a continuation token that could not be decoded. It is
// a caller error: tokens are opaque and must never be constructed by hand.
var ErrBadCursor = errors.New("malformed cursor")

// OrderKey is one clause of a total order.
type OrderKey struct {
	Field string `json:"f"`
	Desc  bool   `json:"d,omitempty"`
}

// OrderSpec is an ordered list of order clauses. By convention the final
// clause is the identity field, making the order injective; WithIdentity
// enforces the convention.
type OrderSpec []OrderKey

// Default is the engine's fallback order: stable ascending by identity.
func Default() OrderSpec { return OrderSpec{{Field: dto.FieldID}} }

// Validate checks that every clause names a field.
func (s OrderSpec) Validate() error {
	if len(s) == 0 {
		return fmt.Errorf("order spec: no clauses")
	}
	for _, k := range s {
		if k.Field == "" {
			return fmt.Errorf("order spec: empty field name")
		}
	}
	return nil
}

// Equal reports whether two order specs are identical clause for clause.
func (s OrderSpec) Equal(o OrderSpec) bool {
	if len(s) != len(o) {
		return false
	}
	for i := range s {
		if s[i] != o[i] {
			return false
		}
	}
	return true
}

// WithIdentity appends an ascending identity clause unless the spec already
// ends in one, making the order injective for safe pagination.
func (s OrderSpec) WithIdentity() OrderSpec {
	for _, k := range s {
		if k.Field == dto.FieldID {
			return s
		}
	}
	out := make(OrderSpec, len(s)+1)
	copy(out, s)
	out[len(s)] = OrderKey{Field: dto.FieldID}
	return out
}

// Effective returns the spec with every direction flipped when reverse is
// set; this is the order actually sent to the store.
func (s OrderSpec) Effective(reverse bool) OrderSpec {
	if !reverse {
		return s
	}
	out := make(OrderSpec, len(s))
	for i, k := range s {
		out[i] = OrderKey{Field: k.Field, Desc: !k.Desc}
	}
	return out
}

// Clauses converts the spec to view order clauses with store-compatible
// null ranking (nulls sort as the largest value, as SQL backends do).
func (s OrderSpec) Clauses() []bag.Clause {
	out := make([]bag.Clause, len(s))
	for i, k := range s {
		out[i] = bag.Clause{Field: k.Field, Desc: k.Desc, NullsLast: !k.Desc}
	}
	return out
}

// Cursor encodes where a page ended: the order it was issued under, the
// key tuple of the last returned row, and the traversal direction.
type Cursor struct {
	Order   OrderSpec `json:"o"`
	Last    []any     `json:"l"`
	Reverse bool      `json:"r,omitempty"`
}

// FromDoc builds the continuation cursor for a page whose last returned row
// is doc.
func FromDoc(doc dto.Document, order OrderSpec, reverse bool) Cursor {
	last := make([]any, len(order))
	for i, k := range order {
		last[i] = doc[k.Field]
	}
	return Cursor{Order: order, Last: last, Reverse: reverse}
}

// Encode renders the cursor as an opaque token.
func (c Cursor) Encode() (string, error) {
	raw, err := json.Marshal(c)
	if err != nil {
		return "", fmt.Errorf("encode cursor: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(raw), nil
}

// Decode parses an opaque token back into a cursor. Any defect in the
// token, including a key-tuple arity mismatch, yields ErrBadCursor.
func Decode(token string) (Cursor, error) {
	raw, err := base64.RawURLEncoding.DecodeString(token)
	if err != nil {
		return Cursor{}, fmt.Errorf("%w: %v", ErrBadCursor, err)
	}
	var c Cursor
	if err := json.Unmarshal(raw, &c); err != nil {
		return Cursor{}, fmt.Errorf("%w: %v", ErrBadCursor, err)
	}
	if err := c.Order.Validate(); err != nil {
		return Cursor{}, fmt.Errorf("%w: %v", ErrBadCursor, err)
	}
	if len(c.Last) != len(c.Order) {
		return Cursor{}, fmt.Errorf("%w: key tuple has %d values for %d order clauses",
			ErrBadCursor, len(c.Last), len(c.Order))
	}
	return c, nil
}

// SeekPlan builds the keyset seek condition resuming after the cursor's
// last row: for an N-key order the standard disjunction
//
//	(k1 > v1) OR (k1 = v1 AND k2 > v2) OR ... OR (k1 = v1 AND ... AND kN > vN)
//
// where each strict comparison direction follows the clause direction
// combined with the reverse flag. The strict comparisons are null-aware
// under the engine's null ranking (nulls sort largest in ascending order):
// ascending past a non-nil boundary also admits the trailing null region,
// ascending past a nil boundary admits no row on that key, and descending
// past a nil boundary admits every non-null row.
func (c Cursor) SeekPlan() bag.Plan {
	subs := make([]bag.Plan, 0, len(c.Order))
	for i, key := range c.Order {
		strict, ok := seekStrict(key.Field, c.Last[i], key.Desc != c.Reverse)
		if !ok {
			continue
		}
		preds := make([]bag.Pred, 0, i+len(strict.And))
		for j := 0; j < i; j++ {
			preds = append(preds, bag.Eq(c.Order[j].Field, c.Last[j]))
		}
		strict.And = append(preds, strict.And...)
		subs = append(subs, strict)
	}
	if len(subs) == 0 {
		// The boundary row is the last row of the whole order; nothing
		// follows it.
		return bag.Plan{And: []bag.Pred{bag.In(c.Order[0].Field)}}
	}
	return bag.Plan{AnyOf: subs}
}

// seekStrict renders "strictly after the boundary value on this key". It
// reports false when no row can qualify on the key alone.
func seekStrict(field string, v any, desc bool) (bag.Plan, bool) {
	if desc {
		// Descending ranks nulls first: past a nil boundary every non-null
		// row follows; past a non-nil one the null region is already behind.
		if v == nil {
			return bag.Plan{And: []bag.Pred{bag.Ne(field, nil)}}, true
		}
		return bag.Plan{And: []bag.Pred{bag.Lt(field, v)}}, true
	}
	// Ascending ranks nulls last: past a nil boundary nothing follows on
	// this key; past a non-nil one the null region still does.
	if v == nil {
		return bag.Plan{}, false
	}
	return bag.Plan{Or: []bag.Pred{bag.Gt(field, v), bag.Eq(field, nil)}}, true
}
