package bag

import (
	"strings"
	"time"

	"nvcore/pkg/dto"
)

// Op identifies a predicate comparison operator.
type Op string

// Predicate operators understood by Plan and by the storage backends.
const (
	OpEq    Op = "eq"
	OpNe    Op = "ne"
	OpIn    Op = "in"
	OpNotIn Op = "notIn"
	OpGt    Op = "gt"
	OpGte   Op = "gte"
	OpLt    Op = "lt"
	OpLte   Op = "lte"
)

// Pred is a single field predicate. For OpIn and OpNotIn, Value is a []any
// of allowed members.
type Pred struct {
	Field string
	Op    Op
	Value any
	// CaseInsensitive folds string operands before comparing.
	CaseInsensitive bool
	// Normalize trims surrounding whitespace and folds case.
	Normalize bool
}

// Eq builds an equality predicate.
func Eq(field string, v any) Pred { return Pred{Field: field, Op: OpEq, Value: v} }

// Ne builds an inequality predicate.
func Ne(field string, v any) Pred { return Pred{Field: field, Op: OpNe, Value: v} }

// In builds a membership predicate.
func In(field string, vs ...any) Pred { return Pred{Field: field, Op: OpIn, Value: vs} }

// NotIn builds a negated membership predicate.
func NotIn(field string, vs ...any) Pred { return Pred{Field: field, Op: OpNotIn, Value: vs} }

// Gt builds a strictly-greater predicate.
func Gt(field string, v any) Pred { return Pred{Field: field, Op: OpGt, Value: v} }

// Gte builds a greater-or-equal predicate.
func Gte(field string, v any) Pred { return Pred{Field: field, Op: OpGte, Value: v} }

// Lt builds a strictly-less predicate.
func Lt(field string, v any) Pred { return Pred{Field: field, Op: OpLt, Value: v} }

// Lte builds a less-or-equal predicate.
func Lte(field string, v any) Pred { return Pred{Field: field, Op: OpLte, Value: v} }

// Plan is a declarative filter over documents. Semantics: every And
// predicate must match; when Or is non-empty at least one Or predicate must
// match; a non-empty Not group negates the conjunction of its predicates;
// when AnyOf is non-empty at least one sub-plan must match. A zero Plan
// matches everything.
type Plan struct {
	And   []Pred
	Or    []Pred
	Not   []Pred
	AnyOf []Plan
}

// IsZero reports whether the plan carries no predicates at all.
func (pl Plan) IsZero() bool {
	return len(pl.And) == 0 && len(pl.Or) == 0 && len(pl.Not) == 0 && len(pl.AnyOf) == 0
}

// Matches evaluates the plan against a document.
func (pl Plan) Matches(doc dto.Document) bool {
	for _, p := range pl.And {
		if !p.Matches(doc) {
			return false
		}
	}
	if len(pl.Or) > 0 {
		hit := false
		for _, p := range pl.Or {
			if p.Matches(doc) {
				hit = true
				break
			}
		}
		if !hit {
			return false
		}
	}
	if len(pl.Not) > 0 {
		all := true
		for _, p := range pl.Not {
			if !p.Matches(doc) {
				all = false
				break
			}
		}
		if all {
			return false
		}
	}
	if len(pl.AnyOf) > 0 {
		hit := false
		for _, sub := range pl.AnyOf {
			if sub.Matches(doc) {
				hit = true
				break
			}
		}
		if !hit {
			return false
		}
	}
	return true
}

// Matches evaluates the predicate against a document. A field absent from
// the document is treated as nil; ordering comparisons against nil or
// incomparable values never match, mirroring SQL NULL semantics.
func (p Pred) Matches(doc dto.Document) bool {
	got := NormalizeValue(doc[p.Field], p.CaseInsensitive, p.Normalize)
	switch p.Op {
	case OpEq:
		return equalValues(got, NormalizeValue(p.Value, p.CaseInsensitive, p.Normalize))
	case OpNe:
		return !equalValues(got, NormalizeValue(p.Value, p.CaseInsensitive, p.Normalize))
	case OpIn:
		return p.member(got)
	case OpNotIn:
		return !p.member(got)
	case OpGt, OpGte, OpLt, OpLte:
		if got == nil {
			return false
		}
		c, ok := Compare(got, NormalizeValue(p.Value, p.CaseInsensitive, p.Normalize))
		if !ok {
			return false
		}
		switch p.Op {
		case OpGt:
			return c > 0
		case OpGte:
			return c >= 0
		case OpLt:
			return c < 0
		default:
			return c <= 0
		}
	default:
		return false
	}
}

func (p Pred) member(got any) bool {
	set, ok := p.Value.([]any)
	if !ok {
		return false
	}
	for _, m := range set {
		if equalValues(got, NormalizeValue(m, p.CaseInsensitive, p.Normalize)) {
			return true
		}
	}
	return false
}

// NormalizeValue applies the string matching options to a value: fold folds
// case, normalize trims whitespace and folds case. Non-strings pass through.
func NormalizeValue(v any, fold, normalize bool) any {
	s, ok := v.(string)
	if !ok {
		return v
	}
	if normalize {
		s = strings.ToLower(strings.TrimSpace(s))
	} else if fold {
		s = strings.ToLower(s)
	}
	return s
}

func equalValues(a, b any) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	if c, ok := Compare(a, b); ok {
		return c == 0
	}
	return a == b
}

// Compare orders two document values. It reports false when the values are
// of incomparable types. Numbers compare numerically across int/float
// widths, strings lexically, booleans false-before-true, and times
// chronologically.
func Compare(a, b any) (int, bool) {
	if fa, ok := toFloat(a); ok {
		if fb, ok := toFloat(b); ok {
			switch {
			case fa < fb:
				return -1, true
			case fa > fb:
				return 1, true
			default:
				return 0, true
			}
		}
		return 0, false
	}
	switch av := a.(type) {
	case string:
		bv, ok := b.(string)
		if !ok {
			return 0, false
		}
		return strings.Compare(av, bv), true
	case bool:
		bv, ok := b.(bool)
		if !ok {
			return 0, false
		}
		switch {
		case av == bv:
			return 0, true
		case !av:
			return -1, true
		default:
			return 1, true
		}
	case time.Time:
		bv, ok := b.(time.Time)
		if !ok {
			return 0, false
		}
		return av.Compare(bv), true
	default:
		return 0, false
	}
}

func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int8:
		return float64(n), true
	case int16:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	case uint:
		return float64(n), true
	case uint8:
		return float64(n), true
	case uint16:
		return float64(n), true
	case uint32:
		return float64(n), true
	case uint64:
		return float64(n), true
	default:
		return 0, false
	}
}
