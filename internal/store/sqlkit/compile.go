// Package sqlkit compiles engine filter plans and order specs into SQL for
// the document-store backends. Dialects differ only in placeholders and in
// how a document field is addressed.
package sqlkit

import (
	"fmt"
	"strings"

	"nvcore/pkg/bag"
	"nvcore/pkg/dto"
	"nvcore/pkg/keyset"
)

// Dialect abstracts the per-backend SQL differences.
type Dialect interface {
	// Placeholder renders the n-th (1-based) bind parameter.
	Placeholder(n int) string
	// FieldExpr renders the expression extracting a document field for
	// comparison against the given value (whose Go type selects casts).
	FieldExpr(field string, value any) string
	// OrderExpr renders the expression a field is ordered by.
	OrderExpr(field string) string
	// Arg converts a bound value into a driver-friendly representation.
	Arg(value any) any
}

// Compiler accumulates SQL fragments and bind arguments.
type Compiler struct {
	d    Dialect
	args []any
}

// NewCompiler builds a compiler for the given dialect.
func NewCompiler(d Dialect) *Compiler { return &Compiler{d: d} }

// Args returns the accumulated bind arguments.
func (c *Compiler) Args() []any { return c.args }

func (c *Compiler) bind(v any) string {
	c.args = append(c.args, c.d.Arg(v))
	return c.d.Placeholder(len(c.args))
}

// Where compiles a conjunction of plans into a WHERE clause body. It
// returns "" when the conjunction is empty.
func (c *Compiler) Where(plans []bag.Plan) (string, error) {
	var groups []string
	for _, plan := range plans {
		if plan.IsZero() {
			continue
		}
		g, err := c.plan(plan)
		if err != nil {
			return "", err
		}
		groups = append(groups, g)
	}
	return strings.Join(groups, " AND "), nil
}

func (c *Compiler) plan(plan bag.Plan) (string, error) {
	var parts []string
	for _, p := range plan.And {
		s, err := c.pred(p)
		if err != nil {
			return "", err
		}
		parts = append(parts, s)
	}
	if len(plan.Or) > 0 {
		var ors []string
		for _, p := range plan.Or {
			s, err := c.pred(p)
			if err != nil {
				return "", err
			}
			ors = append(ors, s)
		}
		parts = append(parts, "("+strings.Join(ors, " OR ")+")")
	}
	if len(plan.Not) > 0 {
		var nots []string
		for _, p := range plan.Not {
			s, err := c.pred(p)
			if err != nil {
				return "", err
			}
			nots = append(nots, s)
		}
		parts = append(parts, "NOT ("+strings.Join(nots, " AND ")+")")
	}
	if len(plan.AnyOf) > 0 {
		var subs []string
		for _, sub := range plan.AnyOf {
			s, err := c.plan(sub)
			if err != nil {
				return "", err
			}
			subs = append(subs, s)
		}
		parts = append(parts, "("+strings.Join(subs, " OR ")+")")
	}
	if len(parts) == 0 {
		return "TRUE", nil
	}
	return "(" + strings.Join(parts, " AND ") + ")", nil
}

// pred compiles one predicate. Null semantics deliberately mirror the
// in-memory evaluator: equality with nil becomes IS NULL, negative
// predicates match absent fields, and ordering against nil never matches.
func (c *Compiler) pred(p bag.Pred) (string, error) {
	val := bag.NormalizeValue(p.Value, p.CaseInsensitive, p.Normalize)
	expr := c.fieldExpr(p, val)
	switch p.Op {
	case bag.OpEq:
		if val == nil {
			return expr + " IS NULL", nil
		}
		return fmt.Sprintf("%s = %s", expr, c.bind(val)), nil
	case bag.OpNe:
		if val == nil {
			return expr + " IS NOT NULL", nil
		}
		return fmt.Sprintf("(%s IS NULL OR %s <> %s)", expr, expr, c.bind(val)), nil
	case bag.OpIn, bag.OpNotIn:
		set, ok := p.Value.([]any)
		if !ok {
			return "", fmt.Errorf("predicate on %s: %s requires a value list", p.Field, p.Op)
		}
		if len(set) == 0 {
			if p.Op == bag.OpIn {
				return "FALSE", nil
			}
			return "TRUE", nil
		}
		marks := make([]string, 0, len(set))
		for _, m := range set {
			norm := bag.NormalizeValue(m, p.CaseInsensitive, p.Normalize)
			marks = append(marks, c.bind(norm))
		}
		list := strings.Join(marks, ", ")
		if p.Op == bag.OpIn {
			return fmt.Sprintf("%s IN (%s)", expr, list), nil
		}
		return fmt.Sprintf("(%s IS NULL OR %s NOT IN (%s))", expr, expr, list), nil
	case bag.OpGt, bag.OpGte, bag.OpLt, bag.OpLte:
		if val == nil {
			return "FALSE", nil
		}
		ops := map[bag.Op]string{bag.OpGt: ">", bag.OpGte: ">=", bag.OpLt: "<", bag.OpLte: "<="}
		return fmt.Sprintf("%s %s %s", expr, ops[p.Op], c.bind(val)), nil
	default:
		return "", fmt.Errorf("predicate on %s: unknown operator %q", p.Field, p.Op)
	}
}

func (c *Compiler) fieldExpr(p bag.Pred, val any) string {
	expr := c.d.FieldExpr(p.Field, val)
	if p.Field == dto.FieldID {
		return expr
	}
	if p.Normalize {
		return "LOWER(TRIM(" + expr + "))"
	}
	if p.CaseInsensitive {
		return "LOWER(" + expr + ")"
	}
	return expr
}

// Order compiles an order spec into an ORDER BY body. Nulls rank largest
// in both directions, matching the in-memory store.
func Order(d Dialect, order keyset.OrderSpec) string {
	if len(order) == 0 {
		return ""
	}
	parts := make([]string, len(order))
	for i, k := range order {
		dir, nulls := "ASC", "NULLS LAST"
		if k.Desc {
			dir, nulls = "DESC", "NULLS FIRST"
		}
		parts[i] = fmt.Sprintf("%s %s %s", d.OrderExpr(k.Field), dir, nulls)
	}
	return strings.Join(parts, ", ")
}
