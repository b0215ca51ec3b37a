package engine

import (
	"fmt"
	"strconv"
	"strings"
)

// Predicate reports whether a peep's fields satisfy a condition.
// A field missing from the record never matches.
type Predicate func(fields map[string]any) bool

// CompilePredicates parses simple expressions into executable predicates.
// Supported operators: ==, !=, >, <, >=, <=, in, contains, startswith.
// Examples:
//
//	"variant == REPLY"
//	"account in 0xabc...,0xdef..."
//	"content contains gm"
//	"number >= 1_000"
func CompilePredicates(exprs []string) ([]Predicate, error) {
	var preds []Predicate
	for _, raw := range exprs {
		raw = strings.TrimSpace(raw)
		if raw == "" {
			continue
		}
		p, err := compile(raw)
		if err != nil {
			return nil, err
		}
		preds = append(preds, p)
	}
	return preds, nil
}

func matchAll(preds []Predicate, fields map[string]any) bool {
	for _, p := range preds {
		if !p(fields) {
			return false
		}
	}
	return true
}

// wordOps are checked before symbolic operators so that content like
// "a == b" inside a contains needle is not split on "==".
var wordOps = []string{" in ", " contains ", " startswith "}

func compile(expr string) (Predicate, error) {
	for _, op := range wordOps {
		if !strings.Contains(expr, op) {
			continue
		}
		parts := strings.SplitN(expr, op, 2)
		field := strings.TrimSpace(parts[0])
		rhs := strings.TrimSpace(parts[1])
		if field == "" || rhs == "" {
			return nil, fmt.Errorf("invalid %s expression: %s", strings.TrimSpace(op), expr)
		}
		switch strings.TrimSpace(op) {
		case "in":
			return inPredicate(field, rhs), nil
		case "contains":
			return stringPredicate(field, func(v string) bool { return strings.Contains(v, rhs) }), nil
		default:
			return stringPredicate(field, func(v string) bool { return strings.HasPrefix(v, rhs) }), nil
		}
	}

	var op string
	switch {
	case strings.Contains(expr, "=="):
		op = "=="
	case strings.Contains(expr, "!="):
		op = "!="
	case strings.Contains(expr, ">="):
		op = ">="
	case strings.Contains(expr, "<="):
		op = "<="
	case strings.Contains(expr, ">"):
		op = ">"
	case strings.Contains(expr, "<"):
		op = "<"
	default:
		return nil, fmt.Errorf("unsupported expression: %s", expr)
	}

	parts := strings.SplitN(expr, op, 2)
	field := strings.TrimSpace(parts[0])
	rhsRaw := strings.TrimSpace(parts[1])
	if field == "" || rhsRaw == "" {
		return nil, fmt.Errorf("invalid expression: %s", expr)
	}

	numRHS, rhsIsNum := evaluateNumber(rhsRaw)

	return func(fields map[string]any) bool {
		val, ok := fields[field]
		if !ok {
			return false
		}

		if rhsIsNum {
			if lhs, ok := toNumber(val); ok {
				switch op {
				case "==":
					return lhs == numRHS
				case "!=":
					return lhs != numRHS
				case ">":
					return lhs > numRHS
				case "<":
					return lhs < numRHS
				case ">=":
					return lhs >= numRHS
				case "<=":
					return lhs <= numRHS
				}
			}
		}

		lhs := fmt.Sprint(val)
		switch op {
		case "==":
			return strings.EqualFold(lhs, rhsRaw)
		case "!=":
			return !strings.EqualFold(lhs, rhsRaw)
		default:
			return false
		}
	}, nil
}

// inPredicate matches case-insensitively so checksummed and lowercase
// addresses compare equal.
func inPredicate(field, list string) Predicate {
	values := map[string]struct{}{}
	for _, v := range strings.Split(list, ",") {
		v = strings.ToLower(strings.TrimSpace(v))
		if v == "" {
			continue
		}
		values[v] = struct{}{}
	}
	return func(fields map[string]any) bool {
		val, ok := fields[field]
		if !ok {
			return false
		}
		_, hit := values[strings.ToLower(fmt.Sprint(val))]
		return hit
	}
}

func stringPredicate(field string, fn func(string) bool) Predicate {
	return func(fields map[string]any) bool {
		val, ok := fields[field]
		if !ok {
			return false
		}
		return fn(fmt.Sprint(val))
	}
}

// evaluateNumber parses "100", "1e6", "1_000_000" and a single product
// such as "24 * 3600".
func evaluateNumber(s string) (float64, bool) {
	s = strings.ReplaceAll(strings.TrimSpace(s), "_", "")

	if strings.Contains(s, "*") {
		parts := strings.Split(s, "*")
		if len(parts) != 2 {
			return 0, false
		}
		a, ok1 := evaluateNumber(parts[0])
		b, ok2 := evaluateNumber(parts[1])
		if !ok1 || !ok2 {
			return 0, false
		}
		return a * b, true
	}

	v, err := strconv.ParseFloat(s, 64)
	return v, err == nil
}

func toNumber(v any) (float64, bool) {
	switch n := v.(type) {
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	case uint64:
		return float64(n), true
	case float64:
		return n, true
	case string:
		return evaluateNumber(n)
	default:
		return 0, false
	}
}
