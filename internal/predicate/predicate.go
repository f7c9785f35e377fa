// Package predicate evaluates typed filters against row images. It follows SQL
// semantics so the in-memory store and the Postgres store agree: a NULL
// column never matches, contains is a case-insensitive substring test, and
// numbers compare by value regardless of int or float representation.
package predicate

import (
	"fmt"
	"strings"

	"github.com/campusiq/opsgovernor/models"
)

// Match reports whether the row satisfies every filter
func Match(row models.Row, filters []models.Filter) bool {
	for _, f := range filters {
		if !Eval(row[f.Field], f.Operator, f.Value) {
			return false
		}
	}
	return true
}

// Eval applies one operator to a column value
func Eval(col any, op models.Operator, want any) bool {
	if col == nil {
		return false
	}
	switch op {
	case models.OpIn:
		list, ok := want.([]any)
		if !ok {
			return false
		}
		for _, v := range list {
			if c, ok := Compare(col, v); ok && c == 0 {
				return true
			}
		}
		return false
	case models.OpContains:
		s, ok1 := col.(string)
		sub, ok2 := want.(string)
		return ok1 && ok2 && strings.Contains(strings.ToLower(s), strings.ToLower(sub))
	}

	c, ok := Compare(col, want)
	if !ok {
		return false
	}
	switch op {
	case models.OpEq:
		return c == 0
	case models.OpNe:
		return c != 0
	case models.OpLt:
		return c < 0
	case models.OpLte:
		return c <= 0
	case models.OpGt:
		return c > 0
	case models.OpGte:
		return c >= 0
	}
	return false
}

// Compare orders two scalars of compatible type. The boolean result is false
// when the values cannot be compared.
func Compare(a, b any) (int, bool) {
	if ai, ok := integer(a); ok {
		if bi, ok := integer(b); ok {
			switch {
			case ai < bi:
				return -1, true
			case ai > bi:
				return 1, true
			}
			return 0, true
		}
	}
	if af, ok := number(a); ok {
		bf, ok := number(b)
		if !ok {
			return 0, false
		}
		switch {
		case af < bf:
			return -1, true
		case af > bf:
			return 1, true
		}
		return 0, true
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
		if av == bv {
			return 0, true
		}
		if !av {
			return -1, true
		}
		return 1, true
	}
	return 0, false
}

// integer compares ids exactly where float64 would round above 2^53
func integer(v any) (int64, bool) {
	switch n := v.(type) {
	case int:
		return int64(n), true
	case int32:
		return int64(n), true
	case int64:
		return n, true
	}
	return 0, false
}

func number(v any) (float64, bool) {
	switch n := v.(type) {
	case int:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	case float32:
		return float64(n), true
	case float64:
		return n, true
	}
	return 0, false
}

// Describe renders filters for logs and denial messages
func Describe(filters []models.Filter) string {
	parts := make([]string, len(filters))
	for i, f := range filters {
		parts[i] = fmt.Sprintf("%s %s %v", f.Field, f.Operator, f.Value)
	}
	return strings.Join(parts, " AND ")
}
