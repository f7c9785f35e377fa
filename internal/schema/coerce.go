package schema

import (
	"encoding/json"
	"fmt"
	"math"
	"time"

	"github.com/campusiq/opsgovernor/models"
)

// DateLayout is the accepted literal form of date fields
const DateLayout = "2006-01-02"

// TypeMismatchError reports a value that does not fit a field's type
type TypeMismatchError struct {
	Field string
	Want  FieldType
	Got   any
}

func (e *TypeMismatchError) Error() string {
	return fmt.Sprintf("field %q expects %s, got %T (%v)", e.Field, e.Want, e.Got, e.Got)
}

// Coerce converts a value into the field's canonical Go type: int64, float64,
// string, bool, or a YYYY-MM-DD string for dates. Strings are never parsed as
// numbers. For the in operator the value must be a non-empty list and each
// element is coerced.
func (f *Field) Coerce(op models.Operator, value any) (any, error) {
	if op == models.OpIn {
		list, ok := value.([]any)
		if !ok {
			return nil, fmt.Errorf("field %q: operator in expects a list, got %T", f.Name, value)
		}
		if len(list) == 0 {
			return nil, fmt.Errorf("field %q: operator in expects at least one value", f.Name)
		}
		out := make([]any, len(list))
		for i, v := range list {
			c, err := f.CoerceValue(v)
			if err != nil {
				return nil, err
			}
			out[i] = c
		}
		return out, nil
	}
	return f.CoerceValue(value)
}

// int64Bound is 2^63; integral floats at or beyond it do not fit an int64
const int64Bound = 1 << 63

// CoerceValue converts a single scalar for assignment or comparison
func (f *Field) CoerceValue(value any) (any, error) {
	if n, ok := value.(json.Number); ok {
		if iv, err := n.Int64(); err == nil && f.Type == TypeInt {
			return iv, nil
		}
		fv, err := n.Float64()
		if err != nil {
			return nil, &TypeMismatchError{Field: f.Name, Want: f.Type, Got: value}
		}
		value = fv
	}

	mismatch := &TypeMismatchError{Field: f.Name, Want: f.Type, Got: value}
	switch f.Type {
	case TypeInt:
		switch v := value.(type) {
		case int:
			return int64(v), nil
		case int32:
			return int64(v), nil
		case int64:
			return v, nil
		case float64:
			if v != math.Trunc(v) || math.IsInf(v, 0) || math.IsNaN(v) || v >= int64Bound || v < -int64Bound {
				return nil, mismatch
			}
			return int64(v), nil
		}
	case TypeFloat:
		switch v := value.(type) {
		case int:
			return float64(v), nil
		case int64:
			return float64(v), nil
		case float32:
			return float64(v), nil
		case float64:
			if math.IsInf(v, 0) || math.IsNaN(v) {
				return nil, mismatch
			}
			return v, nil
		}
	case TypeString:
		if v, ok := value.(string); ok {
			return v, nil
		}
	case TypeBool:
		if v, ok := value.(bool); ok {
			return v, nil
		}
	case TypeDate:
		switch v := value.(type) {
		case string:
			t, err := time.Parse(DateLayout, v)
			if err != nil {
				return nil, mismatch
			}
			return t.Format(DateLayout), nil
		case time.Time:
			return v.UTC().Format(DateLayout), nil
		}
	}
	return nil, mismatch
}

// CoerceRow converts every known column of a stored row image to canonical
// types. Unknown columns are rejected so a snapshot cannot smuggle fields the
// registry does not describe.
func (e *Entity) CoerceRow(row models.Row) (models.Row, error) {
	out := make(models.Row, len(row))
	for k, v := range row {
		f, ok := e.Field(k)
		if !ok {
			return nil, fmt.Errorf("entity %q has no field %q", e.Name, k)
		}
		if v == nil {
			out[f.Name] = nil
			continue
		}
		c, err := f.CoerceValue(v)
		if err != nil {
			return nil, err
		}
		out[f.Name] = c
	}
	return out, nil
}
