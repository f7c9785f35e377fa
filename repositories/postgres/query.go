package postgres

import (
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/campusiq/opsgovernor/internal/schema"
	"github.com/campusiq/opsgovernor/models"
	"github.com/campusiq/opsgovernor/repositories"
	"github.com/lib/pq"
)

var comparators = map[models.Operator]string{
	models.OpEq:  "=",
	models.OpNe:  "<>",
	models.OpLt:  "<",
	models.OpLte: "<=",
	models.OpGt:  ">",
	models.OpGte: ">=",
}

// args accumulates positional parameters
type args []any

func (a *args) add(v any) string {
	*a = append(*a, v)
	return fmt.Sprintf("$%d", len(*a))
}

// whereClause renders filters against the entity's columns. Field names are
// checked against the registry and quoted; values are always bound.
func whereClause(e *schema.Entity, filters []models.Filter, a *args) (string, error) {
	if len(filters) == 0 {
		return "", nil
	}
	conds := make([]string, 0, len(filters))
	for _, f := range filters {
		field, ok := e.Field(f.Field)
		if !ok {
			return "", fmt.Errorf("entity %s has no field %s", e.Name, f.Field)
		}
		col := pq.QuoteIdentifier(field.Name)
		switch f.Operator {
		case models.OpIn:
			list, ok := f.Value.([]any)
			if !ok || len(list) == 0 {
				return "", fmt.Errorf("field %s: operator in expects a non-empty list", field.Name)
			}
			ph := make([]string, len(list))
			for i, v := range list {
				ph[i] = a.add(v)
			}
			conds = append(conds, fmt.Sprintf("%s IN (%s)", col, strings.Join(ph, ", ")))
		case models.OpContains:
			conds = append(conds, fmt.Sprintf("strpos(lower(%s::text), lower(%s)) > 0", col, a.add(fmt.Sprint(f.Value))))
		default:
			cmp, ok := comparators[f.Operator]
			if !ok {
				return "", fmt.Errorf("unsupported operator %q", f.Operator)
			}
			conds = append(conds, fmt.Sprintf("%s %s %s", col, cmp, a.add(f.Value)))
		}
	}
	return " WHERE " + strings.Join(conds, " AND "), nil
}

func columnList(e *schema.Entity) string {
	cols := make([]string, len(e.Fields))
	for i, f := range e.Fields {
		cols[i] = pq.QuoteIdentifier(f.Name)
	}
	return strings.Join(cols, ", ")
}

// scanTarget returns a nullable destination matching the field type
func scanTarget(f *schema.Field) any {
	switch f.Type {
	case schema.TypeInt:
		return new(sql.NullInt64)
	case schema.TypeFloat:
		return new(sql.NullFloat64)
	case schema.TypeBool:
		return new(sql.NullBool)
	case schema.TypeDate:
		return new(sql.NullTime)
	}
	return new(sql.NullString)
}

// canonical unwraps a scan destination into the registry's Go type
func canonical(dest any) any {
	switch v := dest.(type) {
	case *sql.NullInt64:
		if v.Valid {
			return v.Int64
		}
	case *sql.NullFloat64:
		if v.Valid {
			return v.Float64
		}
	case *sql.NullBool:
		if v.Valid {
			return v.Bool
		}
	case *sql.NullTime:
		if v.Valid {
			return v.Time.UTC().Format(schema.DateLayout)
		}
	case *sql.NullString:
		if v.Valid {
			return v.String
		}
	}
	return nil
}

func scanRows(e *schema.Entity, rows *sql.Rows) ([]models.Row, error) {
	var out []models.Row
	for rows.Next() {
		dest := make([]any, len(e.Fields))
		for i, f := range e.Fields {
			dest[i] = scanTarget(f)
		}
		if err := rows.Scan(dest...); err != nil {
			return nil, fmt.Errorf("failed to scan %s row: %w", e.Name, err)
		}
		row := make(models.Row, len(e.Fields))
		for i, f := range e.Fields {
			row[f.Name] = canonical(dest[i])
		}
		out = append(out, row)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating %s rows: %w", e.Name, mapError(err))
	}
	return out, nil
}

// bindValue converts canonical date strings so the driver sends a DATE
func bindValue(f *schema.Field, v any) any {
	if s, ok := v.(string); ok && f.Type == schema.TypeDate {
		if t, err := time.Parse(schema.DateLayout, s); err == nil {
			return t
		}
	}
	return v
}

// mapError translates Postgres error codes into store error kinds
func mapError(err error) error {
	var pqErr *pq.Error
	if !errors.As(err, &pqErr) {
		return err
	}
	switch pqErr.Code {
	case "23505":
		if pqErr.Constraint == "uq_action_logs_rolls_back" {
			return fmt.Errorf("%w: %s", repositories.ErrDuplicateRollback, pqErr.Message)
		}
		return fmt.Errorf("%w: %s", repositories.ErrUniqueViolation, pqErr.Message)
	case "23503":
		return fmt.Errorf("%w: %s", repositories.ErrForeignKey, pqErr.Message)
	case "23502":
		return fmt.Errorf("%w: %s", repositories.ErrNotNull, pqErr.Message)
	case "40001", "40P01":
		return fmt.Errorf("%w: %s", repositories.ErrSerialization, pqErr.Message)
	}
	return err
}
