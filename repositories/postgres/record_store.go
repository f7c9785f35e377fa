package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"github.com/campusiq/opsgovernor/internal/schema"
	"github.com/campusiq/opsgovernor/models"
	"github.com/campusiq/opsgovernor/repositories"
	"github.com/lib/pq"
	"go.uber.org/zap"
)

// RecordStore implements repositories.RecordStore on PostgreSQL
type RecordStore struct {
	db       *DB
	registry *schema.Registry
	logger   *zap.Logger
}

// NewRecordStore creates a new record store
func NewRecordStore(db *DB, registry *schema.Registry, logger *zap.Logger) repositories.RecordStore {
	return &RecordStore{
		db:       db,
		registry: registry,
		logger:   logger,
	}
}

func (s *RecordStore) entity(name string) (*schema.Entity, error) {
	e, ok := s.registry.Resolve(name)
	if !ok {
		return nil, fmt.Errorf("%w: %s", repositories.ErrUnknownEntity, name)
	}
	return e, nil
}

// Count returns the number of rows matching filters
func (s *RecordStore) Count(ctx context.Context, entity string, filters []models.Filter) (int64, error) {
	e, err := s.entity(entity)
	if err != nil {
		return 0, err
	}
	var a args
	where, err := whereClause(e, filters, &a)
	if err != nil {
		return 0, err
	}
	query := "SELECT COUNT(*) FROM " + pq.QuoteIdentifier(e.Table) + where

	var n int64
	if err := GetExecutor(ctx, s.db).QueryRowContext(ctx, query, a...).Scan(&n); err != nil {
		return 0, fmt.Errorf("failed to count %s: %w", e.Name, mapError(err))
	}
	return n, nil
}

// Select returns up to limit matching rows ordered by id. Inside a
// transaction the rows are locked until it finishes.
func (s *RecordStore) Select(ctx context.Context, entity string, filters []models.Filter, limit int) ([]models.Row, error) {
	e, err := s.entity(entity)
	if err != nil {
		return nil, err
	}
	var a args
	where, err := whereClause(e, filters, &a)
	if err != nil {
		return nil, err
	}
	query := "SELECT " + columnList(e) + " FROM " + pq.QuoteIdentifier(e.Table) + where + " ORDER BY id"
	if limit > 0 {
		query += " LIMIT " + a.add(limit)
	}
	if _, inTx := GetTransactionFromContext(ctx); inTx {
		query += " FOR UPDATE"
	}

	rows, err := GetExecutor(ctx, s.db).QueryContext(ctx, query, a...)
	if err != nil {
		return nil, fmt.Errorf("failed to select %s: %w", e.Name, mapError(err))
	}
	defer rows.Close()
	return scanRows(e, rows)
}

// Aggregate summarises numeric fields over the matching rows
func (s *RecordStore) Aggregate(ctx context.Context, entity string, filters []models.Filter, fields []string) (map[string]models.FieldStats, error) {
	e, err := s.entity(entity)
	if err != nil {
		return nil, err
	}
	if len(fields) == 0 {
		return map[string]models.FieldStats{}, nil
	}
	names := make([]string, len(fields))
	exprs := make([]string, 0, 4*len(fields))
	for i, name := range fields {
		f, ok := e.Field(name)
		if !ok {
			return nil, fmt.Errorf("entity %s has no field %s", e.Name, name)
		}
		names[i] = f.Name
		col := pq.QuoteIdentifier(f.Name)
		exprs = append(exprs,
			fmt.Sprintf("COUNT(%s)", col),
			fmt.Sprintf("AVG(%s)::double precision", col),
			fmt.Sprintf("MIN(%s)::double precision", col),
			fmt.Sprintf("MAX(%s)::double precision", col))
	}
	var a args
	where, err := whereClause(e, filters, &a)
	if err != nil {
		return nil, err
	}
	query := "SELECT " + strings.Join(exprs, ", ") + " FROM " + pq.QuoteIdentifier(e.Table) + where

	counts := make([]int64, len(fields))
	avgs := make([]sql.NullFloat64, len(fields))
	mins := make([]sql.NullFloat64, len(fields))
	maxs := make([]sql.NullFloat64, len(fields))
	dest := make([]any, 0, 4*len(fields))
	for i := range fields {
		dest = append(dest, &counts[i], &avgs[i], &mins[i], &maxs[i])
	}
	if err := GetExecutor(ctx, s.db).QueryRowContext(ctx, query, a...).Scan(dest...); err != nil {
		return nil, fmt.Errorf("failed to aggregate %s: %w", e.Name, mapError(err))
	}

	out := make(map[string]models.FieldStats, len(fields))
	for i, name := range names {
		out[name] = models.FieldStats{
			Count: counts[i],
			Avg:   floatPtr(avgs[i]),
			Min:   floatPtr(mins[i]),
			Max:   floatPtr(maxs[i]),
		}
	}
	return out, nil
}

func floatPtr(v sql.NullFloat64) *float64 {
	if !v.Valid {
		return nil
	}
	f := v.Float64
	return &f
}

// Insert stores a row and returns its id. An explicit id is written as is.
func (s *RecordStore) Insert(ctx context.Context, entity string, row models.Row) (int64, error) {
	e, err := s.entity(entity)
	if err != nil {
		return 0, err
	}
	var a args
	cols := make([]string, 0, len(row))
	ph := make([]string, 0, len(row))
	for _, f := range e.Fields {
		v, ok := row[f.Name]
		if !ok {
			continue
		}
		cols = append(cols, pq.QuoteIdentifier(f.Name))
		ph = append(ph, a.add(bindValue(f, v)))
	}
	if len(cols) == 0 {
		return 0, fmt.Errorf("insert into %s: no columns", e.Name)
	}
	query := fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s) RETURNING id",
		pq.QuoteIdentifier(e.Table), strings.Join(cols, ", "), strings.Join(ph, ", "))

	var id int64
	if err := GetExecutor(ctx, s.db).QueryRowContext(ctx, query, a...).Scan(&id); err != nil {
		return 0, fmt.Errorf("failed to insert %s: %w", e.Name, mapError(err))
	}

	s.logger.Debug("record inserted", zap.String("entity", e.Name), zap.Int64("id", id))
	return id, nil
}

// Update assigns values to every matching row
func (s *RecordStore) Update(ctx context.Context, entity string, filters []models.Filter, values map[string]any) (int64, error) {
	e, err := s.entity(entity)
	if err != nil {
		return 0, err
	}
	if len(values) == 0 {
		return 0, fmt.Errorf("update %s: no values", e.Name)
	}
	var a args
	sets := make([]string, 0, len(values))
	for _, f := range e.Fields {
		v, ok := values[f.Name]
		if !ok {
			continue
		}
		sets = append(sets, fmt.Sprintf("%s = %s", pq.QuoteIdentifier(f.Name), a.add(bindValue(f, v))))
	}
	if len(sets) != len(values) {
		return 0, fmt.Errorf("update %s: unknown field in values", e.Name)
	}
	where, err := whereClause(e, filters, &a)
	if err != nil {
		return 0, err
	}
	query := "UPDATE " + pq.QuoteIdentifier(e.Table) + " SET " + strings.Join(sets, ", ") + where

	res, err := GetExecutor(ctx, s.db).ExecContext(ctx, query, a...)
	if err != nil {
		return 0, fmt.Errorf("failed to update %s: %w", e.Name, mapError(err))
	}
	return res.RowsAffected()
}

// Delete removes every matching row
func (s *RecordStore) Delete(ctx context.Context, entity string, filters []models.Filter) (int64, error) {
	e, err := s.entity(entity)
	if err != nil {
		return 0, err
	}
	var a args
	where, err := whereClause(e, filters, &a)
	if err != nil {
		return 0, err
	}
	query := "DELETE FROM " + pq.QuoteIdentifier(e.Table) + where

	res, err := GetExecutor(ctx, s.db).ExecContext(ctx, query, a...)
	if err != nil {
		return 0, fmt.Errorf("failed to delete %s: %w", e.Name, mapError(err))
	}
	return res.RowsAffected()
}
