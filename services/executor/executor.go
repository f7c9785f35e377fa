// Package executor applies an authorized plan to the record store. It runs
// inside the caller's transaction, taken from the context, and captures row
// images before and after every mutation.
package executor

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/campusiq/opsgovernor/internal/schema"
	"github.com/campusiq/opsgovernor/models"
	"github.com/campusiq/opsgovernor/repositories"
	"github.com/campusiq/opsgovernor/services"
	"go.uber.org/zap"
)

// Config bounds what the executor will read and mutate
type Config struct {
	MaxPreviewRows  int
	MaxSnapshotRows int
	DriftTolerance  int64
	StoreTimeout    time.Duration
}

// DefaultConfig returns the default executor bounds
func DefaultConfig() Config {
	return Config{
		MaxPreviewRows:  50,
		MaxSnapshotRows: 500,
		DriftTolerance:  0,
		StoreTimeout:    5 * time.Second,
	}
}

// Result is the outcome of executing a plan
type Result struct {
	AffectedCount int64
	Before        []models.Row
	After         []models.Row
	Preview       []models.Row
	Aggregates    map[string]models.FieldStats
}

// Executor runs plans against a RecordStore
type Executor struct {
	store    repositories.RecordStore
	registry *schema.Registry
	config   Config
	logger   *zap.Logger
}

// NewExecutor creates a new executor
func NewExecutor(store repositories.RecordStore, registry *schema.Registry, config Config, logger *zap.Logger) *Executor {
	return &Executor{
		store:    store,
		registry: registry,
		config:   config,
		logger:   logger,
	}
}

// Execute runs the plan. estimate is the risk classifier's affected count;
// a snapshot that differs from it by more than the drift tolerance means the
// data changed since assessment and nothing is mutated.
func (e *Executor) Execute(ctx context.Context, plan *models.Plan, estimate int64) (*Result, error) {
	entity, ok := e.registry.Resolve(plan.Entity)
	if !ok {
		return nil, services.NewDomainError(services.ErrorTypeExecutionFailure, "unknown entity "+plan.Entity, nil)
	}

	if e.config.StoreTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, e.config.StoreTimeout)
		defer cancel()
	}

	var (
		result *Result
		err    error
	)
	switch plan.Operation {
	case models.OpRead:
		result, err = e.read(ctx, entity, plan)
	case models.OpAnalyze:
		result, err = e.analyze(ctx, entity, plan)
	case models.OpUpdate:
		if len(plan.Restore) > 0 {
			result, err = e.restoreUpdate(ctx, entity, plan, estimate)
		} else {
			result, err = e.update(ctx, entity, plan, estimate)
		}
	case models.OpDelete:
		result, err = e.delete(ctx, entity, plan, estimate)
	case models.OpCreate:
		result, err = e.create(ctx, entity, plan)
	default:
		err = services.NewDomainError(services.ErrorTypeExecutionFailure, fmt.Sprintf("unsupported operation %q", plan.Operation), nil)
	}
	if err != nil {
		return nil, err
	}

	e.logger.Debug("plan executed",
		zap.String("plan_id", plan.ID.String()),
		zap.String("operation", string(plan.Operation)),
		zap.String("entity", entity.Name),
		zap.Int64("affected", result.AffectedCount))
	return result, nil
}

func (e *Executor) read(ctx context.Context, entity *schema.Entity, plan *models.Plan) (*Result, error) {
	n, err := e.store.Count(ctx, entity.Name, plan.Filters)
	if err != nil {
		return nil, storeError("count", err)
	}
	rows, err := e.store.Select(ctx, entity.Name, plan.Filters, e.config.MaxPreviewRows)
	if err != nil {
		return nil, storeError("select", err)
	}
	return &Result{AffectedCount: n, Preview: rows}, nil
}

func (e *Executor) analyze(ctx context.Context, entity *schema.Entity, plan *models.Plan) (*Result, error) {
	n, err := e.store.Count(ctx, entity.Name, plan.Filters)
	if err != nil {
		return nil, storeError("count", err)
	}
	aggs, err := e.store.Aggregate(ctx, entity.Name, plan.Filters, entity.NumericFields())
	if err != nil {
		return nil, storeError("aggregate", err)
	}
	return &Result{AffectedCount: n, Aggregates: aggs}, nil
}

// snapshot captures the rows a mutation will touch and checks them against
// the estimate
func (e *Executor) snapshot(ctx context.Context, entity *schema.Entity, filters []models.Filter, estimate int64) ([]models.Row, error) {
	limit := e.config.MaxSnapshotRows
	if limit > 0 {
		limit++
	}
	rows, err := e.store.Select(ctx, entity.Name, filters, limit)
	if err != nil {
		return nil, storeError("snapshot", err)
	}
	if e.config.MaxSnapshotRows > 0 && len(rows) > e.config.MaxSnapshotRows {
		return nil, services.NewDomainError(services.ErrorTypeExecutionFailure,
			fmt.Sprintf("more than %d %s records match; refusing a mutation that could not be rolled back", e.config.MaxSnapshotRows, entity.Name), nil)
	}
	if drift := int64(len(rows)) - estimate; drift > e.config.DriftTolerance || -drift > e.config.DriftTolerance {
		return nil, services.NewDomainError(services.ErrorTypeConcurrentModification,
			fmt.Sprintf("estimated %d records but %d match now", estimate, len(rows)), nil).
			WithDetail("estimated", estimate).
			WithDetail("actual", len(rows))
	}
	return rows, nil
}

func idsOf(rows []models.Row) []any {
	ids := make([]any, 0, len(rows))
	for _, r := range rows {
		if id, ok := r.ID(); ok {
			ids = append(ids, id)
		}
	}
	return ids
}

// pinned restricts filters to exactly the snapshot rows
func pinned(filters []models.Filter, ids []any) []models.Filter {
	out := make([]models.Filter, 0, len(filters)+1)
	out = append(out, filters...)
	return append(out, models.Filter{Field: "id", Operator: models.OpIn, Value: ids})
}

func mismatch(want, got int64) error {
	return services.NewDomainError(services.ErrorTypeConcurrentModification,
		fmt.Sprintf("expected to change %d records but changed %d", want, got), nil)
}

func (e *Executor) update(ctx context.Context, entity *schema.Entity, plan *models.Plan, estimate int64) (*Result, error) {
	before, err := e.snapshot(ctx, entity, plan.Filters, estimate)
	if err != nil {
		return nil, err
	}
	if len(before) == 0 {
		return &Result{}, nil
	}
	ids := idsOf(before)

	n, err := e.store.Update(ctx, entity.Name, pinned(plan.Filters, ids), plan.Values)
	if err != nil {
		return nil, storeError("update", err)
	}
	if n != int64(len(before)) {
		return nil, mismatch(int64(len(before)), n)
	}

	after, err := e.store.Select(ctx, entity.Name, pinned(nil, ids), 0)
	if err != nil {
		return nil, storeError("re-select", err)
	}
	return &Result{AffectedCount: n, Before: before, After: after}, nil
}

// restoreUpdate writes each Restore row back by id
func (e *Executor) restoreUpdate(ctx context.Context, entity *schema.Entity, plan *models.Plan, estimate int64) (*Result, error) {
	rows, err := coerceRows(entity, plan.Restore)
	if err != nil {
		return nil, err
	}
	before, err := e.snapshot(ctx, entity, plan.Filters, estimate)
	if err != nil {
		return nil, err
	}
	if len(before) != len(rows) {
		return nil, services.NewDomainError(services.ErrorTypeConcurrentModification,
			fmt.Sprintf("%d of %d records to restore no longer exist", len(rows)-len(before), len(rows)), nil)
	}

	for _, r := range rows {
		id, _ := r.ID()
		values := make(map[string]any, len(r))
		for k, v := range r {
			if k != "id" {
				values[k] = v
			}
		}
		if len(values) == 0 {
			continue
		}
		n, err := e.store.Update(ctx, entity.Name, pinned(plan.Filters, []any{id}), values)
		if err != nil {
			return nil, storeError("restore", err)
		}
		if n != 1 {
			return nil, mismatch(1, n)
		}
	}

	after, err := e.store.Select(ctx, entity.Name, pinned(nil, idsOf(rows)), 0)
	if err != nil {
		return nil, storeError("re-select", err)
	}
	return &Result{AffectedCount: int64(len(rows)), Before: before, After: after}, nil
}

func (e *Executor) delete(ctx context.Context, entity *schema.Entity, plan *models.Plan, estimate int64) (*Result, error) {
	before, err := e.snapshot(ctx, entity, plan.Filters, estimate)
	if err != nil {
		return nil, err
	}
	if len(before) == 0 {
		return &Result{}, nil
	}

	n, err := e.store.Delete(ctx, entity.Name, pinned(plan.Filters, idsOf(before)))
	if err != nil {
		return nil, storeError("delete", err)
	}
	if n != int64(len(before)) {
		return nil, mismatch(int64(len(before)), n)
	}
	return &Result{AffectedCount: n, Before: before}, nil
}

func (e *Executor) create(ctx context.Context, entity *schema.Entity, plan *models.Plan) (*Result, error) {
	rows := plan.Restore
	if len(rows) == 0 {
		rows = []models.Row{models.Row(plan.Values)}
	}
	rows, err := coerceRows(entity, rows)
	if err != nil {
		return nil, err
	}

	ids := make([]any, 0, len(rows))
	for _, r := range rows {
		if err := e.checkConstraints(ctx, entity, r); err != nil {
			return nil, err
		}
		id, err := e.store.Insert(ctx, entity.Name, r)
		if err != nil {
			return nil, storeError("insert", err)
		}
		ids = append(ids, id)
	}

	after, err := e.store.Select(ctx, entity.Name, pinned(nil, ids), 0)
	if err != nil {
		return nil, storeError("re-select", err)
	}
	return &Result{AffectedCount: int64(len(ids)), After: after}, nil
}

// checkConstraints rejects duplicates of unique fields and dangling references
// before touching the store
func (e *Executor) checkConstraints(ctx context.Context, entity *schema.Entity, row models.Row) error {
	if id, ok := row.ID(); ok {
		n, err := e.store.Count(ctx, entity.Name, []models.Filter{{Field: "id", Operator: models.OpEq, Value: id}})
		if err != nil {
			return storeError("constraint check", err)
		}
		if n > 0 {
			return constraintError(fmt.Sprintf("%s %d already exists", entity.Name, id))
		}
	}
	for _, f := range entity.Fields {
		v := row[f.Name]
		if v == nil || f.Name == "id" {
			continue
		}
		if f.Unique {
			n, err := e.store.Count(ctx, entity.Name, []models.Filter{{Field: f.Name, Operator: models.OpEq, Value: v}})
			if err != nil {
				return storeError("constraint check", err)
			}
			if n > 0 {
				return constraintError(fmt.Sprintf("%s with %s %v already exists", entity.Name, f.Name, v))
			}
		}
		if f.References != "" {
			n, err := e.store.Count(ctx, f.References, []models.Filter{{Field: "id", Operator: models.OpEq, Value: v}})
			if err != nil {
				return storeError("constraint check", err)
			}
			if n == 0 {
				return constraintError(fmt.Sprintf("%s %v referenced by %s does not exist", f.References, v, f.Name))
			}
		}
	}
	return nil
}

func coerceRows(entity *schema.Entity, rows []models.Row) ([]models.Row, error) {
	out := make([]models.Row, len(rows))
	for i, r := range rows {
		c, err := entity.CoerceRow(r)
		if err != nil {
			return nil, services.NewDomainError(services.ErrorTypeExecutionFailure, "invalid row image", err)
		}
		out[i] = c
	}
	return out, nil
}

func constraintError(msg string) error {
	return services.NewDomainError(services.ErrorTypeConstraintViolation, msg, nil)
}

// storeError maps store failures onto the failure taxonomy
func storeError(op string, err error) error {
	switch {
	case errors.Is(err, repositories.ErrUniqueViolation),
		errors.Is(err, repositories.ErrForeignKey),
		errors.Is(err, repositories.ErrNotNull):
		return services.NewDomainError(services.ErrorTypeConstraintViolation, op+" violates a constraint", err)
	case errors.Is(err, repositories.ErrSerialization):
		return services.NewDomainError(services.ErrorTypeConcurrentModification, op+" conflicted with a concurrent change", err)
	case errors.Is(err, context.DeadlineExceeded):
		return services.NewDomainError(services.ErrorTypeExecutionFailure, op+" timed out", err)
	}
	return services.NewDomainError(services.ErrorTypeExecutionFailure, op+" failed", err)
}
