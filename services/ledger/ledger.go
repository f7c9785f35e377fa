// Package ledger records every pipeline outcome as an immutable ActionLog
// and derives compensating plans for rollback.
package ledger

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"

	"github.com/campusiq/opsgovernor/internal/schema"
	"github.com/campusiq/opsgovernor/models"
	"github.com/campusiq/opsgovernor/repositories"
	"github.com/campusiq/opsgovernor/services"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

const (
	DefaultQueryLimit = 50
	MaxQueryLimit     = 500
)

// Ledger is the append-only audit trail
type Ledger struct {
	repo     repositories.ActionLogRepository
	store    repositories.RecordStore
	registry *schema.Registry
	logger   *zap.Logger
	failures atomic.Int64
}

// NewLedger creates a new ledger. store is consulted when deciding whether
// created rows can be removed again.
func NewLedger(repo repositories.ActionLogRepository, store repositories.RecordStore, registry *schema.Registry, logger *zap.Logger) *Ledger {
	return &Ledger{
		repo:     repo,
		store:    store,
		registry: registry,
		logger:   logger,
	}
}

// Record appends log in the transaction carried by ctx. A write failure is
// fatal for the enclosing mutation and raises the ledger alarm.
func (l *Ledger) Record(ctx context.Context, log *models.ActionLog) (*models.ActionLog, error) {
	models.Mark(&log.Stages.Recorded)
	if err := l.repo.Insert(ctx, log); err != nil {
		if errors.Is(err, repositories.ErrDuplicateRollback) {
			return nil, services.NewDomainError(services.ErrorTypeRollbackFailure, "action has already been rolled back", err)
		}
		n := l.failures.Add(1)
		l.logger.DPanic("audit ledger write failed",
			zap.String("action_log_id", log.ID.String()),
			zap.String("outcome", string(log.Outcome)),
			zap.Int64("ledger_failures", n),
			zap.Error(err))
		return nil, services.NewDomainError(services.ErrorTypeLedgerWriteFailure, "audit ledger write failed", err)
	}

	l.logger.Info("action recorded",
		zap.String("action_log_id", log.ID.String()),
		zap.String("actor", log.Actor),
		zap.String("entity", log.Entity),
		zap.String("operation", string(log.Operation)),
		zap.String("outcome", string(log.Outcome)),
		zap.Int64("affected", log.AffectedCount))
	return log, nil
}

// Failures returns how many ledger writes have failed since start. Any
// failure makes the process unready.
func (l *Ledger) Failures() int64 {
	return l.failures.Load()
}

// Get returns one entry
func (l *Ledger) Get(ctx context.Context, id uuid.UUID) (*models.ActionLog, error) {
	log, err := l.repo.GetByID(ctx, id)
	if err != nil {
		if errors.Is(err, repositories.ErrNotFound) {
			return nil, services.ErrActionLogNotFound
		}
		return nil, services.WrapInternal("failed to load action log", err)
	}
	return log, nil
}

// NormalizeFilter applies the default page size and caps it
func NormalizeFilter(f models.ActionLogFilter) (models.ActionLogFilter, error) {
	if f.Limit < 0 || f.Offset < 0 {
		return f, services.NewDomainError(services.ErrorTypeValidation, "limit and offset must not be negative", nil)
	}
	if f.Limit == 0 {
		f.Limit = DefaultQueryLimit
	}
	if f.Limit > MaxQueryLimit {
		f.Limit = MaxQueryLimit
	}
	if f.From != nil && f.To != nil && !f.From.Before(*f.To) {
		return f, services.NewDomainError(services.ErrorTypeValidation, "from must be before to", nil)
	}
	return f, nil
}

// Query returns a page of entries, newest first
func (l *Ledger) Query(ctx context.Context, filter models.ActionLogFilter) (*models.ActionLogPage, error) {
	filter, err := NormalizeFilter(filter)
	if err != nil {
		return nil, err
	}
	logs, total, err := l.repo.Query(ctx, filter)
	if err != nil {
		return nil, services.WrapInternal("failed to query action logs", err)
	}

	page := &models.ActionLogPage{
		Items:  make([]models.ActionLogSummary, 0, len(logs)),
		Total:  total,
		Limit:  filter.Limit,
		Offset: filter.Offset,
	}
	for _, log := range logs {
		page.Items = append(page.Items, log.Summary())
	}
	return page, nil
}

// Stats counts entries by outcome and risk tier
func (l *Ledger) Stats(ctx context.Context, filter models.ActionLogFilter) (*models.OpsStats, error) {
	stats, err := l.repo.Stats(ctx, filter)
	if err != nil {
		return nil, services.WrapInternal("failed to compute ledger stats", err)
	}
	return stats, nil
}

func rollbackFailure(msg string) error {
	return services.NewDomainError(services.ErrorTypeRollbackFailure, msg, nil)
}

// Inverse builds the compensating plan for a committed mutation on behalf of
// requester. The plan restores exact row images: an UPDATE is undone by
// writing back the changed fields, a DELETE by re-inserting the rows with
// their ids, a CREATE by deleting the created ids.
func (l *Ledger) Inverse(ctx context.Context, original *models.ActionLog, requester models.Identity) (*models.Plan, error) {
	if original.IsRollback() || original.Outcome == models.OutcomeRolledBack {
		return nil, rollbackFailure("a rollback cannot itself be rolled back")
	}
	if original.Outcome != models.OutcomeCommitted {
		return nil, rollbackFailure(fmt.Sprintf("only committed actions can be rolled back, this one is %s", original.Outcome))
	}
	if !original.Operation.IsMutation() {
		return nil, rollbackFailure(fmt.Sprintf("%s does not change records", original.Operation))
	}
	if original.Plan == nil {
		return nil, rollbackFailure("action log carries no plan")
	}
	entity, ok := l.registry.Resolve(original.Entity)
	if !ok {
		return nil, rollbackFailure("unknown entity " + original.Entity)
	}

	existing, err := l.repo.FindRollbackOf(ctx, original.ID)
	if err != nil {
		return nil, services.WrapInternal("failed to check rollback state", err)
	}
	if existing != nil {
		return nil, services.NewDomainError(services.ErrorTypeRollbackFailure, "action has already been rolled back", nil).
			WithDetail("rolledBackBy", existing.ID.String())
	}

	inverse := models.NewPlan(fmt.Sprintf("rollback of %s", original.ID), original.Plan.Module, requester)
	inverse.Entity = entity.Name

	switch original.Operation {
	case models.OpUpdate:
		if len(original.Before) == 0 {
			return nil, rollbackFailure("the update changed no records")
		}
		changed := original.Plan.ChangedFields()
		for _, r := range original.Before {
			row := models.Row{"id": r["id"]}
			for _, f := range changed {
				row[f] = r[f]
			}
			restored, err := entity.CoerceRow(row)
			if err != nil {
				return nil, services.NewDomainError(services.ErrorTypeRollbackFailure, "before snapshot is unusable", err)
			}
			inverse.Restore = append(inverse.Restore, restored)
		}
		inverse.Operation = models.OpUpdate
		inverse.Filters = []models.Filter{idFilter(inverse.Restore)}

	case models.OpDelete:
		if len(original.Before) == 0 {
			return nil, rollbackFailure("the delete removed no records")
		}
		for _, r := range original.Before {
			restored, err := entity.CoerceRow(r)
			if err != nil {
				return nil, services.NewDomainError(services.ErrorTypeRollbackFailure, "before snapshot is unusable", err)
			}
			inverse.Restore = append(inverse.Restore, restored)
		}
		inverse.Operation = models.OpCreate

	case models.OpCreate:
		if len(original.After) == 0 {
			return nil, rollbackFailure("the create left no records")
		}
		created := make([]models.Row, 0, len(original.After))
		for _, r := range original.After {
			row, err := entity.CoerceRow(models.Row{"id": r["id"]})
			if err != nil {
				return nil, services.NewDomainError(services.ErrorTypeRollbackFailure, "after snapshot is unusable", err)
			}
			created = append(created, row)
		}
		ids := idFilter(created)
		for _, ref := range l.registry.ReferencedBy(entity.Name) {
			n, err := l.store.Count(ctx, ref.Entity, []models.Filter{{Field: ref.Field, Operator: models.OpIn, Value: ids.Value}})
			if err != nil {
				return nil, services.WrapInternal("failed to check references", err)
			}
			if n > 0 {
				return nil, services.NewDomainError(services.ErrorTypeRollbackFailure,
					fmt.Sprintf("created %s records are referenced by %d %s records", entity.Name, n, ref.Entity), nil)
			}
		}
		inverse.Operation = models.OpDelete
		inverse.Filters = []models.Filter{ids}
	}

	return inverse, nil
}

func idFilter(rows []models.Row) models.Filter {
	ids := make([]any, 0, len(rows))
	for _, r := range rows {
		if id, ok := r.ID(); ok {
			ids = append(ids, id)
		}
	}
	return models.Filter{Field: "id", Operator: models.OpIn, Value: ids}
}
