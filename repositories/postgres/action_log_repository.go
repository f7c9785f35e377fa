package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/campusiq/opsgovernor/models"
	"github.com/campusiq/opsgovernor/repositories"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

const actionLogColumns = `id, plan_id, plan, actor, actor_role, entity, operation,
		       decision, risk, outcome, failure_type, reason, affected_count,
		       before_snapshot, after_snapshot, stages, rolls_back, created_at`

// ActionLogRepository implements the repositories.ActionLogRepository interface
type ActionLogRepository struct {
	db     *DB
	logger *zap.Logger
}

// NewActionLogRepository creates a new ledger repository
func NewActionLogRepository(db *DB, logger *zap.Logger) repositories.ActionLogRepository {
	return &ActionLogRepository{
		db:     db,
		logger: logger,
	}
}

// jsonOrNull encodes v, or binds SQL NULL when isNil
func jsonOrNull(v any, isNil bool) (any, error) {
	if isNil {
		return nil, nil
	}
	return json.Marshal(v)
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

// Insert appends an ActionLog. A second ROLLED_BACK entry for the same
// original violates uq_action_logs_rolls_back.
func (r *ActionLogRepository) Insert(ctx context.Context, log *models.ActionLog) error {
	plan, err := json.Marshal(log.Plan)
	if err != nil {
		return fmt.Errorf("failed to encode plan: %w", err)
	}
	decision, err := jsonOrNull(log.Decision, log.Decision == nil)
	if err != nil {
		return fmt.Errorf("failed to encode decision: %w", err)
	}
	risk, err := jsonOrNull(log.Risk, log.Risk == nil)
	if err != nil {
		return fmt.Errorf("failed to encode risk: %w", err)
	}
	before, err := jsonOrNull(log.Before, log.Before == nil)
	if err != nil {
		return fmt.Errorf("failed to encode before snapshot: %w", err)
	}
	after, err := jsonOrNull(log.After, log.After == nil)
	if err != nil {
		return fmt.Errorf("failed to encode after snapshot: %w", err)
	}
	stages, err := json.Marshal(log.Stages)
	if err != nil {
		return fmt.Errorf("failed to encode stages: %w", err)
	}
	var tier sql.NullString
	if log.Risk != nil {
		tier = nullString(string(log.Risk.Tier))
	}

	query := `
		INSERT INTO action_logs (
			id, plan_id, plan, actor, actor_role, entity, operation,
			decision, risk, risk_tier, outcome, failure_type, reason, affected_count,
			before_snapshot, after_snapshot, stages, rolls_back, created_at
		) VALUES (
			$1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, $19
		)
	`

	executor := GetExecutor(ctx, r.db)
	_, err = executor.ExecContext(ctx, query,
		log.ID,
		log.PlanID,
		plan,
		log.Actor,
		string(log.ActorRole),
		log.Entity,
		string(log.Operation),
		decision,
		risk,
		tier,
		string(log.Outcome),
		nullString(log.FailureType),
		nullString(log.Reason),
		log.AffectedCount,
		before,
		after,
		stages,
		log.RollsBack,
		log.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to insert action log: %w", mapError(err))
	}

	r.logger.Debug("action log inserted",
		zap.String("id", log.ID.String()),
		zap.String("outcome", string(log.Outcome)))
	return nil
}

// GetByID retrieves an ActionLog by ID
func (r *ActionLogRepository) GetByID(ctx context.Context, id uuid.UUID) (*models.ActionLog, error) {
	query := `SELECT ` + actionLogColumns + ` FROM action_logs WHERE id = $1`

	log, err := scanActionLog(GetExecutor(ctx, r.db).QueryRowContext(ctx, query, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("%w: action log %s", repositories.ErrNotFound, id)
		}
		return nil, fmt.Errorf("failed to get action log: %w", err)
	}
	return log, nil
}

// FindRollbackOf returns the ROLLED_BACK entry linked to id, or nil
func (r *ActionLogRepository) FindRollbackOf(ctx context.Context, id uuid.UUID) (*models.ActionLog, error) {
	query := `SELECT ` + actionLogColumns + ` FROM action_logs WHERE rolls_back = $1 AND outcome = $2`

	log, err := scanActionLog(GetExecutor(ctx, r.db).QueryRowContext(ctx, query, id, string(models.OutcomeRolledBack)))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to find rollback: %w", err)
	}
	return log, nil
}

// filterClause renders an ActionLogFilter; To is exclusive
func filterClause(f models.ActionLogFilter, a *args) string {
	var conds []string
	if f.Actor != "" {
		conds = append(conds, "actor = "+a.add(f.Actor))
	}
	if f.Entity != "" {
		conds = append(conds, "entity = "+a.add(f.Entity))
	}
	if f.Outcome != "" {
		conds = append(conds, "outcome = "+a.add(string(f.Outcome)))
	}
	if f.From != nil {
		conds = append(conds, "created_at >= "+a.add(*f.From))
	}
	if f.To != nil {
		conds = append(conds, "created_at < "+a.add(*f.To))
	}
	if len(conds) == 0 {
		return ""
	}
	return " WHERE " + strings.Join(conds, " AND ")
}

// Query returns a page of entries, newest first
func (r *ActionLogRepository) Query(ctx context.Context, filter models.ActionLogFilter) ([]*models.ActionLog, int64, error) {
	var a args
	where := filterClause(filter, &a)
	executor := GetExecutor(ctx, r.db)

	var total int64
	if err := executor.QueryRowContext(ctx, "SELECT COUNT(*) FROM action_logs"+where, a...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("failed to count action logs: %w", err)
	}

	query := `SELECT ` + actionLogColumns + ` FROM action_logs` + where + ` ORDER BY created_at DESC, id`
	if filter.Limit > 0 {
		query += " LIMIT " + a.add(filter.Limit)
	}
	if filter.Offset > 0 {
		query += " OFFSET " + a.add(filter.Offset)
	}

	rows, err := executor.QueryContext(ctx, query, a...)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to query action logs: %w", err)
	}
	defer rows.Close()

	var logs []*models.ActionLog
	for rows.Next() {
		log, err := scanActionLog(rows)
		if err != nil {
			return nil, 0, fmt.Errorf("failed to scan action log: %w", err)
		}
		logs = append(logs, log)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("error iterating action logs: %w", err)
	}
	return logs, total, nil
}

// Stats counts matching entries by outcome and risk tier
func (r *ActionLogRepository) Stats(ctx context.Context, filter models.ActionLogFilter) (*models.OpsStats, error) {
	var a args
	where := filterClause(filter, &a)
	query := `SELECT outcome, COALESCE(risk_tier, ''), COUNT(*) FROM action_logs` + where + ` GROUP BY outcome, risk_tier`

	rows, err := GetExecutor(ctx, r.db).QueryContext(ctx, query, a...)
	if err != nil {
		return nil, fmt.Errorf("failed to query action log stats: %w", err)
	}
	defer rows.Close()

	stats := &models.OpsStats{
		ByOutcome: make(map[models.Outcome]int64),
		ByRisk:    make(map[models.RiskTier]int64),
	}
	for rows.Next() {
		var outcome, tier string
		var n int64
		if err := rows.Scan(&outcome, &tier, &n); err != nil {
			return nil, fmt.Errorf("failed to scan action log stats: %w", err)
		}
		stats.Total += n
		stats.ByOutcome[models.Outcome(outcome)] += n
		if tier != "" {
			stats.ByRisk[models.RiskTier(tier)] += n
		}
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating action log stats: %w", err)
	}
	return stats, nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanActionLog(s scanner) (*models.ActionLog, error) {
	log := &models.ActionLog{}
	var (
		plan, decision, risk, before, after, stages []byte
		actorRole, operation, outcome               string
		failureType, reason                         sql.NullString
		rollsBack                                   uuid.NullUUID
	)
	err := s.Scan(
		&log.ID,
		&log.PlanID,
		&plan,
		&log.Actor,
		&actorRole,
		&log.Entity,
		&operation,
		&decision,
		&risk,
		&outcome,
		&failureType,
		&reason,
		&log.AffectedCount,
		&before,
		&after,
		&stages,
		&rollsBack,
		&log.CreatedAt,
	)
	if err != nil {
		return nil, err
	}

	log.ActorRole = models.Role(actorRole)
	log.Operation = models.OpKind(operation)
	log.Outcome = models.Outcome(outcome)
	log.FailureType = failureType.String
	log.Reason = reason.String
	if rollsBack.Valid {
		id := rollsBack.UUID
		log.RollsBack = &id
	}

	for _, field := range []struct {
		raw  []byte
		into any
	}{
		{plan, &log.Plan},
		{decision, &log.Decision},
		{risk, &log.Risk},
		{before, &log.Before},
		{after, &log.After},
		{stages, &log.Stages},
	} {
		if len(field.raw) == 0 {
			continue
		}
		if err := json.Unmarshal(field.raw, field.into); err != nil {
			return nil, fmt.Errorf("failed to decode action log %s: %w", log.ID, err)
		}
	}
	return log, nil
}
