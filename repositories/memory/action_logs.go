package memory

import (
	"context"
	"fmt"
	"sort"

	"github.com/campusiq/opsgovernor/models"
	"github.com/campusiq/opsgovernor/repositories"
	"github.com/google/uuid"
)

// ActionLogRepository implements repositories.ActionLogRepository on a DB
type ActionLogRepository struct {
	db *DB
}

// NewActionLogRepository creates a ledger store on db
func NewActionLogRepository(db *DB) *ActionLogRepository {
	return &ActionLogRepository{db: db}
}

// Insert appends an ActionLog. At most one ROLLED_BACK entry may link to a
// given original.
func (r *ActionLogRepository) Insert(ctx context.Context, log *models.ActionLog) error {
	return r.db.update(ctx, func(d *dataset) error {
		for _, existing := range d.logs {
			if existing.ID == log.ID {
				return fmt.Errorf("%w: action log %s", repositories.ErrUniqueViolation, log.ID)
			}
			if log.Outcome == models.OutcomeRolledBack && log.RollsBack != nil &&
				existing.Outcome == models.OutcomeRolledBack && existing.RollsBack != nil &&
				*existing.RollsBack == *log.RollsBack {
				return fmt.Errorf("%w: %s", repositories.ErrDuplicateRollback, *log.RollsBack)
			}
		}
		stored := *log
		d.logs = append(d.logs, &stored)
		return nil
	})
}

// GetByID retrieves an ActionLog by ID
func (r *ActionLogRepository) GetByID(ctx context.Context, id uuid.UUID) (*models.ActionLog, error) {
	var found *models.ActionLog
	err := r.db.view(ctx, func(d *dataset) error {
		for _, l := range d.logs {
			if l.ID == id {
				c := *l
				found = &c
				return nil
			}
		}
		return fmt.Errorf("%w: action log %s", repositories.ErrNotFound, id)
	})
	return found, err
}

// FindRollbackOf returns the ROLLED_BACK entry linked to id, or nil
func (r *ActionLogRepository) FindRollbackOf(ctx context.Context, id uuid.UUID) (*models.ActionLog, error) {
	var found *models.ActionLog
	err := r.db.view(ctx, func(d *dataset) error {
		for _, l := range d.logs {
			if l.Outcome == models.OutcomeRolledBack && l.RollsBack != nil && *l.RollsBack == id {
				c := *l
				found = &c
				return nil
			}
		}
		return nil
	})
	return found, err
}

func (r *ActionLogRepository) filtered(d *dataset, f models.ActionLogFilter) []*models.ActionLog {
	var out []*models.ActionLog
	for _, l := range d.logs {
		if f.Actor != "" && l.Actor != f.Actor {
			continue
		}
		if f.Entity != "" && l.Entity != f.Entity {
			continue
		}
		if f.Outcome != "" && l.Outcome != f.Outcome {
			continue
		}
		if f.From != nil && l.CreatedAt.Before(*f.From) {
			continue
		}
		if f.To != nil && !l.CreatedAt.Before(*f.To) {
			continue
		}
		out = append(out, l)
	}
	return out
}

// Query returns a page of entries, newest first
func (r *ActionLogRepository) Query(ctx context.Context, filter models.ActionLogFilter) ([]*models.ActionLog, int64, error) {
	var page []*models.ActionLog
	var total int64
	err := r.db.view(ctx, func(d *dataset) error {
		all := r.filtered(d, filter)
		total = int64(len(all))
		// Stable on insertion order, reversed so later appends come first on ties.
		for i, j := 0, len(all)-1; i < j; i, j = i+1, j-1 {
			all[i], all[j] = all[j], all[i]
		}
		sort.SliceStable(all, func(i, j int) bool {
			return all[i].CreatedAt.After(all[j].CreatedAt)
		})
		start := filter.Offset
		if start > len(all) {
			start = len(all)
		}
		end := len(all)
		if filter.Limit > 0 && start+filter.Limit < end {
			end = start + filter.Limit
		}
		for _, l := range all[start:end] {
			c := *l
			page = append(page, &c)
		}
		return nil
	})
	return page, total, err
}

// Stats counts matching entries by outcome and risk tier
func (r *ActionLogRepository) Stats(ctx context.Context, filter models.ActionLogFilter) (*models.OpsStats, error) {
	stats := &models.OpsStats{
		ByOutcome: make(map[models.Outcome]int64),
		ByRisk:    make(map[models.RiskTier]int64),
	}
	err := r.db.view(ctx, func(d *dataset) error {
		for _, l := range r.filtered(d, filter) {
			stats.Total++
			stats.ByOutcome[l.Outcome]++
			if l.Risk != nil {
				stats.ByRisk[l.Risk.Tier]++
			}
		}
		return nil
	})
	return stats, err
}
