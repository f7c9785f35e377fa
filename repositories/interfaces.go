package repositories

import (
	"context"

	"github.com/campusiq/opsgovernor/models"
	"github.com/google/uuid"
)

// TransactionManager manages database transactions
type TransactionManager interface {
	// Begin starts a new transaction. The returned transaction's Context
	// carries it, so repository calls made with that context join it.
	Begin(ctx context.Context) (Transaction, error)

	// InTransaction executes a function within a transaction
	// Automatically commits if function succeeds, rolls back on error
	InTransaction(ctx context.Context, fn func(ctx context.Context, tx Transaction) error) error
}

// Transaction represents a database transaction
type Transaction interface {
	// Commit commits the transaction
	Commit() error

	// Rollback rolls back the transaction
	Rollback() error

	// Context returns the transaction context
	Context() context.Context
}

// RecordStore is predicate-based access to governed entities. Every method
// joins the transaction carried by ctx when there is one. Count, Select,
// Update and Delete evaluate filters identically so an estimate and the
// mutation that follows agree.
type RecordStore interface {
	// Count returns the number of rows matching filters
	Count(ctx context.Context, entity string, filters []models.Filter) (int64, error)

	// Select returns up to limit matching rows ordered by id. limit <= 0 means no bound.
	Select(ctx context.Context, entity string, filters []models.Filter, limit int) ([]models.Row, error)

	// Aggregate summarises numeric fields over the matching rows
	Aggregate(ctx context.Context, entity string, filters []models.Filter, fields []string) (map[string]models.FieldStats, error)

	// Insert stores a row and returns its id. A row carrying an id keeps it.
	Insert(ctx context.Context, entity string, row models.Row) (int64, error)

	// Update assigns values to every matching row and returns how many changed
	Update(ctx context.Context, entity string, filters []models.Filter, values map[string]any) (int64, error)

	// Delete removes every matching row and returns how many were removed
	Delete(ctx context.Context, entity string, filters []models.Filter) (int64, error)
}

// ActionLogRepository is the append-only ledger store. There is deliberately
// no update or delete.
type ActionLogRepository interface {
	// Insert appends an ActionLog
	Insert(ctx context.Context, log *models.ActionLog) error

	// GetByID retrieves an ActionLog by ID
	GetByID(ctx context.Context, id uuid.UUID) (*models.ActionLog, error)

	// FindRollbackOf returns the ROLLED_BACK entry linked to id, or nil
	FindRollbackOf(ctx context.Context, id uuid.UUID) (*models.ActionLog, error)

	// Query returns a page of entries, newest first, and the total match count
	Query(ctx context.Context, filter models.ActionLogFilter) ([]*models.ActionLog, int64, error)

	// Stats counts matching entries by outcome and risk tier
	Stats(ctx context.Context, filter models.ActionLogFilter) (*models.OpsStats, error)
}

// Repositories holds all repository instances
type Repositories struct {
	Records    RecordStore
	ActionLogs ActionLogRepository
}
