package postgres

import (
	"context"

	"github.com/campusiq/opsgovernor/config"
	"github.com/campusiq/opsgovernor/internal/schema"
	"github.com/campusiq/opsgovernor/repositories"
	"go.uber.org/zap"
)

// RepositoryFactory creates and manages all repositories. The record store
// and the ledger share one pool so a mutation and its ActionLog commit in
// the same transaction.
type RepositoryFactory struct {
	db       *DB
	registry *schema.Registry
	logger   *zap.Logger
}

// NewRepositoryFactory creates a new repository factory
func NewRepositoryFactory(cfg *config.Config, registry *schema.Registry, logger *zap.Logger) (*RepositoryFactory, error) {
	db, err := NewDB(cfg.Database, logger)
	if err != nil {
		return nil, err
	}
	return &RepositoryFactory{db: db, registry: registry, logger: logger}, nil
}

// InitSchema creates the campus tables and the ledger
func (f *RepositoryFactory) InitSchema(ctx context.Context) error {
	return f.db.InitSchema(ctx, f.registry)
}

// NewRepositories creates all repository instances
func (f *RepositoryFactory) NewRepositories() *repositories.Repositories {
	return &repositories.Repositories{
		Records:    NewRecordStore(f.db, f.registry, f.logger),
		ActionLogs: NewActionLogRepository(f.db, f.logger),
	}
}

// GetTransactionManager returns a transaction manager
func (f *RepositoryFactory) GetTransactionManager() repositories.TransactionManager {
	return NewTransactionManager(f.db, f.logger)
}

// GetDB returns the database connection
func (f *RepositoryFactory) GetDB() *DB {
	return f.db
}

// Close closes the database connection
func (f *RepositoryFactory) Close() error {
	return f.db.Close()
}
