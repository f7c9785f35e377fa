// Package memory is an in-process implementation of the governor's stores.
// Transactions are serialized: Begin takes exclusive ownership of the data set
// and works on a staged copy that Commit publishes and Rollback discards.
package memory

import (
	"context"
	"fmt"

	"github.com/campusiq/opsgovernor/internal/schema"
	"github.com/campusiq/opsgovernor/models"
	"github.com/campusiq/opsgovernor/repositories"
	"go.uber.org/zap"
)

type dataset struct {
	tables map[string]map[int64]models.Row
	nextID map[string]int64
	logs   []*models.ActionLog
}

func newDataset() *dataset {
	return &dataset{
		tables: make(map[string]map[int64]models.Row),
		nextID: make(map[string]int64),
	}
}

func (d *dataset) clone() *dataset {
	c := newDataset()
	for name, rows := range d.tables {
		t := make(map[int64]models.Row, len(rows))
		for id, r := range rows {
			t[id] = r.Clone()
		}
		c.tables[name] = t
	}
	for name, id := range d.nextID {
		c.nextID[name] = id
	}
	c.logs = append([]*models.ActionLog(nil), d.logs...)
	return c
}

func (d *dataset) table(name string) map[int64]models.Row {
	t, ok := d.tables[name]
	if !ok {
		t = make(map[int64]models.Row)
		d.tables[name] = t
	}
	return t
}

// DB holds every table and the ledger in one data set so a mutation and its
// audit entry commit together.
type DB struct {
	registry *schema.Registry
	logger   *zap.Logger
	sem      chan struct{}
	data     *dataset
}

// NewDB creates an empty in-memory database for the registry's entities
func NewDB(registry *schema.Registry, logger *zap.Logger) *DB {
	return &DB{
		registry: registry,
		logger:   logger,
		sem:      make(chan struct{}, 1),
		data:     newDataset(),
	}
}

func (db *DB) acquire(ctx context.Context) error {
	select {
	case db.sem <- struct{}{}:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (db *DB) release() {
	<-db.sem
}

// view runs fn against the transaction's staged data when ctx carries one,
// otherwise against the committed data under exclusive access. fn must not
// modify the data set.
func (db *DB) view(ctx context.Context, fn func(d *dataset) error) error {
	if tx, ok := ctx.Value(txKey{}).(*Transaction); ok && tx.db == db {
		if tx.done {
			return fmt.Errorf("transaction already finished")
		}
		return fn(tx.stage)
	}
	if err := db.acquire(ctx); err != nil {
		return err
	}
	defer db.release()
	return fn(db.data)
}

// update is view for writers. Outside a transaction fn works on a copy that
// is published only when fn succeeds.
func (db *DB) update(ctx context.Context, fn func(d *dataset) error) error {
	if tx, ok := ctx.Value(txKey{}).(*Transaction); ok && tx.db == db {
		if tx.done {
			return fmt.Errorf("transaction already finished")
		}
		return fn(tx.stage)
	}
	if err := db.acquire(ctx); err != nil {
		return err
	}
	defer db.release()
	stage := db.data.clone()
	if err := fn(stage); err != nil {
		return err
	}
	db.data = stage
	return nil
}

func (db *DB) entity(name string) (*schema.Entity, error) {
	e, ok := db.registry.Resolve(name)
	if !ok {
		return nil, fmt.Errorf("%w: %s", repositories.ErrUnknownEntity, name)
	}
	return e, nil
}

// Seed inserts rows outside any transaction. It is meant for fixtures and
// the development server.
func (db *DB) Seed(ctx context.Context, entity string, rows ...models.Row) error {
	store := NewRecordStore(db)
	for _, r := range rows {
		if _, err := store.Insert(ctx, entity, r); err != nil {
			return fmt.Errorf("seed %s: %w", entity, err)
		}
	}
	return nil
}

// Repositories returns the store and ledger backed by this database
func (db *DB) Repositories() *repositories.Repositories {
	return &repositories.Repositories{
		Records:    NewRecordStore(db),
		ActionLogs: NewActionLogRepository(db),
	}
}

// HealthCheck always succeeds for the in-memory database
func (db *DB) HealthCheck(ctx context.Context) error {
	return ctx.Err()
}

type txKey struct{}

// TransactionManager hands out serialized transactions on a DB
type TransactionManager struct {
	db *DB
}

// NewTransactionManager creates a transaction manager for db
func NewTransactionManager(db *DB) repositories.TransactionManager {
	return &TransactionManager{db: db}
}

// Begin waits for exclusive access and stages a copy of the data set
func (tm *TransactionManager) Begin(ctx context.Context) (repositories.Transaction, error) {
	if err := tm.db.acquire(ctx); err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	tx := &Transaction{db: tm.db, stage: tm.db.data.clone()}
	tx.ctx = context.WithValue(ctx, txKey{}, tx)
	return tx, nil
}

// InTransaction executes a function within a transaction
func (tm *TransactionManager) InTransaction(ctx context.Context, fn func(ctx context.Context, tx repositories.Transaction) error) error {
	tx, err := tm.Begin(ctx)
	if err != nil {
		return err
	}
	if err := fn(tx.Context(), tx); err != nil {
		_ = tx.Rollback()
		return err
	}
	return tx.Commit()
}

// Transaction is a staged copy of the data set
type Transaction struct {
	db    *DB
	stage *dataset
	ctx   context.Context
	done  bool
}

// Commit publishes the staged data
func (t *Transaction) Commit() error {
	if t.done {
		return fmt.Errorf("transaction already finished")
	}
	t.db.data = t.stage
	t.done = true
	t.db.release()
	return nil
}

// Rollback discards the staged data. Rolling back a finished transaction is a no-op.
func (t *Transaction) Rollback() error {
	if t.done {
		return nil
	}
	t.done = true
	t.db.release()
	return nil
}

// Context returns the transaction context
func (t *Transaction) Context() context.Context {
	return t.ctx
}
