package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/campusiq/opsgovernor/config"
	"github.com/campusiq/opsgovernor/internal/schema"
	"github.com/lib/pq"
	"go.uber.org/zap"
)

// DB wraps the sql.DB connection pool
type DB struct {
	*sql.DB
	logger *zap.Logger
}

// NewDB creates a new database connection pool
func NewDB(cfg config.DatabaseConfig, logger *zap.Logger) (*DB, error) {
	db, err := sql.Open("postgres", cfg.DSN())
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	db.SetMaxOpenConns(cfg.MaxOpenConns)
	db.SetMaxIdleConns(cfg.MaxIdleConns)
	db.SetConnMaxLifetime(cfg.ConnMaxLifetime)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	logger.Info("database connection established",
		zap.String("connection", cfg.LogString()))

	return &DB{
		DB:     db,
		logger: logger,
	}, nil
}

// Wrap adopts an existing pool, used by tests with sqlmock
func Wrap(db *sql.DB, logger *zap.Logger) *DB {
	return &DB{DB: db, logger: logger}
}

// Close closes the database connection pool
func (db *DB) Close() error {
	db.logger.Info("closing database connection")
	return db.DB.Close()
}

// HealthCheck performs a health check on the database
func (db *DB) HealthCheck(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()

	if err := db.PingContext(ctx); err != nil {
		return fmt.Errorf("database health check failed: %w", err)
	}

	var result int
	if err := db.QueryRowContext(ctx, "SELECT 1").Scan(&result); err != nil {
		return fmt.Errorf("database query check failed: %w", err)
	}

	return nil
}

func sqlType(t schema.FieldType) string {
	switch t {
	case schema.TypeInt:
		return "BIGINT"
	case schema.TypeFloat:
		return "DOUBLE PRECISION"
	case schema.TypeBool:
		return "BOOLEAN"
	case schema.TypeDate:
		return "DATE"
	}
	return "TEXT"
}

// SchemaDDL renders CREATE TABLE statements for every registry entity, in
// registration order so referenced tables come first.
func SchemaDDL(registry *schema.Registry) string {
	var b strings.Builder
	for _, e := range registry.Entities() {
		fmt.Fprintf(&b, "CREATE TABLE IF NOT EXISTS %s (\n", pq.QuoteIdentifier(e.Table))
		cols := []string{"\tid BIGSERIAL PRIMARY KEY"}
		for _, f := range e.Fields {
			if f.Name == "id" {
				continue
			}
			col := fmt.Sprintf("\t%s %s", pq.QuoteIdentifier(f.Name), sqlType(f.Type))
			if f.Required {
				col += " NOT NULL"
			}
			if f.Unique {
				col += " UNIQUE"
			}
			if f.References != "" {
				target, _ := registry.Resolve(f.References)
				col += fmt.Sprintf(" REFERENCES %s(id)", pq.QuoteIdentifier(target.Table))
			}
			cols = append(cols, col)
		}
		b.WriteString(strings.Join(cols, ",\n"))
		b.WriteString("\n);\n")
		if e.ScopeField != "" && e.ScopeField != "id" {
			fmt.Fprintf(&b, "CREATE INDEX IF NOT EXISTS %s ON %s(%s);\n",
				pq.QuoteIdentifier("idx_"+e.Table+"_"+e.ScopeField), pq.QuoteIdentifier(e.Table), pq.QuoteIdentifier(e.ScopeField))
		}
	}
	return b.String()
}

// ledgerDDL creates the append-only action log. Updates and deletes are
// rejected by trigger, and at most one ROLLED_BACK entry may reference a
// given original.
const ledgerDDL = `
	CREATE TABLE IF NOT EXISTS action_logs (
		id UUID PRIMARY KEY,
		plan_id UUID NOT NULL,
		plan JSONB NOT NULL,
		actor VARCHAR(255) NOT NULL,
		actor_role VARCHAR(50) NOT NULL,
		entity VARCHAR(100) NOT NULL,
		operation VARCHAR(20) NOT NULL,
		decision JSONB,
		risk JSONB,
		risk_tier VARCHAR(10),
		outcome VARCHAR(20) NOT NULL,
		failure_type VARCHAR(50),
		reason TEXT,
		affected_count BIGINT NOT NULL DEFAULT 0,
		before_snapshot JSONB,
		after_snapshot JSONB,
		stages JSONB NOT NULL,
		rolls_back UUID REFERENCES action_logs(id),
		created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
	);

	CREATE UNIQUE INDEX IF NOT EXISTS uq_action_logs_rolls_back
		ON action_logs(rolls_back) WHERE outcome = 'ROLLED_BACK';
	CREATE INDEX IF NOT EXISTS idx_action_logs_actor ON action_logs(actor);
	CREATE INDEX IF NOT EXISTS idx_action_logs_entity ON action_logs(entity);
	CREATE INDEX IF NOT EXISTS idx_action_logs_outcome ON action_logs(outcome);
	CREATE INDEX IF NOT EXISTS idx_action_logs_created_at ON action_logs(created_at);

	CREATE OR REPLACE FUNCTION action_logs_append_only() RETURNS trigger AS $$
	BEGIN
		RAISE EXCEPTION 'action_logs is append-only';
	END;
	$$ LANGUAGE plpgsql;

	DROP TRIGGER IF EXISTS trg_action_logs_append_only ON action_logs;
	CREATE TRIGGER trg_action_logs_append_only
		BEFORE UPDATE OR DELETE ON action_logs
		FOR EACH ROW EXECUTE FUNCTION action_logs_append_only();
`

// InitSchema initializes the campus tables and the ledger
func (db *DB) InitSchema(ctx context.Context, registry *schema.Registry) error {
	if _, err := db.ExecContext(ctx, SchemaDDL(registry)); err != nil {
		return fmt.Errorf("failed to initialize schema: %w", err)
	}
	if _, err := db.ExecContext(ctx, ledgerDDL); err != nil {
		return fmt.Errorf("failed to initialize ledger schema: %w", err)
	}

	db.logger.Info("database schema initialized successfully",
		zap.Int("entities", len(registry.Entities())))
	return nil
}
