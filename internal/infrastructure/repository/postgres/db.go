package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
)

// schemaLockID serializes bootstrap DDL across api, worker and ragctl startups.
const schemaLockID int64 = 2026021001

func OpenDB(ctx context.Context, dsn string) (*sql.DB, error) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, fmt.Errorf("sql open: %w", err)
	}
	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(10)
	db.SetConnMaxLifetime(30 * time.Minute)

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("db ping: %w", err)
	}
	return db, nil
}

const schemaDDL = `
CREATE TABLE IF NOT EXISTS documents (
	id TEXT PRIMARY KEY,
	title TEXT NOT NULL,
	filename TEXT NOT NULL,
	mime_type TEXT NOT NULL,
	file_type TEXT NOT NULL DEFAULT '',
	language TEXT NOT NULL DEFAULT '',
	storage_path TEXT NOT NULL,
	content_hash TEXT NOT NULL DEFAULT '',
	total_chunks INTEGER NOT NULL DEFAULT 0,
	status TEXT NOT NULL,
	error_message TEXT NOT NULL DEFAULT '',
	created_at TIMESTAMPTZ NOT NULL,
	updated_at TIMESTAMPTZ NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_documents_status ON documents(status);
CREATE INDEX IF NOT EXISTS idx_documents_created_at ON documents(created_at DESC);
CREATE INDEX IF NOT EXISTS idx_documents_content_hash ON documents(content_hash);

CREATE TABLE IF NOT EXISTS feedback (
	id TEXT PRIMARY KEY,
	trace_id TEXT NOT NULL DEFAULT '',
	question TEXT NOT NULL,
	answer TEXT NOT NULL,
	citations JSONB NOT NULL DEFAULT '[]'::jsonb,
	rating TEXT NOT NULL,
	reason TEXT NOT NULL DEFAULT '',
	comment TEXT NOT NULL DEFAULT '',
	client_ip TEXT NOT NULL DEFAULT '',
	created_at TIMESTAMPTZ NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_feedback_created_at ON feedback(created_at DESC);

CREATE TABLE IF NOT EXISTS evaluation_runs (
	id TEXT PRIMARY KEY,
	name TEXT NOT NULL,
	status TEXT NOT NULL,
	total_cases INTEGER NOT NULL,
	completed_cases INTEGER NOT NULL DEFAULT 0,
	failed_cases INTEGER NOT NULL DEFAULT 0,
	config JSONB NOT NULL DEFAULT '{}'::jsonb,
	started_at TIMESTAMPTZ NOT NULL,
	completed_at TIMESTAMPTZ
);

CREATE INDEX IF NOT EXISTS idx_evaluation_runs_started_at ON evaluation_runs(started_at DESC);

CREATE TABLE IF NOT EXISTS evaluation_results (
	id BIGSERIAL PRIMARY KEY,
	run_id TEXT NOT NULL REFERENCES evaluation_runs(id) ON DELETE CASCADE,
	case_index INTEGER NOT NULL,
	case_id TEXT NOT NULL DEFAULT '',
	question TEXT NOT NULL,
	ground_truth TEXT NOT NULL DEFAULT '',
	answer TEXT NOT NULL DEFAULT '',
	contexts JSONB NOT NULL DEFAULT '[]'::jsonb,
	latency_ms BIGINT NOT NULL DEFAULT 0,
	degraded BOOLEAN NOT NULL DEFAULT FALSE,
	error TEXT NOT NULL DEFAULT '',
	UNIQUE (run_id, case_index)
);
`

// EnsureSchema creates the service tables under a transaction-scoped advisory lock.
func EnsureSchema(ctx context.Context, db *sql.DB) error {
	return ExecSchema(ctx, db, schemaDDL)
}

// ExecSchema runs ddl in one transaction holding the shared schema lock.
func ExecSchema(ctx context.Context, db *sql.DB, ddl string) error {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin schema tx: %w", err)
	}
	defer func() {
		_ = tx.Rollback()
	}()

	if _, err := tx.ExecContext(ctx, `SELECT pg_advisory_xact_lock($1)`, schemaLockID); err != nil {
		return fmt.Errorf("acquire schema lock: %w", err)
	}
	if _, err := tx.ExecContext(ctx, ddl); err != nil {
		return fmt.Errorf("execute schema ddl: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit schema tx: %w", err)
	}
	return nil
}

// Checker reports database reachability for readiness probes.
type Checker struct {
	db *sql.DB
}

func NewChecker(db *sql.DB) *Checker {
	return &Checker{db: db}
}

func (c *Checker) Name() string { return "postgres" }

func (c *Checker) Ping(ctx context.Context) error {
	return c.db.PingContext(ctx)
}
