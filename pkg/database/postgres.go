package database

import (
	"context"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"

	"github.com/noah-isme/checkup-export-api/pkg/config"
)

// exportJobsSchema creates the job table used by the export job repository.
const exportJobsSchema = `
CREATE TABLE IF NOT EXISTS export_jobs (
	id            TEXT PRIMARY KEY,
	checkup_id    TEXT NOT NULL,
	params        JSONB NOT NULL,
	status        TEXT NOT NULL,
	stage         TEXT NOT NULL DEFAULT '',
	progress      INTEGER NOT NULL DEFAULT 0,
	manifest      JSONB,
	created_at    TIMESTAMPTZ NOT NULL,
	finished_at   TIMESTAMPTZ,
	error_code    TEXT,
	error_message TEXT
);
CREATE INDEX IF NOT EXISTS export_jobs_status_created_idx ON export_jobs (status, created_at);
CREATE INDEX IF NOT EXISTS export_jobs_checkup_idx ON export_jobs (checkup_id);
`

// DSN renders the lib/pq connection string.
func DSN(cfg config.DatabaseConfig) string {
	return fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		cfg.Host,
		cfg.Port,
		cfg.User,
		cfg.Password,
		cfg.Name,
		cfg.SSLMode,
	)
}

// NewPostgres returns a configured PostgreSQL client.
func NewPostgres(ctx context.Context, cfg config.DatabaseConfig) (*sqlx.DB, error) {
	db, err := sqlx.Open("postgres", DSN(cfg))
	if err != nil {
		return nil, err
	}

	if cfg.MaxOpenConns > 0 {
		db.SetMaxOpenConns(cfg.MaxOpenConns)
	}
	if cfg.MaxIdleConns > 0 {
		db.SetMaxIdleConns(cfg.MaxIdleConns)
	}

	db.SetConnMaxLifetime(1 * time.Hour)
	db.SetConnMaxIdleTime(30 * time.Minute)

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}

	return db, nil
}

// EnsureSchema creates the export tables when missing.
func EnsureSchema(ctx context.Context, db *sqlx.DB) error {
	if _, err := db.ExecContext(ctx, exportJobsSchema); err != nil {
		return fmt.Errorf("ensure export schema: %w", err)
	}
	return nil
}
