package store

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/andresmejia3/securiface/internal/attendance"
	"github.com/andresmejia3/securiface/internal/types"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgresLedger keeps attendance in a PostgreSQL table.
type PostgresLedger struct {
	pool *pgxpool.Pool
}

// NewPostgres establishes a connection pool and ensures the schema is initialized.
func NewPostgres(ctx context.Context, connString string) (*PostgresLedger, error) {
	pool, err := pgxpool.New(ctx, connString)
	if err != nil {
		return nil, err
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to reach postgres: %w", err)
	}

	// Initialize schema (Auto-Migration)
	if err := initSchema(ctx, pool); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to initialize database schema: %w", err)
	}

	return &PostgresLedger{pool: pool}, nil
}

// initSchema creates the attendance table if it doesn't exist (Auto-Migration).
// id only orders records that share a timestamp.
func initSchema(ctx context.Context, pool *pgxpool.Pool) error {
	query := `
		CREATE TABLE IF NOT EXISTS attendance (
			id BIGSERIAL PRIMARY KEY,
			identity_name TEXT NOT NULL,
			date TEXT NOT NULL,
			time TEXT NOT NULL
		);
		CREATE INDEX IF NOT EXISTS attendance_name_date_idx ON attendance (identity_name, date);
	`
	_, err := pool.Exec(ctx, query)
	return err
}

// RecordIfNew takes a transaction-scoped advisory lock on the identity-day key, so concurrent
// writers for the same key queue up behind the first one.
func (s *PostgresLedger) RecordIfNew(ctx context.Context, name string, now time.Time) (bool, error) {
	date, clock := attendance.Stamp(now)

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return false, pgError("record", err)
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx, "SELECT pg_advisory_xact_lock(hashtextextended($1::text, 0))", attendance.Key(name, date)); err != nil {
		return false, pgError("record", err)
	}

	tag, err := tx.Exec(ctx, `
		INSERT INTO attendance (identity_name, date, time)
		SELECT $1::text, $2::text, $3::text
		WHERE NOT EXISTS (
			SELECT 1 FROM attendance WHERE identity_name = $1::text AND date = $2::text
		)
	`, name, date, clock)
	if err != nil {
		return false, pgError("record", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return false, pgError("record", err)
	}
	return tag.RowsAffected() == 1, nil
}

func (s *PostgresLedger) QueryAll(ctx context.Context) ([]types.AttendanceRecord, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT identity_name, date, time FROM attendance
		ORDER BY date DESC, time DESC, id DESC
	`)
	if err != nil {
		return nil, pgError("query", err)
	}
	defer rows.Close()

	records, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (types.AttendanceRecord, error) {
		var r types.AttendanceRecord
		err := row.Scan(&r.Name, &r.Date, &r.Time)
		return r, err
	})
	if err != nil {
		return nil, pgError("query", err)
	}
	return records, nil
}

// Reset deletes every attendance record. The table itself is kept.
func (s *PostgresLedger) Reset(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, "DELETE FROM attendance"); err != nil {
		return pgError("reset", err)
	}
	return nil
}

// Close terminates the connection pool.
func (s *PostgresLedger) Close() error {
	s.pool.Close()
	return nil
}

func pgError(op string, err error) error {
	return &attendance.PersistenceError{Op: op, Fatal: isFatalPg(err), Err: err}
}

// isFatalPg reports out-of-resource and read-only failures. Connection errors are retryable.
func isFatalPg(err error) bool {
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) {
		return false
	}
	return strings.HasPrefix(pgErr.Code, "53") || // insufficient resources
		pgErr.Code == "25006" // read only sql transaction
}
