package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/andresmejia3/securiface/internal/attendance"
	"github.com/andresmejia3/securiface/internal/types"
	"github.com/mattn/go-sqlite3"
	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/sqlitedialect"
)

type attendanceRow struct {
	bun.BaseModel `bun:"table:attendance,alias:a"`

	Name string `bun:"identity_name,notnull"`
	Date string `bun:"date,notnull"`
	Time string `bun:"time,notnull"`
}

// SQLiteLedger keeps attendance in a local SQLite file through bun.
type SQLiteLedger struct {
	db   *bun.DB
	keys *attendance.KeyLock
}

// NewSQLite opens (or creates) the database file at path and migrates the attendance table.
func NewSQLite(ctx context.Context, path string) (*SQLiteLedger, error) {
	rawDb, err := sql.Open("sqlite3", sqliteDSN(path))
	if err != nil {
		return nil, fmt.Errorf("opening sqlite %s: %w", path, err)
	}
	// One writer at a time; the file lock would serialize us anyway.
	rawDb.SetMaxOpenConns(1)

	db := bun.NewDB(rawDb, sqlitedialect.New())
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, sqliteError("open", err)
	}

	if _, err := db.NewCreateTable().Model((*attendanceRow)(nil)).IfNotExists().Exec(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize database schema: %w", err)
	}
	if _, err := db.NewCreateIndex().
		Model((*attendanceRow)(nil)).
		Index("attendance_name_date_idx").
		Column("identity_name", "date").
		IfNotExists().
		Exec(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize database schema: %w", err)
	}

	return &SQLiteLedger{db: db, keys: attendance.NewKeyLock()}, nil
}

// sqliteDSN makes every transaction BEGIN IMMEDIATE so the existence check and the insert
// hold the write lock together, also against other processes on the same file.
func sqliteDSN(path string) string {
	params := "_txlock=immediate&_busy_timeout=5000"
	if strings.Contains(path, "?") {
		return path + "&" + params
	}
	return "file:" + path + "?" + params
}

func (s *SQLiteLedger) RecordIfNew(ctx context.Context, name string, now time.Time) (bool, error) {
	date, clock := attendance.Stamp(now)
	unlock := s.keys.Lock(attendance.Key(name, date))
	defer unlock()

	inserted := false
	err := s.db.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		exists, err := tx.NewSelect().
			Model((*attendanceRow)(nil)).
			Where("identity_name = ?", name).
			Where("date = ?", date).
			Exists(ctx)
		if err != nil || exists {
			return err
		}
		row := &attendanceRow{Name: name, Date: date, Time: clock}
		if _, err := tx.NewInsert().Model(row).Exec(ctx); err != nil {
			return err
		}
		inserted = true
		return nil
	})
	if err != nil {
		return false, sqliteError("record", err)
	}
	return inserted, nil
}

func (s *SQLiteLedger) QueryAll(ctx context.Context) ([]types.AttendanceRecord, error) {
	var rows []attendanceRow
	err := s.db.NewSelect().
		Model(&rows).
		OrderExpr("date DESC, time DESC, rowid DESC").
		Scan(ctx)
	if err != nil {
		return nil, sqliteError("query", err)
	}

	records := make([]types.AttendanceRecord, len(rows))
	for i, r := range rows {
		records[i] = types.AttendanceRecord{Name: r.Name, Date: r.Date, Time: r.Time}
	}
	return records, nil
}

func (s *SQLiteLedger) Reset(ctx context.Context) error {
	_, err := s.db.NewDelete().Model((*attendanceRow)(nil)).Where("1 = 1").Exec(ctx)
	if err != nil {
		return sqliteError("reset", err)
	}
	return nil
}

func (s *SQLiteLedger) Close() error {
	return s.db.Close()
}

func sqliteError(op string, err error) error {
	return &attendance.PersistenceError{Op: op, Fatal: isFatalSQLite(err), Err: err}
}

func isFatalSQLite(err error) bool {
	var se sqlite3.Error
	if !errors.As(err, &se) {
		return false
	}
	switch se.Code {
	case sqlite3.ErrReadonly, sqlite3.ErrFull, sqlite3.ErrIoErr, sqlite3.ErrCorrupt, sqlite3.ErrNotADB:
		return true
	}
	return false
}
