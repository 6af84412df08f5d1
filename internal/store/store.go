// Package store provides the attendance.Ledger backends.
package store

import (
	"context"
	"fmt"

	"github.com/andresmejia3/securiface/internal/attendance"
	"github.com/andresmejia3/securiface/internal/logger"
)

const (
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
	DriverRedis    = "redis"
	DriverMemory   = "memory"
)

// Open connects to the ledger backend named by driver.
func Open(ctx context.Context, driver, dsn string) (attendance.Ledger, error) {
	var (
		l   attendance.Ledger
		err error
	)
	switch driver {
	case DriverSQLite:
		l, err = NewSQLite(ctx, dsn)
	case DriverPostgres:
		l, err = NewPostgres(ctx, dsn)
	case DriverRedis:
		l, err = NewRedis(ctx, dsn)
	case DriverMemory:
		l = attendance.NewMemoryLedger()
	default:
		return nil, fmt.Errorf("unknown store driver %q", driver)
	}
	if err != nil {
		return nil, err
	}
	logger.Debug("attendance ledger opened", logger.LoggerOptions{Key: "driver", Data: driver})
	return l, nil
}
