package database

import (
	"context"
	"errors"
	"time"

	"github.com/cenkalti/backoff/v5"
	mysqldriver "github.com/go-sql-driver/mysql"
	"github.com/jackc/pgx/v5/pgconn"
	"gorm.io/gorm"
)

// MySQL and Postgres codes for lock contention that abort the transaction and leave
// nothing committed.
const (
	mysqlDeadlock        = 1213
	mysqlLockWaitTimeout = 1205

	pgDeadlock             = "40P01"
	pgSerializationFailure = "40001"
	pgLockNotAvailable     = "55P03"
)

// IsTransient reports whether err is lock contention that is safe to retry from scratch.
func IsTransient(err error) bool {
	var myErr *mysqldriver.MySQLError
	if errors.As(err, &myErr) {
		return myErr.Number == mysqlDeadlock || myErr.Number == mysqlLockWaitTimeout
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case pgDeadlock, pgSerializationFailure, pgLockNotAvailable:
			return true
		}
	}
	return false
}

// Transaction runs fn inside one database transaction. When the store aborts it with a
// deadlock or lock timeout the whole unit of work is retried, up to attempts times in
// total, with a short exponential backoff. fn must not keep state across calls.
func Transaction(ctx context.Context, db *gorm.DB, attempts int, fn func(tx *gorm.DB) error) error {
	if attempts < 1 {
		attempts = 1
	}

	policy := backoff.NewExponentialBackOff()
	policy.InitialInterval = 20 * time.Millisecond
	policy.MaxInterval = 250 * time.Millisecond

	_, err := backoff.Retry(ctx, func() (struct{}, error) {
		err := db.WithContext(ctx).Transaction(fn)
		if err != nil && !IsTransient(err) {
			return struct{}{}, backoff.Permanent(err)
		}
		return struct{}{}, err
	}, backoff.WithBackOff(policy), backoff.WithMaxTries(uint(attempts)))

	return err
}
