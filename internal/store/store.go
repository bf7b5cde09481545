// Package store is the persistence layer. One store type per aggregate;
// state-mutating operations that span aggregates run inside InTx.
package store

import (
	"context"
	"database/sql"
	"strings"
	"time"

	"github.com/sethvargo/go-retry"

	"github.com/evankirkwood/hearth/internal/fault"
)

// Querier is satisfied by both *sql.DB and *sql.Tx so store methods can run
// standalone or inside a caller's transaction.
type Querier interface {
	Exec(query string, args ...any) (sql.Result, error)
	Query(query string, args ...any) (*sql.Rows, error)
	QueryRow(query string, args ...any) *sql.Row
}

// InTx runs fn inside an IMMEDIATE transaction. SQLITE_BUSY and
// SQLITE_LOCKED are retried with fibonacci backoff a bounded number of times;
// contention that outlives the retries surfaces as a transient fault.
func InTx(ctx context.Context, db *sql.DB, fn func(tx *sql.Tx) error) error {
	backoff := retry.WithMaxRetries(4, retry.NewFibonacci(25*time.Millisecond))

	err := retry.Do(ctx, backoff, func(ctx context.Context) error {
		tx, err := db.BeginTx(ctx, nil)
		if err != nil {
			return markBusy(err)
		}
		defer tx.Rollback()

		if err := fn(tx); err != nil {
			return markBusy(err)
		}
		return markBusy(tx.Commit())
	})
	if err != nil && isBusy(err) {
		return fault.Transient(fault.CodeStorageContention, err)
	}
	return err
}

func markBusy(err error) error {
	if err == nil {
		return nil
	}
	if isBusy(err) {
		return retry.RetryableError(err)
	}
	return err
}

func isBusy(err error) bool {
	if err == nil {
		return false
	}
	msg := err.Error()
	return strings.Contains(msg, "database is locked") ||
		strings.Contains(msg, "database table is locked") ||
		strings.Contains(msg, "SQLITE_BUSY")
}
