// Package dbx provides tiny DB abstractions shared by repositories:
// a minimal interface (DBTX) implemented by both *sql.DB and *sql.Tx,
// and helpers to run functions inside a transaction.
package dbx

import (
	"context"
	"database/sql"
	"time"
)

// DBTX is the subset of database/sql used by our repos.
// Both *sql.DB and *sql.Tx satisfy this interface.
type DBTX interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// Stamp is the single timestamp shared by every statement of a transaction.
// MS is the millisecond component kept in its own column.
type Stamp struct {
	Time time.Time
	MS   int
}

// NewStamp truncates t to whole seconds and keeps the milliseconds apart.
func NewStamp(t time.Time) Stamp {
	t = t.UTC()
	return Stamp{
		Time: t.Truncate(time.Second),
		MS:   t.Nanosecond() / int(time.Millisecond),
	}
}

// SQL formats the stamp the way timestamp columns and accessDate values store it.
func (s Stamp) SQL() string {
	return s.Time.Format("2006-01-02 15:04:05")
}

// WithTx begins a transaction, runs fn with a transactional handle, and then
// commits on success or rolls back on error/panic. Panics are rethrown.
//
// Typical use:
//
//	err := dbx.WithTx(ctx, db, nil, func(ctx context.Context, tx dbx.DBTX) error {
//	    // use tx instead of db
//	    _, err := tx.ExecContext(ctx, "UPDATE ...")
//	    return err
//	})
func WithTx(ctx context.Context, db *sql.DB, opts *sql.TxOptions, fn func(ctx context.Context, tx DBTX) error) (err error) {
	tx, err := db.BeginTx(ctx, opts)
	if err != nil {
		return err
	}

	defer func() {
		if p := recover(); p != nil {
			_ = tx.Rollback()
			panic(p)
		}
		if err != nil {
			_ = tx.Rollback()
			return
		}
		err = tx.Commit()
	}()

	err = fn(ctx, tx)
	return err
}

// WithStampedTx is WithTx with a Stamp captured once, right after BEGIN.
// A nil now falls back to time.Now.
func WithStampedTx(ctx context.Context, db *sql.DB, opts *sql.TxOptions, now func() time.Time,
	fn func(ctx context.Context, tx DBTX, stamp Stamp) error) error {
	if now == nil {
		now = time.Now
	}
	return WithTx(ctx, db, opts, func(ctx context.Context, tx DBTX) error {
		return fn(ctx, tx, NewStamp(now()))
	})
}
