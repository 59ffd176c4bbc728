package storeutil

import (
	"context"
	"database/sql"
)

// TxOptions allows the caller of WithTx to control various options to the transaction.
type TxOptions func(o *sql.TxOptions) *sql.TxOptions

// TxWithIsolation tells the DB driver the isolation level of the transaction.
func TxWithIsolation(level sql.IsolationLevel) TxOptions {
	return func(o *sql.TxOptions) *sql.TxOptions {
		o.Isolation = level
		return o
	}
}

// WithTx runs the provided closure in a transaction. The transaction is
// committed if the closure returns no error, and rolled back otherwise.
func WithTx(ctx context.Context, db *sql.DB, f func(*sql.Tx) error, opts ...TxOptions) (err error) {
	o := &sql.TxOptions{Isolation: sql.LevelReadCommitted}
	for _, opt := range opts {
		o = opt(o)
	}
	txn, err := db.BeginTx(ctx, o)
	if err != nil {
		return err
	}
	defer func() {
		if r := recover(); r != nil {
			_ = txn.Rollback()
			panic(r)
		}
		if err != nil {
			// intentionally ignore the error to avoid shadowing the
			// real error causing the rollback.
			_ = txn.Rollback()
		} else {
			err = txn.Commit()
		}
	}()
	err = f(txn)
	return
}
