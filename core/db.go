package core

import (
	"context"
	"database/sql"

	"github.com/jmoiron/sqlx"
	"github.com/pkg/errors"
)

const (
	EnginePostgres = "postgres"
	EngineSqlite3  = "sqlite3"
)

type (
	// DBExecutor can run queries: a *sqlx.DB, a *sqlx.Tx or a *Tx.
	DBExecutor interface {
		sqlx.ExtContext
		GetContext(ctx context.Context, dest interface{}, query string, args ...interface{}) error
		SelectContext(ctx context.Context, dest interface{}, query string, args ...interface{}) error
	}

	DB interface {
		DBExecutor

		BeginTxx(ctx context.Context, opts *sql.TxOptions) (*sqlx.Tx, error)
	}

	// Tx is a database transaction that runs its registered hooks once committed.
	Tx struct {
		*sqlx.Tx
		onCommit []func()
	}
)

var (
	_ DB         = (*sqlx.DB)(nil)
	_ DBExecutor = (*Tx)(nil)

	// ReadSnapshot is used for multi-statement reads that must observe a single snapshot.
	ReadSnapshot = &sql.TxOptions{Isolation: sql.LevelRepeatableRead, ReadOnly: true}
)

// OnCommit registers f to be called after the transaction successfully commits.
func (tx *Tx) OnCommit(f func()) {
	tx.onCommit = append(tx.onCommit, f)
}

// AfterCommit defers f until exec commits when exec is a *Tx, otherwise f is called right away.
func AfterCommit(exec DBExecutor, f func()) {
	if tx, ok := exec.(*Tx); ok {
		tx.OnCommit(f)
		return
	}
	f()
}

// RunInTx runs fn inside a transaction.
// The transaction is rolled back if fn returns an error (or panics), committed otherwise.
func RunInTx(ctx context.Context, db DB, fn func(tx *Tx) error, opts ...*sql.TxOptions) (err error) {
	var txOpts *sql.TxOptions
	if len(opts) > 0 {
		txOpts = opts[0]
	}
	if db.DriverName() == EngineSqlite3 && txOpts != nil {
		txOpts = nil // go-sqlite3 ignores isolation levels; transactions are serialized anyway
	}

	sqlTx, err := db.BeginTxx(ctx, txOpts)
	if err != nil {
		return errors.Wrap(err, "beginning transaction")
	}
	tx := &Tx{Tx: sqlTx}

	defer func() {
		if p := recover(); p != nil {
			_ = sqlTx.Rollback()
			panic(p)
		}
	}()

	if err = fn(tx); err != nil {
		if rbErr := sqlTx.Rollback(); rbErr != nil {
			return errors.Wrapf(err, "rolling back transaction: %v", rbErr)
		}
		return err
	}
	if err = sqlTx.Commit(); err != nil {
		return errors.Wrap(err, "committing transaction")
	}

	for _, hook := range tx.onCommit {
		hook()
	}
	return nil
}

type DBOrdering struct {
	Field     string
	Ascending bool
}

func (ord DBOrdering) String() string {
	direction := "DESC"
	if ord.Ascending {
		direction = "ASC"
	}
	return ord.Field + " " + direction
}
