package rdb

import (
	"context"
	"fmt"

	"github.com/jmoiron/sqlx"

	// registers the "pgx" driver with database/sql
	_ "github.com/jackc/pgx/v4/stdlib"

	"github.com/griddome/domed/pkg/errors"
)

// DB wraps the shared connection pool used by every entity adapter in this
// package. Each logical operation acquires a connection from the pool
// implicitly through database/sql and releases it when the statement
// completes; there is no separate acquire/release step to mirror because
// database/sql already pools for us, but Tx gives the nesting-counted
// begin/commit/rollback calls for.
type DB struct {
	*sqlx.DB
}

// Open connects to the relational store using the given DSN and pool size.
func Open(driver, dsn string, poolSize int) (*DB, error) {
	if driver == "" {
		driver = "pgx"
	}

	conn, err := sqlx.Open(driver, dsn)
	if err != nil {
		return nil, errors.New(errors.CodeInternal, "failed to open database").
			WithComponent("rdb").WithCause(err)
	}

	conn.SetMaxOpenConns(poolSize)
	conn.SetMaxIdleConns(poolSize)

	if err := conn.Ping(); err != nil {
		return nil, errors.New(errors.CodeConnectionFailed, "failed to reach database").
			WithComponent("rdb").WithCause(err)
	}

	return &DB{DB: conn}, nil
}

// Tx is a nesting-counted scoped transaction handle. Only the outermost
// Enter opens a real *sqlx.Tx; only the outermost Commit/Rollback closes
// it. This mirrors the legacy RA's "helper object gives scoped
// transactions that roll back unless explicitly committed".
type Tx struct {
	db *DB
	tx *sqlx.Tx
	depth int
	rollback bool
}

// Begin returns a new transaction handle at depth 0; the first Enter on it
// opens the underlying transaction.
func (d *DB) Begin(ctx context.Context) (*Tx, error) {
	return &Tx{db: d}, nil
}

// Enter increments the nesting depth, opening the underlying transaction on
// the first call.
func (t *Tx) Enter(ctx context.Context) error {
	if t.depth == 0 {
		tx, err := t.db.BeginTxx(ctx, nil)
		if err != nil {
			return fmt.Errorf("begin transaction: %w", err)
		}
		t.tx = tx
	}
	t.depth++
	return nil
}

// Commit decrements the nesting depth, committing only when the outermost
// scope commits and no inner scope requested a rollback.
func (t *Tx) Commit() error {
	t.depth--
	if t.depth > 0 {
		return nil
	}
	if t.rollback {
		return t.tx.Rollback()
	}
	return t.tx.Commit()
}

// Rollback marks the scope (and every enclosing scope) for rollback. The
// actual rollback happens when the outermost Commit/Rollback unwinds.
func (t *Tx) Rollback() error {
	t.rollback = true
	t.depth--
	if t.depth > 0 {
		return nil
	}
	return t.tx.Rollback()
}

// Tx exposes the underlying *sqlx.Tx for statement execution.
func (t *Tx) Tx() *sqlx.Tx {
	return t.tx
}

// WithTx runs fn inside a nested transaction scope, committing on success
// and rolling back if fn returns an error or panics.
func (d *DB) WithTx(ctx context.Context, fn func(tx *Tx) error) (err error) {
	tx, err := d.Begin(ctx)
	if err != nil {
		return err
	}
	if err := tx.Enter(ctx); err != nil {
		return err
	}

	defer func() {
		if p := recover(); p != nil {
			_ = tx.Rollback()
			panic(p)
		}
	}()

	if err := fn(tx); err != nil {
		_ = tx.Rollback()
		return err
	}
	return tx.Commit()
}
