package sql

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/go-saas/txn"
)

// ExecutorOf returns the executor behind a handle obtained from a DataSource of this
// package. It is only valid until the handle is released.
func ExecutorOf(h *txn.ConnectionHandle) (Executor, error) {
	return executor(h.Connection())
}

func executor(conn txn.Connection) (Executor, error) {
	c, ok := conn.(*Conn)
	if !ok {
		return nil, fmt.Errorf("%w: %T", ErrForeignConnection, conn)
	}
	return c.Executor(), nil
}

func withExecutor(ctx context.Context, ds *DataSource, fn func(ctx context.Context, exec Executor) error) error {
	return txn.WithConnection(ctx, ds, func(ctx context.Context, conn txn.Connection) error {
		exec, err := executor(conn)
		if err != nil {
			return err
		}
		return fn(ctx, exec)
	})
}

// Exec runs query on the current connection of ds.
func Exec(ctx context.Context, ds *DataSource, query string, args ...interface{}) (sql.Result, error) {
	var res sql.Result
	err := withExecutor(ctx, ds, func(ctx context.Context, exec Executor) error {
		var err error
		res, err = exec.ExecContext(ctx, query, args...)
		return err
	})
	return res, err
}

// Query runs query on the current connection of ds and calls fn for every row.
func Query(ctx context.Context, ds *DataSource, query string, args []interface{}, fn func(rows *sql.Rows) error) error {
	return withExecutor(ctx, ds, func(ctx context.Context, exec Executor) error {
		rows, err := exec.QueryContext(ctx, query, args...)
		if err != nil {
			return err
		}
		defer rows.Close()
		for rows.Next() {
			if err := fn(rows); err != nil {
				return err
			}
		}
		return rows.Err()
	})
}

// QueryRow scans the first row of query into dest. sql.ErrNoRows is returned as is.
func QueryRow(ctx context.Context, ds *DataSource, query string, args []interface{}, dest ...interface{}) error {
	return withExecutor(ctx, ds, func(ctx context.Context, exec Executor) error {
		return exec.QueryRowContext(ctx, query, args...).Scan(dest...)
	})
}
