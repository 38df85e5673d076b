// Package sql binds database/sql pools to txn. Every physical connection of a
// DataSource is a dedicated *sql.Conn taken from the pool, so all statements of one
// execution context run on the same session.
package sql

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/go-saas/txn"
)

// Executor is the statement-execution facade shared by *sql.Tx and *sql.Conn. It is
// also a gorm.ConnPool.
type Executor interface {
	ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...interface{}) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...interface{}) *sql.Row
	PrepareContext(ctx context.Context, query string) (*sql.Stmt, error)
}

var (
	_ Executor = (*sql.Tx)(nil)
	_ Executor = (*sql.Conn)(nil)
)

var ErrForeignConnection = errors.New("sql: connection was not opened by this data source")

type DataSource struct {
	db *sql.DB
}

var _ txn.DataSource = (*DataSource)(nil)

func NewDataSource(db *sql.DB) *DataSource {
	return &DataSource{db: db}
}

// DB is the underlying pool.
func (d *DataSource) DB() *sql.DB {
	return d.db
}

func (d *DataSource) OpenConnection(ctx context.Context) (txn.Connection, error) {
	c, err := d.db.Conn(ctx)
	if err != nil {
		return nil, err
	}
	return &Conn{conn: c}, nil
}

// CloseConnection returns the connection to the pool. A transaction left open on it is
// rolled back first.
func (d *DataSource) CloseConnection(conn txn.Connection) error {
	c, ok := conn.(*Conn)
	if !ok {
		return fmt.Errorf("%w: %T", ErrForeignConnection, conn)
	}
	var errs []error
	if c.tx != nil {
		if err := c.tx.Rollback(); err != nil && !errors.Is(err, sql.ErrTxDone) {
			errs = append(errs, err)
		}
		c.tx = nil
	}
	errs = append(errs, c.conn.Close())
	return errors.Join(errs...)
}

// Conn is a txn.Connection over one *sql.Conn.
type Conn struct {
	conn      *sql.Conn
	tx        *sql.Tx
	isolation txn.Isolation
	readOnly  bool
	seq       int
}

var _ txn.Connection = (*Conn)(nil)

// Executor is the running transaction, or the bare connection in auto-commit mode.
func (c *Conn) Executor() Executor {
	if c.tx != nil {
		return c.tx
	}
	return c.conn
}

// Raw is the pooled connection.
func (c *Conn) Raw() *sql.Conn {
	return c.conn
}

func (c *Conn) Begin(ctx context.Context) error {
	if c.tx != nil {
		return errors.New("sql: transaction already started")
	}
	tx, err := c.conn.BeginTx(ctx, &sql.TxOptions{
		Isolation: isolationLevel(c.isolation),
		ReadOnly:  c.readOnly,
	})
	if err != nil {
		return err
	}
	c.tx = tx
	return nil
}

// Commit keeps the transaction on failure so that the caller can still roll it back.
func (c *Conn) Commit(ctx context.Context) error {
	if c.tx == nil {
		return sql.ErrTxDone
	}
	if err := c.tx.Commit(); err != nil {
		return err
	}
	c.tx = nil
	return nil
}

func (c *Conn) Rollback(ctx context.Context) error {
	if c.tx == nil {
		return sql.ErrTxDone
	}
	tx := c.tx
	c.tx = nil
	// a failed commit or a cancelled context has already ended the transaction
	if err := tx.Rollback(); err != nil && !errors.Is(err, sql.ErrTxDone) {
		return err
	}
	return nil
}

func (c *Conn) SetSavepoint(ctx context.Context) (txn.Savepoint, error) {
	if c.tx == nil {
		return nil, sql.ErrTxDone
	}
	c.seq++
	name := fmt.Sprintf("txn_sp_%d", c.seq)
	if _, err := c.tx.ExecContext(ctx, "SAVEPOINT "+name); err != nil {
		return nil, err
	}
	return name, nil
}

func (c *Conn) RollbackToSavepoint(ctx context.Context, sp txn.Savepoint) error {
	return c.savepointExec(ctx, "ROLLBACK TO SAVEPOINT ", sp)
}

func (c *Conn) ReleaseSavepoint(ctx context.Context, sp txn.Savepoint) error {
	return c.savepointExec(ctx, "RELEASE SAVEPOINT ", sp)
}

func (c *Conn) savepointExec(ctx context.Context, stmt string, sp txn.Savepoint) error {
	name, ok := sp.(string)
	if !ok {
		return fmt.Errorf("sql: unexpected savepoint %v", sp)
	}
	if c.tx == nil {
		return sql.ErrTxDone
	}
	_, err := c.tx.ExecContext(ctx, stmt+name)
	return err
}

// SetIsolationLevel is applied by the next Begin.
func (c *Conn) SetIsolationLevel(level txn.Isolation) error {
	c.isolation = level
	return nil
}

func (c *Conn) IsolationLevel() txn.Isolation {
	return c.isolation
}

// SetReadOnly is applied by the next Begin.
func (c *Conn) SetReadOnly(readOnly bool) error {
	c.readOnly = readOnly
	return nil
}

func isolationLevel(i txn.Isolation) sql.IsolationLevel {
	switch i {
	case txn.IsolationReadUncommitted:
		return sql.LevelReadUncommitted
	case txn.IsolationReadCommitted:
		return sql.LevelReadCommitted
	case txn.IsolationRepeatableRead:
		return sql.LevelRepeatableRead
	case txn.IsolationSerializable:
		return sql.LevelSerializable
	default:
		return sql.LevelDefault
	}
}
