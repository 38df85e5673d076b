package mock

import (
	"context"
	"errors"
	"fmt"

	"github.com/go-saas/txn"
)

type write struct {
	key     string
	value   string
	deleted bool
}

type savepoint struct {
	conn *Conn
	pos  int
}

// Conn is a connection of DataSource. Outside a transaction writes are applied
// immediately (auto-commit).
type Conn struct {
	ds     *DataSource
	id     int
	closed bool

	inTx      bool
	pending   []write
	isolation txn.Isolation
	readOnly  bool
}

var _ txn.Connection = (*Conn)(nil)

func (c *Conn) ID() int {
	return c.id
}

func (c *Conn) InTransaction() bool {
	return c.inTx
}

func (c *Conn) ReadOnly() bool {
	return c.readOnly
}

func (c *Conn) Put(key, value string) error {
	return c.write(write{key: key, value: value})
}

func (c *Conn) Delete(key string) error {
	return c.write(write{key: key, deleted: true})
}

func (c *Conn) write(w write) error {
	if c.closed {
		return ErrConnClosed
	}
	if !c.inTx {
		c.ds.apply([]write{w})
		return nil
	}
	c.pending = append(c.pending, w)
	return nil
}

// Get sees the committed rows overlaid with this connection's own pending writes.
func (c *Conn) Get(key string) (string, bool) {
	for i := len(c.pending) - 1; i >= 0; i-- {
		if w := c.pending[i]; w.key == key {
			return w.value, !w.deleted
		}
	}
	return c.ds.get(key)
}

func (c *Conn) Begin(ctx context.Context) error {
	if c.closed {
		return ErrConnClosed
	}
	if c.inTx {
		return errors.New("mock: transaction already started")
	}
	if err := c.ds.record(OpBegin); err != nil {
		return err
	}
	c.inTx = true
	return nil
}

func (c *Conn) Commit(ctx context.Context) error {
	if !c.inTx {
		return errors.New("mock: commit without transaction")
	}
	if err := c.ds.record(OpCommit); err != nil {
		return err
	}
	c.ds.apply(c.pending)
	c.pending = nil
	c.inTx = false
	return nil
}

func (c *Conn) Rollback(ctx context.Context) error {
	if !c.inTx {
		return errors.New("mock: rollback without transaction")
	}
	if err := c.ds.record(OpRollback); err != nil {
		return err
	}
	c.pending = nil
	c.inTx = false
	return nil
}

func (c *Conn) SetSavepoint(ctx context.Context) (txn.Savepoint, error) {
	if !c.inTx {
		return nil, errors.New("mock: savepoint without transaction")
	}
	if err := c.ds.record(OpSavepoint); err != nil {
		return nil, err
	}
	return &savepoint{conn: c, pos: len(c.pending)}, nil
}

func (c *Conn) lookupSavepoint(sp txn.Savepoint) (*savepoint, error) {
	s, ok := sp.(*savepoint)
	if !ok || s.conn != c {
		return nil, fmt.Errorf("mock: foreign savepoint %v", sp)
	}
	if s.pos > len(c.pending) {
		return nil, errors.New("mock: savepoint no longer exists")
	}
	return s, nil
}

func (c *Conn) RollbackToSavepoint(ctx context.Context, sp txn.Savepoint) error {
	s, err := c.lookupSavepoint(sp)
	if err != nil {
		return err
	}
	c.pending = c.pending[:s.pos]
	return nil
}

func (c *Conn) ReleaseSavepoint(ctx context.Context, sp txn.Savepoint) error {
	_, err := c.lookupSavepoint(sp)
	return err
}

func (c *Conn) SetIsolationLevel(level txn.Isolation) error {
	c.isolation = level
	return nil
}

func (c *Conn) IsolationLevel() txn.Isolation {
	return c.isolation
}

func (c *Conn) SetReadOnly(readOnly bool) error {
	c.readOnly = readOnly
	return nil
}
