// Package mock provides an in-memory txn.DataSource for tests. Committed rows are
// shared by all connections; writes issued inside a transaction stay private to
// their connection until commit.
package mock

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/go-saas/txn"
)

type Op string

const (
	OpOpen      Op = "open"
	OpBegin     Op = "begin"
	OpCommit    Op = "commit"
	OpRollback  Op = "rollback"
	OpSavepoint Op = "savepoint"
	OpClose     Op = "close"
)

var ErrConnClosed = errors.New("mock: connection is closed")

type DataSource struct {
	mtx      sync.Mutex
	rows     map[string]string
	seq      int
	closes   map[int]int
	counts   map[Op]int
	failures map[Op]error
}

var _ txn.DataSource = (*DataSource)(nil)

func NewDataSource() *DataSource {
	return &DataSource{
		rows:     map[string]string{},
		closes:   map[int]int{},
		counts:   map[Op]int{},
		failures: map[Op]error{},
	}
}

// FailNext makes the next op of any connection fail with err.
func (d *DataSource) FailNext(op Op, err error) {
	d.mtx.Lock()
	defer d.mtx.Unlock()
	d.failures[op] = err
}

// record counts op and returns the pending failure for it, if any.
func (d *DataSource) record(op Op) error {
	d.mtx.Lock()
	defer d.mtx.Unlock()
	if err, ok := d.failures[op]; ok {
		delete(d.failures, op)
		return err
	}
	d.counts[op]++
	return nil
}

// Count is the number of successful ops of the given kind.
func (d *DataSource) Count(op Op) int {
	d.mtx.Lock()
	defer d.mtx.Unlock()
	return d.counts[op]
}

// OpenConnections is the number of connections opened and not yet closed.
func (d *DataSource) OpenConnections() int {
	d.mtx.Lock()
	defer d.mtx.Unlock()
	return d.counts[OpOpen] - d.counts[OpClose]
}

// MaxCloses is the highest number of times a single connection was closed.
func (d *DataSource) MaxCloses() int {
	d.mtx.Lock()
	defer d.mtx.Unlock()
	max := 0
	for _, n := range d.closes {
		if n > max {
			max = n
		}
	}
	return max
}

func (d *DataSource) OpenConnection(ctx context.Context) (txn.Connection, error) {
	if err := d.record(OpOpen); err != nil {
		return nil, err
	}
	d.mtx.Lock()
	defer d.mtx.Unlock()
	d.seq++
	return &Conn{ds: d, id: d.seq}, nil
}

func (d *DataSource) CloseConnection(conn txn.Connection) error {
	c, ok := conn.(*Conn)
	if !ok {
		return fmt.Errorf("mock: foreign connection %T", conn)
	}
	d.mtx.Lock()
	d.closes[c.id]++
	d.mtx.Unlock()
	if err := d.record(OpClose); err != nil {
		return err
	}
	c.closed = true
	return nil
}

// Committed returns the committed rows, the state every other connection sees.
func (d *DataSource) Committed() map[string]string {
	d.mtx.Lock()
	defer d.mtx.Unlock()
	ret := make(map[string]string, len(d.rows))
	for k, v := range d.rows {
		ret[k] = v
	}
	return ret
}

// CommittedKeys returns the committed keys in order.
func (d *DataSource) CommittedKeys() []string {
	d.mtx.Lock()
	defer d.mtx.Unlock()
	keys := make([]string, 0, len(d.rows))
	for k := range d.rows {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func (d *DataSource) apply(writes []write) {
	d.mtx.Lock()
	defer d.mtx.Unlock()
	for _, w := range writes {
		if w.deleted {
			delete(d.rows, w.key)
		} else {
			d.rows[w.key] = w.value
		}
	}
}

func (d *DataSource) get(key string) (string, bool) {
	d.mtx.Lock()
	defer d.mtx.Unlock()
	v, ok := d.rows[key]
	return v, ok
}

// Put writes key through the current connection of ctx.
func Put(ctx context.Context, ds *DataSource, key, value string) error {
	return txn.WithConnection(ctx, ds, func(ctx context.Context, conn txn.Connection) error {
		return conn.(*Conn).Put(key, value)
	})
}

// Get reads key through the current connection of ctx.
func Get(ctx context.Context, ds *DataSource, key string) (value string, ok bool, err error) {
	err = txn.WithConnection(ctx, ds, func(ctx context.Context, conn txn.Connection) error {
		value, ok = conn.(*Conn).Get(key)
		return nil
	})
	return
}
