package txn

import (
	"context"
	"errors"
	"fmt"
)

// ConnectionHolder owns one physical connection for one execution context and tracks
// the transaction running on it. Holders are created and disposed by a Registry.
//
// A holder is confined to its execution context, so its fields are not locked;
// only the reference count is changed under the registry lock.
type ConnectionHolder struct {
	ds   DataSource
	conn Connection

	refCount          int
	transactionActive bool
	rollbackOnly      bool
	savepoints        []savepointMark
	syncs             []Synchronization
	closed            bool
}

// savepointMark remembers how many synchronizations were attached when sp was set.
type savepointMark struct {
	sp    Savepoint
	syncs int
}

func newConnectionHolder(ds DataSource, conn Connection) *ConnectionHolder {
	return &ConnectionHolder{ds: ds, conn: conn}
}

func (h *ConnectionHolder) DataSource() DataSource {
	return h.ds
}

// Connection returns nil once the holder has been disposed.
func (h *ConnectionHolder) Connection() Connection {
	if h.closed {
		return nil
	}
	return h.conn
}

func (h *ConnectionHolder) RefCount() int {
	return h.refCount
}

func (h *ConnectionHolder) IsOpen() bool {
	return !h.closed && h.refCount > 0
}

// HasTransaction reports whether a logical transaction is active on the holder.
func (h *ConnectionHolder) HasTransaction() bool {
	return h.transactionActive
}

func (h *ConnectionHolder) IsRollbackOnly() bool {
	return h.rollbackOnly
}

// SetRollbackOnly forces the running transaction to end in rollback.
func (h *ConnectionHolder) SetRollbackOnly() {
	if h.transactionActive {
		h.rollbackOnly = true
	}
}

// SavepointCount is the depth of the savepoint stack.
func (h *ConnectionHolder) SavepointCount() int {
	return len(h.savepoints)
}

func (h *ConnectionHolder) beginTransaction(ctx context.Context) error {
	if err := h.conn.Begin(ctx); err != nil {
		return err
	}
	h.transactionActive = true
	h.rollbackOnly = false
	return nil
}

func (h *ConnectionHolder) stopTransaction() {
	h.transactionActive = false
	h.rollbackOnly = false
	h.savepoints = nil
	h.syncs = nil
}

func (h *ConnectionHolder) pushSavepoint(ctx context.Context) (Savepoint, error) {
	sp, err := h.conn.SetSavepoint(ctx)
	if err != nil {
		return nil, err
	}
	h.savepoints = append(h.savepoints, savepointMark{sp: sp, syncs: len(h.syncs)})
	for _, s := range h.syncs {
		if ss, ok := s.(SavepointSynchronization); ok {
			ss.SavepointCreated(ctx, sp)
		}
	}
	return sp, nil
}

func (h *ConnectionHolder) savepointMark(sp Savepoint) (savepointMark, bool) {
	for i := len(h.savepoints) - 1; i >= 0; i-- {
		if h.savepoints[i].sp == sp {
			return h.savepoints[i], true
		}
	}
	return savepointMark{}, false
}

// popSavepoint removes sp and every savepoint pushed after it.
func (h *ConnectionHolder) popSavepoint(sp Savepoint) {
	for i := len(h.savepoints) - 1; i >= 0; i-- {
		if h.savepoints[i].sp == sp {
			h.savepoints = h.savepoints[:i]
			return
		}
	}
}

// releaseSavepoint merges the work done since sp, synchronizations included, into the
// enclosing transaction.
func (h *ConnectionHolder) releaseSavepoint(ctx context.Context, sp Savepoint) error {
	if err := h.conn.ReleaseSavepoint(ctx, sp); err != nil {
		return err
	}
	if mark, ok := h.savepointMark(sp); ok {
		for _, s := range h.syncs[:min(mark.syncs, len(h.syncs))] {
			if ss, ok := s.(SavepointSynchronization); ok {
				ss.SavepointReleased(ctx, sp)
			}
		}
	}
	return nil
}

// rollbackToSavepoint undoes the work done since sp. Synchronizations attached after sp
// are completed as rolled back and detached.
func (h *ConnectionHolder) rollbackToSavepoint(ctx context.Context, sp Savepoint) error {
	if err := h.conn.RollbackToSavepoint(ctx, sp); err != nil {
		return err
	}
	if err := h.conn.ReleaseSavepoint(ctx, sp); err != nil {
		return err
	}
	mark, ok := h.savepointMark(sp)
	if !ok {
		return nil
	}
	n := min(mark.syncs, len(h.syncs))
	dropped := h.syncs[n:]
	h.syncs = h.syncs[:n:n]
	for _, s := range h.syncs {
		if ss, ok := s.(SavepointSynchronization); ok {
			ss.SavepointRolledBack(ctx, sp)
		}
	}
	for _, s := range dropped {
		s.AfterCompletion(ctx, false)
	}
	return nil
}

func (h *ConnectionHolder) registerSynchronization(s Synchronization) {
	h.syncs = append(h.syncs, s)
}

func (h *ConnectionHolder) beforeCommit(ctx context.Context) error {
	// hooks may register further hooks
	for i := 0; i < len(h.syncs); i++ {
		if err := h.syncs[i].BeforeCommit(ctx); err != nil {
			return err
		}
	}
	return nil
}

func (h *ConnectionHolder) afterCompletion(ctx context.Context, committed bool) {
	syncs := h.syncs
	h.syncs = nil
	for _, s := range syncs {
		s.AfterCompletion(ctx, committed)
	}
}

// dispose closes the physical connection exactly once. A transaction still running at
// this point is rolled back first.
func (h *ConnectionHolder) dispose() error {
	if h.closed {
		return nil
	}
	h.closed = true
	var errs []error
	if h.transactionActive {
		if err := h.conn.Rollback(context.Background()); err != nil {
			errs = append(errs, fmt.Errorf("rollback abandoned transaction: %w", err))
		}
		h.afterCompletion(context.Background(), false)
		h.stopTransaction()
	}
	if err := h.ds.CloseConnection(h.conn); err != nil {
		errs = append(errs, fmt.Errorf("txn: close connection: %w", err))
	}
	return errors.Join(errs...)
}
