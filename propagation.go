package txn

import (
	"context"
	"errors"
	"fmt"
)

func (m *manager) BeginDefinition(ctx context.Context, def Definition) (*TransactionStatus, error) {
	reg, ok := FromContext(ctx)
	if !ok {
		return nil, ErrRegistryNotFound
	}
	status := &TransactionStatus{
		id:       m.cfg.idGen(ctx),
		manager:  m,
		registry: reg,
		def:      def,
	}
	var err error
	if existing, ok := reg.Holder(m.ds); ok && existing.HasTransaction() {
		err = m.handleExistingTransaction(ctx, reg, status)
	} else {
		err = m.handleNoTransaction(ctx, reg, status)
	}
	if err != nil {
		return nil, err
	}
	reg.push(m.ds, status)
	m.log.Debugf("[txn] begin %s (%s, %s): new transaction=%v savepoint=%v suspended=%v",
		status.id, def.Propagation, def.Isolation, status.newTransaction, status.hasSavepoint, status.suspended != nil)
	return status, nil
}

func (m *manager) handleExistingTransaction(ctx context.Context, reg *Registry, status *TransactionStatus) error {
	switch status.def.Propagation {
	case PropagationNever:
		return fmt.Errorf("%w: existing transaction found for transaction marked with propagation %s",
			ErrIllegalTransactionState, PropagationNever)
	case PropagationRequiresNew:
		suspended := reg.Suspend(m.ds)
		if err := m.startTransaction(ctx, reg, status); err != nil {
			reg.Resume(m.ds, suspended)
			return err
		}
		status.suspended = suspended
		return nil
	case PropagationNotSupported:
		suspended := reg.Suspend(m.ds)
		h, err := reg.Acquire(ctx, m.ds)
		if err != nil {
			reg.Resume(m.ds, suspended)
			return err
		}
		status.holder = h
		status.suspended = suspended
		return nil
	case PropagationNested:
		h, err := reg.Acquire(ctx, m.ds)
		if err != nil {
			return err
		}
		sp, err := h.pushSavepoint(ctx)
		if err != nil {
			return errors.Join(fmt.Errorf("%w: set savepoint: %w", ErrCompletion, err), reg.Release(h))
		}
		status.holder = h
		status.savepoint = sp
		status.hasSavepoint = true
		return nil
	default:
		// REQUIRED, SUPPORTS and MANDATORY join
		h, err := reg.Acquire(ctx, m.ds)
		if err != nil {
			return err
		}
		status.holder = h
		return nil
	}
}

func (m *manager) handleNoTransaction(ctx context.Context, reg *Registry, status *TransactionStatus) error {
	switch status.def.Propagation {
	case PropagationMandatory:
		return fmt.Errorf("%w: no existing transaction found for transaction marked with propagation %s",
			ErrIllegalTransactionState, PropagationMandatory)
	case PropagationRequired, PropagationRequiresNew, PropagationNested:
		return m.startTransaction(ctx, reg, status)
	default:
		// SUPPORTS, NOT_SUPPORTED and NEVER run without a transaction
		h, err := reg.Acquire(ctx, m.ds)
		if err != nil {
			return err
		}
		status.holder = h
		return nil
	}
}

// startTransaction acquires the bound holder, creating it if needed, and starts a
// physical transaction on it.
func (m *manager) startTransaction(ctx context.Context, reg *Registry, status *TransactionStatus) error {
	h, err := reg.Acquire(ctx, m.ds)
	if err != nil {
		return err
	}
	conn := h.conn
	def := status.def
	fail := func(op string, err error) error {
		return errors.Join(
			fmt.Errorf("%w: %s: %w", ErrCompletion, op, err),
			m.restoreConnection(status, h),
			reg.Release(h),
		)
	}
	if def.Isolation != IsolationDefault {
		if cur := conn.IsolationLevel(); cur != def.Isolation {
			if err := conn.SetIsolationLevel(def.Isolation); err != nil {
				return fail("set isolation level", err)
			}
			status.recoverIsolation = &cur
		}
	}
	if def.ReadOnly {
		if err := conn.SetReadOnly(true); err != nil {
			return fail("set read only", err)
		}
		status.resetReadOnly = true
		status.readOnly = true
	}
	if err := h.beginTransaction(ctx); err != nil {
		return fail("begin", err)
	}
	status.holder = h
	status.newTransaction = true
	return nil
}

// restoreConnection undoes the connection settings changed by startTransaction.
func (m *manager) restoreConnection(status *TransactionStatus, h *ConnectionHolder) error {
	var errs []error
	if status.recoverIsolation != nil {
		if err := h.conn.SetIsolationLevel(*status.recoverIsolation); err != nil {
			errs = append(errs, fmt.Errorf("restore isolation level: %w", err))
		}
		status.recoverIsolation = nil
	}
	if status.resetReadOnly {
		if err := h.conn.SetReadOnly(false); err != nil {
			errs = append(errs, fmt.Errorf("reset read only: %w", err))
		}
		status.resetReadOnly = false
	}
	return errors.Join(errs...)
}

func (m *manager) Commit(ctx context.Context, status *TransactionStatus) error {
	if err := m.checkStatus(status); err != nil {
		return err
	}
	if status.completed {
		return nil
	}
	if status.rollbackOnly || status.readOnly {
		m.log.Debugf("[txn] transactional code of %s has requested rollback", status.id)
		return m.Rollback(ctx, status)
	}
	reg := status.registry
	cascadeErr := m.completeAbove(ctx, reg, status, true)

	var err error
	switch {
	case status.hasSavepoint:
		if rerr := status.holder.releaseSavepoint(ctx, status.savepoint); rerr != nil {
			err = fmt.Errorf("%w: release savepoint: %w", ErrCompletion, rerr)
		}
	case status.newTransaction:
		err = m.doCommit(ctx, status)
	}
	m.log.Debugf("[txn] commit %s (%s)", status.id, status.def.Propagation)
	return errors.Join(cascadeErr, err, m.cleanupAfterCompletion(reg, status))
}

func (m *manager) Rollback(ctx context.Context, status *TransactionStatus) error {
	if err := m.checkStatus(status); err != nil {
		return err
	}
	if status.completed {
		return nil
	}
	reg := status.registry
	cascadeErr := m.completeAbove(ctx, reg, status, false)

	var err error
	h := status.holder
	switch {
	case status.hasSavepoint:
		if rerr := h.rollbackToSavepoint(ctx, status.savepoint); rerr != nil {
			err = fmt.Errorf("%w: rollback to savepoint: %w", ErrCompletion, rerr)
		}
	case status.newTransaction:
		err = m.doRollback(ctx, status)
	case h.transactionActive:
		m.log.Debugf("[txn] participating transaction %s failed, marking existing transaction as rollback-only", status.id)
		h.rollbackOnly = true
	}
	m.log.Debugf("[txn] rollback %s (%s)", status.id, status.def.Propagation)
	return errors.Join(cascadeErr, err, m.cleanupAfterCompletion(reg, status))
}

func (m *manager) checkStatus(status *TransactionStatus) error {
	if status == nil || status.manager != m {
		return ErrForeignStatus
	}
	if !status.completed && !status.registry.contains(m.ds, status) {
		return ErrForeignStatus
	}
	return nil
}

// completeAbove completes, newest first, the open scopes begun after status.
func (m *manager) completeAbove(ctx context.Context, reg *Registry, status *TransactionStatus, commit bool) error {
	var errs []error
	for _, inner := range reg.above(m.ds, status) {
		if inner.completed {
			continue
		}
		m.log.Warnf("[txn] completing inner transaction %s before %s", inner.id, status.id)
		var err error
		if commit {
			err = inner.manager.Commit(ctx, inner)
		} else {
			err = inner.manager.Rollback(ctx, inner)
		}
		if err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (m *manager) doCommit(ctx context.Context, status *TransactionStatus) error {
	h := status.holder
	if h.rollbackOnly {
		m.log.Debugf("[txn] global transaction %s is marked as rollback-only, rolling back", status.id)
		if err := m.doRollback(ctx, status); err != nil {
			return err
		}
		return ErrUnexpectedRollback
	}
	if err := h.beforeCommit(ctx); err != nil {
		return errors.Join(fmt.Errorf("%w: before commit: %w", ErrCompletion, err), m.doRollback(ctx, status))
	}
	if err := h.conn.Commit(ctx); err != nil {
		rerr := h.conn.Rollback(ctx)
		h.afterCompletion(ctx, false)
		return fmt.Errorf("%w: commit: %w", ErrCompletion, errors.Join(err, rerr))
	}
	h.afterCompletion(ctx, true)
	return nil
}

func (m *manager) doRollback(ctx context.Context, status *TransactionStatus) error {
	h := status.holder
	err := h.conn.Rollback(ctx)
	h.afterCompletion(ctx, false)
	if err != nil {
		return fmt.Errorf("%w: rollback: %w", ErrCompletion, err)
	}
	return nil
}

// cleanupAfterCompletion marks the status completed, releases its holder reference and
// resumes what it suspended. It runs on every completion path, failed ones included.
func (m *manager) cleanupAfterCompletion(reg *Registry, status *TransactionStatus) error {
	status.completed = true
	h := status.holder
	var errs []error
	if status.hasSavepoint {
		h.popSavepoint(status.savepoint)
	}
	if status.newTransaction {
		h.stopTransaction()
		if err := m.restoreConnection(status, h); err != nil {
			errs = append(errs, err)
		}
	}
	if err := reg.Release(h); err != nil {
		errs = append(errs, err)
	}
	if status.suspended != nil {
		m.log.Debugf("[txn] resume transaction suspended by %s", status.id)
		reg.Resume(m.ds, status.suspended)
		status.suspended = nil
	}
	reg.pop(m.ds, status)
	return errors.Join(errs...)
}
