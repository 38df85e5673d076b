package txn

// TransactionStatus is the handle of one transactional scope returned by Begin.
// Several statuses of one execution context may share a ConnectionHolder.
type TransactionStatus struct {
	id       string
	manager  *manager
	registry *Registry
	def      Definition

	holder         *ConnectionHolder
	newTransaction bool
	savepoint      Savepoint
	hasSavepoint   bool
	suspended      *ConnectionHolder

	recoverIsolation *Isolation
	resetReadOnly    bool

	rollbackOnly bool
	readOnly     bool
	completed    bool
}

func (s *TransactionStatus) ID() string {
	return s.id
}

func (s *TransactionStatus) Propagation() Propagation {
	return s.def.Propagation
}

func (s *TransactionStatus) Isolation() Isolation {
	return s.def.Isolation
}

// Holder is the holder this scope is bound to.
func (s *TransactionStatus) Holder() *ConnectionHolder {
	return s.holder
}

// IsNewTransaction reports whether this scope started the physical transaction and
// therefore decides between commit and rollback.
func (s *TransactionStatus) IsNewTransaction() bool {
	return s.newTransaction
}

// HasTransaction reports whether the scope runs inside a transaction at all.
func (s *TransactionStatus) HasTransaction() bool {
	return s.holder != nil && (s.newTransaction || s.holder.transactionActive)
}

func (s *TransactionStatus) HasSavepoint() bool {
	return s.hasSavepoint
}

// IsSuspended reports whether the scope suspended a previously bound transaction.
func (s *TransactionStatus) IsSuspended() bool {
	return s.suspended != nil
}

func (s *TransactionStatus) IsCompleted() bool {
	return s.completed
}

// SetRollbackOnly requests that the scope ends in rollback even if it is committed.
func (s *TransactionStatus) SetRollbackOnly() {
	s.rollbackOnly = true
}

// IsRollbackOnly reports a rollback request on this scope or on the shared transaction.
func (s *TransactionStatus) IsRollbackOnly() bool {
	return s.rollbackOnly || (s.holder != nil && s.holder.rollbackOnly)
}

// SetReadOnly makes the scope discard its work: a later commit behaves as a rollback.
func (s *TransactionStatus) SetReadOnly() {
	s.readOnly = true
}

func (s *TransactionStatus) IsReadOnly() bool {
	return s.readOnly
}
