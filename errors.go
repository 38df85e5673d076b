package txn

import "errors"

var (
	// ErrResourceAcquisition is returned when the data source cannot produce a connection.
	ErrResourceAcquisition = errors.New("txn: cannot acquire connection")
	// ErrIllegalTransactionState is returned when a propagation contract is violated.
	ErrIllegalTransactionState = errors.New("txn: illegal transaction state")
	// ErrCompletion wraps failures of the physical begin, commit, rollback or savepoint operations.
	ErrCompletion = errors.New("txn: transaction completion failed")
	// ErrUnexpectedRollback is returned by Commit when the transaction was rolled back instead,
	// because a participating scope marked it rollback-only.
	ErrUnexpectedRollback = errors.New("txn: transaction rolled back because it has been marked as rollback-only")
	// ErrRegistryNotFound means the context does not carry an execution context registry.
	ErrRegistryNotFound = errors.New("txn: registry not found, please wrap with txn.EnsureContext or Template.Execute")
	// ErrForeignStatus means the status was not begun by this manager in this execution context.
	ErrForeignStatus = errors.New("txn: transaction status is not derived from this manager")

	ErrHandleReleased = errors.New("txn: connection handle already released")
	ErrHolderReleased = errors.New("txn: connection holder is not referenced")
	ErrNoTransaction  = errors.New("txn: no active transaction")
)
