package txn

import "context"

// Synchronization is a callback attached to a running transaction. It is driven by the
// scope that started the physical transaction.
type Synchronization interface {
	// BeforeCommit runs before the physical commit. An error turns the commit into a rollback.
	BeforeCommit(ctx context.Context) error
	// AfterCompletion runs once the physical transaction has ended.
	AfterCompletion(ctx context.Context, committed bool)
}

// RegisterSynchronization attaches s to the transaction bound to ds in ctx.
func RegisterSynchronization(ctx context.Context, ds DataSource, s Synchronization) error {
	h, ok := activeHolder(ctx, ds)
	if !ok {
		return ErrNoTransaction
	}
	h.registerSynchronization(s)
	return nil
}

// Synchronizations returns the callbacks attached to the transaction bound to ds in
// ctx. ok is false when there is no such transaction.
func Synchronizations(ctx context.Context, ds DataSource) (syncs []Synchronization, ok bool) {
	h, ok := activeHolder(ctx, ds)
	if !ok {
		return nil, false
	}
	return append([]Synchronization(nil), h.syncs...), true
}

func activeHolder(ctx context.Context, ds DataSource) (*ConnectionHolder, bool) {
	reg, ok := FromContext(ctx)
	if !ok {
		return nil, false
	}
	h, ok := reg.Holder(ds)
	if !ok || !h.transactionActive {
		return nil, false
	}
	return h, true
}

// SavepointSynchronization is a Synchronization that also follows the savepoints of
// NESTED scopes set while it is attached. The callbacks run after the savepoint
// operation succeeded.
type SavepointSynchronization interface {
	Synchronization
	SavepointCreated(ctx context.Context, sp Savepoint)
	// SavepointReleased merges the work done since sp into the enclosing scope.
	SavepointReleased(ctx context.Context, sp Savepoint)
	// SavepointRolledBack discards the work done since sp.
	SavepointRolledBack(ctx context.Context, sp Savepoint)
}
