package event

import (
	"context"
	"sync"

	"github.com/go-saas/txn"
)

// Transactional buffers the events sent during one transaction. They are published
// right before the physical commit and dropped when the transaction rolls back. Events
// sent inside a NESTED scope are dropped when that scope rolls back to its savepoint.
type Transactional struct {
	producer Producer
	events   []Event
	marks    map[txn.Savepoint]int
	sync.Mutex
}

var _ txn.SavepointSynchronization = (*Transactional)(nil)

func (t *Transactional) Send(msg ...Event) {
	t.Lock()
	defer t.Unlock()
	t.events = append(t.events, msg...)
}

// Events returns the buffered events.
func (t *Transactional) Events() []Event {
	t.Lock()
	defer t.Unlock()
	return append([]Event(nil), t.events...)
}

func (t *Transactional) BeforeCommit(ctx context.Context) error {
	t.Lock()
	defer t.Unlock()
	if len(t.events) == 0 {
		return nil
	}
	events := t.events
	t.events = nil
	return t.producer.BatchSend(ctx, events)
}

func (t *Transactional) AfterCompletion(ctx context.Context, committed bool) {
	t.Lock()
	defer t.Unlock()
	t.events = nil
	t.marks = nil
}

func (t *Transactional) SavepointCreated(ctx context.Context, sp txn.Savepoint) {
	t.Lock()
	defer t.Unlock()
	if t.marks == nil {
		t.marks = map[txn.Savepoint]int{}
	}
	t.marks[sp] = len(t.events)
}

func (t *Transactional) SavepointReleased(ctx context.Context, sp txn.Savepoint) {
	t.Lock()
	defer t.Unlock()
	delete(t.marks, sp)
}

func (t *Transactional) SavepointRolledBack(ctx context.Context, sp txn.Savepoint) {
	t.Lock()
	defer t.Unlock()
	mark, ok := t.marks[sp]
	if !ok {
		return
	}
	delete(t.marks, sp)
	if mark < len(t.events) {
		t.events = t.events[:mark]
	}
}

// TransactionalProducer publishes through wrap. Inside a transaction of ds the events
// are held back until that transaction commits.
type TransactionalProducer struct {
	wrap Producer
	ds   txn.DataSource
}

func NewTransactionalProducer(wrap Producer, ds txn.DataSource) *TransactionalProducer {
	return &TransactionalProducer{wrap: wrap, ds: ds}
}

func (t *TransactionalProducer) Close() error {
	return t.wrap.Close()
}

func (t *TransactionalProducer) Send(ctx context.Context, msg Event) error {
	tx, ok, err := t.current(ctx)
	if err != nil {
		return err
	}
	if !ok {
		return t.wrap.Send(ctx, msg)
	}
	tx.Send(msg)
	return nil
}

func (t *TransactionalProducer) BatchSend(ctx context.Context, msg []Event) error {
	tx, ok, err := t.current(ctx)
	if err != nil {
		return err
	}
	if !ok {
		return t.wrap.BatchSend(ctx, msg)
	}
	tx.Send(msg...)
	return nil
}

// current resolves the buffer of the running transaction, registering one on first use.
func (t *TransactionalProducer) current(ctx context.Context) (*Transactional, bool, error) {
	syncs, ok := txn.Synchronizations(ctx, t.ds)
	if !ok {
		return nil, false, nil
	}
	for _, s := range syncs {
		if tx, ok := s.(*Transactional); ok && tx.producer == t.wrap {
			return tx, true, nil
		}
	}
	tx := &Transactional{producer: t.wrap}
	if err := txn.RegisterSynchronization(ctx, t.ds, tx); err != nil {
		return nil, false, err
	}
	return tx, true, nil
}

var _ Producer = (*TransactionalProducer)(nil)
