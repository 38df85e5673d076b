package txn

import (
	"context"
	"errors"
	"fmt"
	"sync"

	orderedmap "github.com/elliotchance/orderedmap/v2"
)

// Registry is the resource registry of one execution context: at most one bound
// ConnectionHolder per DataSource, plus the stack of uncompleted transaction
// statuses begun in this context.
//
// A Registry must not be shared between execution contexts. Two goroutines that
// use the same DataSource concurrently need two registries.
type Registry struct {
	mtx sync.Mutex

	// holders are keyed by the id of their DataSource, in binding order
	holders *orderedmap.OrderedMap[uint64, *ConnectionHolder]
	ids     map[DataSource]uint64
	seq     uint64
	stacks  map[DataSource][]*TransactionStatus
}

func NewRegistry() *Registry {
	return &Registry{
		holders: orderedmap.NewOrderedMap[uint64, *ConnectionHolder](),
		ids:     map[DataSource]uint64{},
		stacks:  map[DataSource][]*TransactionStatus{},
	}
}

// key returns the id of ds, assigning one on first use. r.mtx must be held.
func (r *Registry) key(ds DataSource) uint64 {
	id, ok := r.ids[ds]
	if !ok {
		r.seq++
		id = r.seq
		r.ids[ds] = id
	}
	return id
}

// Holder returns the holder currently bound to ds without touching it.
func (r *Registry) Holder(ds DataSource) (*ConnectionHolder, bool) {
	r.mtx.Lock()
	defer r.mtx.Unlock()
	return r.holders.Get(r.key(ds))
}

// Len is the number of bound holders.
func (r *Registry) Len() int {
	r.mtx.Lock()
	defer r.mtx.Unlock()
	return r.holders.Len()
}

// Acquire returns the holder bound to ds with its reference count incremented,
// opening a physical connection and binding a new holder if there is none.
func (r *Registry) Acquire(ctx context.Context, ds DataSource) (*ConnectionHolder, error) {
	r.mtx.Lock()
	defer r.mtx.Unlock()
	if h, ok := r.holders.Get(r.key(ds)); ok {
		h.refCount++
		return h, nil
	}
	conn, err := ds.OpenConnection(ctx)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrResourceAcquisition, err)
	}
	h := newConnectionHolder(ds, conn)
	h.refCount = 1
	r.holders.Set(r.key(ds), h)
	return h, nil
}

// Release drops one reference. The last release unbinds the holder and closes its
// connection.
func (r *Registry) Release(h *ConnectionHolder) error {
	r.mtx.Lock()
	if h.refCount <= 0 {
		r.mtx.Unlock()
		return ErrHolderReleased
	}
	h.refCount--
	if h.refCount > 0 {
		r.mtx.Unlock()
		return nil
	}
	if cur, ok := r.holders.Get(r.key(h.ds)); ok && cur == h {
		r.holders.Delete(r.key(h.ds))
	}
	r.mtx.Unlock()
	return h.dispose()
}

// Suspend unbinds the holder of ds without closing it and returns it, or nil.
func (r *Registry) Suspend(ds DataSource) *ConnectionHolder {
	r.mtx.Lock()
	defer r.mtx.Unlock()
	h, ok := r.holders.Get(r.key(ds))
	if !ok {
		return nil
	}
	r.holders.Delete(r.key(ds))
	return h
}

// Resume binds a holder previously returned by Suspend.
func (r *Registry) Resume(ds DataSource, h *ConnectionHolder) {
	if h == nil {
		return
	}
	r.mtx.Lock()
	defer r.mtx.Unlock()
	r.holders.Set(r.key(ds), h)
}

// Close disposes every holder of the context, bound or suspended, newest first and
// whatever its reference count. Uncompleted statuses are marked completed. It is meant
// for an execution context that is being abandoned.
func (r *Registry) Close() error {
	r.mtx.Lock()
	var holders []*ConnectionHolder
	seen := map[*ConnectionHolder]bool{}
	collect := func(h *ConnectionHolder) {
		if h != nil && !seen[h] {
			seen[h] = true
			holders = append(holders, h)
		}
	}
	for el := r.holders.Back(); el != nil; el = el.Prev() {
		collect(el.Value)
	}
	for _, stack := range r.stacks {
		for i := len(stack) - 1; i >= 0; i-- {
			collect(stack[i].holder)
			collect(stack[i].suspended)
			stack[i].completed = true
		}
	}
	for _, h := range holders {
		h.refCount = 0
		if cur, ok := r.holders.Get(r.key(h.ds)); ok && cur == h {
			r.holders.Delete(r.key(h.ds))
		}
	}
	r.stacks = map[DataSource][]*TransactionStatus{}
	r.mtx.Unlock()

	var errs []error
	for _, h := range holders {
		if err := h.dispose(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (r *Registry) push(ds DataSource, s *TransactionStatus) {
	r.mtx.Lock()
	defer r.mtx.Unlock()
	r.stacks[ds] = append(r.stacks[ds], s)
}

func (r *Registry) pop(ds DataSource, s *TransactionStatus) {
	r.mtx.Lock()
	defer r.mtx.Unlock()
	stack := r.stacks[ds]
	for i := len(stack) - 1; i >= 0; i-- {
		if stack[i] == s {
			stack = append(stack[:i], stack[i+1:]...)
			break
		}
	}
	if len(stack) == 0 {
		delete(r.stacks, ds)
		return
	}
	r.stacks[ds] = stack
}

func (r *Registry) contains(ds DataSource, s *TransactionStatus) bool {
	r.mtx.Lock()
	defer r.mtx.Unlock()
	for _, cur := range r.stacks[ds] {
		if cur == s {
			return true
		}
	}
	return false
}

func (r *Registry) depth(ds DataSource) int {
	r.mtx.Lock()
	defer r.mtx.Unlock()
	return len(r.stacks[ds])
}

func (r *Registry) top(ds DataSource) *TransactionStatus {
	r.mtx.Lock()
	defer r.mtx.Unlock()
	stack := r.stacks[ds]
	if len(stack) == 0 {
		return nil
	}
	return stack[len(stack)-1]
}

func (r *Registry) bottom(ds DataSource) *TransactionStatus {
	r.mtx.Lock()
	defer r.mtx.Unlock()
	stack := r.stacks[ds]
	if len(stack) == 0 {
		return nil
	}
	return stack[0]
}

// above returns the statuses begun after s, newest first.
func (r *Registry) above(ds DataSource, s *TransactionStatus) []*TransactionStatus {
	r.mtx.Lock()
	defer r.mtx.Unlock()
	stack := r.stacks[ds]
	var ret []*TransactionStatus
	for i := len(stack) - 1; i >= 0 && stack[i] != s; i-- {
		ret = append(ret, stack[i])
	}
	return ret
}
