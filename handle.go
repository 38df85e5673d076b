package txn

import "context"

// ConnectionHandle is what statement-execution code receives instead of the physical
// connection. Release is the only way to give it back; the connection itself is
// closed by its holder once nobody references it.
type ConnectionHandle struct {
	registry *Registry
	holder   *ConnectionHolder
	released bool
}

// CurrentConnection returns a handle on the connection bound to ds in the execution
// context of ctx. Without a bound holder an implicit, non-transactional one is
// created. Without a registry in ctx the handle uses a private one, so the connection
// is closed on release.
func CurrentConnection(ctx context.Context, ds DataSource) (*ConnectionHandle, error) {
	reg, ok := FromContext(ctx)
	if !ok {
		reg = NewRegistry()
	}
	h, err := reg.Acquire(ctx, ds)
	if err != nil {
		return nil, err
	}
	return &ConnectionHandle{registry: reg, holder: h}, nil
}

// WithConnection runs fn with the current connection of ds and releases it on every
// exit path.
func WithConnection(ctx context.Context, ds DataSource, fn func(ctx context.Context, conn Connection) error) (err error) {
	h, err := CurrentConnection(ctx, ds)
	if err != nil {
		return err
	}
	defer func() {
		if rerr := h.Release(); rerr != nil && err == nil {
			err = rerr
		}
	}()
	return fn(ctx, h.Connection())
}

// Connection returns nil after Release.
func (c *ConnectionHandle) Connection() Connection {
	if c.released {
		return nil
	}
	return c.holder.conn
}

func (c *ConnectionHandle) Holder() *ConnectionHolder {
	return c.holder
}

// InTransaction reports whether statements issued through the handle run in a transaction.
func (c *ConnectionHandle) InTransaction() bool {
	return !c.released && c.holder.transactionActive
}

// Release must be called exactly once per CurrentConnection.
func (c *ConnectionHandle) Release() error {
	if c.released {
		return ErrHandleReleased
	}
	c.released = true
	return c.registry.Release(c.holder)
}
