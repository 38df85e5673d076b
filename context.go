package txn

import "context"

type registryKey string

var (
	currentKey registryKey = "current"
)

// NewContext binds r to ctx as the registry of the execution context.
func NewContext(ctx context.Context, r *Registry) context.Context {
	return context.WithValue(ctx, currentKey, r)
}

func FromContext(ctx context.Context) (r *Registry, ok bool) {
	r, ok = ctx.Value(currentKey).(*Registry)
	return
}

// EnsureContext returns ctx unchanged if it already carries a registry, otherwise a
// child context bound to a new one.
func EnsureContext(ctx context.Context) (context.Context, *Registry) {
	if r, ok := FromContext(ctx); ok {
		return ctx, r
	}
	r := NewRegistry()
	return NewContext(ctx, r), r
}
