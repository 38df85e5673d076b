package txn

import "context"

// Transactional wraps fn so that every call runs in a scope of t, the same way a
// transactional proxy would intercept a method call.
func Transactional[Req any, Resp any](t *Template, fn func(ctx context.Context, req Req) (Resp, error), opts ...DefinitionOption) func(ctx context.Context, req Req) (Resp, error) {
	return func(ctx context.Context, req Req) (Resp, error) {
		return Call(ctx, t, func(ctx context.Context, _ *TransactionStatus) (Resp, error) {
			return fn(ctx, req)
		}, opts...)
	}
}
