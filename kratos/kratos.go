package kratos

import (
	"context"
	"slices"
	"strings"

	"github.com/go-kratos/kratos/v2/log"
	"github.com/go-kratos/kratos/v2/middleware"
	"github.com/go-kratos/kratos/v2/middleware/selector"
	"github.com/go-kratos/kratos/v2/transport"
	"github.com/go-kratos/kratos/v2/transport/http"
	"github.com/go-saas/txn"
	thttp "github.com/go-saas/txn/http"
)

// SkipFunc identity whether a request should skip run into transaction
type SkipFunc func(ctx context.Context, req interface{}) bool

type option struct {
	skip    SkipFunc
	def     []txn.DefinitionOption
	ops     map[string][]txn.DefinitionOption
	skipOps []string
}

type Option func(*option)

// WithSkip change the skip transaction function.
//
// default request will skip operation method prefixed by "get" and "list" (case-insensitive)
// default http request will skip safeMethods like "GET", "HEAD", "OPTIONS", "TRACE"
func WithSkip(f SkipFunc) Option {
	return func(o *option) {
		o.skip = f
	}
}

// WithForceSkipOp use selector.Server to skip operation
func WithForceSkipOp(ops ...string) Option {
	return func(o *option) {
		o.skipOps = ops
	}
}

// WithDefinition overrides the template definition for every wrapped operation
func WithDefinition(opts ...txn.DefinitionOption) Option {
	return func(o *option) {
		o.def = opts
	}
}

// WithOperation sets the definition of one operation. A configured operation is never
// skipped by the skip function.
func WithOperation(operation string, opts ...txn.DefinitionOption) Option {
	return func(o *option) {
		o.ops[operation] = opts
	}
}

func DefaultSkip() func(ctx context.Context, req interface{}) bool {
	return func(ctx context.Context, req interface{}) bool {
		if t, ok := transport.FromServerContext(ctx); ok {
			//resolve by operation
			if len(t.Operation()) > 0 && skipOperation(t.Operation()) {
				log.Debugf("[txn] safe operation %s. skip transaction", t.Operation())
				return true
			}
			// can not identify
			if ht, ok := t.(*http.Transport); ok {
				if slices.Contains(thttp.SafeMethods, ht.Request().Method) {
					//safe method skip transaction
					log.Debugf("[txn] safe method %s. skip transaction", ht.Request().Method)
					return true
				}
			}
			return false
		}
		return false
	}
}

// Server transaction middleware. Each operation runs in a scope of tpl
func Server(tpl *txn.Template, opts ...Option) middleware.Middleware {
	opt := &option{
		skip: DefaultSkip(),
		ops:  map[string][]txn.DefinitionOption{},
	}
	for _, o := range opts {
		o(opt)
	}
	return selector.Server(func(next middleware.Handler) middleware.Handler {
		return func(ctx context.Context, req interface{}) (interface{}, error) {
			def, configured := opt.definition(ctx)
			if !configured && opt.skip(ctx, req) {
				return next(ctx, req)
			}
			var res interface{}
			// wrap into transaction
			log.Debugf("[txn] run into transaction")
			err := tpl.Execute(ctx, func(ctx context.Context, _ *txn.TransactionStatus) error {
				var err error
				res, err = next(ctx, req)
				return err
			}, def...)
			return res, err
		}
	}).Match(func(ctx context.Context, operation string) bool {
		return !slices.Contains(opt.skipOps, operation)
	}).Build()
}

func (o *option) definition(ctx context.Context) ([]txn.DefinitionOption, bool) {
	if t, ok := transport.FromServerContext(ctx); ok {
		if def, ok := o.ops[t.Operation()]; ok {
			return def, true
		}
	}
	return o.def, false
}

// skipOperation return true if operation action start with "get" and "list" (case-insensitive)
func skipOperation(operation string) bool {
	s := strings.Split(operation, "/")
	act := strings.ToLower(s[len(s)-1])
	return strings.HasPrefix(act, "get") || strings.HasPrefix(act, "list")
}
