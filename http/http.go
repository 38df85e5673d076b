package http

import (
	"context"
	"net/http"
	"slices"

	"github.com/go-saas/txn"
)

var (
	SafeMethods = []string{"GET", "HEAD", "OPTIONS", "TRACE"}
)

// SkipFunc identity whether a request should skip run into transaction
type SkipFunc func(r *http.Request) bool

// EncodeErrorFunc how to encode error when a transaction rollback
type EncodeErrorFunc func(http.ResponseWriter, *http.Request, error)

type HandlerFunc func(w http.ResponseWriter, r *http.Request) error

type option struct {
	skip       SkipFunc
	def        []txn.DefinitionOption
	errEncoder EncodeErrorFunc
}

type Option func(*option)

// WithSkip change the skip transaction function. default will skip SafeMethods like "GET", "HEAD", "OPTIONS", "TRACE"
func WithSkip(f SkipFunc) Option {
	return func(o *option) {
		o.skip = f
	}
}

// WithDefinition overrides the template definition for wrapped requests
func WithDefinition(opts ...txn.DefinitionOption) Option {
	return func(o *option) {
		o.def = opts
	}
}

// WithErrorEncoder error encoder. default will not encode any error
func WithErrorEncoder(f EncodeErrorFunc) Option {
	return func(o *option) {
		o.errEncoder = f
	}
}

// Transactional wrap HandlerFunc so that each request runs in a transactional scope of tpl
func Transactional(tpl *txn.Template, handler HandlerFunc, opts ...Option) http.Handler {
	opt := &option{
		skip: func(r *http.Request) bool {
			return slices.Contains(SafeMethods, r.Method)
		},
		errEncoder: func(w http.ResponseWriter, r *http.Request, err error) {
			//skip
		},
	}
	for _, o := range opts {
		o(opt)
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if opt.skip(r) {
			err := handler(w, r)
			opt.errEncoder(w, r, err)
			return
		}
		//run into transaction
		err := tpl.Execute(r.Context(), func(ctx context.Context, _ *txn.TransactionStatus) error {
			return handler(w, r.WithContext(ctx))
		}, opt.def...)
		opt.errEncoder(w, r, err)
	})
}
