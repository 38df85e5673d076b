package txn

import (
	"context"
	"errors"
	"fmt"

	"github.com/go-kratos/kratos/v2/log"
)

// TransactionCallback is a unit of work run by a Template. The context it receives
// carries the execution context registry.
type TransactionCallback func(ctx context.Context, status *TransactionStatus) error

// Template runs callbacks in transactional scopes of one Manager.
type Template struct {
	manager    Manager
	definition Definition
	logger     log.Logger
	log        *log.Helper
}

type TemplateOption func(*Template)

func WithTemplateLogger(logger log.Logger) TemplateOption {
	return func(t *Template) {
		t.logger = logger
	}
}

// WithTemplateDefinition changes the definition Execute starts from, on top of the
// default definition of the manager.
func WithTemplateDefinition(opts ...DefinitionOption) TemplateOption {
	return func(t *Template) {
		t.definition = t.definition.Apply(opts...)
	}
}

// NewTemplate starts from the logger and default definition of m when m was built by
// NewManager.
func NewTemplate(m Manager, opts ...TemplateOption) *Template {
	cfg := newConfig()
	if mm, ok := m.(*manager); ok {
		cfg = mm.cfg
	}
	t := &Template{
		manager:    m,
		definition: cfg.Definition,
		logger:     cfg.logger,
	}
	for _, opt := range opts {
		opt(t)
	}
	t.log = log.NewHelper(log.With(t.logger, "module", "txn/template"))
	return t
}

func (t *Template) Manager() Manager {
	return t.manager
}

// Execute begins a scope, runs work and completes the scope exactly once: commit when
// work returns nil, rollback when it returns an error, panics or asked for rollback.
// The error of work is always returned; a failed rollback is joined onto it.
func (t *Template) Execute(ctx context.Context, work TransactionCallback, opts ...DefinitionOption) (err error) {
	ctx, _ = EnsureContext(ctx)
	status, err := t.manager.BeginDefinition(ctx, t.definition.Apply(opts...))
	if err != nil {
		return err
	}
	panicked := true
	defer func() {
		if panicked {
			if rerr := t.manager.Rollback(ctx, status); rerr != nil {
				t.log.Errorf("[txn] rolling back transaction %s after panic fail: %v", status.ID(), rerr)
			}
		}
	}()
	if err = work(ctx, status); err != nil {
		panicked = false
		if rerr := t.manager.Rollback(ctx, status); rerr != nil {
			t.log.Errorf("[txn] rolling back transaction %s fail: %v", status.ID(), rerr)
			return errors.Join(err, fmt.Errorf("rolling back transaction fail: %w", rerr))
		}
		return err
	}
	panicked = false
	if status.rollbackOnly || status.readOnly {
		return t.manager.Rollback(ctx, status)
	}
	if cerr := t.manager.Commit(ctx, status); cerr != nil {
		return fmt.Errorf("committing transaction fail: %w", cerr)
	}
	return nil
}

// Call is Execute for units of work that produce a value. The zero value is returned
// with any error.
func Call[T any](ctx context.Context, t *Template, fn func(ctx context.Context, status *TransactionStatus) (T, error), opts ...DefinitionOption) (T, error) {
	var ret T
	err := t.Execute(ctx, func(ctx context.Context, status *TransactionStatus) error {
		var err error
		ret, err = fn(ctx, status)
		return err
	}, opts...)
	if err != nil {
		var zero T
		return zero, err
	}
	return ret, nil
}
