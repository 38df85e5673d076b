package txn

import (
	"context"

	"github.com/go-kratos/kratos/v2/log"
	"github.com/google/uuid"
)

// Manager begins and completes transactional scopes on one DataSource. A Manager is
// safe for concurrent use; all per-execution-context state lives in the Registry
// carried by the context.
type Manager interface {
	DataSource() DataSource
	// Begin opens a scope with the given propagation and isolation.
	Begin(ctx context.Context, propagation Propagation, isolation Isolation) (*TransactionStatus, error)
	BeginDefinition(ctx context.Context, def Definition) (*TransactionStatus, error)
	// Commit completes the scope. Scopes begun after it and still open are committed first.
	Commit(ctx context.Context, status *TransactionStatus) error
	// Rollback completes the scope. Scopes begun after it and still open are rolled back first.
	Rollback(ctx context.Context, status *TransactionStatus) error
	// CommitLast commits the most recently begun open scope, if any.
	CommitLast(ctx context.Context) error
	// RollbackLast rolls back the most recently begun open scope, if any.
	RollbackLast(ctx context.Context) error
	// HasTransaction reports open scopes in the execution context, suspended ones included.
	HasTransaction(ctx context.Context) bool
	IsTopTransaction(ctx context.Context, status *TransactionStatus) bool
	// Close commits every open scope of the execution context, oldest last.
	Close(ctx context.Context) error
}

type IdGenerator func(ctx context.Context) string

var (
	DefaultIdGenerator IdGenerator = func(ctx context.Context) string {
		return uuid.New().String()
	}
)

type manager struct {
	ds  DataSource
	cfg *Config
	log *log.Helper
}

var _ Manager = (*manager)(nil)

type Config struct {
	// Definition is used by templates when a call does not override it.
	Definition Definition
	logger     log.Logger
	idGen      IdGenerator
}

type Option func(*Config)

func WithLogger(logger log.Logger) Option {
	return func(config *Config) {
		config.logger = logger
	}
}

func WithIdGenerator(idGen IdGenerator) Option {
	return func(config *Config) {
		config.idGen = idGen
	}
}

// WithDefaultDefinition changes the definition templates of the manager start from.
func WithDefaultDefinition(opts ...DefinitionOption) Option {
	return func(config *Config) {
		config.Definition = config.Definition.Apply(opts...)
	}
}

func newConfig(opts ...Option) *Config {
	cfg := &Config{
		Definition: Definition{Propagation: PropagationRequired, Isolation: IsolationDefault},
		logger:     log.DefaultLogger,
		idGen:      DefaultIdGenerator,
	}
	for _, opt := range opts {
		opt(cfg)
	}
	return cfg
}

func NewManager(ds DataSource, opts ...Option) Manager {
	cfg := newConfig(opts...)
	return &manager{
		ds:  ds,
		cfg: cfg,
		log: log.NewHelper(log.With(cfg.logger, "module", "txn")),
	}
}

func (m *manager) DataSource() DataSource {
	return m.ds
}

func (m *manager) Begin(ctx context.Context, propagation Propagation, isolation Isolation) (*TransactionStatus, error) {
	return m.BeginDefinition(ctx, Definition{Propagation: propagation, Isolation: isolation})
}

func (m *manager) HasTransaction(ctx context.Context) bool {
	reg, ok := FromContext(ctx)
	if !ok {
		return false
	}
	return reg.depth(m.ds) > 0
}

func (m *manager) IsTopTransaction(ctx context.Context, status *TransactionStatus) bool {
	reg, ok := FromContext(ctx)
	if !ok || status == nil {
		return false
	}
	return reg.top(m.ds) == status
}

func (m *manager) CommitLast(ctx context.Context) error {
	reg, ok := FromContext(ctx)
	if !ok {
		return nil
	}
	if last := reg.top(m.ds); last != nil {
		return last.manager.Commit(ctx, last)
	}
	return nil
}

func (m *manager) RollbackLast(ctx context.Context) error {
	reg, ok := FromContext(ctx)
	if !ok {
		return nil
	}
	if last := reg.top(m.ds); last != nil {
		return last.manager.Rollback(ctx, last)
	}
	return nil
}

func (m *manager) Close(ctx context.Context) error {
	reg, ok := FromContext(ctx)
	if !ok {
		return nil
	}
	first := reg.bottom(m.ds)
	if first == nil {
		return nil
	}
	m.log.Warnf("[txn] closing with %d open transaction(s), committing them", reg.depth(m.ds))
	return first.manager.Commit(ctx, first)
}
