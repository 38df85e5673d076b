package txn

import (
	"context"
	"fmt"
	"strings"
)

// Propagation decides how a new transactional scope relates to the transaction
// already bound to the execution context.
type Propagation int

const (
	// PropagationRequired joins the existing transaction, or starts a new one if there is none.
	PropagationRequired Propagation = iota
	// PropagationRequiresNew suspends the existing transaction, if any, and always starts a new one.
	PropagationRequiresNew
	// PropagationNested marks a savepoint in the existing transaction. Without one it behaves like
	// PropagationRequired.
	PropagationNested
	// PropagationSupports joins the existing transaction, or runs without one.
	PropagationSupports
	// PropagationNotSupported suspends the existing transaction, if any, and runs without one.
	PropagationNotSupported
	// PropagationNever runs without a transaction and fails if one exists.
	PropagationNever
	// PropagationMandatory joins the existing transaction and fails if there is none.
	PropagationMandatory
)

var propagationNames = map[Propagation]string{
	PropagationRequired:     "REQUIRED",
	PropagationRequiresNew:  "REQUIRES_NEW",
	PropagationNested:       "NESTED",
	PropagationSupports:     "SUPPORTS",
	PropagationNotSupported: "NOT_SUPPORTED",
	PropagationNever:        "NEVER",
	PropagationMandatory:    "MANDATORY",
}

func (p Propagation) String() string {
	if s, ok := propagationNames[p]; ok {
		return s
	}
	return fmt.Sprintf("Propagation(%d)", int(p))
}

// ParsePropagation accepts the names returned by Propagation.String, case-insensitive.
func ParsePropagation(s string) (Propagation, error) {
	name := strings.ToUpper(strings.ReplaceAll(strings.TrimSpace(s), "-", "_"))
	for p, n := range propagationNames {
		if n == name {
			return p, nil
		}
	}
	return PropagationRequired, fmt.Errorf("unknown propagation %q", s)
}

// Isolation is the transaction isolation level requested for a new transaction.
type Isolation int

const (
	// IsolationDefault keeps whatever level the connection already uses.
	IsolationDefault Isolation = iota
	IsolationReadUncommitted
	IsolationReadCommitted
	IsolationRepeatableRead
	IsolationSerializable
)

var isolationNames = map[Isolation]string{
	IsolationDefault:         "DEFAULT",
	IsolationReadUncommitted: "READ_UNCOMMITTED",
	IsolationReadCommitted:   "READ_COMMITTED",
	IsolationRepeatableRead:  "REPEATABLE_READ",
	IsolationSerializable:    "SERIALIZABLE",
}

func (i Isolation) String() string {
	if s, ok := isolationNames[i]; ok {
		return s
	}
	return fmt.Sprintf("Isolation(%d)", int(i))
}

// ParseIsolation accepts the names returned by Isolation.String, case-insensitive.
func ParseIsolation(s string) (Isolation, error) {
	name := strings.ToUpper(strings.ReplaceAll(strings.TrimSpace(s), "-", "_"))
	for i, n := range isolationNames {
		if n == name {
			return i, nil
		}
	}
	return IsolationDefault, fmt.Errorf("unknown isolation %q", s)
}

// Savepoint is an opaque handle produced by Connection.SetSavepoint. It must be comparable.
type Savepoint any

// Connection is one physical connection. It is only ever used by the execution
// context whose holder owns it.
type Connection interface {
	// Begin leaves auto-commit mode and starts a physical transaction.
	Begin(ctx context.Context) error
	Commit(ctx context.Context) error
	Rollback(ctx context.Context) error
	SetSavepoint(ctx context.Context) (Savepoint, error)
	RollbackToSavepoint(ctx context.Context, sp Savepoint) error
	ReleaseSavepoint(ctx context.Context, sp Savepoint) error
	// SetIsolationLevel applies to the next transaction started by Begin.
	SetIsolationLevel(level Isolation) error
	IsolationLevel() Isolation
	SetReadOnly(readOnly bool) error
}

// DataSource produces physical connections, usually from a pool.
type DataSource interface {
	OpenConnection(ctx context.Context) (Connection, error)
	CloseConnection(conn Connection) error
}

// Definition describes the transactional scope requested by Begin.
type Definition struct {
	Propagation Propagation
	Isolation   Isolation
	// ReadOnly hints the connection and makes a new transaction end in rollback.
	ReadOnly bool
}

type DefinitionOption func(*Definition)

func WithPropagation(p Propagation) DefinitionOption {
	return func(d *Definition) {
		d.Propagation = p
	}
}

func WithIsolation(i Isolation) DefinitionOption {
	return func(d *Definition) {
		d.Isolation = i
	}
}

func WithReadOnly() DefinitionOption {
	return func(d *Definition) {
		d.ReadOnly = true
	}
}

// Apply returns a copy of d with opts applied.
func (d Definition) Apply(opts ...DefinitionOption) Definition {
	for _, opt := range opts {
		opt(&d)
	}
	return d
}
