// Package scenario holds the propagation walkthroughs run by txnctl. Every scenario
// writes named rows into one table and reports which of them survived.
package scenario

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sort"

	"github.com/go-kratos/kratos/v2/log"
	"github.com/go-saas/txn"
	txsql "github.com/go-saas/txn/sql"
)

var ErrUnknownScenario = errors.New("unknown scenario")

var errBusiness = errors.New("business rule violated")

// Env is what a scenario runs against.
type Env struct {
	DS       *txsql.DataSource
	Template *txn.Template
	log      *log.Helper
}

func NewEnv(ds *txsql.DataSource, tpl *txn.Template, logger log.Logger) *Env {
	return &Env{
		DS:       ds,
		Template: tpl,
		log:      log.NewHelper(log.With(logger, "module", "txnctl/scenario")),
	}
}

type Scenario struct {
	Name        string
	Description string
	// Expect lists the rows that must be visible afterwards.
	Expect []string
	run    func(ctx context.Context, env *Env) error
}

// Result is the outcome of one run. Err is the error the outermost scope returned,
// which several scenarios expect.
type Result struct {
	Scenario *Scenario
	Err      error
	Rows     []string
}

// OK reports whether the visible rows are the expected ones.
func (r *Result) OK() bool {
	if len(r.Rows) != len(r.Scenario.Expect) {
		return false
	}
	for i := range r.Rows {
		if r.Rows[i] != r.Scenario.Expect[i] {
			return false
		}
	}
	return true
}

func (e *Env) insert(ctx context.Context, name string) error {
	e.log.Debugf("insert %s", name)
	_, err := txsql.Exec(ctx, e.DS, "INSERT INTO scenario_row (name) VALUES (?)", name)
	return err
}

func (e *Env) execute(ctx context.Context, p txn.Propagation, work func(ctx context.Context) error) error {
	return e.Template.Execute(ctx, func(ctx context.Context, _ *txn.TransactionStatus) error {
		return work(ctx)
	}, txn.WithPropagation(p))
}

var scenarios = []*Scenario{
	{
		Name:        "required-rollback",
		Description: "an inner REQUIRED scope fails and its error is swallowed; the shared transaction still rolls back",
		Expect:      []string{},
		run: func(ctx context.Context, env *Env) error {
			return env.execute(ctx, txn.PropagationRequired, func(ctx context.Context) error {
				if err := env.insert(ctx, "order"); err != nil {
					return err
				}
				err := env.execute(ctx, txn.PropagationRequired, func(ctx context.Context) error {
					if err := env.insert(ctx, "line"); err != nil {
						return err
					}
					return errBusiness
				})
				env.log.Infof("inner scope failed: %v", err)
				return nil
			})
		},
	},
	{
		Name:        "requires-new",
		Description: "an audit row written in REQUIRES_NEW survives the rollback of the outer transaction",
		Expect:      []string{"audit"},
		run: func(ctx context.Context, env *Env) error {
			return env.execute(ctx, txn.PropagationRequired, func(ctx context.Context) error {
				err := env.execute(ctx, txn.PropagationRequiresNew, func(ctx context.Context) error {
					return env.insert(ctx, "audit")
				})
				if err != nil {
					return err
				}
				if err := env.insert(ctx, "order"); err != nil {
					return err
				}
				return errBusiness
			})
		},
	},
	{
		Name:        "nested",
		Description: "a failing NESTED scope rolls back to its savepoint and the outer transaction commits",
		Expect:      []string{"order"},
		run: func(ctx context.Context, env *Env) error {
			return env.execute(ctx, txn.PropagationRequired, func(ctx context.Context) error {
				if err := env.insert(ctx, "order"); err != nil {
					return err
				}
				err := env.execute(ctx, txn.PropagationNested, func(ctx context.Context) error {
					if err := env.insert(ctx, "line"); err != nil {
						return err
					}
					return errBusiness
				})
				env.log.Infof("nested scope failed: %v", err)
				return nil
			})
		},
	},
	{
		Name:        "never",
		Description: "a NEVER scope refuses to run inside a transaction, which then rolls back",
		Expect:      []string{},
		run: func(ctx context.Context, env *Env) error {
			return env.execute(ctx, txn.PropagationRequired, func(ctx context.Context) error {
				if err := env.insert(ctx, "order"); err != nil {
					return err
				}
				return env.execute(ctx, txn.PropagationNever, func(ctx context.Context) error {
					return env.insert(ctx, "report")
				})
			})
		},
	},
	{
		Name:        "mandatory",
		Description: "a MANDATORY scope refuses to run without a transaction",
		Expect:      []string{},
		run: func(ctx context.Context, env *Env) error {
			return env.execute(ctx, txn.PropagationMandatory, func(ctx context.Context) error {
				return env.insert(ctx, "order")
			})
		},
	},
	{
		Name:        "supports",
		Description: "a SUPPORTS scope without a transaction auto-commits, so its failure undoes nothing",
		Expect:      []string{"order"},
		run: func(ctx context.Context, env *Env) error {
			return env.execute(ctx, txn.PropagationSupports, func(ctx context.Context) error {
				if err := env.insert(ctx, "order"); err != nil {
					return err
				}
				return errBusiness
			})
		},
	},
}

// All returns the scenarios in display order.
func All() []*Scenario {
	return scenarios
}

func Lookup(name string) (*Scenario, error) {
	for _, s := range scenarios {
		if s.Name == name {
			return s, nil
		}
	}
	return nil, fmt.Errorf("%w: %s", ErrUnknownScenario, name)
}

// Run resets the table, runs s and collects the rows left behind.
func (e *Env) Run(ctx context.Context, s *Scenario) (*Result, error) {
	if err := e.reset(ctx); err != nil {
		return nil, err
	}
	e.log.Infof("running scenario %s", s.Name)
	res := &Result{Scenario: s, Err: s.run(ctx, e)}
	rows, err := e.rows(ctx)
	if err != nil {
		return nil, err
	}
	res.Rows = rows
	return res, nil
}

func (e *Env) reset(ctx context.Context) error {
	for _, stmt := range []string{
		"CREATE TABLE IF NOT EXISTS scenario_row (name TEXT PRIMARY KEY NOT NULL)",
		"DELETE FROM scenario_row",
	} {
		if _, err := txsql.Exec(ctx, e.DS, stmt); err != nil {
			return fmt.Errorf("reset scenario table: %w", err)
		}
	}
	return nil
}

func (e *Env) rows(ctx context.Context) ([]string, error) {
	rows := []string{}
	err := txsql.Query(ctx, e.DS, "SELECT name FROM scenario_row", nil, func(r *sql.Rows) error {
		var name string
		if err := r.Scan(&name); err != nil {
			return err
		}
		rows = append(rows, name)
		return nil
	})
	sort.Strings(rows)
	return rows, err
}
