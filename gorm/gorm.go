package gorm

import (
	"context"
	"errors"

	"github.com/go-saas/txn"
	txsql "github.com/go-saas/txn/sql"
	"gorm.io/gorm"
)

// ReleaseFunc gives the connection behind a session back to its holder.
type ReleaseFunc func() error

// DB returns a session of base bound to the current connection of ds in ctx: the running
// transaction if there is one, the bare connection otherwise. The session must not be
// used after release.
func DB(ctx context.Context, base *gorm.DB, ds *txsql.DataSource) (*gorm.DB, ReleaseFunc, error) {
	h, err := txn.CurrentConnection(ctx, ds)
	if err != nil {
		return nil, nil, err
	}
	exec, err := txsql.ExecutorOf(h)
	if err != nil {
		return nil, nil, errors.Join(err, h.Release())
	}
	// see https://github.com/go-gorm/gorm/blob/f3c6fc253356919e8ebbcf7bc50e8c7fe88802aa/finisher_api.go#L615-L655
	db := base.Session(&gorm.Session{Context: ctx, NewDB: true})
	db.Statement.ConnPool = exec
	return db, h.Release, nil
}

// WithDB runs fn with a session from DB and releases it afterwards.
func WithDB(ctx context.Context, base *gorm.DB, ds *txsql.DataSource, fn func(db *gorm.DB) error) (err error) {
	db, release, err := DB(ctx, base, ds)
	if err != nil {
		return err
	}
	defer func() {
		if rerr := release(); rerr != nil && err == nil {
			err = rerr
		}
	}()
	return fn(db)
}
