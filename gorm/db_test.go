package gorm

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/go-kratos/kratos/v2/log"
	"github.com/go-saas/txn"
	txsql "github.com/go-saas/txn/sql"
	"github.com/mattn/go-sqlite3"
	sqldblogger "github.com/simukti/sqldb-logger"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
)

type post struct {
	gorm.Model
}

var (
	client *gorm.DB
	ds     *txsql.DataSource
	tpl    *txn.Template
)

func TestMain(m *testing.M) {
	dir, err := os.MkdirTemp("", "txn-gorm")
	if err != nil {
		panic(err)
	}
	dsn := filepath.Join(dir, "test.db") + "?_journal_mode=WAL&_busy_timeout=5000"
	db := sqldblogger.OpenDriver(dsn, &sqlite3.SQLiteDriver{}, txsql.NewQueryLogger(log.DefaultLogger))

	client, err = gorm.Open(&sqlite.Dialector{
		DriverName: sqlite.DriverName,
		Conn:       db,
	}, &gorm.Config{SkipDefaultTransaction: true})
	if err != nil {
		panic(err)
	}

	err = client.AutoMigrate(&post{})
	if err != nil {
		panic(err)
	}

	ds = txsql.NewDataSource(db)
	tpl = txn.NewTemplate(txn.NewManager(ds))

	exitCode := m.Run()
	_ = db.Close()
	_ = os.RemoveAll(dir)
	os.Exit(exitCode)
}

var fakeError = fmt.Errorf("fake error")

func create(ctx context.Context, id uint) error {
	return WithDB(ctx, client, ds, func(db *gorm.DB) error {
		return db.Create(&post{gorm.Model{ID: id}}).Error
	})
}

func found(t *testing.T, id uint) bool {
	var n int64
	require.NoError(t, client.Model(&post{}).Where("id = ?", id).Count(&n).Error)
	return n == 1
}

func TestCommit(t *testing.T) {
	err := tpl.Execute(context.Background(), func(ctx context.Context, _ *txn.TransactionStatus) error {
		return create(ctx, 1001)
	})
	assert.NoError(t, err)

	p := &post{}
	err = client.Find(p, "id = ?", 1001).Error
	assert.NoError(t, err)
	assert.Equal(t, uint(1001), p.ID)
}

func TestRollback(t *testing.T) {
	err := tpl.Execute(context.Background(), func(ctx context.Context, _ *txn.TransactionStatus) error {
		err := create(ctx, 1000)
		assert.NoError(t, err)
		//just return fake err to trigger transaction rollback
		return fakeError
	})
	assert.ErrorIs(t, err, fakeError)
	assert.False(t, found(t, 1000))

	assert.PanicsWithValue(t, fakeError, func() {
		_ = tpl.Execute(context.Background(), func(ctx context.Context, _ *txn.TransactionStatus) error {
			err := create(ctx, 2000)
			assert.NoError(t, err)
			panic(fakeError)
		})
	})
	assert.False(t, found(t, 2000))
}

func TestNested(t *testing.T) {
	//level 1
	err := tpl.Execute(context.Background(), func(ctx context.Context, _ *txn.TransactionStatus) error {
		err := create(ctx, 1002)
		assert.NoError(t, err)

		//level 2
		err = tpl.Execute(ctx, func(ctx context.Context, status *txn.TransactionStatus) error {
			assert.False(t, status.IsNewTransaction())
			err := create(ctx, 1003)
			assert.NoError(t, err)

			//level 3
			err = tpl.Execute(ctx, func(ctx context.Context, _ *txn.TransactionStatus) error {
				return create(ctx, 1004)
			})
			assert.NoError(t, err)
			return err
		})
		assert.NoError(t, err)
		return err
	})
	assert.NoError(t, err)
	for _, id := range []uint{1002, 1003, 1004} {
		assert.True(t, found(t, id))
	}
}

func TestNestedSavepoint(t *testing.T) {
	err := tpl.Execute(context.Background(), func(ctx context.Context, _ *txn.TransactionStatus) error {
		if err := create(ctx, 4002); err != nil {
			return err
		}
		err := tpl.Execute(ctx, func(ctx context.Context, _ *txn.TransactionStatus) error {
			if err := create(ctx, 4003); err != nil {
				return err
			}
			return fakeError
		}, txn.WithPropagation(txn.PropagationNested))
		assert.ErrorIs(t, err, fakeError)
		return nil
	})
	assert.NoError(t, err)
	assert.True(t, found(t, 4002))
	assert.False(t, found(t, 4003))
}

func TestRequiresNew(t *testing.T) {
	err := tpl.Execute(context.Background(), func(ctx context.Context, _ *txn.TransactionStatus) error {
		err := tpl.Execute(ctx, func(ctx context.Context, _ *txn.TransactionStatus) error {
			return create(ctx, 5001)
		}, txn.WithPropagation(txn.PropagationRequiresNew))
		if err != nil {
			return err
		}
		if err := create(ctx, 5002); err != nil {
			return err
		}
		return fakeError
	})
	assert.ErrorIs(t, err, fakeError)
	assert.True(t, found(t, 5001))
	assert.False(t, found(t, 5002))
}

func TestGormNested(t *testing.T) {
	err := tpl.Execute(context.Background(), func(ctx context.Context, _ *txn.TransactionStatus) error {
		return WithDB(ctx, client, ds, func(db *gorm.DB) error {
			err := db.Create(&post{gorm.Model{ID: 3002}}).Error
			if err != nil {
				return err
			}
			// gorm uses a savepoint inside the running transaction
			err = db.Transaction(func(db *gorm.DB) error {
				if err := db.Create(&post{gorm.Model{ID: 3004}}).Error; err != nil {
					return err
				}
				return fakeError
			})
			assert.ErrorIs(t, err, fakeError)
			return db.Transaction(func(db *gorm.DB) error {
				return db.Create(&post{gorm.Model{ID: 3005}}).Error
			})
		})
	})
	require.NoError(t, err)
	assert.True(t, found(t, 3002))
	assert.False(t, found(t, 3004))
	assert.True(t, found(t, 3005))
}

func TestOutsideTransaction(t *testing.T) {
	db, release, err := DB(context.Background(), client, ds)
	require.NoError(t, err)
	require.NoError(t, db.Create(&post{gorm.Model{ID: 6001}}).Error)
	require.NoError(t, release())
	assert.True(t, found(t, 6001))
}
