package scenario

import (
	"context"
	"database/sql"
	"path/filepath"
	"testing"

	"github.com/go-kratos/kratos/v2/log"
	"github.com/go-saas/txn"
	txsql "github.com/go-saas/txn/sql"
	_ "github.com/mattn/go-sqlite3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newEnv(t *testing.T) *Env {
	db, err := sql.Open("sqlite3", filepath.Join(t.TempDir(), "scenario.db")+"?_journal_mode=WAL&_busy_timeout=5000")
	require.NoError(t, err)
	t.Cleanup(func() {
		_ = db.Close()
	})
	ds := txsql.NewDataSource(db)
	return NewEnv(ds, txn.NewTemplate(txn.NewManager(ds)), log.DefaultLogger)
}

func TestScenarios(t *testing.T) {
	env := newEnv(t)
	wantErr := map[string]error{
		"required-rollback": txn.ErrUnexpectedRollback,
		"requires-new":      errBusiness,
		"nested":            nil,
		"never":             txn.ErrIllegalTransactionState,
		"mandatory":         txn.ErrIllegalTransactionState,
		"supports":          errBusiness,
	}
	require.Len(t, All(), len(wantErr))
	for _, s := range All() {
		t.Run(s.Name, func(t *testing.T) {
			res, err := env.Run(context.Background(), s)
			require.NoError(t, err)
			if want := wantErr[s.Name]; want != nil {
				assert.ErrorIs(t, res.Err, want)
			} else {
				assert.NoError(t, res.Err)
			}
			assert.Equal(t, s.Expect, res.Rows)
			assert.True(t, res.OK())
		})
	}
}

func TestLookup(t *testing.T) {
	s, err := Lookup("nested")
	require.NoError(t, err)
	assert.Equal(t, "nested", s.Name)

	_, err = Lookup("optional")
	assert.ErrorIs(t, err, ErrUnknownScenario)
}
