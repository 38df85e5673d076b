package sql

import (
	"database/sql"
	"testing"

	"github.com/go-saas/txn"
	"github.com/stretchr/testify/assert"
)

func TestIsolationLevel(t *testing.T) {
	assert.Equal(t, sql.LevelDefault, isolationLevel(txn.IsolationDefault))
	assert.Equal(t, sql.LevelReadUncommitted, isolationLevel(txn.IsolationReadUncommitted))
	assert.Equal(t, sql.LevelReadCommitted, isolationLevel(txn.IsolationReadCommitted))
	assert.Equal(t, sql.LevelRepeatableRead, isolationLevel(txn.IsolationRepeatableRead))
	assert.Equal(t, sql.LevelSerializable, isolationLevel(txn.IsolationSerializable))
}
