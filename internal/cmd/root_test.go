package cmd

import (
	"bytes"
	"path/filepath"
	"testing"

	kitlog "github.com/go-kit/log"
	"github.com/go-kit/log/level"
	"github.com/go-kratos/kratos/v2/log"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestKitLogger(t *testing.T) {
	var buf bytes.Buffer
	logger := newKitLogger(level.NewFilter(kitlog.NewLogfmtLogger(&buf), level.AllowInfo()))
	h := log.NewHelper(logger)

	h.Debug("hidden")
	h.Info("shown")
	h.Errorw("msg", "boom", "tx", "abc")

	assert.NotContains(t, buf.String(), "hidden")
	assert.Contains(t, buf.String(), "level=info msg=shown")
	assert.Contains(t, buf.String(), "level=error msg=boom tx=abc")
}

func TestRootCommand(t *testing.T) {
	root := NewRootCmd()
	var out bytes.Buffer
	root.SetOut(&out)

	root.SetArgs([]string{"scenarios"})
	require.NoError(t, root.Execute())
	assert.Contains(t, out.String(), "requires-new")
	assert.Contains(t, out.String(), "mandatory")

	out.Reset()
	dsn := filepath.Join(t.TempDir(), "txnctl.db") + "?_busy_timeout=5000"
	root.SetArgs([]string{"scenario", "requires-new", "--dsn", dsn})
	require.NoError(t, root.Execute())
	assert.Contains(t, out.String(), "visible:  [audit]")
	assert.Contains(t, out.String(), "outcome:  business rule violated")

	out.Reset()
	root.SetArgs([]string{"scenario", "optional", "--dsn", dsn})
	assert.Error(t, root.Execute())
}
