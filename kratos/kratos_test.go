package kratos

import (
	"context"
	"errors"
	"net/http"
	"testing"

	"github.com/go-kratos/kratos/v2/transport"
	"github.com/go-saas/txn"
	"github.com/go-saas/txn/mock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type headerCarrier http.Header

func (hc headerCarrier) Get(key string) string {
	return http.Header(hc).Get(key)
}

func (hc headerCarrier) Set(key string, value string) {
	http.Header(hc).Set(key, value)
}

func (hc headerCarrier) Add(key string, value string) {
	http.Header(hc).Add(key, value)
}

func (hc headerCarrier) Keys() []string {
	keys := make([]string, 0, len(hc))
	for k := range http.Header(hc) {
		keys = append(keys, k)
	}
	return keys
}

func (hc headerCarrier) Values(key string) []string {
	return http.Header(hc).Values(key)
}

type testTransport struct {
	operation string
}

func (t *testTransport) Kind() transport.Kind {
	return transport.KindGRPC
}

func (t *testTransport) Endpoint() string {
	return ""
}

func (t *testTransport) Operation() string {
	return t.operation
}

func (t *testTransport) RequestHeader() transport.Header {
	return headerCarrier{}
}

func (t *testTransport) ReplyHeader() transport.Header {
	return headerCarrier{}
}

var fakeError = errors.New("fake error")

type call struct {
	inTxn bool
}

func run(t *testing.T, ds *mock.DataSource, operation string, fail bool, opts ...Option) (*call, error) {
	t.Helper()
	tpl := txn.NewTemplate(txn.NewManager(ds))
	h := Server(tpl, opts...)(func(ctx context.Context, req interface{}) (interface{}, error) {
		_, ok := txn.FromContext(ctx)
		if err := mock.Put(ctx, ds, operation, req.(string)); err != nil {
			return nil, err
		}
		if fail {
			return nil, fakeError
		}
		return &call{inTxn: ok}, nil
	})
	ctx := transport.NewServerContext(context.Background(), &testTransport{operation: operation})
	res, err := h(ctx, "req")
	if err != nil {
		return nil, err
	}
	return res.(*call), nil
}

func TestCommit(t *testing.T) {
	ds := mock.NewDataSource()
	res, err := run(t, ds, "/api.order.v1.Order/CreateOrder", false)
	require.NoError(t, err)
	assert.True(t, res.inTxn)
	assert.Equal(t, 1, ds.Count(mock.OpCommit))
	assert.Equal(t, []string{"/api.order.v1.Order/CreateOrder"}, ds.CommittedKeys())
}

func TestRollback(t *testing.T) {
	ds := mock.NewDataSource()
	_, err := run(t, ds, "/api.order.v1.Order/CreateOrder", true)
	assert.ErrorIs(t, err, fakeError)
	assert.Empty(t, ds.Committed())
	assert.Equal(t, 1, ds.Count(mock.OpRollback))
}

func TestSkipSafeOperation(t *testing.T) {
	for _, op := range []string{"/api.order.v1.Order/GetOrder", "/api.order.v1.Order/ListOrder"} {
		ds := mock.NewDataSource()
		res, err := run(t, ds, op, false)
		require.NoError(t, err)
		assert.False(t, res.inTxn)
		assert.Equal(t, 0, ds.Count(mock.OpBegin))
	}
}

func TestForceSkipOp(t *testing.T) {
	ds := mock.NewDataSource()
	res, err := run(t, ds, "/api.order.v1.Order/CreateOrder", false, WithForceSkipOp("/api.order.v1.Order/CreateOrder"))
	require.NoError(t, err)
	assert.False(t, res.inTxn)
	assert.Equal(t, 0, ds.Count(mock.OpBegin))
}

func TestWithSkip(t *testing.T) {
	ds := mock.NewDataSource()
	res, err := run(t, ds, "/api.order.v1.Order/CreateOrder", false, WithSkip(func(ctx context.Context, req interface{}) bool {
		return true
	}))
	require.NoError(t, err)
	assert.False(t, res.inTxn)
}

func TestWithOperation(t *testing.T) {
	ds := mock.NewDataSource()
	// configured operations are not skipped even when they look safe
	res, err := run(t, ds, "/api.order.v1.Order/GetOrderForUpdate", false,
		WithOperation("/api.order.v1.Order/GetOrderForUpdate", txn.WithIsolation(txn.IsolationSerializable)))
	require.NoError(t, err)
	assert.True(t, res.inTxn)
	assert.Equal(t, 1, ds.Count(mock.OpCommit))

	ds = mock.NewDataSource()
	_, err = run(t, ds, "/api.order.v1.Order/CreateOrder", false, WithDefinition(txn.WithReadOnly()))
	require.NoError(t, err)
	assert.Empty(t, ds.Committed())
}

func TestSkipOperation(t *testing.T) {
	assert.True(t, skipOperation("/api.Order/getOrder"))
	assert.True(t, skipOperation("ListOrders"))
	assert.False(t, skipOperation("/api.Order/CreateOrder"))
}
