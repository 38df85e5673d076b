package http

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-saas/txn"
	"github.com/go-saas/txn/mock"
	"github.com/stretchr/testify/assert"
)

var fakeError = errors.New("fake error")

func encodeError(w http.ResponseWriter, r *http.Request, err error) {
	if err != nil {
		w.WriteHeader(http.StatusInternalServerError)
	}
}

func newHandler(ds *mock.DataSource, fail bool, opts ...Option) http.Handler {
	tpl := txn.NewTemplate(txn.NewManager(ds))
	opts = append([]Option{WithErrorEncoder(encodeError)}, opts...)
	return Transactional(tpl, func(w http.ResponseWriter, r *http.Request) error {
		if _, ok := txn.FromContext(r.Context()); ok {
			w.Header().Set("X-Txn", "1")
		}
		if err := mock.Put(r.Context(), ds, r.URL.Path, r.Method); err != nil {
			return err
		}
		if fail {
			return fakeError
		}
		return nil
	}, opts...)
}

func TestCommit(t *testing.T) {
	ds := mock.NewDataSource()
	rec := httptest.NewRecorder()
	newHandler(ds, false).ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/orders", nil))

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "1", rec.Header().Get("X-Txn"))
	assert.Equal(t, map[string]string{"/orders": http.MethodPost}, ds.Committed())
	assert.Equal(t, 1, ds.Count(mock.OpCommit))
}

func TestRollback(t *testing.T) {
	ds := mock.NewDataSource()
	rec := httptest.NewRecorder()
	newHandler(ds, true).ServeHTTP(rec, httptest.NewRequest(http.MethodPut, "/orders", nil))

	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Empty(t, ds.Committed())
	assert.Equal(t, 1, ds.Count(mock.OpRollback))
}

func TestSafeMethodSkips(t *testing.T) {
	ds := mock.NewDataSource()
	rec := httptest.NewRecorder()
	newHandler(ds, true).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/orders", nil))

	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Empty(t, rec.Header().Get("X-Txn"))
	// auto-commit, nothing to roll back
	assert.Equal(t, map[string]string{"/orders": http.MethodGet}, ds.Committed())
	assert.Equal(t, 0, ds.Count(mock.OpBegin))
}

func TestWithSkip(t *testing.T) {
	ds := mock.NewDataSource()
	rec := httptest.NewRecorder()
	h := newHandler(ds, false, WithSkip(func(r *http.Request) bool {
		return false
	}))
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/orders", nil))

	assert.Equal(t, "1", rec.Header().Get("X-Txn"))
	assert.Equal(t, 1, ds.Count(mock.OpCommit))
}

func TestWithDefinition(t *testing.T) {
	ds := mock.NewDataSource()
	rec := httptest.NewRecorder()
	h := newHandler(ds, false, WithDefinition(txn.WithReadOnly()))
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/orders", nil))

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Empty(t, ds.Committed())
	assert.Equal(t, 0, ds.Count(mock.OpCommit))
}
