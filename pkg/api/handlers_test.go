package api

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/require"

	"github.com/ssargent/rtbtree/pkg/bytesource"
	"github.com/ssargent/rtbtree/pkg/layout"
	"github.com/ssargent/rtbtree/pkg/rtkey"
	"github.com/ssargent/rtbtree/pkg/rtree"
	"github.com/ssargent/rtbtree/pkg/treebuild"
)

// Prometheus panics on a second registration of the same metric name
// against the default registry, so every test in this package shares one
// Metrics instance rather than each calling NewMetrics().
var (
	testMetricsOnce sync.Once
	testMetrics     *Metrics
)

func sharedTestMetrics() *Metrics {
	testMetricsOnce.Do(func() {
		testMetrics = NewMetrics()
	})
	return testMetrics
}

func newTestTree(t *testing.T) *rtree.Tree {
	t.Helper()
	entries := []treebuild.Entry{
		{Key: rtkey.String("apple"), Values: []layout.Value{{RecordPointer: []byte{1}, Metadata: rtkey.Tuple{rtkey.String("fruit")}}}},
		{Key: rtkey.String("banana"), Values: []layout.Value{{RecordPointer: []byte{2}, Metadata: rtkey.Tuple{rtkey.String("fruit")}}}},
		{Key: rtkey.String("carrot"), Values: []layout.Value{{RecordPointer: []byte{3}, Metadata: rtkey.Tuple{rtkey.String("vegetable")}}}},
	}
	tr, err := rtree.Create(bytesource.NewMemorySource(), rtree.Options{
		Unique:         true,
		MetadataKeys:   []string{"category"},
		InitialEntries: entries,
	})
	require.NoError(t, err)
	return tr
}

func newTestServer(t *testing.T) *Server {
	t.Helper()
	return NewServer(newTestTree(t), ServerConfig{Port: 8080}, sharedTestMetrics())
}

func withChiContext(r *http.Request, rctx *chi.Context) context.Context {
	return context.WithValue(r.Context(), chi.RouteCtxKey, rctx)
}

func TestHandleHealth(t *testing.T) {
	s := newTestServer(t)
	req := httptest.NewRequest(http.MethodGet, "/api/v1/health", nil)
	w := httptest.NewRecorder()

	s.handleHealth(w, req)

	require.Equal(t, http.StatusOK, w.Code)
	require.Contains(t, w.Body.String(), "healthy")
}

func TestHandleFindExactMatch(t *testing.T) {
	s := newTestServer(t)
	req := httptest.NewRequest(http.MethodGet, "/api/v1/keys/apple", nil)
	rctx := chi.NewRouteContext()
	rctx.URLParams.Add("key", "apple")
	req = req.WithContext(withChiContext(req, rctx))
	w := httptest.NewRecorder()

	s.handleFind(w, req)

	require.Equal(t, http.StatusOK, w.Code)
	require.Contains(t, w.Body.String(), "fruit")
}

func TestHandleFindMissingKeyReturnsEmptySuccess(t *testing.T) {
	s := newTestServer(t)
	req := httptest.NewRequest(http.MethodGet, "/api/v1/keys/durian", nil)
	rctx := chi.NewRouteContext()
	rctx.URLParams.Add("key", "durian")
	req = req.WithContext(withChiContext(req, rctx))
	w := httptest.NewRecorder()

	s.handleFind(w, req)

	require.Equal(t, http.StatusOK, w.Code)
	require.Contains(t, w.Body.String(), `"data":[]`)
}

func TestHandleRangeReturnsBoundedKeys(t *testing.T) {
	s := newTestServer(t)
	req := httptest.NewRequest(http.MethodGet, "/api/v1/range?low=apple&high=banana", nil)
	w := httptest.NewRecorder()

	s.handleRange(w, req)

	require.Equal(t, http.StatusOK, w.Code)
	body := w.Body.String()
	require.Contains(t, body, "apple")
	require.Contains(t, body, "banana")
	require.NotContains(t, body, "carrot")
}

func TestHandleSearchEqualityOperator(t *testing.T) {
	s := newTestServer(t)
	req := httptest.NewRequest(http.MethodGet, "/api/v1/search?op=%3D%3D&value=carrot", nil)
	w := httptest.NewRecorder()

	s.handleSearch(w, req)

	require.Equal(t, http.StatusOK, w.Code)
	require.Contains(t, w.Body.String(), "vegetable")
}

func TestHandleSearchRejectsBadNumericValue(t *testing.T) {
	s := newTestServer(t)
	req := httptest.NewRequest(http.MethodGet, "/api/v1/search?op=%3D%3D&value=notanumber&type=number", nil)
	w := httptest.NewRecorder()

	s.handleSearch(w, req)

	require.Equal(t, http.StatusBadRequest, w.Code)
}

func TestHandleStatsReportsLeafAndEntryCounts(t *testing.T) {
	s := newTestServer(t)
	req := httptest.NewRequest(http.MethodGet, "/api/v1/stats", nil)
	w := httptest.NewRecorder()

	s.handleStats(w, req)

	require.Equal(t, http.StatusOK, w.Code)
	require.Contains(t, w.Body.String(), `"live_entry_count":3`)
}
