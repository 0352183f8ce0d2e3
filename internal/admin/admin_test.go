package admin

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/pior/minicache/server"
	"github.com/pior/minicache/store"
)

type fakeConns struct {
	stats server.ConnStats
}

func (f fakeConns) Stats() server.ConnStats { return f.stats }

func newTestRouter(t *testing.T) (http.Handler, *store.Store) {
	st := store.New()
	t.Cleanup(st.Close)

	router := NewRouter(Config{
		Store:   st,
		Conns:   fakeConns{stats: server.ConnStats{Current: 2, Total: 5, Rejected: 1}},
		Metrics: server.NewMetrics(st),
		Logger:  zaptest.NewLogger(t),
	})
	return router, st
}

func do(t *testing.T, h http.Handler, method, path string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, nil)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestHealthz(t *testing.T) {
	router, _ := newTestRouter(t)

	rec := do(t, router, http.MethodGet, "/healthz")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "ok", rec.Body.String())
}

func TestStats(t *testing.T) {
	router, st := newTestRouter(t)

	st.Set("a", []byte("1"), 0, 0)
	st.Set("b", []byte("22"), 0, 0)
	st.Get("a")
	st.Get("missing")

	rec := do(t, router, http.MethodGet, "/stats")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))

	var resp StatsResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, int64(2), resp.Items)
	assert.Equal(t, uint64(1), resp.Hits)
	assert.Equal(t, uint64(1), resp.Misses)
	assert.Equal(t, st.MemSize(), resp.MemSize)
	assert.Equal(t, uint64(2), resp.CASCounter)
	assert.Equal(t, int64(2), resp.CurrConnections)
	assert.Equal(t, uint64(5), resp.TotalConnections)
	assert.Equal(t, uint64(1), resp.RejectedConnections)
}

func TestDebugItems(t *testing.T) {
	router, st := newTestRouter(t)

	st.Set("plain", []byte("hello"), 0, 7)
	st.Set("swapped", []byte("x"), 0, 0)
	item, _ := st.Gets("swapped")
	st.CompareAndSwap("swapped", []byte("yy"), 0, 0, item.CAS, "client-1")
	hits := st.Hits()

	rec := do(t, router, http.MethodGet, "/debug/items")
	require.Equal(t, http.StatusOK, rec.Code)

	var resp map[string]ItemInfo
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.Len(t, resp, 2)
	assert.Equal(t, uint32(7), resp["plain"].Flags)
	assert.Equal(t, 5, resp["plain"].Size)
	assert.Empty(t, resp["plain"].Owner)
	assert.Equal(t, 2, resp["swapped"].Size)
	assert.Equal(t, "client-1", resp["swapped"].Owner)
	assert.NotContains(t, rec.Body.String(), "hello")

	assert.Equal(t, hits, st.Hits(), "introspection does not count as reads")
}

func TestFlush(t *testing.T) {
	router, st := newTestRouter(t)

	st.Set("a", []byte("1"), 0, 0)
	st.Get("a")

	rec := do(t, router, http.MethodPost, "/flush")
	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Zero(t, st.Len())
	assert.Equal(t, uint64(1), st.Hits())

	rec = do(t, router, http.MethodGet, "/flush")
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
}

func TestMetrics(t *testing.T) {
	router, st := newTestRouter(t)

	st.Set("a", []byte("1"), 0, 0)

	rec := do(t, router, http.MethodGet, "/metrics")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "minicache_items 1")
	assert.True(t, strings.Contains(rec.Body.String(), "minicache_connections_current"))
}

func TestMetricsDisabled(t *testing.T) {
	st := store.New()
	t.Cleanup(st.Close)

	router := NewRouter(Config{Store: st})

	rec := do(t, router, http.MethodGet, "/metrics")
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = do(t, router, http.MethodGet, "/stats")
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestNewServer(t *testing.T) {
	st := store.New()
	t.Cleanup(st.Close)

	srv := NewServer("127.0.0.1:0", Config{Store: st})
	assert.Equal(t, "127.0.0.1:0", srv.Addr)
	assert.NotNil(t, srv.Handler)
}
