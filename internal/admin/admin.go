// Package admin serves the minicached HTTP admin surface: health, stats,
// item introspection, flush and Prometheus metrics.
package admin

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"github.com/pior/minicache/server"
	"github.com/pior/minicache/store"
)

// ConnStatser reports connection counters, usually a *server.Server.
type ConnStatser interface {
	Stats() server.ConnStats
}

// Config holds the dependencies of the admin router.
type Config struct {
	Store   *store.Store
	Conns   ConnStatser     // Optional
	Metrics *server.Metrics // Optional, enables /metrics
	Logger  *zap.Logger     // Optional
}

// StatsResponse is the body of GET /stats.
type StatsResponse struct {
	Items               int64  `json:"items"`
	Hits                uint64 `json:"hits"`
	Misses              uint64 `json:"misses"`
	MemSize             int64  `json:"mem_size"`
	CASCounter          uint64 `json:"cas_counter"`
	CurrConnections     int64  `json:"curr_connections"`
	TotalConnections    uint64 `json:"total_connections"`
	RejectedConnections uint64 `json:"rejected_connections"`
}

// ItemInfo describes one entry in GET /debug/items. Values are not exposed.
type ItemInfo struct {
	Flags uint32 `json:"flags"`
	Size  int    `json:"size"`
	CAS   uint64 `json:"cas"`
	Owner string `json:"owner,omitempty"`
}

type handler struct {
	store *store.Store
	conns ConnStatser
}

// NewRouter creates the admin HTTP router.
func NewRouter(cfg Config) *chi.Mux {
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	h := &handler{store: cfg.Store, conns: cfg.Conns}

	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(middleware.RequestID)
	r.Use(requestLogger(logger))

	r.Get("/healthz", h.health)
	r.Get("/stats", h.stats)
	r.Get("/debug/items", h.items)
	r.Post("/flush", h.flush)

	if cfg.Metrics != nil {
		r.Method(http.MethodGet, "/metrics", cfg.Metrics.Handler())
	}

	return r
}

// NewServer wraps the admin router in an http.Server listening on addr.
func NewServer(addr string, cfg Config) *http.Server {
	return &http.Server{
		Addr:              addr,
		Handler:           NewRouter(cfg),
		ReadHeaderTimeout: 5 * time.Second,
	}
}

func (h *handler) health(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	_, _ = w.Write([]byte("ok"))
}

func (h *handler) stats(w http.ResponseWriter, r *http.Request) {
	st := h.store.Stats()
	resp := StatsResponse{
		Items:      st.Items,
		Hits:       st.Hits,
		Misses:     st.Misses,
		MemSize:    st.MemSize,
		CASCounter: st.CASCounter,
	}
	if h.conns != nil {
		cs := h.conns.Stats()
		resp.CurrConnections = cs.Current
		resp.TotalConnections = cs.Total
		resp.RejectedConnections = cs.Rejected
	}
	writeJSON(w, http.StatusOK, resp)
}

func (h *handler) items(w http.ResponseWriter, r *http.Request) {
	snapshot := h.store.Snapshot()

	resp := make(map[string]ItemInfo, len(snapshot))
	for key, item := range snapshot {
		resp[key] = ItemInfo{
			Flags: item.Flags,
			Size:  len(item.Value),
			CAS:   item.CAS,
			Owner: item.Owner,
		}
	}
	writeJSON(w, http.StatusOK, resp)
}

func (h *handler) flush(w http.ResponseWriter, r *http.Request) {
	h.store.Clear()
	w.WriteHeader(http.StatusNoContent)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// requestLogger logs every request at debug level.
func requestLogger(logger *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)

			next.ServeHTTP(ww, r)

			logger.Debug("admin request",
				zap.String("method", r.Method),
				zap.String("path", r.URL.Path),
				zap.String("remote", r.RemoteAddr),
				zap.String("request_id", middleware.GetReqID(r.Context())),
				zap.Int("status", ww.Status()),
				zap.Duration("duration", time.Since(start)),
			)
		})
	}
}
