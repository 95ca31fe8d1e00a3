package server

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"

	"SpotWire/core/cluster"
	"SpotWire/core/dealer"
	"SpotWire/logger"
	"SpotWire/model"
	"SpotWire/repository"
)

// ClusterSource exposes the latest reconciled snapshot.
type ClusterSource interface {
	Current() *cluster.Cluster
}

// StatsSource exposes dealer connection stats.
type StatsSource interface {
	Stats() dealer.Stats
}

// ClusterCache returns the last snapshot persisted by a previous run, as
// raw JSON, or nil.
type ClusterCache func(ctx context.Context) []byte

// StatusServer is a small read-only introspection server: connection
// state, heartbeat latency, the current reconciled cluster and the
// recorded stream history. It is not a remote-control surface.
type StatusServer struct {
	addr     string
	clusters ClusterSource
	stats    StatsSource

	cache   ClusterCache                // optional, serves /cluster before the first snapshot
	streams repository.StreamRepository // optional, serves /history
}

// NewStatusServer builds the status server.
func NewStatusServer(addr string, clusters ClusterSource, stats StatsSource) *StatusServer {
	return &StatusServer{addr: addr, clusters: clusters, stats: stats}
}

// SetClusterCache attaches the persisted-snapshot fallback for /cluster.
func (s *StatusServer) SetClusterCache(cache ClusterCache) {
	s.cache = cache
}

// SetStreamHistory attaches the stream-history repository behind /history.
func (s *StatusServer) SetStreamHistory(streams repository.StreamRepository) {
	s.streams = streams
}

// Start serves until ctx is cancelled.
func (s *StatusServer) Start(ctx context.Context) error {
	r := mux.NewRouter()
	r.HandleFunc("/health", s.handleHealth).Methods(http.MethodGet)
	r.HandleFunc("/status", s.handleStatus).Methods(http.MethodGet)
	r.HandleFunc("/cluster", s.handleCluster).Methods(http.MethodGet)
	r.HandleFunc("/history", s.handleHistory).Methods(http.MethodGet)

	srv := &http.Server{
		Addr:         s.addr,
		Handler:      r,
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 10 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		defer cancel()
		srv.Shutdown(shutdownCtx)
	}()

	logger.Info("status server listening", logger.String("addr", s.addr))
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

func (s *StatusServer) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *StatusServer) handleStatus(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.stats.Stats())
}

func (s *StatusServer) handleCluster(w http.ResponseWriter, r *http.Request) {
	current := s.clusters.Current()
	if current != nil {
		writeJSON(w, http.StatusOK, current)
		return
	}

	// Before the first snapshot of this run, fall back to the last one a
	// previous run persisted.
	if s.cache != nil {
		if raw := s.cache(r.Context()); len(raw) > 0 {
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusOK)
			w.Write(raw)
			return
		}
	}
	writeJSON(w, http.StatusNotFound, map[string]string{"error": "no cluster received yet"})
}

func (s *StatusServer) handleHistory(w http.ResponseWriter, r *http.Request) {
	if s.streams == nil {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "stream history is not enabled"})
		return
	}

	if track := r.URL.Query().Get("track"); track != "" {
		count, err := s.streams.CountByTrack(track)
		if err != nil {
			writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"track_uri": track, "count": count})
		return
	}

	limit := 50
	if v := r.URL.Query().Get("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 && n <= 500 {
			limit = n
		}
	}
	records, err := s.streams.ListRecent(limit)
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}
	if records == nil {
		records = []*model.StreamRecord{}
	}
	writeJSON(w, http.StatusOK, records)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logger.Warn("status response encode failed", logger.ErrorField(err))
	}
}
