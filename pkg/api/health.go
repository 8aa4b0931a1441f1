package api

import (
	"errors"
	"net/http"
	"time"

	"github.com/cuemby/owlog/pkg/metrics"
	"github.com/cuemby/owlog/pkg/storage"
	"github.com/cuemby/owlog/pkg/types"
	"github.com/goccy/go-json"
)

// StatusReader reads persisted controller status
type StatusReader interface {
	GetStatus(name string) (*types.ControllerStatus, error)
	ListStatus() ([]*types.ControllerStatus, error)
}

// HealthServer provides the collector's HTTP endpoints
type HealthServer struct {
	status StatusReader
	mux    *http.ServeMux
}

// NewHealthServer creates a new HTTP server over the status store
func NewHealthServer(status StatusReader) *HealthServer {
	mux := http.NewServeMux()
	hs := &HealthServer{
		status: status,
		mux:    mux,
	}

	// Register endpoints
	mux.Handle("/health", metrics.HealthHandler())
	mux.Handle("/ready", metrics.ReadyHandler())
	mux.Handle("/live", metrics.LivenessHandler())
	mux.Handle("/metrics", metrics.Handler())
	mux.HandleFunc("/status", hs.listStatusHandler)
	mux.HandleFunc("/status/{name}", hs.statusHandler)

	return hs
}

// StatusResponse lists every controller
type StatusResponse struct {
	Timestamp   time.Time                 `json:"timestamp"`
	Controllers []*types.ControllerStatus `json:"controllers"`
}

// listStatusHandler implements the /status endpoint
func (hs *HealthServer) listStatusHandler(w http.ResponseWriter, r *http.Request) {
	if hs.status == nil {
		http.Error(w, "status store not available", http.StatusServiceUnavailable)
		return
	}

	list, err := hs.status.ListStatus()
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	if list == nil {
		list = []*types.ControllerStatus{}
	}

	writeJSON(w, http.StatusOK, StatusResponse{Timestamp: time.Now(), Controllers: list})
}

// statusHandler implements the /status/{name} endpoint
func (hs *HealthServer) statusHandler(w http.ResponseWriter, r *http.Request) {
	if hs.status == nil {
		http.Error(w, "status store not available", http.StatusServiceUnavailable)
		return
	}

	st, err := hs.status.GetStatus(r.PathValue("name"))
	if errors.Is(err, storage.ErrNotFound) {
		http.Error(w, "unknown controller", http.StatusNotFound)
		return
	}
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	writeJSON(w, http.StatusOK, st)
}

// GetHandler returns the HTTP handler for embedding in other servers
func (hs *HealthServer) GetHandler() http.Handler {
	return Logging(ReadOnly(hs.mux))
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}
