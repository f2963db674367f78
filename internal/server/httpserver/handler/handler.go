package handler

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"connectrpc.com/connect"

	"github.com/yndnr/chatmesh-go/internal/core/domain"
	"github.com/yndnr/chatmesh-go/internal/server/clusterserver"
)

// Cluster is the peer manager view used by the admin endpoints.
type Cluster interface {
	ServerID() string
	ConnectedPeerIDs() []string
	PeerStatuses() []clusterserver.PeerStatus
}

// Sessions is the registry view used by the admin endpoints.
type Sessions interface {
	ActiveSessions() []*domain.SessionDescriptor
	TotalConnections() int
	RemoteCount() int
}

// Handler routes the admin endpoints.
type Handler struct {
	cluster  Cluster
	sessions Sessions
	version  string
	started  time.Time
	logger   *slog.Logger
	mux      *http.ServeMux
}

// New creates a Handler. version is reported by the Status procedure.
func New(cluster Cluster, sessions Sessions, version string, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	h := &Handler{
		cluster:  cluster,
		sessions: sessions,
		version:  version,
		started:  time.Now(),
		logger:   logger.With("component", "admin"),
		mux:      http.NewServeMux(),
	}
	h.registerRoutes()
	return h
}

// ServeHTTP implements http.Handler.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	h.mux.ServeHTTP(w, r)
}

func (h *Handler) registerRoutes() {
	h.mux.HandleFunc("GET /healthz", h.handleHealth)
	h.mux.HandleFunc("GET /readyz", h.handleReady)

	h.mux.Handle(StatusProcedure, connect.NewUnaryHandler(StatusProcedure, h.Status))
	h.mux.Handle(SessionsProcedure, connect.NewUnaryHandler(SessionsProcedure, h.Sessions))
}

func (h *Handler) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		h.logger.Debug("write response failed", "error", err)
	}
}
