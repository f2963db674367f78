package httpserver

import (
	"log/slog"
	"net/http"

	"github.com/yndnr/chatmesh-go/internal/server/httpserver/handler"
)

// RouterConfig configures the admin router.
type RouterConfig struct {
	Cluster  handler.Cluster
	Sessions handler.Sessions

	// Version is reported by the Status procedure.
	Version string

	// Metrics serves GET /metrics. Nil disables the route.
	Metrics http.Handler

	Logger *slog.Logger

	// RateLimit is the per-IP request rate for metrics and procedures.
	// Zero disables limiting.
	RateLimit int
}

// DefaultRateLimit is the per-IP admin request rate.
const DefaultRateLimit = 100

// NewRouter builds the admin handler.
func NewRouter(cfg *RouterConfig) http.Handler {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("component", "httpserver")

	h := handler.New(cfg.Cluster, cfg.Sessions, cfg.Version, logger)

	guarded := []Middleware{RequestID(), Recover(logger), Audit(logger)}
	if cfg.RateLimit > 0 {
		guarded = append(guarded, RateLimit(cfg.RateLimit))
	}

	mux := http.NewServeMux()
	health := Chain(h, RequestID(), Recover(logger))
	mux.Handle("GET /healthz", health)
	mux.Handle("GET /readyz", health)

	if cfg.Metrics != nil {
		mux.Handle("GET /metrics", Chain(cfg.Metrics, guarded...))
	}
	mux.Handle("/"+handler.ClusterServiceName+"/", Chain(h, guarded...))
	return mux
}
