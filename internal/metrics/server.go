package metrics

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

// Server is the controller's small debug/ops HTTP surface: Prometheus
// scrape endpoint plus liveness/readiness probes.
type Server struct {
	httpServer *http.Server
	logger     *zap.Logger
}

// ReadyFunc reports whether the process is ready to serve traffic.
type ReadyFunc func() bool

// NewServer builds a Server listening on addr (e.g. ":9090"). ready is
// consulted on every /readyz request.
func NewServer(addr string, logger *zap.Logger, ready ReadyFunc) *Server {
	router := chi.NewRouter()
	router.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{http.MethodGet},
	}))

	router.Handle("/metrics", promhttp.HandlerFor(Registry, promhttp.HandlerOpts{}))
	router.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	router.Get("/readyz", func(w http.ResponseWriter, _ *http.Request) {
		if ready != nil && !ready() {
			w.WriteHeader(http.StatusServiceUnavailable)
			_, _ = w.Write([]byte("not ready"))
			return
		}
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ready"))
	})

	return &Server{
		httpServer: &http.Server{
			Addr:              addr,
			Handler:           router,
			ReadHeaderTimeout: 5 * time.Second,
		},
		logger: logger.Named("metrics_server"),
	}
}

// StartAsync starts serving in a background goroutine, logging (but not
// panicking on) any error other than a clean shutdown.
func (s *Server) StartAsync() {
	go func() {
		if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			s.logger.Error("metrics server stopped unexpectedly", zap.Error(err))
		}
	}()
}

// Stop gracefully shuts the server down.
func (s *Server) Stop(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}
