// Package health serves the pipeline's /healthz, /readyz, and /metrics
// endpoints over a chi router, grounded on the go-chi/chi/v5 convention
// already present in the teacher's module graph. The server is entirely
// optional: per spec.md §6, health.port == 0 disables it.
package health

import (
	"context"
	"net/http"
	"strconv"
	"sync/atomic"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/streamwatch/schema-change-notifier/internal/logging"
	"github.com/streamwatch/schema-change-notifier/internal/metrics"
)

// Server hosts the health/readiness/metrics endpoints.
type Server struct {
	httpServer *http.Server
	ready      int32
	logger     logging.Logger
}

// New builds a Server. It does not start listening until Start is called.
// runID is echoed on /healthz so operators can correlate a health check
// against a specific process's log lines across restarts.
func New(port int, runID string, m *metrics.Metrics, logger logging.Logger) *Server {
	if logger == nil {
		logger = logging.NewNop()
	}
	s := &Server{logger: logger}

	r := chi.NewRouter()
	r.Use(middleware.Recoverer)

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok run.id=" + runID))
	})
	r.Get("/readyz", func(w http.ResponseWriter, r *http.Request) {
		if atomic.LoadInt32(&s.ready) == 0 {
			w.WriteHeader(http.StatusServiceUnavailable)
			_, _ = w.Write([]byte("not ready"))
			return
		}
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ready"))
	})
	if m != nil {
		r.Handle("/metrics", m.Handler())
	}

	s.httpServer = &http.Server{
		Addr:              fmtAddr(port),
		Handler:           r,
		ReadHeaderTimeout: 5 * time.Second,
	}
	return s
}

// SetReady flips the /readyz response, called once the runner's pipeline
// has finished its startup sequence.
func (s *Server) SetReady(ready bool) {
	v := int32(0)
	if ready {
		v = 1
	}
	atomic.StoreInt32(&s.ready, v)
}

// Start begins serving in the background. It returns immediately; serve
// errors other than http.ErrServerClosed are logged.
func (s *Server) Start() {
	go func() {
		if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			s.logger.Errorf("health: server exited: %v", err)
		}
	}()
}

// Close shuts the server down, bounded by ctx.
func (s *Server) Close(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}

func fmtAddr(port int) string {
	return ":" + strconv.Itoa(port)
}
