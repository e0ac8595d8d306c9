// Package api exposes the dispatcher's intents and the store's filtered
// views as a JSON API, plus the Prometheus metrics endpoint.
package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"forgedash/internal/log"
	"forgedash/pkg/dispatcher"
	"forgedash/pkg/protocol"
	"forgedash/pkg/stats"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"
)

// Config holds Server configuration.
type Config struct {
	// Registry receives the HTTP instrumentation and backs GET /metrics.
	// Nil means a fresh registry.
	Registry *prometheus.Registry

	// WaitTimeout bounds how long POST /api/v1/workflows?wait=1 waits for
	// the backend (default 15s).
	WaitTimeout time.Duration

	Logger logrus.FieldLogger // default: log.GetLogger()
}

func (c *Config) withDefaults() Config {
	out := *c
	if out.Registry == nil {
		out.Registry = prometheus.NewRegistry()
	}
	if out.WaitTimeout == 0 {
		out.WaitTimeout = 15 * time.Second
	}
	if out.Logger == nil {
		out.Logger = log.GetLogger()
	}
	return out
}

// Server routes HTTP requests to a dispatcher and a stats engine.
type Server struct {
	cfg    Config
	d      *dispatcher.Dispatcher
	engine *stats.Engine
	logger logrus.FieldLogger
	router *mux.Router

	reqCount *prometheus.CounterVec
	reqDur   *prometheus.HistogramVec
}

// NewServer builds the router. It registers its request metrics with
// cfg.Registry and fails if they are already registered there.
func NewServer(cfg Config, d *dispatcher.Dispatcher, engine *stats.Engine) (*Server, error) {
	cfg = cfg.withDefaults()
	s := &Server{
		cfg:    cfg,
		d:      d,
		engine: engine,
		logger: cfg.Logger,
		router: mux.NewRouter(),
		reqCount: prometheus.NewCounterVec(prometheus.CounterOpts{
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Total count of HTTP requests.",
		}, []string{"handler", "code", "method"}),
		reqDur: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "The HTTP request latencies in seconds.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"handler", "code", "method"}),
	}
	for _, c := range []prometheus.Collector{s.reqCount, s.reqDur} {
		if err := cfg.Registry.Register(c); err != nil {
			return nil, err
		}
	}
	s.routes()
	return s, nil
}

// ServeHTTP implements http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

func (s *Server) routes() {
	r := s.router
	r.Handle("/health", s.instrument("health", s.health)).Methods(http.MethodGet)
	r.Handle("/metrics", promhttp.HandlerFor(s.cfg.Registry, promhttp.HandlerOpts{})).Methods(http.MethodGet)

	v1 := r.PathPrefix("/api/v1").Subrouter()
	v1.Handle("/stats", s.instrument("stats", s.getStats)).Methods(http.MethodGet)

	v1.Handle("/jobs", s.instrument("list_jobs", s.listJobs)).Methods(http.MethodGet)
	v1.Handle("/jobs", s.instrument("create_job", s.createJob)).Methods(http.MethodPost)
	v1.Handle("/jobs/{id}", s.instrument("get_job", s.getJob)).Methods(http.MethodGet)
	v1.Handle("/jobs/{id}", s.instrument("delete_job", s.deleteJob)).Methods(http.MethodDelete)
	v1.Handle("/jobs/{id}/assign", s.instrument("assign", s.assign)).Methods(http.MethodPost)
	v1.Handle("/jobs/{id}/start", s.instrument("start", s.transition(s.d.Start))).Methods(http.MethodPost)
	v1.Handle("/jobs/{id}/complete", s.instrument("complete", s.transition(s.d.Complete))).Methods(http.MethodPost)
	v1.Handle("/jobs/{id}/fail", s.instrument("fail", s.fail)).Methods(http.MethodPost)
	v1.Handle("/jobs/{id}/retry", s.instrument("retry", s.transition(s.d.Retry))).Methods(http.MethodPost)

	v1.Handle("/workers", s.instrument("list_workers", s.listWorkers)).Methods(http.MethodGet)

	v1.Handle("/workflows", s.instrument("list_workflows", s.listWorkflows)).Methods(http.MethodGet)
	v1.Handle("/workflows", s.instrument("create_workflow", s.createWorkflow)).Methods(http.MethodPost)

	v1.Handle("/dlq", s.instrument("list_dlq", s.listDLQ)).Methods(http.MethodGet)
	v1.Handle("/dlq", s.instrument("purge_all", s.purgeAll)).Methods(http.MethodDelete)
	v1.Handle("/dlq/retry", s.instrument("retry_all", s.retryAll)).Methods(http.MethodPost)
	v1.Handle("/dlq/{id}", s.instrument("purge", s.purge)).Methods(http.MethodDelete)
	v1.Handle("/dlq/{id}/retry", s.instrument("retry", s.transition(s.d.Retry))).Methods(http.MethodPost)

	r.NotFoundHandler = http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusNotFound, errorBody{Error: "no such endpoint"})
	})
	r.MethodNotAllowedHandler = http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusMethodNotAllowed, errorBody{Error: "method not allowed"})
	})
}

// instrument decorates a handler with request count and latency metrics.
func (s *Server) instrument(name string, h http.HandlerFunc) http.Handler {
	labels := prometheus.Labels{"handler": name}
	return promhttp.InstrumentHandlerDuration(s.reqDur.MustCurryWith(labels),
		promhttp.InstrumentHandlerCounter(s.reqCount.MustCurryWith(labels), h))
}

type errorBody struct {
	Error string `json:"error"`
	Class string `json:"class,omitempty"`
}

// statusFor maps an error class to an HTTP status.
func statusFor(err error) (int, string) {
	switch {
	case errors.Is(err, protocol.ErrInvalidInput):
		return http.StatusBadRequest, "invalid_input"
	case errors.Is(err, protocol.ErrInvalidDag):
		return http.StatusBadRequest, "invalid_dag"
	case errors.Is(err, protocol.ErrNotFound):
		return http.StatusNotFound, "not_found"
	case errors.Is(err, protocol.ErrInvalidTransition):
		return http.StatusConflict, "invalid_transition"
	case errors.Is(err, protocol.ErrWorkerUnavailable):
		return http.StatusConflict, "worker_unavailable"
	case errors.Is(err, protocol.ErrBackendUnavailable):
		return http.StatusBadGateway, "backend_unavailable"
	}
	return http.StatusInternalServerError, ""
}

func (s *Server) writeError(w http.ResponseWriter, r *http.Request, err error) {
	code, class := statusFor(err)
	if code == http.StatusInternalServerError {
		s.logger.WithError(err).WithField("path", r.URL.Path).Error("request failed")
	}
	writeJSON(w, code, errorBody{Error: err.Error(), Class: class})
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}
