package http

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"

	"github.com/oxygenesis/enrollment/internal/app/http/handler"
	"github.com/oxygenesis/enrollment/internal/app/http/middleware"
	"github.com/oxygenesis/enrollment/internal/keys"
	"github.com/oxygenesis/enrollment/internal/service"
	"github.com/oxygenesis/enrollment/pkg/id"
	"github.com/oxygenesis/enrollment/pkg/logger"
)

const shutdownTimeout = 10 * time.Second

type Options struct {
	Addr string
	// Enrollment attempts allowed per unit and second, and the burst on
	// top of it. Zero disables the limit.
	EnrollRPS   float64
	EnrollBurst int
	Registry    *prometheus.Registry
	Logger      *logrus.Entry
	KeyLoader   handler.KeyLoader
}

func defaultListenAndServe(srv *http.Server) error { return srv.ListenAndServe() }

var listenAndServe = defaultListenAndServe

// Start assembles the server. If test==true it returns without serving.
// When ctx is cancelled the server stops accepting connections and Start
// returns once in-flight requests have drained.
func Start(ctx context.Context, svc service.Service, opts Options, test bool) error {
	srv := buildServer(svc, opts)
	if test {
		return nil
	}
	log := opts.Logger
	if log == nil {
		log = logger.Discard()
	}

	done := make(chan struct{})
	shutdown := make(chan error, 1)
	go func() {
		select {
		case <-ctx.Done():
			sctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
			defer cancel()
			shutdown <- srv.Shutdown(sctx)
		case <-done:
		}
	}()

	log.Infof("listening on %s", srv.Addr)
	err := listenAndServe(srv)
	if !errors.Is(err, http.ErrServerClosed) || ctx.Err() == nil {
		close(done)
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
	if err := <-shutdown; err != nil {
		log.Warnf("shutdown: %s", err)
		return err
	}
	log.Infof("server stopped")
	return nil
}

// Handler assembles the agent API: routes, middleware and metrics.
func Handler(svc service.Service, opts Options) http.Handler {
	if opts.Logger == nil {
		opts.Logger = logger.Discard()
	}
	if opts.Registry == nil {
		opts.Registry = prometheus.NewRegistry()
	}
	if opts.KeyLoader == nil {
		opts.KeyLoader = keys.Load
	}

	h := handler.NewUnit(svc, opts.KeyLoader, opts.Logger)
	limiter := middleware.NewLimiter(opts.EnrollRPS, opts.EnrollBurst, 0)
	byUnit := func(r *http.Request) string { return mux.Vars(r)["fingerprint"] }

	requests := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "unit_enroll",
		Subsystem: "http",
		Name:      "requests_total",
		Help:      "HTTP requests served by the agent API.",
	}, []string{"code", "method"})
	requests = registerCounter(opts.Registry, requests, opts.Logger)

	r := mux.NewRouter()
	r.Use(middleware.Recovery(opts.Logger), middleware.AccessLog(opts.Logger, id.Prefixed{Prefix: "api"}))

	r.HandleFunc("/v1/health", h.Health).Methods(http.MethodGet)
	r.HandleFunc("/v1/units", h.List).Methods(http.MethodGet)
	r.HandleFunc("/v1/units", h.Register).Methods(http.MethodPost)
	r.HandleFunc("/v1/units/{fingerprint}", h.Get).Methods(http.MethodGet)
	r.HandleFunc("/v1/units/{fingerprint}/request", h.Request).Methods(http.MethodGet)
	r.HandleFunc("/v1/units/{fingerprint}/token", h.Token).Methods(http.MethodGet)
	r.Handle("/v1/units/{fingerprint}/enroll",
		middleware.RateLimit(limiter, byUnit)(http.HandlerFunc(h.Enroll))).Methods(http.MethodPost)
	r.Handle("/metrics", promhttp.HandlerFor(opts.Registry, promhttp.HandlerOpts{}))

	return promhttp.InstrumentHandlerCounter(requests, r)
}

// registerCounter registers c, reusing a counter vector already registered
// under the same name.
func registerCounter(reg prometheus.Registerer, c *prometheus.CounterVec, log *logrus.Entry) *prometheus.CounterVec {
	err := reg.Register(c)
	if err == nil {
		return c
	}
	var are prometheus.AlreadyRegisteredError
	if errors.As(err, &are) {
		if existing, ok := are.ExistingCollector.(*prometheus.CounterVec); ok {
			return existing
		}
	}
	log.Warnf("http metrics: %s", err)
	return c
}

// buildServer is package-private so tests can exercise routes without binding a port.
func buildServer(svc service.Service, opts Options) *http.Server {
	return &http.Server{
		Addr:              opts.Addr,
		Handler:           Handler(svc, opts),
		ReadHeaderTimeout: 5 * time.Second,
	}
}
