package service

import (
	"context"
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/oxygenesis/enrollment/internal/domain"
)

type instrumentingMiddleware struct {
	requestCount   *prometheus.CounterVec
	requestLatency *prometheus.HistogramVec
	next           Service
}

// NewInstrumentingMiddleware counts calls and their latency per method.
func NewInstrumentingMiddleware(reg prometheus.Registerer) Middleware {
	factory := promauto.With(reg)
	counter := factory.NewCounterVec(prometheus.CounterOpts{
		Namespace: "unit_enroll",
		Subsystem: "service",
		Name:      "requests_total",
		Help:      "Number of service calls.",
	}, []string{"method", "error"})
	latency := factory.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "unit_enroll",
		Subsystem: "service",
		Name:      "request_duration_seconds",
		Help:      "Service call latency.",
		Buckets:   prometheus.DefBuckets,
	}, []string{"method", "error"})

	return func(next Service) Service {
		return &instrumentingMiddleware{
			requestCount:   counter,
			requestLatency: latency,
			next:           next,
		}
	}
}

func (mw *instrumentingMiddleware) observe(method string, begin time.Time, err error) {
	lvs := []string{method, fmt.Sprint(err != nil)}
	mw.requestCount.WithLabelValues(lvs...).Inc()
	mw.requestLatency.WithLabelValues(lvs...).Observe(time.Since(begin).Seconds())
}

func (mw *instrumentingMiddleware) RegisterUnit(name string, pair domain.KeyPair) (u *domain.Unit, err error) {
	defer func(begin time.Time) { mw.observe("RegisterUnit", begin, err) }(time.Now())
	return mw.next.RegisterUnit(name, pair)
}

func (mw *instrumentingMiddleware) GetUnit(fingerprint string) (u *domain.Unit, err error) {
	defer func(begin time.Time) { mw.observe("GetUnit", begin, err) }(time.Now())
	return mw.next.GetUnit(fingerprint)
}

func (mw *instrumentingMiddleware) ListUnits() (u []*domain.Unit, err error) {
	defer func(begin time.Time) { mw.observe("ListUnits", begin, err) }(time.Now())
	return mw.next.ListUnits()
}

func (mw *instrumentingMiddleware) BuildRequest(fingerprint string) (r *domain.EnrollmentRequest, err error) {
	defer func(begin time.Time) { mw.observe("BuildRequest", begin, err) }(time.Now())
	return mw.next.BuildRequest(fingerprint)
}

func (mw *instrumentingMiddleware) Enroll(ctx context.Context, fingerprint string) (e *domain.Enrollment, err error) {
	defer func(begin time.Time) { mw.observe("Enroll", begin, err) }(time.Now())
	return mw.next.Enroll(ctx, fingerprint)
}

func (mw *instrumentingMiddleware) Token(ctx context.Context, fingerprint string) (e *domain.Enrollment, err error) {
	defer func(begin time.Time) { mw.observe("Token", begin, err) }(time.Now())
	return mw.next.Token(ctx, fingerprint)
}
