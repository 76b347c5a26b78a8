package service

import (
	"fmt"
	"net/http"
	"runtime"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/vietlearn/class-access-api/internal/expiry"
)

// MetricsService encapsulates Prometheus instrumentation for the HTTP
// layer and the expiry reconciler.
type MetricsService struct {
	registry        *prometheus.Registry
	handler         http.Handler
	requestDuration *prometheus.HistogramVec
	requestTotal    *prometheus.CounterVec

	expiryPasses        *prometheus.CounterVec
	expiryPassDuration  prometheus.Observer
	expiryTransitions   prometheus.Counter
	expiryNotifications *prometheus.CounterVec
	expirySuppressed    prometheus.Counter
	expiryStepFailures  prometheus.Counter
}

// NewMetricsService registers core Prometheus collectors.
func NewMetricsService() *MetricsService {
	registry := prometheus.NewRegistry()

	requestDuration := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "http_request_duration_seconds",
		Help:    "Duration of HTTP requests in seconds",
		Buckets: prometheus.DefBuckets,
	}, []string{"method", "path", "status"})

	requestTotal := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "http_requests_total",
		Help: "Total number of HTTP requests",
	}, []string{"method", "path", "status"})

	expiryPasses := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "expiry_passes_total",
		Help: "Total reconciliation passes by result",
	}, []string{"result"})

	expiryPassDuration := prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "expiry_pass_duration_seconds",
		Help:    "Duration of reconciliation passes",
		Buckets: prometheus.DefBuckets,
	})

	expiryTransitions := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "expiry_transitions_total",
		Help: "Enrollments transitioned to removed on expiry",
	})

	expiryNotifications := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "expiry_notifications_total",
		Help: "Expiry notifications inserted by band",
	}, []string{"band"})

	expirySuppressed := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "expiry_notifications_suppressed_total",
		Help: "Warning notifications suppressed by the dedup window",
	})

	expiryStepFailures := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "expiry_step_failures_total",
		Help: "Per-enrollment reconciliation steps that failed",
	})

	goroutines := prometheus.NewGaugeFunc(prometheus.GaugeOpts{
		Name: "goroutines_total",
		Help: "Total number of goroutines",
	}, func() float64 {
		return float64(runtime.NumGoroutine())
	})

	registry.MustRegister(requestDuration, requestTotal, expiryPasses, expiryPassDuration, expiryTransitions, expiryNotifications, expirySuppressed, expiryStepFailures, goroutines)

	return &MetricsService{
		registry:            registry,
		handler:             promhttp.HandlerFor(registry, promhttp.HandlerOpts{}),
		requestDuration:     requestDuration,
		requestTotal:        requestTotal,
		expiryPasses:        expiryPasses,
		expiryPassDuration:  expiryPassDuration,
		expiryTransitions:   expiryTransitions,
		expiryNotifications: expiryNotifications,
		expirySuppressed:    expirySuppressed,
		expiryStepFailures:  expiryStepFailures,
	}
}

// Handler exposes the Prometheus HTTP handler.
func (m *MetricsService) Handler() http.Handler {
	if m == nil {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusServiceUnavailable)
		})
	}
	return m.handler
}

// ObserveHTTPRequest records request metrics.
func (m *MetricsService) ObserveHTTPRequest(method, path string, status int, duration time.Duration) {
	if m == nil {
		return
	}
	labels := []string{method, path, fmt.Sprintf("%d", status)}
	m.requestDuration.WithLabelValues(labels...).Observe(duration.Seconds())
	m.requestTotal.WithLabelValues(labels...).Inc()
}

// ObserveExpiryPass records the outcome of one reconciliation pass.
func (m *MetricsService) ObserveExpiryPass(outcomes []expiry.Outcome, err error, duration time.Duration) {
	if m == nil {
		return
	}
	result := "ok"
	if err != nil {
		result = "error"
	}
	m.expiryPasses.WithLabelValues(result).Inc()
	m.expiryPassDuration.Observe(duration.Seconds())

	for _, outcome := range outcomes {
		if outcome.Transitioned {
			m.expiryTransitions.Inc()
		}
		if outcome.Notified {
			m.expiryNotifications.WithLabelValues(outcome.Band.String()).Inc()
		}
		if outcome.Suppressed {
			m.expirySuppressed.Inc()
		}
		if outcome.Err != nil {
			m.expiryStepFailures.Inc()
		}
	}
}
