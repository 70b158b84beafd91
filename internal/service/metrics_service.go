package service

import (
	"fmt"
	"net/http"
	"runtime"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/mentorium-app/mentorium-api/internal/models"
)

// MetricsService encapsulates Prometheus instrumentation for the API.
type MetricsService struct {
	registry        *prometheus.Registry
	handler         http.Handler
	requestDuration *prometheus.HistogramVec
	requestTotal    *prometheus.CounterVec
	checkoutTotal   *prometheus.CounterVec
	orphanTotal     prometheus.Counter
	cacheHits       prometheus.Counter
	cacheMisses     prometheus.Counter
	receiptDuration prometheus.Observer
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

	checkoutTotal := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "checkout_outcomes_total",
		Help: "Settled checkout attempts by terminal outcome",
	}, []string{"outcome"})

	orphanTotal := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "payment_orphans_total",
		Help: "Charges captured without a matching enrollment record",
	})

	cacheHits := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "cache_hits_total",
		Help: "Total cache hits",
	})

	cacheMisses := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "cache_misses_total",
		Help: "Total cache misses",
	})

	receiptDuration := prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "receipt_render_seconds",
		Help:    "Time spent rendering receipt PDFs",
		Buckets: prometheus.DefBuckets,
	})

	goroutines := prometheus.NewGaugeFunc(prometheus.GaugeOpts{
		Name: "goroutines_total",
		Help: "Total number of goroutines",
	}, func() float64 {
		return float64(runtime.NumGoroutine())
	})

	registry.MustRegister(requestDuration, requestTotal, checkoutTotal, orphanTotal, cacheHits, cacheMisses, receiptDuration, goroutines)

	handler := promhttp.HandlerFor(registry, promhttp.HandlerOpts{})

	return &MetricsService{
		registry:        registry,
		handler:         handler,
		requestDuration: requestDuration,
		requestTotal:    requestTotal,
		checkoutTotal:   checkoutTotal,
		orphanTotal:     orphanTotal,
		cacheHits:       cacheHits,
		cacheMisses:     cacheMisses,
		receiptDuration: receiptDuration,
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
	labelStatus := fmt.Sprintf("%d", status)
	m.requestDuration.WithLabelValues(method, path, labelStatus).Observe(duration.Seconds())
	m.requestTotal.WithLabelValues(method, path, labelStatus).Inc()
}

// ObserveCheckout counts a settled checkout attempt. The orphan outcome also
// feeds the dedicated counter that reconciliation alerts hang off.
func (m *MetricsService) ObserveCheckout(outcome models.CheckoutOutcome) {
	if m == nil {
		return
	}
	m.checkoutTotal.WithLabelValues(string(outcome)).Inc()
	if outcome == models.OutcomePaymentOrphaned {
		m.orphanTotal.Inc()
	}
}

// RecordCacheOperation records a cache hit or miss.
func (m *MetricsService) RecordCacheOperation(hit bool) {
	if m == nil {
		return
	}
	if hit {
		m.cacheHits.Inc()
	} else {
		m.cacheMisses.Inc()
	}
}

// ObserveReceiptRender tracks PDF generation time.
func (m *MetricsService) ObserveReceiptRender(duration time.Duration) {
	if m == nil || m.receiptDuration == nil {
		return
	}
	m.receiptDuration.Observe(duration.Seconds())
}
