package httpx

import (
	"errors"
	"strconv"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

var histogramBuckets = []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5}

// routerMetrics groups the collectors shared by every Router in the process.
type routerMetrics struct {
	requests    *prometheus.CounterVec
	latency     *prometheus.HistogramVec
	rateLimited *prometheus.CounterVec
	rejections  *prometheus.CounterVec
}

var (
	sharedMetrics     *routerMetrics
	sharedMetricsOnce sync.Once
)

func newRouterMetrics() *routerMetrics {
	sharedMetricsOnce.Do(func() {
		sharedMetrics = &routerMetrics{
			requests: register(prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "pwnarena",
				Subsystem: "api",
				Name:      "http_requests_total",
				Help:      "Count of processed HTTP requests",
			}, []string{"method", "route", "status"})),
			latency: register(prometheus.NewHistogramVec(prometheus.HistogramOpts{
				Namespace: "pwnarena",
				Subsystem: "api",
				Name:      "http_request_duration_seconds",
				Help:      "Latency distribution of HTTP handlers",
				Buckets:   histogramBuckets,
			}, []string{"method", "route", "status"})),
			rateLimited: register(prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "pwnarena",
				Subsystem: "api",
				Name:      "rate_limit_hits_total",
				Help:      "Number of rate-limited responses",
			}, []string{"route", "key"})),
			rejections: register(prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "pwnarena",
				Subsystem: "api",
				Name:      "powerup_rejections_total",
				Help:      "Powerup requests refused by the engine, by error code",
			}, []string{"code"})),
		}
	})
	return sharedMetrics
}

// register adds c to the default registry, reusing an identical collector
// registered earlier.
func register[T prometheus.Collector](c T) T {
	if err := prometheus.Register(c); err != nil {
		var are prometheus.AlreadyRegisteredError
		if errors.As(err, &are) {
			if existing, ok := are.ExistingCollector.(T); ok {
				return existing
			}
		}
	}
	return c
}

func (m *routerMetrics) observeRequest(method, route string, status int, duration time.Duration) {
	if m == nil {
		return
	}
	labels := prometheus.Labels{
		"method": method,
		"route":  route,
		"status": strconv.Itoa(status),
	}
	m.requests.With(labels).Inc()
	m.latency.With(labels).Observe(duration.Seconds())
}

func (m *routerMetrics) rateLimitHit(route, key string) {
	if m == nil {
		return
	}
	m.rateLimited.With(prometheus.Labels{"route": route, "key": key}).Inc()
}

func (m *routerMetrics) rejected(code string) {
	if m == nil {
		return
	}
	m.rejections.With(prometheus.Labels{"code": code}).Inc()
}
