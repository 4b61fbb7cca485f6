package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Middleware is a middleware for collecting HTTP request metrics.
type Middleware struct {
	buckets  []float64
	registry prometheus.Registerer
}

// New creates a new Middleware instance with the provided registry.
func New(registry prometheus.Registerer) *Middleware {
	return &Middleware{
		// Page renders skew small unless upstream is slow. Max of 10.24.
		buckets:  prometheus.ExponentialBuckets(0.005, 2, 12),
		registry: registry,
	}
}

// Monitor wraps a route's handler to collect request count and latency.
// Routes are told apart by handlerName rather than the raw path, which
// would carry one series per company.
func (m *Middleware) Monitor(handlerName string, handler http.Handler) http.HandlerFunc {
	reg := prometheus.WrapRegistererWith(prometheus.Labels{"handler": handlerName}, m.registry)
	labels := []string{"method", "code"}

	requestsTotal := promauto.With(reg).NewCounterVec(
		prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Tracks the number of HTTP requests.",
		}, labels,
	)
	requestDuration := promauto.With(reg).NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "Tracks the latencies for HTTP requests.",
			Buckets: m.buckets,
		},
		labels,
	)

	return promhttp.InstrumentHandlerCounter(
		requestsTotal,
		promhttp.InstrumentHandlerDuration(requestDuration, handler),
	)
}
