// Package metrics exposes the dashboard's Prometheus metrics.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "backup_dashboard"

// Poll results.
const (
	ResultSuccess = "success"
	ResultError   = "error"
)

// Reasons a scheduled poll did not reach upstream.
const (
	SkipIdle      = "idle"
	SkipInFlight  = "in_flight"
	SkipThrottled = "throttled"
)

// Collector records poller and alert activity.
type Collector struct {
	polls          *prometheus.CounterVec
	pollDuration   prometheus.Histogram
	skipped        *prometheus.CounterVec
	companies      prometheus.Gauge
	lastSuccess    prometheus.Gauge
	detailFetches  *prometheus.CounterVec
	alerts         *prometheus.CounterVec
	companyBackups *prometheus.GaugeVec
}

// NewCollector registers every collector on reg.
func NewCollector(reg prometheus.Registerer) *Collector {
	f := promauto.With(reg)

	return &Collector{
		polls: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "polls_total",
			Help:      "Upstream summary polls by result.",
		}, []string{"result"}),
		pollDuration: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "poll_duration_seconds",
			Help:      "Latency of upstream summary polls.",
			// Max of 10.24s; the upstream timeout cuts in around there.
			Buckets: prometheus.ExponentialBuckets(0.005, 2, 12),
		}),
		skipped: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "polls_skipped_total",
			Help:      "Polls that never reached upstream, by reason.",
		}, []string{"reason"}),
		companies: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "companies",
			Help:      "Companies in the current snapshot.",
		}),
		lastSuccess: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "last_success_timestamp_seconds",
			Help:      "Unix time of the last successful poll.",
		}),
		detailFetches: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "detail_fetches_total",
			Help:      "Company detail page fetches by result.",
		}, []string{"result"}),
		alerts: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "alerts_total",
			Help:      "Alerts raised by event.",
		}, []string{"event"}),
		companyBackups: f.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "company_backups_24h",
			Help:      "Backups per company over the last 24h, by outcome.",
		}, []string{"company", "outcome"}),
	}
}

// ObservePoll records one upstream poll.
func (c *Collector) ObservePoll(d time.Duration, companies int, err error) {
	c.pollDuration.Observe(d.Seconds())
	if err != nil {
		c.polls.WithLabelValues(ResultError).Inc()
		return
	}
	c.polls.WithLabelValues(ResultSuccess).Inc()
	c.companies.Set(float64(companies))
	c.lastSuccess.Set(float64(time.Now().Unix()))
}

// PollSkipped counts a poll that was not sent.
func (c *Collector) PollSkipped(reason string) {
	c.skipped.WithLabelValues(reason).Inc()
}

// DetailFetched counts a detail page fetch.
func (c *Collector) DetailFetched(err error) {
	if err != nil {
		c.detailFetches.WithLabelValues(ResultError).Inc()
		return
	}
	c.detailFetches.WithLabelValues(ResultSuccess).Inc()
}

// AlertRaised counts an alert for event.
func (c *Collector) AlertRaised(event string) {
	c.alerts.WithLabelValues(event).Inc()
}

// SetCompanyBackups publishes a company's 24h counters.
func (c *Collector) SetCompanyBackups(company string, ok, fail int) {
	c.companyBackups.WithLabelValues(company, "ok").Set(float64(ok))
	c.companyBackups.WithLabelValues(company, "fail").Set(float64(fail))
}

// ResetCompanyBackups drops per-company series, before republishing a snapshot.
func (c *Collector) ResetCompanyBackups() {
	c.companyBackups.Reset()
}

// Handler serves the registry in the Prometheus exposition format.
// Response compression is left to middleware.Compress.
func Handler(g prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(g, promhttp.HandlerOpts{DisableCompression: true})
}
