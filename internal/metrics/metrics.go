// Package metrics exposes Prometheus collectors for the crawler service.
package metrics

import (
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	crawlPagesTotal         *prometheus.CounterVec
	crawlJobsTotal          *prometheus.CounterVec
	contactsExtractedTotal  *prometheus.CounterVec
	storeFailoversTotal     prometheus.Counter
	discoveryQueueDropTotal prometheus.Counter
	httpRequestDuration     *prometheus.HistogramVec

	once sync.Once
)

// Init registers the Prometheus collectors. Safe to call multiple times.
func Init() {
	once.Do(func() {
		crawlPagesTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "leadharvest_crawl_pages_total",
				Help: "Total pages processed by the crawl engine, labeled by outcome.",
			},
			[]string{"outcome"},
		)

		crawlJobsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "leadharvest_crawl_jobs_total",
				Help: "Total crawl jobs processed, labeled by final status.",
			},
			[]string{"status"},
		)

		contactsExtractedTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "leadharvest_contacts_extracted_total",
				Help: "Total contact candidates extracted, labeled by kind.",
			},
			[]string{"kind"},
		)

		storeFailoversTotal = promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "leadharvest_store_failovers_total",
				Help: "Times the storage resolver fell back to the local store.",
			},
		)

		discoveryQueueDropTotal = promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "leadharvest_discovery_queue_dropped_total",
				Help: "Discovery jobs dropped because the queue was full.",
			},
		)

		httpRequestDuration = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "leadharvest_http_request_duration_seconds",
				Help:    "Histogram of HTTP request latencies, labeled by method and code.",
				Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5},
			},
			[]string{"method", "code"},
		)
	})
}

// Handler returns the Prometheus scrape handler.
func Handler() http.Handler {
	return promhttp.Handler()
}

// ObservePage counts one processed page with the given outcome
// ("ok", "error", "skipped").
func ObservePage(outcome string) {
	if crawlPagesTotal == nil {
		return
	}
	crawlPagesTotal.WithLabelValues(outcome).Inc()
}

// ObserveJob counts one finished crawl job.
func ObserveJob(status string) {
	if crawlJobsTotal == nil {
		return
	}
	crawlJobsTotal.WithLabelValues(status).Inc()
}

// ObserveContacts counts extracted contact candidates of one kind
// ("email", "phone", "social").
func ObserveContacts(kind string, n int) {
	if contactsExtractedTotal == nil || n <= 0 {
		return
	}
	contactsExtractedTotal.WithLabelValues(kind).Add(float64(n))
}

// ObserveFailover counts one primary-to-fallback switch.
func ObserveFailover() {
	if storeFailoversTotal == nil {
		return
	}
	storeFailoversTotal.Inc()
}

// ObserveDiscoveryDrop counts one dropped discovery job.
func ObserveDiscoveryDrop() {
	if discoveryQueueDropTotal == nil {
		return
	}
	discoveryQueueDropTotal.Inc()
}

// ObserveHTTPRequest records one served HTTP request.
func ObserveHTTPRequest(method string, code int, duration time.Duration) {
	if httpRequestDuration == nil {
		return
	}
	httpRequestDuration.WithLabelValues(method, strconv.Itoa(code)).Observe(duration.Seconds())
}
