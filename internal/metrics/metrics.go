package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	httpRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "bank_products_http_requests_total",
			Help: "Total number of HTTP requests.",
		},
		[]string{"method", "endpoint", "status"},
	)
	httpRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "bank_products_http_request_duration_seconds",
			Help:    "Histogram of HTTP request durations.",
			Buckets: []float64{0.01, 0.05, 0.1, 0.5, 1, 5},
		},
		[]string{"method", "endpoint", "status"},
	)
	refreshRunsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "bank_products_refresh_runs_total",
			Help: "Refresh cycles by final status.",
		},
		[]string{"status"},
	)
	refreshDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "bank_products_refresh_duration_seconds",
			Help:    "Duration of complete refresh cycles.",
			Buckets: []float64{10, 30, 60, 120, 300, 600, 1200},
		},
	)
	scrapesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "bank_products_scrapes_total",
			Help: "Scraper runs by source and result.",
		},
		[]string{"source", "result"},
	)
	normalizedItemsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "bank_products_normalized_items_total",
			Help: "Scraped items by normalization result (ok, error, fallback).",
		},
		[]string{"result"},
	)
	reconciledTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "bank_products_reconciled_records_total",
			Help: "Product rows touched by reconciliation, by action.",
		},
		[]string{"action"},
	)
	activeProducts = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "bank_products_active",
			Help: "Active products after the last refresh.",
		},
	)
)

func init() {
	prometheus.MustRegister(httpRequestsTotal)
	prometheus.MustRegister(httpRequestDuration)
	prometheus.MustRegister(refreshRunsTotal)
	prometheus.MustRegister(refreshDuration)
	prometheus.MustRegister(scrapesTotal)
	prometheus.MustRegister(normalizedItemsTotal)
	prometheus.MustRegister(reconciledTotal)
	prometheus.MustRegister(activeProducts)
}

// RecordRequest records one served HTTP request.
func RecordRequest(method, endpoint string, statusCode int, duration time.Duration) {
	status := classifyStatus(statusCode)
	httpRequestsTotal.WithLabelValues(method, endpoint, status).Inc()
	httpRequestDuration.WithLabelValues(method, endpoint, status).Observe(duration.Seconds())
}

func RecordRefresh(status string, duration time.Duration) {
	refreshRunsTotal.WithLabelValues(status).Inc()
	refreshDuration.Observe(duration.Seconds())
}

func RecordScrape(source string, ok bool) {
	result := "ok"
	if !ok {
		result = "error"
	}
	scrapesTotal.WithLabelValues(source, result).Inc()
}

func RecordNormalized(result string, n int) {
	if n > 0 {
		normalizedItemsTotal.WithLabelValues(result).Add(float64(n))
	}
}

func RecordReconciled(action string, n int) {
	if n > 0 {
		reconciledTotal.WithLabelValues(action).Add(float64(n))
	}
}

func SetActiveProducts(n int) {
	activeProducts.Set(float64(n))
}

func classifyStatus(statusCode int) string {
	switch {
	case statusCode >= 200 && statusCode < 300:
		return "2xx"
	case statusCode >= 300 && statusCode < 400:
		return "3xx"
	case statusCode >= 400 && statusCode < 500:
		return "4xx"
	case statusCode >= 500 && statusCode < 600:
		return "5xx"
	}
	return "unknown"
}

// Handler exposes the default registry for Prometheus scraping.
func Handler() http.Handler {
	return promhttp.Handler()
}
