// Package metrics provides Prometheus metrics for the Slab Market backend.
// Scrape these at /metrics for Grafana dashboards and alerting.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// HTTP Metrics
	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "slab_http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"method", "path", "status"},
	)

	// Certificate Verification Metrics
	CertVerifications = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "slab_cert_verifications_total",
			Help: "Certificate verification attempts by company and outcome",
		},
		[]string{"company", "result"}, // result: "verified", "invalid", "failed", "stub"
	)

	CertCacheHits = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "slab_cert_cache_hits_total",
			Help: "Verification cache hits by layer",
		},
		[]string{"layer"}, // "memory" or "store"
	)

	CertCacheMisses = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "slab_cert_cache_misses_total",
			Help: "Verification cache misses",
		},
	)

	CertCacheSelfHeals = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "slab_cert_cache_self_heals_total",
			Help: "Cached verification payloads discarded by shape re-validation",
		},
	)

	CertRateLimitRejections = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "slab_cert_rate_limit_rejections_total",
			Help: "Verification requests rejected by the per-user rate limit",
		},
	)

	// PSA Scraper Metrics
	CertScrapeDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "slab_cert_scrape_duration_seconds",
			Help:    "Time taken to fetch and parse a certificate page",
			Buckets: []float64{0.5, 1, 2.5, 5, 10, 30},
		},
	)

	CertScrapeErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "slab_cert_scrape_errors_total",
			Help: "Certificate scrape failures by type",
		},
		[]string{"type"}, // "network", "blocked", "status", "parse"
	)

	// Catalog Import Metrics
	ImportCardsInserted = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "slab_import_cards_inserted_total",
			Help: "Cards inserted by the catalog importer",
		},
	)

	ImportCardsSkipped = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "slab_import_cards_skipped_total",
			Help: "Cards skipped by the catalog importer (duplicates and validation failures)",
		},
	)

	// Card Database Metrics
	CardDatabaseSize = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "slab_card_database_size",
			Help: "Number of unique cards in the database",
		},
	)
)
