// Package metrics provides Prometheus collectors for catalog operations.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	LockOperationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "catalog_lock_operations_total",
			Help: "Total number of inventory lock operations",
		},
		[]string{"operation", "status"}, // operation: "acquire", "release"; status: "success", "failure"
	)

	LockHoldDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "catalog_lock_hold_duration_seconds",
			Help:    "Time spent holding the inventory lock per critical section",
			Buckets: prometheus.DefBuckets,
		},
	)

	StockOperationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "catalog_stock_operations_total",
			Help: "Total number of stock operations",
		},
		[]string{"operation", "outcome"}, // operation: "reserve", "release", "confirm"; outcome: "success", "insufficient", "conflict", "error"
	)

	StockOperationDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "catalog_stock_operation_duration_seconds",
			Help:    "Stock operation duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"operation"},
	)

	ExpiredLocksReaped = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "catalog_expired_locks_reaped_total",
			Help: "Total number of stale inventory locks reclaimed by the reaper",
		},
	)

	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "catalog_http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"method", "path", "status_code"},
	)

	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "catalog_http_request_duration_seconds",
			Help:    "HTTP request duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "path"},
	)
)
