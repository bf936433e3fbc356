package telemetry

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	LoanOperationsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "campuslib_loan_operations_total",
		Help: "Loan lifecycle operations by operation and outcome code",
	}, []string{"operation", "outcome"})

	FinesAssessedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "campuslib_fines_assessed_total",
		Help: "Number of returns that produced a positive fine",
	})

	LoanOperationLatency = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "campuslib_loan_operation_latency_seconds",
		Help:    "Latency of loan lifecycle transactions",
		Buckets: prometheus.DefBuckets,
	}, []string{"operation"})

	ReservationOperationsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "campuslib_reservation_operations_total",
		Help: "Reservation queue operations by operation and outcome code",
	}, []string{"operation", "outcome"})

	ReservationCacheLookups = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "campuslib_reservation_cache_lookups_total",
		Help: "Reservation queue cache lookups by result",
	}, []string{"result"})

	NotificationsSentTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "campuslib_notifications_sent_total",
		Help: "Notifications handed to a sink, by type",
	}, []string{"type"})

	NotificationFailuresTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "campuslib_notification_failures_total",
		Help: "Notifications a sink failed to accept, by sink",
	}, []string{"sink"})

	HTTPRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "http_request_duration_seconds",
		Help:    "HTTP request latency",
		Buckets: prometheus.DefBuckets,
	}, []string{"method", "path", "status"})

	HTTPRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "http_requests_total",
		Help: "Total number of HTTP requests",
	}, []string{"method", "path", "status"})
)
