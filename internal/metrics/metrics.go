// Package metrics holds the Prometheus collectors served on /metrics.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	PingsRecorded = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "bustrack",
		Name:      "pings_recorded_total",
		Help:      "GPS pings stored.",
	})

	PingsPruned = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "bustrack",
		Name:      "pings_pruned_total",
		Help:      "GPS pings removed by retention.",
	})

	// AttendanceMarks counts scan attempts by outcome: marked, duplicate, not_found, invalid, error.
	AttendanceMarks = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "bustrack",
		Name:      "attendance_marks_total",
		Help:      "Attendance scan attempts by outcome.",
	}, []string{"outcome"})

	HTTPRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "bustrack",
		Subsystem: "http",
		Name:      "requests_total",
		Help:      "HTTP requests by route, method and status.",
	}, []string{"route", "method", "status"})

	HTTPDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "bustrack",
		Subsystem: "http",
		Name:      "request_duration_seconds",
		Help:      "HTTP request latency.",
		Buckets:   prometheus.DefBuckets,
	}, []string{"route", "method"})
)
