package metrics

import (
	"errors"
	"net/http"
	"strconv"
	"sync/atomic"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "hostpanel"

// Package-level Prometheus collectors. They are registered via Register.
var (
	regOK atomic.Bool

	jobLaunches = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "job",
			Name:      "launches_total",
			Help:      "Number of jobs started in the background.",
		}, []string{"action"},
	)
	jobLaunchFailures = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "job",
			Name:      "launch_failures_total",
			Help:      "Number of jobs that could not be started.",
		}, []string{"action"},
	)
	jobsFinished = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "job",
			Name:      "finished_total",
			Help:      "Number of job outcomes recorded, by status and error kind.",
		}, []string{"status", "error_kind"},
	)
	polls = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "job",
			Name:      "polls_total",
			Help:      "Number of status polls, by reported status.",
		}, []string{"status"},
	)
	deleteBlocked = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "host",
			Name:      "delete_blocked_total",
			Help:      "Number of deletes refused because link hosts depend on the core.",
		},
	)
	commandDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "hostctl",
			Name:      "command_duration_seconds",
			Help:      "Duration of synchronous hostctl invocations.",
			Buckets:   []float64{0.5, 1, 2.5, 5, 10, 30, 60, 120, 300, 600},
		}, []string{"action", "status"},
	)
	httpRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "HTTP requests by route and status code.",
		}, []string{"method", "route", "code"},
	)
	httpDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "HTTP request latency by route.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"method", "route"},
	)
)

func collectors() []prometheus.Collector {
	return []prometheus.Collector{jobLaunches, jobLaunchFailures, jobsFinished, polls, deleteBlocked, commandDuration, httpRequests, httpDuration}
}

// Register registers all metrics with the provided registerer.
// It is safe to call multiple times; subsequent calls after success are no-ops.
func Register(r prometheus.Registerer) error {
	if regOK.Load() {
		return nil
	}
	for _, c := range collectors() {
		if err := r.Register(c); err != nil {
			var are prometheus.AlreadyRegisteredError
			if errors.As(err, &are) {
				continue
			}
			return err
		}
	}
	regOK.Store(true)
	return nil
}

// Handler returns an http.Handler that serves Prometheus metrics for the DefaultGatherer.
func Handler() http.Handler { return promhttp.Handler() }

// HandlerFor serves metrics from a specific gatherer.
func HandlerFor(g prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(g, promhttp.HandlerOpts{})
}

// The helpers below no-op until Register has been called.

func IncJobLaunch(action string) {
	if regOK.Load() {
		jobLaunches.WithLabelValues(action).Inc()
	}
}

func IncJobLaunchFailure(action string) {
	if regOK.Load() {
		jobLaunchFailures.WithLabelValues(action).Inc()
	}
}

func IncJobFinished(status, errorKind string) {
	if regOK.Load() {
		jobsFinished.WithLabelValues(status, errorKind).Inc()
	}
}

func IncPoll(status string) {
	if regOK.Load() {
		polls.WithLabelValues(status).Inc()
	}
}

func IncDeleteBlocked() {
	if regOK.Load() {
		deleteBlocked.Inc()
	}
}

func ObserveCommand(action, status string, seconds float64) {
	if regOK.Load() {
		commandDuration.WithLabelValues(action, status).Observe(seconds)
	}
}

func ObserveHTTP(method, route string, code int, seconds float64) {
	if regOK.Load() {
		httpRequests.WithLabelValues(method, route, strconv.Itoa(code)).Inc()
		httpDuration.WithLabelValues(method, route).Observe(seconds)
	}
}
