// Package metrics exposes Prometheus metrics for authentication, sync runs
// and the directory connection pool.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/isometry/adbridge/internal/dirsync"
	"github.com/isometry/adbridge/internal/ldap"
)

const namespace = "adbridge"

// Sync directions used as label values.
const (
	DirectionToLocal     = "to_local"
	DirectionToDirectory = "to_directory"
)

type Collector struct {
	authAttempts *prometheus.CounterVec
	authLatency  prometheus.Histogram
	syncRuns     *prometheus.CounterVec
	syncUsers    *prometheus.CounterVec
	syncDuration *prometheus.HistogramVec
}

// NewCollector creates a Collector and registers it with reg.
func NewCollector(reg prometheus.Registerer) *Collector {
	c := &Collector{
		authAttempts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "auth_attempts_total",
			Help:      "Authentication attempts by outcome reason.",
		}, []string{"reason"}),
		authLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "auth_duration_seconds",
			Help:      "Time taken to authenticate a login.",
			Buckets:   prometheus.DefBuckets,
		}),
		syncRuns: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sync_runs_total",
			Help:      "Synchronization runs by direction and result.",
		}, []string{"direction", "result"}),
		syncUsers: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sync_users_total",
			Help:      "Users processed by synchronization, by outcome.",
		}, []string{"direction", "outcome"}),
		syncDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "sync_duration_seconds",
			Help:      "Duration of synchronization runs.",
			Buckets:   prometheus.ExponentialBuckets(1, 4, 8),
		}, []string{"direction"}),
	}

	reg.MustRegister(c.authAttempts, c.authLatency, c.syncRuns, c.syncUsers, c.syncDuration)
	return c
}

// RecordAuthentication counts one attempt.
func (c *Collector) RecordAuthentication(reason string, duration time.Duration) {
	c.authAttempts.WithLabelValues(reason).Inc()
	c.authLatency.Observe(duration.Seconds())
}

// RecordSync counts a run and the users it touched.
func (c *Collector) RecordSync(direction string, summary dirsync.Summary, err error) {
	result := "success"
	if err != nil {
		result = "error"
	}
	c.syncRuns.WithLabelValues(direction, result).Inc()
	c.syncDuration.WithLabelValues(direction).Observe(summary.Elapsed.Seconds())

	for outcome, n := range map[dirsync.Outcome]int{
		dirsync.OutcomeCreated: summary.Created,
		dirsync.OutcomeUpdated: summary.Updated,
		dirsync.OutcomeSkipped: summary.Skipped,
		dirsync.OutcomeFailed:  summary.Failed,
	} {
		if n > 0 {
			c.syncUsers.WithLabelValues(direction, string(outcome)).Add(float64(n))
		}
	}
}

// RegisterPoolStats exports the directory connection pool, read at scrape
// time.
func RegisterPoolStats(reg prometheus.Registerer, stats func() ldap.PoolStats) {
	opts := func(name, help string) prometheus.Opts {
		return prometheus.Opts{Namespace: namespace, Subsystem: "ldap_pool", Name: name, Help: help}
	}
	reg.MustRegister(
		prometheus.NewGaugeFunc(prometheus.GaugeOpts(opts("connections", "Open directory connections.")),
			func() float64 { return float64(stats().Total) }),
		prometheus.NewGaugeFunc(prometheus.GaugeOpts(opts("active_connections", "Directory connections in use.")),
			func() float64 { return float64(stats().Active) }),
		prometheus.NewGaugeFunc(prometheus.GaugeOpts(opts("idle_connections", "Idle directory connections.")),
			func() float64 { return float64(stats().Idle) }),
		prometheus.NewCounterFunc(prometheus.CounterOpts(opts("connections_created_total", "Directory connections created.")),
			func() float64 { return float64(stats().Created) }),
		prometheus.NewCounterFunc(prometheus.CounterOpts(opts("errors_total", "Directory connection errors.")),
			func() float64 { return float64(stats().Errors) }),
	)
}

// Handler serves the metrics gathered by g.
func Handler(g prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(g, promhttp.HandlerOpts{})
}
