// Package metrics exposes a prometheus.Collector over the request
// engine's transaction lifecycle: attempts, retries (by reason),
// resets, and CRC mismatches. Wiring it into *request.Engine is
// optional and parallels package events: a nil collector (the default)
// disables metrics, a non-nil one is updated from the same lifecycle points
// the orchestrator already emits events from.
//
// Grounded on runZeroInc-sockstats/pkg/exporter's TCPInfoCollector: a
// mutex-guarded struct fed by external Add/Remove-style calls from
// business logic, exposed to Prometheus via Describe/Collect rather
// than the package-level prometheus.NewCounterVec auto-registration
// style, since the engine's counters are per-instance state rather
// than process-global.
package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

// Collector accumulates orchestrator lifecycle counts and reports them
// as Prometheus counter metrics on demand. The zero value is not
// usable; construct with New.
type Collector struct {
	mu sync.Mutex

	namespace string

	transactionsTotal map[transactionKey]uint64
	retriesTotal      map[retryKey]uint64
	resetsTotal       uint64
	crcMismatchTotal  map[string]uint64 // keyed by action

	transactionsDesc *prometheus.Desc
	retriesDesc      *prometheus.Desc
	resetsDesc       *prometheus.Desc
	crcMismatchDesc  *prometheus.Desc
}

type transactionKey struct {
	action string
	ok     bool
}

type retryKey struct {
	action string
	reason string
}

// New builds a Collector. namespace prefixes every metric name
// (e.g. "notecard" yields notecard_transactions_total).
func New(namespace string) *Collector {
	c := &Collector{
		namespace:         namespace,
		transactionsTotal: make(map[transactionKey]uint64),
		retriesTotal:      make(map[retryKey]uint64),
		crcMismatchTotal:  make(map[string]uint64),
	}
	c.transactionsDesc = prometheus.NewDesc(
		prometheus.BuildFQName(namespace, "", "transactions_total"),
		"Total orchestrator transactions by action and outcome.",
		[]string{"action", "outcome"}, nil,
	)
	c.retriesDesc = prometheus.NewDesc(
		prometheus.BuildFQName(namespace, "", "retries_total"),
		"Total retry decisions by action and reason.",
		[]string{"action", "reason"}, nil,
	)
	c.resetsDesc = prometheus.NewDesc(
		prometheus.BuildFQName(namespace, "", "resets_total"),
		"Total transport resets issued before a retry loop.",
		nil, nil,
	)
	c.crcMismatchDesc = prometheus.NewDesc(
		prometheus.BuildFQName(namespace, "", "crc_mismatches_total"),
		"Total CRC sidecar mismatches by action.",
		[]string{"action"}, nil,
	)
	return c
}

// Describe implements prometheus.Collector.
func (c *Collector) Describe(descs chan<- *prometheus.Desc) {
	descs <- c.transactionsDesc
	descs <- c.retriesDesc
	descs <- c.resetsDesc
	descs <- c.crcMismatchDesc
}

// Collect implements prometheus.Collector.
func (c *Collector) Collect(metrics chan<- prometheus.Metric) {
	c.mu.Lock()
	defer c.mu.Unlock()

	for key, n := range c.transactionsTotal {
		outcome := "ok"
		if !key.ok {
			outcome = "error"
		}
		metrics <- prometheus.MustNewConstMetric(c.transactionsDesc, prometheus.CounterValue, float64(n), key.action, outcome)
	}
	for key, n := range c.retriesTotal {
		metrics <- prometheus.MustNewConstMetric(c.retriesDesc, prometheus.CounterValue, float64(n), key.action, key.reason)
	}
	metrics <- prometheus.MustNewConstMetric(c.resetsDesc, prometheus.CounterValue, float64(c.resetsTotal))
	for action, n := range c.crcMismatchTotal {
		metrics <- prometheus.MustNewConstMetric(c.crcMismatchDesc, prometheus.CounterValue, float64(n), action)
	}
}

// ObserveTransaction records one completed top-level orchestrator
// transaction, successful or not.
func (c *Collector) ObserveTransaction(action string, ok bool) {
	c.mu.Lock()
	c.transactionsTotal[transactionKey{action: action, ok: ok}]++
	c.mu.Unlock()
}

// ObserveRetry records one retry decision within a transaction's
// bounded retry loop, tagged with the classification that triggered it
// (e.g. "{io}", "crc-mismatch").
func (c *Collector) ObserveRetry(action, reason string) {
	c.mu.Lock()
	c.retriesTotal[retryKey{action: action, reason: reason}]++
	c.mu.Unlock()
}

// ObserveReset records one transport reset issued ahead of a retry
// loop because the reset-required latch was set.
func (c *Collector) ObserveReset() {
	c.mu.Lock()
	c.resetsTotal++
	c.mu.Unlock()
}

// ObserveCRCMismatch records one CRC sidecar mismatch for action.
func (c *Collector) ObserveCRCMismatch(action string) {
	c.mu.Lock()
	c.crcMismatchTotal[action]++
	c.mu.Unlock()
}
