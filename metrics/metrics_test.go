package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
)

func TestObserveTransactionCountsByActionAndOutcome(t *testing.T) {
	c := New("notecard")
	c.ObserveTransaction("card.version", true)
	c.ObserveTransaction("card.version", true)
	c.ObserveTransaction("card.version", false)

	c.mu.Lock()
	ok := c.transactionsTotal[transactionKey{action: "card.version", ok: true}]
	bad := c.transactionsTotal[transactionKey{action: "card.version", ok: false}]
	c.mu.Unlock()
	if ok != 2 {
		t.Fatalf("transactionsTotal[ok] = %d, want 2", ok)
	}
	if bad != 1 {
		t.Fatalf("transactionsTotal[error] = %d, want 1", bad)
	}
}

func TestObserveRetryCountsByReason(t *testing.T) {
	c := New("notecard")
	c.ObserveRetry("hub.sync", "{io}")
	c.ObserveRetry("hub.sync", "{io}")
	c.ObserveRetry("hub.sync", "crc-mismatch")

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.retriesTotal[retryKey{action: "hub.sync", reason: "{io}"}] != 2 {
		t.Fatal("expected two {io} retries")
	}
	if c.retriesTotal[retryKey{action: "hub.sync", reason: "crc-mismatch"}] != 1 {
		t.Fatal("expected one crc-mismatch retry")
	}
}

func TestObserveResetAndCRCMismatch(t *testing.T) {
	c := New("notecard")
	c.ObserveReset()
	c.ObserveReset()
	c.ObserveCRCMismatch("card.version")

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.resetsTotal != 2 {
		t.Fatalf("resetsTotal = %d, want 2", c.resetsTotal)
	}
	if c.crcMismatchTotal["card.version"] != 1 {
		t.Fatal("expected one crc mismatch for card.version")
	}
}

func TestCollectEmitsDescribedMetrics(t *testing.T) {
	c := New("notecard")
	c.ObserveTransaction("card.version", true)
	c.ObserveReset()

	descs := make(chan *prometheus.Desc, 8)
	c.Describe(descs)
	close(descs)
	var descCount int
	for range descs {
		descCount++
	}
	if descCount != 4 {
		t.Fatalf("Describe emitted %d descs, want 4", descCount)
	}

	metricsCh := make(chan prometheus.Metric, 8)
	c.Collect(metricsCh)
	close(metricsCh)
	var metricCount int
	for range metricsCh {
		metricCount++
	}
	if metricCount == 0 {
		t.Fatal("Collect emitted no metrics")
	}
}
