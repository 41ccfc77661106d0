package notecard

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"

	"notecard-go/events"
	"notecard-go/hooks"
	"notecard-go/metrics"
)

type loopbackUART struct {
	out []byte
	in  []byte
}

func (l *loopbackUART) Reset() bool { return true }
func (l *loopbackUART) Write(p []byte) (int, error) {
	l.out = append(l.out, p...)
	return len(p), nil
}
func (l *loopbackUART) Available() int { return len(l.in) }
func (l *loopbackUART) Read(p []byte) (int, error) {
	n := copy(p, l.in)
	l.in = l.in[n:]
	return n, nil
}

func TestNewNotecardHasNoInterfaceSelected(t *testing.T) {
	nc := New()
	if nc.Request(NewRequest("card.version")) {
		t.Fatal("Request with no interface selected should fail")
	}
}

func TestSetFnSerialThenRequestResponse(t *testing.T) {
	nc := New()
	port := &loopbackUART{}
	var clock uint32
	nc.SetFnSerial(port, func() uint32 { return clock }, func(n uint32) { clock += n })

	port.in = append(port.in, []byte(`{"connected":true}`+"\n")...)

	rsp := nc.RequestResponse(NewRequest("card.version"))
	if rsp["connected"] != true {
		t.Fatalf("unexpected response: %v", rsp)
	}
	if len(port.out) == 0 {
		t.Fatal("expected the request to be written to the UART port")
	}
}

func TestSetFnDisabledRevertsToNone(t *testing.T) {
	nc := New()
	port := &loopbackUART{}
	nc.SetFnSerial(port, func() uint32 { return 0 }, func(uint32) {})
	nc.SetFnDisabled()
	if nc.Request(NewRequest("card.version")) {
		t.Fatal("Request after SetFnDisabled should fail")
	}
}

func TestNewRequestAndNewCommandShapes(t *testing.T) {
	r := NewRequest("card.version")
	if r["req"] != "card.version" {
		t.Fatalf("NewRequest shape wrong: %v", r)
	}
	c := NewCommand("card.sleep")
	if c["cmd"] != "card.sleep" {
		t.Fatalf("NewCommand shape wrong: %v", c)
	}
}

func TestRequestTimeoutFromDocPrefersMillisecondsOverSeconds(t *testing.T) {
	doc := map[string]any{"milliseconds": float64(2500), "seconds": float64(1)}
	if got := requestTimeoutFromDoc(doc); got != 3 {
		t.Fatalf("got %d, want 3", got)
	}
}

func TestRetryableIO(t *testing.T) {
	if !retryableIO(nil) {
		t.Fatal("nil response should be retryable")
	}
	if retryableIO(map[string]any{}) {
		t.Fatal("a response with no err field should not be retryable")
	}
	if !retryableIO(map[string]any{"err": "timeout {io}"}) {
		t.Fatal("an {io} error should be retryable")
	}
	if retryableIO(map[string]any{"err": "unsupported {io}{not-supported}"}) {
		t.Fatal("{not-supported} combined with {io} should not be retryable")
	}
}

func TestSetRequestTimeoutRoundTrips(t *testing.T) {
	nc := New()
	prev := nc.SetRequestTimeout(30)
	if prev != 0 {
		t.Fatalf("expected previous default of 0, got %d", prev)
	}
	prev2 := nc.SetRequestTimeout(0)
	if prev2 != 30 {
		t.Fatalf("expected previous value 30, got %d", prev2)
	}
}

func TestSuspendResumeDoesNotPanic(t *testing.T) {
	nc := New()
	nc.Suspend()
	nc.Resume()
	_ = hooks.Hooks{}
}

func TestSetEventsReceivesLifecycleNotifications(t *testing.T) {
	nc := New()
	port := &loopbackUART{}
	var clock uint32
	nc.SetFnSerial(port, func() uint32 { return clock }, func(n uint32) { clock += n })

	bus := events.NewBus(8)
	conn := bus.NewConnection()
	sub := conn.Subscribe()
	defer conn.Disconnect()
	nc.SetEvents(bus)

	port.in = append(port.in, []byte(`{"connected":true}`+"\n")...)
	nc.RequestResponse(NewRequest("card.version"))

	select {
	case ev := <-sub.Channel():
		if ev.Action != "card.version" {
			t.Fatalf("unexpected event: %+v", ev)
		}
	default:
		t.Fatal("expected at least one lifecycle event")
	}
}

func TestSetMetricsRecordsTransactions(t *testing.T) {
	nc := New()
	port := &loopbackUART{}
	var clock uint32
	nc.SetFnSerial(port, func() uint32 { return clock }, func(n uint32) { clock += n })

	m := metrics.New("test")
	nc.SetMetrics(m)

	port.in = append(port.in, []byte(`{"connected":true}`+"\n")...)
	nc.RequestResponse(NewRequest("card.version"))

	ch := make(chan prometheus.Metric, 8)
	m.Collect(ch)
	close(ch)
	var n int
	for range ch {
		n++
	}
	if n == 0 {
		t.Fatal("expected the transaction to be reflected in collected metrics")
	}
}
