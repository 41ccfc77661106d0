package request

import (
	"encoding/json"
	"testing"

	"github.com/prometheus/client_golang/prometheus"

	"notecard-go/dispatch"
	"notecard-go/errcode"
	"notecard-go/hooks"
	"notecard-go/metrics"
)

func newTestEngine(t *testing.T, ft *scriptedTransport) (*Engine, *uint32) {
	t.Helper()
	clock := new(uint32)
	h := &hooks.Hooks{
		GetMs:   func() uint32 { return *clock },
		DelayMs: func(n uint32) { *clock += n },
	}
	d := &dispatch.Dispatcher{Iface: dispatch.InterfaceSerial, Transport: ft}
	return NewEngine(h, d), clock
}

// scriptedTransport is a stub Transport whose ChunkedReceive feeds back
// one pre-canned full response per call, reporting available=0 so
// dispatch.JSONTransaction's growing-buffer loop terminates immediately.
type scriptedTransport struct {
	resetOK bool
	outs    [][]byte
	errs    []error
	i       int
	sent    [][]byte
}

func (s *scriptedTransport) Reset() bool { return s.resetOK }
func (s *scriptedTransport) ChunkedTransmit(buf []byte) error {
	s.sent = append(s.sent, append([]byte(nil), buf...))
	return nil
}
func (s *scriptedTransport) ChunkedReceive(buf []byte, timeoutMs uint32) (int, int, error) {
	if s.i >= len(s.outs) {
		return 0, 0, nil
	}
	out := s.outs[s.i]
	err := s.errs[s.i]
	s.i++
	if err != nil {
		return 0, 0, err
	}
	n := copy(buf, out)
	return n, 0, nil
}

func TestTransactRejectsBothReqAndCmd(t *testing.T) {
	e, _ := newTestEngine(t, &scriptedTransport{})
	rsp, ok := e.Transact(Doc{"req": "a", "cmd": "b"}, TransactOpts{WantResponse: true})
	if ok {
		t.Fatal("expected failure for a doc with both req and cmd")
	}
	if rsp["err"] == nil {
		t.Fatal("expected a synthesized error document")
	}
}

func TestTransactRejectsNeitherReqNorCmd(t *testing.T) {
	e, _ := newTestEngine(t, &scriptedTransport{})
	_, ok := e.Transact(Doc{"body": 1}, TransactOpts{})
	if ok {
		t.Fatal("expected failure for a doc missing both req and cmd")
	}
}

func TestTransactHappyPathRequest(t *testing.T) {
	st := &scriptedTransport{
		outs: [][]byte{[]byte(`{"connected":true}` + "\n")},
		errs: []error{nil},
	}
	e, _ := newTestEngine(t, st)
	rsp, ok := e.Transact(Doc{"req": "card.version", "id": float64(7)}, TransactOpts{WantResponse: true})
	if !ok {
		t.Fatalf("expected success, got %v", rsp)
	}
	if rsp["connected"] != true {
		t.Fatalf("unexpected response: %v", rsp)
	}
}

func TestTransactCommandReturnsEmptyDocOnSuccess(t *testing.T) {
	st := &scriptedTransport{}
	e, _ := newTestEngine(t, st)
	rsp, ok := e.Transact(Doc{"cmd": "card.sleep"}, TransactOpts{})
	if !ok {
		t.Fatal("expected command success")
	}
	if len(rsp) != 0 {
		t.Fatalf("expected empty doc for successful command, got %v", rsp)
	}
}

func TestTransactRetriesOnIOErrorThenSucceeds(t *testing.T) {
	st := &scriptedTransport{
		outs: [][]byte{nil, []byte(`{"connected":true}` + "\n")},
		errs: []error{errIOStub{}, nil},
	}
	e, _ := newTestEngine(t, st)
	rsp, ok := e.Transact(Doc{"req": "card.version"}, TransactOpts{WantResponse: true})
	if !ok {
		t.Fatalf("expected eventual success after one retry, got %v", rsp)
	}
}

func TestTransactSequenceNumberAdvancesOncePerTransaction(t *testing.T) {
	st := &scriptedTransport{
		outs: [][]byte{nil, []byte(`{}` + "\n")},
		errs: []error{errIOStub{}, nil},
	}
	e, _ := newTestEngine(t, st)
	before := e.peekSeqno()
	e.Transact(Doc{"req": "card.version"}, TransactOpts{WantResponse: true})
	after := e.peekSeqno()
	if after != before+1 {
		t.Fatalf("seqno advanced by %d, want 1", after-before)
	}
}

func TestTransactBadBinErrorDoesNotRetry(t *testing.T) {
	st := &scriptedTransport{
		outs: [][]byte{[]byte(`{"err":"corrupt {bad-bin}"}` + "\n")},
		errs: []error{nil},
	}
	e, _ := newTestEngine(t, st)
	rsp, ok := e.Transact(Doc{"req": "card.binary"}, TransactOpts{WantResponse: true})
	if ok {
		t.Fatal("expected failure")
	}
	if len(st.outs) != 1 || st.i != 1 {
		t.Fatalf("expected exactly one attempt, engine made %d", st.i)
	}
	if rsp["err"] == nil {
		t.Fatal("expected err field in response")
	}
}

type errIOStub struct{}

func (errIOStub) Error() string           { return "transaction timeout {io}" }
func (errIOStub) Code() errcode.Code { return errcode.IO }

func TestValidate(t *testing.T) {
	if validate(nil) == nil {
		t.Fatal("nil doc should be invalid")
	}
	if validate(Doc{}) == nil {
		t.Fatal("doc with neither req nor cmd should be invalid")
	}
	if validate(Doc{"req": "a", "cmd": "b"}) == nil {
		t.Fatal("doc with both req and cmd should be invalid")
	}
	if err := validate(Doc{"req": "a"}); err != nil {
		t.Fatalf("valid req-only doc should pass: %v", err)
	}
}

func TestSynthesizeErrorEchoesID(t *testing.T) {
	doc := Doc{"req": "a", "id": float64(3)}
	out := synthesizeError(doc, errIOStub{})
	if out["src"] != "note-c" {
		t.Fatal("synthesized error must carry src note-c")
	}
	if out["id"] != float64(3) {
		t.Fatalf("expected id to be echoed, got %v", out["id"])
	}
}

func TestUserAgentPiggyback(t *testing.T) {
	e, _ := newTestEngine(t, &scriptedTransport{outs: [][]byte{[]byte("{}\n")}, errs: []error{nil}})
	e.SetUserAgentOS("linux")
	e.SetUserAgentCPU("arm64")
	doc := Doc{"req": "hub.set", "product": "com.example.app"}
	if !e.shouldPiggybackUserAgent(doc) {
		t.Fatal("expected piggyback to trigger for hub.set with product and no body")
	}
	body := e.userAgentBody()
	bodyJSON, _ := json.Marshal(body)
	if string(bodyJSON) == "{}" {
		t.Fatal("expected non-empty user agent body")
	}
}

func TestUserAgentNotPiggybackedWhenBodyAlreadyPresent(t *testing.T) {
	e, _ := newTestEngine(t, &scriptedTransport{})
	doc := Doc{"req": "hub.set", "product": "x", "body": map[string]any{"a": 1}}
	if e.shouldPiggybackUserAgent(doc) {
		t.Fatal("should not piggyback when body is already present")
	}
}

func TestTransactRecordsMetricsOnRetryAndSuccess(t *testing.T) {
	st := &scriptedTransport{
		outs: [][]byte{nil, []byte(`{"connected":true}` + "\n")},
		errs: []error{errIOStub{}, nil},
	}
	e, _ := newTestEngine(t, st)
	m := metrics.New("test")
	e.SetMetrics(m)

	_, ok := e.Transact(Doc{"req": "card.version"}, TransactOpts{WantResponse: true})
	if !ok {
		t.Fatal("expected eventual success")
	}

	ch := make(chan prometheus.Metric, 16)
	m.Collect(ch)
	close(ch)
	var n int
	for range ch {
		n++
	}
	if n == 0 {
		t.Fatal("expected the retry and the final success to be reflected in collected metrics")
	}
}

func TestSuspendResumeGatesTracing(t *testing.T) {
	e, _ := newTestEngine(t, &scriptedTransport{})
	if !e.tracingEnabled() {
		t.Fatal("tracing should be enabled by default")
	}
	e.Suspend()
	if e.tracingEnabled() {
		t.Fatal("tracing should be suspended")
	}
	e.Resume()
	if !e.tracingEnabled() {
		t.Fatal("tracing should resume")
	}
}
