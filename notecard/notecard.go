// Package notecard is the public request API (spec component P): a thin
// layer over package request's orchestrator that builds request/command
// documents, manages a process-wide engine instance, and offers a
// bounded-wall-clock retry variant for callers that would rather block
// through transient {io} failures than handle them themselves.
//
// Grounded on the teacher's package-level-singleton-plus-constructor
// pattern (services expose both a package singleton for production use
// and a constructor for tests), applied here to one *request.Engine
// instead of one HAL service.
package notecard

import (
	"time"

	"notecard-go/dispatch"
	"notecard-go/errcode"
	"notecard-go/events"
	"notecard-go/hooks"
	"notecard-go/metrics"
	"notecard-go/request"
	"notecard-go/transport"
)

// Notecard is an independently constructable engine handle. The package-
// level functions below operate on a default instance so callers that
// don't need multiple concurrent Notecards can use the package API
// directly, mirroring note-c's single-device-per-process model.
type Notecard struct {
	hooks *hooks.Hooks
	eng   *request.Engine
}

// New builds an independent Notecard with no interface selected yet.
// Tests should prefer this over the package-level singleton so they
// don't share state across test cases.
func New() *Notecard {
	h := &hooks.Hooks{}
	return &Notecard{hooks: h, eng: request.NewEngine(h, &dispatch.Dispatcher{})}
}

var def = New()

// SetFnSerial switches the default Notecard to the UART interface.
func SetFnSerial(port hooks.UARTPort, getMs func() uint32, delayMs func(uint32)) {
	def.SetFnSerial(port, getMs, delayMs)
}

func (n *Notecard) SetFnSerial(port hooks.UARTPort, getMs func() uint32, delayMs func(uint32)) {
	n.hooks.Lock()
	n.hooks.UART = port
	n.hooks.GetMs = getMs
	n.hooks.DelayMs = delayMs
	n.hooks.Unlock()
	d := n.eng.StateForDispatcher()
	d.Iface = dispatch.InterfaceSerial
	d.Transport = &transport.UART{H: n.hooks}
}

// SetFnI2C switches the default Notecard to the I²C interface. addr==0
// and maxSegment==0 take the protocol defaults; maxSegment is always
// clamped to the protocol maximum.
func SetFnI2C(bus hooks.I2CPort, addr uint16, maxSegment int, getMs func() uint32, delayMs func(uint32)) {
	def.SetFnI2C(bus, addr, maxSegment, getMs, delayMs)
}

func (n *Notecard) SetFnI2C(bus hooks.I2CPort, addr uint16, maxSegment int, getMs func() uint32, delayMs func(uint32)) {
	n.hooks.Lock()
	n.hooks.I2C = bus
	n.hooks.GetMs = getMs
	n.hooks.DelayMs = delayMs
	n.hooks.Unlock()
	d := n.eng.StateForDispatcher()
	d.Iface = dispatch.InterfaceI2C
	d.Transport = &transport.I2C{H: n.hooks, Address: addr, MaxSegment: maxSegment}
}

// SetFnDisabled returns the default Notecard to the "none" interface
// state; all entry points will report the canonical interface-selection
// error until a new interface is installed.
func SetFnDisabled() { def.SetFnDisabled() }

func (n *Notecard) SetFnDisabled() {
	n.eng.StateForDispatcher().Iface = dispatch.InterfaceNone
	n.eng.StateForDispatcher().Transport = nil
}

func SetRequestTimeout(seconds uint32) uint32 { return def.SetRequestTimeout(seconds) }
func (n *Notecard) SetRequestTimeout(seconds uint32) uint32 {
	return n.eng.SetRequestTimeout(seconds)
}

func SetUserAgent(agent string)    { def.SetUserAgent(agent) }
func SetUserAgentOS(os string)     { def.SetUserAgentOS(os) }
func SetUserAgentCPU(cpu string)   { def.SetUserAgentCPU(cpu) }
func (n *Notecard) SetUserAgent(agent string)  { n.eng.SetUserAgent(agent) }
func (n *Notecard) SetUserAgentOS(os string)   { n.eng.SetUserAgentOS(os) }
func (n *Notecard) SetUserAgentCPU(cpu string) { n.eng.SetUserAgentCPU(cpu) }

func Suspend() { def.Suspend() }
func Resume()  { def.Resume() }
func (n *Notecard) Suspend() { n.eng.Suspend() }
func (n *Notecard) Resume()  { n.eng.Resume() }

// SetLowMem disables the CRC subsystem and user-agent injection, the
// runtime equivalent of note-c's note_c_low_mem compile flag.
func SetLowMem(on bool) { def.SetLowMem(on) }
func (n *Notecard) SetLowMem(on bool) { n.eng.SetLowMem(on) }

// SetDisableUserAgent disables user-agent piggyback fields independently
// of SetLowMem, the runtime equivalent of note_disable_user_agent.
func SetDisableUserAgent(on bool) { def.SetDisableUserAgent(on) }
func (n *Notecard) SetDisableUserAgent(on bool) { n.eng.SetDisableUserAgent(on) }

// SetDisableDebug silences request/response tracing regardless of
// Suspend/Resume nesting depth, the runtime equivalent of note_nodebug.
func SetDisableDebug(on bool) { def.SetDisableDebug(on) }
func (n *Notecard) SetDisableDebug(on bool) { n.eng.SetDisableDebug(on) }

// SetEvents installs the lifecycle event bus callers can subscribe to
// for transaction start/retry/reset/done notifications. Pass nil to
// disable telemetry again.
func SetEvents(bus *events.Bus) { def.SetEvents(bus) }
func (n *Notecard) SetEvents(bus *events.Bus) { n.eng.SetEvents(bus) }

// SetMetrics installs a Prometheus collector the orchestrator updates
// on every transaction, retry, reset, and CRC mismatch. Pass nil to
// disable metrics again.
func SetMetrics(m *metrics.Collector) { def.SetMetrics(m) }
func (n *Notecard) SetMetrics(m *metrics.Collector) { n.eng.SetMetrics(m) }

// NewRequest returns a fresh document {"req": action}.
func NewRequest(action string) request.Doc { return request.Doc{"req": action} }

// NewCommand returns a fresh document {"cmd": action}.
func NewCommand(action string) request.Doc { return request.Doc{"cmd": action} }

func requestTimeoutFromDoc(doc request.Doc) uint32 {
	if ms, ok := numField(doc["milliseconds"]); ok && ms > 0 {
		return uint32(ms/1000 + 1)
	}
	if s, ok := numField(doc["seconds"]); ok && s > 0 {
		return uint32(s)
	}
	return 0
}

func numField(v any) (float64, bool) {
	f, ok := v.(float64)
	return f, ok
}

// Request runs the orchestrator for req and reports whether the
// response carried no err field.
func Request(req request.Doc) bool { return def.Request(req) }

func (n *Notecard) Request(req request.Doc) bool {
	rsp, ok := n.eng.Transact(req, request.TransactOpts{WantResponse: true, TimeoutSec: requestTimeoutFromDoc(req), LockDevice: true})
	if !ok {
		return false
	}
	_, hasErr := rsp["err"]
	return !hasErr
}

// RequestResponse runs the orchestrator for req and returns the response
// document (a synthesized error document on failure).
func RequestResponse(req request.Doc) request.Doc { return def.RequestResponse(req) }

func (n *Notecard) RequestResponse(req request.Doc) request.Doc {
	rsp, _ := n.eng.Transact(req, request.TransactOpts{WantResponse: true, TimeoutSec: requestTimeoutFromDoc(req), LockDevice: true})
	return rsp
}

// Transaction runs the orchestrator with default locking, returning the
// raw outcome regardless of err-field presence.
func Transaction(req request.Doc) request.Doc { return def.Transaction(req) }

func (n *Notecard) Transaction(req request.Doc) request.Doc {
	rsp, _ := n.eng.Transact(req, request.TransactOpts{WantResponse: true, TimeoutSec: requestTimeoutFromDoc(req), LockDevice: true})
	return rsp
}

// RequestWithRetry retries the whole transaction until timeoutS elapses
// (wrap-safe), hiding transient {io} failures.
func RequestWithRetry(req request.Doc, timeoutS uint32) bool { return def.RequestWithRetry(req, timeoutS) }

func (n *Notecard) RequestWithRetry(req request.Doc, timeoutS uint32) bool {
	rsp := n.RequestResponseWithRetry(req, timeoutS)
	if rsp == nil {
		return false
	}
	_, hasErr := rsp["err"]
	return !hasErr
}

// RequestResponseWithRetry is RequestResponse's bounded-wall-clock-retry
// variant: while the response is nil, or contains {io} without
// {not-supported}, retry until timeoutS seconds have elapsed.
func RequestResponseWithRetry(req request.Doc, timeoutS uint32) request.Doc {
	return def.RequestResponseWithRetry(req, timeoutS)
}

func (n *Notecard) RequestResponseWithRetry(req request.Doc, timeoutS uint32) request.Doc {
	start := n.hooks.Now()
	budget := time.Duration(timeoutS) * time.Second

	for {
		rsp := n.RequestResponse(req)
		if !retryableIO(rsp) {
			return rsp
		}
		if request.ElapsedSince(n.hooks, start) >= budget {
			return rsp
		}
		n.hooks.Sleep(request.RetryDelayMs)
	}
}

func retryableIO(rsp request.Doc) bool {
	if rsp == nil {
		return true
	}
	errStr, ok := rsp["err"].(string)
	if !ok || errStr == "" {
		return false
	}
	return errcode.ContainsTag(errStr, errcode.IO) && !errcode.ContainsTag(errStr, errcode.NotSupported)
}
