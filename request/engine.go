// Package request implements the orchestrator (spec component R) and the
// raw JSON transaction entry point (component J): the state machine that
// serializes a request, attaches the CRC sidecar, drives the dispatcher
// through a bounded retry loop with reset escalation, and classifies
// outcomes into a parsed response or a synthesized error document.
//
// Grounded on original_source/n_request.c's noteTransaction/NoteRequest
// family and on the teacher's worker-loop style (services/hal's
// request/response dispatch over a bounded retry), generalized to the
// Notecard wire protocol.
package request

import (
	"sync"

	"notecard-go/crc"
	"notecard-go/dispatch"
	"notecard-go/events"
	"notecard-go/hooks"
	"notecard-go/metrics"
)

// CARD_REQUEST_RETRIES_ALLOWED and RETRY_DELAY_MS per original_source/n_request.c.
const (
	RetriesAllowed     = 4
	RetryDelayMs       = 500
	DefaultTimeoutSec  = 10
)

// UserAgent is the host-identifying object piggybacked onto every hub.set
// request that carries product and no body, per spec §4.6 step 3.
type UserAgent struct {
	OS    string
	CPU   string
	Agent string
}

// Engine is one process-wide (or, for tests, independently constructed)
// instance of the request engine's mutable state: the active dispatcher,
// sequence number, reset-required latch, sticky CRC-support flag,
// timeout override, debug suppression counter, and user-agent fields.
// All of it is guarded by mu. The host's device mutex hook, when
// installed, is held only around a transaction's exchange with the
// device, not by the setters below.
type Engine struct {
	mu sync.Mutex

	Hooks   *hooks.Hooks
	D       *dispatch.Dispatcher
	Events  *events.Bus
	Metrics *metrics.Collector

	seqno               uint16
	resetRequired       bool
	firmwareSupportsCRC bool
	requestTimeoutSec   uint32
	debugSuspendCount   int

	userAgent UserAgent

	disableCRC       bool // note_c_low_mem
	disableUserAgent bool // note_disable_user_agent
	disableDebug     bool // note_nodebug
}

// NewEngine builds an independent engine bound to h and d, suitable both
// for the process-wide singleton in package notecard and for tests that
// want isolated state.
func NewEngine(h *hooks.Hooks, d *dispatch.Dispatcher) *Engine {
	return &Engine{Hooks: h, D: d}
}

// SetEvents installs an event bus that the orchestrator publishes
// transaction lifecycle notifications to. A nil bus (the default)
// disables telemetry entirely.
func (e *Engine) SetEvents(bus *events.Bus) {
	e.mu.Lock()
	e.Events = bus
	e.mu.Unlock()
}

// SetMetrics installs a Prometheus collector that the orchestrator
// updates from the same lifecycle points events are published from. A
// nil collector (the default) disables metrics entirely.
func (e *Engine) SetMetrics(m *metrics.Collector) {
	e.mu.Lock()
	e.Metrics = m
	e.mu.Unlock()
}

// SetLowMem toggles the note_c_low_mem compile-time flag's runtime
// equivalent: disables the CRC subsystem and user-agent injection.
func (e *Engine) SetLowMem(on bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.disableCRC = on
	e.disableUserAgent = e.disableUserAgent || on
}

func (e *Engine) SetDisableUserAgent(on bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.disableUserAgent = on
}

// SetDisableDebug toggles the note_nodebug compile-time flag's runtime
// equivalent: silences request/response tracing regardless of the
// Suspend/Resume nesting depth.
func (e *Engine) SetDisableDebug(on bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.disableDebug = on
}

// SetRequestTimeout installs a transaction timeout override in seconds,
// returning the previous value. Zero restores the built-in default.
func (e *Engine) SetRequestTimeout(seconds uint32) uint32 {
	e.mu.Lock()
	defer e.mu.Unlock()
	prev := e.requestTimeoutSec
	e.requestTimeoutSec = seconds
	return prev
}

func (e *Engine) resolveTimeoutSec(perRequest uint32) uint32 {
	e.mu.Lock()
	defer e.mu.Unlock()
	if perRequest > 0 {
		return perRequest
	}
	if e.requestTimeoutSec > 0 {
		return e.requestTimeoutSec
	}
	return DefaultTimeoutSec
}

func (e *Engine) SetUserAgent(agent string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.userAgent.Agent = agent
}

func (e *Engine) SetUserAgentOS(os string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.userAgent.OS = os
}

func (e *Engine) SetUserAgentCPU(cpu string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.userAgent.CPU = cpu
}

// Suspend increments the debug-trace suppression counter; Resume
// decrements it. Tracing is active only while the counter is zero.
func (e *Engine) Suspend() {
	e.mu.Lock()
	e.debugSuspendCount++
	e.mu.Unlock()
}

func (e *Engine) Resume() {
	e.mu.Lock()
	if e.debugSuspendCount > 0 {
		e.debugSuspendCount--
	}
	e.mu.Unlock()
}

func (e *Engine) tracingEnabled() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.debugSuspendCount == 0 && !e.disableDebug
}

// ResetRequired reports the process-wide reset-required latch.
func (e *Engine) ResetRequired() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.resetRequired
}

func (e *Engine) setResetRequired(v bool) {
	e.mu.Lock()
	e.resetRequired = v
	e.mu.Unlock()
}

// peekSeqno returns the sequence number to use for CRC annotation
// without advancing it: every retry of one orchestrator transaction
// shares the same sequence number so the device can deduplicate via the
// sidecar (spec §5).
func (e *Engine) peekSeqno() uint16 {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.seqno
}

// advanceSeqno increments the sequence number exactly once per top-level
// orchestrator transaction, regardless of retry count (spec §4.6 step 9).
func (e *Engine) advanceSeqno() {
	e.mu.Lock()
	e.seqno++
	e.mu.Unlock()
}

// emit publishes a lifecycle event if an event bus is installed. A nil
// Events bus (the common case for tests and low-memory hosts) makes this
// a no-op, matching the rest of the engine's degrade-safely contract.
func (e *Engine) emit(kind events.Kind, action string, seqno uint16, errStr string) {
	if e.Events == nil {
		return
	}
	e.Events.Publish(events.Event{Kind: kind, Action: action, Seqno: seqno, Err: errStr})
}

// observeRetry records a retry decision on both the event bus and the
// metrics collector, whichever are installed.
func (e *Engine) observeRetry(action, reason string, seqno uint16) {
	e.emit(events.KindRetry, action, seqno, reason)
	if e.Metrics != nil {
		e.Metrics.ObserveRetry(action, reason)
	}
}

func (e *Engine) observeReset(action string) {
	e.emit(events.KindReset, action, 0, "")
	if e.Metrics != nil {
		e.Metrics.ObserveReset()
	}
}

func (e *Engine) observeTransaction(action string, ok bool) {
	if e.Metrics != nil {
		e.Metrics.ObserveTransaction(action, ok)
	}
}

func (e *Engine) observeCRCMismatch(action string) {
	if e.Metrics != nil {
		e.Metrics.ObserveCRCMismatch(action)
	}
}

func (e *Engine) crcError(rsp []byte, seqno uint16) (trimmed []byte, mismatch bool) {
	e.mu.Lock()
	supports := e.firmwareSupportsCRC
	e.mu.Unlock()

	trimmed, mismatch, supports = crc.Error(rsp, seqno, supports)

	e.mu.Lock()
	e.firmwareSupportsCRC = supports
	e.mu.Unlock()
	return trimmed, mismatch
}
