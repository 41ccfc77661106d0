package request

import (
	"encoding/json"
	"time"

	"notecard-go/crc"
	"notecard-go/errcode"
	"notecard-go/events"
	"notecard-go/hooks"
)

// Doc is the in-memory request/response document. The engine treats it
// as an external value/DOM facility per spec §6.1; encoding/json's
// map[string]any is the idiomatic Go stand-in, the same pattern the
// teacher uses throughout for ad hoc JSON (its generic decodeJSON[T]
// helper and config.go's raw-field handling).
type Doc = map[string]any

// TransactOpts carries the per-request knobs that vary by call site:
// a per-request timeout override and whether to take the device mutex
// (transaction() takes it by default; some internal callers already hold
// it). WantResponse is not read by Transact: a response is collected for
// every req document and never for a cmd document.
type TransactOpts struct {
	WantResponse  bool
	TimeoutSec    uint32
	LockDevice    bool
}

func isCommand(doc Doc) bool {
	_, ok := doc["cmd"]
	return ok
}

func isRequest(doc Doc) bool {
	_, ok := doc["req"]
	return ok
}

func validate(doc Doc) error {
	if doc == nil {
		return errcode.New(errcode.Bad, "request.validate", "null request")
	}
	cmd, req := isCommand(doc), isRequest(doc)
	if cmd == req {
		if !cmd {
			return errcode.New(errcode.Bad, "request.validate", "missing req or cmd")
		}
		return errcode.New(errcode.Bad, "request.validate", "both req and cmd present")
	}
	return nil
}

func docID(doc Doc) (any, bool) {
	v, ok := doc["id"]
	return v, ok
}

// shouldPiggybackUserAgent implements spec §4.6 step 3: only on a
// hub.set request, carrying product, with no body field yet, with
// user-agent injection not disabled on the engine.
func (e *Engine) shouldPiggybackUserAgent(doc Doc) bool {
	e.mu.Lock()
	disabled := e.disableUserAgent
	e.mu.Unlock()
	if disabled {
		return false
	}
	if action, _ := doc["req"].(string); action != "hub.set" {
		return false
	}
	if _, ok := doc["product"]; !ok {
		return false
	}
	if _, ok := doc["body"]; ok {
		return false
	}
	return true
}

func (e *Engine) userAgentBody() map[string]string {
	e.mu.Lock()
	ua := e.userAgent
	e.mu.Unlock()
	body := map[string]string{}
	if ua.OS != "" {
		body["os_name"] = ua.OS
	}
	if ua.CPU != "" {
		body["os_cpu"] = ua.CPU
	}
	if ua.Agent != "" {
		body["agent"] = ua.Agent
	}
	return body
}

// synthesizeError builds the error document a fatal transaction outcome
// returns to request callers, per spec §3 and §4.6 step 10.
func synthesizeError(doc Doc, err error) Doc {
	out := Doc{
		"err": err.Error(),
		"src": "note-c",
	}
	if doc != nil {
		if id, ok := docID(doc); ok {
			out["id"] = id
		}
	}
	return out
}

// Transact runs the full orchestrator state machine (spec §4.6) for one
// request or command document, returning a parsed response (an empty
// document for a successful command, nil for a failed command, or a
// synthesized error document for a failed request) and a boolean success
// flag.
func (e *Engine) Transact(doc Doc, opts TransactOpts) (Doc, bool) {
	if err := validate(doc); err != nil {
		return synthesizeError(doc, err), false
	}

	cmd := isCommand(doc)

	if e.shouldPiggybackUserAgent(doc) {
		doc["body"] = e.userAgentBody()
	}

	serialized, err := json.Marshal(doc)
	if err != nil {
		e.advanceSeqno()
		if cmd {
			return nil, false
		}
		return synthesizeError(doc, errcode.Wrap(errcode.Mem, "request.serialize", err)), false
	}

	timeoutSec := e.resolveTimeoutSec(opts.TimeoutSec)
	timeoutMs := timeoutSec * 1000

	if !e.Hooks.TxnStart(timeoutMs) {
		e.advanceSeqno()
		if cmd {
			return nil, false
		}
		return synthesizeError(doc, errcode.New(errcode.IO, "request.transact", "transaction start failed")), false
	}
	defer e.Hooks.TxnStop()

	action := actionName(doc)

	if e.ResetRequired() {
		e.observeReset(action)
		if !e.D.Reset() {
			e.advanceSeqno()
			if cmd {
				return nil, false
			}
			return synthesizeError(doc, errcode.New(errcode.IO, "request.transact", "reset failed")), false
		}
		e.setResetRequired(false)
	}

	if opts.LockDevice {
		e.Hooks.LockDevice()
		defer e.Hooks.UnlockDevice()
	}

	e.mu.Lock()
	lowMem := e.disableCRC
	e.mu.Unlock()

	useCRC := !cmd && !lowMem
	seqno := e.peekSeqno()

	e.emit(events.KindStart, action, seqno, "")
	rsp, fatalErr := e.retryLoop(serialized, cmd, useCRC, seqno, timeoutMs, action)
	e.advanceSeqno()

	if fatalErr != nil {
		e.setResetRequired(errcode.Of(fatalErr) == errcode.IO)
		e.trace(errcode.OK, serialized, nil, fatalErr)
		e.emit(events.KindDone, action, seqno, fatalErr.Error())
		e.observeTransaction(action, false)
		if cmd {
			return nil, false
		}
		return synthesizeError(doc, fatalErr), false
	}

	if cmd {
		e.trace(errcode.OK, serialized, nil, nil)
		e.emit(events.KindDone, action, seqno, "")
		e.observeTransaction(action, true)
		return Doc{}, true
	}

	e.trace(errcode.OK, serialized, rsp, nil)

	parsed := Doc{}
	if err := json.Unmarshal(rsp, &parsed); err != nil {
		e.emit(events.KindDone, action, seqno, "{io}")
		e.observeTransaction(action, false)
		return synthesizeError(doc, errcode.Wrap(errcode.IO, "request.parse", err)), false
	}
	if errStr, ok := parsed["err"].(string); ok && errStr != "" {
		e.emit(events.KindDone, action, seqno, errStr)
		e.observeTransaction(action, false)
		return parsed, false
	}
	e.emit(events.KindDone, action, seqno, "")
	e.observeTransaction(action, true)
	return parsed, true
}

func actionName(doc Doc) string {
	if v, ok := doc["req"].(string); ok {
		return v
	}
	if v, ok := doc["cmd"].(string); ok {
		return v
	}
	return ""
}

// retryLoop performs spec §4.6 step 8: up to RetriesAllowed additional
// attempts (RetriesAllowed+1 total), classifying each json_transaction
// outcome and either retrying, failing fatally, or succeeding.
func (e *Engine) retryLoop(serialized []byte, cmd, useCRC bool, seqno uint16, timeoutMs uint32, action string) (rsp []byte, fatal error) {
	for attempt := 0; attempt <= RetriesAllowed; attempt++ {
		wire := serialized
		if useCRC {
			if withCRC := crc.Add(string(serialized), seqno); withCRC != nil {
				wire = withCRC
			}
		}
		wire = append(append([]byte(nil), wire...), '\n')

		out, err := e.D.JSONTransaction(wire, !cmd, timeoutMs, e.Hooks.Now)

		if err != nil {
			if errcode.Of(err) == errcode.IO {
				e.setResetRequired(true)
				e.observeRetry(action, "{io}", seqno)
				e.Hooks.Sleep(RetryDelayMs)
				continue
			}
			return nil, err
		}

		if cmd {
			return nil, nil
		}

		if len(out) == 0 {
			e.observeRetry(action, "{io}", seqno)
			e.Hooks.Sleep(RetryDelayMs)
			continue
		}

		body := out
		if useCRC {
			trimmed, mismatch := e.crcError(out, seqno)
			if mismatch {
				e.observeCRCMismatch(action)
				e.observeRetry(action, "crc-mismatch", seqno)
				e.Hooks.Sleep(RetryDelayMs)
				continue
			}
			body = trimmed
		}

		parsed := Doc{}
		if err := json.Unmarshal(body, &parsed); err != nil {
			e.observeRetry(action, "{io}", seqno)
			e.Hooks.Sleep(RetryDelayMs)
			continue
		}

		if errStr, ok := parsed["err"].(string); ok && errStr != "" {
			if errcode.ContainsTag(errStr, errcode.BadBin) {
				return body, nil
			}
			if errcode.ContainsTag(errStr, errcode.IO) && !errcode.ContainsTag(errStr, errcode.NotSupported) {
				e.observeRetry(action, errStr, seqno)
				e.Hooks.Sleep(RetryDelayMs)
				continue
			}
		}

		return body, nil
	}
	return nil, errcode.New(errcode.IO, "request.retry", "transaction timeout")
}

func (e *Engine) trace(_ errcode.Code, req, rsp []byte, err error) {
	if !e.tracingEnabled() {
		return
	}
	if err != nil {
		e.Hooks.Log(hooks.DebugLevelError, err.Error())
		return
	}
	e.Hooks.Log(hooks.DebugLevelInfo, "request: "+string(req))
	if rsp != nil {
		e.Hooks.Log(hooks.DebugLevelInfo, "response: "+string(rsp))
	}
}

// ElapsedSince is a small wrap-safe helper shared by the retry-with-
// wall-clock-budget variants in package notecard.
func ElapsedSince(h *hooks.Hooks, startMs uint32) time.Duration {
	return time.Duration(hooks.Elapsed(h.Now(), startMs)) * time.Millisecond
}
