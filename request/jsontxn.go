package request

import (
	"bytes"
	"encoding/json"

	"github.com/andreyvit/tinyjson"

	"notecard-go/dispatch"
	"notecard-go/errcode"
)

// JSONTransactionRaw implements the J component (spec §4.7): it accepts
// a raw newline-terminated JSON byte sequence — possibly a pipeline of
// several `cmd` items — and drives the dispatcher directly for each
// item, without building a full DOM for the whole buffer. Only the
// final item's response, if any, is returned.
//
// The per-segment shallow test uses tinyjson.Raw(...).Value(), the same
// narrow shallow-decode entry point the teacher's config.go uses for its
// one-shot embedded-config parse, applied here once per pipeline segment
// instead of once per file.
func (e *Engine) JSONTransactionRaw(raw []byte, timeoutMs uint32) ([]byte, error) {
	if len(raw) == 0 {
		return nil, errcode.New(errcode.Bad, "request.json_transaction", "empty input")
	}
	if e.D.Transport == nil {
		return nil, errcode.New(errcode.InvalidIface, "request.json_transaction", "i2c or serial interface must be selected")
	}

	if !e.Hooks.TxnStart(timeoutMs) {
		return nil, errcode.New(errcode.IO, "request.json_transaction", "transaction start failed")
	}
	defer e.Hooks.TxnStop()

	e.Hooks.LockDevice()
	defer e.Hooks.UnlockDevice()

	var lastResponse []byte
	remaining := raw

	for len(remaining) > 0 {
		nl := bytes.IndexByte(remaining, '\n')
		var segment []byte
		if nl < 0 {
			segment = append(append([]byte(nil), remaining...), '\n')
			remaining = nil
		} else {
			segment = remaining[:nl+1]
			remaining = remaining[nl+1:]
		}

		lastResponse = nil

		isCmd := bytes.Contains(segment, []byte(`"cmd":`))

		if isCmd {
			if _, err := shallowDecode(segment); err != nil {
				return nil, errcode.Wrap(errcode.Bad, "request.json_transaction", err)
			}
			if _, err := e.D.JSONTransaction(segment, false, timeoutMs, e.Hooks.Now); err != nil {
				return nil, err
			}
			continue
		}

		out, err := e.D.JSONTransaction(segment, true, timeoutMs, e.Hooks.Now)
		if err != nil {
			errDoc := Doc{"err": err.Error(), "src": "note-c"}
			if shallow, derr := shallowDecode(segment); derr == nil {
				if id, ok := shallow["id"]; ok {
					errDoc["id"] = id
				}
			}
			encoded, mErr := json.Marshal(errDoc)
			if mErr != nil {
				return nil, errcode.Wrap(errcode.Mem, "request.json_transaction", mErr)
			}
			return encoded, nil
		}
		lastResponse = out
	}

	return lastResponse, nil
}

// shallowDecode parses one JSON object segment into a top-level map,
// tolerating (and stripping) the trailing newline the pipeline format
// requires but the JSON grammar does not.
func shallowDecode(segment []byte) (Doc, error) {
	trimmed := bytes.TrimRight(segment, "\n")
	r := tinyjson.Raw(trimmed)
	val := r.Value()
	r.EnsureEOF()
	m, ok := val.(map[string]any)
	if !ok {
		return nil, errcode.New(errcode.Bad, "request.shallow_decode", "segment is not a JSON object")
	}
	return m, nil
}

// StateForDispatcher exposes the dispatcher for callers (package
// notecard) that need to install or swap the active transport.
func (e *Engine) StateForDispatcher() *dispatch.Dispatcher { return e.D }
