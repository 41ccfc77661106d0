// Package errcode defines the engine's tagged error taxonomy.
//
// The wire protocol communicates error kind as a `{tag}` substring buried
// inside a free-form message (e.g. `"transaction timeout {io}"`). Code is
// the structured counterpart: callers compare Codes instead of scanning
// strings, and Tag renders a Code back to the bracketed form when an error
// has to be embedded in a synthesized JSON response document.
package errcode

import "strings"

// Code is a stable error-kind identifier. It is a string newtype,
// comparable, allocation-free, and implements error.
type Code string

func (c Code) Error() string { return string(c) }

// Tag renders the code as the bracketed wire token, e.g. IO -> "{io}".
// Codes with no wire representation (OK, InvalidIface, generic Error)
// render empty.
func (c Code) Tag() string {
	if t, ok := tagByCode[c]; ok {
		return "{" + t + "}"
	}
	return ""
}

// Canonical codes, one per row of spec §7's error taxonomy table.
const (
	OK             Code = "ok"
	IO             Code = "io"              // {io}: transport failure, retryable
	BadBin         Code = "bad_bin"         // {bad-bin}: binary payload corrupt, not retryable
	NotSupported   Code = "not_supported"   // {not-supported}: feature unavailable, not retryable
	Mem            Code = "mem"             // {mem}: allocation/serialization failure
	Bad            Code = "bad"             // {bad}: malformed request, caller error
	Timeout        Code = "timeout"         // {timeout}: deadline exceeded
	Connected      Code = "connected"       // informational hint
	WaitModule     Code = "wait_module"     // informational hint
	Connecting     Code = "connecting"      // informational hint
	DFUNotReady    Code = "dfu_not_ready"   // informational hint
	InvalidIface   Code = "invalid_iface"   // no transport selected
	Error          Code = "error"           // generic fallback, no wire tag
)

var tagByCode = map[Code]string{
	IO:           "io",
	BadBin:       "bad-bin",
	NotSupported: "not-supported",
	Mem:          "mem",
	Bad:          "bad",
	Timeout:      "timeout",
	Connected:    "connected",
	WaitModule:   "wait-module",
	Connecting:   "connecting",
	DFUNotReady:  "dfu-not-ready",
}

// E wraps a Code with an operation name, a human message, and an optional
// underlying cause, the way the engine's own errors are constructed
// internally before being rendered to a wire string.
type E struct {
	C   Code
	Op  string
	Msg string
	Err error
}

func (e *E) Error() string {
	msg := e.Msg
	if msg == "" && e.Err != nil {
		msg = e.Err.Error()
	}
	if tag := e.C.Tag(); tag != "" {
		if msg == "" {
			return tag
		}
		return msg + " " + tag
	}
	if msg == "" {
		return string(e.C)
	}
	return msg
}

func (e *E) Unwrap() error { return e.Err }
func (e *E) Code() Code    { return e.C }

// New builds an *E for the given code, operation, and message.
func New(c Code, op, msg string) *E { return &E{C: c, Op: op, Msg: msg} }

// Wrap builds an *E that carries an underlying cause.
func Wrap(c Code, op string, err error) *E { return &E{C: c, Op: op, Err: err} }

// Of extracts a Code from an error, defaulting to Error. nil maps to OK.
func Of(err error) Code {
	if err == nil {
		return OK
	}
	if c, ok := err.(Code); ok {
		return c
	}
	type coder interface{ Code() Code }
	if x, ok := err.(coder); ok {
		return x.Code()
	}
	return Error
}

// ContainsTag reports whether a wire message string carries the bracketed
// tag for the given code, e.g. ContainsTag(`"io error {io}"`, IO) == true.
// This mirrors NoteErrorContains from the original note-c implementation.
func ContainsTag(msg string, c Code) bool {
	tag := c.Tag()
	if tag == "" {
		return strings.Contains(msg, string(c))
	}
	return strings.Contains(msg, tag)
}
