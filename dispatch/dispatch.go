// Package dispatch is the chunked I/O façade (spec component D): it
// selects between the UART and I²C transports based on which interface
// is currently active, and offers a single json_transaction entry point
// that growing-buffer reads a response until the device reports no more
// bytes pending and the buffer ends in a newline.
//
// Grounded on the teacher's small-registry-over-interface pattern (the
// same shape as services/hal/internal/halcore's provider lookup), applied
// here to the two Transport implementations in package transport instead
// of to HAL device providers.
package dispatch

import (
	"notecard-go/errcode"
	"notecard-go/hooks"
	"notecard-go/transport"
	"notecard-go/x/mathx"
)

// Interface is the process-wide active-transport enum (spec §3).
type Interface int

const (
	InterfaceNone Interface = iota
	InterfaceSerial
	InterfaceI2C
)

const (
	initialReceiveBuf = 256
	maxReceiveBuf     = transport.I2CProtocolMaxSegment * 64 // generous growth ceiling
)

// Dispatcher holds the currently active transport and exposes the
// reset/chunked-transmit/chunked-receive/json-transaction façade.
type Dispatcher struct {
	Iface     Interface
	Transport transport.Transport
}

// NewSerial builds a Dispatcher bound to a UART transport.
func NewSerial(h *hooks.Hooks) *Dispatcher {
	return &Dispatcher{Iface: InterfaceSerial, Transport: &transport.UART{H: h}}
}

// NewI2C builds a Dispatcher bound to an I²C transport with the given
// address/max-segment (0 for either uses the transport's own defaults).
func NewI2C(h *hooks.Hooks, addr uint16, maxSegment int) *Dispatcher {
	return &Dispatcher{
		Iface: InterfaceI2C,
		Transport: &transport.I2C{H: h, Address: addr, MaxSegment: maxSegment},
	}
}

// Reset calls the active transport's reset, returning true when no
// interface is active (spec §4.4: "returns true when no active
// interface").
func (d *Dispatcher) Reset() bool {
	if d.Transport == nil {
		return true
	}
	return d.Transport.Reset()
}

// ChunkedTransmit is a pass-through to the active transport.
func (d *Dispatcher) ChunkedTransmit(buf []byte) error {
	if d.Transport == nil {
		return transport.ErrNoInterface
	}
	return d.Transport.ChunkedTransmit(buf)
}

// ChunkedReceive is a pass-through to the active transport.
func (d *Dispatcher) ChunkedReceive(buf []byte, timeoutMs uint32) (n, available int, err error) {
	if d.Transport == nil {
		return 0, 0, transport.ErrNoInterface
	}
	return d.Transport.ChunkedReceive(buf, timeoutMs)
}

// JSONTransaction transmits req (which must already end in the caller's
// trailing newline) and, if wantResponse is true, collects a response by
// repeatedly calling ChunkedReceive into a buffer that doubles from
// initialReceiveBuf up to maxReceiveBuf, stopping when the transport
// reports no bytes remaining and the buffer's last byte is '\n'. The
// overall timeoutMs budget is enforced across every receive iteration
// combined, not per iteration.
func (d *Dispatcher) JSONTransaction(req []byte, wantResponse bool, timeoutMs uint32, now func() uint32) ([]byte, error) {
	if d.Transport == nil {
		return nil, transport.ErrNoInterface
	}
	if err := d.Transport.ChunkedTransmit(req); err != nil {
		return nil, err
	}
	if !wantResponse {
		return nil, nil
	}

	deadline := now() + timeoutMs
	buf := make([]byte, 0, initialReceiveBuf)
	cap_ := initialReceiveBuf

	for {
		if len(buf) == cap_ {
			if cap_ >= maxReceiveBuf {
				return nil, errcode.New(errcode.Mem, "dispatch.json_transaction", "response exceeded maximum buffer size")
			}
			cap_ = mathx.Min(cap_*2, maxReceiveBuf)
			grown := make([]byte, len(buf), cap_)
			copy(grown, buf)
			buf = grown
		}

		remaining := buf[len(buf):cap_]
		if len(remaining) == 0 {
			continue
		}
		budget := deadline - now()
		n, available, err := d.Transport.ChunkedReceive(remaining, budget)
		buf = buf[:len(buf)+n]
		if err != nil {
			return nil, err
		}
		if available == 0 && len(buf) > 0 && buf[len(buf)-1] == '\n' {
			return buf, nil
		}
		if now() >= deadline {
			return nil, errcode.New(errcode.Timeout, "dispatch.json_transaction", "transaction incomplete")
		}
	}
}
