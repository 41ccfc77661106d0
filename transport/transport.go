// Package transport implements the two physical framings the engine can
// speak to a Notecard: newline-terminated UART and serial-over-I²C. Both
// satisfy the Transport interface so the dispatcher (package dispatch)
// can treat them uniformly.
//
// Grounded on original_source/src/note-c/n_serial.c (serialNoteTransaction,
// segmentation/pacing constants) and the I²C framing described in
// original_source's NoteI2CTransmit/NoteI2CReceive family, generalized
// into Go per the teacher's small-interface-plus-struct style seen in
// services/hal/internal/halcore.
package transport

import "notecard-go/errcode"

// Compile-time protocol constants. Values below CARD_REQUEST_SEGMENT_MAX_LEN
// and CARD_REQUEST_SEGMENT_DELAY_MS are taken directly from note-c's
// n_lib.h; the I²C-specific constants are this engine's own defaults,
// chosen conservatively per spec §6.3's "compile-time constants" list.
const (
	UARTSegmentMaxLen = 1000
	UARTSegmentDelayMs = 250
	UARTReceiveTimeoutSec = 10

	I2CDefaultAddress   = 0x17
	I2CDefaultMaxSegment = 32
	I2CProtocolMaxSegment = 253
	I2CResetDrainMs      = 500
	I2CResetSyncRetries  = 10
	I2CNackWaitMs        = 250
	I2CChunkDelayMs      = 20

	UARTResetDrainMs    = 500
	UARTResetSyncRetries = 10
)

// Transport is the exhaustive sum type note-c's function-pointer
// polymorphism becomes in Go: every active interface implements the same
// method set, and package dispatch holds one of {UART, I2C, nil}.
type Transport interface {
	// Reset performs the interface-specific resync dance.
	Reset() bool

	// ChunkedTransmit writes buf (the caller's payload, already
	// newline-terminated) to the device, segmenting and pacing as the
	// interface requires.
	ChunkedTransmit(buf []byte) error

	// ChunkedReceive reads into buf up to len(buf) bytes in one
	// interface-sized frame, honoring timeoutMs for the first byte's
	// arrival. It returns the number of bytes written and the device's
	// reported remaining-available count (0 when nothing is pending).
	ChunkedReceive(buf []byte, timeoutMs uint32) (n int, available int, err error)
}

// ErrNoInterface is returned by dispatch, not by a concrete Transport,
// but lives here so both transports and the dispatcher share one
// canonical message.
var ErrNoInterface = errcode.New(errcode.InvalidIface, "transport", "a valid interface must be selected")
