package transport

import (
	"notecard-go/errcode"
	"notecard-go/hooks"
	"notecard-go/x/conv"
	"notecard-go/x/mathx"
)

// UART implements Transport over a newline-terminated byte-serial link.
// Grounded on original_source/src/note-c/n_serial.c's segmentation loop
// and spec §4.2's resync procedure.
type UART struct {
	H *hooks.Hooks
}

// Reset pauses briefly, flushes the local driver, then performs up to
// UARTResetSyncRetries resync attempts: send two newlines, drain for
// UARTResetDrainMs, and succeed only if at least one byte arrived and
// every byte observed during the drain was a control character (CR or
// LF). Any non-control byte fails the current attempt (the drain still
// runs to its deadline) and, after a further delay, the next one starts.
func (u *UART) Reset() bool {
	port := u.H.UART
	if port == nil {
		return false
	}
	u.H.Sleep(50)
	port.Reset()

	for attempt := 0; attempt < UARTResetSyncRetries; attempt++ {
		port.Write([]byte{'\n', '\n'})

		clean := true
		sawAny := false
		deadline := u.H.Now() + UARTResetDrainMs
		buf := make([]byte, 64)
		for u.H.Now() < deadline {
			n, _ := port.Read(buf)
			for i := 0; i < n; i++ {
				sawAny = true
				if buf[i] != '\r' && buf[i] != '\n' {
					clean = false
				}
			}
			if n == 0 {
				u.H.Sleep(5)
			}
		}

		if sawAny && clean {
			return true
		}
		u.H.Sleep(UARTResetDrainMs)
	}
	return false
}

// ChunkedTransmit segments buf into UARTSegmentMaxLen-byte writes with a
// fixed inter-segment delay, per n_serial.c's serialNoteTransaction.
// buf must already end in the caller's trailing newline; this method
// adds none of its own.
func (u *UART) ChunkedTransmit(buf []byte) error {
	port := u.H.UART
	if port == nil {
		return errcode.New(errcode.IO, "uart.transmit", "no UART port installed")
	}
	segments := mathx.CeilDiv(len(buf), UARTSegmentMaxLen)
	var numBuf [20]byte
	u.H.Log(hooks.DebugLevelDebug, "uart.transmit: sending in "+string(conv.Itoa(numBuf[:], int64(segments)))+" segment(s)")
	off := 0
	for off < len(buf) {
		end := off + UARTSegmentMaxLen
		if end > len(buf) {
			end = len(buf)
		}
		if _, err := port.Write(buf[off:end]); err != nil {
			return errcode.Wrap(errcode.IO, "uart.transmit", err)
		}
		off = end
		if off < len(buf) {
			u.H.Sleep(UARTSegmentDelayMs)
		}
	}
	return nil
}

// ChunkedReceive collects bytes into buf until a newline is read, buf
// fills, or timeoutMs elapses with no byte arrival. A byte with the high
// bit set or a NUL is a line-integrity error. available is always 0 for
// UART: the transport has no notion of device-side backlog, only of
// "newline seen yet or not", which dispatch infers from n and the final
// byte of buf.
func (u *UART) ChunkedReceive(buf []byte, timeoutMs uint32) (n int, available int, err error) {
	port := u.H.UART
	if port == nil {
		return 0, 0, errcode.New(errcode.IO, "uart.receive", "no UART port installed")
	}

	one := make([]byte, 1)
	deadline := u.H.Now() + timeoutMs
	for n < len(buf) {
		got, _ := port.Read(one)
		if got == 0 {
			if u.H.Now() >= deadline {
				if n == 0 {
					return 0, 0, errcode.New(errcode.Timeout, "uart.receive", "transaction timeout")
				}
				return n, 0, errcode.New(errcode.Timeout, "uart.receive", "transaction incomplete")
			}
			u.H.Sleep(1)
			continue
		}
		b := one[0]
		if b == 0 || b&0x80 != 0 {
			return n, 0, errcode.New(errcode.IO, "uart.receive", "serial communications error")
		}
		buf[n] = b
		n++
		deadline = u.H.Now() + timeoutMs
		if b == '\n' {
			return n, 0, nil
		}
	}
	return n, 0, nil
}
