package transport

import (
	"notecard-go/errcode"
	"notecard-go/hooks"
	"notecard-go/x/mathx"
)

// I2C implements Transport over the Notecard's serial-over-I²C register
// protocol (spec §4.3): a write frame is a one-byte count followed by N
// payload bytes; a read frame is a two-byte header [0, R] followed by a
// read of R+2 bytes, the first two of which report availability.
type I2C struct {
	H          *hooks.Hooks
	Address    uint16 // 0 means I2CDefaultAddress
	MaxSegment int    // 0 means I2CDefaultMaxSegment, always clamped to I2CProtocolMaxSegment
}

func (c *I2C) addr() uint16 {
	if c.Address == 0 {
		return I2CDefaultAddress
	}
	return c.Address
}

func (c *I2C) maxSegment() int {
	m := c.MaxSegment
	if m == 0 {
		m = I2CDefaultMaxSegment
	}
	return mathx.Min(m, I2CProtocolMaxSegment)
}

// writeFrame performs one count-prefixed write transaction.
func (c *I2C) writeFrame(payload []byte) error {
	port := c.H.I2C
	if port == nil {
		return errcode.New(errcode.IO, "i2c.write", "no I2C port installed")
	}
	frame := make([]byte, 1+len(payload))
	frame[0] = byte(len(payload))
	copy(frame[1:], payload)
	return port.Tx(c.addr(), frame, nil)
}

// readFrame requests up to r bytes (0 for a priming query) and returns
// the payload delivered this frame along with the device's post-frame
// remaining-available count.
func (c *I2C) readFrame(r int) (payload []byte, available int, err error) {
	port := c.H.I2C
	if port == nil {
		return nil, 0, errcode.New(errcode.IO, "i2c.read", "no I2C port installed")
	}
	if err := port.Tx(c.addr(), []byte{0, byte(r)}, nil); err != nil {
		return nil, 0, errcode.Wrap(errcode.IO, "i2c.read", err)
	}
	reply := make([]byte, r+2)
	if err := port.Tx(c.addr(), nil, reply); err != nil {
		return nil, 0, errcode.Wrap(errcode.IO, "i2c.read", err)
	}
	available = int(reply[0])
	sent := int(reply[1])
	if sent > len(reply)-2 {
		sent = len(reply) - 2
	}
	return reply[2 : 2+sent], available, nil
}

// Reset delays one segment period, resets the local driver, then retries
// up to I2CResetSyncRetries times: transmit a bare newline (NACK backs
// off and retries), then prime and drain reads for I2CResetDrainMs,
// succeeding only if every byte drained is '\r' or '\n'.
func (c *I2C) Reset() bool {
	port := c.H.I2C
	if port == nil {
		return false
	}
	c.H.Sleep(I2CChunkDelayMs)
	port.Reset()

	for attempt := 0; attempt < I2CResetSyncRetries; attempt++ {
		if err := c.writeFrame([]byte{'\n'}); err != nil {
			c.H.Sleep(I2CNackWaitMs)
			continue
		}

		clean := true
		_, available, err := c.readFrame(0)
		if err != nil {
			c.H.Sleep(I2CNackWaitMs)
			continue
		}

		deadline := c.H.Now() + I2CResetDrainMs
		for available > 0 && c.H.Now() < deadline {
			want := mathx.Min(available, c.maxSegment())
			payload, avail, err := c.readFrame(want)
			if err != nil {
				clean = false
				break
			}
			for _, b := range payload {
				if b != '\r' && b != '\n' {
					clean = false
				}
			}
			available = avail
		}

		if clean {
			return true
		}
		c.H.Sleep(I2CNackWaitMs)
	}
	return false
}

// ChunkedTransmit partitions buf into maxSegment()-sized write frames,
// pacing each with I2CChunkDelayMs. Any frame failure triggers a reset
// and returns an {io} error.
func (c *I2C) ChunkedTransmit(buf []byte) error {
	seg := c.maxSegment()
	off := 0
	for off < len(buf) {
		end := mathx.Min(off+seg, len(buf))
		if err := c.writeFrame(buf[off:end]); err != nil {
			c.Reset()
			return errcode.Wrap(errcode.IO, "i2c.transmit", err)
		}
		off = end
		if off < len(buf) {
			c.H.Sleep(I2CChunkDelayMs)
		}
	}
	return nil
}

// ChunkedReceive issues a priming query (R=0), repeating it every 10 ms
// until the device reports bytes available or timeoutMs elapses, then one
// sized read of min(available, len(buf), maxSegment()) bytes. It returns
// the bytes copied into buf and the device's post-frame available count.
// It takes no caller-supplied available count: every call starts with a
// priming query, including calls that follow a read which reported bytes
// still pending.
func (c *I2C) ChunkedReceive(buf []byte, timeoutMs uint32) (n int, available int, err error) {
	if c.H.I2C == nil {
		return 0, 0, errcode.New(errcode.IO, "i2c.receive", "no I2C port installed")
	}

	deadline := c.H.Now() + timeoutMs
	_, avail, err := c.readFrame(0)
	for err == nil && avail == 0 {
		if c.H.Now() >= deadline {
			return 0, 0, errcode.New(errcode.Timeout, "i2c.receive", "transaction timeout")
		}
		c.H.Sleep(10)
		_, avail, err = c.readFrame(0)
	}
	if err != nil {
		c.Reset()
		return 0, 0, errcode.Wrap(errcode.IO, "i2c.receive", err)
	}

	want := mathx.Min(avail, mathx.Min(len(buf), c.maxSegment()))
	payload, avail2, err := c.readFrame(want)
	if err != nil {
		c.Reset()
		return 0, 0, errcode.Wrap(errcode.IO, "i2c.receive", err)
	}
	n = copy(buf, payload)
	return n, avail2, nil
}
