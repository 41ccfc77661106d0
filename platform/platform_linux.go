//go:build linux && !rp2040 && !rp2350

package platform

import (
	"sync"
	"time"

	"github.com/daedaluz/goserial"

	"notecard-go/x/strx"
)

// LinuxUART adapts a github.com/daedaluz/goserial *serial.Port to
// hooks.UARTPort, for gateway/host deployments that reach the Notecard
// over a real tty (e.g. /dev/ttyACM0). Grounded on
// services/hal/internal/platform/factories_linux.go's build-tagged
// platform file, generalized from tinygo.org/x/drivers.I2C bindings to
// a serial TTY binding since the host build has no onboard UART.
type LinuxUART struct {
	mu   sync.Mutex
	port *serial.Port
	name string
	baud serial.CFlag
}

// OpenLinuxUART opens path (e.g. "/dev/ttyACM0") in raw mode at baud,
// suitable for Notecard UART mode (default 9600, or 115200 on newer
// firmware).
func OpenLinuxUART(path string, baud serial.CFlag) (*LinuxUART, error) {
	path = strx.Coalesce(path, "/dev/ttyACM0")
	opts := serial.NewOptions().SetReadTimeout(100 * time.Millisecond)
	port, err := serial.Open(path, opts)
	if err != nil {
		return nil, err
	}
	u := &LinuxUART{port: port, name: path, baud: baud}
	if err := u.configure(); err != nil {
		port.Close()
		return nil, err
	}
	return u, nil
}

func (u *LinuxUART) configure() error {
	attrs, err := u.port.GetAttr()
	if err != nil {
		return err
	}
	attrs.MakeRaw()
	attrs.Cflag &= ^serial.CBAUD
	attrs.Cflag |= u.baud
	return u.port.SetAttr(serial.TCSANOW, attrs)
}

// Reset flushes the open tty's queues and reapplies its raw-mode and baud
// settings; it does not close or reopen the device.
func (u *LinuxUART) Reset() bool {
	u.mu.Lock()
	defer u.mu.Unlock()
	if u.port == nil {
		return false
	}
	_ = u.port.Flush(serial.TCIOFLUSH)
	return u.configure() == nil
}

func (u *LinuxUART) Write(p []byte) (int, error) {
	u.mu.Lock()
	defer u.mu.Unlock()
	return u.port.Write(p)
}

// Available always reports a conservative lower bound of 1 when the
// port might have data: goserial doesn't expose an input queue depth,
// so callers rely on Read's short-count-on-timeout behavior instead.
func (u *LinuxUART) Available() int {
	return 1
}

func (u *LinuxUART) Read(p []byte) (int, error) {
	u.mu.Lock()
	defer u.mu.Unlock()
	return u.port.Read(p)
}

// Close releases the underlying file descriptor.
func (u *LinuxUART) Close() error {
	u.mu.Lock()
	defer u.mu.Unlock()
	return u.port.Close()
}
