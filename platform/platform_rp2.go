//go:build rp2040 || rp2350

package platform

import (
	"machine"

	"github.com/jangala-dev/tinygo-uartx/uartx"
	"tinygo.org/x/drivers"
)

// RP2UART adapts one of the RP2040/RP2350's hardware UARTs (via
// tinygo-uartx, which layers an interrupt-driven ring buffer over the
// bare machine.UART) to hooks.UARTPort. Grounded on
// services/hal/internal/platform/factories_rp2xxx.go's rp2UART
// wrapper, narrowed to the four methods hooks.UARTPort needs.
type RP2UART struct {
	u    *uartx.UART
	baud uint32
}

// NewRP2UART configures u at baud and returns the hooks.UARTPort
// adapter. Pass uartx.UART0 or uartx.UART1.
func NewRP2UART(u *uartx.UART, baud uint32) *RP2UART {
	_ = u.Configure(uartx.UARTConfig{BaudRate: baud})
	return &RP2UART{u: u, baud: baud}
}

func (r *RP2UART) Reset() bool {
	return r.u.Configure(uartx.UARTConfig{BaudRate: r.baud}) == nil
}

func (r *RP2UART) Write(p []byte) (int, error) { return r.u.Write(p) }
func (r *RP2UART) Available() int              { return r.u.Buffered() }
func (r *RP2UART) Read(p []byte) (int, error)  { return r.u.Read(p) }

// RP2I2C adapts one of the RP2040/RP2350's hardware I²C buses to
// hooks.I2CPort. It stores the bus as a tinygo.org/x/drivers.I2C, the
// same interface the teacher's rp2I2CFactory keys its bus map by in
// factories_rp2xxx.go, rather than the concrete *machine.I2C; Reset
// reconfigures the bus at the same frequency and pins.
type RP2I2C struct {
	bus drivers.I2C
	cfg machine.I2CConfig
}

// NewRP2I2C configures bus with cfg and returns the hooks.I2CPort
// adapter. Pass machine.I2C0 or machine.I2C1.
func NewRP2I2C(bus *machine.I2C, cfg machine.I2CConfig) *RP2I2C {
	_ = bus.Configure(cfg)
	return &RP2I2C{bus: bus, cfg: cfg}
}

func (r *RP2I2C) Reset() bool {
	if cfgurable, ok := r.bus.(interface{ Configure(machine.I2CConfig) error }); ok {
		return cfgurable.Configure(r.cfg) == nil
	}
	return false
}

func (r *RP2I2C) Tx(addr uint16, w, rd []byte) error {
	return r.bus.Tx(addr, w, rd)
}
