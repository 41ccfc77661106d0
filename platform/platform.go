// Package platform wires real host peripherals into the hooks.UARTPort
// and hooks.I2CPort interfaces the engine drives the Notecard through.
// Build-tagged files supply the concrete implementations: a Linux TTY
// binding over github.com/daedaluz/goserial for host development and
// gateway deployments, and an RP2040/RP2350 binding over
// github.com/jangala-dev/tinygo-uartx and tinygo.org/x/drivers for
// embedded targets, mirroring the teacher's
// services/hal/internal/platform split into per-target factory files
// selected by build constraint.
//
// Sim is always available: an in-memory loopback pair for host-side
// tests and demos that don't have real hardware attached, grounded on
// services/hal/internal/platform's host-only simUART/HostI2C fakes.
package platform

import "sync"

// Sim is an in-memory stand-in for a UART link to a Notecard, useful
// for demos and tests. Writes made by the caller are never read back
// (Sent returns them); use Feed to script Notecard-side replies.
type Sim struct {
	mu  sync.Mutex
	out []byte
	in  []byte
}

func NewSim() *Sim { return &Sim{} }

func (s *Sim) Reset() bool { return true }

func (s *Sim) Write(p []byte) (int, error) {
	s.mu.Lock()
	s.out = append(s.out, p...)
	s.mu.Unlock()
	return len(p), nil
}

func (s *Sim) Available() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.in)
}

func (s *Sim) Read(p []byte) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := copy(p, s.in)
	s.in = s.in[n:]
	return n, nil
}

// Feed queues bytes for the next Read calls, as if the Notecard had
// sent them.
func (s *Sim) Feed(b []byte) {
	s.mu.Lock()
	s.in = append(s.in, b...)
	s.mu.Unlock()
}

// Sent drains and returns everything written so far.
func (s *Sim) Sent() []byte {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := s.out
	s.out = nil
	return out
}
