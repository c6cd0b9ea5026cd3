// services/hal/platform/sim_spi.go
package platform

import (
	"sync"

	"benchio/services/hal/halcore"
)

// SimSPI implements drivers.SPI. With no script queued it loops MOSI back
// to MISO; otherwise queued bytes are clocked in first.
type SimSPI struct {
	mu      sync.Mutex
	written []byte
	script  []byte
	cfg     halcore.SPIConfig

	// Err, when set, fails every transfer.
	Err error
}

func (s *SimSPI) Configure(cfg halcore.SPIConfig) error {
	s.mu.Lock()
	s.cfg = cfg
	s.mu.Unlock()
	return nil
}

func (s *SimSPI) Tx(w, r []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.Err != nil {
		return s.Err
	}
	n := len(w)
	if len(r) > n {
		n = len(r)
	}
	for i := 0; i < n; i++ {
		var out byte
		if i < len(w) {
			out = w[i]
		}
		s.written = append(s.written, out)
		in := out
		if len(s.script) > 0 {
			in = s.script[0]
			s.script = s.script[1:]
		}
		if i < len(r) {
			r[i] = in
		}
	}
	return nil
}

func (s *SimSPI) Transfer(b byte) (byte, error) {
	var r [1]byte
	err := s.Tx([]byte{b}, r[:])
	return r[0], err
}

// Queue scripts the next bytes the device will return.
func (s *SimSPI) Queue(p []byte) {
	s.mu.Lock()
	s.script = append(s.script, p...)
	s.mu.Unlock()
}

// Written returns every byte clocked out so far.
func (s *SimSPI) Written() []byte {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]byte(nil), s.written...)
}

func (s *SimSPI) Config() halcore.SPIConfig {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cfg
}
