// services/hal/platform/sim_usb.go
package platform

import (
	"sync"

	"benchio/services/hal/halcore"
)

const (
	SimUSBPacket   = 64
	SimUSBFIFOSize = 256
)

// SimUSB models a CDC-ACM function: two bounded endpoint FIFOs and a host
// that sends bytes, takes bytes, and toggles the control lines. Full
// packets go to the host as soon as they are written; a partial packet
// waits for Flush, as a real bulk IN endpoint does.
type SimUSB struct {
	mu      sync.Mutex
	inited  bool
	started bool

	rx     []byte // host -> device
	tx     []byte // device -> host, not yet sent
	toHost []byte

	coding    halcore.LineCoding
	lineCB    func(dtr, rts bool)
	lineQueue []uint16

	Flushes  int
	Discards int
	InitErr  error
}

func NewSimUSB() *SimUSB {
	return &SimUSB{coding: halcore.LineCoding{BaudRate: 115200, DataBits: 8}}
}

func (s *SimUSB) Init() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.InitErr; err != nil {
		s.InitErr = nil
		return err
	}
	s.inited = true
	return nil
}

func (s *SimUSB) Deinit() error {
	s.mu.Lock()
	s.inited, s.started = false, false
	s.rx, s.tx = s.rx[:0], s.tx[:0]
	s.mu.Unlock()
	return nil
}

func (s *SimUSB) Start() error {
	s.mu.Lock()
	s.started = true
	s.mu.Unlock()
	return nil
}

func (s *SimUSB) Stop() {
	s.mu.Lock()
	s.started = false
	s.mu.Unlock()
}

// Poll delivers queued control-line changes to the callback.
func (s *SimUSB) Poll() {
	s.mu.Lock()
	q := s.lineQueue
	s.lineQueue = nil
	cb := s.lineCB
	s.mu.Unlock()
	if cb == nil {
		return
	}
	for _, v := range q {
		cb(v&halcore.ControlLineDTR != 0, v&halcore.ControlLineRTS != 0)
	}
}

func (s *SimUSB) Available() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.rx)
}

func (s *SimUSB) Read(p []byte) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := copy(p, s.rx)
	s.rx = append(s.rx[:0], s.rx[n:]...)
	return n
}

func (s *SimUSB) WriteRoom() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.started {
		return 0
	}
	return SimUSBFIFOSize - len(s.tx)
}

func (s *SimUSB) Write(p []byte) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.started {
		return 0
	}
	n := SimUSBFIFOSize - len(s.tx)
	if n > len(p) {
		n = len(p)
	}
	s.tx = append(s.tx, p[:n]...)
	for len(s.tx) >= SimUSBPacket {
		s.toHost = append(s.toHost, s.tx[:SimUSBPacket]...)
		s.tx = append(s.tx[:0], s.tx[SimUSBPacket:]...)
	}
	return n
}

func (s *SimUSB) Pending() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.tx)
}

func (s *SimUSB) Flush() {
	s.mu.Lock()
	s.toHost = append(s.toHost, s.tx...)
	s.tx = s.tx[:0]
	s.Flushes++
	s.mu.Unlock()
}

func (s *SimUSB) DiscardTx() {
	s.mu.Lock()
	s.tx = s.tx[:0]
	s.Discards++
	s.mu.Unlock()
}

func (s *SimUSB) LineCoding() halcore.LineCoding {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.coding
}

func (s *SimUSB) SetLineStateCallback(fn func(dtr, rts bool)) {
	s.mu.Lock()
	s.lineCB = fn
	s.mu.Unlock()
}

// ---- host side ----

// HostSend queues bytes from the host, bounded by the FIFO.
func (s *SimUSB) HostSend(p []byte) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := SimUSBFIFOSize - len(s.rx)
	if n > len(p) {
		n = len(p)
	}
	s.rx = append(s.rx, p[:n]...)
	return n
}

// HostTake returns and clears everything the host has received.
func (s *SimUSB) HostTake() []byte {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := s.toHost
	s.toHost = nil
	return out
}

// SetControlLineState queues a SET_CONTROL_LINE_STATE request; it is
// dispatched on the next Poll.
func (s *SimUSB) SetControlLineState(v uint16) {
	s.mu.Lock()
	s.lineQueue = append(s.lineQueue, v)
	s.mu.Unlock()
}

// SetLineCoding applies a raw 7-byte SET_LINE_CODING payload.
func (s *SimUSB) SetLineCoding(raw []byte) bool {
	lc, ok := halcore.ParseLineCoding(raw)
	if !ok {
		return false
	}
	s.mu.Lock()
	s.coding = lc
	s.mu.Unlock()
	return true
}
