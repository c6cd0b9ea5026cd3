// services/hal/platform/sim_adc.go
package platform

import (
	"sync"

	"benchio/errcode"
	"benchio/services/hal/halcore"
)

// SimADC fills the armed buffer on demand. Samples are a ramp so tests
// can check ordering across fills.
type SimADC struct {
	mu      sync.Mutex
	inited  bool
	running bool
	armed   []uint16
	cb      func()
	next    uint16

	Cycles  uint32
	Clock   uint32
	Inits   int
	Arms    int
	InitErr error
}

func NewSimADC() *SimADC {
	return &SimADC{Cycles: 96, Clock: 48_000_000}
}

func (a *SimADC) Init(halcore.ADCConfig) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if err := a.InitErr; err != nil {
		a.InitErr = nil
		return err
	}
	a.inited = true
	a.Inits++
	return nil
}

func (a *SimADC) Deinit() error {
	a.mu.Lock()
	a.inited, a.running, a.armed = false, false, nil
	a.mu.Unlock()
	return nil
}

func (a *SimADC) Arm(buf []uint16) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if !a.inited {
		return errcode.New(errcode.HardwareFault, "simadc.arm", "not initialised")
	}
	a.armed = buf
	a.Arms++
	return nil
}

func (a *SimADC) Start() error {
	a.mu.Lock()
	a.running = true
	a.mu.Unlock()
	return nil
}

func (a *SimADC) Stop() {
	a.mu.Lock()
	a.running = false
	a.mu.Unlock()
}

func (a *SimADC) CyclesPerSample() uint32 { return a.Cycles }
func (a *SimADC) ClockHz() uint32         { return a.Clock }

func (a *SimADC) SetCompleteCallback(fn func()) {
	a.mu.Lock()
	a.cb = fn
	a.mu.Unlock()
}

// Fill completes the armed buffer and raises the completion interrupt.
// DMA stops until the buffer is re-armed, so a second Fill without Arm
// does nothing.
func (a *SimADC) Fill() bool {
	a.mu.Lock()
	if !a.running || a.armed == nil {
		a.mu.Unlock()
		return false
	}
	for i := range a.armed {
		a.armed[i] = a.next
		a.next++
	}
	a.armed = nil
	cb := a.cb
	a.mu.Unlock()
	if cb != nil {
		cb()
	}
	return true
}

// SimTimer records how it was programmed.
type SimTimer struct {
	mu      sync.Mutex
	Hz      uint32
	Inits   int
	Running bool
}

func (t *SimTimer) Init(hz uint32) error {
	t.mu.Lock()
	t.Hz = hz
	t.Inits++
	t.mu.Unlock()
	return nil
}

func (t *SimTimer) Start() error {
	t.mu.Lock()
	t.Running = true
	t.mu.Unlock()
	return nil
}

func (t *SimTimer) Stop() {
	t.mu.Lock()
	t.Running = false
	t.mu.Unlock()
}

func (t *SimTimer) Deinit() error {
	t.Stop()
	return nil
}
