// services/hal/platform/sim_uart.go
package platform

import (
	"sync"

	"benchio/errcode"
	"benchio/services/hal/halcore"
)

// SimUART is a host model of a DMA UART. Test code plays the part of the
// wire and the interrupt controller: Inject lands bytes at the DMA write
// position and raises the idle interrupt, CompleteTx raises TX-complete.
// Reaching the middle or the end of the RX buffer raises the progress
// interrupt as the bytes land.
// Callbacks run synchronously on the caller's goroutine, as an ISR would
// preempt the foreground.
type SimUART struct {
	mu      sync.Mutex
	id      int
	inited  bool
	started bool
	cfg     halcore.UARTConfig

	rx    []byte
	pos   int
	count uint64

	txCB   func(n int)
	idleCB func()
	progCB func()

	inflight []byte
	sent     []byte

	// AutoComplete finishes every Transmit before it returns.
	AutoComplete bool
	// InitErr is returned by the next Init and then cleared.
	InitErr error
	// TxErr is returned by the next Transmit and then cleared.
	TxErr error
	// Inits counts successful Init calls.
	Inits int
	// Transfers records the length of every Transmit.
	Transfers []int
}

func NewSimUART(id int) *SimUART { return &SimUART{id: id} }

func (u *SimUART) Init(cfg halcore.UARTConfig) error {
	u.mu.Lock()
	defer u.mu.Unlock()
	if err := u.InitErr; err != nil {
		u.InitErr = nil
		return err
	}
	u.cfg = cfg
	u.inited = true
	u.Inits++
	return nil
}

func (u *SimUART) Deinit() error {
	u.mu.Lock()
	u.inited = false
	u.started = false
	u.inflight = nil
	u.mu.Unlock()
	return nil
}

func (u *SimUART) Start(rx []byte) error {
	u.mu.Lock()
	defer u.mu.Unlock()
	if !u.inited {
		return errcode.New(errcode.HardwareFault, "simuart.start", "not initialised")
	}
	u.rx = rx
	u.pos = 0
	u.count = 0
	u.started = true
	return nil
}

func (u *SimUART) Stop() {
	u.mu.Lock()
	u.started = false
	u.inflight = nil
	u.mu.Unlock()
}

// RxPos is the index in the RX buffer the next byte lands at.
func (u *SimUART) RxPos() int {
	u.mu.Lock()
	defer u.mu.Unlock()
	return u.pos
}

func (u *SimUART) RxCount() uint64 {
	u.mu.Lock()
	defer u.mu.Unlock()
	return u.count
}

func (u *SimUART) Transmit(p []byte) error {
	u.mu.Lock()
	if !u.started {
		u.mu.Unlock()
		return errcode.New(errcode.HardwareFault, "simuart.transmit", "not started")
	}
	if u.inflight != nil {
		u.mu.Unlock()
		return errcode.New(errcode.HardwareFault, "simuart.transmit", "dma channel busy")
	}
	if err := u.TxErr; err != nil {
		u.TxErr = nil
		u.mu.Unlock()
		return err
	}
	u.inflight = p
	u.Transfers = append(u.Transfers, len(p))
	auto := u.AutoComplete
	u.mu.Unlock()
	if auto {
		u.CompleteTx()
	}
	return nil
}

// CompleteTx finishes the in-flight transfer. It reports false when idle.
func (u *SimUART) CompleteTx() bool {
	u.mu.Lock()
	p := u.inflight
	if p == nil {
		u.mu.Unlock()
		return false
	}
	u.sent = append(u.sent, p...)
	u.inflight = nil
	cb := u.txCB
	u.mu.Unlock()
	if cb != nil {
		cb(len(p))
	}
	return true
}

// Busy reports whether a transfer is in flight.
func (u *SimUART) Busy() bool {
	u.mu.Lock()
	defer u.mu.Unlock()
	return u.inflight != nil
}

// Sent returns everything that has left the wire so far.
func (u *SimUART) Sent() []byte {
	u.mu.Lock()
	defer u.mu.Unlock()
	return append([]byte(nil), u.sent...)
}

// Inject writes p at the DMA position, wrapping as circular DMA does, and
// then raises the idle interrupt. Nothing is delivered while stopped.
func (u *SimUART) Inject(p []byte) int {
	n := u.InjectQuiet(p)
	u.mu.Lock()
	cb := u.idleCB
	u.mu.Unlock()
	if n > 0 && cb != nil {
		cb()
	}
	return n
}

// InjectQuiet lands bytes without raising the idle interrupt. The
// progress interrupt still fires at the middle and the end of the buffer.
// It returns how many bytes landed before reception stopped.
func (u *SimUART) InjectQuiet(p []byte) int {
	n := 0
	for n < len(p) {
		u.mu.Lock()
		if !u.started || len(u.rx) == 0 {
			u.mu.Unlock()
			return n
		}
		half := len(u.rx) / 2
		edge := false
		for n < len(p) && !edge {
			u.rx[u.pos] = p[n]
			n++
			u.count++
			u.pos++
			if u.pos == len(u.rx) {
				u.pos = 0
			}
			edge = u.pos == 0 || u.pos == half
		}
		cb := u.progCB
		u.mu.Unlock()
		if edge && cb != nil {
			cb()
		}
	}
	return n
}

func (u *SimUART) SetTxCompleteCallback(fn func(n int)) {
	u.mu.Lock()
	u.txCB = fn
	u.mu.Unlock()
}

func (u *SimUART) SetIdleCallback(fn func()) {
	u.mu.Lock()
	u.idleCB = fn
	u.mu.Unlock()
}

func (u *SimUART) SetRxProgressCallback(fn func()) {
	u.mu.Lock()
	u.progCB = fn
	u.mu.Unlock()
}

func (u *SimUART) Config() halcore.UARTConfig {
	u.mu.Lock()
	defer u.mu.Unlock()
	return u.cfg
}

// Started reports whether reception is running.
func (u *SimUART) Started() bool {
	u.mu.Lock()
	defer u.mu.Unlock()
	return u.started
}

// HasCallbacks reports whether any interrupt callback is still installed.
func (u *SimUART) HasCallbacks() bool {
	u.mu.Lock()
	defer u.mu.Unlock()
	return u.txCB != nil || u.idleCB != nil || u.progCB != nil
}
