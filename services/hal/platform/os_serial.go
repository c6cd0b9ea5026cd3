// services/hal/platform/os_serial.go
//go:build !rp2040 && !rp2350

package platform

import (
	"sync"
	"sync/atomic"
	"time"

	"benchio/errcode"
	"benchio/services/hal/halcore"

	"go.bug.st/serial"
)

// DefaultIdleGap is how long the line must be quiet before the idle
// callback fires.
const DefaultIdleGap = 2 * time.Millisecond

// OSUART drives a host serial device through go.bug.st/serial. A reader
// goroutine stands in for circular DMA with its half/full-transfer and
// idle-line interrupts; a
// writer goroutine stands in for the TX DMA channel and its completion
// interrupt.
type OSUART struct {
	path    string
	IdleGap time.Duration

	mu   sync.Mutex
	port serial.Port
	rx    []byte
	count atomic.Uint64

	txCB   atomic.Pointer[func(int)]
	idleCB atomic.Pointer[func()]
	progCB atomic.Pointer[func()]

	txq  chan []byte
	stop chan struct{}
	wg   sync.WaitGroup
}

func NewOSUART(path string) *OSUART {
	return &OSUART{path: path, IdleGap: DefaultIdleGap}
}

func toMode(cfg halcore.UARTConfig) *serial.Mode {
	m := &serial.Mode{
		BaudRate: int(cfg.BaudRate),
		DataBits: int(cfg.DataBits),
		Parity:   serial.NoParity,
		StopBits: serial.OneStopBit,
	}
	if m.DataBits == 0 {
		m.DataBits = 8
	}
	switch cfg.Parity {
	case halcore.ParityEven:
		m.Parity = serial.EvenParity
	case halcore.ParityOdd:
		m.Parity = serial.OddParity
	}
	if cfg.StopBits == 2 {
		m.StopBits = serial.TwoStopBits
	}
	return m
}

func (u *OSUART) Init(cfg halcore.UARTConfig) error {
	u.mu.Lock()
	defer u.mu.Unlock()
	if u.port != nil {
		return u.port.SetMode(toMode(cfg))
	}
	p, err := serial.Open(u.path, toMode(cfg))
	if err != nil {
		return errcode.Wrap(errcode.HardwareFault, "osuart.open", err)
	}
	if err := p.SetReadTimeout(u.IdleGap); err != nil {
		_ = p.Close()
		return errcode.Wrap(errcode.HardwareFault, "osuart.timeout", err)
	}
	u.port = p
	return nil
}

func (u *OSUART) Deinit() error {
	u.Stop()
	u.mu.Lock()
	defer u.mu.Unlock()
	if u.port == nil {
		return nil
	}
	err := u.port.Close()
	u.port = nil
	return err
}

func (u *OSUART) Start(rx []byte) error {
	u.mu.Lock()
	defer u.mu.Unlock()
	if u.port == nil {
		return errcode.New(errcode.HardwareFault, "osuart.start", "port not open")
	}
	if u.stop != nil {
		return nil
	}
	u.rx = rx
	u.count.Store(0)
	u.txq = make(chan []byte, 1)
	u.stop = make(chan struct{})
	u.wg.Add(2)
	go u.readLoop(u.port, u.stop)
	go u.writeLoop(u.port, u.txq, u.stop)
	return nil
}

func (u *OSUART) Stop() {
	u.mu.Lock()
	stop := u.stop
	u.stop = nil
	u.mu.Unlock()
	if stop == nil {
		return
	}
	close(stop)
	u.wg.Wait()
}

func (u *OSUART) RxCount() uint64 { return u.count.Load() }

func (u *OSUART) Transmit(p []byte) error {
	u.mu.Lock()
	q := u.txq
	running := u.stop != nil
	u.mu.Unlock()
	if !running {
		return errcode.New(errcode.HardwareFault, "osuart.transmit", "not started")
	}
	select {
	case q <- p:
		return nil
	default:
		return errcode.New(errcode.HardwareFault, "osuart.transmit", "transfer already in flight")
	}
}

func (u *OSUART) SetTxCompleteCallback(fn func(n int)) {
	if fn == nil {
		u.txCB.Store(nil)
		return
	}
	u.txCB.Store(&fn)
}

func (u *OSUART) SetIdleCallback(fn func()) {
	if fn == nil {
		u.idleCB.Store(nil)
		return
	}
	u.idleCB.Store(&fn)
}

func (u *OSUART) SetRxProgressCallback(fn func()) {
	if fn == nil {
		u.progCB.Store(nil)
		return
	}
	u.progCB.Store(&fn)
}

func (u *OSUART) readLoop(p serial.Port, stop <-chan struct{}) {
	defer u.wg.Done()
	var tmp [256]byte
	pending := false
	for {
		select {
		case <-stop:
			return
		default:
		}
		n, err := p.Read(tmp[:])
		if err != nil {
			return
		}
		if n == 0 {
			// Read timeout: the line has been quiet for IdleGap.
			if pending {
				pending = false
				if cb := u.idleCB.Load(); cb != nil {
					(*cb)()
				}
			}
			continue
		}
		size, half := uint64(len(u.rx)), uint64(len(u.rx)/2)
		for _, b := range tmp[:n] {
			c := u.count.Load()
			u.rx[c%size] = b
			c++
			u.count.Store(c)
			if pos := c % size; pos == 0 || pos == half {
				if cb := u.progCB.Load(); cb != nil {
					(*cb)()
				}
			}
		}
		pending = true
	}
}

func (u *OSUART) writeLoop(p serial.Port, q <-chan []byte, stop <-chan struct{}) {
	defer u.wg.Done()
	for {
		select {
		case <-stop:
			return
		case buf := <-q:
			for off := 0; off < len(buf); {
				n, err := p.Write(buf[off:])
				if err != nil {
					return
				}
				off += n
			}
			if cb := u.txCB.Load(); cb != nil {
				(*cb)(len(buf))
			}
		}
	}
}

// ListPorts reports the serial devices the OS knows about.
func ListPorts() ([]string, error) { return serial.GetPortsList() }
