// services/hal/platform/factories_rp2.go
//go:build rp2040 || rp2350

package platform

import (
	"context"
	"machine"
	"sync"
	"time"

	"benchio/errcode"
	"benchio/services/hal/halcore"
	"benchio/x/timex"

	uartx "github.com/jangala-dev/tinygo-uartx/uartx"
	"tinygo.org/x/drivers"
)

// -----------------------------------------------------------------------------
// Defaults for Raspberry Pi Pico / Pico 2 (RP2 family)
// -----------------------------------------------------------------------------

// DefaultBoard wires uart0/uart1 (uartx), USB CDC (machine.Serial), the
// ADC on GP26 paced by a software timer, and spi0/spi1 on default pins.
func DefaultBoard() Board {
	tick := make(chan struct{}, 1)
	return Board{
		UART: rp2UARTs{
			0: &rp2UART{hw: uartx.UART0, tx: machine.UART0_TX_PIN, rx: machine.UART0_RX_PIN},
			1: &rp2UART{hw: uartx.UART1, tx: machine.UART1_TX_PIN, rx: machine.UART1_RX_PIN},
		},
		USB:    rp2USBs{0: &rp2USB{s: machine.Serial}},
		ADC:    rp2ADCs{0: &rp2ADC{pin: machine.ADC0, tick: tick}},
		Timers: rp2Timers{0: &rp2Timer{tick: tick}},
		SPI: rp2SPIs{
			0: &rp2SPI{bus: machine.SPI0},
			1: &rp2SPI{bus: machine.SPI1},
		},
	}
}

type rp2UARTs map[int]*rp2UART
type rp2USBs map[int]*rp2USB
type rp2ADCs map[int]*rp2ADC
type rp2Timers map[int]*rp2Timer
type rp2SPIs map[int]*rp2SPI

func (f rp2UARTs) ByID(id int) (halcore.UART, bool) {
	u, ok := f[id]
	return u, ok
}

func (f rp2USBs) ByID(id int) (halcore.USBSerial, bool) {
	u, ok := f[id]
	return u, ok
}

func (f rp2ADCs) ByID(id int) (halcore.ADC, bool) {
	a, ok := f[id]
	return a, ok
}

func (f rp2Timers) ByID(id int) (halcore.PacingTimer, bool) {
	t, ok := f[id]
	return t, ok
}

func (f rp2SPIs) ByID(id int) (drivers.SPI, bool) {
	s, ok := f[id]
	return s, ok
}

// ---- UART (uartx) ----

// rp2UART moves bytes from the uartx interrupt ring into the transport's
// circular buffer, raising progress at the middle and end of the buffer,
// and reports idle once the ring has been drained.
type rp2UART struct {
	hw     *uartx.UART
	tx, rx machine.Pin

	mu     sync.Mutex
	buf    []byte
	count  uint64
	cancel context.CancelFunc
	busy   bool
	txCB   func(int)
	idleCB func()
	progCB func()
}

func (u *rp2UART) Init(cfg halcore.UARTConfig) error {
	if err := u.hw.Configure(uartx.UARTConfig{BaudRate: cfg.BaudRate, TX: u.tx, RX: u.rx}); err != nil {
		return errcode.Wrap(errcode.HardwareFault, "rp2uart.configure", err)
	}
	db, sb := cfg.DataBits, cfg.StopBits
	if db == 0 {
		db = 8
	}
	if sb == 0 {
		sb = 1
	}
	var par uartx.UARTParity
	switch cfg.Parity {
	case halcore.ParityEven:
		par = uartx.ParityEven
	case halcore.ParityOdd:
		par = uartx.ParityOdd
	default:
		par = uartx.ParityNone
	}
	return errcode.Wrap(errcode.HardwareFault, "rp2uart.format", u.hw.SetFormat(db, sb, par))
}

func (u *rp2UART) Deinit() error {
	u.Stop()
	return nil
}

func (u *rp2UART) Start(rx []byte) error {
	u.mu.Lock()
	defer u.mu.Unlock()
	if u.cancel != nil {
		return nil
	}
	u.buf, u.count = rx, 0
	ctx, cancel := context.WithCancel(context.Background())
	u.cancel = cancel
	go u.pump(ctx)
	return nil
}

func (u *rp2UART) Stop() {
	u.mu.Lock()
	if u.cancel != nil {
		u.cancel()
		u.cancel = nil
	}
	u.busy = false
	u.mu.Unlock()
}

func (u *rp2UART) pump(ctx context.Context) {
	var tmp [64]byte
	for {
		n, err := u.hw.RecvSomeContext(ctx, tmp[:])
		if err != nil {
			return
		}
		size := uint64(len(u.buf))
		for _, b := range tmp[:n] {
			u.mu.Lock()
			u.buf[u.count%size] = b
			u.count++
			pos := u.count % size
			prog := u.progCB
			u.mu.Unlock()
			if prog != nil && (pos == 0 || pos == size/2) {
				prog()
			}
		}
		u.mu.Lock()
		cb := u.idleCB
		u.mu.Unlock()
		if cb != nil {
			cb()
		}
	}
}

func (u *rp2UART) RxCount() uint64 {
	u.mu.Lock()
	defer u.mu.Unlock()
	return u.count
}

func (u *rp2UART) Transmit(p []byte) error {
	u.mu.Lock()
	if u.busy {
		u.mu.Unlock()
		return errcode.New(errcode.HardwareFault, "rp2uart.transmit", "transfer in flight")
	}
	u.busy = true
	u.mu.Unlock()
	go func() {
		n, _ := u.hw.Write(p)
		u.mu.Lock()
		u.busy = false
		cb := u.txCB
		u.mu.Unlock()
		if cb != nil {
			cb(n)
		}
	}()
	return nil
}

func (u *rp2UART) SetTxCompleteCallback(fn func(n int)) {
	u.mu.Lock()
	u.txCB = fn
	u.mu.Unlock()
}

func (u *rp2UART) SetIdleCallback(fn func()) {
	u.mu.Lock()
	u.idleCB = fn
	u.mu.Unlock()
}

func (u *rp2UART) SetRxProgressCallback(fn func()) {
	u.mu.Lock()
	u.progCB = fn
	u.mu.Unlock()
}

// ---- USB CDC (machine.Serial) ----

type lineState interface {
	DTR() bool
	RTS() bool
}

// rp2USB adapts the TinyGo CDC function. TinyGo owns the endpoint buffers
// and flushes on its own, so Pending is always zero here.
type rp2USB struct {
	s        machine.Serialer
	cb       func(dtr, rts bool)
	dtr, rts bool
	started  bool
}

func (u *rp2USB) Init() error {
	return errcode.Wrap(errcode.HardwareFault, "rp2usb.configure", u.s.Configure(machine.UARTConfig{}))
}

func (u *rp2USB) Deinit() error { u.started = false; return nil }
func (u *rp2USB) Start() error  { u.started = true; return nil }
func (u *rp2USB) Stop()         { u.started = false }

func (u *rp2USB) Poll() {
	ls, ok := u.s.(lineState)
	if !ok || u.cb == nil {
		return
	}
	dtr, rts := ls.DTR(), ls.RTS()
	if dtr != u.dtr || rts != u.rts {
		u.dtr, u.rts = dtr, rts
		u.cb(dtr, rts)
	}
}

func (u *rp2USB) Available() int { return u.s.Buffered() }

func (u *rp2USB) Read(p []byte) int {
	n := 0
	for n < len(p) && u.s.Buffered() > 0 {
		b, err := u.s.ReadByte()
		if err != nil {
			break
		}
		p[n] = b
		n++
	}
	return n
}

func (u *rp2USB) WriteRoom() int {
	if !u.started {
		return 0
	}
	return 64
}

func (u *rp2USB) Write(p []byte) int {
	n, _ := u.s.Write(p)
	return n
}

func (u *rp2USB) Pending() int { return 0 }
func (u *rp2USB) Flush()       {}
func (u *rp2USB) DiscardTx()   {}

func (u *rp2USB) LineCoding() halcore.LineCoding {
	return halcore.LineCoding{BaudRate: 115200, DataBits: 8}
}

func (u *rp2USB) SetLineStateCallback(fn func(dtr, rts bool)) { u.cb = fn }

// ---- ADC + pacing timer ----

// rp2Timer ticks at the programmed rate and hands each tick to the ADC.
type rp2Timer struct {
	tick   chan struct{}
	hz     uint32
	cancel context.CancelFunc
}

func (t *rp2Timer) Init(hz uint32) error {
	if hz == 0 {
		return errcode.New(errcode.InvalidArgument, "rp2timer.init", "zero rate")
	}
	t.hz = hz
	return nil
}

func (t *rp2Timer) Start() error {
	if t.cancel != nil {
		return nil
	}
	ctx, cancel := context.WithCancel(context.Background())
	t.cancel = cancel
	period := timex.Period(t.hz)
	go func() {
		tk := time.NewTicker(period)
		defer tk.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-tk.C:
				select {
				case t.tick <- struct{}{}:
				default:
				}
			}
		}
	}()
	return nil
}

func (t *rp2Timer) Stop() {
	if t.cancel != nil {
		t.cancel()
		t.cancel = nil
	}
}

func (t *rp2Timer) Deinit() error { t.Stop(); return nil }

type rp2ADC struct {
	pin  machine.Pin
	adc  machine.ADC
	tick <-chan struct{}

	mu     sync.Mutex
	armed  []uint16
	filled int
	cb     func()
	cancel context.CancelFunc
}

func (a *rp2ADC) Init(cfg halcore.ADCConfig) error {
	machine.InitADC()
	pin := a.pin
	if cfg.Channel > 0 {
		pin = machine.ADC0 + machine.Pin(cfg.Channel)
	}
	a.adc = machine.ADC{Pin: pin}
	a.adc.Configure(machine.ADCConfig{Resolution: uint32(cfg.Bits)})
	return nil
}

func (a *rp2ADC) Deinit() error { a.Stop(); return nil }

func (a *rp2ADC) Arm(buf []uint16) error {
	a.mu.Lock()
	a.armed, a.filled = buf, 0
	a.mu.Unlock()
	return nil
}

func (a *rp2ADC) Start() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.cancel != nil {
		return nil
	}
	ctx, cancel := context.WithCancel(context.Background())
	a.cancel = cancel
	go a.run(ctx)
	return nil
}

func (a *rp2ADC) Stop() {
	a.mu.Lock()
	if a.cancel != nil {
		a.cancel()
		a.cancel = nil
	}
	a.mu.Unlock()
}

func (a *rp2ADC) run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-a.tick:
		}
		v := a.adc.Get()
		a.mu.Lock()
		if a.armed == nil {
			a.mu.Unlock()
			continue
		}
		a.armed[a.filled] = v
		a.filled++
		var cb func()
		if a.filled == len(a.armed) {
			a.armed = nil
			cb = a.cb
		}
		a.mu.Unlock()
		if cb != nil {
			cb()
		}
	}
}

// RP2040 ADC: 48 MHz clock, 96 cycles per conversion.
func (a *rp2ADC) CyclesPerSample() uint32 { return 96 }
func (a *rp2ADC) ClockHz() uint32         { return 48_000_000 }

func (a *rp2ADC) SetCompleteCallback(fn func()) {
	a.mu.Lock()
	a.cb = fn
	a.mu.Unlock()
}

// ---- SPI ----

type rp2SPI struct{ bus *machine.SPI }

func (s *rp2SPI) Configure(cfg halcore.SPIConfig) error {
	return s.bus.Configure(machine.SPIConfig{Frequency: cfg.Frequency, Mode: cfg.Mode})
}

func (s *rp2SPI) Tx(w, r []byte) error           { return s.bus.Tx(w, r) }
func (s *rp2SPI) Transfer(b byte) (byte, error) { return s.bus.Transfer(b) }
