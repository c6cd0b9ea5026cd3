// services/hal/halcore/types.go
//
// Package halcore holds the contracts between the transports and the
// per-peripheral drivers underneath them.
//
// Every completion callback registered here fires exactly once per
// completed operation, from interrupt context. Callbacks must return
// quickly, must not block and must not allocate. After Stop returns no
// further callback for that peripheral may fire.
package halcore

import "tinygo.org/x/drivers"

// ---------------- UART ----------------

type Parity uint8

const (
	ParityNone Parity = iota
	ParityEven
	ParityOdd
)

func ParityToString(p Parity) string {
	switch p {
	case ParityEven:
		return "even"
	case ParityOdd:
		return "odd"
	default:
		return "none"
	}
}

func ParseParity(s string) Parity {
	switch s {
	case "even":
		return ParityEven
	case "odd":
		return ParityOdd
	default:
		return ParityNone
	}
}

type UARTConfig struct {
	BaudRate uint32
	DataBits uint8 // 0 selects 8
	StopBits uint8 // 0 selects 1
	Parity   Parity
}

// UART is a DMA-capable serial peripheral.
type UART interface {
	Init(cfg UARTConfig) error
	Deinit() error

	// Start begins circular reception into rx and enables interrupts.
	Start(rx []byte) error
	// Stop masks interrupts and halts DMA in both directions.
	Stop()
	// RxCount is the number of bytes received since Start. The index in
	// rx the receiver writes next is RxCount() % len(rx).
	RxCount() uint64

	// Transmit starts an asynchronous send of p. The TX-complete callback
	// fires with len(p) when the last byte has left the buffer. p must stay
	// untouched until then.
	Transmit(p []byte) error

	SetTxCompleteCallback(fn func(n int))
	// SetIdleCallback is invoked when the line goes idle after reception.
	SetIdleCallback(fn func())
	// SetRxProgressCallback is invoked each time the receiver reaches the
	// middle or the end of rx (the DMA half- and full-transfer
	// interrupts), whether or not the line goes idle.
	SetRxProgressCallback(fn func())
}

type UARTFactory interface {
	ByID(id int) (UART, bool)
}

// ---------------- USB CDC ----------------

// Bits of the CDC SET_CONTROL_LINE_STATE wValue.
const (
	ControlLineDTR uint16 = 1 << 0
	ControlLineRTS uint16 = 1 << 1
)

// LineCoding is the CDC PSTN line coding structure the host sets.
type LineCoding struct {
	BaudRate uint32
	StopBits uint8 // 0: 1, 1: 1.5, 2: 2
	Parity   uint8 // 0 none, 1 odd, 2 even, 3 mark, 4 space
	DataBits uint8
}

// ParseLineCoding decodes the 7-byte SET_LINE_CODING payload.
func ParseLineCoding(b []byte) (LineCoding, bool) {
	if len(b) < 7 {
		return LineCoding{}, false
	}
	return LineCoding{
		BaudRate: uint32(b[0]) | uint32(b[1])<<8 | uint32(b[2])<<16 | uint32(b[3])<<24,
		StopBits: b[4],
		Parity:   b[5],
		DataBits: b[6],
	}, true
}

// USBSerial is a CDC-ACM function with its own endpoint FIFOs.
type USBSerial interface {
	Init() error
	Deinit() error
	Start() error
	Stop()

	// Poll services the device stack and dispatches line-state events in
	// the caller's context.
	Poll()

	// RX FIFO
	Available() int
	Read(p []byte) int

	// TX FIFO
	WriteRoom() int
	Write(p []byte) int
	Pending() int // bytes accepted but not yet sent to the host
	Flush()       // send a short packet now
	DiscardTx()

	LineCoding() LineCoding
	SetLineStateCallback(fn func(dtr, rts bool))
}

type USBFactory interface {
	ByID(id int) (USBSerial, bool)
}

// ---------------- ADC + pacing timer ----------------

type ADCConfig struct {
	Channel int
	Bits    uint8 // 0 selects the native resolution
}

// ADC samples into a caller buffer under DMA, one conversion per pacing tick.
type ADC interface {
	Init(cfg ADCConfig) error
	Deinit() error
	// Arm points DMA at buf for one fill. It does not start conversions.
	Arm(buf []uint16) error
	Start() error
	Stop()
	// CyclesPerSample is the minimum ADC clock cycles one conversion takes.
	CyclesPerSample() uint32
	ClockHz() uint32
	// SetCompleteCallback fires when the armed buffer is full.
	SetCompleteCallback(fn func())
}

type PacingTimer interface {
	Init(hz uint32) error
	Start() error
	Stop()
	Deinit() error
}

type ADCFactory interface {
	ByID(id int) (ADC, bool)
}

type TimerFactory interface {
	ByID(id int) (PacingTimer, bool)
}

// ---------------- SPI ----------------

type SPIConfig struct {
	Frequency uint32
	Mode      uint8
}

// SPIConfigurer is implemented by buses that can be reconfigured at Init.
type SPIConfigurer interface {
	Configure(cfg SPIConfig) error
}

type SPIFactory interface {
	ByID(id int) (drivers.SPI, bool)
}
