// services/hal/platform/board.go
package platform

import (
	"benchio/services/hal/halcore"

	"tinygo.org/x/drivers"
)

// Board bundles the factories a firmware image wires into the transports.
type Board struct {
	UART   halcore.UARTFactory
	USB    halcore.USBFactory
	ADC    halcore.ADCFactory
	Timers halcore.TimerFactory
	SPI    halcore.SPIFactory
}

// SimBoard is a complete simulated board: three UARTs, two CDC functions,
// one ADC with two pacing timers, and two SPI buses.
type SimBoard struct {
	UARTs  [3]*SimUART
	USBs   [2]*SimUSB
	ADCs   [1]*SimADC
	Timers [2]*SimTimer
	SPIs   [2]*SimSPI
}

func NewSimBoard() *SimBoard {
	b := &SimBoard{}
	for i := range b.UARTs {
		b.UARTs[i] = NewSimUART(i)
	}
	for i := range b.USBs {
		b.USBs[i] = NewSimUSB()
	}
	b.ADCs[0] = NewSimADC()
	for i := range b.Timers {
		b.Timers[i] = &SimTimer{}
	}
	for i := range b.SPIs {
		b.SPIs[i] = &SimSPI{}
	}
	return b
}

// Board exposes the simulated peripherals through the factory contracts.
func (b *SimBoard) Board() Board {
	return Board{
		UART:   simUARTs{b},
		USB:    simUSBs{b},
		ADC:    simADCs{b},
		Timers: simTimers{b},
		SPI:    simSPIs{b},
	}
}

type simUARTs struct{ b *SimBoard }
type simUSBs struct{ b *SimBoard }
type simADCs struct{ b *SimBoard }
type simTimers struct{ b *SimBoard }
type simSPIs struct{ b *SimBoard }

func (f simUARTs) ByID(id int) (halcore.UART, bool) {
	if id < 0 || id >= len(f.b.UARTs) {
		return nil, false
	}
	return f.b.UARTs[id], true
}

func (f simUSBs) ByID(id int) (halcore.USBSerial, bool) {
	if id < 0 || id >= len(f.b.USBs) {
		return nil, false
	}
	return f.b.USBs[id], true
}

func (f simADCs) ByID(id int) (halcore.ADC, bool) {
	if id < 0 || id >= len(f.b.ADCs) {
		return nil, false
	}
	return f.b.ADCs[id], true
}

func (f simTimers) ByID(id int) (halcore.PacingTimer, bool) {
	if id < 0 || id >= len(f.b.Timers) {
		return nil, false
	}
	return f.b.Timers[id], true
}

func (f simSPIs) ByID(id int) (drivers.SPI, bool) {
	if id < 0 || id >= len(f.b.SPIs) {
		return nil, false
	}
	return f.b.SPIs[id], true
}

// UARTMap overrides individual UART slots of another factory, e.g. to put
// an OS serial port on UART0 and keep the rest simulated.
type UARTMap struct {
	Ports map[int]halcore.UART
	Next  halcore.UARTFactory
}

func (m UARTMap) ByID(id int) (halcore.UART, bool) {
	if u, ok := m.Ports[id]; ok {
		return u, true
	}
	if m.Next == nil {
		return nil, false
	}
	return m.Next.ByID(id)
}
