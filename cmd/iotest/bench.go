//go:build !rp2040 && !rp2350

package main

import (
	"benchio/services/hal/acquire"
	"benchio/services/hal/blockxfer"
	"benchio/services/hal/config"
	"benchio/services/hal/foreground"
	"benchio/services/hal/platform"
	"benchio/services/hal/registry"
	"benchio/services/hal/serial"
	"benchio/services/hal/usbcdc"

	"go.uber.org/zap"
)

// bench is every transport the config asks for, on one foreground loop.
type bench struct {
	log  *zap.Logger
	sim  *platform.SimBoard
	real bool // at least one UART is an OS serial device

	ser  *serial.Manager
	usb  *usbcdc.Manager
	adc  *acquire.Manager
	spi  *blockxfer.Manager
	loop *foreground.Loop
}

func openBench(cfg *config.Config, log *zap.Logger) (b *bench, err error) {
	b = &bench{log: log, sim: platform.NewSimBoard()}

	ports := map[int]string{}
	for _, s := range cfg.Serial {
		if s.Device != "" {
			ports[s.Port] = s.Device
		}
	}
	b.real = len(ports) > 0
	// Simulated UARTs have no wire; finish transmits at once.
	for _, u := range b.sim.UARTs {
		u.AutoComplete = true
	}
	board := platform.HostBoard(b.sim, ports)

	b.ser = serial.NewManager(board.UART, registry.NewBudget(cfg.SerialBudget()), log)
	b.usb = usbcdc.NewManager(board.USB, registry.NewBudget(cfg.USBBudget()), log)
	b.adc = acquire.NewManager(board.ADC, board.Timers, log)
	b.spi = blockxfer.NewManager(board.SPI, log)
	b.loop = foreground.New(foreground.DefaultHz, log)

	defer func() {
		if err != nil {
			b.close()
		}
	}()

	for _, s := range cfg.Serial {
		sc, err := s.Transport()
		if err != nil {
			return nil, err
		}
		if _, err = b.ser.Init(s.Port, sc); err != nil {
			return nil, err
		}
	}
	if cfg.USB.Enabled {
		if _, err = b.usb.Init(cfg.USB.Function, cfg.USB.Transport()); err != nil {
			return nil, err
		}
	}
	if cfg.Acquire.Enabled {
		h, err := b.adc.Init(acquire.ADC0, make([]uint16, cfg.Acquire.Samples), cfg.Acquire.Transport())
		if err != nil {
			return nil, err
		}
		if err = h.Start(); err != nil {
			return nil, err
		}
	}
	for _, s := range cfg.SPI {
		if _, err = b.spi.Init(s.Bus, s.Transport()); err != nil {
			return nil, err
		}
	}

	if err = b.loop.Add("usb", b.usb.Task); err != nil {
		return nil, err
	}
	if err = b.loop.Add("serial", b.ser.Poll); err != nil {
		return nil, err
	}
	if cfg.Acquire.Enabled {
		// The simulated converter completes one fill per tick once armed.
		adc := b.sim.ADCs[0]
		if err = b.loop.Add("adc-sim", func() { adc.Fill() }); err != nil {
			return nil, err
		}
	}
	return b, nil
}

// close brings everything down in reverse order. Safe on a partly opened
// bench.
func (b *bench) close() {
	for bus := 0; bus < blockxfer.NumBuses; bus++ {
		_ = b.spi.Deinit(bus)
	}
	for id := 0; id < acquire.NumConverters; id++ {
		if _, ok := b.adc.Handle(id); !ok {
			continue
		}
		if err := b.adc.Deinit(id); err != nil {
			b.log.Warn("deinit failed", zap.String("adc", acquire.Name(id)), zap.Error(err))
		}
	}
	for fn := 0; fn < usbcdc.NumFunctions; fn++ {
		_ = b.usb.Deinit(fn)
	}
	for port := 0; port < serial.NumPorts; port++ {
		_ = b.ser.Deinit(port)
	}
}

// console returns a console bound to this bench. do runs fn on the loop.
func (b *bench) console(do func(fn func()) error) *console {
	c := &console{do: do, ser: b.ser, usb: b.usb, adc: b.adc, spi: b.spi}
	if !b.real {
		c.sim = b.sim
	}
	return c
}
