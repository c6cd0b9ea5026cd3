// Firmware entry. The USB virtual serial port is bridged to UART0 so the
// host talks straight to the instrument, the ADC keeps sampling, and the
// diagnostic log drains to UART1. On the host the same wiring runs against
// the simulated board.
package main

import (
	"context"
	"time"

	"benchio/services/bridge"
	"benchio/services/heartbeat"
	"benchio/services/hal/acquire"
	"benchio/services/hal/config"
	"benchio/services/hal/diag"
	"benchio/services/hal/foreground"
	"benchio/services/hal/halcore"
	"benchio/services/hal/platform"
	"benchio/services/hal/registry"
	"benchio/services/hal/serial"
	"benchio/services/hal/usbcdc"
	"benchio/x/mathx"

	"go.uber.org/zap"
)

const debugPort = serial.UART1

// Every transport buffer is static; the managers get a zero budget so
// nothing is allocated after start-up.
var (
	uart0Rx, uart0Tx [512]byte
	debugRx          [16]byte
	debugTx          [1024]byte
	cdcRx, cdcTx     [512]byte
	samples          [256]uint16
	scratch          [256]uint16
	logRing          [2048]byte
)

func main() {
	// Allow USB CDC to enumerate before anything is sent.
	time.Sleep(2 * time.Second)

	sink := diag.NewRingSink(logRing[:])
	log, err := diag.NewLogger(diag.LogConfig{Level: "info", Format: "console", Output: "ring"}, sink)
	if err != nil {
		println("[main] logger:", err.Error())
		select {}
	}
	g := diag.Guard{Log: log}

	cfg := config.Defaults()
	g.Check("config", cfg.Validate())
	board := platform.DefaultBoard()

	ser := serial.NewManager(board.UART, registry.NewBudget(0), log)
	usb := usbcdc.NewManager(board.USB, registry.NewBudget(0), log)
	adc := acquire.NewManager(board.ADC, board.Timers, log)

	sc, err := cfg.Serial[0].Transport()
	g.Check("config.serial", err)
	sc.RxBuf, sc.TxBuf = uart0Rx[:], uart0Tx[:]
	uart, err := ser.Init(cfg.Serial[0].Port, sc)
	g.Check("serial.init", err)

	debug, err := ser.Init(debugPort, serial.Config{
		UART:   halcore.UARTConfig{BaudRate: 115200},
		RxBuf:  debugRx[:],
		TxBuf:  debugTx[:],
		RxSync: serial.RxSyncPoll,
	})
	g.Check("serial.init", err)

	uc := cfg.USB.Transport()
	uc.RxBuf, uc.TxBuf = cdcRx[:], cdcTx[:]
	cdc, err := usb.Init(cfg.USB.Function, uc)
	g.Check("usbcdc.init", err)

	conv, err := adc.Init(acquire.ADC0, samples[:], cfg.Acquire.Transport())
	g.Check("acquire.init", err)
	g.Try("acquire.start", conv.Start)

	link := bridge.New(cdc, uart, log)

	loop := foreground.New(foreground.DefaultHz, log)
	g.Check("loop.add", loop.Add("usb", usb.Task))
	g.Check("loop.add", loop.Add("serial", ser.Poll))
	g.Check("loop.add", loop.Add("bridge", func() {
		if err := link.Pump(); err != nil {
			log.Warn("bridge pump", zap.Error(err))
		}
	}))
	g.Check("loop.add", loop.Add("acquire", func() { g.Check("acquire", drainFill(conv, log)) }))
	beat := heartbeat.New(heartbeat.DefaultInterval, loop.Period(), log, func() []zap.Field {
		bs, us := link.Stats(), uart.Stats()
		return []zap.Field{
			zap.Uint64("usb_to_uart", bs.AtoB),
			zap.Uint64("uart_to_usb", bs.BtoA),
			zap.Uint64("uart_overruns", us.Overruns),
			zap.Bool("host_connected", cdc.Connected()),
			zap.Uint64("adc_fills", conv.Stats().Fills),
			zap.Uint64("log_dropped", sink.Dropped()),
		}
	})
	g.Check("loop.add", loop.Add("heartbeat", beat.Tick))
	g.Check("loop.add", loop.Add("log", func() { sink.Drain(debug) }))

	log.Info("bench up",
		zap.String("bridge", usbcdc.Name(cfg.USB.Function)+"<->"+serial.PortName(cfg.Serial[0].Port)),
		zap.Uint32("adc_rate_hz", conv.Rate()),
	)
	g.Check("foreground", loop.Run(context.Background()))
}

// drainFill reads a completed fill, logs its range and re-arms.
func drainFill(h *acquire.Handle, log *zap.Logger) error {
	if h.Available() == 0 {
		return nil
	}
	lo, hi := uint16(0xFFFF), uint16(0)
	for h.Available() > 0 {
		n, err := h.Read(scratch[:])
		if err != nil {
			return err
		}
		for _, v := range scratch[:n] {
			lo, hi = mathx.Min(lo, v), mathx.Max(hi, v)
		}
	}
	log.Debug("fill", zap.Uint16("min", lo), zap.Uint16("max", hi))
	return h.Restart()
}
