// services/hal/config/config.go
//
// Package config describes which transports a build brings up and how.
// Firmware uses Defaults directly; host tools Load a YAML file on top.
package config

import (
	"strconv"

	"benchio/errcode"
	"benchio/services/hal/acquire"
	"benchio/services/hal/blockxfer"
	"benchio/services/hal/diag"
	"benchio/services/hal/halcore"
	"benchio/services/hal/serial"
	"benchio/services/hal/usbcdc"
)

type Config struct {
	Serial  []SerialConfig `mapstructure:"serial"`
	USB     USBConfig      `mapstructure:"usb"`
	Acquire AcquireConfig  `mapstructure:"acquire"`
	SPI     []SPIConfig    `mapstructure:"spi"`
	Logging diag.LogConfig `mapstructure:"logging"`
	Host    HostConfig     `mapstructure:"host"`
}

// SerialConfig is one UART port. Device names the OS serial device that
// backs the port on the host; empty selects the simulator.
type SerialConfig struct {
	Port     int    `mapstructure:"port"`
	Device   string `mapstructure:"device"`
	Baud     uint32 `mapstructure:"baud"`
	DataBits uint8  `mapstructure:"data_bits"`
	StopBits uint8  `mapstructure:"stop_bits"`
	Parity   string `mapstructure:"parity"`
	RxSize   int    `mapstructure:"rx_size"`
	TxSize   int    `mapstructure:"tx_size"`
	MaxChunk int    `mapstructure:"max_chunk"`
	RxSync   string `mapstructure:"rx_sync"`
}

type USBConfig struct {
	Enabled    bool `mapstructure:"enabled"`
	Function   int  `mapstructure:"function"`
	RxSize     int  `mapstructure:"rx_size"`
	TxSize     int  `mapstructure:"tx_size"`
	FlushTicks int  `mapstructure:"flush_ticks"`
}

type AcquireConfig struct {
	Enabled      bool   `mapstructure:"enabled"`
	SampleRateHz uint32 `mapstructure:"sample_rate_hz"`
	Samples      int    `mapstructure:"samples"`
	TimerID      int    `mapstructure:"timer_id"`
	Channel      int    `mapstructure:"channel"`
	Bits         uint8  `mapstructure:"bits"`
}

type SPIConfig struct {
	Bus       int    `mapstructure:"bus"`
	Frequency uint32 `mapstructure:"frequency"`
	Mode      uint8  `mapstructure:"mode"`
	Fill      uint8  `mapstructure:"fill"`
}

type HostConfig struct {
	// MetricsAddr is the listen address for /metrics; empty disables it.
	MetricsAddr string `mapstructure:"metrics_addr"`
}

// Defaults is the bench build: UART0 at 115200 bridged to CDC0, one ADC
// channel at 10 kHz, no SPI.
func Defaults() Config {
	return Config{
		Serial: []SerialConfig{{
			Port:   serial.UART0,
			Baud:   115200,
			Parity: "none",
			RxSize: serial.DefaultRxSize,
			TxSize: serial.DefaultTxSize,
			RxSync: "idle",
		}},
		USB: USBConfig{
			Enabled:    true,
			Function:   usbcdc.CDC0,
			RxSize:     usbcdc.DefaultRxSize,
			TxSize:     usbcdc.DefaultTxSize,
			FlushTicks: usbcdc.FlushTimeoutTicks,
		},
		Acquire: AcquireConfig{
			Enabled:      true,
			SampleRateHz: 10000,
			Samples:      256,
			Bits:         12,
		},
		Logging: diag.LogConfig{
			Level:  "info",
			Format: "json",
			Output: "stdout",
		},
	}
}

func invalid(field, msg string) error {
	return errcode.New(errcode.InvalidArgument, "config.validate", field+": "+msg)
}

func checkSize(field string, n int) error {
	if n != 0 && n < 2 {
		return invalid(field, "must be 0 (default) or at least 2")
	}
	return nil
}

// Validate reports the first field that no transport would accept.
func (c *Config) Validate() error {
	seen := map[int]bool{}
	for i, s := range c.Serial {
		f := "serial[" + strconv.Itoa(i) + "]"
		if s.Port < 0 || s.Port >= serial.NumPorts {
			return invalid(f+".port", "out of range")
		}
		if seen[s.Port] {
			return invalid(f+".port", "duplicate "+serial.PortName(s.Port))
		}
		seen[s.Port] = true
		if s.Baud == 0 {
			return invalid(f+".baud", "required")
		}
		switch s.Parity {
		case "", "none", "even", "odd":
		default:
			return invalid(f+".parity", "unknown "+strconv.Quote(s.Parity))
		}
		if _, err := serial.ParseRxSync(s.RxSync); err != nil {
			return invalid(f+".rx_sync", "unknown "+strconv.Quote(s.RxSync))
		}
		if err := checkSize(f+".rx_size", s.RxSize); err != nil {
			return err
		}
		if err := checkSize(f+".tx_size", s.TxSize); err != nil {
			return err
		}
		if s.MaxChunk < 0 {
			return invalid(f+".max_chunk", "must not be negative")
		}
	}

	if c.USB.Enabled {
		if c.USB.Function < 0 || c.USB.Function >= usbcdc.NumFunctions {
			return invalid("usb.function", "out of range")
		}
		if err := checkSize("usb.rx_size", c.USB.RxSize); err != nil {
			return err
		}
		if err := checkSize("usb.tx_size", c.USB.TxSize); err != nil {
			return err
		}
		if c.USB.FlushTicks < 0 {
			return invalid("usb.flush_ticks", "must not be negative")
		}
	}

	if c.Acquire.Enabled {
		if c.Acquire.SampleRateHz == 0 {
			return invalid("acquire.sample_rate_hz", "required")
		}
		if c.Acquire.Samples <= 0 {
			return invalid("acquire.samples", "must be positive")
		}
	}

	buses := map[int]bool{}
	for i, s := range c.SPI {
		f := "spi[" + strconv.Itoa(i) + "]"
		if s.Bus < 0 || s.Bus >= blockxfer.NumBuses {
			return invalid(f+".bus", "out of range")
		}
		if buses[s.Bus] {
			return invalid(f+".bus", "duplicate "+blockxfer.BusName(s.Bus))
		}
		buses[s.Bus] = true
		if s.Mode > 3 {
			return invalid(f+".mode", "must be 0..3")
		}
	}

	if _, err := diag.ParseLevel(c.Logging.Level); err != nil {
		return invalid("logging.level", err.Error())
	}
	switch c.Logging.Format {
	case "", "json", "console":
	default:
		return invalid("logging.format", "unknown "+strconv.Quote(c.Logging.Format))
	}
	return nil
}

// Transport converts to the serial transport's Config. Buffers are left
// nil so the manager draws them from its budget.
func (s SerialConfig) Transport() (serial.Config, error) {
	mode, err := serial.ParseRxSync(s.RxSync)
	if err != nil {
		return serial.Config{}, err
	}
	return serial.Config{
		UART: halcore.UARTConfig{
			BaudRate: s.Baud,
			DataBits: s.DataBits,
			StopBits: s.StopBits,
			Parity:   halcore.ParseParity(s.Parity),
		},
		RxSize:   s.RxSize,
		TxSize:   s.TxSize,
		MaxChunk: s.MaxChunk,
		RxSync:   mode,
	}, nil
}

func (u USBConfig) Transport() usbcdc.Config {
	return usbcdc.Config{RxSize: u.RxSize, TxSize: u.TxSize, FlushTicks: u.FlushTicks}
}

func (a AcquireConfig) Transport() acquire.Config {
	return acquire.Config{
		SampleRateHz: a.SampleRateHz,
		TimerID:      a.TimerID,
		Channel:      a.Channel,
		Bits:         a.Bits,
	}
}

func (s SPIConfig) Transport() blockxfer.Config {
	return blockxfer.Config{Frequency: s.Frequency, Mode: s.Mode, Fill: s.Fill}
}

func orDefault(n, def int) int {
	if n > 0 {
		return n
	}
	return def
}

// SerialBudget is the byte budget that covers every configured port's
// default-allocated buffers.
func (c *Config) SerialBudget() int {
	n := 0
	for _, s := range c.Serial {
		n += orDefault(s.RxSize, serial.DefaultRxSize) + orDefault(s.TxSize, serial.DefaultTxSize)
	}
	return n
}

func (c *Config) USBBudget() int {
	if !c.USB.Enabled {
		return 0
	}
	return orDefault(c.USB.RxSize, usbcdc.DefaultRxSize) + orDefault(c.USB.TxSize, usbcdc.DefaultTxSize)
}
