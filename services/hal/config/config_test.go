package config

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"benchio/errcode"
	"benchio/services/hal/halcore"
	"benchio/services/hal/serial"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultsValidate(t *testing.T) {
	cfg := Defaults()
	require.NoError(t, cfg.Validate())
	assert.Equal(t, 100, cfg.USB.FlushTicks)
	require.Len(t, cfg.Serial, 1)
	assert.Equal(t, serial.UART0, cfg.Serial[0].Port)
}

func TestValidateRejects(t *testing.T) {
	cases := []struct {
		name string
		mut  func(*Config)
	}{
		{"port range", func(c *Config) { c.Serial[0].Port = serial.NumPorts }},
		{"duplicate port", func(c *Config) { c.Serial = append(c.Serial, c.Serial[0]) }},
		{"zero baud", func(c *Config) { c.Serial[0].Baud = 0 }},
		{"parity", func(c *Config) { c.Serial[0].Parity = "mark" }},
		{"rx sync", func(c *Config) { c.Serial[0].RxSync = "dma" }},
		{"rx size", func(c *Config) { c.Serial[0].RxSize = 1 }},
		{"negative chunk", func(c *Config) { c.Serial[0].MaxChunk = -1 }},
		{"usb function", func(c *Config) { c.USB.Function = 5 }},
		{"flush ticks", func(c *Config) { c.USB.FlushTicks = -1 }},
		{"rate", func(c *Config) { c.Acquire.SampleRateHz = 0 }},
		{"samples", func(c *Config) { c.Acquire.Samples = 0 }},
		{"spi bus", func(c *Config) { c.SPI = []SPIConfig{{Bus: 9}} }},
		{"spi mode", func(c *Config) { c.SPI = []SPIConfig{{Bus: 0, Mode: 4}} }},
		{"log level", func(c *Config) { c.Logging.Level = "loud" }},
		{"log format", func(c *Config) { c.Logging.Format = "xml" }},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := Defaults()
			tc.mut(&cfg)
			err := cfg.Validate()
			require.Error(t, err)
			assert.True(t, errors.Is(err, errcode.InvalidArgument), "%v", err)
		})
	}
}

func TestDisabledSectionsSkipChecks(t *testing.T) {
	cfg := Defaults()
	cfg.USB = USBConfig{Function: 7}
	cfg.Acquire = AcquireConfig{}
	assert.NoError(t, cfg.Validate())
}

func TestSerialTransport(t *testing.T) {
	sc := SerialConfig{Port: 1, Baud: 9600, Parity: "even", StopBits: 2, RxSize: 64, MaxChunk: 16, RxSync: "poll"}
	got, err := sc.Transport()
	require.NoError(t, err)
	assert.Equal(t, uint32(9600), got.UART.BaudRate)
	assert.Equal(t, halcore.ParityEven, got.UART.Parity)
	assert.Equal(t, uint8(2), got.UART.StopBits)
	assert.Equal(t, 64, got.RxSize)
	assert.Equal(t, 16, got.MaxChunk)
	assert.Equal(t, serial.RxSyncPoll, got.RxSync)
	assert.Nil(t, got.RxBuf)

	_, err = SerialConfig{RxSync: "dma"}.Transport()
	assert.Error(t, err)
}

func TestOtherTransports(t *testing.T) {
	d := Defaults()
	assert.Equal(t, 100, d.USB.Transport().FlushTicks)
	assert.Equal(t, uint32(10000), d.Acquire.Transport().SampleRateHz)
	spi := SPIConfig{Bus: 1, Frequency: 1_000_000, Mode: 3, Fill: 0xFF}.Transport()
	assert.Equal(t, uint8(3), spi.Mode)
	assert.Equal(t, byte(0xFF), spi.Fill)
}

func TestBudgets(t *testing.T) {
	cfg := Defaults()
	assert.Equal(t, 512, cfg.SerialBudget())
	assert.Equal(t, 512, cfg.USBBudget())

	cfg.Serial = append(cfg.Serial, SerialConfig{Port: 2, Baud: 9600, RxSize: 1024})
	assert.Equal(t, 512+1024+serial.DefaultTxSize, cfg.SerialBudget())
	cfg.USB.Enabled = false
	assert.Equal(t, 0, cfg.USBBudget())
}

func writeFile(t *testing.T, name, body string) string {
	t.Helper()
	p := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(p, []byte(body), 0o600))
	return p
}

func TestLoadYAML(t *testing.T) {
	p := writeFile(t, "bench.yaml", `
serial:
  - port: 1
    device: /dev/ttyUSB0
    baud: 921600
    parity: none
    rx_size: 512
    tx_size: 512
    rx_sync: poll
usb:
  flush_ticks: 20
acquire:
  enabled: false
spi:
  - bus: 0
    frequency: 4000000
    mode: 0
logging:
  level: debug
  format: console
host:
  metrics_addr: ":9108"
`)
	cfg, err := Load(p)
	require.NoError(t, err)

	require.Len(t, cfg.Serial, 1)
	assert.Equal(t, 1, cfg.Serial[0].Port)
	assert.Equal(t, "/dev/ttyUSB0", cfg.Serial[0].Device)
	assert.Equal(t, uint32(921600), cfg.Serial[0].Baud)
	assert.Equal(t, "poll", cfg.Serial[0].RxSync)

	assert.True(t, cfg.USB.Enabled) // default kept
	assert.Equal(t, 20, cfg.USB.FlushTicks)
	assert.False(t, cfg.Acquire.Enabled)
	require.Len(t, cfg.SPI, 1)
	assert.Equal(t, uint32(4000000), cfg.SPI[0].Frequency)
	assert.Equal(t, "debug", cfg.Logging.Level)
	assert.Equal(t, ":9108", cfg.Host.MetricsAddr)
}

func TestLoadEnvOverride(t *testing.T) {
	t.Setenv("BENCHIO_USB_FLUSH_TICKS", "42")
	t.Setenv("BENCHIO_LOGGING_LEVEL", "warn")
	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, 42, cfg.USB.FlushTicks)
	assert.Equal(t, "warn", cfg.Logging.Level)
	assert.Len(t, cfg.Serial, 1)
}

func TestLoadErrors(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)

	p := writeFile(t, "bad.yaml", "usb:\n  function: 9\n")
	_, err = Load(p)
	require.Error(t, err)
	assert.True(t, errors.Is(err, errcode.InvalidArgument))
}
