//go:build !rp2040 && !rp2350

package main

import (
	"bytes"
	"context"
	"strings"
	"testing"
	"time"

	"benchio/services/hal/config"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

func newTestBench(t *testing.T, mut func(*config.Config)) (*bench, *console, *bytes.Buffer) {
	t.Helper()
	cfg := config.Defaults()
	if mut != nil {
		mut(&cfg)
	}
	require.NoError(t, cfg.Validate())
	b, err := openBench(&cfg, zaptest.NewLogger(t))
	require.NoError(t, err)
	t.Cleanup(b.close)

	var out bytes.Buffer
	c := b.console(func(fn func()) error { fn(); return nil })
	c.out = &out
	return b, c, &out
}

func TestConsoleSerialRoundTrip(t *testing.T) {
	b, c, out := newTestBench(t, nil)

	require.NoError(t, c.exec(`write uart0 "hello world"`))
	assert.Contains(t, out.String(), "queued 11/11 bytes")
	assert.Equal(t, "hello world", string(b.sim.UARTs[0].Sent()))

	out.Reset()
	require.NoError(t, c.exec("inject uart0 ping"))
	require.NoError(t, c.exec("read uart0"))
	assert.Contains(t, out.String(), `4 bytes: "ping"`)
}

func TestConsoleUSBNeedsTask(t *testing.T) {
	b, c, out := newTestBench(t, nil)

	require.NoError(t, c.exec("inject cdc0 abc"))
	require.NoError(t, c.exec("read cdc0"))
	assert.Contains(t, out.String(), `0 bytes: ""`)

	out.Reset()
	b.loop.Step()
	require.NoError(t, c.exec("read cdc0 2"))
	assert.Contains(t, out.String(), `2 bytes: "ab"`)
}

func TestConsoleSample(t *testing.T) {
	b, c, out := newTestBench(t, func(cfg *config.Config) { cfg.Acquire.Samples = 4 })

	require.NoError(t, c.exec("sample"))
	assert.Contains(t, out.String(), "0 samples")

	out.Reset()
	b.loop.Step() // simulated fill
	require.NoError(t, c.exec("sample 8"))
	assert.Contains(t, out.String(), "4 samples: [0 1 2 3]")

	// Drained, so the console re-armed for the next fill.
	out.Reset()
	b.loop.Step()
	require.NoError(t, c.exec("sample 2"))
	assert.Contains(t, out.String(), "2 samples: [4 5]")
}

func TestConsoleSPI(t *testing.T) {
	b, c, out := newTestBench(t, func(cfg *config.Config) {
		cfg.SPI = []config.SPIConfig{{Bus: 1, Frequency: 1_000_000}}
	})
	b.sim.SPIs[1].Queue([]byte{0xde, 0xad})

	require.NoError(t, c.exec("spi spi1 0102"))
	assert.Contains(t, out.String(), "rx dead")
	assert.Equal(t, []byte{1, 2}, b.sim.SPIs[1].Written())

	assert.ErrorContains(t, c.exec("spi 0 01"), "spi0 is not open")
	assert.ErrorContains(t, c.exec("spi 1 zz"), "bad hex")
}

func TestConsoleErrors(t *testing.T) {
	_, c, out := newTestBench(t, nil)

	assert.ErrorIs(t, c.exec("quit"), errQuit)
	assert.NoError(t, c.exec("   "))
	assert.Error(t, c.exec(`write uart0 "open quote`))
	assert.ErrorContains(t, c.exec("write uart2 x"), "uart2 is not open")
	assert.ErrorContains(t, c.exec("read tty0"), "unknown target")
	assert.ErrorContains(t, c.exec("read uart0 -1"), "bad max")
	assert.ErrorContains(t, c.exec("frobnicate"), "unknown command")

	require.NoError(t, c.exec("help"))
	assert.Contains(t, out.String(), "commands:")
}

func TestConsoleStatsAndPorts(t *testing.T) {
	_, c, out := newTestBench(t, nil)
	require.NoError(t, c.exec("write uart0 abc"))
	require.NoError(t, c.exec("stats"))
	assert.Contains(t, out.String(), "uart0  {RxBytes:0 TxBytes:3")
	assert.Contains(t, out.String(), "cdc0  {")
	assert.Contains(t, out.String(), "adc0  {")

	out.Reset()
	require.NoError(t, c.exec("ports"))
	assert.Contains(t, out.String(), "uart0  rx=0")
	assert.Contains(t, out.String(), "adc0  rate=10000Hz running=true")
}

func TestRunUntilQuit(t *testing.T) {
	cfg := config.Defaults()
	var out bytes.Buffer
	in := strings.NewReader("write uart0 hi\nstats\nquit\nwrite uart0 never\n")

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, run(ctx, &cfg, zaptest.NewLogger(t), in, &out))
	assert.Contains(t, out.String(), "queued 2/2 bytes")
	assert.Contains(t, out.String(), "TxBytes:2")
	assert.NotContains(t, out.String(), "never")
}
