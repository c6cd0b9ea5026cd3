package usbcdc

import (
	"bytes"
	"errors"
	"testing"

	"benchio/errcode"
	"benchio/services/hal/halcore"
	"benchio/services/hal/platform"
	"benchio/services/hal/registry"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

func setup(t *testing.T, cfg Config) (*platform.SimUSB, *Manager, *Handle) {
	t.Helper()
	sb := platform.NewSimBoard()
	m := NewManager(sb.Board().USB, nil, zaptest.NewLogger(t))
	h, err := m.Init(CDC0, cfg)
	require.NoError(t, err)
	return sb.USBs[CDC0], m, h
}

func TestDoubleInitIsBusyUntilDeinit(t *testing.T) {
	_, m, h := setup(t, Config{})
	_, err := m.Init(CDC0, Config{})
	assert.True(t, errors.Is(err, errcode.ResourceBusy))

	require.NoError(t, m.Deinit(CDC0))
	assert.NoError(t, m.Deinit(CDC0))

	h2, err := m.Init(CDC0, Config{})
	require.NoError(t, err)
	assert.Same(t, h, h2)
	_, err = h2.Write([]byte("x"))
	assert.NoError(t, err)
}

func TestInitFailures(t *testing.T) {
	sb := platform.NewSimBoard()
	budget := registry.NewBudget(300)
	m := NewManager(sb.Board().USB, budget, zaptest.NewLogger(t))

	_, err := m.Init(NumFunctions, Config{})
	assert.Equal(t, errcode.InvalidArgument, errcode.Of(err))

	_, err = m.Init(CDC0, Config{})
	assert.Equal(t, errcode.OutOfMemory, errcode.Of(err))
	assert.Equal(t, 0, budget.Used())

	sb.USBs[CDC1].InitErr = errors.New("no vbus")
	_, err = m.Init(CDC1, Config{RxSize: 64, TxSize: 64})
	assert.Equal(t, errcode.HardwareFault, errcode.Of(err))
	assert.Equal(t, 0, budget.Used())
	_, err = m.Init(CDC1, Config{RxSize: 64, TxSize: 64})
	assert.NoError(t, err)
	assert.Equal(t, 128, budget.Used())
}

func TestTaskPullsHostBytesWithBackpressure(t *testing.T) {
	usb, _, h := setup(t, Config{RxSize: 8})

	usb.HostSend([]byte("0123456789"))
	h.Task()
	assert.Equal(t, 7, h.RxAvailable())
	assert.Equal(t, 3, usb.Available(), "left in the FIFO, not dropped")
	assert.Equal(t, uint64(1), h.Stats().Stalls)

	buf := make([]byte, 16)
	n, err := h.Read(buf)
	require.NoError(t, err)
	assert.Equal(t, "0123456", string(buf[:n]))

	h.Task()
	n, _ = h.Read(buf)
	assert.Equal(t, "789", string(buf[:n]))
	assert.Equal(t, uint64(10), h.Stats().RxBytes)
}

func TestFlushAfterTimeoutTicks(t *testing.T) {
	usb, _, h := setup(t, Config{})

	n, err := h.Write([]byte("hello"))
	require.NoError(t, err)
	assert.Equal(t, 5, n)

	for i := 1; i < FlushTimeoutTicks; i++ {
		h.Task()
	}
	assert.Equal(t, 0, usb.Flushes)
	assert.Empty(t, usb.HostTake())
	assert.True(t, h.TxBusy(), "partial packet still in the FIFO")

	h.Task()
	assert.Equal(t, 1, usb.Flushes)
	assert.Equal(t, "hello", string(usb.HostTake()))
	assert.False(t, h.TxBusy())
	assert.Equal(t, uint64(1), h.Stats().Flushes)
}

func TestFullPacketsNeedNoFlush(t *testing.T) {
	usb, _, h := setup(t, Config{FlushTicks: 3})
	data := bytes.Repeat([]byte{'z'}, platform.SimUSBPacket)
	_, _ = h.Write(data)
	for i := 0; i < 5; i++ {
		h.Task()
	}
	assert.Equal(t, 0, usb.Flushes)
	assert.Equal(t, data, usb.HostTake())
}

func TestFlushCounterResetsWhenFIFODrains(t *testing.T) {
	usb, _, h := setup(t, Config{FlushTicks: 3})
	_, _ = h.Write([]byte("ab"))
	h.Task()
	h.Task()
	// Topping up to a full packet drains the FIFO before the timeout.
	_, _ = h.Write(bytes.Repeat([]byte{'c'}, platform.SimUSBPacket-2))
	h.Task()
	assert.Equal(t, 0, usb.Flushes)
	_, _ = h.Write([]byte("d"))
	h.Task()
	h.Task()
	assert.Equal(t, 0, usb.Flushes)
	h.Task()
	assert.Equal(t, 1, usb.Flushes)
}

func TestDTRFallClearsBothDirections(t *testing.T) {
	usb, _, h := setup(t, Config{})

	usb.SetControlLineState(halcore.ControlLineDTR | halcore.ControlLineRTS)
	h.Task()
	require.True(t, h.Connected())

	usb.HostSend([]byte("abc"))
	_, _ = h.Write([]byte("in the fifo"))
	h.Task()
	_, _ = h.Write([]byte("still queued"))
	require.Equal(t, 3, h.RxAvailable())
	require.True(t, h.TxBusy())

	usb.SetControlLineState(0)
	h.Task()

	assert.False(t, h.Connected())
	assert.Equal(t, 0, h.RxAvailable())
	assert.False(t, h.TxBusy())
	assert.Equal(t, 1, usb.Discards)
	assert.Empty(t, usb.HostTake())
	assert.Equal(t, uint64(1), h.Stats().Disconnects)

	// A new session starts clean and works.
	usb.SetControlLineState(halcore.ControlLineDTR)
	_, _ = h.Write(bytes.Repeat([]byte{'n'}, platform.SimUSBPacket))
	h.Task()
	assert.Len(t, usb.HostTake(), platform.SimUSBPacket)
}

func TestDTRLowWithoutSessionKeepsData(t *testing.T) {
	usb, _, h := setup(t, Config{})
	usb.HostSend([]byte("early"))
	usb.SetControlLineState(0)
	h.Task()
	assert.Equal(t, 5, h.RxAvailable())
	assert.Equal(t, uint64(0), h.Stats().Disconnects)
}

func TestThresholdCallback(t *testing.T) {
	usb, _, h := setup(t, Config{})
	var fired []int
	cb := func(n int) { fired = append(fired, n) }

	usb.HostSend([]byte("12345"))
	h.Task()
	require.NoError(t, h.SetRxCallback(cb, 4))
	assert.Equal(t, []int{5}, fired)

	usb.HostSend([]byte("6"))
	h.Task()
	assert.Equal(t, []int{5}, fired)

	_, _ = h.Read(make([]byte, 6))
	usb.HostSend([]byte("ab"))
	h.Task()
	usb.HostSend([]byte("cd"))
	h.Task()
	assert.Equal(t, []int{5, 4}, fired)

	assert.Equal(t, errcode.InvalidArgument, errcode.Of(h.SetRxCallback(cb, 0)))
}

func TestLineCodingAndManagerTask(t *testing.T) {
	usb, m, h := setup(t, Config{})
	require.True(t, usb.SetLineCoding([]byte{0x00, 0x10, 0x0E, 0x00, 0, 0, 8}))
	assert.Equal(t, uint32(921600), h.LineCoding().BaudRate)

	usb.HostSend([]byte("x"))
	m.Task()
	assert.True(t, h.RxReady())
}

func TestZeroLengthAndUseAfterDeinit(t *testing.T) {
	usb, m, h := setup(t, Config{})
	_, err := h.Write(nil)
	assert.Equal(t, errcode.InvalidArgument, errcode.Of(err))
	_, err = h.Read(nil)
	assert.Equal(t, errcode.InvalidArgument, errcode.Of(err))

	_, _ = h.Write([]byte("bye"))
	require.NoError(t, m.Deinit(CDC0))
	_, err = h.Write([]byte("x"))
	assert.Equal(t, errcode.ResourceUnavailable, errcode.Of(err))
	assert.False(t, h.TxBusy())
	assert.Equal(t, 0, h.TxFreeSpace())

	// Task after deinit must not touch the hardware.
	usb.HostSend([]byte("late"))
	h.Task()
	assert.Equal(t, 4, usb.Available())
}
