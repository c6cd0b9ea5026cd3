package bridge

import (
	"bytes"
	"errors"
	"testing"

	"benchio/errcode"
	"benchio/services/hal/platform"
	"benchio/services/hal/serial"
	"benchio/services/hal/usbcdc"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

// pipe is a bounded in-memory Stream.
type pipe struct {
	in    []byte
	out   []byte
	room  int
	rdErr error
}

func (p *pipe) Read(b []byte) (int, error) {
	if p.rdErr != nil {
		return 0, p.rdErr
	}
	n := copy(b, p.in)
	p.in = p.in[n:]
	return n, nil
}

func (p *pipe) Write(b []byte) (int, error) {
	n := mathMin(len(b), p.room-len(p.out))
	p.out = append(p.out, b[:n]...)
	return n, nil
}

func (p *pipe) RxAvailable() int { return len(p.in) }
func (p *pipe) TxFreeSpace() int { return p.room - len(p.out) }

func mathMin(a, b int) int {
	if a < b {
		return a
	}
	return b
}

func TestPumpMovesBothWays(t *testing.T) {
	a := &pipe{in: []byte("to b"), room: 100}
	b := &pipe{in: []byte("to a"), room: 100}
	l := New(a, b, zaptest.NewLogger(t))

	require.NoError(t, l.Pump())
	assert.Equal(t, "to b", string(b.out))
	assert.Equal(t, "to a", string(a.out))
	assert.Equal(t, Stats{AtoB: 4, BtoA: 4}, l.Stats())
}

func TestPumpRespectsDestinationRoom(t *testing.T) {
	src := bytes.Repeat([]byte{'x'}, 3*ChunkSize)
	a := &pipe{in: src, room: 0}
	b := &pipe{room: ChunkSize + 10}
	l := New(a, b, nil)

	require.NoError(t, l.Pump())
	assert.Len(t, b.out, ChunkSize+10)
	assert.Len(t, a.in, 2*ChunkSize-10) // the rest waits at the source

	b.out = nil
	require.NoError(t, l.Pump())
	assert.Len(t, a.in, ChunkSize-20)
	assert.Equal(t, uint64(0), l.Stats().Faults)
}

func TestPumpReportsReadError(t *testing.T) {
	boom := errors.New("boom")
	a := &pipe{in: []byte("x"), rdErr: boom, room: 10}
	b := &pipe{in: []byte("y"), room: 10}
	l := New(a, b, nil)

	assert.ErrorIs(t, l.Pump(), boom)
	assert.Equal(t, "y", string(a.out)) // other direction still ran
	assert.Equal(t, uint64(1), l.Stats().Faults)
}

func TestBridgeUSBToUART(t *testing.T) {
	log := zaptest.NewLogger(t)
	sb := platform.NewSimBoard()
	b := sb.Board()
	sb.UARTs[0].AutoComplete = true

	ser := serial.NewManager(b.UART, nil, log)
	usb := usbcdc.NewManager(b.USB, nil, log)
	uh, err := ser.Init(serial.UART0, serial.Config{})
	require.NoError(t, err)
	ch, err := usb.Init(usbcdc.CDC0, usbcdc.Config{})
	require.NoError(t, err)

	l := New(ch, uh, log)

	sb.USBs[0].HostSend([]byte("*IDN?\n"))
	usb.Task()
	require.NoError(t, l.Pump())
	assert.Equal(t, "*IDN?\n", string(sb.UARTs[0].Sent()))

	sb.UARTs[0].Inject([]byte("BENCH,1\n"))
	require.NoError(t, l.Pump())
	usb.Task()
	sb.USBs[0].Flush()
	assert.Equal(t, "BENCH,1\n", string(sb.USBs[0].HostTake()))

	// A closed end stops the flow without faults.
	require.NoError(t, ser.Deinit(serial.UART0))
	sb.USBs[0].HostSend([]byte("more"))
	usb.Task()
	require.NoError(t, l.Pump())
	assert.Equal(t, 4, ch.RxAvailable())
	_, err = uh.Write([]byte("x"))
	assert.Equal(t, errcode.ResourceUnavailable, errcode.Of(err))
}
