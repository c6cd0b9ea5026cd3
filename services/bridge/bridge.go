// services/bridge/bridge.go
//
// Package bridge joins two byte-stream transports, e.g. the USB virtual
// serial port and a UART, so a host talks straight through to the
// instrument. Pump is called from the foreground loop; it never blocks and
// never drops bytes, because it only reads what the far side can queue.
package bridge

import (
	"sync/atomic"

	"benchio/x/mathx"

	"go.uber.org/zap"
)

// ChunkSize bounds one read/write step.
const ChunkSize = 64

// Stream is the non-blocking surface shared by serial and usbcdc handles.
type Stream interface {
	Read(p []byte) (int, error)
	Write(p []byte) (int, error)
	RxAvailable() int
	TxFreeSpace() int
}

type Stats struct {
	AtoB   uint64
	BtoA   uint64
	Faults uint64
}

type Link struct {
	a, b Stream
	buf  [ChunkSize]byte
	log  *zap.Logger

	atob, btoa atomic.Uint64
	faults     atomic.Uint64
}

func New(a, b Stream, log *zap.Logger) *Link {
	if log == nil {
		log = zap.NewNop()
	}
	return &Link{a: a, b: b, log: log.With(zap.String("component", "bridge"))}
}

// Pump moves whatever is ready in both directions. It returns the first
// transport error; the other direction is still serviced.
func (l *Link) Pump() error {
	n1, err1 := l.move(l.b, l.a)
	l.atob.Add(uint64(n1))
	n2, err2 := l.move(l.a, l.b)
	l.btoa.Add(uint64(n2))
	if err1 != nil {
		return err1
	}
	return err2
}

// move copies src to dst until either runs dry.
func (l *Link) move(dst, src Stream) (int, error) {
	total := 0
	for {
		n := mathx.Min(mathx.Min(src.RxAvailable(), dst.TxFreeSpace()), len(l.buf))
		if n == 0 {
			return total, nil
		}
		got, err := src.Read(l.buf[:n])
		if err != nil {
			l.faults.Add(1)
			return total, err
		}
		if got == 0 {
			return total, nil
		}
		put, err := dst.Write(l.buf[:got])
		total += put
		if err != nil || put < got {
			l.faults.Add(1)
			l.log.Warn("bridge short write", zap.Int("want", got), zap.Int("put", put), zap.Error(err))
			return total, err
		}
	}
}

func (l *Link) Stats() Stats {
	return Stats{AtoB: l.atob.Load(), BtoA: l.btoa.Load(), Faults: l.faults.Load()}
}
