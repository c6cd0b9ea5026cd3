// services/hal/diag/sink.go
package diag

import (
	"encoding/binary"
	"sync"
	"sync/atomic"

	"benchio/x/ring"
)

// RingSink is a zapcore.WriteSyncer that keeps encoded entries in a byte
// ring until the foreground drains them to a transport. An entry that does
// not fit is dropped whole and counted; logging never fails and never
// blocks.
//
// Each entry is stored behind a 2-byte length so Drain can move whole
// entries only.
type RingSink struct {
	mu      sync.Mutex // serialises writers; Drain is the only reader
	buf     ring.Buffer
	dropped atomic.Uint64
	pending []byte // entry partly handed to the transport
}

func NewRingSink(backing []byte) *RingSink {
	s := &RingSink{}
	if err := s.buf.Init(backing); err != nil {
		panic("diag: ring sink backing too small")
	}
	return s
}

func (s *RingSink) Write(p []byte) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(p) > 0xFFFF || s.buf.Free() < len(p)+2 {
		s.dropped.Add(1)
		return len(p), nil
	}
	var hdr [2]byte
	binary.LittleEndian.PutUint16(hdr[:], uint16(len(p)))
	s.buf.WriteFrom(hdr[:])
	s.buf.WriteFrom(p)
	return len(p), nil
}

func (s *RingSink) Sync() error { return nil }

// Dropped counts entries lost to overflow.
func (s *RingSink) Dropped() uint64 { return s.dropped.Load() }

// Buffered reports bytes still in the ring, headers included. It may be
// called from any goroutine.
func (s *RingSink) Buffered() int { return s.buf.Available() }

// ByteWriter is the non-blocking write side of a stream transport.
type ByteWriter interface {
	Write(p []byte) (int, error)
}

// Drain hands buffered entries to w until w accepts a short write or the
// ring is empty. Call it from the foreground only. A transport error drops
// the rest of the current entry.
func (s *RingSink) Drain(w ByteWriter) int {
	total := 0
	for {
		if len(s.pending) == 0 {
			var hdr [2]byte
			if s.buf.Available() < 2 || s.buf.ReadInto(hdr[:]) != 2 {
				return total
			}
			n := int(binary.LittleEndian.Uint16(hdr[:]))
			entry := make([]byte, n)
			s.buf.ReadInto(entry)
			s.pending = entry
		}
		n, err := w.Write(s.pending)
		total += n
		if err != nil {
			s.pending = nil
			s.dropped.Add(1)
			return total
		}
		s.pending = s.pending[n:]
		if len(s.pending) > 0 {
			return total
		}
	}
}
