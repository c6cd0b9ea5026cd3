// Package ring provides the fixed-capacity byte ring shared by every stream
// transport. It never allocates: the backing array belongs to the caller.
package ring

import (
	"sync/atomic"

	"benchio/errcode"
)

// Buffer is a single-producer, single-consumer byte ring.
//
// head is written only by the producer (Put, WriteFrom, Reserve/Commit,
// SetHead) and tail only by the consumer (Get, ReadInto, Span/Discard).
// Each side only loads the other's index, so no lock is needed between an
// interrupt handler and the foreground. One slot is kept free to tell full
// from empty, so a ring over n bytes holds at most n-1.
//
// Reset writes both indices and may only be called while neither side is
// running.
type Buffer struct {
	buf  []byte
	size uint32
	head atomic.Uint32 // producer
	tail atomic.Uint32 // consumer
}

// New wraps backing in a ring. It panics if backing is shorter than 2 bytes.
func New(backing []byte) *Buffer {
	b := &Buffer{}
	if err := b.Init(backing); err != nil {
		panic("ring: backing must hold at least 2 bytes")
	}
	return b
}

// Init (re)binds the ring to backing and empties it.
func (b *Buffer) Init(backing []byte) error {
	if len(backing) < 2 || len(backing) > 1<<30 {
		return errcode.New(errcode.InvalidArgument, "ring.init", "backing must hold 2..2^30 bytes")
	}
	b.buf = backing
	b.size = uint32(len(backing))
	b.head.Store(0)
	b.tail.Store(0)
	return nil
}

// Backing returns the caller-supplied array, e.g. to hand to DMA.
func (b *Buffer) Backing() []byte { return b.buf }

// Size is the length of the backing array.
func (b *Buffer) Size() int { return int(b.size) }

// Cap is the usable capacity, Size()-1.
func (b *Buffer) Cap() int {
	if b.size == 0 {
		return 0
	}
	return int(b.size) - 1
}

func (b *Buffer) used(head, tail uint32) uint32 {
	if head >= tail {
		return head - tail
	}
	return b.size - tail + head
}

func (b *Buffer) next(i uint32) uint32 {
	i++
	if i == b.size {
		return 0
	}
	return i
}

// Available reports bytes ready to read.
func (b *Buffer) Available() int {
	if b.size == 0 {
		return 0
	}
	return int(b.used(b.head.Load(), b.tail.Load()))
}

// Free reports bytes that can still be written.
func (b *Buffer) Free() int { return b.Cap() - b.Available() }

func (b *Buffer) IsEmpty() bool { return b.head.Load() == b.tail.Load() }

func (b *Buffer) IsFull() bool {
	if b.size == 0 {
		return true
	}
	return b.next(b.head.Load()) == b.tail.Load()
}

// Reset discards all content.
func (b *Buffer) Reset() {
	b.head.Store(0)
	b.tail.Store(0)
}

// ---- Producer side ----

// Put stores one byte; false if the ring is full.
func (b *Buffer) Put(v byte) bool {
	if b.size == 0 {
		return false
	}
	h := b.head.Load()
	n := b.next(h)
	if n == b.tail.Load() {
		return false
	}
	b.buf[h] = v
	b.head.Store(n) // publish after the data
	return true
}

// WriteFrom copies as much of p as fits and returns the count. It never
// blocks and never fails part-way: the excess is simply not taken.
func (b *Buffer) WriteFrom(p []byte) int {
	n := 0
	for n < len(p) {
		span := b.Reserve(len(p) - n)
		if len(span) == 0 {
			break
		}
		k := copy(span, p[n:])
		b.Commit(k)
		n += k
	}
	return n
}

// Reserve returns the longest contiguous writable run at head, at most max
// bytes. Nothing is published until Commit.
func (b *Buffer) Reserve(max int) []byte {
	if b.size == 0 || max <= 0 {
		return nil
	}
	h := b.head.Load()
	t := b.tail.Load()
	var end uint32
	switch {
	case h < t:
		end = t - 1
	case t == 0:
		end = b.size - 1
	default:
		end = b.size
	}
	n := end - h
	if uint32(max) < n {
		n = uint32(max)
	}
	return b.buf[h : h+n]
}

// Commit publishes n bytes previously filled through Reserve.
func (b *Buffer) Commit(n int) int {
	if n <= 0 || b.size == 0 {
		return 0
	}
	if free := b.Free(); n > free {
		n = free
	}
	h := b.head.Load()
	b.head.Store((h + uint32(n)) % b.size)
	return n
}

// SetHead moves head to a hardware write position (circular DMA). It
// reports true when the advance exceeded the free space, i.e. the writer
// lapped the reader and older bytes were overwritten.
//
// The advance is measured modulo Size, so a writer that moved a whole
// number of laps since the last call is indistinguishable from one that
// did not move, and a lap plus a few bytes looks like a few bytes. Callers
// whose writer can get that far ahead must use SetHeadN.
func (b *Buffer) SetHead(pos int) (overrun bool) {
	if b.size == 0 || pos < 0 || pos >= int(b.size) {
		return false
	}
	adv := (uint32(pos) + b.size - b.head.Load()) % b.size
	return b.SetHeadN(pos, int(adv))
}

// SetHeadN moves head to pos after the writer produced n bytes, n being
// the true count (it may exceed Size). It reports true when n exceeded
// the free space.
func (b *Buffer) SetHeadN(pos, n int) (overrun bool) {
	if b.size == 0 || pos < 0 || pos >= int(b.size) || n < 0 {
		return false
	}
	overrun = n > b.Free()
	b.head.Store(uint32(pos))
	return overrun
}

// ---- Consumer side ----

// Get removes one byte; (0, false) if the ring is empty.
func (b *Buffer) Get() (byte, bool) {
	t := b.tail.Load()
	if t == b.head.Load() {
		return 0, false
	}
	v := b.buf[t]
	b.tail.Store(b.next(t))
	return v, true
}

// ReadInto copies up to len(p) available bytes out and returns the count.
func (b *Buffer) ReadInto(p []byte) int {
	n := 0
	for n < len(p) {
		span := b.Span(len(p) - n)
		if len(span) == 0 {
			break
		}
		k := copy(p[n:], span)
		b.Discard(k)
		n += k
	}
	return n
}

// Span returns the longest contiguous readable run at tail, at most max
// bytes, without consuming it.
func (b *Buffer) Span(max int) []byte {
	if b.size == 0 || max <= 0 {
		return nil
	}
	t := b.tail.Load()
	h := b.head.Load()
	end := h
	if h < t {
		end = b.size
	}
	n := end - t
	if uint32(max) < n {
		n = uint32(max)
	}
	return b.buf[t : t+n]
}

// Discard advances tail by up to n bytes and returns how many were dropped.
func (b *Buffer) Discard(n int) int {
	if n <= 0 || b.size == 0 {
		return 0
	}
	if avail := b.Available(); n > avail {
		n = avail
	}
	t := b.tail.Load()
	b.tail.Store((t + uint32(n)) % b.size)
	return n
}

// ---- Ownership views ----

// Producer exposes only the operations that move head.
type Producer struct{ b *Buffer }

// Consumer exposes only the operations that move tail.
type Consumer struct{ b *Buffer }

func (b *Buffer) Producer() Producer { return Producer{b} }
func (b *Buffer) Consumer() Consumer { return Consumer{b} }

func (p Producer) Put(v byte) bool        { return p.b.Put(v) }
func (p Producer) WriteFrom(s []byte) int { return p.b.WriteFrom(s) }
func (p Producer) Reserve(max int) []byte { return p.b.Reserve(max) }
func (p Producer) Commit(n int) int       { return p.b.Commit(n) }
func (p Producer) SetHead(pos int) bool   { return p.b.SetHead(pos) }
func (p Producer) Free() int              { return p.b.Free() }
func (p Producer) IsFull() bool           { return p.b.IsFull() }
func (c Consumer) Get() (byte, bool)      { return c.b.Get() }
func (c Consumer) ReadInto(d []byte) int  { return c.b.ReadInto(d) }
func (c Consumer) Span(max int) []byte    { return c.b.Span(max) }
func (c Consumer) Discard(n int) int      { return c.b.Discard(n) }
func (c Consumer) Available() int         { return c.b.Available() }
func (c Consumer) IsEmpty() bool          { return c.b.IsEmpty() }
