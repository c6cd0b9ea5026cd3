// services/hal/usbcdc/handle.go
package usbcdc

import (
	"sync/atomic"

	"benchio/errcode"
	"benchio/services/hal/halcore"
	"benchio/x/ring"

	"go.uber.org/zap"
)

type Stats struct {
	RxBytes     uint64
	TxBytes     uint64
	Flushes     uint64
	Disconnects uint64
	Callbacks   uint64
	Stalls      uint64 // Task calls that left bytes in the FIFO for lack of RX room
}

// Handle is one live CDC function. Every method, Task included, runs in
// the foreground: the line-state callback is dispatched from hw.Poll
// inside Task, so the foreground is the only writer of both ring indices.
type Handle struct {
	fn    int
	hw    halcore.USBSerial
	rx    ring.Buffer
	tx    ring.Buffer
	owned int
	log   *zap.Logger

	flushTicks int
	flushCount int
	connected  bool

	live atomic.Bool

	cb        func(available int)
	threshold int
	armed     bool

	rxBytes, txBytes, flushes atomic.Uint64
	disconnects, callbacks    atomic.Uint64
	stalls                    atomic.Uint64
}

func (h *Handle) reset(fn int, hw halcore.USBSerial, rx, tx []byte, cfg Config, log *zap.Logger) error {
	if len(rx) > 0 && len(tx) > 0 && &rx[0] == &tx[0] {
		return errcode.New(errcode.InvalidArgument, "usbcdc.init", "rx and tx share a buffer")
	}
	if err := h.rx.Init(rx); err != nil {
		return err
	}
	if err := h.tx.Init(tx); err != nil {
		return err
	}
	h.fn = fn
	h.hw = hw
	h.log = log
	h.flushTicks = cfg.FlushTicks
	if h.flushTicks <= 0 {
		h.flushTicks = FlushTimeoutTicks
	}
	h.flushCount = 0
	h.connected = false
	h.cb, h.threshold, h.armed = nil, 0, false
	for _, c := range []*atomic.Uint64{&h.rxBytes, &h.txBytes, &h.flushes, &h.disconnects, &h.callbacks, &h.stalls} {
		c.Store(0)
	}
	return nil
}

func (h *Handle) clear() {
	h.rx.Reset()
	h.tx.Reset()
	h.flushCount = 0
	h.connected = false
	h.cb, h.armed = nil, false
}

func (h *Handle) Function() int { return h.fn }

func (h *Handle) check(op string, p []byte) error {
	if !h.live.Load() {
		return errcode.New(errcode.ResourceUnavailable, op, "function not initialised")
	}
	if len(p) == 0 {
		return errcode.New(errcode.InvalidArgument, op, "zero-length buffer")
	}
	return nil
}

// Task services the function: line events, FIFO to RX ring, TX ring to
// FIFO, and the flush timeout. It never blocks.
func (h *Handle) Task() {
	if !h.live.Load() {
		return
	}
	h.hw.Poll()
	if !h.live.Load() {
		return
	}
	h.pullRx()
	h.pushTx()
	h.tickFlush()
}

// pullRx moves FIFO bytes into the RX ring until either runs out. Bytes
// that do not fit stay in the FIFO and the host is held off by NAKs.
func (h *Handle) pullRx() {
	moved := 0
	for h.hw.Available() > 0 {
		span := h.rx.Reserve(h.hw.Available())
		if len(span) == 0 {
			h.stalls.Add(1)
			break
		}
		n := h.hw.Read(span)
		if n == 0 {
			break
		}
		h.rx.Commit(n)
		moved += n
	}
	if moved > 0 {
		h.rxBytes.Add(uint64(moved))
		h.notify()
	}
}

func (h *Handle) pushTx() {
	for {
		room := h.hw.WriteRoom()
		if room == 0 {
			return
		}
		span := h.tx.Span(room)
		if len(span) == 0 {
			return
		}
		n := h.hw.Write(span)
		if n == 0 {
			return
		}
		h.tx.Discard(n)
		h.txBytes.Add(uint64(n))
	}
}

// tickFlush counts Task calls during which the FIFO holds a partial
// packet and forces it out after flushTicks of them.
func (h *Handle) tickFlush() {
	if h.hw.Pending() == 0 {
		h.flushCount = 0
		return
	}
	h.flushCount++
	if h.flushCount >= h.flushTicks {
		h.hw.Flush()
		h.flushes.Add(1)
		h.flushCount = 0
	}
}

// onLineState runs from hw.Poll. A DTR falling edge means the host closed
// the port: everything buffered in either direction is dropped so a new
// session starts clean.
func (h *Handle) onLineState(dtr, rts bool) {
	was := h.connected
	h.connected = dtr
	if was && !dtr {
		h.rx.Reset()
		h.tx.Reset()
		h.hw.DiscardTx()
		h.flushCount = 0
		h.disconnects.Add(1)
		if h.cb != nil {
			h.armed = true
		}
		h.log.Info("host disconnected, buffers cleared")
	} else if !was && dtr {
		h.log.Info("host connected", zap.Bool("rts", rts))
	}
}

// Connected reports whether the host holds DTR.
func (h *Handle) Connected() bool { return h.connected }

func (h *Handle) LineCoding() halcore.LineCoding { return h.hw.LineCoding() }

// ---- RX ----

func (h *Handle) Read(p []byte) (int, error) {
	if err := h.check("usbcdc.read", p); err != nil {
		return 0, err
	}
	n := h.rx.ReadInto(p)
	if h.cb != nil && h.rx.Available() < h.threshold {
		h.armed = true
	}
	return n, nil
}

func (h *Handle) RxAvailable() int {
	if !h.live.Load() {
		return 0
	}
	return h.rx.Available()
}

func (h *Handle) RxReady() bool { return h.RxAvailable() > 0 }

// Poll is Task under the name the wired transport uses.
func (h *Handle) Poll() { h.Task() }

// SetRxCallback follows serial.Handle.SetRxCallback. The callback runs
// from Task.
func (h *Handle) SetRxCallback(cb func(available int), threshold int) error {
	const op = "usbcdc.set_rx_callback"
	if !h.live.Load() {
		return errcode.New(errcode.ResourceUnavailable, op, "function not initialised")
	}
	if cb == nil {
		h.cb, h.armed = nil, false
		return nil
	}
	if threshold < 1 || threshold > h.rx.Cap() {
		return errcode.New(errcode.InvalidArgument, op, "threshold outside 1..rx capacity")
	}
	h.cb, h.threshold, h.armed = cb, threshold, true
	h.notify()
	return nil
}

func (h *Handle) notify() {
	if h.cb == nil {
		return
	}
	avail := h.rx.Available()
	if avail < h.threshold {
		h.armed = true
		return
	}
	if h.armed {
		h.armed = false
		h.callbacks.Add(1)
		h.cb(avail)
	}
}

// ---- TX ----

// Write queues as much of p as fits; Task moves it to the host. A short
// count is not an error.
func (h *Handle) Write(p []byte) (int, error) {
	if err := h.check("usbcdc.write", p); err != nil {
		return 0, err
	}
	return h.tx.WriteFrom(p), nil
}

func (h *Handle) TxFreeSpace() int {
	if !h.live.Load() {
		return 0
	}
	return h.tx.Free()
}

// TxBusy reports whether bytes are still queued in the ring or the FIFO.
func (h *Handle) TxBusy() bool {
	if !h.live.Load() {
		return false
	}
	return !h.tx.IsEmpty() || h.hw.Pending() > 0
}

func (h *Handle) Stats() Stats {
	return Stats{
		RxBytes:     h.rxBytes.Load(),
		TxBytes:     h.txBytes.Load(),
		Flushes:     h.flushes.Load(),
		Disconnects: h.disconnects.Load(),
		Callbacks:   h.callbacks.Load(),
		Stalls:      h.stalls.Load(),
	}
}
