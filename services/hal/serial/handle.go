// services/hal/serial/handle.go
package serial

import (
	"sync/atomic"

	"benchio/errcode"
	"benchio/services/hal/halcore"
	"benchio/x/mathx"
	"benchio/x/ring"
)

// Stats is a snapshot of a handle's counters.
type Stats struct {
	RxBytes   uint64
	TxBytes   uint64
	Transfers uint64
	Overruns  uint64
	Callbacks uint64
	Faults    uint64
}

// Handle is one live port.
//
// RX: the DMA engine writes the backing array; head follows its write
// position and is moved only from interrupt context by onRxEvent
// (RxSyncIdle) or only by foreground syncRx (RxSyncPoll). tail is moved
// only by Read. The receiver's byte count, not its position, measures
// each advance, so a writer that laps the ring between syncs is always
// seen as an overrun.
//
// TX: Write moves head; onTxComplete moves tail. txBusy is the
// Idle/Transmitting state and is only ever claimed by CAS.
type Handle struct {
	port     int
	hw       halcore.UART
	rx, tx   ring.Buffer
	maxChunk int
	sync     RxSync
	owned    int

	live      atomic.Bool
	txBusy    atomic.Bool
	lastCount uint64 // producer-side copy of the receive count
	lapped    atomic.Bool

	cb        atomic.Pointer[func(available int)]
	threshold atomic.Int32
	armed     atomic.Bool

	rxBytes, txBytes, transfers atomic.Uint64
	overruns, callbacks, faults atomic.Uint64
}

func (h *Handle) reset(port int, hw halcore.UART, rx, tx []byte, cfg Config) error {
	if len(rx) > 0 && len(tx) > 0 && &rx[0] == &tx[0] {
		return errcode.New(errcode.InvalidArgument, "serial.init", "rx and tx share a buffer")
	}
	if err := h.rx.Init(rx); err != nil {
		return err
	}
	if err := h.tx.Init(tx); err != nil {
		return err
	}
	h.port = port
	h.hw = hw
	h.maxChunk = chunkFor(cfg.MaxChunk, h.tx.Cap())
	h.sync = cfg.RxSync
	h.lastCount = 0
	h.txBusy.Store(false)
	h.lapped.Store(false)
	h.cb.Store(nil)
	h.threshold.Store(0)
	h.armed.Store(false)
	for _, c := range []*atomic.Uint64{&h.rxBytes, &h.txBytes, &h.transfers, &h.overruns, &h.callbacks, &h.faults} {
		c.Store(0)
	}
	return nil
}

func (h *Handle) clear() {
	h.rx.Reset()
	h.tx.Reset()
	h.txBusy.Store(false)
	h.cb.Store(nil)
	h.armed.Store(false)
}

func (h *Handle) Port() int { return h.port }

func (h *Handle) check(op string, p []byte) error {
	if !h.live.Load() {
		return errcode.New(errcode.ResourceUnavailable, op, "port not initialised")
	}
	if len(p) == 0 {
		return errcode.New(errcode.InvalidArgument, op, "zero-length buffer")
	}
	return nil
}

// ---- RX ----

// Read copies up to len(p) received bytes into p. It never blocks.
func (h *Handle) Read(p []byte) (int, error) {
	if err := h.check("serial.read", p); err != nil {
		return 0, err
	}
	if h.sync == RxSyncPoll {
		h.syncRx()
	}
	if h.lapped.Swap(false) {
		// The DMA engine overtook the reader; what is buffered is no
		// longer in order, so start again from the current position.
		h.rx.Discard(h.rx.Available())
	}
	n := h.rx.ReadInto(p)
	h.rearm()
	return n, nil
}

// RxAvailable reports received bytes waiting to be read.
func (h *Handle) RxAvailable() int {
	if !h.live.Load() {
		return 0
	}
	if h.sync == RxSyncPoll {
		h.syncRx()
	}
	return h.rx.Available()
}

func (h *Handle) RxReady() bool { return h.RxAvailable() > 0 }

// Queued reports bytes in the receive ring without syncing the head, so
// it may be called from any goroutine.
func (h *Handle) Queued() int { return h.rx.Available() }

// Poll syncs the RX head in RxSyncPoll mode and is a no-op otherwise.
func (h *Handle) Poll() {
	if h.live.Load() && h.sync == RxSyncPoll {
		h.syncRx()
	}
}

// onRxEvent runs in interrupt context on idle-line and on the half- and
// full-buffer marks, so the head never trails DMA by more than half the
// ring even when the line never goes idle.
func (h *Handle) onRxEvent() {
	if h.live.Load() {
		h.syncRx()
	}
}

// syncRx is the only writer of the RX head.
func (h *Handle) syncRx() {
	count := h.hw.RxCount()
	adv := count - h.lastCount
	if adv == 0 {
		return
	}
	h.lastCount = count
	size := uint64(h.rx.Size())
	if h.rx.SetHeadN(int(count%size), int(mathx.Min(adv, size))) {
		h.overruns.Add(1)
		h.lapped.Store(true)
	}
	h.rxBytes.Add(adv)
	h.notify()
}

// SetRxCallback registers cb to run once RxAvailable reaches threshold.
// If that already holds, cb runs before SetRxCallback returns. After that
// it fires on each rise from below threshold to at-or-above it. cb runs
// in interrupt context in RxSyncIdle mode. A nil cb unregisters.
func (h *Handle) SetRxCallback(cb func(available int), threshold int) error {
	const op = "serial.set_rx_callback"
	if !h.live.Load() {
		return errcode.New(errcode.ResourceUnavailable, op, "port not initialised")
	}
	if cb == nil {
		h.cb.Store(nil)
		h.armed.Store(false)
		return nil
	}
	if threshold < 1 || threshold > h.rx.Cap() {
		return errcode.New(errcode.InvalidArgument, op, "threshold outside 1..rx capacity")
	}
	h.armed.Store(false)
	h.threshold.Store(int32(threshold))
	h.cb.Store(&cb)
	h.armed.Store(true)
	if h.sync == RxSyncPoll {
		h.syncRx()
	}
	h.notify()
	return nil
}

// notify fires the callback on an armed rising edge.
func (h *Handle) notify() {
	cb := h.cb.Load()
	if cb == nil {
		return
	}
	avail := h.rx.Available()
	if avail < int(h.threshold.Load()) {
		h.armed.Store(true)
		return
	}
	if h.armed.CompareAndSwap(true, false) {
		h.callbacks.Add(1)
		(*cb)(avail)
	}
}

// rearm is the consumer half of edge detection: once a read takes the
// level back under threshold the next rise fires again.
func (h *Handle) rearm() {
	if h.cb.Load() != nil && h.rx.Available() < int(h.threshold.Load()) {
		h.armed.Store(true)
	}
}

// ---- TX ----

// Write queues as much of p as fits and starts a transfer if the line is
// idle. It never blocks; a short count means the TX buffer is full. Write
// is not an io.Writer: a short count is not an error.
func (h *Handle) Write(p []byte) (int, error) {
	if err := h.check("serial.write", p); err != nil {
		return 0, err
	}
	n := h.tx.WriteFrom(p)
	if err := h.kick(); err != nil {
		return n, errcode.Wrap(errcode.HardwareFault, "serial.write", err)
	}
	return n, nil
}

func (h *Handle) TxFreeSpace() int {
	if !h.live.Load() {
		return 0
	}
	return h.tx.Free()
}

// TxBusy reports whether a transfer is in progress. If restarting the
// next run from the completion interrupt fails, the fault is counted in
// Stats and TxBusy goes false with bytes still queued; the next Write
// retries them.
func (h *Handle) TxBusy() bool { return h.txBusy.Load() }

// kick starts the next contiguous run if the line is idle. Both Write and
// onTxComplete call it after changing the buffer, and it re-checks after
// losing or releasing the claim, so data queued during a completion is
// never left stranded.
func (h *Handle) kick() error {
	for {
		if h.tx.IsEmpty() {
			return nil
		}
		if !h.txBusy.CompareAndSwap(false, true) {
			return nil
		}
		span := h.tx.Span(h.maxChunk)
		if len(span) == 0 {
			h.txBusy.Store(false)
			continue
		}
		if err := h.hw.Transmit(span); err != nil {
			h.faults.Add(1)
			h.txBusy.Store(false)
			return err
		}
		h.transfers.Add(1)
		return nil
	}
}

// onTxComplete runs in interrupt context.
func (h *Handle) onTxComplete(n int) {
	if !h.live.Load() {
		return
	}
	h.txBytes.Add(uint64(h.tx.Discard(n)))
	h.txBusy.Store(false)
	// A failed restart is already counted in faults.
	_ = h.kick()
}

func (h *Handle) Stats() Stats {
	return Stats{
		RxBytes:   h.rxBytes.Load(),
		TxBytes:   h.txBytes.Load(),
		Transfers: h.transfers.Load(),
		Overruns:  h.overruns.Load(),
		Callbacks: h.callbacks.Load(),
		Faults:    h.faults.Load(),
	}
}
