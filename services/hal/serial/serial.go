// services/hal/serial/serial.go
//
// Package serial is the wired serial transport: non-blocking reads and
// writes over a pair of circular buffers, RX fed by circular DMA and TX
// drained by DMA one contiguous run at a time.
package serial

import (
	"strconv"

	"benchio/errcode"
	"benchio/services/hal/halcore"
	"benchio/services/hal/registry"
	"benchio/x/mathx"

	"go.uber.org/zap"
)

const (
	UART0 = iota
	UART1
	UART2
	NumPorts
)

const (
	DefaultRxSize = 256
	DefaultTxSize = 256
	// DefaultBudget covers default-sized buffers on every port.
	DefaultBudget = NumPorts * (DefaultRxSize + DefaultTxSize)
)

// RxSync selects who moves the RX head forward from the DMA position.
type RxSync uint8

const (
	// RxSyncIdle syncs from interrupt context: the idle-line interrupt and
	// the half- and full-buffer progress interrupts.
	RxSyncIdle RxSync = iota
	// RxSyncPoll syncs only from foreground calls (Poll, Read, RxAvailable).
	RxSyncPoll
)

func (s RxSync) String() string {
	if s == RxSyncPoll {
		return "poll"
	}
	return "idle"
}

func ParseRxSync(s string) (RxSync, error) {
	switch s {
	case "", "idle":
		return RxSyncIdle, nil
	case "poll":
		return RxSyncPoll, nil
	}
	return 0, errcode.New(errcode.InvalidArgument, "serial.rxsync", "unknown mode "+strconv.Quote(s))
}

func PortName(port int) string { return "uart" + strconv.Itoa(port) }

// Config describes one port. RxBuf and TxBuf are owned by the caller and
// must outlive the handle; when nil, buffers of RxSize/TxSize bytes are
// drawn from the manager's budget.
type Config struct {
	UART halcore.UARTConfig

	RxBuf  []byte
	TxBuf  []byte
	RxSize int
	TxSize int

	// MaxChunk bounds a single DMA transfer. 0 selects half the TX buffer.
	MaxChunk int
	RxSync   RxSync
}

// Manager owns the per-port handle table.
type Manager struct {
	hw     halcore.UARTFactory
	tab    *registry.Table[Handle]
	budget *registry.Budget
	log    *zap.Logger
}

// NewManager returns a manager over hw. A nil budget gets DefaultBudget and
// a nil logger discards.
func NewManager(hw halcore.UARTFactory, budget *registry.Budget, log *zap.Logger) *Manager {
	if budget == nil {
		budget = registry.NewBudget(DefaultBudget)
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Manager{
		hw:     hw,
		tab:    registry.NewTable[Handle](NumPorts),
		budget: budget,
		log:    log.With(zap.String("component", "serial")),
	}
}

// Init brings up port and returns its handle. A failure leaves the slot
// free so the call can be retried.
func (m *Manager) Init(port int, cfg Config) (h *Handle, err error) {
	const op = "serial.init"
	if port < 0 || port >= NumPorts {
		return nil, errcode.New(errcode.InvalidArgument, op, "port out of range")
	}
	hw, ok := m.hw.ByID(port)
	if !ok {
		return nil, errcode.New(errcode.InvalidArgument, op, "no such port")
	}
	h, err = m.tab.Claim(port)
	if err != nil {
		return nil, err
	}
	owned := 0
	defer func() {
		if err != nil {
			m.budget.Give(owned)
			m.tab.Release(port)
			m.log.Warn("init failed", zap.String("port", PortName(port)), zap.Error(err))
		}
	}()

	rx, tx := cfg.RxBuf, cfg.TxBuf
	if rx == nil {
		if rx, err = m.budget.Alloc(sizeOr(cfg.RxSize, DefaultRxSize)); err != nil {
			return nil, err
		}
		owned += len(rx)
	}
	if tx == nil {
		if tx, err = m.budget.Alloc(sizeOr(cfg.TxSize, DefaultTxSize)); err != nil {
			return nil, err
		}
		owned += len(tx)
	}
	if err = h.reset(port, hw, rx, tx, cfg); err != nil {
		return nil, err
	}
	h.owned = owned

	if err = hw.Init(cfg.UART); err != nil {
		return nil, errcode.Wrap(errcode.HardwareFault, op, err)
	}
	hw.SetTxCompleteCallback(h.onTxComplete)
	if h.sync == RxSyncIdle {
		hw.SetIdleCallback(h.onRxEvent)
		hw.SetRxProgressCallback(h.onRxEvent)
	}
	if err = hw.Start(h.rx.Backing()); err != nil {
		hw.SetTxCompleteCallback(nil)
		hw.SetIdleCallback(nil)
		hw.SetRxProgressCallback(nil)
		_ = hw.Deinit()
		return nil, errcode.Wrap(errcode.HardwareFault, op, err)
	}
	h.live.Store(true)

	m.log.Info("port up",
		zap.String("port", PortName(port)),
		zap.Uint32("baud", cfg.UART.BaudRate),
		zap.Int("rx_size", h.rx.Size()),
		zap.Int("tx_size", h.tx.Size()),
		zap.Int("max_chunk", h.maxChunk),
		zap.Stringer("rx_sync", h.sync),
	)
	return h, nil
}

// Deinit shuts port down. Deinit of a port that is not live is a no-op.
func (m *Manager) Deinit(port int) error {
	if port < 0 || port >= NumPorts {
		return errcode.New(errcode.InvalidArgument, "serial.deinit", "port out of range")
	}
	h, ok := m.tab.Lookup(port)
	if !ok {
		return nil
	}
	// Interrupts off first so no callback can see the state torn down below.
	h.live.Store(false)
	h.hw.Stop()
	h.hw.SetTxCompleteCallback(nil)
	h.hw.SetIdleCallback(nil)
	h.hw.SetRxProgressCallback(nil)
	err := h.hw.Deinit()

	h.clear()
	m.budget.Give(h.owned)
	h.owned = 0
	m.tab.Release(port)

	m.log.Info("port down", zap.String("port", PortName(port)))
	return errcode.Wrap(errcode.HardwareFault, "serial.deinit", err)
}

// Handle returns the live handle for port.
func (m *Manager) Handle(port int) (*Handle, bool) { return m.tab.Lookup(port) }

// Poll syncs every poll-mode port. Call it from the foreground loop.
func (m *Manager) Poll() {
	m.tab.Each(func(_ int, h *Handle) {
		if h.sync == RxSyncPoll {
			h.Poll()
		}
	})
}

// Each visits every live handle.
func (m *Manager) Each(fn func(port int, h *Handle)) { m.tab.Each(fn) }

func sizeOr(n, def int) int {
	if n <= 0 {
		return def
	}
	return n
}

func chunkFor(maxChunk, txCap int) int {
	if maxChunk <= 0 {
		return mathx.Max(txCap/2, 1)
	}
	return mathx.Clamp(maxChunk, 1, txCap)
}
