// services/hal/usbcdc/usbcdc.go
//
// Package usbcdc is the USB virtual-serial transport. Unlike the wired
// port, nothing moves bytes in the background: Task shuttles them between
// the endpoint FIFOs and the circular buffers and must run at least once
// per millisecond.
package usbcdc

import (
	"strconv"

	"benchio/errcode"
	"benchio/services/hal/halcore"
	"benchio/services/hal/registry"

	"go.uber.org/zap"
)

const (
	CDC0 = iota
	CDC1
	NumFunctions
)

const (
	DefaultRxSize = 256
	DefaultTxSize = 256
	DefaultBudget = NumFunctions * (DefaultRxSize + DefaultTxSize)

	// FlushTimeoutTicks is how many consecutive Task calls a partial
	// packet may sit in the endpoint FIFO before it is flushed.
	FlushTimeoutTicks = 100
)

func Name(fn int) string { return "cdc" + strconv.Itoa(fn) }

// Config describes one CDC function. Buffer ownership follows
// serial.Config.
type Config struct {
	RxBuf  []byte
	TxBuf  []byte
	RxSize int
	TxSize int

	// FlushTicks overrides FlushTimeoutTicks when positive.
	FlushTicks int
}

type Manager struct {
	hw     halcore.USBFactory
	tab    *registry.Table[Handle]
	budget *registry.Budget
	log    *zap.Logger
}

func NewManager(hw halcore.USBFactory, budget *registry.Budget, log *zap.Logger) *Manager {
	if budget == nil {
		budget = registry.NewBudget(DefaultBudget)
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Manager{
		hw:     hw,
		tab:    registry.NewTable[Handle](NumFunctions),
		budget: budget,
		log:    log.With(zap.String("component", "usbcdc")),
	}
}

func (m *Manager) Init(fn int, cfg Config) (h *Handle, err error) {
	const op = "usbcdc.init"
	if fn < 0 || fn >= NumFunctions {
		return nil, errcode.New(errcode.InvalidArgument, op, "function out of range")
	}
	hw, ok := m.hw.ByID(fn)
	if !ok {
		return nil, errcode.New(errcode.InvalidArgument, op, "no such function")
	}
	h, err = m.tab.Claim(fn)
	if err != nil {
		return nil, err
	}
	owned := 0
	defer func() {
		if err != nil {
			m.budget.Give(owned)
			m.tab.Release(fn)
			m.log.Warn("init failed", zap.String("fn", Name(fn)), zap.Error(err))
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
	if err = h.reset(fn, hw, rx, tx, cfg, m.log.With(zap.String("fn", Name(fn)))); err != nil {
		return nil, err
	}
	h.owned = owned

	if err = hw.Init(); err != nil {
		return nil, errcode.Wrap(errcode.HardwareFault, op, err)
	}
	hw.SetLineStateCallback(h.onLineState)
	if err = hw.Start(); err != nil {
		hw.SetLineStateCallback(nil)
		_ = hw.Deinit()
		return nil, errcode.Wrap(errcode.HardwareFault, op, err)
	}
	h.live.Store(true)

	m.log.Info("function up",
		zap.String("fn", Name(fn)),
		zap.Int("rx_size", h.rx.Size()),
		zap.Int("tx_size", h.tx.Size()),
		zap.Int("flush_ticks", h.flushTicks),
	)
	return h, nil
}

// Deinit is a no-op for a function that is not live.
func (m *Manager) Deinit(fn int) error {
	if fn < 0 || fn >= NumFunctions {
		return errcode.New(errcode.InvalidArgument, "usbcdc.deinit", "function out of range")
	}
	h, ok := m.tab.Lookup(fn)
	if !ok {
		return nil
	}
	h.live.Store(false)
	h.hw.Stop()
	h.hw.SetLineStateCallback(nil)
	err := h.hw.Deinit()

	h.clear()
	m.budget.Give(h.owned)
	h.owned = 0
	m.tab.Release(fn)

	m.log.Info("function down", zap.String("fn", Name(fn)))
	return errcode.Wrap(errcode.HardwareFault, "usbcdc.deinit", err)
}

func (m *Manager) Handle(fn int) (*Handle, bool) { return m.tab.Lookup(fn) }

// Task runs Task on every live function.
func (m *Manager) Task() {
	m.tab.Each(func(_ int, h *Handle) { h.Task() })
}

func (m *Manager) Each(fn func(id int, h *Handle)) { m.tab.Each(fn) }

func sizeOr(n, def int) int {
	if n <= 0 {
		return def
	}
	return n
}
