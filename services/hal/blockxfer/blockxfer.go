// services/hal/blockxfer/blockxfer.go
//
// Package blockxfer is the synchronous request/response transport over an
// SPI bus. Every call blocks until the bus driver returns; there is no
// buffering and no callback.
package blockxfer

import (
	"strconv"
	"sync"

	"benchio/errcode"
	"benchio/services/hal/halcore"
	"benchio/services/hal/registry"

	"go.uber.org/zap"
	"tinygo.org/x/drivers"
)

const (
	SPI0 = iota
	SPI1
	NumBuses
)

func BusName(bus int) string { return "spi" + strconv.Itoa(bus) }

type Config struct {
	Frequency uint32
	Mode      uint8
	// Fill is clocked out while receiving.
	Fill byte
}

type Manager struct {
	hw  halcore.SPIFactory
	tab *registry.Table[Handle]
	log *zap.Logger
}

func NewManager(hw halcore.SPIFactory, log *zap.Logger) *Manager {
	if log == nil {
		log = zap.NewNop()
	}
	return &Manager{
		hw:  hw,
		tab: registry.NewTable[Handle](NumBuses),
		log: log.With(zap.String("component", "blockxfer")),
	}
}

func (m *Manager) Init(bus int, cfg Config) (*Handle, error) {
	const op = "blockxfer.init"
	if bus < 0 || bus >= NumBuses {
		return nil, errcode.New(errcode.InvalidArgument, op, "bus out of range")
	}
	spi, ok := m.hw.ByID(bus)
	if !ok {
		return nil, errcode.New(errcode.InvalidArgument, op, "no such bus")
	}
	h, err := m.tab.Claim(bus)
	if err != nil {
		return nil, err
	}
	if c, ok := spi.(halcore.SPIConfigurer); ok {
		if err := c.Configure(halcore.SPIConfig{Frequency: cfg.Frequency, Mode: cfg.Mode}); err != nil {
			m.tab.Release(bus)
			return nil, errcode.Wrap(errcode.HardwareFault, op, err)
		}
	}
	h.mu.Lock()
	h.bus, h.spi, h.fill, h.live = bus, spi, cfg.Fill, true
	h.mu.Unlock()

	m.log.Info("bus up", zap.String("bus", BusName(bus)), zap.Uint32("hz", cfg.Frequency), zap.Uint8("mode", cfg.Mode))
	return h, nil
}

// Deinit is a no-op for a bus that is not live.
func (m *Manager) Deinit(bus int) error {
	if bus < 0 || bus >= NumBuses {
		return errcode.New(errcode.InvalidArgument, "blockxfer.deinit", "bus out of range")
	}
	h, ok := m.tab.Lookup(bus)
	if !ok {
		return nil
	}
	// Waits for a transfer in progress on another goroutine.
	h.mu.Lock()
	h.live = false
	h.spi = nil
	h.mu.Unlock()
	m.tab.Release(bus)
	m.log.Info("bus down", zap.String("bus", BusName(bus)))
	return nil
}

func (m *Manager) Handle(bus int) (*Handle, bool) { return m.tab.Lookup(bus) }

// Handle is one live bus.
type Handle struct {
	mu   sync.Mutex
	bus  int
	spi  drivers.SPI
	fill byte
	live bool
}

func (h *Handle) Bus() int { return h.bus }

func (h *Handle) tx(op string, w, r []byte) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if !h.live {
		return errcode.New(errcode.ResourceUnavailable, op, "bus not initialised")
	}
	return errcode.Wrap(errcode.HardwareFault, op, h.spi.Tx(w, r))
}

// Transmit clocks p out and discards what comes back.
func (h *Handle) Transmit(p []byte) error {
	if len(p) == 0 {
		return errcode.New(errcode.InvalidArgument, "blockxfer.transmit", "zero-length buffer")
	}
	return h.tx("blockxfer.transmit", p, nil)
}

// Receive fills p while clocking out the configured fill byte.
func (h *Handle) Receive(p []byte) error {
	const op = "blockxfer.receive"
	if len(p) == 0 {
		return errcode.New(errcode.InvalidArgument, op, "zero-length buffer")
	}
	h.mu.Lock()
	fill := h.fill
	h.mu.Unlock()
	for i := range p {
		p[i] = fill
	}
	// Tx with w and r aliased is allowed by the drivers.SPI contract.
	return h.tx(op, p, p)
}

// TransmitReceive clocks w out while filling r; the lengths must match.
func (h *Handle) TransmitReceive(w, r []byte) error {
	const op = "blockxfer.transmit_receive"
	if len(w) == 0 || len(r) == 0 {
		return errcode.New(errcode.InvalidArgument, op, "zero-length buffer")
	}
	if len(w) != len(r) {
		return errcode.New(errcode.InvalidArgument, op, "buffer lengths differ")
	}
	return h.tx(op, w, r)
}
