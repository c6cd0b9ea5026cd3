// services/hal/acquire/acquire.go
//
// Package acquire runs timer-paced conversions into a flat sample buffer
// under DMA and reports each completed fill.
package acquire

import (
	"strconv"
	"sync/atomic"

	"benchio/errcode"
	"benchio/services/hal/halcore"
	"benchio/services/hal/registry"
	"benchio/x/mathx"

	"go.uber.org/zap"
)

const (
	ADC0 = iota
	NumConverters
)

func Name(id int) string { return "adc" + strconv.Itoa(id) }

type Config struct {
	SampleRateHz uint32
	TimerID      int
	Channel      int
	Bits         uint8
}

type Manager struct {
	adcs   halcore.ADCFactory
	timers halcore.TimerFactory
	tab    *registry.Table[Handle]
	log    *zap.Logger
}

func NewManager(adcs halcore.ADCFactory, timers halcore.TimerFactory, log *zap.Logger) *Manager {
	if log == nil {
		log = zap.NewNop()
	}
	return &Manager{
		adcs:   adcs,
		timers: timers,
		tab:    registry.NewTable[Handle](NumConverters),
		log:    log.With(zap.String("component", "acquire")),
	}
}

// Divider returns the pacing divider for a target rate: the converter
// clock divided by the rate, rounded. It fails when the rate asks for
// fewer cycles per sample than one conversion takes, or rounds the
// divider to zero.
func Divider(clockHz, cyclesPerSample, rateHz uint32) (uint32, error) {
	if rateHz == 0 {
		return 0, errcode.New(errcode.InvalidArgument, "acquire.divider", "zero sample rate")
	}
	div := mathx.RoundDiv(clockHz, rateHz)
	if div == 0 || div < cyclesPerSample {
		return 0, errcode.New(errcode.InvalidArgument, "acquire.divider",
			"rate "+strconv.FormatUint(uint64(rateHz), 10)+" Hz exceeds converter limit")
	}
	return div, nil
}

// Init configures the converter and its pacing timer and arms DMA over
// buf. Sampling does not begin until Start.
func (m *Manager) Init(id int, buf []uint16, cfg Config) (h *Handle, err error) {
	const op = "acquire.init"
	if id < 0 || id >= NumConverters {
		return nil, errcode.New(errcode.InvalidArgument, op, "converter out of range")
	}
	if len(buf) == 0 {
		return nil, errcode.New(errcode.InvalidArgument, op, "empty sample buffer")
	}
	adc, ok := m.adcs.ByID(id)
	if !ok {
		return nil, errcode.New(errcode.InvalidArgument, op, "no such converter")
	}
	tmr, ok := m.timers.ByID(cfg.TimerID)
	if !ok {
		return nil, errcode.New(errcode.InvalidArgument, op, "no such timer")
	}
	h, err = m.tab.Claim(id)
	if err != nil {
		return nil, err
	}
	defer func() {
		if err != nil {
			m.tab.Release(id)
			m.log.Warn("init failed", zap.String("adc", Name(id)), zap.Error(err))
		}
	}()

	if err = adc.Init(halcore.ADCConfig{Channel: cfg.Channel, Bits: cfg.Bits}); err != nil {
		return nil, errcode.Wrap(errcode.HardwareFault, op, err)
	}
	div, err := Divider(adc.ClockHz(), adc.CyclesPerSample(), cfg.SampleRateHz)
	if err != nil {
		_ = adc.Deinit()
		return nil, err
	}
	rate := adc.ClockHz() / div
	if err = tmr.Init(rate); err != nil {
		_ = adc.Deinit()
		return nil, errcode.Wrap(errcode.HardwareFault, op, err)
	}
	h.reset(id, adc, tmr, buf, div, rate)
	adc.SetCompleteCallback(h.onComplete)
	if err = adc.Arm(buf); err != nil {
		adc.SetCompleteCallback(nil)
		_ = tmr.Deinit()
		_ = adc.Deinit()
		return nil, errcode.Wrap(errcode.HardwareFault, op, err)
	}
	h.live.Store(true)

	m.log.Info("converter up",
		zap.String("adc", Name(id)),
		zap.Uint32("requested_hz", cfg.SampleRateHz),
		zap.Uint32("rate_hz", rate),
		zap.Uint32("divider", div),
		zap.Int("samples", len(buf)),
	)
	return h, nil
}

// Deinit stops and releases id. Unlike the stream transports it is an
// error to deinit a converter that is not live.
func (m *Manager) Deinit(id int) error {
	const op = "acquire.deinit"
	if id < 0 || id >= NumConverters {
		return errcode.New(errcode.InvalidArgument, op, "converter out of range")
	}
	h, ok := m.tab.Lookup(id)
	if !ok {
		return errcode.New(errcode.ResourceUnavailable, op, "converter not initialised")
	}
	h.live.Store(false)
	h.tmr.Stop()
	h.adc.Stop()
	h.adc.SetCompleteCallback(nil)
	err := h.adc.Deinit()
	if terr := h.tmr.Deinit(); err == nil {
		err = terr
	}
	h.clear()
	m.tab.Release(id)

	m.log.Info("converter down", zap.String("adc", Name(id)))
	return errcode.Wrap(errcode.HardwareFault, op, err)
}

func (m *Manager) Handle(id int) (*Handle, bool) { return m.tab.Lookup(id) }

func (m *Manager) lookup(op string, id int) (*Handle, error) {
	if id < 0 || id >= NumConverters {
		return nil, errcode.New(errcode.InvalidArgument, op, "converter out of range")
	}
	h, ok := m.tab.Lookup(id)
	if !ok {
		return nil, errcode.New(errcode.DeviceNotReady, op, "converter not initialised")
	}
	return h, nil
}

// Start, Stop and Restart by converter id, for callers that do not hold
// a handle. Before Init they fail with DeviceNotReady.
func (m *Manager) Start(id int) error {
	h, err := m.lookup("acquire.start", id)
	if err != nil {
		return err
	}
	return h.Start()
}

func (m *Manager) Stop(id int) error {
	h, err := m.lookup("acquire.stop", id)
	if err != nil {
		return err
	}
	return h.Stop()
}

func (m *Manager) Restart(id int) error {
	h, err := m.lookup("acquire.restart", id)
	if err != nil {
		return err
	}
	return h.Restart()
}

func (m *Manager) Each(fn func(id int, h *Handle)) { m.tab.Each(fn) }

// Stats is a snapshot of a handle's counters.
type Stats struct {
	Fills   uint64
	Samples uint64 // samples handed out by Read
	Dropped uint64 // samples discarded unread by Restart
}

// Handle is one live converter.
//
// fill packs the fill generation (high half) with the samples completed in
// it (low half); onComplete and Restart write it. read packs the
// generation the reader last consumed from with its position in that
// fill; only Read writes it. A reader that sees a newer generation starts
// again from the front of the buffer.
type Handle struct {
	id   int
	adc  halcore.ADC
	tmr  halcore.PacingTimer
	buf  []uint16
	div  uint32
	rate uint32

	live    atomic.Bool
	running atomic.Bool
	fill    atomic.Uint64
	read    atomic.Uint64

	cb atomic.Pointer[func(samples int)]

	fills, samples, dropped atomic.Uint64
}

func pack(gen, n uint32) uint64 { return uint64(gen)<<32 | uint64(n) }

func unpack(v uint64) (gen, n uint32) { return uint32(v >> 32), uint32(v) }

func (h *Handle) reset(id int, adc halcore.ADC, tmr halcore.PacingTimer, buf []uint16, div, rate uint32) {
	h.id, h.adc, h.tmr, h.buf = id, adc, tmr, buf
	h.div, h.rate = div, rate
	h.running.Store(false)
	h.fill.Store(0)
	h.read.Store(0)
	h.cb.Store(nil)
	h.fills.Store(0)
	h.samples.Store(0)
	h.dropped.Store(0)
}

func (h *Handle) clear() {
	h.running.Store(false)
	h.fill.Store(0)
	h.read.Store(0)
	h.cb.Store(nil)
	h.buf = nil
}

// position returns the current fill and the reader's offset into it.
func (h *Handle) position() (gen, filled, pos uint32) {
	gen, filled = unpack(h.fill.Load())
	rgen, rpos := unpack(h.read.Load())
	if rgen == gen {
		pos = rpos
	}
	return gen, filled, pos
}

func (h *Handle) ready(op string) error {
	if !h.live.Load() {
		return errcode.New(errcode.DeviceNotReady, op, "converter not initialised")
	}
	return nil
}

// Rate is the achieved sample rate after rounding the divider.
func (h *Handle) Rate() uint32    { return h.rate }
func (h *Handle) Divider() uint32 { return h.div }
func (h *Handle) Running() bool   { return h.running.Load() }

func (h *Handle) Start() error {
	const op = "acquire.start"
	if err := h.ready(op); err != nil {
		return err
	}
	if h.running.Load() {
		return nil
	}
	if err := h.adc.Start(); err != nil {
		return errcode.Wrap(errcode.HardwareFault, op, err)
	}
	if err := h.tmr.Start(); err != nil {
		h.adc.Stop()
		return errcode.Wrap(errcode.HardwareFault, op, err)
	}
	h.running.Store(true)
	return nil
}

func (h *Handle) Stop() error {
	if err := h.ready("acquire.stop"); err != nil {
		return err
	}
	h.tmr.Stop()
	h.adc.Stop()
	h.running.Store(false)
	return nil
}

// Restart re-arms DMA for another fill over the same buffer. The timer
// and converter keep their configuration. Samples of the previous fill
// not yet read are discarded. Restart may be called from the completion
// callback or from the foreground; it never touches the reader's
// position.
func (h *Handle) Restart() error {
	const op = "acquire.restart"
	if err := h.ready(op); err != nil {
		return err
	}
	gen, filled, pos := h.position()
	if filled > pos {
		h.dropped.Add(uint64(filled - pos))
	}
	h.fill.Store(pack(gen+1, 0))
	if err := h.adc.Arm(h.buf); err != nil {
		return errcode.Wrap(errcode.HardwareFault, op, err)
	}
	if !h.running.Load() {
		return h.Start()
	}
	return nil
}

// SetCallback registers fn to run, in interrupt context, after each fill.
func (h *Handle) SetCallback(fn func(samples int)) error {
	if err := h.ready("acquire.set_callback"); err != nil {
		return err
	}
	if fn == nil {
		h.cb.Store(nil)
		return nil
	}
	h.cb.Store(&fn)
	return nil
}

// Available reports completed samples not yet read.
func (h *Handle) Available() int {
	if !h.live.Load() {
		return 0
	}
	_, filled, pos := h.position()
	return mathx.Max(int(filled)-int(pos), 0)
}

// Read drains samples from the last completed fill.
func (h *Handle) Read(p []uint16) (int, error) {
	const op = "acquire.read"
	if err := h.ready(op); err != nil {
		return 0, err
	}
	if len(p) == 0 {
		return 0, errcode.New(errcode.InvalidArgument, op, "zero-length buffer")
	}
	gen, filled, pos := h.position()
	if pos >= filled {
		return 0, nil
	}
	n := copy(p, h.buf[pos:filled])
	h.read.Store(pack(gen, pos+uint32(n)))
	h.samples.Add(uint64(n))
	return n, nil
}

// onComplete runs in interrupt context when DMA has filled the buffer.
func (h *Handle) onComplete() {
	if !h.live.Load() {
		return
	}
	n := len(h.buf)
	for {
		old := h.fill.Load()
		gen, _ := unpack(old)
		if h.fill.CompareAndSwap(old, pack(gen, uint32(n))) {
			break
		}
	}
	h.fills.Add(1)
	if cb := h.cb.Load(); cb != nil {
		(*cb)(n)
	}
}

func (h *Handle) Stats() Stats {
	return Stats{
		Fills:   h.fills.Load(),
		Samples: h.samples.Load(),
		Dropped: h.dropped.Load(),
	}
}
