package blockxfer

import (
	"errors"
	"testing"

	"benchio/errcode"
	"benchio/services/hal/halcore"
	"benchio/services/hal/platform"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

func setup(t *testing.T, cfg Config) (*platform.SimSPI, *Manager, *Handle) {
	t.Helper()
	sb := platform.NewSimBoard()
	m := NewManager(sb.Board().SPI, zaptest.NewLogger(t))
	h, err := m.Init(SPI0, cfg)
	require.NoError(t, err)
	return sb.SPIs[SPI0], m, h
}

func TestInitConfiguresBus(t *testing.T) {
	spi, m, _ := setup(t, Config{Frequency: 8_000_000, Mode: 3})
	assert.Equal(t, halcore.SPIConfig{Frequency: 8_000_000, Mode: 3}, spi.Config())

	_, err := m.Init(SPI0, Config{})
	assert.True(t, errors.Is(err, errcode.ResourceBusy))
	_, err = m.Init(NumBuses, Config{})
	assert.Equal(t, errcode.InvalidArgument, errcode.Of(err))
}

func TestTransfers(t *testing.T) {
	spi, _, h := setup(t, Config{Fill: 0xFF})

	require.NoError(t, h.Transmit([]byte{0x9F}))

	spi.Queue([]byte{0xEF, 0x40, 0x18})
	id := make([]byte, 3)
	require.NoError(t, h.Receive(id))
	assert.Equal(t, []byte{0xEF, 0x40, 0x18}, id)

	r := make([]byte, 2)
	require.NoError(t, h.TransmitReceive([]byte{0x01, 0x02}, r))
	assert.Equal(t, []byte{0x01, 0x02}, r, "loopback")

	assert.Equal(t, []byte{0x9F, 0xFF, 0xFF, 0xFF, 0x01, 0x02}, spi.Written())
}

func TestArgumentValidation(t *testing.T) {
	_, _, h := setup(t, Config{})
	assert.Equal(t, errcode.InvalidArgument, errcode.Of(h.Transmit(nil)))
	assert.Equal(t, errcode.InvalidArgument, errcode.Of(h.Receive([]byte{})))
	assert.Equal(t, errcode.InvalidArgument, errcode.Of(h.TransmitReceive([]byte{1}, nil)))
	assert.Equal(t, errcode.InvalidArgument, errcode.Of(h.TransmitReceive([]byte{1, 2}, make([]byte, 3))))
}

func TestDriverErrorIsHardwareFault(t *testing.T) {
	spi, _, h := setup(t, Config{})
	spi.Err = errors.New("bus stuck")
	err := h.Transmit([]byte{1})
	assert.Equal(t, errcode.HardwareFault, errcode.Of(err))
	assert.Contains(t, err.Error(), "bus stuck")
}

func TestUseAfterDeinit(t *testing.T) {
	_, m, h := setup(t, Config{})
	require.NoError(t, m.Deinit(SPI0))
	assert.NoError(t, m.Deinit(SPI0))
	assert.True(t, errors.Is(h.Transmit([]byte{1}), errcode.ResourceUnavailable))

	h2, err := m.Init(SPI0, Config{})
	require.NoError(t, err)
	assert.NoError(t, h2.Transmit([]byte{1}))
}
