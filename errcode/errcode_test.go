package errcode

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCodesAreStableStrings(t *testing.T) {
	cases := map[string]Code{
		"invalid_argument":     InvalidArgument,
		"resource_busy":        ResourceBusy,
		"resource_unavailable": ResourceUnavailable,
		"device_not_ready":     DeviceNotReady,
		"out_of_memory":        OutOfMemory,
		"hardware_fault":       HardwareFault,
	}
	for want, c := range cases {
		assert.Equal(t, want, c.Error())
	}
}

func TestWrapMatchesCodeWithErrorsIs(t *testing.T) {
	cause := errors.New("dma stalled")
	err := Wrap(HardwareFault, "serial.init", cause)

	require.Error(t, err)
	assert.True(t, errors.Is(err, HardwareFault))
	assert.False(t, errors.Is(err, ResourceBusy))
	assert.True(t, errors.Is(err, cause))
	assert.Equal(t, "serial.init: hardware_fault: dma stalled", err.Error())
}

func TestWrapNilIsNil(t *testing.T) {
	assert.NoError(t, Wrap(HardwareFault, "op", nil))
}

func TestOf(t *testing.T) {
	assert.Equal(t, OK, Of(nil))
	assert.Equal(t, ResourceBusy, Of(ResourceBusy))
	assert.Equal(t, DeviceNotReady, Of(New(DeviceNotReady, "acquire.start", "")))
	assert.Equal(t, Error, Of(errors.New("plain")))

	// The outermost code wins over a wrapped one.
	inner := New(InvalidArgument, "inner", "")
	outer := Wrap(HardwareFault, "outer", inner)
	assert.Equal(t, HardwareFault, Of(outer))

	// Codes survive fmt wrapping.
	assert.Equal(t, ResourceUnavailable, Of(fmt.Errorf("ctx: %w", ResourceUnavailable)))
}
