package mathx

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestClamp(t *testing.T) {
	assert.Equal(t, 5, Clamp(5, 1, 10))
	assert.Equal(t, 1, Clamp(-3, 1, 10))
	assert.Equal(t, 10, Clamp(99, 1, 10))
	assert.Equal(t, 10, Clamp(99, 10, 1)) // swapped bounds
	assert.Equal(t, 2, Min(2, 3))
	assert.Equal(t, uint16(3), Max(uint16(2), 3))
}

func TestRoundDiv(t *testing.T) {
	assert.Equal(t, uint32(4800), RoundDiv(uint32(48_000_000), 10_000))
	assert.Equal(t, uint32(6857), RoundDiv(uint32(48_000_000), 7_000))
	assert.Equal(t, uint32(2), RoundDiv(uint32(3), 2)) // half rounds up
	assert.Equal(t, uint32(1), RoundDiv(uint32(4), 3))
	assert.Equal(t, uint32(0), RoundDiv(uint32(7), 0))
	// No overflow near the top of the range.
	assert.Equal(t, uint32(0xFFFFFFFF), RoundDiv(uint32(0xFFFFFFFF), 1))
	assert.Equal(t, uint8(128), RoundDiv(uint8(255), 2))
}
