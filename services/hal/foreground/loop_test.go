package foreground

import (
	"context"
	"errors"
	"testing"
	"time"

	"benchio/errcode"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

func TestPeriodFollowsRate(t *testing.T) {
	assert.Equal(t, time.Millisecond, New(0, nil).Period())
	assert.Equal(t, 10*time.Millisecond, New(100, nil).Period())
}

func TestStepRunsTasksInOrder(t *testing.T) {
	l := New(0, zaptest.NewLogger(t))
	var order []string
	require.NoError(t, l.Add("usb", func() { order = append(order, "usb") }))
	require.NoError(t, l.Add("serial", func() { order = append(order, "serial") }))

	l.Step()
	l.Step()
	assert.Equal(t, []string{"usb", "serial", "usb", "serial"}, order)
	assert.Equal(t, uint64(2), l.Ticks())

	err := l.Add("nil", nil)
	assert.True(t, errors.Is(err, errcode.InvalidArgument))
}

func TestRunTicksUntilCancelled(t *testing.T) {
	l := New(1000, zaptest.NewLogger(t))
	ticked := make(chan struct{}, 1)
	require.NoError(t, l.Add("probe", func() {
		select {
		case ticked <- struct{}{}:
		default:
		}
	}))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- l.Run(ctx) }()

	select {
	case <-ticked:
	case <-time.After(2 * time.Second):
		t.Fatal("no tick")
	}

	// Tasks are frozen while running.
	assert.True(t, errors.Is(l.Add("late", func() {}), errcode.ResourceBusy))

	cancel()
	select {
	case err := <-done:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(2 * time.Second):
		t.Fatal("loop did not stop")
	}
	assert.Greater(t, l.Ticks(), uint64(0))
}

func TestDoRunsOnLoopGoroutine(t *testing.T) {
	l := New(1000, zaptest.NewLogger(t))
	owner := 0
	require.NoError(t, l.Add("inc", func() { owner++ }))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = l.Run(ctx) }()

	var seen int
	dctx, dcancel := context.WithTimeout(ctx, 2*time.Second)
	defer dcancel()
	require.NoError(t, l.Do(dctx, func() { seen = owner }))
	assert.GreaterOrEqual(t, seen, 0)
}

func TestDoHonoursContext(t *testing.T) {
	l := New(1000, nil)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.ErrorIs(t, l.Do(ctx, func() {}), context.Canceled)
}
