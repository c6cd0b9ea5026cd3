// services/hal/diag/guard.go
package diag

import (
	"benchio/errcode"

	"go.uber.org/zap"
)

// Guard is the top-level handler for errors nothing below could recover
// from: it logs the failure with its code and halts.
type Guard struct {
	Log *zap.Logger
	// Halt stops the system. nil parks the calling goroutine forever.
	Halt func(op string, err error)
}

// Check halts on a non-nil err.
func (g Guard) Check(op string, err error) {
	if err == nil {
		return
	}
	log := g.Log
	if log == nil {
		log = zap.NewNop()
	}
	log.Error("unhandled error, halting",
		zap.String("op", op),
		zap.String("code", string(errcode.Of(err))),
		zap.Error(err),
	)
	_ = log.Sync()
	if g.Halt != nil {
		g.Halt(op, err)
		return
	}
	select {}
}

// Try runs fn and passes its error to Check.
func (g Guard) Try(op string, fn func() error) {
	g.Check(op, fn())
}

// Must returns v, halting if err is non-nil.
func Must[T any](g Guard, op string, v T, err error) T {
	g.Check(op, err)
	return v
}
