// services/heartbeat/service.go
//
// Package heartbeat logs a liveness line with a caller-supplied snapshot
// at a fixed interval. It is driven by the foreground loop rather than a
// timer of its own, so a stalled loop shows up as missing heartbeats.
package heartbeat

import (
	"time"

	"go.uber.org/zap"
)

const DefaultInterval = time.Second

type Service struct {
	every  uint64 // ticks per beat
	count  uint64
	beats  uint64
	log    *zap.Logger
	fields func() []zap.Field
}

// New beats every interval given a loop period of tick. fields may be nil.
func New(interval, tick time.Duration, log *zap.Logger, fields func() []zap.Field) *Service {
	if interval <= 0 {
		interval = DefaultInterval
	}
	every := uint64(1)
	if tick > 0 && interval > tick {
		every = uint64(interval / tick)
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Service{
		every:  every,
		log:    log.With(zap.String("component", "heartbeat")),
		fields: fields,
	}
}

// Tick is the foreground task.
func (s *Service) Tick() {
	s.count++
	if s.count < s.every {
		return
	}
	s.count = 0
	s.beats++
	f := []zap.Field{zap.Uint64("beat", s.beats)}
	if s.fields != nil {
		f = append(f, s.fields()...)
	}
	s.log.Info("heartbeat", f...)
}

func (s *Service) Beats() uint64 { return s.beats }
