package services

import (
	"context"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"tala-companion/internal/api"
)

type StatusSource interface {
	Status(ctx context.Context) (api.Status, error)
}

type StatusReport struct {
	api.Status
	CheckedAt time.Time
}

// StatusService tracks whether the assistant backend is reachable.
type StatusService struct {
	source StatusSource
	logger *zap.Logger
	last   atomic.Pointer[StatusReport]
}

func NewStatusService(source StatusSource, logger *zap.Logger) *StatusService {
	return &StatusService{source: source, logger: logger.Named("status")}
}

// Check probes the backend once and records the result. An unreachable
// backend is reported as offline, never as an error.
func (s *StatusService) Check(ctx context.Context) StatusReport {
	st, err := s.source.Status(ctx)
	if err != nil {
		st = api.Status{Status: "offline", Message: api.Message(err, "Tala is unreachable")}
	}
	report := &StatusReport{Status: st, CheckedAt: time.Now()}

	prev := s.last.Swap(report)
	switch {
	case prev == nil:
		s.logger.Info("backend status", zap.String("status", st.Status))
	case prev.Online() != st.Online():
		s.logger.Warn("backend status changed",
			zap.String("from", prev.Status.Status),
			zap.String("to", st.Status),
			zap.NamedError("cause", err))
	}
	return *report
}

func (s *StatusService) Online() bool {
	r := s.last.Load()
	return r != nil && r.Online()
}

// Last returns the latest report; ok is false before the first check.
func (s *StatusService) Last() (StatusReport, bool) {
	r := s.last.Load()
	if r == nil {
		return StatusReport{}, false
	}
	return *r, true
}
