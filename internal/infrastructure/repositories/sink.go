package repositories

import (
	"context"
	"errors"

	"roomwatch/internal/core/domain"
	"roomwatch/internal/core/ports"
	"roomwatch/pkg/circuitbreaker"
)

type reportSink struct {
	repo    ports.ReportRepository
	breaker *circuitbreaker.CircuitBreaker
}

// NewReportSink stores every report the monitors publish in repo. A non-nil
// breaker makes writes fail fast while the store keeps failing.
func NewReportSink(repo ports.ReportRepository, breaker *circuitbreaker.CircuitBreaker) ports.ReportSink {
	return &reportSink{repo: repo, breaker: breaker}
}

func (s *reportSink) Record(ctx context.Context, report domain.QualityReport) error {
	return s.guard(func() error {
		return s.repo.Save(ctx, report)
	})
}

// Forget treats a session without stored report as already forgotten.
func (s *reportSink) Forget(ctx context.Context, id domain.SessionID) error {
	return s.guard(func() error {
		if err := s.repo.Delete(ctx, id); err != nil && !errors.Is(err, domain.ErrReportNotFound) {
			return err
		}
		return nil
	})
}

func (s *reportSink) guard(fn func() error) error {
	if s.breaker == nil {
		return fn()
	}
	return s.breaker.Execute(fn)
}
