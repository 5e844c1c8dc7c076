package repositories

import (
	"context"
	"errors"

	"roomwatch/internal/core/domain"
	"roomwatch/internal/core/ports"
	"roomwatch/pkg/tracing"
)

type tracedReportRepository struct {
	next    ports.ReportRepository
	backend string
}

// WithTracing wraps every repository call in a span tagged with backend.
func WithTracing(repo ports.ReportRepository, backend string) ports.ReportRepository {
	return &tracedReportRepository{next: repo, backend: backend}
}

func (r *tracedReportRepository) Save(ctx context.Context, report domain.QualityReport) error {
	ctx, span := tracing.TraceStoreOperation(ctx, "save", r.backend)
	defer span.End()
	span.SetAttributes(tracing.SessionIDKey.String(string(report.SessionID)), tracing.TierKey.String(report.Tier.String()))

	err := r.next.Save(ctx, report)
	r.record(ctx, err)
	return err
}

func (r *tracedReportRepository) Latest(ctx context.Context, id domain.SessionID) (*domain.QualityReport, error) {
	ctx, span := tracing.TraceStoreOperation(ctx, "latest", r.backend)
	defer span.End()
	span.SetAttributes(tracing.SessionIDKey.String(string(id)))

	report, err := r.next.Latest(ctx, id)
	r.record(ctx, err)
	return report, err
}

func (r *tracedReportRepository) ListByRoom(ctx context.Context, room string) ([]*domain.QualityReport, error) {
	ctx, span := tracing.TraceStoreOperation(ctx, "list_by_room", r.backend)
	defer span.End()
	span.SetAttributes(tracing.RoomKey.String(room))

	reports, err := r.next.ListByRoom(ctx, room)
	r.record(ctx, err)
	return reports, err
}

func (r *tracedReportRepository) Delete(ctx context.Context, id domain.SessionID) error {
	ctx, span := tracing.TraceStoreOperation(ctx, "delete", r.backend)
	defer span.End()
	span.SetAttributes(tracing.SessionIDKey.String(string(id)))

	err := r.next.Delete(ctx, id)
	r.record(ctx, err)
	return err
}

// record marks real failures on the span; a missing report is an answer.
func (r *tracedReportRepository) record(ctx context.Context, err error) {
	if err != nil && !errors.Is(err, domain.ErrReportNotFound) {
		tracing.RecordError(ctx, err)
	}
}
