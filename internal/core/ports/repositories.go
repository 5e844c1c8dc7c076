package ports

import (
	"context"

	"roomwatch/internal/core/domain"
)

// ReportRepository keeps the most recent quality report of every session.
type ReportRepository interface {
	Save(ctx context.Context, report domain.QualityReport) error
	Latest(ctx context.Context, id domain.SessionID) (*domain.QualityReport, error)
	ListByRoom(ctx context.Context, room string) ([]*domain.QualityReport, error)
	Delete(ctx context.Context, id domain.SessionID) error
}
