package memory

import (
	"context"
	"sort"
	"sync"

	"roomwatch/internal/core/domain"
	"roomwatch/internal/core/ports"
)

type MemoryReportRepository struct {
	reports map[domain.SessionID]domain.QualityReport
	mu      sync.RWMutex
}

func NewMemoryReportRepository() ports.ReportRepository {
	return &MemoryReportRepository{
		reports: make(map[domain.SessionID]domain.QualityReport),
	}
}

// Save keeps the report unless a newer one of the same session is stored.
func (r *MemoryReportRepository) Save(ctx context.Context, report domain.QualityReport) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if existing, ok := r.reports[report.SessionID]; ok && existing.Sequence > report.Sequence {
		return nil
	}
	r.reports[report.SessionID] = report
	return nil
}

func (r *MemoryReportRepository) Latest(ctx context.Context, id domain.SessionID) (*domain.QualityReport, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	report, ok := r.reports[id]
	if !ok {
		return nil, domain.ErrReportNotFound
	}
	return &report, nil
}

func (r *MemoryReportRepository) ListByRoom(ctx context.Context, room string) ([]*domain.QualityReport, error) {
	r.mu.RLock()
	var reports []*domain.QualityReport
	for _, report := range r.reports {
		if report.Room == room {
			report := report
			reports = append(reports, &report)
		}
	}
	r.mu.RUnlock()

	sort.Slice(reports, func(i, j int) bool { return reports[i].Identity < reports[j].Identity })
	return reports, nil
}

func (r *MemoryReportRepository) Delete(ctx context.Context, id domain.SessionID) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.reports[id]; !ok {
		return domain.ErrReportNotFound
	}
	delete(r.reports, id)
	return nil
}
