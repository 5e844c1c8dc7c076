package memory

import (
	"context"
	"testing"

	"roomwatch/internal/core/domain"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newReport(room, identity string, seq uint64, tier domain.QualityTier) domain.QualityReport {
	return domain.QualityReport{
		SessionID: domain.NewSessionID(room, identity),
		Room:      room,
		Identity:  identity,
		Sequence:  seq,
		Tier:      tier,
	}
}

func TestMemoryReportRepository_SaveAndLatest(t *testing.T) {
	repo := NewMemoryReportRepository()
	ctx := context.Background()

	_, err := repo.Latest(ctx, "demo/alice")
	assert.ErrorIs(t, err, domain.ErrReportNotFound)

	require.NoError(t, repo.Save(ctx, newReport("demo", "alice", 1, domain.TierGood)))
	require.NoError(t, repo.Save(ctx, newReport("demo", "alice", 2, domain.TierPoor)))
	// out of order delivery does not overwrite a newer report
	require.NoError(t, repo.Save(ctx, newReport("demo", "alice", 1, domain.TierGood)))

	got, err := repo.Latest(ctx, "demo/alice")
	require.NoError(t, err)
	assert.Equal(t, uint64(2), got.Sequence)
	assert.Equal(t, domain.TierPoor, got.Tier)
}

func TestMemoryReportRepository_ListByRoom(t *testing.T) {
	repo := NewMemoryReportRepository()
	ctx := context.Background()

	require.NoError(t, repo.Save(ctx, newReport("demo", "carol", 1, domain.TierFair)))
	require.NoError(t, repo.Save(ctx, newReport("demo", "alice", 1, domain.TierGood)))
	require.NoError(t, repo.Save(ctx, newReport("other", "bob", 1, domain.TierBad)))

	reports, err := repo.ListByRoom(ctx, "demo")
	require.NoError(t, err)
	require.Len(t, reports, 2)
	assert.Equal(t, "alice", reports[0].Identity)
	assert.Equal(t, "carol", reports[1].Identity)

	empty, err := repo.ListByRoom(ctx, "nobody")
	require.NoError(t, err)
	assert.Empty(t, empty)
}

func TestMemoryReportRepository_Delete(t *testing.T) {
	repo := NewMemoryReportRepository()
	ctx := context.Background()

	require.NoError(t, repo.Save(ctx, newReport("demo", "alice", 1, domain.TierGood)))
	require.NoError(t, repo.Delete(ctx, "demo/alice"))
	assert.ErrorIs(t, repo.Delete(ctx, "demo/alice"), domain.ErrReportNotFound)

	_, err := repo.Latest(ctx, "demo/alice")
	assert.ErrorIs(t, err, domain.ErrReportNotFound)
}

func TestMemoryReportRepository_ReturnsCopies(t *testing.T) {
	repo := NewMemoryReportRepository()
	ctx := context.Background()

	require.NoError(t, repo.Save(ctx, newReport("demo", "alice", 1, domain.TierGood)))
	got, err := repo.Latest(ctx, "demo/alice")
	require.NoError(t, err)
	got.Tier = domain.TierBad

	again, err := repo.Latest(ctx, "demo/alice")
	require.NoError(t, err)
	assert.Equal(t, domain.TierGood, again.Tier)
}
