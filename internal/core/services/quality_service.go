package services

import (
	"math"

	"roomwatch/internal/core/domain"
)

// QualityService maps metric windows to quality tiers.
type QualityService struct {
	bands []domain.QualityBand
}

// NewQualityService builds a classifier from bands ordered best first. An empty
// table falls back to the default five tier bands.
func NewQualityService(bands []domain.QualityBand) *QualityService {
	if len(bands) == 0 {
		bands = domain.DefaultQualityBands()
	}
	copied := make([]domain.QualityBand, len(bands))
	copy(copied, bands)
	return &QualityService{bands: copied}
}

// GetThresholds returns a copy of the band table.
func (qs *QualityService) GetThresholds() []domain.QualityBand {
	out := make([]domain.QualityBand, len(qs.bands))
	copy(out, qs.bands)
	return out
}

// Classify uses the better of upload and download as bandwidth.
func (qs *QualityService) Classify(w domain.MetricWindow) domain.QualityTier {
	return qs.ClassifyValues(w.Bandwidth(), w.RoundTripMs, w.JitterMs, w.PacketLossPercent)
}

// ClassifyValues returns the first band whose conditions all hold, or TierBad.
// NaN anywhere classifies as TierBad.
func (qs *QualityService) ClassifyValues(bandwidthMbps, rttMs, jitterMs, lossPercent float64) domain.QualityTier {
	if math.IsNaN(bandwidthMbps) || math.IsNaN(rttMs) || math.IsNaN(jitterMs) || math.IsNaN(lossPercent) {
		return domain.TierBad
	}
	for _, band := range qs.bands {
		if meetsBand(bandwidthMbps, rttMs, jitterMs, lossPercent, band) {
			return band.Tier
		}
	}
	return domain.TierBad
}

func meetsBand(bandwidthMbps, rttMs, jitterMs, lossPercent float64, band domain.QualityBand) bool {
	return bandwidthMbps >= band.MinBandwidthMbps &&
		rttMs <= band.MaxRoundTripMs &&
		jitterMs <= band.MaxJitterMs &&
		lossPercent <= band.MaxLossPercent
}

// Degraded reports whether moving from prev to next is a downgrade. Unknown
// never counts as a downgrade in either direction.
func (qs *QualityService) Degraded(prev, next domain.QualityTier) bool {
	if prev == domain.TierUnknown || next == domain.TierUnknown {
		return false
	}
	return prev.Better(next)
}
