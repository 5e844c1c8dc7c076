package domain

import (
	"encoding/json"
	"fmt"
	"strings"
)

// QualityTier is an ordered link-quality label. Higher is better; the zero
// value means nothing has been classified yet.
type QualityTier int

const (
	TierUnknown QualityTier = iota
	TierBad
	TierPoor
	TierFair
	TierGood
	TierExcellent
)

var tierNames = map[QualityTier]string{
	TierUnknown:   "unknown",
	TierBad:       "bad",
	TierPoor:      "poor",
	TierFair:      "fair",
	TierGood:      "good",
	TierExcellent: "excellent",
}

var tierLabels = map[QualityTier]string{
	TierUnknown:   "Unknown",
	TierBad:       "Bad",
	TierPoor:      "Poor",
	TierFair:      "Fair",
	TierGood:      "Good",
	TierExcellent: "Excellent",
}

var tierColors = map[QualityTier]string{
	TierUnknown:   "gray",
	TierBad:       "red",
	TierPoor:      "orange",
	TierFair:      "yellow",
	TierGood:      "lightgreen",
	TierExcellent: "green",
}

func (t QualityTier) String() string {
	if name, ok := tierNames[t]; ok {
		return name
	}
	return fmt.Sprintf("tier(%d)", int(t))
}

// Label is the human readable name shown to users.
func (t QualityTier) Label() string {
	if label, ok := tierLabels[t]; ok {
		return label
	}
	return tierLabels[TierUnknown]
}

// Color is the display colour token.
func (t QualityTier) Color() string {
	if color, ok := tierColors[t]; ok {
		return color
	}
	return tierColors[TierUnknown]
}

// Better reports whether t ranks above other.
func (t QualityTier) Better(other QualityTier) bool {
	return t > other
}

// ParseQualityTier parses a tier name, case-insensitively.
func ParseQualityTier(s string) (QualityTier, error) {
	s = strings.ToLower(strings.TrimSpace(s))
	for tier, name := range tierNames {
		if name == s {
			return tier, nil
		}
	}
	return TierUnknown, fmt.Errorf("unknown quality tier %q", s)
}

func (t QualityTier) MarshalJSON() ([]byte, error) {
	return json.Marshal(t.String())
}

func (t *QualityTier) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	parsed, err := ParseQualityTier(s)
	if err != nil {
		return err
	}
	*t = parsed
	return nil
}

func (t QualityTier) MarshalYAML() (interface{}, error) {
	return t.String(), nil
}

func (t *QualityTier) UnmarshalYAML(unmarshal func(interface{}) error) error {
	var s string
	if err := unmarshal(&s); err != nil {
		return err
	}
	parsed, err := ParseQualityTier(s)
	if err != nil {
		return err
	}
	*t = parsed
	return nil
}

// QualityBand is one classifier row. A window qualifies for Tier when every
// condition holds; boundaries are inclusive.
type QualityBand struct {
	Tier             QualityTier `yaml:"tier" json:"tier"`
	MinBandwidthMbps float64     `yaml:"min_bandwidth_mbps" json:"min_bandwidth_mbps"`
	MaxRoundTripMs   float64     `yaml:"max_rtt_ms" json:"max_rtt_ms"`
	MaxJitterMs      float64     `yaml:"max_jitter_ms" json:"max_jitter_ms"`
	MaxLossPercent   float64     `yaml:"max_loss_percent" json:"max_loss_percent"`
}

// DefaultQualityBands is the canonical five tier table, best first.
// Anything that misses the last row is TierBad.
func DefaultQualityBands() []QualityBand {
	return []QualityBand{
		{Tier: TierExcellent, MinBandwidthMbps: 4, MaxRoundTripMs: 50, MaxJitterMs: 10, MaxLossPercent: 0.5},
		{Tier: TierGood, MinBandwidthMbps: 2, MaxRoundTripMs: 100, MaxJitterMs: 25, MaxLossPercent: 1},
		{Tier: TierFair, MinBandwidthMbps: 1, MaxRoundTripMs: 200, MaxJitterMs: 40, MaxLossPercent: 3},
		{Tier: TierPoor, MinBandwidthMbps: 0.5, MaxRoundTripMs: 300, MaxJitterMs: 80, MaxLossPercent: 8},
	}
}

// ValidateQualityBands checks that bands run best to worst and that every
// threshold is equal or looser than the row above it.
func ValidateQualityBands(bands []QualityBand) error {
	if len(bands) == 0 {
		return fmt.Errorf("at least one quality band is required")
	}
	for i, b := range bands {
		if b.Tier <= TierBad || b.Tier > TierExcellent {
			return fmt.Errorf("band %d: tier %s cannot be used as a band", i, b.Tier)
		}
		if b.MinBandwidthMbps < 0 || b.MaxRoundTripMs < 0 || b.MaxJitterMs < 0 || b.MaxLossPercent < 0 {
			return fmt.Errorf("band %d: thresholds must be >= 0", i)
		}
		if i == 0 {
			continue
		}
		prev := bands[i-1]
		if b.Tier >= prev.Tier {
			return fmt.Errorf("band %d: tier %s must rank below %s", i, b.Tier, prev.Tier)
		}
		if b.MinBandwidthMbps > prev.MinBandwidthMbps ||
			b.MaxRoundTripMs < prev.MaxRoundTripMs ||
			b.MaxJitterMs < prev.MaxJitterMs ||
			b.MaxLossPercent < prev.MaxLossPercent {
			return fmt.Errorf("band %d (%s): thresholds must be equal or looser than %s", i, b.Tier, prev.Tier)
		}
	}
	return nil
}
