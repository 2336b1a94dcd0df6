package model

// ConfidenceBand is a reporting-only classification of an agreement score.
// It never alters the stored score.
type ConfidenceBand string

const (
	ConfidenceHigh    ConfidenceBand = "high"
	ConfidenceMedium  ConfidenceBand = "medium"
	ConfidenceLow     ConfidenceBand = "low"
	ConfidenceFlagged ConfidenceBand = "low_flagged_for_review"
)

// ConsensusRow is one final ranked specification attribute with its agreed
// option set and cross-source agreement score. Produced exactly once per
// job, in rank order; never mutated afterwards.
type ConsensusRow struct {
	Rank      int      `json:"rank"`
	Attribute string   `json:"attribute"`
	Options   []string `json:"options"`

	// AgreementScore counts the non-expert sources where the attribute is
	// present. The expert source is reported in Presence but not counted.
	AgreementScore int `json:"agreement_score"`

	// TotalFrequency is the summed frequency across presence-true sources,
	// used as the ranking tie-breaker.
	TotalFrequency int `json:"total_frequency"`

	Presence map[SourceID]bool `json:"per_source_presence"`
}

// Band classifies an agreement score against the number of configured
// non-expert sources. score==n is high, n-1 medium, <=1 flagged for review.
func Band(score, nonExpertSources int) ConfidenceBand {
	switch {
	case nonExpertSources > 0 && score >= nonExpertSources:
		return ConfidenceHigh
	case nonExpertSources > 1 && score == nonExpertSources-1:
		return ConfidenceMedium
	case score <= 1:
		return ConfidenceFlagged
	default:
		return ConfidenceLow
	}
}
