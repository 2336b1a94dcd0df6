package model

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestJobStatusTerminal(t *testing.T) {
	tests := []struct {
		status   JobStatus
		terminal bool
	}{
		{JobStatusCreated, false},
		{JobStatusFetching, false},
		{JobStatusExtracting, false},
		{JobStatusTriangulating, false},
		{JobStatusConsensus, false},
		{JobStatusCompleted, true},
		{JobStatusFailed, true},
		{JobStatusCancelled, true},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.terminal, tt.status.Terminal(), string(tt.status))
	}
}

func TestSourceIDIsExpert(t *testing.T) {
	assert.True(t, SourcePNS.IsExpert())
	for _, s := range NonExpertSources {
		assert.False(t, s.IsExpert(), string(s))
	}
}

func TestSourceIDValid(t *testing.T) {
	assert.True(t, SourceLMSChats.Valid())
	assert.True(t, SourcePNS.Valid())
	assert.False(t, SourceID("twitter").Valid())
	assert.False(t, SourceID("").Valid())
}

func TestSourceResultHasAttribute(t *testing.T) {
	r := &SourceResult{
		SourceID: SourceSearchKeywords,
		Specs: []SpecCount{
			{Attribute: "motor power", Option: "100kg/hr", Frequency: 3},
		},
	}
	assert.True(t, r.HasAttribute("motor power"))
	assert.False(t, r.HasAttribute("voltage"))

	var nilResult *SourceResult
	assert.False(t, nilResult.HasAttribute("motor power"))
}

func TestSourceResultTopSpecs(t *testing.T) {
	r := &SourceResult{
		Specs: []SpecCount{
			{Attribute: "motor power", Option: "3 hp", Frequency: 5},
			{Attribute: "capacity", Option: "100 kg/hr", Frequency: 3},
			{Attribute: "material", Option: "steel", Frequency: 1},
		},
	}
	assert.Len(t, r.TopSpecs(2), 2)
	assert.Equal(t, "motor power", r.TopSpecs(2)[0].Attribute)
	assert.Len(t, r.TopSpecs(0), 3)
	assert.Len(t, r.TopSpecs(10), 3)

	var nilResult *SourceResult
	assert.Nil(t, nilResult.TopSpecs(5))
}

func TestBand(t *testing.T) {
	// Four configured non-expert sources.
	assert.Equal(t, ConfidenceHigh, Band(4, 4))
	assert.Equal(t, ConfidenceMedium, Band(3, 4))
	assert.Equal(t, ConfidenceLow, Band(2, 4))
	assert.Equal(t, ConfidenceFlagged, Band(1, 4))
	assert.Equal(t, ConfidenceFlagged, Band(0, 4))

	// Degenerate configurations: the N-1 rule wins over the <=1 rule.
	assert.Equal(t, ConfidenceHigh, Band(2, 2))
	assert.Equal(t, ConfidenceMedium, Band(1, 2))
}
