package triangulate

import (
	"math/rand/v2"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/speclens/internal/model"
	"github.com/sells-group/speclens/internal/normalize"
)

func testPolicy() *normalize.Policy {
	return normalize.NewPolicy("test", map[string]string{
		"hp":         "horsepower",
		"motorpower": "motor power",
	})
}

func TestTriangulate_GroupsEquivalentItems(t *testing.T) {
	items := []model.NormalizedItem{
		{Attribute: "Motor Power", Option: "100kg/hr"},
		{Attribute: "motor  power", Option: "100 KG/HR"},
		{Attribute: "MOTOR POWER:", Option: "100kg/hr"},
		{Attribute: "Voltage", Option: "220V"},
	}

	result := Triangulate(model.SourceSearchKeywords, items, testPolicy(), 0)
	require.Len(t, result.Specs, 2)

	assert.Equal(t, "motor power", result.Specs[0].Attribute)
	assert.Equal(t, 3, result.Specs[0].Frequency)
	assert.Equal(t, "voltage", result.Specs[1].Attribute)
	assert.Equal(t, 1, result.Specs[1].Frequency)
}

func TestTriangulate_SynonymsCollapseAttributes(t *testing.T) {
	items := []model.NormalizedItem{
		{Attribute: "HP", Option: "5"},
		{Attribute: "Horsepower", Option: "5"},
	}

	result := Triangulate(model.SourceWhatsappSpecs, items, testPolicy(), 0)
	require.Len(t, result.Specs, 1)
	assert.Equal(t, "horsepower", result.Specs[0].Attribute)
	assert.Equal(t, 2, result.Specs[0].Frequency)
}

func TestTriangulate_FrequencyDescendingOrder(t *testing.T) {
	items := []model.NormalizedItem{
		{Attribute: "Capacity", Option: "50 kg"},
		{Attribute: "Voltage", Option: "220V"},
		{Attribute: "Voltage", Option: "220V"},
		{Attribute: "Voltage", Option: "220V"},
		{Attribute: "Capacity", Option: "50 kg"},
	}

	result := Triangulate(model.SourceLMSChats, items, testPolicy(), 0)
	require.Len(t, result.Specs, 2)
	assert.Equal(t, "voltage", result.Specs[0].Attribute)
	assert.Equal(t, 3, result.Specs[0].Frequency)
	assert.Equal(t, "capacity", result.Specs[1].Attribute)
}

func TestTriangulate_DeterministicUnderPermutation(t *testing.T) {
	items := []model.NormalizedItem{
		{Attribute: "Motor Power", Option: "100kg/hr"},
		{Attribute: "Motor Power", Option: "100 kg/hr"},
		{Attribute: "Voltage", Option: "220V"},
		{Attribute: "Voltage", Option: "440V"},
		{Attribute: "Capacity", Option: "50 kg"},
		{Attribute: "Capacity", Option: "50kg"},
		{Attribute: "Usage", Option: "Commercial"},
	}

	baseline := Triangulate(model.SourceSearchKeywords, items, testPolicy(), 0)

	rng := rand.New(rand.NewPCG(7, 11))
	for i := 0; i < 20; i++ {
		shuffled := make([]model.NormalizedItem, len(items))
		copy(shuffled, items)
		rng.Shuffle(len(shuffled), func(a, b int) {
			shuffled[a], shuffled[b] = shuffled[b], shuffled[a]
		})

		result := Triangulate(model.SourceSearchKeywords, shuffled, testPolicy(), 0)
		assert.Equal(t, baseline.Specs, result.Specs, "permutation %d", i)
	}
}

func TestTriangulate_MinSupportFilter(t *testing.T) {
	items := []model.NormalizedItem{
		{Attribute: "Voltage", Option: "220V"},
		{Attribute: "Voltage", Option: "220V"},
		{Attribute: "Color", Option: "Red"},
	}

	result := Triangulate(model.SourceRejectionComments, items, testPolicy(), 2)
	require.Len(t, result.Specs, 1)
	assert.Equal(t, "voltage", result.Specs[0].Attribute)
}

func TestTriangulate_ExpertNeverFiltered(t *testing.T) {
	items := []model.NormalizedItem{
		{Attribute: "Voltage", Option: "220V"},
		{Attribute: "Color", Option: "Red"},
	}

	result := Triangulate(model.SourcePNS, items, testPolicy(), 5)
	assert.Len(t, result.Specs, 2)
}

func TestTriangulate_SkipsEmptyAttributes(t *testing.T) {
	items := []model.NormalizedItem{
		{Attribute: "  ", Option: "220V"},
		{Attribute: "Voltage", Option: "220V"},
	}

	result := Triangulate(model.SourceSearchKeywords, items, testPolicy(), 0)
	require.Len(t, result.Specs, 1)
	assert.Equal(t, "voltage", result.Specs[0].Attribute)
}

func TestTriangulate_EmptyInput(t *testing.T) {
	result := Triangulate(model.SourceSearchKeywords, nil, testPolicy(), 0)
	assert.Equal(t, model.SourceSearchKeywords, result.SourceID)
	assert.Empty(t, result.Specs)
}
