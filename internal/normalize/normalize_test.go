package normalize

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAttributeCanonicalization(t *testing.T) {
	p := NewPolicy("v1", nil)

	tests := []struct {
		in   string
		want string
	}{
		{"Motor Power", "motor power"},
		{"  Motor   Power  ", "motor power"},
		{"MOTOR POWER:", "motor power"},
		{"Capacity.", "capacity"},
		{"Voltage,", "voltage"},
		{"", ""},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.want, p.Attribute(tt.in), tt.in)
	}
}

func TestAttributeSynonyms(t *testing.T) {
	p := NewPolicy("v1", map[string]string{
		"HP":         "Horsepower",
		"MotorPower": "Motor Power",
	})

	assert.Equal(t, "horsepower", p.Attribute("hp"))
	assert.Equal(t, "horsepower", p.Attribute("  HP: "))
	assert.Equal(t, "motor power", p.Attribute("MotorPower"))
	assert.Equal(t, "voltage", p.Attribute("Voltage"))
}

func TestCanonicalizationIdempotent(t *testing.T) {
	p := NewPolicy("v1", map[string]string{"hp": "horsepower"})

	inputs := []string{"HP", "Motor  Power:", "100 KG/HR", "50%", "Usage (Approx)"}
	for _, in := range inputs {
		once := p.Attribute(in)
		assert.Equal(t, once, p.Attribute(once), in)

		opt := p.Option(in)
		assert.Equal(t, opt, p.Option(opt), in)
	}
}

func TestOptionKeyCollapsesWhitespace(t *testing.T) {
	p := NewPolicy("v1", nil)

	assert.Equal(t, "100kg/hr", p.OptionKey("100 KG/HR"))
	assert.Equal(t, "100kg/hr", p.OptionKey("100kg/hr"))
	assert.Equal(t, p.OptionKey("3 Phase"), p.OptionKey("3Phase"))
}

func TestOptionKeepsUnits(t *testing.T) {
	p := NewPolicy("v1", nil)

	assert.Equal(t, "100 kg/hr", p.Option("100 KG/HR"))
	assert.Equal(t, "50%", p.Option("50%"))
	assert.Equal(t, "semi-automatic", p.Option("Semi-Automatic"))
}

func TestDisplay(t *testing.T) {
	assert.Equal(t, "Motor Power", Display("motor power"))
	assert.Equal(t, "Capacity", Display("capacity"))
	assert.Equal(t, "", Display(""))
}

func TestLoadPolicy(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "synonyms.yaml")
	content := `version: "2024-06"
synonyms:
  "HP": "Horsepower"
  "Capacity (kg/hr)": "Capacity"
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))

	p, err := LoadPolicy(path)
	require.NoError(t, err)
	assert.Equal(t, "2024-06", p.Version())
	assert.Equal(t, "horsepower", p.Attribute("hp"))
	assert.Equal(t, "capacity", p.Attribute("Capacity (kg/hr)"))
}

func TestLoadPolicyMissingFile(t *testing.T) {
	_, err := LoadPolicy("/nonexistent/synonyms.yaml")
	assert.Error(t, err)
}

func TestNilPolicySafe(t *testing.T) {
	var p *Policy
	assert.Equal(t, "motor power", p.Attribute("Motor  Power"))
	assert.Equal(t, "", p.Version())
}
