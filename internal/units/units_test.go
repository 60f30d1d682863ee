package units

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParse(t *testing.T) {
	tests := []struct {
		input    string
		expected Unit
	}{
		{"ft", Feet},
		{"FT", Feet},
		{"feet", Feet},
		{" Feet ", Feet},
		{"m", Meters},
		{"meters", Meters},
		{"Meter", Meters},
	}
	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			u, err := Parse(tt.input)
			require.NoError(t, err)
			assert.Equal(t, tt.expected, u)
		})
	}
}

func TestParse_Invalid(t *testing.T) {
	_, err := Parse("fathoms")
	require.Error(t, err)

	var ue *InvalidUnitError
	require.True(t, errors.As(err, &ue))
	assert.Equal(t, "fathoms", ue.Unit)
	assert.Contains(t, err.Error(), "fathoms")
}

func TestToMeters_Feet(t *testing.T) {
	got, err := ToMeters(100, Feet)
	require.NoError(t, err)
	assert.Equal(t, 30.48, got)
}

func TestToMeters_MetersUnchanged(t *testing.T) {
	got, err := ToMeters(12.34, Meters)
	require.NoError(t, err)
	assert.Equal(t, 12.34, got)
}

func TestToMeters_IdempotentOnceConverted(t *testing.T) {
	// Converting an already-converted value with the meters unit is a no-op.
	once, err := ToMeters(100, Feet)
	require.NoError(t, err)
	twice, err := ToMeters(once, Meters)
	require.NoError(t, err)
	assert.Equal(t, once, twice)
}

func TestToMeters_InvalidUnit(t *testing.T) {
	_, err := ToMeters(1, Unit("furlongs"))
	require.Error(t, err)

	var ue *InvalidUnitError
	require.True(t, errors.As(err, &ue))
	assert.Equal(t, "furlongs", ue.Unit)
}
