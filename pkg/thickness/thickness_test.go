package thickness

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestConvert_Golden(t *testing.T) {
	c := DefaultConstants(2.648, 1)

	got, err := Convert(500000, 2500000, c)
	require.NoError(t, err)

	// 200 * 2,500,000 / 500,000
	assert.Equal(t, 1000.0, got.Frequency)

	want := (16.68e12 * 2.648) / (3.1416 * 1000.0 * 2.648 * 1) *
		math.Atan(1*math.Tan(3.1416*(6e6-1000.0)/6e6))
	assert.InEpsilon(t, want, got.Thickness, 1e-6)
	assert.InEpsilon(t, -2740994.9954657108, got.Thickness, 1e-6)
}

func TestConvert_Deterministic(t *testing.T) {
	c := DefaultConstants(19.3, 0.381)

	for _, raw := range []int64{1, 83, 500000, 1 << 40} {
		a, errA := Convert(raw, 2500000, c)
		b, errB := Convert(raw, 2500000, c)
		require.NoError(t, errA)
		require.NoError(t, errB)
		assert.Equal(t, a, b, "raw count %d", raw)
	}
}

func TestConvert_DensityAndZRatio(t *testing.T) {
	base, err := Convert(83000, 2500000, DefaultConstants(1, 1))
	require.NoError(t, err)
	assert.InEpsilon(t, -7344294.648165891, base.Thickness, 1e-6)

	// Doubling the density halves the prefactor; the correction does not depend on it.
	dense, err := Convert(83000, 2500000, DefaultConstants(2, 1))
	require.NoError(t, err)
	assert.InEpsilon(t, base.Thickness/2, dense.Thickness, 1e-9)
	assert.Equal(t, base.Frequency, dense.Frequency)

	z := 0.5
	withZ, err := Convert(83000, 2500000, DefaultConstants(1, z))
	require.NoError(t, err)
	arg := Pi * (FreqInit - base.Frequency) / FreqInit
	want := ATConst * QuartzDensity / (Pi * base.Frequency * 1 * z) * math.Atan(z*math.Tan(arg))
	assert.InEpsilon(t, want, withZ.Thickness, 1e-9)
}

func TestConvert_Errors(t *testing.T) {
	tests := []struct {
		name       string
		raw        int64
		gatePeriod int64
		constants  Constants
	}{
		{
			name:       "zero raw count",
			raw:        0,
			gatePeriod: 2500000,
			constants:  DefaultConstants(1, 1),
		},
		{
			name:       "negative raw count",
			raw:        -5,
			gatePeriod: 2500000,
			constants:  DefaultConstants(1, 1),
		},
		{
			name:       "zero gate period",
			raw:        500000,
			gatePeriod: 0,
			constants:  DefaultConstants(1, 1),
		},
		{
			name:       "zero density",
			raw:        500000,
			gatePeriod: 2500000,
			constants:  DefaultConstants(0, 1),
		},
		{
			name:       "zero z-ratio",
			raw:        500000,
			gatePeriod: 2500000,
			constants:  DefaultConstants(1, 0),
		},
		{
			// frequency = FreqInit/2 puts the tan argument exactly at π/2
			name:       "correction singularity",
			raw:        1,
			gatePeriod: 15000,
			constants: Constants{
				ATConst:       ATConst,
				QuartzDensity: QuartzDensity,
				Pi:            math.Pi,
				FreqInit:      FreqInit,
				Density:       1,
				ZRatio:        1,
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Convert(tt.raw, tt.gatePeriod, tt.constants)
			require.Error(t, err)
			assert.ErrorIs(t, err, ErrMeasurement)
			assert.Equal(t, Reading{}, got)
		})
	}
}

func TestConverter_SettersApplyToNextConversion(t *testing.T) {
	conv := NewConverter(DefaultConstants(1, 1))

	before, err := conv.Convert(83000, 2500000)
	require.NoError(t, err)

	require.NoError(t, conv.SetDensity(2))
	require.NoError(t, conv.SetZRatio(0.5))
	assert.Equal(t, 2.0, conv.Constants().Density)
	assert.Equal(t, 0.5, conv.Constants().ZRatio)

	after, err := conv.Convert(83000, 2500000)
	require.NoError(t, err)
	assert.NotEqual(t, before.Thickness, after.Thickness)

	want, err := Convert(83000, 2500000, DefaultConstants(2, 0.5))
	require.NoError(t, err)
	assert.Equal(t, want, after)
}

func TestConverter_RejectsInvalidSettings(t *testing.T) {
	conv := NewConverter(DefaultConstants(1.5, 0.8))

	assert.Error(t, conv.SetDensity(0))
	assert.Error(t, conv.SetDensity(-1))
	assert.Error(t, conv.SetDensity(math.NaN()))
	assert.Error(t, conv.SetZRatio(0))
	assert.Error(t, conv.SetZRatio(math.Inf(1)))

	assert.Equal(t, 1.5, conv.Constants().Density)
	assert.Equal(t, 0.8, conv.Constants().ZRatio)
}
