package shared

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGrowthPercentBaselines(t *testing.T) {
	cases := []struct {
		name    string
		base    *float64
		current *float64
		want    float64
	}{
		{"zero base positive current", Float(0), Float(12), 100},
		{"nil base positive current", nil, Float(3), 100},
		{"zero base negative current", Float(0), Float(-4), 100},
		{"zero base zero current", Float(0), Float(0), 0},
		{"nil base nil current", nil, nil, 0},
		{"non-zero base nil current", Float(50), nil, -100},
		{"non-zero base zero current", Float(-8), Float(0), -100},
		{"increase", Float(50), Float(75), 50},
		{"decrease", Float(50), Float(25), -50},
		{"negative base", Float(-50), Float(-25), 50},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got := GrowthPercent(tc.base, tc.current)
			require.NotNil(t, got)
			assert.Equal(t, tc.want, *got)
		})
	}
}

func TestGrowthPercentNeverNonFinite(t *testing.T) {
	got := GrowthPercent(Float(math.SmallestNonzeroFloat64), Float(math.MaxFloat64))
	assert.Nil(t, got)

	got = GrowthPercent(Float(math.NaN()), Float(1))
	assert.Nil(t, got)
}
