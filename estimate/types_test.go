package estimate

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestInvalidSentinel(t *testing.T) {
	inv := Invalid()
	assert.False(t, inv.IsValid())
	assert.True(t, math.IsNaN(inv.X))
	assert.True(t, math.IsNaN(inv.Y))
	assert.True(t, math.IsInf(inv.AccuracyM, 1))
	assert.Equal(t, 0.0, inv.Confidence)
	assert.Equal(t, SourceUnknown, inv.Source)
}

func TestIsValid(t *testing.T) {
	tests := []struct {
		name string
		pos  PositionEstimate
		want bool
	}{
		{"valid", PositionEstimate{X: 1, Y: 2, AccuracyM: 3}, true},
		{"nan x", PositionEstimate{X: math.NaN(), Y: 2, AccuracyM: 3}, false},
		{"nan y", PositionEstimate{X: 1, Y: math.NaN(), AccuracyM: 3}, false},
		{"inf accuracy", PositionEstimate{X: 1, Y: 2, AccuracyM: math.Inf(1)}, false},
		{"zero value ok", PositionEstimate{}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.pos.IsValid())
		})
	}
}

func TestNormalizeDeg(t *testing.T) {
	tests := []struct {
		in, want float64
	}{
		{0, 0},
		{359.9, 359.9},
		{360, 0},
		{725, 5},
		{-5, 355},
		{-725, 355},
	}
	for _, tt := range tests {
		assert.InDelta(t, tt.want, NormalizeDeg(tt.in), 1e-9, "NormalizeDeg(%v)", tt.in)
	}
}

func TestAngleDiffDeg(t *testing.T) {
	tests := []struct {
		a, b, want float64
	}{
		{10, 350, 20},
		{350, 10, -20},
		{180, 0, 180},
		{0, 0, 0},
		{90, 270, 180},
	}
	for _, tt := range tests {
		assert.InDelta(t, tt.want, AngleDiffDeg(tt.a, tt.b), 1e-9, "AngleDiffDeg(%v,%v)", tt.a, tt.b)
	}
}

func TestVector3Norm(t *testing.T) {
	assert.InDelta(t, 9.8, Vector3{Z: 9.8}.Norm(), 1e-12)
	assert.InDelta(t, math.Sqrt(3), Vector3{1, 1, 1}.Norm(), 1e-12)
}
