package radio

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"positioning-go/estimate"
)

func meas(id int, x, y, dist, conf float64) RangeMeasurement {
	return RangeMeasurement{
		Anchor: estimate.AnchorFix{ID: id, X: x, Y: y, TxPowerDbm: -59},
		Range:  estimate.DistanceEstimate{DistanceM: dist, Confidence: conf},
	}
}

func distTo(x, y, ax, ay float64) float64 {
	return math.Hypot(x-ax, y-ay)
}

func TestSolveExactGeometry(t *testing.T) {
	// True position (3, 4) with three well-spread anchors and exact ranges.
	tx, ty := 3.0, 4.0
	ms := []RangeMeasurement{
		meas(1, 0, 0, distTo(tx, ty, 0, 0), 0.9),
		meas(2, 10, 0, distTo(tx, ty, 10, 0), 0.9),
		meas(3, 0, 10, distTo(tx, ty, 0, 10), 0.9),
	}
	pos := Solve(ms, 1234)
	require.True(t, pos.IsValid())
	assert.InDelta(t, tx, pos.X, 0.01)
	assert.InDelta(t, ty, pos.Y, 0.01)
	assert.Equal(t, estimate.SourceRadio, pos.Source)
	assert.Equal(t, int64(1234), pos.TimestampMs)
	assert.Less(t, pos.AccuracyM, 2.0)
	assert.Greater(t, pos.Confidence, 0.3)
}

func TestSolveTooFewAnchors(t *testing.T) {
	ms := []RangeMeasurement{
		meas(1, 0, 0, 5, 0.9),
		meas(2, 10, 0, 5, 0.9),
	}
	pos := Solve(ms, 0)
	assert.False(t, pos.IsValid())
	assert.Equal(t, estimate.SourceUnknown, pos.Source)
}

func TestSolveLowConfidenceAnchorsDropped(t *testing.T) {
	// Three anchors, but one below the confidence floor: effectively two.
	ms := []RangeMeasurement{
		meas(1, 0, 0, 5, 0.9),
		meas(2, 10, 0, 5, 0.9),
		meas(3, 0, 10, 5, 0.01),
	}
	pos := Solve(ms, 0)
	assert.False(t, pos.IsValid())
}

func TestSolveCollinearGeometryInflatesAccuracy(t *testing.T) {
	// Anchors on a line: the fix may still resolve, but the reported
	// uncertainty must reflect the degenerate geometry.
	tx, ty := 5.0, 0.0
	good := Solve([]RangeMeasurement{
		meas(1, 0, 0, distTo(tx, ty, 0, 0), 0.9),
		meas(2, 10, 0, distTo(tx, ty, 10, 0), 0.9),
		meas(3, 5, 8, distTo(tx, ty, 5, 8), 0.9),
	}, 0)
	collinear := Solve([]RangeMeasurement{
		meas(1, 0, 0, distTo(tx, ty, 0, 0), 0.9),
		meas(2, 10, 0, distTo(tx, ty, 10, 0), 0.9),
		meas(3, 20, 0, distTo(tx, ty, 20, 0), 0.9),
	}, 0)

	require.True(t, good.IsValid())
	if collinear.IsValid() {
		assert.Greater(t, collinear.AccuracyM, 5.0*good.AccuracyM)
		assert.Less(t, collinear.Confidence, good.Confidence)
	}
}

func TestSolveWeightsPullTowardConfidentAnchor(t *testing.T) {
	// Inconsistent ranges: anchor 1 says the target is at distance 2, the
	// others (with low confidence) disagree. The high-confidence anchor
	// should dominate the fit.
	low := Solve([]RangeMeasurement{
		meas(1, 0, 0, 2, 0.9),
		meas(2, 10, 0, 10, 0.1),
		meas(3, 0, 10, 10, 0.1),
	}, 0)
	even := Solve([]RangeMeasurement{
		meas(1, 0, 0, 2, 0.5),
		meas(2, 10, 0, 10, 0.5),
		meas(3, 0, 10, 10, 0.5),
	}, 0)
	require.True(t, low.IsValid())
	require.True(t, even.IsValid())

	residLow := math.Abs(distTo(low.X, low.Y, 0, 0) - 2.0)
	residEven := math.Abs(distTo(even.X, even.Y, 0, 0) - 2.0)
	assert.Less(t, residLow, residEven)
}

func TestSolveNoisyRangesStillConverge(t *testing.T) {
	tx, ty := 6.0, 2.5
	noise := []float64{0.4, -0.3, 0.2, -0.5}
	ms := []RangeMeasurement{
		meas(1, 0, 0, distTo(tx, ty, 0, 0)+noise[0], 0.8),
		meas(2, 12, 0, distTo(tx, ty, 12, 0)+noise[1], 0.8),
		meas(3, 0, 9, distTo(tx, ty, 0, 9)+noise[2], 0.8),
		meas(4, 12, 9, distTo(tx, ty, 12, 9)+noise[3], 0.8),
	}
	pos := Solve(ms, 0)
	require.True(t, pos.IsValid())
	assert.InDelta(t, tx, pos.X, 1.0)
	assert.InDelta(t, ty, pos.Y, 1.0)
	assert.GreaterOrEqual(t, pos.Confidence, 0.0)
	assert.LessOrEqual(t, pos.Confidence, 1.0)
}

func TestSolveIgnoresGarbageRanges(t *testing.T) {
	ms := []RangeMeasurement{
		meas(1, 0, 0, math.MaxFloat64, 0.9), // "no signal" range
		meas(2, 10, 0, 5, 0.9),
		meas(3, 0, 10, 5, 0.9),
	}
	pos := Solve(ms, 0)
	assert.False(t, pos.IsValid())
}
