package pdr

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// feed runs a valley/peak/valley triple through the detector and reports
// whether any of the three samples completed a step.
func feed(d *StepDetector, valley, peak float64, t0, dtMs int64) bool {
	stepped := false
	stepped = d.Process(valley, t0) || stepped
	stepped = d.Process(peak, t0+dtMs) || stepped
	stepped = d.Process(valley, t0+2*dtMs) || stepped
	return stepped
}

func TestStepDetectedOnValleyPeakValley(t *testing.T) {
	d := NewStepDetector(DefaultStepConfig())

	assert.False(t, d.Process(9.0, 0))
	assert.False(t, d.Process(11.0, 100))
	// The descent confirms the peak; this sample completes the step.
	assert.True(t, d.Process(9.0, 200))
	assert.Equal(t, 1, d.StepCount())
}

func TestStepRejectedBelowPeakThreshold(t *testing.T) {
	d := NewStepDetector(DefaultStepConfig())
	assert.False(t, feed(d, 9.0, 10.0, 0, 100))
	assert.Equal(t, 0, d.StepCount())
}

func TestStepRejectedBySmallSwing(t *testing.T) {
	cfg := DefaultStepConfig()
	cfg.PeakThreshold = 10.0
	cfg.ValleyThreshold = 10.0
	d := NewStepDetector(cfg)

	// Peak and valley both clear their thresholds but the swing between
	// them (0.4) is under MinPeakValleyHeight.
	assert.False(t, feed(d, 9.8, 10.2, 0, 100))
	assert.Equal(t, 0, d.StepCount())
}

func TestStepTooFastRejected(t *testing.T) {
	d := NewStepDetector(DefaultStepConfig())

	require.True(t, feed(d, 9.0, 11.0, 0, 100))
	// Next candidate lands 150 ms after the accepted step: jitter.
	assert.False(t, feed(d, 9.0, 11.0, 250, 50))
	assert.Equal(t, 1, d.StepCount())
}

func TestStepTooSlowReseedsCadence(t *testing.T) {
	d := NewStepDetector(DefaultStepConfig())

	require.True(t, feed(d, 9.0, 11.0, 0, 100))

	// 2.3 s after the last step: the pattern itself is fine but the cadence
	// window expired, so it only re-arms the detector.
	assert.False(t, feed(d, 9.0, 11.0, 2300, 100))
	assert.Equal(t, 1, d.StepCount())

	// Walking resumes at a normal cadence relative to the re-arm point.
	assert.True(t, feed(d, 9.0, 11.0, 3000, 100))
	assert.Equal(t, 2, d.StepCount())
}

func TestStepSequenceCounts(t *testing.T) {
	d := NewStepDetector(DefaultStepConfig())
	ts := int64(0)
	for i := 0; i < 5; i++ {
		feed(d, 9.0, 11.0, ts, 100)
		ts += 600
	}
	assert.Equal(t, 5, d.StepCount())
}

func TestStepDetectorReset(t *testing.T) {
	d := NewStepDetector(DefaultStepConfig())
	require.True(t, feed(d, 9.0, 11.0, 0, 100))
	d.Reset()
	assert.Equal(t, 0, d.StepCount())
	// Post-reset the first valid pattern is accepted again.
	assert.True(t, feed(d, 9.0, 11.0, 100, 100))
}

func TestRotationGateBlocksWithoutGyroWhenRequired(t *testing.T) {
	d := NewStepDetector(DefaultStepConfig())
	d.SetCorroborator(NewRotationGate(true))

	assert.False(t, feed(d, 9.0, 11.0, 0, 100))
	assert.Equal(t, 0, d.StepCount())
}

func TestRotationGatePassthroughWithoutGyroWhenOptional(t *testing.T) {
	d := NewStepDetector(DefaultStepConfig())
	d.SetCorroborator(NewRotationGate(false))

	assert.True(t, feed(d, 9.0, 11.0, 0, 100))
	assert.Equal(t, 1, d.StepCount())
}

func TestRotationGateAcceptsWithRecentRotation(t *testing.T) {
	g := NewRotationGate(true)
	d := NewStepDetector(DefaultStepConfig())
	d.SetCorroborator(g)

	g.Observe(0.5, 150)
	assert.True(t, feed(d, 9.0, 11.0, 0, 100))

	// Rotation evidence aged past the window: next step is vetoed.
	assert.False(t, feed(d, 9.0, 11.0, 600, 100))
	assert.Equal(t, 1, d.StepCount())
}

func TestRotationGateLenientPassesQuietGyro(t *testing.T) {
	g := NewRotationGate(false)
	d := NewStepDetector(DefaultStepConfig())
	d.SetCorroborator(g)

	// A gyro-less device reports zero rates; a quiet one reports rates far
	// under the activity threshold. Neither may gate steps under the
	// lenient policy.
	g.Observe(0, 50)
	g.Observe(0.001, 150)
	assert.True(t, feed(d, 9.0, 11.0, 0, 100))
	assert.Equal(t, 1, d.StepCount())

	// Once real rotation has been seen the gate corroborates normally:
	// evidence aged past the window vetoes the candidate.
	g.Observe(0.5, 700)
	assert.True(t, feed(d, 9.0, 11.0, 600, 100))
	assert.False(t, feed(d, 9.0, 11.0, 1500, 100))
	assert.Equal(t, 2, d.StepCount())
}

func TestRotationGateIgnoresSubThresholdRates(t *testing.T) {
	g := NewRotationGate(true)
	g.Observe(0.1, 100)
	assert.False(t, g.Corroborate(150))

	g.Observe(0.4, 200)
	assert.True(t, g.Corroborate(250))
}
