package fusion

import (
	"math"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"positioning-go/estimate"
	"positioning-go/pdr"
)

func testAnchors() []estimate.AnchorFix {
	return []estimate.AnchorFix{
		{ID: 1, X: 0, Y: 0, TxPowerDbm: -59},
		{ID: 2, X: 10, Y: 0, TxPowerDbm: -59},
		{ID: 3, X: 0, Y: 10, TxPowerDbm: -59},
	}
}

func testPipeline(requireRotation bool) *Pipeline {
	log := logrus.New()
	log.SetLevel(logrus.PanicLevel)
	return NewPipeline(PipelineConfig{
		Anchors:          testAnchors(),
		PathLossExponent: 2.0,
		RequireRotation:  requireRotation,
	}, log)
}

// rssiAt returns the RSSI an anchor at (ax, ay) would produce for a device
// at (x, y) under the n=2 path-loss model with a -59 dBm reference.
func rssiAt(x, y, ax, ay float64) float64 {
	d := math.Hypot(x-ax, y-ay)
	if d < 1e-6 {
		d = 1e-6
	}
	return -59.0 - 20.0*math.Log10(d)
}

func scanAt(x, y float64) []RSSIReading {
	return []RSSIReading{
		{AnchorID: 1, RSSIDbm: rssiAt(x, y, 0, 0)},
		{AnchorID: 2, RSSIDbm: rssiAt(x, y, 10, 0)},
		{AnchorID: 3, RSSIDbm: rssiAt(x, y, 0, 10)},
	}
}

func TestPipelineRadioOnlyConverges(t *testing.T) {
	p := testPipeline(false)

	var cur estimate.PositionEstimate
	ts := int64(1000)
	for i := 0; i < 5; i++ {
		cur = p.ProcessRadioBatch(scanAt(3, 4), ts)
		ts += 500
	}
	require.True(t, cur.IsValid())
	assert.Equal(t, estimate.SourceFusion, cur.Source)
	assert.InDelta(t, 3.0, cur.X, 1.5)
	assert.InDelta(t, 4.0, cur.Y, 1.5)
	assert.Greater(t, cur.Confidence, 0.0)
}

func TestPipelineNoFixBeforeEnoughAnchors(t *testing.T) {
	p := testPipeline(false)

	// Two anchors only: the solver cannot produce a fix and the engine
	// stays unseeded.
	cur := p.ProcessRadioBatch([]RSSIReading{
		{AnchorID: 1, RSSIDbm: -70},
		{AnchorID: 2, RSSIDbm: -70},
	}, 1000)
	assert.False(t, cur.IsValid())
	assert.False(t, p.Current().IsValid())
}

func TestPipelineUnknownAnchorIgnored(t *testing.T) {
	p := testPipeline(false)
	cur := p.ProcessRadio(99, -70, 1000)
	assert.False(t, cur.IsValid())
}

func TestPipelineCountsStepsThroughInertial(t *testing.T) {
	p := testPipeline(false)

	ts := int64(1000)
	gyro := estimate.Vector3{Z: -0.4}
	for i := 0; i < 4; i++ {
		p.ProcessInertial(estimate.Vector3{Z: 9.0}, gyro, nil, ts)
		p.ProcessInertial(estimate.Vector3{Z: 11.0}, gyro, nil, ts+100)
		p.ProcessInertial(estimate.Vector3{Z: 9.0}, gyro, nil, ts+200)
		ts += 600
	}
	assert.Equal(t, 4, p.StepCount())
}

func TestPipelineGyrolessDeviceCountsSteps(t *testing.T) {
	p := testPipeline(false)

	// A device without a gyroscope reports zero rotation on every IMU
	// sample; the lenient policy must still accept the step pattern.
	ts := int64(1000)
	for i := 0; i < 4; i++ {
		p.ProcessInertial(estimate.Vector3{Z: 9.0}, estimate.Vector3{}, nil, ts)
		p.ProcessInertial(estimate.Vector3{Z: 11.0}, estimate.Vector3{}, nil, ts+100)
		p.ProcessInertial(estimate.Vector3{Z: 9.0}, estimate.Vector3{}, nil, ts+200)
		ts += 600
	}
	assert.Equal(t, 4, p.StepCount())
}

func TestPipelineRotationPolicyBlocksUncorroboratedSteps(t *testing.T) {
	p := testPipeline(true)

	// Gyro is flat: with RequireRotation the vibration pattern is rejected.
	ts := int64(1000)
	for i := 0; i < 4; i++ {
		p.ProcessInertial(estimate.Vector3{Z: 9.0}, estimate.Vector3{}, nil, ts)
		p.ProcessInertial(estimate.Vector3{Z: 11.0}, estimate.Vector3{}, nil, ts+100)
		p.ProcessInertial(estimate.Vector3{Z: 9.0}, estimate.Vector3{}, nil, ts+200)
		ts += 600
	}
	assert.Equal(t, 0, p.StepCount())
}

func TestPipelineStepsAdvancePosition(t *testing.T) {
	p := testPipeline(false)

	// Seed an absolute position first, then walk on inertial data alone.
	for i := 0; i < 3; i++ {
		p.ProcessRadioBatch(scanAt(3, 4), int64(1000+i*200))
	}
	start := p.Current()
	require.True(t, start.IsValid())

	ts := int64(2000)
	for i := 0; i < 6; i++ {
		p.ProcessInertial(estimate.Vector3{Z: 9.0}, estimate.Vector3{Z: -0.001}, nil, ts)
		p.ProcessInertial(estimate.Vector3{Z: 11.0}, estimate.Vector3{Z: -0.001}, nil, ts+100)
		p.ProcessInertial(estimate.Vector3{Z: 9.0}, estimate.Vector3{Z: -0.001}, nil, ts+200)
		ts += 600
	}
	end := p.Current()
	moved := math.Hypot(end.X-start.X, end.Y-start.Y)
	assert.Greater(t, moved, 1.0, "five step intervals should cover meters")
}

func TestPipelineVisualDeltaAdvancesPosition(t *testing.T) {
	p := testPipeline(false)
	for i := 0; i < 3; i++ {
		p.ProcessRadioBatch(scanAt(0, 0), int64(1000+i*200))
	}
	start := p.Current()
	require.True(t, start.IsValid())

	cur := p.ProcessVisual(estimate.MotionDelta{VelocityMps: 1.0}, 1.0, 2000)
	moved := math.Hypot(cur.X-start.X, cur.Y-start.Y)
	assert.InDelta(t, 1.0, moved, 0.3)
}

func TestPipelineHeadingTracksGyro(t *testing.T) {
	p := testPipeline(false)

	p.ProcessInertial(estimate.Vector3{Z: 9.8}, estimate.Vector3{Z: -0.1}, nil, 1000)
	p.ProcessInertial(estimate.Vector3{Z: 9.8}, estimate.Vector3{Z: -0.1}, nil, 2000)
	hs := p.Heading()
	assert.InDelta(t, 5.73, hs.HeadingDeg, 0.1)
	assert.GreaterOrEqual(t, hs.HeadingDeg, 0.0)
	assert.Less(t, hs.HeadingDeg, 360.0)
}

func TestPipelineMagnetometerAnchorsHeading(t *testing.T) {
	p := testPipeline(false)

	mag := estimate.Vector3{X: 1} // absolute heading 0
	p.ProcessInertial(estimate.Vector3{Z: 9.8}, estimate.Vector3{}, &mag, 1000)
	hs := p.Heading()
	assert.Equal(t, estimate.HeadingMagnetometer, hs.Source)
}

func TestPipelineStaleGapResetsEngine(t *testing.T) {
	p := testPipeline(false)
	for i := 0; i < 3; i++ {
		p.ProcessRadioBatch(scanAt(3, 4), int64(1000+i*200))
	}
	require.True(t, p.Current().IsValid())

	// 40 s of silence, then an inertial-only sample: the filter resets and
	// stays unseeded until the next absolute fix.
	p.ProcessInertial(estimate.Vector3{Z: 9.8}, estimate.Vector3{}, nil, 42000)
	assert.False(t, p.Current().IsValid())

	p.ProcessRadioBatch(scanAt(3, 4), 42500)
	assert.True(t, p.Current().IsValid())
}

func TestPipelineResetIdempotent(t *testing.T) {
	p := testPipeline(false)
	for i := 0; i < 3; i++ {
		p.ProcessRadioBatch(scanAt(3, 4), int64(1000+i*200))
	}
	feedSteps(p, 2000)
	require.True(t, p.Current().IsValid())

	p.Reset()
	assert.False(t, p.Current().IsValid())
	assert.Equal(t, 0, p.StepCount())
	assert.Equal(t, 0.0, p.Heading().HeadingDeg)

	p.Reset()
	assert.False(t, p.Current().IsValid())
}

func feedSteps(p *Pipeline, ts int64) {
	for i := 0; i < 3; i++ {
		p.ProcessInertial(estimate.Vector3{Z: 9.0}, estimate.Vector3{Z: -0.4}, nil, ts)
		p.ProcessInertial(estimate.Vector3{Z: 11.0}, estimate.Vector3{Z: -0.4}, nil, ts+100)
		p.ProcessInertial(estimate.Vector3{Z: 9.0}, estimate.Vector3{Z: -0.4}, nil, ts+200)
		ts += 600
	}
}

// The default step config is what NewPipeline installs; make sure a custom
// one threads through.
func TestPipelineCustomStepConfig(t *testing.T) {
	log := logrus.New()
	log.SetLevel(logrus.PanicLevel)
	p := NewPipeline(PipelineConfig{
		Anchors: testAnchors(),
		Step:    pdr.StepConfig{PeakThreshold: 12.0},
	}, log)

	// Peaks at 11 no longer clear the raised threshold.
	ts := int64(1000)
	p.ProcessInertial(estimate.Vector3{Z: 9.0}, estimate.Vector3{Z: -0.4}, nil, ts)
	p.ProcessInertial(estimate.Vector3{Z: 11.0}, estimate.Vector3{Z: -0.4}, nil, ts+100)
	p.ProcessInertial(estimate.Vector3{Z: 9.0}, estimate.Vector3{Z: -0.4}, nil, ts+200)
	assert.Equal(t, 0, p.StepCount())
}
