package pdr

import (
	"positioning-go/estimate"
)

// DefaultStepLengthM is the assumed stride used to convert step cadence into
// forward velocity.
const DefaultStepLengthM = 0.7

// MotionIntegrator turns accepted steps plus the current heading into
// relative motion deltas. It also carries a latest-value slot for externally
// supplied (visual odometry) deltas so both relative sources share one
// hand-off point into the fusion stage.
type MotionIntegrator struct {
	// StepLengthM is the distance attributed to each step.
	StepLengthM float64

	lastStepTsMs   int64
	lastHeadingDeg float64
	haveStep       bool

	visual     estimate.MotionDelta
	visualTsMs int64
	visualDtS  float64
	haveVisual bool
}

// NewMotionIntegrator returns an integrator with the given stride; zero falls
// back to the default.
func NewMotionIntegrator(stepLengthM float64) *MotionIntegrator {
	if stepLengthM <= 0 {
		stepLengthM = DefaultStepLengthM
	}
	return &MotionIntegrator{StepLengthM: stepLengthM}
}

// OnStep records an accepted step at tsMs with the heading in effect and
// returns the motion delta covering the interval since the previous step.
// The first step after a reset only seeds the interval; ok is false then.
func (m *MotionIntegrator) OnStep(headingDeg float64, tsMs int64) (delta estimate.MotionDelta, dtS float64, ok bool) {
	if !m.haveStep {
		m.lastStepTsMs = tsMs
		m.lastHeadingDeg = headingDeg
		m.haveStep = true
		return estimate.MotionDelta{}, 0, false
	}
	dtS = float64(tsMs-m.lastStepTsMs) / 1000.0
	if dtS <= 0 {
		return estimate.MotionDelta{}, 0, false
	}
	turnRad := estimate.AngleDiffDeg(headingDeg, m.lastHeadingDeg) / estimate.DegPerRad
	delta = estimate.MotionDelta{
		VelocityMps:      m.StepLengthM / dtS,
		AngularRateRadps: turnRad / dtS,
	}
	m.lastStepTsMs = tsMs
	m.lastHeadingDeg = headingDeg
	return delta, dtS, true
}

// SetVisual stores a visual-odometry delta spanning dtS seconds, replacing
// any unconsumed one. Only the newest delta matters to the filter.
func (m *MotionIntegrator) SetVisual(delta estimate.MotionDelta, dtS float64, tsMs int64) {
	m.visual = delta
	m.visualDtS = dtS
	m.visualTsMs = tsMs
	m.haveVisual = true
}

// TakeVisual pops the stored visual delta, if any.
func (m *MotionIntegrator) TakeVisual() (delta estimate.MotionDelta, dtS float64, tsMs int64, ok bool) {
	if !m.haveVisual {
		return estimate.MotionDelta{}, 0, 0, false
	}
	m.haveVisual = false
	return m.visual, m.visualDtS, m.visualTsMs, true
}

// Reset clears step and visual state; the stride is kept.
func (m *MotionIntegrator) Reset() {
	m.lastStepTsMs = 0
	m.lastHeadingDeg = 0
	m.haveStep = false
	m.haveVisual = false
}
