package pdr

import (
	"math"

	"positioning-go/estimate"
)

// Heading convention: degrees in [0, 360), clockwise-positive about the
// device z axis. A negative gyroscope z rate therefore increases heading.

// Default filter tuning, in degrees and deg^2.
const (
	DefaultGyroWeight = 0.98

	DefaultProcessNoiseDegSq   = 2.0  // per second of gyro-only integration
	DefaultRotVectorNoiseDegSq = 4.0  // rotation-vector observation variance
	DefaultMagNoiseDegSq       = 25.0 // magnetometer observation variance

	headingVarHighDegSq   = 25.0  // variance below this -> high accuracy
	headingVarMediumDegSq = 225.0 // below this -> medium, else low
)

// AbsoluteRef is an optional absolute heading observation accompanying a
// gyroscope sample.
type AbsoluteRef struct {
	HeadingDeg float64
	Source     estimate.HeadingSource
}

// HeadingEstimator fuses gyroscope rates with occasional absolute references.
// Update integrates one gyro sample over dtS seconds, optionally corrected by
// ref, and returns the new state.
type HeadingEstimator interface {
	Update(rateRadps, dtS float64, ref *AbsoluteRef) estimate.HeadingState
	State() estimate.HeadingState
	Reset()
}

// ComplementaryHeading blends integrated gyroscope heading with absolute
// references using a fixed weight: fast gyro dynamics pass through, slow
// absolute corrections pull out the drift.
type ComplementaryHeading struct {
	// GyroWeight is the share kept from the gyro-integrated heading when an
	// absolute reference arrives; the reference gets the remainder.
	GyroWeight float64

	headingDeg  float64
	varianceDeg float64
	lastRateDps float64
	source      estimate.HeadingSource
}

// NewComplementaryHeading returns a filter with the default gyro weight.
func NewComplementaryHeading() *ComplementaryHeading {
	return &ComplementaryHeading{
		GyroWeight: DefaultGyroWeight,
		source:     estimate.HeadingGyroscope,
	}
}

// Update integrates the gyro rate and, when ref is present, blends toward the
// absolute heading along the shortest arc.
func (c *ComplementaryHeading) Update(rateRadps, dtS float64, ref *AbsoluteRef) estimate.HeadingState {
	c.lastRateDps = -rateRadps * estimate.DegPerRad
	c.headingDeg = estimate.NormalizeDeg(c.headingDeg + c.lastRateDps*dtS)
	c.varianceDeg += DefaultProcessNoiseDegSq * dtS
	c.source = estimate.HeadingGyroscope

	if ref != nil {
		w := 1.0 - c.GyroWeight
		c.headingDeg = estimate.NormalizeDeg(
			c.headingDeg + w*estimate.AngleDiffDeg(ref.HeadingDeg, c.headingDeg))
		refVar := DefaultMagNoiseDegSq
		if ref.Source == estimate.HeadingRotationVector {
			refVar = DefaultRotVectorNoiseDegSq
		}
		c.varianceDeg = c.GyroWeight*c.GyroWeight*c.varianceDeg + w*w*refVar
		c.source = ref.Source
	}
	return c.State()
}

// State returns the current heading estimate.
func (c *ComplementaryHeading) State() estimate.HeadingState {
	return estimate.HeadingState{
		HeadingDeg:  c.headingDeg,
		RateDps:     c.lastRateDps,
		VarianceDeg: c.varianceDeg,
		Source:      c.source,
		Accuracy:    accuracyBand(c.varianceDeg),
	}
}

// Reset zeroes the heading and variance; GyroWeight is kept.
func (c *ComplementaryHeading) Reset() {
	c.headingDeg = 0
	c.varianceDeg = 0
	c.lastRateDps = 0
	c.source = estimate.HeadingGyroscope
}

// KalmanHeading is a single-state Kalman filter on heading: the gyro drives
// the predict step and grows the variance, absolute references shrink it in
// proportion to their observation noise.
type KalmanHeading struct {
	// ProcessNoiseDegSq is added to the variance per second of integration.
	ProcessNoiseDegSq float64
	// RotVectorNoiseDegSq and MagNoiseDegSq are the observation variances of
	// the two absolute sources.
	RotVectorNoiseDegSq float64
	MagNoiseDegSq       float64

	headingDeg  float64
	varianceDeg float64
	lastRateDps float64
	source      estimate.HeadingSource
	initialized bool
}

// NewKalmanHeading returns a filter with default noise tuning.
func NewKalmanHeading() *KalmanHeading {
	return &KalmanHeading{
		ProcessNoiseDegSq:   DefaultProcessNoiseDegSq,
		RotVectorNoiseDegSq: DefaultRotVectorNoiseDegSq,
		MagNoiseDegSq:       DefaultMagNoiseDegSq,
		source:              estimate.HeadingGyroscope,
	}
}

// Update runs one predict step and, when ref is present, one correct step.
func (k *KalmanHeading) Update(rateRadps, dtS float64, ref *AbsoluteRef) estimate.HeadingState {
	k.lastRateDps = -rateRadps * estimate.DegPerRad
	k.headingDeg = estimate.NormalizeDeg(k.headingDeg + k.lastRateDps*dtS)
	k.varianceDeg += k.ProcessNoiseDegSq * dtS
	k.source = estimate.HeadingGyroscope

	if ref != nil {
		if !k.initialized {
			// First absolute fix anchors the state outright.
			k.headingDeg = estimate.NormalizeDeg(ref.HeadingDeg)
			k.varianceDeg = k.obsNoise(ref.Source)
			k.initialized = true
			k.source = ref.Source
			return k.State()
		}
		r := k.obsNoise(ref.Source)
		gain := k.varianceDeg / (k.varianceDeg + r)
		innov := estimate.AngleDiffDeg(ref.HeadingDeg, k.headingDeg)
		k.headingDeg = estimate.NormalizeDeg(k.headingDeg + gain*innov)
		k.varianceDeg = (1.0 - gain) * k.varianceDeg
		k.source = ref.Source
	}
	return k.State()
}

func (k *KalmanHeading) obsNoise(src estimate.HeadingSource) float64 {
	if src == estimate.HeadingRotationVector {
		return k.RotVectorNoiseDegSq
	}
	return k.MagNoiseDegSq
}

// State returns the current heading estimate.
func (k *KalmanHeading) State() estimate.HeadingState {
	return estimate.HeadingState{
		HeadingDeg:  k.headingDeg,
		RateDps:     k.lastRateDps,
		VarianceDeg: k.varianceDeg,
		Source:      k.source,
		Accuracy:    accuracyBand(k.varianceDeg),
	}
}

// Reset zeroes the state; the noise tuning is kept.
func (k *KalmanHeading) Reset() {
	k.headingDeg = 0
	k.varianceDeg = 0
	k.lastRateDps = 0
	k.source = estimate.HeadingGyroscope
	k.initialized = false
}

// HeadingFromMag derives an absolute heading from a magnetometer sample,
// clockwise-positive to match the filter convention.
func HeadingFromMag(m estimate.Vector3) float64 {
	return estimate.NormalizeDeg(-math.Atan2(m.Y, m.X) * estimate.DegPerRad)
}

func accuracyBand(varianceDeg float64) estimate.AccuracyBand {
	switch {
	case varianceDeg < headingVarHighDegSq:
		return estimate.AccuracyHigh
	case varianceDeg < headingVarMediumDegSq:
		return estimate.AccuracyMedium
	default:
		return estimate.AccuracyLow
	}
}
