// Package estimate holds the value types shared across the positioning
// pipeline: timestamped sensor readings, per-anchor distance estimates and
// the position/heading outputs. All types are plain values; invalidity is
// carried in-band (see Invalid) rather than as errors.
package estimate

import "math"

// Source identifies which stage produced a PositionEstimate.
type Source int

const (
	SourceUnknown Source = iota
	SourceRadio
	SourceMotion
	SourceFusion
	SourceGroundTruth
)

func (s Source) String() string {
	switch s {
	case SourceRadio:
		return "RADIO"
	case SourceMotion:
		return "MOTION"
	case SourceFusion:
		return "FUSION"
	case SourceGroundTruth:
		return "GROUND_TRUTH"
	default:
		return "UNKNOWN"
	}
}

// HeadingSource identifies the dominant input behind a heading estimate.
type HeadingSource int

const (
	HeadingGyroscope HeadingSource = iota
	HeadingMagnetometer
	HeadingRotationVector
)

func (s HeadingSource) String() string {
	switch s {
	case HeadingMagnetometer:
		return "MAGNETOMETER"
	case HeadingRotationVector:
		return "ROTATION_VECTOR"
	default:
		return "GYROSCOPE"
	}
}

// AccuracyBand is a coarse quality grade for heading estimates.
type AccuracyBand int

const (
	AccuracyLow AccuracyBand = iota
	AccuracyMedium
	AccuracyHigh
)

func (a AccuracyBand) String() string {
	switch a {
	case AccuracyMedium:
		return "MEDIUM"
	case AccuracyHigh:
		return "HIGH"
	default:
		return "LOW"
	}
}

// Vector3 is a 3-axis sensor value (accelerometer, gyroscope, magnetometer).
type Vector3 struct {
	X, Y, Z float64
}

// Norm returns the Euclidean magnitude.
func (v Vector3) Norm() float64 {
	return math.Sqrt(v.X*v.X + v.Y*v.Y + v.Z*v.Z)
}

// Reading is a scalar sample with its capture timestamp (ms).
type Reading struct {
	Value       float64
	TimestampMs int64
}

// VectorReading is a 3-axis sample with its capture timestamp (ms).
type VectorReading struct {
	Value       Vector3
	TimestampMs int64
}

// DistanceEstimate is a per-anchor range estimate with a [0,1] confidence.
type DistanceEstimate struct {
	DistanceM  float64
	Confidence float64
}

// AnchorFix is a radio anchor with a surveyed position and calibrated
// transmit power (RSSI at 1 m, dBm). Read-only after configuration.
type AnchorFix struct {
	ID         int
	X, Y       float64
	TxPowerDbm float64
}

// Covariance carries the optional per-axis standard deviations of a
// position estimate (meters, meters, radians).
type Covariance struct {
	SigmaX     float64
	SigmaY     float64
	SigmaTheta float64
}

// PositionEstimate is the externally visible position output. The zero
// value is NOT valid; use Invalid() for the explicit no-fix sentinel.
type PositionEstimate struct {
	X, Y        float64
	AccuracyM   float64
	Confidence  float64
	Source      Source
	TimestampMs int64
	Covariance  *Covariance
}

// Invalid returns the distinguished "no usable estimate" value. It is safe
// to pass through every consumer; check IsValid before using coordinates.
func Invalid() PositionEstimate {
	return PositionEstimate{
		X:         math.NaN(),
		Y:         math.NaN(),
		AccuracyM: math.Inf(1),
		Source:    SourceUnknown,
	}
}

// IsValid reports whether the estimate carries usable coordinates.
func (p PositionEstimate) IsValid() bool {
	return !math.IsNaN(p.X) && !math.IsNaN(p.Y) && !math.IsInf(p.AccuracyM, 1)
}

// MotionDelta is a relative-motion sample, either synthesized from PDR or
// supplied by an external visual tracker. Consumed once by the fusion
// predict step.
type MotionDelta struct {
	VelocityMps      float64
	AngularRateRadps float64
}

// HeadingState is the heading-estimator output.
type HeadingState struct {
	HeadingDeg  float64 // [0,360)
	RateDps     float64
	VarianceDeg float64 // deg^2, 0 when the estimator does not track variance
	Source      HeadingSource
	Accuracy    AccuracyBand
}

// Clamp01 clamps v into [0,1].
func Clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

// NormalizeDeg wraps an angle into [0,360).
func NormalizeDeg(deg float64) float64 {
	d := math.Mod(deg, 360.0)
	if d < 0 {
		d += 360.0
	}
	return d
}

// NormalizeRad wraps an angle into [0,2*pi).
func NormalizeRad(rad float64) float64 {
	r := math.Mod(rad, 2*math.Pi)
	if r < 0 {
		r += 2 * math.Pi
	}
	return r
}

// AngleDiffDeg returns the shortest signed difference a-b in (-180,180].
func AngleDiffDeg(a, b float64) float64 {
	d := math.Mod(a-b, 360.0)
	if d > 180.0 {
		d -= 360.0
	}
	if d <= -180.0 {
		d += 360.0
	}
	return d
}

// DegPerRad converts radians to degrees when multiplied.
const DegPerRad = 180.0 / math.Pi
