package fusion

import "math"

// Filter state layout: [x m, y m, heading rad].
const stateDim = 3

// Engine tuning.
const (
	// Initial state uncertainty.
	SigmaPos0   = 5.0
	SigmaTheta0 = math.Pi

	// Process noise per second at full motion confidence.
	QPos   = 0.25 // m^2/s per axis
	QTheta = 0.05 // rad^2/s

	// Below this angular rate the walk is straight and heading process
	// noise is damped.
	StraightRateRadps  = 0.05
	StraightThetaScale = 0.1

	// Confidence floors keep noise scaling finite.
	MinMotionConf = 0.05
	MinFixConf    = 0.1

	// No absolute fix is sharper than the radio itself.
	MinAccuracyM = 0.3

	// Covariance hygiene.
	PxkMax = 10000.0
	SReg   = 1e-9

	// After this long without an absolute fix the next one triggers a
	// second, stronger correction to burn off dead-reckoning drift.
	DriftReanchorGapMs int64 = 10000
	ReanchorRScale           = 0.5

	// Input gaps longer than this reset the filter outright.
	StaleResetGapMs int64 = 30000

	// Output confidence is 1/(1 + accuracy/scale).
	AccuracyConfScaleM = 5.0
)

// Motion source confidences used by the pipeline.
const (
	StepMotionConf   = 0.7
	VisualMotionConf = 0.85
)

// Engine return flags.
const (
	RetPredict = 1
	RetUpdate  = 2
	RetReset   = -2
)

func clamp(x, min, max float64) float64 {
	if x < min {
		return min
	}
	if x > max {
		return max
	}
	return x
}

func pow2(x float64) float64 { return x * x }
