// Package fusion combines absolute position fixes with relative motion
// deltas in an extended Kalman filter, and exposes the mutex-guarded
// Pipeline that orchestrates the whole estimation chain.
package fusion

import (
	"math"

	"positioning-go/estimate"
)

// Engine is an extended Kalman filter over the planar state
// [x m, y m, heading rad]. Relative motion drives the predict step with
// confidence-scaled process noise; absolute fixes correct x and y weighted
// by their reported accuracy; heading observations correct the third state.
// Failures never surface as errors: a non-finite state resets the filter
// and Current() returns the invalid sentinel until the next fix seeds it.
type Engine struct {
	xk  []float64
	Pxk [][]float64

	initialized bool
	ret         int
	lastTsMs    int64
	lastFixTsMs int64
	haveFix     bool
}

// NewEngine returns an unseeded filter; the first valid fix initializes it.
func NewEngine() *Engine {
	e := &Engine{}
	e.resetState()
	e.ret = 0
	return e
}

func (e *Engine) resetState() {
	e.xk = make([]float64, stateDim)
	e.Pxk = zeroMat(stateDim, stateDim)
	e.Pxk[0][0] = pow2(SigmaPos0)
	e.Pxk[1][1] = pow2(SigmaPos0)
	e.Pxk[2][2] = pow2(SigmaTheta0)
	e.initialized = false
	e.haveFix = false
	e.ret = RetReset
}

// Predict advances the state by one motion delta spanning dtS seconds.
// conf scales the process noise: low-confidence motion widens the
// covariance so the next absolute fix pulls harder.
func (e *Engine) Predict(delta estimate.MotionDelta, dtS, conf float64, tsMs int64) {
	if !e.initialized || dtS <= 0 {
		e.lastTsMs = tsMs
		return
	}
	v := delta.VelocityMps
	w := delta.AngularRateRadps
	th := e.xk[2]

	e.xk[0] += v * dtS * math.Cos(th)
	e.xk[1] += v * dtS * math.Sin(th)
	e.xk[2] = estimate.NormalizeRad(th + w*dtS)

	phi := identity(stateDim)
	phi[0][2] = -v * dtS * math.Sin(th)
	phi[1][2] = v * dtS * math.Cos(th)

	qScale := 1.0 / clamp(conf, MinMotionConf, 1.0)
	qk := zeroMat(stateDim, stateDim)
	qk[0][0] = QPos * dtS * qScale
	qk[1][1] = QPos * dtS * qScale
	qk[2][2] = QTheta * dtS * qScale
	if math.Abs(w) < StraightRateRadps {
		qk[2][2] *= StraightThetaScale
	}

	e.Pxk = matAdd(matMul(phi, matMul(e.Pxk, transpose(phi))), qk)
	e.managePxk()
	e.lastTsMs = tsMs
	e.ret = RetPredict
	if !allFinite(e.xk) || !allFiniteMat(e.Pxk) {
		e.resetState()
	}
}

// Update corrects the position states with an absolute fix. An invalid fix
// is ignored; the first valid one seeds the filter. A fix arriving after a
// long gap additionally triggers the drift re-anchoring pass.
func (e *Engine) Update(fix estimate.PositionEstimate) {
	if !fix.IsValid() {
		return
	}
	if !e.initialized {
		e.resetState()
		e.xk[0] = fix.X
		e.xk[1] = fix.Y
		s2 := fixNoise(fix)
		e.Pxk[0][0] = s2
		e.Pxk[1][1] = s2
		e.initialized = true
		e.lastTsMs = fix.TimestampMs
		e.lastFixTsMs = fix.TimestampMs
		e.haveFix = true
		e.ret = RetUpdate
		return
	}

	r := fixNoise(fix)
	e.correct(fix.X, fix.Y, r)
	if e.initialized && e.haveFix && fix.TimestampMs-e.lastFixTsMs >= DriftReanchorGapMs {
		// Dead reckoning ran unanchored for a while; pull a second time
		// with a tighter noise so the drift burns off in one update.
		e.correct(fix.X, fix.Y, r*ReanchorRScale)
	}
	if !e.initialized {
		return // correct() tripped the watchdog
	}
	e.lastTsMs = fix.TimestampMs
	e.lastFixTsMs = fix.TimestampMs
	e.haveFix = true
	e.ret = RetUpdate
}

// correct applies one Kalman correction of the (x, y) observation with
// isotropic noise rVar.
func (e *Engine) correct(zx, zy, rVar float64) {
	s := [][]float64{
		{e.Pxk[0][0] + rVar, e.Pxk[0][1]},
		{e.Pxk[1][0], e.Pxk[1][1] + rVar},
	}
	invS := pinv(s)

	// K = P H^T S^-1 with H = [I2 | 0].
	kk := zeroMat(stateDim, 2)
	for i := 0; i < stateDim; i++ {
		for j := 0; j < 2; j++ {
			kk[i][j] = e.Pxk[i][0]*invS[0][j] + e.Pxk[i][1]*invS[1][j]
		}
	}

	rx := zx - e.xk[0]
	ry := zy - e.xk[1]
	for i := 0; i < stateDim; i++ {
		e.xk[i] += kk[i][0]*rx + kk[i][1]*ry
	}
	e.xk[2] = estimate.NormalizeRad(e.xk[2])

	ikh := identity(stateDim)
	for i := 0; i < stateDim; i++ {
		ikh[i][0] -= kk[i][0]
		ikh[i][1] -= kk[i][1]
	}
	e.Pxk = matMul(ikh, e.Pxk)
	e.managePxk()
	if !allFinite(e.xk) || !allFiniteMat(e.Pxk) {
		e.resetState()
	}
}

// UpdateHeading corrects the heading state with an external heading
// observation (radians, variance in rad^2).
func (e *Engine) UpdateHeading(headingRad, varianceRad2 float64) {
	if !e.initialized {
		return
	}
	if varianceRad2 < 1e-6 {
		varianceRad2 = 1e-6
	}
	s := e.Pxk[2][2] + varianceRad2
	kk := []float64{e.Pxk[0][2] / s, e.Pxk[1][2] / s, e.Pxk[2][2] / s}

	// Shortest signed angular innovation.
	innov := estimate.NormalizeRad(headingRad-e.xk[2]+math.Pi) - math.Pi

	for i := 0; i < stateDim; i++ {
		e.xk[i] += kk[i] * innov
	}
	e.xk[2] = estimate.NormalizeRad(e.xk[2])

	row := []float64{e.Pxk[2][0], e.Pxk[2][1], e.Pxk[2][2]}
	for i := 0; i < stateDim; i++ {
		for j := 0; j < stateDim; j++ {
			e.Pxk[i][j] -= kk[i] * row[j]
		}
	}
	e.managePxk()
	if !allFinite(e.xk) || !allFiniteMat(e.Pxk) {
		e.resetState()
	}
}

// managePxk keeps the covariance symmetric, bounded, and positive on the
// diagonal after every step.
func (e *Engine) managePxk() {
	e.Pxk = symmetrize(e.Pxk)
	for i := 0; i < stateDim; i++ {
		if e.Pxk[i][i] > PxkMax {
			e.Pxk[i][i] = PxkMax
		}
		if e.Pxk[i][i] < SReg {
			e.Pxk[i][i] = SReg
		}
	}
}

// Current returns the fused estimate, or the invalid sentinel while the
// filter is unseeded.
func (e *Engine) Current() estimate.PositionEstimate {
	if !e.initialized {
		return estimate.Invalid()
	}
	acc := math.Sqrt(e.Pxk[0][0] + e.Pxk[1][1])
	return estimate.PositionEstimate{
		X:           e.xk[0],
		Y:           e.xk[1],
		AccuracyM:   acc,
		Confidence:  estimate.Clamp01(1.0 / (1.0 + acc/AccuracyConfScaleM)),
		Source:      estimate.SourceFusion,
		TimestampMs: e.lastTsMs,
		Covariance: &estimate.Covariance{
			SigmaX:     math.Sqrt(e.Pxk[0][0]),
			SigmaY:     math.Sqrt(e.Pxk[1][1]),
			SigmaTheta: math.Sqrt(e.Pxk[2][2]),
		},
	}
}

// HeadingRad returns the filter's heading state.
func (e *Engine) HeadingRad() float64 { return e.xk[2] }

// Flag returns the last step's return code.
func (e *Engine) Flag() int { return e.ret }

// Reset drops all state; the next valid fix re-seeds the filter.
func (e *Engine) Reset() { e.resetState() }

func fixNoise(fix estimate.PositionEstimate) float64 {
	acc := math.Max(fix.AccuracyM, MinAccuracyM)
	return pow2(acc/math.Sqrt2) / clamp(fix.Confidence, MinFixConf, 1.0)
}
