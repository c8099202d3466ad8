package radio

import (
	"math"

	"gonum.org/v1/gonum/mat"

	"positioning-go/estimate"
)

// Solver limits and tuning. The solve is a confidence-weighted nonlinear
// least squares over squared-range residuals, damped Gauss-Newton style.
const (
	MinAnchors          = 3
	MinAnchorConfidence = 0.05
	MaxIterations       = 25
	StepTolerance       = 1e-6

	// GDOPMax caps the geometric dilution factor so degenerate layouts
	// report a large but finite uncertainty.
	GDOPMax = 50.0

	// Range residuals below this floor still contribute this much to the
	// reported accuracy; no fix is more precise than the radio itself.
	rangeErrorFloorM = 0.3

	maxAccuracyM = 200.0
)

// RangeMeasurement pairs an anchor with its current distance estimate.
type RangeMeasurement struct {
	Anchor estimate.AnchorFix
	Range  estimate.DistanceEstimate
}

// Solve produces a best-fit 2D position from at least MinAnchors usable
// range measurements. The objective is
//
//	minimize sum_i w_i * ((x-x_i)^2 + (y-y_i)^2 - d_i^2)^2
//
// with w_i the anchor confidence. Degenerate geometry inflates the reported
// accuracy via a GDOP factor; a non-converging or ill-conditioned system
// yields the invalid sentinel, never an error.
func Solve(meas []RangeMeasurement, tsMs int64) estimate.PositionEstimate {
	usable := make([]RangeMeasurement, 0, len(meas))
	for _, m := range meas {
		if m.Range.Confidence < MinAnchorConfidence {
			continue
		}
		if math.IsNaN(m.Range.DistanceM) || m.Range.DistanceM >= maxAccuracyM*10 {
			continue
		}
		usable = append(usable, m)
	}
	if len(usable) < MinAnchors {
		return estimate.Invalid()
	}

	x, y := weightedCentroid(usable)

	lambda := 1e-3
	cost := residualCost(usable, x, y)
	converged := false

	for iter := 0; iter < MaxIterations; iter++ {
		jtj, jtr := normalEquations(usable, x, y)

		var step mat.VecDense
		damped := mat.NewDense(2, 2, []float64{
			jtj.At(0, 0) + lambda*jtj.At(0, 0), jtj.At(0, 1),
			jtj.At(1, 0), jtj.At(1, 1) + lambda*jtj.At(1, 1),
		})
		if err := step.SolveVec(damped, jtr); err != nil {
			return estimate.Invalid()
		}

		nx := x - step.AtVec(0)
		ny := y - step.AtVec(1)
		nc := residualCost(usable, nx, ny)
		if nc < cost {
			x, y, cost = nx, ny, nc
			lambda = math.Max(lambda*0.5, 1e-9)
			if math.Hypot(step.AtVec(0), step.AtVec(1)) < StepTolerance {
				converged = true
				break
			}
		} else {
			lambda *= 10.0
			if lambda > 1e9 {
				break
			}
		}
	}
	if !converged && cost > 1e6 {
		// Ill-conditioned system that never settled anywhere plausible.
		return estimate.Invalid()
	}
	if math.IsNaN(x) || math.IsNaN(y) {
		return estimate.Invalid()
	}

	gdop := dilution(usable, x, y)
	rangeErr := math.Max(weightedRangeError(usable, x, y), rangeErrorFloorM)
	accuracy := math.Min(gdop*rangeErr, maxAccuracyM)

	confSum, wSum := 0.0, 0.0
	for _, m := range usable {
		confSum += m.Range.Confidence * m.Range.Confidence
		wSum += m.Range.Confidence
	}
	meanConf := confSum / wSum
	conf := estimate.Clamp01(meanConf * 2.0 / (1.0 + gdop))

	sigma := accuracy / math.Sqrt2
	return estimate.PositionEstimate{
		X:           x,
		Y:           y,
		AccuracyM:   accuracy,
		Confidence:  conf,
		Source:      estimate.SourceRadio,
		TimestampMs: tsMs,
		Covariance:  &estimate.Covariance{SigmaX: sigma, SigmaY: sigma, SigmaTheta: math.Pi},
	}
}

func weightedCentroid(meas []RangeMeasurement) (float64, float64) {
	var sx, sy, sw float64
	for _, m := range meas {
		w := m.Range.Confidence
		sx += m.Anchor.X * w
		sy += m.Anchor.Y * w
		sw += w
	}
	return sx / sw, sy / sw
}

// residualCost is the weighted sum of squared residuals of the squared-range
// model at (x, y).
func residualCost(meas []RangeMeasurement, x, y float64) float64 {
	sum := 0.0
	for _, m := range meas {
		dx := x - m.Anchor.X
		dy := y - m.Anchor.Y
		r := dx*dx + dy*dy - m.Range.DistanceM*m.Range.DistanceM
		sum += m.Range.Confidence * r * r
	}
	return sum
}

// normalEquations assembles J^T W J and J^T W r for the current linearization.
func normalEquations(meas []RangeMeasurement, x, y float64) (*mat.Dense, *mat.VecDense) {
	var a00, a01, a11, b0, b1 float64
	for _, m := range meas {
		dx := x - m.Anchor.X
		dy := y - m.Anchor.Y
		r := dx*dx + dy*dy - m.Range.DistanceM*m.Range.DistanceM
		w := m.Range.Confidence
		jx := 2.0 * dx
		jy := 2.0 * dy
		a00 += w * jx * jx
		a01 += w * jx * jy
		a11 += w * jy * jy
		b0 += w * jx * r
		b1 += w * jy * r
	}
	jtj := mat.NewDense(2, 2, []float64{a00, a01, a01, a11})
	jtr := mat.NewVecDense(2, []float64{b0, b1})
	return jtj, jtr
}

// dilution computes the GDOP-style geometry factor from the unit
// line-of-sight vectors at the solution, capped at GDOPMax. Near-collinear
// anchors drive the factor toward the cap.
func dilution(meas []RangeMeasurement, x, y float64) float64 {
	var g00, g01, g11 float64
	for _, m := range meas {
		dx := x - m.Anchor.X
		dy := y - m.Anchor.Y
		d := math.Hypot(dx, dy)
		if d < 1e-6 {
			d = 1e-6
		}
		ux := dx / d
		uy := dy / d
		g00 += ux * ux
		g01 += ux * uy
		g11 += uy * uy
	}
	det := g00*g11 - g01*g01
	if det < 1e-9 {
		return GDOPMax
	}
	gdop := math.Sqrt((g11 + g00) / det)
	if gdop > GDOPMax {
		return GDOPMax
	}
	if gdop < 1.0 {
		return 1.0
	}
	return gdop
}

// weightedRangeError is the confidence-weighted RMS of the plain range
// residuals |dist(x, anchor) - d_i| at the solution.
func weightedRangeError(meas []RangeMeasurement, x, y float64) float64 {
	var sum, wSum float64
	for _, m := range meas {
		d := math.Hypot(x-m.Anchor.X, y-m.Anchor.Y)
		e := d - m.Range.DistanceM
		sum += m.Range.Confidence * e * e
		wSum += m.Range.Confidence
	}
	if wSum <= 0 {
		return 0
	}
	return math.Sqrt(sum / wSum)
}
