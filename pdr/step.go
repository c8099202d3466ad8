// Package pdr implements pedestrian dead reckoning: step detection from
// acceleration magnitude, heading estimation from gyroscope plus absolute
// references, and integration of both into relative motion deltas.
package pdr

// StepConfig holds the peak/valley thresholds of the step state machine.
// Magnitudes are accelerometer-norm units (gravity sits near 9.81).
type StepConfig struct {
	PeakThreshold       float64
	ValleyThreshold     float64
	MinPeakValleyHeight float64
	MinStepIntervalMs   int64
	MaxStepIntervalMs   int64
}

// DefaultStepConfig returns the tuning used on phone-class accelerometers.
func DefaultStepConfig() StepConfig {
	return StepConfig{
		PeakThreshold:       10.5,
		ValleyThreshold:     9.5,
		MinPeakValleyHeight: 0.7,
		MinStepIntervalMs:   250,
		MaxStepIntervalMs:   2000,
	}
}

// Corroborator lets a detector variant veto a step candidate using evidence
// from another sensor (see RotationGate).
type Corroborator interface {
	Corroborate(tsMs int64) bool
}

// StepDetector is a two-state (ascending/descending) machine over
// acceleration-magnitude samples. A step is accepted when a valley is
// followed by a sufficiently high peak, the descent confirms the peak, and
// the step cadence stays inside the configured interval window.
type StepDetector struct {
	cfg StepConfig

	lastValue float64
	lastTsMs  int64
	haveLast  bool
	ascending bool

	valleyValue float64
	valleyTsMs  int64
	haveValley  bool

	lastStepTsMs int64
	haveStep     bool

	stepCount int

	corroborator Corroborator
}

// NewStepDetector builds a detector; zero config fields fall back to the
// defaults.
func NewStepDetector(cfg StepConfig) *StepDetector {
	def := DefaultStepConfig()
	if cfg.PeakThreshold == 0 {
		cfg.PeakThreshold = def.PeakThreshold
	}
	if cfg.ValleyThreshold == 0 {
		cfg.ValleyThreshold = def.ValleyThreshold
	}
	if cfg.MinPeakValleyHeight == 0 {
		cfg.MinPeakValleyHeight = def.MinPeakValleyHeight
	}
	if cfg.MinStepIntervalMs == 0 {
		cfg.MinStepIntervalMs = def.MinStepIntervalMs
	}
	if cfg.MaxStepIntervalMs == 0 {
		cfg.MaxStepIntervalMs = def.MaxStepIntervalMs
	}
	return &StepDetector{cfg: cfg}
}

// SetCorroborator installs an optional cross-sensor gate consulted before a
// step candidate is accepted.
func (d *StepDetector) SetCorroborator(c Corroborator) { d.corroborator = c }

// StepCount returns the number of accepted steps since the last reset.
func (d *StepDetector) StepCount() int { return d.stepCount }

// Process ingests one acceleration-magnitude sample and reports whether it
// completed a step.
func (d *StepDetector) Process(magnitude float64, tsMs int64) bool {
	if !d.haveLast {
		d.lastValue = magnitude
		d.lastTsMs = tsMs
		d.haveLast = true
		if magnitude <= d.cfg.ValleyThreshold {
			d.valleyValue = magnitude
			d.valleyTsMs = tsMs
			d.haveValley = true
		}
		return false
	}

	stepped := false
	switch {
	case magnitude > d.lastValue:
		if !d.ascending {
			// Turning upward: the previous sample was a local valley.
			if d.lastValue <= d.cfg.ValleyThreshold {
				d.valleyValue = d.lastValue
				d.valleyTsMs = d.lastTsMs
				d.haveValley = true
			}
			d.ascending = true
		}
	case magnitude < d.lastValue:
		if d.ascending {
			// Turning downward: the previous sample was a local peak.
			if d.haveValley &&
				d.lastValue >= d.cfg.PeakThreshold &&
				d.lastValue-d.valleyValue >= d.cfg.MinPeakValleyHeight {
				stepped = d.acceptStep(tsMs)
			}
			d.ascending = false
		}
	}

	d.lastValue = magnitude
	d.lastTsMs = tsMs
	return stepped
}

func (d *StepDetector) acceptStep(tsMs int64) bool {
	// The first step has no cadence reference to measure against, so the
	// interval gate applies from the second step on.
	if d.haveStep {
		dt := tsMs - d.lastStepTsMs
		if dt < d.cfg.MinStepIntervalMs {
			// Jitter: too soon after the previous step. Drop the candidate
			// without moving the cadence window.
			d.haveValley = false
			return false
		}
		if dt > d.cfg.MaxStepIntervalMs {
			// Stale pattern: reject it, but restart the cadence window here
			// so walking can resume after a pause.
			d.lastStepTsMs = tsMs
			d.haveValley = false
			return false
		}
	}
	if d.corroborator != nil && !d.corroborator.Corroborate(tsMs) {
		d.haveValley = false
		return false
	}
	d.lastStepTsMs = tsMs
	d.haveStep = true
	d.haveValley = false
	d.stepCount++
	return true
}

// Reset clears the count and all transient state; configured thresholds are
// kept.
func (d *StepDetector) Reset() {
	d.lastValue = 0
	d.lastTsMs = 0
	d.haveLast = false
	d.ascending = false
	d.valleyValue = 0
	d.valleyTsMs = 0
	d.haveValley = false
	d.lastStepTsMs = 0
	d.haveStep = false
	d.stepCount = 0
}

// RotationGate corroborates step candidates with gyroscope activity: real
// walking produces measurable body rotation, while vehicle vibration does
// not. It implements Corroborator.
type RotationGate struct {
	// ThresholdRadps is the angular-rate magnitude counted as activity.
	ThresholdRadps float64
	// WindowMs is how recent that activity must be.
	WindowMs int64
	// RequireRotation controls the no-gyroscope policy: when true, steps
	// without rotation evidence are rejected; when false the gate passes
	// steps through until above-threshold rotation has been observed, so
	// devices without a gyroscope (or walking a straight line on a quiet
	// one) are not gated.
	RequireRotation bool

	lastActiveTsMs int64
	haveActive     bool
}

// NewRotationGate returns a gate with the given policy and default tuning.
func NewRotationGate(requireRotation bool) *RotationGate {
	return &RotationGate{
		ThresholdRadps:  0.3,
		WindowMs:        500,
		RequireRotation: requireRotation,
	}
}

// Observe feeds one angular-rate magnitude sample. Sub-threshold rates are
// not evidence either way: a gyro-less device reports zeros here.
func (g *RotationGate) Observe(rateRadps float64, tsMs int64) {
	if rateRadps >= g.ThresholdRadps {
		g.lastActiveTsMs = tsMs
		g.haveActive = true
	}
}

// Corroborate reports whether rotation evidence supports a step at tsMs.
// Before any above-threshold rotation has been seen the policy decides:
// strict gates reject, lenient gates pass.
func (g *RotationGate) Corroborate(tsMs int64) bool {
	if !g.haveActive {
		return !g.RequireRotation
	}
	return tsMs-g.lastActiveTsMs <= g.WindowMs
}

// Reset clears observed activity; the policy fields are kept.
func (g *RotationGate) Reset() {
	g.lastActiveTsMs = 0
	g.haveActive = false
}
