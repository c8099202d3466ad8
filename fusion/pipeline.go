package fusion

import (
	"sync"

	"github.com/sirupsen/logrus"

	"positioning-go/estimate"
	"positioning-go/pdr"
	"positioning-go/radio"
)

// RSSIReading is one received signal strength observation of an anchor.
// A value of 0 means "anchor not heard" and is passed through to the
// distance estimator's sentinel handling.
type RSSIReading struct {
	AnchorID int
	RSSIDbm  float64
}

// PipelineConfig assembles the tunables of the whole estimation chain.
type PipelineConfig struct {
	Anchors            []estimate.AnchorFix
	PathLossExponent   float64
	StalenessTimeoutMs int64
	Step               pdr.StepConfig
	StepLengthM        float64
	RequireRotation    bool
	// UseKalmanHeading selects the Kalman heading filter; the default is
	// the complementary filter.
	UseKalmanHeading bool
}

// Pipeline wires radio ranging, trilateration, dead reckoning, and the
// fusion engine behind a single mutex: all Process* calls and queries are
// safe from any goroutine, with one update applied at a time.
type Pipeline struct {
	mu  sync.Mutex
	log *logrus.Entry

	anchors  map[int]estimate.AnchorFix
	ranger   *radio.Estimator
	trackers map[int]*radio.Tracker

	steps   *pdr.StepDetector
	gate    *pdr.RotationGate
	heading pdr.HeadingEstimator
	motion  *pdr.MotionIntegrator
	engine  *Engine

	lastInertialTsMs int64
	haveInertial     bool

	lastInputTsMs int64
	haveInput     bool
}

// NewPipeline builds a pipeline from the given configuration.
func NewPipeline(cfg PipelineConfig, log *logrus.Logger) *Pipeline {
	if log == nil {
		log = logrus.StandardLogger()
	}
	if cfg.PathLossExponent <= 0 {
		cfg.PathLossExponent = radio.DefaultPathLossExponent
	}
	if cfg.StalenessTimeoutMs <= 0 {
		cfg.StalenessTimeoutMs = radio.DefaultStalenessTimeoutMs
	}

	anchors := make(map[int]estimate.AnchorFix, len(cfg.Anchors))
	trackers := make(map[int]*radio.Tracker, len(cfg.Anchors))
	for _, a := range cfg.Anchors {
		anchors[a.ID] = a
		trackers[a.ID] = &radio.Tracker{}
	}

	var heading pdr.HeadingEstimator
	if cfg.UseKalmanHeading {
		heading = pdr.NewKalmanHeading()
	} else {
		heading = pdr.NewComplementaryHeading()
	}

	gate := pdr.NewRotationGate(cfg.RequireRotation)
	steps := pdr.NewStepDetector(cfg.Step)
	steps.SetCorroborator(gate)

	return &Pipeline{
		log:      log.WithField("component", "pipeline"),
		anchors:  anchors,
		ranger:   radio.NewEstimator(cfg.PathLossExponent, cfg.StalenessTimeoutMs),
		trackers: trackers,
		steps:    steps,
		gate:     gate,
		heading:  heading,
		motion:   pdr.NewMotionIntegrator(cfg.StepLengthM),
		engine:   NewEngine(),
	}
}

// ProcessRadio ingests a single anchor observation and returns the fused
// estimate after it is applied.
func (p *Pipeline) ProcessRadio(anchorID int, rssiDbm float64, tsMs int64) estimate.PositionEstimate {
	return p.ProcessRadioBatch([]RSSIReading{{AnchorID: anchorID, RSSIDbm: rssiDbm}}, tsMs)
}

// ProcessRadioBatch ingests one scan's worth of anchor observations, solves
// for an absolute fix, and feeds it to the engine.
func (p *Pipeline) ProcessRadioBatch(readings []RSSIReading, tsMs int64) estimate.PositionEstimate {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.staleGuard(tsMs)

	for _, r := range readings {
		a, ok := p.anchors[r.AnchorID]
		if !ok {
			p.log.WithField("anchor", r.AnchorID).Debug("reading from unknown anchor")
			continue
		}
		p.ranger.Update(p.trackers[r.AnchorID], a.TxPowerDbm, r.RSSIDbm, tsMs)
	}

	fix := p.solveFix(tsMs)
	if fix.IsValid() {
		p.engine.Update(fix)
	}
	return p.engine.Current()
}

// solveFix recomputes every anchor's aged distance estimate and runs the
// trilateration solver. Callers hold the mutex.
func (p *Pipeline) solveFix(tsMs int64) estimate.PositionEstimate {
	meas := make([]radio.RangeMeasurement, 0, len(p.anchors))
	for id, tr := range p.trackers {
		if _, heard := tr.LastSeenMs(); !heard {
			continue
		}
		a := p.anchors[id]
		meas = append(meas, radio.RangeMeasurement{
			Anchor: a,
			Range:  p.ranger.EstimateAt(tr, a.TxPowerDbm, tsMs),
		})
	}
	return radio.Solve(meas, tsMs)
}

// ProcessInertial ingests one IMU sample: the gyroscope z rate drives the
// heading filter, the optional magnetometer sample anchors it, the rotation
// gate records activity, and the acceleration magnitude feeds the step
// detector. Accepted steps become motion deltas for the engine.
func (p *Pipeline) ProcessInertial(accel, gyro estimate.Vector3, mag *estimate.Vector3, tsMs int64) estimate.PositionEstimate {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.staleGuard(tsMs)

	var dtS float64
	if p.haveInertial {
		dtS = float64(tsMs-p.lastInertialTsMs) / 1000.0
	}
	if dtS < 0 {
		return p.engine.Current()
	}
	p.lastInertialTsMs = tsMs
	p.haveInertial = true

	var ref *pdr.AbsoluteRef
	if mag != nil {
		ref = &pdr.AbsoluteRef{
			HeadingDeg: pdr.HeadingFromMag(*mag),
			Source:     estimate.HeadingMagnetometer,
		}
	}
	hs := p.heading.Update(gyro.Z, dtS, ref)
	p.gate.Observe(gyro.Norm(), tsMs)
	p.engine.UpdateHeading(
		hs.HeadingDeg/estimate.DegPerRad,
		hs.VarianceDeg/(estimate.DegPerRad*estimate.DegPerRad))

	if p.steps.Process(accel.Norm(), tsMs) {
		if delta, stepDt, ok := p.motion.OnStep(hs.HeadingDeg, tsMs); ok {
			p.engine.Predict(delta, stepDt, StepMotionConf, tsMs)
		}
	}
	return p.engine.Current()
}

// ProcessVisual ingests an externally computed motion delta spanning dtS
// seconds (visual odometry).
func (p *Pipeline) ProcessVisual(delta estimate.MotionDelta, dtS float64, tsMs int64) estimate.PositionEstimate {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.staleGuard(tsMs)

	p.motion.SetVisual(delta, dtS, tsMs)
	if d, dt, ts, ok := p.motion.TakeVisual(); ok {
		p.engine.Predict(d, dt, VisualMotionConf, ts)
	}
	return p.engine.Current()
}

// staleGuard resets the engine when the input stream went silent for longer
// than StaleResetGapMs. Callers hold the mutex.
func (p *Pipeline) staleGuard(tsMs int64) {
	if p.haveInput && tsMs-p.lastInputTsMs > StaleResetGapMs {
		p.log.WithField("gap_ms", tsMs-p.lastInputTsMs).Warn("input gap exceeded, resetting filter")
		p.engine.Reset()
		p.motion.Reset()
		p.haveInertial = false
	}
	if tsMs > p.lastInputTsMs {
		p.lastInputTsMs = tsMs
	}
	p.haveInput = true
}

// Current returns the latest fused estimate (invalid until seeded).
func (p *Pipeline) Current() estimate.PositionEstimate {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.engine.Current()
}

// StepCount returns the number of steps accepted since the last reset.
func (p *Pipeline) StepCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.steps.StepCount()
}

// Heading returns the current heading filter state.
func (p *Pipeline) Heading() estimate.HeadingState {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.heading.State()
}

// Reset returns the whole pipeline to its initial state; configuration is
// kept. Resetting twice is the same as resetting once.
func (p *Pipeline) Reset() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.engine.Reset()
	p.steps.Reset()
	p.gate.Reset()
	p.heading.Reset()
	p.motion.Reset()
	for _, tr := range p.trackers {
		tr.Reset()
	}
	p.lastInertialTsMs = 0
	p.haveInertial = false
	p.lastInputTsMs = 0
	p.haveInput = false
	p.log.Info("pipeline reset")
}
