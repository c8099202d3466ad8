package radio

import (
	"math"

	"positioning-go/estimate"
)

// Confidence model weights: signal-variance stability, absolute strength,
// and measurement recency.
const (
	varianceWeight = 0.5
	strengthWeight = 0.3
	recencyWeight  = 0.2
)

const (
	// DefaultPathLossExponent suits a typical indoor environment.
	DefaultPathLossExponent = 3.0

	// DefaultStalenessTimeoutMs is the age at which a reading contributes
	// zero recency confidence.
	DefaultStalenessTimeoutMs = 5000
)

// Signal band used for the strength sub-score; readings at or below the
// floor score 0, at or above the ceiling score 1.
const (
	strengthFloorDbm   = -100.0
	strengthCeilingDbm = -40.0
)

// Estimator converts filtered RSSI readings into range estimates with a
// [0,1] confidence. One Estimator is shared across anchors; per-anchor
// signal state lives in a Tracker.
type Estimator struct {
	PathLossExponent   float64
	StalenessTimeoutMs int64
}

// NewEstimator returns an Estimator with defaults filled in.
func NewEstimator(pathLossExponent float64, stalenessTimeoutMs int64) *Estimator {
	if pathLossExponent <= 0 {
		pathLossExponent = DefaultPathLossExponent
	}
	if stalenessTimeoutMs <= 0 {
		stalenessTimeoutMs = DefaultStalenessTimeoutMs
	}
	return &Estimator{PathLossExponent: pathLossExponent, StalenessTimeoutMs: stalenessTimeoutMs}
}

// Tracker is the per-anchor signal record: the RSSI window plus the last
// time the anchor was heard.
type Tracker struct {
	hist     History
	lastTsMs int64
	heard    bool
}

// LastSeenMs returns the timestamp of the newest sample, and whether the
// anchor has been heard at all.
func (t *Tracker) LastSeenMs() (int64, bool) { return t.lastTsMs, t.heard }

// Reset drops the tracked window.
func (t *Tracker) Reset() {
	t.hist.Reset()
	t.heard = false
	t.lastTsMs = 0
}

// Distance inverts the log-distance path-loss law:
//
//	distance = 10 ^ ((reference - filtered) / (10 * n))
//
// so a reading equal to the calibrated 1 m reference yields 1.0 m.
func Distance(filteredDbm, referenceDbm, pathLossExponent float64) float64 {
	if pathLossExponent <= 0 {
		pathLossExponent = DefaultPathLossExponent
	}
	return math.Pow(10.0, (referenceDbm-filteredDbm)/(10.0*pathLossExponent))
}

// Update ingests one raw RSSI sample for the anchor and returns the
// resulting distance estimate. A raw value of exactly zero is the radio
// stack's "no signal" sentinel: the window is left untouched and an
// unusable estimate (max range, zero confidence) is returned.
func (e *Estimator) Update(t *Tracker, referenceDbm, rssiDbm float64, tsMs int64) estimate.DistanceEstimate {
	if rssiDbm == 0 {
		return estimate.DistanceEstimate{DistanceM: math.MaxFloat64, Confidence: 0}
	}
	t.hist.Push(rssiDbm)
	t.lastTsMs = tsMs
	t.heard = true
	return e.EstimateAt(t, referenceDbm, tsMs)
}

// EstimateAt recomputes the distance estimate for an anchor at the given
// time without ingesting a new sample. Confidence decays with age via the
// recency sub-score, so stale anchors fade out instead of being rejected.
func (e *Estimator) EstimateAt(t *Tracker, referenceDbm float64, nowMs int64) estimate.DistanceEstimate {
	if !t.heard || t.hist.Len() == 0 {
		return estimate.DistanceEstimate{DistanceM: math.MaxFloat64, Confidence: 0}
	}

	filtered := t.hist.Mean()
	dist := Distance(filtered, referenceDbm, e.PathLossExponent)

	varianceScore := 0.0
	if t.hist.Len() >= 2 {
		varianceScore = estimate.Clamp01(1.0 - t.hist.Variance()/100.0)
	}

	strengthScore := estimate.Clamp01((filtered - strengthFloorDbm) / (strengthCeilingDbm - strengthFloorDbm))

	age := nowMs - t.lastTsMs
	recencyScore := 0.0
	if age < e.StalenessTimeoutMs {
		recencyScore = 1.0 - float64(age)/float64(e.StalenessTimeoutMs)
		if age < 0 {
			recencyScore = 1.0
		}
	}

	conf := estimate.Clamp01(varianceWeight*varianceScore + strengthWeight*strengthScore + recencyWeight*recencyScore)
	return estimate.DistanceEstimate{DistanceM: dist, Confidence: conf}
}
