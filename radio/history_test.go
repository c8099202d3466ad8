package radio

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestHistoryWindow(t *testing.T) {
	var h History
	assert.Equal(t, 0, h.Len())
	assert.Equal(t, 0.0, h.Mean())
	assert.Equal(t, 0.0, h.Variance())

	h.Push(-60)
	assert.Equal(t, 1, h.Len())
	assert.Equal(t, -60.0, h.Mean())
	// a single sample has no usable variance
	assert.Equal(t, 0.0, h.Variance())

	h.Push(-62)
	assert.Equal(t, -61.0, h.Mean())
	assert.InDelta(t, 2.0, h.Variance(), 1e-12)
}

func TestHistoryEvictsOldest(t *testing.T) {
	var h History
	for _, v := range []float64{-50, -52, -54, -56, -58} {
		h.Push(v)
	}
	assert.Equal(t, HistoryCap, h.Len())
	assert.InDelta(t, -54.0, h.Mean(), 1e-12)

	// Sixth push evicts -50; window is now -52..-60.
	h.Push(-60)
	assert.Equal(t, HistoryCap, h.Len())
	assert.InDelta(t, -56.0, h.Mean(), 1e-12)
}

func TestHistoryReset(t *testing.T) {
	var h History
	h.Push(-40)
	h.Push(-41)
	h.Reset()
	assert.Equal(t, 0, h.Len())
	assert.Equal(t, 0.0, h.Mean())
}
