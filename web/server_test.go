package web

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"positioning-go/estimate"
	"positioning-go/fusion"
)

func quietLogger() *logrus.Logger {
	log := logrus.New()
	log.SetLevel(logrus.PanicLevel)
	return log
}

func testServer() *Server {
	p := fusion.NewPipeline(fusion.PipelineConfig{
		Anchors: []estimate.AnchorFix{
			{ID: 1, X: 0, Y: 0, TxPowerDbm: -59},
			{ID: 2, X: 10, Y: 0, TxPowerDbm: -59},
			{ID: 3, X: 0, Y: 10, TxPowerDbm: -59},
		},
		PathLossExponent: 2.0,
	}, quietLogger())
	return NewServer(p, quietLogger())
}

func TestPositionSnapshotBeforeAnyFix(t *testing.T) {
	s := testServer()
	rec := httptest.NewRecorder()
	s.handlePosition(rec, httptest.NewRequest(http.MethodGet, "/api/position", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	var snap positionSnapshot
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &snap))
	assert.False(t, snap.Valid)
	assert.Equal(t, 0, snap.StepCount)
}

func TestResetRequiresPost(t *testing.T) {
	s := testServer()
	rec := httptest.NewRecorder()
	s.handleReset(rec, httptest.NewRequest(http.MethodGet, "/api/reset", nil))
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)

	rec = httptest.NewRecorder()
	s.handleReset(rec, httptest.NewRequest(http.MethodPost, "/api/reset", nil))
	assert.Equal(t, http.StatusNoContent, rec.Code)
}

func TestHubSkipsInvalidEstimates(t *testing.T) {
	h := NewHub(quietLogger())
	h.PublishPosition(estimate.Invalid())
	assert.Empty(t, h.broadcast)

	h.PublishPosition(estimate.PositionEstimate{
		X: 1, Y: 2, AccuracyM: 0.5, Confidence: 0.9,
		Source: estimate.SourceFusion, TimestampMs: 42,
	})
	require.Len(t, h.broadcast, 1)

	var msg wsPosition
	require.NoError(t, json.Unmarshal(<-h.broadcast, &msg))
	assert.Equal(t, 1.0, msg.X)
	assert.Equal(t, "FUSION", msg.Source)
}
