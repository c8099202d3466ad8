package web

import (
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"

	"positioning-go/fusion"
)

// Server exposes the live view: websocket stream, a JSON snapshot API, and
// Prometheus metrics.
type Server struct {
	Hub      *Hub
	pipeline *fusion.Pipeline
	log      *logrus.Entry
}

func NewServer(pipeline *fusion.Pipeline, log *logrus.Logger) *Server {
	return &Server{
		Hub:      NewHub(log),
		pipeline: pipeline,
		log:      log.WithField("component", "web"),
	}
}

// Start runs the hub and serves HTTP on the given port. Blocks.
func (s *Server) Start(port int) error {
	go s.Hub.Run()

	mux := http.NewServeMux()
	mux.HandleFunc("/ws", func(w http.ResponseWriter, r *http.Request) {
		serveWs(s.Hub, w, r)
	})
	mux.HandleFunc("/api/position", s.handlePosition)
	mux.HandleFunc("/api/reset", s.handleReset)
	mux.Handle("/metrics", promhttp.Handler())

	addr := fmt.Sprintf(":%d", port)
	s.log.WithField("addr", addr).Info("http server listening")
	return http.ListenAndServe(addr, mux)
}

type positionSnapshot struct {
	Valid       bool    `json:"valid"`
	TimestampMs int64   `json:"ts_ms"`
	X           float64 `json:"x"`
	Y           float64 `json:"y"`
	AccuracyM   float64 `json:"accuracy_m"`
	Confidence  float64 `json:"confidence"`
	Source      string  `json:"source"`
	HeadingDeg  float64 `json:"heading_deg"`
	StepCount   int     `json:"step_count"`
}

func (s *Server) handlePosition(w http.ResponseWriter, r *http.Request) {
	pos := s.pipeline.Current()
	snap := positionSnapshot{
		Valid:      pos.IsValid(),
		Source:     pos.Source.String(),
		HeadingDeg: s.pipeline.Heading().HeadingDeg,
		StepCount:  s.pipeline.StepCount(),
	}
	if snap.Valid {
		snap.TimestampMs = pos.TimestampMs
		snap.X = pos.X
		snap.Y = pos.Y
		snap.AccuracyM = pos.AccuracyM
		snap.Confidence = pos.Confidence
	}
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(snap)
}

func (s *Server) handleReset(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	s.pipeline.Reset()
	s.log.Info("pipeline reset via api")
	w.WriteHeader(http.StatusNoContent)
}
