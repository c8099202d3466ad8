package server

import (
	"fmt"
	"net"
	"time"

	"github.com/sirupsen/logrus"

	"positioning-go/binlog"
	"positioning-go/estimate"
	"positioning-go/fusion"
)

const (
	DefaultPort   = 9200
	MaxPacketSize = 65535
)

// Sink receives every valid fused estimate the ingest path produces.
// The web hub and the MQTT publisher both implement it.
type Sink interface {
	PublishPosition(pos estimate.PositionEstimate)
}

// UdpServer ingests binary sensor frames over UDP, feeds them to the
// pipeline, and fans fused estimates out to the attached sinks.
type UdpServer struct {
	conn     *net.UDPConn
	pipeline *fusion.Pipeline
	log      *logrus.Entry
	recorder *binlog.Writer
	sinks    []Sink
	running  bool
}

// NewUdpServer binds the listening socket.
func NewUdpServer(port int, pipeline *fusion.Pipeline, log *logrus.Logger) (*UdpServer, error) {
	if port == 0 {
		port = DefaultPort
	}
	conn, err := net.ListenUDP("udp", &net.UDPAddr{IP: net.IPv4zero, Port: port})
	if err != nil {
		return nil, fmt.Errorf("udp listen: %w", err)
	}
	conn.SetReadBuffer(256 * 1024)
	return &UdpServer{
		conn:     conn,
		pipeline: pipeline,
		log:      log.WithField("component", "udp"),
	}, nil
}

// SetRecorder attaches a session recorder; every accepted frame is logged.
func (s *UdpServer) SetRecorder(w *binlog.Writer) { s.recorder = w }

// AddSink attaches a position sink. Not safe after Start.
func (s *UdpServer) AddSink(sink Sink) { s.sinks = append(s.sinks, sink) }

// Start blocks, reading datagrams until Stop is called.
func (s *UdpServer) Start() {
	s.running = true
	buf := make([]byte, MaxPacketSize)
	s.log.WithField("addr", s.conn.LocalAddr().String()).Info("listening")

	for s.running {
		n, _, err := s.conn.ReadFromUDP(buf)
		if err != nil {
			if s.running {
				s.log.WithError(err).Warn("read error")
			}
			continue
		}
		data := make([]byte, n)
		copy(data, buf[:n])
		s.handlePacket(data, time.Now().UnixMilli())
	}
}

// Stop shuts the listener down; Start returns shortly after.
func (s *UdpServer) Stop() {
	s.running = false
	s.conn.Close()
}

// handlePacket walks the datagram frame by frame. A bad header resyncs by
// advancing one byte, matching how the firmware occasionally pads streams.
func (s *UdpServer) handlePacket(data []byte, tsMs int64) {
	offset := 0
	for offset < len(data) {
		if len(data)-offset < FrameHdrLen {
			break
		}
		hdr, err := ParseHeader(data[offset:])
		if err != nil {
			offset++
			continue
		}
		totalLen := FrameHdrLen + hdr.PayloadLen
		if offset+totalLen > len(data) {
			framesDropped.WithLabelValues("udp", "truncated").Inc()
			break
		}
		payload := data[offset+FrameHdrLen : offset+totalLen]
		offset += totalLen

		if s.recorder != nil {
			if err := s.recorder.WriteRecord(tsMs, hdr.DeviceID, hdr.Type, payload); err != nil {
				s.log.WithError(err).Warn("record failed")
			}
		}

		pos, err := Dispatch(s.pipeline, hdr.Type, payload, tsMs)
		if err != nil {
			framesDropped.WithLabelValues("udp", "malformed").Inc()
			s.log.WithError(err).WithField("type", fmt.Sprintf("0x%x", hdr.Type)).Debug("frame rejected")
			continue
		}
		framesIngested.WithLabelValues("udp", frameTypeName(hdr.Type)).Inc()
		s.publish(pos)
	}
}

func (s *UdpServer) publish(pos estimate.PositionEstimate) {
	if !pos.IsValid() {
		return
	}
	fixesProduced.Inc()
	currentAccuracy.Set(pos.AccuracyM)
	for _, sink := range s.sinks {
		sink.PublishPosition(pos)
	}
}

// Dispatch decodes one frame payload and applies it to the pipeline. The
// replay tool shares this path so recorded sessions exercise the exact live
// code.
func Dispatch(p *fusion.Pipeline, frameType uint8, payload []byte, tsMs int64) (estimate.PositionEstimate, error) {
	switch frameType {
	case TypeRssiFrame:
		samples, err := ParseRssiFrame(payload)
		if err != nil {
			return estimate.Invalid(), err
		}
		readings := make([]fusion.RSSIReading, len(samples))
		for i, smp := range samples {
			readings[i] = fusion.RSSIReading{AnchorID: smp.AnchorID, RSSIDbm: float64(smp.RSSIDb)}
		}
		return p.ProcessRadioBatch(readings, tsMs), nil
	case TypeImuFrame:
		imu, err := ParseImuFrame(payload)
		if err != nil {
			return estimate.Invalid(), err
		}
		return p.ProcessInertial(imu.Accel, imu.Gyro, imu.Mag, tsMs), nil
	case TypeVisualFrame:
		vis, err := ParseVisualFrame(payload)
		if err != nil {
			return estimate.Invalid(), err
		}
		if vis.SpanS <= 0 {
			return estimate.Invalid(), fmt.Errorf("visual frame span must be positive, got %v", vis.SpanS)
		}
		delta := estimate.MotionDelta{VelocityMps: vis.VelocityMps, AngularRateRadps: vis.AngularRateRadps}
		return p.ProcessVisual(delta, vis.SpanS, tsMs), nil
	default:
		return estimate.Invalid(), fmt.Errorf("unknown frame type 0x%x", frameType)
	}
}

func frameTypeName(t uint8) string {
	switch t {
	case TypeRssiFrame:
		return "rssi"
	case TypeImuFrame:
		return "imu"
	case TypeVisualFrame:
		return "visual"
	default:
		return "unknown"
	}
}
