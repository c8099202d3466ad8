package server

import (
	"encoding/json"
	"fmt"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/sirupsen/logrus"

	"positioning-go/estimate"
	"positioning-go/fusion"
)

// MQTT feed message shapes. Timestamps are producer-side epoch
// milliseconds; zero means "stamp on arrival".
type imuMessage struct {
	TimestampMs int64       `json:"ts_ms"`
	Accel       [3]float64  `json:"accel"`
	Gyro        [3]float64  `json:"gyro"`
	Mag         *[3]float64 `json:"mag,omitempty"`
}

type visualMessage struct {
	TimestampMs      int64   `json:"ts_ms"`
	VelocityMps      float64 `json:"velocity_mps"`
	AngularRateRadps float64 `json:"angular_rate_radps"`
	SpanS            float64 `json:"span_s"`
}

// Feed subscribes to the inertial and visual sensor topics of an MQTT
// broker and feeds the pipeline. Devices that cannot speak the UDP binary
// protocol (phones, AMR payloads) publish JSON here instead.
type Feed struct {
	client   mqtt.Client
	pipeline *fusion.Pipeline
	log      *logrus.Entry
	prefix   string
	sinks    []Sink
}

// NewFeed prepares an MQTT client; Start connects and subscribes.
func NewFeed(broker, clientID, topicPrefix string, pipeline *fusion.Pipeline, log *logrus.Logger) *Feed {
	f := &Feed{
		pipeline: pipeline,
		log:      log.WithField("component", "mqtt-feed"),
		prefix:   topicPrefix,
	}
	opts := mqtt.NewClientOptions().
		AddBroker(broker).
		SetClientID(clientID + "-feed").
		SetAutoReconnect(true).
		SetConnectRetry(true).
		SetConnectRetryInterval(5 * time.Second).
		SetOnConnectHandler(f.onConnect)
	f.client = mqtt.NewClient(opts)
	return f
}

// AddSink attaches a position sink. Not safe after Start.
func (f *Feed) AddSink(sink Sink) { f.sinks = append(f.sinks, sink) }

// Start connects to the broker; subscriptions are (re)established by the
// connect handler so they survive reconnects.
func (f *Feed) Start() error {
	if token := f.client.Connect(); token.Wait() && token.Error() != nil {
		return fmt.Errorf("mqtt connect: %w", token.Error())
	}
	return nil
}

// Stop disconnects from the broker.
func (f *Feed) Stop() {
	f.client.Disconnect(250)
}

func (f *Feed) onConnect(c mqtt.Client) {
	f.log.Info("connected")
	c.Subscribe(f.prefix+"/imu", 0, f.handleIMU)
	c.Subscribe(f.prefix+"/visual", 0, f.handleVisual)
}

func (f *Feed) handleIMU(_ mqtt.Client, msg mqtt.Message) {
	var m imuMessage
	if err := json.Unmarshal(msg.Payload(), &m); err != nil {
		framesDropped.WithLabelValues("mqtt", "malformed").Inc()
		f.log.WithError(err).Debug("bad imu message")
		return
	}
	tsMs := m.TimestampMs
	if tsMs == 0 {
		tsMs = time.Now().UnixMilli()
	}
	var mag *estimate.Vector3
	if m.Mag != nil {
		mag = &estimate.Vector3{X: m.Mag[0], Y: m.Mag[1], Z: m.Mag[2]}
	}
	pos := f.pipeline.ProcessInertial(
		estimate.Vector3{X: m.Accel[0], Y: m.Accel[1], Z: m.Accel[2]},
		estimate.Vector3{X: m.Gyro[0], Y: m.Gyro[1], Z: m.Gyro[2]},
		mag, tsMs)
	framesIngested.WithLabelValues("mqtt", "imu").Inc()
	f.publish(pos)
}

func (f *Feed) handleVisual(_ mqtt.Client, msg mqtt.Message) {
	var m visualMessage
	if err := json.Unmarshal(msg.Payload(), &m); err != nil {
		framesDropped.WithLabelValues("mqtt", "malformed").Inc()
		f.log.WithError(err).Debug("bad visual message")
		return
	}
	if m.SpanS <= 0 {
		framesDropped.WithLabelValues("mqtt", "malformed").Inc()
		return
	}
	tsMs := m.TimestampMs
	if tsMs == 0 {
		tsMs = time.Now().UnixMilli()
	}
	pos := f.pipeline.ProcessVisual(
		estimate.MotionDelta{VelocityMps: m.VelocityMps, AngularRateRadps: m.AngularRateRadps},
		m.SpanS, tsMs)
	framesIngested.WithLabelValues("mqtt", "visual").Inc()
	f.publish(pos)
}

func (f *Feed) publish(pos estimate.PositionEstimate) {
	if !pos.IsValid() {
		return
	}
	fixesProduced.Inc()
	currentAccuracy.Set(pos.AccuracyM)
	for _, sink := range f.sinks {
		sink.PublishPosition(pos)
	}
}
