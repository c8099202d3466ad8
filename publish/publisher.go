// Package publish delivers fused position estimates to downstream
// consumers over MQTT.
package publish

import (
	"encoding/json"
	"fmt"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/sirupsen/logrus"

	"positioning-go/estimate"
)

type positionMessage struct {
	TimestampMs int64   `json:"ts_ms"`
	X           float64 `json:"x"`
	Y           float64 `json:"y"`
	AccuracyM   float64 `json:"accuracy_m"`
	Confidence  float64 `json:"confidence"`
	Source      string  `json:"source"`
}

// Publisher pushes every valid fused estimate to `<prefix>/position`,
// retained so late subscribers get the last known fix immediately.
type Publisher struct {
	client mqtt.Client
	topic  string
	log    *logrus.Entry
}

// NewPublisher prepares the MQTT client; Start connects.
func NewPublisher(broker, clientID, topicPrefix string, log *logrus.Logger) *Publisher {
	p := &Publisher{
		topic: topicPrefix + "/position",
		log:   log.WithField("component", "publisher"),
	}
	opts := mqtt.NewClientOptions().
		AddBroker(broker).
		SetClientID(clientID + "-pub").
		SetAutoReconnect(true).
		SetConnectRetry(true).
		SetConnectRetryInterval(5 * time.Second)
	p.client = mqtt.NewClient(opts)
	return p
}

// Start connects to the broker.
func (p *Publisher) Start() error {
	if token := p.client.Connect(); token.Wait() && token.Error() != nil {
		return fmt.Errorf("mqtt connect: %w", token.Error())
	}
	p.log.WithField("topic", p.topic).Info("publishing positions")
	return nil
}

// Stop disconnects from the broker.
func (p *Publisher) Stop() {
	p.client.Disconnect(250)
}

// PublishPosition implements the ingest sinks' fan-out interface. Invalid
// estimates are never published.
func (p *Publisher) PublishPosition(pos estimate.PositionEstimate) {
	if !pos.IsValid() {
		return
	}
	p.client.Publish(p.topic, 0, true, encodePosition(pos))
}

func encodePosition(pos estimate.PositionEstimate) []byte {
	b, _ := json.Marshal(positionMessage{
		TimestampMs: pos.TimestampMs,
		X:           pos.X,
		Y:           pos.Y,
		AccuracyM:   pos.AccuracyM,
		Confidence:  pos.Confidence,
		Source:      pos.Source.String(),
	})
	return b
}
