// Package config loads and validates the engine's YAML configuration.
package config

import (
	"fmt"
	"os"

	"github.com/sirupsen/logrus"
	"gopkg.in/yaml.v3"

	"positioning-go/estimate"
	"positioning-go/fusion"
	"positioning-go/pdr"
)

// Config is the root of the YAML document.
type Config struct {
	LogLevel string         `yaml:"log_level"`
	Engine   EngineConfig   `yaml:"engine"`
	Anchors  []AnchorConfig `yaml:"anchors"`
	Server   ServerConfig   `yaml:"server"`
	MQTT     MQTTConfig     `yaml:"mqtt"`
}

// EngineConfig tunes the estimation pipeline.
type EngineConfig struct {
	PathLossExponent   float64    `yaml:"path_loss_exponent"`
	StalenessTimeoutMs int64      `yaml:"staleness_timeout_ms"`
	Step               StepConfig `yaml:"step"`
	StepLengthM        float64    `yaml:"step_length_m"`
	RequireRotation    *bool      `yaml:"require_rotation"`
	// HeadingFilter selects "complementary" (default) or "kalman".
	HeadingFilter string `yaml:"heading_filter"`
}

// StepConfig tunes the step detector; zero fields keep built-in defaults.
type StepConfig struct {
	PeakThreshold       float64 `yaml:"peak_threshold"`
	ValleyThreshold     float64 `yaml:"valley_threshold"`
	MinPeakValleyHeight float64 `yaml:"min_peak_valley_height"`
	MinStepIntervalMs   int64   `yaml:"min_step_interval_ms"`
	MaxStepIntervalMs   int64   `yaml:"max_step_interval_ms"`
}

// AnchorConfig places one radio anchor in the site frame.
type AnchorConfig struct {
	ID         int     `yaml:"id"`
	X          float64 `yaml:"x"`
	Y          float64 `yaml:"y"`
	TxPowerDbm float64 `yaml:"tx_power_dbm"`
}

// ServerConfig holds the ingest and HTTP endpoints.
type ServerConfig struct {
	UDPPort    int    `yaml:"udp_port"`
	HTTPPort   int    `yaml:"http_port"`
	RecordPath string `yaml:"record_path"`
}

// MQTTConfig holds the broker connection for feeds and publishing. An empty
// Broker disables MQTT entirely.
type MQTTConfig struct {
	Broker      string `yaml:"broker"`
	ClientID    string `yaml:"client_id"`
	TopicPrefix string `yaml:"topic_prefix"`
}

// Default returns the configuration used when a field is absent.
func Default() Config {
	return Config{
		LogLevel: "info",
		Engine: EngineConfig{
			PathLossExponent:   3.0,
			StalenessTimeoutMs: 5000,
			StepLengthM:        0.7,
			HeadingFilter:      "complementary",
		},
		Server: ServerConfig{
			UDPPort:  9200,
			HTTPPort: 8080,
		},
		MQTT: MQTTConfig{
			ClientID:    "positioning-engine",
			TopicPrefix: "positioning",
		},
	}
}

// Load reads, parses, and validates the YAML file at path, applying
// defaults for absent fields.
func Load(path string) (*Config, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	return Parse(raw)
}

// Parse parses and validates a YAML document.
func Parse(raw []byte) (*Config, error) {
	cfg := Default()
	if err := yaml.Unmarshal(raw, &cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate rejects configurations the engine cannot run with.
func (c *Config) Validate() error {
	if _, err := logrus.ParseLevel(c.LogLevel); err != nil {
		return fmt.Errorf("config: invalid log_level %q", c.LogLevel)
	}
	if c.Engine.PathLossExponent <= 0 {
		return fmt.Errorf("config: path_loss_exponent must be positive, got %v", c.Engine.PathLossExponent)
	}
	if c.Engine.StalenessTimeoutMs <= 0 {
		return fmt.Errorf("config: staleness_timeout_ms must be positive, got %v", c.Engine.StalenessTimeoutMs)
	}
	if c.Engine.StepLengthM <= 0 {
		return fmt.Errorf("config: step_length_m must be positive, got %v", c.Engine.StepLengthM)
	}
	switch c.Engine.HeadingFilter {
	case "complementary", "kalman":
	default:
		return fmt.Errorf("config: heading_filter must be complementary or kalman, got %q", c.Engine.HeadingFilter)
	}
	seen := make(map[int]bool, len(c.Anchors))
	for _, a := range c.Anchors {
		if seen[a.ID] {
			return fmt.Errorf("config: duplicate anchor id %d", a.ID)
		}
		seen[a.ID] = true
		if a.TxPowerDbm >= 0 {
			return fmt.Errorf("config: anchor %d tx_power_dbm must be negative dBm, got %v", a.ID, a.TxPowerDbm)
		}
	}
	if c.Server.UDPPort <= 0 || c.Server.UDPPort > 65535 {
		return fmt.Errorf("config: udp_port out of range: %d", c.Server.UDPPort)
	}
	if c.Server.HTTPPort <= 0 || c.Server.HTTPPort > 65535 {
		return fmt.Errorf("config: http_port out of range: %d", c.Server.HTTPPort)
	}
	return nil
}

// LogrusLevel returns the parsed log level; Validate has already checked it.
func (c *Config) LogrusLevel() logrus.Level {
	lvl, err := logrus.ParseLevel(c.LogLevel)
	if err != nil {
		return logrus.InfoLevel
	}
	return lvl
}

// PipelineConfig maps the configuration onto the fusion pipeline's tunables.
func (c *Config) PipelineConfig() fusion.PipelineConfig {
	anchors := make([]estimate.AnchorFix, 0, len(c.Anchors))
	for _, a := range c.Anchors {
		anchors = append(anchors, estimate.AnchorFix{ID: a.ID, X: a.X, Y: a.Y, TxPowerDbm: a.TxPowerDbm})
	}
	requireRotation := true
	if c.Engine.RequireRotation != nil {
		requireRotation = *c.Engine.RequireRotation
	}
	return fusion.PipelineConfig{
		Anchors:            anchors,
		PathLossExponent:   c.Engine.PathLossExponent,
		StalenessTimeoutMs: c.Engine.StalenessTimeoutMs,
		Step: pdr.StepConfig{
			PeakThreshold:       c.Engine.Step.PeakThreshold,
			ValleyThreshold:     c.Engine.Step.ValleyThreshold,
			MinPeakValleyHeight: c.Engine.Step.MinPeakValleyHeight,
			MinStepIntervalMs:   c.Engine.Step.MinStepIntervalMs,
			MaxStepIntervalMs:   c.Engine.Step.MaxStepIntervalMs,
		},
		StepLengthM:      c.Engine.StepLengthM,
		RequireRotation:  requireRotation,
		UseKalmanHeading: c.Engine.HeadingFilter == "kalman",
	}
}
