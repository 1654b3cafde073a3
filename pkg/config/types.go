package config

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/titanworks/titan/pkg/api"
	"github.com/titanworks/titan/pkg/capability"
	"github.com/titanworks/titan/pkg/ingress"
	"github.com/titanworks/titan/pkg/stores"
	"github.com/titanworks/titan/pkg/telemetry"
)

// Config is the titan configuration after schema defaults are applied.
type Config struct {
	Engine     EngineConfig     `json:"engine"`
	Capability CapabilityConfig `json:"capability"`
	Ingress    IngressConfig    `json:"ingress"`
	Store      StoreConfig      `json:"store"`
	Policy     PolicyConfig     `json:"policy"`
	API        APIConfig        `json:"api"`
	Telemetry  TelemetryConfig  `json:"telemetry"`

	// Source is the file the configuration was read from, empty for defaults.
	Source string `json:"-"`
}

// EngineConfig bounds the executor.
type EngineConfig struct {
	// MaxSteps is the hard cap on actions per run.
	MaxSteps int `json:"max_steps" validate:"min=1,max=256"`
}

// CapabilityConfig selects and tunes the capability adapter.
type CapabilityConfig struct {
	// Mode is "simulated" (in-process plant) or "http".
	Mode string `json:"mode" validate:"oneof=simulated http"`

	// Timeout bounds each capability call.
	Timeout Duration `json:"timeout" validate:"gt=0"`

	// Plant is an optional YAML fixture for the simulated plant.
	Plant string `json:"plant,omitempty"`

	Strategy StrategyConfig `json:"strategy"`

	// Endpoints maps capability groups to JSON-RPC URLs in http mode.
	Endpoints map[string]string `json:"endpoints" validate:"dive,keys,oneof=sensor maintenance inventory logistics governance communications,endkeys,url"`

	RatePerSecond float64 `json:"rate_per_second" validate:"gte=0"`
	Burst         int     `json:"burst" validate:"gte=0"`

	Headers map[string]string `json:"headers,omitempty"`
}

// StrategyConfig selects how operations are chosen for an intent.
type StrategyConfig struct {
	Kind    string   `json:"kind" validate:"oneof=deterministic script"`
	Script  string   `json:"script,omitempty" validate:"required_if=Kind script"`
	Timeout Duration `json:"timeout" validate:"gt=0"`
}

// IngressConfig tunes event admission and recommendations.
type IngressConfig struct {
	ValidityWindow    Duration `json:"validity_window" validate:"gte=0"`
	RecommendationTTL Duration `json:"recommendation_ttl" validate:"gt=0"`
	LabourHours       float64  `json:"labour_hours" validate:"gte=0"`
	LabourRate        float64  `json:"labour_rate" validate:"gte=0"`
	SweepInterval     Duration `json:"sweep_interval" validate:"gt=0"`
}

// StoreConfig locates the SQLite database.
type StoreConfig struct {
	Path         string   `json:"path" validate:"required"`
	MaxOpenConns int      `json:"max_open_conns" validate:"gte=1"`
	MaxIdleConns int      `json:"max_idle_conns" validate:"gte=0"`
	ConnLifetime Duration `json:"conn_max_lifetime" validate:"gte=0"`
}

// PolicyConfig locates operator regulation policies.
type PolicyConfig struct {
	Dir   string `json:"dir,omitempty"`
	Watch bool   `json:"watch"`
}

// APIConfig configures the approval API.
type APIConfig struct {
	Listen string `json:"listen" validate:"required"`

	// JWTSecret signs approver tokens (HS256). Approvals are refused without it.
	JWTSecret string `json:"jwt_secret,omitempty"`

	// ApproverRole is the role claim required to approve or dismiss.
	ApproverRole string `json:"approver_role" validate:"required"`

	ReadTimeout     Duration `json:"read_timeout" validate:"gt=0"`
	WriteTimeout    Duration `json:"write_timeout" validate:"gt=0"`
	ShutdownTimeout Duration `json:"shutdown_timeout" validate:"gt=0"`
}

// TelemetryConfig is the file form of telemetry.Config.
type TelemetryConfig struct {
	Environment string        `json:"environment"`
	Logging     LoggingConfig `json:"logging"`
	Tracing     TracingConfig `json:"tracing"`
	Metrics     MetricsConfig `json:"metrics"`
	Events      EventsConfig  `json:"events"`
}

// LoggingConfig configures zerolog output. A file Output is rotated.
type LoggingConfig struct {
	Level      string `json:"level" validate:"oneof=trace debug info warn error fatal"`
	Format     string `json:"format" validate:"oneof=console json"`
	Output     string `json:"output" validate:"required"`
	MaxSizeMB  int    `json:"max_size_mb" validate:"gte=1"`
	MaxBackups int    `json:"max_backups" validate:"gte=0"`
	MaxAgeDays int    `json:"max_age_days" validate:"gte=0"`
	Compress   bool   `json:"compress"`
}

type TracingConfig struct {
	Enabled      bool    `json:"enabled"`
	Exporter     string  `json:"exporter" validate:"oneof=otlp stdout none"`
	Endpoint     string  `json:"endpoint,omitempty" validate:"required_if=Exporter otlp"`
	SamplingRate float64 `json:"sampling_rate" validate:"gte=0,lte=1"`
	Insecure     bool    `json:"insecure"`
}

type MetricsConfig struct {
	Enabled   bool   `json:"enabled"`
	Namespace string `json:"namespace" validate:"required"`
}

type EventsConfig struct {
	BufferSize int  `json:"buffer_size" validate:"gte=1"`
	Async      bool `json:"async"`
}

// Duration is a time.Duration written as a Go duration string ("90s", "48h").
type Duration time.Duration

// Std returns d as a time.Duration.
func (d Duration) Std() time.Duration { return time.Duration(d) }

func (d Duration) String() string { return time.Duration(d).String() }

// MarshalJSON implements json.Marshaler.
func (d Duration) MarshalJSON() ([]byte, error) {
	return json.Marshal(time.Duration(d).String())
}

// UnmarshalJSON implements json.Unmarshaler.
func (d *Duration) UnmarshalJSON(b []byte) error {
	var s string
	if err := json.Unmarshal(b, &s); err != nil {
		return fmt.Errorf("duration must be a string: %w", err)
	}
	parsed, err := time.ParseDuration(s)
	if err != nil {
		return err
	}
	*d = Duration(parsed)
	return nil
}

// IngressConfig converts to the ingress service configuration.
func (c *Config) IngressConfig() ingress.Config {
	return ingress.Config{
		ValidityWindow:    c.Ingress.ValidityWindow.Std(),
		RecommendationTTL: c.Ingress.RecommendationTTL.Std(),
		LabourHours:       c.Ingress.LabourHours,
		LabourRate:        c.Ingress.LabourRate,
		SweepInterval:     c.Ingress.SweepInterval.Std(),
	}
}

// StoreConfig converts to the SQLite store configuration.
func (c *Config) StoreConfig() stores.Config {
	return stores.Config{
		Path:            c.Store.Path,
		MaxOpenConns:    c.Store.MaxOpenConns,
		MaxIdleConns:    c.Store.MaxIdleConns,
		ConnMaxLifetime: c.Store.ConnLifetime.Std(),
	}
}

// APIConfig converts to the HTTP server configuration.
func (c *Config) APIConfig() api.Config {
	return api.Config{
		Listen:          c.API.Listen,
		JWTSecret:       c.API.JWTSecret,
		ApproverRole:    c.API.ApproverRole,
		ReadTimeout:     c.API.ReadTimeout.Std(),
		WriteTimeout:    c.API.WriteTimeout.Std(),
		ShutdownTimeout: c.API.ShutdownTimeout.Std(),
	}
}

// HTTPConfig converts to the HTTP capability adapter configuration.
func (c *Config) HTTPConfig() capability.HTTPConfig {
	endpoints := make(map[capability.Group]string, len(c.Capability.Endpoints))
	for group, url := range c.Capability.Endpoints {
		endpoints[capability.Group(group)] = url
	}
	return capability.HTTPConfig{
		Endpoints:     endpoints,
		RatePerSecond: c.Capability.RatePerSecond,
		Burst:         c.Capability.Burst,
		Timeout:       c.Capability.Timeout.Std(),
		Headers:       c.Capability.Headers,
	}
}

// TelemetryConfig converts to a telemetry configuration, keeping the
// telemetry package defaults for settings the file does not expose.
func (c *Config) TelemetryConfig(version string) *telemetry.Config {
	tc := telemetry.DefaultConfig()
	if version != "" {
		tc.ServiceVersion = version
	}
	if c.Telemetry.Environment != "" {
		tc.Environment = c.Telemetry.Environment
	}

	l := c.Telemetry.Logging
	tc.Logging.Level = l.Level
	tc.Logging.Format = l.Format
	tc.Logging.Output = l.Output
	tc.Logging.Rotation = telemetry.RotationConfig{
		MaxSizeMB:  l.MaxSizeMB,
		MaxBackups: l.MaxBackups,
		MaxAgeDays: l.MaxAgeDays,
		Compress:   l.Compress,
	}

	t := c.Telemetry.Tracing
	tc.Tracing.Enabled = t.Enabled
	tc.Tracing.Exporter = t.Exporter
	tc.Tracing.Endpoint = t.Endpoint
	tc.Tracing.SamplingRate = t.SamplingRate
	tc.Tracing.Insecure = t.Insecure

	tc.Metrics.Enabled = c.Telemetry.Metrics.Enabled
	tc.Metrics.Namespace = c.Telemetry.Metrics.Namespace

	tc.Events.BufferSize = c.Telemetry.Events.BufferSize
	tc.Events.EnableAsync = c.Telemetry.Events.Async
	return tc
}
