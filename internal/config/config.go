package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/pelletier/go-toml/v2"
	"gopkg.in/yaml.v3"

	"nmea-relay/internal/nmea"
	"nmea-relay/internal/transport"
)

// EnvPrefix prefixes every environment override.
const EnvPrefix = "NMEA_RELAY_"

type Config struct {
	Name     string   `yaml:"name" toml:"name" env:"NAME"`
	Interval Duration `yaml:"interval" toml:"interval" env:"INTERVAL"`
	Filter   string   `yaml:"filter" toml:"filter" env:"FILTER"`
	Verbose  bool     `yaml:"verbose" toml:"verbose" env:"VERBOSE"`

	Source  SourceConfig  `yaml:"source" toml:"source" envPrefix:"SOURCE_"`
	Queue   QueueConfig   `yaml:"queue" toml:"queue" envPrefix:"QUEUE_"`
	Log     LogConfig     `yaml:"log" toml:"log" envPrefix:"LOG_"`
	Decoder DecoderConfig `yaml:"decoder" toml:"decoder" envPrefix:"DECODER_"`
	Metrics MetricsConfig `yaml:"metrics" toml:"metrics" envPrefix:"METRICS_"`
	MQTT    MQTTConfig    `yaml:"mqtt" toml:"mqtt" envPrefix:"MQTT_"`
}

// SourceConfig names exactly one transport. Only the section matching Kind
// may be present.
type SourceConfig struct {
	Kind   string        `yaml:"kind" toml:"kind" env:"KIND"`
	Serial *SerialConfig `yaml:"serial,omitempty" toml:"serial,omitempty"`
	UDP    *UDPConfig    `yaml:"udp,omitempty" toml:"udp,omitempty"`
	File   *FileConfig   `yaml:"file,omitempty" toml:"file,omitempty"`
}

type SerialConfig struct {
	Device string `yaml:"device" toml:"device"`
	Baud   int    `yaml:"baud" toml:"baud"`
}

type UDPConfig struct {
	Listen      string   `yaml:"listen" toml:"listen"`
	Dest        string   `yaml:"dest" toml:"dest"`
	PollTimeout Duration `yaml:"poll_timeout" toml:"poll_timeout"`
}

type FileConfig struct {
	Path string `yaml:"path" toml:"path"`
	// Speed multiplies the replay clock; 1 is real time.
	Speed float64 `yaml:"speed" toml:"speed"`
	// Start is the virtual clock origin. Empty starts at the first record.
	Start string `yaml:"start" toml:"start"`
	// Seek positions the player before the first cycle.
	Seek string `yaml:"seek" toml:"seek"`
}

// QueueConfig sizes the in-process channels between the session and its
// consumers.
type QueueConfig struct {
	Downstream int `yaml:"downstream" toml:"downstream" env:"DOWNSTREAM"`
	Upstream   int `yaml:"upstream" toml:"upstream" env:"UPSTREAM"`
	Data       int `yaml:"data" toml:"data" env:"DATA"`
}

type LogConfig struct {
	Enable   bool   `yaml:"enable" toml:"enable" env:"ENABLE"`
	Dir      string `yaml:"dir" toml:"dir" env:"DIR"`
	Required bool   `yaml:"required" toml:"required" env:"REQUIRED"`
}

type DecoderConfig struct {
	Enable bool `yaml:"enable" toml:"enable" env:"ENABLE"`
}

type MetricsConfig struct {
	// Listen enables the HTTP status and Prometheus endpoint when set, e.g.
	// ":9110".
	Listen string `yaml:"listen" toml:"listen" env:"LISTEN"`
}

type MQTTConfig struct {
	Broker        string `yaml:"broker" toml:"broker" env:"BROKER"`
	ClientID      string `yaml:"client_id" toml:"client_id" env:"CLIENT_ID"`
	SentenceTopic string `yaml:"sentence_topic" toml:"sentence_topic" env:"SENTENCE_TOPIC"`
	DataTopic     string `yaml:"data_topic" toml:"data_topic" env:"DATA_TOPIC"`
	OutboundTopic string `yaml:"outbound_topic" toml:"outbound_topic" env:"OUTBOUND_TOPIC"`
}

// Enabled reports whether a broker is configured.
func (m MQTTConfig) Enabled() bool { return strings.TrimSpace(m.Broker) != "" }

// Load reads path (YAML, or TOML for a .toml extension), applies environment
// overrides, defaults and validation.
func Load(path string) (Config, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return Config{}, err
	}
	return Parse(b, formatOf(path))
}

// Format is the on-disk encoding of a config file.
type Format int

const (
	FormatYAML Format = iota
	FormatTOML
)

func formatOf(path string) Format {
	if strings.EqualFold(filepath.Ext(path), ".toml") {
		return FormatTOML
	}
	return FormatYAML
}

// Parse decodes b and returns the validated config.
func Parse(b []byte, format Format) (Config, error) {
	var cfg Config
	switch format {
	case FormatTOML:
		dec := toml.NewDecoder(bytes.NewReader(b))
		dec.DisallowUnknownFields()
		if err := dec.Decode(&cfg); err != nil {
			return Config{}, fmt.Errorf("parse toml: %w", err)
		}
	default:
		dec := yaml.NewDecoder(bytes.NewReader(b))
		dec.KnownFields(true)
		if err := dec.Decode(&cfg); err != nil && !errors.Is(err, io.EOF) {
			return Config{}, fmt.Errorf("parse yaml: %w", err)
		}
	}

	if err := env.ParseWithOptions(&cfg, env.Options{Prefix: EnvPrefix}); err != nil {
		return Config{}, fmt.Errorf("parse env: %w", err)
	}

	if err := cfg.applyDefaults(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (cfg *Config) applyDefaults() error {
	if cfg.Name == "" {
		cfg.Name = "nmea0"
	}
	if strings.ContainsAny(cfg.Name, `/\`) {
		return fmt.Errorf("name must not contain path separators")
	}
	if cfg.Interval <= 0 {
		cfg.Interval = Duration(100 * time.Millisecond)
	}
	if _, err := nmea.ParseFilter(cfg.Filter); err != nil {
		return fmt.Errorf("filter: %w", err)
	}

	if strings.TrimSpace(cfg.Source.Kind) == "" {
		return fmt.Errorf("source.kind is required")
	}
	kind, err := transport.ParseKind(cfg.Source.Kind)
	if err != nil {
		return fmt.Errorf("source.kind: %w", err)
	}
	cfg.Source.Kind = string(kind)
	if err := cfg.Transport().Validate(); err != nil {
		return err
	}
	if f := cfg.Source.File; f != nil {
		if f.Speed == 0 {
			f.Speed = 1
		}
		if f.Speed < 0 {
			return fmt.Errorf("source.file.speed must be > 0")
		}
		if _, err := ParseTime(f.Start); err != nil {
			return fmt.Errorf("source.file.start: %w", err)
		}
		if _, err := ParseTime(f.Seek); err != nil {
			return fmt.Errorf("source.file.seek: %w", err)
		}
	}
	if u := cfg.Source.UDP; u != nil && u.PollTimeout < 0 {
		return fmt.Errorf("source.udp.poll_timeout must be >= 0")
	}

	if cfg.Queue.Downstream <= 0 {
		cfg.Queue.Downstream = 256
	}
	if cfg.Queue.Upstream <= 0 {
		cfg.Queue.Upstream = 64
	}
	if cfg.Queue.Data <= 0 {
		cfg.Queue.Data = 256
	}

	if cfg.Log.Required && !cfg.Log.Enable {
		return fmt.Errorf("log.required cannot be set when log.enable is false")
	}
	if cfg.Log.Enable && cfg.Log.Dir == "" {
		cfg.Log.Dir = "logs"
	}

	if cfg.MQTT.Enabled() {
		if cfg.MQTT.ClientID == "" {
			cfg.MQTT.ClientID = cfg.Name
		}
		if cfg.MQTT.SentenceTopic == "" && cfg.MQTT.DataTopic == "" && cfg.MQTT.OutboundTopic == "" {
			return fmt.Errorf("mqtt.broker is set but no mqtt topic is configured")
		}
	} else if cfg.MQTT.SentenceTopic != "" || cfg.MQTT.DataTopic != "" || cfg.MQTT.OutboundTopic != "" {
		return fmt.Errorf("mqtt.broker is required when an mqtt topic is set")
	}
	return nil
}

// Transport converts the source section into the transport variant.
func (cfg Config) Transport() transport.Config {
	out := transport.Config{Kind: transport.Kind(cfg.Source.Kind)}
	if s := cfg.Source.Serial; s != nil {
		out.Serial = &transport.SerialConfig{Device: s.Device, Baud: s.Baud}
	}
	if u := cfg.Source.UDP; u != nil {
		out.UDP = &transport.UDPConfig{Listen: u.Listen, Dest: u.Dest, PollTimeout: u.PollTimeout.Std()}
	}
	if f := cfg.Source.File; f != nil {
		out.File = &transport.FileConfig{Path: f.Path}
	}
	return out
}

// SentenceFilter returns the parsed filter. Load has already validated it.
func (cfg Config) SentenceFilter() nmea.Filter {
	f, err := nmea.ParseFilter(cfg.Filter)
	if err != nil {
		return nmea.AcceptAll
	}
	return f
}

// ParseTime parses an RFC 3339 timestamp as UTC. Empty input yields the zero
// time.
func ParseTime(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}, nil
	}
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid time %q (want RFC 3339)", s)
	}
	return t.UTC(), nil
}

// Duration is a time.Duration that decodes from strings like "100ms" in
// YAML, TOML and the environment.
type Duration time.Duration

func (d Duration) Std() time.Duration { return time.Duration(d) }

func (d Duration) String() string { return time.Duration(d).String() }

func (d Duration) MarshalText() ([]byte, error) {
	return []byte(time.Duration(d).String()), nil
}

func (d *Duration) UnmarshalText(b []byte) error {
	v, err := time.ParseDuration(strings.TrimSpace(string(b)))
	if err != nil {
		return err
	}
	*d = Duration(v)
	return nil
}
