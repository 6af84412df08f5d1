package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"
)

// Config is the full runtime configuration. Values come from Default, then an optional YAML file,
// then SECURIFACE_* environment variables, then explicitly set command line flags.
type Config struct {
	GalleryDir string         `yaml:"gallery_dir" validate:"required"`
	Source     string         `yaml:"source" validate:"required"`
	Capture    CaptureConfig  `yaml:"capture"`
	Sampling   SamplingConfig `yaml:"sampling"`
	Matching   MatchingConfig `yaml:"matching"`
	Encoder    EncoderConfig  `yaml:"encoder"`
	Store      StoreConfig    `yaml:"store"`
	HTTP       HTTPConfig     `yaml:"http"`
	MQTT       MQTTConfig     `yaml:"mqtt"`
	Log        LogConfig      `yaml:"log"`
}

type CaptureConfig struct {
	Backend string `yaml:"backend" validate:"oneof=ffmpeg opencv"`
}

type SamplingConfig struct {
	Interval int     `yaml:"interval" validate:"min=1"`   // analyze every Nth frame
	Scale    float64 `yaml:"scale" validate:"gt=0,lte=1"` // down-scale factor applied before detection
}

type MatchingConfig struct {
	Tolerance    float64 `yaml:"tolerance" validate:"gt=0"`
	UnknownLabel string  `yaml:"unknown_label" validate:"required"`
}

type EncoderConfig struct {
	Backend   string `yaml:"backend" validate:"oneof=dlib worker"`
	ModelsDir string `yaml:"models_dir" validate:"required_if=Backend dlib"`
	Command   string `yaml:"command" validate:"required_if=Backend worker"` // sidecar command line, split on spaces
	CNN       bool   `yaml:"cnn"`
}

type StoreConfig struct {
	Driver string `yaml:"driver" validate:"oneof=sqlite postgres redis memory"`
	DSN    string `yaml:"dsn" validate:"required_unless=Driver memory"`
}

type HTTPConfig struct {
	Addr string `yaml:"addr"` // empty disables the HTTP boundary for watch
}

type MQTTConfig struct {
	Broker string `yaml:"broker"` // empty disables publishing
	Topic  string `yaml:"topic" validate:"required_with=Broker"`
}

type LogConfig struct {
	Level       string `yaml:"level" validate:"oneof=debug info warn error"`
	Development bool   `yaml:"development"`
}

// Default returns the configuration used when nothing else is provided.
func Default() *Config {
	return &Config{
		GalleryDir: "images_",
		Source:     "0",
		Capture:    CaptureConfig{Backend: "ffmpeg"},
		Sampling:   SamplingConfig{Interval: 4, Scale: 0.25},
		Matching:   MatchingConfig{Tolerance: 0.5, UnknownLabel: "Unknown"},
		Encoder:    EncoderConfig{Backend: "dlib", ModelsDir: "models"},
		Store:      StoreConfig{Driver: "sqlite", DSN: "attendance.db"},
		MQTT:       MQTTConfig{Topic: "securiface/attendance"},
		Log:        LogConfig{Level: "info"},
	}
}

// Load builds a configuration from defaults, the YAML file at path (if non-empty) and the environment.
// It does not validate; call Validate once flags have been applied.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("reading config file: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parsing config file %s: %w", path, err)
		}
	}
	applyEnv(cfg)
	return cfg, nil
}

func applyEnv(cfg *Config) {
	envString("SECURIFACE_GALLERY_DIR", &cfg.GalleryDir)
	envString("SECURIFACE_SOURCE", &cfg.Source)
	envString("SECURIFACE_CAPTURE_BACKEND", &cfg.Capture.Backend)
	envInt("SECURIFACE_NTH_FRAME", &cfg.Sampling.Interval)
	envFloat("SECURIFACE_SCALE", &cfg.Sampling.Scale)
	envFloat("SECURIFACE_TOLERANCE", &cfg.Matching.Tolerance)
	envString("SECURIFACE_UNKNOWN_LABEL", &cfg.Matching.UnknownLabel)
	envString("SECURIFACE_ENCODER", &cfg.Encoder.Backend)
	envString("SECURIFACE_MODELS_DIR", &cfg.Encoder.ModelsDir)
	envString("SECURIFACE_ENCODER_CMD", &cfg.Encoder.Command)
	envBool("SECURIFACE_CNN", &cfg.Encoder.CNN)
	envString("SECURIFACE_STORE_DRIVER", &cfg.Store.Driver)
	envString("SECURIFACE_STORE_DSN", &cfg.Store.DSN)
	envString("SECURIFACE_HTTP_ADDR", &cfg.HTTP.Addr)
	envString("SECURIFACE_MQTT_BROKER", &cfg.MQTT.Broker)
	envString("SECURIFACE_MQTT_TOPIC", &cfg.MQTT.Topic)
	envString("SECURIFACE_LOG_LEVEL", &cfg.Log.Level)
	envBool("SECURIFACE_LOG_DEV", &cfg.Log.Development)

	// Same fallback as the other postgres tools: build a DSN from the standard variables.
	if cfg.Store.Driver == "postgres" && os.Getenv("SECURIFACE_STORE_DSN") == "" {
		if host := os.Getenv("POSTGRES_HOST"); host != "" {
			port := os.Getenv("POSTGRES_PORT")
			if port == "" {
				port = "5432"
			}
			cfg.Store.DSN = fmt.Sprintf("postgres://%s:%s@%s:%s/%s",
				os.Getenv("POSTGRES_USER"), os.Getenv("POSTGRES_PASSWORD"), host, port, os.Getenv("POSTGRES_DB"))
		}
	}
}

// Validate checks every field against its constraints.
func (c *Config) Validate() error {
	if err := validator.New().Struct(c); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}
	return nil
}

// EncoderArgs splits the sidecar command line into program and arguments.
func (c *EncoderConfig) EncoderArgs() []string {
	return strings.Fields(c.Command)
}

func envString(key string, dst *string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

// envInt overwrites dst only when the variable parses as a positive integer.
func envInt(key string, dst *int) {
	if n, err := strconv.Atoi(os.Getenv(key)); err == nil && n > 0 {
		*dst = n
	}
}

func envFloat(key string, dst *float64) {
	if f, err := strconv.ParseFloat(os.Getenv(key), 64); err == nil {
		*dst = f
	}
}

func envBool(key string, dst *bool) {
	if b, err := strconv.ParseBool(os.Getenv(key)); err == nil {
		*dst = b
	}
}
