package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestDefaultIsValid(t *testing.T) {
	cfg := Default()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("default config should be valid: %v", err)
	}
	if cfg.Sampling.Interval != 4 || cfg.Sampling.Scale != 0.25 || cfg.Matching.Tolerance != 0.5 {
		t.Errorf("unexpected defaults: %+v %+v", cfg.Sampling, cfg.Matching)
	}
}

func TestLoad_YAMLThenEnv(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "securiface.yaml")
	yamlData := `
gallery_dir: /srv/faces
sampling:
  interval: 6
matching:
  tolerance: 0.45
store:
  driver: postgres
  dsn: postgres://localhost/attendance
`
	if err := os.WriteFile(path, []byte(yamlData), 0644); err != nil {
		t.Fatal(err)
	}

	t.Setenv("SECURIFACE_NTH_FRAME", "8")
	t.Setenv("SECURIFACE_SOURCE", "rtsp://10.0.0.5/stream")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if cfg.GalleryDir != "/srv/faces" {
		t.Errorf("GalleryDir = %q, want /srv/faces", cfg.GalleryDir)
	}
	if cfg.Sampling.Interval != 8 {
		t.Errorf("env should override yaml interval, got %d", cfg.Sampling.Interval)
	}
	if cfg.Sampling.Scale != 0.25 {
		t.Errorf("unset yaml key should keep default scale, got %f", cfg.Sampling.Scale)
	}
	if cfg.Matching.Tolerance != 0.45 {
		t.Errorf("Tolerance = %f, want 0.45", cfg.Matching.Tolerance)
	}
	if cfg.Source != "rtsp://10.0.0.5/stream" {
		t.Errorf("Source = %q", cfg.Source)
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("expected valid config, got %v", err)
	}
}

func TestLoad_PostgresEnvFallback(t *testing.T) {
	t.Setenv("SECURIFACE_STORE_DRIVER", "postgres")
	t.Setenv("POSTGRES_HOST", "db")
	t.Setenv("POSTGRES_USER", "user")
	t.Setenv("POSTGRES_PASSWORD", "secret")
	t.Setenv("POSTGRES_DB", "securiface")

	cfg, err := Load("")
	if err != nil {
		t.Fatal(err)
	}
	want := "postgres://user:secret@db:5432/securiface"
	if cfg.Store.DSN != want {
		t.Errorf("DSN = %q, want %q", cfg.Store.DSN, want)
	}
}

func TestLoad_MissingFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "nope.yaml")); err == nil {
		t.Fatal("expected error for missing config file")
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(c *Config)
		wantErr bool
	}{
		{"defaults", func(c *Config) {}, false},
		{"zero interval", func(c *Config) { c.Sampling.Interval = 0 }, true},
		{"scale above one", func(c *Config) { c.Sampling.Scale = 1.5 }, true},
		{"zero scale", func(c *Config) { c.Sampling.Scale = 0 }, true},
		{"negative tolerance", func(c *Config) { c.Matching.Tolerance = -0.1 }, true},
		{"unknown store driver", func(c *Config) { c.Store.Driver = "mongo" }, true},
		{"unknown capture backend", func(c *Config) { c.Capture.Backend = "v4l" }, true},
		{"worker without command", func(c *Config) { c.Encoder.Backend = "worker" }, true},
		{"worker with command", func(c *Config) {
			c.Encoder.Backend = "worker"
			c.Encoder.Command = "python3 -u encoder.py"
		}, false},
		{"mqtt broker without topic", func(c *Config) {
			c.MQTT.Broker = "tcp://localhost:1883"
			c.MQTT.Topic = ""
		}, true},
		{"bad log level", func(c *Config) { c.Log.Level = "loud" }, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(cfg)
			if err := cfg.Validate(); (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestEncoderArgs(t *testing.T) {
	c := EncoderConfig{Command: "python3  -u encoder.py"}
	args := c.EncoderArgs()
	if len(args) != 3 || args[0] != "python3" || args[2] != "encoder.py" {
		t.Errorf("EncoderArgs() = %v", args)
	}
}
