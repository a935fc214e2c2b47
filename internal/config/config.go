package config

import (
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds FraudShield configuration.
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Logging   LoggingConfig   `yaml:"logging"`
	Models    ModelsConfig    `yaml:"models"`
	Detection DetectionConfig `yaml:"detection"`
	Scratch   ScratchConfig   `yaml:"scratch"`
	Audit     AuditConfig     `yaml:"audit"`
	Metrics   MetricsConfig   `yaml:"metrics"`
	Telemetry TelemetryConfig `yaml:"telemetry"`
}

type ServerConfig struct {
	Addr              string        `yaml:"addr" validate:"required"` // HTTP listen address, e.g. ":8000"
	MaxUploadBytes    int64         `yaml:"max_upload_bytes" validate:"gt=0"`
	MaxInFlight       int           `yaml:"max_in_flight" validate:"gte=0"` // concurrent detections; 0 = unlimited
	ReadHeaderTimeout time.Duration `yaml:"read_header_timeout" validate:"gte=0"`
	ReadTimeout       time.Duration `yaml:"read_timeout" validate:"gte=0"`
	WriteTimeout      time.Duration `yaml:"write_timeout" validate:"gte=0"`
	IdleTimeout       time.Duration `yaml:"idle_timeout" validate:"gte=0"`
	ShutdownTimeout   time.Duration `yaml:"shutdown_timeout" validate:"gte=0"`
}

type LoggingConfig struct {
	Level  string `yaml:"level" validate:"oneof=debug info warn warning error"`
	Format string `yaml:"format" validate:"oneof=json text"`
}

// ModelsConfig locates the model artefacts. Missing files are not an error:
// the affected detector runs in simulation (or strict-failure) mode.
type ModelsConfig struct {
	Dir                string        `yaml:"dir" validate:"required"`
	Deepfake           string        `yaml:"deepfake" validate:"required"`
	Voice              string        `yaml:"voice" validate:"required"`
	Phishing           string        `yaml:"phishing" validate:"required"`
	OnnxRuntimeLibrary string        `yaml:"onnxruntime_library"`
	Watch              bool          `yaml:"watch"`
	WatchDebounce      time.Duration `yaml:"watch_debounce" validate:"gte=0"`
}

type DetectionConfig struct {
	Timeout        time.Duration    `yaml:"timeout" validate:"gt=0"`
	Simulation     SimulationConfig `yaml:"simulation"`
	MaxImagePixels int              `yaml:"max_image_pixels" validate:"gte=0"` // width*height cap, 0 = default
}

// SimulationConfig controls what happens when a model is unavailable. When
// enabled, a bounded random score stands in for the model; when disabled the
// detection fails with a model_unavailable cause.
type SimulationConfig struct {
	Enabled bool   `yaml:"enabled"`
	Seed    uint64 `yaml:"seed"` // 0 = seeded from the clock
}

type ScratchConfig struct {
	Dir           string        `yaml:"dir"`
	SweepSchedule string        `yaml:"sweep_schedule"`
	MaxAge        time.Duration `yaml:"max_age" validate:"gte=0"`
}

type AuditConfig struct {
	Enabled         bool              `yaml:"enabled"`
	QueueSize       int               `yaml:"queue_size" validate:"gte=0"`
	Workers         int               `yaml:"workers" validate:"gte=0"`
	ShutdownTimeout time.Duration     `yaml:"shutdown_timeout" validate:"gte=0"`
	FilePath        string            `yaml:"file_path"`
	WebhookURL      string            `yaml:"webhook_url" validate:"omitempty,url"`
	WebhookHeaders  map[string]string `yaml:"webhook_headers"`
	WebhookTimeout  time.Duration     `yaml:"webhook_timeout" validate:"gte=0"`
	PreviewChars    int               `yaml:"preview_chars" validate:"gte=0"`
}

type MetricsConfig struct {
	Enabled   bool   `yaml:"enabled"`
	Namespace string `yaml:"namespace"`
	Path      string `yaml:"path" validate:"omitempty,startswith=/"`
}

type TelemetryConfig struct {
	Enabled  bool   `yaml:"enabled"`
	Endpoint string `yaml:"endpoint" validate:"required_if=Enabled true"`
	Protocol string `yaml:"protocol" validate:"omitempty,oneof=grpc http"` // grpc | http
	Service  string `yaml:"service"`
}

// Load reads configuration from a YAML file.
// If the file doesn't exist, it returns a default config and no error.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			cfg := defaultConfig()
			applyEnv(cfg)
			return cfg, nil
		}
		return nil, err
	}

	cfg := defaultConfig()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, err
	}

	applyDefaults(cfg)
	applyEnv(cfg)

	return cfg, nil
}

// Default returns the built-in configuration.
func Default() *Config {
	return defaultConfig()
}

func defaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Addr:              ":8000",
			MaxUploadBytes:    50 << 20,
			MaxInFlight:       64,
			ReadHeaderTimeout: 5 * time.Second,
			ReadTimeout:       60 * time.Second,
			WriteTimeout:      60 * time.Second,
			IdleTimeout:       120 * time.Second,
			ShutdownTimeout:   10 * time.Second,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
		Models: ModelsConfig{
			Dir:           "models",
			Deepfake:      "deepfake_model.onnx",
			Voice:         "voice_model.json",
			Phishing:      "phishing_model.json",
			Watch:         true,
			WatchDebounce: 250 * time.Millisecond,
		},
		Detection: DetectionConfig{
			Timeout: 10 * time.Second,
			Simulation: SimulationConfig{
				Enabled: true,
			},
			MaxImagePixels: 40_000_000,
		},
		Scratch: ScratchConfig{
			SweepSchedule: "*/10 * * * *",
			MaxAge:        15 * time.Minute,
		},
		Audit: AuditConfig{
			QueueSize:       1000,
			Workers:         1,
			ShutdownTimeout: 2 * time.Second,
			WebhookTimeout:  2 * time.Second,
			PreviewChars:    120,
		},
		Metrics: MetricsConfig{
			Enabled:   true,
			Namespace: "fraudshield",
			Path:      "/metrics",
		},
		Telemetry: TelemetryConfig{
			Protocol: "grpc",
			Service:  "fraudshield",
		},
	}
}

func applyDefaults(cfg *Config) {
	def := defaultConfig()

	if cfg.Server.Addr == "" {
		cfg.Server.Addr = def.Server.Addr
	}
	if cfg.Server.MaxUploadBytes <= 0 {
		cfg.Server.MaxUploadBytes = def.Server.MaxUploadBytes
	}
	if cfg.Server.ShutdownTimeout <= 0 {
		cfg.Server.ShutdownTimeout = def.Server.ShutdownTimeout
	}

	if cfg.Logging.Level == "" {
		cfg.Logging.Level = def.Logging.Level
	}
	if cfg.Logging.Format == "" {
		cfg.Logging.Format = def.Logging.Format
	}

	if cfg.Models.Dir == "" {
		cfg.Models.Dir = def.Models.Dir
	}
	if cfg.Models.Deepfake == "" {
		cfg.Models.Deepfake = def.Models.Deepfake
	}
	if cfg.Models.Voice == "" {
		cfg.Models.Voice = def.Models.Voice
	}
	if cfg.Models.Phishing == "" {
		cfg.Models.Phishing = def.Models.Phishing
	}
	if cfg.Models.WatchDebounce <= 0 {
		cfg.Models.WatchDebounce = def.Models.WatchDebounce
	}

	if cfg.Detection.Timeout <= 0 {
		cfg.Detection.Timeout = def.Detection.Timeout
	}
	if cfg.Detection.MaxImagePixels <= 0 {
		cfg.Detection.MaxImagePixels = def.Detection.MaxImagePixels
	}

	if cfg.Scratch.SweepSchedule == "" {
		cfg.Scratch.SweepSchedule = def.Scratch.SweepSchedule
	}
	if cfg.Scratch.MaxAge <= 0 {
		cfg.Scratch.MaxAge = def.Scratch.MaxAge
	}

	if cfg.Audit.QueueSize <= 0 {
		cfg.Audit.QueueSize = def.Audit.QueueSize
	}
	if cfg.Audit.Workers <= 0 {
		cfg.Audit.Workers = def.Audit.Workers
	}
	if cfg.Audit.PreviewChars <= 0 {
		cfg.Audit.PreviewChars = def.Audit.PreviewChars
	}

	if cfg.Metrics.Namespace == "" {
		cfg.Metrics.Namespace = def.Metrics.Namespace
	}
	if cfg.Metrics.Path == "" {
		cfg.Metrics.Path = def.Metrics.Path
	}

	if cfg.Telemetry.Protocol == "" {
		cfg.Telemetry.Protocol = def.Telemetry.Protocol
	}
	if cfg.Telemetry.Service == "" {
		cfg.Telemetry.Service = def.Telemetry.Service
	}
}

// applyEnv lets deployment environments override a few settings without a
// config file. Env wins over file values.
func applyEnv(cfg *Config) {
	if v := strings.TrimSpace(os.Getenv("FRAUDSHIELD_ADDR")); v != "" {
		cfg.Server.Addr = v
	}
	if v := strings.TrimSpace(os.Getenv("FRAUDSHIELD_MODELS_DIR")); v != "" {
		cfg.Models.Dir = v
	}
	if v := strings.TrimSpace(os.Getenv("FRAUDSHIELD_SIMULATION")); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			cfg.Detection.Simulation.Enabled = b
		}
	}
	if v := strings.TrimSpace(os.Getenv("ONNXRUNTIME_SHARED_LIBRARY_PATH")); v != "" {
		cfg.Models.OnnxRuntimeLibrary = v
	}
}

// ModelPath resolves a model file name against the models directory.
// Absolute paths are returned unchanged.
func (m ModelsConfig) ModelPath(name string) string {
	if name == "" {
		return ""
	}
	if filepath.IsAbs(name) || m.Dir == "" {
		return name
	}
	return filepath.Join(m.Dir, name)
}
