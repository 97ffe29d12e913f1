// Package config loads videoqa settings from a YAML file, .env and the environment.
package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/bdougie/videoqa/internal/artifact"
	"github.com/bdougie/videoqa/internal/detect"
	"github.com/bdougie/videoqa/internal/extractor"
	"github.com/bdougie/videoqa/internal/gemini"
	"github.com/bdougie/videoqa/internal/intervals"
	"github.com/bdougie/videoqa/internal/resilient"
	"github.com/bdougie/videoqa/internal/storage"
)

const (
	EnvAPIKey      = "GEMINI_API_KEY"
	EnvDatabaseURL = "VIDEOQA_DATABASE_URL"
	EnvDetectorURL = "VIDEOQA_DETECTOR_URL"
)

var ErrInvalid = errors.New("invalid configuration")

type Config struct {
	Gemini         GeminiConfig    `yaml:"gemini"`
	Ollama         OllamaConfig    `yaml:"ollama"`
	Retry          RetryConfig     `yaml:"retry"`
	Upload         UploadConfig    `yaml:"upload"`
	Detector       DetectorConfig  `yaml:"detector"`
	Grounding      GroundingConfig `yaml:"grounding"`
	Clarify        ClarifyConfig   `yaml:"clarify"`
	Video          VideoConfig     `yaml:"video"`
	Storage        StorageConfig   `yaml:"storage"`
	Log            LogConfig       `yaml:"log"`
	WorkDir        string          `yaml:"work_dir"`
	Subinstruction string          `yaml:"subinstruction"`
}

type GeminiConfig struct {
	APIKey         string  `yaml:"api_key"`
	Model          string  `yaml:"model"`
	EmbeddingModel string  `yaml:"embedding_model"`
	Temperature    float32 `yaml:"temperature"`
	Seed           *int32  `yaml:"seed"`
}

// OllamaConfig routes the text-only roles to a local model when enabled.
type OllamaConfig struct {
	Enabled bool   `yaml:"enabled"`
	BaseURL string `yaml:"base_url"`
	Port    int    `yaml:"port"`
	Model   string `yaml:"model"`
}

type RetryConfig struct {
	MaxRetries int           `yaml:"max_retries"`
	DelayFloor time.Duration `yaml:"delay_floor"`
	DelayStep  time.Duration `yaml:"delay_step"`
}

type UploadConfig struct {
	PollInterval time.Duration `yaml:"poll_interval"`
}

type DetectorConfig struct {
	URL          string        `yaml:"url"`
	Model        string        `yaml:"model"`
	Confidence   float64       `yaml:"confidence"`
	NMSThreshold float64       `yaml:"nms_threshold"`
	MaxAreaRatio float64       `yaml:"max_area_ratio"`
	Workers      int           `yaml:"workers"`
	Timeout      time.Duration `yaml:"timeout"`
}

type GroundingConfig struct {
	MergeThreshold time.Duration `yaml:"merge_threshold"`
	MaxTargets     int           `yaml:"max_targets"`
}

type ClarifyConfig struct {
	Trim         bool          `yaml:"trim"`
	TrimPad      time.Duration `yaml:"trim_pad"`
	MaxQuestions int           `yaml:"max_questions"`
}

type VideoConfig struct {
	FFmpeg  string `yaml:"ffmpeg"`
	FFprobe string `yaml:"ffprobe"`
}

type StorageConfig struct {
	// Driver is one of "json", "postgres" or "none".
	Driver     string                 `yaml:"driver"`
	OutputDir  string                 `yaml:"output_dir"`
	Dimensions int                    `yaml:"dimensions"`
	Postgres   storage.PostgresConfig `yaml:"postgres"`
}

type LogConfig struct {
	Level string `yaml:"level"`
}

func Default() Config {
	return Config{
		Gemini: GeminiConfig{
			Model:          gemini.DefaultModel,
			EmbeddingModel: gemini.DefaultEmbeddingModel,
		},
		Ollama: OllamaConfig{
			BaseURL: "http://localhost",
			Port:    11434,
			Model:   "llama3.2",
		},
		Retry: RetryConfig{
			MaxRetries: resilient.DefaultMaxRetries,
			DelayFloor: resilient.DefaultDelayFloor,
			DelayStep:  resilient.DefaultDelayStep,
		},
		Upload: UploadConfig{PollInterval: artifact.DefaultPollInterval},
		Detector: DetectorConfig{
			URL:          "http://localhost:9001",
			Model:        detect.DefaultModel,
			Confidence:   detect.DefaultConfidence,
			NMSThreshold: detect.DefaultNMSThreshold,
			MaxAreaRatio: detect.DefaultMaxAreaRatio,
			Workers:      4,
			Timeout:      60 * time.Second,
		},
		Grounding: GroundingConfig{
			MergeThreshold: intervals.DefaultMergeThreshold,
			MaxTargets:     4,
		},
		Clarify: ClarifyConfig{
			Trim:         true,
			TrimPad:      extractor.DefaultTrimPad,
			MaxQuestions: 3,
		},
		Video: VideoConfig{FFmpeg: "ffmpeg", FFprobe: "ffprobe"},
		Storage: StorageConfig{
			Driver:     "json",
			OutputDir:  "output",
			Dimensions: storage.DefaultDimensions,
		},
		Log:     LogConfig{Level: "info"},
		WorkDir: os.TempDir(),
	}
}

// Load reads .env (if present), then path (if set) over the defaults, then
// applies environment overrides and validates the result.
func Load(path string) (Config, error) {
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		return Config{}, fmt.Errorf("load .env: %w", err)
	}

	cfg := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return Config{}, fmt.Errorf("parse config %s: %w", path, err)
		}
	}
	cfg.applyEnv()
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c *Config) applyEnv() {
	if v := os.Getenv(EnvAPIKey); v != "" {
		c.Gemini.APIKey = v
	}
	if v := os.Getenv(EnvDatabaseURL); v != "" {
		c.Storage.Postgres.URL = v
	}
	if v := os.Getenv(EnvDetectorURL); v != "" {
		c.Detector.URL = v
	}
}

func (c Config) Validate() error {
	var problems []string
	if c.Gemini.APIKey == "" {
		problems = append(problems, EnvAPIKey+" is required")
	}
	if c.Retry.MaxRetries < 0 {
		problems = append(problems, "retry.max_retries must not be negative")
	}
	if c.Retry.DelayFloor <= 0 || c.Retry.DelayStep < 0 {
		problems = append(problems, "retry delays must be positive")
	}
	if c.Detector.URL == "" {
		problems = append(problems, "detector.url is required")
	}
	if c.Grounding.MaxTargets <= 0 || c.Clarify.MaxQuestions <= 0 {
		problems = append(problems, "grounding.max_targets and clarify.max_questions must be positive")
	}
	switch c.Storage.Driver {
	case "json", "none":
	case "postgres":
		if c.Storage.Postgres.URL == "" && c.Storage.Postgres.Host == "" {
			problems = append(problems, "storage.postgres needs a url or host")
		}
	default:
		problems = append(problems, fmt.Sprintf("unknown storage driver %q", c.Storage.Driver))
	}
	if _, err := parseLevel(c.Log.Level); err != nil {
		problems = append(problems, err.Error())
	}
	if len(problems) > 0 {
		return fmt.Errorf("%w: %s", ErrInvalid, strings.Join(problems, "; "))
	}
	return nil
}

// SlogLevel returns the configured log level, defaulting to info.
func (c Config) SlogLevel() slog.Level {
	level, err := parseLevel(c.Log.Level)
	if err != nil {
		return slog.LevelInfo
	}
	return level
}

func parseLevel(s string) (slog.Level, error) {
	switch strings.ToLower(s) {
	case "debug":
		return slog.LevelDebug, nil
	case "", "info":
		return slog.LevelInfo, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	}
	return slog.LevelInfo, fmt.Errorf("unknown log level %q", s)
}
