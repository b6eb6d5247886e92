package config

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"slices"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"fieldtriage/internal/domain"
)

// EnvConfigFile names an optional YAML overlay.
const EnvConfigFile = "FIELDTRIAGE_CONFIG"

// Config stores runtime configuration for the intake client.
type Config struct {
	Backend BackendConfig `yaml:"backend"`
	Audio   AudioConfig   `yaml:"audio"`
	Intake  IntakeConfig  `yaml:"intake"`
	Viewer  ViewerConfig  `yaml:"viewer"`
	Log     LogConfig     `yaml:"log"`
}

type BackendConfig struct {
	BaseURL string `yaml:"base_url"`
	// RequestTimeout of zero leaves backend calls unbounded.
	RequestTimeout time.Duration `yaml:"request_timeout"`
}

type AudioConfig struct {
	RecorderCommand string `yaml:"ffmpeg_command"`
	InputFormat     string `yaml:"input_format"`
	InputDevice     string `yaml:"input_device"`
	SampleRate      int    `yaml:"sample_rate"`
	Channels        int    `yaml:"channels"`
	ChunkSize       int    `yaml:"chunk_size"`
}

type IntakeConfig struct {
	Language       string `yaml:"language"`
	VocabularyFile string `yaml:"vocabulary_file"`
	IterationLimit int    `yaml:"iteration_limit"`
	SOAPFile       string `yaml:"soap_file"`
	// SOAPFont is a UTF-8 TrueType font for SOAP PDFs; empty uses Helvetica.
	SOAPFont string `yaml:"soap_font"`
}

type ViewerConfig struct {
	// Addr is the listen address of the log viewer; empty disables it.
	Addr    string `yaml:"addr"`
	Metrics bool   `yaml:"metrics"`
}

type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// Default returns the built-in configuration.
func Default() Config {
	return Config{
		Backend: BackendConfig{BaseURL: "http://localhost:8000"},
		Audio: AudioConfig{
			RecorderCommand: "ffmpeg",
			InputFormat:     "pulse",
			InputDevice:     "default",
			SampleRate:      16000,
			Channels:        1,
			ChunkSize:       4096,
		},
		Intake: IntakeConfig{
			Language:       domain.DefaultLanguage,
			IterationLimit: 30,
			SOAPFile:       "soap_note.pdf",
		},
		Viewer: ViewerConfig{Metrics: true},
		Log:    LogConfig{Level: "info", Format: "auto"},
	}
}

// Load resolves configuration: defaults, then the YAML file at path (or
// $FIELDTRIAGE_CONFIG), then environment variables.
func Load(path string) (Config, error) {
	cfg := Default()

	path = firstNonEmpty(path, os.Getenv(EnvConfigFile))
	if path != "" {
		if err := overlayFile(&cfg, path); err != nil {
			return Config{}, err
		}
	}

	applyEnv(&cfg)

	if cfg.Intake.VocabularyFile == "" {
		cfg.Intake.VocabularyFile = defaultVocabularyFile()
	}
	if cfg.Audio.SampleRate <= 0 {
		cfg.Audio.SampleRate = 16000
	}
	if cfg.Audio.Channels <= 0 {
		cfg.Audio.Channels = 1
	}
	if cfg.Audio.ChunkSize < 256 {
		cfg.Audio.ChunkSize = 4096
	}
	if cfg.Intake.IterationLimit <= 0 {
		cfg.Intake.IterationLimit = 30
	}

	if err := Validate(cfg); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func overlayFile(cfg *Config, path string) error {
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("config: open %q: %w", path, err)
	}
	defer f.Close()

	dec := yaml.NewDecoder(f)
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return fmt.Errorf("config: parse %q: %w", path, err)
	}
	return nil
}

func applyEnv(cfg *Config) {
	cfg.Backend.BaseURL = envOrDefault("FIELDTRIAGE_BACKEND_URL", cfg.Backend.BaseURL)
	if ms := envOrDefaultInt("FIELDTRIAGE_REQUEST_TIMEOUT_MS", -1); ms >= 0 {
		cfg.Backend.RequestTimeout = time.Duration(ms) * time.Millisecond
	}

	cfg.Audio.RecorderCommand = envOrDefault("FIELDTRIAGE_FFMPEG_COMMAND", cfg.Audio.RecorderCommand)
	cfg.Audio.InputFormat = envOrDefault("FIELDTRIAGE_AUDIO_INPUT_FORMAT", cfg.Audio.InputFormat)
	cfg.Audio.InputDevice = firstNonEmpty(
		os.Getenv("FIELDTRIAGE_AUDIO_INPUT_DEVICE"),
		os.Getenv("PULSE_SOURCE"),
		cfg.Audio.InputDevice,
	)
	cfg.Audio.SampleRate = envOrDefaultInt("FIELDTRIAGE_SAMPLE_RATE", cfg.Audio.SampleRate)
	cfg.Audio.Channels = envOrDefaultInt("FIELDTRIAGE_CHANNELS", cfg.Audio.Channels)
	cfg.Audio.ChunkSize = envOrDefaultInt("FIELDTRIAGE_AUDIO_CHUNK_SIZE", cfg.Audio.ChunkSize)

	cfg.Intake.Language = envOrDefault("FIELDTRIAGE_LANGUAGE", cfg.Intake.Language)
	cfg.Intake.VocabularyFile = envOrDefault("FIELDTRIAGE_VOCABULARY_FILE", cfg.Intake.VocabularyFile)
	cfg.Intake.IterationLimit = envOrDefaultInt("FIELDTRIAGE_VOCABULARY_ITERATION_LIMIT", cfg.Intake.IterationLimit)
	cfg.Intake.SOAPFile = envOrDefault("FIELDTRIAGE_SOAP_FILE", cfg.Intake.SOAPFile)
	cfg.Intake.SOAPFont = envOrDefault("FIELDTRIAGE_SOAP_FONT", cfg.Intake.SOAPFont)

	cfg.Viewer.Addr = envOrDefault("FIELDTRIAGE_VIEWER_ADDR", cfg.Viewer.Addr)
	cfg.Viewer.Metrics = envOrDefaultBool("FIELDTRIAGE_METRICS", cfg.Viewer.Metrics)

	cfg.Log.Level = envOrDefault("FIELDTRIAGE_LOG_LEVEL", cfg.Log.Level)
	cfg.Log.Format = envOrDefault("FIELDTRIAGE_LOG_FORMAT", cfg.Log.Format)
}

var (
	validLogLevels  = []string{"debug", "info", "warn", "error"}
	validLogFormats = []string{"auto", "text", "json"}
)

// Validate returns every problem found, joined.
func Validate(cfg Config) error {
	var errs []error
	if strings.TrimSpace(cfg.Backend.BaseURL) == "" {
		errs = append(errs, errors.New("backend.base_url is required"))
	}
	if cfg.Backend.RequestTimeout < 0 {
		errs = append(errs, fmt.Errorf("backend.request_timeout %s must not be negative", cfg.Backend.RequestTimeout))
	}
	if !domain.IsSupportedLanguage(cfg.Intake.Language) {
		errs = append(errs, fmt.Errorf("intake.language %q is invalid; valid values: %s",
			cfg.Intake.Language, strings.Join(domain.SupportedLanguages, ", ")))
	}
	if cfg.Intake.SOAPFont != "" {
		if _, err := os.Stat(cfg.Intake.SOAPFont); err != nil {
			errs = append(errs, fmt.Errorf("intake.soap_font %q is not readable: %w", cfg.Intake.SOAPFont, err))
		}
	}
	if !slices.Contains(validLogLevels, strings.ToLower(cfg.Log.Level)) {
		errs = append(errs, fmt.Errorf("log.level %q is invalid; valid values: %s",
			cfg.Log.Level, strings.Join(validLogLevels, ", ")))
	}
	if !slices.Contains(validLogFormats, strings.ToLower(cfg.Log.Format)) {
		errs = append(errs, fmt.Errorf("log.format %q is invalid; valid values: %s",
			cfg.Log.Format, strings.Join(validLogFormats, ", ")))
	}
	return errors.Join(errs...)
}

func defaultVocabularyFile() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}
	dir := filepath.Join(home, ".config", "fieldtriage")
	return firstExisting(
		filepath.Join(dir, "vocabulary.yaml"),
		filepath.Join(dir, "vocabulary.rules"),
	)
}

func firstExisting(paths ...string) string {
	for _, p := range paths {
		if p == "" {
			continue
		}
		if _, err := os.Stat(p); err == nil {
			return p
		}
	}
	if len(paths) == 0 {
		return ""
	}
	return paths[0]
}

func firstNonEmpty(values ...string) string {
	for _, value := range values {
		trimmed := strings.TrimSpace(value)
		if trimmed != "" {
			return trimmed
		}
	}
	return ""
}

func envOrDefault(key string, fallback string) string {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return fallback
	}
	return value
}

func envOrDefaultInt(key string, fallback int) int {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return fallback
	}
	parsed, err := strconv.Atoi(value)
	if err != nil {
		return fallback
	}
	return parsed
}

func envOrDefaultBool(key string, fallback bool) bool {
	value := strings.TrimSpace(strings.ToLower(os.Getenv(key)))
	switch value {
	case "1", "true", "yes", "on":
		return true
	case "0", "false", "no", "off":
		return false
	default:
		return fallback
	}
}
