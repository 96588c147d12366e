package config

import (
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	apperrors "github.com/Brownie44l1/crop-disease-api/internal/errors"
)

// EnvPrefix prefixes every environment override except PORT.
const EnvPrefix = "CROPDX_"

// Loader builds a Config from defaults, an optional YAML file and the
// environment, in that order of precedence (later wins).
type Loader struct {
	path      string
	useDotEnv bool
	lookupEnv func(string) (string, bool)
}

// NewLoader creates a loader reading the YAML file at path. An empty path or a
// missing file falls back to defaults.
func NewLoader(path string) *Loader {
	return &Loader{
		path:      path,
		useDotEnv: true,
		lookupEnv: os.LookupEnv,
	}
}

// WithDotEnv toggles loading variables from a .env file before reading config.
func (l *Loader) WithDotEnv(enabled bool) *Loader {
	l.useDotEnv = enabled
	return l
}

// WithLookup overrides the environment lookup (useful for tests).
func (l *Loader) WithLookup(lookup func(string) (string, bool)) *Loader {
	if lookup != nil {
		l.lookupEnv = lookup
	}
	return l
}

func (l *Loader) Load() (*Config, error) {
	if l.useDotEnv {
		if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
			slog.Warn("could not load .env file", "error", err)
		}
	}

	cfg := DefaultConfig()

	if l.path != "" {
		data, err := os.ReadFile(l.path)
		switch {
		case os.IsNotExist(err):
			slog.Info("config file not found, using defaults", "path", l.path)
		case err != nil:
			return nil, apperrors.Wrap(apperrors.KindConfig, "load", "read config file", err)
		default:
			if err := yaml.Unmarshal(data, cfg); err != nil {
				return nil, apperrors.Wrap(apperrors.KindConfig, "load", "parse config file", err)
			}
		}
	}

	if err := l.applyEnv(cfg); err != nil {
		return nil, apperrors.Wrap(apperrors.KindConfig, "env", "apply environment overrides", err)
	}

	if err := l.validate(cfg); err != nil {
		return nil, apperrors.Wrap(apperrors.KindConfig, "validate", "invalid configuration", err)
	}
	return cfg, nil
}

func (l *Loader) applyEnv(cfg *Config) error {
	if v, ok := l.lookupEnv("PORT"); ok && v != "" {
		port, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("PORT: %w", err)
		}
		cfg.Server.Port = port
	}

	strs := map[string]*string{
		"HOST":           &cfg.Server.Host,
		"LOG_LEVEL":      &cfg.Log.Level,
		"LOG_FORMAT":     &cfg.Log.Format,
		"MODEL_PATH":     &cfg.Model.Path,
		"MODEL_METADATA": &cfg.Model.MetadataPath,
		"MODEL_URL":      &cfg.Model.URL,
		"ONNX_LIB":       &cfg.Model.LibraryPath,
		"UPLOAD_DIR":     &cfg.Upload.Dir,
		"METRICS_PATH":   &cfg.Metrics.Path,
	}
	for key, dst := range strs {
		if v, ok := l.lookupEnv(EnvPrefix + key); ok && v != "" {
			*dst = v
		}
	}

	ints := map[string]*int64{
		"UPLOAD_MAX_BYTES":  &cfg.Upload.MaxBytes,
		"UPLOAD_MAX_PIXELS": &cfg.Upload.MaxPixels,
	}
	for key, dst := range ints {
		if v, ok := l.lookupEnv(EnvPrefix + key); ok && v != "" {
			n, err := strconv.ParseInt(v, 10, 64)
			if err != nil {
				return fmt.Errorf("%s%s: %w", EnvPrefix, key, err)
			}
			*dst = n
		}
	}
	if v, ok := l.lookupEnv(EnvPrefix + "METRICS_ENABLED"); ok && v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("%sMETRICS_ENABLED: %w", EnvPrefix, err)
		}
		cfg.Metrics.Enabled = b
	}
	if v, ok := l.lookupEnv(EnvPrefix + "DOWNLOAD_TIMEOUT"); ok && v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("%sDOWNLOAD_TIMEOUT: %w", EnvPrefix, err)
		}
		cfg.Model.DownloadTimeout = d
	}
	if v, ok := l.lookupEnv(EnvPrefix + "CORS_ORIGINS"); ok && v != "" {
		cfg.CORS.AllowOrigins = splitList(v)
	}
	return nil
}

func (l *Loader) validate(cfg *Config) error {
	if cfg.Server.Port <= 0 || cfg.Server.Port > 65535 {
		return fmt.Errorf("server port %d out of range", cfg.Server.Port)
	}
	if cfg.Model.Path == "" {
		return fmt.Errorf("model path is required")
	}
	if cfg.Model.MetadataPath == "" {
		return fmt.Errorf("model metadata path is required")
	}
	if cfg.Upload.Dir == "" {
		return fmt.Errorf("upload dir is required")
	}
	if cfg.Upload.MaxBytes <= 0 {
		return fmt.Errorf("upload max_bytes must be positive, got %d", cfg.Upload.MaxBytes)
	}
	if cfg.Upload.MaxPixels <= 0 {
		return fmt.Errorf("upload max_pixels must be positive, got %d", cfg.Upload.MaxPixels)
	}
	if cfg.Model.DownloadRetries < 0 {
		return fmt.Errorf("download_retries must not be negative")
	}
	switch strings.ToLower(cfg.Log.Format) {
	case "text", "json":
	default:
		return fmt.Errorf("unknown log format %q", cfg.Log.Format)
	}
	if cfg.Metrics.Enabled && !strings.HasPrefix(cfg.Metrics.Path, "/") {
		return fmt.Errorf("metrics path must start with /")
	}
	return nil
}

func splitList(v string) []string {
	var out []string
	for _, part := range strings.Split(v, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
