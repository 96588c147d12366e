package config

import "time"

// Config holds the application configuration
type Config struct {
	Server  ServerConfig  `yaml:"server"`
	Log     LogConfig     `yaml:"log"`
	Model   ModelConfig   `yaml:"model"`
	Upload  UploadConfig  `yaml:"upload"`
	Metrics MetricsConfig `yaml:"metrics"`
	CORS    CORSConfig    `yaml:"cors"`
}

type ServerConfig struct {
	Host            string        `yaml:"host"`
	Port            int           `yaml:"port"`
	ReadTimeout     time.Duration `yaml:"read_timeout"`
	WriteTimeout    time.Duration `yaml:"write_timeout"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
}

type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// ModelConfig locates the ONNX model, its metadata and the runtime library.
type ModelConfig struct {
	Path            string        `yaml:"path"`
	MetadataPath    string        `yaml:"metadata_path"`
	URL             string        `yaml:"url"`
	LibraryPath     string        `yaml:"library_path"`
	DownloadTimeout time.Duration `yaml:"download_timeout"`
	DownloadRetries int           `yaml:"download_retries"`
}

type UploadConfig struct {
	Dir      string `yaml:"dir"`
	MaxBytes int64  `yaml:"max_bytes"`
	// MaxPixels caps width*height of a decoded upload.
	MaxPixels int64 `yaml:"max_pixels"`
}

type MetricsConfig struct {
	Enabled bool   `yaml:"enabled"`
	Path    string `yaml:"path"`
}

type CORSConfig struct {
	AllowOrigins []string `yaml:"allow_origins"`
}

// Addr returns the listen address for the HTTP server.
func (c ServerConfig) Addr() string {
	return joinHostPort(c.Host, c.Port)
}
