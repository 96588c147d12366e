package config

import (
	"net"
	"strconv"
	"time"
)

// DefaultConfig returns the configuration used when no file or environment
// override is present.
func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Host:            "",
			Port:            8080,
			ReadTimeout:     15 * time.Second,
			WriteTimeout:    60 * time.Second,
			ShutdownTimeout: 10 * time.Second,
		},
		Log: LogConfig{
			Level:  "info",
			Format: "text",
		},
		Model: ModelConfig{
			Path:            "models/model.onnx",
			MetadataPath:    "models/model_metadata.json",
			DownloadTimeout: 10 * time.Minute,
			DownloadRetries: 3,
		},
		Upload: UploadConfig{
			Dir:       "uploads",
			MaxBytes:  10 << 20,
			MaxPixels: 50_000_000,
		},
		Metrics: MetricsConfig{
			Enabled: true,
			Path:    "/metrics",
		},
		CORS: CORSConfig{
			AllowOrigins: []string{"*"},
		},
	}
}

func joinHostPort(host string, port int) string {
	return net.JoinHostPort(host, strconv.Itoa(port))
}
