// Package config loads reframe's settings from a TOML file over built-in
// defaults, with a few environment overrides for container deployments.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"time"

	"github.com/pelletier/go-toml/v2"
)

// DefaultPaths are searched in order when no path is given.
var DefaultPaths = []string{"reframe.toml", "/etc/reframe/reframe.toml"}

// Config is the complete configuration.
type Config struct {
	App     AppConfig     `toml:"app"`
	SRT     SRTConfig     `toml:"srt"`
	Metrics MetricsConfig `toml:"metrics"`
	Output  OutputConfig  `toml:"output"`
}

// AppConfig tunes frame processing.
type AppConfig struct {
	// ChunkSize is the read size for raw inputs.
	ChunkSize int `toml:"chunk_size"`
	// MaxFrameSize bounds a raw frame; 0 disables the limit.
	MaxFrameSize int `toml:"max_frame_size"`
}

// SRTConfig configures SRT ingest.
type SRTConfig struct {
	Address string `toml:"address"`
	// Latency in milliseconds.
	Latency uint `toml:"latency"`
}

// LatencyDuration returns Latency as a time.Duration.
func (c SRTConfig) LatencyDuration() time.Duration {
	return time.Duration(c.Latency) * time.Millisecond
}

// MetricsConfig configures the Prometheus endpoint.
type MetricsConfig struct {
	Enabled bool   `toml:"enabled"`
	Address string `toml:"address"`

	// TLS serves the endpoint over HTTPS with a self-signed certificate
	// covering TLSHosts.
	TLS      bool     `toml:"tls"`
	TLSHosts []string `toml:"tls_hosts"`
}

// OutputConfig configures where served streams are written.
type OutputConfig struct {
	Dir string `toml:"dir"`
	// Format is "es" (elementary stream), "ts" or "frames".
	Format string `toml:"format"`
}

// Default returns the built-in configuration.
func Default() Config {
	return Config{
		App: AppConfig{
			ChunkSize:    4096,
			MaxFrameSize: 64 << 20,
		},
		SRT: SRTConfig{
			Address: ":6000",
			Latency: 120,
		},
		Metrics: MetricsConfig{
			Enabled: true,
			Address: ":9100",
		},
		Output: OutputConfig{
			Dir:    "out",
			Format: "es",
		},
	}
}

// Parse reads the first existing file of paths over the defaults, then
// applies environment overrides. No file at all is not an error.
func Parse(paths []string) (*Config, error) {
	config := Default()

	var data []byte
	for _, path := range paths {
		b, err := os.ReadFile(path)
		if err == nil {
			slog.Debug("read config", "path", path)
			data = b
			break
		}
		if errors.Is(err, fs.ErrNotExist) {
			continue
		}
		return nil, fmt.Errorf("config: %w", err)
	}

	if data != nil {
		if err := toml.Unmarshal(data, &config); err != nil {
			return nil, fmt.Errorf("config: %w", err)
		}
	} else {
		slog.Debug("config file not found, using defaults")
	}

	config.applyEnv(os.Getenv)
	if err := config.Validate(); err != nil {
		return nil, err
	}
	return &config, nil
}

// applyEnv overrides addresses and the output directory from the
// environment.
func (c *Config) applyEnv(getenv func(string) string) {
	c.SRT.Address = envOr(getenv, "SRT_ADDR", c.SRT.Address)
	c.Metrics.Address = envOr(getenv, "METRICS_ADDR", c.Metrics.Address)
	c.Output.Dir = envOr(getenv, "OUTPUT_DIR", c.Output.Dir)
}

// Validate rejects settings the pipeline cannot run with.
func (c *Config) Validate() error {
	if c.App.ChunkSize <= 0 {
		return fmt.Errorf("config: app.chunk_size must be positive, got %d", c.App.ChunkSize)
	}
	if c.App.MaxFrameSize < 0 {
		return fmt.Errorf("config: app.max_frame_size must not be negative, got %d", c.App.MaxFrameSize)
	}
	switch c.Output.Format {
	case "es", "ts", "frames":
	default:
		return fmt.Errorf("config: unknown output.format %q", c.Output.Format)
	}
	return nil
}

func envOr(getenv func(string) string, key, fallback string) string {
	if v := getenv(key); v != "" {
		return v
	}
	return fallback
}
