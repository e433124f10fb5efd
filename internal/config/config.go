// Package config loads the daemon configuration. Fields omitted from the
// JSON file keep their defaults, so partial configs are safe; every
// tunable that used to be a hardcoded constant in the field scripts lives
// here instead.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/cortical-data/affinity.report/internal/cyton"
	"github.com/cortical-data/affinity.report/internal/eeg"
)

// Config is the root daemon configuration. Pointer fields distinguish
// "unset" from zero so a partial file only overrides what it names.
type Config struct {
	// Serial transport
	Port     *string `json:"port,omitempty"`
	BaudRate *int    `json:"baud_rate,omitempty"`

	// Decoding
	Scale *float64 `json:"scale,omitempty"` // microvolts per count
	Daisy *bool    `json:"daisy,omitempty"` // 16-channel pairing

	// Analysis
	SampleRate       *float64     `json:"sample_rate,omitempty"`
	WindowSeconds    *float64     `json:"window_seconds,omitempty"`
	AnalysisInterval *string      `json:"analysis_interval,omitempty"` // duration string like "5s"
	Montage          *eeg.Montage `json:"montage,omitempty"`

	// Serving and storage
	Listen           *string `json:"listen,omitempty"`
	DBPath           *string `json:"db_path,omitempty"`
	EDFPath          *string `json:"edf_path,omitempty"` // empty disables recording
	StreamDecimation *int    `json:"stream_decimation,omitempty"`
}

// Empty returns a Config with all fields unset.
func Empty() *Config {
	return &Config{}
}

// Load reads a Config from a JSON file.
func Load(path string) (*Config, error) {
	cleanPath := filepath.Clean(path)
	if ext := filepath.Ext(cleanPath); ext != ".json" {
		return nil, fmt.Errorf("config file must have .json extension, got %q", ext)
	}

	fileInfo, err := os.Stat(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to stat config file: %w", err)
	}
	const maxFileSize = 1 * 1024 * 1024
	if fileInfo.Size() > maxFileSize {
		return nil, fmt.Errorf("config file too large: %d bytes (max %d)", fileInfo.Size(), maxFileSize)
	}

	data, err := os.ReadFile(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	cfg := Empty()
	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config JSON: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// Validate checks the configuration values that have been set.
func (c *Config) Validate() error {
	if c.Scale != nil && *c.Scale <= 0 {
		return fmt.Errorf("scale must be positive, got %g", *c.Scale)
	}
	if c.SampleRate != nil && *c.SampleRate <= 0 {
		return fmt.Errorf("sample_rate must be positive, got %g", *c.SampleRate)
	}
	if c.WindowSeconds != nil && *c.WindowSeconds <= 0 {
		return fmt.Errorf("window_seconds must be positive, got %g", *c.WindowSeconds)
	}
	if c.AnalysisInterval != nil && *c.AnalysisInterval != "" {
		if _, err := time.ParseDuration(*c.AnalysisInterval); err != nil {
			return fmt.Errorf("invalid analysis_interval %q: %w", *c.AnalysisInterval, err)
		}
	}
	if c.StreamDecimation != nil && *c.StreamDecimation < 1 {
		return fmt.Errorf("stream_decimation must be >= 1, got %d", *c.StreamDecimation)
	}
	if c.BaudRate != nil && *c.BaudRate <= 0 {
		return fmt.Errorf("baud_rate must be positive, got %d", *c.BaudRate)
	}
	return nil
}

// GetPort returns the serial device path.
func (c *Config) GetPort() string {
	if c.Port == nil {
		return "/dev/ttyUSB0"
	}
	return *c.Port
}

// GetBaudRate returns the serial baud rate.
func (c *Config) GetBaudRate() int {
	if c.BaudRate == nil {
		return 115200
	}
	return *c.BaudRate
}

// GetScale returns the microvolts-per-count conversion factor.
func (c *Config) GetScale() float64 {
	if c.Scale == nil {
		return cyton.DefaultScale
	}
	return *c.Scale
}

// GetDaisy reports whether 16-channel pairing is enabled.
func (c *Config) GetDaisy() bool {
	if c.Daisy == nil {
		return false
	}
	return *c.Daisy
}

// Channels returns the stream channel count implied by the daisy flag.
func (c *Config) Channels() int {
	if c.GetDaisy() {
		return 16
	}
	return 8
}

// GetSampleRate returns the per-channel sampling rate in Hz. The board
// streams at 250 Hz; daisy mode halves the effective per-channel rate
// because frames alternate between the two halves.
func (c *Config) GetSampleRate() float64 {
	if c.SampleRate == nil {
		if c.GetDaisy() {
			return 125
		}
		return 250
	}
	return *c.SampleRate
}

// GetWindowSeconds returns the analysis window duration.
func (c *Config) GetWindowSeconds() float64 {
	if c.WindowSeconds == nil {
		return 5
	}
	return *c.WindowSeconds
}

// WindowSamples returns the per-channel analysis window size in samples.
func (c *Config) WindowSamples() int {
	return int(c.GetSampleRate() * c.GetWindowSeconds())
}

// GetAnalysisInterval returns how often a full window is scored.
func (c *Config) GetAnalysisInterval() time.Duration {
	if c.AnalysisInterval == nil || *c.AnalysisInterval == "" {
		return 5 * time.Second
	}
	d, err := time.ParseDuration(*c.AnalysisInterval)
	if err != nil {
		return 5 * time.Second
	}
	return d
}

// GetMontage returns the channel role mapping.
func (c *Config) GetMontage() eeg.Montage {
	if c.Montage == nil {
		return eeg.DefaultMontage()
	}
	return *c.Montage
}

// GetListen returns the HTTP listen address.
func (c *Config) GetListen() string {
	if c.Listen == nil {
		return ":8080"
	}
	return *c.Listen
}

// GetDBPath returns the sqlite database path.
func (c *Config) GetDBPath() string {
	if c.DBPath == nil {
		return "affinity.db"
	}
	return *c.DBPath
}

// GetEDFPath returns the EDF recording path; empty disables recording.
func (c *Config) GetEDFPath() string {
	if c.EDFPath == nil {
		return ""
	}
	return *c.EDFPath
}

// GetStreamDecimation returns the sample broadcast decimation factor: 1
// streams every vector to websocket clients, n streams every nth.
func (c *Config) GetStreamDecimation() int {
	if c.StreamDecimation == nil {
		return 10
	}
	return *c.StreamDecimation
}
