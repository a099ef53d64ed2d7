// Package config loads the client configuration from YAML, applies
// environment overrides and validates the result.
package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config represents the complete client configuration
type Config struct {
	Backend BackendConfig `yaml:"backend"`
	Session SessionConfig `yaml:"session"`
	Audio   AudioConfig   `yaml:"audio"`
	Storage StorageConfig `yaml:"storage"`
	Logging LoggingConfig `yaml:"logging"`
	Metrics MetricsConfig `yaml:"metrics"`
}

// BackendConfig locates the HTTP API and both sockets
type BackendConfig struct {
	APIURL            string `yaml:"api_url"`
	WSURL             string `yaml:"ws_url"`
	Token             string `yaml:"token"`
	UploadPath        string `yaml:"upload_path"`
	TranscriptionPath string `yaml:"transcription_path"`
	RequestTimeoutMs  int    `yaml:"request_timeout_ms"`
}

// SessionConfig tunes reconnects, stop handling and auto-start
type SessionConfig struct {
	ReconnectBackoffMs int  `yaml:"reconnect_backoff_ms"`
	StopGraceMs        int  `yaml:"stop_grace_ms"`
	AutoStart          bool `yaml:"auto_start"`
	AutoStartDelayMs   int  `yaml:"auto_start_delay_ms"`
	SendQueue          int  `yaml:"send_queue"`
}

// AudioConfig describes the capture graph
type AudioConfig struct {
	SampleRate       int    `yaml:"sample_rate"`
	FrameSamples     int    `yaml:"frame_samples"`
	Device           string `yaml:"device"`
	NoiseSuppression bool   `yaml:"noise_suppression"`
	EchoCancellation bool   `yaml:"echo_cancellation"`
	AutoGain         bool   `yaml:"auto_gain"`
}

// StorageConfig locates the local history database; empty disables it
type StorageConfig struct {
	HistoryDB string `yaml:"history_db"`
}

type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
	Output string `yaml:"output"`
}

// MetricsConfig enables the Prometheus endpoint when Address is set
type MetricsConfig struct {
	Address string `yaml:"address"`
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		Backend: BackendConfig{
			APIURL:            "http://localhost:2591",
			WSURL:             "ws://localhost:2591",
			UploadPath:        "/ws/recording",
			TranscriptionPath: "/ws/transcription",
			RequestTimeoutMs:  10000,
		},
		Session: SessionConfig{
			ReconnectBackoffMs: 3000,
			StopGraceMs:        2000,
			AutoStart:          true,
			AutoStartDelayMs:   1000,
			SendQueue:          256,
		},
		Audio: AudioConfig{
			SampleRate:       16000,
			FrameSamples:     1600,
			NoiseSuppression: true,
			EchoCancellation: true,
			AutoGain:         true,
		},
		Storage: StorageConfig{
			HistoryDB: "~/.summit/history.sqlite",
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "text",
			Output: "stderr",
		},
	}
}

// Load reads path over the defaults, applies environment overrides and
// validates. An empty path skips the file.
func Load(path string) (*Config, error) {
	config := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
		}
		if err := yaml.Unmarshal(data, config); err != nil {
			return nil, fmt.Errorf("failed to parse config file %s: %w", path, err)
		}
	}

	config.applyEnv(os.LookupEnv)

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}
	return config, nil
}

func (c *Config) applyEnv(lookup func(string) (string, bool)) {
	overrides := []struct {
		key string
		dst *string
	}{
		{"SUMMIT_API_URL", &c.Backend.APIURL},
		{"SUMMIT_WS_URL", &c.Backend.WSURL},
		{"SUMMIT_TOKEN", &c.Backend.Token},
		{"SUMMIT_HISTORY_DB", &c.Storage.HistoryDB},
		{"SUMMIT_LOG_LEVEL", &c.Logging.Level},
	}
	for _, o := range overrides {
		if v, ok := lookup(o.key); ok {
			*o.dst = v
		}
	}
}

// Validate checks every section
func (c *Config) Validate() error {
	if err := c.Backend.Validate(); err != nil {
		return fmt.Errorf("backend config: %w", err)
	}
	if err := c.Session.Validate(); err != nil {
		return fmt.Errorf("session config: %w", err)
	}
	if err := c.Audio.Validate(); err != nil {
		return fmt.Errorf("audio config: %w", err)
	}
	if err := c.Logging.Validate(); err != nil {
		return fmt.Errorf("logging config: %w", err)
	}
	return nil
}

func (b *BackendConfig) Validate() error {
	if err := checkURL("api_url", b.APIURL, "http", "https"); err != nil {
		return err
	}
	if err := checkURL("ws_url", b.WSURL, "ws", "wss"); err != nil {
		return err
	}
	if b.UploadPath == "" {
		return errors.New("upload_path cannot be empty")
	}
	if b.TranscriptionPath == "" {
		return errors.New("transcription_path cannot be empty")
	}
	if b.RequestTimeoutMs < 1 {
		return fmt.Errorf("request_timeout_ms must be positive, got %d", b.RequestTimeoutMs)
	}
	return nil
}

func checkURL(key, raw string, schemes ...string) error {
	u, err := url.Parse(raw)
	if err != nil || u.Host == "" {
		return fmt.Errorf("%s must be an absolute URL, got %q", key, raw)
	}
	for _, s := range schemes {
		if u.Scheme == s {
			return nil
		}
	}
	return fmt.Errorf("%s scheme must be one of %v, got %q", key, schemes, u.Scheme)
}

func (s *SessionConfig) Validate() error {
	if s.ReconnectBackoffMs < 1 {
		return fmt.Errorf("reconnect_backoff_ms must be positive, got %d", s.ReconnectBackoffMs)
	}
	if s.StopGraceMs < 1 {
		return fmt.Errorf("stop_grace_ms must be positive, got %d", s.StopGraceMs)
	}
	if s.AutoStartDelayMs < 0 {
		return fmt.Errorf("auto_start_delay_ms cannot be negative, got %d", s.AutoStartDelayMs)
	}
	if s.SendQueue < 1 {
		return fmt.Errorf("send_queue must be at least 1, got %d", s.SendQueue)
	}
	return nil
}

func (a *AudioConfig) Validate() error {
	if a.SampleRate != 16000 {
		return fmt.Errorf("sample_rate must be 16000 Hz, got %d", a.SampleRate)
	}
	if a.FrameSamples < 160 || a.FrameSamples > 16000 {
		return fmt.Errorf("frame_samples must be between 160 and 16000, got %d", a.FrameSamples)
	}
	return nil
}

func (l *LoggingConfig) Validate() error {
	switch l.Level {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("level must be one of debug, info, warn, error, got %q", l.Level)
	}
	switch l.Format {
	case "text", "json":
	default:
		return fmt.Errorf("format must be text or json, got %q", l.Format)
	}
	if l.Output == "" {
		return errors.New("output cannot be empty")
	}
	return nil
}

func (s *SessionConfig) ReconnectBackoff() time.Duration {
	return time.Duration(s.ReconnectBackoffMs) * time.Millisecond
}

func (s *SessionConfig) StopGrace() time.Duration {
	return time.Duration(s.StopGraceMs) * time.Millisecond
}

func (s *SessionConfig) AutoStartDelay() time.Duration {
	return time.Duration(s.AutoStartDelayMs) * time.Millisecond
}

func (b *BackendConfig) RequestTimeout() time.Duration {
	return time.Duration(b.RequestTimeoutMs) * time.Millisecond
}
