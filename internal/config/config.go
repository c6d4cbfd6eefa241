package config

import (
	"fmt"
	"os"
	"time"

	"github.com/BurntSushi/toml"
)

// Config is the top-level application configuration
type Config struct {
	Server    ServerConfig    `toml:"server"`
	Logging   LoggingConfig   `toml:"logging"`
	OpenAI    OpenAIConfig    `toml:"openai"`
	Session   SessionConfig   `toml:"session"`
	Backoff   BackoffConfig   `toml:"backoff"`
	Audio     AudioConfig     `toml:"audio"`
	RateLimit RateLimitConfig `toml:"rate_limit"`
	Variants  []ModelVariant  `toml:"variants"`
}

// ServerConfig represents HTTP server configuration
type ServerConfig struct {
	Host               string   `toml:"host"`
	Port               int      `toml:"port"`
	StaticFilesDir     string   `toml:"static_files_dir"`
	CORSAllowedOrigins []string `toml:"cors_allowed_origins"`
	ReadTimeoutSecs    int      `toml:"read_timeout_secs"`
	WriteTimeoutSecs   int      `toml:"write_timeout_secs"`
}

// LoggingConfig represents logging configuration
type LoggingConfig struct {
	Level  string `toml:"level"`
	Format string `toml:"format"`
}

// OpenAIConfig represents upstream OpenAI API configuration
type OpenAIConfig struct {
	APIKey          string `toml:"api_key"`
	RealtimeBaseURL string `toml:"realtime_base_url"`
	SessionsURL     string `toml:"sessions_url"`
	TimeoutSecs     int    `toml:"timeout_secs"`
}

// SessionConfig represents default realtime session settings
type SessionConfig struct {
	Model              string  `toml:"model"`
	Voice              string  `toml:"voice"`
	Instructions       string  `toml:"instructions"`
	VADMode            string  `toml:"vad_mode"` // semantic_vad or server_vad
	VADEagerness       string  `toml:"vad_eagerness"`
	VADThreshold       float64 `toml:"vad_threshold"`
	PrefixPaddingMs    int     `toml:"prefix_padding_ms"`
	SilenceDurationMs  int     `toml:"silence_duration_ms"`
	TranscriptionModel string  `toml:"transcription_model"`
	NoiseReduction     string  `toml:"noise_reduction"` // near_field, far_field, or none
	InterruptResponse  bool    `toml:"interrupt_response"`
	IncludeConfidence  bool    `toml:"include_confidence"`
	MaxResponseTokens  int     `toml:"max_response_tokens"`
	Temperature        float64 `toml:"temperature"`
}

// BackoffConfig represents connection backoff policy constants
type BackoffConfig struct {
	BaseDelaySecs        int `toml:"base_delay_secs"`
	CapDelaySecs         int `toml:"cap_delay_secs"`
	RateLimitDelaySecs   int `toml:"rate_limit_delay_secs"`
	RateLimitCeilingSecs int `toml:"rate_limit_ceiling_secs"`
	RateLimitStepSecs    int `toml:"rate_limit_step_secs"`
	DisconnectDelayMs    int `toml:"disconnect_delay_ms"`
}

// AudioConfig represents local audio capture and visualization configuration
type AudioConfig struct {
	InputFile       string `toml:"input_file"`
	SampleRate      int    `toml:"sample_rate"`
	FrameDurationMs int    `toml:"frame_duration_ms"`
	SpectrumBins    int    `toml:"spectrum_bins"`
	SpectrumTickMs  int    `toml:"spectrum_tick_ms"`
}

// RateLimitConfig represents per-client session minting limits
type RateLimitConfig struct {
	WindowSecs  int `toml:"window_secs"`
	MaxAttempts int `toml:"max_attempts"`
}

// ModelVariant is one row of the model/feature table that replaces
// per-version server copies. The first variant is the default.
type ModelVariant struct {
	Name               string  `toml:"name"`
	Model              string  `toml:"model"`
	VADMode            string  `toml:"vad_mode"`
	VADThreshold       float64 `toml:"vad_threshold"`
	SilenceDurationMs  int     `toml:"silence_duration_ms"`
	TranscriptionModel string  `toml:"transcription_model"`
	NoiseReduction     string  `toml:"noise_reduction"`
}

// Load reads configuration from the given TOML file, applying defaults
// for anything unset. The OpenAI API key falls back to the environment.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		if _, err := toml.DecodeFile(path, cfg); err != nil {
			return nil, fmt.Errorf("failed to decode config file %s: %w", path, err)
		}
	}

	if cfg.OpenAI.APIKey == "" {
		cfg.OpenAI.APIKey = os.Getenv("OPENAI_API_KEY")
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Default returns the built-in configuration defaults
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Host:             "0.0.0.0",
			Port:             3000,
			StaticFilesDir:   "public",
			ReadTimeoutSecs:  30,
			WriteTimeoutSecs: 30,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "console",
		},
		OpenAI: OpenAIConfig{
			RealtimeBaseURL: "https://api.openai.com/v1/realtime",
			SessionsURL:     "https://api.openai.com/v1/realtime/sessions",
			TimeoutSecs:     15,
		},
		Session: SessionConfig{
			Model:              "gpt-4o-realtime-preview-2025-06-03",
			Voice:              "ballad",
			VADMode:            "semantic_vad",
			VADEagerness:       "auto",
			VADThreshold:       0.5,
			PrefixPaddingMs:    300,
			SilenceDurationMs:  500,
			TranscriptionModel: "whisper-1",
			NoiseReduction:     "near_field",
			InterruptResponse:  true,
			MaxResponseTokens:  4096,
			Temperature:        0.8,
		},
		Backoff: BackoffConfig{
			BaseDelaySecs:        2,
			CapDelaySecs:         60,
			RateLimitDelaySecs:   60,
			RateLimitCeilingSecs: 120,
			RateLimitStepSecs:    10,
			DisconnectDelayMs:    1000,
		},
		Audio: AudioConfig{
			SampleRate:      24000,
			FrameDurationMs: 20,
			SpectrumBins:    24,
			SpectrumTickMs:  50,
		},
		RateLimit: RateLimitConfig{
			WindowSecs:  600,
			MaxAttempts: 10,
		},
	}
}

// Validate checks the configuration for values that cannot work
func (c *Config) Validate() error {
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid server port: %d", c.Server.Port)
	}
	switch c.Session.VADMode {
	case "semantic_vad", "server_vad":
	default:
		return fmt.Errorf("invalid vad_mode: %s", c.Session.VADMode)
	}
	if c.Backoff.BaseDelaySecs <= 0 {
		return fmt.Errorf("backoff base_delay_secs must be positive")
	}
	if c.Backoff.CapDelaySecs < c.Backoff.BaseDelaySecs {
		return fmt.Errorf("backoff cap_delay_secs must be >= base_delay_secs")
	}
	if c.Audio.SpectrumBins <= 0 {
		return fmt.Errorf("audio spectrum_bins must be positive")
	}
	return nil
}

// Addr returns the server listen address
func (s ServerConfig) Addr() string {
	return fmt.Sprintf("%s:%d", s.Host, s.Port)
}

// Timeout returns the upstream request timeout as a duration
func (o OpenAIConfig) Timeout() time.Duration {
	return time.Duration(o.TimeoutSecs) * time.Second
}

// Variant looks up a model variant by name. The empty name selects the
// first (default) variant; a missing table yields values derived from
// the session defaults.
func (c *Config) Variant(name string) ModelVariant {
	if len(c.Variants) == 0 {
		return ModelVariant{
			Name:               "default",
			Model:              c.Session.Model,
			VADMode:            c.Session.VADMode,
			VADThreshold:       c.Session.VADThreshold,
			SilenceDurationMs:  c.Session.SilenceDurationMs,
			TranscriptionModel: c.Session.TranscriptionModel,
			NoiseReduction:     c.Session.NoiseReduction,
		}
	}
	if name == "" {
		return c.Variants[0]
	}
	for _, v := range c.Variants {
		if v.Name == name {
			return v
		}
	}
	return c.Variants[0]
}
