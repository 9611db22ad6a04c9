package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/pelletier/go-toml/v2"
)

type InterventionConfig struct {
	CooldownSeconds     int     `toml:"cooldown_seconds"`
	MaxDaily            int     `toml:"max_daily"`
	EngagementThreshold float64 `toml:"engagement_threshold"`
	EffectivenessWeight float64 `toml:"effectiveness_weight"`
	InitialEngagement   float64 `toml:"initial_engagement"`
	DeliveryChannel     string  `toml:"delivery_channel"`
}

// Cooldown is the minimum gap between two interventions for one user.
func (c InterventionConfig) Cooldown() time.Duration {
	return time.Duration(c.CooldownSeconds) * time.Second
}

// DetectorConfig holds the struggle-signature thresholds. These mirror
// the trigger-condition table and are deliberately configurable.
type DetectorConfig struct {
	QuizScoreThreshold      float64 `toml:"quiz_score_threshold"`
	QuizMinAttempts         int     `toml:"quiz_min_attempts"`
	QuizMinTimeSeconds      float64 `toml:"quiz_min_time_seconds"`
	HelpWindowMinutes       int     `toml:"help_window_minutes"`
	HelpMinRequests         int     `toml:"help_min_requests"`
	HelpTopicCorrelation    float64 `toml:"help_topic_correlation"`
	TimeoutMinSessionSecs   float64 `toml:"timeout_min_session_seconds"`
	TimeoutMaxCompletion    float64 `toml:"timeout_max_completion"`
	RegressionMinDecline    float64 `toml:"regression_min_decline"`
	RegressionMinConfidence float64 `toml:"regression_min_confidence_drop"`
	RegressionWindowDays    int     `toml:"regression_window_days"`
}

func (c DetectorConfig) HelpWindow() time.Duration {
	return time.Duration(c.HelpWindowMinutes) * time.Minute
}

type RetentionConfig struct {
	ActiveDays    int    `toml:"active_days"`
	CompletedDays int    `toml:"completed_days"`
	SensitiveDays int    `toml:"sensitive_days"`
	SweepSchedule string `toml:"sweep_schedule"`
}

func (c RetentionConfig) ActiveWindow() time.Duration {
	return time.Duration(c.ActiveDays) * 24 * time.Hour
}

func (c RetentionConfig) CompletedWindow() time.Duration {
	return time.Duration(c.CompletedDays) * 24 * time.Hour
}

func (c RetentionConfig) SensitiveWindow() time.Duration {
	return time.Duration(c.SensitiveDays) * 24 * time.Hour
}

// FallbackArtifact is a pre-stored generic artifact used when the
// generator stays unavailable for a topic.
type FallbackArtifact struct {
	Topic            string  `toml:"topic"`
	Title            string  `toml:"title"`
	SlideCount       int     `toml:"slide_count"`
	EstimatedMinutes float64 `toml:"estimated_minutes"`
}

type GeneratorConfig struct {
	Provider       string             `toml:"provider"`
	Model          string             `toml:"model"`
	APIKey         string             `toml:"api_key"`
	BaseURL        string             `toml:"base_url"`
	MaxAttempts    int                `toml:"max_attempts"`
	TimeoutSeconds int                `toml:"timeout_seconds"`
	Fallbacks      []FallbackArtifact `toml:"fallbacks"`
}

func (c GeneratorConfig) Timeout() time.Duration {
	return time.Duration(c.TimeoutSeconds) * time.Second
}

type GraphConfig struct {
	URI      string `toml:"uri"`
	User     string `toml:"user"`
	Password string `toml:"password"`
}

type RedisConfig struct {
	Addr string `toml:"addr"`
}

type ServerConfig struct {
	Port string `toml:"port"`
	Mode string `toml:"mode"`
}

type Config struct {
	Intervention InterventionConfig `toml:"intervention"`
	Detector     DetectorConfig     `toml:"detector"`
	Retention    RetentionConfig    `toml:"retention"`
	Generator    GeneratorConfig    `toml:"generator"`
	Graph        GraphConfig        `toml:"graph"`
	Redis        RedisConfig        `toml:"redis"`
	Server       ServerConfig       `toml:"server"`
}

// Default returns the documented defaults; Load overlays a TOML file on
// top of them.
func Default() *Config {
	return &Config{
		Intervention: InterventionConfig{
			CooldownSeconds:     1800,
			MaxDaily:            5,
			EngagementThreshold: 0.6,
			EffectivenessWeight: 0.3,
			InitialEngagement:   0.7,
			DeliveryChannel:     "in_app",
		},
		Detector: DetectorConfig{
			QuizScoreThreshold:      0.6,
			QuizMinAttempts:         2,
			QuizMinTimeSeconds:      180,
			HelpWindowMinutes:       10,
			HelpMinRequests:         3,
			HelpTopicCorrelation:    0.7,
			TimeoutMinSessionSecs:   300,
			TimeoutMaxCompletion:    0.3,
			RegressionMinDecline:    0.2,
			RegressionMinConfidence: 0.3,
			RegressionWindowDays:    7,
		},
		Retention: RetentionConfig{
			ActiveDays:    90,
			CompletedDays: 365,
			SensitiveDays: 30,
			SweepSchedule: "@every 1h",
		},
		Generator: GeneratorConfig{
			Provider:       "gemini",
			Model:          "gemini-1.5-flash",
			MaxAttempts:    3,
			TimeoutSeconds: 30,
		},
		Server: ServerConfig{
			Port: "8080",
			Mode: "dev",
		},
	}
}

// Load reads a TOML config file over the defaults.
func Load(path string) (*Config, error) {
	cfg := Default()
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file '%s': %w", path, err)
	}
	if err := toml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse TOML: %w", err)
	}
	return cfg, nil
}

// ApplyEnv overrides secrets and endpoints from the environment so a
// checked-in config file never needs credentials.
func (c *Config) ApplyEnv() {
	if v := os.Getenv("GENERATOR_PROVIDER"); v != "" {
		c.Generator.Provider = v
	}
	if v := os.Getenv("GENERATOR_MODEL"); v != "" {
		c.Generator.Model = v
	}
	if v := os.Getenv("GENERATOR_API_KEY"); v != "" {
		c.Generator.APIKey = v
	}
	// The original deployment configured Gemini through this variable.
	if v := os.Getenv("GEMINI_API_KEY"); v != "" && c.Generator.APIKey == "" {
		c.Generator.APIKey = v
	}
	if v := os.Getenv("GENERATOR_BASE_URL"); v != "" {
		c.Generator.BaseURL = v
	}
	if v := os.Getenv("MEMGRAPH_URI"); v != "" {
		c.Graph.URI = v
	}
	if v := os.Getenv("MEMGRAPH_USER"); v != "" {
		c.Graph.User = v
	}
	if v := os.Getenv("MEMGRAPH_PASSWORD"); v != "" {
		c.Graph.Password = v
	}
	if v := os.Getenv("REDIS_ADDR"); v != "" {
		c.Redis.Addr = v
	}
	if v := os.Getenv("PORT"); v != "" {
		c.Server.Port = v
	}
	if v := os.Getenv("SERVER_MODE"); v != "" {
		c.Server.Mode = v
	}
	if v := os.Getenv("INTERVENTION_COOLDOWN_SECONDS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			c.Intervention.CooldownSeconds = n
		}
	}
	if v := os.Getenv("INTERVENTION_MAX_DAILY"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			c.Intervention.MaxDaily = n
		}
	}
}
