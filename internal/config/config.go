package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config contains all runtime settings for the tutoring voice service.
type Config struct {
	BindAddr                 string
	ShutdownTimeout          time.Duration
	SessionInactivityTimeout time.Duration
	MetricsNamespace         string

	AllowAnyOrigin bool

	ConversationCap int

	CompletionURL         string
	CompletionAPIKey      string
	CompletionModel       string
	CompletionMaxTokens   int
	CompletionTemperature float64
	CompletionTimeout     time.Duration

	SpeechProvider     string
	SpeechRestartDelay time.Duration

	VoiceLevelInterval time.Duration
	LinkProbeInterval  time.Duration

	SupabaseURL string
	SupabaseKey string
	DatabaseURL string

	RedisAddr     string
	RedisPassword string
	SnapshotTTL   time.Duration
}

// fileConfig mirrors Config for the optional YAML overlay. Durations are
// strings so operators can write "90s" instead of nanosecond counts.
type fileConfig struct {
	BindAddr                 *string  `yaml:"bind_addr"`
	ShutdownTimeout          *string  `yaml:"shutdown_timeout"`
	SessionInactivityTimeout *string  `yaml:"session_inactivity_timeout"`
	MetricsNamespace         *string  `yaml:"metrics_namespace"`
	AllowAnyOrigin           *bool    `yaml:"allow_any_origin"`
	ConversationCap          *int     `yaml:"conversation_cap"`
	CompletionURL            *string  `yaml:"completion_url"`
	CompletionAPIKey         *string  `yaml:"completion_api_key"`
	CompletionModel          *string  `yaml:"completion_model"`
	CompletionMaxTokens      *int     `yaml:"completion_max_tokens"`
	CompletionTemperature    *float64 `yaml:"completion_temperature"`
	CompletionTimeout        *string  `yaml:"completion_timeout"`
	SpeechProvider           *string  `yaml:"speech_provider"`
	SpeechRestartDelay       *string  `yaml:"speech_restart_delay"`
	VoiceLevelInterval       *string  `yaml:"voice_level_interval"`
	LinkProbeInterval        *string  `yaml:"link_probe_interval"`
	SupabaseURL              *string  `yaml:"supabase_url"`
	SupabaseKey              *string  `yaml:"supabase_key"`
	DatabaseURL              *string  `yaml:"database_url"`
	RedisAddr                *string  `yaml:"redis_addr"`
	RedisPassword            *string  `yaml:"redis_password"`
	SnapshotTTL              *string  `yaml:"snapshot_ttl"`
}

// Load reads environment variables and applies safe defaults. If
// TUTOR_CONFIG_FILE points at a YAML file, its values are applied first
// and environment variables override them.
func Load() (Config, error) {
	cfg := Config{
		BindAddr:                 ":8080",
		MetricsNamespace:         "tutorvoice",
		ShutdownTimeout:          15 * time.Second,
		SessionInactivityTimeout: 2 * time.Minute,
		ConversationCap:          20,
		CompletionModel:          "gpt-4o-mini",
		CompletionMaxTokens:      200,
		CompletionTemperature:    0.7,
		CompletionTimeout:        60 * time.Second,
		SpeechProvider:           "mock",
		SpeechRestartDelay:       2 * time.Second,
		VoiceLevelInterval:       250 * time.Millisecond,
		LinkProbeInterval:        5 * time.Second,
		SnapshotTTL:              24 * time.Hour,
	}

	if path := stringsTrimSpace("TUTOR_CONFIG_FILE"); path != "" {
		if err := applyFile(&cfg, path); err != nil {
			return Config{}, err
		}
	}

	cfg.BindAddr = envOrDefault("APP_BIND_ADDR", cfg.BindAddr)
	cfg.MetricsNamespace = envOrDefault("APP_METRICS_NAMESPACE", cfg.MetricsNamespace)
	cfg.CompletionURL = envOrDefault("COMPLETION_URL", cfg.CompletionURL)
	cfg.CompletionAPIKey = envOrDefault("COMPLETION_API_KEY", cfg.CompletionAPIKey)
	cfg.CompletionModel = envOrDefault("COMPLETION_MODEL", cfg.CompletionModel)
	cfg.SpeechProvider = envOrDefault("SPEECH_PROVIDER", cfg.SpeechProvider)
	cfg.SupabaseURL = envOrDefault("SUPABASE_URL", cfg.SupabaseURL)
	cfg.SupabaseKey = envOrDefault("SUPABASE_KEY", cfg.SupabaseKey)
	cfg.DatabaseURL = envOrDefault("DATABASE_URL", cfg.DatabaseURL)
	cfg.RedisAddr = envOrDefault("REDIS_ADDR", cfg.RedisAddr)
	cfg.RedisPassword = envOrDefault("REDIS_PASSWORD", cfg.RedisPassword)

	var err error
	cfg.ShutdownTimeout, err = durationFromEnv("APP_SHUTDOWN_TIMEOUT", cfg.ShutdownTimeout)
	if err != nil {
		return Config{}, err
	}
	cfg.SessionInactivityTimeout, err = durationFromEnv("APP_SESSION_INACTIVITY_TIMEOUT", cfg.SessionInactivityTimeout)
	if err != nil {
		return Config{}, err
	}
	cfg.AllowAnyOrigin, err = boolFromEnv("APP_ALLOW_ANY_ORIGIN", cfg.AllowAnyOrigin)
	if err != nil {
		return Config{}, err
	}
	cfg.ConversationCap, err = intFromEnv("CONVERSATION_CAP", cfg.ConversationCap)
	if err != nil {
		return Config{}, err
	}
	cfg.CompletionMaxTokens, err = intFromEnv("COMPLETION_MAX_TOKENS", cfg.CompletionMaxTokens)
	if err != nil {
		return Config{}, err
	}
	cfg.CompletionTemperature, err = floatFromEnv("COMPLETION_TEMPERATURE", cfg.CompletionTemperature)
	if err != nil {
		return Config{}, err
	}
	cfg.CompletionTimeout, err = durationFromEnv("COMPLETION_TIMEOUT", cfg.CompletionTimeout)
	if err != nil {
		return Config{}, err
	}
	cfg.SpeechRestartDelay, err = durationFromEnv("SPEECH_RESTART_DELAY", cfg.SpeechRestartDelay)
	if err != nil {
		return Config{}, err
	}
	cfg.VoiceLevelInterval, err = durationFromEnv("VOICE_LEVEL_INTERVAL", cfg.VoiceLevelInterval)
	if err != nil {
		return Config{}, err
	}
	cfg.LinkProbeInterval, err = durationFromEnv("LINK_PROBE_INTERVAL", cfg.LinkProbeInterval)
	if err != nil {
		return Config{}, err
	}
	cfg.SnapshotTTL, err = durationFromEnv("SNAPSHOT_TTL", cfg.SnapshotTTL)
	if err != nil {
		return Config{}, err
	}

	if cfg.SessionInactivityTimeout < 5*time.Second {
		return Config{}, fmt.Errorf("APP_SESSION_INACTIVITY_TIMEOUT must be at least 5s")
	}
	if cfg.ConversationCap < 3 {
		return Config{}, fmt.Errorf("CONVERSATION_CAP must be at least 3")
	}
	if cfg.CompletionMaxTokens <= 0 {
		return Config{}, fmt.Errorf("COMPLETION_MAX_TOKENS must be positive")
	}
	if cfg.CompletionTemperature < 0 || cfg.CompletionTemperature > 2 {
		return Config{}, fmt.Errorf("COMPLETION_TEMPERATURE must be in [0, 2]")
	}
	if cfg.SpeechRestartDelay < 0 {
		return Config{}, fmt.Errorf("SPEECH_RESTART_DELAY must be >= 0")
	}
	if cfg.VoiceLevelInterval <= 0 {
		return Config{}, fmt.Errorf("VOICE_LEVEL_INTERVAL must be positive")
	}
	if cfg.LinkProbeInterval <= 0 {
		return Config{}, fmt.Errorf("LINK_PROBE_INTERVAL must be positive")
	}

	return cfg, nil
}

func applyFile(cfg *Config, path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config file %s: %w", path, err)
	}
	var fc fileConfig
	if err := yaml.Unmarshal(data, &fc); err != nil {
		return fmt.Errorf("parse config file %s: %w", path, err)
	}

	setString(&cfg.BindAddr, fc.BindAddr)
	setString(&cfg.MetricsNamespace, fc.MetricsNamespace)
	setString(&cfg.CompletionURL, fc.CompletionURL)
	setString(&cfg.CompletionAPIKey, fc.CompletionAPIKey)
	setString(&cfg.CompletionModel, fc.CompletionModel)
	setString(&cfg.SpeechProvider, fc.SpeechProvider)
	setString(&cfg.SupabaseURL, fc.SupabaseURL)
	setString(&cfg.SupabaseKey, fc.SupabaseKey)
	setString(&cfg.DatabaseURL, fc.DatabaseURL)
	setString(&cfg.RedisAddr, fc.RedisAddr)
	setString(&cfg.RedisPassword, fc.RedisPassword)
	if fc.AllowAnyOrigin != nil {
		cfg.AllowAnyOrigin = *fc.AllowAnyOrigin
	}
	if fc.ConversationCap != nil {
		cfg.ConversationCap = *fc.ConversationCap
	}
	if fc.CompletionMaxTokens != nil {
		cfg.CompletionMaxTokens = *fc.CompletionMaxTokens
	}
	if fc.CompletionTemperature != nil {
		cfg.CompletionTemperature = *fc.CompletionTemperature
	}

	durations := []struct {
		key string
		src *string
		dst *time.Duration
	}{
		{"shutdown_timeout", fc.ShutdownTimeout, &cfg.ShutdownTimeout},
		{"session_inactivity_timeout", fc.SessionInactivityTimeout, &cfg.SessionInactivityTimeout},
		{"completion_timeout", fc.CompletionTimeout, &cfg.CompletionTimeout},
		{"speech_restart_delay", fc.SpeechRestartDelay, &cfg.SpeechRestartDelay},
		{"voice_level_interval", fc.VoiceLevelInterval, &cfg.VoiceLevelInterval},
		{"link_probe_interval", fc.LinkProbeInterval, &cfg.LinkProbeInterval},
		{"snapshot_ttl", fc.SnapshotTTL, &cfg.SnapshotTTL},
	}
	for _, d := range durations {
		if d.src == nil {
			continue
		}
		parsed, err := time.ParseDuration(strings.TrimSpace(*d.src))
		if err != nil {
			return fmt.Errorf("config file %s: %s parse error: %w", path, d.key, err)
		}
		*d.dst = parsed
	}
	return nil
}

func setString(dst *string, src *string) {
	if src != nil {
		*dst = strings.TrimSpace(*src)
	}
}

func envOrDefault(key, fallback string) string {
	v := stringsTrimSpace(key)
	if v == "" {
		return fallback
	}
	return v
}

func stringsTrimSpace(key string) string {
	return strings.TrimSpace(os.Getenv(key))
}

func durationFromEnv(key string, fallback time.Duration) (time.Duration, error) {
	v := stringsTrimSpace(key)
	if v == "" {
		return fallback, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("%s parse error: %w", key, err)
	}
	return d, nil
}

func intFromEnv(key string, fallback int) (int, error) {
	v := stringsTrimSpace(key)
	if v == "" {
		return fallback, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("%s parse error: %w", key, err)
	}
	return n, nil
}

func floatFromEnv(key string, fallback float64) (float64, error) {
	v := stringsTrimSpace(key)
	if v == "" {
		return fallback, nil
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return 0, fmt.Errorf("%s parse error: %w", key, err)
	}
	return f, nil
}

func boolFromEnv(key string, fallback bool) (bool, error) {
	v := strings.ToLower(stringsTrimSpace(key))
	if v == "" {
		return fallback, nil
	}
	switch v {
	case "1", "true", "t", "yes", "y", "on":
		return true, nil
	case "0", "false", "f", "no", "n", "off":
		return false, nil
	default:
		return false, fmt.Errorf("%s parse error: expected bool", key)
	}
}
