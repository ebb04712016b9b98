package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config contains all runtime settings for the voice aggregation service.
type Config struct {
	BindAddr         string
	ShutdownTimeout  time.Duration
	MetricsNamespace string

	AllowAnyOrigin bool

	// Endpointing knobs for the audio session buffer.
	SilenceThreshold  time.Duration
	MinUtteranceBytes int
	VADEnergy         float64
	TapToListenWindow time.Duration
	BufferIdleTimeout time.Duration

	// Provider gateways. An empty base URL means "not configured" and the
	// deterministic mock gateway is used instead.
	STTBaseURL string
	STTAPIKey  string
	STTTimeout time.Duration

	TTSBaseURL string
	TTSAPIKey  string
	TTSVoice   string
	TTSTimeout time.Duration

	LLMBaseURL string
	LLMAPIKey  string
	LLMModel   string
	LLMTimeout time.Duration

	// Conversation session store backends. Redis wins when configured,
	// then Postgres, then the in-process map (single-instance dev only).
	RedisAddr     string
	RedisPassword string
	RedisDB       int
	SessionTTL    time.Duration
	DatabaseURL   string

	// Python vision microservice.
	VisionBaseURL string
	VisionTimeout time.Duration
}

// Load reads environment variables and applies safe defaults.
func Load() (Config, error) {
	cfg := Config{
		BindAddr:         envOrDefault("APP_BIND_ADDR", ":8080"),
		MetricsNamespace: envOrDefault("APP_METRICS_NAMESPACE", "shepherd"),
		AllowAnyOrigin:   false,
		ShutdownTimeout:  15 * time.Second,

		SilenceThreshold:  1500 * time.Millisecond,
		MinUtteranceBytes: 8000,
		VADEnergy:         500,
		TapToListenWindow: 10 * time.Second,
		BufferIdleTimeout: 2 * time.Minute,

		STTBaseURL: envTrimmed("STT_BASE_URL"),
		STTAPIKey:  envTrimmed("STT_API_KEY"),
		STTTimeout: 30 * time.Second,

		TTSBaseURL: envTrimmed("TTS_BASE_URL"),
		TTSAPIKey:  envTrimmed("TTS_API_KEY"),
		TTSVoice:   envOrDefault("TTS_VOICE_ID", "alloy"),
		TTSTimeout: 30 * time.Second,

		LLMBaseURL: envTrimmed("LLM_BASE_URL"),
		LLMAPIKey:  envTrimmed("LLM_API_KEY"),
		LLMModel:   envOrDefault("LLM_MODEL_ID", "gpt-4o-mini"),
		LLMTimeout: 20 * time.Second,

		RedisAddr:     envTrimmed("REDIS_ADDR"),
		RedisPassword: envTrimmed("REDIS_PASSWORD"),
		RedisDB:       0,
		SessionTTL:    30 * time.Minute,
		DatabaseURL:   envTrimmed("DATABASE_URL"),

		VisionBaseURL: envOrDefault("VISION_BASE_URL", "http://localhost:5000"),
		VisionTimeout: 15 * time.Second,
	}

	var err error
	cfg.ShutdownTimeout, err = durationFromEnv("APP_SHUTDOWN_TIMEOUT", cfg.ShutdownTimeout)
	if err != nil {
		return Config{}, err
	}
	cfg.AllowAnyOrigin, err = boolFromEnv("APP_ALLOW_ANY_ORIGIN", cfg.AllowAnyOrigin)
	if err != nil {
		return Config{}, err
	}

	cfg.SilenceThreshold, err = durationFromEnv("AUDIO_SILENCE_THRESHOLD", cfg.SilenceThreshold)
	if err != nil {
		return Config{}, err
	}
	cfg.MinUtteranceBytes, err = intFromEnv("AUDIO_MIN_UTTERANCE_BYTES", cfg.MinUtteranceBytes)
	if err != nil {
		return Config{}, err
	}
	cfg.VADEnergy, err = floatFromEnv("AUDIO_VAD_THRESHOLD", cfg.VADEnergy)
	if err != nil {
		return Config{}, err
	}
	cfg.TapToListenWindow, err = durationFromEnv("AUDIO_TAP_WINDOW", cfg.TapToListenWindow)
	if err != nil {
		return Config{}, err
	}
	cfg.BufferIdleTimeout, err = durationFromEnv("AUDIO_BUFFER_IDLE_TIMEOUT", cfg.BufferIdleTimeout)
	if err != nil {
		return Config{}, err
	}

	cfg.STTTimeout, err = durationFromEnv("STT_TIMEOUT", cfg.STTTimeout)
	if err != nil {
		return Config{}, err
	}
	cfg.TTSTimeout, err = durationFromEnv("TTS_TIMEOUT", cfg.TTSTimeout)
	if err != nil {
		return Config{}, err
	}
	cfg.LLMTimeout, err = durationFromEnv("LLM_TIMEOUT", cfg.LLMTimeout)
	if err != nil {
		return Config{}, err
	}
	cfg.VisionTimeout, err = durationFromEnv("VISION_TIMEOUT", cfg.VisionTimeout)
	if err != nil {
		return Config{}, err
	}

	cfg.RedisDB, err = intFromEnv("REDIS_DB", cfg.RedisDB)
	if err != nil {
		return Config{}, err
	}
	cfg.SessionTTL, err = durationFromEnv("SESSION_TTL", cfg.SessionTTL)
	if err != nil {
		return Config{}, err
	}

	if cfg.SilenceThreshold < 100*time.Millisecond {
		return Config{}, fmt.Errorf("AUDIO_SILENCE_THRESHOLD must be at least 100ms")
	}
	if cfg.MinUtteranceBytes <= 0 {
		return Config{}, fmt.Errorf("AUDIO_MIN_UTTERANCE_BYTES must be positive")
	}
	if cfg.VADEnergy <= 0 {
		return Config{}, fmt.Errorf("AUDIO_VAD_THRESHOLD must be positive")
	}
	if cfg.TapToListenWindow <= 0 {
		return Config{}, fmt.Errorf("AUDIO_TAP_WINDOW must be positive")
	}
	if cfg.SessionTTL < time.Minute {
		return Config{}, fmt.Errorf("SESSION_TTL must be at least 1m")
	}
	if cfg.RedisDB < 0 {
		return Config{}, fmt.Errorf("REDIS_DB must be >= 0")
	}

	return cfg, nil
}

func envOrDefault(key, fallback string) string {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return fallback
	}
	return v
}

func envTrimmed(key string) string {
	return strings.TrimSpace(os.Getenv(key))
}

func durationFromEnv(key string, fallback time.Duration) (time.Duration, error) {
	v := envTrimmed(key)
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
	v := envTrimmed(key)
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
	v := envTrimmed(key)
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
	v := strings.ToLower(envTrimmed(key))
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
