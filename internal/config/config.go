// Package config loads process-level configuration: provider keys, storage
// locations, and concurrency caps. Per-project creative options live in
// models.Config and are validated at ingress, not here.
package config

import (
	"fmt"
	"os"
	"strconv"

	"github.com/joho/godotenv"
)

type Config struct {
	// Server
	APIPort            string
	BackendAPIKey      string // empty = no auth, dev mode
	CorsAllowedOrigins string // empty = "*", dev mode
	RateLimitPerMinute int

	// Persistence
	ProjectsDir string // root of projects/{id}/... on-disk layout
	BadgerDir   string // Artifact Store fingerprint index
	RedisURL    string // Critique Cache backing store

	// OpenAI (strategist/scriptwriter/critic LLM calls)
	OpenAIKey string

	// Gemini (image generation)
	GeminiKey                 string
	GeminiStyleReferenceImage string

	// Veo (motion fallback-1)
	VeoEnabled bool
	VeoModel   string

	// xAI (motion primary, submit/poll REST)
	XAIEnabled bool
	XAIAPIKey  string

	// ElevenLabs (preferred TTS provider)
	ElevenLabsKey     string
	ElevenLabsVoiceID string

	// Cartesia (secondary TTS provider, used when ElevenLabs key absent)
	CartesiaKey     string
	CartesiaURL     string
	CartesiaVoiceID string

	// Audio
	BackgroundMusicPath string

	// Concurrency (Parallel Executor defaults,
	ImageConcurrency  int
	AudioConcurrency  int
	MotionConcurrency int

	// Image Stage retry budget
	ImageRetryBudget int
}

func Load() (*Config, error) {
	_ = godotenv.Load()

	cfg := &Config{
		APIPort:            getEnv("API_PORT", "8080"),
		BackendAPIKey:      getEnv("BACKEND_API_KEY", ""),
		CorsAllowedOrigins: getEnv("CORS_ALLOWED_ORIGINS", ""),
		RateLimitPerMinute: getEnvInt("RATE_LIMIT_PER_MINUTE", 120),

		ProjectsDir: getEnv("PROJECTS_DIR", "./projects"),
		BadgerDir:   getEnv("BADGER_DIR", "./data/artifacts.badger"),
		RedisURL:    getEnv("REDIS_URL", "redis://localhost:6379"),

		OpenAIKey: getEnv("OPENAI_API_KEY", ""),

		GeminiKey:                 getEnv("GEMINI_API_KEY", ""),
		GeminiStyleReferenceImage: getEnv("GEMINI_STYLE_REFERENCE_IMAGE", "assets/style-reference/sample.jpeg"),

		VeoEnabled: getEnvBool("VEO_ENABLED", true),
		VeoModel:   getEnv("VEO_MODEL", "veo-3.1-generate-preview"),

		XAIEnabled: getEnvBool("XAI_VIDEO_ENABLED", true),
		XAIAPIKey:  getEnv("XAI_API_KEY", ""),

		ElevenLabsKey:     getEnv("ELEVENLABS_API_KEY", ""),
		ElevenLabsVoiceID: getEnv("ELEVENLABS_VOICE_ID", ""),

		CartesiaKey:     getEnv("CARTESIA_API_KEY", ""),
		CartesiaURL:     getEnv("CARTESIA_API_URL", "https://api.cartesia.ai"),
		CartesiaVoiceID: getEnv("CARTESIA_VOICE_ID", ""),

		BackgroundMusicPath: getEnv("BACKGROUND_MUSIC_PATH", "assets/music/music.mp3"),

		ImageConcurrency:  getEnvInt("IMAGE_CONCURRENCY", 3),
		AudioConcurrency:  getEnvInt("AUDIO_CONCURRENCY", 3),
		MotionConcurrency: getEnvInt("MOTION_CONCURRENCY", 3),
		ImageRetryBudget:  getEnvInt("IMAGE_RETRY_BUDGET", 2),
	}

	if cfg.OpenAIKey == "" {
		return nil, fmt.Errorf("OPENAI_API_KEY is required")
	}
	if cfg.GeminiKey == "" {
		return nil, fmt.Errorf("GEMINI_API_KEY is required")
	}
	if cfg.ElevenLabsKey == "" && cfg.CartesiaKey == "" {
		return nil, fmt.Errorf("either ELEVENLABS_API_KEY or CARTESIA_API_KEY is required for TTS")
	}

	return cfg, nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		b, err := strconv.ParseBool(value)
		if err == nil {
			return b
		}
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		i, err := strconv.Atoi(value)
		if err == nil {
			return i
		}
	}
	return defaultValue
}
