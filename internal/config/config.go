package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	// Server
	APIPort            string
	WorkerEnabled      bool
	BackendAPIKey      string // API key for authenticating requests (empty = no auth, dev mode)
	CorsAllowedOrigins string // Comma-separated allowed origins (empty = *, dev mode)

	// OpenAI (script generation and transcription)
	OpenAIKey         string
	OpenAIScriptModel string

	// Gemini (image generation)
	GeminiKey        string
	GeminiImageModel string

	// ElevenLabs (preferred TTS provider)
	ElevenLabsKey     string
	ElevenLabsVoiceID string

	// Cartesia (used when ElevenLabs key is not set)
	CartesiaKey     string
	CartesiaURL     string
	CartesiaVoiceID string

	// Files
	WorkDir       string
	OutputDir     string
	MusicDir      string
	InputDirs     []string // local dirs requests may reference; the music dir is always included
	PublicBaseURL string

	// Queue persistence
	QueueStore        string // file, redis, postgres or sqlite
	QueueSnapshotPath string
	RedisURL          string
	QueueRedisKey     string
	DatabaseURL       string
	SQLitePath        string

	// Queue
	QueueHistoryLimit        int
	SynthesisConcurrency     int
	TranscriptionConcurrency int

	// Composition
	ComposeTimeout        time.Duration
	SceneFallbackDuration float64 // seconds
	CaptionWordsPerBurst  int
	RenderMotion          bool
	ResolveStrict         bool

	// Supabase (optional publishing of finished videos)
	SupabaseURL           string
	SupabaseServiceKey    string
	SupabaseStorageBucket string

	// Scheduler
	SchedulesFile string
}

func Load() (*Config, error) {
	// Load .env file if it exists (ignore error in production)
	_ = godotenv.Load()

	cfg := &Config{
		APIPort:                  getEnv("API_PORT", "8080"),
		WorkerEnabled:            getEnvBool("WORKER_ENABLED", true),
		BackendAPIKey:            getEnv("BACKEND_API_KEY", ""),
		CorsAllowedOrigins:       getEnv("CORS_ALLOWED_ORIGINS", ""),
		OpenAIKey:                getEnv("OPENAI_API_KEY", ""),
		OpenAIScriptModel:        getEnv("OPENAI_SCRIPT_MODEL", "gpt-4o"),
		GeminiKey:                getEnv("GEMINI_API_KEY", ""),
		GeminiImageModel:         getEnv("GEMINI_IMAGE_MODEL", "imagen-4.0-generate-001"),
		ElevenLabsKey:            getEnv("ELEVENLABS_API_KEY", ""),
		ElevenLabsVoiceID:        getEnv("ELEVENLABS_VOICE_ID", ""),
		CartesiaKey:              getEnv("CARTESIA_API_KEY", ""),
		CartesiaURL:              getEnv("CARTESIA_API_URL", "https://api.cartesia.ai"),
		CartesiaVoiceID:          getEnv("CARTESIA_VOICE_ID", ""),
		WorkDir:                  getEnv("WORK_DIR", os.TempDir()),
		OutputDir:                getEnv("OUTPUT_DIR", "output"),
		MusicDir:                 getEnv("MUSIC_DIR", "assets/music"),
		InputDirs:                getEnvList("INPUT_DIRS"),
		PublicBaseURL:            getEnv("PUBLIC_BASE_URL", ""),
		QueueStore:               getEnv("QUEUE_STORE", "file"),
		QueueSnapshotPath:        getEnv("QUEUE_SNAPSHOT_PATH", "data/queue-state.json"),
		RedisURL:                 getEnv("REDIS_URL", "redis://localhost:6379"),
		QueueRedisKey:            getEnv("QUEUE_REDIS_KEY", "scenecast:queue:video"),
		DatabaseURL:              getEnv("DATABASE_URL", ""),
		SQLitePath:               getEnv("SQLITE_PATH", "data/queue.db"),
		QueueHistoryLimit:        getEnvInt("QUEUE_HISTORY_LIMIT", 50),
		SynthesisConcurrency:     getEnvInt("SYNTHESIS_CONCURRENCY", 2),
		TranscriptionConcurrency: getEnvInt("TRANSCRIPTION_CONCURRENCY", 1),
		ComposeTimeout:           getEnvDuration("COMPOSE_TIMEOUT", 10*time.Minute),
		SceneFallbackDuration:    getEnvFloat("SCENE_FALLBACK_DURATION", 5),
		CaptionWordsPerBurst:     getEnvInt("CAPTION_WORDS_PER_BURST", 3),
		RenderMotion:             getEnvBool("RENDER_MOTION", true),
		ResolveStrict:            getEnvBool("RESOLVE_STRICT", false),
		SupabaseURL:              getEnv("SUPABASE_URL", ""),
		SupabaseServiceKey:       getEnv("SUPABASE_SERVICE_KEY", ""),
		SupabaseStorageBucket:    getEnv("SUPABASE_STORAGE_BUCKET", "scenecast-videos"),
		SchedulesFile:            getEnv("SCHEDULES_FILE", ""),
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks the keys each enabled component depends on.
func (c *Config) Validate() error {
	if c.WorkerEnabled {
		if c.OpenAIKey == "" {
			return fmt.Errorf("OPENAI_API_KEY is required")
		}

		// At least one TTS provider must be configured
		if c.ElevenLabsKey == "" && c.CartesiaKey == "" {
			return fmt.Errorf("either ELEVENLABS_API_KEY or CARTESIA_API_KEY is required for TTS")
		}
	}

	switch c.QueueStore {
	case "file":
		if c.QueueSnapshotPath == "" {
			return fmt.Errorf("QUEUE_SNAPSHOT_PATH is required for the file queue store")
		}
	case "redis":
		if c.RedisURL == "" {
			return fmt.Errorf("REDIS_URL is required for the redis queue store")
		}
	case "postgres":
		if c.DatabaseURL == "" {
			return fmt.Errorf("DATABASE_URL is required for the postgres queue store")
		}
	case "sqlite":
		if c.SQLitePath == "" {
			return fmt.Errorf("SQLITE_PATH is required for the sqlite queue store")
		}
	default:
		return fmt.Errorf("QUEUE_STORE must be one of file, redis, postgres, sqlite (got %q)", c.QueueStore)
	}

	if (c.SupabaseURL == "") != (c.SupabaseServiceKey == "") {
		return fmt.Errorf("SUPABASE_URL and SUPABASE_SERVICE_KEY must be set together")
	}

	if c.SynthesisConcurrency < 1 || c.TranscriptionConcurrency < 1 {
		return fmt.Errorf("SYNTHESIS_CONCURRENCY and TRANSCRIPTION_CONCURRENCY must be at least 1")
	}
	if c.SceneFallbackDuration <= 0 {
		return fmt.Errorf("SCENE_FALLBACK_DURATION must be positive")
	}

	return nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvList splits a comma separated value, dropping empty items.
func getEnvList(key string) []string {
	var out []string
	for _, item := range strings.Split(os.Getenv(key), ",") {
		if item = strings.TrimSpace(item); item != "" {
			out = append(out, item)
		}
	}
	return out
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

func getEnvFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		f, err := strconv.ParseFloat(value, 64)
		if err == nil {
			return f
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		d, err := time.ParseDuration(value)
		if err == nil {
			return d
		}
	}
	return defaultValue
}
