package config

import (
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds application configuration
type Config struct {
	Port           string
	Env            string
	LogLevel       string
	WorkerCount    int
	SessionTTL     time.Duration
	CORSAllowed    []string
	AdminJWTSecret string

	// Per-IP rate limit on submission routes. Zero disables limiting.
	SubmitRate  float64
	SubmitBurst int

	// OpenAI provider (speech-to-text, moderation, chat, embeddings, images)
	OpenAIAPIKey         string
	OpenAIChatModel      string
	OpenAIEmbeddingModel string
	ImageModel           string
	ImageSize            string
	ImageQuality         string

	// Optional Gemini fallback for chat completions
	GeminiAPIKey string
	GeminiModel  string

	// Knowledge index (pgvector). Empty DatabaseURL selects the in-memory store.
	DatabaseURL   string
	KnowledgeTopK int

	// Session store. Empty RedisAddr selects the in-memory store.
	RedisAddr     string
	RedisPassword string
	RedisTLS      bool

	// Prompt templates may be overridden from a directory of text files.
	PromptTemplateDir string
}

// Load reads configuration from environment variables
func Load() *Config {
	return &Config{
		Port:           getEnv("PORT", "8080"),
		Env:            getEnv("ENV", "development"),
		LogLevel:       getEnv("LOG_LEVEL", "info"),
		WorkerCount:    getEnvAsInt("WORKER_COUNT", 2),
		SessionTTL:     getEnvAsDuration("SESSION_TTL", 24*time.Hour),
		CORSAllowed:    splitCSV(getEnv("CORS_ALLOWED_ORIGINS", "")),
		AdminJWTSecret: getEnv("ADMIN_JWT_SECRET", ""),

		SubmitRate:  getEnvAsFloat("SUBMIT_RATE_PER_SEC", 1),
		SubmitBurst: getEnvAsInt("SUBMIT_BURST", 5),

		OpenAIAPIKey:         getEnv("OPENAI_API_KEY", ""),
		OpenAIChatModel:      getEnv("OPENAI_CHAT_MODEL", "gpt-4o"),
		OpenAIEmbeddingModel: getEnv("OPENAI_EMBEDDING_MODEL", "text-embedding-3-small"),
		ImageModel:           getEnv("IMAGE_MODEL", "dall-e-3"),
		ImageSize:            getEnv("IMAGE_SIZE", "1024x1024"),
		ImageQuality:         getEnv("IMAGE_QUALITY", "standard"),

		GeminiAPIKey: getEnv("GEMINI_API_KEY", ""),
		GeminiModel:  getEnv("GEMINI_MODEL", "gemini-2.5-flash"),

		DatabaseURL:   getEnv("DATABASE_URL", ""),
		KnowledgeTopK: getEnvAsInt("KNOWLEDGE_TOP_K", 3),

		RedisAddr:     getEnv("REDIS_ADDR", ""),
		RedisPassword: getEnv("REDIS_PASSWORD", ""),
		RedisTLS:      getEnvAsBool("REDIS_TLS", false),

		PromptTemplateDir: getEnv("PROMPT_TEMPLATE_DIR", ""),
	}
}

// getEnv retrieves an environment variable or returns a default value
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvAsInt retrieves an environment variable as an integer or returns a default value
func getEnvAsInt(key string, defaultValue int) int {
	valueStr := getEnv(key, "")
	if value, err := strconv.Atoi(valueStr); err == nil {
		return value
	}
	return defaultValue
}

// getEnvAsFloat retrieves an environment variable as a float or returns a default value
func getEnvAsFloat(key string, defaultValue float64) float64 {
	valueStr := getEnv(key, "")
	if value, err := strconv.ParseFloat(valueStr, 64); err == nil {
		return value
	}
	return defaultValue
}

// getEnvAsBool retrieves an environment variable as a boolean or returns a default value
func getEnvAsBool(key string, defaultValue bool) bool {
	valueStr := getEnv(key, "")
	if value, err := strconv.ParseBool(valueStr); err == nil {
		return value
	}
	return defaultValue
}

func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	valueStr := getEnv(key, "")
	if valueStr == "" {
		return defaultValue
	}
	if value, err := time.ParseDuration(valueStr); err == nil {
		return value
	}
	return defaultValue
}

func splitCSV(value string) []string {
	if strings.TrimSpace(value) == "" {
		return nil
	}
	parts := strings.Split(value, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
