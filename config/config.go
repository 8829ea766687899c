package config

import (
	"os"
	"strings"

	"github.com/joho/godotenv"
)

const (
	groqBaseURL   = "https://api.groq.com/openai/v1"
	groqModel     = "llama-3.1-8b-instant"
	openaiBaseURL = "https://api.openai.com/v1"
	openaiModel   = "gpt-3.5-turbo"
)

type Config struct {
	Port string

	// Completion gateway credentials. Groq wins when both are set.
	GroqAPIKey   string
	OpenAIAPIKey string
	LLMBaseURL   string
	LLMModel     string

	// sqlite by default; postgres when DB_HOST is set explicitly.
	DBPath     string
	DBHost     string
	DBPort     string
	DBUser     string
	DBPassword string
	DBName     string

	RedisURL       string
	AllowedOrigins []string

	DefaultLanguage string
}

func Load() *Config {
	godotenv.Load()
	godotenv.Load("../.env")

	return &Config{
		Port: getEnv("PORT", "8080"),

		GroqAPIKey:   os.Getenv("GROQ_API_KEY"),
		OpenAIAPIKey: os.Getenv("OPENAI_API_KEY"),
		LLMBaseURL:   os.Getenv("LLM_BASE_URL"),
		LLMModel:     os.Getenv("LLM_MODEL"),

		DBPath:     getEnv("DB_PATH", "fabot.db"),
		DBHost:     os.Getenv("DB_HOST"),
		DBPort:     getEnv("DB_PORT", "5432"),
		DBUser:     getEnv("DB_USER", "fabot"),
		DBPassword: getEnv("DB_PASSWORD", "fabot"),
		DBName:     getEnv("DB_NAME", "fabot"),

		RedisURL:       os.Getenv("REDIS_URL"),
		AllowedOrigins: parseOrigins(getEnv("ALLOWED_ORIGINS", defaultOrigins())),

		DefaultLanguage: getEnv("DEFAULT_LANGUAGE", "en"),
	}
}

// Provider resolves the completion gateway endpoint from whichever
// credential variable is present. A missing key is not an error here;
// it surfaces as an auth failure at request time.
func (c *Config) Provider() (baseURL, apiKey, model string) {
	switch {
	case c.GroqAPIKey != "":
		baseURL, apiKey, model = groqBaseURL, c.GroqAPIKey, groqModel
	default:
		baseURL, apiKey, model = openaiBaseURL, c.OpenAIAPIKey, openaiModel
	}
	if c.LLMBaseURL != "" {
		baseURL = c.LLMBaseURL
	}
	if c.LLMModel != "" {
		model = c.LLMModel
	}
	return baseURL, apiKey, model
}

func (c *Config) UsePostgres() bool {
	return c.DBHost != ""
}

func (c *Config) DSN() string {
	return "host=" + c.DBHost +
		" user=" + c.DBUser +
		" password=" + c.DBPassword +
		" dbname=" + c.DBName +
		" port=" + c.DBPort +
		" sslmode=disable TimeZone=UTC"
}

func getEnv(key, fallback string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return fallback
}

func defaultOrigins() string {
	if os.Getenv("GIN_MODE") != "release" {
		return "http://localhost:5173,http://localhost:8080"
	}
	return ""
}

func parseOrigins(s string) []string {
	parts := strings.Split(s, ",")
	origins := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			origins = append(origins, p)
		}
	}
	return origins
}
