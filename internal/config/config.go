package config

import (
	"fmt"
	"strings"

	"github.com/caarlos0/env/v11"
)

type Config struct {
	// Core
	DatabaseURL string `env:"DATABASE_URL"`
	Port        int    `env:"PORT" envDefault:"8000"`
	FrontendURL string `env:"FRONTEND_URL" envDefault:"http://localhost:3000"`
	AuthSecret  string `env:"AUTH_SECRET,required,notEmpty"`

	// Regular mode: Mistral (OpenAI-compatible)
	MistralAPIKey  string `env:"MISTRAL_API_KEY,required,notEmpty"`
	MistralBaseURL string `env:"MISTRAL_BASE_URL" envDefault:"https://api.mistral.ai/v1"`
	MistralModel   string `env:"MISTRAL_MODEL" envDefault:"mistral-small-latest"`

	// Uncensored mode: OpenRouter
	OpenRouterKey     string `env:"OPENROUTER_API_KEY,required,notEmpty"`
	OpenRouterBaseURL string `env:"OPENROUTER_BASE_URL" envDefault:"https://openrouter.ai/api/v1"`
	UncensoredModel   string `env:"UNCENSORED_MODEL" envDefault:"cognitivecomputations/dolphin-mistral-24b-venice-edition:free"`

	// OCR, document QA and vision: Gemini. Missing key is reported per request.
	GoogleAPIKey      string `env:"GOOGLE_API_KEY"`
	GeminiBaseURL     string `env:"GEMINI_BASE_URL" envDefault:"https://generativelanguage.googleapis.com"`
	GeminiTextModel   string `env:"GEMINI_TEXT_MODEL" envDefault:"gemini-2.5-flash"`
	GeminiFileModel   string `env:"GEMINI_FILE_MODEL" envDefault:"gemini-2.5-flash"`
	GeminiVisionModel string `env:"GEMINI_VISION_MODEL" envDefault:"gemini-2.5-flash"`

	// Object store
	CloudinaryURL string `env:"CLOUDINARY_URL"`

	// Logging and telemetry
	LogLevel  string `env:"LOG_LEVEL" envDefault:"info"`
	LogFile   string `env:"LOG_FILE"`
	TraceFile string `env:"TRACE_FILE"`
}

func Load() (*Config, error) {
	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	cfg.FrontendURL = strings.TrimRight(cfg.FrontendURL, "/")
	return cfg, nil
}

// UseMemoryStore reports whether sessions are kept in process memory instead of Postgres.
func (c *Config) UseMemoryStore() bool {
	return c.DatabaseURL == ""
}
