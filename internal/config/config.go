package config

import (
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

const (
	ProviderStatic  = "static"
	ProviderOpenAI  = "openai"
	ProviderWebhook = "webhook"
)

// Config holds process configuration read from the environment.
type Config struct {
	Port        string
	DatabaseURL string
	JWTSecret   string
	CORSOrigins []string
	LogLevel    slog.Level

	AIProvider    string
	OpenAIKey     string
	OpenAIBaseURL string
	OpenAIModel   string
	WebhookURL    string
	AITimeout     time.Duration

	RolloverInterval  time.Duration
	SweepInterval     time.Duration
	ReconcileInterval time.Duration
}

// Load reads configuration from the environment, seeded from a .env file
// when one exists. Variables already set win over the file.
func Load() (Config, error) {
	_ = godotenv.Load()

	cfg := Config{
		Port:          getenv("PORT", "8080"),
		DatabaseURL:   strings.TrimSpace(getenv("DATABASE_URL", "")),
		JWTSecret:     strings.TrimSpace(getenv("JWT_SECRET", "")),
		CORSOrigins:   splitList(getenv("CORS_ORIGINS", "http://localhost:3000")),
		AIProvider:    strings.ToLower(getenv("AI_PROVIDER", ProviderStatic)),
		OpenAIKey:     strings.TrimSpace(getenv("OPENAI_API_KEY", "")),
		OpenAIBaseURL: strings.TrimSpace(getenv("OPENAI_BASE_URL", "")),
		OpenAIModel:   getenv("OPENAI_MODEL", "gpt-4o-mini"),
		WebhookURL:    strings.TrimSpace(getenv("AI_WEBHOOK_URL", "")),
	}

	if err := cfg.LogLevel.UnmarshalText([]byte(getenv("LOG_LEVEL", "info"))); err != nil {
		return Config{}, fmt.Errorf("LOG_LEVEL: %w", err)
	}

	var err error
	durations := []struct {
		key  string
		def  time.Duration
		dest *time.Duration
	}{
		{"AI_TIMEOUT", 30 * time.Second, &cfg.AITimeout},
		{"ROLLOVER_INTERVAL", time.Hour, &cfg.RolloverInterval},
		{"SWEEP_INTERVAL", 5 * time.Minute, &cfg.SweepInterval},
		{"RECONCILE_INTERVAL", time.Hour, &cfg.ReconcileInterval},
	}
	for _, d := range durations {
		if *d.dest, err = getenvDuration(d.key, d.def); err != nil {
			return Config{}, err
		}
	}

	switch cfg.AIProvider {
	case ProviderStatic:
	case ProviderOpenAI:
		if cfg.OpenAIKey == "" && cfg.OpenAIBaseURL == "" {
			return Config{}, fmt.Errorf("AI_PROVIDER=openai needs OPENAI_API_KEY or OPENAI_BASE_URL")
		}
	case ProviderWebhook:
		if cfg.WebhookURL == "" {
			return Config{}, fmt.Errorf("AI_PROVIDER=webhook needs AI_WEBHOOK_URL")
		}
	default:
		return Config{}, fmt.Errorf("AI_PROVIDER: unknown provider %q", cfg.AIProvider)
	}
	return cfg, nil
}

// StaleAfter is how long an AI request may stay pending before the sweeper
// fails it: twice the provider timeout plus a minute of slack.
func (c Config) StaleAfter() time.Duration {
	return 2*c.AITimeout + time.Minute
}

// InMemory reports whether the server runs without Postgres.
func (c Config) InMemory() bool {
	return c.DatabaseURL == ""
}

func getenv(key, fallback string) string {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		return v
	}
	return fallback
}

func getenvDuration(key string, fallback time.Duration) (time.Duration, error) {
	raw := strings.TrimSpace(getenv(key, ""))
	if raw == "" {
		return fallback, nil
	}
	d, err := time.ParseDuration(raw)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", key, err)
	}
	if d <= 0 {
		return 0, fmt.Errorf("%s: must be positive, got %s", key, d)
	}
	return d, nil
}

func splitList(raw string) []string {
	var out []string
	for _, part := range strings.Split(raw, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}
