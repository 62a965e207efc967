// Package config reads process configuration from the environment.
package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"
	_ "time/tzdata"

	"postcraft/internal/domain"
)

const (
	BackendDynamoDB = "dynamodb"
	BackendPostgres = "postgres"
)

type Config struct {
	ParamPrefix       string
	StoreBackend      string
	StateTable        string
	PostgresDSN       string
	GeminiModel       string
	GeminiBaseURL     string
	GenerationTimeout time.Duration
	Location          *time.Location
	Platforms         []domain.Platform
	WebhookSecret     string
	MetricsAddr       string
	WelcomeSticker    string
	LoadingSticker    string
	LogLevel          slog.Level
}

// Parse reads and validates the environment. All problems are reported
// together.
func Parse() (Config, error) {
	var errs []error

	cfg := Config{
		ParamPrefix:    strings.TrimRight(getString("PARAM_PREFIX", ""), "/"),
		StoreBackend:   strings.ToLower(getString("STORE_BACKEND", BackendDynamoDB)),
		StateTable:     getString("STATE_TABLE", ""),
		PostgresDSN:    getString("POSTGRES_DSN", ""),
		GeminiModel:    getString("GEMINI_MODEL", "gemini-1.5-flash"),
		GeminiBaseURL:  getString("GEMINI_BASE_URL", ""),
		WebhookSecret:  getString("WEBHOOK_SECRET", ""),
		MetricsAddr:    getString("METRICS_ADDR", ":9090"),
		WelcomeSticker: getString("WELCOME_STICKER", ""),
		LoadingSticker: getString("LOADING_STICKER", ""),
	}

	if cfg.ParamPrefix == "" {
		errs = append(errs, errors.New("PARAM_PREFIX is required"))
	}
	switch cfg.StoreBackend {
	case BackendDynamoDB:
		if cfg.StateTable == "" {
			errs = append(errs, errors.New("STATE_TABLE is required for the dynamodb backend"))
		}
	case BackendPostgres:
		if cfg.PostgresDSN == "" {
			errs = append(errs, errors.New("POSTGRES_DSN is required for the postgres backend"))
		}
	default:
		errs = append(errs, fmt.Errorf("STORE_BACKEND %q is not one of %s, %s", cfg.StoreBackend, BackendDynamoDB, BackendPostgres))
	}

	timeout, err := getDuration("GENERATION_TIMEOUT", 30*time.Second)
	if err != nil {
		errs = append(errs, err)
	}
	cfg.GenerationTimeout = timeout

	loc, err := getLocation("TIMEZONE")
	if err != nil {
		errs = append(errs, err)
	}
	cfg.Location = loc

	platforms, err := getPlatforms("PLATFORMS")
	if err != nil {
		errs = append(errs, err)
	}
	cfg.Platforms = platforms

	level, err := getLevel("LOG_LEVEL")
	if err != nil {
		errs = append(errs, err)
	}
	cfg.LogLevel = level

	if len(errs) > 0 {
		return Config{}, fmt.Errorf("config: %w", errors.Join(errs...))
	}
	return cfg, nil
}

func getString(key, def string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return def
}

func getDuration(key string, def time.Duration) (time.Duration, error) {
	v := getString(key, "")
	if v == "" {
		return def, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", key, err)
	}
	if d <= 0 {
		return 0, fmt.Errorf("%s must be positive, got %s", key, d)
	}
	return d, nil
}

func getLocation(key string) (*time.Location, error) {
	v := getString(key, "")
	if v == "" {
		return time.Local, nil
	}
	loc, err := time.LoadLocation(v)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", key, err)
	}
	return loc, nil
}

// getPlatforms parses a comma separated platform list. Unset means the
// default order.
func getPlatforms(key string) ([]domain.Platform, error) {
	v := getString(key, "")
	if v == "" {
		return domain.Platforms(), nil
	}
	var out []domain.Platform
	for _, name := range strings.Split(v, ",") {
		name = strings.TrimSpace(name)
		if name == "" {
			continue
		}
		p, err := domain.ParsePlatform(name)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", key, err)
		}
		out = append(out, p)
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("%s lists no platforms", key)
	}
	return out, nil
}

func getLevel(key string) (slog.Level, error) {
	var level slog.Level
	v := getString(key, "")
	if v == "" {
		return slog.LevelInfo, nil
	}
	if err := level.UnmarshalText([]byte(v)); err != nil {
		return slog.LevelInfo, fmt.Errorf("%s: %w", key, err)
	}
	return level, nil
}
