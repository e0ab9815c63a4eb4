package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// Config contains all runtime settings for the coaching service.
type Config struct {
	BindAddr         string
	ShutdownTimeout  time.Duration
	MetricsNamespace string

	AllowedOrigins []string
	AllowAnyOrigin bool

	LogLevel  string
	LogPretty bool

	DatabaseURL   string
	MongoDatabase string

	GeneratorMode    string
	OpenAIAPIKey     string
	OpenAIModel      string
	OpenAIBaseURL    string
	GeminiAPIKey     string
	GeminiModel      string
	GeneratorHTTPURL string

	GenerationTimeout     time.Duration
	GenerationMaxTokens   int
	GenerationTemperature float64
	ContextHistoryLimit   int

	ArchiveBucket          string
	ArchiveEndpoint        string
	ArchiveRegion          string
	ArchiveAccessKeyID     string
	ArchiveSecretAccessKey string
}

var defaults = map[string]string{
	"APP_BIND_ADDR":          ":8080",
	"APP_SHUTDOWN_TIMEOUT":   "15s",
	"APP_METRICS_NAMESPACE":  "runcoach",
	"APP_ALLOWED_ORIGINS":    "http://localhost:3000,http://127.0.0.1:3000",
	"APP_ALLOW_ANY_ORIGIN":   "false",
	"LOG_LEVEL":              "info",
	"LOG_PRETTY":             "false",
	"MONGO_DATABASE":         "runcoach",
	"GENERATOR_MODE":         "auto",
	"GENERATION_TIMEOUT":     "90s",
	"GENERATION_MAX_TOKENS":  "4000",
	"GENERATION_TEMPERATURE": "0.3",
	"CONTEXT_HISTORY_LIMIT":  "10",
	"ARCHIVE_S3_REGION":      "us-east-1",
}

// Load reads settings from the environment, an optional .env file and an
// optional runcoach.yaml, and applies safe defaults. Environment variables
// win over the config file.
func Load() (Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return Config{}, fmt.Errorf("load .env: %w", err)
	}

	v := viper.New()
	v.SetConfigName("runcoach")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	if dir := strings.TrimSpace(os.Getenv("RUNCOACH_CONFIG_DIR")); dir != "" {
		v.AddConfigPath(dir)
	}
	v.AutomaticEnv()
	for key, value := range defaults {
		v.SetDefault(key, value)
	}
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return Config{}, fmt.Errorf("read config file: %w", err)
		}
	}

	cfg := Config{
		BindAddr:               stringValue(v, "APP_BIND_ADDR"),
		MetricsNamespace:       stringValue(v, "APP_METRICS_NAMESPACE"),
		AllowedOrigins:         listValue(v, "APP_ALLOWED_ORIGINS"),
		LogLevel:               strings.ToLower(stringValue(v, "LOG_LEVEL")),
		DatabaseURL:            stringValue(v, "DATABASE_URL"),
		MongoDatabase:          stringValue(v, "MONGO_DATABASE"),
		GeneratorMode:          strings.ToLower(stringValue(v, "GENERATOR_MODE")),
		OpenAIAPIKey:           stringValue(v, "OPENAI_API_KEY"),
		OpenAIModel:            stringValue(v, "OPENAI_MODEL"),
		OpenAIBaseURL:          stringValue(v, "OPENAI_BASE_URL"),
		GeminiAPIKey:           stringValue(v, "GEMINI_API_KEY"),
		GeminiModel:            stringValue(v, "GEMINI_MODEL"),
		GeneratorHTTPURL:       stringValue(v, "GENERATOR_HTTP_URL"),
		ArchiveBucket:          stringValue(v, "ARCHIVE_S3_BUCKET"),
		ArchiveEndpoint:        stringValue(v, "ARCHIVE_S3_ENDPOINT"),
		ArchiveRegion:          stringValue(v, "ARCHIVE_S3_REGION"),
		ArchiveAccessKeyID:     stringValue(v, "ARCHIVE_S3_ACCESS_KEY_ID"),
		ArchiveSecretAccessKey: stringValue(v, "ARCHIVE_S3_SECRET_ACCESS_KEY"),
	}

	var err error
	if cfg.ShutdownTimeout, err = durationValue(v, "APP_SHUTDOWN_TIMEOUT"); err != nil {
		return Config{}, err
	}
	if cfg.GenerationTimeout, err = durationValue(v, "GENERATION_TIMEOUT"); err != nil {
		return Config{}, err
	}
	if cfg.GenerationMaxTokens, err = intValue(v, "GENERATION_MAX_TOKENS"); err != nil {
		return Config{}, err
	}
	if cfg.ContextHistoryLimit, err = intValue(v, "CONTEXT_HISTORY_LIMIT"); err != nil {
		return Config{}, err
	}
	if cfg.GenerationTemperature, err = floatValue(v, "GENERATION_TEMPERATURE"); err != nil {
		return Config{}, err
	}
	if cfg.AllowAnyOrigin, err = boolValue(v, "APP_ALLOW_ANY_ORIGIN"); err != nil {
		return Config{}, err
	}
	if cfg.LogPretty, err = boolValue(v, "LOG_PRETTY"); err != nil {
		return Config{}, err
	}

	if err := cfg.validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c Config) validate() error {
	if c.ShutdownTimeout <= 0 {
		return fmt.Errorf("APP_SHUTDOWN_TIMEOUT must be positive")
	}
	if c.GenerationTimeout < time.Second {
		return fmt.Errorf("GENERATION_TIMEOUT must be at least 1s")
	}
	if c.GenerationMaxTokens <= 0 {
		return fmt.Errorf("GENERATION_MAX_TOKENS must be positive")
	}
	if c.GenerationTemperature < 0 || c.GenerationTemperature > 2 {
		return fmt.Errorf("GENERATION_TEMPERATURE must be between 0 and 2")
	}
	if c.ContextHistoryLimit < 1 || c.ContextHistoryLimit > 100 {
		return fmt.Errorf("CONTEXT_HISTORY_LIMIT must be between 1 and 100")
	}
	switch c.GeneratorMode {
	case "auto", "openai", "gemini", "http", "mock":
	default:
		return fmt.Errorf("GENERATOR_MODE %q is not one of auto, openai, gemini, http, mock", c.GeneratorMode)
	}
	switch c.LogLevel {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("LOG_LEVEL %q is not one of debug, info, warn, error", c.LogLevel)
	}
	return nil
}

func stringValue(v *viper.Viper, key string) string {
	return strings.TrimSpace(v.GetString(key))
}

func listValue(v *viper.Viper, key string) []string {
	var out []string
	for _, part := range strings.Split(stringValue(v, key), ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

func durationValue(v *viper.Viper, key string) (time.Duration, error) {
	d, err := time.ParseDuration(stringValue(v, key))
	if err != nil {
		return 0, fmt.Errorf("%s parse error: %w", key, err)
	}
	return d, nil
}

func intValue(v *viper.Viper, key string) (int, error) {
	n, err := strconv.Atoi(stringValue(v, key))
	if err != nil {
		return 0, fmt.Errorf("%s parse error: %w", key, err)
	}
	return n, nil
}

func floatValue(v *viper.Viper, key string) (float64, error) {
	f, err := strconv.ParseFloat(stringValue(v, key), 64)
	if err != nil {
		return 0, fmt.Errorf("%s parse error: %w", key, err)
	}
	return f, nil
}

func boolValue(v *viper.Viper, key string) (bool, error) {
	switch strings.ToLower(stringValue(v, key)) {
	case "1", "true", "t", "yes", "y", "on":
		return true, nil
	case "0", "false", "f", "no", "n", "off":
		return false, nil
	default:
		return false, fmt.Errorf("%s parse error: expected bool", key)
	}
}
