package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds all application configuration
type Config struct {
	Server        ServerConfig
	Database      DatabaseConfig
	Redis         RedisConfig
	Transcription TranscriptionConfig
	Processing    ProcessingConfig
	Review        ReviewConfig
	SVI           SVIConfig
	OTEL          OTELConfig
}

// ServerConfig holds server configuration
type ServerConfig struct {
	Host           string
	Port           int
	Environment    string
	AllowedOrigins []string
}

// DatabaseConfig holds database configuration
type DatabaseConfig struct {
	Host     string
	Port     int
	User     string
	Password string
	Database string
	SSLMode  string
}

// RedisConfig holds Redis configuration
type RedisConfig struct {
	Host     string
	Port     int
	Password string
	DB       int
}

// TranscriptionConfig points at the external transcription/extraction
// service. The service speaks the OpenAI audio and chat completion API.
type TranscriptionConfig struct {
	URL              string
	APIKey           string
	Timeout          time.Duration
	TranscribeModel  string
	ExtractModel     string
	BreakerThreshold int
	BreakerCooldown  time.Duration
}

// ProcessingConfig tunes the session processing machine
type ProcessingConfig struct {
	PollInterval time.Duration
	OfflineAfter int
}

// ReviewConfig holds reviewer workflow settings
type ReviewConfig struct {
	RequiredFields     []string
	KeywordsFile       string
	ExtractionCacheTTL time.Duration
}

// SVIConfig enables social vulnerability lookups. An empty TablePath
// disables them.
type SVIConfig struct {
	TablePath      string
	ZIPLookupURL   string
	CountyAreaURL  string
	Timeout        time.Duration
	LookupCacheTTL time.Duration
}

// Enabled reports whether an SVI table is configured
func (c *SVIConfig) Enabled() bool {
	return strings.TrimSpace(c.TablePath) != ""
}

// OTELConfig holds OpenTelemetry configuration
type OTELConfig struct {
	ServiceName    string
	ServiceVersion string
	Endpoint       string
	Enabled        bool
}

// Load loads configuration from environment variables
func Load() (*Config, error) {
	cfg := &Config{
		Server: ServerConfig{
			Host:           getEnv("SERVER_HOST", "0.0.0.0"),
			Port:           getEnvAsInt("SERVER_PORT", 8080),
			Environment:    getEnv("APP_ENV", "development"),
			AllowedOrigins: getEnvAsList("ALLOWED_ORIGINS", []string{"*"}),
		},
		Database: DatabaseConfig{
			Host:     getEnv("DB_HOST", "localhost"),
			Port:     getEnvAsInt("DB_PORT", 5432),
			User:     getEnv("DB_USER", "postgres"),
			Password: getEnv("DB_PASSWORD", ""),
			Database: getEnv("DB_NAME", "carebridge"),
			SSLMode:  getEnv("DB_SSLMODE", "disable"),
		},
		Redis: RedisConfig{
			Host:     getEnv("REDIS_HOST", "localhost"),
			Port:     getEnvAsInt("REDIS_PORT", 6379),
			Password: getEnv("REDIS_PASSWORD", ""),
			DB:       getEnvAsInt("REDIS_DB", 0),
		},
		Transcription: TranscriptionConfig{
			URL:              getEnv("TRANSCRIPTION_URL", "https://api.openai.com/v1"),
			APIKey:           getEnv("TRANSCRIPTION_API_KEY", ""),
			Timeout:          getEnvAsDuration("TRANSCRIPTION_TIMEOUT", 5*time.Minute),
			TranscribeModel:  getEnv("TRANSCRIPTION_MODEL", "gpt-4o-transcribe"),
			ExtractModel:     getEnv("EXTRACTION_MODEL", "gpt-4o-mini"),
			BreakerThreshold: getEnvAsInt("TRANSCRIPTION_BREAKER_THRESHOLD", 5),
			BreakerCooldown:  getEnvAsDuration("TRANSCRIPTION_BREAKER_COOLDOWN", 30*time.Second),
		},
		Processing: ProcessingConfig{
			PollInterval: getEnvAsDuration("PROCESSING_POLL_INTERVAL", 2*time.Second),
			OfflineAfter: getEnvAsInt("PROCESSING_OFFLINE_AFTER", 3),
		},
		Review: ReviewConfig{
			RequiredFields:     getEnvAsList("REVIEW_REQUIRED_FIELDS", []string{"patientName", "reasonForAdmission", "relevantPMH"}),
			KeywordsFile:       getEnv("REVIEW_KEYWORDS_FILE", ""),
			ExtractionCacheTTL: getEnvAsDuration("REVIEW_EXTRACTION_CACHE_TTL", 24*time.Hour),
		},
		SVI: SVIConfig{
			TablePath:      getEnv("SVI_TABLE_PATH", ""),
			ZIPLookupURL:   getEnv("SVI_ZIP_LOOKUP_URL", "https://api.zippopotam.us/us"),
			CountyAreaURL:  getEnv("SVI_COUNTY_AREA_URL", "https://geo.fcc.gov/api/census/area"),
			Timeout:        getEnvAsDuration("SVI_TIMEOUT", 8*time.Second),
			LookupCacheTTL: getEnvAsDuration("SVI_LOOKUP_CACHE_TTL", 30*24*time.Hour),
		},
		OTEL: OTELConfig{
			ServiceName:    getEnv("OTEL_SERVICE_NAME", "carebridge-handoff"),
			ServiceVersion: getEnv("OTEL_SERVICE_VERSION", "1.0.0"),
			Endpoint:       getEnv("OTEL_ENDPOINT", ""),
			Enabled:        getEnvAsBool("OTEL_ENABLED", false),
		},
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) validate() error {
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid SERVER_PORT %d", c.Server.Port)
	}
	if c.Processing.PollInterval <= 0 {
		return fmt.Errorf("PROCESSING_POLL_INTERVAL must be positive")
	}
	if c.Processing.OfflineAfter < 0 {
		return fmt.Errorf("PROCESSING_OFFLINE_AFTER must not be negative")
	}
	if c.Transcription.BreakerThreshold <= 0 {
		return fmt.Errorf("TRANSCRIPTION_BREAKER_THRESHOLD must be positive")
	}
	if len(c.Review.RequiredFields) == 0 {
		return fmt.Errorf("REVIEW_REQUIRED_FIELDS must name at least one field")
	}
	return nil
}

// IsDevelopment reports whether the server runs in development mode
func (c *ServerConfig) IsDevelopment() bool {
	return c.Environment == "development"
}

// DatabaseDSN returns the PostgreSQL connection string
func (c *DatabaseConfig) DatabaseDSN() string {
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.User, c.Password, c.Database, c.SSLMode,
	)
}

// RedisAddr returns the Redis address
func (c *RedisConfig) RedisAddr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}

func getEnvAsBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if boolVal, err := strconv.ParseBool(value); err == nil {
			return boolVal
		}
	}
	return defaultValue
}

func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}

func getEnvAsList(key string, defaultValue []string) []string {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	var items []string
	for _, part := range strings.Split(value, ",") {
		if trimmed := strings.TrimSpace(part); trimmed != "" {
			items = append(items, trimmed)
		}
	}
	if len(items) == 0 {
		return defaultValue
	}
	return items
}
