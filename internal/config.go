package internal

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	Env      string
	Port     int
	LogLevel string

	// OperatorIdentity is exempt from quotas and media restrictions.
	// Empty disables the operator bypass.
	OperatorIdentity string

	// State persistence: "memory", "file", or "postgres"
	StateBackend string
	StateFile    string // JSON document path for the file backend
	DatabaseUrl  string // required for the postgres backend

	// Storage Configuration
	StorageProvider string // "local", "r2", or "cloudinary"

	// Local Storage (development)
	LocalStoragePath string // Base directory for local file storage
	LocalStorageURL  string // Base URL for accessing local files

	// R2 Storage (production)
	R2AccountID       string
	R2AccessKeyID     string
	R2SecretAccessKey string
	R2BucketName      string
	R2PublicURL       string // Optional custom domain URL
	R2Endpoint        string // Optional, for other S3-compatible providers

	// Cloudinary unsigned uploads
	CloudinaryUploadURL    string
	CloudinaryUploadPreset string

	// Analysis provider Configuration
	AnalysisProvider string // "remote" or "mock"
	AnalysisURL      string
	AnalysisTimeout  time.Duration

	// Uploads larger than this are rejected before any credit check.
	MaxUploadSize int64

	// Sign-in rate limiting per client IP
	SignInRateLimit  int
	SignInRateWindow time.Duration

	// MetricsEnabled mounts the Prometheus /metrics endpoint.
	MetricsEnabled bool

	// Metrics endpoint authentication
	// If both are empty, the /metrics endpoint will be unprotected (not recommended)
	MetricsUsername string
	MetricsPassword string
}

func NewConfig() (*Config, error) {
	// Load .env file if it exists (ignored in production)
	_ = godotenv.Load()

	cfg := &Config{
		Env:      getEnv("ENV", "development"),
		Port:     getEnvInt("PORT", 8080),
		LogLevel: getEnv("LOG_LEVEL", "debug"),

		OperatorIdentity: getEnv("OPERATOR_IDENTITY", ""),

		// State defaults to an in-process store for development
		StateBackend: getEnv("STATE_BACKEND", "memory"),
		StateFile:    getEnv("STATE_FILE", "./data/state.json"),
		DatabaseUrl:  getEnv("DATABASE_URL", ""),

		// Storage defaults to local filesystem for development
		StorageProvider:  getEnv("STORAGE_PROVIDER", "local"),
		LocalStoragePath: getEnv("LOCAL_STORAGE_PATH", "./storage"),
		LocalStorageURL:  getEnv("LOCAL_STORAGE_URL", "http://localhost:8080/files"),

		// R2 configuration (production only)
		R2AccountID:       getEnv("R2_ACCOUNT_ID", ""),
		R2AccessKeyID:     getEnv("R2_ACCESS_KEY_ID", ""),
		R2SecretAccessKey: getEnv("R2_SECRET_ACCESS_KEY", ""),
		R2BucketName:      getEnv("R2_BUCKET_NAME", ""),
		R2PublicURL:       getEnv("R2_PUBLIC_URL", ""),
		R2Endpoint:        getEnv("R2_ENDPOINT", ""),

		CloudinaryUploadURL:    getEnv("CLOUDINARY_UPLOAD_URL", ""),
		CloudinaryUploadPreset: getEnv("CLOUDINARY_UPLOAD_PRESET", ""),

		// Analysis provider defaults
		AnalysisProvider: getEnv("ANALYSIS_PROVIDER", "mock"),
		AnalysisURL:      getEnv("ANALYSIS_URL", ""),
		AnalysisTimeout:  getEnvDuration("ANALYSIS_TIMEOUT", 2*time.Minute),

		MaxUploadSize: getEnvInt64("MAX_UPLOAD_SIZE", 50<<20),

		SignInRateLimit:  getEnvInt("SIGNIN_RATE_LIMIT", 10),
		SignInRateWindow: getEnvDuration("SIGNIN_RATE_WINDOW", time.Minute),

		// Metrics authentication
		MetricsEnabled:  getEnvBool("METRICS_ENABLED", true),
		MetricsUsername: getEnv("METRICS_USERNAME", ""),
		MetricsPassword: getEnv("METRICS_PASSWORD", ""),
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (cfg *Config) validate() error {
	// Validate state backend configuration
	switch cfg.StateBackend {
	case "memory":
	case "file":
		if cfg.StateFile == "" {
			return fmt.Errorf("STATE_FILE is required when STATE_BACKEND is 'file'")
		}
	case "postgres":
		if cfg.DatabaseUrl == "" {
			return fmt.Errorf("DATABASE_URL is required when STATE_BACKEND is 'postgres'")
		}
	default:
		return fmt.Errorf("STATE_BACKEND must be one of 'memory', 'file' or 'postgres', got: %s", cfg.StateBackend)
	}

	// Validate storage configuration
	switch cfg.StorageProvider {
	case "local":
	case "r2":
		if cfg.R2AccountID == "" && cfg.R2Endpoint == "" {
			return fmt.Errorf("R2_ACCOUNT_ID or R2_ENDPOINT is required when STORAGE_PROVIDER is 'r2'")
		}
		if cfg.R2AccessKeyID == "" {
			return fmt.Errorf("R2_ACCESS_KEY_ID is required when STORAGE_PROVIDER is 'r2'")
		}
		if cfg.R2SecretAccessKey == "" {
			return fmt.Errorf("R2_SECRET_ACCESS_KEY is required when STORAGE_PROVIDER is 'r2'")
		}
		if cfg.R2BucketName == "" {
			return fmt.Errorf("R2_BUCKET_NAME is required when STORAGE_PROVIDER is 'r2'")
		}
	case "cloudinary":
		if cfg.CloudinaryUploadURL == "" {
			return fmt.Errorf("CLOUDINARY_UPLOAD_URL is required when STORAGE_PROVIDER is 'cloudinary'")
		}
		if cfg.CloudinaryUploadPreset == "" {
			return fmt.Errorf("CLOUDINARY_UPLOAD_PRESET is required when STORAGE_PROVIDER is 'cloudinary'")
		}
	default:
		return fmt.Errorf("STORAGE_PROVIDER must be one of 'local', 'r2' or 'cloudinary', got: %s", cfg.StorageProvider)
	}

	// Validate analysis provider configuration
	switch cfg.AnalysisProvider {
	case "mock":
	case "remote":
		if cfg.AnalysisURL == "" {
			return fmt.Errorf("ANALYSIS_URL is required when ANALYSIS_PROVIDER is 'remote'")
		}
	default:
		return fmt.Errorf("ANALYSIS_PROVIDER must be either 'remote' or 'mock', got: %s", cfg.AnalysisProvider)
	}

	if cfg.MaxUploadSize <= 0 {
		return fmt.Errorf("MAX_UPLOAD_SIZE must be positive, got: %d", cfg.MaxUploadSize)
	}
	if cfg.SignInRateLimit <= 0 || cfg.SignInRateWindow <= 0 {
		return fmt.Errorf("SIGNIN_RATE_LIMIT and SIGNIN_RATE_WINDOW must be positive")
	}

	return nil
}

func getEnv(key, fallback string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	if value := os.Getenv(key); value != "" {
		if i, err := strconv.Atoi(value); err == nil {
			return i
		}
	}
	return fallback
}

func getEnvInt64(key string, fallback int64) int64 {
	if value := os.Getenv(key); value != "" {
		if i, err := strconv.ParseInt(value, 10, 64); err == nil {
			return i
		}
	}
	return fallback
}

func getEnvBool(key string, fallback bool) bool {
	if value := os.Getenv(key); value != "" {
		if b, err := strconv.ParseBool(value); err == nil {
			return b
		}
	}
	return fallback
}

func getEnvDuration(key string, fallback time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return fallback
}
