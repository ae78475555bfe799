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
	Server     ServerConfig
	Database   DatabaseConfig
	Redis      RedisConfig
	Auth       AuthConfig
	OAuth      OAuthConfig
	Cloudinary CloudinaryConfig
	Upload     UploadConfig
	Log        LogConfig
	Admin      AdminConfig
}

type ServerConfig struct {
	Env                string
	Port               string
	ReadTimeout        time.Duration
	WriteTimeout       time.Duration
	CORSOrigins        []string
	RateLimitPerMinute int
	SentryDSN          string
}

type DatabaseConfig struct {
	URL             string
	MaxConns        int
	ConnectAttempts int
}

type RedisConfig struct {
	Host     string
	Port     string
	Password string
	TLS      bool
}

type AuthConfig struct {
	JWTSecret string
	JWTExpiry time.Duration
}

type OAuthConfig struct {
	GoogleClientID     string
	GoogleClientSecret string
	GitHubClientID     string
	GitHubClientSecret string
	CallbackHost       string
}

type CloudinaryConfig struct {
	CloudName string
	APIKey    string
	APISecret string
	Timeout   time.Duration
}

type UploadConfig struct {
	// MaxBytes is the per-file ceiling for poster and video parts.
	MaxBytes int64
}

type LogConfig struct {
	Level  string
	Format string
}

// AdminConfig holds the credentials used by the seed command.
type AdminConfig struct {
	Username string
	Email    string
	Password string
}

const defaultUploadMaxBytes int64 = 3 << 30

// Load reads environment variables and returns a Config struct
func Load() (*Config, error) {
	// Load .env file if it exists (ignore error if not found)
	_ = godotenv.Load()

	cfg := &Config{
		Server: ServerConfig{
			Env:                getEnv("APP_ENV", "local"),
			Port:               getEnv("PORT", "5000"),
			ReadTimeout:        getDuration("READ_TIMEOUT", 30*time.Second),
			WriteTimeout:       getDuration("WRITE_TIMEOUT", 30*time.Minute),
			CORSOrigins:        getList("CORS_ORIGINS", []string{"http://localhost:3000"}),
			RateLimitPerMinute: getInt("RATE_LIMIT_PER_MINUTE", 100),
			SentryDSN:          getEnv("SENTRY_DSN", ""),
		},
		Database: DatabaseConfig{
			URL:             getEnv("DATABASE_URL", ""),
			MaxConns:        getInt("DB_MAX_CONNS", 20),
			ConnectAttempts: getInt("DB_CONNECT_ATTEMPTS", 5),
		},
		Redis: RedisConfig{
			Host:     getEnv("REDIS_HOST", "localhost"),
			Port:     getEnv("REDIS_PORT", "6379"),
			Password: getEnv("REDIS_PASSWORD", ""),
			TLS:      getEnv("REDIS_TLS", "false") == "true",
		},
		Auth: AuthConfig{
			JWTSecret: getEnv("JWT_SECRET", ""),
			JWTExpiry: getDuration("JWT_EXPIRY", 7*24*time.Hour),
		},
		OAuth: OAuthConfig{
			GoogleClientID:     getEnv("GOOGLE_CLIENT_ID", ""),
			GoogleClientSecret: getEnv("GOOGLE_CLIENT_SECRET", ""),
			GitHubClientID:     getEnv("GITHUB_CLIENT_ID", ""),
			GitHubClientSecret: getEnv("GITHUB_CLIENT_SECRET", ""),
			CallbackHost:       getEnv("PUBLIC_HOST", "http://localhost:5000"),
		},
		Cloudinary: CloudinaryConfig{
			CloudName: getEnv("CLOUDINARY_CLOUD_NAME", ""),
			APIKey:    getEnv("CLOUDINARY_API_KEY", ""),
			APISecret: getEnv("CLOUDINARY_API_SECRET", ""),
			Timeout:   getDuration("CLOUDINARY_TIMEOUT", 30*time.Minute),
		},
		Upload: UploadConfig{
			MaxBytes: getInt64("UPLOAD_MAX_BYTES", defaultUploadMaxBytes),
		},
		Log: LogConfig{
			Level:  getEnv("LOG_LEVEL", "info"),
			Format: getEnv("LOG_FORMAT", ""),
		},
		Admin: AdminConfig{
			Username: getEnv("ADMIN_USERNAME", "admin"),
			Email:    getEnv("ADMIN_EMAIL", "admin@example.com"),
			Password: getEnv("ADMIN_PASSWORD", ""),
		},
	}

	// Validate required fields
	if cfg.Database.URL == "" {
		return nil, fmt.Errorf("DATABASE_URL is required")
	}
	if cfg.Auth.JWTSecret == "" {
		return nil, fmt.Errorf("JWT_SECRET is required")
	}
	if len(cfg.Auth.JWTSecret) < 32 {
		return nil, fmt.Errorf("JWT_SECRET must be at least 32 characters")
	}
	if cfg.Cloudinary.CloudName == "" || cfg.Cloudinary.APIKey == "" || cfg.Cloudinary.APISecret == "" {
		return nil, fmt.Errorf("CLOUDINARY_CLOUD_NAME, CLOUDINARY_API_KEY and CLOUDINARY_API_SECRET are required")
	}
	if cfg.Upload.MaxBytes <= 0 {
		return nil, fmt.Errorf("UPLOAD_MAX_BYTES must be positive")
	}

	return cfg, nil
}

func getEnv(key, defaultValue string) string {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	return value
}

func getInt(key string, defaultValue int) int {
	v, err := strconv.Atoi(os.Getenv(key))
	if err != nil {
		return defaultValue
	}
	return v
}

func getInt64(key string, defaultValue int64) int64 {
	v, err := strconv.ParseInt(os.Getenv(key), 10, 64)
	if err != nil {
		return defaultValue
	}
	return v
}

func getDuration(key string, defaultValue time.Duration) time.Duration {
	d, err := time.ParseDuration(os.Getenv(key))
	if err != nil {
		return defaultValue
	}
	return d
}

func getList(key string, defaultValue []string) []string {
	raw := os.Getenv(key)
	if raw == "" {
		return defaultValue
	}
	var out []string
	for _, part := range strings.Split(raw, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

// IsProduction returns true if running in production mode
func (c *Config) IsProduction() bool {
	return c.Server.Env == "production"
}

// IsDevelopment returns true if running in development/local mode
func (c *Config) IsDevelopment() bool {
	return c.Server.Env == "local" || c.Server.Env == "development"
}

// RedisAddr returns the Redis address in host:port format
func (c *Config) RedisAddr() string {
	return fmt.Sprintf("%s:%s", c.Redis.Host, c.Redis.Port)
}

// LogFormat returns the configured log format, defaulting to json in production.
func (c *Config) LogFormat() string {
	if c.Log.Format != "" {
		return c.Log.Format
	}
	if c.IsProduction() {
		return "json"
	}
	return "text"
}
