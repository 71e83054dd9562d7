package config

import (
	"fmt"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"
)

// AuthMode selects how requests are authenticated.
type AuthMode string

const (
	AuthModeAPIKey AuthMode = "apikey"
	AuthModeJWT    AuthMode = "jwt"
	AuthModeNone   AuthMode = "none"
)

// Config holds everything the server needs at startup.
type Config struct {
	HTTPPort           string
	PublicBaseURL      string
	StorageDir         string
	CORSAllowedOrigins []string
	RateLimitRequests  int
	RateLimitWindow    time.Duration
	LogLevel           string
	LogFormat          string

	DBHost     string
	DBPort     int
	DBUser     string
	DBPassword string
	DBName     string
	DBSSLMode  string

	DBMaxOpenConns    int
	DBMaxIdleConns    int
	DBConnMaxLifetime time.Duration
	DBConnectAttempts int

	AuthMode        AuthMode
	APIKeys         []string // owner keys
	ReviewerAPIKeys []string // keys that may also approve and reject
	JWTSecret       string
	JWKSURL         string

	MaxAttachmentsPerCategory int
	MaxUploadSizeBytes        int64

	StorageDriver string // "local" or "s3"
	S3Endpoint    string // host:port, no scheme
	S3AccessKey   string
	S3SecretKey   string
	S3Bucket      string
	S3Region      string
	S3UseSSL      bool
	S3PathStyle   bool // required for MinIO
	S3PresignTTL  time.Duration
}

// Load reads the configuration from the environment and fills in defaults.
func Load() (*Config, error) {
	port := envOrDefault("PORT", "8080")

	storage := envOrDefault("STORAGE_DIR", "./data")
	if err := ensureDir(storage); err != nil {
		return nil, fmt.Errorf("ensure storage dir: %w", err)
	}

	corsOrigins := parseList(os.Getenv("CORS_ALLOWED_ORIGINS"))
	if len(corsOrigins) == 0 {
		corsOrigins = []string{"http://localhost:5173"}
	}

	rateLimitRequests, err := parseIntEnv("RATE_LIMIT_REQUESTS", 60)
	if err != nil {
		return nil, err
	}
	rateLimitWindow, err := parseDurationEnv("RATE_LIMIT_WINDOW", time.Minute)
	if err != nil {
		return nil, err
	}
	dbPort, err := parseIntEnv("DB_PORT", 5432)
	if err != nil {
		return nil, err
	}
	dbMaxOpen, err := parseIntEnv("DB_MAX_OPEN_CONNS", 15)
	if err != nil {
		return nil, err
	}
	dbMaxIdle, err := parseIntEnv("DB_MAX_IDLE_CONNS", 5)
	if err != nil {
		return nil, err
	}
	dbLifetime, err := parseDurationEnv("DB_CONN_MAX_LIFETIME", 30*time.Minute)
	if err != nil {
		return nil, err
	}
	dbAttempts, err := parseIntEnv("DB_CONNECT_ATTEMPTS", 5)
	if err != nil {
		return nil, err
	}
	maxAttachments, err := parseIntEnv("MAX_ATTACHMENTS_PER_CATEGORY", 10)
	if err != nil {
		return nil, err
	}
	maxUpload, err := parseIntEnv("MAX_UPLOAD_SIZE_BYTES", 20<<20)
	if err != nil {
		return nil, err
	}
	presignTTL, err := parseDurationEnv("S3_PRESIGN_TTL", 15*time.Minute)
	if err != nil {
		return nil, err
	}

	authMode, err := parseAuthMode(envOrDefault("AUTH_MODE", string(AuthModeAPIKey)))
	if err != nil {
		return nil, err
	}
	apiKeys := parseList(os.Getenv("API_KEYS"))
	reviewerKeys := parseList(os.Getenv("REVIEWER_API_KEYS"))
	if authMode == AuthModeAPIKey && len(apiKeys) == 0 && len(reviewerKeys) == 0 {
		// development defaults
		apiKeys = []string{"dev-api-key-123456"}
		reviewerKeys = []string{"dev-reviewer-key-123456"}
	}
	jwtSecret := os.Getenv("JWT_SECRET")
	jwksURL := os.Getenv("JWKS_URL")
	if authMode == AuthModeJWT && jwtSecret == "" && jwksURL == "" {
		return nil, fmt.Errorf("AUTH_MODE=jwt requires JWT_SECRET or JWKS_URL")
	}

	return &Config{
		HTTPPort:                  port,
		PublicBaseURL:             strings.TrimRight(envOrDefault("PUBLIC_BASE_URL", "http://localhost:"+port), "/"),
		StorageDir:                storage,
		CORSAllowedOrigins:        corsOrigins,
		RateLimitRequests:         rateLimitRequests,
		RateLimitWindow:           rateLimitWindow,
		LogLevel:                  envOrDefault("LOG_LEVEL", "info"),
		LogFormat:                 envOrDefault("LOG_FORMAT", "json"),
		DBHost:                    envOrDefault("DB_HOST", "127.0.0.1"),
		DBPort:                    dbPort,
		DBUser:                    envOrDefault("DB_USER", "wastedraft"),
		DBPassword:                envOrDefault("DB_PASSWORD", "wastedraft"),
		DBName:                    envOrDefault("DB_NAME", "wastedraft"),
		DBSSLMode:                 envOrDefault("DB_SSL_MODE", "disable"),
		DBMaxOpenConns:            dbMaxOpen,
		DBMaxIdleConns:            dbMaxIdle,
		DBConnMaxLifetime:         dbLifetime,
		DBConnectAttempts:         dbAttempts,
		AuthMode:                  authMode,
		APIKeys:                   apiKeys,
		ReviewerAPIKeys:           reviewerKeys,
		JWTSecret:                 jwtSecret,
		JWKSURL:                   jwksURL,
		MaxAttachmentsPerCategory: maxAttachments,
		MaxUploadSizeBytes:        int64(maxUpload),
		StorageDriver:             envOrDefault("STORAGE_DRIVER", "local"),
		S3Endpoint:                envOrDefault("S3_ENDPOINT", "localhost:9000"),
		S3AccessKey:               envOrDefault("S3_ACCESS_KEY", "minioadmin"),
		S3SecretKey:               envOrDefault("S3_SECRET_KEY", "minioadmin"),
		S3Bucket:                  envOrDefault("S3_BUCKET", "wastedraft"),
		S3Region:                  envOrDefault("S3_REGION", "us-east-1"),
		S3UseSSL:                  parseBoolEnv("S3_USE_SSL", false),
		S3PathStyle:               parseBoolEnv("S3_PATH_STYLE", true),
		S3PresignTTL:              presignTTL,
	}, nil
}

func parseAuthMode(raw string) (AuthMode, error) {
	switch mode := AuthMode(strings.ToLower(strings.TrimSpace(raw))); mode {
	case AuthModeAPIKey, AuthModeJWT, AuthModeNone:
		return mode, nil
	default:
		return "", fmt.Errorf("parse AUTH_MODE: unknown mode %q", raw)
	}
}

func ensureDir(path string) error {
	info, err := os.Stat(path)
	if err == nil {
		if !info.IsDir() {
			return fmt.Errorf("path %s exists but is not a directory", path)
		}
		return nil
	}

	if os.IsNotExist(err) {
		return os.MkdirAll(path, 0o755)
	}

	return err
}

func parseList(raw string) []string {
	if raw == "" {
		return nil
	}

	items := strings.Split(raw, ",")
	out := make([]string, 0, len(items))
	for _, item := range items {
		trimmed := strings.TrimSpace(item)
		if trimmed == "" {
			continue
		}
		out = append(out, trimmed)
	}
	return out
}

func parseIntEnv(key string, defaultValue int) (int, error) {
	raw := os.Getenv(key)
	if raw == "" {
		return defaultValue, nil
	}

	value, err := strconv.Atoi(raw)
	if err != nil {
		return 0, fmt.Errorf("parse %s: %w", key, err)
	}
	if value <= 0 {
		return defaultValue, nil
	}
	return value, nil
}

func parseDurationEnv(key string, defaultValue time.Duration) (time.Duration, error) {
	raw := os.Getenv(key)
	if raw == "" {
		return defaultValue, nil
	}

	value, err := time.ParseDuration(raw)
	if err != nil {
		return 0, fmt.Errorf("parse %s: %w", key, err)
	}
	if value <= 0 {
		return defaultValue, nil
	}
	return value, nil
}

func parseBoolEnv(key string, defaultValue bool) bool {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return defaultValue
	}
	lower := strings.ToLower(raw)
	return lower == "true" || lower == "1" || lower == "yes"
}

// PostgresDSN builds a postgres:// connection string for the data layer.
func (c *Config) PostgresDSN() string {
	u := &url.URL{
		Scheme: "postgres",
		User:   url.UserPassword(c.DBUser, c.DBPassword),
		Host:   fmt.Sprintf("%s:%d", c.DBHost, c.DBPort),
		Path:   c.DBName,
	}

	q := url.Values{}
	if c.DBSSLMode != "" {
		q.Set("sslmode", c.DBSSLMode)
	}
	u.RawQuery = q.Encode()

	return u.String()
}

func envOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}
