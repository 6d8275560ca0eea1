// Package config はアプリケーション設定を環境変数から読み込む。
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// 状態保存先の種別
const (
	StateBackendFile     = "file"
	StateBackendPostgres = "postgres"
	StateBackendRedis    = "redis"
	StateBackendMemory   = "memory"
)

// Config はアプリケーション全体の設定を保持する。
// 環境変数から起動時に1回読み込み、イミュータブルとして扱う。
type Config struct {
	// API
	APIBaseURL   string
	AssetBaseURL string
	HTTPTimeout  time.Duration
	APIRateLimit float64 // req/sec
	APIRateBurst int

	// State
	StateBackend   string
	StateDir       string
	StateNamespace string
	DatabaseURL    string
	RedisURL       string

	// Sync
	SyncInterval time.Duration

	// Geocoding
	GeocodeEndpoint string
	GeocodeAPIKey   string

	// Server
	MockAPIPort string
	MetricsPort string

	// Logging
	LogLevel string
}

// LoadDotEnv はpathの.envファイルを読み込み、未設定の環境変数のみを補う。
// ファイルが存在しない場合は何もしない。
func LoadDotEnv(path string) error {
	if path == "" {
		path = ".env"
	}
	if err := godotenv.Load(path); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("failed to load %s: %w", path, err)
	}
	return nil
}

// Load は環境変数からConfigを読み込む。
// 必須環境変数が未設定、または値が不正な場合はエラーを返す。
func Load() (*Config, error) {
	cfg := &Config{}

	// Required fields
	var missing []string

	cfg.APIBaseURL = strings.TrimRight(os.Getenv("API_BASE_URL"), "/")
	if cfg.APIBaseURL == "" {
		missing = append(missing, "API_BASE_URL")
	}

	if len(missing) > 0 {
		return nil, fmt.Errorf("required environment variables are not set: %v", missing)
	}

	if err := validateHTTPURL(cfg.APIBaseURL); err != nil {
		return nil, fmt.Errorf("invalid API_BASE_URL: %w", err)
	}

	// Optional fields with defaults
	cfg.AssetBaseURL = strings.TrimRight(getEnvString("ASSET_BASE_URL", originOf(cfg.APIBaseURL)), "/")
	cfg.HTTPTimeout = getEnvDuration("HTTP_TIMEOUT", 10*time.Second)
	cfg.APIRateLimit = getEnvFloat("API_RATE_LIMIT", 5)
	cfg.APIRateBurst = getEnvInt("API_RATE_BURST", 10)
	cfg.StateBackend = strings.ToLower(getEnvString("STATE_BACKEND", StateBackendFile))
	cfg.StateDir = getEnvString("STATE_DIR", defaultStateDir())
	cfg.StateNamespace = getEnvString("STATE_NAMESPACE", "default")
	cfg.DatabaseURL = os.Getenv("DATABASE_URL")
	cfg.RedisURL = os.Getenv("REDIS_URL")
	cfg.SyncInterval = getEnvDuration("SYNC_INTERVAL", 2*time.Minute)
	cfg.GeocodeEndpoint = getEnvString("GEOCODE_ENDPOINT", "https://maps.googleapis.com/maps/api/geocode/json")
	cfg.GeocodeAPIKey = os.Getenv("GEOCODE_API_KEY")
	cfg.MockAPIPort = getEnvString("MOCK_API_PORT", "8080")
	cfg.MetricsPort = getEnvString("METRICS_PORT", "9090")
	cfg.LogLevel = getEnvString("LOG_LEVEL", "info")

	switch cfg.StateBackend {
	case StateBackendFile, StateBackendMemory:
	case StateBackendPostgres:
		if cfg.DatabaseURL == "" {
			return nil, fmt.Errorf("DATABASE_URL is required when STATE_BACKEND=%s", cfg.StateBackend)
		}
	case StateBackendRedis:
		if cfg.RedisURL == "" {
			return nil, fmt.Errorf("REDIS_URL is required when STATE_BACKEND=%s", cfg.StateBackend)
		}
	default:
		return nil, fmt.Errorf("unsupported STATE_BACKEND: %s", cfg.StateBackend)
	}

	return cfg, nil
}

// ServerConfig は開発用バックエンド（mock-api）の設定を保持する。
// クライアント側の設定とは独立に読み込むため、API_BASE_URLは不要。
type ServerConfig struct {
	Port              string
	Secret            string
	TokenTTL          time.Duration
	CORSAllowedOrigin string
	RateLimitPerMin   int
	LogLevel          string
}

// LoadServer は環境変数からServerConfigを読み込む。
func LoadServer() (*ServerConfig, error) {
	cfg := &ServerConfig{
		Port:              getEnvString("MOCK_API_PORT", "8080"),
		Secret:            getEnvString("MOCK_API_SECRET", "homechef-dev-secret"),
		TokenTTL:          getEnvDuration("MOCK_API_TOKEN_TTL", 24*time.Hour),
		CORSAllowedOrigin: getEnvString("CORS_ALLOWED_ORIGIN", "*"),
		RateLimitPerMin:   getEnvInt("MOCK_API_RATE_LIMIT", 120),
		LogLevel:          getEnvString("LOG_LEVEL", "info"),
	}

	if _, err := strconv.Atoi(cfg.Port); err != nil {
		return nil, fmt.Errorf("invalid MOCK_API_PORT: %s", cfg.Port)
	}
	if len(cfg.Secret) < 16 {
		return nil, fmt.Errorf("MOCK_API_SECRET must be at least 16 characters")
	}
	return cfg, nil
}

// validateHTTPURL はhttp/httpsの絶対URLであることを検証する。
func validateHTTPURL(raw string) error {
	u, err := url.Parse(raw)
	if err != nil {
		return err
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("scheme must be http or https: %s", raw)
	}
	if u.Host == "" {
		return fmt.Errorf("host is empty: %s", raw)
	}
	return nil
}

// originOf はURLのスキームとホスト部分を返す。
// 画像などの相対パスはAPIのパスではなくオリジンを基準に解決する。
func originOf(raw string) string {
	u, err := url.Parse(raw)
	if err != nil || u.Host == "" {
		return raw
	}
	return u.Scheme + "://" + u.Host
}

func defaultStateDir() string {
	if dir, err := os.UserConfigDir(); err == nil {
		return filepath.Join(dir, "homechef")
	}
	return ".homechef"
}

func getEnvString(key, defaultVal string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultVal
}

func getEnvInt(key string, defaultVal int) int {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	i, err := strconv.Atoi(v)
	if err != nil {
		return defaultVal
	}
	return i
}

func getEnvFloat(key string, defaultVal float64) float64 {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return defaultVal
	}
	return f
}

func getEnvDuration(key string, defaultVal time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return defaultVal
	}
	return d
}
