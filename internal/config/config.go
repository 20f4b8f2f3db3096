// Package config は環境変数からアプリケーション設定を読み込む。
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// 認証方式
const (
	AuthModeGoogle = "google"
	AuthModeProxy  = "proxy"
)

// セッションストア
const (
	SessionStorePostgres = "postgres"
	SessionStoreRedis    = "redis"
)

// Config はアプリケーション全体の設定を保持する。
// 環境変数から起動時に1回読み込み、イミュータブルとして扱う。
type Config struct {
	// Database
	DatabaseURL string

	// Auth
	AuthMode           string
	GoogleClientID     string
	GoogleClientSecret string
	GoogleRedirectURL  string

	// Session
	SessionMaxAge          int
	SessionStore           string
	SessionCleanupInterval time.Duration

	// Redis
	RedisAddr     string
	RedisPassword string
	RedisDB       int

	// Import
	ImportTimeout  time.Duration
	ImportMaxSize  int64
	ImportMaxItems int

	// Rate Limit（1分あたりのリクエスト数）
	RateLimitGeneral int
	RateLimitImport  int

	// Logging
	LogLevel string

	// Server
	ServerPort string
	BaseURL    string

	// Cookie
	CookieSecure bool
	CookieDomain string

	// CORS
	CORSAllowedOrigins []string
}

// Load はカレントディレクトリの.env（存在する場合）と環境変数からConfigを読み込む。
// 既に設定されている環境変数は.envで上書きしない。
// 必須環境変数が未設定の場合はエラーを返す。
func Load() (*Config, error) {
	if err := LoadDotEnv(".env"); err != nil {
		return nil, err
	}
	return FromEnv()
}

// LoadDotEnv は指定パスの.envファイルを環境変数に読み込む。ファイルがない場合は何もしない。
func LoadDotEnv(path string) error {
	if err := godotenv.Load(path); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("failed to load %s: %w", path, err)
	}
	return nil
}

// FromEnv は環境変数のみからConfigを組み立てる。
func FromEnv() (*Config, error) {
	cfg := &Config{}

	// Required fields
	var missing []string

	cfg.DatabaseURL = os.Getenv("DATABASE_URL")
	if cfg.DatabaseURL == "" {
		missing = append(missing, "DATABASE_URL")
	}

	cfg.BaseURL = strings.TrimRight(os.Getenv("BASE_URL"), "/")
	if cfg.BaseURL == "" {
		missing = append(missing, "BASE_URL")
	}

	cfg.AuthMode = strings.ToLower(getEnvString("AUTH_MODE", AuthModeGoogle))
	switch cfg.AuthMode {
	case AuthModeGoogle:
		cfg.GoogleClientID = os.Getenv("GOOGLE_CLIENT_ID")
		if cfg.GoogleClientID == "" {
			missing = append(missing, "GOOGLE_CLIENT_ID")
		}
		cfg.GoogleClientSecret = os.Getenv("GOOGLE_CLIENT_SECRET")
		if cfg.GoogleClientSecret == "" {
			missing = append(missing, "GOOGLE_CLIENT_SECRET")
		}
		cfg.GoogleRedirectURL = getEnvString("GOOGLE_REDIRECT_URL", cfg.BaseURL+"/auth/google/callback")
	case AuthModeProxy:
	default:
		return nil, fmt.Errorf("AUTH_MODE must be %q or %q, got %q", AuthModeGoogle, AuthModeProxy, cfg.AuthMode)
	}

	if len(missing) > 0 {
		return nil, fmt.Errorf("required environment variables are not set: %v", missing)
	}

	cfg.SessionStore = strings.ToLower(getEnvString("SESSION_STORE", SessionStorePostgres))
	switch cfg.SessionStore {
	case SessionStorePostgres:
	case SessionStoreRedis:
		cfg.RedisAddr = getEnvString("REDIS_ADDR", "localhost:6379")
		cfg.RedisPassword = os.Getenv("REDIS_PASSWORD")
		cfg.RedisDB = getEnvInt("REDIS_DB", 0)
	default:
		return nil, fmt.Errorf("SESSION_STORE must be %q or %q, got %q", SessionStorePostgres, SessionStoreRedis, cfg.SessionStore)
	}

	// Optional fields with defaults
	cfg.SessionMaxAge = getEnvInt("SESSION_MAX_AGE", 86400)
	cfg.SessionCleanupInterval = getEnvDuration("SESSION_CLEANUP_INTERVAL", time.Hour)
	cfg.ImportTimeout = getEnvDuration("IMPORT_TIMEOUT", 10*time.Second)
	cfg.ImportMaxSize = getEnvInt64("IMPORT_MAX_SIZE", 5<<20)
	cfg.ImportMaxItems = getEnvInt("IMPORT_MAX_ITEMS", 100)
	cfg.RateLimitGeneral = getEnvInt("RATE_LIMIT_GENERAL", 120)
	cfg.RateLimitImport = getEnvInt("RATE_LIMIT_IMPORT", 5)
	cfg.LogLevel = getEnvString("LOG_LEVEL", "info")
	cfg.ServerPort = getEnvString("SERVER_PORT", "8080")
	cfg.CookieSecure = strings.HasPrefix(cfg.BaseURL, "https://")
	cfg.CookieDomain = getEnvString("COOKIE_DOMAIN", "")
	cfg.CORSAllowedOrigins = getEnvList("CORS_ALLOWED_ORIGINS", []string{"http://localhost:3000"})

	return cfg, nil
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

func getEnvInt64(key string, defaultVal int64) int64 {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	i, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return defaultVal
	}
	return i
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

// getEnvList はカンマ区切りの値を分割する。空要素は取り除く。
func getEnvList(key string, defaultVal []string) []string {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	var out []string
	for _, s := range strings.Split(v, ",") {
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
	}
	if len(out) == 0 {
		return defaultVal
	}
	return out
}
