// Package config は環境変数と任意のYAMLファイルからアプリケーション設定を読み込む。
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"net/netip"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// minSessionSecretLen はセッショントークン署名鍵の最小バイト数。
const minSessionSecretLen = 32

// Config はアプリケーション全体の設定を保持する。
// 起動時に1回読み込み、イミュータブルとして扱う。
type Config struct {
	// Database
	DatabaseURL       string
	DBMaxOpenConns    int
	DBMaxIdleConns    int
	DBConnMaxLifetime time.Duration

	// Session
	SessionSecret string
	SessionMaxAge int

	// OTP
	OTPTTL         time.Duration
	OTPMaxAttempts int

	// Rate Limit
	RateLimitGeneral int // req/min/account
	RateLimitOTP     int // 送信回数/10min/IP
	RateLimitAuth    int // 検証・ログイン回数/10min/IP

	// X-Forwarded-Forを信頼するリバースプロキシのアドレス範囲
	TrustedProxies []netip.Prefix

	// Jobs
	SearchRadiusKm float64
	JobListLimit   int
	JobCategories  []string

	// Client
	ProfileResolveTimeout time.Duration
	LocationCachePath     string
	GeocodeEndpoint       string

	// Worker
	CleanupInterval time.Duration

	// Logging
	LogLevel string

	// Server
	ServerPort string
	BaseURL    string

	// Cookie
	CookieSecure bool
	CookieDomain string

	// CORS
	CORSAllowedOrigin string
}

// fileConfig はKAARYASETU_CONFIGで指定するYAMLファイルの内容。
// 指定された項目のみ環境変数の値を上書きする。
type fileConfig struct {
	SearchRadiusKm        *float64       `yaml:"search_radius_km"`
	JobListLimit          *int           `yaml:"job_list_limit"`
	JobCategories         []string       `yaml:"job_categories"`
	ProfileResolveTimeout *time.Duration `yaml:"profile_resolve_timeout"`
	OTPTTL                *time.Duration `yaml:"otp_ttl"`
	OTPMaxAttempts        *int           `yaml:"otp_max_attempts"`
	CleanupInterval       *time.Duration `yaml:"cleanup_interval"`
}

// Load は.env.local・環境変数・YAMLファイルの順にConfigを読み込む。
// .env.localが存在しない場合は無視する。既に設定済みの環境変数は.env.localで上書きしない。
// 必須環境変数が未設定の場合はエラーを返す。
func Load() (*Config, error) {
	if err := godotenv.Load(".env.local"); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("failed to load .env.local: %w", err)
	}
	return LoadFromEnv()
}

// LoadFromEnv は環境変数とKAARYASETU_CONFIGのYAMLファイルからConfigを読み込む。
func LoadFromEnv() (*Config, error) {
	cfg := &Config{}

	// Required fields
	var missing []string

	cfg.DatabaseURL = os.Getenv("DATABASE_URL")
	if cfg.DatabaseURL == "" {
		missing = append(missing, "DATABASE_URL")
	}

	cfg.SessionSecret = os.Getenv("SESSION_SECRET")
	if cfg.SessionSecret == "" {
		missing = append(missing, "SESSION_SECRET")
	}

	cfg.BaseURL = os.Getenv("BASE_URL")
	if cfg.BaseURL == "" {
		missing = append(missing, "BASE_URL")
	}

	if len(missing) > 0 {
		return nil, fmt.Errorf("required environment variables are not set: %v", missing)
	}

	if len(cfg.SessionSecret) < minSessionSecretLen {
		return nil, fmt.Errorf("SESSION_SECRET must be at least %d bytes", minSessionSecretLen)
	}

	// Optional fields with defaults
	cfg.DBMaxOpenConns = getEnvInt("DB_MAX_OPEN_CONNS", 25)
	cfg.DBMaxIdleConns = getEnvInt("DB_MAX_IDLE_CONNS", 5)
	cfg.DBConnMaxLifetime = getEnvDuration("DB_CONN_MAX_LIFETIME", 30*time.Minute)
	cfg.SessionMaxAge = getEnvInt("SESSION_MAX_AGE", 7*86400)
	cfg.OTPTTL = getEnvDuration("OTP_TTL", 5*time.Minute)
	cfg.OTPMaxAttempts = getEnvInt("OTP_MAX_ATTEMPTS", 5)
	cfg.RateLimitGeneral = getEnvInt("RATE_LIMIT_GENERAL", 120)
	cfg.RateLimitOTP = getEnvInt("RATE_LIMIT_OTP", 5)
	cfg.RateLimitAuth = getEnvInt("RATE_LIMIT_AUTH", 30)
	cfg.SearchRadiusKm = getEnvFloat("SEARCH_RADIUS_KM", 15)
	cfg.JobListLimit = getEnvInt("JOB_LIST_LIMIT", 200)
	cfg.ProfileResolveTimeout = getEnvDuration("PROFILE_RESOLVE_TIMEOUT", 5*time.Second)
	cfg.LocationCachePath = getEnvString("LOCATION_CACHE_PATH", "kaaryasetu-device.db")
	cfg.GeocodeEndpoint = getEnvString("GEOCODE_ENDPOINT", "")
	cfg.CleanupInterval = getEnvDuration("CLEANUP_INTERVAL", time.Hour)
	cfg.LogLevel = getEnvString("LOG_LEVEL", "info")
	cfg.ServerPort = getEnvString("SERVER_PORT", "8080")
	cfg.CookieSecure = strings.HasPrefix(cfg.BaseURL, "https://")
	cfg.CookieDomain = getEnvString("COOKIE_DOMAIN", "")
	cfg.CORSAllowedOrigin = getEnvString("CORS_ALLOWED_ORIGIN", "http://localhost:5173")

	proxies, err := parseTrustedProxies(os.Getenv("TRUSTED_PROXIES"))
	if err != nil {
		return nil, err
	}
	cfg.TrustedProxies = proxies

	if path := os.Getenv("KAARYASETU_CONFIG"); path != "" {
		if err := cfg.applyFile(path); err != nil {
			return nil, err
		}
	}

	return cfg, nil
}

// applyFile はYAMLファイルの値で設定を上書きする。
func (c *Config) applyFile(path string) error {
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("failed to open config file: %w", err)
	}
	defer f.Close()

	var fc fileConfig
	dec := yaml.NewDecoder(f)
	dec.KnownFields(true)
	if err := dec.Decode(&fc); err != nil {
		return fmt.Errorf("failed to parse config file %s: %w", path, err)
	}

	if fc.SearchRadiusKm != nil {
		if *fc.SearchRadiusKm <= 0 {
			return fmt.Errorf("search_radius_km must be positive")
		}
		c.SearchRadiusKm = *fc.SearchRadiusKm
	}
	if fc.JobListLimit != nil {
		c.JobListLimit = *fc.JobListLimit
	}
	if len(fc.JobCategories) > 0 {
		c.JobCategories = fc.JobCategories
	}
	if fc.ProfileResolveTimeout != nil {
		c.ProfileResolveTimeout = *fc.ProfileResolveTimeout
	}
	if fc.OTPTTL != nil {
		c.OTPTTL = *fc.OTPTTL
	}
	if fc.OTPMaxAttempts != nil {
		c.OTPMaxAttempts = *fc.OTPMaxAttempts
	}
	if fc.CleanupInterval != nil {
		c.CleanupInterval = *fc.CleanupInterval
	}
	return nil
}

// parseTrustedProxies はカンマ区切りのCIDRまたはIPアドレスを解析する。
// 単一のIPアドレスはそのアドレスのみの範囲として扱う。
func parseTrustedProxies(raw string) ([]netip.Prefix, error) {
	var prefixes []netip.Prefix
	for _, part := range strings.Split(raw, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		if strings.Contains(part, "/") {
			p, err := netip.ParsePrefix(part)
			if err != nil {
				return nil, fmt.Errorf("invalid TRUSTED_PROXIES entry %q: %w", part, err)
			}
			prefixes = append(prefixes, p.Masked())
			continue
		}
		addr, err := netip.ParseAddr(part)
		if err != nil {
			return nil, fmt.Errorf("invalid TRUSTED_PROXIES entry %q: %w", part, err)
		}
		prefixes = append(prefixes, netip.PrefixFrom(addr, addr.BitLen()))
	}
	return prefixes, nil
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
