// Package config はアプリケーション設定を環境変数と任意の.envファイルから読み込む。
package config

import (
	"fmt"
	"os"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/viper"
)

const (
	defaultAccessTTL  = 15 * time.Minute
	defaultRefreshTTL = 720 * time.Hour
)

var tablePrefixPattern = regexp.MustCompile(`^[a-z0-9_]*$`)

// Config はアプリケーション全体の設定を保持する。
// 起動時に1回読み込み、イミュータブルとして扱う。
type Config struct {
	// Database
	DatabaseURL string `mapstructure:"DATABASE_URL"`
	TablePrefix string `mapstructure:"TABLE_PREFIX"`

	// JWT
	JWTSecret           string `mapstructure:"JWT_SECRET"`
	JWTRefreshSecret    string `mapstructure:"JWT_REFRESH_SECRET"`
	JWTExpiresIn        string `mapstructure:"JWT_EXPIRES_IN"`
	JWTRefreshExpiresIn string `mapstructure:"JWT_REFRESH_EXPIRES_IN"`

	// Registration
	AllowRegistrations bool   `mapstructure:"ALLOW_REGISTRATIONS"`
	DefaultRoles       string `mapstructure:"DEFAULT_ROLES"`

	// OAuth
	OAuthHTTPTimeout time.Duration `mapstructure:"OAUTH_HTTP_TIMEOUT"`
	ProviderCacheTTL time.Duration `mapstructure:"PROVIDER_CACHE_TTL"`
	SSRFGuard        bool          `mapstructure:"OAUTH_SSRF_GUARD"`

	// Worker
	SweepInterval time.Duration `mapstructure:"SWEEP_INTERVAL"`

	// Server
	ServerPort        string `mapstructure:"SERVER_PORT"`
	CORSAllowedOrigin string `mapstructure:"CORS_ALLOWED_ORIGIN"`
	LogLevel          string `mapstructure:"LOG_LEVEL"`

	// dotenv は.envファイルのみから読み込んだ値。デフォルト値と環境変数は含まない。
	dotenv map[string]string
}

// Load は.env（存在する場合）と環境変数からConfigを読み込む。
// 環境変数は.envより優先される。必須項目が未設定の場合はエラーを返す。
func Load() (*Config, error) {
	v := viper.New()

	v.SetConfigFile(".env")
	v.SetConfigType("env")
	// .envがなくても続行
	dotenv := map[string]string{}
	if err := v.ReadInConfig(); err == nil {
		for _, key := range v.AllKeys() {
			dotenv[strings.ToUpper(key)] = v.GetString(key)
		}
	}

	v.AutomaticEnv()

	v.SetDefault("DATABASE_URL", "")
	v.SetDefault("TABLE_PREFIX", "")
	v.SetDefault("JWT_SECRET", "")
	v.SetDefault("JWT_REFRESH_SECRET", "")
	v.SetDefault("JWT_EXPIRES_IN", "15m")
	v.SetDefault("JWT_REFRESH_EXPIRES_IN", "720h")
	v.SetDefault("ALLOW_REGISTRATIONS", false)
	v.SetDefault("DEFAULT_ROLES", "")
	v.SetDefault("OAUTH_HTTP_TIMEOUT", "10s")
	v.SetDefault("PROVIDER_CACHE_TTL", "30s")
	v.SetDefault("OAUTH_SSRF_GUARD", true)
	v.SetDefault("SWEEP_INTERVAL", "1h")
	v.SetDefault("SERVER_PORT", "8080")
	v.SetDefault("CORS_ALLOWED_ORIGIN", "http://localhost:3000")
	v.SetDefault("LOG_LEVEL", "info")

	cfg := &Config{dotenv: dotenv}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("failed to decode config: %w", err)
	}

	var missing []string
	if cfg.DatabaseURL == "" {
		missing = append(missing, "DATABASE_URL")
	}
	if cfg.JWTSecret == "" {
		missing = append(missing, "JWT_SECRET")
	}
	if cfg.JWTRefreshSecret == "" {
		missing = append(missing, "JWT_REFRESH_SECRET")
	}
	if len(missing) > 0 {
		return nil, fmt.Errorf("required environment variables are not set: %v", missing)
	}

	if cfg.JWTSecret == cfg.JWTRefreshSecret {
		return nil, fmt.Errorf("config: JWT_SECRET and JWT_REFRESH_SECRET must differ")
	}
	if !tablePrefixPattern.MatchString(cfg.TablePrefix) {
		return nil, fmt.Errorf("config: TABLE_PREFIX must match %s", tablePrefixPattern)
	}
	if _, err := ParseDuration(cfg.JWTExpiresIn); err != nil {
		return nil, fmt.Errorf("config: JWT_EXPIRES_IN: %w", err)
	}
	if _, err := ParseDuration(cfg.JWTRefreshExpiresIn); err != nil {
		return nil, fmt.Errorf("config: JWT_REFRESH_EXPIRES_IN: %w", err)
	}
	if cfg.OAuthHTTPTimeout <= 0 {
		return nil, fmt.Errorf("config: OAUTH_HTTP_TIMEOUT must be positive")
	}
	if cfg.SweepInterval <= 0 {
		return nil, fmt.Errorf("config: SWEEP_INTERVAL must be positive")
	}

	return cfg, nil
}

// AccessTTL はJWTExpiresInをtime.Durationとして返す。不正な場合は15mを返す。
func (c *Config) AccessTTL() time.Duration {
	d, err := ParseDuration(c.JWTExpiresIn)
	if err != nil || d <= 0 {
		return defaultAccessTTL
	}
	return d
}

// RefreshTTL はJWTRefreshExpiresInをtime.Durationとして返す。不正な場合は720hを返す。
func (c *Config) RefreshTTL() time.Duration {
	d, err := ParseDuration(c.JWTRefreshExpiresIn)
	if err != nil || d <= 0 {
		return defaultRefreshTTL
	}
	return d
}

// DefaultRolesList はカンマ区切りのDEFAULT_ROLESをスライスで返す。
func (c *Config) DefaultRolesList() []string {
	return SplitList(c.DefaultRoles)
}

// LookupSecret はプロバイダー設定の参照名（例: GOOGLE_CLIENT_SECRET）を環境変数名として値を解決する。
// 環境変数が優先され、なければ.envの値を使う。.envのキーは大文字で照合する。
// デフォルト値は参照先にならない。未設定の場合は空文字列を返す。
func (c *Config) LookupSecret(ref string) string {
	if c == nil || ref == "" {
		return ""
	}
	if v, ok := os.LookupEnv(ref); ok {
		return v
	}
	return c.dotenv[strings.ToUpper(ref)]
}

// SplitList はカンマ区切り文字列を空要素を除いたスライスに変換する。
func SplitList(s string) []string {
	if s == "" {
		return nil
	}
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if v := strings.TrimSpace(p); v != "" {
			out = append(out, v)
		}
	}
	return out
}

// ParseDuration はtime.ParseDurationの書式に加え、日数（"7d"）と秒数のみの数値（"900"）を受け付ける。
func ParseDuration(s string) (time.Duration, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, fmt.Errorf("empty duration")
	}

	if n, err := strconv.Atoi(s); err == nil {
		return time.Duration(n) * time.Second, nil
	}

	if days, ok := strings.CutSuffix(s, "d"); ok {
		n, err := strconv.Atoi(days)
		if err != nil {
			return 0, fmt.Errorf("invalid duration %q", s)
		}
		return time.Duration(n) * 24 * time.Hour, nil
	}

	d, err := time.ParseDuration(s)
	if err != nil {
		return 0, fmt.Errorf("invalid duration %q: %w", s, err)
	}
	return d, nil
}
