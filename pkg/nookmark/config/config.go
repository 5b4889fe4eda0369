package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds the application configuration
type Config struct {
	Server     ServerConfig     `mapstructure:"server"`
	Database   DatabaseConfig   `mapstructure:"database"`
	Auth       AuthConfig       `mapstructure:"auth"`
	OAuth      OAuthConfig      `mapstructure:"oauth"`
	Pagination PaginationConfig `mapstructure:"pagination"`
	Tags       TagsConfig       `mapstructure:"tags"`
	Preview    PreviewConfig    `mapstructure:"preview"`
	Log        LogConfig        `mapstructure:"log"`
}

type ServerConfig struct {
	Port          string        `mapstructure:"port"`
	BaseURL       string        `mapstructure:"base_url"`
	ReadTimeout   time.Duration `mapstructure:"read_timeout"`
	WriteTimeout  time.Duration `mapstructure:"write_timeout"`
	ShutdownGrace time.Duration `mapstructure:"shutdown_grace"`
	Environment   string        `mapstructure:"environment"`
}

type DatabaseConfig struct {
	Path string `mapstructure:"path"`
}

type AuthConfig struct {
	JWTSecret    string        `mapstructure:"jwt_secret"`
	SessionTTL   time.Duration `mapstructure:"session_ttl"`
	CookieName   string        `mapstructure:"cookie_name"`
	CookieSecure bool          `mapstructure:"cookie_secure"`
	LoginRPS     float64       `mapstructure:"login_rps"`
	LoginBurst   int           `mapstructure:"login_burst"`
}

// OAuthConfig lists the OIDC providers users may sign in with, keyed by
// the name used in URLs (e.g. "google").
type OAuthConfig struct {
	Providers map[string]OAuthProvider `mapstructure:"providers"`
}

type OAuthProvider struct {
	DisplayName  string `mapstructure:"display_name"`
	Issuer       string `mapstructure:"issuer"`
	ClientID     string `mapstructure:"client_id"`
	ClientSecret string `mapstructure:"client_secret"`
	Scopes       string `mapstructure:"scopes"`
}

// Enabled reports whether the provider has credentials configured
func (p OAuthProvider) Enabled() bool {
	return p.Issuer != "" && p.ClientID != "" && p.ClientSecret != ""
}

type PaginationConfig struct {
	DefaultPageSize int `mapstructure:"default_page_size"`
	MaxPageSize     int `mapstructure:"max_page_size"`
	MaxVisiblePages int `mapstructure:"max_visible_pages"`
}

type TagsConfig struct {
	SummaryLimit int `mapstructure:"summary_limit"`
}

type PreviewConfig struct {
	Timeout time.Duration `mapstructure:"timeout"`
	RPS     float64       `mapstructure:"rps"`
	Burst   int           `mapstructure:"burst"`
}

type LogConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

const devJWTSecret = "nookmark-dev-secret-change-in-production"

// SetDefaults registers default values on v
func SetDefaults(v *viper.Viper) {
	v.SetDefault("server.port", "8080")
	v.SetDefault("server.base_url", "http://localhost:8080")
	v.SetDefault("server.read_timeout", 15*time.Second)
	v.SetDefault("server.write_timeout", 15*time.Second)
	v.SetDefault("server.shutdown_grace", 10*time.Second)
	v.SetDefault("server.environment", "development")

	v.SetDefault("database.path", "nookmark.db")

	v.SetDefault("auth.jwt_secret", devJWTSecret)
	v.SetDefault("auth.session_ttl", 30*24*time.Hour)
	v.SetDefault("auth.cookie_name", "nookmark_session")
	v.SetDefault("auth.cookie_secure", false)
	v.SetDefault("auth.login_rps", 1.0)
	v.SetDefault("auth.login_burst", 5)

	v.SetDefault("oauth.providers.google.display_name", "Google")
	v.SetDefault("oauth.providers.google.issuer", "https://accounts.google.com")
	v.SetDefault("oauth.providers.google.scopes", "openid profile email")

	v.SetDefault("pagination.default_page_size", 50)
	v.SetDefault("pagination.max_page_size", 100)
	v.SetDefault("pagination.max_visible_pages", 7)

	v.SetDefault("tags.summary_limit", 20)

	v.SetDefault("preview.timeout", 10*time.Second)
	v.SetDefault("preview.rps", 2.0)
	v.SetDefault("preview.burst", 10)

	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "")
}

// Load reads configuration into a Config. Sources in increasing priority:
// defaults, config file, environment (NOOKMARK_*), and flags already bound
// to v by the caller.
func Load(v *viper.Viper, configFile string) (*Config, error) {
	SetDefaults(v)

	v.SetEnvPrefix("NOOKMARK")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Legacy variable names
	_ = v.BindEnv("server.port", "NOOKMARK_SERVER_PORT", "PORT")
	_ = v.BindEnv("auth.jwt_secret", "NOOKMARK_AUTH_JWT_SECRET", "JWT_SECRET")
	_ = v.BindEnv("database.path", "NOOKMARK_DATABASE_PATH", "NOOKMARK_DB_PATH")
	_ = v.BindEnv("oauth.providers.google.client_id", "NOOKMARK_OAUTH_PROVIDERS_GOOGLE_CLIENT_ID", "GOOGLE_CLIENT_ID")
	_ = v.BindEnv("oauth.providers.google.client_secret", "NOOKMARK_OAUTH_PROVIDERS_GOOGLE_CLIENT_SECRET", "GOOGLE_CLIENT_SECRET")

	if configFile != "" {
		v.SetConfigFile(configFile)
	} else {
		v.SetConfigName("nookmark")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		if home, err := os.UserHomeDir(); err == nil {
			v.AddConfigPath(filepath.Join(home, ".nookmark"))
		}
		v.AddConfigPath("/etc/nookmark")
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		// An explicitly requested file must exist
		if configFile != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("reading config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("decoding config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks for values the server cannot run with
func (c *Config) Validate() error {
	if c.Pagination.DefaultPageSize <= 0 {
		return errors.New("pagination.default_page_size must be positive")
	}
	if c.Pagination.MaxPageSize < c.Pagination.DefaultPageSize {
		return errors.New("pagination.max_page_size must be >= pagination.default_page_size")
	}
	if c.Auth.SessionTTL <= 0 {
		return errors.New("auth.session_ttl must be positive")
	}
	if c.IsProduction() && c.Auth.JWTSecret == devJWTSecret {
		return errors.New("auth.jwt_secret must be set in production")
	}
	return nil
}

// IsProduction reports whether the server runs in production mode
func (c *Config) IsProduction() bool {
	return c.Server.Environment == "production"
}
