// Package config loads gateway configuration from an optional YAML file
// with environment overrides.
package config

import (
	"fmt"
	"os"
	"regexp"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// DefaultTokenTTL matches the seven-day credential cookie of the portal.
const DefaultTokenTTL = 7 * 24 * time.Hour

// Config is the complete gateway configuration.
type Config struct {
	Server   ServerConfig   `yaml:"server"`
	Database DatabaseConfig `yaml:"database"`
	Auth     AuthConfig     `yaml:"auth"`
	Routes   RoutesConfig   `yaml:"routes"`
	Redis    RedisConfig    `yaml:"redis"`
	Realtime RealtimeConfig `yaml:"realtime"`
}

// ServerConfig holds the listen address.
type ServerConfig struct {
	Port        string   `yaml:"port"`
	CORSOrigins []string `yaml:"cors_origins"`
}

// DatabaseConfig holds the sqlite path.
type DatabaseConfig struct {
	Path string `yaml:"path"`
}

// AuthConfig holds token and credential cookie settings.
type AuthConfig struct {
	JWTSecret    string        `yaml:"jwt_secret"`
	TokenTTL     time.Duration `yaml:"-"`
	TokenTTLRaw  string        `yaml:"token_ttl"`
	CookieName   string        `yaml:"cookie_name"`
	CookieSecure bool          `yaml:"cookie_secure"`
}

// RoutesConfig is the single source of route policy for both the edge
// tier and the in-page gate.
type RoutesConfig struct {
	PublicPaths      []string `yaml:"public_paths"`
	AdminPrefixes    []string `yaml:"admin_prefixes"`
	ExcludedPrefixes []string `yaml:"excluded_prefixes"`
	LoginPath        string   `yaml:"login_path"`
	LogoutPath       string   `yaml:"logout_path"`
	LandingPath      string   `yaml:"landing_path"`
	RedirectParam    string   `yaml:"redirect_param"`
}

// RedisConfig enables the redis-backed revocation list when Addr is set.
type RedisConfig struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
	Prefix   string `yaml:"prefix"`
}

// RealtimeConfig tunes the status channel.
type RealtimeConfig struct {
	AllowedOrigins []string `yaml:"allowed_origins"`
}

// Default returns the configuration used when no file is given.
func Default() *Config {
	return &Config{
		Server:   ServerConfig{Port: "8080"},
		Database: DatabaseConfig{Path: "data/portal.db"},
		Auth: AuthConfig{
			TokenTTL:   DefaultTokenTTL,
			CookieName: "auth_token",
		},
		Routes: RoutesConfig{
			PublicPaths:      []string{"/", "/login", "/register", "/pricing", "/forgot-password"},
			AdminPrefixes:    []string{"/admin-settings"},
			ExcludedPrefixes: []string{"/api", "/_next/static", "/_next/image", "/favicon.ico", "/assets"},
			LoginPath:        "/login",
			LogoutPath:       "/logout",
			LandingPath:      "/dashboard",
			RedirectParam:    "redirect",
		},
		Redis: RedisConfig{Prefix: "portal:revoked:"},
	}
}

// Load reads path (when non-empty) over the defaults, then applies
// environment overrides. ${VAR} references in the file are expanded.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("reading config file: %w", err)
		}
		if err := yaml.Unmarshal([]byte(expandEnvVars(string(data))), cfg); err != nil {
			return nil, fmt.Errorf("parsing config file: %w", err)
		}
	}

	applyEnv(cfg)

	if err := parseDurations(cfg); err != nil {
		return nil, fmt.Errorf("parsing durations: %w", err)
	}
	cfg.Routes.normalize()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}
	return cfg, nil
}

var envRef = regexp.MustCompile(`\$\{([^}]+)\}`)

func expandEnvVars(s string) string {
	return envRef.ReplaceAllStringFunc(s, func(match string) string {
		return os.Getenv(envRef.FindStringSubmatch(match)[1])
	})
}

func applyEnv(cfg *Config) {
	cfg.Server.Port = getEnv("PORT", cfg.Server.Port)
	cfg.Database.Path = getEnv("DB_PATH", cfg.Database.Path)
	cfg.Auth.JWTSecret = getEnv("JWT_SECRET", cfg.Auth.JWTSecret)
	cfg.Auth.TokenTTLRaw = getEnv("TOKEN_TTL", cfg.Auth.TokenTTLRaw)
	cfg.Redis.Addr = getEnv("REDIS_ADDR", cfg.Redis.Addr)
	cfg.Redis.Password = getEnv("REDIS_PASSWORD", cfg.Redis.Password)
}

// getEnv returns the value of an environment variable or a default value.
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func parseDurations(cfg *Config) error {
	if cfg.Auth.TokenTTLRaw == "" {
		if cfg.Auth.TokenTTL == 0 {
			cfg.Auth.TokenTTL = DefaultTokenTTL
		}
		return nil
	}
	d, err := time.ParseDuration(cfg.Auth.TokenTTLRaw)
	if err != nil {
		return fmt.Errorf("parsing token_ttl %q: %w", cfg.Auth.TokenTTLRaw, err)
	}
	cfg.Auth.TokenTTL = d
	return nil
}

// normalize strips trailing slashes so prefix checks behave the same for
// "/pricing" and "/pricing/".
func (r *RoutesConfig) normalize() {
	clean := func(paths []string) []string {
		out := make([]string, 0, len(paths))
		for _, p := range paths {
			p = strings.TrimSpace(p)
			if p == "" {
				continue
			}
			if len(p) > 1 {
				p = strings.TrimRight(p, "/")
			}
			out = append(out, p)
		}
		return out
	}
	r.PublicPaths = clean(r.PublicPaths)
	r.AdminPrefixes = clean(r.AdminPrefixes)
	r.ExcludedPrefixes = clean(r.ExcludedPrefixes)
}

// Validate checks that required fields are present and consistent.
func (c *Config) Validate() error {
	if c.Server.Port == "" {
		return fmt.Errorf("server.port is required")
	}
	if c.Database.Path == "" {
		return fmt.Errorf("database.path is required")
	}
	if c.Auth.CookieName == "" {
		return fmt.Errorf("auth.cookie_name is required")
	}
	if c.Auth.TokenTTL <= 0 {
		return fmt.Errorf("auth.token_ttl must be positive")
	}
	if !strings.HasPrefix(c.Routes.LoginPath, "/") {
		return fmt.Errorf("routes.login_path must be an absolute path")
	}
	if !strings.HasPrefix(c.Routes.LogoutPath, "/") {
		return fmt.Errorf("routes.logout_path must be an absolute path")
	}
	if !strings.HasPrefix(c.Routes.LandingPath, "/") {
		return fmt.Errorf("routes.landing_path must be an absolute path")
	}
	if c.Routes.RedirectParam == "" {
		return fmt.Errorf("routes.redirect_param is required")
	}
	loginPublic := false
	for _, p := range c.Routes.PublicPaths {
		if !strings.HasPrefix(p, "/") {
			return fmt.Errorf("routes.public_paths entry %q must start with /", p)
		}
		if p == c.Routes.LoginPath {
			loginPublic = true
		}
	}
	if !loginPublic {
		return fmt.Errorf("routes.public_paths must include the login path %q", c.Routes.LoginPath)
	}
	return nil
}
