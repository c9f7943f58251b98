package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Config holds all configuration for the application
type Config struct {
	// HTTP server configuration
	Server ServerConfig

	// Session cookie configuration
	Session SessionConfig

	// Routing guard configuration
	Guard GuardConfig

	// Identity service configuration
	Identity IdentityConfig

	// Login completion handshake configuration
	Handshake HandshakeConfig

	// Console client configuration
	Console ConsoleConfig

	// Audit log configuration
	Audit AuditConfig

	// Logging Configuration
	Logging LoggingConfig
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Address        string
	AllowedOrigins []string
}

// SessionConfig holds the session cookie settings
type SessionConfig struct {
	CookieName string
	Secure     bool
}

// GuardConfig holds routing guard settings
type GuardConfig struct {
	LoginPath        string   `yaml:"login_path"`
	HomePath         string   `yaml:"home_path"`
	PublicPaths      []string `yaml:"public_paths"`
	ExcludedPrefixes []string `yaml:"excluded_prefixes"`
	// CheckJWT makes the guard treat tokens that are not well-formed,
	// unexpired JWTs as absent.
	CheckJWT   bool   `yaml:"check_jwt"`
	PolicyFile string `yaml:"-"`
}

// IdentityConfig holds identity service connection settings
type IdentityConfig struct {
	BaseURL string
	Timeout time.Duration
}

// HandshakeConfig holds the login completion handshake settings
type HandshakeConfig struct {
	Delay  time.Duration
	Splash time.Duration
}

// ConsoleConfig holds settings used by the console client
type ConsoleConfig struct {
	URL string
}

// AuditConfig holds the audit log database settings
type AuditConfig struct {
	DatabaseURL string
}

// LoggingConfig holds logging-related configuration
type LoggingConfig struct {
	Level  string
	Format string // json, console
}

// Default values
const (
	DefaultAddress          = ":8080"
	DefaultCookieName       = "console_session"
	DefaultLoginPath        = "/login"
	DefaultHomePath         = "/"
	DefaultIdentityURL      = "http://localhost:9099"
	DefaultIdentityTimeout  = 30 * time.Second
	DefaultHandshakeDelay   = 500 * time.Millisecond
	DefaultHandshakeSplash  = 300 * time.Millisecond
	DefaultConsoleURL       = "http://localhost:8080"
	DefaultAuditDatabaseURL = "console-audit.sqlite"
)

// DefaultExcludedPrefixes are never evaluated by the guard
var DefaultExcludedPrefixes = []string{"/api/", "/static/", "/assets/", "/health", "/favicon.ico"}

// Load loads configuration from environment variables
func Load() (*Config, error) {
	// Load .env files (fails silently if files don't exist)
	_ = godotenv.Load(".env")
	_ = godotenv.Load(".env.local")

	identityTimeout, err := durationEnv("IDENTITY_TIMEOUT", DefaultIdentityTimeout)
	if err != nil {
		return nil, err
	}

	handshakeDelay, err := durationEnv("HANDSHAKE_DELAY", DefaultHandshakeDelay)
	if err != nil {
		return nil, err
	}

	handshakeSplash, err := durationEnv("HANDSHAKE_SPLASH", DefaultHandshakeSplash)
	if err != nil {
		return nil, err
	}

	secureCookie, err := boolEnv("SESSION_COOKIE_SECURE", false)
	if err != nil {
		return nil, err
	}

	checkJWT, err := boolEnv("GUARD_CHECK_JWT", false)
	if err != nil {
		return nil, err
	}

	cfg := &Config{
		Server: ServerConfig{
			Address:        stringEnv("SERVER_ADDRESS", DefaultAddress),
			AllowedOrigins: listEnv("CORS_ALLOWED_ORIGINS", []string{"http://localhost:5173"}),
		},
		Session: SessionConfig{
			CookieName: stringEnv("SESSION_COOKIE_NAME", DefaultCookieName),
			Secure:     secureCookie,
		},
		Guard: GuardConfig{
			LoginPath:        stringEnv("GUARD_LOGIN_PATH", DefaultLoginPath),
			HomePath:         stringEnv("GUARD_HOME_PATH", DefaultHomePath),
			PublicPaths:      listEnv("GUARD_PUBLIC_PATHS", nil),
			ExcludedPrefixes: listEnv("GUARD_EXCLUDED_PREFIXES", DefaultExcludedPrefixes),
			CheckJWT:         checkJWT,
			PolicyFile:       os.Getenv("GUARD_POLICY_FILE"),
		},
		Identity: IdentityConfig{
			BaseURL: stringEnv("IDENTITY_URL", DefaultIdentityURL),
			Timeout: identityTimeout,
		},
		Handshake: HandshakeConfig{
			Delay:  handshakeDelay,
			Splash: handshakeSplash,
		},
		Console: ConsoleConfig{
			URL: stringEnv("CONSOLE_URL", DefaultConsoleURL),
		},
		Audit: AuditConfig{
			DatabaseURL: stringEnv("AUDIT_DATABASE_URL", DefaultAuditDatabaseURL),
		},
		Logging: LoggingConfig{
			Level:  stringEnv("LOG_LEVEL", "info"),
			Format: stringEnv("LOG_FORMAT", "json"),
		},
	}

	if cfg.Guard.PolicyFile != "" {
		if err := cfg.Guard.LoadPolicyFile(cfg.Guard.PolicyFile); err != nil {
			return nil, err
		}
	}

	// The login page is always public
	if !contains(cfg.Guard.PublicPaths, cfg.Guard.LoginPath) {
		cfg.Guard.PublicPaths = append(cfg.Guard.PublicPaths, cfg.Guard.LoginPath)
	}

	return cfg, nil
}

// LoadPolicyFile overlays the guard settings found in a YAML file. Keys
// missing from the file keep their current values.
func (g *GuardConfig) LoadPolicyFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read guard policy file: %w", err)
	}

	var file GuardConfig
	if err := yaml.Unmarshal(data, &file); err != nil {
		return fmt.Errorf("failed to parse guard policy file: %w", err)
	}

	if file.LoginPath != "" {
		g.LoginPath = file.LoginPath
	}
	if file.HomePath != "" {
		g.HomePath = file.HomePath
	}
	if file.PublicPaths != nil {
		g.PublicPaths = file.PublicPaths
	}
	if file.ExcludedPrefixes != nil {
		g.ExcludedPrefixes = file.ExcludedPrefixes
	}
	if file.CheckJWT {
		g.CheckJWT = true
	}

	return nil
}

func stringEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

// listEnv reads a comma separated list
func listEnv(key string, fallback []string) []string {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}

	var out []string
	for _, part := range strings.Split(v, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

func durationEnv(key string, fallback time.Duration) (time.Duration, error) {
	v := os.Getenv(key)
	if v == "" {
		return fallback, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}
	if d < 0 {
		return 0, fmt.Errorf("invalid %s: must not be negative", key)
	}
	return d, nil
}

func boolEnv(key string, fallback bool) (bool, error) {
	v := os.Getenv(key)
	if v == "" {
		return fallback, nil
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return false, fmt.Errorf("invalid %s: %w", key, err)
	}
	return b, nil
}

func contains(list []string, s string) bool {
	for _, item := range list {
		if item == s {
			return true
		}
	}
	return false
}
