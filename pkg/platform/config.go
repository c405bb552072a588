// Package platform wires the application together and runs its startup
// sequence: session store sync, database sync, pipeline assembly, listen.
package platform

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/txn2/graphql-webapp/pkg/engine"
	"github.com/txn2/graphql-webapp/pkg/session"
)

// Environment names.
const (
	EnvProduction  = "production"
	EnvDevelopment = "development"
)

// Session store kinds.
const (
	StoreMemory   = "memory"
	StorePostgres = "postgres"
	StoreRedis    = "redis"
)

const (
	defaultPort              = 3002
	defaultSecretsFile       = "secrets.env"
	defaultPublicDir         = "public"
	defaultMaxOpenConns      = 25
	defaultCleanupInterval   = 15 * time.Minute
	defaultReadHeaderTimeout = 10 * time.Second
	defaultShutdownTimeout   = 25 * time.Second
)

// Config holds the complete application configuration.
type Config struct {
	Env       string         `yaml:"env"`
	PublicDir string         `yaml:"public_dir"`
	Server    ServerConfig   `yaml:"server"`
	Session   SessionConfig  `yaml:"session"`
	Database  DatabaseConfig `yaml:"database"`
	Engine    engine.Config  `yaml:"engine"`
	Log       LogConfig      `yaml:"log"`
}

// ServerConfig configures the HTTP transport.
type ServerConfig struct {
	Address           string        `yaml:"address"`
	ReadHeaderTimeout time.Duration `yaml:"read_header_timeout"`
	ShutdownTimeout   time.Duration `yaml:"shutdown_timeout"`
	BodyLimit         int64         `yaml:"body_limit"`
	CORS              CORSConfig    `yaml:"cors"`
}

// CORSConfig configures cross-origin access for a separately served frontend.
// An empty origin list disables CORS handling.
type CORSConfig struct {
	AllowedOrigins []string `yaml:"allowed_origins"`
}

// SessionConfig configures the session cookie and store.
type SessionConfig struct {
	Secret          string        `yaml:"secret"`
	CookieName      string        `yaml:"cookie_name"`
	TTL             time.Duration `yaml:"ttl"`
	Secure          bool          `yaml:"secure"`
	Store           string        `yaml:"store"` // "memory", "postgres", "redis"
	CleanupInterval time.Duration `yaml:"cleanup_interval"`
	Redis           RedisConfig   `yaml:"redis"`
}

// RedisConfig configures the redis session store.
type RedisConfig struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
	Prefix   string `yaml:"prefix"`
}

// DatabaseConfig configures the database connection. An empty DSN runs
// without a database (in-memory users).
type DatabaseConfig struct {
	DSN          string `yaml:"dsn"`
	MaxOpenConns int    `yaml:"max_open_conns"`
}

// LogConfig configures logging.
type LogConfig struct {
	Level string `yaml:"level"` // "debug", "info", "warn", "error"
}

// Production reports whether the application runs in production.
func (c *Config) Production() bool {
	return c.Env == EnvProduction
}

// LoadConfig reads configuration. Outside production the secrets file is
// loaded into the environment first; then the YAML file at path (optional)
// is read with ${VAR} expansion; then environment overrides are applied.
func LoadConfig(path string) (*Config, error) {
	if err := loadSecrets(); err != nil {
		return nil, err
	}

	var cfg Config
	if path != "" {
		// #nosec G304 -- path is from CLI args, controlled by admin
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("reading config file: %w", err)
		}

		// Expand environment variables
		data = []byte(expandEnvVars(string(data)))

		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("parsing config: %w", err)
		}
	}

	if err := applyEnv(&cfg); err != nil {
		return nil, err
	}
	applyDefaults(&cfg)

	return &cfg, nil
}

// loadSecrets loads SECRETS_FILE (default secrets.env) outside production.
// A missing file is not an error; variables already set win.
func loadSecrets() error {
	if os.Getenv("APP_ENV") == EnvProduction {
		return nil
	}
	file := os.Getenv("SECRETS_FILE")
	if file == "" {
		file = defaultSecretsFile
	}
	if err := godotenv.Load(file); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("loading secrets file %s: %w", file, err)
	}
	return nil
}

var envVarPattern = regexp.MustCompile(`\$\{([^}]+)\}`)

// expandEnvVars expands ${VAR} patterns in the string.
func expandEnvVars(s string) string {
	return envVarPattern.ReplaceAllStringFunc(s, func(match string) string {
		varName := match[2 : len(match)-1]
		return os.Getenv(varName)
	})
}

// applyEnv overrides file values with set environment variables.
func applyEnv(cfg *Config) error {
	if v, ok := os.LookupEnv("APP_ENV"); ok {
		cfg.Env = v
	}
	if v, ok := os.LookupEnv("PORT"); ok {
		port, err := strconv.Atoi(v)
		if err != nil || port < 0 || port > 65535 {
			return fmt.Errorf("invalid PORT %q", v)
		}
		cfg.Server.Address = fmt.Sprintf(":%d", port)
	}
	if v, ok := os.LookupEnv("SESSION_SECRET"); ok {
		cfg.Session.Secret = v
	}
	if v, ok := os.LookupEnv("DATABASE_URL"); ok {
		cfg.Database.DSN = v
	}
	if v, ok := os.LookupEnv("ENGINE_API_KEY"); ok {
		cfg.Engine.APIKey = v
	}
	if v, ok := os.LookupEnv("PUBLIC_DIR"); ok {
		cfg.PublicDir = v
	}
	if v, ok := os.LookupEnv("CORS_ALLOWED_ORIGINS"); ok {
		cfg.Server.CORS.AllowedOrigins = splitList(v)
	}
	if v, ok := os.LookupEnv("LOG_LEVEL"); ok {
		cfg.Log.Level = v
	}
	return nil
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

// applyDefaults applies default values to the config.
func applyDefaults(cfg *Config) {
	if cfg.Env == "" {
		cfg.Env = EnvDevelopment
	}
	if cfg.PublicDir == "" {
		cfg.PublicDir = defaultPublicDir
	}
	if cfg.Server.Address == "" {
		cfg.Server.Address = fmt.Sprintf(":%d", defaultPort)
	}
	if cfg.Server.ReadHeaderTimeout == 0 {
		cfg.Server.ReadHeaderTimeout = defaultReadHeaderTimeout
	}
	if cfg.Server.ShutdownTimeout == 0 {
		cfg.Server.ShutdownTimeout = defaultShutdownTimeout
	}
	if cfg.Session.CookieName == "" {
		cfg.Session.CookieName = session.DefaultCookieName
	}
	if cfg.Session.TTL == 0 {
		cfg.Session.TTL = session.DefaultTTL
	}
	if cfg.Session.CleanupInterval == 0 {
		cfg.Session.CleanupInterval = defaultCleanupInterval
	}
	if cfg.Session.Store == "" {
		cfg.Session.Store = StoreMemory
		if cfg.Database.DSN != "" {
			cfg.Session.Store = StorePostgres
		}
	}
	if cfg.Database.MaxOpenConns == 0 {
		cfg.Database.MaxOpenConns = defaultMaxOpenConns
	}
	if cfg.Log.Level == "" {
		cfg.Log.Level = "info"
	}
}

// Validate validates the configuration.
func (c *Config) Validate() error {
	var errs []string

	if c.Session.Secret == "" {
		errs = append(errs, "session.secret (SESSION_SECRET) is required")
	} else if len(c.Session.Secret) < session.MinSecretLength {
		errs = append(errs, fmt.Sprintf("session.secret must be at least %d bytes", session.MinSecretLength))
	}
	if c.Engine.APIKey == "" {
		errs = append(errs, "engine.api_key (ENGINE_API_KEY) is required")
	}

	switch c.Session.Store {
	case StoreMemory:
	case StorePostgres:
		if c.Database.DSN == "" {
			errs = append(errs, "session.store postgres requires database.dsn (DATABASE_URL)")
		}
	case StoreRedis:
		if c.Session.Redis.Addr == "" {
			errs = append(errs, "session.redis.addr is required for the redis store")
		}
	default:
		errs = append(errs, fmt.Sprintf("unknown session.store %q", c.Session.Store))
	}

	if _, err := parseLevel(c.Log.Level); err != nil {
		errs = append(errs, err.Error())
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation errors: %s", strings.Join(errs, "; "))
	}

	return nil
}

func parseLevel(s string) (slog.Level, error) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(s)); err != nil {
		return 0, fmt.Errorf("invalid log.level %q", s)
	}
	return level, nil
}

// NewLogger builds the application logger: JSON in production, text
// otherwise, at the configured level.
func NewLogger(cfg *Config, w io.Writer) *slog.Logger {
	level, err := parseLevel(cfg.Log.Level)
	if err != nil {
		level = slog.LevelInfo
	}
	opts := &slog.HandlerOptions{Level: level}
	if cfg.Production() {
		return slog.New(slog.NewJSONHandler(w, opts))
	}
	return slog.New(slog.NewTextHandler(w, opts))
}
