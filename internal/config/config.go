// Package config loads the server configuration.
//
// PRECEDENCE (highest wins):
//  1. Defaults
//  2. Config file (JSON with comments), from --config or SNIPPETS_CONFIG
//  3. Environment variables (PORT, DB_PATH, DATABASE_URL, ...)
//  4. Command-line flags
//
// Each layer only overrides the fields it actually sets, so a config file
// can pin the store while a flag changes just the port.
package config

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strconv"
	"strings"

	jsoniter "github.com/json-iterator/go"
	flag "github.com/spf13/pflag"
	"github.com/tailscale/hujson"
)

// Store drivers.
const (
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
	DriverMemory   = "memory"
)

// Log formats.
const (
	FormatText = "text"
	FormatJSON = "json"
)

var (
	ErrConfigFileNotFound = errors.New("config file not found")
	ErrConfigInvalid      = errors.New("invalid config")
)

// Config holds everything cmd/server needs to build the app.
type Config struct {
	Port    int           `json:"port"`
	Store   StoreConfig   `json:"store"`
	Auth    AuthConfig    `json:"auth"`
	Log     LogConfig     `json:"log"`
	Metrics MetricsConfig `json:"metrics"`

	// Source is the config file that was loaded, empty if none.
	Source string `json:"-"`
}

type StoreConfig struct {
	Driver      string `json:"driver"`
	SQLitePath  string `json:"sqlite_path"`
	PostgresDSN string `json:"postgres_dsn"`
}

type AuthConfig struct {
	JWTSecret          string `json:"jwt_secret"`
	GitHubClientID     string `json:"github_client_id"`
	GitHubClientSecret string `json:"github_client_secret"`
	GitHubCallbackURL  string `json:"github_callback_url"`
	SecureCookies      bool   `json:"secure_cookies"`
}

type LogConfig struct {
	Level  string `json:"level"`
	Format string `json:"format"`
}

type MetricsConfig struct {
	Enabled bool `json:"enabled"`
}

// Default returns the configuration used when nothing else is set: sqlite
// under data/, text logs at info, metrics on.
func Default() Config {
	return Config{
		Port: 8080,
		Store: StoreConfig{
			Driver:     DriverSQLite,
			SQLitePath: "data/snippets.db",
		},
		Log: LogConfig{
			Level:  "info",
			Format: FormatText,
		},
		Metrics: MetricsConfig{Enabled: true},
	}
}

// Load builds a Config from args (without the program name) and env.
// env is passed in rather than read from os.Environ so tests can control it.
func Load(args []string, env map[string]string) (Config, error) {
	flags := flag.NewFlagSet("snippet-vault", flag.ContinueOnError)
	flags.SetOutput(io.Discard)

	configPath := flags.StringP("config", "c", "", "path to a JSONC config file")
	port := flags.IntP("port", "p", 0, "HTTP port")
	driver := flags.String("store", "", "snippet store: sqlite, postgres or memory")
	dbPath := flags.String("db", "", "sqlite database path")
	dsn := flags.String("database-url", "", "postgres connection string")
	logLevel := flags.String("log-level", "", "debug, info, warn or error")
	logFormat := flags.String("log-format", "", "text or json")
	noMetrics := flags.Bool("no-metrics", false, "disable /metrics")

	if err := flags.Parse(args); err != nil {
		return Config{}, fmt.Errorf("%w: %w", ErrConfigInvalid, err)
	}

	cfg := Default()

	path := *configPath
	if path == "" {
		path = env["SNIPPETS_CONFIG"]
	}
	if path != "" {
		fileCfg, err := loadFile(path)
		if err != nil {
			return Config{}, err
		}
		cfg = merge(cfg, fileCfg)
		cfg.Source = path
	}

	if err := applyEnv(&cfg, env); err != nil {
		return Config{}, err
	}

	// Flags last. Changed() tells an explicit flag from its zero default.
	if flags.Changed("port") {
		cfg.Port = *port
	}
	if flags.Changed("store") {
		cfg.Store.Driver = *driver
	}
	if flags.Changed("db") {
		cfg.Store.SQLitePath = *dbPath
	}
	if flags.Changed("database-url") {
		cfg.Store.PostgresDSN = *dsn
	}
	if flags.Changed("log-level") {
		cfg.Log.Level = *logLevel
	}
	if flags.Changed("log-format") {
		cfg.Log.Format = *logFormat
	}
	if *noMetrics {
		cfg.Metrics.Enabled = false
	}

	if cfg.Auth.GitHubCallbackURL == "" {
		cfg.Auth.GitHubCallbackURL = fmt.Sprintf("http://localhost:%d/auth/github/callback", cfg.Port)
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Environ turns os.Environ into the map Load expects.
func Environ() map[string]string {
	env := make(map[string]string)
	for _, kv := range os.Environ() {
		if k, v, ok := strings.Cut(kv, "="); ok {
			env[k] = v
		}
	}
	return env
}

func loadFile(path string) (Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return Config{}, fmt.Errorf("%w: %s", ErrConfigFileNotFound, path)
		}
		return Config{}, fmt.Errorf("reading config %s: %w", path, err)
	}

	cfg, err := parse(data)
	if err != nil {
		return Config{}, fmt.Errorf("%w %s: %w", ErrConfigInvalid, path, err)
	}
	return cfg, nil
}

// parse reads JSONC (comments and trailing commas allowed). Unknown keys
// are rejected so a typo doesn't silently fall back to a default.
func parse(data []byte) (Config, error) {
	standardized, err := hujson.Standardize(data)
	if err != nil {
		return Config{}, fmt.Errorf("invalid JSONC: %w", err)
	}

	api := jsoniter.Config{DisallowUnknownFields: true}.Froze()
	var cfg Config
	if err := api.Unmarshal(standardized, &cfg); err != nil {
		return Config{}, fmt.Errorf("invalid JSON: %w", err)
	}
	return cfg, nil
}

// merge copies the non-zero fields of overlay onto base. Booleans can only
// be switched on by a file; flags and env switch them off.
func merge(base, overlay Config) Config {
	if overlay.Port != 0 {
		base.Port = overlay.Port
	}
	if overlay.Store.Driver != "" {
		base.Store.Driver = overlay.Store.Driver
	}
	if overlay.Store.SQLitePath != "" {
		base.Store.SQLitePath = overlay.Store.SQLitePath
	}
	if overlay.Store.PostgresDSN != "" {
		base.Store.PostgresDSN = overlay.Store.PostgresDSN
	}
	if overlay.Auth.JWTSecret != "" {
		base.Auth.JWTSecret = overlay.Auth.JWTSecret
	}
	if overlay.Auth.GitHubClientID != "" {
		base.Auth.GitHubClientID = overlay.Auth.GitHubClientID
	}
	if overlay.Auth.GitHubClientSecret != "" {
		base.Auth.GitHubClientSecret = overlay.Auth.GitHubClientSecret
	}
	if overlay.Auth.GitHubCallbackURL != "" {
		base.Auth.GitHubCallbackURL = overlay.Auth.GitHubCallbackURL
	}
	if overlay.Auth.SecureCookies {
		base.Auth.SecureCookies = true
	}
	if overlay.Log.Level != "" {
		base.Log.Level = overlay.Log.Level
	}
	if overlay.Log.Format != "" {
		base.Log.Format = overlay.Log.Format
	}
	if overlay.Metrics.Enabled {
		base.Metrics.Enabled = true
	}
	return base
}

func applyEnv(cfg *Config, env map[string]string) error {
	if v := env["PORT"]; v != "" {
		port, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("%w: PORT=%q is not a number", ErrConfigInvalid, v)
		}
		cfg.Port = port
	}

	strs := []struct {
		key string
		dst *string
	}{
		{"STORE_DRIVER", &cfg.Store.Driver},
		{"DB_PATH", &cfg.Store.SQLitePath},
		{"DATABASE_URL", &cfg.Store.PostgresDSN},
		{"JWT_SECRET", &cfg.Auth.JWTSecret},
		{"GITHUB_CLIENT_ID", &cfg.Auth.GitHubClientID},
		{"GITHUB_CLIENT_SECRET", &cfg.Auth.GitHubClientSecret},
		{"GITHUB_CALLBACK_URL", &cfg.Auth.GitHubCallbackURL},
		{"LOG_LEVEL", &cfg.Log.Level},
		{"LOG_FORMAT", &cfg.Log.Format},
	}
	for _, s := range strs {
		if v := env[s.key]; v != "" {
			*s.dst = v
		}
	}

	if v := env["SECURE_COOKIES"]; v != "" {
		secure, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("%w: SECURE_COOKIES=%q is not a boolean", ErrConfigInvalid, v)
		}
		cfg.Auth.SecureCookies = secure
	}
	return nil
}

// Validate checks the fields that would otherwise fail late, after the
// server has half started.
func (c Config) Validate() error {
	if c.Port <= 0 || c.Port > 65535 {
		return fmt.Errorf("%w: port %d out of range", ErrConfigInvalid, c.Port)
	}

	switch c.Store.Driver {
	case DriverSQLite:
		if c.Store.SQLitePath == "" {
			return fmt.Errorf("%w: store.sqlite_path is required for the sqlite driver", ErrConfigInvalid)
		}
	case DriverPostgres:
		if c.Store.PostgresDSN == "" {
			return fmt.Errorf("%w: store.postgres_dsn (DATABASE_URL) is required for the postgres driver", ErrConfigInvalid)
		}
	case DriverMemory:
	default:
		return fmt.Errorf("%w: unknown store driver %q", ErrConfigInvalid, c.Store.Driver)
	}

	if _, err := c.Log.SlogLevel(); err != nil {
		return err
	}
	if c.Log.Format != FormatText && c.Log.Format != FormatJSON {
		return fmt.Errorf("%w: log format %q (want text or json)", ErrConfigInvalid, c.Log.Format)
	}
	return nil
}

// AuthEnabled reports whether sign-in can work. Without a JWT secret the
// server still serves /api/languages and /healthz, but every snippet route
// answers 401.
func (c Config) AuthEnabled() bool {
	return c.Auth.JWTSecret != ""
}

// SlogLevel parses Level.
func (l LogConfig) SlogLevel() (slog.Level, error) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(l.Level)); err != nil {
		return 0, fmt.Errorf("%w: log level %q", ErrConfigInvalid, l.Level)
	}
	return level, nil
}

// NewLogger builds the process logger described by l.
func (l LogConfig) NewLogger(w io.Writer) (*slog.Logger, error) {
	level, err := l.SlogLevel()
	if err != nil {
		return nil, err
	}
	opts := &slog.HandlerOptions{Level: level}
	if l.Format == FormatJSON {
		return slog.New(slog.NewJSONHandler(w, opts)), nil
	}
	return slog.New(slog.NewTextHandler(w, opts)), nil
}
