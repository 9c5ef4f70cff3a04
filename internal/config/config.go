// Package config provides application configuration loaded from environment variables.
// Use the package-level Get() function to obtain the singleton Config instance.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/shopspring/decimal"
)

// Storage drivers accepted by STORAGE_DRIVER.
const (
	StoragePostgres = "postgres"
	StorageMemory   = "memory"
)

// ──────────────────────────────────────────────────────────────────────────────
// Sub-config structs
// ──────────────────────────────────────────────────────────────────────────────

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Port           string        // e.g. "8080"
	Env            string        // "development" | "production"
	ReadTimeout    time.Duration // default 10s
	WriteTimeout   time.Duration // default 10s
	PublicBaseURL  string        // prefix of confirmation links
	AllowedOrigins []string      // WS origins; empty = allow all
	RateLimitRPS   float64       // per-IP; 0 disables
	RateLimitBurst int

	BackofficePort       string // operator console, e.g. "8081"
	BackofficeAllowedIPs string // comma-separated; empty = allow all
}

// DBConfig holds storage settings.
type DBConfig struct {
	Driver          string        // "postgres" | "memory"
	DSN             string        // full postgres DSN
	MaxOpenConns    int           // default 25
	MaxIdleConns    int           // default 10
	ConnMaxLifetime time.Duration // default 5m
	MigrationsDir   string        // default "migrations"
}

// NegotiationConfig holds the per-deal limits and the logistics model.
type NegotiationConfig struct {
	MaxTurns      int
	FloorRatio    decimal.Decimal
	MaxDistanceKm int
	MinKm         int
	MaxKm         int
	RatePerKm     decimal.Decimal
}

// ModelConfig holds the model-backed strategy settings.
type ModelConfig struct {
	GeminiAPIKey string        // empty = fallback strategy only
	GeminiModel  string        // default "gemini-2.0-flash-001"
	Timeout      time.Duration // default 4s
}

// SMTPConfig holds outbound mail settings. An empty Host selects the log notifier.
type SMTPConfig struct {
	Host     string
	Port     int
	Username string
	Password string
	From     string
	Timeout  time.Duration
}

// LockConfig selects in-process or Redis-backed per-deal locks.
type LockConfig struct {
	RedisAddr     string // empty = in-process
	RedisPassword string
	RedisDB       int
	TTL           time.Duration
}

// SettlementConfig holds the delivery fleet and ETA.
type SettlementConfig struct {
	FleetFile string // YAML list of drivers; empty = built-in pool
	ETA       time.Duration
}

// AutopilotConfig paces the server-side negotiation driver.
type AutopilotConfig struct {
	Enabled    bool
	Interval   time.Duration
	FirstDelay time.Duration
	TurnDelay  time.Duration
	Batch      int
}

// TelemetryConfig holds OTLP metric export settings.
type TelemetryConfig struct {
	OTLPEndpoint string // empty disables export
	Insecure     bool
	Interval     time.Duration
}

// JWTConfig holds the secret used to identify WebSocket subscribers.
type JWTConfig struct {
	AccessSecret string // optional
}

// ──────────────────────────────────────────────────────────────────────────────
// Top-level Config
// ──────────────────────────────────────────────────────────────────────────────

// Config is the root configuration object for the entire application.
type Config struct {
	Server      ServerConfig
	DB          DBConfig
	Negotiation NegotiationConfig
	Model       ModelConfig
	SMTP        SMTPConfig
	Lock        LockConfig
	Settlement  SettlementConfig
	Autopilot   AutopilotConfig
	Telemetry   TelemetryConfig
	JWT         JWTConfig
}

// IsProd returns true when running in the production environment.
func (c *Config) IsProd() bool {
	return c.Server.Env == "production"
}

// Validate checks that all required configuration values are present and valid.
// All problems are reported together.
func (c *Config) Validate() error {
	var errs []error

	switch c.DB.Driver {
	case StoragePostgres:
		if c.IsProd() && os.Getenv("DATABASE_DSN") == "" {
			errs = append(errs, errors.New("DATABASE_DSN must be set in production"))
		}
	case StorageMemory:
		if c.IsProd() {
			errs = append(errs, errors.New("STORAGE_DRIVER=memory is not allowed in production"))
		}
	default:
		errs = append(errs, fmt.Errorf("STORAGE_DRIVER must be %q or %q, got %q",
			StoragePostgres, StorageMemory, c.DB.Driver))
	}

	n := c.Negotiation
	if n.MaxTurns <= 0 {
		errs = append(errs, fmt.Errorf("NEGOTIATION_MAX_TURNS must be positive, got %d", n.MaxTurns))
	}
	if !n.FloorRatio.IsPositive() || n.FloorRatio.GreaterThan(decimal.NewFromInt(1)) {
		errs = append(errs, fmt.Errorf("NEGOTIATION_FLOOR_RATIO must be in (0, 1], got %s", n.FloorRatio))
	}
	if n.MaxDistanceKm <= 0 {
		errs = append(errs, fmt.Errorf("LOGISTICS_MAX_DISTANCE_KM must be positive, got %d", n.MaxDistanceKm))
	}
	if n.MinKm <= 0 || n.MaxKm < n.MinKm {
		errs = append(errs, fmt.Errorf("LOGISTICS_MIN_KM/MAX_KM must satisfy 0 < min <= max, got %d/%d", n.MinKm, n.MaxKm))
	}
	if !n.RatePerKm.IsPositive() {
		errs = append(errs, fmt.Errorf("LOGISTICS_RATE_PER_KM must be positive, got %s", n.RatePerKm))
	}

	if c.SMTP.Host != "" && c.SMTP.From == "" {
		errs = append(errs, errors.New("SMTP_FROM must be set when SMTP_HOST is set"))
	}
	if c.IsProd() && !strings.HasPrefix(c.Server.PublicBaseURL, "https://") {
		errs = append(errs, errors.New("PUBLIC_BASE_URL must be https in production"))
	}

	if len(errs) > 0 {
		return errors.Join(errs...)
	}
	return nil
}

// ──────────────────────────────────────────────────────────────────────────────
// Singleton
// ──────────────────────────────────────────────────────────────────────────────

var (
	instance *Config
	once     sync.Once
	loadErr  error
)

// Get returns the singleton Config, loading it once from environment variables.
// Panics if loading fails; call this early in main() to catch misconfigurations
// at startup.
func Get() *Config {
	once.Do(func() {
		instance, loadErr = Load()
	})
	if loadErr != nil {
		panic(fmt.Sprintf("config: failed to load: %v", loadErr))
	}
	return instance
}

// MustLoad loads and validates configuration. Intended for use in main().
// Panics on any error so misconfiguration is caught immediately at boot.
func MustLoad() *Config {
	cfg := Get()
	if err := cfg.Validate(); err != nil {
		panic(fmt.Sprintf("config: validation failed: %v", err))
	}
	return cfg
}

// ──────────────────────────────────────────────────────────────────────────────
// Loader
// ──────────────────────────────────────────────────────────────────────────────

// Load reads a fresh Config from the environment without caching it.
func Load() (*Config, error) {
	cfg := &Config{}
	var errs []error
	intVar := func(key string, def int) int {
		n, err := getInt(key, def)
		if err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", key, err))
		}
		return n
	}
	decVar := func(key string, def string) decimal.Decimal {
		d, err := getDecimal(key, def)
		if err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", key, err))
		}
		return d
	}

	// ── Server ────────────────────────────────────────────────────────────────
	rps, err := getFloat("RATE_LIMIT_RPS", 20)
	if err != nil {
		errs = append(errs, fmt.Errorf("RATE_LIMIT_RPS: %w", err))
	}
	port := getEnv("SERVER_PORT", "8080")
	cfg.Server = ServerConfig{
		Port:           port,
		Env:            getEnv("ENVIRONMENT", "development"),
		ReadTimeout:    getDuration("SERVER_READ_TIMEOUT", 10*time.Second),
		WriteTimeout:   getDuration("SERVER_WRITE_TIMEOUT", 10*time.Second),
		PublicBaseURL:  getEnv("PUBLIC_BASE_URL", "http://localhost:"+port),
		AllowedOrigins: getList("WS_ALLOWED_ORIGINS"),
		RateLimitRPS:   rps,
		RateLimitBurst: intVar("RATE_LIMIT_BURST", 40),

		BackofficePort:       getEnv("BACKOFFICE_PORT", "8081"),
		BackofficeAllowedIPs: getEnv("BACKOFFICE_ALLOWED_IPS", ""),
	}

	// ── Database ──────────────────────────────────────────────────────────────
	dsn := os.Getenv("DATABASE_DSN")
	if dsn == "" {
		// Build DSN from individual components for convenience in dev
		dsn = fmt.Sprintf(
			"host=%s port=%s user=%s password=%s dbname=%s sslmode=%s",
			getEnv("DB_HOST", "localhost"),
			getEnv("DB_PORT", "5432"),
			getEnv("DB_USER", "postgres"),
			getEnv("DB_PASSWORD", ""),
			getEnv("DB_NAME", "dealengine"),
			getEnv("DB_SSLMODE", "disable"),
		)
	}
	cfg.DB = DBConfig{
		Driver:          strings.ToLower(getEnv("STORAGE_DRIVER", StoragePostgres)),
		DSN:             dsn,
		MaxOpenConns:    intVar("DB_MAX_OPEN_CONNS", 25),
		MaxIdleConns:    intVar("DB_MAX_IDLE_CONNS", 10),
		ConnMaxLifetime: getDuration("DB_CONN_MAX_LIFETIME", 5*time.Minute),
		MigrationsDir:   getEnv("MIGRATIONS_DIR", "migrations"),
	}

	// ── Negotiation ───────────────────────────────────────────────────────────
	cfg.Negotiation = NegotiationConfig{
		MaxTurns:      intVar("NEGOTIATION_MAX_TURNS", 40),
		FloorRatio:    decVar("NEGOTIATION_FLOOR_RATIO", "0.90"),
		MaxDistanceKm: intVar("LOGISTICS_MAX_DISTANCE_KM", 20),
		MinKm:         intVar("LOGISTICS_MIN_KM", 5),
		MaxKm:         intVar("LOGISTICS_MAX_KM", 34),
		RatePerKm:     decVar("LOGISTICS_RATE_PER_KM", "25"),
	}

	// ── Model ─────────────────────────────────────────────────────────────────
	cfg.Model = ModelConfig{
		GeminiAPIKey: getEnv("GEMINI_API_KEY", ""),
		GeminiModel:  getEnv("GEMINI_MODEL", "gemini-2.0-flash-001"),
		Timeout:      getDuration("MODEL_TIMEOUT", 4*time.Second),
	}

	// ── Notifications ─────────────────────────────────────────────────────────
	cfg.SMTP = SMTPConfig{
		Host:     getEnv("SMTP_HOST", ""),
		Port:     intVar("SMTP_PORT", 587),
		Username: getEnv("SMTP_USERNAME", ""),
		Password: getEnv("SMTP_PASSWORD", ""),
		From:     getEnv("SMTP_FROM", ""),
		Timeout:  getDuration("SMTP_TIMEOUT", 10*time.Second),
	}

	// ── Locks ─────────────────────────────────────────────────────────────────
	cfg.Lock = LockConfig{
		RedisAddr:     getEnv("REDIS_ADDR", ""),
		RedisPassword: getEnv("REDIS_PASSWORD", ""),
		RedisDB:       intVar("REDIS_DB", 0),
		TTL:           getDuration("LOCK_TTL", 15*time.Second),
	}

	// ── Settlement ────────────────────────────────────────────────────────────
	cfg.Settlement = SettlementConfig{
		FleetFile: getEnv("FLEET_FILE", ""),
		ETA:       getDuration("SETTLEMENT_ETA", 4*time.Hour),
	}

	// ── Autopilot ─────────────────────────────────────────────────────────────
	cfg.Autopilot = AutopilotConfig{
		Enabled:    getBool("AUTOPILOT_ENABLED", true),
		Interval:   getDuration("AUTOPILOT_INTERVAL", 500*time.Millisecond),
		FirstDelay: getDuration("AUTOPILOT_FIRST_DELAY", 2500*time.Millisecond),
		TurnDelay:  getDuration("AUTOPILOT_TURN_DELAY", 1500*time.Millisecond),
		Batch:      intVar("AUTOPILOT_BATCH", 50),
	}

	// ── Telemetry ─────────────────────────────────────────────────────────────
	cfg.Telemetry = TelemetryConfig{
		OTLPEndpoint: getEnv("OTEL_EXPORTER_OTLP_ENDPOINT", ""),
		Insecure:     getBool("OTEL_EXPORTER_OTLP_INSECURE", false),
		Interval:     getDuration("OTEL_METRIC_EXPORT_INTERVAL", 15*time.Second),
	}

	// ── JWT ───────────────────────────────────────────────────────────────────
	cfg.JWT = JWTConfig{
		AccessSecret: getEnv("JWT_ACCESS_SECRET", ""),
	}

	if len(errs) > 0 {
		return nil, errors.Join(errs...)
	}
	return cfg, nil
}

// ──────────────────────────────────────────────────────────────────────────────
// Helper functions
// ──────────────────────────────────────────────────────────────────────────────

func getEnv(key, defaultVal string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultVal
}

func getInt(key string, defaultVal int) (int, error) {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("invalid integer %q", v)
	}
	return n, nil
}

func getFloat(key string, defaultVal float64) (float64, error) {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal, nil
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid float %q", v)
	}
	return f, nil
}

// getDecimal parses money-like values exactly; floats would drift.
func getDecimal(key, defaultVal string) (decimal.Decimal, error) {
	v := getEnv(key, defaultVal)
	d, err := decimal.NewFromString(v)
	if err != nil {
		return decimal.Zero, fmt.Errorf("invalid decimal %q", v)
	}
	return d, nil
}

func getBool(key string, defaultVal bool) bool {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return defaultVal
	}
	return b
}

func getList(key string) []string {
	var out []string
	for _, part := range strings.Split(os.Getenv(key), ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}

// getDuration parses an env var as a Go duration string (e.g. "15m", "2s").
// Falls back to defaultVal if the variable is unset or empty.
func getDuration(key string, defaultVal time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		// Log warning and fall back to default; do not crash on parse error
		return defaultVal
	}
	return d
}
