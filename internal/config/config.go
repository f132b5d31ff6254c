package config

import (
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

const (
	StorageMemory   = "memory"
	StoragePostgres = "postgres"
)

type Config struct {
	App      AppConfig
	Database DatabaseConfig
	Redis    RedisConfig
	Shift    ShiftConfig
	Engine   EngineConfig
	Cron     CronConfig
}

// AppConfig holds application configuration
type AppConfig struct {
	Name           string
	Version        string
	Port           int
	Env            string
	LogLevel       string
	AllowedOrigins []string
	RequestTimeout time.Duration
}

type DatabaseConfig struct {
	// Driver selects the storage backend: memory or postgres
	Driver   string
	Host     string
	Port     int
	User     string
	Password string
	Name     string
	SSLMode  string
	MaxConns int32
	MinConns int32
}

// RedisConfig enables the shared lock and presence store when Host is set.
type RedisConfig struct {
	Host      string
	Port      int
	Password  string
	DB        int
	PoolSize  int
	KeyPrefix string
	LockTTL   time.Duration
}

type ShiftConfig struct {
	MaxGPSAccuracyMeters float64
	EarlyStartTolerance  time.Duration
	MinShiftDuration     time.Duration
	LunchBreakMinutes    int
	ShortBreakMinutes    int
	EmergencyMinutes     int
	AuthorizedMinutes    int
	UnauthorizedMinutes  int
	DailyBreakCapMinutes int
	LockTimeout          time.Duration
	OperationTimeout     time.Duration
}

type EngineConfig struct {
	DefaultCooldown      time.Duration
	DefaultDwellCooldown time.Duration
	PresenceTTL          time.Duration
	GeofenceCacheTTL     time.Duration
}

type CronConfig struct {
	Enabled               bool
	PresencePruneInterval time.Duration
	StateRecoveryInterval time.Duration
}

// Load reads the environment, with a .env file as an optional overlay.
func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		return nil, fmt.Errorf("failed to load .env file: %w", err)
	}

	p := &parser{}
	config := &Config{}

	config.App = AppConfig{
		Name:           getEnv("APP_NAME", "fieldshift"),
		Version:        getEnv("APP_VERSION", "v1.0.0"),
		Port:           p.int("APP_PORT", 8080),
		Env:            getEnv("APP_ENV", "development"),
		LogLevel:       getEnv("LOG_LEVEL", "info"),
		AllowedOrigins: getEnvSlice("CORS_ALLOWED_ORIGINS", []string{"http://localhost:3000"}),
		RequestTimeout: p.duration("HTTP_REQUEST_TIMEOUT", 15*time.Second),
	}

	config.Database = DatabaseConfig{
		Driver:   getEnv("STORAGE_DRIVER", StorageMemory),
		Host:     getEnv("DB_HOST", "localhost"),
		Port:     p.int("DB_PORT", 5432),
		User:     getEnv("DB_USER", "postgres"),
		Password: getEnv("DB_PASSWORD", ""),
		Name:     getEnv("DB_NAME", "fieldshift"),
		SSLMode:  getEnv("DB_SSL_MODE", "disable"),
		MaxConns: int32(p.int("DB_MAX_CONNS", 25)),
		MinConns: int32(p.int("DB_MIN_CONNS", 5)),
	}

	config.Redis = RedisConfig{
		Host:      getEnv("REDIS_HOST", ""),
		Port:      p.int("REDIS_PORT", 6379),
		Password:  getEnv("REDIS_PASSWORD", ""),
		DB:        p.int("REDIS_DB", 0),
		PoolSize:  p.int("REDIS_POOL_SIZE", 10),
		KeyPrefix: getEnv("REDIS_KEY_PREFIX", "fieldshift:"),
		LockTTL:   p.duration("REDIS_LOCK_TTL", 30*time.Second),
	}

	config.Shift = ShiftConfig{
		MaxGPSAccuracyMeters: p.float("SHIFT_MAX_GPS_ACCURACY_METERS", 50),
		EarlyStartTolerance:  p.duration("SHIFT_EARLY_START_TOLERANCE", 30*time.Minute),
		MinShiftDuration:     p.duration("SHIFT_MIN_DURATION", 30*time.Minute),
		LunchBreakMinutes:    p.int("BREAK_LUNCH_MAX_MINUTES", 90),
		ShortBreakMinutes:    p.int("BREAK_SHORT_MAX_MINUTES", 30),
		EmergencyMinutes:     p.int("BREAK_EMERGENCY_MAX_MINUTES", 120),
		AuthorizedMinutes:    p.int("BREAK_AUTHORIZED_MAX_MINUTES", 120),
		UnauthorizedMinutes:  p.int("BREAK_UNAUTHORIZED_MAX_MINUTES", 30),
		DailyBreakCapMinutes: p.int("BREAK_DAILY_CAP_MINUTES", 180),
		LockTimeout:          p.duration("SHIFT_LOCK_TIMEOUT", 5*time.Second),
		OperationTimeout:     p.duration("SHIFT_OPERATION_TIMEOUT", 10*time.Second),
	}

	config.Engine = EngineConfig{
		DefaultCooldown:      p.duration("GEOFENCE_DEFAULT_COOLDOWN", 0),
		DefaultDwellCooldown: p.duration("GEOFENCE_DWELL_COOLDOWN", 0),
		PresenceTTL:          p.duration("GEOFENCE_PRESENCE_TTL", 24*time.Hour),
		GeofenceCacheTTL:     p.duration("GEOFENCE_CACHE_TTL", 30*time.Second),
	}

	config.Cron = CronConfig{
		Enabled:               getEnv("CRON_ENABLED", "true") == "true",
		PresencePruneInterval: p.duration("CRON_PRESENCE_PRUNE_INTERVAL", time.Hour),
		StateRecoveryInterval: p.duration("CRON_STATE_RECOVERY_INTERVAL", 15*time.Minute),
	}

	if p.err != nil {
		return nil, p.err
	}
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}
	return config, nil
}

// Validate validates the configuration
func (c *Config) Validate() error {
	switch c.Database.Driver {
	case StorageMemory:
	case StoragePostgres:
		if c.Database.Password == "" {
			return fmt.Errorf("DB_PASSWORD is required for the postgres driver")
		}
	default:
		return fmt.Errorf("unsupported STORAGE_DRIVER %q", c.Database.Driver)
	}
	if c.Shift.MaxGPSAccuracyMeters <= 0 {
		return fmt.Errorf("SHIFT_MAX_GPS_ACCURACY_METERS must be positive")
	}
	if c.Shift.LockTimeout <= 0 {
		return fmt.Errorf("SHIFT_LOCK_TIMEOUT must be positive")
	}
	return nil
}

// DatabaseURL returns the PostgreSQL connection string
func (c *Config) DatabaseURL() string {
	return fmt.Sprintf("postgres://%s:%s@%s:%d/%s?sslmode=%s",
		c.Database.User,
		c.Database.Password,
		c.Database.Host,
		c.Database.Port,
		c.Database.Name,
		c.Database.SSLMode,
	)
}

// SlogLevel maps LOG_LEVEL to a slog level, defaulting to info.
func (c *Config) SlogLevel() slog.Level {
	switch strings.ToLower(c.App.LogLevel) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

func getEnv(key, fallback string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return fallback
}

func getEnvSlice(key string, fallback []string) []string {
	value := getEnv(key, "")
	if value == "" {
		return fallback
	}
	var result []string
	for _, part := range strings.Split(value, ",") {
		if part = strings.TrimSpace(part); part != "" {
			result = append(result, part)
		}
	}
	return result
}

// parser keeps the first conversion error so Load can report it once.
type parser struct {
	err error
}

func (p *parser) int(key string, fallback int) int {
	raw := getEnv(key, "")
	if raw == "" {
		return fallback
	}
	v, err := strconv.Atoi(raw)
	if err != nil && p.err == nil {
		p.err = fmt.Errorf("invalid %s: %w", key, err)
	}
	return v
}

func (p *parser) float(key string, fallback float64) float64 {
	raw := getEnv(key, "")
	if raw == "" {
		return fallback
	}
	v, err := strconv.ParseFloat(raw, 64)
	if err != nil && p.err == nil {
		p.err = fmt.Errorf("invalid %s: %w", key, err)
	}
	return v
}

func (p *parser) duration(key string, fallback time.Duration) time.Duration {
	raw := getEnv(key, "")
	if raw == "" {
		return fallback
	}
	v, err := time.ParseDuration(raw)
	if err != nil && p.err == nil {
		p.err = fmt.Errorf("invalid %s: %w", key, err)
	}
	return v
}
