// Package config loads the service configuration.
//
// Sources, in increasing priority order:
//  1. Built-in defaults
//  2. YAML file (explicit path or CAMPUSLIB_CONFIG)
//  3. .env file in the working directory, then process environment
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v3"
)

type Config struct {
	Server      ServerConfig          `yaml:"server"`
	Database    DatabaseConfig        `yaml:"database"`
	Redis       RedisConfig           `yaml:"redis"`
	Kafka       KafkaConfig           `yaml:"kafka"`
	Observ      ObservabilityConfig   `yaml:"observability"`
	Auth        AuthConfig            `yaml:"auth"`
	Circulation CirculationConfig     `yaml:"circulation"`
	Roles       map[string]RolePolicy `yaml:"roles"`
}

type ServerConfig struct {
	Port            string        `yaml:"port"`
	Env             string        `yaml:"env"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
}

type DatabaseConfig struct {
	// Driver is one of postgres, pgx, sqlite, sqlite3.
	Driver       string `yaml:"driver"`
	URL          string `yaml:"url"`
	MaxOpenConns int    `yaml:"max_open_conns"`
}

// RedisConfig enables the shared reservation queue cache when Addr is set.
type RedisConfig struct {
	Addr     string        `yaml:"addr"`
	Password string        `yaml:"password"`
	DB       int           `yaml:"db"`
	TTL      time.Duration `yaml:"ttl"`
}

// KafkaConfig enables notification publishing when Brokers is non-empty.
type KafkaConfig struct {
	Brokers            []string `yaml:"brokers"`
	TopicNotifications string   `yaml:"topic_notifications"`
	ConsumerGroup      string   `yaml:"consumer_group"`
}

type ObservabilityConfig struct {
	ServiceName  string `yaml:"service_name"`
	OTLPEndpoint string `yaml:"otlp_endpoint"`
}

type AuthConfig struct {
	JWTSecret string        `yaml:"jwt_secret"`
	TokenTTL  time.Duration `yaml:"token_ttl"`
	// LoginRate is the number of login/register attempts admitted per minute.
	LoginRate  int `yaml:"login_rate"`
	LoginBurst int `yaml:"login_burst"`
	// BootstrapEmail and BootstrapPassword seed a librarian account at
	// startup when no user with that email exists.
	BootstrapEmail    string `yaml:"bootstrap_email"`
	BootstrapPassword string `yaml:"bootstrap_password"`
}

type CirculationConfig struct {
	LibraryID    string `yaml:"library_id"`
	DailyFineStr string `yaml:"daily_fine"`
	// DailyFine is the parsed form of DailyFineStr.
	DailyFine   decimal.Decimal `yaml:"-"`
	RenewalDays int             `yaml:"renewal_days"`
	// MaxRenewalDays caps the days a borrower may ask one renewal to add.
	MaxRenewalDays int           `yaml:"max_renewal_days"`
	MaxRenewals    int           `yaml:"max_renewals"`
	HoldWindow     time.Duration `yaml:"hold_window"`
	ReminderLead   time.Duration `yaml:"reminder_lead"`
	SweepInterval  time.Duration `yaml:"sweep_interval"`
	QueueOrdering  string        `yaml:"queue_ordering"`
}

// RolePolicy is the loan policy of one role.
type RolePolicy struct {
	MaxLoans int `yaml:"max_loans"`
	LoanDays int `yaml:"loan_days"`
	// Priority ranks reservation holders under role_priority ordering; lower goes first.
	Priority int `yaml:"priority"`
}

// Default returns a Config populated with development defaults.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Port:            "8080",
			Env:             "development",
			ShutdownTimeout: 15 * time.Second,
		},
		Database: DatabaseConfig{
			Driver:       "sqlite",
			URL:          "campuslib.db",
			MaxOpenConns: 25,
		},
		Redis: RedisConfig{TTL: 5 * time.Minute},
		Kafka: KafkaConfig{
			TopicNotifications: "library-notifications",
			ConsumerGroup:      "campuslib-notifier",
		},
		Observ: ObservabilityConfig{ServiceName: "campuslib"},
		Auth: AuthConfig{
			JWTSecret:  "dev-secret-change-me",
			TokenTTL:   12 * time.Hour,
			LoginRate:  30,
			LoginBurst: 10,
		},
		Circulation: CirculationConfig{
			LibraryID:     "central",
			DailyFineStr:  "2.00",
			DailyFine:     decimal.RequireFromString("2.00"),
			RenewalDays:    14,
			MaxRenewalDays: 30,
			MaxRenewals:    2,
			ReminderLead:  24 * time.Hour,
			QueueOrdering: "fifo",
		},
		Roles: map[string]RolePolicy{
			"student":   {MaxLoans: 3, LoanDays: 7, Priority: 2},
			"professor": {MaxLoans: 5, LoanDays: 14, Priority: 1},
			"librarian": {MaxLoans: 5, LoanDays: 14, Priority: 1},
		},
	}
}

// Load merges defaults, the YAML file at path and the environment. An empty
// path falls back to CAMPUSLIB_CONFIG; if both are empty no file is read.
func Load(path string) (*Config, error) {
	cfg := Default()

	_ = godotenv.Load()

	if path == "" {
		path = os.Getenv("CAMPUSLIB_CONFIG")
	}
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config %q: %w", path, err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config %q: %w", path, err)
		}
	}

	if err := applyEnv(cfg); err != nil {
		return nil, err
	}

	fine, err := decimal.NewFromString(cfg.Circulation.DailyFineStr)
	if err != nil {
		return nil, fmt.Errorf("parse daily fine %q: %w", cfg.Circulation.DailyFineStr, err)
	}
	cfg.Circulation.DailyFine = fine

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func applyEnv(cfg *Config) error {
	cfg.Server.Port = getEnv("PORT", cfg.Server.Port)
	cfg.Server.Env = getEnv("ENV", cfg.Server.Env)
	cfg.Database.Driver = getEnv("DATABASE_DRIVER", cfg.Database.Driver)
	cfg.Database.URL = getEnv("DATABASE_URL", cfg.Database.URL)
	cfg.Redis.Addr = getEnv("REDIS_ADDR", cfg.Redis.Addr)
	cfg.Redis.Password = getEnv("REDIS_PASSWORD", cfg.Redis.Password)
	cfg.Kafka.TopicNotifications = getEnv("KAFKA_TOPIC_NOTIFICATIONS", cfg.Kafka.TopicNotifications)
	cfg.Kafka.ConsumerGroup = getEnv("KAFKA_CONSUMER_GROUP", cfg.Kafka.ConsumerGroup)
	cfg.Observ.ServiceName = getEnv("OTEL_SERVICE_NAME", cfg.Observ.ServiceName)
	cfg.Observ.OTLPEndpoint = getEnv("OTEL_EXPORTER_OTLP_ENDPOINT", cfg.Observ.OTLPEndpoint)
	cfg.Auth.JWTSecret = getEnv("JWT_SECRET", cfg.Auth.JWTSecret)
	cfg.Auth.BootstrapEmail = getEnv("BOOTSTRAP_LIBRARIAN_EMAIL", cfg.Auth.BootstrapEmail)
	cfg.Auth.BootstrapPassword = getEnv("BOOTSTRAP_LIBRARIAN_PASSWORD", cfg.Auth.BootstrapPassword)
	cfg.Circulation.LibraryID = getEnv("LIBRARY_ID", cfg.Circulation.LibraryID)
	cfg.Circulation.DailyFineStr = getEnv("DAILY_FINE", cfg.Circulation.DailyFineStr)
	cfg.Circulation.QueueOrdering = getEnv("RESERVATION_ORDERING", cfg.Circulation.QueueOrdering)

	if v := os.Getenv("KAFKA_BROKERS"); v != "" {
		cfg.Kafka.Brokers = strings.Split(v, ",")
	}

	ints := []struct {
		key string
		dst *int
	}{
		{"DATABASE_MAX_OPEN_CONNS", &cfg.Database.MaxOpenConns},
		{"REDIS_DB", &cfg.Redis.DB},
		{"LOGIN_RATE_PER_MINUTE", &cfg.Auth.LoginRate},
		{"RENEWAL_DAYS", &cfg.Circulation.RenewalDays},
		{"MAX_RENEWAL_DAYS", &cfg.Circulation.MaxRenewalDays},
		{"MAX_RENEWALS", &cfg.Circulation.MaxRenewals},
	}
	for _, e := range ints {
		v := os.Getenv(e.key)
		if v == "" {
			continue
		}
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("parse %s: %w", e.key, err)
		}
		*e.dst = n
	}

	durations := []struct {
		key string
		dst *time.Duration
	}{
		{"SHUTDOWN_TIMEOUT", &cfg.Server.ShutdownTimeout},
		{"REDIS_TTL", &cfg.Redis.TTL},
		{"TOKEN_TTL", &cfg.Auth.TokenTTL},
		{"RESERVATION_HOLD_WINDOW", &cfg.Circulation.HoldWindow},
		{"REMINDER_LEAD", &cfg.Circulation.ReminderLead},
		{"SWEEP_INTERVAL", &cfg.Circulation.SweepInterval},
	}
	for _, e := range durations {
		v := os.Getenv(e.key)
		if v == "" {
			continue
		}
		if v == "0" {
			*e.dst = 0
			continue
		}
		d, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("parse %s: %w", e.key, err)
		}
		*e.dst = d
	}
	return nil
}

// Validate checks the merged configuration for values the service cannot run with.
func (c *Config) Validate() error {
	switch c.Database.Driver {
	case "postgres", "pgx", "sqlite", "sqlite3":
	default:
		return fmt.Errorf("unsupported database driver %q", c.Database.Driver)
	}
	if c.Circulation.DailyFine.IsNegative() {
		return fmt.Errorf("daily fine must not be negative")
	}
	if c.Circulation.RenewalDays <= 0 {
		return fmt.Errorf("renewal days must be positive")
	}
	if c.Circulation.MaxRenewalDays < c.Circulation.RenewalDays {
		return fmt.Errorf("max renewal days must be at least the default renewal days")
	}
	if c.Circulation.MaxRenewals < 0 {
		return fmt.Errorf("max renewals must not be negative")
	}
	if c.Circulation.HoldWindow < 0 {
		return fmt.Errorf("hold window must not be negative")
	}
	switch c.Circulation.QueueOrdering {
	case "fifo", "role_priority":
	default:
		return fmt.Errorf("unknown queue ordering %q", c.Circulation.QueueOrdering)
	}
	for _, role := range []string{"student", "professor", "librarian"} {
		p, ok := c.Roles[role]
		if !ok {
			return fmt.Errorf("missing loan policy for role %q", role)
		}
		if p.MaxLoans <= 0 || p.LoanDays <= 0 {
			return fmt.Errorf("loan policy for role %q must have positive limits", role)
		}
	}
	return nil
}

func getEnv(key, defaultVal string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return defaultVal
}
