package main

import (
	"flag"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/BTreeMap/FlowPilot/internal/api"
	"github.com/BTreeMap/FlowPilot/internal/events"
	"github.com/BTreeMap/FlowPilot/internal/scheduler"
	"github.com/BTreeMap/FlowPilot/internal/util"
)

// Default configuration constants
const (
	// DefaultStateDir is the default directory for FlowPilot state data
	DefaultStateDir = "/var/lib/flowpilot"
	// DefaultDBFileName is the default SQLite database filename
	DefaultDBFileName = "flowpilot.db"
	// DefaultLogLevel is used when LOG_LEVEL is unset
	DefaultLogLevel = "info"
)

// Config holds the server configuration. Values come from the optional YAML
// file, then the environment, then explicitly set command-line flags.
type Config struct {
	StateDir    string          `yaml:"state_dir"`
	DatabaseDSN string          `yaml:"database_dsn"`
	APIAddr     string          `yaml:"api_addr"`
	LogLevel    string          `yaml:"log_level"`
	Redis       RedisConfig     `yaml:"redis"`
	Twilio      TwilioConfig    `yaml:"twilio"`
	Kafka       KafkaConfig     `yaml:"kafka"`
	Retention   RetentionConfig `yaml:"retention"`
}

// RedisConfig selects the Redis conversation store.
type RedisConfig struct {
	Addr string        `yaml:"addr"`
	DB   int           `yaml:"db"`
	TTL  time.Duration `yaml:"ttl"`
}

// TwilioConfig enables the SMS channel and dispatch alerts.
type TwilioConfig struct {
	AccountSID   string `yaml:"account_sid"`
	AuthToken    string `yaml:"auth_token"`
	FromNumber   string `yaml:"from_number"`
	OnCallNumber string `yaml:"oncall_number"`
	WhatsApp     bool   `yaml:"whatsapp"`
}

// Enabled reports whether enough credentials are set to send messages.
func (t TwilioConfig) Enabled() bool {
	return t.AccountSID != "" && t.AuthToken != "" && t.FromNumber != ""
}

// KafkaConfig enables the flow event publisher.
type KafkaConfig struct {
	Brokers []string `yaml:"brokers"`
	Topic   string   `yaml:"topic"`
}

// RetentionConfig controls the stale conversation sweep.
type RetentionConfig struct {
	Schedule string        `yaml:"schedule"`
	MaxAge   time.Duration `yaml:"max_age"`
}

func defaultConfig() Config {
	return Config{
		StateDir: DefaultStateDir,
		APIAddr:  api.DefaultAddr,
		LogLevel: DefaultLogLevel,
		Kafka:    KafkaConfig{Topic: events.DefaultTopic},
		Retention: RetentionConfig{
			Schedule: scheduler.DefaultRetentionSchedule,
			MaxAge:   scheduler.DefaultRetentionMaxAge,
		},
	}
}

// loadDotEnv loads a .env file from the working directory when present.
func loadDotEnv() {
	if err := godotenv.Load(); err != nil {
		slog.Debug("failed to load .env file", "error", err)
	} else {
		slog.Debug("successfully loaded .env file")
	}
}

// loadConfig builds the configuration from args and the environment.
func loadConfig(args []string) (Config, error) {
	fs := flag.NewFlagSet("flowpilot", flag.ContinueOnError)
	configPath := fs.String("config", os.Getenv("FLOWPILOT_CONFIG"), "YAML config file (overrides $FLOWPILOT_CONFIG)")
	stateDir := fs.String("state-dir", "", "state directory for FlowPilot data (overrides $FLOWPILOT_STATE_DIR)")
	dbDSN := fs.String("db-dsn", "", "SQLite path or Postgres URL (overrides $DATABASE_URL)")
	redisAddr := fs.String("redis-addr", "", "Redis address for the conversation store (overrides $REDIS_ADDR)")
	apiAddr := fs.String("api-addr", "", "API server address (overrides $API_ADDR)")
	logLevel := fs.String("log-level", "", "debug, info, warn or error (overrides $LOG_LEVEL)")
	onCall := fs.String("oncall-number", "", "number alerted on emergency dispatch (overrides $ONCALL_NUMBER)")
	kafkaBrokers := fs.String("kafka-brokers", "", "comma-separated Kafka brokers (overrides $KAFKA_BROKERS)")
	retentionCron := fs.String("retention-schedule", "", "cron schedule for the retention sweep (overrides $RETENTION_SCHEDULE)")
	retentionAge := fs.Duration("retention-max-age", 0, "delete conversations idle longer than this (overrides $RETENTION_MAX_AGE)")
	if err := fs.Parse(args); err != nil {
		return Config{}, err
	}

	cfg := defaultConfig()
	if *configPath != "" {
		if err := loadConfigFile(*configPath, &cfg); err != nil {
			return Config{}, err
		}
	}
	applyEnv(&cfg)

	fs.Visit(func(f *flag.Flag) {
		switch f.Name {
		case "state-dir":
			cfg.StateDir = *stateDir
		case "db-dsn":
			cfg.DatabaseDSN = *dbDSN
		case "redis-addr":
			cfg.Redis.Addr = *redisAddr
		case "api-addr":
			cfg.APIAddr = *apiAddr
		case "log-level":
			cfg.LogLevel = *logLevel
		case "oncall-number":
			cfg.Twilio.OnCallNumber = *onCall
		case "kafka-brokers":
			cfg.Kafka.Brokers = util.SplitList(*kafkaBrokers)
		case "retention-schedule":
			cfg.Retention.Schedule = *retentionCron
		case "retention-max-age":
			cfg.Retention.MaxAge = *retentionAge
		}
	})

	// Without a database or Redis, conversations live in SQLite under the state directory.
	if cfg.DatabaseDSN == "" && cfg.Redis.Addr == "" {
		cfg.DatabaseDSN = filepath.Join(cfg.StateDir, DefaultDBFileName)
		slog.Debug("No database DSN provided, defaulting to SQLite", "sqlite_path", cfg.DatabaseDSN)
	}

	slog.Debug("configuration loaded",
		"config_file", *configPath,
		"state_dir", cfg.StateDir,
		"dsn_set", cfg.DatabaseDSN != "",
		"redis_set", cfg.Redis.Addr != "",
		"api_addr", cfg.APIAddr,
		"twilio_enabled", cfg.Twilio.Enabled(),
		"kafka_brokers", len(cfg.Kafka.Brokers),
		"retention_schedule", cfg.Retention.Schedule,
		"retention_max_age", cfg.Retention.MaxAge)
	return cfg, nil
}

func loadConfigFile(path string, cfg *Config) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read config file %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("failed to parse config file %s: %w", path, err)
	}
	return nil
}

func applyEnv(cfg *Config) {
	setString := func(dst *string, key string) {
		if v := strings.TrimSpace(os.Getenv(key)); v != "" {
			*dst = v
		}
	}
	setString(&cfg.StateDir, "FLOWPILOT_STATE_DIR")
	setString(&cfg.DatabaseDSN, "DATABASE_URL")
	setString(&cfg.APIAddr, "API_ADDR")
	setString(&cfg.LogLevel, "LOG_LEVEL")
	setString(&cfg.Redis.Addr, "REDIS_ADDR")
	setString(&cfg.Twilio.AccountSID, "TWILIO_ACCOUNT_SID")
	setString(&cfg.Twilio.AuthToken, "TWILIO_AUTH_TOKEN")
	setString(&cfg.Twilio.FromNumber, "TWILIO_FROM_NUMBER")
	setString(&cfg.Twilio.OnCallNumber, "ONCALL_NUMBER")
	setString(&cfg.Kafka.Topic, "KAFKA_TOPIC")
	setString(&cfg.Retention.Schedule, "RETENTION_SCHEDULE")

	if v := os.Getenv("REDIS_DB"); v != "" {
		if db, err := strconv.Atoi(v); err == nil {
			cfg.Redis.DB = db
		} else {
			slog.Warn("applyEnv: invalid REDIS_DB, ignoring", "value", v)
		}
	}
	cfg.Twilio.WhatsApp = util.ParseBoolEnv("TWILIO_WHATSAPP", cfg.Twilio.WhatsApp)
	cfg.Redis.TTL = util.ParseDurationEnv("REDIS_TTL", cfg.Redis.TTL)
	cfg.Retention.MaxAge = util.ParseDurationEnv("RETENTION_MAX_AGE", cfg.Retention.MaxAge)
	if brokers := util.ParseListEnv("KAFKA_BROKERS"); len(brokers) > 0 {
		cfg.Kafka.Brokers = brokers
	}
}

// parseLogLevel maps a level name to a slog.Level, defaulting to info.
func parseLogLevel(name string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(name)) {
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
