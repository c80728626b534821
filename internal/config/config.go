// Package config assembles the typed application configuration: struct
// defaults, then an optional .env file, then the process environment.
package config

import (
	"fmt"
	"strings"
	"time"
	_ "time/tzdata"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/structs"
	"github.com/knadh/koanf/v2"

	"qtech-backend/internal/logging"
)

type Config struct {
	App      AppConfig      `koanf:"app"`
	Database DatabaseConfig `koanf:"database"`
	Redis    RedisConfig    `koanf:"redis"`
	JWT      JWTConfig      `koanf:"jwt"`
	Kafka    KafkaConfig    `koanf:"kafka"`
	Realtime RealtimeConfig `koanf:"realtime"`
	Queue    QueueConfig    `koanf:"queue"`
	Logging  LoggingConfig  `koanf:"logging"`
}

type AppConfig struct {
	Host         string   `koanf:"host"`
	Port         int      `koanf:"port" validate:"min=1,max=65535"`
	Timezone     string   `koanf:"timezone" validate:"required"`
	EnableSkip   bool     `koanf:"enable_skip"`
	AllowOrigins []string `koanf:"allow_origins"`
	RateLimit    int      `koanf:"rate_limit" validate:"min=0"`
}

type DatabaseConfig struct {
	DSN           string        `koanf:"dsn" validate:"required"`
	MaxOpenConns  int           `koanf:"max_open_conns" validate:"min=1"`
	MaxIdleConns  int           `koanf:"max_idle_conns" validate:"min=0"`
	QueryTimeout  time.Duration `koanf:"query_timeout" validate:"min=1ms"`
	RetryAttempts int           `koanf:"retry_attempts" validate:"min=0,max=10"`
}

type RedisConfig struct {
	Addr     string `koanf:"addr"`
	Password string `koanf:"password"`
	DB       int    `koanf:"db" validate:"min=0"`
}

type JWTConfig struct {
	Secret string        `koanf:"secret" validate:"required,min=16"`
	TTL    time.Duration `koanf:"ttl" validate:"min=1m"`
}

type KafkaConfig struct {
	Enabled  bool          `koanf:"enabled"`
	Brokers  []string      `koanf:"brokers" validate:"required_if=Enabled true"`
	Topic    string        `koanf:"topic" validate:"required_if=Enabled true"`
	DedupTTL time.Duration `koanf:"dedup_ttl"`
}

type RealtimeConfig struct {
	Bus           string        `koanf:"bus" validate:"oneof=local redis"`
	ChannelPrefix string        `koanf:"channel_prefix"`
	WriteTimeout  time.Duration `koanf:"write_timeout" validate:"min=1ms"`
	PingInterval  time.Duration `koanf:"ping_interval" validate:"min=1s"`
	ClientBuffer  int           `koanf:"client_buffer" validate:"min=1"`
}

type QueueConfig struct {
	CapScope string `koanf:"cap_scope" validate:"oneof=service global"`
	Guard    string `koanf:"guard" validate:"oneof=local redis"`
}

type LoggingConfig struct {
	Level  string `koanf:"level"`
	Format string `koanf:"format" validate:"oneof=json console"`
}

func defaultConfig() *Config {
	return &Config{
		App: AppConfig{
			Host:         "0.0.0.0",
			Port:         8080,
			Timezone:     "Asia/Manila",
			AllowOrigins: []string{"*"},
			RateLimit:    120,
		},
		Database: DatabaseConfig{
			MaxOpenConns:  25,
			MaxIdleConns:  10,
			QueryTimeout:  5 * time.Second,
			RetryAttempts: 3,
		},
		JWT: JWTConfig{TTL: 24 * time.Hour},
		Kafka: KafkaConfig{
			Topic:    "queue-notifications",
			DedupTTL: 24 * time.Hour,
		},
		Realtime: RealtimeConfig{
			Bus:           "local",
			ChannelPrefix: "qtech",
			WriteTimeout:  5 * time.Second,
			PingInterval:  20 * time.Second,
			ClientBuffer:  32,
		},
		Queue: QueueConfig{
			CapScope: "service",
			Guard:    "local",
		},
		Logging: LoggingConfig{Level: "info", Format: "json"},
	}
}

// LoadEnv reads .env into the process environment. A missing file is fine.
func LoadEnv(paths ...string) {
	if err := godotenv.Load(paths...); err != nil {
		logging.Debug().Msg(".env not found, using system environment")
	}
}

// Load builds the configuration. Environment variables override defaults.
func Load() (*Config, error) {
	k := koanf.New(".")

	if err := k.Load(structs.Provider(defaultConfig(), "koanf"), nil); err != nil {
		return nil, fmt.Errorf("failed to load defaults: %w", err)
	}
	if err := k.Load(env.Provider("", ".", envTransformFunc), nil); err != nil {
		return nil, fmt.Errorf("failed to load environment variables: %w", err)
	}
	if err := splitLists(k); err != nil {
		return nil, err
	}

	cfg := &Config{}
	if err := k.Unmarshal("", cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal configuration: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}
	return cfg, nil
}

var validate = validator.New()

func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		return err
	}
	if _, err := time.LoadLocation(c.App.Timezone); err != nil {
		return fmt.Errorf("app.timezone: %w", err)
	}
	if c.Realtime.Bus == "redis" && c.Redis.Addr == "" {
		return fmt.Errorf("realtime.bus=redis requires REDIS_ADDR")
	}
	if c.Queue.Guard == "redis" && c.Redis.Addr == "" {
		return fmt.Errorf("queue.guard=redis requires REDIS_ADDR")
	}
	return nil
}

// Location returns the configured business timezone.
func (c *Config) Location() *time.Location {
	loc, err := time.LoadLocation(c.App.Timezone)
	if err != nil {
		return time.Local
	}
	return loc
}

func (c *Config) Addr() string {
	return fmt.Sprintf("%s:%d", c.App.Host, c.App.Port)
}

var envMappings = map[string]string{
	"app_host":          "app.host",
	"app_port":          "app.port",
	"app_timezone":      "app.timezone",
	"app_enable_skip":   "app.enable_skip",
	"app_allow_origins": "app.allow_origins",
	"app_rate_limit":    "app.rate_limit",

	"db_dsn":            "database.dsn",
	"db_max_open_conns": "database.max_open_conns",
	"db_max_idle_conns": "database.max_idle_conns",
	"db_query_timeout":  "database.query_timeout",
	"db_retry_attempts": "database.retry_attempts",

	"redis_addr":     "redis.addr",
	"redis_password": "redis.password",
	"redis_db":       "redis.db",

	"jwt_secret": "jwt.secret",
	"jwt_ttl":    "jwt.ttl",

	"kafka_enabled":   "kafka.enabled",
	"kafka_brokers":   "kafka.brokers",
	"kafka_topic":     "kafka.topic",
	"kafka_dedup_ttl": "kafka.dedup_ttl",

	"realtime_bus":            "realtime.bus",
	"realtime_channel_prefix": "realtime.channel_prefix",
	"ws_write_timeout":        "realtime.write_timeout",
	"ws_ping_interval":        "realtime.ping_interval",
	"ws_client_buffer":        "realtime.client_buffer",

	"queue_cap_scope": "queue.cap_scope",
	"queue_guard":     "queue.guard",

	"log_level":  "logging.level",
	"log_format": "logging.format",
}

var listPaths = []string{"app.allow_origins", "kafka.brokers"}

// splitLists turns comma-separated env values into slices.
func splitLists(k *koanf.Koanf) error {
	for _, path := range listPaths {
		raw, ok := k.Get(path).(string)
		if !ok {
			continue
		}
		var items []string
		for _, p := range strings.Split(raw, ",") {
			if p = strings.TrimSpace(p); p != "" {
				items = append(items, p)
			}
		}
		if err := k.Set(path, items); err != nil {
			return fmt.Errorf("failed to set %s: %w", path, err)
		}
	}
	return nil
}

// envTransformFunc maps flat env names (DB_DSN) to koanf paths
// (database.dsn). Unknown variables are dropped.
func envTransformFunc(key string) string {
	return envMappings[strings.ToLower(key)]
}
