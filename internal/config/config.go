package config

import (
	"os"
	"strconv"
	"strings"
	"time"
)

type Config struct {
	Env          string
	Server       ServerConfig
	Database     DatabaseConfig
	Sync         SyncConfig
	Network      NetworkConfig
	Redis        RedisConfig
	Kafka        KafkaConfig
	Log          LogConfig
	BoardingPass BoardingPassConfig
}

type ServerConfig struct {
	Port         string
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	IdleTimeout  time.Duration
}

type DatabaseConfig struct {
	Path        string
	BusyTimeout time.Duration
}

type SyncConfig struct {
	BatchSize       int
	Interval        time.Duration
	AutoStart       bool
	SuccessRate     float64
	Latency         time.Duration
	RequestTimeout  time.Duration
	SyncTimeout     time.Duration
	StartOnline     bool
	ConfirmOnCreate bool
}

type NetworkConfig struct {
	// ProbeAddr is dialed once at startup to seed the monitor. Empty means
	// start from Sync.StartOnline.
	ProbeAddr    string
	ProbeTimeout time.Duration
}

type RedisConfig struct {
	Enabled  bool
	Addr     string
	LeaseKey string
	LeaseTTL time.Duration
}

type KafkaConfig struct {
	Enabled       bool
	Brokers       []string
	GroupID       string
	EventsTopic   string
	TicketsTopic  string
	ConsumeFeed   bool
	PublishEvents bool
}

type LogConfig struct {
	Level   string
	Dir     string
	NoColor bool
}

type BoardingPassConfig struct {
	Secret string
	Size   int
}

func Load() *Config {
	return &Config{
		Env: getEnv("APP_ENV", "local"),
		Server: ServerConfig{
			Port:         getEnv("PORT", ":8080"),
			ReadTimeout:  15 * time.Second,
			WriteTimeout: 0, // SSE streams stay open
			IdleTimeout:  60 * time.Second,
		},
		Database: DatabaseConfig{
			Path:        getEnv("DB_PATH", "booking-sync.db"),
			BusyTimeout: getEnvDuration("DB_BUSY_TIMEOUT", 5*time.Second),
		},
		Sync: SyncConfig{
			BatchSize:       getEnvInt("SYNC_BATCH_SIZE", 5),
			Interval:        time.Duration(getEnvInt("SYNC_INTERVAL_MINUTES", 5)) * time.Minute,
			AutoStart:       getEnvBool("SYNC_AUTO_START", true),
			SuccessRate:     getEnvFloat("SYNC_SUCCESS_RATE", 0.95),
			Latency:         getEnvDuration("SYNC_LATENCY", 500*time.Millisecond),
			RequestTimeout:  getEnvDuration("WORKER_REQUEST_TIMEOUT", 30*time.Second),
			SyncTimeout:     getEnvDuration("WORKER_SYNC_TIMEOUT", 60*time.Second),
			StartOnline:     getEnvBool("START_ONLINE", true),
			ConfirmOnCreate: getEnvBool("SYNC_ON_CREATE", true),
		},
		Network: NetworkConfig{
			ProbeAddr:    getEnv("NETWORK_PROBE_ADDR", ""),
			ProbeTimeout: getEnvDuration("NETWORK_PROBE_TIMEOUT", 2*time.Second),
		},
		Redis: RedisConfig{
			Enabled:  getEnvBool("REDIS_ENABLED", false),
			Addr:     getEnv("REDIS_ADDR", "localhost:6379"),
			LeaseKey: getEnv("SYNC_LEASE_KEY", "booking_sync:lease"),
			LeaseTTL: getEnvDuration("SYNC_LEASE_TTL", 2*time.Minute),
		},
		Kafka: KafkaConfig{
			Enabled:       getEnvBool("KAFKA_ENABLED", false),
			Brokers:       getEnvList("KAFKA_BROKERS", []string{"localhost:9092"}),
			GroupID:       getEnv("KAFKA_GROUP_ID", "booking-sync"),
			EventsTopic:   getEnv("KAFKA_TOPIC_SYNC_EVENTS", "booking-sync-events"),
			TicketsTopic:  getEnv("KAFKA_TOPIC_TICKET_FEED", "ticket-feed"),
			ConsumeFeed:   getEnvBool("KAFKA_CONSUME_TICKETS", true),
			PublishEvents: getEnvBool("KAFKA_PUBLISH_EVENTS", true),
		},
		Log: LogConfig{
			Level:   getEnv("LOG_LEVEL", "info"),
			Dir:     getEnv("LOG_DIR", ""),
			NoColor: getEnvBool("LOG_NO_COLOR", false),
		},
		BoardingPass: BoardingPassConfig{
			Secret: getEnv("BOARDING_PASS_SECRET", "change-me"),
			Size:   getEnvInt("BOARDING_PASS_SIZE", 256),
		},
	}
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if parsed, err := strconv.ParseBool(value); err == nil {
			return parsed
		}
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if parsed, err := strconv.Atoi(value); err == nil {
			return parsed
		}
	}
	return defaultValue
}

func getEnvFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if parsed, err := strconv.ParseFloat(value, 64); err == nil {
			return parsed
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if parsed, err := time.ParseDuration(value); err == nil {
			return parsed
		}
	}
	return defaultValue
}

func getEnvList(key string, defaultValue []string) []string {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	var out []string
	for _, part := range strings.Split(value, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	if len(out) == 0 {
		return defaultValue
	}
	return out
}
