package config

import (
	"errors"
	"fmt"
	"os"
	"sort"
	"strconv"
	"strings"
	"time"
)

const (
	DriverMySQL    = "mysql"
	DriverPostgres = "postgres"
	DriverSQLite   = "sqlite"

	LockNone  = "none"
	LockLocal = "local"
	LockRedis = "redis"
)

type Config struct {
	// Server
	ServerPort     string
	ServerHost     string
	ReadTimeout    time.Duration
	WriteTimeout   time.Duration
	MaxRequestBody int64

	// Row store
	DBDriver   string
	DBHost     string
	DBPort     string
	DBUser     string
	DBPassword string
	DBName     string
	DBSSLMode  string

	// Row locks
	RowLockMode string
	RowLockTTL  time.Duration

	// Redis
	RedisHost     string
	RedisPort     string
	RedisPassword string
	RedisDB       int

	// Kafka
	KafkaBrokers     []string
	KafkaEventsTopic string
	KafkaTrainTopic  string
	KafkaGroupID     string

	// Classifiers
	ClassifierCatalogPath string

	// Rate limiting
	RateLimitRPS   int
	RateLimitBurst int
}

func Load() *Config {
	driver := strings.ToLower(getEnv("DB_DRIVER", DriverMySQL))
	return &Config{
		ServerPort:     getEnv("SERVER_PORT", "8080"),
		ServerHost:     getEnv("SERVER_HOST", "0.0.0.0"),
		ReadTimeout:    getDuration("READ_TIMEOUT", 30*time.Second),
		WriteTimeout:   getDuration("WRITE_TIMEOUT", 30*time.Second),
		MaxRequestBody: int64(getIntEnv("MAX_REQUEST_BODY_BYTES", 4*1024*1024)),

		DBDriver:   driver,
		DBHost:     os.Getenv("DB_HOST"),
		DBPort:     getEnv("DB_PORT", defaultPort(driver)),
		DBUser:     os.Getenv("DB_USER"),
		DBPassword: os.Getenv("DB_PASSWORD"),
		DBName:     os.Getenv("DB_NAME"),
		DBSSLMode:  getEnv("DB_SSLMODE", "disable"),

		RowLockMode: strings.ToLower(getEnv("ROW_LOCK_MODE", LockNone)),
		RowLockTTL:  getDuration("ROW_LOCK_TTL", 10*time.Second),

		RedisHost:     getEnv("REDIS_HOST", "localhost"),
		RedisPort:     getEnv("REDIS_PORT", "6379"),
		RedisPassword: getEnv("REDIS_PASSWORD", ""),
		RedisDB:       getIntEnv("REDIS_DB", 0),

		KafkaBrokers:     getStringSliceEnv("KAFKA_BROKERS", nil),
		KafkaEventsTopic: getEnv("KAFKA_EVENTS_TOPIC", "model-events"),
		KafkaTrainTopic:  getEnv("KAFKA_TRAIN_TOPIC", ""),
		KafkaGroupID:     getEnv("KAFKA_GROUP_ID", "modelhub"),

		ClassifierCatalogPath: getEnv("CLASSIFIER_CATALOG_PATH", ""),

		RateLimitRPS:   getIntEnv("RATE_LIMIT_RPS", 0),
		RateLimitBurst: getIntEnv("RATE_LIMIT_BURST", 0),
	}
}

// Validate reports missing store settings. The service refuses to start
// without them.
func (c *Config) Validate() error {
	var missing []string
	switch c.DBDriver {
	case DriverMySQL, DriverPostgres:
		for key, value := range map[string]string{
			"DB_HOST":     c.DBHost,
			"DB_USER":     c.DBUser,
			"DB_PASSWORD": c.DBPassword,
			"DB_NAME":     c.DBName,
		} {
			if value == "" {
				missing = append(missing, key)
			}
		}
	case DriverSQLite:
		if c.DBName == "" {
			missing = append(missing, "DB_NAME")
		}
	default:
		return fmt.Errorf("unsupported DB_DRIVER %q", c.DBDriver)
	}
	if len(missing) > 0 {
		sort.Strings(missing)
		return fmt.Errorf("missing required environment: %s", strings.Join(missing, ", "))
	}

	switch c.RowLockMode {
	case LockNone, LockLocal, LockRedis:
	default:
		return fmt.Errorf("unsupported ROW_LOCK_MODE %q", c.RowLockMode)
	}
	if c.RowLockMode == LockRedis && c.RowLockTTL <= 0 {
		return errors.New("ROW_LOCK_TTL must be positive")
	}
	return nil
}

// KafkaEnabled reports whether any brokers are configured.
func (c *Config) KafkaEnabled() bool {
	return len(c.KafkaBrokers) > 0
}

func (c *Config) Addr() string {
	return fmt.Sprintf("%s:%s", c.ServerHost, c.ServerPort)
}

func defaultPort(driver string) string {
	if driver == DriverPostgres {
		return "5432"
	}
	return "3306"
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getIntEnv(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

func getStringSliceEnv(key string, defaultValue []string) []string {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	var out []string
	for _, part := range strings.Split(value, ",") {
		if trimmed := strings.TrimSpace(part); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}

func getDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
	}
	return defaultValue
}
