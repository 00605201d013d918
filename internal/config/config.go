package config

import (
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds configuration for the gateway.
type Config struct {
	HTTPPort  string
	LogLevel  string
	JWTSecret []byte

	// Bcrypt hashes of paid-tier API keys, resolved by cleartext prefix.
	// Used when no database is configured.
	APIKeyHashes []string

	Database DatabaseConfig
	Redis    RedisConfig
	Quote    QuoteConfig
	Progress ProgressConfig
	EventLog EventLogConfig
	S3Sink   S3SinkConfig
}

// DatabaseConfig holds database connection settings. The database is
// optional: with no URL the quote archive is disabled and API keys come
// from the environment.
type DatabaseConfig struct {
	URL             string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
	ConnMaxIdleTime time.Duration
	KeyCacheSize    int
	KeyCacheTTL     time.Duration
}

// RedisConfig holds Redis connection settings. Redis is optional: with no
// address the quote store, rate limiter and archive queue run in-memory.
type RedisConfig struct {
	Address      string
	Password     string
	DB           int
	PoolSize     int
	MinIdleConns int
	DialTimeout  time.Duration
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
}

// QuoteConfig tunes the quoting engine.
type QuoteConfig struct {
	TTL           time.Duration // quote validity window
	SweepInterval time.Duration // expired-quote sweep cadence
	RateWindow    time.Duration // quote route rate-limit window
	RateMax       int           // quote route max requests per window per key
	MaxBytes      int64         // largest single file a batch may contain
	MaxFiles      int           // most files a batch may contain
}

// ProgressConfig tunes the connection registry.
type ProgressConfig struct {
	SessionCap        int           // max simultaneous connections per session
	HeartbeatInterval time.Duration // server heartbeat cadence
	SweepInterval     time.Duration // stale-connection sweep cadence
	StaleAfter        time.Duration // silence threshold before eviction
	SendBuffer        int           // per-connection outbound queue length
}

// EventLogConfig configures the local JSONL event logger.
type EventLogConfig struct {
	FilePathTemplate string
	MaxSize          int64
	MaxFiles         int
	BufferSize       int
	FlushInterval    time.Duration
}

// S3SinkConfig configures the optional S3 batch log sink.
type S3SinkConfig struct {
	Enabled       bool
	BufferSize    int
	FlushSize     int
	FlushInterval time.Duration
	Bucket        string
	Region        string
	Prefix        string
	PodName       string
}

func getEnvInt(key string, defaultValue int) int {
	val := os.Getenv(key)
	if val == "" {
		return defaultValue
	}

	intVal, err := strconv.Atoi(val)
	if err != nil {
		return defaultValue
	}

	return intVal
}

func getEnvInt64(key string, defaultValue int64) int64 {
	val := os.Getenv(key)
	if val == "" {
		return defaultValue
	}
	intVal, err := strconv.ParseInt(val, 10, 64)
	if err != nil {
		return defaultValue
	}
	return intVal
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	val := os.Getenv(key)
	if val == "" {
		return defaultValue
	}

	duration, err := time.ParseDuration(val)
	if err != nil {
		return defaultValue
	}

	return duration
}

func getEnvString(key string, defaultValue string) string {
	val := os.Getenv(key)
	if val == "" {
		return defaultValue
	}
	return val
}

func getEnvStringList(key string) []string {
	val := os.Getenv(key)
	if val == "" {
		return nil
	}
	parts := strings.Split(val, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if trimmed := strings.TrimSpace(p); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}

// Load reads configuration from environment variables.
func Load() (*Config, error) {
	cfg := &Config{
		HTTPPort:     getEnvString("HTTP_PORT", "8080"),
		LogLevel:     getEnvString("LOG_LEVEL", "info"),
		JWTSecret:    []byte(getEnvString("JWT_SECRET", "supersecretkey")),
		APIKeyHashes: getEnvStringList("API_KEY_HASHES"),
		Database: DatabaseConfig{
			URL:             getEnvString("DATABASE_URL", ""),
			MaxOpenConns:    getEnvInt("DB_MAX_OPEN_CONNS", 25),
			MaxIdleConns:    getEnvInt("DB_MAX_IDLE_CONNS", 5),
			ConnMaxLifetime: getEnvDuration("DB_CONN_MAX_LIFETIME", 5*time.Minute),
			ConnMaxIdleTime: getEnvDuration("DB_CONN_MAX_IDLE_TIME", 1*time.Minute),
			KeyCacheSize:    getEnvInt("DB_KEY_CACHE_SIZE", 1000),
			KeyCacheTTL:     getEnvDuration("DB_KEY_CACHE_TTL", 5*time.Minute),
		},
		Redis: RedisConfig{
			Address:      getEnvString("REDIS_ADDRESS", ""),
			Password:     getEnvString("REDIS_PASSWORD", ""),
			DB:           getEnvInt("REDIS_DB", 0),
			PoolSize:     getEnvInt("REDIS_POOL_SIZE", 10),
			MinIdleConns: getEnvInt("REDIS_MIN_IDLE_CONNS", 2),
			DialTimeout:  getEnvDuration("REDIS_DIAL_TIMEOUT", 5*time.Second),
			ReadTimeout:  getEnvDuration("REDIS_READ_TIMEOUT", 3*time.Second),
			WriteTimeout: getEnvDuration("REDIS_WRITE_TIMEOUT", 3*time.Second),
		},
		Quote: QuoteConfig{
			TTL:           getEnvDuration("QUOTE_TTL", 15*time.Minute),
			SweepInterval: getEnvDuration("QUOTE_SWEEP_INTERVAL", 1*time.Minute),
			RateWindow:    getEnvDuration("QUOTE_RATE_WINDOW", 60*time.Second),
			RateMax:       getEnvInt("QUOTE_RATE_MAX", 30),
			MaxBytes:      getEnvInt64("QUOTE_MAX_BYTES", 200*1024*1024),
			MaxFiles:      getEnvInt("QUOTE_MAX_FILES", 100),
		},
		Progress: ProgressConfig{
			SessionCap:        getEnvInt("PROGRESS_SESSION_CAP", 5),
			HeartbeatInterval: getEnvDuration("PROGRESS_HEARTBEAT_INTERVAL", 30*time.Second),
			SweepInterval:     getEnvDuration("PROGRESS_SWEEP_INTERVAL", 30*time.Second),
			StaleAfter:        getEnvDuration("PROGRESS_STALE_AFTER", 2*time.Minute),
			SendBuffer:        getEnvInt("PROGRESS_SEND_BUFFER", 32),
		},
		EventLog: EventLogConfig{
			FilePathTemplate: getEnvString("EVENT_LOG_FILE_PATH_TEMPLATE", ""),
			MaxSize:          getEnvInt64("EVENT_LOG_MAX_SIZE", 10_485_760), // default 10 MB
			MaxFiles:         getEnvInt("EVENT_LOG_MAX_FILES", 5),
			BufferSize:       getEnvInt("EVENT_LOG_BUFFER_SIZE", 100),
			FlushInterval:    getEnvDuration("EVENT_LOG_FLUSH_INTERVAL", 60*time.Second),
		},
		S3Sink: S3SinkConfig{
			Enabled:       getEnvString("S3_SINK_ENABLED", "false") == "true",
			BufferSize:    getEnvInt("S3_SINK_BUFFER_SIZE", 10000),
			FlushSize:     getEnvInt("S3_SINK_FLUSH_SIZE", 1000),
			FlushInterval: getEnvDuration("S3_SINK_FLUSH_INTERVAL", 5*time.Minute),
			Bucket:        getEnvString("S3_SINK_BUCKET", ""),
			Region:        getEnvString("S3_SINK_REGION", "us-east-1"),
			Prefix:        getEnvString("S3_SINK_PREFIX", "logs/"),
			PodName:       getEnvString("POD_NAME", "gateway-0"),
		},
	}

	return cfg, nil
}
