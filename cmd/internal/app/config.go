package app

import "time"

// Config contains all runtime configuration loaded from environment variables.
type Config struct {
	HTTPAddr  string
	LogLevel  string
	LogFormat string

	ReadHeaderTimeout time.Duration
	ReadTimeout       time.Duration
	WriteTimeout      time.Duration
	IdleTimeout       time.Duration
	MaxHeaderBytes    int

	// Session records live in Postgres when DatabaseURL is set, in Redis
	// when RedisAddr is set (Redis wins if both are set), and in memory
	// otherwise. The identity lookup always needs Postgres; without it a
	// dev-only in-memory lookup is used.
	DatabaseURL string
	DBMaxConns  int32
	DBMinConns  int32

	RedisAddr   string
	RedisDB     int
	RedisPrefix string

	// ReaperInterval is how often expired session records are swept.
	ReaperInterval time.Duration

	// If true, /readyz returns 503 unless a backing store is configured
	// and reachable.
	ReadinessRequireStore bool

	// Security policy:
	// If true, SESSIOND_TOKEN_HMAC_KEY MUST be set (>= 32 bytes) and
	// credential hashing must be HMAC-based.
	RequireTokenHMAC bool
}

// LoadConfig loads Config from environment variables with defaults.
func LoadConfig() Config {
	return Config{
		HTTPAddr:  EnvString("SESSIOND_HTTP_ADDR", "0.0.0.0:8080"),
		LogLevel:  EnvString("SESSIOND_LOG_LEVEL", "info"),
		LogFormat: EnvString("SESSIOND_LOG_FORMAT", "json"),

		ReadHeaderTimeout: EnvDuration("SESSIOND_HTTP_READ_HEADER_TIMEOUT", 5*time.Second),
		ReadTimeout:       EnvDuration("SESSIOND_HTTP_READ_TIMEOUT", 15*time.Second),
		WriteTimeout:      EnvDuration("SESSIOND_HTTP_WRITE_TIMEOUT", 15*time.Second),
		IdleTimeout:       EnvDuration("SESSIOND_HTTP_IDLE_TIMEOUT", 60*time.Second),

		MaxHeaderBytes: EnvInt("SESSIOND_HTTP_MAX_HEADER_BYTES", 1<<20),

		DatabaseURL: EnvString("SESSIOND_DATABASE_URL", ""),
		DBMaxConns:  EnvInt32("SESSIOND_DB_MAX_CONNS", 10),
		DBMinConns:  EnvInt32("SESSIOND_DB_MIN_CONNS", 0),

		RedisAddr:   EnvString("SESSIOND_REDIS_ADDR", ""),
		RedisDB:     EnvInt("SESSIOND_REDIS_DB", 0),
		RedisPrefix: EnvString("SESSIOND_REDIS_PREFIX", "sess"),

		ReaperInterval: EnvDuration("SESSIOND_REAPER_INTERVAL", 30*time.Minute),

		ReadinessRequireStore: EnvBool("SESSIOND_READINESS_REQUIRE_STORE", false),

		RequireTokenHMAC: EnvBool("SESSIOND_REQUIRE_TOKEN_HMAC", false),
	}
}
