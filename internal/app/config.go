package app

import "time"

// Config contains all runtime configuration loaded from environment variables.
type Config struct {
	HTTPAddr string
	LogLevel string

	ReadHeaderTimeout time.Duration
	ReadTimeout       time.Duration
	WriteTimeout      time.Duration
	IdleTimeout       time.Duration
	MaxHeaderBytes    int

	// Ledger backend selection:
	// - LedgerURL set: Postgres
	// - else LedgerSQLitePath set: SQLite
	// - else: in-memory (dev only, lost on restart)
	LedgerURL        string
	LedgerSQLitePath string
	DBMaxConns       int32
	DBMinConns       int32

	// If true:
	// - /readyz returns 503 unless the ledger DB is configured and reachable.
	ReadinessRequireDB bool

	// CredentialDir holds the persisted messaging-session credential set.
	CredentialDir string

	// Session supervisor knobs.
	MaxRetries    int
	RetryInterval time.Duration
	RetryDelayCap time.Duration
	ResetDelay    time.Duration

	// OTP lifecycle knobs.
	OTPTTL        time.Duration
	Retention     time.Duration
	SweepInterval time.Duration

	// Event stream gateway.
	WSOriginRequired bool
	WSAllowedOrigins []string
	EventQueueSize   int
}

// LoadConfig loads Config from environment variables with defaults.
func LoadConfig() Config {
	return Config{
		HTTPAddr: EnvString("WHATSOTP_HTTP_ADDR", "0.0.0.0:8080"),
		LogLevel: EnvString("WHATSOTP_LOG_LEVEL", "info"),

		ReadHeaderTimeout: EnvDuration("WHATSOTP_HTTP_READ_HEADER_TIMEOUT", 5*time.Second),
		ReadTimeout:       EnvDuration("WHATSOTP_HTTP_READ_TIMEOUT", 15*time.Second),
		WriteTimeout:      EnvDuration("WHATSOTP_HTTP_WRITE_TIMEOUT", 15*time.Second),
		IdleTimeout:       EnvDuration("WHATSOTP_HTTP_IDLE_TIMEOUT", 60*time.Second),

		MaxHeaderBytes: EnvInt("WHATSOTP_HTTP_MAX_HEADER_BYTES", 1<<20),

		LedgerURL:        EnvString("WHATSOTP_LEDGER_URL", ""),
		LedgerSQLitePath: EnvString("WHATSOTP_LEDGER_SQLITE_PATH", ""),
		DBMaxConns:       EnvInt32("WHATSOTP_DB_MAX_CONNS", 10),
		DBMinConns:       EnvInt32("WHATSOTP_DB_MIN_CONNS", 0),

		ReadinessRequireDB: EnvBool("WHATSOTP_READINESS_REQUIRE_DB", false),

		CredentialDir: EnvString("WHATSOTP_CREDENTIAL_DIR", "auth_info"),

		MaxRetries:    EnvInt("WHATSOTP_MAX_RETRIES", 5),
		RetryInterval: EnvDuration("WHATSOTP_RETRY_INTERVAL", 5*time.Second),
		RetryDelayCap: EnvDuration("WHATSOTP_RETRY_DELAY_CAP", 60*time.Second),
		ResetDelay:    EnvDuration("WHATSOTP_RESET_DELAY", 1*time.Second),

		OTPTTL:        EnvDuration("WHATSOTP_OTP_TTL", 5*time.Minute),
		Retention:     EnvDuration("WHATSOTP_OTP_RETENTION", 7*24*time.Hour),
		SweepInterval: EnvDuration("WHATSOTP_OTP_SWEEP_INTERVAL", time.Hour),

		WSOriginRequired: EnvBool("WHATSOTP_WS_ORIGIN_REQUIRED", false),
		WSAllowedOrigins: EnvStrings("WHATSOTP_WS_ALLOWED_ORIGINS", nil),
		EventQueueSize:   EnvInt("WHATSOTP_EVENT_QUEUE_SIZE", 64),
	}
}
