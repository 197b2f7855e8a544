package config

import (
	"time"

	"github.com/shopspring/decimal"
)

// Config is the full runtime configuration, assembled from the environment.
type Config struct {
	Env            string
	Server         ServerConfig
	Database       DatabaseConfig
	Redis          RedisConfig
	Kafka          KafkaConfig
	JWT            JWTConfig
	Ledger         LedgerConfig
	Compensation   CompensationConfig
	Reconciliation ReconciliationConfig
	Resilience     ResilienceConfig
	Courier        CourierConfig
}

type ServerConfig struct {
	Port           string
	AllowedOrigins string
	ReadTimeout    time.Duration
	WriteTimeout   time.Duration
}

// DatabaseConfig holds connection and pool settings
type DatabaseConfig struct {
	Host            string
	Port            string
	User            string
	Password        string
	Name            string
	SSLMode         string
	AutoMigrate     bool
	MaxIdleConns    int
	MaxOpenConns    int
	ConnMaxLifetime time.Duration
	ConnMaxIdleTime time.Duration
}

// DSN returns a key/value postgres connection string.
func (c DatabaseConfig) DSN() string {
	return "host=" + c.Host +
		" user=" + c.User +
		" password=" + c.Password +
		" dbname=" + c.Name +
		" port=" + c.Port +
		" sslmode=" + c.SSLMode
}

// URL returns the postgres URL form used by the migrator.
func (c DatabaseConfig) URL() string {
	return "postgres://" + c.User + ":" + c.Password + "@" + c.Host + ":" + c.Port + "/" + c.Name + "?sslmode=" + c.SSLMode
}

type RedisConfig struct {
	Enabled  bool
	Host     string
	Port     string
	Password string
	DB       int
}

type KafkaConfig struct {
	Enabled    bool
	Brokers    []string
	AuditTopic string
}

type JWTConfig struct {
	Secret string
}

// LedgerConfig carries the anti-fraud ceilings.
type LedgerConfig struct {
	MaxSingleOperation decimal.Decimal
	MaxBalance         decimal.Decimal
	LockRetryAttempts  int
	LockRetryBaseDelay time.Duration
}

type CompensationConfig struct {
	SweepInterval time.Duration
	BatchSize     int
	MaxRetries    int
	ExpireAfter   time.Duration
}

type ReconciliationConfig struct {
	SweepInterval    time.Duration
	AutoMatchMinAge  int
	BatchSize        int
	OverdueAfter     time.Duration
	CriticalMargin   decimal.Decimal
	PendingListLimit int
	AlertListLimit   int
	OverdueWarnCount int
	OverdueCritCount int
}

type ResilienceConfig struct {
	Disabled            bool
	FailureThreshold    int
	SuccessThreshold    int
	Cooldown            time.Duration
	MaxHalfOpenRequests int
	MaxAttempts         int
	BaseDelay           time.Duration
	MaxDelay            time.Duration
}

type CourierConfig struct {
	BaseURL string
	APIKey  string
	Timeout time.Duration
}

// Load reads every section from the environment, applying defaults.
func Load() *Config {
	return &Config{
		Env: GetEnv("ENV", "development"),
		Server: ServerConfig{
			Port:           GetEnv("PORT", "3000"),
			AllowedOrigins: GetEnv("CORS_ALLOWED_ORIGINS", "http://localhost:5173"),
			ReadTimeout:    GetDurationEnv("SERVER_READ_TIMEOUT", 15*time.Second),
			WriteTimeout:   GetDurationEnv("SERVER_WRITE_TIMEOUT", 15*time.Second),
		},
		Database: DatabaseConfig{
			Host:            GetEnv("DB_HOST", "localhost"),
			Port:            GetEnv("DB_PORT", "5432"),
			User:            GetEnv("DB_USER", "postgres"),
			Password:        GetEnv("DB_PASSWORD", "postgres"),
			Name:            GetEnv("DB_NAME", "ledgercore"),
			SSLMode:         GetEnv("DB_SSLMODE", "disable"),
			AutoMigrate:     GetBoolEnv("DB_AUTO_MIGRATE", false),
			MaxIdleConns:    GetIntEnv("DB_MAX_IDLE_CONNS", 10),
			MaxOpenConns:    GetIntEnv("DB_MAX_OPEN_CONNS", 100),
			ConnMaxLifetime: GetDurationEnv("DB_CONN_MAX_LIFETIME", time.Hour),
			ConnMaxIdleTime: GetDurationEnv("DB_CONN_MAX_IDLE_TIME", 30*time.Minute),
		},
		Redis: RedisConfig{
			Enabled:  GetBoolEnv("REDIS_ENABLED", true),
			Host:     GetEnv("REDIS_HOST", "localhost"),
			Port:     GetEnv("REDIS_PORT", "6379"),
			Password: GetEnv("REDIS_PASSWORD", ""),
			DB:       GetIntEnv("REDIS_DB", 0),
		},
		Kafka: KafkaConfig{
			Enabled:    GetBoolEnv("KAFKA_ENABLED", false),
			Brokers:    GetListEnv("KAFKA_BROKERS", []string{"localhost:9092"}),
			AuditTopic: GetEnv("KAFKA_AUDIT_TOPIC", "financial_audit"),
		},
		JWT: JWTConfig{
			Secret: GetEnv("JWT_SECRET", "your-secret-key"),
		},
		Ledger: LedgerConfig{
			MaxSingleOperation: GetDecimalEnv("LEDGER_MAX_SINGLE_OPERATION", decimal.NewFromInt(10000)),
			MaxBalance:         GetDecimalEnv("LEDGER_MAX_BALANCE", decimal.NewFromInt(100000)),
			LockRetryAttempts:  GetIntEnv("LEDGER_LOCK_RETRY_ATTEMPTS", 3),
			LockRetryBaseDelay: GetDurationEnv("LEDGER_LOCK_RETRY_BASE_DELAY", 100*time.Millisecond),
		},
		Compensation: CompensationConfig{
			SweepInterval: GetDurationEnv("COMPENSATION_SWEEP_INTERVAL", time.Minute),
			BatchSize:     GetIntEnv("COMPENSATION_BATCH_SIZE", 50),
			MaxRetries:    GetIntEnv("COMPENSATION_MAX_RETRIES", 5),
			ExpireAfter:   GetDurationEnv("COMPENSATION_EXPIRE_AFTER", 7*24*time.Hour),
		},
		Reconciliation: ReconciliationConfig{
			SweepInterval:    GetDurationEnv("RECONCILIATION_SWEEP_INTERVAL", time.Hour),
			AutoMatchMinAge:  GetIntEnv("RECONCILIATION_AUTO_MATCH_MIN_AGE_DAYS", 7),
			BatchSize:        GetIntEnv("RECONCILIATION_BATCH_SIZE", 500),
			OverdueAfter:     GetDurationEnv("RECONCILIATION_OVERDUE_AFTER", 7*24*time.Hour),
			CriticalMargin:   GetDecimalEnv("RECONCILIATION_CRITICAL_MARGIN", decimal.NewFromInt(-50)),
			PendingListLimit: GetIntEnv("RECONCILIATION_PENDING_LIMIT", 200),
			AlertListLimit:   GetIntEnv("RECONCILIATION_ALERT_LIMIT", 100),
			OverdueWarnCount: GetIntEnv("RECONCILIATION_OVERDUE_WARN_COUNT", 20),
			OverdueCritCount: GetIntEnv("RECONCILIATION_OVERDUE_CRIT_COUNT", 100),
		},
		Resilience: ResilienceConfig{
			Disabled:            GetBoolEnv("RESILIENCE_DISABLED", false),
			FailureThreshold:    GetIntEnv("CIRCUIT_FAILURE_THRESHOLD", 5),
			SuccessThreshold:    GetIntEnv("CIRCUIT_SUCCESS_THRESHOLD", 2),
			Cooldown:            GetDurationEnv("CIRCUIT_COOLDOWN", 30*time.Second),
			MaxHalfOpenRequests: GetIntEnv("CIRCUIT_MAX_HALF_OPEN_REQUESTS", 2),
			MaxAttempts:         GetIntEnv("RETRY_MAX_ATTEMPTS", 3),
			BaseDelay:           GetDurationEnv("RETRY_BASE_DELAY", 200*time.Millisecond),
			MaxDelay:            GetDurationEnv("RETRY_MAX_DELAY", 5*time.Second),
		},
		Courier: CourierConfig{
			BaseURL: GetEnv("COURIER_BASE_URL", "http://localhost:8081"),
			APIKey:  GetEnv("COURIER_API_KEY", ""),
			Timeout: GetDurationEnv("COURIER_TIMEOUT", 10*time.Second),
		},
	}
}
