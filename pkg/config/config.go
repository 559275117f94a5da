package config

import (
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/kelseyhightower/envconfig"
)

type Config struct {
	App          AppConfig
	Service      ServiceConfig
	DB           DBConfig
	Redis        RedisConfig
	Pool         PoolConfig
	Renewal      RenewalConfig
	GCP          GCPConfig
	PubSub       PubSubConfig
	Outbox       OutboxConfig
	FeatureFlags FeatureFlagsConfig
}

func Load() (*Config, error) {
	var cfg Config
	if err := envconfig.Process(EnvPrefix, &cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}
	if err := cfg.DB.ensureDSN(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

type AppConfig struct {
	Env          string `envconfig:"SUBVAULT_APP_ENV" required:"true"`
	Port         string `envconfig:"SUBVAULT_APP_PORT" required:"true"`
	LogLevel     string `envconfig:"SUBVAULT_LOG_LEVEL" default:"info"`
	LogWarnStack bool   `envconfig:"SUBVAULT_LOG_WARN_STACK" default:"false"`
}

func (a AppConfig) IsDev() bool {
	return strings.EqualFold(a.Env, AppEnvDev)
}

func (a AppConfig) IsProd() bool {
	return strings.EqualFold(a.Env, AppEnvProd)
}

type ServiceConfig struct {
	Kind string `envconfig:"SUBVAULT_SERVICE_KIND" default:"api"`
}

type DBConfig struct {
	DSN    string `envconfig:"SUBVAULT_DB_DSN"`
	Driver string `envconfig:"SUBVAULT_DB_DRIVER" default:"postgres"`

	LegacyHost     string `envconfig:"SUBVAULT_DB_HOST"`
	LegacyPort     int    `envconfig:"SUBVAULT_DB_PORT" default:"5432"`
	LegacyUser     string `envconfig:"SUBVAULT_DB_USER"`
	LegacyPassword string `envconfig:"SUBVAULT_DB_PASSWORD"`
	LegacyName     string `envconfig:"SUBVAULT_DB_NAME"`
	LegacySSLMode  string `envconfig:"SUBVAULT_DB_SSLMODE" default:"disable"`

	MaxOpenConns    int           `envconfig:"SUBVAULT_DB_MAX_OPEN_CONNS" default:"20"`
	MaxIdleConns    int           `envconfig:"SUBVAULT_DB_MAX_IDLE_CONNS" default:"10"`
	ConnMaxLifetime time.Duration `envconfig:"SUBVAULT_DB_CONN_MAX_LIFETIME" default:"1h"`
	ConnMaxIdleTime time.Duration `envconfig:"SUBVAULT_DB_CONN_MAX_IDLE_TIME" default:"10m"`
}

type RedisConfig struct {
	URL          string        `envconfig:"SUBVAULT_REDIS_URL" required:"true"`
	Address      string        `envconfig:"SUBVAULT_REDIS_ADDR"`
	Password     string        `envconfig:"SUBVAULT_REDIS_PASSWORD"`
	DB           int           `envconfig:"SUBVAULT_REDIS_DB" default:"0"`
	PoolSize     int           `envconfig:"SUBVAULT_REDIS_POOL_SIZE" default:"10"`
	MinIdleConns int           `envconfig:"SUBVAULT_REDIS_MIN_IDLE_CONNS" default:"2"`
	DialTimeout  time.Duration `envconfig:"SUBVAULT_REDIS_DIAL_TIMEOUT" default:"5s"`
	ReadTimeout  time.Duration `envconfig:"SUBVAULT_REDIS_READ_TIMEOUT" default:"5s"`
	WriteTimeout time.Duration `envconfig:"SUBVAULT_REDIS_WRITE_TIMEOUT" default:"5s"`
}

// PoolConfig governs the credential pool store. The shelf-life column and
// claim retry budget are deliberate configuration rather than scattered
// literals: ops can tune them per environment.
type PoolConfig struct {
	DefaultShelfLife time.Duration `envconfig:"SUBVAULT_POOL_DEFAULT_SHELF_LIFE" default:"2160h"`
	ClaimMaxAttempts int           `envconfig:"SUBVAULT_POOL_CLAIM_MAX_ATTEMPTS" default:"5"`
	PurgeBatchSize   int           `envconfig:"SUBVAULT_POOL_PURGE_BATCH_SIZE" default:"500"`
}

type RenewalConfig struct {
	ReminderLeadDays int `envconfig:"SUBVAULT_RENEWAL_REMINDER_LEAD_DAYS" default:"7"`
	UpdateAttempts   int `envconfig:"SUBVAULT_RENEWAL_UPDATE_ATTEMPTS" default:"5"`
}

type GCPConfig struct {
	ProjectID              string `envconfig:"SUBVAULT_GCP_PROJECT_ID" required:"true"`
	CredentialsJSON        string `envconfig:"SUBVAULT_GCP_CREDENTIALS_JSON"`
	ApplicationCredentials string `envconfig:"SUBVAULT_GOOGLE_APPLICATION_CREDENTIALS"`
}

type PubSubConfig struct {
	NotificationTopic        string `envconfig:"SUBVAULT_PUBSUB_NOTIFICATION_TOPIC" default:"sv-notification-events"`
	NotificationSubscription string `envconfig:"SUBVAULT_PUBSUB_NOTIFICATION_SUBSCRIPTION" required:"true"`
}

type OutboxConfig struct {
	BatchSize      int `envconfig:"SUBVAULT_OUTBOX_PUBLISH_BATCH_SIZE" default:"50"`
	PollIntervalMS int `envconfig:"SUBVAULT_OUTBOX_PUBLISH_POLL_MS" default:"500"`
	MaxAttempts    int `envconfig:"SUBVAULT_OUTBOX_MAX_ATTEMPTS" default:"10"`
}

type FeatureFlagsConfig struct {
	UseSQLite   bool `envconfig:"SUBVAULT_USE_SQLITE" default:"false"`
	AutoMigrate bool `envconfig:"SUBVAULT_AUTO_MIGRATE" default:"false"`
}

func (db *DBConfig) ensureDSN() error {
	if db.DSN != "" {
		return nil
	}

	missing := []string{}
	legacyValues := map[string]string{
		EnvDBHost: db.LegacyHost,
		EnvDBUser: db.LegacyUser,
		EnvDBName: db.LegacyName,
	}
	for _, env := range legacyDBEnvVars {
		if legacyValues[env] == "" {
			missing = append(missing, env)
		}
	}

	if len(missing) > 0 {
		return fmt.Errorf("either %s or %s are required", EnvDBDSN, strings.Join(missing, ", "))
	}

	userInfo := url.User(db.LegacyUser)
	if db.LegacyPassword != "" {
		userInfo = url.UserPassword(db.LegacyUser, db.LegacyPassword)
	}

	u := &url.URL{
		Scheme: "postgres",
		User:   userInfo,
		Host:   fmt.Sprintf("%s:%d", db.LegacyHost, db.LegacyPort),
		Path:   db.LegacyName,
	}

	if db.LegacySSLMode != "" {
		q := u.Query()
		q.Set("sslmode", db.LegacySSLMode)
		u.RawQuery = q.Encode()
	}

	db.DSN = u.String()
	return nil
}
