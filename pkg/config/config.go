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
	JWT          JWTConfig
	FeatureFlags FeatureFlagsConfig
	Mpesa        MpesaConfig
	Orders       OrdersConfig
	Webhooks     WebhooksConfig
	Cron         CronConfig
	GCP          GCPConfig
	PubSub       PubSubConfig
	Outbox       OutboxConfig
}

func Load() (*Config, error) {
	var cfg Config
	if err := envconfig.Process(EnvPrefix, &cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}
	if err := cfg.DB.ensureDSN(); err != nil {
		return nil, err
	}
	if err := cfg.Mpesa.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

type AppConfig struct {
	Env          string `envconfig:"SOUQ_APP_ENV" required:"true"`
	Port         string `envconfig:"SOUQ_APP_PORT" required:"true"`
	PublicURL    string `envconfig:"SOUQ_APP_PUBLIC_URL" default:"http://localhost:8080"`
	LogLevel     string `envconfig:"SOUQ_LOG_LEVEL" default:"info"`
	LogFormat    string `envconfig:"SOUQ_LOG_FORMAT" default:"json"`
	LogWarnStack bool   `envconfig:"SOUQ_LOG_WARN_STACK" default:"false"`

	// CORSOrigins is a comma separated allow list for browser clients.
	CORSOrigins []string `envconfig:"SOUQ_CORS_ORIGINS"`
}

func (a AppConfig) IsDev() bool {
	return strings.EqualFold(a.Env, AppEnvDev)
}

func (a AppConfig) IsProd() bool {
	return strings.EqualFold(a.Env, AppEnvProd)
}

type ServiceConfig struct {
	Kind string `envconfig:"SOUQ_SERVICE_KIND" default:"api"`
}

type DBConfig struct {
	DSN    string `envconfig:"SOUQ_DB_DSN"`
	Driver string `envconfig:"SOUQ_DB_DRIVER" default:"postgres"`

	Host     string `envconfig:"SOUQ_DB_HOST"`
	Port     int    `envconfig:"SOUQ_DB_PORT" default:"5432"`
	User     string `envconfig:"SOUQ_DB_USER"`
	Password string `envconfig:"SOUQ_DB_PASSWORD"`
	Name     string `envconfig:"SOUQ_DB_NAME"`
	SSLMode  string `envconfig:"SOUQ_DB_SSLMODE" default:"disable"`

	MaxOpenConns    int           `envconfig:"SOUQ_DB_MAX_OPEN_CONNS" default:"20"`
	MaxIdleConns    int           `envconfig:"SOUQ_DB_MAX_IDLE_CONNS" default:"10"`
	ConnMaxLifetime time.Duration `envconfig:"SOUQ_DB_CONN_MAX_LIFETIME" default:"1h"`
	ConnMaxIdleTime time.Duration `envconfig:"SOUQ_DB_CONN_MAX_IDLE_TIME" default:"10m"`
	TxMaxRetries    int           `envconfig:"SOUQ_DB_TX_MAX_RETRIES" default:"3"`
}

// IsMySQL reports whether the configured driver targets MySQL.
func (db DBConfig) IsMySQL() bool {
	return strings.EqualFold(db.Driver, DBDriverMySQL)
}

type RedisConfig struct {
	URL          string        `envconfig:"SOUQ_REDIS_URL" required:"true"`
	Address      string        `envconfig:"SOUQ_REDIS_ADDR"`
	Password     string        `envconfig:"SOUQ_REDIS_PASSWORD"`
	DB           int           `envconfig:"SOUQ_REDIS_DB" default:"0"`
	PoolSize     int           `envconfig:"SOUQ_REDIS_POOL_SIZE" default:"10"`
	MinIdleConns int           `envconfig:"SOUQ_REDIS_MIN_IDLE_CONNS" default:"2"`
	DialTimeout  time.Duration `envconfig:"SOUQ_REDIS_DIAL_TIMEOUT" default:"5s"`
	ReadTimeout  time.Duration `envconfig:"SOUQ_REDIS_READ_TIMEOUT" default:"5s"`
	WriteTimeout time.Duration `envconfig:"SOUQ_REDIS_WRITE_TIMEOUT" default:"5s"`
}

type JWTConfig struct {
	Secret            string `envconfig:"SOUQ_JWT_SECRET" required:"true"`
	Issuer            string `envconfig:"SOUQ_JWT_ISSUER" required:"true"`
	ExpirationMinutes int    `envconfig:"SOUQ_JWT_EXPIRATION_MINUTES" default:"60"`
}

type FeatureFlagsConfig struct {
	UseSQLite   bool `envconfig:"SOUQ_USE_SQLITE" default:"false"`
	AutoMigrate bool `envconfig:"SOUQ_AUTO_MIGRATE" default:"false"`
}

// MpesaConfig holds the Daraja credentials. Leaving any credential empty puts
// the gateway into simulation mode.
type MpesaConfig struct {
	ConsumerKey    string        `envconfig:"SOUQ_MPESA_CONSUMER_KEY"`
	ConsumerSecret string        `envconfig:"SOUQ_MPESA_CONSUMER_SECRET"`
	Passkey        string        `envconfig:"SOUQ_MPESA_PASSKEY"`
	Shortcode      string        `envconfig:"SOUQ_MPESA_SHORTCODE" default:"174379"`
	Environment    string        `envconfig:"SOUQ_MPESA_ENVIRONMENT" default:"sandbox"`
	CallbackURL    string        `envconfig:"SOUQ_MPESA_CALLBACK_URL"`
	Timeout        time.Duration `envconfig:"SOUQ_MPESA_TIMEOUT" default:"30s"`
}

// HasCredentials reports whether live gateway calls are possible.
func (m MpesaConfig) HasCredentials() bool {
	return strings.TrimSpace(m.ConsumerKey) != "" &&
		strings.TrimSpace(m.ConsumerSecret) != "" &&
		strings.TrimSpace(m.Passkey) != ""
}

// IsProduction reports whether requests target the live Daraja host.
func (m MpesaConfig) IsProduction() bool {
	return strings.EqualFold(strings.TrimSpace(m.Environment), MpesaEnvProduction)
}

func (m MpesaConfig) validate() error {
	env := strings.ToLower(strings.TrimSpace(m.Environment))
	if env != MpesaEnvSandbox && env != MpesaEnvProduction {
		return fmt.Errorf("%s must be %q or %q", EnvMpesaEnvironment, MpesaEnvSandbox, MpesaEnvProduction)
	}
	if m.HasCredentials() && strings.TrimSpace(m.CallbackURL) == "" {
		return fmt.Errorf("%s is required when gateway credentials are set", EnvMpesaCallbackURL)
	}
	return nil
}

type OrdersConfig struct {
	SellerReminderThreshold int `envconfig:"SOUQ_ORDERS_SELLER_REMINDER_THRESHOLD" default:"2"`
	AutoReleaseDays         int `envconfig:"SOUQ_ORDERS_AUTO_RELEASE_DAYS" default:"7"`
}

type WebhooksConfig struct {
	IdempotencyTTL time.Duration `envconfig:"SOUQ_WEBHOOKS_IDEMPOTENCY_TTL" default:"72h"`
}

type CronConfig struct {
	Interval       time.Duration `envconfig:"SOUQ_CRON_INTERVAL" default:"5m"`
	PaymentPollAge time.Duration `envconfig:"SOUQ_CRON_PAYMENT_POLL_AGE" default:"2m"`
	BatchSize      int           `envconfig:"SOUQ_CRON_BATCH_SIZE" default:"100"`
}

type GCPConfig struct {
	ProjectID string `envconfig:"SOUQ_GCP_PROJECT_ID"`
}

type PubSubConfig struct {
	DomainTopic string `envconfig:"SOUQ_PUBSUB_DOMAIN_TOPIC" default:"souq-domain-events"`
}

type OutboxConfig struct {
	BatchSize      int           `envconfig:"SOUQ_OUTBOX_PUBLISH_BATCH_SIZE" default:"50"`
	PollIntervalMS int           `envconfig:"SOUQ_OUTBOX_PUBLISH_POLL_MS" default:"500"`
	MaxAttempts    int           `envconfig:"SOUQ_OUTBOX_MAX_ATTEMPTS" default:"10"`
	Retention      time.Duration `envconfig:"SOUQ_OUTBOX_RETENTION" default:"720h"`
}

func (db *DBConfig) ensureDSN() error {
	if db.DSN != "" {
		return nil
	}

	missing := []string{}
	values := map[string]string{
		EnvDBHost: db.Host,
		EnvDBUser: db.User,
		EnvDBName: db.Name,
	}
	for _, env := range discreteDBEnvVars {
		if values[env] == "" {
			missing = append(missing, env)
		}
	}

	if len(missing) > 0 {
		return fmt.Errorf("either %s or %s are required", EnvDBDSN, strings.Join(missing, ", "))
	}

	if db.IsMySQL() {
		// user:pass@tcp(host:port)/name?parseTime=true
		db.DSN = fmt.Sprintf("%s:%s@tcp(%s:%d)/%s?parseTime=true&loc=UTC", db.User, db.Password, db.Host, db.Port, db.Name)
		return nil
	}

	userInfo := url.User(db.User)
	if db.Password != "" {
		userInfo = url.UserPassword(db.User, db.Password)
	}

	u := &url.URL{
		Scheme: "postgres",
		User:   userInfo,
		Host:   fmt.Sprintf("%s:%d", db.Host, db.Port),
		Path:   db.Name,
	}

	if db.SSLMode != "" {
		q := u.Query()
		q.Set("sslmode", db.SSLMode)
		u.RawQuery = q.Encode()
	}

	db.DSN = u.String()
	return nil
}
