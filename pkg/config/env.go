package config

const EnvPrefix = "SOUQ"

const (
	AppEnvDev  = "dev"
	AppEnvProd = "prod"

	DBDriverPostgres = "postgres"
	DBDriverMySQL    = "mysql"

	MpesaEnvSandbox    = "sandbox"
	MpesaEnvProduction = "production"
)

const (
	EnvAppEnv    = "SOUQ_APP_ENV"
	EnvPort      = "SOUQ_APP_PORT"
	EnvLogLevel  = "SOUQ_LOG_LEVEL"
	EnvLogFormat = "SOUQ_LOG_FORMAT"

	EnvDBDSN    = "SOUQ_DB_DSN"
	EnvDBDriver = "SOUQ_DB_DRIVER"
	EnvDBHost   = "SOUQ_DB_HOST"
	EnvDBPort   = "SOUQ_DB_PORT"
	EnvDBUser   = "SOUQ_DB_USER"
	EnvDBPass   = "SOUQ_DB_PASSWORD"
	EnvDBName   = "SOUQ_DB_NAME"

	EnvRedisURL = "SOUQ_REDIS_URL"

	EnvJWTSecret = "SOUQ_JWT_SECRET"
	EnvJWTIssuer = "SOUQ_JWT_ISSUER"

	EnvMpesaConsumerKey    = "SOUQ_MPESA_CONSUMER_KEY"
	EnvMpesaConsumerSecret = "SOUQ_MPESA_CONSUMER_SECRET"
	EnvMpesaPasskey        = "SOUQ_MPESA_PASSKEY"
	EnvMpesaShortcode      = "SOUQ_MPESA_SHORTCODE"
	EnvMpesaEnvironment    = "SOUQ_MPESA_ENVIRONMENT"
	EnvMpesaCallbackURL    = "SOUQ_MPESA_CALLBACK_URL"

	EnvOrdersReminderThreshold = "SOUQ_ORDERS_SELLER_REMINDER_THRESHOLD"
)

var discreteDBEnvVars = []string{EnvDBHost, EnvDBUser, EnvDBName}
