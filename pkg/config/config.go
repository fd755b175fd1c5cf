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
	Ops          OpsConfig
	RateLimit    RateLimitConfig
	FeatureFlags FeatureFlagsConfig
	Eventing     EventingConfig
	Coupons      CouponsConfig
	Sync         SyncConfig
	Checkout     CheckoutConfig
	Stripe       StripeConfig
	LMS          LMSConfig
	Sendgrid     SendgridConfig
	GCP          GCPConfig
	PubSub       PubSubConfig
	BigQuery     BigQueryConfig
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
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks the cross-field requirements envconfig tags cannot express.
// Checkout URLs must be absolute because Stripe redirects the browser to them,
// and prod refuses to start with test keys or an unguarded ops surface.
func (c *Config) Validate() error {
	if err := requireAbsoluteURL(EnvCheckoutSuccessURL, c.Checkout.SuccessURL); err != nil {
		return err
	}
	if err := requireAbsoluteURL(EnvCheckoutCancelURL, c.Checkout.CancelURL); err != nil {
		return err
	}
	if c.Checkout.FreeRedirectURL != "" {
		if err := requireAbsoluteURL(EnvCheckoutFreeRedirectURL, c.Checkout.FreeRedirectURL); err != nil {
			return err
		}
	}

	if c.Sync.MaxDelay < c.Sync.BaseDelay {
		return fmt.Errorf("%s must not be below %s", EnvSyncMaxDelay, EnvSyncBaseDelay)
	}

	if c.App.IsProd() {
		if c.Stripe.APIKey == "" {
			return fmt.Errorf("%s is required when %s is %s", EnvStripeAPIKey, EnvAppEnv, AppEnvProd)
		}
		if c.Stripe.SigningSecret == "" {
			return fmt.Errorf("%s is required when %s is %s", EnvStripeSigningSecret, EnvAppEnv, AppEnvProd)
		}
		if c.Stripe.Environment() != "live" {
			return fmt.Errorf("%s must be live when %s is %s", EnvStripeEnv, EnvAppEnv, AppEnvProd)
		}
		if c.Ops.TokenHash == "" {
			return fmt.Errorf("%s is required when %s is %s", EnvOpsTokenHash, EnvAppEnv, AppEnvProd)
		}
	}

	return nil
}

func requireAbsoluteURL(envName, raw string) error {
	u, err := url.Parse(raw)
	if err != nil || !u.IsAbs() || u.Host == "" {
		return fmt.Errorf("%s must be an absolute URL, got %q", envName, raw)
	}
	return nil
}

type AppConfig struct {
	Env          string `envconfig:"LEARNLY_APP_ENV" required:"true"`
	Port         string `envconfig:"LEARNLY_APP_PORT" required:"true"`
	LogLevel     string `envconfig:"LEARNLY_LOG_LEVEL" default:"info"`
	LogWarnStack bool   `envconfig:"LEARNLY_LOG_WARN_STACK" default:"false"`
}

func (a AppConfig) IsDev() bool {
	return strings.EqualFold(a.Env, AppEnvDev)
}

func (a AppConfig) IsProd() bool {
	return strings.EqualFold(a.Env, AppEnvProd)
}

type ServiceConfig struct {
	Kind string `envconfig:"LEARNLY_SERVICE_KIND" default:"api"`
}

type DBConfig struct {
	DSN    string `envconfig:"LEARNLY_DB_DSN"`
	Driver string `envconfig:"LEARNLY_DB_DRIVER" default:"postgres"`

	LegacyHost     string `envconfig:"LEARNLY_DB_HOST"`
	LegacyPort     int    `envconfig:"LEARNLY_DB_PORT" default:"5432"`
	LegacyUser     string `envconfig:"LEARNLY_DB_USER"`
	LegacyPassword string `envconfig:"LEARNLY_DB_PASSWORD"`
	LegacyName     string `envconfig:"LEARNLY_DB_NAME"`
	LegacySSLMode  string `envconfig:"LEARNLY_DB_SSLMODE" default:"disable"`

	MaxOpenConns    int           `envconfig:"LEARNLY_DB_MAX_OPEN_CONNS" default:"20"`
	MaxIdleConns    int           `envconfig:"LEARNLY_DB_MAX_IDLE_CONNS" default:"10"`
	ConnMaxLifetime time.Duration `envconfig:"LEARNLY_DB_CONN_MAX_LIFETIME" default:"1h"`
	ConnMaxIdleTime time.Duration `envconfig:"LEARNLY_DB_CONN_MAX_IDLE_TIME" default:"10m"`
}

type RedisConfig struct {
	URL          string        `envconfig:"LEARNLY_REDIS_URL" required:"true"`
	Address      string        `envconfig:"LEARNLY_REDIS_ADDR"`
	Password     string        `envconfig:"LEARNLY_REDIS_PASSWORD"`
	DB           int           `envconfig:"LEARNLY_REDIS_DB" default:"0"`
	PoolSize     int           `envconfig:"LEARNLY_REDIS_POOL_SIZE" default:"10"`
	MinIdleConns int           `envconfig:"LEARNLY_REDIS_MIN_IDLE_CONNS" default:"2"`
	DialTimeout  time.Duration `envconfig:"LEARNLY_REDIS_DIAL_TIMEOUT" default:"5s"`
	ReadTimeout  time.Duration `envconfig:"LEARNLY_REDIS_READ_TIMEOUT" default:"5s"`
	WriteTimeout time.Duration `envconfig:"LEARNLY_REDIS_WRITE_TIMEOUT" default:"5s"`
}

// JWTConfig verifies caller tokens minted by the storefront with a shared secret.
type JWTConfig struct {
	Secret            string `envconfig:"LEARNLY_JWT_SECRET" required:"true"`
	Issuer            string `envconfig:"LEARNLY_JWT_ISSUER" required:"true"`
	ExpirationMinutes int    `envconfig:"LEARNLY_JWT_EXPIRATION_MINUTES" default:"60"`
}

// OpsConfig guards the operator endpoints. TokenHash is an Argon2id-encoded
// hash of the shared operator token.
type OpsConfig struct {
	TokenHash string `envconfig:"LEARNLY_OPS_TOKEN_HASH"`
}

type RateLimitConfig struct {
	CheckoutWindow     time.Duration `envconfig:"LEARNLY_RATE_LIMIT_CHECKOUT_WINDOW" default:"1m"`
	CheckoutEmailLimit int           `envconfig:"LEARNLY_RATE_LIMIT_CHECKOUT_EMAIL_LIMIT" default:"10"`
	CheckoutIPLimit    int           `envconfig:"LEARNLY_RATE_LIMIT_CHECKOUT_IP_LIMIT" default:"30"`
}

type FeatureFlagsConfig struct {
	AutoMigrate bool `envconfig:"LEARNLY_AUTO_MIGRATE" default:"false"`
}

type EventingConfig struct {
	OutboxIdempotencyTTL time.Duration `envconfig:"LEARNLY_EVENTING_IDEMPOTENCY_TTL" default:"720h"`
}

type CouponsConfig struct {
	ReservationTTL time.Duration `envconfig:"LEARNLY_COUPONS_RESERVATION_TTL" default:"30m"`
}

type SyncConfig struct {
	BatchSize           int           `envconfig:"LEARNLY_SYNC_BATCH_SIZE" default:"50"`
	MaxAttempts         int           `envconfig:"LEARNLY_SYNC_MAX_ATTEMPTS" default:"5"`
	BaseDelay           time.Duration `envconfig:"LEARNLY_SYNC_BASE_DELAY" default:"2m"`
	MaxDelay            time.Duration `envconfig:"LEARNLY_SYNC_MAX_DELAY" default:"32m"`
	LeaseTimeout        time.Duration `envconfig:"LEARNLY_SYNC_LEASE_TIMEOUT" default:"10m"`
	Interval            time.Duration `envconfig:"LEARNLY_SYNC_INTERVAL" default:"1m"`
	ImmediateRetryDelay time.Duration `envconfig:"LEARNLY_SYNC_IMMEDIATE_RETRY_DELAY" default:"2s"`
}

type CheckoutConfig struct {
	SuccessURL      string `envconfig:"LEARNLY_CHECKOUT_SUCCESS_URL" required:"true"`
	CancelURL       string `envconfig:"LEARNLY_CHECKOUT_CANCEL_URL" required:"true"`
	FreeRedirectURL string `envconfig:"LEARNLY_CHECKOUT_FREE_REDIRECT_URL"`
	Currency        string `envconfig:"LEARNLY_CHECKOUT_CURRENCY" default:"usd"`
}

type StripeConfig struct {
	APIKey        string `envconfig:"LEARNLY_STRIPE_API_KEY"`
	SigningSecret string `envconfig:"LEARNLY_STRIPE_SIGNING_SECRET"`
	Env           string `envconfig:"LEARNLY_STRIPE_ENV" default:"test"`
}

// Environment returns the normalized Stripe environment (test/live).
func (s StripeConfig) Environment() string {
	env := strings.TrimSpace(strings.ToLower(s.Env))
	if env == "" {
		return "test"
	}
	return env
}

// LMSConfig points at the Frappe instance enrollments are pushed to.
type LMSConfig struct {
	BaseURL   string        `envconfig:"LEARNLY_LMS_BASE_URL"`
	APIKey    string        `envconfig:"LEARNLY_LMS_API_KEY"`
	APISecret string        `envconfig:"LEARNLY_LMS_API_SECRET"`
	Timeout   time.Duration `envconfig:"LEARNLY_LMS_TIMEOUT" default:"5s"`
}

type SendgridConfig struct {
	APIKey             string `envconfig:"LEARNLY_SENDGRID_API_KEY"`
	DefaultFrom        string `envconfig:"LEARNLY_SENDGRID_FROM_EMAIL"`
	DefaultFromName    string `envconfig:"LEARNLY_SENDGRID_FROM_NAME" default:"Learnly"`
	EnrollmentTemplate string `envconfig:"LEARNLY_SENDGRID_ENROLLMENT_TEMPLATE_ID"`
}

type GCPConfig struct {
	ProjectID              string `envconfig:"LEARNLY_GCP_PROJECT_ID" required:"true"`
	CredentialsJSON        string `envconfig:"LEARNLY_GCP_CREDENTIALS_JSON"`
	ApplicationCredentials string `envconfig:"LEARNLY_GOOGLE_APPLICATION_CREDENTIALS"`
}

type PubSubConfig struct {
	DomainTopic           string `envconfig:"LEARNLY_PUBSUB_DOMAIN_TOPIC" required:"true"`
	AnalyticsSubscription string `envconfig:"LEARNLY_PUBSUB_ANALYTICS_SUBSCRIPTION" required:"true"`
}

type BigQueryConfig struct {
	Dataset              string `envconfig:"LEARNLY_BIGQUERY_DATASET" default:"learnly"`
	EnrollmentFactsTable string `envconfig:"LEARNLY_BIGQUERY_ENROLLMENT_FACTS_TABLE" default:"enrollment_facts"`
}

type OutboxConfig struct {
	BatchSize      int `envconfig:"LEARNLY_OUTBOX_PUBLISH_BATCH_SIZE" default:"50"`
	PollIntervalMS int `envconfig:"LEARNLY_OUTBOX_PUBLISH_POLL_MS" default:"500"`
	MaxAttempts    int `envconfig:"LEARNLY_OUTBOX_MAX_ATTEMPTS" default:"10"`
	RetentionDays  int `envconfig:"LEARNLY_OUTBOX_RETENTION_DAYS" default:"30"`
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
