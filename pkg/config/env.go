package config

// EnvPrefix is the envconfig prefix shared by every binary.
const EnvPrefix = "LEARNLY"

const (
	AppEnvDev  = "dev"
	AppEnvProd = "prod"
)

// Env var names referenced outside struct tags (DSN assembly, tests).
const (
	EnvAppEnv = "LEARNLY_APP_ENV"
	EnvPort   = "LEARNLY_APP_PORT"

	EnvDBDSN  = "LEARNLY_DB_DSN"
	EnvDBHost = "LEARNLY_DB_HOST"
	EnvDBUser = "LEARNLY_DB_USER"
	EnvDBName = "LEARNLY_DB_NAME"

	EnvRedisURL = "LEARNLY_REDIS_URL"

	EnvJWTSecret  = "LEARNLY_JWT_SECRET"
	EnvJWTIssuer  = "LEARNLY_JWT_ISSUER"
	EnvJWTExpMins = "LEARNLY_JWT_EXPIRATION_MINUTES"

	EnvCheckoutSuccessURL      = "LEARNLY_CHECKOUT_SUCCESS_URL"
	EnvCheckoutCancelURL       = "LEARNLY_CHECKOUT_CANCEL_URL"
	EnvCheckoutFreeRedirectURL = "LEARNLY_CHECKOUT_FREE_REDIRECT_URL"

	EnvSyncBaseDelay = "LEARNLY_SYNC_BASE_DELAY"
	EnvSyncMaxDelay  = "LEARNLY_SYNC_MAX_DELAY"

	EnvStripeAPIKey        = "LEARNLY_STRIPE_API_KEY"
	EnvStripeSigningSecret = "LEARNLY_STRIPE_SIGNING_SECRET"
	EnvStripeEnv           = "LEARNLY_STRIPE_ENV"

	EnvOpsTokenHash = "LEARNLY_OPS_TOKEN_HASH"

	EnvGCPProjectID   = "LEARNLY_GCP_PROJECT_ID"
	EnvPubSubDomain   = "LEARNLY_PUBSUB_DOMAIN_TOPIC"
	EnvPubSubAnalySub = "LEARNLY_PUBSUB_ANALYTICS_SUBSCRIPTION"
)

var legacyDBEnvVars = []string{EnvDBHost, EnvDBUser, EnvDBName}
