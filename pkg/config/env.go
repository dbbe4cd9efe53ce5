package config

const (
	EnvPrefix = "DROPDAY"

	AppEnvDev  = "dev"
	AppEnvProd = "prod"

	EnvAppEnv   = "DROPDAY_APP_ENV"
	EnvPort     = "DROPDAY_APP_PORT"
	EnvLogLevel = "DROPDAY_LOG_LEVEL"

	EnvDBDSN  = "DROPDAY_DB_DSN"
	EnvDBHost = "DROPDAY_DB_HOST"
	EnvDBUser = "DROPDAY_DB_USER"
	EnvDBName = "DROPDAY_DB_NAME"

	EnvRedisURL = "DROPDAY_REDIS_URL"

	EnvJWTSecret = "DROPDAY_JWT_SECRET"
	EnvJWTIssuer = "DROPDAY_JWT_ISSUER"

	EnvGCPProjectID = "DROPDAY_GCP_PROJECT_ID"

	EnvPubSubOrdersTopic       = "DROPDAY_PUBSUB_ORDERS_TOPIC"
	EnvPubSubPaymentsTopic     = "DROPDAY_PUBSUB_PAYMENTS_TOPIC"
	EnvPubSubDeliveriesTopic   = "DROPDAY_PUBSUB_DELIVERIES_TOPIC"
	EnvPubSubDisputesTopic     = "DROPDAY_PUBSUB_DISPUTES_TOPIC"
	EnvPubSubNotificationTopic = "DROPDAY_PUBSUB_NOTIFICATION_TOPIC"
	EnvPubSubNotificationSub   = "DROPDAY_PUBSUB_NOTIFICATION_SUBSCRIPTION"

	EnvPricingPlatformFeeBrackets = "DROPDAY_PRICING_PLATFORM_FEE_BRACKETS"
	EnvPricingDefaultDeliveryFee  = "DROPDAY_PRICING_DEFAULT_DELIVERY_FEE"
)

var legacyDBEnvVars = []string{EnvDBHost, EnvDBUser, EnvDBName}
