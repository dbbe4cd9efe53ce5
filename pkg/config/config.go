package config

import (
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/kelseyhightower/envconfig"
	"github.com/shopspring/decimal"
)

type Config struct {
	App          AppConfig
	Service      ServiceConfig
	DB           DBConfig
	Redis        RedisConfig
	JWT          JWTConfig
	FeatureFlags FeatureFlagsConfig
	Eventing     EventingConfig
	GCP          GCPConfig
	PubSub       PubSubConfig
	Outbox       OutboxConfig
	Pricing      PricingConfig
	Delivery     DeliveryConfig
	Cron         CronConfig
}

func Load() (*Config, error) {
	var cfg Config
	if err := envconfig.Process(EnvPrefix, &cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}
	if err := cfg.DB.ensureDSN(); err != nil {
		return nil, err
	}
	if _, err := cfg.Pricing.Brackets(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

type AppConfig struct {
	Env          string   `envconfig:"DROPDAY_APP_ENV" required:"true"`
	Port         string   `envconfig:"DROPDAY_APP_PORT" required:"true"`
	LogLevel     string   `envconfig:"DROPDAY_LOG_LEVEL" default:"info"`
	LogWarnStack bool     `envconfig:"DROPDAY_LOG_WARN_STACK" default:"false"`
	CORSOrigins  []string `envconfig:"DROPDAY_CORS_ORIGINS" default:"http://localhost:3000"`
}

func (a AppConfig) IsDev() bool {
	return strings.EqualFold(a.Env, AppEnvDev)
}

func (a AppConfig) IsProd() bool {
	return strings.EqualFold(a.Env, AppEnvProd)
}

type ServiceConfig struct {
	Kind string `envconfig:"DROPDAY_SERVICE_KIND" default:"api"`
}

type DBConfig struct {
	DSN    string `envconfig:"DROPDAY_DB_DSN"`
	Driver string `envconfig:"DROPDAY_DB_DRIVER" default:"postgres"`

	LegacyHost     string `envconfig:"DROPDAY_DB_HOST"`
	LegacyPort     int    `envconfig:"DROPDAY_DB_PORT" default:"5432"`
	LegacyUser     string `envconfig:"DROPDAY_DB_USER"`
	LegacyPassword string `envconfig:"DROPDAY_DB_PASSWORD"`
	LegacyName     string `envconfig:"DROPDAY_DB_NAME"`
	LegacySSLMode  string `envconfig:"DROPDAY_DB_SSLMODE" default:"disable"`

	MaxOpenConns    int           `envconfig:"DROPDAY_DB_MAX_OPEN_CONNS" default:"20"`
	MaxIdleConns    int           `envconfig:"DROPDAY_DB_MAX_IDLE_CONNS" default:"10"`
	ConnMaxLifetime time.Duration `envconfig:"DROPDAY_DB_CONN_MAX_LIFETIME" default:"1h"`
	ConnMaxIdleTime time.Duration `envconfig:"DROPDAY_DB_CONN_MAX_IDLE_TIME" default:"10m"`
}

type RedisConfig struct {
	URL          string        `envconfig:"DROPDAY_REDIS_URL" required:"true"`
	Address      string        `envconfig:"DROPDAY_REDIS_ADDR"`
	Password     string        `envconfig:"DROPDAY_REDIS_PASSWORD"`
	DB           int           `envconfig:"DROPDAY_REDIS_DB" default:"0"`
	PoolSize     int           `envconfig:"DROPDAY_REDIS_POOL_SIZE" default:"10"`
	MinIdleConns int           `envconfig:"DROPDAY_REDIS_MIN_IDLE_CONNS" default:"2"`
	DialTimeout  time.Duration `envconfig:"DROPDAY_REDIS_DIAL_TIMEOUT" default:"5s"`
	ReadTimeout  time.Duration `envconfig:"DROPDAY_REDIS_READ_TIMEOUT" default:"5s"`
	WriteTimeout time.Duration `envconfig:"DROPDAY_REDIS_WRITE_TIMEOUT" default:"5s"`
}

// JWTConfig validates access tokens minted by the identity provider.
type JWTConfig struct {
	Secret string `envconfig:"DROPDAY_JWT_SECRET" required:"true"`
	Issuer string `envconfig:"DROPDAY_JWT_ISSUER" required:"true"`
}

type FeatureFlagsConfig struct {
	UseSQLite   bool `envconfig:"DROPDAY_USE_SQLITE" default:"false"`
	AutoMigrate bool `envconfig:"DROPDAY_AUTO_MIGRATE" default:"false"`
}

type EventingConfig struct {
	OutboxIdempotencyTTL time.Duration `envconfig:"DROPDAY_EVENTING_IDEMPOTENCY_TTL" default:"720h"`
	LiveChannel          string        `envconfig:"DROPDAY_LIVE_CHANNEL" default:"dropday:live"`
}

type GCPConfig struct {
	ProjectID              string `envconfig:"DROPDAY_GCP_PROJECT_ID" required:"true"`
	CredentialsJSON        string `envconfig:"DROPDAY_GCP_CREDENTIALS_JSON"`
	ApplicationCredentials string `envconfig:"DROPDAY_GOOGLE_APPLICATION_CREDENTIALS"`
}

// PubSubConfig names one topic per aggregate family. Payment, delivery and
// dispute events fall back to OrdersTopic when their topic is blank.
type PubSubConfig struct {
	OrdersTopic              string `envconfig:"DROPDAY_PUBSUB_ORDERS_TOPIC" required:"true"`
	PaymentsTopic            string `envconfig:"DROPDAY_PUBSUB_PAYMENTS_TOPIC"`
	DeliveriesTopic          string `envconfig:"DROPDAY_PUBSUB_DELIVERIES_TOPIC"`
	DisputesTopic            string `envconfig:"DROPDAY_PUBSUB_DISPUTES_TOPIC"`
	NotificationTopic        string `envconfig:"DROPDAY_PUBSUB_NOTIFICATION_TOPIC" default:"dd-notification-events"`
	NotificationSubscription string `envconfig:"DROPDAY_PUBSUB_NOTIFICATION_SUBSCRIPTION" required:"true"`
	OrderedDelivery          bool   `envconfig:"DROPDAY_PUBSUB_ORDERED_DELIVERY" default:"true"`
}

type OutboxConfig struct {
	BatchSize      int           `envconfig:"DROPDAY_OUTBOX_PUBLISH_BATCH_SIZE" default:"50"`
	PollIntervalMS int           `envconfig:"DROPDAY_OUTBOX_PUBLISH_POLL_MS" default:"500"`
	MaxAttempts    int           `envconfig:"DROPDAY_OUTBOX_MAX_ATTEMPTS" default:"10"`
	Retention      time.Duration `envconfig:"DROPDAY_OUTBOX_RETENTION" default:"720h"`
	// Only replayed dead letters age out; unresolved ones stay until replayed.
	DeadLetterRetention time.Duration `envconfig:"DROPDAY_OUTBOX_DEAD_LETTER_RETENTION" default:"2160h"`
}

// PricingConfig holds the fee policy inputs. Money values are decimal strings.
type PricingConfig struct {
	PlatformFeeBrackets string `envconfig:"DROPDAY_PRICING_PLATFORM_FEE_BRACKETS" default:"*:5:0"`
	DefaultDeliveryFee  string `envconfig:"DROPDAY_PRICING_DEFAULT_DELIVERY_FEE" default:"500"`
	DeliveryBaseFee     string `envconfig:"DROPDAY_PRICING_DELIVERY_BASE_FEE" default:"300"`
	DeliveryPerKm       string `envconfig:"DROPDAY_PRICING_DELIVERY_PER_KM" default:"100"`
	DeliveryFloor       string `envconfig:"DROPDAY_PRICING_DELIVERY_FLOOR" default:"300"`
	DeliveryCap         string `envconfig:"DROPDAY_PRICING_DELIVERY_CAP" default:"3000"`
}

// FeeBracket applies Percent of the subtotal plus Flat while subtotal <= UpTo.
// A nil UpTo is the open-ended last bracket.
type FeeBracket struct {
	UpTo    *decimal.Decimal
	Percent decimal.Decimal
	Flat    decimal.Decimal
}

// Brackets parses PlatformFeeBrackets, formatted as "upTo:percent:flat" entries
// separated by commas, with "*" marking the open-ended bracket.
func (p PricingConfig) Brackets() ([]FeeBracket, error) {
	raw := strings.TrimSpace(p.PlatformFeeBrackets)
	if raw == "" {
		return nil, fmt.Errorf("%s must not be empty", EnvPricingPlatformFeeBrackets)
	}
	var out []FeeBracket
	for _, entry := range strings.Split(raw, ",") {
		parts := strings.Split(strings.TrimSpace(entry), ":")
		if len(parts) != 3 {
			return nil, fmt.Errorf("invalid fee bracket %q", entry)
		}
		var bracket FeeBracket
		if parts[0] != "*" {
			upTo, err := decimal.NewFromString(parts[0])
			if err != nil {
				return nil, fmt.Errorf("invalid fee bracket bound %q: %w", parts[0], err)
			}
			bracket.UpTo = &upTo
		}
		pct, err := decimal.NewFromString(parts[1])
		if err != nil || pct.IsNegative() {
			return nil, fmt.Errorf("invalid fee bracket percent %q", parts[1])
		}
		flat, err := decimal.NewFromString(parts[2])
		if err != nil || flat.IsNegative() {
			return nil, fmt.Errorf("invalid fee bracket flat amount %q", parts[2])
		}
		bracket.Percent = pct
		bracket.Flat = flat
		out = append(out, bracket)
	}
	for i := 1; i < len(out); i++ {
		prev, cur := out[i-1].UpTo, out[i].UpTo
		if prev == nil {
			return nil, fmt.Errorf("open-ended fee bracket must be last")
		}
		if cur != nil && !cur.GreaterThan(*prev) {
			return nil, fmt.Errorf("fee bracket bounds must increase")
		}
	}
	return out, nil
}

// Amount parses one of the decimal money fields, falling back when blank.
func Amount(value string, fallback decimal.Decimal) decimal.Decimal {
	value = strings.TrimSpace(value)
	if value == "" {
		return fallback
	}
	d, err := decimal.NewFromString(value)
	if err != nil {
		return fallback
	}
	return d
}

type DeliveryConfig struct {
	LocationUpdatesPerMinute int `envconfig:"DROPDAY_DELIVERY_LOCATION_UPDATES_PER_MINUTE" default:"60"`
}

type CronConfig struct {
	EscrowSweepSchedule     string        `envconfig:"DROPDAY_CRON_ESCROW_SWEEP" default:"0 */5 * * * *"`
	PendingExpirySchedule   string        `envconfig:"DROPDAY_CRON_PENDING_EXPIRY" default:"0 */10 * * * *"`
	OutboxRetentionSchedule string        `envconfig:"DROPDAY_CRON_OUTBOX_RETENTION" default:"0 0 3 * * *"`
	PendingOrderTTL         time.Duration `envconfig:"DROPDAY_PENDING_ORDER_TTL" default:"2h"`
	LockTTL                 time.Duration `envconfig:"DROPDAY_CRON_LOCK_TTL" default:"5m"`
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
