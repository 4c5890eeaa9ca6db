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
	OpenAI       OpenAIConfig
	Generation   GenerationConfig
	Credits      CreditsConfig
	Orchestrator OrchestratorConfig
	Cron         CronConfig
	RateLimit    RateLimitConfig
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
	if err := cfg.Credits.validate(); err != nil {
		return nil, err
	}
	if err := cfg.Generation.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

type AppConfig struct {
	Env          string   `envconfig:"CANTORA_APP_ENV" required:"true"`
	Port         string   `envconfig:"CANTORA_APP_PORT" required:"true"`
	LogLevel     string   `envconfig:"CANTORA_LOG_LEVEL" default:"info"`
	LogWarnStack bool     `envconfig:"CANTORA_LOG_WARN_STACK" default:"false"`
	CORSOrigins  []string `envconfig:"CANTORA_CORS_ORIGINS" default:"http://localhost:3000"`
	// MetricsAddr is where workers expose /metrics. Empty disables it.
	MetricsAddr string `envconfig:"CANTORA_METRICS_ADDR"`
}

func (a AppConfig) IsDev() bool {
	return strings.EqualFold(a.Env, AppEnvDev)
}

func (a AppConfig) IsProd() bool {
	return strings.EqualFold(a.Env, AppEnvProd)
}

type ServiceConfig struct {
	Kind string `envconfig:"CANTORA_SERVICE_KIND" default:"api"`
}

type DBConfig struct {
	DSN    string `envconfig:"CANTORA_DB_DSN"`
	Driver string `envconfig:"CANTORA_DB_DRIVER" default:"postgres"`

	Host     string `envconfig:"CANTORA_DB_HOST"`
	Port     int    `envconfig:"CANTORA_DB_PORT" default:"5432"`
	User     string `envconfig:"CANTORA_DB_USER"`
	Password string `envconfig:"CANTORA_DB_PASSWORD"`
	Name     string `envconfig:"CANTORA_DB_NAME"`
	SSLMode  string `envconfig:"CANTORA_DB_SSLMODE" default:"disable"`

	MaxOpenConns    int           `envconfig:"CANTORA_DB_MAX_OPEN_CONNS" default:"20"`
	MaxIdleConns    int           `envconfig:"CANTORA_DB_MAX_IDLE_CONNS" default:"10"`
	ConnMaxLifetime time.Duration `envconfig:"CANTORA_DB_CONN_MAX_LIFETIME" default:"1h"`
	ConnMaxIdleTime time.Duration `envconfig:"CANTORA_DB_CONN_MAX_IDLE_TIME" default:"10m"`

	// SlowQuery logs statements slower than this at warn. Zero disables it.
	SlowQuery  time.Duration `envconfig:"CANTORA_DB_SLOW_QUERY" default:"500ms"`
	TxAttempts int           `envconfig:"CANTORA_DB_TX_ATTEMPTS" default:"3"`
}

func (d *DBConfig) ensureDSN() error {
	if strings.TrimSpace(d.DSN) != "" {
		return nil
	}
	if d.Host == "" || d.User == "" || d.Name == "" {
		return fmt.Errorf("database configuration requires %s or host/user/name", EnvDBDSN)
	}
	u := url.URL{
		Scheme: "postgres",
		User:   url.UserPassword(d.User, d.Password),
		Host:   fmt.Sprintf("%s:%d", d.Host, d.Port),
		Path:   d.Name,
	}
	q := u.Query()
	q.Set("sslmode", d.SSLMode)
	u.RawQuery = q.Encode()
	d.DSN = u.String()
	return nil
}

type RedisConfig struct {
	URL          string        `envconfig:"CANTORA_REDIS_URL" required:"true"`
	Address      string        `envconfig:"CANTORA_REDIS_ADDR"`
	Password     string        `envconfig:"CANTORA_REDIS_PASSWORD"`
	DB           int           `envconfig:"CANTORA_REDIS_DB" default:"0"`
	PoolSize     int           `envconfig:"CANTORA_REDIS_POOL_SIZE" default:"10"`
	MinIdleConns int           `envconfig:"CANTORA_REDIS_MIN_IDLE_CONNS" default:"2"`
	DialTimeout  time.Duration `envconfig:"CANTORA_REDIS_DIAL_TIMEOUT" default:"5s"`
	ReadTimeout  time.Duration `envconfig:"CANTORA_REDIS_READ_TIMEOUT" default:"5s"`
	WriteTimeout time.Duration `envconfig:"CANTORA_REDIS_WRITE_TIMEOUT" default:"5s"`
}

type JWTConfig struct {
	Secret            string `envconfig:"CANTORA_JWT_SECRET" required:"true"`
	Issuer            string `envconfig:"CANTORA_JWT_ISSUER" required:"true"`
	ExpirationMinutes int    `envconfig:"CANTORA_JWT_EXPIRATION_MINUTES" default:"60"`
}

type FeatureFlagsConfig struct {
	AutoMigrate          bool `envconfig:"CANTORA_AUTO_MIGRATE" default:"false"`
	Notifications        bool `envconfig:"CANTORA_FEATURE_NOTIFICATIONS" default:"true"`
	DistributedApproval  bool `envconfig:"CANTORA_FEATURE_DISTRIBUTED_APPROVAL_LOCK" default:"true"`
	AutoRetryStuckOrders bool `envconfig:"CANTORA_FEATURE_AUTO_RETRY_STUCK" default:"false"`
}

type OpenAIConfig struct {
	APIKey  string `envconfig:"CANTORA_OPENAI_API_KEY"`
	OrgID   string `envconfig:"CANTORA_OPENAI_ORG_ID"`
	BaseURL string `envconfig:"CANTORA_OPENAI_BASE_URL"`
	Model   string `envconfig:"CANTORA_OPENAI_MODEL" default:"gpt-4o-mini"`
}

// GenerationConfig selects the generation provider and carries its timeouts.
type GenerationConfig struct {
	Provider            string        `envconfig:"CANTORA_GENERATION_PROVIDER" default:"openai"`
	HTTPBaseURL         string        `envconfig:"CANTORA_GENERATION_HTTP_BASE_URL"`
	HTTPAPIKey          string        `envconfig:"CANTORA_GENERATION_HTTP_API_KEY"`
	LyricsTimeout       time.Duration `envconfig:"CANTORA_GENERATION_LYRICS_TIMEOUT" default:"60s"`
	StylePromptTimeout  time.Duration `envconfig:"CANTORA_GENERATION_STYLE_PROMPT_TIMEOUT" default:"60s"`
	ApprovalBackoff     time.Duration `envconfig:"CANTORA_GENERATION_APPROVAL_BACKOFF" default:"1200ms"`
	OrchestratorBackoff time.Duration `envconfig:"CANTORA_GENERATION_ORCHESTRATOR_BACKOFF" default:"2s"`
	MaxAttempts         int           `envconfig:"CANTORA_GENERATION_MAX_ATTEMPTS" default:"2"`
}

func (g GenerationConfig) validate() error {
	switch strings.ToLower(strings.TrimSpace(g.Provider)) {
	case GenerationProviderOpenAI, GenerationProviderHTTP:
	default:
		return fmt.Errorf("unsupported generation provider %q", g.Provider)
	}
	if g.MaxAttempts <= 0 {
		return fmt.Errorf("%s must be positive", EnvGenerationMaxAttempts)
	}
	return nil
}

type CreditsConfig struct {
	CASRetries        int    `envconfig:"CANTORA_CREDITS_CAS_RETRIES" default:"1"`
	SubscriptionGuard string `envconfig:"CANTORA_CREDITS_SUBSCRIPTION_GUARD" default:"count"`
}

func (c CreditsConfig) validate() error {
	if c.CASRetries < 0 {
		return fmt.Errorf("%s must not be negative", EnvCreditsCASRetries)
	}
	switch c.SubscriptionGuard {
	case SubscriptionGuardCount, SubscriptionGuardCounter:
		return nil
	default:
		return fmt.Errorf("unsupported subscription guard %q", c.SubscriptionGuard)
	}
}

type OrchestratorConfig struct {
	DetailedDeadline  time.Duration `envconfig:"CANTORA_ORCHESTRATOR_DETAILED_DEADLINE" default:"120s"`
	QuickDeadline     time.Duration `envconfig:"CANTORA_ORCHESTRATOR_QUICK_DEADLINE" default:"5m"`
	ApprovalLockTTL   time.Duration `envconfig:"CANTORA_ORCHESTRATOR_APPROVAL_LOCK_TTL" default:"3m"`
	DefaultLanguage   string        `envconfig:"CANTORA_ORCHESTRATOR_DEFAULT_LANGUAGE" default:"pt"`
	DefaultVoiceType  string        `envconfig:"CANTORA_ORCHESTRATOR_DEFAULT_VOICE_TYPE" default:"feminina"`
	LyricOptionsCount int           `envconfig:"CANTORA_ORCHESTRATOR_LYRIC_OPTIONS" default:"2"`
}

// CronConfig drives the cron worker. Parked outbox rows are kept longer than
// published ones so failed notifications can be inspected.
type CronConfig struct {
	Interval              time.Duration `envconfig:"CANTORA_CRON_INTERVAL" default:"5m"`
	LockTTL               time.Duration `envconfig:"CANTORA_CRON_LOCK_TTL" default:"4m"`
	StuckThreshold        time.Duration `envconfig:"CANTORA_CRON_STUCK_THRESHOLD" default:"10m"`
	StuckBatchLimit       int           `envconfig:"CANTORA_CRON_STUCK_BATCH_LIMIT" default:"100"`
	OutboxRetention       time.Duration `envconfig:"CANTORA_CRON_OUTBOX_RETENTION" default:"720h"`
	OutboxParkedRetention time.Duration `envconfig:"CANTORA_CRON_OUTBOX_PARKED_RETENTION" default:"2160h"`
}

// RateLimitConfig throttles the routes that call the generation provider.
type RateLimitConfig struct {
	GenerationWindow    time.Duration `envconfig:"CANTORA_RATE_LIMIT_GENERATION_WINDOW" default:"1m"`
	GenerationUserLimit int           `envconfig:"CANTORA_RATE_LIMIT_GENERATION_USER_LIMIT" default:"10"`
	GenerationIPLimit   int           `envconfig:"CANTORA_RATE_LIMIT_GENERATION_IP_LIMIT" default:"30"`
}

type GCPConfig struct {
	ProjectID string `envconfig:"CANTORA_GCP_PROJECT_ID"`
}

type PubSubConfig struct {
	NotificationsTopic string `envconfig:"CANTORA_PUBSUB_NOTIFICATIONS_TOPIC" default:"cantora-notifications"`
}

type OutboxConfig struct {
	BatchSize      int `envconfig:"CANTORA_OUTBOX_BATCH_SIZE" default:"50"`
	PollIntervalMS int `envconfig:"CANTORA_OUTBOX_POLL_INTERVAL_MS" default:"500"`
	MaxAttempts    int `envconfig:"CANTORA_OUTBOX_MAX_ATTEMPTS" default:"10"`
}
