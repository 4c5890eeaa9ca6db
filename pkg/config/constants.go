package config

const (
	EnvPrefix = "CANTORA"

	AppEnvDev  = "dev"
	AppEnvProd = "prod"

	GenerationProviderOpenAI = "openai"
	GenerationProviderHTTP   = "http"

	// SubscriptionGuardCount infers remaining allotment by counting orders in the period.
	SubscriptionGuardCount = "count"
	// SubscriptionGuardCounter debits a per-period usage row with compare-and-swap.
	SubscriptionGuardCounter = "counter"
)

const (
	EnvAppEnv                = "CANTORA_APP_ENV"
	EnvPort                  = "CANTORA_APP_PORT"
	EnvDBDSN                 = "CANTORA_DB_DSN"
	EnvRedisURL              = "CANTORA_REDIS_URL"
	EnvJWTSecret             = "CANTORA_JWT_SECRET"
	EnvJWTIssuer             = "CANTORA_JWT_ISSUER"
	EnvGenerationProvider    = "CANTORA_GENERATION_PROVIDER"
	EnvGenerationMaxAttempts = "CANTORA_GENERATION_MAX_ATTEMPTS"
	EnvCreditsCASRetries     = "CANTORA_CREDITS_CAS_RETRIES"
	EnvCreditsSubGuard       = "CANTORA_CREDITS_SUBSCRIPTION_GUARD"
	EnvDetailedDeadline      = "CANTORA_ORCHESTRATOR_DETAILED_DEADLINE"
)
