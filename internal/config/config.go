// Package config loads the bridge configuration from environment variables.
//
// Load never fails; malformed values are remembered and reported by Validate,
// which also checks cross-field requirements. main loads a .env file with
// godotenv before calling Load.
//
// Environment Variables:
//
// Application:
//   - PORT (default 8080), LOG_LEVEL (default info), LOG_FORMAT (console|json)
//   - PUBLIC_BASE_URL: externally reachable base URL, used for the outbound webhook
//     and Twilio signature checks (required)
//   - VERIFY_WEBHOOK_SIGNATURES (default true)
//   - WEBHOOK_RATE_LIMIT: requests per second per webhook route, 0 disables (default 50)
//   - WEBHOOK_RATE_BURST (default 100)
//
// LINE channel:
//   - LINE_CHANNEL_ID (required), LINE_CHANNEL_SECRET (required when verifying)
//   - LINE_ASSERTION_KEY_ID: kid of the registered assertion public key
//   - LINE_PRIVATE_KEY or LINE_PRIVATE_KEY_FILE: PEM or JWK private key (one required)
//   - LINE_TOKEN_URL (default https://api.line.me/oauth2/v2.1/token)
//   - LINE_API_BASE_URL (default https://api.line.me)
//
// Token cache:
//   - TOKEN_CACHE_BACKEND: redis|sqlite|postgres|memory (default redis)
//   - TOKEN_CACHE_NAMESPACE (default line-flex-bridge)
//   - TOKEN_CACHE_ENCRYPTION_KEY: enables encryption of cached tokens
//   - TOKEN_MINT_DEDUP: none|local|distributed (default local)
//   - TOKEN_PREWARM_SCHEDULE: cron spec, empty disables prewarming
//   - TOKEN_PURGE_SCHEDULE: cron spec for SQL backends (default @hourly)
//   - TOKEN_CALL_TIMEOUT (default 10s)
//   - TOKEN_LOCAL_EXPIRY_CHECK: also reject cached tokens past issued_at+expires_in (default false)
//   - REDIS_ADDRESS, REDIS_PASSWORD, REDIS_DB, REDIS_POOL_SIZE
//   - DATABASE_PATH (sqlite), POSTGRES_DSN (postgres)
//
// Twilio Conversations / Flex:
//   - TWILIO_ACCOUNT_SID, TWILIO_AUTH_TOKEN, FLEX_CONVERSATION_SERVICE_SID,
//     FLEX_STUDIO_FLOW_SID (all required)
//   - TWILIO_CONVERSATIONS_BASE_URL (default https://conversations.twilio.com/v1)
package config

import (
	"fmt"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"line-flex-bridge/internal/channeltoken"
	"line-flex-bridge/internal/common/validation"
)

const (
	BackendRedis    = "redis"
	BackendSQLite   = "sqlite"
	BackendPostgres = "postgres"
	BackendMemory   = "memory"

	DedupNone        = "none"
	DedupLocal       = "local"
	DedupDistributed = "distributed"
)

// Config holds every setting of the bridge
type Config struct {
	Port                    string
	LogLevel                string
	LogFormat               string
	PublicBaseURL           string
	VerifyWebhookSignatures bool
	WebhookRateLimit        float64
	WebhookRateBurst        int

	LineChannelID      string
	LineChannelSecret  string
	LineAssertionKeyID string
	LinePrivateKey     string
	LinePrivateKeyFile string
	LineTokenURL       string
	LineAPIBaseURL     string

	TokenCacheBackend       string
	TokenCacheNamespace     string
	TokenCacheEncryptionKey string
	TokenMintDedup          string
	TokenPrewarmSchedule    string
	TokenPurgeSchedule      string
	TokenCallTimeout        time.Duration
	TokenLocalExpiryCheck   bool

	RedisAddress  string
	RedisPassword string
	RedisDB       int
	RedisPoolSize int

	DatabasePath string
	PostgresDSN  string

	TwilioAccountSID           string
	TwilioAuthToken            string
	TwilioConversationsBaseURL string
	FlexConversationServiceSID string
	FlexStudioFlowSID          string

	loadErrors []string
}

// Load reads the configuration from the environment, applying defaults
func Load() *Config {
	c := &Config{
		Port:                    getEnv("PORT", "8080"),
		LogLevel:                getEnv("LOG_LEVEL", "info"),
		LogFormat:               getEnv("LOG_FORMAT", "console"),
		PublicBaseURL:           strings.TrimRight(getEnv("PUBLIC_BASE_URL", ""), "/"),
		VerifyWebhookSignatures: getBoolEnv("VERIFY_WEBHOOK_SIGNATURES", true),

		LineChannelID:      getEnv("LINE_CHANNEL_ID", ""),
		LineChannelSecret:  getEnv("LINE_CHANNEL_SECRET", ""),
		LineAssertionKeyID: getEnv("LINE_ASSERTION_KEY_ID", ""),
		LinePrivateKey:     getEnv("LINE_PRIVATE_KEY", ""),
		LinePrivateKeyFile: getEnv("LINE_PRIVATE_KEY_FILE", ""),
		LineTokenURL:       getEnv("LINE_TOKEN_URL", "https://api.line.me/oauth2/v2.1/token"),
		LineAPIBaseURL:     strings.TrimRight(getEnv("LINE_API_BASE_URL", "https://api.line.me"), "/"),

		TokenCacheBackend:       strings.ToLower(getEnv("TOKEN_CACHE_BACKEND", BackendRedis)),
		TokenCacheNamespace:     getEnv("TOKEN_CACHE_NAMESPACE", "line-flex-bridge"),
		TokenCacheEncryptionKey: getEnv("TOKEN_CACHE_ENCRYPTION_KEY", ""),
		TokenMintDedup:          strings.ToLower(getEnv("TOKEN_MINT_DEDUP", DedupLocal)),
		TokenPrewarmSchedule:    getEnv("TOKEN_PREWARM_SCHEDULE", ""),
		TokenPurgeSchedule:      getEnv("TOKEN_PURGE_SCHEDULE", "@hourly"),
		TokenLocalExpiryCheck:   getBoolEnv("TOKEN_LOCAL_EXPIRY_CHECK", false),

		RedisAddress:  getEnv("REDIS_ADDRESS", "localhost:6379"),
		RedisPassword: getEnv("REDIS_PASSWORD", ""),

		DatabasePath: getEnv("DATABASE_PATH", "./line_flex_bridge.db"),
		PostgresDSN:  getEnv("POSTGRES_DSN", ""),

		TwilioAccountSID:           getEnv("TWILIO_ACCOUNT_SID", ""),
		TwilioAuthToken:            getEnv("TWILIO_AUTH_TOKEN", ""),
		TwilioConversationsBaseURL: strings.TrimRight(getEnv("TWILIO_CONVERSATIONS_BASE_URL", "https://conversations.twilio.com/v1"), "/"),
		FlexConversationServiceSID: getEnv("FLEX_CONVERSATION_SERVICE_SID", ""),
		FlexStudioFlowSID:          getEnv("FLEX_STUDIO_FLOW_SID", ""),
	}

	c.TokenCallTimeout = c.getDurationEnv("TOKEN_CALL_TIMEOUT", 10*time.Second)
	c.RedisDB = c.getIntEnv("REDIS_DB", 0)
	c.RedisPoolSize = c.getIntEnv("REDIS_POOL_SIZE", 10)
	c.WebhookRateLimit = c.getFloatEnv("WEBHOOK_RATE_LIMIT", 50)
	c.WebhookRateBurst = c.getIntEnv("WEBHOOK_RATE_BURST", 100)

	return c
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getBoolEnv(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if parsed, err := strconv.ParseBool(value); err == nil {
			return parsed
		}
	}
	return defaultValue
}

func (c *Config) getIntEnv(key string, defaultValue int) int {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	parsed, err := strconv.Atoi(value)
	if err != nil {
		c.loadErrors = append(c.loadErrors, fmt.Sprintf("%s must be an integer, got %q", key, value))
		return defaultValue
	}
	return parsed
}

func (c *Config) getFloatEnv(key string, defaultValue float64) float64 {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	parsed, err := strconv.ParseFloat(value, 64)
	if err != nil {
		c.loadErrors = append(c.loadErrors, fmt.Sprintf("%s must be a number, got %q", key, value))
		return defaultValue
	}
	return parsed
}

func (c *Config) getDurationEnv(key string, defaultValue time.Duration) time.Duration {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	parsed, err := time.ParseDuration(value)
	if err != nil {
		c.loadErrors = append(c.loadErrors, fmt.Sprintf("%s must be a duration such as 10s, got %q", key, value))
		return defaultValue
	}
	return parsed
}

// Validate returns the first configuration problem found, naming the variable
func (c *Config) Validate() error {
	if len(c.loadErrors) > 0 {
		return fmt.Errorf("%s", c.loadErrors[0])
	}

	if port, err := strconv.Atoi(c.Port); err != nil || port < 1 || port > 65535 {
		return fmt.Errorf("PORT must be a number between 1 and 65535, got %q", c.Port)
	}

	if c.PublicBaseURL == "" {
		return fmt.Errorf("PUBLIC_BASE_URL is required")
	}
	if u, err := url.Parse(c.PublicBaseURL); err != nil || u.Scheme == "" || u.Host == "" {
		return fmt.Errorf("PUBLIC_BASE_URL must be an absolute URL, got %q", c.PublicBaseURL)
	}

	if c.LineChannelID == "" {
		return fmt.Errorf("LINE_CHANNEL_ID is required")
	}
	if c.LinePrivateKey == "" && c.LinePrivateKeyFile == "" {
		return fmt.Errorf("one of LINE_PRIVATE_KEY or LINE_PRIVATE_KEY_FILE is required")
	}
	if c.LinePrivateKey != "" && c.LinePrivateKeyFile != "" {
		return fmt.Errorf("set only one of LINE_PRIVATE_KEY and LINE_PRIVATE_KEY_FILE")
	}
	if c.LineAssertionKeyID == "" && !strings.HasPrefix(strings.TrimSpace(c.LinePrivateKey), "{") {
		// a JWK may carry its own kid; PEM keys cannot
		if c.LinePrivateKeyFile == "" || !strings.HasSuffix(strings.ToLower(c.LinePrivateKeyFile), ".json") {
			return fmt.Errorf("LINE_ASSERTION_KEY_ID is required for PEM private keys")
		}
	}
	if c.VerifyWebhookSignatures && c.LineChannelSecret == "" {
		return fmt.Errorf("LINE_CHANNEL_SECRET is required when VERIFY_WEBHOOK_SIGNATURES is enabled")
	}

	switch c.TokenCacheBackend {
	case BackendRedis:
		if c.RedisAddress == "" {
			return fmt.Errorf("REDIS_ADDRESS is required for the redis token cache")
		}
	case BackendSQLite:
		if c.DatabasePath == "" {
			return fmt.Errorf("DATABASE_PATH is required for the sqlite token cache")
		}
	case BackendPostgres:
		if c.PostgresDSN == "" {
			return fmt.Errorf("POSTGRES_DSN is required for the postgres token cache")
		}
	case BackendMemory:
	default:
		return fmt.Errorf("TOKEN_CACHE_BACKEND must be one of redis, sqlite, postgres, memory, got %q", c.TokenCacheBackend)
	}

	switch c.TokenMintDedup {
	case DedupNone, DedupLocal:
	case DedupDistributed:
		if c.TokenCacheBackend != BackendRedis {
			return fmt.Errorf("TOKEN_MINT_DEDUP=distributed requires TOKEN_CACHE_BACKEND=redis")
		}
	default:
		return fmt.Errorf("TOKEN_MINT_DEDUP must be one of none, local, distributed, got %q", c.TokenMintDedup)
	}

	if c.TokenCallTimeout <= 0 {
		return fmt.Errorf("TOKEN_CALL_TIMEOUT must be positive")
	}
	if c.WebhookRateLimit < 0 {
		return fmt.Errorf("WEBHOOK_RATE_LIMIT must not be negative")
	}
	if c.WebhookRateLimit > 0 && c.WebhookRateBurst <= 0 {
		return fmt.Errorf("WEBHOOK_RATE_BURST must be positive when WEBHOOK_RATE_LIMIT is set")
	}
	if c.RedisDB < 0 || c.RedisDB > 15 {
		return fmt.Errorf("REDIS_DB must be between 0 and 15, got %d", c.RedisDB)
	}
	if c.RedisPoolSize <= 0 {
		return fmt.Errorf("REDIS_POOL_SIZE must be positive, got %d", c.RedisPoolSize)
	}

	if c.TokenPrewarmSchedule != "" {
		if err := channeltoken.ValidateSchedule(c.TokenPrewarmSchedule); err != nil {
			return fmt.Errorf("TOKEN_PREWARM_SCHEDULE: %v", err)
		}
	}
	if c.TokenPurgeSchedule != "" {
		if err := channeltoken.ValidateSchedule(c.TokenPurgeSchedule); err != nil {
			return fmt.Errorf("TOKEN_PURGE_SCHEDULE: %v", err)
		}
	}

	if c.TwilioAuthToken == "" {
		return fmt.Errorf("TWILIO_AUTH_TOKEN is required")
	}
	for _, sid := range []struct{ name, value, prefix string }{
		{"TWILIO_ACCOUNT_SID", c.TwilioAccountSID, "AC"},
		{"FLEX_CONVERSATION_SERVICE_SID", c.FlexConversationServiceSID, "IS"},
		{"FLEX_STUDIO_FLOW_SID", c.FlexStudioFlowSID, "FW"},
	} {
		if err := validation.Var(sid.value, "required,sid="+sid.prefix, sid.name); err != nil {
			return err
		}
	}

	return nil
}

// OutboundWebhookURL is where Conversations posts onMessageAdded events
func (c *Config) OutboundWebhookURL() string {
	return c.PublicBaseURL + "/conversations/webhook"
}
