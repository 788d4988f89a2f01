package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
)

// Config holds application configuration
type Config struct {
	Port          string `env:"PORT" envDefault:"8080"`
	Env           string `env:"ENV" envDefault:"development"`
	PublicBaseURL string `env:"PUBLIC_BASE_URL"`
	LogLevel      string `env:"LOG_LEVEL" envDefault:"info"`
	DatabaseURL   string `env:"DATABASE_URL"`

	RedisAddr     string `env:"REDIS_ADDR"`
	RedisPassword string `env:"REDIS_PASSWORD"`
	RedisTLS      bool   `env:"REDIS_TLS" envDefault:"false"`

	SMSProvider          string `env:"SMS_PROVIDER" envDefault:"auto"`
	TwilioAccountSID     string `env:"TWILIO_ACCOUNT_SID"`
	TwilioAuthToken      string `env:"TWILIO_AUTH_TOKEN"`
	TwilioSkipSignature  bool   `env:"TWILIO_SKIP_SIGNATURE" envDefault:"false"`
	TelnyxAPIKey         string `env:"TELNYX_API_KEY"`
	TelnyxWebhookSecret  string `env:"TELNYX_WEBHOOK_SECRET"`
	TelnyxMessagingProID string `env:"TELNYX_MESSAGING_PROFILE_ID"`

	RetellAPIKey         string        `env:"RETELL_API_KEY"`
	RetellBaseURL        string        `env:"RETELL_BASE_URL" envDefault:"https://api.retellai.com"`
	RetellFunctionSecret string        `env:"RETELL_FUNCTION_SECRET"`
	RetellTimeout        time.Duration `env:"RETELL_TIMEOUT" envDefault:"15s"`

	SummaryProvider        string `env:"SUMMARY_PROVIDER" envDefault:"openai"`
	OpenAIAPIKey           string `env:"OPENAI_API_KEY"`
	OpenAIModel            string `env:"OPENAI_MODEL" envDefault:"gpt-4.1-mini"`
	BedrockModelID         string `env:"BEDROCK_MODEL_ID"`
	BedrockFallbackModelID string `env:"BEDROCK_FALLBACK_MODEL_ID"`
	GeminiAPIKey           string `env:"GEMINI_API_KEY"`
	GeminiModel            string `env:"GEMINI_MODEL" envDefault:"gemini-1.5-flash"`

	AWSRegion           string `env:"AWS_REGION" envDefault:"us-east-1"`
	AWSAccessKeyID      string `env:"AWS_ACCESS_KEY_ID"`
	AWSSecretAccessKey  string `env:"AWS_SECRET_ACCESS_KEY"`
	AWSEndpointOverride string `env:"AWS_ENDPOINT_OVERRIDE"`

	ThreadWindow          time.Duration `env:"SMS_THREAD_WINDOW" envDefault:"24h"`
	RateLimitCap          int           `env:"SMS_RATE_LIMIT_CAP" envDefault:"8"`
	RateLimitWindow       time.Duration `env:"SMS_RATE_LIMIT_WINDOW" envDefault:"1h"`
	RateLimitRole         string        `env:"SMS_RATE_LIMIT_ROLE" envDefault:"AGENT"`
	RateLimitNoticeAt     int           `env:"SMS_RATE_LIMIT_NOTICE_THRESHOLD" envDefault:"3"`
	EndKeyword            string        `env:"SMS_END_KEYWORD" envDefault:"END"`
	DedupeTTL             time.Duration `env:"SMS_DEDUPE_TTL" envDefault:"2m"`
	RecoveryContextChars  int           `env:"RECOVERY_CONTEXT_CHARS" envDefault:"1500"`
	RecoveryContextMsgs   int           `env:"RECOVERY_CONTEXT_MESSAGES" envDefault:"10"`
	HistoryMaxInteraction int           `env:"HISTORY_MAX_INTERACTIONS" envDefault:"3"`
	HistoryLookbackMonths int           `env:"HISTORY_LOOKBACK_MONTHS" envDefault:"6"`
	HistoryMaxMessages    int           `env:"HISTORY_MAX_MESSAGES" envDefault:"10"`

	CallQueueURL string `env:"CALL_QUEUE_URL"`
	CallWorkers  int    `env:"CALL_WORKERS" envDefault:"2"`

	AdminJWTSecret     string   `env:"ADMIN_JWT_SECRET"`
	CORSAllowedOrigins []string `env:"CORS_ALLOWED_ORIGINS" envSeparator:","`
	ChatRateLimitRPS   float64  `env:"CHAT_RATE_LIMIT_RPS" envDefault:"2"`
	ChatRateLimitBurst int      `env:"CHAT_RATE_LIMIT_BURST" envDefault:"5"`
}

// Load reads configuration from the process environment. A local .env file is
// applied first when present.
func Load() (*Config, error) {
	_ = godotenv.Load()
	return LoadFrom(env.ToMap(os.Environ()))
}

// LoadFrom parses configuration from an explicit variable map.
func LoadFrom(vars map[string]string) (*Config, error) {
	cfg := &Config{}
	if err := env.ParseWithOptions(cfg, env.Options{Environment: vars}); err != nil {
		return nil, fmt.Errorf("config: parse env: %w", err)
	}
	cfg.SMSProvider = strings.ToLower(strings.TrimSpace(cfg.SMSProvider))
	cfg.SummaryProvider = strings.ToLower(strings.TrimSpace(cfg.SummaryProvider))
	cfg.RateLimitRole = strings.ToUpper(strings.TrimSpace(cfg.RateLimitRole))
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate rejects settings the relay cannot run with.
func (c *Config) Validate() error {
	var errs []error
	if c.RateLimitCap < 1 {
		errs = append(errs, fmt.Errorf("SMS_RATE_LIMIT_CAP must be positive, got %d", c.RateLimitCap))
	}
	if c.RateLimitWindow <= 0 {
		errs = append(errs, fmt.Errorf("SMS_RATE_LIMIT_WINDOW must be positive, got %s", c.RateLimitWindow))
	}
	if c.ThreadWindow <= 0 {
		errs = append(errs, fmt.Errorf("SMS_THREAD_WINDOW must be positive, got %s", c.ThreadWindow))
	}
	switch c.RateLimitRole {
	case "AGENT", "USER":
	default:
		errs = append(errs, fmt.Errorf("SMS_RATE_LIMIT_ROLE must be AGENT or USER, got %q", c.RateLimitRole))
	}
	switch c.SMSProvider {
	case "auto", "twilio", "telnyx":
	default:
		errs = append(errs, fmt.Errorf("SMS_PROVIDER must be auto, twilio or telnyx, got %q", c.SMSProvider))
	}
	if len(errs) > 0 {
		return fmt.Errorf("config: %w", errors.Join(errs...))
	}
	return nil
}

// IsProduction reports whether the service runs in production.
func (c *Config) IsProduction() bool {
	return strings.EqualFold(c.Env, "production")
}
