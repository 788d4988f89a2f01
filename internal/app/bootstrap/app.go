package bootstrap

import (
	"context"
	"database/sql"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jackc/pgx/v5/stdlib"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"

	"github.com/wolfman30/receptionist-relay/internal/api/router"
	"github.com/wolfman30/receptionist-relay/internal/audit"
	"github.com/wolfman30/receptionist-relay/internal/calls"
	"github.com/wolfman30/receptionist-relay/internal/chat"
	appconfig "github.com/wolfman30/receptionist-relay/internal/config"
	"github.com/wolfman30/receptionist-relay/internal/dedupe"
	"github.com/wolfman30/receptionist-relay/internal/dispatch"
	"github.com/wolfman30/receptionist-relay/internal/history"
	"github.com/wolfman30/receptionist-relay/internal/http/handlers"
	"github.com/wolfman30/receptionist-relay/internal/interaction"
	"github.com/wolfman30/receptionist-relay/internal/llm"
	"github.com/wolfman30/receptionist-relay/internal/messaging"
	"github.com/wolfman30/receptionist-relay/internal/messaging/telnyxclient"
	"github.com/wolfman30/receptionist-relay/internal/observability/metrics"
	"github.com/wolfman30/receptionist-relay/internal/ratelimit"
	"github.com/wolfman30/receptionist-relay/internal/reconcile"
	"github.com/wolfman30/receptionist-relay/internal/retell"
	"github.com/wolfman30/receptionist-relay/internal/session"
	"github.com/wolfman30/receptionist-relay/internal/tenant"
	"github.com/wolfman30/receptionist-relay/pkg/logging"
)

const tenantCacheTTL = 5 * time.Minute

// Core holds the stores and services shared by the API server and the call
// lambda.
type Core struct {
	Config   *appconfig.Config
	Logger   *logging.Logger
	Registry *prometheus.Registry
	Metrics  *metrics.RelayMetrics

	Pool  *pgxpool.Pool
	SQLDB *sql.DB
	Redis *redis.Client
	AWS   aws.Config

	Interactions *interaction.PgStore
	Tenants      *tenant.Store
	TenantCache  *tenant.CachedLookup
	Audit        *audit.Store
	Retell       *retell.Client
	Summarizer   *history.Summarizer
	Calls        *calls.Service
}

// BuildCore connects the databases and builds the services every binary
// needs. Close releases them.
func BuildCore(ctx context.Context, cfg *appconfig.Config, logger *logging.Logger) (*Core, error) {
	if cfg == nil {
		return nil, fmt.Errorf("bootstrap: config is required")
	}
	if logger == nil {
		logger = logging.Default()
	}

	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	relayMetrics := metrics.NewRelayMetrics(registry)

	pool, err := BuildPostgresPool(ctx, cfg)
	if err != nil {
		return nil, err
	}
	core := &Core{
		Config:   cfg,
		Logger:   logger,
		Registry: registry,
		Metrics:  relayMetrics,
		Pool:     pool,
		SQLDB:    stdlib.OpenDBFromPool(pool),
		Redis:    BuildRedisClient(ctx, cfg, logger, true),
	}

	core.AWS, err = LoadAWSConfig(ctx, cfg)
	if err != nil {
		core.Close()
		return nil, err
	}

	core.Interactions = interaction.NewPgStore(pool)
	core.Tenants = tenant.NewStore(pool)
	core.TenantCache = tenant.NewCachedLookup(core.Tenants, core.Redis, tenantCacheTTL, logger)
	core.Audit = audit.NewStore(core.SQLDB)

	core.Retell, err = retell.New(retell.Config{
		BaseURL:    cfg.RetellBaseURL,
		APIKey:     cfg.RetellAPIKey,
		Timeout:    cfg.RetellTimeout,
		MaxRetries: 2,
		Logger:     logger,
		Metrics:    relayMetrics,
	})
	if err != nil {
		core.Close()
		return nil, fmt.Errorf("bootstrap: %w", err)
	}

	summaryClient, err := BuildSummaryClient(ctx, cfg, func(context.Context) (llm.BedrockConverseAPI, error) {
		return NewBedrockClient(core.AWS, cfg), nil
	}, logger)
	if err != nil {
		core.Close()
		return nil, err
	}
	core.Summarizer = history.NewSummarizer(core.Interactions, summaryClient, history.Options{
		MaxInteractions: cfg.HistoryMaxInteraction,
		LookbackMonths:  cfg.HistoryLookbackMonths,
		MaxMessages:     cfg.HistoryMaxMessages,
		Model:           summaryModel(cfg),
		Metrics:         relayMetrics,
	}, logger)

	core.Calls = calls.NewService(core.Tenants, core.Summarizer, core.Retell, core.Interactions, logger)
	return core, nil
}

// Close releases connections. It is safe on a partially built Core.
func (c *Core) Close() {
	if c.Redis != nil {
		_ = c.Redis.Close()
	}
	if c.SQLDB != nil {
		_ = c.SQLDB.Close()
	}
	if c.Pool != nil {
		c.Pool.Close()
	}
}

// CallQueue returns the SQS queue when CALL_QUEUE_URL is set and an
// in-process queue otherwise.
func (c *Core) CallQueue() (calls.QueueClient, bool) {
	if url := strings.TrimSpace(c.Config.CallQueueURL); url != "" {
		return calls.NewSQSQueue(NewSQSClient(c.AWS, c.Config), url), true
	}
	return calls.NewMemoryQueue(256), false
}

// API is the assembled HTTP server side of the relay.
type API struct {
	Core       *Core
	Handler    http.Handler
	Reconciler *reconcile.Reconciler
	// CallWorker consumes the in-process call queue. It is nil when calls
	// go through SQS and the lambda consumes them.
	CallWorker *calls.Worker
}

// BuildAPI wires the SMS pipeline, chat, calls and operator routes on top
// of core.
func BuildAPI(core *Core) (*API, error) {
	cfg, logger := core.Config, core.Logger

	sender, provider, reason := messaging.BuildSender(messaging.ProviderSelectionConfig{
		Preference:       cfg.SMSProvider,
		TelnyxAPIKey:     cfg.TelnyxAPIKey,
		TelnyxProfileID:  cfg.TelnyxMessagingProID,
		TwilioAccountSID: cfg.TwilioAccountSID,
		TwilioAuthToken:  cfg.TwilioAuthToken,
		Metrics:          core.Metrics,
	}, logger)
	var outbound messaging.Sender = sender
	if sender == nil {
		logger.Warn("sms sending disabled", "reason", reason)
		outbound = messaging.DisabledSender{Reason: reason}
	} else {
		logger.Info("sms sender configured", "provider", provider)
	}

	bridge := session.NewBridge(session.NewRetellProvider(core.Retell), core.Interactions, session.Options{
		RecoveryMessages: cfg.RecoveryContextMsgs,
		RecoveryChars:    cfg.RecoveryContextChars,
		Auditor:          core.Audit,
		Metrics:          core.Metrics,
	}, logger)

	limiter := ratelimit.New(core.Interactions, ratelimit.Policy{
		Cap:             cfg.RateLimitCap,
		Window:          cfg.RateLimitWindow,
		Role:            interaction.Role(cfg.RateLimitRole),
		NoticeThreshold: cfg.RateLimitNoticeAt,
	})

	reconciler := reconcile.New(reconcile.Config{
		Store:        core.Interactions,
		Resolver:     core.Tenants,
		Summarizer:   core.Summarizer,
		Limiter:      limiter,
		Bridge:       bridge,
		Dispatcher:   dispatch.New(outbound, core.Interactions, logger),
		Claimer:      dedupe.New(core.Redis, cfg.DedupeTTL, logger),
		Auditor:      core.Audit,
		Tenants:      core.TenantCache,
		Metrics:      core.Metrics,
		ThreadWindow: cfg.ThreadWindow,
		EndKeyword:   cfg.EndKeyword,
	}, logger)

	queue, remote := core.CallQueue()
	var worker *calls.Worker
	if !remote {
		worker = calls.NewWorker(core.Calls, queue, logger, calls.WithWorkerCount(cfg.CallWorkers))
	}
	publisher := calls.NewPublisher(queue, logger)

	var telnyxVerifier *telnyxclient.Client
	if cfg.TelnyxWebhookSecret != "" {
		client, err := telnyxclient.New(telnyxclient.Config{APIKey: cfg.TelnyxAPIKey, WebhookSecret: cfg.TelnyxWebhookSecret, Logger: logger})
		if err != nil {
			return nil, fmt.Errorf("bootstrap: telnyx webhook verifier: %w", err)
		}
		telnyxVerifier = client
	} else {
		logger.Warn("TELNYX_WEBHOOK_SECRET empty; telnyx webhook signatures are not checked")
	}
	smsCfg := handlers.SMSWebhookConfig{
		Reconciler:          reconciler,
		TwilioAuthToken:     cfg.TwilioAuthToken,
		TwilioSkipSignature: cfg.TwilioSkipSignature,
		PublicBaseURL:       cfg.PublicBaseURL,
		Metrics:             core.Metrics,
		Logger:              logger,
	}
	if telnyxVerifier != nil {
		smsCfg.Telnyx = telnyxVerifier
	}

	chatService := chat.NewService(core.TenantCache, core.Tenants, core.Interactions, bridge, publisher, logger)
	retellFunctions := handlers.NewRetellFunctionsHandler(handlers.RetellFunctionsConfig{
		Store:   core.Interactions,
		Tenants: core.TenantCache,
		History: core.Summarizer,
		Secret:  cfg.RetellFunctionSecret,
		Logger:  logger,
	})
	voiceWebhooks := handlers.NewVoiceWebhookHandler(handlers.VoiceWebhookConfig{
		Store:    core.Interactions,
		Channels: core.Tenants,
		History:  core.Summarizer,
		Logger:   logger,
	})

	checks := map[string]handlers.HealthCheck{"postgres": core.Pool.Ping}
	if core.Redis != nil {
		checks["redis"] = func(ctx context.Context) error { return core.Redis.Ping(ctx).Err() }
	}

	handler := router.New(&router.Config{
		Logger:               logger,
		Health:               handlers.NewHealthHandler(checks),
		MetricsHandler:       promhttp.HandlerFor(core.Registry, promhttp.HandlerOpts{}),
		SMSWebhooks:          handlers.NewSMSWebhookHandler(smsCfg),
		Calls:                handlers.NewCallHandler(core.Calls, logger),
		Chat:                 chat.NewHandler(chatService, logger),
		RetellFunctions:      retellFunctions,
		VoiceWebhooks:        voiceWebhooks,
		AdminInteractions:    handlers.NewAdminInteractionsHandler(core.Interactions, core.Audit, logger),
		AdminAuthSecret:      cfg.AdminJWTSecret,
		CORSAllowedOrigins:   cfg.CORSAllowedOrigins,
		PublicRateLimitRPS:   cfg.ChatRateLimitRPS,
		PublicRateLimitBurst: cfg.ChatRateLimitBurst,
	})

	return &API{Core: core, Handler: handler, Reconciler: reconciler, CallWorker: worker}, nil
}

func summaryModel(cfg *appconfig.Config) string {
	switch cfg.SummaryProvider {
	case "openai":
		return cfg.OpenAIModel
	case "gemini":
		return cfg.GeminiModel
	case "bedrock":
		return cfg.BedrockModelID
	}
	return ""
}
