package router

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/wolfman30/receptionist-relay/internal/chat"
	"github.com/wolfman30/receptionist-relay/internal/http/handlers"
	httpmiddleware "github.com/wolfman30/receptionist-relay/internal/http/middleware"
	"github.com/wolfman30/receptionist-relay/pkg/logging"
)

// Config holds router configuration. Nil handlers leave their routes
// unmounted.
type Config struct {
	Logger *logging.Logger

	Health            http.Handler
	MetricsHandler    http.Handler
	SMSWebhooks       *handlers.SMSWebhookHandler
	Calls             *handlers.CallHandler
	Chat              *chat.Handler
	RetellFunctions   *handlers.RetellFunctionsHandler
	VoiceWebhooks     *handlers.VoiceWebhookHandler
	AdminInteractions *handlers.AdminInteractionsHandler

	AdminAuthSecret    string
	CORSAllowedOrigins []string
	// PublicRateLimitRPS and PublicRateLimitBurst throttle browser-facing
	// endpoints per client IP. Zero disables throttling.
	PublicRateLimitRPS   float64
	PublicRateLimitBurst int
}

// New creates a new Chi router with all routes configured
func New(cfg *Config) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(httpmiddleware.RequestLogger(cfg.Logger))

	if cfg.Health != nil {
		r.Method(http.MethodGet, "/health", cfg.Health)
	}
	if cfg.MetricsHandler != nil {
		r.Handle("/metrics", cfg.MetricsHandler)
	}

	// Provider webhooks authenticate by signature or shared secret.
	r.Group(func(provider chi.Router) {
		if cfg.SMSWebhooks != nil {
			provider.Post("/webhooks/twilio/sms", cfg.SMSWebhooks.HandleTwilio)
			provider.Post("/webhooks/telnyx/messages", cfg.SMSWebhooks.HandleTelnyx)
		}
		if cfg.VoiceWebhooks != nil {
			provider.Post("/retell/voice-webhook", cfg.VoiceWebhooks.HandleWebhook)
			provider.Post("/retell/voice-inbound", cfg.VoiceWebhooks.HandleInbound)
		}
		if cfg.RetellFunctions != nil {
			provider.Route("/retell/functions", func(fn chi.Router) {
				fn.Use(cfg.RetellFunctions.RequireSecret)
				fn.Post("/capture-phone", cfg.RetellFunctions.HandleCapturePhone)
				fn.Post("/history-detail", cfg.RetellFunctions.HandleHistoryDetail)
			})
		}
	})

	// Browser-facing endpoints used by the web widget and call form.
	r.Group(func(public chi.Router) {
		if len(cfg.CORSAllowedOrigins) > 0 {
			public.Use(httpmiddleware.CORS(cfg.CORSAllowedOrigins))
		}
		if cfg.PublicRateLimitRPS > 0 {
			public.Use(httpmiddleware.RateLimit(cfg.PublicRateLimitRPS, cfg.PublicRateLimitBurst))
		}
		if cfg.Calls != nil {
			public.Post("/call", cfg.Calls.Handle)
			public.Options("/call", noContent)
		}
		if cfg.Chat != nil {
			public.Post("/chat", cfg.Chat.HandleMessage)
			public.Options("/chat", noContent)
			public.Get("/chat/history", cfg.Chat.HandleHistory)
			public.Get("/chat/ws", cfg.Chat.HandleWebSocket)
			public.Get("/widget-config", cfg.Chat.HandleWidgetConfig)
		}
	})

	if cfg.AdminInteractions != nil {
		r.Route("/admin", func(admin chi.Router) {
			admin.Use(middleware.Compress(5))
			admin.Use(httpmiddleware.AdminJWT(cfg.AdminAuthSecret))
			admin.Get("/interactions/{id}", cfg.AdminInteractions.HandleGet)
		})
	}

	return r
}

func noContent(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusNoContent)
}
