package handlers

import (
	"context"
	"errors"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/wolfman30/receptionist-relay/internal/channel"
	"github.com/wolfman30/receptionist-relay/internal/messaging"
	"github.com/wolfman30/receptionist-relay/internal/observability/metrics"
	"github.com/wolfman30/receptionist-relay/internal/phone"
	"github.com/wolfman30/receptionist-relay/internal/reconcile"
	"github.com/wolfman30/receptionist-relay/pkg/logging"
)

const emptyTwiML = `<?xml version="1.0" encoding="UTF-8"?><Response></Response>`

// Reconciler processes one inbound SMS delivery.
type Reconciler interface {
	Handle(ctx context.Context, msg messaging.InboundSMS) (reconcile.Outcome, error)
}

type telnyxVerifier interface {
	VerifyWebhookSignature(timestamp, signature string, payload []byte) error
}

// SMSWebhookConfig configures SMSWebhookHandler.
type SMSWebhookConfig struct {
	Reconciler      Reconciler
	TwilioAuthToken string
	// TwilioSkipSignature disables X-Twilio-Signature checks for local testing.
	TwilioSkipSignature bool
	// PublicBaseURL overrides the host used to rebuild the signed URL when
	// the service sits behind a proxy that rewrites Host.
	PublicBaseURL string
	Telnyx        telnyxVerifier
	Metrics       *metrics.RelayMetrics
	Logger        *logging.Logger
}

// SMSWebhookHandler turns provider webhooks into reconcile calls. Deliveries
// are acknowledged unless the store failed, so providers only retry when a
// retry can help.
type SMSWebhookHandler struct {
	reconciler    Reconciler
	twilioToken   string
	skipSignature bool
	publicBaseURL string
	telnyx        telnyxVerifier
	metrics       *metrics.RelayMetrics
	logger        *logging.Logger
}

func NewSMSWebhookHandler(cfg SMSWebhookConfig) *SMSWebhookHandler {
	if cfg.Reconciler == nil {
		panic("handlers: reconciler required")
	}
	if cfg.Logger == nil {
		cfg.Logger = logging.Default()
	}
	return &SMSWebhookHandler{
		reconciler:    cfg.Reconciler,
		twilioToken:   cfg.TwilioAuthToken,
		skipSignature: cfg.TwilioSkipSignature,
		publicBaseURL: strings.TrimRight(cfg.PublicBaseURL, "/"),
		telnyx:        cfg.Telnyx,
		metrics:       cfg.Metrics,
		logger:        cfg.Logger,
	}
}

// HandleTwilio serves POST /webhooks/twilio/sms.
func (h *SMSWebhookHandler) HandleTwilio(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	defer func() { h.metrics.ObserveWebhookLatency(string(channel.Twilio), time.Since(start).Seconds()) }()

	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if !h.skipSignature && !messaging.ValidateTwilioSignature(r, h.twilioToken, h.signedURL(r)) {
		h.logger.Warn("twilio webhook signature rejected", "path", r.URL.Path)
		http.Error(w, "invalid signature", http.StatusForbidden)
		return
	}

	msg, err := messaging.ParseTwilioWebhook(r)
	if err != nil {
		h.logger.Info("twilio webhook ignored", "error", err)
		writeTwiML(w, http.StatusOK)
		return
	}

	if !h.reconcile(r.Context(), msg) {
		writeTwiML(w, http.StatusInternalServerError)
		return
	}
	writeTwiML(w, http.StatusOK)
}

// HandleTelnyx serves POST /webhooks/telnyx/messages.
func (h *SMSWebhookHandler) HandleTelnyx(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	defer func() { h.metrics.ObserveWebhookLatency(string(channel.Telnyx), time.Since(start).Seconds()) }()

	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err != nil {
		jsonError(w, "read body", http.StatusBadRequest)
		return
	}
	if h.telnyx != nil {
		if err := h.telnyx.VerifyWebhookSignature(r.Header.Get("Telnyx-Timestamp"), r.Header.Get("Telnyx-Signature"), body); err != nil {
			h.logger.Warn("telnyx webhook signature rejected", "error", err)
			jsonError(w, "invalid signature", http.StatusForbidden)
			return
		}
	}

	msg, err := messaging.ParseTelnyxWebhook(body)
	if err != nil {
		if !errors.Is(err, messaging.ErrUnrecognizedPayload) {
			h.logger.Warn("telnyx webhook parse failed", "error", err)
		}
		writeJSON(w, http.StatusOK, map[string]bool{"ok": true})
		return
	}

	if !h.reconcile(r.Context(), msg) {
		writeJSON(w, http.StatusInternalServerError, map[string]bool{"ok": false})
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"ok": true})
}

// reconcile runs the core and reports whether the delivery may be acked.
func (h *SMSWebhookHandler) reconcile(ctx context.Context, msg messaging.InboundSMS) bool {
	outcome, err := h.reconciler.Handle(ctx, msg)
	log := h.logger.With(
		"transport", msg.Transport,
		"message_id", msg.MessageID,
		"from", phone.Mask(msg.From),
		"outcome", outcome,
	)
	switch {
	case !outcome.Acknowledge():
		log.Error("inbound sms not acknowledged", "error", err)
		return false
	case err != nil:
		log.Warn("inbound sms handled with error", "error", err)
	default:
		log.Info("inbound sms handled")
	}
	return true
}

func (h *SMSWebhookHandler) signedURL(r *http.Request) string {
	if h.publicBaseURL == "" {
		return messaging.BuildAbsoluteURL(r)
	}
	return h.publicBaseURL + r.URL.RequestURI()
}

func writeTwiML(w http.ResponseWriter, status int) {
	w.Header().Set("Content-Type", "text/xml")
	w.WriteHeader(status)
	_, _ = io.WriteString(w, emptyTwiML)
}
