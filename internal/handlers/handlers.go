// Package handlers exposes the bridge over HTTP: the LINE webhook, the
// Conversations webhook and a health probe.
package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/gorilla/mux"

	"line-flex-bridge/internal/bridge"
	"line-flex-bridge/internal/common/logging"
	"line-flex-bridge/internal/line"
	"line-flex-bridge/internal/middleware"
	"line-flex-bridge/internal/signature"
)

// maxBodyBytes bounds webhook bodies; LINE batches stay far below this
const maxBodyBytes = 1 << 20

// Relay is the bridge behaviour the handlers drive
type Relay interface {
	HandleLineEvents(ctx context.Context, events []line.Event) error
	HandleOutbound(ctx context.Context, msg bridge.OutboundMessage) error
}

// HealthChecker reports on the token cache backend
type HealthChecker interface {
	Health(ctx context.Context) error
	Name() string
}

type Handlers struct {
	relay          Relay
	cache          HealthChecker
	lineVerifier   signature.Verifier
	twilioVerifier signature.Verifier
	rateLimiter    *middleware.RateLimiter
	logger         logging.Logger
}

// Option configures Handlers
type Option func(*Handlers)

// WithRateLimiter throttles the webhook routes
func WithRateLimiter(rl *middleware.RateLimiter) Option {
	return func(h *Handlers) {
		h.rateLimiter = rl
	}
}

// New creates the handlers. Nil verifiers disable signature checks.
func New(relay Relay, cache HealthChecker, lineVerifier, twilioVerifier signature.Verifier, logger logging.Logger, opts ...Option) *Handlers {
	if logger == nil {
		logger = logging.GetGlobalLogger()
	}
	h := &Handlers{
		relay:          relay,
		cache:          cache,
		lineVerifier:   lineVerifier,
		twilioVerifier: twilioVerifier,
		logger:         logger,
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// Router builds the mux router with the middleware chain applied
func (h *Handlers) Router() *mux.Router {
	r := mux.NewRouter()
	r.Use(middleware.RequestID, middleware.Recover(h.logger), middleware.Logging(h.logger))

	webhooks := r.NewRoute().Subrouter()
	if h.rateLimiter != nil {
		webhooks.Use(h.rateLimiter.Middleware)
	}
	webhooks.HandleFunc("/line/webhook", h.HandleLineWebhook).Methods(http.MethodPost)
	webhooks.HandleFunc("/conversations/webhook", h.HandleConversationsWebhook).Methods(http.MethodPost)

	r.HandleFunc("/health", h.HealthCheck).Methods(http.MethodGet)
	return r
}

func (h *Handlers) readVerified(w http.ResponseWriter, r *http.Request, verifier signature.Verifier) ([]byte, bool) {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	body, err := signature.PreserveRequestBody(r)
	if err != nil {
		http.Error(w, "Failed to read request body", http.StatusBadRequest)
		return nil, false
	}
	if verifier != nil {
		if err := verifier.Verify(r, body); err != nil {
			if !signature.IsVerificationError(err) {
				h.logger.WithContext(r.Context()).Error("Cannot verify webhook", err, logging.Field{Key: "path", Value: r.URL.Path})
				http.Error(w, "Internal server error", http.StatusInternalServerError)
				return nil, false
			}
			h.logger.WithContext(r.Context()).Warn("Rejected webhook", logging.Field{Key: "path", Value: r.URL.Path}, logging.Err(err))
			http.Error(w, "Invalid signature", http.StatusUnauthorized)
			return nil, false
		}
	}
	return body, true
}

// HandleLineWebhook accepts LINE Messaging API webhook deliveries
func (h *Handlers) HandleLineWebhook(w http.ResponseWriter, r *http.Request) {
	body, ok := h.readVerified(w, r, h.lineVerifier)
	if !ok {
		return
	}

	var payload line.WebhookPayload
	if err := json.Unmarshal(body, &payload); err != nil {
		http.Error(w, "Invalid JSON payload", http.StatusBadRequest)
		return
	}

	// the console verification call has no events
	if len(payload.Events) == 0 {
		w.WriteHeader(http.StatusOK)
		return
	}

	if err := h.relay.HandleLineEvents(r.Context(), payload.Events); err != nil {
		h.logger.WithContext(r.Context()).Error("Failed to relay LINE events", err,
			logging.Field{Key: "events", Value: len(payload.Events)},
		)
		http.Error(w, "Failed to relay message", http.StatusInternalServerError)
		return
	}
	w.WriteHeader(http.StatusOK)
}

// HandleConversationsWebhook accepts onMessageAdded callbacks from Twilio Conversations
func (h *Handlers) HandleConversationsWebhook(w http.ResponseWriter, r *http.Request) {
	if _, ok := h.readVerified(w, r, h.twilioVerifier); !ok {
		return
	}
	if err := r.ParseForm(); err != nil {
		http.Error(w, "Invalid form payload", http.StatusBadRequest)
		return
	}

	msg := bridge.OutboundMessage{
		EventType:       r.PostForm.Get("EventType"),
		Source:          r.PostForm.Get("Source"),
		ConversationSID: r.PostForm.Get("ConversationSid"),
		Author:          r.PostForm.Get("Author"),
		Body:            r.PostForm.Get("Body"),
	}

	if err := h.relay.HandleOutbound(r.Context(), msg); err != nil {
		h.logger.WithContext(r.Context()).Error("Failed to deliver agent message", err,
			logging.Field{Key: "conversation_sid", Value: msg.ConversationSID},
		)
		http.Error(w, "Failed to deliver message", http.StatusInternalServerError)
		return
	}
	w.WriteHeader(http.StatusOK)
}

// HealthCheck reports the token cache backend and whether it answers
func (h *Handlers) HealthCheck(w http.ResponseWriter, r *http.Request) {
	status := map[string]interface{}{
		"status":    "ok",
		"timestamp": time.Now().UTC(),
	}
	code := http.StatusOK

	if h.cache != nil {
		status["cache_backend"] = h.cache.Name()
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()
		if err := h.cache.Health(ctx); err != nil {
			status["status"] = "degraded"
			status["cache_error"] = err.Error()
			code = http.StatusServiceUnavailable
		}
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(status)
}
