package bridge

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/url"

	"github.com/slack-go/slack"
	"github.com/slack-go/slack/slackevents"
)

// maxWebhookBody caps request bodies read from Slack.
const maxWebhookBody = 1 << 20

// WebhookHandler receives Events API callbacks and interactive payloads over
// HTTP for deployments without a Socket Mode app token.
type WebhookHandler struct {
	bot           *Bot
	signingSecret string
	logger        *slog.Logger

	// async runs event work after the HTTP response; Slack retries any
	// request not acknowledged within three seconds.
	async func(func())
}

// NewWebhookHandler creates a webhook handler feeding bot. An empty
// signingSecret disables signature verification.
func NewWebhookHandler(bot *Bot, signingSecret string, logger *slog.Logger) *WebhookHandler {
	return &WebhookHandler{
		bot:           bot,
		signingSecret: signingSecret,
		logger:        logger,
		async:         func(fn func()) { go fn() },
	}
}

// Register mounts the webhook endpoints on mux.
func (h *WebhookHandler) Register(mux *http.ServeMux) {
	mux.HandleFunc("/slack/events", h.HandleEvents)
	mux.HandleFunc("/slack/interactions", h.HandleInteraction)
}

// HandleEvents processes Events API callbacks, answering url_verification
// challenges inline.
func (h *WebhookHandler) HandleEvents(w http.ResponseWriter, r *http.Request) {
	body, ok := h.readVerified(w, r)
	if !ok {
		return
	}

	event, err := slackevents.ParseEvent(json.RawMessage(body), slackevents.OptionNoVerifyToken())
	if err != nil {
		h.logger.Debug("failed to parse Slack event", "error", err)
		http.Error(w, "bad event", http.StatusBadRequest)
		return
	}

	if event.Type == slackevents.URLVerification {
		var challenge slackevents.ChallengeResponse
		if err := json.Unmarshal(body, &challenge); err != nil {
			http.Error(w, "bad challenge", http.StatusBadRequest)
			return
		}
		w.Header().Set("Content-Type", "text/plain")
		_, _ = w.Write([]byte(challenge.Challenge))
		return
	}

	ctx := context.WithoutCancel(r.Context())
	h.async(func() { h.bot.handleEventsAPI(ctx, event) })
	w.WriteHeader(http.StatusOK)
}

// HandleInteraction processes interactive payloads (button clicks).
func (h *WebhookHandler) HandleInteraction(w http.ResponseWriter, r *http.Request) {
	body, ok := h.readVerified(w, r)
	if !ok {
		return
	}

	// Parse form values from the raw body (body was already consumed).
	formValues, err := url.ParseQuery(string(body))
	if err != nil {
		h.logger.Debug("failed to parse Slack form body", "error", err)
		http.Error(w, "bad request", http.StatusBadRequest)
		return
	}
	payload := formValues.Get("payload")
	if payload == "" {
		http.Error(w, "missing payload", http.StatusBadRequest)
		return
	}

	var callback slack.InteractionCallback
	if err := json.Unmarshal([]byte(payload), &callback); err != nil {
		h.logger.Debug("failed to parse Slack interaction", "error", err)
		http.Error(w, "bad payload", http.StatusBadRequest)
		return
	}

	ctx := context.WithoutCancel(r.Context())
	h.async(func() { h.bot.handleInteraction(ctx, callback) })
	w.WriteHeader(http.StatusOK)
}

// readVerified reads the body and checks the Slack request signature. On
// failure it has already written the error response.
func (h *WebhookHandler) readVerified(w http.ResponseWriter, r *http.Request) ([]byte, bool) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return nil, false
	}

	body, err := io.ReadAll(io.LimitReader(r.Body, maxWebhookBody))
	if err != nil {
		http.Error(w, "bad request", http.StatusBadRequest)
		return nil, false
	}

	if h.signingSecret == "" {
		return body, true
	}
	verifier, err := slack.NewSecretsVerifier(r.Header, h.signingSecret)
	if err != nil {
		http.Error(w, "invalid signature", http.StatusUnauthorized)
		return nil, false
	}
	if _, err := verifier.Write(body); err != nil {
		http.Error(w, "invalid signature", http.StatusUnauthorized)
		return nil, false
	}
	if err := verifier.Ensure(); err != nil {
		h.logger.Warn("rejected Slack request with bad signature", "path", r.URL.Path)
		http.Error(w, "invalid signature", http.StatusUnauthorized)
		return nil, false
	}
	return body, true
}
