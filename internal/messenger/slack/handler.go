package slack

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"

	"github.com/rs/zerolog/log"
	slacklib "github.com/slack-go/slack"
)

// maxBodyBytes bounds webhook payloads.
const maxBodyBytes = 1 << 20

// ResponseHandler dispatches reviewer answers received from Slack to the ticket router.
type ResponseHandler interface {
	HandleSlackResponse(ctx context.Context, threadTS, answer, slackUserID string) error
}

// Handler processes Slack webhook events (Events API + Interactive Components).
type Handler struct {
	signingSecret string
	responder     ResponseHandler
}

// NewHandler creates a new Slack webhook handler.
func NewHandler(signingSecret string, responder ResponseHandler) *Handler {
	return &Handler{
		signingSecret: signingSecret,
		responder:     responder,
	}
}

// slackEvent represents the outer envelope of Slack Events API payloads.
type slackEvent struct {
	Type      string          `json:"type"`
	Challenge string          `json:"challenge,omitempty"`
	Event     json.RawMessage `json:"event,omitempty"`
}

type innerEvent struct {
	Type     string `json:"type"`
	Channel  string `json:"channel"`
	ThreadTS string `json:"thread_ts,omitempty"`
	Text     string `json:"text"`
	User     string `json:"user"`
	BotID    string `json:"bot_id,omitempty"`
}

// HandleEvents is an http.HandlerFunc for POST /slack/events.
func (h *Handler) HandleEvents(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes))
	if err != nil {
		http.Error(w, "failed to read body", http.StatusBadRequest)
		return
	}

	if verifyErr := h.verifySignature(r.Header, body); verifyErr != nil {
		http.Error(w, "invalid signature", http.StatusUnauthorized)
		return
	}

	var envelope slackEvent
	if unmarshalErr := json.Unmarshal(body, &envelope); unmarshalErr != nil {
		http.Error(w, "invalid JSON", http.StatusBadRequest)
		return
	}

	switch envelope.Type {
	case "url_verification":
		h.handleURLVerification(w, envelope.Challenge)
	case "event_callback":
		h.handleEventCallback(r.Context(), w, envelope.Event)
	default:
		w.WriteHeader(http.StatusOK)
	}
}

func (h *Handler) handleURLVerification(w http.ResponseWriter, challenge string) {
	w.Header().Set("Content-Type", "application/json")

	resp := map[string]string{"challenge": challenge}
	if encodeErr := json.NewEncoder(w).Encode(resp); encodeErr != nil {
		log.Error().Err(encodeErr).Msg("slack.Handler: encode url verification response")
	}
}

func (h *Handler) handleEventCallback(ctx context.Context, w http.ResponseWriter, rawEvent json.RawMessage) {
	var evt innerEvent
	if unmarshalErr := json.Unmarshal(rawEvent, &evt); unmarshalErr != nil {
		http.Error(w, "invalid event JSON", http.StatusBadRequest)
		return
	}

	// Only threaded human messages can answer a review.
	if evt.Type != "message" || evt.ThreadTS == "" || evt.BotID != "" {
		w.WriteHeader(http.StatusOK)
		return
	}

	reply := ParseReviewReply(evt.Text)
	if !reply.Decided {
		w.WriteHeader(http.StatusOK)
		return
	}

	if respondErr := h.responder.HandleSlackResponse(ctx, evt.ThreadTS, reply.Answer, evt.User); respondErr != nil {
		log.Warn().Err(respondErr).Str("thread_ts", evt.ThreadTS).Msg("slack.Handler: dispatch thread reply")
	}

	w.WriteHeader(http.StatusOK)
}

// HandleInteractions is an http.HandlerFunc for POST /slack/interactions.
func (h *Handler) HandleInteractions(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes))
	if err != nil {
		http.Error(w, "failed to read body", http.StatusBadRequest)
		return
	}

	if verifyErr := h.verifySignature(r.Header, body); verifyErr != nil {
		http.Error(w, "invalid signature", http.StatusUnauthorized)
		return
	}

	// The body was consumed for signature verification; restore it for form parsing.
	r.Body = io.NopCloser(bytes.NewReader(body))

	if parseErr := r.ParseForm(); parseErr != nil {
		http.Error(w, "failed to parse form", http.StatusBadRequest)
		return
	}

	payloadStr := r.FormValue("payload")
	if payloadStr == "" {
		payloadStr = extractFormPayload(string(body))
	}
	if payloadStr == "" {
		http.Error(w, "missing payload", http.StatusBadRequest)
		return
	}

	var callback slacklib.InteractionCallback
	if unmarshalErr := json.Unmarshal([]byte(payloadStr), &callback); unmarshalErr != nil {
		http.Error(w, "invalid payload JSON", http.StatusBadRequest)
		return
	}

	actionValue := extractActionValue(&callback)
	threadTS := extractInteractionThreadTS(&callback)

	if actionValue == "" || threadTS == "" {
		w.WriteHeader(http.StatusOK)
		return
	}

	if respondErr := h.responder.HandleSlackResponse(r.Context(), threadTS, actionValue, callback.User.ID); respondErr != nil {
		log.Warn().Err(respondErr).Str("thread_ts", threadTS).Msg("slack.Handler: dispatch interaction")
	}

	w.WriteHeader(http.StatusOK)
}

func (h *Handler) verifySignature(header http.Header, body []byte) error {
	sv, err := slacklib.NewSecretsVerifier(header, h.signingSecret)
	if err != nil {
		return fmt.Errorf("slack.Handler.verifySignature: create verifier: %w", err)
	}

	if _, writeErr := sv.Write(body); writeErr != nil {
		return fmt.Errorf("slack.Handler.verifySignature: write body: %w", writeErr)
	}

	if ensureErr := sv.Ensure(); ensureErr != nil {
		return fmt.Errorf("slack.Handler.verifySignature: ensure: %w", ensureErr)
	}

	return nil
}

func extractActionValue(callback *slacklib.InteractionCallback) string {
	if len(callback.ActionCallback.BlockActions) > 0 {
		return callback.ActionCallback.BlockActions[0].Value
	}
	if len(callback.ActionCallback.AttachmentActions) > 0 {
		return callback.ActionCallback.AttachmentActions[0].Value
	}

	return ""
}

func extractInteractionThreadTS(callback *slacklib.InteractionCallback) string {
	if callback.Container.ThreadTs != "" {
		return callback.Container.ThreadTs
	}
	if callback.Message.ThreadTimestamp != "" {
		return callback.Message.ThreadTimestamp
	}

	return ""
}

func extractFormPayload(body string) string {
	values, err := url.ParseQuery(body)
	if err != nil {
		return ""
	}

	return values.Get("payload")
}
