package server

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/frontdesk-io/frontdesk/internal/agent"
	"github.com/frontdesk-io/frontdesk/internal/requestctx"
)

// Provider webhook limits from the original channel contract.
const (
	maxWebhookBody = 256_000 // bytes
	maxMessageLen  = 2000    // runes
)

func writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"status":  "ok",
		"version": s.version,
		"uptime":  time.Since(s.startTime).String(),
	})
}

// dispatch routes one inbound message through the orchestrator with the
// request id and channel threaded into the context.
func (s *Server) dispatch(w http.ResponseWriter, r *http.Request, in *agent.Inbound) {
	ctx := r.Context()
	if reqID := middleware.GetReqID(ctx); reqID != "" {
		ctx = requestctx.SetRequestID(ctx, reqID)
	}
	ctx = requestctx.SetChannel(ctx, in.Channel)

	resp := s.orchestrator.Handle(ctx, in)
	writeJSON(w, http.StatusOK, resp)
}

type webAgentRequest struct {
	Message   string `json:"message"`
	SessionID string `json:"session_id"`
}

func (s *Server) handleWebAgent(w http.ResponseWriter, r *http.Request) {
	var req webAgentRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", "invalid JSON: "+err.Error())
		return
	}
	if strings.TrimSpace(req.Message) == "" {
		writeError(w, http.StatusBadRequest, "invalid_request", "Missing message")
		return
	}
	s.dispatch(w, r, &agent.Inbound{
		Message:   req.Message,
		SessionID: req.SessionID,
		Channel:   "web",
	})
}

type waAgentRequest struct {
	FromNumber string `json:"from_number"`
	Text       string `json:"text"`
	MessageID  string `json:"message_id"`
}

// handleWAAgent bridges a WhatsApp gateway. The session is keyed by the
// sender's number so a conversation survives across messages.
func (s *Server) handleWAAgent(w http.ResponseWriter, r *http.Request) {
	var req waAgentRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", "invalid JSON: "+err.Error())
		return
	}
	if strings.TrimSpace(req.FromNumber) == "" || strings.TrimSpace(req.Text) == "" {
		writeError(w, http.StatusBadRequest, "invalid_request", "from_number and text are required")
		return
	}
	s.dispatch(w, r, &agent.Inbound{
		Message:   req.Text,
		SessionID: req.FromNumber,
		Channel:   "whatsapp",
		UserID:    req.FromNumber,
		MessageID: req.MessageID,
	})
}

// handleProviderInbound accepts a generic provider webhook: size-capped
// body, optional anti-replay timestamp, optional HMAC signature, payload
// hash forwarded to the dedupe gate.
func (s *Server) handleProviderInbound(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxWebhookBody))
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeError(w, http.StatusRequestEntityTooLarge, "payload_too_large", "Payload too large")
			return
		}
		writeError(w, http.StatusBadRequest, "invalid_request", "reading body: "+err.Error())
		return
	}

	signature := r.Header.Get("provider-signature")
	timestamp := r.Header.Get("provider-timestamp")

	if timestamp != "" {
		ts, err := strconv.ParseInt(timestamp, 10, 64)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_request", "Invalid provider-timestamp")
			return
		}
		now := time.Now().Unix()
		if ts < now-int64(s.replayWindow.Seconds()) {
			writeError(w, http.StatusUnauthorized, "unauthorized", "Stale request (replay window)")
			return
		}
		if ts > now+int64(maxFutureSkew.Seconds()) {
			writeError(w, http.StatusUnauthorized, "unauthorized", "Request timestamp too far in future")
			return
		}
	}

	if s.webhookSecret != "" {
		if !VerifySignature(body, signature, timestamp, s.webhookSecret, s.replayWindow) {
			writeError(w, http.StatusUnauthorized, "unauthorized", "Invalid signature")
			return
		}
	}

	var payload map[string]interface{}
	if err := json.Unmarshal(body, &payload); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", "Invalid JSON")
		return
	}

	text := strings.TrimSpace(asString(payload["message"]))
	if runes := []rune(text); len(runes) > maxMessageLen {
		text = string(runes[:maxMessageLen])
	}
	if text == "" {
		writeError(w, http.StatusBadRequest, "invalid_request", "Missing message")
		return
	}

	from := strings.TrimSpace(asString(payload["from"]))
	sessionID := from
	if sessionID == "" {
		sessionID = "provider_session"
	}

	hash := payloadHash(body)
	messageID := asString(payload["message_id"])
	if messageID == "" {
		messageID = asString(payload["id"])
	}
	if messageID == "" {
		messageID = hash
	}

	s.dispatch(w, r, &agent.Inbound{
		Message:     text,
		SessionID:   sessionID,
		Channel:     "provider_webhook",
		UserID:      from,
		MessageID:   messageID,
		PayloadHash: hash,
	})
}

// asString renders a JSON value as text; nil becomes "".
func asString(v interface{}) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return t
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	case bool:
		return strconv.FormatBool(t)
	default:
		raw, _ := json.Marshal(t)
		return string(raw)
	}
}

func (s *Server) handleCleanup(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	switch chi.URLParam(r, "target") {
	case "dedupe":
		deleted, err := s.janitor.CleanupDedupe(ctx)
		if err != nil {
			writeError(w, http.StatusInternalServerError, "internal", err.Error())
			return
		}
		writeJSON(w, http.StatusOK, map[string]interface{}{"ok": true, "deleted": deleted})
	case "sessions":
		deleted, err := s.janitor.CleanupSessions(ctx)
		if err != nil {
			writeError(w, http.StatusInternalServerError, "internal", err.Error())
			return
		}
		writeJSON(w, http.StatusOK, map[string]interface{}{"ok": true, "deleted": deleted})
	case "confirmations":
		expired, deleted, err := s.janitor.CleanupConfirmations(ctx)
		if err != nil {
			writeError(w, http.StatusInternalServerError, "internal", err.Error())
			return
		}
		writeJSON(w, http.StatusOK, map[string]interface{}{"ok": true, "expired": expired, "deleted": deleted})
	case "all":
		counts := s.janitor.RunOnce(ctx)
		result := map[string]interface{}{"ok": true}
		for k, v := range counts {
			result[k] = v
		}
		writeJSON(w, http.StatusOK, result)
	default:
		writeError(w, http.StatusNotFound, "not_found", "unknown cleanup target")
	}
}

func (s *Server) handleAuditList(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()

	limit := 50
	if raw := q.Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 {
			writeError(w, http.StatusBadRequest, "invalid_request", "invalid limit")
			return
		}
		limit = n
	}
	if limit > 500 {
		limit = 500
	}

	var from, to time.Time
	if raw := q.Get("from"); raw != "" {
		t, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_request", "invalid from timestamp, want RFC3339")
			return
		}
		from = t
	}
	if raw := q.Get("to"); raw != "" {
		t, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_request", "invalid to timestamp, want RFC3339")
			return
		}
		to = t
	}

	events, err := s.auditStore.List(r.Context(), q.Get("session_id"), q.Get("request_id"), q.Get("type"), from, to, limit)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "internal", err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"events": events,
		"count":  len(events),
	})
}
