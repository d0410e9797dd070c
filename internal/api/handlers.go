package api

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/BTreeMap/NutriNest/internal/messaging"
	"github.com/BTreeMap/NutriNest/internal/models"
	"github.com/BTreeMap/NutriNest/internal/twiliowhatsapp"
	"github.com/BTreeMap/NutriNest/internal/util"
)

// maxChatBodyBytes caps the /chat request body.
const maxChatBodyBytes = 64 << 10

// ChatRequest is the body of POST /chat.
type ChatRequest struct {
	From      string `json:"from"`
	Body      string `json:"body"`
	MessageID string `json:"message_id,omitempty"`
}

// ChatReply is the result of POST /chat.
type ChatReply struct {
	To    string `json:"to"`
	Reply string `json:"reply"`
}

// HealthStatus is the result of GET /health.
type HealthStatus struct {
	Status    string `json:"status"`
	Provider  string `json:"provider"`
	Timestamp string `json:"timestamp"`
}

func (s *Server) healthHandler(w http.ResponseWriter, r *http.Request) {
	writeSuccess(w, http.StatusOK, HealthStatus{
		Status:    "healthy",
		Provider:  s.provider,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
	})
}

// chatHandler handles POST /chat by running one turn synchronously.
func (s *Server) chatHandler(w http.ResponseWriter, r *http.Request) {
	defer r.Body.Close()
	var req ChatRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxChatBodyBytes)).Decode(&req); err != nil {
		slog.Warn("Server.chatHandler: failed to decode JSON", "error", err)
		writeError(w, http.StatusBadRequest, "Invalid JSON format")
		return
	}
	if strings.TrimSpace(req.Body) == "" {
		writeError(w, http.StatusBadRequest, "Missing required field: body")
		return
	}
	phone, err := util.CanonicalPhone(req.From)
	if err != nil {
		slog.Warn("Server.chatHandler: invalid sender", "error", err, "from", req.From)
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	reply, err := s.respHandler.Reply(r.Context(), models.Response{
		MessageID: req.MessageID,
		From:      phone,
		Body:      strings.TrimSpace(req.Body),
		Time:      time.Now().Unix(),
	})
	if errors.Is(err, messaging.ErrDuplicate) {
		writeError(w, http.StatusConflict, "Duplicate message_id")
		return
	}
	if err != nil {
		slog.Error("Server.chatHandler: turn failed", "error", err, "phone", phone)
		writeError(w, http.StatusInternalServerError, "Failed to process message")
		return
	}
	writeSuccess(w, http.StatusOK, ChatReply{To: phone, Reply: reply})
}

// profileHandler handles GET /profiles/{phone}.
func (s *Server) profileHandler(w http.ResponseWriter, r *http.Request) {
	phone, err := util.CanonicalPhone(r.PathValue("phone"))
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	p, err := s.profiles.GetProfile(r.Context(), phone, "")
	if err != nil {
		slog.Error("Server.profileHandler: lookup failed", "error", err, "phone", phone)
		writeError(w, http.StatusInternalServerError, "Failed to get profile")
		return
	}
	if p == nil {
		writeError(w, http.StatusNotFound, "Profile not found")
		return
	}
	writeSuccess(w, http.StatusOK, p)
}

// requireTwilioSignature rejects webhooks whose X-Twilio-Signature does not
// match. It passes everything through when no validator is configured.
func (s *Server) requireTwilioSignature(next http.Handler) http.Handler {
	if s.validator == nil {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if err := r.ParseForm(); err != nil {
			writeError(w, http.StatusBadRequest, "Invalid form body")
			return
		}
		sig := r.Header.Get(twiliowhatsapp.SignatureHeader)
		if sig == "" || !s.validator.Validate(s.webhookURL, r.PostForm, sig) {
			slog.Warn("Server.requireTwilioSignature: invalid signature", "remote", r.RemoteAddr)
			writeError(w, http.StatusForbidden, "Invalid Twilio signature")
			return
		}
		next.ServeHTTP(w, r)
	})
}
