package messaging

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/BTreeMap/NutriNest/internal/models"
	"github.com/BTreeMap/NutriNest/internal/twiliowhatsapp"
	"github.com/BTreeMap/NutriNest/internal/util"
)

// emptyTwiML acknowledges a webhook without sending an inline reply.
const emptyTwiML = `<?xml version="1.0" encoding="UTF-8"?><Response></Response>`

// TwilioService implements the Service interface using Twilio API
type TwilioService struct {
	client twiliowhatsapp.TwilioWhatsAppSender
	events *eventChannels
}

var _ Service = (*TwilioService)(nil)

// NewTwilioService creates a new TwilioService around a Twilio client or mock.
func NewTwilioService(client twiliowhatsapp.TwilioWhatsAppSender) *TwilioService {
	return &TwilioService{
		client: client,
		events: newEventChannels("TwilioService"),
	}
}

// ValidateAndCanonicalizeRecipient reduces a phone identifier to its digits.
func (s *TwilioService) ValidateAndCanonicalizeRecipient(recipient string) (string, error) {
	return util.CanonicalPhone(recipient)
}

// Start is a no-op for Twilio; inbound messages arrive through the webhook.
func (s *TwilioService) Start(ctx context.Context) error {
	return nil
}

// Stop closes channels and stops the service
func (s *TwilioService) Stop() error {
	s.events.close()
	return nil
}

// SendMessage sends a message via Twilio and emits a receipt
func (s *TwilioService) SendMessage(ctx context.Context, to string, body string) error {
	if s.events.isStopped() {
		return ErrServiceStopped
	}
	canonicalTo, err := s.ValidateAndCanonicalizeRecipient(to)
	if err != nil {
		slog.Error("TwilioService.SendMessage: invalid recipient", "error", err, "to", to)
		return err
	}
	key := IdempotencyKeyFromContext(ctx)
	if err := s.client.SendMessage(ctx, canonicalTo, body); err != nil {
		slog.Error("TwilioService.SendMessage: send failed", "error", err, "to", canonicalTo, "idempotency_key", key)
		return err
	}
	s.events.emitReceipt(models.Receipt{To: canonicalTo, Status: models.MessageStatusSent, Time: time.Now().Unix(), IdempotencyKey: key})
	return nil
}

// Receipts returns the channel for sent message receipts
func (s *TwilioService) Receipts() <-chan models.Receipt {
	return s.events.receipts
}

// Responses returns the channel for incoming webhook messages
func (s *TwilioService) Responses() <-chan models.Response {
	return s.events.responses
}

// ParseWebhook converts a parsed Twilio webhook form into a Response.
func (s *TwilioService) ParseWebhook(r *http.Request) (models.Response, error) {
	from := r.FormValue("From")
	body := r.FormValue("Body")
	if from == "" || strings.TrimSpace(body) == "" {
		return models.Response{}, fmt.Errorf("missing required fields")
	}
	canonicalFrom, err := util.CanonicalPhone(from)
	if err != nil {
		return models.Response{}, err
	}
	return models.Response{
		MessageID: r.FormValue("MessageSid"),
		From:      canonicalFrom,
		Body:      strings.TrimSpace(body),
		Time:      time.Now().Unix(),
	}, nil
}

// TwilioWebhookHandler handles inbound Twilio webhook requests.
// It parses incoming messages and emits them into the Responses() channel.
// Signature checks are applied by the caller before this handler runs.
func (s *TwilioService) TwilioWebhookHandler(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		slog.Error("TwilioService.TwilioWebhookHandler: failed to parse form", "error", err)
		http.Error(w, "Bad request", http.StatusBadRequest)
		return
	}
	response, err := s.ParseWebhook(r)
	if err != nil {
		slog.Warn("TwilioService.TwilioWebhookHandler: rejected webhook", "error", err, "from", r.FormValue("From"))
		http.Error(w, "Missing required fields", http.StatusBadRequest)
		return
	}
	slog.Info("TwilioService.TwilioWebhookHandler: inbound message", "from", response.From, "message_id", response.MessageID)
	s.events.emitResponse(response)

	w.Header().Set("Content-Type", "text/xml")
	w.WriteHeader(http.StatusOK)
	fmt.Fprint(w, emptyTwiML)
}
