// Package models defines the core data structures for NutriNest.
//
// It includes the baby profile, meal plans, stories, conversation and flow
// state, and the inbound/receipt events shared across modules.
package models

import (
	"errors"
	"time"
)

// MessageStatus represents the delivery status of a message.
type MessageStatus string

const (
	// MessageStatusSent indicates the message was sent.
	MessageStatusSent MessageStatus = "sent"
	// MessageStatusDelivered indicates the message was delivered.
	MessageStatusDelivered MessageStatus = "delivered"
	// MessageStatusRead indicates the message was read.
	MessageStatusRead MessageStatus = "read"
	// MessageStatusFailed indicates the message failed to send.
	MessageStatusFailed MessageStatus = "failed"
)

// Receipt is a delivery event for an outbound message.
type Receipt struct {
	To             string        `json:"to"`
	Status         MessageStatus `json:"status"`
	Time           int64         `json:"time"`
	IdempotencyKey string        `json:"idempotency_key,omitempty"`
}

// Response represents an incoming message from a parent.
type Response struct {
	MessageID string `json:"message_id,omitempty"`
	From      string `json:"from"`
	Body      string `json:"body"`
	Time      int64  `json:"time"`
}

// Conversation roles stored in history.
const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// ConversationMessage is one entry of the bounded per-phone history.
type ConversationMessage struct {
	Role      string    `json:"role"`
	Content   string    `json:"content"`
	Timestamp time.Time `json:"timestamp"`
}

// Notice is a failure that carries a message safe to show a parent.
// Services return it (possibly wrapped) instead of a bare string result.
type Notice struct {
	Message string
	Err     error
}

func (n *Notice) Error() string {
	if n.Err != nil {
		return n.Message + ": " + n.Err.Error()
	}
	return n.Message
}

func (n *Notice) Unwrap() error { return n.Err }

// NewNotice builds a Notice with an optional underlying cause.
func NewNotice(message string, cause error) *Notice {
	return &Notice{Message: message, Err: cause}
}

// NoticeMessage extracts the user-facing text from err, if it carries one.
func NoticeMessage(err error) (string, bool) {
	var n *Notice
	if errors.As(err, &n) {
		return n.Message, true
	}
	return "", false
}

// APIStatus represents the status of an API response.
type APIStatus string

const (
	APIStatusOK    APIStatus = "ok"
	APIStatusError APIStatus = "error"
)

// APIResponse represents a standard API response with a status and optional data.
type APIResponse struct {
	Status  string      `json:"status"`
	Message string      `json:"message,omitempty"`
	Result  interface{} `json:"result,omitempty"`
}

// Success creates a successful API response with optional result data.
func Success(result interface{}) APIResponse {
	return APIResponse{Status: string(APIStatusOK), Result: result}
}

// SuccessWithMessage creates a successful API response with a message and optional result data.
func SuccessWithMessage(message string, result interface{}) APIResponse {
	return APIResponse{Status: string(APIStatusOK), Message: message, Result: result}
}

// Error creates an error API response with a message.
func Error(message string) APIResponse {
	return APIResponse{Status: string(APIStatusError), Message: message}
}
