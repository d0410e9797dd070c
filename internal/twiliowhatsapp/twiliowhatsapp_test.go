package twiliowhatsapp

import (
	"context"
	"crypto/hmac"
	"crypto/sha1"
	"encoding/base64"
	"net/url"
	"sort"
	"testing"
)

// sign computes a Twilio request signature for form-encoded webhooks.
func sign(token, webhookURL string, form url.Values) string {
	keys := make([]string, 0, len(form))
	for k := range form {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	data := webhookURL
	for _, k := range keys {
		data += k + form.Get(k)
	}
	mac := hmac.New(sha1.New, []byte(token))
	mac.Write([]byte(data))
	return base64.StdEncoding.EncodeToString(mac.Sum(nil))
}

func TestValidator(t *testing.T) {
	const token = "test-auth-token"
	const hook = "https://example.com/webhook/twilio"
	form := url.Values{
		"From":       {"whatsapp:+14155550123"},
		"Body":       {"TODAY"},
		"MessageSid": {"SM123"},
	}
	v := NewValidator(token)

	if !v.Validate(hook, form, sign(token, hook, form)) {
		t.Error("expected valid signature")
	}
	if v.Validate(hook, form, sign("other-token", hook, form)) {
		t.Error("signature with wrong token must fail")
	}
	if v.Validate(hook, form, "") {
		t.Error("missing signature must fail")
	}
	tampered := url.Values{"From": {"whatsapp:+14155550123"}, "Body": {"STORY"}, "MessageSid": {"SM123"}}
	if v.Validate(hook, tampered, sign(token, hook, form)) {
		t.Error("tampered body must fail")
	}
}

func TestWhatsappAddress(t *testing.T) {
	tests := map[string]string{
		"14155550123":           "whatsapp:+14155550123",
		"+14155550123":          "whatsapp:+14155550123",
		"whatsapp:+14155550123": "whatsapp:+14155550123",
	}
	for in, want := range tests {
		if got := whatsappAddress(in); got != want {
			t.Errorf("whatsappAddress(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestNewClient_RequiresCredentials(t *testing.T) {
	t.Setenv("TWILIO_ACCOUNT_SID", "")
	t.Setenv("TWILIO_AUTH_TOKEN", "")
	t.Setenv("TWILIO_FROM_NUMBER", "")
	if _, err := NewClient(); err == nil {
		t.Error("expected error without credentials")
	}
	if _, err := NewClient(WithAccountSID("AC123"), WithAuthToken("tok")); err == nil {
		t.Error("expected error without from number")
	}
	if _, err := NewClient(WithAccountSID("AC123"), WithAuthToken("tok"), WithFromWhats("+14155238886")); err != nil {
		t.Errorf("unexpected error: %v", err)
	}
}

func TestMockClient_SendMessage(t *testing.T) {
	ctx := context.Background()
	mock := NewMockClient()

	if err := mock.SendMessage(ctx, "12345", "Hello Test"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	sent := mock.Sent()
	if len(sent) != 1 {
		t.Fatalf("expected 1 message, got %d", len(sent))
	}
	if sent[0].Body != "Hello Test" {
		t.Errorf("expected body %q, got %q", "Hello Test", sent[0].Body)
	}
}
