package api

import (
	"context"
	"crypto/hmac"
	"crypto/sha1"
	"encoding/base64"
	"encoding/json"
	"math"
	"net/http"
	"net/http/httptest"
	"net/url"
	"sort"
	"strings"
	"testing"
	"time"

	"github.com/BTreeMap/NutriNest/internal/genai"
	"github.com/BTreeMap/NutriNest/internal/messaging"
	"github.com/BTreeMap/NutriNest/internal/models"
	"github.com/BTreeMap/NutriNest/internal/twiliowhatsapp"
	"github.com/openai/openai-go"
)

type stubLLM struct{}

func (stubLLM) Chat(ctx context.Context, messages []openai.ChatCompletionMessageParamUnion, opts ...genai.CallOption) (string, error) {
	return "A gentle story.", nil
}

func (stubLLM) ChatWithTools(ctx context.Context, messages []openai.ChatCompletionMessageParamUnion, tools []openai.ChatCompletionToolParam, exec genai.ToolExecutor, opts ...genai.CallOption) (string, error) {
	return "Try mashed banana.", nil
}

func newTestServer(t *testing.T, twilio *messaging.TwilioService, opts ...Option) *Server {
	t.Helper()
	app, err := NewApp(Modules{}, stubLLM{})
	if err != nil {
		t.Fatalf("NewApp failed: %v", err)
	}
	t.Cleanup(func() { app.Close() })
	rh := messaging.NewResponseHandler(nil, app.Router, messaging.WithDedup(app.Store))
	return NewServer(rh, app.Store, twilio, opts...)
}

func do(t *testing.T, h http.Handler, method, path, body string) (*httptest.ResponseRecorder, map[string]any) {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	var decoded map[string]any
	json.Unmarshal(rr.Body.Bytes(), &decoded)
	return rr, decoded
}

func TestHealthHandler(t *testing.T) {
	s := newTestServer(t, nil, WithMessagingProvider(ProviderNone))
	rr, body := do(t, s.Handler(), http.MethodGet, "/health", "")
	if rr.Code != http.StatusOK || body["status"] != "ok" {
		t.Fatalf("unexpected health response %d %v", rr.Code, body)
	}
	result := body["result"].(map[string]any)
	if result["status"] != "healthy" || result["provider"] != ProviderNone || result["timestamp"] == "" {
		t.Errorf("unexpected health result %v", result)
	}
}

func TestWriteEnvelope_EncodingFailureFallsBack(t *testing.T) {
	rr := httptest.NewRecorder()
	writeSuccess(rr, http.StatusOK, map[string]float64{"weight": math.NaN()})
	if rr.Code != http.StatusInternalServerError {
		t.Errorf("expected 500, got %d", rr.Code)
	}
	if rr.Body.String() != fallbackErrorBody {
		t.Errorf("unexpected body %q", rr.Body.String())
	}
	var decoded models.APIResponse
	if err := json.Unmarshal([]byte(fallbackErrorBody), &decoded); err != nil || decoded != models.Error("Internal server error") {
		t.Errorf("fallback body is not the models.Error envelope: %+v err=%v", decoded, err)
	}

	rr = httptest.NewRecorder()
	writeError(rr, http.StatusNotFound, "Profile not found")
	if rr.Code != http.StatusNotFound || rr.Header().Get("Content-Type") != "application/json" ||
		rr.Body.String() != `{"status":"error","message":"Profile not found"}` {
		t.Errorf("unexpected error response %d %q", rr.Code, rr.Body.String())
	}
}

func TestChatHandler(t *testing.T) {
	h := newTestServer(t, nil).Handler()

	rr, body := do(t, h, http.MethodPost, "/chat", `{"from":"+1 555 0100","body":" start "}`)
	if rr.Code != http.StatusOK || body["status"] != "ok" {
		t.Fatalf("unexpected response %d %v", rr.Code, body)
	}
	result := body["result"].(map[string]any)
	if result["to"] != "15550100" || result["reply"] != messaging.WelcomeMessage {
		t.Errorf("unexpected chat result %v", result)
	}

	_, body = do(t, h, http.MethodPost, "/chat", `{"from":"15550100","body":"is banana ok?"}`)
	if got := body["result"].(map[string]any)["reply"]; got != "Try mashed banana." {
		t.Errorf("expected conversational reply, got %v", got)
	}

	tests := []struct {
		body string
		code int
	}{
		{`{bad json`, http.StatusBadRequest},
		{`{"from":"15550100","body":"   "}`, http.StatusBadRequest},
		{`{"from":"abc","body":"hi"}`, http.StatusBadRequest},
	}
	for _, tt := range tests {
		if rr, body := do(t, h, http.MethodPost, "/chat", tt.body); rr.Code != tt.code || body["status"] != "error" {
			t.Errorf("POST /chat %s: got %d %v, want %d", tt.body, rr.Code, body, tt.code)
		}
	}

	if rr, _ := do(t, h, http.MethodGet, "/chat", ""); rr.Code != http.StatusMethodNotAllowed {
		t.Errorf("GET /chat: expected 405, got %d", rr.Code)
	}
}

func TestChatHandler_DuplicateMessageID(t *testing.T) {
	h := newTestServer(t, nil).Handler()
	req := `{"from":"15550100","body":"help","message_id":"m-1"}`
	if rr, _ := do(t, h, http.MethodPost, "/chat", req); rr.Code != http.StatusOK {
		t.Fatalf("first delivery: expected 200, got %d", rr.Code)
	}
	if rr, _ := do(t, h, http.MethodPost, "/chat", req); rr.Code != http.StatusConflict {
		t.Errorf("redelivery: expected 409, got %d", rr.Code)
	}
}

func TestProfileHandler(t *testing.T) {
	h := newTestServer(t, nil).Handler()

	if rr, _ := do(t, h, http.MethodGet, "/profiles/15550100", ""); rr.Code != http.StatusNotFound {
		t.Errorf("expected 404 before START, got %d", rr.Code)
	}
	do(t, h, http.MethodPost, "/chat", `{"from":"15550100","body":"START"}`)
	rr, body := do(t, h, http.MethodGet, "/profiles/+15550100", "")
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}
	profile := body["result"].(map[string]any)
	if profile["feeding_type"] != "mixed" {
		t.Errorf("unexpected profile %v", profile)
	}
	if rr, _ := do(t, h, http.MethodGet, "/profiles/x", ""); rr.Code != http.StatusBadRequest {
		t.Errorf("expected 400 for invalid phone, got %d", rr.Code)
	}
}

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

func TestTwilioWebhook_Signature(t *testing.T) {
	const token = "secret"
	const hook = "https://nutrinest.example.com/webhook/twilio"
	svc := messaging.NewTwilioService(twiliowhatsapp.NewMockClient())
	h := newTestServer(t, svc, WithTwilioWebhook(token, hook)).Handler()

	form := url.Values{"From": {"whatsapp:+15550100"}, "Body": {"TODAY"}, "MessageSid": {"SM42"}}
	post := func(sig string) int {
		req := httptest.NewRequest(http.MethodPost, "/webhook/twilio", strings.NewReader(form.Encode()))
		req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
		if sig != "" {
			req.Header.Set(twiliowhatsapp.SignatureHeader, sig)
		}
		rr := httptest.NewRecorder()
		h.ServeHTTP(rr, req)
		return rr.Code
	}

	if code := post(""); code != http.StatusForbidden {
		t.Errorf("unsigned webhook: expected 403, got %d", code)
	}
	if code := post("bm90LXZhbGlk"); code != http.StatusForbidden {
		t.Errorf("bad signature: expected 403, got %d", code)
	}
	if code := post(sign(token, hook, form)); code != http.StatusOK {
		t.Fatalf("signed webhook: expected 200, got %d", code)
	}
	select {
	case resp := <-svc.Responses():
		if resp.MessageID != "SM42" || resp.From != "15550100" || resp.Body != "TODAY" {
			t.Errorf("unexpected inbound %+v", resp)
		}
	case <-time.After(time.Second):
		t.Fatal("expected inbound message on Responses()")
	}
}

func TestTwilioWebhook_NotRoutedWithoutTwilio(t *testing.T) {
	h := newTestServer(t, nil).Handler()
	rr, _ := do(t, h, http.MethodPost, "/webhook/twilio", "")
	if rr.Code != http.StatusNotFound {
		t.Errorf("expected 404 without Twilio provider, got %d", rr.Code)
	}
}

func TestNewMessagingService(t *testing.T) {
	svc, tw, err := newMessagingService(context.Background(), ProviderNone, Modules{})
	if err != nil || svc != nil || tw != nil {
		t.Errorf("ProviderNone: got %v %v %v", svc, tw, err)
	}
	if _, _, err := newMessagingService(context.Background(), "carrier-pigeon", Modules{}); err == nil {
		t.Error("expected error for unknown provider")
	}
	t.Setenv("TWILIO_ACCOUNT_SID", "")
	t.Setenv("TWILIO_AUTH_TOKEN", "")
	t.Setenv("TWILIO_FROM_NUMBER", "")
	if _, _, err := newMessagingService(context.Background(), ProviderTwilio, Modules{}); err == nil {
		t.Error("expected error for Twilio without credentials")
	}
}
