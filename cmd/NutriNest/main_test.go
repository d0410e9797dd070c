package main

import (
	"bytes"
	"context"
	"path/filepath"
	"strings"
	"testing"

	"github.com/BTreeMap/NutriNest/internal/api"
	"github.com/BTreeMap/NutriNest/internal/genai"
	"github.com/BTreeMap/NutriNest/internal/messaging"
	"github.com/BTreeMap/NutriNest/internal/store"
	"github.com/openai/openai-go"
)

func clearEnv(t *testing.T) {
	for _, key := range []string{
		"NUTRINEST_STATE_DIR", "DATABASE_URL", "REDIS_URL", "WHATSAPP_DB_DSN",
		"OPENAI_API_KEY", "OPENAI_MODEL", "API_ADDR", "MESSAGING_PROVIDER",
		"RATE_LIMIT_PER_MINUTE", "NUTRINEST_LOG_LEVEL", "NUTRINEST_LOG_FORMAT",
	} {
		t.Setenv(key, "")
	}
}

func TestLoadEnvironmentConfigDefaults(t *testing.T) {
	clearEnv(t)
	config := loadEnvironmentConfig()

	if config.StateDir != DefaultStateDir {
		t.Errorf("expected default state dir %q, got %q", DefaultStateDir, config.StateDir)
	}
	if want := filepath.Join(DefaultStateDir, DefaultAppDBFileName); config.DatabaseURL != want {
		t.Errorf("expected default app DSN %q, got %q", want, config.DatabaseURL)
	}
	if want := "file:" + filepath.Join(DefaultStateDir, DefaultWhatsAppDBFileName) + "?_foreign_keys=on"; config.WhatsAppDSN != want {
		t.Errorf("expected default WhatsApp DSN %q, got %q", want, config.WhatsAppDSN)
	}
	if config.Provider != api.ProviderNone || config.RateLimit != DefaultRateLimit || config.APIAddr != api.DefaultAddr {
		t.Errorf("unexpected defaults %+v", config)
	}
}

func TestLoadEnvironmentConfigOverrides(t *testing.T) {
	clearEnv(t)
	t.Setenv("REDIS_URL", "redis://localhost:6379/0")
	t.Setenv("MESSAGING_PROVIDER", "Twilio")
	t.Setenv("RATE_LIMIT_PER_MINUTE", "oops")
	config := loadEnvironmentConfig()

	if config.DatabaseURL != "redis://localhost:6379/0" {
		t.Errorf("REDIS_URL should back the store when DATABASE_URL is unset, got %q", config.DatabaseURL)
	}
	if config.Provider != api.ProviderTwilio {
		t.Errorf("provider should be lowercased, got %q", config.Provider)
	}
	if config.RateLimit != DefaultRateLimit {
		t.Errorf("invalid rate limit should fall back, got %d", config.RateLimit)
	}

	t.Setenv("DATABASE_URL", "postgres://u:p@localhost/nutrinest")
	if got := loadEnvironmentConfig().DatabaseURL; got != "postgres://u:p@localhost/nutrinest" {
		t.Errorf("DATABASE_URL takes precedence, got %q", got)
	}
}

func TestBuildStoreOptions(t *testing.T) {
	for dsn, want := range map[string]string{
		"postgres://u@h/db":      "postgres://u@h/db",
		"redis://localhost:6379": "redis://localhost:6379",
		"/tmp/nutrinest.db":      "/tmp/nutrinest.db",
	} {
		opts := buildStoreOptions(Config{DatabaseURL: dsn})
		var cfg store.Opts
		for _, opt := range opts {
			opt(&cfg)
		}
		if cfg.DSN != want {
			t.Errorf("buildStoreOptions(%q) DSN = %q", dsn, cfg.DSN)
		}
	}
}

func TestBuildAPIOptions(t *testing.T) {
	opts := buildAPIOptions(Config{APIAddr: ":9000", Provider: "twilio", TwilioAuthToken: "tok", RateLimit: 5})
	var cfg api.Opts
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.Addr != ":9000" || cfg.Provider != "twilio" || cfg.RateLimit != 5 {
		t.Errorf("unexpected API opts %+v", cfg)
	}
	if cfg.TwilioAuthToken != "" {
		t.Error("signature validation needs both token and webhook URL")
	}
}

func TestInitializeLogger(t *testing.T) {
	var buf bytes.Buffer
	if err := initializeLogger(&buf, "debug", "json"); err != nil {
		t.Fatalf("initializeLogger failed: %v", err)
	}
	if err := initializeLogger(&buf, "loud", "text"); err == nil {
		t.Error("expected error for invalid level")
	}
	if err := initializeLogger(&buf, "info", "xml"); err == nil {
		t.Error("expected error for invalid format")
	}
}

func TestRulesTexturesCommand(t *testing.T) {
	clearEnv(t)
	config := loadEnvironmentConfig()
	root := newRootCmd(&config)
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetErr(&out)
	root.SetArgs([]string{"rules", "textures", "5"})
	if err := root.Execute(); err != nil {
		t.Fatalf("rules textures failed: %v", err)
	}
	if !strings.Contains(out.String(), "textures: smooth_puree, mashed") {
		t.Errorf("unexpected output %q", out.String())
	}

	root.SetArgs([]string{"rules", "textures", "-3"})
	if err := root.Execute(); err == nil {
		t.Error("expected error for negative age")
	}
}

type stubLLM struct{}

func (stubLLM) Chat(ctx context.Context, messages []openai.ChatCompletionMessageParamUnion, opts ...genai.CallOption) (string, error) {
	return "", nil
}

func (stubLLM) ChatWithTools(ctx context.Context, messages []openai.ChatCompletionMessageParamUnion, tools []openai.ChatCompletionToolParam, exec genai.ToolExecutor, opts ...genai.CallOption) (string, error) {
	return "Offer water in small sips.", nil
}

func TestChatREPL(t *testing.T) {
	app, err := api.NewApp(api.Modules{}, stubLLM{})
	if err != nil {
		t.Fatalf("NewApp failed: %v", err)
	}
	defer app.Close()
	rh := messaging.NewResponseHandler(nil, app.Router)

	var out bytes.Buffer
	in := strings.NewReader("START\n\nhow much water?\nexit\nPROFILE\n")
	if err := chatREPL(context.Background(), rh, DefaultChatPhone, in, &out); err != nil {
		t.Fatalf("chatREPL failed: %v", err)
	}
	got := out.String()
	if !strings.Contains(got, messaging.WelcomeMessage) || !strings.Contains(got, "Offer water in small sips.") {
		t.Errorf("unexpected transcript:\n%s", got)
	}
	if strings.Contains(got, "*Baby Profile*") {
		t.Error("input after exit must not be processed")
	}
}
