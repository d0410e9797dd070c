// Package api exposes the NutriNest HTTP surface: health, the Twilio
// webhook, a synchronous chat endpoint and profile lookup.
package api

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/BTreeMap/NutriNest/internal/messaging"
	"github.com/BTreeMap/NutriNest/internal/store"
	"github.com/BTreeMap/NutriNest/internal/twiliowhatsapp"
)

// Defaults for the HTTP server.
const (
	DefaultAddr            = ":8080"
	DefaultShutdownTimeout = 10 * time.Second
	readHeaderTimeout      = 10 * time.Second
)

// Messaging providers.
const (
	ProviderWhatsApp = "whatsapp"
	ProviderTwilio   = "twilio"
	ProviderNone     = "none"
)

// Opts holds configuration options for the API server and its bootstrap.
type Opts struct {
	Addr             string
	Provider         string // whatsapp, twilio or none
	TwilioAuthToken  string // enables webhook signature checks with TwilioWebhookURL
	TwilioWebhookURL string // public URL Twilio signs
	RateLimit        int    // inbound messages per phone per minute; 0 disables
	StateDir         string // locked for the lifetime of the process when set
}

// Option defines a configuration option for the API server.
type Option func(*Opts)

// WithAddr sets the listen address.
func WithAddr(addr string) Option {
	return func(o *Opts) { o.Addr = addr }
}

// WithMessagingProvider selects the WhatsApp transport.
func WithMessagingProvider(provider string) Option {
	return func(o *Opts) { o.Provider = provider }
}

// WithTwilioWebhook enables X-Twilio-Signature validation against webhookURL.
func WithTwilioWebhook(authToken, webhookURL string) Option {
	return func(o *Opts) {
		o.TwilioAuthToken = authToken
		o.TwilioWebhookURL = webhookURL
	}
}

// WithRateLimit caps inbound messages per phone per minute.
func WithRateLimit(perMinute int) Option {
	return func(o *Opts) { o.RateLimit = perMinute }
}

// WithStateDir sets the directory guarded by the instance lock.
func WithStateDir(dir string) Option {
	return func(o *Opts) { o.StateDir = dir }
}

func applyOptions(opts []Option) Opts {
	cfg := Opts{Addr: DefaultAddr, Provider: ProviderNone}
	for _, opt := range opts {
		opt(&cfg)
	}
	return cfg
}

// Server serves the HTTP API.
type Server struct {
	addr        string
	provider    string
	respHandler *messaging.ResponseHandler
	profiles    store.ProfileStore
	twilio      *messaging.TwilioService
	validator   *twiliowhatsapp.Validator
	webhookURL  string
}

// NewServer creates a Server. twilio may be nil, in which case the webhook
// route is not registered.
func NewServer(respHandler *messaging.ResponseHandler, profiles store.ProfileStore, twilio *messaging.TwilioService, opts ...Option) *Server {
	cfg := applyOptions(opts)
	s := &Server{
		addr:        cfg.Addr,
		provider:    cfg.Provider,
		respHandler: respHandler,
		profiles:    profiles,
		twilio:      twilio,
	}
	if cfg.TwilioAuthToken != "" && cfg.TwilioWebhookURL != "" {
		s.validator = twiliowhatsapp.NewValidator(cfg.TwilioAuthToken)
		s.webhookURL = cfg.TwilioWebhookURL
	} else if twilio != nil {
		slog.Warn("NewServer: Twilio webhook signature validation disabled (set TWILIO_AUTH_TOKEN and TWILIO_WEBHOOK_URL)")
	}
	return s
}

// Handler returns the routed handler with request logging.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /health", s.healthHandler)
	mux.HandleFunc("POST /chat", s.chatHandler)
	mux.HandleFunc("GET /profiles/{phone}", s.profileHandler)
	if s.twilio != nil {
		mux.Handle("POST /webhook/twilio", s.requireTwilioSignature(http.HandlerFunc(s.twilio.TwilioWebhookHandler)))
	}
	return logRequests(mux)
}

// ListenAndServe serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) ListenAndServe(ctx context.Context) error {
	srv := &http.Server{
		Addr:              s.addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: readHeaderTimeout,
	}
	errCh := make(chan error, 1)
	go func() {
		slog.Info("Server.ListenAndServe: listening", "addr", s.addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("http server: %w", err)
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), DefaultShutdownTimeout)
	defer cancel()
	slog.Info("Server.ListenAndServe: shutting down")
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("http shutdown: %w", err)
	}
	return nil
}

// statusRecorder captures the status code for request logs.
type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

func logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)
		slog.Debug("Server: request", "method", r.Method, "path", r.URL.Path, "status", rec.status, "duration", time.Since(start))
	})
}
