package api

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/BTreeMap/NutriNest/internal/flow"
	"github.com/BTreeMap/NutriNest/internal/genai"
	"github.com/BTreeMap/NutriNest/internal/lockfile"
	"github.com/BTreeMap/NutriNest/internal/media"
	"github.com/BTreeMap/NutriNest/internal/messaging"
	"github.com/BTreeMap/NutriNest/internal/models"
	"github.com/BTreeMap/NutriNest/internal/rules"
	"github.com/BTreeMap/NutriNest/internal/store"
	"github.com/BTreeMap/NutriNest/internal/twiliowhatsapp"
	"github.com/BTreeMap/NutriNest/internal/whatsapp"
)

// Modules carries per-module options collected by the command line.
type Modules struct {
	WhatsApp []whatsapp.Option
	Twilio   []twiliowhatsapp.Option
	Store    []store.Option
	GenAI    []genai.Option
	Rules    []rules.Option
	API      []Option
}

// App is the assembled domain: store, rule engine and command router.
type App struct {
	Store  store.Store
	Rules  *rules.Engine
	Router *messaging.Router
}

// NewApp wires the domain services over the given LLM client. A nil llm
// builds a client from mods.GenAI.
func NewApp(mods Modules, llm genai.ChatService) (*App, error) {
	engine, err := rules.NewEngine(mods.Rules...)
	if err != nil {
		return nil, fmt.Errorf("failed to load food rules: %w", err)
	}
	if llm == nil {
		client, err := genai.NewClient(mods.GenAI...)
		if err != nil {
			return nil, fmt.Errorf("failed to create GenAI client: %w", err)
		}
		llm = client
	}
	st, err := store.New(mods.Store...)
	if err != nil {
		return nil, fmt.Errorf("failed to open store: %w", err)
	}

	gen := flow.NewGenerator(llm, engine)
	profiles := flow.NewProfileService(st, engine, nil)
	meals := flow.NewMealPlanService(gen, st, engine, nil)
	stories := flow.NewStoryService(gen, st, engine, nil)
	update := flow.NewProfileUpdateFlow(flow.NewStoreBasedStateManager(st), profiles.Save, nil)
	convo := flow.NewConversationFlow(llm, profiles, meals, stories, st)

	return &App{
		Store:  st,
		Rules:  engine,
		Router: messaging.NewRouter(profiles, meals, stories, update, convo, media.StubPDFGenerator{},
			messaging.WithImageGenerator(media.StubImageGenerator{})),
	}, nil
}

// Close releases the store.
func (a *App) Close() error {
	return a.Store.Close()
}

// newMessagingService builds the transport for the configured provider.
// ProviderNone yields a nil Service.
func newMessagingService(ctx context.Context, provider string, mods Modules) (messaging.Service, *messaging.TwilioService, error) {
	switch provider {
	case ProviderWhatsApp:
		client, err := whatsapp.NewClient(ctx, mods.WhatsApp...)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to create WhatsApp client: %w", err)
		}
		return messaging.NewWhatsAppService(client), nil, nil
	case ProviderTwilio:
		client, err := twiliowhatsapp.NewClient(mods.Twilio...)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to create Twilio client: %w", err)
		}
		svc := messaging.NewTwilioService(client)
		return svc, svc, nil
	case ProviderNone, "":
		return nil, nil, nil
	}
	return nil, nil, fmt.Errorf("unknown messaging provider %q", provider)
}

// Run starts NutriNest and blocks until ctx is cancelled.
func Run(ctx context.Context, mods Modules) error {
	cfg := applyOptions(mods.API)

	if cfg.StateDir != "" {
		lock, err := lockfile.AcquireLock(cfg.StateDir)
		if err != nil {
			return err
		}
		defer lock.Release()
	}

	app, err := NewApp(mods, nil)
	if err != nil {
		return err
	}
	defer app.Close()

	go func() {
		if err := app.Rules.Watch(ctx); err != nil {
			slog.Error("api.Run: food rules watcher stopped", "error", err)
		}
	}()

	msgService, twilioService, err := newMessagingService(ctx, cfg.Provider, mods)
	if err != nil {
		return err
	}
	respHandler := messaging.NewResponseHandler(msgService, app.Router,
		messaging.WithDedup(app.Store),
		messaging.WithRateLimit(cfg.RateLimit),
	)
	if msgService != nil {
		if err := msgService.Start(ctx); err != nil {
			return fmt.Errorf("failed to start messaging service: %w", err)
		}
		go logReceipts(msgService.Receipts())
		respHandler.Start(ctx)
	}

	server := NewServer(respHandler, app.Store, twilioService, mods.API...)
	slog.Info("api.Run: NutriNest started", "provider", cfg.Provider, "addr", cfg.Addr)
	serveErr := server.ListenAndServe(ctx)

	if msgService != nil {
		if err := msgService.Stop(); err != nil {
			slog.Error("api.Run: failed to stop messaging service", "error", err)
		}
	}
	respHandler.Wait()
	return serveErr
}

// logReceipts drains delivery receipts until the service closes the channel.
func logReceipts(receipts <-chan models.Receipt) {
	for r := range receipts {
		slog.Debug("api.logReceipts: receipt", "to", r.To, "status", r.Status, "idempotency_key", r.IdempotencyKey)
	}
}
