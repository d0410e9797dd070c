// Package store provides storage backends for NutriNest.
//
// Every backend persists the same four things: baby profiles with a
// per-phone default index, the bounded conversation log, flow session state,
// and inbound message dedup records. An in-memory backend is used when no
// DSN is configured.
package store

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/BTreeMap/NutriNest/internal/models"
)

// MaxConversationMessages is how many history entries are kept per phone.
const MaxConversationMessages = 10

// DSN types returned by DetectDSNType.
const (
	DSNTypePostgres = "postgres"
	DSNTypeSQLite   = "sqlite3"
	DSNTypeRedis    = "redis"
)

// ProfileStore persists baby profiles keyed by (phone, baby id).
type ProfileStore interface {
	// GetProfile returns the profile, or nil if absent. An empty babyID
	// resolves through the phone's default-baby index.
	GetProfile(ctx context.Context, phone, babyID string) (*models.BabyProfile, error)
	// SaveProfile upserts the profile and makes its baby id the phone's default.
	SaveProfile(ctx context.Context, phone string, p *models.BabyProfile) error
}

// ConversationStore keeps the most recent messages per phone.
type ConversationStore interface {
	// GetConversation returns up to MaxConversationMessages entries, oldest first.
	GetConversation(ctx context.Context, phone string) ([]models.ConversationMessage, error)
	// AppendConversation adds one entry and evicts the oldest beyond the cap.
	AppendConversation(ctx context.Context, phone, role, content string) error
}

// FlowStateStore persists per-phone flow sessions.
type FlowStateStore interface {
	SaveFlowState(ctx context.Context, state models.FlowState) error
	GetFlowState(ctx context.Context, phone string, flowType models.FlowType) (*models.FlowState, error)
	DeleteFlowState(ctx context.Context, phone string, flowType models.FlowType) error
}

// Store is the full persistence surface used by the application.
type Store interface {
	ProfileStore
	ConversationStore
	FlowStateStore
	DedupRepo
	Close() error
}

// Opts holds configuration options for store backends.
type Opts struct {
	DSN               string // database connection string or redis URL
	KeyPrefix         string // redis key namespace
	ConversationLimit int    // history cap; MaxConversationMessages when zero
}

// Option defines a configuration option for store backends.
type Option func(*Opts)

// WithSQLiteDSN configures an SQLite database file.
func WithSQLiteDSN(dsn string) Option {
	return func(o *Opts) { o.DSN = dsn }
}

// WithPostgresDSN configures a PostgreSQL connection string.
func WithPostgresDSN(dsn string) Option {
	return func(o *Opts) { o.DSN = dsn }
}

// WithRedisURL configures a redis:// or rediss:// URL.
func WithRedisURL(url string) Option {
	return func(o *Opts) { o.DSN = url }
}

// WithKeyPrefix sets the redis key namespace.
func WithKeyPrefix(prefix string) Option {
	return func(o *Opts) { o.KeyPrefix = prefix }
}

// WithConversationLimit overrides the history cap.
func WithConversationLimit(n int) Option {
	return func(o *Opts) { o.ConversationLimit = n }
}

func applyOptions(opts []Option) Opts {
	var cfg Opts
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.ConversationLimit <= 0 {
		cfg.ConversationLimit = MaxConversationMessages
	}
	return cfg
}

// DetectDSNType classifies a DSN as postgres, redis or sqlite3.
func DetectDSNType(dsn string) string {
	lower := strings.ToLower(strings.TrimSpace(dsn))
	switch {
	case strings.HasPrefix(lower, "redis://"), strings.HasPrefix(lower, "rediss://"):
		return DSNTypeRedis
	case strings.HasPrefix(lower, "postgres://"), strings.HasPrefix(lower, "postgresql://"),
		strings.Contains(lower, "host=") && strings.Contains(lower, "dbname="):
		return DSNTypePostgres
	default:
		return DSNTypeSQLite
	}
}

// New opens the backend selected by the configured DSN.
func New(opts ...Option) (Store, error) {
	cfg := applyOptions(opts)
	if cfg.DSN == "" {
		slog.Debug("store.New: no DSN configured, using in-memory store")
		return NewInMemoryStore(opts...), nil
	}
	switch DetectDSNType(cfg.DSN) {
	case DSNTypeRedis:
		return NewRedisStore(opts...)
	case DSNTypePostgres:
		return NewPostgresStore(opts...)
	case DSNTypeSQLite:
		return NewSQLiteStore(opts...)
	}
	return nil, fmt.Errorf("unsupported DSN %q", cfg.DSN)
}
