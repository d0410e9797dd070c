// Package store provides storage backends for NutriNest.
//
// This file implements a PostgreSQL-backed store.
package store

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"time"

	_ "embed"

	"github.com/BTreeMap/NutriNest/internal/models"
	_ "github.com/lib/pq"
)

// Database connection pool configuration constants
const (
	// DefaultMaxOpenConns is the default maximum number of open connections to the database
	DefaultMaxOpenConns = 25
	// DefaultMaxIdleConns is the default maximum number of idle connections in the pool
	DefaultMaxIdleConns = 25
	// DefaultConnMaxLifetime is the default maximum amount of time a connection may be reused
	DefaultConnMaxLifetime = 5 * time.Minute
)

//go:embed migrations_postgres.sql
var postgresMigrations string

type PostgresStore struct {
	db    *sql.DB
	limit int
}

var _ Store = (*PostgresStore)(nil)

// NewPostgresStore creates a new Postgres store based on provided options.
func NewPostgresStore(opts ...Option) (*PostgresStore, error) {
	cfg := applyOptions(opts)
	slog.Debug("PostgresStore.NewPostgresStore: creating Postgres store", "DSN_set", cfg.DSN != "")
	dsn := cfg.DSN
	if dsn == "" {
		slog.Error("PostgresStore DSN not set")
		return nil, fmt.Errorf("database DSN not set")
	}

	db, err := sql.Open("postgres", dsn)
	if err != nil {
		slog.Error("Failed to open Postgres connection", "error", err)
		return nil, err
	}

	db.SetMaxOpenConns(DefaultMaxOpenConns)
	db.SetMaxIdleConns(DefaultMaxIdleConns)
	db.SetConnMaxLifetime(DefaultConnMaxLifetime)

	if err := db.Ping(); err != nil {
		slog.Error("Postgres ping failed", "error", err)
		db.Close()
		return nil, err
	}
	if _, err := db.Exec(postgresMigrations); err != nil {
		slog.Error("Failed to run migrations", "error", err)
		db.Close()
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}
	slog.Debug("Postgres migrations applied successfully")
	return &PostgresStore{db: db, limit: cfg.ConversationLimit}, nil
}

func (s *PostgresStore) GetProfile(ctx context.Context, phone, babyID string) (*models.BabyProfile, error) {
	if babyID == "" {
		err := s.db.QueryRowContext(ctx, `SELECT baby_id FROM default_babies WHERE phone = $1`, phone).Scan(&babyID)
		if err == sql.ErrNoRows {
			return nil, nil
		}
		if err != nil {
			slog.Error("PostgresStore GetProfile default lookup failed", "error", err, "phone", phone)
			return nil, fmt.Errorf("failed to resolve default baby for %s: %w", phone, err)
		}
	}
	var data []byte
	err := s.db.QueryRowContext(ctx, `SELECT data FROM baby_profiles WHERE phone = $1 AND baby_id = $2`, phone, babyID).Scan(&data)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		slog.Error("PostgresStore GetProfile failed", "error", err, "phone", phone, "babyID", babyID)
		return nil, fmt.Errorf("failed to get profile for %s: %w", phone, err)
	}
	return decodeProfile(data)
}

func (s *PostgresStore) SaveProfile(ctx context.Context, phone string, p *models.BabyProfile) error {
	c, err := prepareProfile(phone, p)
	if err != nil {
		return err
	}
	data, err := encodeProfile(c)
	if err != nil {
		return err
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx,
		`INSERT INTO baby_profiles (phone, baby_id, data, updated_at) VALUES ($1, $2, $3, $4)
		 ON CONFLICT (phone, baby_id) DO UPDATE SET data = EXCLUDED.data, updated_at = EXCLUDED.updated_at`,
		phone, c.BabyID, data, time.Now().UTC(),
	); err != nil {
		slog.Error("PostgresStore SaveProfile failed", "error", err, "phone", phone)
		return fmt.Errorf("failed to save profile for %s: %w", phone, err)
	}
	if _, err := tx.ExecContext(ctx,
		`INSERT INTO default_babies (phone, baby_id) VALUES ($1, $2)
		 ON CONFLICT (phone) DO UPDATE SET baby_id = EXCLUDED.baby_id`,
		phone, c.BabyID,
	); err != nil {
		return fmt.Errorf("failed to update default baby for %s: %w", phone, err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit profile for %s: %w", phone, err)
	}
	slog.Debug("PostgresStore SaveProfile succeeded", "phone", phone, "babyID", c.BabyID)
	return nil
}

func (s *PostgresStore) GetConversation(ctx context.Context, phone string) ([]models.ConversationMessage, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT role, content, created_at FROM (
			SELECT id, role, content, created_at FROM conversation_messages
			WHERE phone = $1 ORDER BY id DESC LIMIT $2
		) recent ORDER BY id ASC`, phone, s.limit)
	if err != nil {
		slog.Error("PostgresStore GetConversation query failed", "error", err, "phone", phone)
		return nil, fmt.Errorf("failed to query conversation: %w", err)
	}
	defer rows.Close()

	var msgs []models.ConversationMessage
	for rows.Next() {
		var m models.ConversationMessage
		if err := rows.Scan(&m.Role, &m.Content, &m.Timestamp); err != nil {
			return nil, fmt.Errorf("failed to scan conversation row: %w", err)
		}
		msgs = append(msgs, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate conversation rows: %w", err)
	}
	return msgs, nil
}

func (s *PostgresStore) AppendConversation(ctx context.Context, phone, role, content string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx,
		`INSERT INTO conversation_messages (phone, role, content, created_at) VALUES ($1, $2, $3, $4)`,
		phone, role, content, time.Now().UTC(),
	); err != nil {
		slog.Error("PostgresStore AppendConversation failed", "error", err, "phone", phone)
		return fmt.Errorf("failed to append conversation for %s: %w", phone, err)
	}
	if _, err := tx.ExecContext(ctx,
		`DELETE FROM conversation_messages WHERE phone = $1 AND id NOT IN (
			SELECT id FROM conversation_messages WHERE phone = $1 ORDER BY id DESC LIMIT $2
		)`, phone, s.limit,
	); err != nil {
		return fmt.Errorf("failed to trim conversation for %s: %w", phone, err)
	}
	return tx.Commit()
}

// SaveFlowState saves or updates flow state for a phone.
func (s *PostgresStore) SaveFlowState(ctx context.Context, state models.FlowState) error {
	stateData, err := encodeStateData(state.StateData)
	if err != nil {
		return err
	}
	now := time.Now().UTC()
	if state.CreatedAt.IsZero() {
		state.CreatedAt = now
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO flow_states (phone, flow_type, current_state, state_data, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6)
		 ON CONFLICT (phone, flow_type)
		 DO UPDATE SET current_state = EXCLUDED.current_state, state_data = EXCLUDED.state_data, updated_at = EXCLUDED.updated_at`,
		state.Phone, string(state.FlowType), string(state.CurrentState), stateData, state.CreatedAt, now,
	)
	if err != nil {
		slog.Error("PostgresStore SaveFlowState failed", "error", err, "phone", state.Phone, "flowType", state.FlowType)
		return fmt.Errorf("failed to save flow state: %w", err)
	}
	return nil
}

// GetFlowState retrieves flow state for a phone; nil when none exists.
func (s *PostgresStore) GetFlowState(ctx context.Context, phone string, flowType models.FlowType) (*models.FlowState, error) {
	var st models.FlowState
	var stateData sql.NullString
	err := s.db.QueryRowContext(ctx,
		`SELECT phone, flow_type, current_state, state_data, created_at, updated_at
		 FROM flow_states WHERE phone = $1 AND flow_type = $2`,
		phone, string(flowType),
	).Scan(&st.Phone, &st.FlowType, &st.CurrentState, &stateData, &st.CreatedAt, &st.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		slog.Error("PostgresStore GetFlowState failed", "error", err, "phone", phone, "flowType", flowType)
		return nil, fmt.Errorf("failed to get flow state: %w", err)
	}
	if st.StateData, err = decodeStateData(stateData); err != nil {
		return nil, err
	}
	return &st, nil
}

// DeleteFlowState removes flow state for a phone.
func (s *PostgresStore) DeleteFlowState(ctx context.Context, phone string, flowType models.FlowType) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM flow_states WHERE phone = $1 AND flow_type = $2`, phone, string(flowType)); err != nil {
		slog.Error("PostgresStore DeleteFlowState failed", "error", err, "phone", phone, "flowType", flowType)
		return fmt.Errorf("failed to delete flow state: %w", err)
	}
	return nil
}

// Close closes the PostgreSQL database connection.
func (s *PostgresStore) Close() error {
	slog.Debug("Closing PostgreSQL database connection")
	return s.db.Close()
}
