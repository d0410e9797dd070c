// Package store provides storage backends for NutriNest.
//
// This file implements an SQLite-backed store.
package store

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	_ "embed"

	"github.com/BTreeMap/NutriNest/internal/models"
	_ "github.com/mattn/go-sqlite3"
)

// Constants for SQLite store configuration
const (
	// DefaultDirPermissions defines the default permissions for database directories
	DefaultDirPermissions = 0755
)

//go:embed migrations_sqlite.sql
var sqliteMigrations string

type SQLiteStore struct {
	db    *sql.DB
	limit int
}

var _ Store = (*SQLiteStore)(nil)

// NewSQLiteStore creates a new SQLite store with the given DSN.
// The DSN should be a file path to the SQLite database file.
// If the directory doesn't exist, it will be created.
func NewSQLiteStore(opts ...Option) (*SQLiteStore, error) {
	cfg := applyOptions(opts)
	slog.Debug("NewSQLiteStore invoked", "DSN_set", cfg.DSN != "")

	dsn := cfg.DSN
	if dsn == "" {
		slog.Error("SQLiteStore DSN not set")
		return nil, fmt.Errorf("database DSN not set")
	}

	dir := filepath.Dir(dsn)
	if err := os.MkdirAll(dir, DefaultDirPermissions); err != nil {
		slog.Error("Failed to create database directory", "error", err, "dir", dir)
		return nil, fmt.Errorf("failed to create database directory: %w", err)
	}

	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		slog.Error("Failed to open SQLite connection", "error", err)
		return nil, err
	}
	// Single writer avoids SQLITE_BUSY under concurrent handlers.
	db.SetMaxOpenConns(1)

	if err := db.Ping(); err != nil {
		slog.Error("SQLite ping failed", "error", err)
		db.Close()
		return nil, err
	}

	if _, err := db.Exec(sqliteMigrations); err != nil {
		slog.Error("Failed to run migrations", "error", err)
		db.Close()
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}
	slog.Debug("SQLite migrations applied successfully")

	return &SQLiteStore{db: db, limit: cfg.ConversationLimit}, nil
}

func (s *SQLiteStore) GetProfile(ctx context.Context, phone, babyID string) (*models.BabyProfile, error) {
	if babyID == "" {
		err := s.db.QueryRowContext(ctx, `SELECT baby_id FROM default_babies WHERE phone = ?`, phone).Scan(&babyID)
		if err == sql.ErrNoRows {
			return nil, nil
		}
		if err != nil {
			slog.Error("SQLiteStore GetProfile default lookup failed", "error", err, "phone", phone)
			return nil, fmt.Errorf("failed to resolve default baby for %s: %w", phone, err)
		}
	}
	var data string
	err := s.db.QueryRowContext(ctx, `SELECT data FROM baby_profiles WHERE phone = ? AND baby_id = ?`, phone, babyID).Scan(&data)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		slog.Error("SQLiteStore GetProfile failed", "error", err, "phone", phone, "babyID", babyID)
		return nil, fmt.Errorf("failed to get profile for %s: %w", phone, err)
	}
	return decodeProfile([]byte(data))
}

func (s *SQLiteStore) SaveProfile(ctx context.Context, phone string, p *models.BabyProfile) error {
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
		`INSERT OR REPLACE INTO baby_profiles (phone, baby_id, data, updated_at) VALUES (?, ?, ?, ?)`,
		phone, c.BabyID, string(data), time.Now().UTC(),
	); err != nil {
		slog.Error("SQLiteStore SaveProfile failed", "error", err, "phone", phone)
		return fmt.Errorf("failed to save profile for %s: %w", phone, err)
	}
	if _, err := tx.ExecContext(ctx,
		`INSERT OR REPLACE INTO default_babies (phone, baby_id) VALUES (?, ?)`,
		phone, c.BabyID,
	); err != nil {
		return fmt.Errorf("failed to update default baby for %s: %w", phone, err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit profile for %s: %w", phone, err)
	}
	slog.Debug("SQLiteStore SaveProfile succeeded", "phone", phone, "babyID", c.BabyID)
	return nil
}

func (s *SQLiteStore) GetConversation(ctx context.Context, phone string) ([]models.ConversationMessage, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT role, content, created_at FROM (
			SELECT id, role, content, created_at FROM conversation_messages
			WHERE phone = ? ORDER BY id DESC LIMIT ?
		) ORDER BY id ASC`, phone, s.limit)
	if err != nil {
		slog.Error("SQLiteStore GetConversation query failed", "error", err, "phone", phone)
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

func (s *SQLiteStore) AppendConversation(ctx context.Context, phone, role, content string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx,
		`INSERT INTO conversation_messages (phone, role, content, created_at) VALUES (?, ?, ?, ?)`,
		phone, role, content, time.Now().UTC(),
	); err != nil {
		slog.Error("SQLiteStore AppendConversation failed", "error", err, "phone", phone)
		return fmt.Errorf("failed to append conversation for %s: %w", phone, err)
	}
	if _, err := tx.ExecContext(ctx,
		`DELETE FROM conversation_messages WHERE phone = ? AND id NOT IN (
			SELECT id FROM conversation_messages WHERE phone = ? ORDER BY id DESC LIMIT ?
		)`, phone, phone, s.limit,
	); err != nil {
		return fmt.Errorf("failed to trim conversation for %s: %w", phone, err)
	}
	return tx.Commit()
}

// SaveFlowState saves or updates flow state for a phone.
func (s *SQLiteStore) SaveFlowState(ctx context.Context, state models.FlowState) error {
	stateData, err := encodeStateData(state.StateData)
	if err != nil {
		return err
	}
	now := time.Now().UTC()
	if state.CreatedAt.IsZero() {
		state.CreatedAt = now
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT OR REPLACE INTO flow_states (phone, flow_type, current_state, state_data, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		state.Phone, string(state.FlowType), string(state.CurrentState), stateData, state.CreatedAt, now,
	)
	if err != nil {
		slog.Error("SQLiteStore SaveFlowState failed", "error", err, "phone", state.Phone, "flowType", state.FlowType)
		return fmt.Errorf("failed to save flow state: %w", err)
	}
	slog.Debug("SQLiteStore SaveFlowState succeeded", "phone", state.Phone, "flowType", state.FlowType, "state", state.CurrentState)
	return nil
}

// GetFlowState retrieves flow state for a phone; nil when none exists.
func (s *SQLiteStore) GetFlowState(ctx context.Context, phone string, flowType models.FlowType) (*models.FlowState, error) {
	var st models.FlowState
	var stateData sql.NullString
	err := s.db.QueryRowContext(ctx,
		`SELECT phone, flow_type, current_state, state_data, created_at, updated_at
		 FROM flow_states WHERE phone = ? AND flow_type = ?`,
		phone, string(flowType),
	).Scan(&st.Phone, &st.FlowType, &st.CurrentState, &stateData, &st.CreatedAt, &st.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		slog.Error("SQLiteStore GetFlowState failed", "error", err, "phone", phone, "flowType", flowType)
		return nil, fmt.Errorf("failed to get flow state: %w", err)
	}
	if st.StateData, err = decodeStateData(stateData); err != nil {
		return nil, err
	}
	return &st, nil
}

// DeleteFlowState removes flow state for a phone.
func (s *SQLiteStore) DeleteFlowState(ctx context.Context, phone string, flowType models.FlowType) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM flow_states WHERE phone = ? AND flow_type = ?`, phone, string(flowType)); err != nil {
		slog.Error("SQLiteStore DeleteFlowState failed", "error", err, "phone", phone, "flowType", flowType)
		return fmt.Errorf("failed to delete flow state: %w", err)
	}
	return nil
}

// Close closes the SQLite database connection.
func (s *SQLiteStore) Close() error {
	slog.Debug("Closing SQLite database connection")
	return s.db.Close()
}
