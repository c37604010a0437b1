package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/vayux/mcp-intentful-agent/internal/domain"
	_ "modernc.org/sqlite"
)

// MemoryPath selects a private in-memory database.
const MemoryPath = ":memory:"

// SQLiteStore implements Repository using SQLite.
type SQLiteStore struct {
	db *sql.DB
	mu sync.Mutex // serializes writes to avoid SQLITE_BUSY
}

// NewSQLite creates a new SQLite-backed repository.
func NewSQLite(dbPath string) (*SQLiteStore, error) {
	dsn := dbPath
	if dbPath != MemoryPath {
		if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
			return nil, fmt.Errorf("create database directory: %w", err)
		}
		// WAL mode for better concurrency.
		dsn = dbPath + "?_journal=WAL&_sync=NORMAL&_busy_timeout=5000"
	}

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	if dbPath == MemoryPath {
		// Every connection to :memory: is a separate database.
		db.SetMaxOpenConns(1)
	} else {
		db.SetMaxOpenConns(25)
		db.SetMaxIdleConns(5)
		db.SetConnMaxLifetime(5 * time.Minute)
	}

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("ping database: %w", err)
	}

	store := &SQLiteStore{db: db}
	if err := store.initSchema(); err != nil {
		return nil, fmt.Errorf("initialize schema: %w", err)
	}

	return store, nil
}

func (s *SQLiteStore) initSchema() error {
	query := `
	PRAGMA busy_timeout = 5000;
	CREATE TABLE IF NOT EXISTS chat_sessions (
		session_id TEXT PRIMARY KEY,
		history_json TEXT NOT NULL,
		messages_json TEXT NOT NULL,
		message_count INTEGER NOT NULL DEFAULT 0,
		state TEXT,
		created_at INTEGER NOT NULL,
		updated_at INTEGER NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_chat_sessions_updated ON chat_sessions(updated_at);

	CREATE TABLE IF NOT EXISTS idempotency_keys (
		key TEXT PRIMARY KEY,
		result_json TEXT NOT NULL,
		expires_at INTEGER
	);
	`
	if _, err := s.db.Exec(query); err != nil {
		return fmt.Errorf("create schema: %w", err)
	}
	return nil
}

// Ping verifies database connectivity.
func (s *SQLiteStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	if err := s.db.Close(); err != nil {
		return fmt.Errorf("close database: %w", err)
	}
	return nil
}

// GetSession retrieves a chat session by ID.
func (s *SQLiteStore) GetSession(ctx context.Context, sessionID string) (*domain.ChatSession, error) {
	query := `
		SELECT session_id, history_json, messages_json, state, created_at, updated_at
		FROM chat_sessions WHERE session_id = ?`

	row := s.db.QueryRowContext(ctx, query, sessionID)

	var session domain.ChatSession
	var historyJSON, messagesJSON string
	var state sql.NullString
	var createdAt, updatedAt int64

	err := row.Scan(&session.SessionID, &historyJSON, &messagesJSON, &state, &createdAt, &updatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("scan chat session: %w", err)
	}

	if err := json.Unmarshal([]byte(historyJSON), &session.History); err != nil {
		return nil, fmt.Errorf("decode history: %w", err)
	}
	if err := json.Unmarshal([]byte(messagesJSON), &session.Messages); err != nil {
		return nil, fmt.Errorf("decode messages: %w", err)
	}
	session.State = state.String
	session.CreatedAt = time.Unix(createdAt, 0)
	session.UpdatedAt = time.Unix(updatedAt, 0)

	return &session, nil
}

// UpsertSession creates or updates a chat session.
func (s *SQLiteStore) UpsertSession(ctx context.Context, session *domain.ChatSession) error {
	history := session.History
	if history == nil {
		history = domain.History{}
	}
	historyJSON, err := json.Marshal(history)
	if err != nil {
		return fmt.Errorf("encode history: %w", err)
	}
	messages := session.Messages
	if messages == nil {
		messages = []domain.StoredMessage{}
	}
	messagesJSON, err := json.Marshal(messages)
	if err != nil {
		return fmt.Errorf("encode messages: %w", err)
	}

	createdAt := session.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now()
	}

	query := `
		INSERT INTO chat_sessions (
			session_id, history_json, messages_json, message_count, state, created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(session_id) DO UPDATE SET
			history_json = excluded.history_json,
			messages_json = excluded.messages_json,
			message_count = excluded.message_count,
			state = excluded.state,
			updated_at = excluded.updated_at`

	return s.withRetry(ctx, "upsert chat session", func() error {
		_, err := s.db.ExecContext(ctx, query,
			session.SessionID, string(historyJSON), string(messagesJSON), len(messages),
			session.State, createdAt.Unix(), time.Now().Unix(),
		)
		return err
	})
}

// DeleteSession removes a chat session.
func (s *SQLiteStore) DeleteSession(ctx context.Context, sessionID string) error {
	var rows int64
	err := s.withRetry(ctx, "delete chat session", func() error {
		res, err := s.db.ExecContext(ctx, `DELETE FROM chat_sessions WHERE session_id = ?`, sessionID)
		if err != nil {
			return err
		}
		rows, err = res.RowsAffected()
		return err
	})
	if err != nil {
		return err
	}
	if rows == 0 {
		return ErrSessionNotFound
	}
	return nil
}

// ListSessions returns every session ordered by creation time.
func (s *SQLiteStore) ListSessions(ctx context.Context) ([]domain.SessionSummary, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT session_id, message_count FROM chat_sessions ORDER BY created_at, session_id`)
	if err != nil {
		return nil, fmt.Errorf("query sessions: %w", err)
	}
	defer func() {
		if closeErr := rows.Close(); closeErr != nil {
			slog.Warn("failed to close session rows", "error", closeErr)
		}
	}()

	out := []domain.SessionSummary{}
	for rows.Next() {
		var sum domain.SessionSummary
		if err := rows.Scan(&sum.SessionID, &sum.MessageCount); err != nil {
			return nil, fmt.Errorf("scan session row: %w", err)
		}
		out = append(out, sum)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate sessions: %w", err)
	}
	return out, nil
}

// CleanupExpiredSessions removes sessions older than TTL.
func (s *SQLiteStore) CleanupExpiredSessions(ctx context.Context, ttl time.Duration) (int64, error) {
	threshold := time.Now().Add(-ttl).Unix()
	var n int64
	err := s.withRetry(ctx, "cleanup expired sessions", func() error {
		res, err := s.db.ExecContext(ctx, `DELETE FROM chat_sessions WHERE updated_at < ?`, threshold)
		if err != nil {
			return err
		}
		n, err = res.RowsAffected()
		return err
	})
	return n, err
}

// withRetry runs a write under the store mutex, retrying SQLITE_BUSY with
// exponential backoff: 100ms, 200ms, 400ms.
func (s *SQLiteStore) withRetry(ctx context.Context, op string, fn func() error) error {
	const maxRetries = 3
	baseDelay := 100 * time.Millisecond

	var err error
	for i := 0; i < maxRetries; i++ {
		s.mu.Lock()
		err = fn()
		s.mu.Unlock()
		if err == nil {
			return nil
		}
		if !isConflict(err) || i == maxRetries-1 {
			break
		}

		delay := baseDelay * time.Duration(1<<i)
		slog.Debug("sqlite write busy, retrying", "op", op, "attempt", i+1, "delay", delay)
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return fmt.Errorf("%s: %w", op, errors.Join(err, ctx.Err()))
		}
	}
	return fmt.Errorf("%s: %w", op, err)
}

var _ Repository = (*SQLiteStore)(nil)
