package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/ashureev/portfolio-skills/internal/domain"
	_ "modernc.org/sqlite"
)

// SQLiteStore implements ContextStore using SQLite.
type SQLiteStore struct {
	db  *sql.DB
	now func() time.Time
}

// NewSQLite opens (or creates) the database at dbPath.
func NewSQLite(dbPath string) (*SQLiteStore, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
		return nil, fmt.Errorf("create database directory: %w", err)
	}

	// Pragmas in the DSN apply to every pooled connection. WAL lets history
	// reads proceed while a turn is being written.
	dsn := dbPath + "?_pragma=journal_mode(WAL)&_pragma=synchronous(NORMAL)&_pragma=busy_timeout(5000)"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)

	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	s := &SQLiteStore{
		db:  db,
		now: func() time.Time { return time.Now().UTC() },
	}
	if err := s.initSchema(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("initialize schema: %w", err)
	}
	return s, nil
}

func (s *SQLiteStore) initSchema() error {
	query := `
	CREATE TABLE IF NOT EXISTS conversation_contexts (
		session_id TEXT PRIMARY KEY,
		state TEXT NOT NULL,
		profession TEXT,
		context_json TEXT NOT NULL,
		created_at INTEGER NOT NULL,
		updated_at INTEGER NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_conversation_contexts_updated ON conversation_contexts(updated_at);
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

// Get returns the stored context for sessionID.
func (s *SQLiteStore) Get(ctx context.Context, sessionID string) (*domain.ConversationContext, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT context_json FROM conversation_contexts WHERE session_id = ?`, sessionID)

	var data string
	err := row.Scan(&data)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan context row: %w", err)
	}
	return decodeContext([]byte(data))
}

// Create inserts a fresh context unless the session already has one.
func (s *SQLiteStore) Create(ctx context.Context, sessionID string) (*domain.ConversationContext, error) {
	now := s.now()
	c := domain.NewConversationContext(sessionID, now)
	data, err := encodeContext(c)
	if err != nil {
		return nil, err
	}

	query := `
	INSERT INTO conversation_contexts (session_id, state, profession, context_json, created_at, updated_at)
	VALUES (?, ?, NULL, ?, ?, ?)
	ON CONFLICT(session_id) DO NOTHING`

	err = withRetry(ctx, "create context", func() error {
		_, err := s.db.ExecContext(ctx, query, sessionID, string(c.State), string(data), now.Unix(), now.Unix())
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("insert context: %w", err)
	}
	return s.Get(ctx, sessionID)
}

// Put upserts c.
func (s *SQLiteStore) Put(ctx context.Context, c *domain.ConversationContext) error {
	c.UpdatedAt = s.now()
	data, err := encodeContext(c)
	if err != nil {
		return err
	}

	query := `
	INSERT INTO conversation_contexts (session_id, state, profession, context_json, created_at, updated_at)
	VALUES (?, ?, ?, ?, ?, ?)
	ON CONFLICT(session_id) DO UPDATE SET
		state = excluded.state,
		profession = excluded.profession,
		context_json = excluded.context_json,
		updated_at = excluded.updated_at`

	var profession any
	if c.Profession != "" {
		profession = c.Profession
	}

	err = withRetry(ctx, "put context", func() error {
		_, err := s.db.ExecContext(ctx, query,
			c.SessionID, string(c.State), profession, string(data),
			c.CreatedAt.Unix(), c.UpdatedAt.Unix(),
		)
		return err
	})
	if err != nil {
		return fmt.Errorf("upsert context: %w", err)
	}
	return nil
}

// Delete removes the context for sessionID.
func (s *SQLiteStore) Delete(ctx context.Context, sessionID string) error {
	err := withRetry(ctx, "delete context", func() error {
		_, err := s.db.ExecContext(ctx, `DELETE FROM conversation_contexts WHERE session_id = ?`, sessionID)
		return err
	})
	if err != nil {
		return fmt.Errorf("delete context %s after %d attempts: %w", sessionID, retryAttempts, err)
	}
	return nil
}

// PurgeIdle removes contexts not updated within ttl.
func (s *SQLiteStore) PurgeIdle(ctx context.Context, ttl time.Duration) (int64, error) {
	threshold := s.now().Add(-ttl).Unix()
	result, err := s.db.ExecContext(ctx, `DELETE FROM conversation_contexts WHERE updated_at < ?`, threshold)
	if err != nil {
		return 0, fmt.Errorf("purge idle contexts: %w", err)
	}
	return result.RowsAffected()
}
