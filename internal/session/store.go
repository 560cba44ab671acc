// Package session persists the conversation log in SQLite.
//
// Messages are append-only: a row is inserted once per turn and never
// updated, so concurrent readers never observe a mutated message. The
// session's message list, ordered by insertion, is the source of truth for
// conversation replay.
package session

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"github.com/fyrsmithlabs/agencyd/internal/chat"
)

// ErrSessionNotFound is returned when a session id does not exist.
var ErrSessionNotFound = errors.New("session not found")

// ErrWrongOwner is returned when a session exists but belongs to a different
// (tenant, user) pair. Callers treat it like not-found; the distinction is
// for logs.
var ErrWrongOwner = errors.New("session owned by another tenant or user")

// Store is the SQLite-backed session repository.
type Store struct {
	db *sql.DB
}

// NewStore opens or creates the database at path. ":memory:" is supported
// for tests.
func NewStore(path string) (*Store, error) {
	inMemory := path == ":memory:"
	dsn := path
	if !inMemory {
		expanded, err := expandPath(path)
		if err != nil {
			return nil, fmt.Errorf("expanding path: %w", err)
		}
		if err := os.MkdirAll(filepath.Dir(expanded), 0o755); err != nil {
			return nil, fmt.Errorf("creating db dir: %w", err)
		}
		dsn = expanded + "?_pragma=journal_mode(wal)&_pragma=foreign_keys(on)&_pragma=busy_timeout(5000)"
	}

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("opening db: %w", err)
	}
	if inMemory {
		// Every new connection would get its own empty in-memory database.
		db.SetMaxOpenConns(1)
	}

	s := &Store{db: db}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrating: %w", err)
	}
	return s, nil
}

func expandPath(path string) (string, error) {
	if strings.HasPrefix(path, "~") {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", err
		}
		return filepath.Join(home, path[1:]), nil
	}
	return path, nil
}

func (s *Store) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS sessions (
		id         TEXT PRIMARY KEY,
		tenant_id  TEXT NOT NULL,
		user_id    TEXT NOT NULL,
		context    TEXT,
		created_at TEXT NOT NULL,
		updated_at TEXT NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_sessions_owner ON sessions(tenant_id, user_id);

	CREATE TABLE IF NOT EXISTS messages (
		id          TEXT PRIMARY KEY,
		session_id  TEXT NOT NULL REFERENCES sessions(id),
		seq         INTEGER NOT NULL,
		role        TEXT NOT NULL,
		content     TEXT NOT NULL,
		route       TEXT,
		citations   TEXT,
		suggestions TEXT,
		metadata    TEXT,
		created_at  TEXT NOT NULL,
		UNIQUE(session_id, seq)
	);
	CREATE INDEX IF NOT EXISTS idx_messages_session ON messages(session_id, seq);
	`
	_, err := s.db.Exec(schema)
	return err
}

// GetOwned returns the session with the given id only when it belongs to
// the (tenant, user) pair. Any other owner returns ErrWrongOwner rather
// than leaking another tenant's conversation.
func (s *Store) GetOwned(ctx context.Context, id, tenantID, userID string) (*chat.Session, error) {
	sess, err := s.get(ctx, id)
	if err != nil {
		return nil, err
	}
	if sess.TenantID != tenantID || sess.UserID != userID {
		return nil, ErrWrongOwner
	}
	return sess, nil
}

// GetOrCreate returns the session with the given id, creating it when id is
// empty or unknown.
func (s *Store) GetOrCreate(ctx context.Context, id, tenantID, userID string) (*chat.Session, error) {
	if id != "" {
		sess, err := s.GetOwned(ctx, id, tenantID, userID)
		switch {
		case err == nil:
			return sess, nil
		case !errors.Is(err, ErrSessionNotFound):
			return nil, err
		}
	}

	now := time.Now().UTC()
	sess := &chat.Session{
		ID:        uuid.New().String(),
		TenantID:  tenantID,
		UserID:    userID,
		CreatedAt: now,
		UpdatedAt: now,
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO sessions (id, tenant_id, user_id, created_at, updated_at) VALUES (?, ?, ?, ?, ?)`,
		sess.ID, sess.TenantID, sess.UserID, now.Format(time.RFC3339Nano), now.Format(time.RFC3339Nano),
	)
	if err != nil {
		return nil, fmt.Errorf("creating session: %w", err)
	}
	return sess, nil
}

func (s *Store) get(ctx context.Context, id string) (*chat.Session, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, tenant_id, user_id, context, created_at, updated_at FROM sessions WHERE id = ?`, id)

	var sess chat.Session
	var contextJSON sql.NullString
	var createdAt, updatedAt string
	err := row.Scan(&sess.ID, &sess.TenantID, &sess.UserID, &contextJSON, &createdAt, &updatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrSessionNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scanning session: %w", err)
	}
	if contextJSON.Valid && contextJSON.String != "" {
		if err := json.Unmarshal([]byte(contextJSON.String), &sess.Context); err != nil {
			return nil, fmt.Errorf("decoding session context: %w", err)
		}
	}
	sess.CreatedAt, _ = time.Parse(time.RFC3339Nano, createdAt)
	sess.UpdatedAt, _ = time.Parse(time.RFC3339Nano, updatedAt)
	return &sess, nil
}

// AddMessage appends a message to its session at the next sequence number.
// The insert and the session timestamp bump run in one transaction.
func (s *Store) AddMessage(ctx context.Context, sessionID string, msg *chat.Message) error {
	if msg.ID == "" {
		msg.ID = uuid.New().String()
	}
	if msg.CreatedAt.IsZero() {
		msg.CreatedAt = time.Now().UTC()
	}

	citations, err := json.Marshal(msg.Citations)
	if err != nil {
		return fmt.Errorf("encoding citations: %w", err)
	}
	suggestions, err := json.Marshal(msg.Suggestions)
	if err != nil {
		return fmt.Errorf("encoding suggestions: %w", err)
	}
	metadata, err := json.Marshal(msg.Metadata)
	if err != nil {
		return fmt.Errorf("encoding metadata: %w", err)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning tx: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck // no-op after commit

	var exists int
	if err := tx.QueryRowContext(ctx, `SELECT COUNT(1) FROM sessions WHERE id = ?`, sessionID).Scan(&exists); err != nil {
		return fmt.Errorf("checking session: %w", err)
	}
	if exists == 0 {
		return ErrSessionNotFound
	}

	_, err = tx.ExecContext(ctx,
		`INSERT INTO messages (id, session_id, seq, role, content, route, citations, suggestions, metadata, created_at)
		 VALUES (?, ?, (SELECT COALESCE(MAX(seq), 0) + 1 FROM messages WHERE session_id = ?), ?, ?, ?, ?, ?, ?, ?)`,
		msg.ID, sessionID, sessionID, string(msg.Role), msg.Content, string(msg.Route),
		string(citations), string(suggestions), string(metadata), msg.CreatedAt.Format(time.RFC3339Nano),
	)
	if err != nil {
		return fmt.Errorf("inserting message: %w", err)
	}

	_, err = tx.ExecContext(ctx, `UPDATE sessions SET updated_at = ? WHERE id = ?`,
		time.Now().UTC().Format(time.RFC3339Nano), sessionID)
	if err != nil {
		return fmt.Errorf("touching session: %w", err)
	}

	return tx.Commit()
}

// GetMessages returns the most recent limit messages in insertion order.
// limit <= 0 returns all messages.
func (s *Store) GetMessages(ctx context.Context, sessionID string, limit int) ([]chat.Message, error) {
	query := `SELECT id, role, content, route, citations, suggestions, metadata, created_at
		FROM messages WHERE session_id = ? ORDER BY seq`
	args := []any{sessionID}
	if limit > 0 {
		// Last N in insertion order: take the tail.
		query = `SELECT id, role, content, route, citations, suggestions, metadata, created_at FROM (
			SELECT * FROM messages WHERE session_id = ? ORDER BY seq DESC LIMIT ?
		) ORDER BY seq`
		args = append(args, limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying messages: %w", err)
	}
	defer rows.Close()

	var messages []chat.Message
	for rows.Next() {
		var msg chat.Message
		var route sql.NullString
		var citations, suggestions, metadata sql.NullString
		var createdAt string
		if err := rows.Scan(&msg.ID, &msg.Role, &msg.Content, &route, &citations, &suggestions, &metadata, &createdAt); err != nil {
			return nil, fmt.Errorf("scanning message: %w", err)
		}
		msg.Route = chat.Route(route.String)
		if citations.Valid && citations.String != "null" {
			if err := json.Unmarshal([]byte(citations.String), &msg.Citations); err != nil {
				return nil, fmt.Errorf("decoding citations: %w", err)
			}
		}
		if suggestions.Valid && suggestions.String != "null" {
			if err := json.Unmarshal([]byte(suggestions.String), &msg.Suggestions); err != nil {
				return nil, fmt.Errorf("decoding suggestions: %w", err)
			}
		}
		if metadata.Valid && metadata.String != "null" {
			if err := json.Unmarshal([]byte(metadata.String), &msg.Metadata); err != nil {
				return nil, fmt.Errorf("decoding metadata: %w", err)
			}
		}
		msg.CreatedAt, _ = time.Parse(time.RFC3339Nano, createdAt)
		messages = append(messages, msg)
	}
	return messages, rows.Err()
}

// MessageCount returns the number of messages in a session.
func (s *Store) MessageCount(ctx context.Context, sessionID string) (int, error) {
	var count int
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(1) FROM messages WHERE session_id = ?`, sessionID).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("counting messages: %w", err)
	}
	return count, nil
}

// DB exposes the underlying handle so other stores can share the database
// file (the memory index does).
func (s *Store) DB() *sql.DB { return s.db }

// Close closes the database.
func (s *Store) Close() error { return s.db.Close() }
