package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
	_ "github.com/mattn/go-sqlite3"

	"github.com/ezhao816/chatrelay/domain"
)

// SQLiteStore implements Store using SQLite.
type SQLiteStore struct {
	db *sql.DB
}

// Ensure SQLiteStore implements the Store interface.
var _ Store = (*SQLiteStore)(nil)

// NewSQLiteStore creates a new SQLite store.
func NewSQLiteStore(dsn string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// Enable foreign keys
	if _, err := db.Exec("PRAGMA foreign_keys = ON"); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to enable foreign keys: %w", err)
	}

	store := &SQLiteStore{db: db}
	if err := store.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}

	return store, nil
}

// migrate runs database migrations.
func (s *SQLiteStore) migrate() error {
	migrations := []string{
		`CREATE TABLE IF NOT EXISTS sessions (
			session_id TEXT PRIMARY KEY,
			title TEXT NOT NULL,
			owner_id TEXT,
			created_at DATETIME NOT NULL,
			updated_at DATETIME NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_sessions_updated ON sessions(updated_at)`,
		`CREATE TABLE IF NOT EXISTS messages (
			message_id TEXT NOT NULL,
			session_id TEXT NOT NULL,
			role TEXT NOT NULL,
			content TEXT NOT NULL,
			position INTEGER NOT NULL,
			created_at DATETIME NOT NULL,
			PRIMARY KEY (session_id, position),
			FOREIGN KEY (session_id) REFERENCES sessions(session_id) ON DELETE CASCADE
		)`,
	}

	for _, m := range migrations {
		if _, err := s.db.Exec(m); err != nil {
			return fmt.Errorf("migration failed: %w\n%s", err, m)
		}
	}

	return nil
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// Create persists a new session, generating its id.
func (s *SQLiteStore) Create(ctx context.Context, title string, seed *domain.Message) (*domain.Session, error) {
	now := time.Now().UTC()
	session := &domain.Session{
		ID:        "sess_" + uuid.New().String()[:8],
		Title:     title,
		Messages:  []domain.Message{},
		CreatedAt: now,
		UpdatedAt: now,
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx,
		`INSERT INTO sessions (session_id, title, owner_id, created_at, updated_at) VALUES (?, ?, ?, ?, ?)`,
		session.ID, session.Title, nullString(session.OwnerID), session.CreatedAt, session.UpdatedAt); err != nil {
		return nil, err
	}

	if seed != nil {
		msg := *seed
		if msg.Timestamp.IsZero() {
			msg.Timestamp = now
		}
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO messages (message_id, session_id, role, content, position, created_at) VALUES (?, ?, ?, ?, ?, ?)`,
			msg.ID, session.ID, msg.Role, msg.Content, 0, msg.Timestamp); err != nil {
			return nil, err
		}
		session.Messages = append(session.Messages, msg)
	}

	if err := tx.Commit(); err != nil {
		return nil, err
	}
	return session, nil
}

// Get retrieves a session and its messages by id.
func (s *SQLiteStore) Get(ctx context.Context, id string) (*domain.Session, error) {
	var session domain.Session
	var ownerID sql.NullString
	err := s.db.QueryRowContext(ctx,
		`SELECT session_id, title, owner_id, created_at, updated_at FROM sessions WHERE session_id = ?`,
		id).Scan(&session.ID, &session.Title, &ownerID, &session.CreatedAt, &session.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	if ownerID.Valid {
		session.OwnerID = ownerID.String
	}

	messages, err := s.getMessages(ctx, id)
	if err != nil {
		return nil, err
	}
	session.Messages = messages
	return &session, nil
}

func (s *SQLiteStore) getMessages(ctx context.Context, sessionID string) ([]domain.Message, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT message_id, role, content, created_at FROM messages WHERE session_id = ? ORDER BY position ASC`,
		sessionID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	messages := []domain.Message{}
	for rows.Next() {
		var msg domain.Message
		if err := rows.Scan(&msg.ID, &msg.Role, &msg.Content, &msg.Timestamp); err != nil {
			return nil, err
		}
		messages = append(messages, msg)
	}
	return messages, rows.Err()
}

// Update applies a partial update inside a transaction. Title and messages are
// replaced only when supplied; updatedAt always advances.
func (s *SQLiteStore) Update(ctx context.Context, id string, upd domain.SessionUpdate) (*domain.Session, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	var prevUpdated time.Time
	err = tx.QueryRowContext(ctx,
		`SELECT updated_at FROM sessions WHERE session_id = ?`, id).Scan(&prevUpdated)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	if !now.After(prevUpdated) {
		now = prevUpdated.Add(time.Millisecond)
	}

	if upd.Title != nil {
		if _, err := tx.ExecContext(ctx,
			`UPDATE sessions SET title = ?, updated_at = ? WHERE session_id = ?`,
			*upd.Title, now, id); err != nil {
			return nil, err
		}
	} else {
		if _, err := tx.ExecContext(ctx,
			`UPDATE sessions SET updated_at = ? WHERE session_id = ?`, now, id); err != nil {
			return nil, err
		}
	}

	if upd.Messages != nil {
		if _, err := tx.ExecContext(ctx,
			`DELETE FROM messages WHERE session_id = ?`, id); err != nil {
			return nil, err
		}
		for i, msg := range *upd.Messages {
			ts := msg.Timestamp
			if ts.IsZero() {
				ts = now
			}
			if _, err := tx.ExecContext(ctx,
				`INSERT INTO messages (message_id, session_id, role, content, position, created_at) VALUES (?, ?, ?, ?, ?, ?)`,
				msg.ID, id, msg.Role, msg.Content, i, ts); err != nil {
				return nil, err
			}
		}
	}

	if err := tx.Commit(); err != nil {
		return nil, err
	}
	return s.Get(ctx, id)
}

// Delete removes a session and its messages.
func (s *SQLiteStore) Delete(ctx context.Context, id string) (bool, error) {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM messages WHERE session_id = ?`, id); err != nil {
		return false, err
	}
	res, err := s.db.ExecContext(ctx, `DELETE FROM sessions WHERE session_id = ?`, id)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

// DeleteAll removes every session and message.
func (s *SQLiteStore) DeleteAll(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM messages`); err != nil {
		return err
	}
	_, err := s.db.ExecContext(ctx, `DELETE FROM sessions`)
	return err
}

// ListAll returns every session with messages, most recently updated first.
func (s *SQLiteStore) ListAll(ctx context.Context) ([]domain.Session, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT session_id, title, owner_id, created_at, updated_at FROM sessions ORDER BY updated_at DESC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	sessions := []domain.Session{}
	for rows.Next() {
		var session domain.Session
		var ownerID sql.NullString
		if err := rows.Scan(&session.ID, &session.Title, &ownerID, &session.CreatedAt, &session.UpdatedAt); err != nil {
			return nil, err
		}
		if ownerID.Valid {
			session.OwnerID = ownerID.String
		}
		sessions = append(sessions, session)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	for i := range sessions {
		messages, err := s.getMessages(ctx, sessions[i].ID)
		if err != nil {
			return nil, err
		}
		sessions[i].Messages = messages
	}
	return sessions, nil
}

func nullString(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}
