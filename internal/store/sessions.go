package store

import (
	"context"
	"database/sql"
	"errors"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/nidhogg/resumemind/internal/provider"
)

// FindOrCreateSession returns the latest Q&A session for a resume, creating one if needed.
func (s *Store) FindOrCreateSession(ctx context.Context, resumeID string) (string, error) {
	var id string
	err := s.withTx(ctx, "find or create session", func(tx *sqlx.Tx) error {
		err := tx.GetContext(ctx, &id,
			`SELECT id FROM qa_sessions WHERE resume_id = ? ORDER BY created_at DESC LIMIT 1`, resumeID)
		if err == nil {
			return nil
		}
		if !errors.Is(err, sql.ErrNoRows) {
			return &StorageError{Op: "find session", Err: err}
		}
		id = uuid.New().String()
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO qa_sessions (id, resume_id, created_at) VALUES (?, ?, ?)`,
			id, resumeID, now().UnixMicro()); err != nil {
			return &StorageError{Op: "create session", Err: err}
		}
		return nil
	})
	return id, err
}

// NewSession always starts a fresh Q&A session.
func (s *Store) NewSession(ctx context.Context, resumeID string) (string, error) {
	id := uuid.New().String()
	err := s.withTx(ctx, "create session", func(tx *sqlx.Tx) error {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO qa_sessions (id, resume_id, created_at) VALUES (?, ?, ?)`,
			id, resumeID, now().UnixMicro()); err != nil {
			return &StorageError{Op: "create session", Err: err}
		}
		return nil
	})
	return id, err
}

// AppendMessage stores a message in the given session.
func (s *Store) AppendMessage(ctx context.Context, sessionID string, msg provider.Message) error {
	return s.withTx(ctx, "append message", func(tx *sqlx.Tx) error {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO qa_messages (session_id, role, content, created_at) VALUES (?, ?, ?, ?)`,
			sessionID, msg.Role, msg.Content, now().UnixMicro()); err != nil {
			return &StorageError{Op: "append message", Err: err}
		}
		return nil
	})
}

// GetMessages returns the most recent messages of a session, oldest first.
func (s *Store) GetMessages(ctx context.Context, sessionID string, limit int) ([]provider.Message, error) {
	if limit <= 0 {
		limit = 50
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	var msgs []provider.Message
	err := s.db.SelectContext(ctx, &msgs, `
		SELECT role, content FROM (
			SELECT id, role, content FROM qa_messages
			WHERE session_id = ?
			ORDER BY id DESC
			LIMIT ?
		) ORDER BY id ASC`, sessionID, limit)
	if err != nil {
		return nil, &StorageError{Op: "get messages", Err: err}
	}
	return msgs, nil
}
