package store

import (
	"context"
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
)

// Resume ingestion states.
const (
	StatusPending   = "pending"
	StatusCompleted = "completed"
	StatusFailed    = "failed"
)

// ResumeRecord tracks one ingested file.
type ResumeRecord struct {
	ID             int64
	ResumeID       string
	FileName       string
	FilePath       string
	FileSize       int64
	FileType       string
	RawContent     string
	CleanedContent string
	ContentHash    string
	Status         string
	GraphIngested  bool
	ErrorMessage   string
	CreatedAt      time.Time
	UpdatedAt      time.Time
	IngestedAt     *time.Time
}

type resumeRow struct {
	ID             int64         `db:"id"`
	ResumeID       string        `db:"resume_id"`
	FileName       string        `db:"file_name"`
	FilePath       string        `db:"file_path"`
	FileSize       int64         `db:"file_size"`
	FileType       string        `db:"file_type"`
	RawContent     string        `db:"raw_content"`
	CleanedContent string        `db:"cleaned_content"`
	ContentHash    string        `db:"content_hash"`
	Status         string        `db:"status"`
	GraphIngested  bool          `db:"graph_ingested"`
	ErrorMessage   string        `db:"error_message"`
	CreatedAt      int64         `db:"created_at"`
	UpdatedAt      int64         `db:"updated_at"`
	IngestedAt     sql.NullInt64 `db:"ingested_at"`
}

const resumeColumns = `id, resume_id, file_name, file_path, file_size, file_type,
	raw_content, cleaned_content, content_hash, status, graph_ingested,
	error_message, created_at, updated_at, ingested_at`

func (r *resumeRow) record() *ResumeRecord {
	out := &ResumeRecord{
		ID:             r.ID,
		ResumeID:       r.ResumeID,
		FileName:       r.FileName,
		FilePath:       r.FilePath,
		FileSize:       r.FileSize,
		FileType:       r.FileType,
		RawContent:     r.RawContent,
		CleanedContent: r.CleanedContent,
		ContentHash:    r.ContentHash,
		Status:         r.Status,
		GraphIngested:  r.GraphIngested,
		ErrorMessage:   r.ErrorMessage,
		CreatedAt:      fromMicros(r.CreatedAt),
		UpdatedAt:      fromMicros(r.UpdatedAt),
	}
	if r.IngestedAt.Valid {
		t := fromMicros(r.IngestedAt.Int64)
		out.IngestedAt = &t
	}
	return out
}

// ContentHash is the sha256 hex digest of raw resume text.
func ContentHash(raw string) string {
	sum := sha256.Sum256([]byte(raw))
	return hex.EncodeToString(sum[:])
}

// ResumeID derives a stable 16 char identifier from the file location and content.
func ResumeID(absPath, contentHash string) string {
	sum := sha256.Sum256([]byte(absPath + contentHash))
	return hex.EncodeToString(sum[:])[:16]
}

// SaveResume inserts rec or, when its ResumeID exists, replaces the content
// and resets it to pending. rec.ID and timestamps are filled in.
func (s *Store) SaveResume(ctx context.Context, rec *ResumeRecord) error {
	if rec.ResumeID == "" {
		return errors.New("resume_id is required")
	}
	if rec.ContentHash == "" {
		rec.ContentHash = ContentHash(rec.RawContent)
	}
	ts := now()
	err := s.withTx(ctx, "save resume", func(tx *sqlx.Tx) error {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO resumes (resume_id, file_name, file_path, file_size, file_type,
				raw_content, cleaned_content, content_hash, status, graph_ingested,
				error_message, created_at, updated_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, 'pending', 0, '', ?, ?)
			ON CONFLICT(resume_id) DO UPDATE SET
				file_name = excluded.file_name,
				file_path = excluded.file_path,
				file_size = excluded.file_size,
				file_type = excluded.file_type,
				raw_content = excluded.raw_content,
				cleaned_content = excluded.cleaned_content,
				content_hash = excluded.content_hash,
				status = 'pending',
				error_message = '',
				updated_at = excluded.updated_at`,
			rec.ResumeID, rec.FileName, rec.FilePath, rec.FileSize, rec.FileType,
			rec.RawContent, rec.CleanedContent, rec.ContentHash,
			ts.UnixMicro(), ts.UnixMicro()); err != nil {
			return &StorageError{Op: "upsert resume", Err: err}
		}
		var row resumeRow
		if err := tx.GetContext(ctx, &row,
			`SELECT `+resumeColumns+` FROM resumes WHERE resume_id = ?`, rec.ResumeID); err != nil {
			return &StorageError{Op: "reload resume", Err: err}
		}
		*rec = *row.record()
		return nil
	})
	return err
}

func (s *Store) getResume(ctx context.Context, where string, arg any) (*ResumeRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var row resumeRow
	err := s.db.GetContext(ctx, &row, `SELECT `+resumeColumns+` FROM resumes WHERE `+where, arg)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, &StorageError{Op: "get resume", Err: err}
	}
	return row.record(), nil
}

// GetResume returns a resume by its resume ID.
func (s *Store) GetResume(ctx context.Context, resumeID string) (*ResumeRecord, error) {
	rec, err := s.getResume(ctx, `resume_id = ?`, resumeID)
	if errors.Is(err, ErrNotFound) {
		return nil, fmt.Errorf("resume %s: %w", resumeID, ErrNotFound)
	}
	return rec, err
}

// FindResumeByHash returns the most recent resume with identical content.
func (s *Store) FindResumeByHash(ctx context.Context, contentHash string) (*ResumeRecord, error) {
	rec, err := s.getResume(ctx, `content_hash = ? ORDER BY id DESC LIMIT 1`, contentHash)
	if errors.Is(err, ErrNotFound) {
		return nil, fmt.Errorf("resume with hash %s: %w", contentHash[:min(12, len(contentHash))], ErrNotFound)
	}
	return rec, err
}

// ListResumes returns resumes newest first. An empty status lists all;
// limit <= 0 means no limit.
func (s *Store) ListResumes(ctx context.Context, status string, limit int) ([]*ResumeRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	query := `SELECT ` + resumeColumns + ` FROM resumes`
	var args []any
	if status != "" {
		query += ` WHERE status = ?`
		args = append(args, status)
	}
	query += ` ORDER BY created_at DESC, id DESC`
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}

	var rows []resumeRow
	if err := s.db.SelectContext(ctx, &rows, query, args...); err != nil {
		return nil, &StorageError{Op: "list resumes", Err: err}
	}
	out := make([]*ResumeRecord, len(rows))
	for i := range rows {
		out[i] = rows[i].record()
	}
	return out, nil
}

// CountResumes counts resumes, optionally by status.
func (s *Store) CountResumes(ctx context.Context, status string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var n int
	var err error
	if status == "" {
		err = s.db.GetContext(ctx, &n, `SELECT COUNT(*) FROM resumes`)
	} else {
		err = s.db.GetContext(ctx, &n, `SELECT COUNT(*) FROM resumes WHERE status = ?`, status)
	}
	if err != nil {
		return 0, &StorageError{Op: "count resumes", Err: err}
	}
	return n, nil
}

func (s *Store) updateResume(ctx context.Context, op, resumeID, set string, args ...any) error {
	return s.withTx(ctx, op, func(tx *sqlx.Tx) error {
		args = append(args, now().UnixMicro(), resumeID)
		res, err := tx.ExecContext(ctx,
			`UPDATE resumes SET `+set+`, updated_at = ? WHERE resume_id = ?`, args...)
		if err != nil {
			return &StorageError{Op: op, Err: err}
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return fmt.Errorf("resume %s: %w", resumeID, ErrNotFound)
		}
		return nil
	})
}

// UpdateCleaned stores the LLM-cleaned text.
func (s *Store) UpdateCleaned(ctx context.Context, resumeID, cleaned string) error {
	return s.updateResume(ctx, "update cleaned content", resumeID, `cleaned_content = ?`, cleaned)
}

// MarkCompleted flags a resume as written to the graph.
func (s *Store) MarkCompleted(ctx context.Context, resumeID string) error {
	return s.updateResume(ctx, "mark completed", resumeID,
		`status = 'completed', graph_ingested = 1, error_message = '', ingested_at = ?`, now().UnixMicro())
}

// MarkFailed records why ingestion stopped.
func (s *Store) MarkFailed(ctx context.Context, resumeID, reason string) error {
	return s.updateResume(ctx, "mark failed", resumeID,
		`status = 'failed', graph_ingested = 0, error_message = ?`, reason)
}

// DeleteResume removes a resume record and its Q&A sessions.
func (s *Store) DeleteResume(ctx context.Context, resumeID string) error {
	return s.withTx(ctx, "delete resume", func(tx *sqlx.Tx) error {
		res, err := tx.ExecContext(ctx, `DELETE FROM resumes WHERE resume_id = ?`, resumeID)
		if err != nil {
			return &StorageError{Op: "delete resume", Err: err}
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return fmt.Errorf("resume %s: %w", resumeID, ErrNotFound)
		}
		if _, err := tx.ExecContext(ctx, `DELETE FROM qa_messages WHERE session_id IN
			(SELECT id FROM qa_sessions WHERE resume_id = ?)`, resumeID); err != nil {
			return &StorageError{Op: "delete qa messages", Err: err}
		}
		if _, err := tx.ExecContext(ctx, `DELETE FROM qa_sessions WHERE resume_id = ?`, resumeID); err != nil {
			return &StorageError{Op: "delete qa sessions", Err: err}
		}
		return nil
	})
}
