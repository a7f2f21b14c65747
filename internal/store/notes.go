// ABOUTME: Note storage backing the builtin notes module
// ABOUTME: Notes are keyed by user and key; setting an existing key updates it

package store

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/google/uuid"
)

// SetNote creates or updates a note.
func (s *SQLiteStore) SetNote(ctx context.Context, note *Note) error {
	if note.ID == "" {
		note.ID = uuid.New().String()
	}
	now := time.Now().UTC()
	if note.CreatedAt.IsZero() {
		note.CreatedAt = now
	}
	note.UpdatedAt = now

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO notes (id, user_id, key, value, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(user_id, key) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at
	`, note.ID, note.UserID, note.Key, note.Value, note.CreatedAt.Format(time.RFC3339), note.UpdatedAt.Format(time.RFC3339))

	return err
}

// GetNote retrieves a note by user and key.
func (s *SQLiteStore) GetNote(ctx context.Context, userID, key string) (*Note, error) {
	var n Note
	var createdAt, updatedAt string

	err := s.db.QueryRowContext(ctx, `
		SELECT id, user_id, key, value, created_at, updated_at
		FROM notes WHERE user_id = ? AND key = ?
	`, userID, key).Scan(&n.ID, &n.UserID, &n.Key, &n.Value, &createdAt, &updatedAt)

	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}

	n.CreatedAt, _ = time.Parse(time.RFC3339, createdAt)
	n.UpdatedAt, _ = time.Parse(time.RFC3339, updatedAt)

	return &n, nil
}

// ListNotes lists all notes for a user, ordered by key.
func (s *SQLiteStore) ListNotes(ctx context.Context, userID string) ([]*Note, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, user_id, key, value, created_at, updated_at
		FROM notes WHERE user_id = ?
		ORDER BY key ASC
	`, userID)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var notes []*Note
	for rows.Next() {
		var n Note
		var createdAt, updatedAt string
		if err := rows.Scan(&n.ID, &n.UserID, &n.Key, &n.Value, &createdAt, &updatedAt); err != nil {
			return nil, err
		}
		n.CreatedAt, _ = time.Parse(time.RFC3339, createdAt)
		n.UpdatedAt, _ = time.Parse(time.RFC3339, updatedAt)
		notes = append(notes, &n)
	}
	return notes, rows.Err()
}

// DeleteNote deletes a note by user and key.
func (s *SQLiteStore) DeleteNote(ctx context.Context, userID, key string) error {
	result, err := s.db.ExecContext(ctx, `DELETE FROM notes WHERE user_id = ? AND key = ?`, userID, key)
	if err != nil {
		return err
	}
	n, _ := result.RowsAffected()
	if n == 0 {
		return ErrNotFound
	}
	return nil
}
