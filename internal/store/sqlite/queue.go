package sqlite

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/valhallatattoo/sitecache/internal/store"
)

func (d *DB) Enqueue(ctx context.Context, s *store.Submission) error {
	if s.ID == "" {
		s.ID = uuid.NewString()
	}
	if s.CreatedAt.IsZero() {
		s.CreatedAt = time.Now().UTC()
	}
	if s.ContentType == "" {
		s.ContentType = "application/json"
	}

	_, err := d.q.ExecContext(ctx, `
		INSERT INTO sync_queue
			(id, tag, payload, content_type, created_at, attempts, last_error)
		VALUES (?, ?, ?, ?, ?, 0, '')`,
		s.ID, s.Tag, s.Payload, s.ContentType, formatTime(s.CreatedAt),
	)
	return err
}

func (d *DB) ListPending(ctx context.Context, tag string) ([]store.Submission, error) {
	query := `
		SELECT id, tag, payload, content_type, created_at, attempts,
		       last_error, last_attempt
		FROM sync_queue`
	var args []any
	if tag != "" {
		query += ` WHERE tag = ?`
		args = append(args, tag)
	}
	query += ` ORDER BY created_at, id`

	rows, err := d.q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []store.Submission
	for rows.Next() {
		var s store.Submission
		var createdAt string
		var lastAttempt *string
		if err := rows.Scan(&s.ID, &s.Tag, &s.Payload, &s.ContentType,
			&createdAt, &s.Attempts, &s.LastError, &lastAttempt); err != nil {
			return nil, err
		}
		s.CreatedAt = parseTime(createdAt)
		s.LastAttempt = parseTimePtr(lastAttempt)
		out = append(out, s)
	}
	return out, rows.Err()
}

func (d *DB) RemoveSubmission(ctx context.Context, id string) error {
	res, err := d.q.ExecContext(ctx, `DELETE FROM sync_queue WHERE id = ?`, id)
	if err != nil {
		return err
	}
	return checkRowsAffected(res)
}

func (d *DB) RecordAttempt(ctx context.Context, id string, at time.Time, lastErr string) error {
	res, err := d.q.ExecContext(ctx, `
		UPDATE sync_queue
		SET attempts = attempts + 1, last_error = ?, last_attempt = ?
		WHERE id = ?`,
		lastErr, formatTime(at), id,
	)
	if err != nil {
		return err
	}
	return checkRowsAffected(res)
}
