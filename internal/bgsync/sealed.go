package bgsync

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/valhallatattoo/sitecache/internal/secrets"
	"github.com/valhallatattoo/sitecache/internal/store"
)

var _ store.QueueStore = (*SealedQueue)(nil)

// SealedQueue encrypts submission payloads before they reach the
// underlying queue and decrypts them on the way out. Entries that no
// longer open with the current key are left at rest and skipped.
type SealedQueue struct {
	inner  store.QueueStore
	enc    secrets.Encryptor
	logger *slog.Logger
}

// NewSealedQueue wraps inner.
func NewSealedQueue(inner store.QueueStore, enc secrets.Encryptor, logger *slog.Logger) *SealedQueue {
	if logger == nil {
		logger = slog.Default()
	}
	return &SealedQueue{inner: inner, enc: enc, logger: logger}
}

func (q *SealedQueue) Enqueue(ctx context.Context, s *store.Submission) error {
	sealed, err := q.enc.Encrypt(s.Payload)
	if err != nil {
		return fmt.Errorf("seal payload: %w", err)
	}
	cp := *s
	cp.Payload = sealed
	if err := q.inner.Enqueue(ctx, &cp); err != nil {
		return err
	}
	s.ID = cp.ID
	s.CreatedAt = cp.CreatedAt
	s.ContentType = cp.ContentType
	return nil
}

func (q *SealedQueue) ListPending(ctx context.Context, tag string) ([]store.Submission, error) {
	subs, err := q.inner.ListPending(ctx, tag)
	if err != nil {
		return nil, err
	}
	out := subs[:0]
	for _, sub := range subs {
		plain, err := q.enc.Decrypt(sub.Payload)
		if err != nil {
			q.logger.Warn("skipping sealed submission", "tag", sub.Tag, "id", sub.ID, "error", err)
			msg := fmt.Sprintf("open payload: %v", err)
			if rerr := q.inner.RecordAttempt(ctx, sub.ID, time.Now(), msg); rerr != nil {
				q.logger.Warn("record open failure", "id", sub.ID, "error", rerr)
			}
			continue
		}
		sub.Payload = plain
		out = append(out, sub)
	}
	return out, nil
}

func (q *SealedQueue) RemoveSubmission(ctx context.Context, id string) error {
	return q.inner.RemoveSubmission(ctx, id)
}

func (q *SealedQueue) RecordAttempt(ctx context.Context, id string, at time.Time, lastErr string) error {
	return q.inner.RecordAttempt(ctx, id, at, lastErr)
}
