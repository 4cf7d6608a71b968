// Package storetest holds behaviour checks shared by every store backend.
package storetest

import (
	"context"
	"errors"
	"net/http"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/valhallatattoo/sitecache/internal/store"
)

// RunCacheStore exercises a CacheStore implementation. newStore must
// return an empty store.
func RunCacheStore(t *testing.T, newStore func(t *testing.T) store.CacheStore) {
	t.Run("PutCreatesCache", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()
		key := store.GetKey("https://example.test/a.css")

		if err := s.Put(ctx, "v1", key, response(200, "a")); err != nil {
			t.Fatalf("put: %v", err)
		}
		names, err := s.ListCaches(ctx)
		if err != nil {
			t.Fatalf("list: %v", err)
		}
		if diff := cmp.Diff([]string{"v1"}, names); diff != "" {
			t.Fatalf("caches mismatch (-want +got):\n%s", diff)
		}
		got, err := s.Match(ctx, "v1", key)
		if err != nil {
			t.Fatalf("match: %v", err)
		}
		if string(got.Body) != "a" || got.Status != 200 {
			t.Fatalf("got status=%d body=%q", got.Status, got.Body)
		}
		if got.Header.Get("Content-Type") != "text/css" {
			t.Fatalf("content-type = %q", got.Header.Get("Content-Type"))
		}
	})

	t.Run("PutOverwrites", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()
		key := store.GetKey("https://example.test/")

		_ = s.Put(ctx, "v1", key, response(200, "old"))
		if err := s.Put(ctx, "v1", key, response(200, "new")); err != nil {
			t.Fatalf("put: %v", err)
		}
		got, err := s.Match(ctx, "v1", key)
		if err != nil {
			t.Fatalf("match: %v", err)
		}
		if string(got.Body) != "new" {
			t.Fatalf("body = %q, want new", got.Body)
		}
		n, err := s.CountEntries(ctx, "v1")
		if err != nil {
			t.Fatalf("count: %v", err)
		}
		if n != 1 {
			t.Fatalf("count = %d, want 1", n)
		}
	})

	t.Run("MatchMiss", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()

		_, err := s.Match(ctx, "missing", store.GetKey("https://example.test/"))
		if !errors.Is(err, store.ErrNotFound) {
			t.Fatalf("missing cache: err = %v, want ErrNotFound", err)
		}
		_ = s.CreateCache(ctx, "v1")
		_, err = s.Match(ctx, "v1", store.GetKey("https://example.test/"))
		if !errors.Is(err, store.ErrNotFound) {
			t.Fatalf("missing entry: err = %v, want ErrNotFound", err)
		}
	})

	t.Run("KeysIncludeMethod", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()
		u := "https://example.test/x"

		_ = s.Put(ctx, "v1", store.GetKey(u), response(200, "x"))
		_, err := s.Match(ctx, "v1", store.RequestKey{Method: http.MethodHead, URL: u})
		if !errors.Is(err, store.ErrNotFound) {
			t.Fatalf("err = %v, want ErrNotFound", err)
		}
	})

	t.Run("DeleteCache", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()
		key := store.GetKey("https://example.test/")

		_ = s.Put(ctx, "v1", key, response(200, "1"))
		_ = s.Put(ctx, "v2", key, response(200, "2"))
		if err := s.DeleteCache(ctx, "v1"); err != nil {
			t.Fatalf("delete: %v", err)
		}
		names, _ := s.ListCaches(ctx)
		if diff := cmp.Diff([]string{"v2"}, names); diff != "" {
			t.Fatalf("caches mismatch (-want +got):\n%s", diff)
		}
		if _, err := s.Match(ctx, "v1", key); !errors.Is(err, store.ErrNotFound) {
			t.Fatalf("match deleted: err = %v", err)
		}
		if got, err := s.Match(ctx, "v2", key); err != nil || string(got.Body) != "2" {
			t.Fatalf("v2 untouched: got %v, err %v", got, err)
		}
		if err := s.DeleteCache(ctx, "v1"); !errors.Is(err, store.ErrNotFound) {
			t.Fatalf("second delete: err = %v, want ErrNotFound", err)
		}
	})

	t.Run("DeleteEntry", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()
		key := store.GetKey("https://example.test/")

		_ = s.Put(ctx, "v1", key, response(200, "1"))
		if err := s.DeleteEntry(ctx, "v1", key); err != nil {
			t.Fatalf("delete entry: %v", err)
		}
		if err := s.DeleteEntry(ctx, "v1", key); !errors.Is(err, store.ErrNotFound) {
			t.Fatalf("second delete: err = %v, want ErrNotFound", err)
		}
		n, err := s.CountEntries(ctx, "v1")
		if err != nil || n != 0 {
			t.Fatalf("count = %d, err = %v", n, err)
		}
	})

	t.Run("CountMissingCache", func(t *testing.T) {
		s := newStore(t)
		if _, err := s.CountEntries(context.Background(), "nope"); !errors.Is(err, store.ErrNotFound) {
			t.Fatalf("err = %v, want ErrNotFound", err)
		}
	})

	t.Run("CreateCacheIdempotent", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()
		key := store.GetKey("https://example.test/")

		_ = s.Put(ctx, "v1", key, response(200, "1"))
		if err := s.CreateCache(ctx, "v1"); err != nil {
			t.Fatalf("create existing: %v", err)
		}
		if _, err := s.Match(ctx, "v1", key); err != nil {
			t.Fatalf("entry lost after create: %v", err)
		}
	})

	t.Run("MatchReturnsCopy", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()
		key := store.GetKey("https://example.test/")

		_ = s.Put(ctx, "v1", key, response(200, "abc"))
		got, _ := s.Match(ctx, "v1", key)
		got.Body[0] = 'z'
		got.Header.Set("Content-Type", "mutated")

		again, _ := s.Match(ctx, "v1", key)
		if string(again.Body) != "abc" || again.Header.Get("Content-Type") != "text/css" {
			t.Fatalf("stored entry mutated: %q %q", again.Body, again.Header.Get("Content-Type"))
		}
	})
}

// RunQueueStore exercises a QueueStore implementation.
func RunQueueStore(t *testing.T, newStore func(t *testing.T) store.QueueStore) {
	t.Run("EnqueueAndList", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()

		a := &store.Submission{Tag: "contact-form-sync", Payload: []byte(`{"n":1}`)}
		b := &store.Submission{Tag: "newsletter-sync", Payload: []byte(`{"n":2}`)}
		c := &store.Submission{Tag: "contact-form-sync", Payload: []byte(`{"n":3}`),
			CreatedAt: time.Now().Add(time.Second)}
		for _, sub := range []*store.Submission{a, b, c} {
			if err := s.Enqueue(ctx, sub); err != nil {
				t.Fatalf("enqueue: %v", err)
			}
			if sub.ID == "" {
				t.Fatal("expected ID to be set")
			}
		}

		got, err := s.ListPending(ctx, "contact-form-sync")
		if err != nil {
			t.Fatalf("list: %v", err)
		}
		if len(got) != 2 {
			t.Fatalf("len = %d, want 2", len(got))
		}
		if got[0].ID != a.ID || got[1].ID != c.ID {
			t.Fatalf("order = [%s %s], want [%s %s]", got[0].ID, got[1].ID, a.ID, c.ID)
		}
		if string(got[0].Payload) != `{"n":1}` {
			t.Fatalf("payload = %q", got[0].Payload)
		}

		all, err := s.ListPending(ctx, "")
		if err != nil {
			t.Fatalf("list all: %v", err)
		}
		if len(all) != 3 {
			t.Fatalf("len all = %d, want 3", len(all))
		}
	})

	t.Run("RecordAttemptAndRemove", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()

		sub := &store.Submission{Tag: "contact-form-sync", Payload: []byte("x")}
		_ = s.Enqueue(ctx, sub)

		at := time.Now()
		if err := s.RecordAttempt(ctx, sub.ID, at, "status 500"); err != nil {
			t.Fatalf("record: %v", err)
		}
		got, _ := s.ListPending(ctx, "contact-form-sync")
		if len(got) != 1 || got[0].Attempts != 1 || got[0].LastError != "status 500" {
			t.Fatalf("after attempt: %+v", got)
		}
		if got[0].LastAttempt == nil {
			t.Fatal("expected LastAttempt to be set")
		}

		if err := s.RemoveSubmission(ctx, sub.ID); err != nil {
			t.Fatalf("remove: %v", err)
		}
		if err := s.RemoveSubmission(ctx, sub.ID); !errors.Is(err, store.ErrNotFound) {
			t.Fatalf("second remove: err = %v, want ErrNotFound", err)
		}
		if err := s.RecordAttempt(ctx, sub.ID, at, ""); !errors.Is(err, store.ErrNotFound) {
			t.Fatalf("record removed: err = %v, want ErrNotFound", err)
		}
		got, _ = s.ListPending(ctx, "contact-form-sync")
		if len(got) != 0 {
			t.Fatalf("len = %d, want 0", len(got))
		}
	})
}

func response(status int, body string) *store.CachedResponse {
	return &store.CachedResponse{
		Status:   status,
		Header:   http.Header{"Content-Type": {"text/css"}},
		Body:     []byte(body),
		StoredAt: time.Now(),
	}
}
