// Package bgsync replays form submissions that were queued while the
// site origin was unreachable.
package bgsync

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"maps"
	"net/http"
	"net/url"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/sethgrid/pester"

	"github.com/valhallatattoo/sitecache/internal/metrics"
	"github.com/valhallatattoo/sitecache/internal/store"
)

const (
	TagContactForm = "contact-form-sync"
	TagNewsletter  = "newsletter-sync"
)

// ErrUnknownTag is returned for a sync tag with no configured endpoint.
var ErrUnknownTag = errors.New("unknown sync tag")

// DefaultEndpoints maps each sync tag to the path its queue drains to.
func DefaultEndpoints() map[string]string {
	return map[string]string{
		TagContactForm: "/contact",
		TagNewsletter:  "/newsletter",
	}
}

// Config configures a Replayer.
type Config struct {
	Origin     *url.URL
	Endpoints  map[string]string
	MaxRetries int
	Backoff    pester.BackoffStrategy
	Timeout    time.Duration
}

// Result summarises one sync run.
type Result struct {
	Tag       string `json:"tag"`
	Sent      int    `json:"sent"`
	Failed    int    `json:"failed"`
	Remaining int    `json:"remaining"`
}

// Replayer drains the queue for a tag by POSTing each payload to the
// tag's endpoint. A submission leaves the queue only on a 2xx answer.
type Replayer struct {
	queue     store.QueueStore
	client    *pester.Client
	origin    *url.URL
	endpoints map[string]string
	logger    *slog.Logger
	metrics   *metrics.Metrics

	// one Sync per tag at a time
	locks map[string]*sync.Mutex
}

// NewReplayer builds a replayer. Retries happen inside one attempt, one
// request at a time, and runs for the same tag are serialized, so a
// submission is never posted concurrently.
func NewReplayer(q store.QueueStore, cfg Config, logger *slog.Logger, m *metrics.Metrics) *Replayer {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.Endpoints == nil {
		cfg.Endpoints = DefaultEndpoints()
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 15 * time.Second
	}
	if cfg.Backoff == nil {
		cfg.Backoff = pester.ExponentialBackoff
	}

	client := pester.NewExtendedClient(&http.Client{Timeout: cfg.Timeout})
	client.Concurrency = 1
	client.MaxRetries = cfg.MaxRetries
	if client.MaxRetries <= 0 {
		client.MaxRetries = 3
	}
	client.Backoff = cfg.Backoff

	locks := make(map[string]*sync.Mutex, len(cfg.Endpoints))
	for tag := range cfg.Endpoints {
		locks[tag] = new(sync.Mutex)
	}

	return &Replayer{
		locks:     locks,
		queue:     q,
		client:    client,
		origin:    cfg.Origin,
		endpoints: maps.Clone(cfg.Endpoints),
		logger:    logger,
		metrics:   m,
	}
}

// Tags returns the configured sync tags in sorted order.
func (r *Replayer) Tags() []string {
	return slices.Sorted(maps.Keys(r.endpoints))
}

// Endpoint returns the path a tag drains to.
func (r *Replayer) Endpoint(tag string) (string, bool) {
	p, ok := r.endpoints[tag]
	return p, ok
}

// TagFor returns the tag whose endpoint is path.
func (r *Replayer) TagFor(path string) (string, bool) {
	path = strings.TrimSuffix(path, "/")
	for tag, p := range r.endpoints {
		if strings.TrimSuffix(p, "/") == path {
			return tag, true
		}
	}
	return "", false
}

// Enqueue stores a submission for later replay.
func (r *Replayer) Enqueue(ctx context.Context, tag string, payload []byte, contentType string) (*store.Submission, error) {
	if _, ok := r.endpoints[tag]; !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownTag, tag)
	}
	sub := &store.Submission{
		Tag:         tag,
		Payload:     payload,
		ContentType: contentType,
	}
	if err := r.queue.Enqueue(ctx, sub); err != nil {
		return nil, fmt.Errorf("enqueue %s: %w", tag, err)
	}
	r.logger.Info("submission queued", "tag", tag, "id", sub.ID)
	return sub, nil
}

// Pending lists queued submissions for tag ("" for all).
func (r *Replayer) Pending(ctx context.Context, tag string) ([]store.Submission, error) {
	if tag != "" {
		if _, ok := r.endpoints[tag]; !ok {
			return nil, fmt.Errorf("%w: %q", ErrUnknownTag, tag)
		}
	}
	return r.queue.ListPending(ctx, tag)
}

// Sync replays every pending submission for tag. A call made while
// another run for the same tag is in progress waits for it and then
// replays whatever is still queued.
func (r *Replayer) Sync(ctx context.Context, tag string) (Result, error) {
	res := Result{Tag: tag}
	endpoint, ok := r.endpoints[tag]
	if !ok {
		return res, fmt.Errorf("%w: %q", ErrUnknownTag, tag)
	}
	mu := r.locks[tag]
	mu.Lock()
	defer mu.Unlock()
	target := r.origin.ResolveReference(&url.URL{Path: endpoint})

	pending, err := r.queue.ListPending(ctx, tag)
	if err != nil {
		return res, fmt.Errorf("list pending %s: %w", tag, err)
	}

	for _, sub := range pending {
		if err := ctx.Err(); err != nil {
			res.Remaining = len(pending) - res.Sent
			return res, err
		}
		if err := r.post(ctx, target, sub); err != nil {
			res.Failed++
			r.metrics.AddSyncResult(tag, false)
			r.logger.Warn("sync submission failed", "tag", tag, "id", sub.ID, "error", err)
			if rerr := r.queue.RecordAttempt(ctx, sub.ID, time.Now(), err.Error()); rerr != nil {
				r.logger.Warn("record sync attempt", "id", sub.ID, "error", rerr)
			}
			continue
		}
		if err := r.queue.RemoveSubmission(ctx, sub.ID); err != nil && !errors.Is(err, store.ErrNotFound) {
			r.logger.Warn("remove synced submission", "id", sub.ID, "error", err)
		}
		res.Sent++
		r.metrics.AddSyncResult(tag, true)
		r.logger.Info("submission synced", "tag", tag, "id", sub.ID)
	}
	res.Remaining = len(pending) - res.Sent
	return res, nil
}

func (r *Replayer) post(ctx context.Context, target *url.URL, sub store.Submission) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, target.String(), bytes.NewReader(sub.Payload))
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	ct := sub.ContentType
	if ct == "" {
		ct = "application/json"
	}
	req.Header.Set("Content-Type", ct)
	req.Header.Set("X-Sitecache-Replay", sub.ID)

	resp, err := r.client.Do(req)
	if err != nil {
		return fmt.Errorf("post %s: %w", target.Path, err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("post %s: status %d", target.Path, resp.StatusCode)
	}
	return nil
}
