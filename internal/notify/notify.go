// Package notify turns push payloads into notifications and fans them out
// to connected pages.
package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/valhallatattoo/sitecache/internal/metrics"
)

const (
	DefaultTag     = "valhalla-notification"
	DefaultIcon    = "/images/logo.jpg"
	DefaultOpenURL = "/"

	ActionView    = "view"
	ActionDismiss = "dismiss"
)

// ErrMalformed is returned for push data that is not a valid payload.
var ErrMalformed = errors.New("malformed push payload")

// Options control how notifications are built.
type Options struct {
	Icon       string `yaml:"icon" json:"icon"`
	Badge      string `yaml:"badge" json:"badge"`
	DefaultTag string `yaml:"default_tag" json:"default_tag"`
	OpenURL    string `yaml:"open_url" json:"open_url"`
}

// DefaultOptions returns the studio defaults.
func DefaultOptions() Options {
	return Options{
		Icon:       DefaultIcon,
		Badge:      DefaultIcon,
		DefaultTag: DefaultTag,
		OpenURL:    DefaultOpenURL,
	}
}

func (o Options) withDefaults() Options {
	d := DefaultOptions()
	if o.Icon == "" {
		o.Icon = d.Icon
	}
	if o.Badge == "" {
		o.Badge = o.Icon
	}
	if o.DefaultTag == "" {
		o.DefaultTag = d.DefaultTag
	}
	if o.OpenURL == "" {
		o.OpenURL = d.OpenURL
	}
	return o
}

// Payload is the JSON body of a push message.
type Payload struct {
	Title string `json:"title"`
	Body  string `json:"body"`
	Tag   string `json:"tag"`
}

// Action is a button shown on a notification.
type Action struct {
	Action string `json:"action"`
	Title  string `json:"title"`
	Icon   string `json:"icon,omitempty"`
}

// Notification is what pages display.
type Notification struct {
	ID                 string    `json:"id"`
	Title              string    `json:"title"`
	Body               string    `json:"body"`
	Icon               string    `json:"icon"`
	Badge              string    `json:"badge"`
	Tag                string    `json:"tag"`
	RequireInteraction bool      `json:"requireInteraction"`
	Actions            []Action  `json:"actions"`
	CreatedAt          time.Time `json:"created_at"`
}

// ParsePush decodes push data. Empty data yields (nil, nil).
func ParsePush(data []byte, opts Options) (*Notification, error) {
	if len(bytes.TrimSpace(data)) == 0 {
		return nil, nil
	}
	var p Payload
	if err := json.Unmarshal(data, &p); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrMalformed, err)
	}
	if strings.TrimSpace(p.Title) == "" {
		return nil, fmt.Errorf("%w: missing title", ErrMalformed)
	}
	opts = opts.withDefaults()
	tag := p.Tag
	if tag == "" {
		tag = opts.DefaultTag
	}
	return &Notification{
		ID:                 uuid.NewString(),
		Title:              p.Title,
		Body:               p.Body,
		Icon:               opts.Icon,
		Badge:              opts.Badge,
		Tag:                tag,
		RequireInteraction: true,
		Actions: []Action{
			{Action: ActionView, Title: "View", Icon: opts.Icon},
			{Action: ActionDismiss, Title: "Dismiss"},
		},
		CreatedAt: time.Now().UTC(),
	}, nil
}

// ClickResult is the outcome of a notification click. The notification
// is always closed; OpenURL is set when a page should be opened.
type ClickResult struct {
	Action  string `json:"action"`
	Tag     string `json:"tag,omitempty"`
	Closed  bool   `json:"closed"`
	OpenURL string `json:"open_url,omitempty"`
}

// Click resolves a click on a notification.
func Click(action, tag string, opts Options) ClickResult {
	res := ClickResult{Action: action, Tag: tag, Closed: true}
	if action == ActionView {
		res.OpenURL = opts.withDefaults().OpenURL
	}
	return res
}

// Service parses pushes, resolves clicks and publishes both on a Bus.
type Service struct {
	opts    Options
	bus     *Bus
	metrics *metrics.Metrics
	logger  *slog.Logger
}

// NewService builds a service. bus may be nil.
func NewService(opts Options, bus *Bus, m *metrics.Metrics, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{opts: opts.withDefaults(), bus: bus, metrics: m, logger: logger}
}

// Push shows the notification carried by data. Empty data is ignored.
func (s *Service) Push(_ context.Context, data []byte) (*Notification, error) {
	n, err := ParsePush(data, s.opts)
	if err != nil {
		s.metrics.AddNotification("malformed")
		return nil, err
	}
	if n == nil {
		return nil, nil
	}
	s.metrics.AddNotification("shown")
	if s.bus != nil {
		s.bus.Publish(Event{Type: EventShown, Notification: n})
	}
	return n, nil
}

// Click resolves and publishes a click.
func (s *Service) Click(_ context.Context, action, tag string) ClickResult {
	res := Click(action, tag, s.opts)
	s.metrics.AddNotification("click_" + clickLabel(action))
	if s.bus != nil {
		s.bus.Publish(Event{Type: EventClicked, Click: &res})
	}
	return res
}

func clickLabel(action string) string {
	if action == ActionView || action == ActionDismiss {
		return action
	}
	return "other"
}
