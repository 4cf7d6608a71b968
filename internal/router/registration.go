package router

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/valhallatattoo/sitecache/internal/events"
	"github.com/valhallatattoo/sitecache/internal/fetch"
)

var (
	// ErrNoActiveVersion is returned when an event needs an active version
	// and none is registered.
	ErrNoActiveVersion = errors.New("no active version")

	// ErrNoWaitingVersion is returned when a message targets the waiting
	// version and there is none.
	ErrNoWaitingVersion = errors.New("no waiting version")

	// ErrNoReply is returned when a message handler produced no reply.
	ErrNoReply = errors.New("no reply")
)

// Target selects which version receives a posted message.
type Target string

const (
	TargetActive  Target = "active"
	TargetWaiting Target = "waiting"
)

type version struct {
	r *Router
	d *events.Dispatcher
}

// Registration hosts router versions: at most one active and one
// waiting. Requests are served by the active version.
type Registration struct {
	logger *slog.Logger

	mu           sync.Mutex
	active       *version
	waiting      *version
	lastUpdate   time.Time
	unregistered bool

	online atomic.Bool
}

// NewRegistration returns an empty registration.
func NewRegistration(logger *slog.Logger) *Registration {
	if logger == nil {
		logger = slog.Default()
	}
	g := &Registration{logger: logger}
	g.online.Store(true)
	return g
}

// Update installs r. The first version activates immediately; later ones
// wait unless they skip waiting. A failed install leaves the current
// active version serving.
func (g *Registration) Update(ctx context.Context, r *Router) error {
	v := &version{r: r, d: events.NewDispatcher()}
	r.Register(v.d)
	r.mu.Lock()
	r.onSkipWaiting = g.promoteIfWaiting
	r.mu.Unlock()

	if err := v.d.Dispatch(ctx, events.InstallEvent{}); err != nil {
		g.logger.Error("update failed, keeping current version", "version", r.Version(), "error", err)
		return err
	}

	g.mu.Lock()
	if prev := g.waiting; prev != nil {
		prev.r.retire()
	}
	g.waiting = v
	g.unregistered = false
	g.lastUpdate = time.Now()
	noActive := g.active == nil
	g.mu.Unlock()

	if noActive || r.skipRequested() {
		return g.promote(ctx, v)
	}
	g.logger.Info("new version waiting", "version", r.Version())
	return nil
}

func (g *Registration) promoteIfWaiting(ctx context.Context, r *Router) error {
	g.mu.Lock()
	w := g.waiting
	g.mu.Unlock()
	if w == nil || w.r != r {
		return nil
	}
	return g.promote(ctx, w)
}

// promote makes v the active version and activates it. The previous
// active version is retired first so it stops serving before old caches
// are deleted.
func (g *Registration) promote(ctx context.Context, v *version) error {
	g.mu.Lock()
	if g.waiting != v {
		g.mu.Unlock()
		return nil
	}
	old := g.active
	g.waiting = nil
	g.active = v
	g.mu.Unlock()

	if old != nil {
		old.r.retire()
	}
	if err := v.d.Dispatch(ctx, events.ActivateEvent{}); err != nil {
		return fmt.Errorf("activate %s: %w", v.r.Version(), err)
	}
	return nil
}

// SkipWaiting activates the waiting version, if any.
func (g *Registration) SkipWaiting(ctx context.Context) error {
	g.mu.Lock()
	w := g.waiting
	g.mu.Unlock()
	if w == nil {
		return nil
	}
	return w.r.SkipWaiting(ctx)
}

// Active returns the active version, or nil.
func (g *Registration) Active() *Router {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.active == nil {
		return nil
	}
	return g.active.r
}

// Waiting returns the waiting version, or nil.
func (g *Registration) Waiting() *Router {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.waiting == nil {
		return nil
	}
	return g.waiting.r
}

func (g *Registration) activeVersion() *version {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.active
}

// Handle dispatches a fetch event to the active version. It returns false
// when the request must pass through.
func (g *Registration) Handle(ctx context.Context, req *fetch.Request) (*fetch.Response, bool) {
	v := g.activeVersion()
	if v == nil {
		return nil, false
	}
	fe := events.NewFetchEvent(req)
	if err := v.d.Dispatch(ctx, fe); err != nil {
		g.logger.Warn("fetch handler failed", "url", req.URL.String(), "error", err)
	}
	return fe.Response()
}

// Dispatch delivers a functional event (sync, push, notification click)
// to the active version.
func (g *Registration) Dispatch(ctx context.Context, ev events.Event) error {
	v := g.activeVersion()
	if v == nil {
		return ErrNoActiveVersion
	}
	return v.d.Dispatch(ctx, ev)
}

// PostMessage sends a control message to the target version and returns
// its reply.
func (g *Registration) PostMessage(ctx context.Context, target Target, msg events.Message) (any, error) {
	g.mu.Lock()
	v := g.active
	missing := ErrNoActiveVersion
	if target == TargetWaiting {
		v, missing = g.waiting, ErrNoWaitingVersion
	}
	g.mu.Unlock()
	if v == nil {
		return nil, missing
	}

	me := events.NewMessageEvent(msg)
	err := v.d.Dispatch(ctx, me)
	select {
	case reply := <-me.Reply:
		return reply, err
	default:
	}
	if err != nil {
		return nil, err
	}
	return nil, ErrNoReply
}

// SetOnline records upstream reachability for status reporting.
func (g *Registration) SetOnline(online bool) {
	g.online.Store(online)
}

// Status is the registration summary served to pages.
type Status struct {
	Registered      bool      `json:"registered"`
	Active          *Info     `json:"active,omitempty"`
	Waiting         *Info     `json:"waiting,omitempty"`
	UpdateAvailable bool      `json:"update_available"`
	Online          bool      `json:"online"`
	LastUpdate      time.Time `json:"last_update,omitzero"`
}

// Status returns a snapshot.
func (g *Registration) Status() Status {
	g.mu.Lock()
	active, waiting := g.active, g.waiting
	st := Status{
		Registered: !g.unregistered && (active != nil || waiting != nil),
		LastUpdate: g.lastUpdate,
		Online:     g.online.Load(),
	}
	g.mu.Unlock()

	if active != nil {
		info := active.r.Info()
		st.Active = &info
	}
	if waiting != nil {
		info := waiting.r.Info()
		st.Waiting = &info
		st.UpdateAvailable = true
	}
	return st
}

// Unregister retires every version. Requests pass through afterwards.
func (g *Registration) Unregister(_ context.Context) error {
	g.mu.Lock()
	active, waiting := g.active, g.waiting
	g.active, g.waiting = nil, nil
	g.unregistered = true
	g.mu.Unlock()

	for _, v := range []*version{active, waiting} {
		if v != nil {
			v.r.retire()
		}
	}
	g.logger.Info("unregistered")
	return nil
}
