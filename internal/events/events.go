// Package events models the lifecycle and functional events a router
// version reacts to, and an explicit dispatcher that delivers them.
package events

import (
	"encoding/json"
	"sync"

	"github.com/valhallatattoo/sitecache/internal/fetch"
)

// Kind names an event type.
type Kind string

const (
	KindInstall           Kind = "install"
	KindActivate          Kind = "activate"
	KindFetch             Kind = "fetch"
	KindMessage           Kind = "message"
	KindSync              Kind = "sync"
	KindPush              Kind = "push"
	KindNotificationClick Kind = "notificationclick"
)

// Event is delivered to handlers registered for its Kind.
type Event interface {
	Kind() Kind
}

type InstallEvent struct{}

func (InstallEvent) Kind() Kind { return KindInstall }

type ActivateEvent struct{}

func (ActivateEvent) Kind() Kind { return KindActivate }

// FetchEvent carries an intercepted request. A handler that wants to
// answer it calls RespondWith; otherwise the request passes through.
type FetchEvent struct {
	Request *fetch.Request

	mu        sync.Mutex
	resp      *fetch.Response
	responded bool
}

// NewFetchEvent wraps req.
func NewFetchEvent(req *fetch.Request) *FetchEvent {
	return &FetchEvent{Request: req}
}

func (*FetchEvent) Kind() Kind { return KindFetch }

// RespondWith claims the request. Only the first call has effect.
func (e *FetchEvent) RespondWith(resp *fetch.Response) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.responded {
		return
	}
	e.resp = resp
	e.responded = true
}

// Response returns the claimed response, if any.
func (e *FetchEvent) Response() (*fetch.Response, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.resp, e.responded
}

// Message is a control message posted by a controlled page.
type Message struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// MessageEvent delivers a Message. Handlers answer on Reply, which must
// be buffered.
type MessageEvent struct {
	Message Message
	Reply   chan any
}

// NewMessageEvent returns an event with a one-slot reply channel.
func NewMessageEvent(msg Message) *MessageEvent {
	return &MessageEvent{Message: msg, Reply: make(chan any, 1)}
}

func (*MessageEvent) Kind() Kind { return KindMessage }

// SyncEvent asks for the deferred work registered under Tag to run.
type SyncEvent struct {
	Tag string
}

func (SyncEvent) Kind() Kind { return KindSync }

// PushEvent carries a raw push payload.
type PushEvent struct {
	Data []byte
}

func (PushEvent) Kind() Kind { return KindPush }

// NotificationClickEvent reports a click on a shown notification.
type NotificationClickEvent struct {
	Action string
	Tag    string
}

func (NotificationClickEvent) Kind() Kind { return KindNotificationClick }
