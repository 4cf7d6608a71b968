package events

import (
	"context"
	"errors"
	"net/http"
	"testing"

	"github.com/valhallatattoo/sitecache/internal/fetch"
)

func TestDispatch_NoHandler(t *testing.T) {
	d := NewDispatcher()
	err := d.Dispatch(context.Background(), SyncEvent{Tag: "contact-form-sync"})
	if !errors.Is(err, ErrNoHandler) {
		t.Fatalf("err = %v, want ErrNoHandler", err)
	}
}

func TestDispatch_Order(t *testing.T) {
	d := NewDispatcher()
	var got []string
	d.On(KindInstall, func(context.Context, Event) error {
		got = append(got, "first")
		return nil
	})
	d.On(KindInstall, func(context.Context, Event) error {
		got = append(got, "second")
		return nil
	})
	d.On(KindActivate, func(context.Context, Event) error {
		got = append(got, "activate")
		return nil
	})

	if err := d.Dispatch(context.Background(), InstallEvent{}); err != nil {
		t.Fatalf("dispatch: %v", err)
	}
	if len(got) != 2 || got[0] != "first" || got[1] != "second" {
		t.Fatalf("got %v", got)
	}
	if !d.Has(KindActivate) || d.Has(KindPush) {
		t.Fatal("Has reported wrong registrations")
	}
}

func TestDispatch_JoinsErrors(t *testing.T) {
	d := NewDispatcher()
	errA := errors.New("a")
	errB := errors.New("b")
	d.On(KindPush, func(context.Context, Event) error { return errA })
	d.On(KindPush, func(context.Context, Event) error { return errB })

	err := d.Dispatch(context.Background(), PushEvent{})
	if !errors.Is(err, errA) || !errors.Is(err, errB) {
		t.Fatalf("err = %v, want both", err)
	}
}

func TestFetchEvent_FirstResponderWins(t *testing.T) {
	d := NewDispatcher()
	calls := 0
	d.On(KindFetch, func(_ context.Context, ev Event) error {
		calls++
		ev.(*FetchEvent).RespondWith(&fetch.Response{Status: http.StatusOK})
		return nil
	})
	d.On(KindFetch, func(_ context.Context, ev Event) error {
		calls++
		ev.(*FetchEvent).RespondWith(&fetch.Response{Status: http.StatusTeapot})
		return nil
	})

	req, _ := fetch.NewRequest("https://example.test/", fetch.DestDocument)
	fe := NewFetchEvent(req)
	if err := d.Dispatch(context.Background(), fe); err != nil {
		t.Fatalf("dispatch: %v", err)
	}
	resp, ok := fe.Response()
	if !ok || resp.Status != http.StatusOK {
		t.Fatalf("response = %+v, %v", resp, ok)
	}
	if calls != 1 {
		t.Fatalf("calls = %d, want 1", calls)
	}
}

func TestFetchEvent_PassThrough(t *testing.T) {
	req, _ := fetch.NewRequest("https://example.test/", fetch.DestDocument)
	fe := NewFetchEvent(req)
	if _, ok := fe.Response(); ok {
		t.Fatal("fresh event reports a response")
	}
}

func TestMessageEvent_Reply(t *testing.T) {
	d := NewDispatcher()
	d.On(KindMessage, func(_ context.Context, ev Event) error {
		me := ev.(*MessageEvent)
		me.Reply <- map[string]string{"type": me.Message.Type}
		return nil
	})

	me := NewMessageEvent(Message{Type: "GET_VERSION"})
	if err := d.Dispatch(context.Background(), me); err != nil {
		t.Fatalf("dispatch: %v", err)
	}
	reply := (<-me.Reply).(map[string]string)
	if reply["type"] != "GET_VERSION" {
		t.Fatalf("reply = %v", reply)
	}
}
