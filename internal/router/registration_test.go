package router

import (
	"context"
	"errors"
	"net/http"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/valhallatattoo/sitecache/internal/bgsync"
	"github.com/valhallatattoo/sitecache/internal/events"
	"github.com/valhallatattoo/sitecache/internal/fetch"
	"github.com/valhallatattoo/sitecache/internal/notify"
	"github.com/valhallatattoo/sitecache/internal/store/memory"
)

func newVersion(t *testing.T, st *memory.Store, o *fakeOrigin, version string, mutate func(*Config)) *Router {
	t.Helper()
	cfg := testConfig(version)
	if mutate != nil {
		mutate(&cfg)
	}
	return newTestRouter(t, cfg, Deps{Store: st, Fetcher: o})
}

func TestFirstVersionActivates(t *testing.T) {
	st, o := memory.New(), newFakeOrigin()
	g := NewRegistration(nil)
	ctx := context.Background()

	if _, ok := g.Handle(ctx, get(t, "/", fetch.DestDocument)); ok {
		t.Fatal("empty registration handled a request")
	}

	v1 := newVersion(t, st, o, "v1", nil)
	if err := g.Update(ctx, v1); err != nil {
		t.Fatal(err)
	}
	if g.Active() != v1 || v1.State() != StateActive {
		t.Fatalf("v1 not active: state %s", v1.State())
	}

	o.down.Store(true)
	resp, ok := g.Handle(ctx, get(t, "/", fetch.DestDocument))
	if !ok || resp.Source != fetch.SourceCache {
		t.Errorf("offline root = %v %+v", ok, resp)
	}
}

func TestUpdateWaitsThenSkipWaiting(t *testing.T) {
	st, o := memory.New(), newFakeOrigin()
	g := NewRegistration(nil)
	ctx := context.Background()

	v1 := newVersion(t, st, o, "v1", nil)
	if err := g.Update(ctx, v1); err != nil {
		t.Fatal(err)
	}
	v2 := newVersion(t, st, o, "v2", nil)
	if err := g.Update(ctx, v2); err != nil {
		t.Fatal(err)
	}

	status := g.Status()
	if !status.UpdateAvailable || status.Waiting == nil || status.Waiting.Version != "v2" {
		t.Fatalf("status = %+v", status)
	}
	if g.Active() != v1 {
		t.Fatal("waiting version took over without skip waiting")
	}

	reply, err := g.PostMessage(ctx, TargetActive, events.Message{Type: MsgGetVersion})
	if err != nil {
		t.Fatal(err)
	}
	if diff := cmp.Diff(VersionReply{Version: "v1"}, reply); diff != "" {
		t.Errorf("active version mismatch (-want +got):\n%s", diff)
	}

	reply, err = g.PostMessage(ctx, TargetWaiting, events.Message{Type: MsgSkipWaiting})
	if err != nil {
		t.Fatal(err)
	}
	if reply != (SuccessReply{Success: true}) {
		t.Errorf("reply = %v", reply)
	}

	if g.Active() != v2 || g.Waiting() != nil {
		t.Fatal("v2 not promoted")
	}
	if v1.State() != StateRedundant {
		t.Errorf("v1 state = %s, want redundant", v1.State())
	}
	names, err := st.ListCaches(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if diff := cmp.Diff([]string{"valhalla-v2"}, names); diff != "" {
		t.Errorf("caches mismatch (-want +got):\n%s", diff)
	}

	if _, err := g.PostMessage(ctx, TargetWaiting, events.Message{Type: MsgGetVersion}); !errors.Is(err, ErrNoWaitingVersion) {
		t.Errorf("err = %v, want ErrNoWaitingVersion", err)
	}
}

func TestUpdateWithSkipWaitingActivatesImmediately(t *testing.T) {
	st, o := memory.New(), newFakeOrigin()
	g := NewRegistration(nil)
	ctx := context.Background()

	if err := g.Update(ctx, newVersion(t, st, o, "v1", nil)); err != nil {
		t.Fatal(err)
	}
	v2 := newVersion(t, st, o, "v2", func(c *Config) { c.SkipWaiting = true })
	if err := g.Update(ctx, v2); err != nil {
		t.Fatal(err)
	}
	if g.Active() != v2 {
		t.Fatal("skip-waiting version not active")
	}
}

func TestFailedUpdateKeepsActive(t *testing.T) {
	st, o := memory.New(), newFakeOrigin()
	g := NewRegistration(nil)
	ctx := context.Background()

	v1 := newVersion(t, st, o, "v1", nil)
	if err := g.Update(ctx, v1); err != nil {
		t.Fatal(err)
	}

	o.set("/css/main.css", page{http.StatusInternalServerError, "text/plain", "boom"})
	v2 := newVersion(t, st, o, "v2", nil)
	if err := g.Update(ctx, v2); !errors.Is(err, ErrInstallFailed) {
		t.Fatalf("err = %v, want ErrInstallFailed", err)
	}

	if g.Active() != v1 || g.Waiting() != nil {
		t.Fatal("failed update changed registration")
	}
	if v1.State() != StateActive {
		t.Errorf("v1 state = %s", v1.State())
	}
	if _, err := st.CountEntries(ctx, "valhalla-v2"); err == nil {
		t.Error("failed version left its cache")
	}
}

func TestRegistrationSkipWaiting(t *testing.T) {
	st, o := memory.New(), newFakeOrigin()
	g := NewRegistration(nil)
	ctx := context.Background()

	if err := g.SkipWaiting(ctx); err != nil {
		t.Fatalf("SkipWaiting with nothing waiting: %v", err)
	}
	if err := g.Update(ctx, newVersion(t, st, o, "v1", nil)); err != nil {
		t.Fatal(err)
	}
	v2 := newVersion(t, st, o, "v2", nil)
	if err := g.Update(ctx, v2); err != nil {
		t.Fatal(err)
	}
	if err := g.SkipWaiting(ctx); err != nil {
		t.Fatal(err)
	}
	if g.Active() != v2 {
		t.Fatal("v2 not active")
	}
}

func TestUnregister(t *testing.T) {
	st, o := memory.New(), newFakeOrigin()
	g := NewRegistration(nil)
	ctx := context.Background()

	v1 := newVersion(t, st, o, "v1", nil)
	if err := g.Update(ctx, v1); err != nil {
		t.Fatal(err)
	}
	if err := g.Unregister(ctx); err != nil {
		t.Fatal(err)
	}
	if _, ok := g.Handle(ctx, get(t, "/", fetch.DestDocument)); ok {
		t.Error("unregistered registration handled a request")
	}
	if g.Status().Registered {
		t.Error("status still registered")
	}
	if v1.State() != StateRedundant {
		t.Errorf("v1 state = %s", v1.State())
	}
	if err := g.Dispatch(ctx, events.SyncEvent{Tag: "contact-form-sync"}); !errors.Is(err, ErrNoActiveVersion) {
		t.Errorf("err = %v, want ErrNoActiveVersion", err)
	}
}

type fakeSyncer struct{ tags []string }

func (s *fakeSyncer) Sync(_ context.Context, tag string) (bgsync.Result, error) {
	s.tags = append(s.tags, tag)
	return bgsync.Result{Tag: tag, Sent: 1}, nil
}

type fakeNotifier struct {
	pushed  int
	clicked []string
}

func (n *fakeNotifier) Push(_ context.Context, data []byte) (*notify.Notification, error) {
	n.pushed++
	return notify.ParsePush(data, notify.DefaultOptions())
}

func (n *fakeNotifier) Click(_ context.Context, action, tag string) notify.ClickResult {
	n.clicked = append(n.clicked, action)
	return notify.Click(action, tag, notify.DefaultOptions())
}

func TestFunctionalEvents(t *testing.T) {
	st, o := memory.New(), newFakeOrigin()
	syncer, notifier := &fakeSyncer{}, &fakeNotifier{}
	r := newTestRouter(t, testConfig("v1"), Deps{Store: st, Fetcher: o, Syncer: syncer, Notifier: notifier})
	g := NewRegistration(nil)
	ctx := context.Background()
	if err := g.Update(ctx, r); err != nil {
		t.Fatal(err)
	}

	if err := g.Dispatch(ctx, events.SyncEvent{Tag: "newsletter-sync"}); err != nil {
		t.Fatal(err)
	}
	if diff := cmp.Diff([]string{"newsletter-sync"}, syncer.tags); diff != "" {
		t.Errorf("synced tags mismatch (-want +got):\n%s", diff)
	}

	if err := g.Dispatch(ctx, events.PushEvent{Data: []byte(`{"title":"Flash day","body":"Saturday"}`)}); err != nil {
		t.Fatal(err)
	}
	if err := g.Dispatch(ctx, events.PushEvent{Data: []byte(`{"body":"no title"}`)}); !errors.Is(err, notify.ErrMalformed) {
		t.Errorf("malformed push: err = %v", err)
	}
	if notifier.pushed != 2 {
		t.Errorf("pushed = %d, want 2", notifier.pushed)
	}

	if err := g.Dispatch(ctx, events.NotificationClickEvent{Action: notify.ActionView}); err != nil {
		t.Fatal(err)
	}
	if diff := cmp.Diff([]string{notify.ActionView}, notifier.clicked); diff != "" {
		t.Errorf("clicks mismatch (-want +got):\n%s", diff)
	}
}

func TestStatusOnline(t *testing.T) {
	g := NewRegistration(nil)
	if !g.Status().Online {
		t.Error("registration starts offline")
	}
	g.SetOnline(false)
	if g.Status().Online {
		t.Error("SetOnline(false) ignored")
	}
}
