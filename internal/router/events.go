package router

import (
	"context"
	"fmt"

	"github.com/valhallatattoo/sitecache/internal/events"
)

// Register attaches the router's handlers to src.
func (r *Router) Register(src events.Source) {
	src.On(events.KindInstall, func(ctx context.Context, _ events.Event) error {
		return r.Install(ctx)
	})
	src.On(events.KindActivate, func(ctx context.Context, _ events.Event) error {
		return r.Activate(ctx)
	})
	src.On(events.KindFetch, func(ctx context.Context, ev events.Event) error {
		fe := ev.(*events.FetchEvent)
		if resp, ok := r.Handle(ctx, fe.Request); ok {
			fe.RespondWith(resp)
		}
		return nil
	})
	src.On(events.KindMessage, func(ctx context.Context, ev events.Event) error {
		me := ev.(*events.MessageEvent)
		reply, err := r.HandleMessage(ctx, me.Message)
		if reply != nil {
			select {
			case me.Reply <- reply:
			default:
			}
		}
		return err
	})
	src.On(events.KindSync, func(ctx context.Context, ev events.Event) error {
		tag := ev.(events.SyncEvent).Tag
		if r.syncer == nil {
			r.logger.Warn("sync event without syncer", "tag", tag)
			return nil
		}
		res, err := r.syncer.Sync(ctx, tag)
		if err != nil {
			return fmt.Errorf("sync %s: %w", tag, err)
		}
		r.logger.Info("background sync done", "tag", tag,
			"sent", res.Sent, "failed", res.Failed, "remaining", res.Remaining)
		return nil
	})
	src.On(events.KindPush, func(ctx context.Context, ev events.Event) error {
		data := ev.(events.PushEvent).Data
		if r.notifier == nil {
			return nil
		}
		n, err := r.notifier.Push(ctx, data)
		if err != nil {
			r.logger.Warn("malformed push payload", "error", err)
			return err
		}
		if n != nil {
			r.logger.Info("notification shown", "title", n.Title, "tag", n.Tag)
		}
		return nil
	})
	src.On(events.KindNotificationClick, func(ctx context.Context, ev events.Event) error {
		click := ev.(events.NotificationClickEvent)
		if r.notifier == nil {
			return nil
		}
		res := r.notifier.Click(ctx, click.Action, click.Tag)
		r.logger.Debug("notification click", "action", click.Action, "open", res.OpenURL)
		return nil
	})
}
