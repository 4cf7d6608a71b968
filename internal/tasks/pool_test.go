package tasks

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync/atomic"
	"testing"

	"go.uber.org/goleak"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestPool_RunsAndWaits(t *testing.T) {
	p := NewPool(3, 16, quietLogger())
	defer p.Close()

	var n atomic.Int32
	for range 10 {
		p.Go("count", func(context.Context) error {
			n.Add(1)
			return nil
		})
	}
	p.Wait()
	if got := n.Load(); got != 10 {
		t.Fatalf("ran %d tasks, want 10", got)
	}
}

func TestPool_ErrorsAndPanicsAreContained(t *testing.T) {
	p := NewPool(1, 4, quietLogger())
	defer p.Close()

	var after atomic.Bool
	p.Go("fails", func(context.Context) error { return errors.New("boom") })
	p.Go("panics", func(context.Context) error { panic("boom") })
	p.Go("after", func(context.Context) error {
		after.Store(true)
		return nil
	})
	p.Wait()
	if !after.Load() {
		t.Fatal("worker died after failing task")
	}
}

func TestPool_DropsWhenFull(t *testing.T) {
	p := NewPool(1, 1, quietLogger())
	defer p.Close()

	var dropped atomic.Int32
	p.OnDrop(func(string) { dropped.Add(1) })

	block := make(chan struct{})
	started := make(chan struct{})
	p.Go("blocker", func(context.Context) error {
		close(started)
		<-block
		return nil
	})
	<-started
	p.Go("queued", func(context.Context) error { return nil })
	p.Go("dropped", func(context.Context) error { return nil })

	close(block)
	p.Wait()
	if got := dropped.Load(); got != 1 {
		t.Fatalf("dropped = %d, want 1", got)
	}
}

func TestPool_TaskContextIsPoolScoped(t *testing.T) {
	p := NewPool(1, 1, quietLogger())
	defer p.Close()

	var ctxErr error
	p.Go("write", func(ctx context.Context) error {
		ctxErr = ctx.Err()
		return nil
	})
	p.Wait()
	if ctxErr != nil {
		t.Fatalf("task context err = %v, want nil", ctxErr)
	}
}

func TestPool_CloseDrainsAndRejects(t *testing.T) {
	p := NewPool(2, 8, quietLogger())

	var n atomic.Int32
	for range 5 {
		p.Go("drain", func(context.Context) error {
			n.Add(1)
			return nil
		})
	}
	p.Close()
	if got := n.Load(); got != 5 {
		t.Fatalf("ran %d tasks before close, want 5", got)
	}

	p.Go("late", func(context.Context) error {
		t.Error("task ran after close")
		return nil
	})
	p.Close()
}

func TestInline(t *testing.T) {
	ran := false
	Inline{}.Go("inline", func(context.Context) error {
		ran = true
		return nil
	})
	if !ran {
		t.Fatal("inline task did not run")
	}
}
