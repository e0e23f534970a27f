package worker

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

func TestPoolDetachLogsFailures(t *testing.T) {
	core, logs := observer.New(zapcore.WarnLevel)
	pool := NewPool(Config{MaxWorkers: 2}, zap.New(core))

	pool.Detach("ledger.increment", func(context.Context) error {
		return errors.New("boom")
	}, zap.String("user_id", "u1"))
	pool.Detach("analysis.persist", func(context.Context) error { return nil })
	pool.Wait()

	if pool.Failures() != 1 {
		t.Fatalf("expected 1 failure, got %d", pool.Failures())
	}
	entries := logs.FilterMessage("task failed").All()
	if len(entries) != 1 {
		t.Fatalf("expected one failure log, got %d", len(entries))
	}
	ctx := entries[0].ContextMap()
	if ctx["task"] != "ledger.increment" || ctx["user_id"] != "u1" {
		t.Fatalf("unexpected log fields: %#v", ctx)
	}
}

func TestPoolRecoversPanics(t *testing.T) {
	pool := NewPool(Config{MaxWorkers: 1}, nil)
	task := pool.Go("explode", func(context.Context) error {
		panic("bad")
	})
	err := task.Wait(context.Background())
	if err == nil {
		t.Fatalf("expected panic converted to error")
	}
	if pool.Failures() != 1 {
		t.Fatalf("expected failure counted")
	}
}

func TestPoolBoundsConcurrency(t *testing.T) {
	pool := NewPool(Config{MaxWorkers: 2}, nil)
	var running, peak atomic.Int32
	release := make(chan struct{})

	for i := 0; i < 6; i++ {
		pool.Detach("work", func(context.Context) error {
			n := running.Add(1)
			for {
				p := peak.Load()
				if n <= p || peak.CompareAndSwap(p, n) {
					break
				}
			}
			<-release
			running.Add(-1)
			return nil
		})
	}
	time.Sleep(50 * time.Millisecond)
	close(release)
	pool.Wait()

	if peak.Load() > 2 {
		t.Fatalf("expected at most 2 concurrent tasks, saw %d", peak.Load())
	}
}

func TestPoolTaskTimeout(t *testing.T) {
	pool := NewPool(Config{MaxWorkers: 1, TaskTimeout: 20 * time.Millisecond}, nil)
	task := pool.Go("slow", func(ctx context.Context) error {
		<-ctx.Done()
		return ctx.Err()
	})
	if err := task.Wait(context.Background()); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected deadline exceeded, got %v", err)
	}
}

func TestPoolShutdownRejectsNewTasks(t *testing.T) {
	pool := NewPool(Config{}, nil)
	var ran atomic.Bool
	pool.Detach("before", func(context.Context) error {
		ran.Store(true)
		return nil
	})
	if err := pool.Shutdown(context.Background()); err != nil {
		t.Fatalf("Shutdown: %v", err)
	}
	if !ran.Load() {
		t.Fatalf("in-flight task should complete before shutdown returns")
	}
	task := pool.Go("after", func(context.Context) error { return nil })
	if err := task.Wait(context.Background()); !errors.Is(err, ErrPoolClosed) {
		t.Fatalf("expected ErrPoolClosed, got %v", err)
	}
}
