package worker

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
)

// ErrPoolClosed is returned by tasks submitted after Shutdown.
var ErrPoolClosed = errors.New("worker pool closed")

const (
	defaultMaxWorkers  = 8
	defaultTaskTimeout = 30 * time.Second
)

// Func is a unit of background work.
type Func func(ctx context.Context) error

// Config bounds the pool.
type Config struct {
	MaxWorkers  int
	TaskTimeout time.Duration
}

// Pool runs side effects off the caller's goroutine. At most MaxWorkers
// tasks execute at once; submitters never block waiting for a slot.
type Pool struct {
	slots   chan struct{}
	timeout time.Duration
	logger  *zap.Logger

	baseCtx context.Context
	cancel  context.CancelFunc

	mu       sync.Mutex
	closed   bool
	inflight sync.WaitGroup
	failures atomic.Int64
}

// NewPool constructs a pool.
func NewPool(cfg Config, logger *zap.Logger) *Pool {
	if cfg.MaxWorkers <= 0 {
		cfg.MaxWorkers = defaultMaxWorkers
	}
	if cfg.TaskTimeout <= 0 {
		cfg.TaskTimeout = defaultTaskTimeout
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Pool{
		slots:   make(chan struct{}, cfg.MaxWorkers),
		timeout: cfg.TaskTimeout,
		logger:  logger,
		baseCtx: ctx,
		cancel:  cancel,
	}
}

// Task is the handle of a submitted Func.
type Task struct {
	name string
	done chan struct{}
	err  error
}

// Wait blocks until the task finished or ctx is done.
func (t *Task) Wait(ctx context.Context) error {
	select {
	case <-t.done:
		return t.err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Done is closed once the task finished.
func (t *Task) Done() <-chan struct{} {
	return t.done
}

// Go submits fn and returns a handle the caller may await.
func (p *Pool) Go(name string, fn Func, fields ...zap.Field) *Task {
	task := &Task{name: name, done: make(chan struct{})}

	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		task.err = ErrPoolClosed
		close(task.done)
		p.logger.Warn("task dropped", append(fields, zap.String("task", name), zap.Error(ErrPoolClosed))...)
		return task
	}
	p.inflight.Add(1)
	p.mu.Unlock()

	go p.run(task, fn, fields)
	return task
}

// Detach submits fn without a handle. Failures are logged and counted but
// never reach the submitter.
func (p *Pool) Detach(name string, fn Func, fields ...zap.Field) {
	_ = p.Go(name, fn, fields...)
}

func (p *Pool) run(task *Task, fn Func, fields []zap.Field) {
	defer p.inflight.Done()
	defer close(task.done)

	select {
	case p.slots <- struct{}{}:
	case <-p.baseCtx.Done():
		task.err = p.baseCtx.Err()
		p.fail(task, fields)
		return
	}
	defer func() { <-p.slots }()

	ctx, cancel := context.WithTimeout(p.baseCtx, p.timeout)
	defer cancel()

	start := time.Now()
	task.err = p.call(ctx, fn)
	if task.err != nil {
		p.fail(task, fields)
		return
	}
	p.logger.Debug("task finished", append(fields,
		zap.String("task", task.name),
		zap.Duration("elapsed", time.Since(start)),
	)...)
}

func (p *Pool) call(ctx context.Context, fn Func) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
			p.logger.Error("task panicked", zap.Any("panic", r), zap.ByteString("stack", debug.Stack()))
		}
	}()
	return fn(ctx)
}

func (p *Pool) fail(task *Task, fields []zap.Field) {
	p.failures.Add(1)
	p.logger.Warn("task failed", append(fields, zap.String("task", task.name), zap.Error(task.err))...)
}

// Failures reports how many tasks returned an error since creation.
func (p *Pool) Failures() int64 {
	return p.failures.Load()
}

// Wait blocks until every submitted task has finished.
func (p *Pool) Wait() {
	p.inflight.Wait()
}

// Shutdown stops accepting tasks and waits for in-flight ones. When ctx
// expires first, running tasks are cancelled.
func (p *Pool) Shutdown(ctx context.Context) error {
	p.mu.Lock()
	p.closed = true
	p.mu.Unlock()

	done := make(chan struct{})
	go func() {
		p.inflight.Wait()
		close(done)
	}()
	select {
	case <-done:
		p.cancel()
		return nil
	case <-ctx.Done():
		p.cancel()
		<-done
		return ctx.Err()
	}
}
