// Package workerpool runs tasks on a bounded number of goroutines and
// collects their errors.
package workerpool

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"sync"
	"sync/atomic"

	"github.com/mbround18/valheim/internal/logging"
)

var log = logging.L("workerpool")

// ErrClosed is returned by Go once Wait has been called.
var ErrClosed = errors.New("worker pool is closed")

// Task is a unit of work. It receives the pool context, which is cancelled
// when the parent context is, when Wait returns, and after the first failure
// in a FailFast pool.
type Task func(ctx context.Context) error

// Pool runs at most a fixed number of tasks at once. Go and Wait must be
// called from the same goroutine.
type Pool struct {
	ctx      context.Context
	cancel   context.CancelCauseFunc
	slots    chan struct{}
	wg       sync.WaitGroup
	closed   atomic.Bool
	failFast bool

	mu   sync.Mutex
	errs []error
}

// Option configures a Pool.
type Option func(*Pool)

// FailFast cancels the pool context after the first task error, so queued
// tasks are not started and running ones see a cancelled context.
func FailFast() Option {
	return func(p *Pool) { p.failFast = true }
}

// New creates a pool running up to workers tasks concurrently under ctx.
func New(ctx context.Context, workers int, opts ...Option) *Pool {
	if workers < 1 {
		workers = 1
	}
	poolCtx, cancel := context.WithCancelCause(ctx)
	p := &Pool{
		ctx:    poolCtx,
		cancel: cancel,
		slots:  make(chan struct{}, workers),
	}
	for _, opt := range opts {
		opt(p)
	}
	log.Debug("worker pool started", "workers", workers, "failFast", p.failFast)
	return p
}

// Context returns the context tasks run under.
func (p *Pool) Context() context.Context {
	return p.ctx
}

// Go starts task as soon as a worker is free, blocking until then. It returns
// ErrClosed after Wait, or the cancellation cause once the pool context is
// done; in both cases task does not run.
func (p *Pool) Go(task Task) error {
	if p.closed.Load() {
		return ErrClosed
	}
	if p.ctx.Err() != nil {
		return context.Cause(p.ctx)
	}

	select {
	case p.slots <- struct{}{}:
	case <-p.ctx.Done():
		return context.Cause(p.ctx)
	}

	p.wg.Add(1)
	go func() {
		defer func() {
			<-p.slots
			p.wg.Done()
		}()
		p.run(task)
	}()
	return nil
}

// Wait blocks until every started task has returned, cancels the pool
// context and returns the joined task errors.
func (p *Pool) Wait() error {
	p.closed.Store(true)
	p.wg.Wait()
	p.cancel(ErrClosed)

	p.mu.Lock()
	defer p.mu.Unlock()
	if len(p.errs) > 0 {
		log.Debug("worker pool finished with failures", "failed", len(p.errs))
	}
	return errors.Join(p.errs...)
}

func (p *Pool) run(task Task) {
	defer func() {
		if r := recover(); r != nil {
			log.Error("task panicked", "panic", r, "stack", string(debug.Stack()))
			p.fail(fmt.Errorf("task panicked: %v", r))
		}
	}()
	if err := task(p.ctx); err != nil {
		p.fail(err)
	}
}

func (p *Pool) fail(err error) {
	p.mu.Lock()
	p.errs = append(p.errs, err)
	p.mu.Unlock()
	if p.failFast {
		p.cancel(err)
	}
}
