// Package eventloop serializes work onto a single goroutine. Every job
// submitted runs to completion before the next one starts.
package eventloop

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime/debug"
)

var (
	ErrStopped = errors.New("event loop stopped")
	ErrBusy    = errors.New("event loop queue full")
)

type job struct {
	ctx  context.Context
	fn   func(context.Context)
	done chan error
}

type Loop struct {
	logger *slog.Logger
	jobs   chan job
	done   chan struct{}
}

func New(queue int, logger *slog.Logger) *Loop {
	if queue <= 0 {
		queue = 64
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Loop{
		logger: logger.With("component", "eventloop"),
		jobs:   make(chan job, queue),
		done:   make(chan struct{}),
	}
}

// Run drains the queue until ctx is done. Jobs still queued at that point
// fail with ErrStopped.
func (l *Loop) Run(ctx context.Context) {
	defer close(l.done)
	for {
		select {
		case <-ctx.Done():
			l.drain()
			return
		case j := <-l.jobs:
			j.done <- l.run(j)
		}
	}
}

func (l *Loop) drain() {
	for {
		select {
		case j := <-l.jobs:
			j.done <- ErrStopped
		default:
			return
		}
	}
}

func (l *Loop) run(j job) (err error) {
	if err := j.ctx.Err(); err != nil {
		return err
	}
	defer func() {
		if rec := recover(); rec != nil {
			l.logger.Error("panic in job", "err", rec, "stack", string(debug.Stack()))
			err = fmt.Errorf("job panicked: %v", rec)
		}
	}()
	j.fn(j.ctx)
	return nil
}

// Do queues fn and waits for it to finish. It fails fast with ErrBusy when
// the queue is full.
func (l *Loop) Do(ctx context.Context, fn func(context.Context)) error {
	j := job{ctx: ctx, fn: fn, done: make(chan error, 1)}
	select {
	case <-l.done:
		return ErrStopped
	default:
	}
	select {
	case l.jobs <- j:
	default:
		return ErrBusy
	}
	select {
	case err := <-j.done:
		return err
	case <-l.done:
		// Run may have answered just before stopping
		select {
		case err := <-j.done:
			return err
		default:
			return ErrStopped
		}
	}
}

// Call runs fn on the loop and returns its result.
func Call[T any](ctx context.Context, l *Loop, fn func(context.Context) T) (T, error) {
	var out T
	err := l.Do(ctx, func(ctx context.Context) { out = fn(ctx) })
	return out, err
}
