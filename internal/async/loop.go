// Package async runs closures one at a time on a dedicated goroutine.
package async

import (
	"context"
	"errors"
	"log/slog"
	"sync"
)

// ErrClosed is returned by Submit and Do after Shutdown.
var ErrClosed = errors.New("loop is shut down")

// Loop applies submitted events serially, in submission order. Events must not
// call Do on the same loop.
type Loop struct {
	logger *slog.Logger
	name   string

	ch   chan func()
	wg   sync.WaitGroup
	once sync.Once

	mu     sync.Mutex
	closed bool
}

type Option func(*Loop)

func WithQueueSize(n int) Option {
	return func(l *Loop) {
		if n > 0 {
			l.ch = make(chan func(), n)
		}
	}
}

func WithName(name string) Option {
	return func(l *Loop) {
		if name != "" {
			l.name = name
		}
	}
}

func NewLoop(logger *slog.Logger, opts ...Option) *Loop {
	if logger == nil {
		logger = slog.Default()
	}
	l := &Loop{
		logger: logger,
		name:   "loop",
		ch:     make(chan func(), 64),
	}
	for _, o := range opts {
		o(l)
	}
	l.start()
	return l
}

func (l *Loop) start() {
	l.once.Do(func() {
		l.wg.Add(1)
		go func() {
			defer l.wg.Done()
			l.logger.Debug("async.loop.started", "loop", l.name)
			for fn := range l.ch {
				l.run(fn)
			}
			l.logger.Debug("async.loop.stopped", "loop", l.name)
		}()
	})
}

func (l *Loop) run(fn func()) {
	defer func() {
		if r := recover(); r != nil {
			l.logger.Error("async.loop.panic", "loop", l.name, "panic", r)
		}
	}()
	fn()
}

// Submit queues fn without waiting for it to run.
func (l *Loop) Submit(fn func()) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed {
		return ErrClosed
	}
	select {
	case l.ch <- fn:
	default:
		l.logger.Warn("async.loop.backpressure", "loop", l.name)
		l.ch <- fn
	}
	return nil
}

// Do queues fn and waits until it has run.
func (l *Loop) Do(fn func()) error {
	done := make(chan struct{})
	if err := l.Submit(func() {
		defer close(done)
		fn()
	}); err != nil {
		return err
	}
	<-done
	return nil
}

// Shutdown stops accepting events and waits for queued ones to drain.
func (l *Loop) Shutdown(ctx context.Context) {
	l.mu.Lock()
	if l.closed {
		l.mu.Unlock()
		return
	}
	l.closed = true
	close(l.ch)
	l.mu.Unlock()

	done := make(chan struct{})
	go func() { defer close(done); l.wg.Wait() }()

	select {
	case <-ctx.Done():
		l.logger.Warn("async.loop.shutdown_interrupted", "loop", l.name)
	case <-done:
		l.logger.Debug("async.loop.drained", "loop", l.name)
	}
}
