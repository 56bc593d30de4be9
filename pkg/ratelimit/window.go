// Package ratelimit throttles outbound Perplexity calls. WindowLimiter
// enforces a fixed-window request budget with FIFO permit grants; Tracker
// records the server-reported rate-limit state from response headers.
package ratelimit

import (
	"container/list"
	"context"
	"errors"
	"sync"
	"time"

	"github.com/asksonar/perplexity-mcp/pkg/faults"
	"github.com/asksonar/perplexity-mcp/pkg/reqctx"
)

// Config configures a WindowLimiter.
type Config struct {
	// Capacity is the number of permits available per window.
	Capacity int

	// Window is the length of one window.
	Window time.Duration

	// WaitTimeout bounds how long Acquire waits for a permit. Zero means
	// wait until the context is done.
	WaitTimeout time.Duration
}

// DefaultConfig returns the limiter defaults: 10 requests per minute.
func DefaultConfig() Config {
	return Config{Capacity: 10, Window: time.Minute}
}

// WindowLimiter grants up to Capacity permits per fixed window. Callers
// beyond the budget suspend until rollover and are served in arrival order.
// Permits are consumed for the remainder of their window; there is no
// release operation — rollover is what restores capacity.
type WindowLimiter struct {
	cfg Config

	mu          sync.Mutex
	windowStart time.Time
	used        int
	waiters     *list.List // of *waiter, FIFO
	timer       *time.Timer
}

type waiter struct {
	ready   chan struct{}
	granted bool
}

// NewWindowLimiter creates a limiter. Non-positive capacity or window fall
// back to DefaultConfig values.
func NewWindowLimiter(cfg Config) *WindowLimiter {
	def := DefaultConfig()
	if cfg.Capacity <= 0 {
		cfg.Capacity = def.Capacity
	}
	if cfg.Window <= 0 {
		cfg.Window = def.Window
	}
	return &WindowLimiter{
		cfg:         cfg,
		windowStart: time.Now(),
		waiters:     list.New(),
	}
}

// Acquire obtains one permit, suspending without busy-waiting until capacity
// is available. Waiting callers are served strictly in arrival order. A
// configured WaitTimeout turns an overlong wait into a rate_limited error;
// an abandoned wait (context done) returns its reserved place in line.
func (l *WindowLimiter) Acquire(ctx context.Context) error {
	l.mu.Lock()
	l.rollLocked(time.Now())
	l.grantLocked()

	// Fast path: capacity left and nobody queued ahead.
	if l.used < l.cfg.Capacity && l.waiters.Len() == 0 {
		l.used++
		l.mu.Unlock()
		return nil
	}

	w := &waiter{ready: make(chan struct{})}
	elem := l.waiters.PushBack(w)
	l.scheduleLocked()
	l.mu.Unlock()

	var timeout <-chan time.Time
	if l.cfg.WaitTimeout > 0 {
		t := time.NewTimer(l.cfg.WaitTimeout)
		defer t.Stop()
		timeout = t.C
	}

	select {
	case <-w.ready:
		return nil
	case <-ctx.Done():
		if l.abandon(elem, w) {
			return classifyContextErr(ctx.Err())
		}
		return nil
	case <-timeout:
		if l.abandon(elem, w) {
			return faults.New(faults.CodeRateLimited,
				"timed out waiting for a rate limit permit", reqctx.Context{})
		}
		return nil
	}
}

// abandon removes a waiter from the queue. When the grant raced the
// abandonment, false is returned and the caller proceeds holding the
// permit already counted against the window; handing it to anyone else
// would admit one caller more than the window budget.
func (l *WindowLimiter) abandon(elem *list.Element, w *waiter) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	if w.granted {
		return false
	}
	l.waiters.Remove(elem)
	return true
}

// rollLocked advances the window if one or more windows have fully elapsed,
// resetting used capacity atomically with the rollover.
func (l *WindowLimiter) rollLocked(now time.Time) {
	if elapsed := now.Sub(l.windowStart); elapsed >= l.cfg.Window {
		steps := elapsed / l.cfg.Window
		l.windowStart = l.windowStart.Add(steps * l.cfg.Window)
		l.used = 0
	}
}

// grantLocked hands out permits to queued waiters, oldest first, while
// capacity remains.
func (l *WindowLimiter) grantLocked() {
	for l.used < l.cfg.Capacity {
		front := l.waiters.Front()
		if front == nil {
			return
		}
		w := front.Value.(*waiter)
		l.waiters.Remove(front)
		l.used++
		w.granted = true
		close(w.ready)
	}
}

// scheduleLocked arms the rollover timer while waiters are queued.
func (l *WindowLimiter) scheduleLocked() {
	if l.timer != nil {
		return
	}
	delay := time.Until(l.windowStart.Add(l.cfg.Window))
	if delay < 0 {
		delay = 0
	}
	l.timer = time.AfterFunc(delay, l.onRollover)
}

func (l *WindowLimiter) onRollover() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.timer = nil
	l.rollLocked(time.Now())
	l.grantLocked()
	if l.waiters.Len() > 0 {
		l.scheduleLocked()
	}
}

// Available reports the permits left in the current window.
func (l *WindowLimiter) Available() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.rollLocked(time.Now())
	return l.cfg.Capacity - l.used
}

func classifyContextErr(err error) error {
	if errors.Is(err, context.DeadlineExceeded) {
		return faults.Wrap(err, faults.CodeTimeout,
			"context deadline exceeded while waiting for a permit", reqctx.Context{})
	}
	return faults.Wrap(err, faults.CodeInternal,
		"context canceled while waiting for a permit", reqctx.Context{})
}
