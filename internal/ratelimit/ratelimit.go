// Package ratelimit implements a per-key sliding-window request limiter
// with periodic stale-entry eviction.
package ratelimit

import (
	"math"
	"sync"
	"time"
)

const (
	// DefaultMax is the request budget per window used by the event ingress.
	DefaultMax = 100
	// DefaultWindow is the sliding window length.
	DefaultWindow = time.Second

	sweepInterval = time.Minute
	// Entries idle for staleFactor windows are dropped by the sweeper.
	staleFactor = 10
)

// Result is the outcome of a limiter check.
type Result struct {
	Allowed    bool
	Remaining  int
	RetryAfter int // whole seconds, >= 1 when denied
}

type entry struct {
	times    []time.Time
	lastSeen time.Time
}

// Limiter tracks request timestamps per key over a sliding window.
type Limiter struct {
	mu      sync.Mutex
	entries map[string]*entry
	max     int
	window  time.Duration

	now  func() time.Time
	done chan struct{}
	once sync.Once
}

// New creates a Limiter allowing max requests per window and starts the
// background sweeper. Close must be called to stop it.
func New(max int, window time.Duration) *Limiter {
	l := &Limiter{
		entries: make(map[string]*entry),
		max:     max,
		window:  window,
		now:     time.Now,
		done:    make(chan struct{}),
	}
	go l.sweepLoop()
	return l
}

// Check records a request for key if the window budget allows it.
func (l *Limiter) Check(key string) Result {
	now := l.now()
	cutoff := now.Add(-l.window)

	l.mu.Lock()
	defer l.mu.Unlock()

	e, ok := l.entries[key]
	if !ok {
		e = &entry{}
		l.entries[key] = e
	}
	e.lastSeen = now

	// Drop timestamps that have slid out of the window.
	keep := e.times[:0]
	for _, t := range e.times {
		if t.After(cutoff) {
			keep = append(keep, t)
		}
	}
	e.times = keep

	if len(e.times) < l.max {
		e.times = append(e.times, now)
		return Result{Allowed: true, Remaining: l.max - len(e.times)}
	}

	oldest := e.times[0]
	retry := int(math.Ceil(oldest.Add(l.window).Sub(now).Seconds()))
	if retry < 1 {
		retry = 1
	}
	return Result{Allowed: false, RetryAfter: retry}
}

// Close stops the background sweeper.
func (l *Limiter) Close() {
	l.once.Do(func() { close(l.done) })
}

func (l *Limiter) sweepLoop() {
	ticker := time.NewTicker(sweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-l.done:
			return
		case <-ticker.C:
			l.sweep()
		}
	}
}

// sweep removes keys that have been idle long enough that their window
// state can no longer matter.
func (l *Limiter) sweep() {
	cutoff := l.now().Add(-time.Duration(staleFactor) * l.window)

	l.mu.Lock()
	defer l.mu.Unlock()

	for key, e := range l.entries {
		if e.lastSeen.Before(cutoff) {
			delete(l.entries, key)
		}
	}
}

// keyCount reports tracked keys, for tests.
func (l *Limiter) keyCount() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.entries)
}
