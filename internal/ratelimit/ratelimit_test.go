package ratelimit

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

// fakeClock advances manually so window math is deterministic.
type fakeClock struct {
	t time.Time
}

func (c *fakeClock) now() time.Time { return c.t }

func (c *fakeClock) advance(d time.Duration) { c.t = c.t.Add(d) }

func newTestLimiter(max int, window time.Duration) (*Limiter, *fakeClock) {
	clock := &fakeClock{t: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)}
	l := New(max, window)
	l.now = clock.now
	return l, clock
}

func TestCheck_AllowsUpToMax(t *testing.T) {
	l, _ := newTestLimiter(3, time.Second)
	defer l.Close()

	for i := 0; i < 3; i++ {
		res := l.Check("peer")
		assert.True(t, res.Allowed)
		assert.Equal(t, 3-i-1, res.Remaining)
	}

	res := l.Check("peer")
	assert.False(t, res.Allowed)
	assert.GreaterOrEqual(t, res.RetryAfter, 1)
}

func TestCheck_WindowSlides(t *testing.T) {
	l, clock := newTestLimiter(2, time.Second)
	defer l.Close()

	assert.True(t, l.Check("peer").Allowed)
	assert.True(t, l.Check("peer").Allowed)
	assert.False(t, l.Check("peer").Allowed)

	clock.advance(1100 * time.Millisecond)
	assert.True(t, l.Check("peer").Allowed)
}

func TestCheck_KeysAreIndependent(t *testing.T) {
	l, _ := newTestLimiter(1, time.Second)
	defer l.Close()

	assert.True(t, l.Check("a").Allowed)
	assert.False(t, l.Check("a").Allowed)
	assert.True(t, l.Check("b").Allowed)
}

func TestCheck_RetryAfterAtLeastOneSecond(t *testing.T) {
	l, clock := newTestLimiter(1, 500*time.Millisecond)
	defer l.Close()

	assert.True(t, l.Check("peer").Allowed)
	clock.advance(400 * time.Millisecond)
	res := l.Check("peer")
	assert.False(t, res.Allowed)
	assert.Equal(t, 1, res.RetryAfter)
}

func TestSweep_DropsStaleKeys(t *testing.T) {
	l, clock := newTestLimiter(5, time.Second)
	defer l.Close()

	l.Check("stale")
	l.Check("fresh")
	assert.Equal(t, 2, l.keyCount())

	clock.advance(11 * time.Second)
	l.Check("fresh")
	l.sweep()

	assert.Equal(t, 1, l.keyCount())
}
