package correlate

import (
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestTracker(t *testing.T) (*ToolCallTracker, *fakeNow) {
	t.Helper()
	clock := &fakeNow{t: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)}
	tr := NewToolCallTracker(nil)
	tr.now = clock.now
	return tr, clock
}

type fakeNow struct {
	t time.Time
}

func (f *fakeNow) now() time.Time          { return f.t }
func (f *fakeNow) advance(d time.Duration) { f.t = f.t.Add(d) }

func TestToolCallTracker_Duration(t *testing.T) {
	tr, clock := newTestTracker(t)

	tr.Start("c1")
	clock.advance(200 * time.Millisecond)

	ms, ok := tr.End("c1")
	require.True(t, ok)
	assert.EqualValues(t, 200, ms)
	assert.Equal(t, 0, tr.Len())
}

func TestToolCallTracker_UnknownEnd(t *testing.T) {
	tr, _ := newTestTracker(t)

	_, ok := tr.End("never-started")
	assert.False(t, ok)
}

func TestToolCallTracker_NegativeSkewGuard(t *testing.T) {
	tr, clock := newTestTracker(t)

	tr.Start("c1")
	clock.advance(-time.Second)

	_, ok := tr.End("c1")
	assert.False(t, ok, "negative duration must not be backfilled")
	assert.Equal(t, 0, tr.Len(), "entry is still removed")
}

func TestToolCallTracker_DuplicateStartOverwrites(t *testing.T) {
	tr, clock := newTestTracker(t)

	tr.Start("c1")
	clock.advance(time.Second)
	tr.Start("c1")
	clock.advance(100 * time.Millisecond)

	ms, ok := tr.End("c1")
	require.True(t, ok)
	assert.EqualValues(t, 100, ms)
}

func TestToolCallTracker_CapacityEvictsOldest(t *testing.T) {
	tr, _ := newTestTracker(t)
	tr.cap = 3

	for i := 0; i < 3; i++ {
		tr.Start(fmt.Sprintf("c%d", i))
	}
	tr.Start("c3") // evicts c0

	assert.Equal(t, 3, tr.Len())
	_, ok := tr.End("c0")
	assert.False(t, ok)
	_, ok = tr.End("c3")
	assert.True(t, ok)
}

func TestToolCallTracker_SweepDropsStale(t *testing.T) {
	tr, clock := newTestTracker(t)

	tr.Start("old")
	clock.advance(6 * time.Minute)
	tr.Start("new")

	tr.sweep()

	assert.Equal(t, 1, tr.Len())
	_, ok := tr.End("old")
	assert.False(t, ok)
	_, ok = tr.End("new")
	assert.True(t, ok)
}

func TestToolCallTracker_EmptyIDIgnored(t *testing.T) {
	tr, _ := newTestTracker(t)

	tr.Start("")
	assert.Equal(t, 0, tr.Len())
	_, ok := tr.End("")
	assert.False(t, ok)
}
